package events

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Sink receives events as ledgers emit them.
type Sink interface {
	Emit(ledger common.Address, ev Event)
}

// Discard drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Emit(common.Address, Event) {}

// Buffer holds the events of one in-flight operation until the operation
// either commits or is rolled back.
type Buffer struct {
	records []Record
}

// Emit appends ev to the buffer.
func (b *Buffer) Emit(ledger common.Address, ev Event) {
	b.records = append(b.records, Record{Ledger: ledger, Event: ev})
}

// Records returns the buffered records in emission order.
func (b *Buffer) Records() []Record {
	out := make([]Record, len(b.records))
	copy(out, b.records)
	return out
}

// Len returns the number of buffered records.
func (b *Buffer) Len() int { return len(b.records) }

// Truncate discards records emitted after the first n.
func (b *Buffer) Truncate(n int) {
	if n < len(b.records) {
		b.records = b.records[:n]
	}
}

// Reset discards all buffered records.
func (b *Buffer) Reset() { b.records = b.records[:0] }

// Recorder is a thread-safe Sink that keeps every event it receives.
type Recorder struct {
	mu      sync.Mutex
	records []Record
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Emit stores ev.
func (r *Recorder) Emit(ledger common.Address, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, Record{Ledger: ledger, Event: ev})
}

// Records returns a copy of every stored record.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// Names returns the names of stored events in order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.records))
	for i, rec := range r.records {
		names[i] = rec.Event.EventName()
	}
	return names
}

// Last returns the most recent event, or nil.
func (r *Recorder) Last() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records) == 0 {
		return nil
	}
	return r.records[len(r.records)-1].Event
}

// Reset forgets every stored record.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = nil
}
