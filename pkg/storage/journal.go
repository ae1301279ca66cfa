// Package storage persists the transaction journal: every committed
// transaction with its execution time and the events it produced. State is
// never stored directly; it is rebuilt by replaying the journal.
package storage

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/uhyunpark/escrowdex/pkg/app/core/events"
)

// Entry is one committed transaction.
type Entry struct {
	Seq    uint64
	Time   time.Time
	Tx     json.RawMessage
	Events []events.Record
}

// StoredEvent is an event with its position in the journal.
type StoredEvent struct {
	Seq    uint64        `json:"seq"`
	Index  int           `json:"index"`
	Record events.Record `json:"record"`
}

// Journal is an append-only log of committed transactions.
type Journal interface {
	// Append commits e atomically. Seq must be Head()+1.
	Append(e Entry) error
	// Replay calls fn for every entry in commit order.
	Replay(fn func(Entry) error) error
	// RecentEvents returns up to limit events, newest first. An empty name
	// matches every event.
	RecentEvents(name string, limit int) ([]StoredEvent, error)
	// Head returns the last committed seq, 0 when empty.
	Head() (uint64, error)
	Close() error
}

// MemJournal keeps entries in memory. It is used when no DB path is
// configured and by tests.
type MemJournal struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemJournal() *MemJournal {
	return &MemJournal{}
}

func (j *MemJournal) Append(e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if want := uint64(len(j.entries)) + 1; e.Seq != want {
		return fmt.Errorf("append seq %d: expected %d", e.Seq, want)
	}
	e.Tx = append(json.RawMessage(nil), e.Tx...)
	e.Events = append([]events.Record(nil), e.Events...)
	j.entries = append(j.entries, e)
	return nil
}

func (j *MemJournal) Replay(fn func(Entry) error) error {
	j.mu.RLock()
	entries := make([]Entry, len(j.entries))
	copy(entries, j.entries)
	j.mu.RUnlock()

	for _, e := range entries {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func (j *MemJournal) RecentEvents(name string, limit int) ([]StoredEvent, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []StoredEvent
	for i := len(j.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := j.entries[i]
		for idx := len(e.Events) - 1; idx >= 0 && len(out) < limit; idx-- {
			rec := e.Events[idx]
			if name != "" && rec.Event.EventName() != name {
				continue
			}
			out = append(out, StoredEvent{Seq: e.Seq, Index: idx, Record: rec})
		}
	}
	return out, nil
}

func (j *MemJournal) Head() (uint64, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return uint64(len(j.entries)), nil
}

func (j *MemJournal) Close() error { return nil }

var (
	_ Journal = (*MemJournal)(nil)
	_ Journal = (*PebbleJournal)(nil)
)
