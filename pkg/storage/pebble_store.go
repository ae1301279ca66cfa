package storage

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/uhyunpark/escrowdex/pkg/app/core/events"
)

// PebbleJournal stores the journal in a pebble database.
type PebbleJournal struct {
	db *pebble.DB
}

func NewPebbleJournal(path string) (*PebbleJournal, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	return &PebbleJournal{db: db}, nil
}

func (s *PebbleJournal) Close() error { return s.db.Close() }

// Append writes the transaction, its events and the new head in one synced
// batch.
func (s *PebbleJournal) Append(e Entry) error {
	head, err := s.Head()
	if err != nil {
		return err
	}
	if e.Seq != head+1 {
		return fmt.Errorf("append seq %d: expected %d", e.Seq, head+1)
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	hdr, err := encodeJSON(txHeader{Seq: e.Seq, Time: e.Time, Tx: e.Tx})
	if err != nil {
		return err
	}
	if err := batch.Set(txKey(e.Seq), hdr, nil); err != nil {
		return fmt.Errorf("failed to stage tx %d: %w", e.Seq, err)
	}
	for i, rec := range e.Events {
		val, err := encodeJSON(rec)
		if err != nil {
			return err
		}
		if err := batch.Set(eventKey(e.Seq, i), val, nil); err != nil {
			return fmt.Errorf("failed to stage event %d:%d: %w", e.Seq, i, err)
		}
	}
	if err := batch.Set([]byte(keyHead), seqBytes(e.Seq), nil); err != nil {
		return fmt.Errorf("failed to stage head: %w", err)
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit tx %d: %w", e.Seq, err)
	}
	return nil
}

// Head returns the last committed seq.
func (s *PebbleJournal) Head() (uint64, error) {
	val, closer, err := s.db.Get([]byte(keyHead))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get head: %w", err)
	}
	defer closer.Close()
	return seqFromBytes(val)
}

// Replay iterates tx:<seq> in order and attaches each entry's events.
func (s *PebbleJournal) Replay(fn func(Entry) error) error {
	prefix := []byte(prefixTx)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to open tx iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var hdr txHeader
		if err := decodeJSON(iter.Value(), &hdr); err != nil {
			return fmt.Errorf("tx key %s: %w", iter.Key(), err)
		}
		recs, err := s.events(hdr.Seq)
		if err != nil {
			return err
		}
		if err := fn(Entry{Seq: hdr.Seq, Time: hdr.Time, Tx: hdr.Tx, Events: recs}); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (s *PebbleJournal) events(seq uint64) ([]events.Record, error) {
	prefix := eventPrefix(seq)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open event iterator: %w", err)
	}
	defer iter.Close()

	var recs []events.Record
	for iter.First(); iter.Valid(); iter.Next() {
		var rec events.Record
		if err := decodeJSON(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("event key %s: %w", iter.Key(), err)
		}
		recs = append(recs, rec)
	}
	return recs, iter.Error()
}

// RecentEvents scans ev: backwards from the newest event.
func (s *PebbleJournal) RecentEvents(name string, limit int) ([]StoredEvent, error) {
	prefix := []byte(prefixEvent)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open event iterator: %w", err)
	}
	defer iter.Close()

	var out []StoredEvent
	for iter.Last(); iter.Valid() && len(out) < limit; iter.Prev() {
		var rec events.Record
		if err := decodeJSON(iter.Value(), &rec); err != nil {
			continue // Skip entries from unknown event versions
		}
		if name != "" && rec.Event.EventName() != name {
			continue
		}
		seq, idx, err := parseEventKey(iter.Key())
		if err != nil {
			return nil, err
		}
		out = append(out, StoredEvent{Seq: seq, Index: idx, Record: rec})
	}
	return out, iter.Error()
}
