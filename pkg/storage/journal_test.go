package storage

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/escrowdex/pkg/app/core/events"
)

var (
	ledgerAddr = common.HexToAddress("0x7000000000000000000000000000000000000001")
	alice      = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob        = common.HexToAddress("0xBB00000000000000000000000000000000000000")
)

func journals(t *testing.T) map[string]func(t *testing.T) Journal {
	return map[string]func(t *testing.T) Journal{
		"memory": func(t *testing.T) Journal { return NewMemJournal() },
		"pebble": func(t *testing.T) Journal {
			j, err := NewPebbleJournal(t.TempDir())
			if err != nil {
				t.Fatalf("open pebble journal: %v", err)
			}
			return j
		},
	}
}

func sampleEntry(seq uint64) Entry {
	return Entry{
		Seq:  seq,
		Time: time.Unix(1_700_000_000+int64(seq), 0).UTC(),
		Tx:   json.RawMessage(`{"kind":"transfer"}`),
		Events: []events.Record{
			{Ledger: ledgerAddr, Event: events.Approval{Owner: alice, Spender: bob, Value: uint256.NewInt(seq)}},
			{Ledger: ledgerAddr, Event: events.Transfer{From: alice, To: bob, Value: uint256.NewInt(seq * 10)}},
		},
	}
}

func TestJournalAppendReplay(t *testing.T) {
	for name, open := range journals(t) {
		t.Run(name, func(t *testing.T) {
			j := open(t)
			defer j.Close()

			for seq := uint64(1); seq <= 3; seq++ {
				if err := j.Append(sampleEntry(seq)); err != nil {
					t.Fatalf("append %d: %v", seq, err)
				}
			}
			head, err := j.Head()
			if err != nil || head != 3 {
				t.Fatalf("head = %d, %v; want 3", head, err)
			}

			var seen []uint64
			err = j.Replay(func(e Entry) error {
				seen = append(seen, e.Seq)
				want := sampleEntry(e.Seq)
				if !e.Time.Equal(want.Time) {
					t.Errorf("seq %d: time = %v, want %v", e.Seq, e.Time, want.Time)
				}
				if string(e.Tx) != string(want.Tx) {
					t.Errorf("seq %d: tx = %s", e.Seq, e.Tx)
				}
				if len(e.Events) != 2 {
					t.Fatalf("seq %d: %d events, want 2", e.Seq, len(e.Events))
				}
				tr, ok := e.Events[1].Event.(events.Transfer)
				if !ok || !tr.Value.Eq(uint256.NewInt(e.Seq*10)) || tr.To != bob {
					t.Errorf("seq %d: unexpected second event %+v", e.Seq, e.Events[1])
				}
				return nil
			})
			if err != nil {
				t.Fatalf("replay: %v", err)
			}
			if len(seen) != 3 || seen[0] != 1 || seen[2] != 3 {
				t.Errorf("replay order = %v", seen)
			}
		})
	}
}

func TestJournalRejectsGaps(t *testing.T) {
	for name, open := range journals(t) {
		t.Run(name, func(t *testing.T) {
			j := open(t)
			defer j.Close()

			if err := j.Append(sampleEntry(2)); err == nil {
				t.Fatal("expected error appending seq 2 to empty journal")
			}
			if err := j.Append(sampleEntry(1)); err != nil {
				t.Fatal(err)
			}
			if err := j.Append(sampleEntry(1)); err == nil {
				t.Fatal("expected error appending duplicate seq")
			}
		})
	}
}

func TestJournalRecentEvents(t *testing.T) {
	for name, open := range journals(t) {
		t.Run(name, func(t *testing.T) {
			j := open(t)
			defer j.Close()
			for seq := uint64(1); seq <= 5; seq++ {
				if err := j.Append(sampleEntry(seq)); err != nil {
					t.Fatal(err)
				}
			}

			all, err := j.RecentEvents("", 3)
			if err != nil {
				t.Fatal(err)
			}
			if len(all) != 3 {
				t.Fatalf("got %d events, want 3", len(all))
			}
			if all[0].Seq != 5 || all[0].Index != 1 || all[1].Seq != 5 || all[1].Index != 0 || all[2].Seq != 4 {
				t.Errorf("unexpected order: %+v", all)
			}

			approvals, err := j.RecentEvents(events.NameApproval, 10)
			if err != nil {
				t.Fatal(err)
			}
			if len(approvals) != 5 {
				t.Fatalf("got %d approvals, want 5", len(approvals))
			}
			for _, se := range approvals {
				if se.Record.Event.EventName() != events.NameApproval {
					t.Errorf("filter returned %s", se.Record.Event.EventName())
				}
			}
		})
	}
}

func TestPebbleJournalReopen(t *testing.T) {
	dir := t.TempDir()
	j, err := NewPebbleJournal(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.Append(sampleEntry(1)); err != nil {
		t.Fatal(err)
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	j, err = NewPebbleJournal(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()
	head, err := j.Head()
	if err != nil || head != 1 {
		t.Fatalf("head after reopen = %d, %v; want 1", head, err)
	}
	if err := j.Append(sampleEntry(2)); err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
}

func TestEventKeyRoundTrip(t *testing.T) {
	seq, idx, err := parseEventKey(eventKey(42, 7))
	if err != nil || seq != 42 || idx != 7 {
		t.Fatalf("parseEventKey = %d, %d, %v", seq, idx, err)
	}
	if _, _, err := parseEventKey(txKey(1)); err == nil {
		t.Error("expected error for tx key")
	}
}
