package events

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func TestRecordJSONKeepsType(t *testing.T) {
	ledger := common.HexToAddress("0xE000000000000000000000000000000000000000")
	in := Record{Ledger: ledger, Event: Trade{ID: 3, AmountGet: uint256.NewInt(7), AmountGive: uint256.NewInt(9), Timestamp: 42}}

	b, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"event":"Trade"`) {
		t.Errorf("encoded record lacks event name: %s", b)
	}

	var out Record
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatal(err)
	}
	tr, ok := out.Event.(Trade)
	if !ok {
		t.Fatalf("decoded %T, want Trade value", out.Event)
	}
	if out.Ledger != ledger || tr.ID != 3 || tr.AmountGive.Uint64() != 9 || tr.Timestamp != 42 {
		t.Errorf("decoded %+v", out)
	}
}

func TestDecodeRejects(t *testing.T) {
	if _, err := Decode("Mint", []byte(`{}`)); err == nil {
		t.Error("unknown name decoded")
	}
	if _, err := Decode(NameTransfer, []byte(`{"value":"abc"}`)); err == nil {
		t.Error("malformed payload decoded")
	}
	if _, err := json.Marshal(Record{}); err == nil {
		t.Error("record without event encoded")
	}
}

func TestBufferTruncate(t *testing.T) {
	var b Buffer
	for i := 0; i < 3; i++ {
		b.Emit(common.Address{}, Approval{Value: uint256.NewInt(uint64(i))})
	}
	b.Truncate(1)
	if b.Len() != 1 {
		t.Fatalf("len = %d, want 1", b.Len())
	}
	recs := b.Records()
	b.Reset()
	if len(recs) != 1 || b.Len() != 0 {
		t.Errorf("records copy = %d, buffer = %d", len(recs), b.Len())
	}
}
