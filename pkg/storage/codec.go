package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"
)

// txHeader is the stored form of an Entry without its events.
type txHeader struct {
	Seq  uint64          `json:"seq"`
	Time time.Time       `json:"time"`
	Tx   json.RawMessage `json:"tx"`
}

func encodeJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return b, nil
}

func decodeJSON(b []byte, v any) error {
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}

func seqBytes(seq uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], seq)
	return k[:]
}

func seqFromBytes(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("malformed head: %d bytes", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
