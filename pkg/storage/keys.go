package storage

import (
	"fmt"
	"strconv"
	"strings"
)

// Journal key schema:
//
//	tx:<seq>          → Entry header (time + raw transaction)
//	ev:<seq>:<index>  → events.Record
//	head              → last committed seq
//
// Sequence numbers and indexes are zero-padded so lexicographic order is
// commit order.
const (
	prefixTx    = "tx:"
	prefixEvent = "ev:"
	keyHead     = "head"
)

// txKey returns the key of a committed transaction
// Format: "tx:{seq}"
func txKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixTx, seq))
}

// eventKey returns the key of the index-th event of transaction seq
// Format: "ev:{seq}:{index}"
func eventKey(seq uint64, index int) []byte {
	return []byte(fmt.Sprintf("%s%020d:%06d", prefixEvent, seq, index))
}

// eventPrefix returns the prefix for all events of transaction seq
// Format: "ev:{seq}:"
func eventPrefix(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d:", prefixEvent, seq))
}

// parseEventKey is the inverse of eventKey.
func parseEventKey(key []byte) (seq uint64, index int, err error) {
	rest, ok := strings.CutPrefix(string(key), prefixEvent)
	if !ok {
		return 0, 0, fmt.Errorf("not an event key: %q", key)
	}
	seqPart, idxPart, ok := strings.Cut(rest, ":")
	if !ok {
		return 0, 0, fmt.Errorf("malformed event key: %q", key)
	}
	if seq, err = strconv.ParseUint(seqPart, 10, 64); err != nil {
		return 0, 0, fmt.Errorf("malformed event key %q: %w", key, err)
	}
	if index, err = strconv.Atoi(idxPart); err != nil {
		return 0, 0, fmt.Errorf("malformed event key %q: %w", key, err)
	}
	return seq, index, nil
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
