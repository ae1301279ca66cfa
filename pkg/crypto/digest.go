package crypto

import (
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// txPrefix separates transaction digests from any other keccak256 use of
// the same key, in the manner of EIP-191 personal messages.
const txPrefix = "\x19escrowdex signed tx:\n"

// TxDigest returns keccak256(txPrefix || payload).
func TxDigest(payload []byte) common.Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(txPrefix))
	h.Write(payload)
	var out common.Hash
	h.Sum(out[:0])
	return out
}
