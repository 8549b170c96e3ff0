package model

import (
	"crypto/sha256"

	"github.com/libsv/go-bt/v2/chainhash"
)

// Hash is a 32-byte double-SHA256 digest, reused from the teacher's
// dependency on libsv/go-bt/v2/chainhash rather than hand-rolled in the
// standard library: every hash in this module (transaction ids, block
// hashes, checkpoint ids, Merkle roots) is this same type.
type Hash = chainhash.Hash

// HashFromBytes wraps chainhash.NewHash, returning a Hash value instead of
// a pointer: on input of the wrong length it returns the zero Hash
// together with chainhash's error, for the caller to surface.
func HashFromBytes(b []byte) (Hash, error) {
	h, err := chainhash.NewHash(b)
	if err != nil {
		return Hash{}, err
	}
	return *h, nil
}

// doubleSHA256 is the standard Bitcoin-style hash used for headers,
// transactions, and Merkle nodes throughout this package.
func doubleSHA256(data []byte) Hash {
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])
	return Hash(second)
}
