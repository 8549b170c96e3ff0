package model

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/coreledger/hybridcore/errors"
)

// BlockHeader is the 80-byte-equivalent header, adapted from the teacher's
// model.BlockHeader (referenced by Block.Header throughout Block.go but
// whose defining file was not present in the retrieved subset). Two
// additions beyond the classic Bitcoin header carry this module's
// consensus extensions: ValidatorCheckpoint links the header to the
// hybrid consensus checkpoint (spec §4.6) that finalizes it, and
// BlockSizeLimitBytes records the governed limit (spec §4.2) the block was
// produced under, so downstream validation never needs to replay history
// to know what limit applied.
type BlockHeader struct {
	Version              uint32 `json:"version"`
	HashPrevBlock        *Hash  `json:"hash_prev_block"`
	HashMerkleRoot       *Hash  `json:"hash_merkle_root"`
	Timestamp            uint32 `json:"timestamp"`
	Bits                 NBit   `json:"bits"`
	Nonce                uint32 `json:"nonce"`
	ValidatorCheckpoint  *Hash  `json:"validator_checkpoint,omitempty"`
	BlockSizeLimitBytes  uint64 `json:"block_size_limit_bytes"`
}

// Bytes serializes the classic 80-byte header for PoW hashing; the hybrid
// extensions are deliberately excluded from the hashed preimage so that
// PoW verification is independent of checkpoint/size-limit bookkeeping.
func (h *BlockHeader) Bytes() []byte {
	buf := make([]byte, 0, 80)
	var tmp [4]byte

	binary.LittleEndian.PutUint32(tmp[:], h.Version)
	buf = append(buf, tmp[:]...)
	buf = append(buf, h.HashPrevBlock[:]...)
	buf = append(buf, h.HashMerkleRoot[:]...)
	binary.LittleEndian.PutUint32(tmp[:], h.Timestamp)
	buf = append(buf, tmp[:]...)
	buf = append(buf, h.Bits.Bytes()...)
	binary.LittleEndian.PutUint32(tmp[:], h.Nonce)
	buf = append(buf, tmp[:]...)

	return buf
}

// Hash computes the block hash (double SHA-256 over Bytes), matching the
// teacher's lazy-hash-caching pattern on model.Block but kept here as a
// pure function since BlockHeader carries no mutable cache field.
func (h *BlockHeader) Hash() Hash {
	return doubleSHA256(h.Bytes())
}

func (h *BlockHeader) Time() time.Time {
	return time.Unix(int64(h.Timestamp), 0).UTC()
}

// Validate checks internal well-formedness independent of chain context
// (non-nil hashes, non-zero bits); PoW and checkpoint validity are the
// responsibility of the consensus package (spec §4.6).
func (h *BlockHeader) Validate() error {
	if h == nil {
		return errors.NewInvalidArgumentError("block header is nil")
	}
	if h.HashPrevBlock == nil {
		return errors.NewInvalidArgumentError("block header missing hash_prev_block")
	}
	if h.HashMerkleRoot == nil {
		return errors.NewInvalidArgumentError("block header missing hash_merkle_root")
	}
	if bytes.Equal(h.Bits[:], []byte{0, 0, 0, 0}) {
		return errors.NewInvalidArgumentError("block header has zero difficulty bits")
	}
	return nil
}
