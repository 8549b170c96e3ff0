// Package codec implements the Compressed-Block Codec (spec §4.5): an
// encoder/decoder that, given a block and the sender's mempool, emits a
// compact representation the receiver reconstructs against its own
// mempool. The teacher builds its in-process txid membership filters with
// greatroar/blobloom (model/Block.go's NewOptimizedBloomFilter); those
// filters never cross a process boundary, so that library keeps its bit
// array unexported. The compressed-block channel has to put the exact
// bits on the wire, so this filter owns its bit array directly and hashes
// txids through spaolacci/murmur3 double hashing.
package codec

import (
	"encoding/binary"
	"math"

	"github.com/spaolacci/murmur3"

	"github.com/coreledger/hybridcore/errors"
	"github.com/coreledger/hybridcore/model"
)

// BloomTargetFPRate is the false-positive rate target from spec §4.5.
const BloomTargetFPRate = 0.001

// MaxBloomFilterBytes enforces the spec §4.5 validation rule that the
// serialized bloom filter must not exceed 100 KB.
const MaxBloomFilterBytes = 100 * 1024

// wireBloom is a byte-serializable bloom filter. The i-th probe index is
// h1 + i*h2 over murmur3's 128-bit output (Kirsch-Mitzenmacher), so both
// ends derive identical bit positions from a txid alone.
type wireBloom struct {
	numHashes uint32
	bits      []byte
}

// newWireBloom sizes the filter for capacity entries at fpRate using the
// standard m = -n*ln(p)/ln(2)^2, k = m/n*ln(2) formulas.
func newWireBloom(capacity int, fpRate float64) *wireBloom {
	if capacity < 1 {
		capacity = 1
	}

	mBits := int(math.Ceil(-float64(capacity) * math.Log(fpRate) / (math.Ln2 * math.Ln2)))
	if mBits < 8 {
		mBits = 8
	}
	k := int(math.Round(float64(mBits) / float64(capacity) * math.Ln2))
	if k < 1 {
		k = 1
	}

	return &wireBloom{
		numHashes: uint32(k),
		bits:      make([]byte, (mBits+7)/8),
	}
}

func (w *wireBloom) add(id model.Hash) {
	h1, h2 := murmur3.Sum128(id[:])
	mBits := uint64(len(w.bits)) * 8
	for i := uint64(0); i < uint64(w.numHashes); i++ {
		idx := (h1 + i*h2) % mBits
		w.bits[idx/8] |= 1 << (idx % 8)
	}
}

func (w *wireBloom) has(id model.Hash) bool {
	h1, h2 := murmur3.Sum128(id[:])
	mBits := uint64(len(w.bits)) * 8
	for i := uint64(0); i < uint64(w.numHashes); i++ {
		idx := (h1 + i*h2) % mBits
		if w.bits[idx/8]&(1<<(idx%8)) == 0 {
			return false
		}
	}
	return true
}

// buildBloomFilter inserts every id in ids, sized for the cardinality at
// BloomTargetFPRate (spec §4.5: "target false-positive rate 0.1%").
func buildBloomFilter(ids []model.Hash) *wireBloom {
	filter := newWireBloom(len(ids), BloomTargetFPRate)
	for _, id := range ids {
		filter.add(id)
	}
	return filter
}

// marshalBloomFilter serializes filter for the wire, rejecting anything
// over MaxBloomFilterBytes (spec §4.5).
func marshalBloomFilter(filter *wireBloom) ([]byte, error) {
	out := make([]byte, 4+len(filter.bits))
	binary.LittleEndian.PutUint32(out[:4], filter.numHashes)
	copy(out[4:], filter.bits)

	if len(out) > MaxBloomFilterBytes {
		return nil, errors.NewDecodeFailureError("bloom filter %d bytes exceeds %d byte limit", len(out), MaxBloomFilterBytes)
	}
	return out, nil
}

func unmarshalBloomFilter(b []byte) (*wireBloom, error) {
	if len(b) > MaxBloomFilterBytes {
		return nil, errors.NewDecodeFailureError("bloom filter %d bytes exceeds %d byte limit", len(b), MaxBloomFilterBytes)
	}
	if len(b) < 5 {
		return nil, errors.NewDecodeFailureError("bloom filter truncated: %d bytes", len(b))
	}

	k := binary.LittleEndian.Uint32(b[:4])
	if k == 0 || k > 64 {
		return nil, errors.NewDecodeFailureError("bloom filter hash count %d out of range", k)
	}

	return &wireBloom{
		numHashes: k,
		bits:      b[4:],
	}, nil
}
