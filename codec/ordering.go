package codec

import (
	"encoding/binary"

	"github.com/coreledger/hybridcore/errors"
	"github.com/coreledger/hybridcore/model"
)

// diffMarker is the one-byte per-transaction marker spec §4.5 calls
// diff_data: "distinguishing 'in receiver mempool' from 'full
// transaction appended'".
type diffMarker byte

const (
	markerInMempool diffMarker = 0
	markerFull      diffMarker = 1
)

// encodeDiffData packs one diffMarker byte per entry of T_B, in T_B's
// (CTOR-sorted) order.
func encodeDiffData(markers []diffMarker) []byte {
	out := make([]byte, len(markers))
	for i, m := range markers {
		out[i] = byte(m)
	}
	return out
}

func decodeDiffData(b []byte) ([]diffMarker, error) {
	out := make([]diffMarker, len(b))
	for i, v := range b {
		if v != byte(markerInMempool) && v != byte(markerFull) {
			return nil, errors.NewDecodeFailureError("diff_data[%d] has invalid marker %d", i, v)
		}
		out[i] = diffMarker(v)
	}
	return out, nil
}

// txidPrefix is the leading 8 bytes of a txid as a big-endian integer.
// Txids ascend lexicographically exactly when these integers ascend, so
// the per-slot prefixes below are non-decreasing in T_B order and
// delta-encode tightly.
func txidPrefix(id model.Hash) uint64 {
	return binary.BigEndian.Uint64(id[:8])
}

// encodeOrderingData carries two varint streams back to back:
//
// Section A — one zigzag-varint rank delta per non-coinbase transaction
// in the block's ACTUAL transmitted order, where rank is that
// transaction's 0-based index within T_B (the CTOR-sorted reference
// list). Once CTOR is ACTIVE every delta is +1 and the section collapses
// to n one-byte varints; before ACTIVE it reconstructs whatever order
// the block assembler used.
//
// Section B — one uvarint prefix delta per "in mempool" slot of T_B, in
// T_B order: the 8-byte txid prefix of the transaction the receiver must
// pull from its own mempool, delta-encoded against the previous slot's
// prefix. The decoder resolves each prefix against its bloom-matched
// candidates, so transaction identity is pinned down explicitly rather
// than inferred from the candidates' sequential position — a bloom false
// positive can therefore never substitute a wrong transaction, only (at
// ~2^-64 per pair, on a shared full prefix) force the fallback path.
func encodeOrderingData(ranks []int, prefixes []uint64) []byte {
	var out []byte

	prev := -1
	for _, rank := range ranks {
		delta := rank - prev
		out = appendVarint(out, zigzagEncode(int64(delta)))
		prev = rank
	}

	var prevPrefix uint64
	for _, p := range prefixes {
		out = appendVarint(out, p-prevPrefix)
		prevPrefix = p
	}

	return out
}

// decodeOrderingData inverts encodeOrderingData: exactly n ranks into
// T_B followed by exactly k in-mempool txid prefixes, failing with
// DECODE_FAILURE if the stream is malformed, a rank falls outside
// [0, n), or the prefixes are not non-decreasing.
func decodeOrderingData(data []byte, n, k int) ([]int, []uint64, error) {
	ranks := make([]int, 0, n)
	prev := int64(-1)
	offset := 0

	for len(ranks) < n {
		zz, read, err := readVarint(data[offset:])
		if err != nil {
			return nil, nil, errors.NewDecodeFailureError("ordering_data truncated at rank %d: %v", len(ranks), err)
		}
		offset += read

		delta := zigzagDecode(zz)
		rank := prev + delta
		if rank < 0 || rank >= int64(n) {
			return nil, nil, errors.NewDecodeFailureError("ordering_data rank %d out of range [0,%d)", rank, n)
		}

		ranks = append(ranks, int(rank))
		prev = rank
	}

	prefixes := make([]uint64, 0, k)
	var prevPrefix uint64
	for len(prefixes) < k {
		delta, read, err := readVarint(data[offset:])
		if err != nil {
			return nil, nil, errors.NewDecodeFailureError("ordering_data truncated at prefix %d: %v", len(prefixes), err)
		}
		offset += read

		prefix := prevPrefix + delta
		if prefix < prevPrefix {
			return nil, nil, errors.NewDecodeFailureError("ordering_data prefix %d overflows", len(prefixes))
		}
		prefixes = append(prefixes, prefix)
		prevPrefix = prefix
	}

	if offset != len(data) {
		return nil, nil, errors.NewDecodeFailureError("ordering_data has %d trailing bytes", len(data)-offset)
	}

	return ranks, prefixes, nil
}

func zigzagEncode(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

func zigzagDecode(v uint64) int64 {
	return int64(v>>1) ^ -int64(v&1)
}

func appendVarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func readVarint(b []byte) (uint64, int, error) {
	v, n := binary.Uvarint(b)
	if n <= 0 {
		return 0, 0, errors.NewDecodeFailureError("malformed varint")
	}
	return v, n, nil
}
