package model

import (
	"encoding/binary"
	"encoding/hex"
	"math/big"

	"github.com/coreledger/hybridcore/errors"
)

// NBit is the compact difficulty-target encoding used by the block header,
// adapted from the teacher's model.NBit (referenced throughout Block.go as
// Header.Bits but not present in the retrieved subset — reconstructed here
// from its usage: NewNBitFromSlice(bitsBytes), and from Bits' role as the
// PoW target in spec §4.6).
type NBit [4]byte

// NewNBitFromSlice builds an NBit from 4 little-endian bytes, the same
// constructor signature used in the teacher's NewBlockFromMsgBlock.
func NewNBitFromSlice(b []byte) (*NBit, error) {
	if len(b) != 4 {
		return nil, errors.NewInvalidArgumentError("nbits must be exactly 4 bytes, got %d", len(b))
	}
	var n NBit
	copy(n[:], b)
	return &n, nil
}

// NewNBitFromString parses the usual big-endian hex representation (e.g.
// "1d00ffff").
func NewNBitFromString(s string) (*NBit, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.NewInvalidArgumentError("invalid nbits hex %q", s)
	}
	if len(b) != 4 {
		return nil, errors.NewInvalidArgumentError("nbits must decode to 4 bytes, got %d", len(b))
	}
	// stored little-endian internally, same byte order as the wire Bits field
	return &NBit{b[3], b[2], b[1], b[0]}, nil
}

// CompactToBig expands the compact "nBits" representation into the full
// target, using the same base-256 exponent/mantissa scheme as Bitcoin's
// blockchain.CompactToBig.
func (n NBit) CompactToBig() *big.Int {
	compact := binary.LittleEndian.Uint32(n[:])

	mantissa := compact & 0x007fffff
	exponent := uint(compact >> 24)

	var target big.Int
	if exponent <= 3 {
		mantissa >>= 8 * (3 - exponent)
		target.SetInt64(int64(mantissa))
	} else {
		target.SetInt64(int64(mantissa))
		target.Lsh(&target, 8*(exponent-3))
	}

	if compact&0x00800000 != 0 {
		target.Neg(&target)
	}

	return &target
}

// BigToCompact is the inverse of CompactToBig.
func BigToCompact(target *big.Int) NBit {
	if target.Sign() == 0 {
		return NBit{}
	}

	negative := target.Sign() < 0
	mantissaBytes := new(big.Int).Abs(target).Bytes()
	exponent := uint(len(mantissaBytes))

	var mantissa uint32
	switch {
	case exponent <= 3:
		mantissa = uint32(new(big.Int).Abs(target).Int64())
		mantissa <<= 8 * (3 - exponent)
	default:
		top := mantissaBytes[:3]
		mantissa = uint32(top[0])<<16 | uint32(top[1])<<8 | uint32(top[2])
	}

	if mantissa&0x00800000 != 0 {
		mantissa >>= 8
		exponent++
	}

	compact := mantissa | uint32(exponent)<<24
	if negative {
		compact |= 0x00800000
	}

	var n NBit
	binary.LittleEndian.PutUint32(n[:], compact)
	return n
}

func (n NBit) String() string {
	return hex.EncodeToString([]byte{n[3], n[2], n[1], n[0]})
}

func (n NBit) Bytes() []byte {
	out := make([]byte, 4)
	copy(out, n[:])
	return out
}
