// Wire serialization for the compressed-block channel (spec §6): magic +
// codec version + block header version + block-id + prev-id + time +
// bits + nonce + three length-prefixed byte blobs + missing_txids +
// missing_txs, each length-prefixed. The header version rides along so
// the decoder can reconstruct the exact header preimage; without it any
// block signaling via version bits would fail the block-id check after
// decode.
package codec

import (
	"bytes"
	"encoding/binary"

	"github.com/coreledger/hybridcore/errors"
	"github.com/coreledger/hybridcore/model"
)

// WireMagic identifies a compressed-block packet on the wire.
const WireMagic uint32 = 0x58544842 // "XTHB"

// Marshal serializes c per spec §6's wire format.
func (c *CompressedBlock) Marshal() []byte {
	buf := new(bytes.Buffer)

	writeU32(buf, WireMagic)
	writeU32(buf, c.Version)
	writeU32(buf, c.BlockVersion)
	buf.Write(c.BlockID[:])
	buf.Write(c.PrevBlockID[:])
	writeU32(buf, c.Time)
	writeU32(buf, binary.LittleEndian.Uint32(c.Bits.Bytes()))
	writeU32(buf, c.Nonce)

	writeLengthPrefixed(buf, c.BloomFilter)
	writeLengthPrefixed(buf, c.OrderingData)
	writeLengthPrefixed(buf, c.DiffData)

	writeU32(buf, uint32(len(c.MissingTxIDs)))
	for _, id := range c.MissingTxIDs {
		buf.Write(id[:])
	}

	writeU32(buf, uint32(len(c.MissingTxs)))
	for _, tx := range c.MissingTxs {
		writeLengthPrefixed(buf, tx)
	}

	return buf.Bytes()
}

// Unmarshal parses the spec §6 wire format into a CompressedBlock. It
// does not run CompressedBlock.Validate(); callers should call that
// separately before Decode.
func Unmarshal(data []byte) (*CompressedBlock, error) {
	r := bytes.NewReader(data)

	magic, err := readU32(r)
	if err != nil || magic != WireMagic {
		return nil, errors.NewDecodeFailureError("bad compressed-block magic")
	}

	c := &CompressedBlock{}

	if c.Version, err = readU32(r); err != nil {
		return nil, errors.NewDecodeFailureError("read version: %v", err)
	}
	if c.BlockVersion, err = readU32(r); err != nil {
		return nil, errors.NewDecodeFailureError("read block version: %v", err)
	}
	if _, err = readFull(r, c.BlockID[:]); err != nil {
		return nil, errors.NewDecodeFailureError("read block-id: %v", err)
	}
	if _, err = readFull(r, c.PrevBlockID[:]); err != nil {
		return nil, errors.NewDecodeFailureError("read prev-block-id: %v", err)
	}
	if c.Time, err = readU32(r); err != nil {
		return nil, errors.NewDecodeFailureError("read time: %v", err)
	}

	bitsWord, err := readU32(r)
	if err != nil {
		return nil, errors.NewDecodeFailureError("read bits: %v", err)
	}
	var bitsBytes [4]byte
	binary.LittleEndian.PutUint32(bitsBytes[:], bitsWord)
	nbit, err := model.NewNBitFromSlice(bitsBytes[:])
	if err != nil {
		return nil, errors.NewDecodeFailureError("parse bits: %v", err)
	}
	c.Bits = *nbit

	if c.Nonce, err = readU32(r); err != nil {
		return nil, errors.NewDecodeFailureError("read nonce: %v", err)
	}

	if c.BloomFilter, err = readLengthPrefixed(r); err != nil {
		return nil, errors.NewDecodeFailureError("read bloom_filter: %v", err)
	}
	if c.OrderingData, err = readLengthPrefixed(r); err != nil {
		return nil, errors.NewDecodeFailureError("read ordering_data: %v", err)
	}
	if c.DiffData, err = readLengthPrefixed(r); err != nil {
		return nil, errors.NewDecodeFailureError("read diff_data: %v", err)
	}

	idCount, err := readU32(r)
	if err != nil {
		return nil, errors.NewDecodeFailureError("read missing_txids count: %v", err)
	}
	c.MissingTxIDs = make([]model.Hash, idCount)
	for i := range c.MissingTxIDs {
		if _, err = readFull(r, c.MissingTxIDs[i][:]); err != nil {
			return nil, errors.NewDecodeFailureError("read missing_txids[%d]: %v", i, err)
		}
	}

	txCount, err := readU32(r)
	if err != nil {
		return nil, errors.NewDecodeFailureError("read missing_txs count: %v", err)
	}
	c.MissingTxs = make([][]byte, txCount)
	for i := range c.MissingTxs {
		if c.MissingTxs[i], err = readLengthPrefixed(r); err != nil {
			return nil, errors.NewDecodeFailureError("read missing_txs[%d]: %v", i, err)
		}
	}

	c.CompressedSize = uint64(len(data))

	return c, nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func readU32(r *bytes.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := readFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(tmp[:]), nil
}

func readFull(r *bytes.Reader, b []byte) (int, error) {
	n, err := r.Read(b)
	if err != nil || n != len(b) {
		return n, errors.NewDecodeFailureError("short read: wanted %d got %d", len(b), n)
	}
	return n, nil
}

func writeLengthPrefixed(buf *bytes.Buffer, b []byte) {
	writeU32(buf, uint32(len(b)))
	buf.Write(b)
}

func readLengthPrefixed(r *bytes.Reader) ([]byte, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if n > 0 {
		if _, err := readFull(r, b); err != nil {
			return nil, err
		}
	}
	return b, nil
}
