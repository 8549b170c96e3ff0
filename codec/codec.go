package codec

import (
	"github.com/coreledger/hybridcore/ctor"
	"github.com/coreledger/hybridcore/errors"
	"github.com/coreledger/hybridcore/external"
	"github.com/coreledger/hybridcore/model"
)

// SupportedVersion is the only compressed-block wire version this codec
// accepts (spec §4.5 validation: "version matches supported").
const SupportedVersion uint32 = 1

// CompressedBlock is the wire entity from spec §3: everything needed to
// reconstruct a block against a receiver's mempool without retransmitting
// every transaction's full bytes.
type CompressedBlock struct {
	Version      uint32
	BlockVersion uint32
	BlockID      model.Hash
	PrevBlockID  model.Hash
	Time         uint32
	Bits         model.NBit
	Nonce        uint32
	BloomFilter  []byte
	OrderingData []byte
	DiffData     []byte
	MissingTxIDs []model.Hash
	MissingTxs   [][]byte

	OriginalSize   uint64
	CompressedSize uint64
}

// CompressionRatio is compressed_size / original_size, used by both the
// §4.5 validation rule and peer scoring (spec §4.5: "score = (1 - avg_ratio) * reliability * speed").
func (c *CompressedBlock) CompressionRatio() float64 {
	if c.OriginalSize == 0 {
		return 1
	}
	return float64(c.CompressedSize) / float64(c.OriginalSize)
}

// TxSource is what the codec needs from a mempool to encode (sender
// side: does my mempool already have t?) or decode (receiver side: give
// me my sorted txid snapshot and look transactions up by id). Mempool
// satisfies this via the thin adapter methods in package mempool.
type TxSource interface {
	LookupTx(id model.Hash) (*model.Tx, bool)
	SortedTxIDs() []model.Hash
}

// Validate checks the structural rules from spec §4.5: supported
// version, compression ratio range, missing-list length parity, and
// bloom filter size.
func (c *CompressedBlock) Validate() error {
	if c.Version != SupportedVersion {
		return errors.NewDecodeFailureError("unsupported compressed-block version %d", c.Version)
	}
	if len(c.MissingTxIDs) != len(c.MissingTxs) {
		return errors.NewDecodeFailureError("missing_txids length %d != missing_txs length %d", len(c.MissingTxIDs), len(c.MissingTxs))
	}
	if len(c.BloomFilter) > MaxBloomFilterBytes {
		return errors.NewDecodeFailureError("bloom filter %d bytes exceeds %d byte limit", len(c.BloomFilter), MaxBloomFilterBytes)
	}
	if ratio := c.CompressionRatio(); ratio <= 0.01 || ratio > 1.0 {
		return errors.NewDecodeFailureError("compression ratio %.4f outside (0.01, 1.0]", ratio)
	}
	return nil
}

// Encode builds a CompressedBlock for block against the sender's own
// mempool senderMempool (spec §4.5 encoder). The coinbase transaction is
// always placed first in MissingTxIDs/MissingTxs by convention, since it
// can never already be present in any mempool.
func Encode(block *model.Block, senderMempool TxSource, txCodec external.TxCodec) (*CompressedBlock, error) {
	if block == nil {
		return nil, errors.NewInvalidArgumentError("block is nil")
	}

	nonCoinbaseIDs := make([]model.Hash, len(block.Transactions))
	for i, tx := range block.Transactions {
		nonCoinbaseIDs[i] = model.TxID(tx)
	}
	txByID := make(map[model.Hash]*model.Tx, len(block.Transactions))
	for i, id := range nonCoinbaseIDs {
		txByID[id] = block.Transactions[i]
	}

	tb := ctor.SortCanonical(nonCoinbaseIDs)
	rankOf := make(map[model.Hash]int, len(tb))
	for i, id := range tb {
		rankOf[id] = i
	}

	markers := make([]diffMarker, len(tb))
	missingIDs := []model.Hash{model.TxID(block.CoinbaseTx)}
	missingTxs := [][]byte{}
	var mempoolPrefixes []uint64

	coinbaseBytes, err := txCodec.Serialize(block.CoinbaseTx)
	if err != nil {
		return nil, errors.NewDecodeFailureError("serialize coinbase: %v", err)
	}
	missingTxs = append(missingTxs, coinbaseBytes)

	for i, id := range tb {
		if _, ok := senderMempool.LookupTx(id); ok {
			markers[i] = markerInMempool
			mempoolPrefixes = append(mempoolPrefixes, txidPrefix(id))
			continue
		}

		markers[i] = markerFull
		b, err := txCodec.Serialize(txByID[id])
		if err != nil {
			return nil, errors.NewDecodeFailureError("serialize tx %x: %v", id[:8], err)
		}
		missingIDs = append(missingIDs, id)
		missingTxs = append(missingTxs, b)
	}

	ranks := make([]int, len(nonCoinbaseIDs))
	for i, id := range nonCoinbaseIDs {
		ranks[i] = rankOf[id]
	}

	filter := buildBloomFilter(tb)
	bloomBytes, err := marshalBloomFilter(filter)
	if err != nil {
		return nil, err
	}

	var originalSize uint64 = model.SizeInBytes(block.CoinbaseTx)
	for _, tx := range block.Transactions {
		originalSize += model.SizeInBytes(tx)
	}

	diffBytes := encodeDiffData(markers)
	orderingBytes := encodeOrderingData(ranks, mempoolPrefixes)

	compressed := &CompressedBlock{
		Version:      SupportedVersion,
		BlockVersion: block.Header.Version,
		BlockID:      block.Hash(),
		PrevBlockID:  *block.Header.HashPrevBlock,
		Time:         block.Header.Timestamp,
		Bits:         block.Header.Bits,
		Nonce:        block.Header.Nonce,
		BloomFilter:  bloomBytes,
		OrderingData: orderingBytes,
		DiffData:     diffBytes,
		MissingTxIDs: missingIDs,
		MissingTxs:   missingTxs,
		OriginalSize: originalSize,
	}

	var compressedSize uint64
	compressedSize += uint64(len(bloomBytes) + len(orderingBytes) + len(diffBytes))
	for _, b := range missingTxs {
		compressedSize += uint64(len(b))
	}
	compressedSize += uint64(32 * len(missingIDs))
	compressed.CompressedSize = compressedSize

	return compressed, nil
}

// Decode reconstructs a Block from a CompressedBlock against the
// receiver's own mempool (spec §4.5 decoder). Structural problems
// (truncated streams, a marked-missing tx absent from MissingTxs, a
// bloom-matched slot the receiver can't actually resolve) return a
// MISSING_TX/DECODE_FAILURE error so the caller falls back to requesting
// the full block (spec §4.5 "Fallback on any decoding failure"). A
// merkle-root mismatch AFTER a structurally successful decode is treated
// as a broken invariant per spec §7 and panics; callers must recover
// around block processing the same way they do for any other invariant
// panic.
func Decode(c *CompressedBlock, receiverMempool TxSource, txCodec external.TxCodec, merkle external.MerkleComputer, height uint32) (*model.Block, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if len(c.MissingTxIDs) == 0 {
		return nil, errors.NewDecodeFailureError("missing_txs must contain at least the coinbase transaction")
	}

	coinbaseTx, err := txCodec.Deserialize(c.MissingTxs[0])
	if err != nil {
		return nil, errors.NewDecodeFailureError("deserialize coinbase: %v", err)
	}

	filter, err := unmarshalBloomFilter(c.BloomFilter)
	if err != nil {
		return nil, err
	}

	markers, err := decodeDiffData(c.DiffData)
	if err != nil {
		return nil, err
	}

	inMempoolSlots := 0
	for _, marker := range markers {
		if marker == markerInMempool {
			inMempoolSlots++
		}
	}

	ranks, prefixes, err := decodeOrderingData(c.OrderingData, len(markers), inMempoolSlots)
	if err != nil {
		return nil, err
	}

	resolvedIDs, err := resolvePrefixes(receiverMempool, filter, prefixes)
	if err != nil {
		return nil, err
	}

	remainingMissingIDs := c.MissingTxIDs[1:]
	remainingMissingTxs := c.MissingTxs[1:]

	type resolved struct {
		id model.Hash
		tx *model.Tx
	}
	tb := make([]resolved, 0, len(markers))

	missingIdx, slotIdx := 0, 0
	for i, marker := range markers {
		switch marker {
		case markerFull:
			if missingIdx >= len(remainingMissingIDs) {
				return nil, errors.NewMissingTxError("diff_data[%d] marked full but missing_txs is exhausted", i)
			}
			tx, derr := txCodec.Deserialize(remainingMissingTxs[missingIdx])
			if derr != nil {
				return nil, errors.NewDecodeFailureError("deserialize missing tx %d: %v", missingIdx, derr)
			}
			tb = append(tb, resolved{id: remainingMissingIDs[missingIdx], tx: tx})
			missingIdx++

		case markerInMempool:
			id := resolvedIDs[slotIdx]
			tx, ok := receiverMempool.LookupTx(id)
			if !ok {
				return nil, errors.NewMissingTxError("resolved tx %x no longer in mempool", id[:8])
			}
			tb = append(tb, resolved{id: id, tx: tx})
			slotIdx++
		}
	}

	if missingIdx != len(remainingMissingIDs) {
		return nil, errors.NewDecodeFailureError("missing_txs has %d unused entries", len(remainingMissingIDs)-missingIdx)
	}

	transactions := make([]*model.Tx, len(ranks))
	ids := make([]model.Hash, len(ranks)+1)
	ids[0] = model.TxID(coinbaseTx)
	for i, rank := range ranks {
		transactions[i] = tb[rank].tx
		ids[i+1] = tb[rank].id
	}

	computedRoot := merkle.MerkleRoot(ids)

	header := &model.BlockHeader{
		Version:        c.BlockVersion,
		HashPrevBlock:  &c.PrevBlockID,
		HashMerkleRoot: &computedRoot,
		Timestamp:      c.Time,
		Bits:           c.Bits,
		Nonce:          c.Nonce,
	}

	if header.Hash() != c.BlockID {
		panic(errors.New(errors.ERR_INVALID_MERKLE, "decoded block hash does not match announced block-id: broken codec invariant"))
	}

	block, err := model.NewBlock(header, coinbaseTx, transactions, height)
	if err != nil {
		return nil, errors.NewDecodeFailureError("assemble decoded block: %v", err)
	}

	return block, nil
}

// resolvePrefixes maps each in-mempool slot's 8-byte txid prefix to a
// concrete txid in the receiver's mempool. The bloom filter shortlists
// the mempool (a few thousand candidates at worst out of millions); the
// prefix then pins identity within the shortlist. Two same-prefix
// candidates competing for fewer slots cannot be told apart, so that
// case fails the decode (the caller falls back to a full-block request)
// rather than ever guessing — a bloom false positive can only reach a
// wrong transaction by colliding on the full 8-byte prefix of a
// referenced slot, and even then it is refused, not substituted.
func resolvePrefixes(src TxSource, filter *wireBloom, prefixes []uint64) ([]model.Hash, error) {
	if len(prefixes) == 0 {
		return nil, nil
	}

	refCount := make(map[uint64]int, len(prefixes))
	for _, p := range prefixes {
		refCount[p]++
	}

	// SortedTxIDs ascends, so each candidate list ascends too — matching
	// the ascending consumption order of T_B's in-mempool slots.
	byPrefix := make(map[uint64][]model.Hash, len(prefixes))
	for _, id := range src.SortedTxIDs() {
		if !filter.has(id) {
			continue
		}
		p := txidPrefix(id)
		if _, wanted := refCount[p]; !wanted {
			continue
		}
		byPrefix[p] = append(byPrefix[p], id)
	}

	for p, want := range refCount {
		got := len(byPrefix[p])
		if got < want {
			return nil, errors.NewMissingTxError("prefix %016x matches %d mempool txs, block references %d", p, got, want)
		}
		if got > want {
			return nil, errors.NewDecodeFailureError("prefix %016x is ambiguous: %d candidates for %d slots", p, got, want)
		}
	}

	cursor := make(map[uint64]int, len(refCount))
	out := make([]model.Hash, len(prefixes))
	for i, p := range prefixes {
		out[i] = byPrefix[p][cursor[p]]
		cursor[p]++
	}

	return out, nil
}

func compareHash(a, b model.Hash) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
