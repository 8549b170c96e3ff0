package codec

import (
	"encoding/binary"
	"testing"

	"github.com/libsv/go-bt/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreledger/hybridcore/external"
	"github.com/coreledger/hybridcore/model"
)

const testAddr1 = "1ApLMk225o7S9FvKwpNChB7CX8cknQT9Hy"
const testAddr2 = "14qViLJfdGaP4EeHnDyJbEGQysnCpwk3gd"

// fakeMempool is a minimal TxSource backed by a plain map, standing in
// for mempool.Mempool in tests that don't need the rest of its
// bookkeeping.
type fakeMempool struct {
	byID map[model.Hash]*model.Tx
}

func newFakeMempool() *fakeMempool { return &fakeMempool{byID: map[model.Hash]*model.Tx{}} }

func (f *fakeMempool) add(tx *model.Tx) { f.byID[model.TxID(tx)] = tx }

func (f *fakeMempool) LookupTx(id model.Hash) (*model.Tx, bool) {
	tx, ok := f.byID[id]
	return tx, ok
}

func (f *fakeMempool) SortedTxIDs() []model.Hash {
	ids := make([]model.Hash, 0, len(f.byID))
	for id := range f.byID {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && compareHash(ids[j], ids[j-1]) < 0; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
	return ids
}

func makeTx(t *testing.T, addr string, satoshis uint64) *model.Tx {
	t.Helper()
	tx := bt.NewTx()
	require.NoError(t, tx.AddP2PKHOutputFromAddress(addr, satoshis))

	// Pad to a realistic transaction size; with toy 44-byte transactions
	// the 32-byte missing-txid entries alone would push the compression
	// ratio past the (0.01, 1.0] validation window.
	padding := make([]byte, 400)
	binary.LittleEndian.PutUint64(padding, satoshis)
	require.NoError(t, tx.AddOpReturnOutput(padding))

	return tx
}

func makeCoinbase(t *testing.T) *model.Tx {
	t.Helper()
	tx := bt.NewTx()
	require.NoError(t, tx.AddP2PKHOutputFromAddress(testAddr1, 5000000000))
	return tx
}

func buildTestBlock(t *testing.T, coinbase *model.Tx, txs []*model.Tx) *model.Block {
	t.Helper()
	var prev, merkle model.Hash
	header := &model.BlockHeader{
		Version:        1,
		HashPrevBlock:  &prev,
		HashMerkleRoot: &merkle,
		Timestamp:      1700000000,
		Nonce:          1,
	}
	n, err := model.NewNBitFromString("1d00ffff")
	require.NoError(t, err)
	header.Bits = *n

	block, err := model.NewBlock(header, coinbase, txs, 100)
	require.NoError(t, err)

	root := block.MerkleRoot()
	header.HashMerkleRoot = &root

	return block
}

func TestEncodeDecodeRoundTripFullOverlap(t *testing.T) {
	coinbase := makeCoinbase(t)

	var txs []*model.Tx
	for i := uint64(0); i < 5; i++ {
		txs = append(txs, makeTx(t, testAddr2, 1000+i))
	}

	block := buildTestBlock(t, coinbase, txs)

	senderMempool := newFakeMempool()
	for _, tx := range txs {
		senderMempool.add(tx)
	}
	receiverMempool := senderMempool

	txCodec := external.ReferenceTxCodec{}
	merkle := external.ReferenceMerkleComputer{}

	compressed, err := Encode(block, senderMempool, txCodec)
	require.NoError(t, err)
	require.NoError(t, compressed.Validate())

	decoded, err := Decode(compressed, receiverMempool, txCodec, merkle, block.Height)
	require.NoError(t, err)

	assert.Equal(t, block.Hash(), decoded.Hash())
	assert.Equal(t, len(block.Transactions), len(decoded.Transactions))
	assert.Equal(t, block.TxIDs(), decoded.TxIDs())
}

func TestEncodeDecodeRoundTripPartialOverlap(t *testing.T) {
	coinbase := makeCoinbase(t)

	var txs []*model.Tx
	for i := uint64(0); i < 6; i++ {
		txs = append(txs, makeTx(t, testAddr2, 2000+i))
	}

	block := buildTestBlock(t, coinbase, txs)

	// The sender's mempool is missing two of the block's transactions, so
	// those two travel as full bytes; the receiver holds the rest (plus
	// unrelated noise the decoder must not be confused by).
	senderMempool := newFakeMempool()
	receiverMempool := newFakeMempool()
	for i, tx := range txs {
		if i%3 != 0 {
			senderMempool.add(tx)
			receiverMempool.add(tx)
		}
	}
	for i := uint64(0); i < 20; i++ {
		receiverMempool.add(makeTx(t, testAddr1, 900_000+i))
	}

	txCodec := external.ReferenceTxCodec{}
	merkle := external.ReferenceMerkleComputer{}

	compressed, err := Encode(block, senderMempool, txCodec)
	require.NoError(t, err)
	assert.Len(t, compressed.MissingTxIDs, 3, "coinbase plus the two txs absent from the sender mempool")

	decoded, err := Decode(compressed, receiverMempool, txCodec, merkle, block.Height)
	require.NoError(t, err)
	assert.Equal(t, block.TxIDs(), decoded.TxIDs())
}

func TestEncodeDecodeHighOverlapLargeBlock(t *testing.T) {
	// 100 transactions, 95 of them in both mempools, the receiver holding
	// hundreds of unrelated transactions besides: the decoded block must
	// come back bitwise identical and the compressed form under 15% of
	// the raw size (spec §8 scenario S5).
	coinbase := makeCoinbase(t)

	var txs []*model.Tx
	for i := uint64(0); i < 100; i++ {
		txs = append(txs, makeTx(t, testAddr2, 10_000+i))
	}

	block := buildTestBlock(t, coinbase, txs)

	senderMempool := newFakeMempool()
	receiverMempool := newFakeMempool()
	for i, tx := range txs {
		if i >= 5 {
			senderMempool.add(tx)
			receiverMempool.add(tx)
		}
	}
	for i := uint64(0); i < 300; i++ {
		receiverMempool.add(makeTx(t, testAddr1, 500_000+i))
	}

	txCodec := external.ReferenceTxCodec{}
	merkle := external.ReferenceMerkleComputer{}

	compressed, err := Encode(block, senderMempool, txCodec)
	require.NoError(t, err)
	require.NoError(t, compressed.Validate())
	assert.Len(t, compressed.MissingTxIDs, 6)
	assert.LessOrEqual(t, float64(compressed.CompressedSize), float64(compressed.OriginalSize)*0.15)

	decoded, err := Decode(compressed, receiverMempool, txCodec, merkle, block.Height)
	require.NoError(t, err)

	assert.Equal(t, block.Hash(), decoded.Hash())
	require.Equal(t, block.TxIDs(), decoded.TxIDs())
	for i := range block.Transactions {
		assert.Equal(t, block.Transactions[i].Bytes(), decoded.Transactions[i].Bytes())
	}
}

func TestDecodeFailsRatherThanGuessOnMissingOverlap(t *testing.T) {
	// A receiver that dropped one of the in-mempool-marked transactions
	// must get a MISSING_TX failure, never a block with a substitute.
	coinbase := makeCoinbase(t)

	var txs []*model.Tx
	for i := uint64(0); i < 4; i++ {
		txs = append(txs, makeTx(t, testAddr2, 3000+i))
	}

	block := buildTestBlock(t, coinbase, txs)

	senderMempool := newFakeMempool()
	receiverMempool := newFakeMempool()
	for i, tx := range txs {
		senderMempool.add(tx)
		if i != 2 {
			receiverMempool.add(tx)
		}
	}

	txCodec := external.ReferenceTxCodec{}
	merkle := external.ReferenceMerkleComputer{}

	compressed, err := Encode(block, senderMempool, txCodec)
	require.NoError(t, err)

	_, err = Decode(compressed, receiverMempool, txCodec, merkle, block.Height)
	require.Error(t, err)
}

func TestDecodeFailsWhenMissingTxUnavailable(t *testing.T) {
	coinbase := makeCoinbase(t)
	txs := []*model.Tx{makeTx(t, testAddr2, 5000)}
	block := buildTestBlock(t, coinbase, txs)

	emptyMempool := newFakeMempool()
	txCodec := external.ReferenceTxCodec{}
	merkle := external.ReferenceMerkleComputer{}

	compressed, err := Encode(block, emptyMempool, txCodec)
	require.NoError(t, err)

	// Corrupt: drop the one non-coinbase missing tx, forcing the decoder
	// to run out of candidates.
	compressed.MissingTxIDs = compressed.MissingTxIDs[:1]
	compressed.MissingTxs = compressed.MissingTxs[:1]

	_, err = Decode(compressed, emptyMempool, txCodec, merkle, block.Height)
	require.Error(t, err)
}

func TestValidateRejectsWrongVersion(t *testing.T) {
	c := &CompressedBlock{Version: 99, MissingTxIDs: []model.Hash{{}}, MissingTxs: [][]byte{{1}}, OriginalSize: 10, CompressedSize: 5}
	require.Error(t, c.Validate())
}

func TestValidateRejectsMissingLengthMismatch(t *testing.T) {
	c := &CompressedBlock{Version: SupportedVersion, MissingTxIDs: []model.Hash{{}}, MissingTxs: [][]byte{}, OriginalSize: 10, CompressedSize: 5}
	require.Error(t, c.Validate())
}

func TestWireMarshalUnmarshalRoundTrip(t *testing.T) {
	coinbase := makeCoinbase(t)
	txs := []*model.Tx{makeTx(t, testAddr2, 7000)}
	block := buildTestBlock(t, coinbase, txs)

	senderMempool := newFakeMempool()
	txCodec := external.ReferenceTxCodec{}

	compressed, err := Encode(block, senderMempool, txCodec)
	require.NoError(t, err)

	wire := compressed.Marshal()
	parsed, err := Unmarshal(wire)
	require.NoError(t, err)

	assert.Equal(t, compressed.BlockID, parsed.BlockID)
	assert.Equal(t, compressed.DiffData, parsed.DiffData)
	assert.Equal(t, compressed.OrderingData, parsed.OrderingData)
	assert.Equal(t, len(compressed.MissingTxs), len(parsed.MissingTxs))
}
