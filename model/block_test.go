package model

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNBitCompactRoundTrip(t *testing.T) {
	n, err := NewNBitFromString("1d00ffff")
	require.NoError(t, err)

	target := n.CompactToBig()
	require.NotNil(t, target)
	assert.True(t, target.Sign() > 0)

	back := BigToCompact(target)
	assert.Equal(t, n.CompactToBig().Cmp(back.CompactToBig()), 0)
}

func TestNBitHigherBitsMeansEasierTarget(t *testing.T) {
	easy, err := NewNBitFromString("1d00ffff")
	require.NoError(t, err)
	hard, err := NewNBitFromString("1b0404cb")
	require.NoError(t, err)

	assert.Equal(t, 1, easy.CompactToBig().Cmp(hard.CompactToBig()))
}

func TestNewNBitFromSliceRejectsWrongLength(t *testing.T) {
	_, err := NewNBitFromSlice([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestMerkleRootSingleTx(t *testing.T) {
	var h Hash
	h[0] = 0xAB
	assert.Equal(t, h, merkleRoot([]Hash{h}))
}

func TestMerkleRootOddCountDuplicatesLast(t *testing.T) {
	var a, b, c Hash
	a[0], b[0], c[0] = 1, 2, 3

	withDup := merkleRoot([]Hash{a, b, c})
	withExplicitDup := merkleRoot([]Hash{a, b, c, c})

	assert.Equal(t, withExplicitDup, withDup)
}

func TestBlockHashIsCached(t *testing.T) {
	header := &BlockHeader{
		Version:        1,
		HashPrevBlock:  &Hash{},
		HashMerkleRoot: &Hash{},
		Timestamp:      1700000000,
		Nonce:          42,
	}
	n, err := NewNBitFromString("1d00ffff")
	require.NoError(t, err)
	header.Bits = *n

	b := &Block{Header: header}

	h1 := b.Hash()
	h2 := b.Hash()
	assert.Equal(t, h1, h2)
	assert.NotNil(t, b.hash)
}

func TestBlockHeaderValidateRejectsNilPrev(t *testing.T) {
	n, _ := NewNBitFromString("1d00ffff")
	h := &BlockHeader{HashMerkleRoot: &Hash{}, Bits: *n}
	require.Error(t, h.Validate())
}

func TestBigToCompactZero(t *testing.T) {
	c := BigToCompact(big.NewInt(0))
	assert.Equal(t, NBit{}, c)
}
