// Package model holds the shared domain types (Block, BlockHeader, NBit,
// Hash, MinerVote) used across every other package in this module. It is
// adapted from the teacher's model package: the same lazy-hash-caching,
// mutex-guarded Block shape survives, stripped of the teacher's
// aerospike/UTXO-store coupling (out of scope per spec.md §1 — block
// storage and persistence aren't a modeled module here).
package model

import (
	"sync"

	"github.com/coreledger/hybridcore/errors"
)

// Block is the unit validated by the consensus engine (spec §2, §4.6).
// Transactions are carried in CTOR-canonical order once
// OrderingFinalized is set; until then Transactions holds whatever order
// the block assembler produced.
type Block struct {
	Header           *BlockHeader `json:"header"`
	CoinbaseTx       *Tx          `json:"coinbase_tx"`
	Transactions     []*Tx        `json:"transactions"`
	TransactionCount uint64       `json:"transaction_count"`
	SizeInBytes      uint64       `json:"size_in_bytes"`
	Height           uint32       `json:"height"`

	OrderingFinalized bool `json:"ordering_finalized"`

	mu   sync.RWMutex
	hash *Hash
}

// NewBlock assembles a Block, computing TransactionCount (coinbase
// included) and SizeInBytes (sum of transaction sizes) from its contents,
// where the teacher's NewBlock takes them as pre-computed arguments.
func NewBlock(header *BlockHeader, coinbaseTx *Tx, txs []*Tx, height uint32) (*Block, error) {
	if header == nil {
		return nil, errors.NewInvalidArgumentError("block header is nil")
	}
	if coinbaseTx == nil {
		return nil, errors.NewInvalidArgumentError("block coinbase transaction is nil")
	}

	var size uint64 = uint64(coinbaseTx.Size())
	for _, tx := range txs {
		size += uint64(tx.Size())
	}

	return &Block{
		Header:           header,
		CoinbaseTx:       coinbaseTx,
		Transactions:     txs,
		TransactionCount: uint64(len(txs)) + 1,
		SizeInBytes:      size,
		Height:           height,
	}, nil
}

// Hash returns the block's header hash, computed once and cached under a
// read-write mutex, mirroring the teacher's lazy hash field on model.Block.
func (b *Block) Hash() Hash {
	b.mu.RLock()
	if b.hash != nil {
		h := *b.hash
		b.mu.RUnlock()
		return h
	}
	b.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.hash == nil {
		h := b.Header.Hash()
		b.hash = &h
	}
	return *b.hash
}

// AllTransactions returns the coinbase transaction followed by the body,
// the order CTOR validation and Merkle root computation both expect.
func (b *Block) AllTransactions() []*Tx {
	out := make([]*Tx, 0, len(b.Transactions)+1)
	out = append(out, b.CoinbaseTx)
	out = append(out, b.Transactions...)
	return out
}

// TxIDs returns the double-SHA256 id of every transaction in AllTransactions order.
func (b *Block) TxIDs() []Hash {
	all := b.AllTransactions()
	ids := make([]Hash, len(all))
	for i, tx := range all {
		ids[i] = TxID(tx)
	}
	return ids
}

// MerkleRoot computes the standard binary Merkle root over TxIDs, used to
// cross-check Header.HashMerkleRoot during validation.
func (b *Block) MerkleRoot() Hash {
	return merkleRoot(b.TxIDs())
}

// MerkleRootOf exposes merkleRoot for the external package's
// MerkleComputer reference implementation, so both stay in sync.
func MerkleRootOf(ids []Hash) Hash {
	return merkleRoot(ids)
}

func merkleRoot(ids []Hash) Hash {
	if len(ids) == 0 {
		return Hash{}
	}
	if len(ids) == 1 {
		return ids[0]
	}

	level := ids
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}

		next := make([]Hash, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			buf := make([]byte, 0, 64)
			buf = append(buf, level[i][:]...)
			buf = append(buf, level[i+1][:]...)
			next[i/2] = doubleSHA256(buf)
		}
		level = next
	}

	return level[0]
}
