package model

import (
	"github.com/libsv/go-bt/v2"
)

// Tx is reused directly from the teacher's dependency on libsv/go-bt/v2
// rather than reimplemented: every transaction in this module (mempool
// entries, block contents, coinbase) is a *bt.Tx, giving us real
// BIP-143-style serialization, size accounting, and input/output parsing
// for free.
type Tx = bt.Tx

// NewTxFromBytes parses a serialized transaction, delegating to bt.Tx's
// own binary decoder.
func NewTxFromBytes(b []byte) (*Tx, error) {
	return bt.NewTxFromBytes(b)
}

// TxID returns the transaction's double-SHA256 id as this package's Hash
// type, matching the teacher's use of tx.TxIDChainHash() throughout
// model/Block.go.
func TxID(tx *Tx) Hash {
	return Hash(*tx.TxIDChainHash())
}

// SizeInBytes returns the serialized transaction size, used by the
// block-size governor (spec §4.2) and the mempool's capacity accounting
// (spec §4.4).
func SizeInBytes(tx *Tx) uint64 {
	return uint64(tx.Size())
}

// Fee returns total input value minus total output value. The caller
// supplies input values since bt.Tx alone doesn't resolve prevout amounts;
// this mirrors how the teacher's validator service computes fees using an
// external UTXO lookup rather than baking amount resolution into the
// transaction type itself.
func Fee(tx *Tx, inputValues []uint64) uint64 {
	var totalIn uint64
	for _, v := range inputValues {
		totalIn += v
	}

	var totalOut uint64
	for _, out := range tx.Outputs {
		totalOut += out.Satoshis
	}

	if totalIn < totalOut {
		return 0
	}
	return totalIn - totalOut
}

// FeeRate returns satoshis per byte, the unit the priority classifier and
// fee estimator (spec §4.4) both operate on.
func FeeRate(fee, sizeInBytes uint64) float64 {
	if sizeInBytes == 0 {
		return 0
	}
	return float64(fee) / float64(sizeInBytes)
}
