package mempool

import (
	"github.com/cespare/xxhash"
	"github.com/dolthub/swiss"

	"github.com/coreledger/hybridcore/model"
)

// txMapBuckets is the shard count of the primary index. Power of two so
// bucket selection is a mask, not a modulo.
const txMapBuckets = 1024

// shardedTxMap is the mempool's primary id->entry index: a swiss table
// split into fixed buckets so that at the target 8M-entry cardinality no
// single table ever rehashes more than ~8k entries at once. Bucket
// selection hashes the txid through xxhash rather than truncating its
// leading bytes, since txids are adversary-influenced (a miner grinding
// ids could otherwise pile entries into one bucket). The map itself is
// not synchronized: all access happens under the owning Mempool's mutex.
type shardedTxMap struct {
	buckets [txMapBuckets]*swiss.Map[model.Hash, *AdvancedTxEntry]
	length  int
}

func newShardedTxMap(sizeHint int) *shardedTxMap {
	perBucket := sizeHint / txMapBuckets
	if perBucket < 16 {
		perBucket = 16
	}

	s := &shardedTxMap{}
	for i := range s.buckets {
		s.buckets[i] = swiss.NewMap[model.Hash, *AdvancedTxEntry](uint32(perBucket))
	}
	return s
}

func (s *shardedTxMap) bucketFor(h model.Hash) *swiss.Map[model.Hash, *AdvancedTxEntry] {
	return s.buckets[xxhash.Sum64(h[:])&(txMapBuckets-1)]
}

func (s *shardedTxMap) Get(h model.Hash) (*AdvancedTxEntry, bool) {
	return s.bucketFor(h).Get(h)
}

func (s *shardedTxMap) Put(h model.Hash, e *AdvancedTxEntry) {
	b := s.bucketFor(h)
	if !b.Has(h) {
		s.length++
	}
	b.Put(h, e)
}

func (s *shardedTxMap) Delete(h model.Hash) {
	b := s.bucketFor(h)
	if b.Has(h) {
		s.length--
	}
	b.Delete(h)
}

func (s *shardedTxMap) Count() int {
	return s.length
}

// Iter visits every entry across all buckets; the callback returning
// true stops the iteration, the same contract as swiss.Map.Iter.
func (s *shardedTxMap) Iter(fn func(h model.Hash, e *AdvancedTxEntry) bool) {
	for _, b := range s.buckets {
		stopped := false
		b.Iter(func(h model.Hash, e *AdvancedTxEntry) bool {
			if fn(h, e) {
				stopped = true
				return true
			}
			return false
		})
		if stopped {
			return
		}
	}
}
