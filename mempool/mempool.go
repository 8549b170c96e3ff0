// Package mempool implements the Advanced Mempool (spec §4.4): priority
// classification, ancestry clustering, fee estimation, block-template
// selection, and intelligent eviction at high cardinality. The primary
// index is a sharded dolthub/swiss table adapted from the teacher's
// util.SplitSwissMap (util/txmap.go), generalized from a hash-existence
// set to a hash-to-entry map with xxhash bucket selection. A single
// serializing mutex guards every structural mutation per spec §5
// ("Advanced Mempool: protected by a single serializing mutex"); reads
// that need a consistent view acquire and release it once.
package mempool

import (
	"encoding/binary"
	"sort"
	"sync"
	"time"

	"github.com/greatroar/blobloom"

	"github.com/coreledger/hybridcore/errors"
	"github.com/coreledger/hybridcore/eventbus"
	"github.com/coreledger/hybridcore/model"
)

// Priority buckets, highest first, matching spec §4.4 thresholds.
type Priority int

const (
	Urgent Priority = iota
	High
	Normal
	Low
	Minimal
	numPriorities
)

func (p Priority) String() string {
	switch p {
	case Urgent:
		return "URGENT"
	case High:
		return "HIGH"
	case Normal:
		return "NORMAL"
	case Low:
		return "LOW"
	case Minimal:
		return "MINIMAL"
	default:
		return "UNKNOWN"
	}
}

// PriorityFromFeeRate classifies a fee-rate (sat/byte) per spec §4.4:
// >=100 URGENT; >=50 HIGH; >=10 NORMAL; >=1 LOW; else MINIMAL.
func PriorityFromFeeRate(feeRate float64) Priority {
	switch {
	case feeRate >= 100:
		return Urgent
	case feeRate >= 50:
		return High
	case feeRate >= 10:
		return Normal
	case feeRate >= 1:
		return Low
	default:
		return Minimal
	}
}

// AdvancedTxEntry is the mempool's owned record for a pending transaction
// (spec §3).
type AdvancedTxEntry struct {
	Tx           *model.Tx
	TxID         model.Hash
	Fee          uint64
	Size         uint64
	Priority     Priority
	ClusterID    model.Hash
	EntryTime    int64
	Dependencies map[model.Hash]struct{}
	Dependents   map[model.Hash]struct{}
}

func (e *AdvancedTxEntry) feeRate() float64 {
	return model.FeeRate(e.Fee, e.Size)
}

// TransactionCluster groups entries that share ancestry (spec §3):
// invariant priority = min(priority of members); an empty cluster is
// destroyed.
type TransactionCluster struct {
	ClusterID   model.Hash
	Members     []model.Hash // ordered
	TotalSize   uint64
	TotalFees   uint64
	Priority    Priority
	CreatedTime int64
}

// Constants bounding mempool capacity (spec §4.4: "target 8M entries, 8GB memory").
const (
	MaxTransactions = 8_000_000
	MaxMemoryBytes  = 8 * 1024 * 1024 * 1024
	EvictionTarget  = 0.90
	ExpiryAge       = 24 * time.Hour
)

// Mempool is the Advanced Mempool. All structural mutation happens under
// mu (spec §5); reads that need a consistent view take a transient copy.
type Mempool struct {
	mu            sync.Mutex
	entries       *shardedTxMap
	clusters      map[model.Hash]*TransactionCluster
	priorityQueue [numPriorities][]model.Hash // each kept fee-rate descending

	totalMemory uint64
	bus         *eventbus.Bus
	clock       func() int64

	// minedFilter remembers txids confirmed out of this pool so a relayed
	// copy of an already-mined transaction is rejected without a store
	// lookup, the same blobloom-over-first-8-hash-bytes membership check
	// the teacher builds in model.Block.NewOptimizedBloomFilter. The filter
	// is sized for 1<<22 txids at a 1e-6 false-positive rate and is never
	// reset, so the rate of fresh transactions wrongly turned away rises
	// above one in a million once more txids than that have been added.
	minedFilter *blobloom.Filter

	estimator *FeeEstimator
}

// New creates an empty Mempool. clockFn supplies the current wall-clock
// seconds (injected per spec's wall-clock external interface, §6).
func New(bus *eventbus.Bus, clockFn func() int64) *Mempool {
	return &Mempool{
		entries:  newShardedTxMap(1 << 16),
		clusters: make(map[model.Hash]*TransactionCluster),
		bus:      bus,
		clock:    clockFn,
		minedFilter: blobloom.NewOptimized(blobloom.Config{
			Capacity: 1 << 22,
			FPRate:   1e-6,
		}),
		estimator: NewFeeEstimator(),
	}
}

// Submit inserts a new transaction entry. dependencies is the set of
// in-mempool tx-ids this transaction spends from.
func (m *Mempool) Submit(tx *model.Tx, fee uint64, dependencies []model.Hash) (*AdvancedTxEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	txid := model.TxID(tx)

	if _, ok := m.entries.Get(txid); ok {
		return nil, errors.NewDuplicateError("transaction %x already in mempool", txid[:8])
	}
	if m.minedFilter.Has(binary.BigEndian.Uint64(txid[:8])) {
		return nil, errors.NewDuplicateError("transaction %x already confirmed", txid[:8])
	}

	size := model.SizeInBytes(tx)

	if uint64(m.entries.Count()) >= MaxTransactions || m.totalMemory+size >= MaxMemoryBytes {
		m.evictLocked()
		if uint64(m.entries.Count()) >= MaxTransactions || m.totalMemory+size >= MaxMemoryBytes {
			return nil, errors.NewCapacityExceededError("mempool at capacity after eviction sweep")
		}
	}

	entry := &AdvancedTxEntry{
		Tx:           tx,
		TxID:         txid,
		Fee:          fee,
		Size:         size,
		Priority:     PriorityFromFeeRate(model.FeeRate(fee, size)),
		EntryTime:    m.now(),
		Dependencies: make(map[model.Hash]struct{}),
		Dependents:   make(map[model.Hash]struct{}),
	}

	for _, dep := range dependencies {
		entry.Dependencies[dep] = struct{}{}
		if depEntry, ok := m.entries.Get(dep); ok {
			depEntry.Dependents[txid] = struct{}{}
		}
	}

	m.entries.Put(txid, entry)
	m.totalMemory += size
	m.assignClusterLocked(entry)
	m.pushPriorityQueueLocked(entry)

	if m.bus != nil {
		m.bus.Debug("mempool", "TX_SUBMITTED", map[string]interface{}{
			"txid":     txid.String(),
			"priority": entry.Priority.String(),
		})
	}

	return entry, nil
}

func (m *Mempool) now() int64 {
	if m.clock != nil {
		return m.clock()
	}
	return time.Now().Unix()
}

// assignClusterLocked applies the cluster rule (spec §4.4): a transaction
// joins the cluster of any dependency; if multiple dependencies belong to
// distinct clusters, those clusters are merged.
func (m *Mempool) assignClusterLocked(entry *AdvancedTxEntry) {
	var joined *TransactionCluster

	for dep := range entry.Dependencies {
		depEntry, ok := m.entries.Get(dep)
		if !ok {
			continue
		}
		depCluster, ok := m.clusters[depEntry.ClusterID]
		if !ok {
			continue
		}

		if joined == nil {
			joined = depCluster
		} else if joined.ClusterID != depCluster.ClusterID {
			joined = m.mergeClustersLocked(joined, depCluster)
		}
	}

	if joined == nil {
		joined = &TransactionCluster{
			ClusterID:   entry.TxID,
			CreatedTime: m.now(),
			Priority:    entry.Priority,
		}
		m.clusters[joined.ClusterID] = joined
	}

	joined.Members = append(joined.Members, entry.TxID)
	joined.TotalSize += entry.Size
	joined.TotalFees += entry.Fee
	if entry.Priority < joined.Priority {
		joined.Priority = entry.Priority
	}

	entry.ClusterID = joined.ClusterID
}

// mergeClustersLocked merges b into a (union membership, sum sizes/fees,
// priority = min of the two) and destroys b, per spec §4.4.
func (m *Mempool) mergeClustersLocked(a, b *TransactionCluster) *TransactionCluster {
	a.Members = append(a.Members, b.Members...)
	a.TotalSize += b.TotalSize
	a.TotalFees += b.TotalFees
	if b.Priority < a.Priority {
		a.Priority = b.Priority
	}

	for _, memberID := range b.Members {
		if e, ok := m.entries.Get(memberID); ok {
			e.ClusterID = a.ClusterID
		}
	}

	delete(m.clusters, b.ClusterID)
	return a
}

func (m *Mempool) pushPriorityQueueLocked(entry *AdvancedTxEntry) {
	q := m.priorityQueue[entry.Priority]
	q = append(q, entry.TxID)
	sort.Slice(q, func(i, j int) bool {
		ei, _ := m.entries.Get(q[i])
		ej, _ := m.entries.Get(q[j])
		if ei == nil || ej == nil {
			return false
		}
		return ei.feeRate() > ej.feeRate()
	})
	m.priorityQueue[entry.Priority] = q
}

// Remove deletes an entry and, symmetrically, its dependency edges (spec
// §4.4 "both sides updated on insert/remove"). It does NOT recursively
// remove dependents — callers that need the eviction cascade should use
// Evict.
func (m *Mempool) Remove(txid model.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(txid)
}

func (m *Mempool) removeLocked(txid model.Hash) {
	entry, ok := m.entries.Get(txid)
	if !ok {
		return
	}

	for dep := range entry.Dependencies {
		if depEntry, ok := m.entries.Get(dep); ok {
			delete(depEntry.Dependents, txid)
		}
	}
	for dependent := range entry.Dependents {
		if depEntry, ok := m.entries.Get(dependent); ok {
			delete(depEntry.Dependencies, txid)
		}
	}

	if cluster, ok := m.clusters[entry.ClusterID]; ok {
		cluster.Members = removeHash(cluster.Members, txid)
		cluster.TotalSize -= entry.Size
		cluster.TotalFees -= entry.Fee
		if len(cluster.Members) == 0 {
			delete(m.clusters, cluster.ClusterID)
		}
	}

	m.priorityQueue[entry.Priority] = removeHash(m.priorityQueue[entry.Priority], txid)
	m.totalMemory -= entry.Size
	m.entries.Delete(txid)
}

func removeHash(ids []model.Hash, target model.Hash) []model.Hash {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// Get returns the entry for txid, if present.
func (m *Mempool) Get(txid model.Hash) (*AdvancedTxEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries.Get(txid)
}

// LookupTx and SortedTxIDs satisfy codec.TxSource, letting the
// compressed-block codec (spec §4.5) use this mempool directly as both
// the sender's and the receiver's transaction source.
func (m *Mempool) LookupTx(txid model.Hash) (*model.Tx, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries.Get(txid)
	if !ok {
		return nil, false
	}
	return e.Tx, true
}

// SortedTxIDs returns every currently-held txid in ascending
// lexicographic order, the canonical order the codec's bloom-filter
// matching walks in.
func (m *Mempool) SortedTxIDs() []model.Hash {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]model.Hash, 0, m.entries.Count())
	m.entries.Iter(func(txid model.Hash, _ *AdvancedTxEntry) bool {
		ids = append(ids, txid)
		return false
	})
	sort.Slice(ids, func(i, j int) bool {
		return bytesLess(ids[i][:], ids[j][:])
	})
	return ids
}

func bytesLess(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Count returns the number of entries currently held.
func (m *Mempool) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries.Count()
}

// GetTemplate selects transactions for a block template (spec §4.4):
// iterate priority URGENT..MINIMAL, within a tier pop highest fee-rate
// entries, include iff size fits the remaining budget and all
// dependencies are already included, otherwise skip (no partial defer).
// The whole selection runs under one lock acquisition so it observes a
// consistent snapshot (spec §5).
func (m *Mempool) GetTemplate(maxBlockSize uint64) []*AdvancedTxEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	included := make(map[model.Hash]struct{})
	var result []*AdvancedTxEntry
	var used uint64

	for p := Urgent; p < numPriorities; p++ {
		for _, txid := range m.priorityQueue[p] {
			entry, ok := m.entries.Get(txid)
			if !ok {
				continue
			}
			if used+entry.Size > maxBlockSize {
				continue
			}

			allDepsIncluded := true
			for dep := range entry.Dependencies {
				if _, ok := included[dep]; !ok {
					allDepsIncluded = false
					break
				}
			}
			if !allDepsIncluded {
				continue
			}

			result = append(result, entry)
			included[txid] = struct{}{}
			used += entry.Size
		}
	}

	return result
}

// Evict trims the mempool to EvictionTarget of whichever limit (count or
// memory) was crossed, removing entries one at a time in MINIMAL->URGENT
// order, lowest fee-rate first within a tier; removing an entry also
// recursively removes its descendants (spec §4.4).
func (m *Mempool) Evict() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictLocked()
}

func (m *Mempool) evictLocked() {
	maxMemoryBytes := uint64(MaxMemoryBytes)
	targetCount := uint64(float64(MaxTransactions) * EvictionTarget)
	targetMemory := uint64(float64(maxMemoryBytes) * EvictionTarget)

	for p := Minimal; p >= Urgent; p-- {
		for uint64(m.entries.Count()) > targetCount || m.totalMemory > targetMemory {
			queue := m.priorityQueue[p]
			if len(queue) == 0 {
				break
			}
			victim := queue[len(queue)-1]
			m.removeWithDescendantsLocked(victim)
		}
		if uint64(m.entries.Count()) <= targetCount && m.totalMemory <= targetMemory {
			return
		}
	}
}

func (m *Mempool) removeWithDescendantsLocked(txid model.Hash) {
	entry, ok := m.entries.Get(txid)
	if !ok {
		return
	}

	descendants := make([]model.Hash, 0, len(entry.Dependents))
	for d := range entry.Dependents {
		descendants = append(descendants, d)
	}

	m.removeLocked(txid)

	for _, d := range descendants {
		m.removeWithDescendantsLocked(d)
	}
}

// ApplyConfirmedBlock removes confirmed entries and feeds their fee-rates
// to the fee estimator (spec §4.4: "updates on each block acceptance").
func (m *Mempool) ApplyConfirmedBlock(confirmed []*AdvancedTxEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range confirmed {
		m.estimator.Observe(e.Priority, e.feeRate())
		m.minedFilter.Add(binary.BigEndian.Uint64(e.TxID[:8]))
		m.removeLocked(e.TxID)
	}
}

// ReconcileBlock removes every transaction of an accepted block that is
// still held in the mempool, feeding confirmed fee-rates to the estimator
// (spec §2: "mempool reconciliation" in the per-block control flow).
// Returns how many entries were confirmed out of the pool.
func (m *Mempool) ReconcileBlock(txIDs []model.Hash) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	confirmed := 0
	for _, id := range txIDs {
		m.minedFilter.Add(binary.BigEndian.Uint64(id[:8]))
		if e, ok := m.entries.Get(id); ok {
			m.estimator.Observe(e.Priority, e.feeRate())
			m.removeLocked(id)
			confirmed++
		}
	}
	return confirmed
}

// ExpireOld removes entries older than ExpiryAge (spec §4.4 periodic
// maintenance).
func (m *Mempool) ExpireOld() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cutoff := now - int64(ExpiryAge.Seconds())

	var expired []model.Hash
	m.entries.Iter(func(txid model.Hash, entry *AdvancedTxEntry) bool {
		if entry.EntryTime < cutoff {
			expired = append(expired, txid)
		}
		return false
	})

	for _, txid := range expired {
		m.removeLocked(txid)
	}

	return len(expired)
}

// FeeEstimates returns the current FeeEstimation view (spec §3).
func (m *Mempool) FeeEstimates() map[Priority]EstimatedFee {
	return m.estimator.Snapshot()
}

// CheckConsistency verifies the invariants from spec §4.4: sum of bucket
// counts equals total entries, sum of entry sizes equals total memory
// usage, dependency graph symmetry, and every entry's cluster contains
// its id. Returns the first violation found, or nil.
func (m *Mempool) CheckConsistency() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var bucketTotal int
	for p := Urgent; p < numPriorities; p++ {
		bucketTotal += len(m.priorityQueue[p])
	}
	if bucketTotal != m.entries.Count() {
		return errors.New(errors.ERR_UNKNOWN, "priority bucket count %d != entry count %d", bucketTotal, m.entries.Count())
	}

	var sizeTotal uint64
	violation := error(nil)
	m.entries.Iter(func(txid model.Hash, entry *AdvancedTxEntry) bool {
		sizeTotal += entry.Size

		for dep := range entry.Dependencies {
			depEntry, ok := m.entries.Get(dep)
			if !ok {
				continue
			}
			if _, ok := depEntry.Dependents[txid]; !ok {
				violation = errors.New(errors.ERR_UNKNOWN, "dependency graph asymmetry for %x", txid[:8])
				return true
			}
		}

		cluster, ok := m.clusters[entry.ClusterID]
		if !ok {
			violation = errors.New(errors.ERR_UNKNOWN, "entry %x references missing cluster", txid[:8])
			return true
		}
		found := false
		for _, member := range cluster.Members {
			if member == txid {
				found = true
				break
			}
		}
		if !found {
			violation = errors.New(errors.ERR_UNKNOWN, "cluster %x does not contain member %x", cluster.ClusterID[:8], txid[:8])
			return true
		}

		return false
	})

	if violation != nil {
		return violation
	}

	if sizeTotal != m.totalMemory {
		return errors.New(errors.ERR_UNKNOWN, "sum of entry sizes %d != total_memory_usage %d", sizeTotal, m.totalMemory)
	}

	return nil
}
