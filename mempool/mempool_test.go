package mempool

import (
	"testing"

	"github.com/libsv/go-bt/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreledger/hybridcore/model"
)

const testAddr = "1ApLMk225o7S9FvKwpNChB7CX8cknQT9Hy"

func makeTx(t *testing.T, satoshis uint64) *model.Tx {
	t.Helper()
	tx := bt.NewTx()
	require.NoError(t, tx.AddP2PKHOutputFromAddress(testAddr, satoshis))
	return tx
}

// feeFor returns a fee that lands tx exactly in the requested tier.
func feeFor(tx *model.Tx, rate uint64) uint64 {
	return model.SizeInBytes(tx) * rate
}

func TestPriorityFromFeeRate(t *testing.T) {
	tests := []struct {
		feeRate float64
		want    Priority
	}{
		{150, Urgent},
		{100, Urgent},
		{99.9, High},
		{50, High},
		{49, Normal},
		{10, Normal},
		{9.5, Low},
		{1, Low},
		{0.9, Minimal},
		{0, Minimal},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, PriorityFromFeeRate(tt.feeRate), "fee rate %v", tt.feeRate)
	}
}

func TestSubmitAndGet(t *testing.T) {
	m := New(nil, nil)

	tx := makeTx(t, 1000)
	entry, err := m.Submit(tx, feeFor(tx, 100), nil)
	require.NoError(t, err)
	assert.Equal(t, Urgent, entry.Priority)

	got, ok := m.Get(model.TxID(tx))
	require.True(t, ok)
	assert.Equal(t, entry.TxID, got.TxID)
	assert.Equal(t, 1, m.Count())

	_, err = m.Submit(tx, feeFor(tx, 100), nil)
	require.Error(t, err, "duplicate submission must be rejected")

	require.NoError(t, m.CheckConsistency())
}

func TestDependencyGraphSymmetry(t *testing.T) {
	m := New(nil, nil)

	parent := makeTx(t, 1000)
	child := makeTx(t, 2000)

	parentEntry, err := m.Submit(parent, feeFor(parent, 10), nil)
	require.NoError(t, err)

	childEntry, err := m.Submit(child, feeFor(child, 10), []model.Hash{parentEntry.TxID})
	require.NoError(t, err)

	_, hasDep := childEntry.Dependencies[parentEntry.TxID]
	assert.True(t, hasDep)
	_, hasDependent := parentEntry.Dependents[childEntry.TxID]
	assert.True(t, hasDependent)

	require.NoError(t, m.CheckConsistency())

	// Removing the parent severs both sides of the edge.
	m.Remove(parentEntry.TxID)
	got, ok := m.Get(childEntry.TxID)
	require.True(t, ok)
	assert.Empty(t, got.Dependencies)
	require.NoError(t, m.CheckConsistency())
}

func TestClusterMergeOnSharedDependency(t *testing.T) {
	m := New(nil, nil)

	a := makeTx(t, 1000)
	b := makeTx(t, 2000)

	aEntry, err := m.Submit(a, feeFor(a, 100), nil)
	require.NoError(t, err)
	bEntry, err := m.Submit(b, feeFor(b, 1), nil)
	require.NoError(t, err)

	// a and b start in distinct single-member clusters.
	assert.NotEqual(t, aEntry.ClusterID, bEntry.ClusterID)

	// c depends on both, forcing a merge.
	c := makeTx(t, 3000)
	cEntry, err := m.Submit(c, feeFor(c, 50), []model.Hash{aEntry.TxID, bEntry.TxID})
	require.NoError(t, err)

	aAfter, _ := m.Get(aEntry.TxID)
	bAfter, _ := m.Get(bEntry.TxID)
	assert.Equal(t, aAfter.ClusterID, bAfter.ClusterID)
	assert.Equal(t, aAfter.ClusterID, cEntry.ClusterID)

	require.NoError(t, m.CheckConsistency())
}

func TestGetTemplateHonorsPriorityAndDependencies(t *testing.T) {
	m := New(nil, nil)

	urgent := makeTx(t, 1000)
	urgentEntry, err := m.Submit(urgent, feeFor(urgent, 200), nil)
	require.NoError(t, err)

	low := makeTx(t, 2000)
	lowEntry, err := m.Submit(low, feeFor(low, 2), nil)
	require.NoError(t, err)

	// A high-fee child of the low-priority parent: its tier is walked
	// before the parent's, so it is skipped outright (no partial defer,
	// spec §4.4 step 3) even though its own fee-rate is URGENT.
	child := makeTx(t, 3000)
	childEntry, err := m.Submit(child, feeFor(child, 150), []model.Hash{lowEntry.TxID})
	require.NoError(t, err)

	template := m.GetTemplate(1_000_000)
	require.Len(t, template, 2)

	assert.Equal(t, urgentEntry.TxID, template[0].TxID, "urgent parentless tx selected first")
	assert.Equal(t, lowEntry.TxID, template[1].TxID)
	for _, e := range template {
		assert.NotEqual(t, childEntry.TxID, e.TxID)
	}
}

func TestGetTemplateRespectsSizeBudget(t *testing.T) {
	m := New(nil, nil)

	var totalSize uint64
	for i := uint64(0); i < 10; i++ {
		tx := makeTx(t, 1000+i)
		_, err := m.Submit(tx, feeFor(tx, 100), nil)
		require.NoError(t, err)
		totalSize += model.SizeInBytes(tx)
	}

	// A budget of roughly half the pool admits only what fits.
	template := m.GetTemplate(totalSize / 2)
	var used uint64
	for _, e := range template {
		used += e.Size
	}
	assert.LessOrEqual(t, used, totalSize/2)
	assert.Less(t, len(template), 10)
}

func TestReconcileBlockRemovesConfirmed(t *testing.T) {
	m := New(nil, nil)

	tx1 := makeTx(t, 1000)
	tx2 := makeTx(t, 2000)
	e1, err := m.Submit(tx1, feeFor(tx1, 100), nil)
	require.NoError(t, err)
	_, err = m.Submit(tx2, feeFor(tx2, 100), nil)
	require.NoError(t, err)

	confirmed := m.ReconcileBlock([]model.Hash{e1.TxID})
	assert.Equal(t, 1, confirmed)
	assert.Equal(t, 1, m.Count())

	_, ok := m.Get(e1.TxID)
	assert.False(t, ok)

	// Confirmed fee-rates feed the estimator.
	estimates := m.FeeEstimates()
	assert.Greater(t, estimates[Urgent].FeeRate, 0.0)

	// A relayed copy of the confirmed transaction is turned away by the
	// mined filter.
	_, err = m.Submit(tx1, feeFor(tx1, 100), nil)
	require.Error(t, err)

	require.NoError(t, m.CheckConsistency())
}

func TestExpireOld(t *testing.T) {
	now := int64(1_700_000_000)
	clock := func() int64 { return now }
	m := New(nil, clock)

	tx := makeTx(t, 1000)
	_, err := m.Submit(tx, feeFor(tx, 10), nil)
	require.NoError(t, err)

	// Just under 24h: nothing expires.
	now += int64(ExpiryAge.Seconds()) - 1
	assert.Equal(t, 0, m.ExpireOld())

	// Past 24h: the entry goes.
	now += 2
	assert.Equal(t, 1, m.ExpireOld())
	assert.Equal(t, 0, m.Count())
}

func TestFeeEstimatorConfidenceGrowsWithSamples(t *testing.T) {
	f := NewFeeEstimator()

	for i := 0; i < 50; i++ {
		f.Observe(Normal, 20)
	}

	snap := f.Snapshot()
	assert.InDelta(t, 20.0, snap[Normal].FeeRate, 0.001)
	assert.InDelta(t, 0.25, snap[Normal].Confidence, 0.001)
	assert.Equal(t, 6, snap[Normal].ConfirmationTarget)

	// Untouched tiers report zero-rate, zero-confidence estimates.
	assert.Zero(t, snap[Urgent].FeeRate)
	assert.Zero(t, snap[Urgent].Confidence)
}

func TestShardedTxMapBasics(t *testing.T) {
	s := newShardedTxMap(64)

	e := &AdvancedTxEntry{}
	var h model.Hash
	h[0] = 0xab

	s.Put(h, e)
	assert.Equal(t, 1, s.Count())

	got, ok := s.Get(h)
	require.True(t, ok)
	assert.Same(t, e, got)

	// Re-putting the same key must not double-count.
	s.Put(h, e)
	assert.Equal(t, 1, s.Count())

	s.Delete(h)
	assert.Equal(t, 0, s.Count())
	_, ok = s.Get(h)
	assert.False(t, ok)
}
