// Package engine is the top-level node core: it owns one instance of
// every subsystem (Parameter Registry, CTOR activation, block-size
// governor, advanced mempool, compressed-block codec state, hybrid
// consensus, governance) and drives the per-block control flow from spec
// §2: PoW -> checkpoint (when due) -> CTOR -> size -> codec accounting ->
// mempool reconciliation -> consensus state update -> governance tick.
// One owning object per subsystem, instantiated here, replaces the
// original design's global mutable state (spec §9).
package engine

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/coreledger/hybridcore/blocksize"
	"github.com/coreledger/hybridcore/codec"
	"github.com/coreledger/hybridcore/consensus"
	"github.com/coreledger/hybridcore/ctor"
	"github.com/coreledger/hybridcore/errors"
	"github.com/coreledger/hybridcore/eventbus"
	"github.com/coreledger/hybridcore/external"
	"github.com/coreledger/hybridcore/governance"
	"github.com/coreledger/hybridcore/mempool"
	"github.com/coreledger/hybridcore/model"
	"github.com/coreledger/hybridcore/registry"
	"github.com/coreledger/hybridcore/ulogger"
)

// Options carries the bootstrap values the engine needs before the
// Parameter Registry has anything in it. HybridActivationHeight,
// CTORStartTime and CTORTimeoutTime also seed governed parameter
// defaults; the other fields are not registered as parameters.
type Options struct {
	HybridActivationHeight uint32
	CTORStartTime          int64
	CTORTimeoutTime        int64
	StartingBlockSizeLimit uint64
	SignatureAlgorithm     external.SignatureAlgorithm
	MaintenanceInterval    time.Duration
}

// DefaultOptions mirror the consensus parameters from spec §4.2-§4.6.
func DefaultOptions() Options {
	return Options{
		HybridActivationHeight: 0,
		CTORStartTime:          0,
		CTORTimeoutTime:        1<<62 - 1,
		StartingBlockSizeLimit: blocksize.Base,
		SignatureAlgorithm:     external.SigEd25519,
		MaintenanceInterval:    time.Minute,
	}
}

// Engine is the assembled node core.
type Engine struct {
	logger ulogger.Logger
	bus    *eventbus.Bus
	opts   Options

	params      *registry.Registry
	versions    *governance.ProtocolVersionFlags
	activation  *ctor.Activation
	governor    *blocksize.Governor
	pool        *mempool.Mempool
	consensus   *consensus.Engine
	governance  *governance.Engine
	peers       *codec.PeerRegistry
	misbehavior *consensus.PeerMisbehavior

	txCodec external.TxCodec
	merkle  external.MerkleComputer
	clock   external.WallClock

	// mu guards the chain-tip bookkeeping only; each subsystem carries
	// its own lock (spec §5). Block validation is single-threaded per
	// chain tip, so this mutex is uncontended in practice.
	mu         sync.Mutex
	heightByID map[model.Hash]uint32
	tipHeight  uint32

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New wires every subsystem together. The external collaborators
// (PoW oracle, signature verification, merkle, tx codec, clock) are
// injected per spec §6.
func New(logger ulogger.Logger, bus *eventbus.Bus, opts Options,
	pow external.PoWOracle, sig external.SignatureVerifier,
	merkle external.MerkleComputer, txCodec external.TxCodec,
	clock external.WallClock) (*Engine, error) {

	params := registry.New(bus)
	if err := registerDefaultSchemas(params, opts); err != nil {
		return nil, err
	}

	cons := consensus.New(opts.HybridActivationHeight, pow, sig, clock, bus)
	versions := governance.NewProtocolVersionFlags()

	e := &Engine{
		logger:      logger,
		bus:         bus,
		opts:        opts,
		params:      params,
		versions:    versions,
		activation:  ctor.NewActivation(opts.CTORStartTime, opts.CTORTimeoutTime),
		governor:    blocksize.New(opts.StartingBlockSizeLimit, bus),
		pool:        mempool.New(bus, clock.NowUnix),
		consensus:   cons,
		governance:  governance.New(cons, params, versions, bus),
		peers:       codec.NewPeerRegistry(),
		misbehavior: consensus.NewPeerMisbehavior(),
		txCodec:     txCodec,
		merkle:      merkle,
		clock:       clock,
		heightByID:  make(map[model.Hash]uint32),
		stopCh:      make(chan struct{}),
	}

	return e, nil
}

// Start launches the background caches and the maintenance loop
// (mempool expiry, validator reputation cycle), the cooperative
// timed-task layer from spec §5.
func (e *Engine) Start() {
	go e.peers.Start()
	e.misbehavior.Start()

	interval := e.opts.MaintenanceInterval
	if interval <= 0 {
		interval = time.Minute
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-e.stopCh:
				return
			case <-ticker.C:
				e.Maintenance()
			}
		}
	}()
}

// Stop halts the background loops. Safe to call once.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.peers.Stop()
	e.misbehavior.Stop()
	e.wg.Wait()
}

// Maintenance runs one periodic maintenance pass.
func (e *Engine) Maintenance() {
	expired := e.pool.ExpireOld()
	e.consensus.MaintenanceCycle()
	if expired > 0 {
		e.logger.Debugf("maintenance expired %d mempool entries", expired)
	}
}

// ValidateAndApply is the block ingest surface from spec §6:
// validate_and_apply(block, prev_index) -> {ok | reject_reason}. It runs
// the full spec §2 pipeline. checkpoint must carry the supermajority
// signatures when height is a checkpoint height past activation; peerID
// identifies the relaying peer for misbehavior accounting ("" for
// locally produced blocks).
func (e *Engine) ValidateAndApply(ctx context.Context, block *model.Block, checkpoint *consensus.CheckpointInfo, peerID string) error {
	if block == nil {
		return errors.NewInvalidArgumentError("block is nil")
	}
	if err := block.Header.Validate(); err != nil {
		return err
	}

	height := block.Height

	// Merkle check before anything else touches state: a wrong root is a
	// malformed block however it arrived.
	if root := block.MerkleRoot(); root != *block.Header.HashMerkleRoot {
		e.penalize(peerID, consensus.MisbehaviorInvalidMerkle)
		return errors.New(errors.ERR_INVALID_MERKLE, "block %s merkle root mismatch", block.Hash())
	}

	// PoW, and the checkpoint signature check when this height is due one
	// (spec §4.6 step 2).
	checkpointDue := height >= e.opts.HybridActivationHeight && height%consensus.CheckpointInterval == 0 && height > 0
	if checkpointDue && checkpoint == nil {
		return errors.NewInsufficientSignaturesError("height %d requires a signed checkpoint", height)
	}

	var cpArg *consensus.CheckpointInfo
	if checkpointDue {
		cpArg = checkpoint
	}
	if err := e.consensus.ValidateBlock(block.Header, height, cpArg, e.opts.SignatureAlgorithm); err != nil {
		var coreErr *errors.Error
		if errors.As(err, &coreErr) && coreErr.Code == errors.ERR_INVALID_POW {
			e.penalize(peerID, consensus.MisbehaviorInvalidPoW)
		}
		return err
	}

	// CTOR activation advances on every block; the order check applies
	// once ACTIVE (spec §4.2).
	signal := ctor.VersionSignal(block.Header.Version)
	if err := e.activation.ObserveBlock(ctx, height, int64(block.Header.Timestamp), signal); err != nil {
		return err
	}

	nonCoinbaseIDs := make([]model.Hash, len(block.Transactions))
	for i, tx := range block.Transactions {
		nonCoinbaseIDs[i] = model.TxID(tx)
	}

	if e.activation.Current() == ctor.StateActive {
		allowEither := e.activation.InGracePeriod(height)
		if err := ctor.ValidateOrder(nonCoinbaseIDs, allowEither); err != nil {
			e.penalize(peerID, consensus.MisbehaviorInvalidOrdering)
			return err
		}
	}

	// Size ceiling (spec §4.3).
	if err := e.governor.ValidateSize(block.SizeInBytes); err != nil {
		return err
	}

	// Validation passed; apply state updates in pipeline order.
	preferredVote := e.extractVote(block)
	e.governor.ApplyBlock(block.SizeInBytes, preferredVote)

	e.pool.ReconcileBlock(nonCoinbaseIDs)

	if checkpointDue && checkpoint != nil {
		e.consensus.RecordCheckpoint(checkpoint)
	}
	e.consensus.AdvanceConfirmations(height)

	e.governance.Tick(ctx, height)

	e.mu.Lock()
	e.heightByID[block.Hash()] = height
	if height > e.tipHeight {
		e.tipHeight = height
	}
	e.mu.Unlock()

	if e.bus != nil {
		e.bus.Info("engine", "BLOCK_APPLIED", map[string]interface{}{
			"height": height,
			"hash":   block.Hash().String(),
			"txs":    block.TransactionCount,
		})
	}

	return nil
}

// extractVote pulls the miner's block-size preference out of the
// coinbase, returning 0 (no vote) when absent or out of bounds.
func (e *Engine) extractVote(block *model.Block) uint64 {
	vote, err := model.ExtractMinerVote(block.CoinbaseTx)
	if err != nil || vote == nil || vote.PreferredLimit == 0 {
		return 0
	}
	if blocksize.ValidateVote(vote.PreferredLimit, vote.PreferredLimit) != nil {
		return 0
	}
	return vote.PreferredLimit
}

func (e *Engine) penalize(peerID string, points int) {
	if peerID == "" {
		return
	}
	score := e.misbehavior.Penalize(peerID, points)
	if e.misbehavior.ShouldBan(peerID) {
		e.logger.Warnf("peer %s crossed misbehavior threshold (score %d)", peerID, score)
	}
}

// SubmitTx is the mempool ingest surface (spec §6): submit_tx(tx, fee).
func (e *Engine) SubmitTx(tx *model.Tx, fee uint64, dependencies []model.Hash) error {
	_, err := e.pool.Submit(tx, fee, dependencies)
	return err
}

// GetBlockTemplate selects transactions for a new block up to maxSize
// bytes, applying CTOR if active (spec §4.4: the block builder applies
// CTOR; here the engine is that builder's entry point). The coinbase is
// not included; the miner prepends it.
func (e *Engine) GetBlockTemplate(maxSize uint64) []*model.Tx {
	entries := e.pool.GetTemplate(maxSize)

	if e.activation.Current() == ctor.StateActive {
		ids := make([]model.Hash, len(entries))
		byID := make(map[model.Hash]*mempool.AdvancedTxEntry, len(entries))
		for i, entry := range entries {
			ids[i] = entry.TxID
			byID[entry.TxID] = entry
		}
		sorted := ctor.SortCanonical(ids)
		out := make([]*model.Tx, len(sorted))
		for i, id := range sorted {
			out[i] = byID[id].Tx
		}
		return out
	}

	out := make([]*model.Tx, len(entries))
	for i, entry := range entries {
		out[i] = entry.Tx
	}
	return out
}

// FinalityStatus answers the spec §6 finality query for a known block.
// Unknown blocks report PENDING.
func (e *Engine) FinalityStatus(blockID model.Hash) consensus.FinalityStatus {
	e.mu.Lock()
	height, ok := e.heightByID[blockID]
	e.mu.Unlock()

	if !ok {
		return consensus.FinalityPending
	}
	return e.consensus.FinalityStatusFor(height)
}

// EncodeBlockFor compresses block for peerID, or returns nil wire bytes
// when the peer never advertised COMPRESSION in its handshake (spec
// §4.5: "Only peers advertising COMPRESSION receive compressed sends").
func (e *Engine) EncodeBlockFor(block *model.Block, peerID string) ([]byte, error) {
	if !e.peers.AcceptsCompressed(peerID) {
		return nil, errors.NewInvalidArgumentError("peer %s does not accept compressed blocks", peerID)
	}

	compressed, err := codec.Encode(block, e.pool, e.txCodec)
	if err != nil {
		return nil, err
	}
	codec.ObserveEncode(compressed)

	return compressed.Marshal(), nil
}

// ReceiveCompressedBlock decodes a compressed-block packet against the
// local mempool, recording per-peer reliability either way. A returned
// error means the caller should fall back to a full-block request (spec
// §4.5); it is never propagated into block validation (spec §7).
func (e *Engine) ReceiveCompressedBlock(wire []byte, peerID string, height uint32) (*model.Block, error) {
	compressed, err := codec.Unmarshal(wire)
	if err != nil {
		e.decodeFailed(peerID)
		return nil, err
	}
	if err := compressed.Validate(); err != nil {
		e.decodeFailed(peerID)
		return nil, err
	}

	block, err := codec.Decode(compressed, e.pool, e.txCodec, e.merkle, height)
	if err != nil {
		e.decodeFailed(peerID)
		return nil, err
	}

	e.peers.RecordSuccess(peerID, compressed.CompressionRatio(), 1)
	return block, nil
}

func (e *Engine) decodeFailed(peerID string) {
	codec.ObserveDecodeFailure()
	if peerID != "" {
		e.peers.RecordFailure(peerID)
		e.misbehavior.Penalize(peerID, consensus.MisbehaviorDecodeFailure)
	}
}

// Accessors for the RPC-style surfaces (spec §6). Each subsystem keeps
// its own locking; handing out the pointer is safe.

func (e *Engine) Params() *registry.Registry          { return e.params }
func (e *Engine) Governance() *governance.Engine      { return e.governance }
func (e *Engine) Consensus() *consensus.Engine        { return e.consensus }
func (e *Engine) Mempool() *mempool.Mempool           { return e.pool }
func (e *Engine) BlockSize() *blocksize.Governor      { return e.governor }
func (e *Engine) Peers() *codec.PeerRegistry          { return e.peers }
func (e *Engine) CTORState() string                   { return e.activation.Current() }
func (e *Engine) Versions() *governance.ProtocolVersionFlags { return e.versions }

// TipHeight returns the highest applied block height.
func (e *Engine) TipHeight() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tipHeight
}

// registerDefaultSchemas installs every governance-adjustable parameter
// with its bounds (spec §4.1: "initialization populates defaults").
func registerDefaultSchemas(params *registry.Registry, opts Options) error {
	schemas := []registry.Schema{
		{Name: "blocksize.base", Kind: registry.KindInt, Default: "1000000", Bounds: registry.Bounds{Min: 1, Max: 100_000_000}},
		{Name: "blocksize.hard_ceiling", Kind: registry.KindInt, Default: "100000000", Bounds: registry.Bounds{Min: 1_000_000, Max: 1 << 40}},
		{Name: "blocksize.activation_height", Kind: registry.KindInt, Default: "0", Bounds: registry.Bounds{Min: 0, Max: 1 << 31}},
		{Name: "consensus.hybrid_activation_height", Kind: registry.KindInt, Default: strconv.FormatInt(int64(opts.HybridActivationHeight), 10), Bounds: registry.Bounds{Min: 0, Max: 1 << 31}},
		{Name: "consensus.min_validator_stake", Kind: registry.KindInt, Default: "100000", Bounds: registry.Bounds{Min: 1, Max: 1 << 50}},
		{Name: "consensus.checkpoint_interval", Kind: registry.KindInt, Default: "100", Bounds: registry.Bounds{Min: 1, Max: 100_000}},
		{Name: "governance.min_proposal_stake", Kind: registry.KindInt, Default: "10000", Bounds: registry.Bounds{Min: 1, Max: 1 << 50}},
		{Name: "governance.voting_period_blocks", Kind: registry.KindInt, Default: "2016", Bounds: registry.Bounds{Min: 1, Max: 1 << 31}},
		{Name: "ctor.start_time", Kind: registry.KindInt, Default: strconv.FormatInt(opts.CTORStartTime, 10), Bounds: registry.Bounds{}},
		{Name: "ctor.timeout_time", Kind: registry.KindInt, Default: strconv.FormatInt(opts.CTORTimeoutTime, 10), Bounds: registry.Bounds{}},
	}

	for _, s := range schemas {
		if err := params.RegisterSchema(s); err != nil {
			return err
		}
	}
	return nil
}
