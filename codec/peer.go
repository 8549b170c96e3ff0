// Peer capability handshake and compression-channel reliability tracking
// (spec §4.5). Reliability/ratio bookkeeping is backed by
// jellydator/ttlcache/v3, the teacher's dependency of choice for
// short-lived per-key state (services/blockvalidation/Server.go's
// processSubtreeNotify cache), generalized here from a dedup cache to a
// per-peer rolling-stats cache that self-expires stale peers.
package codec

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Capability is the 32-bit mask peers announce in their handshake (spec
// §4.5: "peers announce a 32-bit capability mask {COMPRESSION,
// DECOMPRESSION, ADAPTIVE, STATS} and version").
type Capability uint32

const (
	CapCompression Capability = 1 << iota
	CapDecompression
	CapAdaptive
	CapStats
)

// Handshake is what a peer announces on connect.
type Handshake struct {
	PeerID       string
	Version      uint32
	Capabilities Capability
}

func (h Handshake) Supports(c Capability) bool { return h.Capabilities&c != 0 }

// peerStats is the rolling compression performance tracked per peer.
type peerStats struct {
	avgRatio    float64
	reliability float64 // fraction of recent attempts that decoded successfully
	speed       float64 // normalized throughput score in [0,1]
	samples     int
}

const peerStatsTTL = 1 * time.Hour

// PeerRegistry tracks capability handshakes and rolling compression stats
// per peer, used for compressed-request peer selection (spec §4.5:
// "score = (1 - avg_ratio) * reliability * speed").
type PeerRegistry struct {
	handshakes map[string]Handshake
	stats      *ttlcache.Cache[string, *peerStats]
}

// NewPeerRegistry constructs an empty registry. Start() must be called
// once to run the ttlcache's background eviction loop (mirrors the
// teacher's `go server.processSubtreeNotify.Start()` pattern).
func NewPeerRegistry() *PeerRegistry {
	return &PeerRegistry{
		handshakes: make(map[string]Handshake),
		stats:      ttlcache.New[string, *peerStats](ttlcache.WithTTL[string, *peerStats](peerStatsTTL)),
	}
}

// Start runs the stats cache's background expiry loop; call in its own
// goroutine, same as the teacher's ttlcache usage.
func (r *PeerRegistry) Start() { r.stats.Start() }

// Stop halts the background expiry loop.
func (r *PeerRegistry) Stop() { r.stats.Stop() }

// RecordHandshake stores a peer's announced capabilities and version.
// Only peers advertising CapCompression receive compressed sends (spec
// §4.5).
func (r *PeerRegistry) RecordHandshake(h Handshake) {
	r.handshakes[h.PeerID] = h
}

// AcceptsCompressed reports whether peerID announced CapCompression.
func (r *PeerRegistry) AcceptsCompressed(peerID string) bool {
	h, ok := r.handshakes[peerID]
	return ok && h.Supports(CapCompression)
}

func (r *PeerRegistry) statsFor(peerID string) *peerStats {
	item := r.stats.Get(peerID)
	if item == nil {
		s := &peerStats{reliability: 1, speed: 1}
		r.stats.Set(peerID, s, peerStatsTTL)
		return s
	}
	return item.Value()
}

// RecordSuccess folds a successful decode's compression ratio and
// throughput into peerID's rolling stats, and folds a 1 into its rolling
// reliability, so reliability recovers gradually rather than being reset.
func (r *PeerRegistry) RecordSuccess(peerID string, ratio, speed float64) {
	s := r.statsFor(peerID)
	s.samples++
	s.avgRatio = rollingAverage(s.avgRatio, ratio, s.samples)
	s.speed = rollingAverage(s.speed, speed, s.samples)
	s.reliability = rollingAverage(s.reliability, 1, s.samples)
	r.stats.Set(peerID, s, peerStatsTTL)
}

// RecordFailure folds a 0 into peerID's rolling reliability, lowering its
// Score. It does not mark the channel unreliable: the peer still accepts
// compressed sends and BestPeer can still select it.
func (r *PeerRegistry) RecordFailure(peerID string) {
	s := r.statsFor(peerID)
	s.samples++
	s.reliability = rollingAverage(s.reliability, 0, s.samples)
	r.stats.Set(peerID, s, peerStatsTTL)
}

// Score returns the peer-selection score from spec §4.5, or 0 for an
// unknown peer.
func (r *PeerRegistry) Score(peerID string) float64 {
	item := r.stats.Get(peerID)
	if item == nil {
		return 0
	}
	s := item.Value()
	return (1 - s.avgRatio) * s.reliability * s.speed
}

// BestPeer returns the highest-scoring peer among candidates that
// accepts compressed sends, or "" if none qualify.
func (r *PeerRegistry) BestPeer(candidates []string) string {
	best := ""
	bestScore := -1.0
	for _, peerID := range candidates {
		if !r.AcceptsCompressed(peerID) {
			continue
		}
		if s := r.Score(peerID); s > bestScore {
			bestScore = s
			best = peerID
		}
	}
	return best
}

func rollingAverage(current, sample float64, n int) float64 {
	if n <= 1 {
		return sample
	}
	const window = 20.0
	weight := 1.0 / window
	if float64(n) < window {
		weight = 1.0 / float64(n)
	}
	return current + weight*(sample-current)
}
