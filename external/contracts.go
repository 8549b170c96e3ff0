// Package external declares the collaborator interfaces the core
// consensus engine depends on (spec §6: "Interfaces consumed by the
// core"), and ships deterministic reference implementations suitable for
// tests and for a standalone node that hasn't wired a real PoW miner or
// HSM-backed signer yet. Every core package takes these as constructor
// arguments rather than reaching for a concrete implementation, the same
// dependency-injection shape the teacher uses throughout
// services/blockassembly (store/validator/subtreeStore all passed in).
package external

import (
	"time"

	"github.com/coreledger/hybridcore/model"
)

// PoWOracle checks proof-of-work against a difficulty target.
type PoWOracle interface {
	CheckPoW(blockHash model.Hash, bits model.NBit) bool
}

// HashAlgorithm identifies a digest scheme by name, resolved from the
// HashRegistry rather than hardcoded, since spec §6 requires selecting
// among KECCAK/SHA3/SHAKE (and post-quantum signature schemes are
// referenced by algorithm id the same way).
type HashAlgorithm string

const (
	HashSHA256  HashAlgorithm = "SHA256"
	HashSHA3    HashAlgorithm = "SHA3-256"
	HashKeccak  HashAlgorithm = "KECCAK-256"
	HashShake256 HashAlgorithm = "SHAKE-256"
)

// SignatureAlgorithm identifies a classical or post-quantum signature
// scheme by the algorithm ids named in spec's glossary.
type SignatureAlgorithm string

const (
	SigSecp256k1  SignatureAlgorithm = "SECP256K1"
	SigEd25519    SignatureAlgorithm = "ED25519"
	SigDilithium2 SignatureAlgorithm = "DILITHIUM2"
	SigDilithium3 SignatureAlgorithm = "DILITHIUM3"
	SigDilithium5 SignatureAlgorithm = "DILITHIUM5"
	SigFalcon512  SignatureAlgorithm = "FALCON512"
	SigFalcon1024 SignatureAlgorithm = "FALCON1024"
	SigSPHINCSPlus SignatureAlgorithm = "SPHINCS+"
	SigKyber      SignatureAlgorithm = "KYBER"
)

// HashRegistry resolves an algorithm name to a hashing function, so
// callers never import a concrete hash package directly.
type HashRegistry interface {
	Hash(alg HashAlgorithm, data []byte) ([]byte, error)
	Supports(alg HashAlgorithm) bool
}

// SignatureVerifier checks classical and hybrid classical+post-quantum
// signatures. A hybrid signature is the concatenation of a classical and
// a post-quantum signature over the same message (spec §6), valid only if
// both component signatures verify.
type SignatureVerifier interface {
	Verify(alg SignatureAlgorithm, sig, pubKey, message []byte) bool
	VerifyHybrid(classicalAlg, pqAlg SignatureAlgorithm, hybridSig, classicalPubKey, pqPubKey, message []byte) bool
}

// MerkleComputer computes a Merkle root over an ordered list of transaction ids.
type MerkleComputer interface {
	MerkleRoot(txIDs []model.Hash) model.Hash
}

// TxCodec serializes and deserializes transactions for wire transport and
// for the compressed-block codec's diff_data reconstruction.
type TxCodec interface {
	Serialize(tx *model.Tx) ([]byte, error)
	Deserialize(b []byte) (*model.Tx, error)
}

// KVStore is the atomic single-key put/get persistence contract (spec §6:
// "out of scope" as a concrete store, modeled here only as the interface
// boundary so the registry/consensus/governance packages can declare what
// they'd need from one without this module owning a storage engine).
type KVStore interface {
	Put(key string, value []byte) error
	Get(key string) ([]byte, bool, error)
	Delete(key string) error
}

// WallClock returns monotonic seconds, injected so every time-dependent
// component (activation windows, checkpoint finality, proposal expiry) is
// deterministically testable.
type WallClock interface {
	NowUnix() int64
}

// SystemClock is the production WallClock, backed by time.Now.
type SystemClock struct{}

func (SystemClock) NowUnix() int64 { return time.Now().Unix() }

// FixedClock is a test WallClock that only advances when told to,
// matching the teacher's preference for injected fakes over time.Sleep in
// tests (seen in the retry package's backoff tests).
type FixedClock struct {
	unix int64
}

func NewFixedClock(start int64) *FixedClock { return &FixedClock{unix: start} }

func (c *FixedClock) NowUnix() int64 { return c.unix }

func (c *FixedClock) Advance(seconds int64) { c.unix += seconds }
