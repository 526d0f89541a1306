package consensus

import (
	"sync"

	"github.com/gochain/gochain/pkg/block"
)

// HybridConsensusConfig configures the reduced PoW difficulty mined under
// the hybrid scheme, plus the relative weights of each half retained for
// future weighted-threshold variants (the current rule is a strict AND, not
// a weighted blend: see spec Design Notes).
type HybridConsensusConfig struct {
	PoWDifficulty uint64
	PoWWeight     float64
	PoSWeight     float64
}

// DefaultHybridConsensusConfig mines at a reduced difficulty of 2 and keeps
// the reference node's 0.3/0.7 weight split for callers that want to read
// it back, even though ValidateBlock itself requires both halves to pass.
func DefaultHybridConsensusConfig() *HybridConsensusConfig {
	return &HybridConsensusConfig{PoWDifficulty: 2, PoWWeight: 0.3, PoSWeight: 0.7}
}

// HybridConsensus requires a block to satisfy both a (reduced-difficulty)
// proof-of-work predicate and proof-of-stake validator registration. It
// composes ProofOfWork and ProofOfStake rather than reimplementing either.
type HybridConsensus struct {
	mu     sync.RWMutex
	config *HybridConsensusConfig
	pow    *ProofOfWork
	pos    *ProofOfStake
}

// NewHybridConsensus creates a HybridConsensus engine. A nil config uses
// DefaultHybridConsensusConfig; posConfig is passed through to the embedded
// ProofOfStake (nil uses DefaultPoSConfig).
func NewHybridConsensus(config *HybridConsensusConfig, posConfig *PoSConfig) *HybridConsensus {
	if config == nil {
		config = DefaultHybridConsensusConfig()
	}
	return &HybridConsensus{
		config: config,
		pow:    NewProofOfWork(&PoWConfig{Difficulty: config.PoWDifficulty}),
		pos:    NewProofOfStake(posConfig),
	}
}

func (h *HybridConsensus) Name() string { return "hybrid-pow-pos" }

// RegisterStake delegates to the embedded ProofOfStake registry.
func (h *HybridConsensus) RegisterStake(address string, amount uint64) error {
	return h.pos.RegisterStake(address, amount)
}

// MineBlock first requires producer to already be a registered,
// sufficiently staked validator, then mines b at the hybrid scheme's
// reduced difficulty. It returns false without mining at all if the PoS
// half fails, since no amount of nonce search can satisfy it.
func (h *HybridConsensus) MineBlock(b *block.Block, producer string, stop <-chan struct{}) bool {
	if h.pos.Stake(producer) < h.pos.config.MinStake {
		return false
	}
	return h.pow.MineBlock(b, stop)
}

// ValidateBlock accepts b iff it satisfies the reduced-difficulty
// proof-of-work predicate AND producer is a registered, sufficiently
// staked validator. Both conditions are checked unconditionally so callers
// always see the PoW predicate evaluated (needed for diagnostics by
// implementations that inspect both halves independently).
func (h *HybridConsensus) ValidateBlock(b *block.Block, producer string) bool {
	if b == nil {
		return false
	}
	powOK := h.pow.ValidateBlock(b, producer)
	posOK := h.pos.ValidateBlock(b, producer)
	return powOK && posOK
}

// Weights returns the configured PoW/PoS weights, retained for future
// weighted-threshold consensus variants but not consulted by ValidateBlock.
func (h *HybridConsensus) Weights() (pow, pos float64) {
	return h.config.PoWWeight, h.config.PoSWeight
}
