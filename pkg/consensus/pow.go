package consensus

import (
	"encoding/hex"
	"strings"
	"sync"

	"github.com/gochain/gochain/pkg/block"
)

// PoWConfig configures ProofOfWork's leading-zero-hex-character difficulty
// target.
type PoWConfig struct {
	Difficulty uint64 // number of required leading hex zero characters
}

// DefaultPoWConfig returns a modest difficulty suitable for a teaching node.
func DefaultPoWConfig() *PoWConfig {
	return &PoWConfig{Difficulty: 4}
}

// ProofOfWork requires a block's hex-encoded hash to begin with Difficulty
// zero characters, found by varying the header nonce.
type ProofOfWork struct {
	mu     sync.RWMutex
	config *PoWConfig
}

// NewProofOfWork creates a ProofOfWork engine. A nil config uses
// DefaultPoWConfig.
func NewProofOfWork(config *PoWConfig) *ProofOfWork {
	if config == nil {
		config = DefaultPoWConfig()
	}
	return &ProofOfWork{config: config}
}

func (p *ProofOfWork) Name() string { return "proof-of-work" }

// Difficulty returns the current required leading-zero-hex-char count.
func (p *ProofOfWork) Difficulty() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.config.Difficulty
}

// SetDifficulty updates the required leading-zero-hex-char count.
func (p *ProofOfWork) SetDifficulty(d uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.config.Difficulty = d
}

// ValidateBlock checks that the block's hash satisfies the difficulty
// target. producer is unused by PoW: the right to produce a block is
// earned by finding a valid nonce, not by identity.
func (p *ProofOfWork) ValidateBlock(b *block.Block, producer string) bool {
	if b == nil {
		return false
	}
	return p.meetsTarget(b.CalculateHash())
}

func (p *ProofOfWork) meetsTarget(hash []byte) bool {
	prefix := strings.Repeat("0", int(p.Difficulty()))
	return strings.HasPrefix(hex.EncodeToString(hash), prefix)
}

// MineBlock searches for a nonce that satisfies the difficulty target,
// stopping early if stop is closed. It returns false if stop fired before
// a valid nonce was found.
func (p *ProofOfWork) MineBlock(b *block.Block, stop <-chan struct{}) bool {
	for nonce := uint64(0); ; nonce++ {
		select {
		case <-stop:
			return false
		default:
		}

		b.Header.Nonce = nonce
		if p.meetsTarget(b.CalculateHash()) {
			b.Finalize()
			return true
		}
	}
}
