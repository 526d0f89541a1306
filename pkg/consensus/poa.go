package consensus

import (
	"sort"
	"sync"
	"time"

	"github.com/gochain/gochain/pkg/block"
)

// PoAConfig configures the fixed inter-block interval authorities must
// respect.
type PoAConfig struct {
	BlockTime time.Duration
}

// DefaultPoAConfig requires 15 seconds between blocks.
func DefaultPoAConfig() *PoAConfig {
	return &PoAConfig{BlockTime: 15 * time.Second}
}

// ProofOfAuthority rotates block production round-robin across a fixed,
// sorted set of authority addresses, gated by a wall-clock inter-block
// interval. ValidateBlock only checks producer membership in the authority
// set, not that producer was the specific slot's expected authority: the
// reference design leaves slot-binding unenforced (see DelegatedProofOfStake
// for the analogous double-vote non-guard).
type ProofOfAuthority struct {
	mu            sync.Mutex
	config        *PoAConfig
	authorities   []string
	index         int
	lastBlockTime time.Time
}

func NewProofOfAuthority(config *PoAConfig, authorities []string) *ProofOfAuthority {
	if config == nil {
		config = DefaultPoAConfig()
	}
	sorted := append([]string(nil), authorities...)
	sort.Strings(sorted)
	return &ProofOfAuthority{config: config, authorities: sorted}
}

func (p *ProofOfAuthority) Name() string { return "proof-of-authority" }

// GetNextAuthority returns the authority whose turn it is to produce a
// block, or ("", false) if BlockTime has not yet elapsed since the last
// selection.
func (p *ProofOfAuthority) GetNextAuthority(now time.Time) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.authorities) == 0 {
		return "", false
	}
	if !p.lastBlockTime.IsZero() && now.Sub(p.lastBlockTime) < p.config.BlockTime {
		return "", false
	}

	authority := p.authorities[p.index%len(p.authorities)]
	p.index++
	p.lastBlockTime = now
	return authority, true
}

// ValidateBlock accepts b iff producer is a registered authority and the
// block's stored hash matches its recomputed hash.
func (p *ProofOfAuthority) ValidateBlock(b *block.Block, producer string) bool {
	if b == nil {
		return false
	}

	p.mu.Lock()
	isAuthority := false
	for _, a := range p.authorities {
		if a == producer {
			isAuthority = true
			break
		}
	}
	p.mu.Unlock()

	if !isAuthority {
		return false
	}
	return bytesEqual(b.Hash, b.CalculateHash())
}
