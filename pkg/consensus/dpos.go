package consensus

import (
	"sort"
	"sync"

	"github.com/gochain/gochain/pkg/block"
)

// DPoSConfig configures the active delegate set size.
type DPoSConfig struct {
	DelegateCount int
}

// DefaultDPoSConfig elects the top 21 delegates by vote weight.
func DefaultDPoSConfig() *DPoSConfig {
	return &DPoSConfig{DelegateCount: 21}
}

// DelegatedProofOfStake accumulates vote weight per delegate and rotates
// block production round-robin across the top DelegateCount delegates.
// It does not guard against an address voting more than once for the same
// delegate: the reference design leaves double-voting unresolved, so
// accumulation here is simple addition, matching that known limitation.
type DelegatedProofOfStake struct {
	mu       sync.RWMutex
	config   *DPoSConfig
	votes    map[string]uint64
	rotation []string
	nextIdx  int
}

func NewDelegatedProofOfStake(config *DPoSConfig) *DelegatedProofOfStake {
	if config == nil {
		config = DefaultDPoSConfig()
	}
	return &DelegatedProofOfStake{
		config: config,
		votes:  make(map[string]uint64),
	}
}

func (d *DelegatedProofOfStake) Name() string { return "delegated-proof-of-stake" }

// Vote adds weight to a delegate's accumulated vote total.
func (d *DelegatedProofOfStake) Vote(voter, delegate string, weight uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.votes[delegate] += weight
	d.recomputeRotation()
}

func (d *DelegatedProofOfStake) recomputeRotation() {
	type pair struct {
		addr   string
		weight uint64
	}
	pairs := make([]pair, 0, len(d.votes))
	for addr, w := range d.votes {
		pairs = append(pairs, pair{addr, w})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].weight != pairs[j].weight {
			return pairs[i].weight > pairs[j].weight
		}
		return pairs[i].addr < pairs[j].addr
	})

	n := d.config.DelegateCount
	if n > len(pairs) {
		n = len(pairs)
	}
	rotation := make([]string, n)
	for i := 0; i < n; i++ {
		rotation[i] = pairs[i].addr
	}
	d.rotation = rotation
	if d.nextIdx >= len(rotation) {
		d.nextIdx = 0
	}
}

// GetNextDelegate returns the delegate whose turn it is to produce the next
// block and advances the round-robin pointer.
func (d *DelegatedProofOfStake) GetNextDelegate() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.rotation) == 0 {
		return "", false
	}
	delegate := d.rotation[d.nextIdx]
	d.nextIdx = (d.nextIdx + 1) % len(d.rotation)
	return delegate, true
}

// ValidateBlock accepts the block if producer is one of the currently
// elected top-DelegateCount delegates.
func (d *DelegatedProofOfStake) ValidateBlock(b *block.Block, producer string) bool {
	if b == nil {
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, addr := range d.rotation {
		if addr == producer {
			return true
		}
	}
	return false
}
