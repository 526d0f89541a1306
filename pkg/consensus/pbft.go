package consensus

import (
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/gochain/gochain/pkg/block"
)

// PBFTConfig configures the minimum validator-set size PBFT requires to
// tolerate one faulty validator per three honest ones.
type PBFTConfig struct {
	MinValidators int
}

// DefaultPBFTConfig requires the smallest validator set that can tolerate a
// single Byzantine validator (n=4, f=1).
func DefaultPBFTConfig() *PBFTConfig {
	return &PBFTConfig{MinValidators: 4}
}

// PracticalByzantineFaultTolerance implements the classic three-phase
// pre-prepare/prepare/commit protocol. The primary for a view is
// sorted(validators)[view % n]; a block is accepted once 2f+1 distinct
// validators have committed its hash, where f = (n-1)/3.
type PracticalByzantineFaultTolerance struct {
	mu         sync.RWMutex
	config     *PBFTConfig
	validators []string
	view       uint64
	prepared   map[string]map[string]bool // block hash hex -> validator -> seen
	committed  map[string]map[string]bool
}

func NewPracticalByzantineFaultTolerance(config *PBFTConfig) *PracticalByzantineFaultTolerance {
	if config == nil {
		config = DefaultPBFTConfig()
	}
	return &PracticalByzantineFaultTolerance{
		config:    config,
		prepared:  make(map[string]map[string]bool),
		committed: make(map[string]map[string]bool),
	}
}

func (p *PracticalByzantineFaultTolerance) Name() string { return "pbft" }

// RegisterValidator adds addr to the validator set used to compute the
// primary and the 2f+1 quorum size.
func (p *PracticalByzantineFaultTolerance) RegisterValidator(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, v := range p.validators {
		if v == addr {
			return
		}
	}
	p.validators = append(p.validators, addr)
}

func (p *PracticalByzantineFaultTolerance) n() int { return len(p.validators) }

func (p *PracticalByzantineFaultTolerance) f() int { return (p.n() - 1) / 3 }

// Primary returns the validator chosen to propose blocks in the current view.
func (p *PracticalByzantineFaultTolerance) Primary() (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.primaryLocked()
}

func (p *PracticalByzantineFaultTolerance) primaryLocked() (string, error) {
	if p.n() == 0 {
		return "", fmt.Errorf("no registered validators")
	}
	sorted := append([]string(nil), p.validators...)
	sort.Strings(sorted)
	return sorted[p.view%uint64(len(sorted))], nil
}

// PrePrepare accepts a proposal from v for block b, provided v is the
// current primary and the validator set meets MinValidators.
func (p *PracticalByzantineFaultTolerance) PrePrepare(b *block.Block, v string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.n() < p.config.MinValidators {
		return fmt.Errorf("validator set size %d below minimum %d", p.n(), p.config.MinValidators)
	}
	primary, err := p.primaryLocked()
	if err != nil {
		return err
	}
	if v != primary {
		return fmt.Errorf("%s is not the primary for view %d", v, p.view)
	}
	return nil
}

// Prepare records a prepare vote from validator v for block hash h.
func (p *PracticalByzantineFaultTolerance) Prepare(h string, v string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isValidator(v) {
		return fmt.Errorf("%s is not a registered validator", v)
	}
	if p.prepared[h] == nil {
		p.prepared[h] = make(map[string]bool)
	}
	p.prepared[h][v] = true
	return nil
}

// Commit records a commit vote from v for h, which only counts once h has
// already reached the prepared quorum.
func (p *PracticalByzantineFaultTolerance) Commit(h string, v string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isPreparedLocked(h) {
		return fmt.Errorf("block %s is not prepared", h)
	}
	if p.committed[h] == nil {
		p.committed[h] = make(map[string]bool)
	}
	p.committed[h][v] = true
	return nil
}

func (p *PracticalByzantineFaultTolerance) isValidator(v string) bool {
	for _, addr := range p.validators {
		if addr == v {
			return true
		}
	}
	return false
}

func (p *PracticalByzantineFaultTolerance) isPreparedLocked(h string) bool {
	return len(p.prepared[h]) >= 2*p.f()+1
}

// IsPrepared reports whether block hash h has reached the 2f+1 prepare
// quorum.
func (p *PracticalByzantineFaultTolerance) IsPrepared(h string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.isPreparedLocked(h)
}

// IsCommitted reports whether block hash h has reached the 2f+1 commit
// quorum.
func (p *PracticalByzantineFaultTolerance) IsCommitted(h string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.committed[h]) >= 2*p.f()+1
}

// ChangeView advances to the next view, recomputes the primary, and drops
// every pending prepare/commit decision from the old view.
func (p *PracticalByzantineFaultTolerance) ChangeView() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.view++
	p.prepared = make(map[string]map[string]bool)
	p.committed = make(map[string]map[string]bool)
}

func (p *PracticalByzantineFaultTolerance) View() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.view
}

// ValidateBlock accepts b iff its hash has reached the commit quorum.
// producer is unused: PBFT's guarantee comes from the commit quorum, not
// from trusting whichever validator assembled the block.
func (p *PracticalByzantineFaultTolerance) ValidateBlock(b *block.Block, producer string) bool {
	if b == nil {
		return false
	}
	return p.IsCommitted(hex.EncodeToString(b.CalculateHash()))
}
