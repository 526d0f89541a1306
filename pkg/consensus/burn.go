package consensus

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/gochain/gochain/pkg/block"
)

// PoBConfig configures ProofOfBurn's minimum burn and decay rate.
type PoBConfig struct {
	MinBurnAmount   float64
	BurnDecayFactor float64 // applied per elapsed day before a new burn is added
}

// DefaultPoBConfig matches the reference node: a 10-unit minimum burn and a
// 0.9 daily decay factor on previously burned amounts.
func DefaultPoBConfig() *PoBConfig {
	return &PoBConfig{MinBurnAmount: 10, BurnDecayFactor: 0.9}
}

type burnRecord struct {
	amount     float64
	lastUpdate time.Time
}

// ProofOfBurn selects producers weighted by provably-destroyed coins. Burned
// amounts decay over time so that burning must be repeated to retain
// influence; BurnCoins applies that decay before adding the new amount.
type ProofOfBurn struct {
	mu      sync.RWMutex
	config  *PoBConfig
	records map[string]*burnRecord
}

func NewProofOfBurn(config *PoBConfig) *ProofOfBurn {
	if config == nil {
		config = DefaultPoBConfig()
	}
	return &ProofOfBurn{config: config, records: make(map[string]*burnRecord)}
}

func (p *ProofOfBurn) Name() string { return "proof-of-burn" }

// BurnCoins decays addr's existing burn record to now, then adds amount.
// amount below MinBurnAmount is rejected without mutating the record.
func (p *ProofOfBurn) BurnCoins(addr string, amount float64, now time.Time) error {
	if amount < p.config.MinBurnAmount {
		return fmt.Errorf("burn amount %.2f below minimum %.2f", amount, p.config.MinBurnAmount)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.records[addr]
	if !ok {
		rec = &burnRecord{lastUpdate: now}
		p.records[addr] = rec
	}
	p.decay(rec, now)
	rec.amount += amount
	rec.lastUpdate = now
	return nil
}

// decay scales rec.amount by BurnDecayFactor raised to the number of days,
// fractional days included, elapsed since rec.lastUpdate. Called with the
// lock held.
func (p *ProofOfBurn) decay(rec *burnRecord, now time.Time) {
	days := now.Sub(rec.lastUpdate).Hours() / 24
	if days <= 0 {
		return
	}
	rec.amount *= math.Pow(p.config.BurnDecayFactor, days)
}

// Burned returns addr's currently recorded (already-decayed-as-of-last-call)
// burn amount.
func (p *ProofOfBurn) Burned(addr string) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if rec, ok := p.records[addr]; ok {
		return rec.amount
	}
	return 0
}

// GetNextBurner selects a producer weighted by decayed burn amount, the same
// stake-weighted-random-draw shape as ProofOfStake.GetNextValidator.
func (p *ProofOfBurn) GetNextBurner(seedAddress string, now time.Time) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.records) == 0 {
		return "", fmt.Errorf("no addresses have burned coins")
	}

	var total float64
	addrs := make([]string, 0, len(p.records))
	for addr, rec := range p.records {
		p.decay(rec, now)
		rec.lastUpdate = now
		total += rec.amount
		addrs = append(addrs, addr)
	}
	if total <= 0 {
		return "", fmt.Errorf("no burned balance to select from")
	}

	seed := fmt.Sprintf("%s%d", seedAddress, now.Unix())
	r := rand.New(rand.NewSource(int64(hashSeed(seed))))
	pick := r.Float64() * total

	var cumulative float64
	for _, addr := range addrs {
		cumulative += p.records[addr].amount
		if pick < cumulative {
			return addr, nil
		}
	}
	return addrs[len(addrs)-1], nil
}

// ValidateBlock accepts b iff producer has burned at least MinBurnAmount and
// b's stored hash matches its recomputed hash.
func (p *ProofOfBurn) ValidateBlock(b *block.Block, producer string) bool {
	if b == nil {
		return false
	}
	if p.Burned(producer) < p.config.MinBurnAmount {
		return false
	}
	return bytesEqual(b.Hash, b.CalculateHash())
}
