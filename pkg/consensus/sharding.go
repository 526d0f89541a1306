package consensus

import (
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/gochain/gochain/pkg/block"
)

// ShardingConfig configures the number of parallel shards.
type ShardingConfig struct {
	ShardCount int
}

// DefaultShardingConfig splits validators and transactions across 4 shards.
func DefaultShardingConfig() *ShardingConfig {
	return &ShardingConfig{ShardCount: 4}
}

// ShardingConsensus partitions validators and transactions across
// ShardCount independent proof-of-stake domains, plus one global registry
// used for cross-shard traffic and to authorize any producer regardless of
// shard assignment.
type ShardingConsensus struct {
	mu               sync.RWMutex
	config           *ShardingConfig
	shards           []*ProofOfStake
	global           *ProofOfStake
	validatorToShard map[string]int
}

func NewShardingConsensus(config *ShardingConfig, posConfig *PoSConfig) *ShardingConsensus {
	if config == nil {
		config = DefaultShardingConfig()
	}
	shards := make([]*ProofOfStake, config.ShardCount)
	for i := range shards {
		shards[i] = NewProofOfStake(posConfig)
	}
	return &ShardingConsensus{
		config:           config,
		shards:           shards,
		global:           NewProofOfStake(posConfig),
		validatorToShard: make(map[string]int),
	}
}

func (s *ShardingConsensus) Name() string { return "sharding" }

// AssignValidator registers addr with stake in both the global registry and
// a shard-local registry. When shardID is nil the shard with the fewest
// validators is chosen. Returns the assigned shard id.
func (s *ShardingConsensus) AssignValidator(addr string, stake uint64, shardID *int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var target int
	if shardID != nil {
		if *shardID < 0 || *shardID >= len(s.shards) {
			return 0, fmt.Errorf("shard id %d out of range [0,%d)", *shardID, len(s.shards))
		}
		target = *shardID
	} else {
		target = s.leastLoadedShard()
	}

	if err := s.shards[target].RegisterStake(addr, stake); err != nil {
		return 0, fmt.Errorf("shard-local registration failed: %w", err)
	}
	if err := s.global.RegisterStake(addr, stake); err != nil {
		return 0, fmt.Errorf("global registration failed: %w", err)
	}
	s.validatorToShard[addr] = target
	return target, nil
}

// leastLoadedShard returns the index of the shard with the fewest
// registered validators. Called with the lock held.
func (s *ShardingConsensus) leastLoadedShard() int {
	best := 0
	bestCount := -1
	for i, shard := range s.shards {
		count := shard.ValidatorCount()
		if bestCount == -1 || count < bestCount {
			best = i
			bestCount = count
		}
	}
	return best
}

// GetShardForTransaction hashes tx's sender (falling back to its first
// output's recipient, then shard 0) modulo ShardCount.
func (s *ShardingConsensus) GetShardForTransaction(tx *block.Transaction, sender string) int {
	if sender != "" {
		return s.shardFor(sender)
	}
	if len(tx.Outputs) > 0 {
		return s.shardFor(tx.Outputs[0].Owner)
	}
	return 0
}

func (s *ShardingConsensus) shardFor(address string) int {
	h := sha256.Sum256([]byte(address))
	var n uint32
	for _, b := range h[:4] {
		n = n<<8 | uint32(b)
	}
	return int(n % uint32(len(s.shards)))
}

// ValidatorShard returns the shard addr was assigned to, and whether it is
// registered at all.
func (s *ShardingConsensus) ValidatorShard(addr string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	shardID, ok := s.validatorToShard[addr]
	return shardID, ok
}

// ValidateBlock requires producer to be registered in the global registry.
// It satisfies consensus.Engine; shard-scoped validation is exposed
// separately via ValidateShardBlock for callers that track shard
// assignment (e.g. a shard-aware Blockchain).
func (s *ShardingConsensus) ValidateBlock(b *block.Block, producer string) bool {
	if b == nil {
		return false
	}
	return s.global.ValidateBlock(b, producer)
}

// ValidateShardBlock requires producer to be registered and, if shardID is
// given, that it matches producer's assigned shard and the shard-local
// registry validates the block; with a nil shardID it falls back to global
// validation, same as ValidateBlock.
func (s *ShardingConsensus) ValidateShardBlock(b *block.Block, producer string, shardID *int) bool {
	if b == nil {
		return false
	}

	if shardID == nil {
		return s.global.ValidateBlock(b, producer)
	}

	assigned, ok := s.ValidatorShard(producer)
	if !ok || assigned != *shardID {
		return false
	}
	if *shardID < 0 || *shardID >= len(s.shards) {
		return false
	}
	return s.shards[*shardID].ValidateBlock(b, producer)
}
