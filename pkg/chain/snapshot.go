package chain

import (
	"encoding/json"
	"fmt"

	"github.com/gochain/gochain/pkg/block"
	"github.com/gochain/gochain/pkg/consensus"
	"github.com/gochain/gochain/pkg/contracts"
	"github.com/gochain/gochain/pkg/logger"
	"github.com/gochain/gochain/pkg/mempool"
	"github.com/gochain/gochain/pkg/storage"
	"github.com/gochain/gochain/pkg/utxo"
)

// SnapshotKey is the storage key the persisted chain file is written under.
// It is a single blob, not the per-block keys storage.StorageInterface's
// StoreBlock/GetBlock use internally, so Save/Load never touch those.
const SnapshotKey = "chain_snapshot"

// snapshot is the on-disk shape of a node's full state: the chain itself,
// enough consensus and mining configuration to resume producing blocks, the
// mempool a restarted node should keep trying to include, and a UTXO set
// cache alongside it.
type snapshot struct {
	Chain               []*block.Block        `json:"chain"`
	Difficulty          uint64                `json:"difficulty"`
	PendingTransactions []*block.Transaction  `json:"pending_transactions"`
	MiningReward        uint64                `json:"mining_reward"`
	ConsensusType       string                `json:"consensus_type"`
	UTXOSet             map[string]*utxo.UTXO `json:"utxo_set"`
}

// Save writes the node's full state to storageBackend under SnapshotKey.
func (bc *Blockchain) Save(storageBackend storage.StorageInterface) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	snap := snapshot{
		Chain:               bc.blocks,
		Difficulty:          bc.difficulty(),
		PendingTransactions: bc.mempool.All(),
		MiningReward:        bc.config.MiningReward,
		ConsensusType:       bc.consensus.Name(),
		UTXOSet:             bc.utxo.Snapshot(),
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding chain snapshot: %w", err)
	}
	if err := storageBackend.Write([]byte(SnapshotKey), data); err != nil {
		return fmt.Errorf("writing chain snapshot: %w", err)
	}
	return nil
}

// Load reconstructs a Blockchain from storageBackend. If no snapshot is
// present yet, it falls back to New and starts a fresh genesis chain. The
// UTXO set is always rebuilt by replaying the persisted chain through
// ApplyBlock rather than trusting the cached utxo_set field: the chain is
// the source of truth, and a divergence between the two would mean the
// cache is stale, not that the chain is wrong.
func Load(consensusEngine consensus.Engine, contractEngine contracts.Engine, storageBackend storage.StorageInterface, cfg *Config) (*Blockchain, error) {
	if consensusEngine == nil {
		return nil, fmt.Errorf("consensus engine is required")
	}
	if storageBackend == nil {
		return nil, fmt.Errorf("a storage backend is required to load a chain")
	}

	data, err := storageBackend.Read([]byte(SnapshotKey))
	if err != nil || len(data) == 0 {
		return New(consensusEngine, contractEngine, storageBackend, cfg)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decoding chain snapshot: %w", err)
	}
	if err := isValidChain(snap.Chain); err != nil {
		return nil, fmt.Errorf("persisted chain failed validation: %w", err)
	}

	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.MiningReward = snap.MiningReward

	bc := &Blockchain{
		byHash:    make(map[string]*block.Block, len(snap.Chain)),
		utxo:      utxo.NewStore(),
		mempool:   mempool.New(),
		consensus: consensusEngine,
		contracts: contractEngine,
		storage:   storageBackend,
		config:    cfg,
		log:       logger.NewComponentLogger("chain"),
	}

	for _, b := range snap.Chain {
		if err := bc.utxo.ApplyBlock(b); err != nil {
			return nil, fmt.Errorf("rebuilding UTXO set: %w", err)
		}
		bc.blocks = append(bc.blocks, b)
		bc.byHash[b.HexHash()] = b
	}

	for _, tx := range snap.PendingTransactions {
		_ = bc.mempool.Add(tx)
	}

	bc.log.Info("loaded chain height=%d consensus=%s", bc.tip().Header.Height, snap.ConsensusType)
	return bc, nil
}
