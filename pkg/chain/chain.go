// Package chain orchestrates the node's single source of truth: the block
// list, the UTXO set it produces, the pending-transaction mempool, and the
// pluggable consensus and contract engines that gate what gets appended to
// it. Every exported method that reads or changes the chain holds one mutex
// for its full duration, so the package never has to reason about partial
// updates to any of the pieces it coordinates. UTXOSet and Mempool take no
// lock: they hand out the shared stores, which guard themselves.
package chain

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gochain/gochain/pkg/block"
	"github.com/gochain/gochain/pkg/consensus"
	"github.com/gochain/gochain/pkg/contracts"
	"github.com/gochain/gochain/pkg/logger"
	"github.com/gochain/gochain/pkg/mempool"
	"github.com/gochain/gochain/pkg/storage"
	"github.com/gochain/gochain/pkg/utxo"
)

const (
	// GenesisAddress receives the bootstrap coinbase reward minted by
	// buildGenesisBlock. It is not a real wallet address: no public key
	// derives to it, so no transaction can pass the signature check needed
	// to spend its outputs.
	GenesisAddress = "GENESIS"
	// GenesisReward is the amount bootstrapped into GenesisAddress.
	GenesisReward = 1_000_000
	// DefaultMiningReward is paid to a block's producer via its coinbase
	// transaction when Config.MiningReward is unset.
	DefaultMiningReward = 100
)

// miner is implemented by consensus engines that search for a valid block
// themselves, such as ProofOfWork's nonce search. MinePendingTransactions
// prefers this path when the active engine supports it.
type miner interface {
	MineBlock(b *block.Block, stop <-chan struct{}) bool
}

// producerMiner is the producer-aware analogue of miner, implemented by
// engines whose mining depends on which address is producing the block
// (HybridConsensus gates its proof-of-work search on the producer's
// proof-of-stake standing).
type producerMiner interface {
	MineBlock(b *block.Block, producer string, stop <-chan struct{}) bool
}

// Config holds the tunables that are node policy rather than consensus
// policy: the block reward and the bootstrap allocation.
type Config struct {
	MiningReward   uint64
	GenesisAddress string
	GenesisReward  uint64
}

// DefaultConfig returns the reference node's reward and genesis settings.
func DefaultConfig() *Config {
	return &Config{
		MiningReward:   DefaultMiningReward,
		GenesisAddress: GenesisAddress,
		GenesisReward:  GenesisReward,
	}
}

// Blockchain is the node's ledger: an append-only, height-ordered list of
// blocks plus the UTXO set and mempool derived from it, gated by one
// pluggable consensus engine and one contract engine.
type Blockchain struct {
	mu sync.Mutex

	blocks []*block.Block
	byHash map[string]*block.Block

	utxo      *utxo.Store
	mempool   *mempool.Mempool
	consensus consensus.Engine
	contracts contracts.Engine

	storage storage.StorageInterface
	config  *Config
	log     *logger.Logger
}

// New creates a Blockchain seeded with a genesis block and starts its UTXO
// set from that block's coinbase output. contractEngine may be nil if the
// node does not need to execute contract transactions; storageBackend may
// be nil to run purely in memory.
func New(consensusEngine consensus.Engine, contractEngine contracts.Engine, storageBackend storage.StorageInterface, cfg *Config) (*Blockchain, error) {
	if consensusEngine == nil {
		return nil, fmt.Errorf("consensus engine is required")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}

	bc := &Blockchain{
		byHash:    make(map[string]*block.Block),
		utxo:      utxo.NewStore(),
		mempool:   mempool.New(),
		consensus: consensusEngine,
		contracts: contractEngine,
		storage:   storageBackend,
		config:    cfg,
		log:       logger.NewComponentLogger("chain"),
	}

	genesis := bc.buildGenesisBlock()
	if err := bc.appendBlock(genesis); err != nil {
		return nil, fmt.Errorf("applying genesis block: %w", err)
	}

	return bc, nil
}

// buildGenesisBlock constructs height 0 directly, bypassing the consensus
// engine: there is no prior block for any engine to validate a producer or
// proof-of-work target against, so genesis is simply trusted by
// construction, matching every reference node's bootstrap.
func (bc *Blockchain) buildGenesisBlock() *block.Block {
	coinbase := block.NewCoinbase(bc.config.GenesisAddress, bc.config.GenesisReward)

	genesis := block.NewBlock(nil, 0, 0)
	genesis.Header.Producer = bc.config.GenesisAddress
	genesis.AddTransaction(coinbase)
	genesis.RecomputeMerkleRoot()
	genesis.Finalize()
	return genesis
}

// appendBlock applies b to the UTXO set, records it in the block list and
// index, and persists it if a storage backend is configured. Callers must
// have already established b is valid for the current chain state.
func (bc *Blockchain) appendBlock(b *block.Block) error {
	if err := bc.utxo.ApplyBlock(b); err != nil {
		return fmt.Errorf("applying block to UTXO set: %w", err)
	}

	bc.blocks = append(bc.blocks, b)
	bc.byHash[b.HexHash()] = b

	if bc.storage != nil {
		if err := bc.storage.StoreBlock(b); err != nil {
			return fmt.Errorf("persisting block: %w", err)
		}
		if err := bc.storage.StoreChainState(&storage.ChainState{
			BestBlockHash: b.Hash,
			Height:        b.Header.Height,
			Difficulty:    b.Header.Difficulty,
			LastUpdate:    b.Header.Timestamp,
		}); err != nil {
			return fmt.Errorf("persisting chain state: %w", err)
		}
	}
	return nil
}

// Height returns the height of the current tip.
func (bc *Blockchain) Height() uint64 {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.tip().Header.Height
}

func (bc *Blockchain) tip() *block.Block {
	return bc.blocks[len(bc.blocks)-1]
}

// GetHeight implements consensus.ChainReader.
func (bc *Blockchain) GetHeight() uint64 { return bc.Height() }

// GetBlockByHeight implements consensus.ChainReader.
func (bc *Blockchain) GetBlockByHeight(height uint64) *block.Block {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if height >= uint64(len(bc.blocks)) {
		return nil
	}
	return bc.blocks[height]
}

// GetBlock implements consensus.ChainReader.
func (bc *Blockchain) GetBlock(hash []byte) *block.Block {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.byHash[fmt.Sprintf("%x", hash)]
}

// Blocks returns a copy of the block list, tip last.
func (bc *Blockchain) Blocks() []*block.Block {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	out := make([]*block.Block, len(bc.blocks))
	copy(out, bc.blocks)
	return out
}

// UTXOSet returns the blockchain's UTXO store, for balance lookups and
// wallet integration. The store guards its own access.
func (bc *Blockchain) UTXOSet() *utxo.Store { return bc.utxo }

// Mempool returns the blockchain's pending-transaction pool.
func (bc *Blockchain) Mempool() *mempool.Mempool { return bc.mempool }

// AddTransaction validates tx against the current UTXO set and, if valid,
// queues it in the mempool. It never touches the block list.
func (bc *Blockchain) AddTransaction(tx *block.Transaction) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if err := bc.utxo.Validate(tx); err != nil {
		return fmt.Errorf("transaction rejected: %w", err)
	}
	if err := bc.mempool.Add(tx); err != nil {
		return fmt.Errorf("transaction rejected: %w", err)
	}
	return nil
}

// MinePendingTransactions assembles every transaction currently in the
// mempool plus a coinbase reward into a new block, drives it through the
// active consensus engine, and — only if every step succeeds — applies it
// to the UTXO set and appends it to the chain. Any failure at any step
// aborts the whole attempt and leaves the mempool untouched, so a failed
// mining attempt never silently drops pending transactions.
func (bc *Blockchain) MinePendingTransactions(producer string, stop <-chan struct{}) (*block.Block, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	tip := bc.tip()
	pending := bc.mempool.All()

	candidate := block.NewBlock(tip.Hash, tip.Header.Height+1, bc.difficulty())
	candidate.Header.Producer = producer
	candidate.AddTransaction(block.NewCoinbase(producer, bc.config.MiningReward))
	for _, tx := range pending {
		candidate.AddTransaction(tx)
	}

	if err := bc.seal(candidate, producer, stop); err != nil {
		return nil, err
	}
	candidate.RecomputeMerkleRoot()

	if err := bc.validateCandidate(candidate, tip); err != nil {
		return nil, fmt.Errorf("mined block failed validation: %w", err)
	}

	if err := bc.executeContracts(candidate); err != nil {
		return nil, fmt.Errorf("executing contract transactions: %w", err)
	}

	if err := bc.appendBlock(candidate); err != nil {
		return nil, err
	}
	bc.mempool.RemoveAll(pending)

	bc.log.Info("mined block height=%d producer=%s transactions=%d", candidate.Header.Height, producer, len(candidate.Transactions))
	return candidate, nil
}

// difficulty reports the PoW difficulty to stamp into a new block's header
// for engines that expose one; non-PoW engines carry it through unused.
func (bc *Blockchain) difficulty() uint64 {
	if pow, ok := bc.consensus.(*consensus.ProofOfWork); ok {
		return pow.Difficulty()
	}
	return 0
}

// seal finalizes candidate's hash, searching for a valid nonce first when
// the active engine supports mining, and otherwise finalizing immediately
// and leaving acceptance entirely to ValidateBlock in validateCandidate.
func (bc *Blockchain) seal(candidate *block.Block, producer string, stop <-chan struct{}) error {
	switch m := bc.consensus.(type) {
	case producerMiner:
		if !m.MineBlock(candidate, producer, stop) {
			return fmt.Errorf("mining aborted or rejected by consensus")
		}
		return nil
	case miner:
		if !m.MineBlock(candidate, stop) {
			return fmt.Errorf("mining aborted before a valid nonce was found")
		}
		return nil
	default:
		candidate.Finalize()
		return nil
	}
}

// validateCandidate re-checks candidate's structural validity, its linkage
// to tip, and the active consensus engine's acceptance of its producer,
// independent of however seal produced it.
func (bc *Blockchain) validateCandidate(candidate *block.Block, tip *block.Block) error {
	if err := candidate.IsValid(); err != nil {
		return err
	}
	if !bytesEqual(candidate.Header.PrevBlockHash, tip.Hash) {
		return fmt.Errorf("candidate does not extend the current tip")
	}
	if candidate.Header.Height != tip.Header.Height+1 {
		return fmt.Errorf("candidate height %d does not follow tip height %d", candidate.Header.Height, tip.Header.Height)
	}
	if !bc.consensus.ValidateBlock(candidate, candidate.Header.Producer) {
		return fmt.Errorf("consensus engine %s rejected the block", bc.consensus.Name())
	}

	seen := make(map[string]bool, len(candidate.Transactions))
	for _, tx := range candidate.Transactions {
		if tx.Type == block.TxCoinbase {
			continue
		}
		for _, in := range tx.Inputs {
			k := fmt.Sprintf("%x:%d", in.PrevTxHash, in.PrevTxIndex)
			if seen[k] {
				return fmt.Errorf("double spend within block: %s", k)
			}
			seen[k] = true
		}
		if err := bc.utxo.Validate(tx); err != nil {
			return fmt.Errorf("transaction %s: %w", tx.HexHash(), err)
		}
	}
	return nil
}

// executeContracts runs Deploy/Execute for every contract transaction in
// candidate, in order, via the active contract engine, storing each result
// on candidate.ContractResults keyed by the transaction's hash. A
// transaction with Type == TxContract but no configured engine is rejected
// outright rather than silently skipped.
func (bc *Blockchain) executeContracts(candidate *block.Block) error {
	for i, tx := range candidate.Transactions {
		if tx.Type != block.TxContract {
			continue
		}
		if bc.contracts == nil {
			return fmt.Errorf("transaction %s requires a contract engine but none is configured", tx.HexHash())
		}
		result, err := bc.runContractTx(tx)
		if err != nil {
			return fmt.Errorf("transaction %s: %w", tx.HexHash(), err)
		}
		candidate.SetContractResult(tx, i, result)
	}
	return nil
}

// contractCall is the contract_data payload format a contract transaction
// carries: either a deploy (op="deploy", code+params) or an execute
// (op="execute", contract_id+method+params), always naming the sender the
// registry should attribute the call to.
type contractCall struct {
	Op         string                 `json:"op"`
	Code       []byte                 `json:"code,omitempty"`
	ContractID string                 `json:"contract_id,omitempty"`
	Method     string                 `json:"method,omitempty"`
	Params     map[string]interface{} `json:"params,omitempty"`
	Sender     string                 `json:"sender"`
}

// runContractTx decodes tx's contract_data and dispatches it to the active
// contract engine, returning the result to record in the block's
// contract_results. A deploy's result carries the new contract_id, so a
// later transaction in the same or a subsequent block can reference it.
func (bc *Blockchain) runContractTx(tx *block.Transaction) (map[string]interface{}, error) {
	var call contractCall
	if err := json.Unmarshal(tx.ContractData, &call); err != nil {
		return nil, fmt.Errorf("decoding contract_data: %w", err)
	}

	switch call.Op {
	case "deploy":
		contractID, err := bc.contracts.Deploy(call.Code, call.Sender, call.Params)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"contract_id": contractID}, nil
	case "execute":
		return bc.contracts.Execute(call.ContractID, call.Method, call.Params, call.Sender)
	default:
		return nil, fmt.Errorf("unknown contract op %q", call.Op)
	}
}

// IsChainValid replays the whole chain from genesis against a scratch UTXO
// set: every block's hash, header linkage, and Merkle root and every
// transaction's hash must check out,
// and every non-coinbase transaction must be valid against the UTXO state
// left by the blocks before it.
func (bc *Blockchain) IsChainValid() error {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return isValidChain(bc.blocks)
}

func isValidChain(blocks []*block.Block) error {
	if len(blocks) == 0 {
		return fmt.Errorf("chain has no blocks")
	}

	scratch := utxo.NewStore()
	for i, b := range blocks {
		if err := b.IsValid(); err != nil {
			return fmt.Errorf("block %d: %w", i, err)
		}
		if i == 0 {
			if b.Header.Height != 0 {
				return fmt.Errorf("genesis block has nonzero height %d", b.Header.Height)
			}
		} else {
			prev := blocks[i-1]
			if !bytesEqual(b.Header.PrevBlockHash, prev.Hash) {
				return fmt.Errorf("block %d does not link to block %d", i, i-1)
			}
			if b.Header.Height != prev.Header.Height+1 {
				return fmt.Errorf("block %d height %d does not follow block %d height %d", i, b.Header.Height, i-1, prev.Header.Height)
			}
		}
		if !bytesEqual(b.Hash, b.CalculateHash()) {
			return fmt.Errorf("block %d hash does not match its contents", i)
		}

		for _, tx := range b.Transactions {
			if !bytesEqual(tx.Hash, tx.CalculateHash()) {
				return fmt.Errorf("block %d transaction %s hash does not match its contents", i, tx.HexHash())
			}
			if tx.Type != block.TxCoinbase {
				if err := scratch.Validate(tx); err != nil {
					return fmt.Errorf("block %d transaction %s: %w", i, tx.HexHash(), err)
				}
			}
		}
		if err := scratch.ApplyBlock(b); err != nil {
			return fmt.Errorf("block %d: %w", i, err)
		}
	}
	return nil
}

// ReplaceChain accepts candidate as the new chain iff it is strictly longer
// than the current one and passes full validation end to end. On success
// the blockchain's block list, index, and UTXO set are all atomically
// swapped to the candidate's; the mempool is left as is, since any
// transaction already mined into the new chain will simply fail the next
// mining attempt's UTXO check, and anything still pending remains eligible.
func (bc *Blockchain) ReplaceChain(candidate []*block.Block) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if len(candidate) <= len(bc.blocks) {
		return fmt.Errorf("candidate chain length %d does not exceed current length %d", len(candidate), len(bc.blocks))
	}
	if err := isValidChain(candidate); err != nil {
		return fmt.Errorf("candidate chain is invalid: %w", err)
	}

	newUTXO := utxo.NewStore()
	for _, b := range candidate {
		if err := newUTXO.ApplyBlock(b); err != nil {
			return fmt.Errorf("rebuilding UTXO set: %w", err)
		}
	}

	newByHash := make(map[string]*block.Block, len(candidate))
	for _, b := range candidate {
		newByHash[b.HexHash()] = b
	}

	oldLen := len(bc.blocks)
	bc.blocks = candidate
	bc.byHash = newByHash
	bc.utxo = newUTXO

	if bc.storage != nil {
		tip := candidate[len(candidate)-1]
		for _, b := range candidate {
			if err := bc.storage.StoreBlock(b); err != nil {
				return fmt.Errorf("persisting replaced chain: %w", err)
			}
		}
		if err := bc.storage.StoreChainState(&storage.ChainState{
			BestBlockHash: tip.Hash,
			Height:        tip.Header.Height,
			Difficulty:    tip.Header.Difficulty,
			LastUpdate:    tip.Header.Timestamp,
		}); err != nil {
			return fmt.Errorf("persisting replaced chain state: %w", err)
		}
	}

	bc.log.Info("replaced chain with candidate of length %d (was %d)", len(candidate), oldLen)
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
