//go:build !db
// +build !db

package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gochain/gochain/pkg/block"
)

// Storage is a map-backed store used when the binary is built without the
// 'db' tag (no BadgerDB dependency). It satisfies the same StorageInterface
// as the BadgerDB-backed Storage in storage.go, so the CLI and tests work
// identically either way. The whole map is flushed to a single JSON file
// under DataDir on every write, which is enough for a teaching node's CLI
// to see state across invocations without pulling in a real database.
type Storage struct {
	mu     sync.RWMutex
	kv     map[string][]byte
	config *StorageConfig
	path   string
}

type StorageConfig struct {
	DataDir string
	DBType  string
}

func DefaultStorageConfig() *StorageConfig {
	return &StorageConfig{DataDir: "./data", DBType: "memory"}
}

// WithDataDir returns a copy of config pointed at dataDir.
func (c *StorageConfig) WithDataDir(dataDir string) *StorageConfig {
	cp := *c
	cp.DataDir = dataDir
	return &cp
}

func NewStorage(config *StorageConfig) (*Storage, error) {
	if config == nil {
		config = DefaultStorageConfig()
	}
	if config.DataDir == "" {
		return nil, fmt.Errorf("failed to create data directory: data dir cannot be empty")
	}
	if err := os.MkdirAll(config.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &Storage{
		kv:     make(map[string][]byte),
		config: config,
		path:   filepath.Join(config.DataDir, "state.json"),
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("reading state file %s: %w", s.path, err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &s.kv); err != nil {
			return nil, fmt.Errorf("decoding state file %s: %w", s.path, err)
		}
	}
	return s, nil
}

// flush persists the whole map. Callers must hold s.mu.
func (s *Storage) flush() error {
	data, err := json.Marshal(s.kv)
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	return os.WriteFile(s.path, data, 0o644)
}

func (s *Storage) StoreBlock(b *block.Block) error {
	if b == nil {
		return fmt.Errorf("cannot store nil block")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal block: %w", err)
	}

	hash := b.CalculateHash()
	s.kv[fmt.Sprintf("block:%x", hash)] = data
	s.kv[fmt.Sprintf("height:%d", b.Header.Height)] = hash
	s.kv["latest_height"] = []byte(fmt.Sprintf("%d", b.Header.Height))
	return s.flush()
}

func (s *Storage) GetBlock(hash []byte) (*block.Block, error) {
	if len(hash) == 0 {
		return nil, fmt.Errorf("invalid hash: cannot be nil or empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.kv[fmt.Sprintf("block:%x", hash)]
	if !ok {
		return nil, fmt.Errorf("block not found")
	}
	var b block.Block
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to unmarshal block: %w", err)
	}
	return &b, nil
}

func (s *Storage) GetBlockByHeight(height uint64) (*block.Block, error) {
	s.mu.RLock()
	hash, ok := s.kv[fmt.Sprintf("height:%d", height)]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("block at height %d not found", height)
	}
	return s.GetBlock(hash)
}

func (s *Storage) GetLatestHeight() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.kv["latest_height"]
	if !ok {
		return 0, nil
	}
	var height uint64
	if _, err := fmt.Sscanf(string(data), "%d", &height); err != nil {
		return 0, fmt.Errorf("failed to parse height: %w", err)
	}
	return height, nil
}

func (s *Storage) StoreTransaction(tx *block.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}
	s.kv[fmt.Sprintf("tx:%x", tx.Hash)] = data
	return s.flush()
}

func (s *Storage) GetTransaction(hash []byte) (*block.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.kv[fmt.Sprintf("tx:%x", hash)]
	if !ok {
		return nil, fmt.Errorf("transaction not found")
	}
	var tx block.Transaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}
	return &tx, nil
}

type ChainState struct {
	BestBlockHash []byte    `json:"best_block_hash"`
	Height        uint64    `json:"height"`
	Difficulty    uint64    `json:"difficulty"`
	LastUpdate    time.Time `json:"last_update"`
}

func (s *Storage) StoreChainState(state *ChainState) error {
	if state == nil {
		return fmt.Errorf("cannot store nil chain state")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal chain state: %w", err)
	}
	s.kv["chain_state"] = data
	return s.flush()
}

func (s *Storage) GetChainState() (*ChainState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.kv["chain_state"]
	if !ok {
		return &ChainState{BestBlockHash: []byte{}, Height: 0, Difficulty: 1, LastUpdate: time.Now()}, nil
	}
	var state ChainState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chain state: %w", err)
	}
	return &state, nil
}

// Write stores an arbitrary key/value pair, used by pkg/chain to persist
// the chain snapshot and by pkg/wallet to persist encrypted wallet blobs.
func (s *Storage) Write(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("invalid key: cannot be nil or empty")
	}
	if value == nil {
		return fmt.Errorf("invalid value: cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	s.kv[string(key)] = cp
	return s.flush()
}

// Read retrieves the value stored under key.
func (s *Storage) Read(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("invalid key: cannot be nil or empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.kv[string(key)]
	if !ok {
		return nil, fmt.Errorf("key not found")
	}
	return v, nil
}

// Delete removes key, if present.
func (s *Storage) Delete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("invalid key: cannot be nil or empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.kv, string(key))
	return s.flush()
}

// Has reports whether key is present.
func (s *Storage) Has(key []byte) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("invalid key: cannot be nil or empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.kv[string(key)]
	return ok, nil
}

func (s *Storage) Close() error   { return nil }
func (s *Storage) Compact() error { return nil }

func (s *Storage) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]interface{}{
		"db_type":    s.config.DBType,
		"total_keys": len(s.kv),
		"data_dir":   s.config.DataDir,
	}
}

func (s *Storage) String() string {
	stats := s.GetStats()
	return fmt.Sprintf("Storage{Type: %s, Keys: %v, DataDir: %s}",
		stats["db_type"], stats["total_keys"], stats["data_dir"])
}
