package storage

import (
	"github.com/gochain/gochain/pkg/block"
)

// StorageInterface defines the common interface for all storage implementations
type StorageInterface interface {
	// Block operations
	StoreBlock(b *block.Block) error
	GetBlock(hash []byte) (*block.Block, error)
	
	// Chain state operations
	StoreChainState(state *ChainState) error
	GetChainState() (*ChainState, error)
	
	// Key-value operations
	Write(key []byte, value []byte) error
	Read(key []byte) ([]byte, error)
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	
	// Utility operations
	Close() error
}

// StorageType represents the type of storage backend
type StorageType string

const (
	StorageTypeFile StorageType = "file"
)

// StorageFactory creates storage instances based on configuration
type StorageFactory struct{}

// NewStorageFactory creates a new storage factory
func NewStorageFactory() *StorageFactory {
	return &StorageFactory{}
}

// CreateStorage creates a storage instance rooted at dataDir. The underlying
// backend is chosen at compile time by the 'db' build tag: BadgerDB when
// present, otherwise a map that is flushed to state.json under dataDir on
// every write.
func (f *StorageFactory) CreateStorage(storageType StorageType, dataDir string) (StorageInterface, error) {
	config := DefaultStorageConfig().WithDataDir(dataDir)
	return NewStorage(config)
} 