// Package consensus defines the pluggable block-production and
// block-validation rule set. A Blockchain is constructed with exactly one
// Engine; switching engines mid-chain is not supported.
package consensus

import (
	"github.com/gochain/gochain/pkg/block"
)

// ChainReader exposes the read-only chain state a consensus Engine needs
// without creating an import cycle between pkg/chain and pkg/consensus.
type ChainReader interface {
	GetHeight() uint64
	GetBlockByHeight(height uint64) *block.Block
	GetBlock(hash []byte) *block.Block
}

// Engine is implemented by every consensus family. ValidateBlock is the
// single gate a block must pass before a Blockchain will append it;
// producer identifies who is claiming to have produced the block (a miner
// address, a validator address, an authority identity, and so on,
// depending on the family).
type Engine interface {
	Name() string
	ValidateBlock(b *block.Block, producer string) bool
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

