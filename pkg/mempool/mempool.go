// Package mempool holds transactions accepted for inclusion but not yet
// mined into a block. Per-transaction structural validity is enforced on
// entry; double-spends across mempool entries are deliberately not
// prevented here — they are resolved the moment mining applies the pool's
// transactions to the UTXO set in order, per spec.
package mempool

import (
	"fmt"
	"sync"
	"time"

	"github.com/gochain/gochain/pkg/block"
)

// entry wraps a pending transaction with its arrival time, mirroring the
// teacher mempool's practice of tracking insertion order for eviction and
// reporting even though this mempool does not reprioritize by fee.
type entry struct {
	tx      *block.Transaction
	addedAt time.Time
}

// Mempool is an ordered, mutex-guarded queue of pending transactions.
type Mempool struct {
	mu      sync.RWMutex
	order   []string // transaction hash hex, in arrival order
	entries map[string]*entry
}

// New creates an empty mempool.
func New() *Mempool {
	return &Mempool{entries: make(map[string]*entry)}
}

// Add appends tx to the pool after checking its structural validity
// (§4.3: well-formed inputs/outputs for its type). It does not check the
// UTXO set — callers that have one available should validate against it
// first via pkg/utxo.Store.Validate before calling Add, matching the
// blockchain's add_transaction flow in pkg/chain.
func (mp *Mempool) Add(tx *block.Transaction) error {
	if tx == nil {
		return fmt.Errorf("cannot add nil transaction")
	}
	if err := tx.IsValid(); err != nil {
		return fmt.Errorf("invalid transaction: %w", err)
	}

	hash := tx.HexHash()

	mp.mu.Lock()
	defer mp.mu.Unlock()

	if _, exists := mp.entries[hash]; exists {
		return fmt.Errorf("transaction %s already in mempool", hash)
	}

	mp.entries[hash] = &entry{tx: tx, addedAt: time.Now()}
	mp.order = append(mp.order, hash)
	return nil
}

// Remove drops a transaction from the pool by hash, if present.
func (mp *Mempool) Remove(hash string) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.remove(hash)
}

func (mp *Mempool) remove(hash string) {
	if _, ok := mp.entries[hash]; !ok {
		return
	}
	delete(mp.entries, hash)
	for i, h := range mp.order {
		if h == hash {
			mp.order = append(mp.order[:i], mp.order[i+1:]...)
			break
		}
	}
}

// Get returns the pending transaction with the given hex hash, or nil.
func (mp *Mempool) Get(hash string) *block.Transaction {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	if e, ok := mp.entries[hash]; ok {
		return e.tx
	}
	return nil
}

// Has reports whether a transaction with the given hex hash is pending.
func (mp *Mempool) Has(hash string) bool {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	_, ok := mp.entries[hash]
	return ok
}

// All returns every pending transaction in arrival order. This is the
// order mine_pending_transactions applies them in, per §4.6.
func (mp *Mempool) All() []*block.Transaction {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	out := make([]*block.Transaction, 0, len(mp.order))
	for _, h := range mp.order {
		out = append(out, mp.entries[h].tx)
	}
	return out
}

// RemoveAll drops every transaction in txs from the pool by hash, used
// after a block has been mined to clear the transactions it consumed while
// leaving anything added concurrently (there is none under the core's
// single-writer discipline, but the operation is still defined as a set
// difference rather than an unconditional Clear).
func (mp *Mempool) RemoveAll(txs []*block.Transaction) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	for _, tx := range txs {
		mp.remove(tx.HexHash())
	}
}

// Clear empties the pool.
func (mp *Mempool) Clear() {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.entries = make(map[string]*entry)
	mp.order = nil
}

// Count returns the number of pending transactions.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	return len(mp.order)
}

func (mp *Mempool) String() string {
	return fmt.Sprintf("Mempool{Transactions: %d}", mp.Count())
}
