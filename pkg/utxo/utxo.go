// Package utxo maintains the set of unspent transaction outputs and the
// signature/fee rules a transaction must satisfy to spend them.
package utxo

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/gochain/gochain/pkg/block"
	"github.com/gochain/gochain/pkg/xhash"
)

// UTXO is a single unspent output, addressable by the transaction that
// created it and its index within that transaction's output list.
type UTXO struct {
	TxHash     []byte `json:"tx_hash"`
	TxIndex    uint32 `json:"tx_index"`
	Value      uint64 `json:"value"`
	Owner      string `json:"owner"`
	IsCoinbase bool   `json:"is_coinbase"`
	Height     uint64 `json:"height"`
	IsSpent    bool   `json:"is_spent"`
}

// Store is the mutex-guarded unspent-output index plus its derived
// address-balance cache.
type Store struct {
	mu       sync.RWMutex
	utxos    map[string]*UTXO
	balances map[string]uint64
}

// NewStore creates an empty UTXO store.
func NewStore() *Store {
	return &Store{
		utxos:    make(map[string]*UTXO),
		balances: make(map[string]uint64),
	}
}

func key(txHash []byte, txIndex uint32) string {
	return fmt.Sprintf("%x:%d", txHash, txIndex)
}

// Add inserts a new unspent output and credits the owner's cached balance.
func (s *Store) Add(u *UTXO) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.add(u)
}

func (s *Store) add(u *UTXO) {
	if u == nil {
		return
	}
	s.utxos[key(u.TxHash, u.TxIndex)] = u
	s.balances[u.Owner] += u.Value
}

// Spend removes the referenced output from the index and returns it,
// debiting the owner's cached balance. Spent outputs are not kept in the
// store and IsSpent is never set on them. Spending an output that is
// already gone (or never existed) is a no-op: callers validate existence
// before calling Spend.
func (s *Store) Spend(txHash []byte, txIndex uint32) *UTXO {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spend(txHash, txIndex)
}

func (s *Store) spend(txHash []byte, txIndex uint32) *UTXO {
	k := key(txHash, txIndex)
	u, ok := s.utxos[k]
	if !ok {
		return nil
	}

	s.balances[u.Owner] -= u.Value
	if s.balances[u.Owner] == 0 {
		delete(s.balances, u.Owner)
	}
	delete(s.utxos, k)
	return u
}

// Get returns the unspent output at (txHash, txIndex), or nil if it does
// not exist or has already been spent.
func (s *Store) Get(txHash []byte, txIndex uint32) *UTXO {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.utxos[key(txHash, txIndex)]
}

// Balance returns the sum of unspent outputs owned by address.
func (s *Store) Balance(address string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[address]
}

// UTXOsFor returns every unspent output owned by address.
func (s *Store) UTXOsFor(address string) []*UTXO {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*UTXO
	for _, u := range s.utxos {
		if u.Owner == address {
			out = append(out, u)
		}
	}
	return out
}

// ApplyBlock spends every input and creates every output of every
// transaction in b. Callers must have already validated the block and its
// transactions; ApplyBlock performs no validation of its own.
func (s *Store) ApplyBlock(b *block.Block) error {
	if b == nil || b.Header == nil {
		return fmt.Errorf("block or header is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tx := range b.Transactions {
		for _, in := range tx.Inputs {
			s.spend(in.PrevTxHash, in.PrevTxIndex)
		}
		for i, out := range tx.Outputs {
			s.add(&UTXO{
				TxHash:     tx.Hash,
				TxIndex:    uint32(i),
				Value:      out.Value,
				Owner:      out.Owner,
				IsCoinbase: tx.Type == block.TxCoinbase,
				Height:     b.Header.Height,
			})
		}
	}
	return nil
}

// SigningPayload is the canonical, per-input data a wallet signs. Binding
// the specific input index and the full output vector (rather than the
// whole transaction byte-for-byte) prevents an attacker from relocating a
// valid signature onto a different input of the same transaction while
// still covering every output the signer authorized.
type SigningPayload struct {
	TxID       string            `json:"tx_id"`
	InputIndex uint32            `json:"input_index"`
	UTXOOwner  string            `json:"utxo_owner"`
	Outputs    []*block.TxOutput `json:"outputs"`
}

// BuildSigningPayload returns the canonical JSON bytes a wallet signs for
// input i of tx, given the owner of the UTXO that input spends. tx_id is
// recomputed with tx.CalculateHash rather than read from tx.Hash, so the
// payload is the same whether or not tx has been finalized yet.
func BuildSigningPayload(tx *block.Transaction, inputIndex int, utxoOwner string) ([]byte, error) {
	payload := SigningPayload{
		TxID:       hex.EncodeToString(tx.CalculateHash()),
		InputIndex: uint32(inputIndex),
		UTXOOwner:  utxoOwner,
		Outputs:    tx.Outputs,
	}
	return xhash.Canonical(payload)
}

// IsDoubleSpend reports whether any input of tx references a UTXO that is
// not present (already spent, or never existed) in the store.
func (s *Store) IsDoubleSpend(tx *block.Transaction) bool {
	for _, in := range tx.Inputs {
		if s.Get(in.PrevTxHash, in.PrevTxIndex) == nil {
			return true
		}
	}
	return false
}

// Validate checks a transaction's structural rules, signatures, and fee
// arithmetic against the current UTXO set. Coinbase transactions skip
// signature and balance checks since they mint rather than spend value.
func (s *Store) Validate(tx *block.Transaction) error {
	if tx == nil {
		return fmt.Errorf("transaction is nil")
	}
	if err := tx.IsValid(); err != nil {
		return fmt.Errorf("structurally invalid transaction: %w", err)
	}
	if tx.Type == block.TxCoinbase {
		return nil
	}

	seen := make(map[string]bool, len(tx.Inputs))
	for _, in := range tx.Inputs {
		k := key(in.PrevTxHash, in.PrevTxIndex)
		if seen[k] {
			return fmt.Errorf("duplicate input: %s", k)
		}
		seen[k] = true
	}

	var totalInput uint64
	for i, in := range tx.Inputs {
		u := s.Get(in.PrevTxHash, in.PrevTxIndex)
		if u == nil {
			return fmt.Errorf("input %d: UTXO %x:%d not found or already spent", i, in.PrevTxHash, in.PrevTxIndex)
		}

		if err := verifyInputSignature(tx, i, u.Owner); err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}

		totalInput += u.Value
	}

	var totalOutput uint64
	for i, out := range tx.Outputs {
		if err := out.IsValid(); err != nil {
			return fmt.Errorf("invalid output %d: %w", i, err)
		}
		totalOutput += out.Value
	}

	if totalOutput > totalInput {
		return fmt.Errorf("output value %d exceeds input value %d", totalOutput, totalInput)
	}

	fee := totalInput - totalOutput
	if fee < tx.Fee {
		return fmt.Errorf("actual fee %d is less than declared fee %d", fee, tx.Fee)
	}

	return nil
}

// verifyInputSignature checks that input i of tx carries a valid ECDSA
// signature, by owner, over that input's canonical signing payload, and
// that the embedded public key actually hashes to owner.
func verifyInputSignature(tx *block.Transaction, i int, owner string) error {
	in := tx.Inputs[i]

	if len(in.PublicKey) == 0 || len(in.Signature) == 0 {
		return fmt.Errorf("missing signature or public key")
	}

	pubKey, err := btcec.ParsePubKey(in.PublicKey)
	if err != nil {
		return fmt.Errorf("invalid public key: %w", err)
	}

	derivedOwner := xhash.AddressFromPublicKey(in.PublicKey)
	if derivedOwner != owner {
		return fmt.Errorf("public key does not derive to UTXO owner %s", owner)
	}

	sig, err := btcecdsa.ParseDERSignature(in.Signature)
	if err != nil {
		return fmt.Errorf("invalid DER signature: %w", err)
	}

	payload, err := BuildSigningPayload(tx, i, owner)
	if err != nil {
		return fmt.Errorf("failed to rebuild signing payload: %w", err)
	}
	digest := xhash.HashBytes(payload)

	if !sig.Verify(digest[:], pubKey) {
		return fmt.Errorf("signature verification failed")
	}

	return nil
}

// Stats summarizes the store's current size, used by the CLI `show`
// command and logging.
func (s *Store) Stats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total uint64
	for _, b := range s.balances {
		total += b
	}

	return map[string]interface{}{
		"total_utxos":     len(s.utxos),
		"total_addresses": len(s.balances),
		"total_value":     total,
	}
}

// Snapshot returns a copy of every unspent output, keyed the same way the
// store indexes them internally ("<tx_hash_hex>:<output_index>"). It exists
// for persistence formats that serialize the UTXO set alongside the chain
// rather than always rebuilding it by replay.
func (s *Store) Snapshot() map[string]*UTXO {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*UTXO, len(s.utxos))
	for k, u := range s.utxos {
		cp := *u
		out[k] = &cp
	}
	return out
}

func (s *Store) String() string {
	stats := s.Stats()
	return fmt.Sprintf("UTXOStore{UTXOs: %v, Addresses: %v, TotalValue: %v}",
		stats["total_utxos"], stats["total_addresses"], stats["total_value"])
}
