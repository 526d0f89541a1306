// Package block defines the transaction and block types that make up the
// ledger, along with their hashing, Merkle commitment and structural
// validation rules.
package block

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/gochain/gochain/pkg/xhash"
)

// TxType tags what a transaction represents. Coinbase and contract
// transactions relax or extend the normal input/output rules.
type TxType string

const (
	TxRegular  TxType = "regular"
	TxCoinbase TxType = "coinbase"
	TxContract TxType = "contract"
)

// TxInput references a previously created, unspent output.
type TxInput struct {
	PrevTxHash  []byte `json:"prev_tx_hash"`
	PrevTxIndex uint32 `json:"prev_tx_index"`
	Signature   []byte `json:"signature,omitempty"`
	PublicKey   []byte `json:"public_key,omitempty"`
}

// TxOutput assigns value to an owner address.
type TxOutput struct {
	Value uint64 `json:"value"`
	Owner string `json:"owner"`
}

// Transaction moves value between UTXOs, or mints it (coinbase), or invokes
// the contract engine (contract).
type Transaction struct {
	Type         TxType      `json:"type"`
	Version      uint32      `json:"version"`
	Inputs       []*TxInput  `json:"inputs"`
	Outputs      []*TxOutput `json:"outputs"`
	LockTime     uint64      `json:"lock_time"`
	Fee          uint64      `json:"fee"`
	ContractData []byte      `json:"contract_data,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
	Hash         []byte      `json:"hash"`
}

// txHashPayload is everything about a transaction that participates in its
// hash. Hash and each input's signature and public key are excluded (an
// input contributes only the outpoint it spends): signatures are produced
// over a narrower per-input payload (see pkg/utxo) that embeds this hash,
// and the hash obviously cannot include itself.
type txHashPayload struct {
	Type         TxType      `json:"type"`
	Version      uint32      `json:"version"`
	Inputs       []*TxInput  `json:"inputs"`
	Outputs      []*TxOutput `json:"outputs"`
	LockTime     uint64      `json:"lock_time"`
	Fee          uint64      `json:"fee"`
	ContractData []byte      `json:"contract_data,omitempty"`
	Timestamp    int64       `json:"timestamp"`
}

// CalculateHash returns the canonical-JSON SHA-256 hash of the transaction.
// It does not mutate tx.Hash; callers call this once at construction time
// and store the result.
func (tx *Transaction) CalculateHash() []byte {
	inputs := make([]*TxInput, len(tx.Inputs))
	for i, in := range tx.Inputs {
		inputs[i] = &TxInput{PrevTxHash: in.PrevTxHash, PrevTxIndex: in.PrevTxIndex}
	}
	payload := txHashPayload{
		Type:         tx.Type,
		Version:      tx.Version,
		Inputs:       inputs,
		Outputs:      tx.Outputs,
		LockTime:     tx.LockTime,
		Fee:          tx.Fee,
		ContractData: tx.ContractData,
		Timestamp:    tx.Timestamp.UnixNano(),
	}
	h := xhash.Hash(payload)
	return h[:]
}

// Finalize computes and stores the transaction hash. Call after all hashed
// fields are set; input signatures and public keys do not enter the hash, so
// signing before or after Finalize yields the same hash.
func (tx *Transaction) Finalize() {
	tx.Hash = tx.CalculateHash()
}

// NewCoinbase creates the block-reward transaction miners prepend to every
// block they assemble.
func NewCoinbase(to string, reward uint64) *Transaction {
	tx := &Transaction{
		Type:    TxCoinbase,
		Version: 1,
		Inputs:  []*TxInput{},
		Outputs: []*TxOutput{
			{Value: reward, Owner: to},
		},
		Timestamp: time.Now(),
	}
	tx.Finalize()
	return tx
}

// HexHash returns the hex encoding of the transaction hash.
func (tx *Transaction) HexHash() string {
	return hex.EncodeToString(tx.Hash)
}

// IsValid checks the structural invariants a transaction must satisfy
// regardless of UTXO-set context (signature and double-spend checks live in
// pkg/utxo, which has access to that context).
func (tx *Transaction) IsValid() error {
	if tx.Version == 0 {
		return fmt.Errorf("invalid version: %d", tx.Version)
	}
	if len(tx.Outputs) == 0 {
		return fmt.Errorf("transaction must have at least one output")
	}

	switch tx.Type {
	case TxCoinbase:
		if len(tx.Inputs) != 0 {
			return fmt.Errorf("coinbase transaction must have no inputs")
		}
	case TxRegular, TxContract:
		if len(tx.Inputs) == 0 {
			return fmt.Errorf("non-coinbase transaction must have at least one input")
		}
		for i, in := range tx.Inputs {
			if err := in.IsValid(); err != nil {
				return fmt.Errorf("invalid input %d: %w", i, err)
			}
		}
	default:
		return fmt.Errorf("unknown transaction type %q", tx.Type)
	}

	for i, out := range tx.Outputs {
		if err := out.IsValid(); err != nil {
			return fmt.Errorf("invalid output %d: %w", i, err)
		}
	}

	return nil
}

func (in *TxInput) IsValid() error {
	if len(in.PrevTxHash) != 32 {
		return fmt.Errorf("invalid previous transaction hash length: %d", len(in.PrevTxHash))
	}
	return nil
}

func (out *TxOutput) IsValid() error {
	if out.Value == 0 {
		return fmt.Errorf("output value cannot be zero")
	}
	if out.Owner == "" {
		return fmt.Errorf("output owner cannot be empty")
	}
	return nil
}

func (tx *Transaction) String() string {
	return fmt.Sprintf("Transaction{Type: %s, Hash: %x, Inputs: %d, Outputs: %d, Fee: %d}",
		tx.Type, tx.Hash, len(tx.Inputs), len(tx.Outputs), tx.Fee)
}

// Header carries everything about a block except its transactions.
type Header struct {
	Version       uint32    `json:"version"`
	PrevBlockHash []byte    `json:"prev_block_hash"`
	MerkleRoot    []byte    `json:"merkle_root"`
	Timestamp     time.Time `json:"timestamp"`
	Difficulty    uint64    `json:"difficulty"`
	Nonce         uint64    `json:"nonce"`
	Height        uint64    `json:"height"`
	Producer      string    `json:"producer,omitempty"`
}

// Block is a batch of transactions committed under one Merkle root and
// linked to its predecessor by hash.
type Block struct {
	Header       *Header        `json:"header"`
	Transactions []*Transaction `json:"transactions"`
	Hash         []byte         `json:"hash,omitempty"`

	// ContractResults holds the result of every contract transaction this
	// block applied, keyed by the invoking transaction's hex hash (or,
	// lacking one, its positional fallback "tx_<index>"). Populated after
	// the block's transactions are applied to the UTXO set; it is not part
	// of the block's hash or Merkle root.
	ContractResults map[string]map[string]interface{} `json:"contract_results,omitempty"`
}

// SetContractResult records result under key, keyed by tx's hex hash, or
// "tx_<index>" if tx has no hash yet.
func (b *Block) SetContractResult(tx *Transaction, index int, result map[string]interface{}) {
	if b.ContractResults == nil {
		b.ContractResults = make(map[string]map[string]interface{})
	}
	key := tx.HexHash()
	if key == "" {
		key = fmt.Sprintf("tx_%d", index)
	}
	b.ContractResults[key] = result
}

// NewBlock starts a block template; the caller appends transactions, drives
// it through mining/sealing, and only then calls RecomputeMerkleRoot — the
// root is not known (and must not be) while the hash that mining searches
// over is being computed.
func NewBlock(prevHash []byte, height uint64, difficulty uint64) *Block {
	return &Block{
		Header: &Header{
			Version:       1,
			PrevBlockHash: prevHash,
			Timestamp:     time.Now(),
			Difficulty:    difficulty,
			Height:        height,
		},
		Transactions: make([]*Transaction, 0),
	}
}

func (b *Block) AddTransaction(tx *Transaction) {
	b.Transactions = append(b.Transactions, tx)
}

// RecomputeMerkleRoot recalculates and stores the header's Merkle root from
// the current transaction set. The root of an empty block is nil, per spec;
// a single-transaction block's root is that transaction's own hash.
func (b *Block) RecomputeMerkleRoot() {
	b.Header.MerkleRoot = CalculateMerkleRoot(b.Transactions)
}

// CalculateMerkleRoot builds a binary Merkle tree over transaction hashes,
// duplicating the last hash at each level that has an odd count.
func CalculateMerkleRoot(txs []*Transaction) []byte {
	if len(txs) == 0 {
		return nil
	}
	if len(txs) == 1 {
		return txs[0].Hash
	}

	hashes := make([][]byte, len(txs))
	for i, tx := range txs {
		hashes[i] = tx.Hash
	}
	return buildMerkleTree(hashes)
}

func buildMerkleTree(hashes [][]byte) []byte {
	if len(hashes) == 1 {
		return hashes[0]
	}

	if len(hashes)%2 != 0 {
		hashes = append(hashes, hashes[len(hashes)-1])
	}

	next := make([][]byte, len(hashes)/2)
	for i := 0; i < len(hashes); i += 2 {
		combined := append(append([]byte{}, hashes[i]...), hashes[i+1]...)
		h := xhash.HashBytes(combined)
		next[i/2] = h[:]
	}

	return buildMerkleTree(next)
}

// headerHashPayload omits Hash (self-referential) and MerkleRoot: the root
// is computed after mining/sealing and must not feed back into the hash
// mining searches over. It binds directly to the transaction set instead,
// via each transaction's own already-finalized hash.
type headerHashPayload struct {
	Version       uint32   `json:"version"`
	PrevBlockHash []byte   `json:"prev_block_hash"`
	TxHashes      [][]byte `json:"tx_hashes"`
	Timestamp     int64    `json:"timestamp"`
	Difficulty    uint64   `json:"difficulty"`
	Nonce         uint64   `json:"nonce"`
	Height        uint64   `json:"height"`
	Producer      string   `json:"producer,omitempty"`
}

// CalculateHash returns the canonical-JSON SHA-256 hash of the block. It
// binds to PrevBlockHash, Nonce and the transaction set directly (each
// transaction's own hash); MerkleRoot is deliberately excluded since it is
// only computed once mining is done.
func (b *Block) CalculateHash() []byte {
	txHashes := make([][]byte, len(b.Transactions))
	for i, tx := range b.Transactions {
		txHashes[i] = tx.Hash
	}
	payload := headerHashPayload{
		Version:       b.Header.Version,
		PrevBlockHash: b.Header.PrevBlockHash,
		TxHashes:      txHashes,
		Timestamp:     b.Header.Timestamp.UnixNano(),
		Difficulty:    b.Header.Difficulty,
		Nonce:         b.Header.Nonce,
		Height:        b.Header.Height,
		Producer:      b.Header.Producer,
	}
	h := xhash.Hash(payload)
	return h[:]
}

// Finalize stores the block's own hash. Call once mining/signing is done.
func (b *Block) Finalize() {
	b.Hash = b.CalculateHash()
}

func (b *Block) HexHash() string {
	return hex.EncodeToString(b.CalculateHash())
}

// IsValid checks the structural invariants of a block: a well-formed
// header, a Merkle root that matches the transaction set, and valid
// transactions. UTXO-aware checks (signatures, double spends) are the
// caller's responsibility via pkg/utxo.
func (b *Block) IsValid() error {
	if b.Header == nil {
		return fmt.Errorf("block header is nil")
	}
	if err := b.Header.IsValid(); err != nil {
		return fmt.Errorf("invalid header: %w", err)
	}

	calculated := CalculateMerkleRoot(b.Transactions)
	if !bytesEqual(b.Header.MerkleRoot, calculated) {
		return fmt.Errorf("merkle root mismatch: expected %x, got %x",
			b.Header.MerkleRoot, calculated)
	}

	for i, tx := range b.Transactions {
		if err := tx.IsValid(); err != nil {
			return fmt.Errorf("invalid transaction %d: %w", i, err)
		}
	}

	return nil
}

func (h *Header) IsValid() error {
	if h.Version == 0 {
		return fmt.Errorf("invalid version: %d", h.Version)
	}
	if h.Height > 0 && h.PrevBlockHash == nil {
		return fmt.Errorf("previous block hash cannot be nil at height %d", h.Height)
	}
	if h.Timestamp.IsZero() {
		return fmt.Errorf("invalid timestamp")
	}
	return nil
}

func (b *Block) String() string {
	return fmt.Sprintf("Block{Height: %d, Hash: %x, Transactions: %d}",
		b.Header.Height, b.CalculateHash(), len(b.Transactions))
}

func (h *Header) String() string {
	return fmt.Sprintf("Header{Version: %d, Height: %d, Difficulty: %d, Nonce: %d}",
		h.Version, h.Height, h.Difficulty, h.Nonce)
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
