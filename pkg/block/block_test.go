package block

import "testing"

func TestNewBlockHeader(t *testing.T) {
	prevHash := []byte("previous_block_hash_123456789012")
	b := NewBlock(prevHash, 1, 1000)

	if b.Header.Version != 1 {
		t.Errorf("expected version 1, got %d", b.Header.Version)
	}
	if b.Header.Height != 1 {
		t.Errorf("expected height 1, got %d", b.Header.Height)
	}
	if b.Header.MerkleRoot != nil {
		t.Errorf("expected nil merkle root for empty block, got %x", b.Header.MerkleRoot)
	}
}

func TestMerkleRootSingleTransaction(t *testing.T) {
	tx := NewCoinbase("alice", 100)
	b := NewBlock(nil, 0, 0)
	b.AddTransaction(tx)
	b.RecomputeMerkleRoot()

	if string(b.Header.MerkleRoot) != string(tx.Hash) {
		t.Errorf("single-tx merkle root must equal the transaction hash")
	}
}

func TestMerkleRootOddCountDuplicatesLast(t *testing.T) {
	tx1 := NewCoinbase("alice", 100)
	tx2 := NewCoinbase("bob", 200)
	tx3 := NewCoinbase("carol", 300)

	b := NewBlock(nil, 0, 0)
	b.AddTransaction(tx1)
	b.AddTransaction(tx2)
	b.AddTransaction(tx3)
	b.RecomputeMerkleRoot()

	if len(b.Header.MerkleRoot) != 32 {
		t.Fatalf("expected a 32-byte root, got %d bytes", len(b.Header.MerkleRoot))
	}

	// Appending a duplicate of tx3 (making the leaf count even) must
	// produce the same root as the odd-length, auto-duplicated tree.
	b2 := NewBlock(nil, 0, 0)
	b2.AddTransaction(tx1)
	b2.AddTransaction(tx2)
	b2.AddTransaction(tx3)
	b2.Transactions = append(b2.Transactions, tx3)
	b2.RecomputeMerkleRoot()

	if string(b.Header.MerkleRoot) != string(b2.Header.MerkleRoot) {
		t.Errorf("odd-length merkle root must match explicit last-duplicated tree")
	}
}

func TestBlockHashDeterministic(t *testing.T) {
	b := NewBlock([]byte("parent"), 5, 10)
	b.Finalize()

	h1 := b.CalculateHash()
	h2 := b.CalculateHash()
	if string(h1) != string(h2) {
		t.Errorf("block hash must be deterministic")
	}
}

func TestBlockIsValidDetectsMerkleMismatch(t *testing.T) {
	b := NewBlock(nil, 0, 0)
	b.AddTransaction(NewCoinbase("alice", 100))
	b.Header.MerkleRoot = []byte("tampered")

	if err := b.IsValid(); err == nil {
		t.Errorf("expected merkle mismatch error")
	}
}

func TestCoinbaseTransactionValid(t *testing.T) {
	tx := NewCoinbase("alice", 100)
	if err := tx.IsValid(); err != nil {
		t.Errorf("coinbase transaction should be valid: %v", err)
	}
}

func TestRegularTransactionRequiresInputs(t *testing.T) {
	tx := &Transaction{
		Type:    TxRegular,
		Version: 1,
		Outputs: []*TxOutput{{Value: 10, Owner: "bob"}},
	}
	if err := tx.IsValid(); err == nil {
		t.Errorf("expected error for regular transaction with no inputs")
	}
}
