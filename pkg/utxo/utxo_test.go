package utxo

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/gochain/gochain/pkg/block"
	"github.com/gochain/gochain/pkg/xhash"
)

// srcHash is a 32-byte transaction hash for the UTXO the Validate tests
// spend; TxInput.IsValid rejects any other length.
var srcHash = func() []byte { h := xhash.HashBytes([]byte("src")); return h[:] }()

func newKeyAndAddress(t *testing.T) (*btcec.PrivateKey, string) {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pubBytes := priv.PubKey().SerializeCompressed()
	return priv, xhash.AddressFromPublicKey(pubBytes)
}

func signInput(t *testing.T, priv *btcec.PrivateKey, tx *block.Transaction, i int, owner string) {
	t.Helper()
	payload, err := BuildSigningPayload(tx, i, owner)
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}
	digest := xhash.HashBytes(payload)
	sig := btcecdsa.Sign(priv, digest[:])
	tx.Inputs[i].Signature = sig.Serialize()
	tx.Inputs[i].PublicKey = priv.PubKey().SerializeCompressed()
}

func TestAddBalanceAndSpend(t *testing.T) {
	s := NewStore()
	s.Add(&UTXO{TxHash: []byte("tx1"), TxIndex: 0, Value: 100, Owner: "alice"})

	if got := s.Balance("alice"); got != 100 {
		t.Fatalf("expected balance 100, got %d", got)
	}

	s.Spend([]byte("tx1"), 0)
	if got := s.Balance("alice"); got != 0 {
		t.Fatalf("expected balance 0 after spend, got %d", got)
	}
	if u := s.Get([]byte("tx1"), 0); u != nil {
		t.Fatalf("expected spent UTXO to be gone")
	}
}

func TestValidateRejectsDoubleSpendWithinTx(t *testing.T) {
	s := NewStore()
	priv, addr := newKeyAndAddress(t)
	s.Add(&UTXO{TxHash: srcHash, TxIndex: 0, Value: 100, Owner: addr})

	tx := &block.Transaction{
		Type:    block.TxRegular,
		Version: 1,
		Inputs: []*block.TxInput{
			{PrevTxHash: srcHash, PrevTxIndex: 0},
			{PrevTxHash: srcHash, PrevTxIndex: 0},
		},
		Outputs: []*block.TxOutput{{Value: 50, Owner: "bob"}},
	}
	tx.Finalize()
	signInput(t, priv, tx, 0, addr)
	signInput(t, priv, tx, 1, addr)

	if err := s.Validate(tx); err == nil {
		t.Fatalf("expected duplicate-input error")
	}
}

func TestValidateAcceptsWellSignedTransaction(t *testing.T) {
	s := NewStore()
	priv, addr := newKeyAndAddress(t)
	s.Add(&UTXO{TxHash: srcHash, TxIndex: 0, Value: 100, Owner: addr})

	tx := &block.Transaction{
		Type:    block.TxRegular,
		Version: 1,
		Inputs:  []*block.TxInput{{PrevTxHash: srcHash, PrevTxIndex: 0}},
		Outputs: []*block.TxOutput{{Value: 90, Owner: "bob"}},
		Fee:     10,
	}
	tx.Finalize()
	signInput(t, priv, tx, 0, addr)

	if err := s.Validate(tx); err != nil {
		t.Fatalf("expected valid transaction, got: %v", err)
	}
}

func TestValidateRejectsWrongSignature(t *testing.T) {
	s := NewStore()
	_, addr := newKeyAndAddress(t)
	other, _ := newKeyAndAddress(t)
	s.Add(&UTXO{TxHash: srcHash, TxIndex: 0, Value: 100, Owner: addr})

	tx := &block.Transaction{
		Type:    block.TxRegular,
		Version: 1,
		Inputs:  []*block.TxInput{{PrevTxHash: srcHash, PrevTxIndex: 0}},
		Outputs: []*block.TxOutput{{Value: 90, Owner: "bob"}},
		Fee:     10,
	}
	tx.Finalize()
	signInput(t, other, tx, 0, addr)

	if err := s.Validate(tx); err == nil {
		t.Fatalf("expected signature verification failure")
	}
}

func TestValidateRejectsOutputsExceedingInputs(t *testing.T) {
	s := NewStore()
	priv, addr := newKeyAndAddress(t)
	s.Add(&UTXO{TxHash: srcHash, TxIndex: 0, Value: 100, Owner: addr})

	tx := &block.Transaction{
		Type:    block.TxRegular,
		Version: 1,
		Inputs:  []*block.TxInput{{PrevTxHash: srcHash, PrevTxIndex: 0}},
		Outputs: []*block.TxOutput{{Value: 150, Owner: "bob"}},
	}
	tx.Finalize()
	signInput(t, priv, tx, 0, addr)

	if err := s.Validate(tx); err == nil {
		t.Fatalf("expected overspend error")
	}
}

func TestApplyBlockSpendsAndCreates(t *testing.T) {
	s := NewStore()
	coinbase := block.NewCoinbase("alice", 1000)

	b := block.NewBlock(nil, 0, 0)
	b.AddTransaction(coinbase)
	b.RecomputeMerkleRoot()
	b.Finalize()

	if err := s.ApplyBlock(b); err != nil {
		t.Fatalf("apply genesis block: %v", err)
	}

	if got := s.Balance("alice"); got != 1000 {
		t.Fatalf("expected balance 1000, got %d", got)
	}
}
