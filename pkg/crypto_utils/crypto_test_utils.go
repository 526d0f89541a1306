// Package crypto_utils provides cryptographic testing utilities for the
// gochain project: key generation and signed-transaction construction
// shared by tests across pkg/utxo, pkg/mempool, pkg/chain and pkg/wallet.
package crypto_utils

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/gochain/gochain/pkg/block"
	"github.com/gochain/gochain/pkg/utxo"
	"github.com/gochain/gochain/pkg/xhash"
)

// CryptoTestUtils provides cryptographic testing utilities bound to the
// current test.
type CryptoTestUtils struct {
	t *testing.T
}

// NewCryptoTestUtils creates a new cryptographic testing utilities instance.
func NewCryptoTestUtils(t *testing.T) *CryptoTestUtils {
	return &CryptoTestUtils{t: t}
}

// TestKeyPair is a test cryptographic key pair and its derived address.
type TestKeyPair struct {
	PrivateKey *btcec.PrivateKey
	PublicKey  *btcec.PublicKey
	Address    string
}

// GenerateTestKeyPair generates a new secp256k1 key pair and derives its
// address the same way pkg/utxo verifies signatures: xhash.AddressFromPublicKey
// over the compressed public key bytes.
func (ctu *CryptoTestUtils) GenerateTestKeyPair() *TestKeyPair {
	privateKey, err := btcec.NewPrivateKey()
	if err != nil {
		ctu.t.Fatalf("failed to generate private key: %v", err)
	}

	publicKey := privateKey.PubKey()
	address := xhash.AddressFromPublicKey(publicKey.SerializeCompressed())

	return &TestKeyPair{
		PrivateKey: privateKey,
		PublicKey:  publicKey,
		Address:    address,
	}
}

// CreateSignedTransaction builds a transaction from inputs/outputs and signs
// each input against the owning key pair, using the exact per-input
// signing payload pkg/utxo.Validate expects.
func (ctu *CryptoTestUtils) CreateSignedTransaction(
	inputs []*block.TxInput,
	outputs []*block.TxOutput,
	owners []string, // owners[i] is the address that controls inputs[i]'s UTXO
	keyPairs map[string]*TestKeyPair, // address -> keyPair
	fee uint64,
) *block.Transaction {
	if len(owners) != len(inputs) {
		ctu.t.Fatalf("owners length %d does not match inputs length %d", len(owners), len(inputs))
	}

	tx := &block.Transaction{
		Type:     block.TxRegular,
		Version:  1,
		Inputs:   inputs,
		Outputs:  outputs,
		LockTime: 0,
		Fee:      fee,
	}

	for i, owner := range owners {
		kp, ok := keyPairs[owner]
		if !ok {
			ctu.t.Fatalf("no key pair registered for owner %s (input %d)", owner, i)
		}

		payload, err := utxo.BuildSigningPayload(tx, i, owner)
		if err != nil {
			ctu.t.Fatalf("failed to build signing payload for input %d: %v", i, err)
		}
		digest := xhash.HashBytes(payload)

		sig, err := ctu.Sign(digest[:], kp.PrivateKey)
		if err != nil {
			ctu.t.Fatalf("failed to sign input %d: %v", i, err)
		}

		inputs[i].Signature = sig
		inputs[i].PublicKey = kp.PublicKey.SerializeCompressed()
	}

	tx.Finalize()
	return tx
}

// Sign produces a DER signature over digest, matching what
// pkg/utxo.verifyInputSignature expects to parse.
func (ctu *CryptoTestUtils) Sign(digest []byte, privateKey *btcec.PrivateKey) ([]byte, error) {
	sig := btcecdsa.Sign(privateKey, digest)
	return sig.Serialize(), nil
}

// CreateTestTransaction builds a single-input transfer of amount from
// fromKeyPair to toKeyPair, spending a synthetic UTXO of totalInput and
// returning any change to fromKeyPair.
func (ctu *CryptoTestUtils) CreateTestTransaction(
	fromKeyPair *TestKeyPair,
	toKeyPair *TestKeyPair,
	prevTxHash []byte,
	prevTxIndex uint32,
	totalInput uint64,
	amount uint64,
	fee uint64,
) *block.Transaction {
	inputs := []*block.TxInput{
		{PrevTxHash: prevTxHash, PrevTxIndex: prevTxIndex},
	}

	outputs := []*block.TxOutput{
		{Value: amount, Owner: toKeyPair.Address},
	}
	if change := totalInput - amount - fee; change > 0 {
		outputs = append(outputs, &block.TxOutput{Value: change, Owner: fromKeyPair.Address})
	}

	keyPairs := map[string]*TestKeyPair{fromKeyPair.Address: fromKeyPair}
	return ctu.CreateSignedTransaction(inputs, outputs, []string{fromKeyPair.Address}, keyPairs, fee)
}
