package wallet

import (
	"os"
	"testing"

	"github.com/gochain/gochain/pkg/block"
	"github.com/gochain/gochain/pkg/storage"
	"github.com/gochain/gochain/pkg/utxo"
	"github.com/stretchr/testify/assert"
)

func newTestStorage(t *testing.T) *storage.Storage {
	tempDir, err := os.MkdirTemp("", "wallet_test_storage")
	assert.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	cfg := storage.DefaultStorageConfig().WithDataDir(tempDir)
	s, err := storage.NewStorage(cfg)
	assert.NoError(t, err)
	return s
}

func newTestWallet(t *testing.T) (*Wallet, *utxo.Store) {
	store := utxo.NewStore()
	w, err := NewWallet(DefaultWalletConfig(), store, newTestStorage(t))
	assert.NoError(t, err)
	return w, store
}

func TestNewWalletHasOneDefaultAccount(t *testing.T) {
	w, _ := newTestWallet(t)

	assert.Len(t, w.GetAllAccounts(), 1)
	account := w.GetDefaultAccount()
	assert.NotEmpty(t, account.Address)
	assert.NotEmpty(t, account.PublicKey)
}

func TestDefaultWalletConfig(t *testing.T) {
	config := DefaultWalletConfig()
	assert.Equal(t, KeyTypeECDSA, config.KeyType)
	assert.Empty(t, config.Passphrase)
	assert.Equal(t, "wallet.dat", config.WalletFile)
}

func TestCreateAccountAddsToWallet(t *testing.T) {
	w, _ := newTestWallet(t)
	initial := len(w.GetAllAccounts())

	account, err := w.CreateAccount()
	assert.NoError(t, err)
	assert.NotEmpty(t, account.Address)

	assert.Len(t, w.GetAllAccounts(), initial+1)
	assert.Equal(t, account.Address, w.GetAccount(account.Address).Address)
}

func fundAccount(store *utxo.Store, owner string, value uint64) *utxo.UTXO {
	// TxInput.IsValid requires a 32-byte previous-transaction hash.
	u := &utxo.UTXO{TxHash: []byte("seed-tx-000000000000000000000000"), TxIndex: 0, Value: value, Owner: owner}
	store.Add(u)
	return u
}

func TestCreateTransactionProducesChangeOutput(t *testing.T) {
	w, store := newTestWallet(t)
	from := w.GetDefaultAccount()
	fundAccount(store, from.Address, 5000)

	tx, err := w.CreateTransaction(from.Address, "bob", 1000, 50)
	assert.NoError(t, err)
	assert.Equal(t, uint32(1), tx.Version)
	assert.Equal(t, uint64(50), tx.Fee)
	assert.Len(t, tx.Outputs, 2)
	assert.Equal(t, uint64(1000), tx.Outputs[0].Value)
	assert.Equal(t, "bob", tx.Outputs[0].Owner)
	assert.Equal(t, uint64(3950), tx.Outputs[1].Value)
	assert.Equal(t, from.Address, tx.Outputs[1].Owner)
	assert.NotEmpty(t, tx.Hash)
}

func TestCreateTransactionWithoutFundsFails(t *testing.T) {
	w, _ := newTestWallet(t)
	from := w.GetDefaultAccount()

	_, err := w.CreateTransaction(from.Address, "bob", 1000, 50)
	assert.Error(t, err)
}

func TestSignTransactionProducesVerifiableSignature(t *testing.T) {
	w, store := newTestWallet(t)
	from := w.GetDefaultAccount()
	fundAccount(store, from.Address, 5000)

	tx, err := w.CreateTransaction(from.Address, "bob", 1000, 50)
	assert.NoError(t, err)

	assert.NoError(t, w.VerifyTransaction(tx))
}

func TestUpdateAndGetBalance(t *testing.T) {
	w, _ := newTestWallet(t)
	account := w.GetDefaultAccount()

	assert.Equal(t, uint64(0), w.GetBalance(account.Address))
	w.UpdateBalance(account.Address, 5000)
	assert.Equal(t, uint64(5000), w.GetBalance(account.Address))
}

func TestImportPrivateKeyRoundTrips(t *testing.T) {
	w, _ := newTestWallet(t)
	account := w.GetDefaultAccount()

	privHex, err := w.ExportPrivateKey(account.Address)
	assert.NoError(t, err)

	imported, err := w.ImportPrivateKey(privHex)
	assert.NoError(t, err)
	assert.Equal(t, account.Address, imported.Address)
	assert.Equal(t, account.PublicKey, imported.PublicKey)
}

func TestExportPrivateKeyIsA32ByteScalar(t *testing.T) {
	w, _ := newTestWallet(t)
	account := w.GetDefaultAccount()

	privHex, err := w.ExportPrivateKey(account.Address)
	assert.NoError(t, err)
	assert.Len(t, privHex, 64)
}

func TestAccountString(t *testing.T) {
	w, _ := newTestWallet(t)
	assert.NotEmpty(t, w.GetDefaultAccount().String())
}

func TestSaveAndLoadRoundTripsAccounts(t *testing.T) {
	s := newTestStorage(t)
	passphrase := "correct horse battery staple"
	walletFile := "my_test_wallet.dat"

	cfg1 := DefaultWalletConfig()
	cfg1.Passphrase = passphrase
	cfg1.WalletFile = walletFile
	w1, err := NewWallet(cfg1, utxo.NewStore(), s)
	assert.NoError(t, err)
	address := w1.GetDefaultAccount().Address
	assert.NoError(t, w1.Save())

	cfg2 := DefaultWalletConfig()
	cfg2.Passphrase = passphrase
	cfg2.WalletFile = walletFile
	w2, err := NewWallet(cfg2, utxo.NewStore(), s)
	assert.NoError(t, err)
	assert.NoError(t, w2.Load())
	assert.Equal(t, address, w2.GetDefaultAccount().Address)
	assert.Len(t, w2.GetAllAccounts(), len(w1.GetAllAccounts()))

	cfg3 := DefaultWalletConfig()
	cfg3.Passphrase = "wrong passphrase"
	cfg3.WalletFile = walletFile
	w3, err := NewWallet(cfg3, utxo.NewStore(), s)
	assert.NoError(t, err)
	assert.Error(t, w3.Load())
}

func TestVerifyTransactionRejectsTamperedOutput(t *testing.T) {
	w, store := newTestWallet(t)
	from := w.GetDefaultAccount()
	fundAccount(store, from.Address, 5000)

	tx, err := w.CreateTransaction(from.Address, "bob", 1000, 50)
	assert.NoError(t, err)

	tx.Outputs[0].Value = 999999
	assert.Error(t, w.VerifyTransaction(tx))
}

func TestSignTransactionSkipsInputsItDoesNotOwn(t *testing.T) {
	w, store := newTestWallet(t)
	from := w.GetDefaultAccount()
	fundAccount(store, from.Address, 5000)

	tx := &block.Transaction{
		Type:    block.TxRegular,
		Version: 1,
		Inputs:  []*block.TxInput{{PrevTxHash: []byte("not-owned"), PrevTxIndex: 0}},
		Outputs: []*block.TxOutput{{Value: 1, Owner: "bob"}},
	}
	assert.Error(t, w.SignTransaction(tx, from.Address))
}
