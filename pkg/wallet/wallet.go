// Package wallet manages local key material and builds signed transactions
// against a UTXO store.
//
// KEY FORMAT:
// - secp256k1 keys (github.com/btcsuite/btcd/btcec/v2), matching the curve
//   used throughout pkg/utxo's signature verification.
// - On-disk private key: PEM-encoded PKCS8, no passphrase on the PEM
//   container itself.
// - Address: first 40 hex characters of SHA256 over the key's compressed
//   SEC1 public key bytes (github.com/gochain/gochain/pkg/xhash), the same
//   derivation pkg/utxo uses to check a spending signature's claimed owner.
//   A base58check LegacyAddress is also derived and kept alongside for any
//   caller that wants checksum safety, but it is not what pkg/utxo checks.
//
// WALLET FILE:
// - The accounts blob is AES-GCM encrypted however many accounts the
//   wallet holds, with a key derived by iterated HMAC-SHA256 (deriveKey,
//   not standard PBKDF2): salt(32) + nonce(12) + ciphertext, exactly as
//   this package has always framed it.
package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/gochain/gochain/pkg/block"
	"github.com/gochain/gochain/pkg/storage"
	"github.com/gochain/gochain/pkg/utxo"
	"github.com/gochain/gochain/pkg/xhash"
	"github.com/mr-tron/base58"
)

// KeyType identifies the signature scheme an account's key uses. Only
// secp256k1 ECDSA is implemented; the enum is kept so a future scheme can
// be added without changing the Account shape.
type KeyType int

const (
	KeyTypeECDSA KeyType = iota
)

// Account is one key-derived identity held by a Wallet.
type Account struct {
	Address       string
	LegacyAddress string
	PublicKey     []byte // compressed SEC1
	PrivateKeyPEM string // PKCS8 PEM, no passphrase
	Balance       uint64
	Nonce         uint64

	key *btcec.PrivateKey // populated on load/creation, not serialized
}

func (a *Account) String() string {
	return fmt.Sprintf("Account{Address: %s, Balance: %d, Nonce: %d}", a.Address, a.Balance, a.Nonce)
}

// WalletConfig configures a Wallet.
type WalletConfig struct {
	KeyType    KeyType
	Passphrase string
	WalletFile string
}

// DefaultWalletConfig matches the reference node's bootstrap wallet.
func DefaultWalletConfig() *WalletConfig {
	return &WalletConfig{KeyType: KeyTypeECDSA, Passphrase: "", WalletFile: "wallet.dat"}
}

// Wallet holds one or more accounts and signs transactions against a UTXO
// store shared with the owning chain.
type Wallet struct {
	mu             sync.RWMutex
	accounts       map[string]*Account
	defaultAddress string
	keyType        KeyType
	store          *utxo.Store
	storage        storage.StorageInterface
	walletFilePath string
	passphrase     string
}

// NewWallet creates a wallet with one freshly generated default account.
func NewWallet(config *WalletConfig, store *utxo.Store, s storage.StorageInterface) (*Wallet, error) {
	if config == nil {
		config = DefaultWalletConfig()
	}
	if config.KeyType != KeyTypeECDSA {
		return nil, fmt.Errorf("unsupported key type: %d", config.KeyType)
	}

	w := &Wallet{
		accounts:       make(map[string]*Account),
		keyType:        config.KeyType,
		store:          store,
		storage:        s,
		walletFilePath: config.WalletFile,
		passphrase:     config.Passphrase,
	}

	account, err := newAccount()
	if err != nil {
		return nil, fmt.Errorf("failed to create default account: %w", err)
	}
	w.accounts[account.Address] = account
	w.defaultAddress = account.Address

	return w, nil
}

// newAccount generates a fresh secp256k1 key and derives both address forms.
func newAccount() (*Account, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate secp256k1 key: %w", err)
	}

	pemKey, err := encodePrivateKeyPEM(priv)
	if err != nil {
		return nil, err
	}

	pubBytes := priv.PubKey().SerializeCompressed()
	return &Account{
		Address:       xhash.AddressFromPublicKey(pubBytes),
		LegacyAddress: legacyAddress(pubBytes),
		PublicKey:     pubBytes,
		PrivateKeyPEM: pemKey,
		key:           priv,
	}, nil
}

// CreateAccount generates an additional account and adds it to the wallet.
func (w *Wallet) CreateAccount() (*Account, error) {
	account, err := newAccount()
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	w.accounts[account.Address] = account
	if w.defaultAddress == "" {
		w.defaultAddress = account.Address
	}
	w.mu.Unlock()

	return account, nil
}

// GetAccount returns an account by address, or nil if unknown.
func (w *Wallet) GetAccount(address string) *Account {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.accounts[address]
}

// GetDefaultAccount returns the wallet's default account: the first one
// created in this Wallet, or after Load one of the loaded accounts (which
// one is not defined when the file holds several).
func (w *Wallet) GetDefaultAccount() *Account {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.accounts[w.defaultAddress]
}

// GetAllAccounts returns every account held by the wallet.
func (w *Wallet) GetAllAccounts() []*Account {
	w.mu.RLock()
	defer w.mu.RUnlock()
	accounts := make([]*Account, 0, len(w.accounts))
	for _, a := range w.accounts {
		accounts = append(accounts, a)
	}
	return accounts
}

// CreateTransaction selects UTXOs owned by fromAddress covering amount+fee,
// builds a transaction paying toAddress (with a change output back to
// fromAddress if needed), and signs it.
func (w *Wallet) CreateTransaction(fromAddress, toAddress string, amount, fee uint64) (*block.Transaction, error) {
	account := w.GetAccount(fromAddress)
	if account == nil {
		return nil, fmt.Errorf("account not found: %s", fromAddress)
	}

	available := w.store.UTXOsFor(fromAddress)
	if len(available) == 0 {
		return nil, fmt.Errorf("no available UTXOs for address: %s", fromAddress)
	}

	needed := amount + fee
	var selected []*utxo.UTXO
	var selectedTotal uint64
	for _, u := range available {
		if selectedTotal >= needed {
			break
		}
		selected = append(selected, u)
		selectedTotal += u.Value
	}
	if selectedTotal < needed {
		return nil, fmt.Errorf("insufficient funds: need %d, have %d", needed, selectedTotal)
	}

	inputs := make([]*block.TxInput, 0, len(selected))
	for _, u := range selected {
		inputs = append(inputs, &block.TxInput{PrevTxHash: u.TxHash, PrevTxIndex: u.TxIndex})
	}

	outputs := make([]*block.TxOutput, 0, 2)
	outputs = append(outputs, &block.TxOutput{Value: amount, Owner: toAddress})
	if change := selectedTotal - needed; change > 0 {
		outputs = append(outputs, &block.TxOutput{Value: change, Owner: fromAddress})
	}

	tx := &block.Transaction{
		Type:    block.TxRegular,
		Version: 1,
		Inputs:  inputs,
		Outputs: outputs,
		Fee:     fee,
	}

	if err := w.SignTransaction(tx, fromAddress); err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	w.mu.Lock()
	account.Nonce++
	w.mu.Unlock()

	return tx, nil
}

// SignTransaction signs every input of tx owned by fromAddress, using the
// per-input canonical payload pkg/utxo verifies against. Inputs spending a
// UTXO this wallet does not hold the key for are left untouched.
func (w *Wallet) SignTransaction(tx *block.Transaction, fromAddress string) error {
	account := w.GetAccount(fromAddress)
	if account == nil {
		return fmt.Errorf("account not found: %s", fromAddress)
	}
	if account.key == nil {
		key, err := decodePrivateKeyPEM(account.PrivateKeyPEM)
		if err != nil {
			return fmt.Errorf("failed to load private key: %w", err)
		}
		account.key = key
	}

	signed := false
	for i, in := range tx.Inputs {
		u := w.store.Get(in.PrevTxHash, in.PrevTxIndex)
		if u == nil || u.Owner != fromAddress {
			continue
		}

		payload, err := utxo.BuildSigningPayload(tx, i, fromAddress)
		if err != nil {
			return fmt.Errorf("input %d: failed to build signing payload: %w", i, err)
		}
		digest := xhash.HashBytes(payload)

		sig := btcecdsa.Sign(account.key, digest[:])
		tx.Inputs[i].Signature = sig.Serialize()
		tx.Inputs[i].PublicKey = account.PublicKey
		signed = true
	}
	if !signed {
		return fmt.Errorf("no inputs owned by %s to sign", fromAddress)
	}

	tx.Finalize()
	return nil
}

// VerifyTransaction delegates to the UTXO store's transaction-validity
// check, the single authority on signature and spend correctness.
func (w *Wallet) VerifyTransaction(tx *block.Transaction) error {
	return w.store.Validate(tx)
}

// UpdateBalance sets the wallet-local cached balance for address. The
// authoritative balance lives in the UTXO store; callers refresh this
// cache after applying blocks.
func (w *Wallet) UpdateBalance(address string, balance uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if account, ok := w.accounts[address]; ok {
		account.Balance = balance
	}
}

// GetBalance returns the wallet-local cached balance for address.
func (w *Wallet) GetBalance(address string) uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if account, ok := w.accounts[address]; ok {
		return account.Balance
	}
	return 0
}

// ImportPrivateKey derives an account from a hex-encoded 32-byte secp256k1
// scalar and adds it to the wallet, returning any existing account for the
// same address unchanged.
func (w *Wallet) ImportPrivateKey(privateKeyHex string) (*Account, error) {
	raw, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("invalid private key length: %d", len(raw))
	}

	priv, pub := btcec.PrivKeyFromBytes(raw)
	pubBytes := pub.SerializeCompressed()
	address := xhash.AddressFromPublicKey(pubBytes)

	if existing := w.GetAccount(address); existing != nil {
		return existing, nil
	}

	pemKey, err := encodePrivateKeyPEM(priv)
	if err != nil {
		return nil, err
	}
	account := &Account{
		Address:       address,
		LegacyAddress: legacyAddress(pubBytes),
		PublicKey:     pubBytes,
		PrivateKeyPEM: pemKey,
		key:           priv,
	}

	w.mu.Lock()
	w.accounts[address] = account
	if w.defaultAddress == "" {
		w.defaultAddress = address
	}
	w.mu.Unlock()

	return account, nil
}

// ExportPrivateKey returns address's private key scalar as a hex string.
func (w *Wallet) ExportPrivateKey(address string) (string, error) {
	account := w.GetAccount(address)
	if account == nil {
		return "", fmt.Errorf("account not found: %s", address)
	}
	if account.key == nil {
		key, err := decodePrivateKeyPEM(account.PrivateKeyPEM)
		if err != nil {
			return "", fmt.Errorf("failed to load private key: %w", err)
		}
		account.key = key
	}
	return hex.EncodeToString(account.key.Serialize()), nil
}

// Save encrypts and persists every account's serializable fields.
func (w *Wallet) Save() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(w.accounts)
	if err != nil {
		return fmt.Errorf("failed to marshal wallet accounts: %w", err)
	}

	encrypted, err := w.encrypt(data)
	if err != nil {
		return fmt.Errorf("failed to encrypt wallet data: %w", err)
	}

	return w.storage.Write([]byte(w.walletFilePath), encrypted)
}

// Load replaces the wallet's accounts with the decrypted on-disk set.
func (w *Wallet) Load() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	encrypted, err := w.storage.Read([]byte(w.walletFilePath))
	if err != nil {
		return err
	}

	decrypted, err := w.decrypt(encrypted)
	if err != nil {
		return fmt.Errorf("failed to decrypt wallet data: %w", err)
	}

	var loaded map[string]*Account
	if err := json.Unmarshal(decrypted, &loaded); err != nil {
		return fmt.Errorf("failed to unmarshal wallet accounts: %w", err)
	}

	w.accounts = loaded
	w.defaultAddress = ""
	for addr := range w.accounts {
		w.defaultAddress = addr
		break
	}
	return nil
}

// encrypt returns salt(32) + nonce(12) + AES-GCM(data).
func (w *Wallet) encrypt(data []byte) ([]byte, error) {
	salt := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	key := deriveKey(w.passphrase, salt)
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nil, nonce, data, nil)
	result := make([]byte, 0, len(salt)+len(nonce)+len(ciphertext))
	result = append(result, salt...)
	result = append(result, nonce...)
	result = append(result, ciphertext...)
	return result, nil
}

func (w *Wallet) decrypt(data []byte) ([]byte, error) {
	if len(data) < 32+12 {
		return nil, fmt.Errorf("ciphertext too short")
	}
	salt := data[:32]
	nonce := data[32:44]
	ciphertext := data[44:]

	key := deriveKey(w.passphrase, salt)
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// deriveKey derives a 32-byte AES key from passphrase and salt via
// HMAC-SHA256 run for 100,000 iterations.
func deriveKey(passphrase string, salt []byte) []byte {
	passphraseBytes := []byte(passphrase)
	combined := append(append([]byte{}, passphraseBytes...), salt...)
	derived := sha256.Sum256(combined)
	key := derived[:]

	for i := 0; i < 100000; i++ {
		h := hmac.New(sha256.New, key)
		h.Write(passphraseBytes)
		h.Write(salt)
		h.Write([]byte{byte(i >> 24), byte(i >> 16), byte(i >> 8), byte(i)})
		key = h.Sum(nil)
	}
	return key
}

func encodePrivateKeyPEM(priv *btcec.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv.ToECDSA())
	if err != nil {
		return "", fmt.Errorf("failed to marshal private key: %w", err)
	}
	block := &pem.Block{Type: "PRIVATE KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

func decodePrivateKeyPEM(pemStr string) (*btcec.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("invalid PEM block")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PKCS8 key: %w", err)
	}
	ecKey, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unexpected private key type %T", parsed)
	}

	d := ecKey.D.Bytes()
	if len(d) < 32 {
		padded := make([]byte, 32)
		copy(padded[32-len(d):], d)
		d = padded
	}
	priv, _ := btcec.PrivKeyFromBytes(d)
	return priv, nil
}

// legacyAddress base58check-encodes the last 20 bytes of SHA256(pubkey)
// with a version byte and a double-SHA256 checksum, kept as an optional
// checksummed address form alongside the primary Address field.
func legacyAddress(pubKeyBytes []byte) string {
	hash := sha256.Sum256(pubKeyBytes)
	addressBytes := hash[len(hash)-20:]

	versioned := append([]byte{0x00}, addressBytes...)
	checksum1 := sha256.Sum256(versioned)
	checksum2 := sha256.Sum256(checksum1[:])
	combined := append(versioned, checksum2[:4]...)
	return base58.Encode(combined)
}
