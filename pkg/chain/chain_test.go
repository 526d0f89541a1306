package chain

import (
	"encoding/json"
	"testing"

	"github.com/gochain/gochain/pkg/block"
	"github.com/gochain/gochain/pkg/consensus"
	"github.com/gochain/gochain/pkg/contracts"
	"github.com/gochain/gochain/pkg/contracts/native"
	"github.com/gochain/gochain/pkg/crypto_utils"
	"github.com/gochain/gochain/pkg/utxo"
	"github.com/gochain/gochain/pkg/xhash"
)

func newTestChain(t *testing.T) *Blockchain {
	pow := consensus.NewProofOfWork(&consensus.PoWConfig{Difficulty: 1})
	bc, err := New(pow, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return bc
}

func newTestChainWithContracts(t *testing.T) *Blockchain {
	pow := consensus.NewProofOfWork(&consensus.PoWConfig{Difficulty: 1})
	registry := contracts.NewRegistry()
	registry.Register("counter@v1", func() contracts.NativeContract { return native.NewCounter() })
	bc, err := New(pow, registry, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return bc
}

// signContractInput signs input 0 of tx on behalf of owner, the same way
// crypto_utils.CreateSignedTransaction signs a regular transfer, then
// finalizes tx's hash.
func signContractInput(t *testing.T, tx *block.Transaction, owner string, kp *crypto_utils.TestKeyPair) {
	ctu := crypto_utils.NewCryptoTestUtils(t)
	payload, err := utxo.BuildSigningPayload(tx, 0, owner)
	if err != nil {
		t.Fatalf("BuildSigningPayload: %v", err)
	}
	digest := xhash.HashBytes(payload)
	sig, err := ctu.Sign(digest[:], kp.PrivateKey)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	tx.Inputs[0].Signature = sig
	tx.Inputs[0].PublicKey = kp.PublicKey.SerializeCompressed()
	tx.Finalize()
}

func TestNewChainHasGenesis(t *testing.T) {
	bc := newTestChain(t)

	if bc.Height() != 0 {
		t.Fatalf("expected genesis height 0, got %d", bc.Height())
	}
	if got := bc.UTXOSet().Balance(GenesisAddress); got != GenesisReward {
		t.Fatalf("expected genesis balance %d, got %d", GenesisReward, got)
	}
}

func TestMinePendingTransactionsPaysReward(t *testing.T) {
	bc := newTestChain(t)

	b, err := bc.MinePendingTransactions("miner", nil)
	if err != nil {
		t.Fatalf("MinePendingTransactions: %v", err)
	}
	if b.Header.Height != 1 {
		t.Fatalf("expected height 1, got %d", b.Header.Height)
	}
	if got := bc.UTXOSet().Balance("miner"); got != DefaultMiningReward {
		t.Fatalf("expected miner balance %d, got %d", DefaultMiningReward, got)
	}
}

func TestAddTransactionAndMineSpendsUTXO(t *testing.T) {
	bc := newTestChain(t)
	ctu := crypto_utils.NewCryptoTestUtils(t)

	miner := ctu.GenerateTestKeyPair()
	bob := ctu.GenerateTestKeyPair()

	coinbaseBlock, err := bc.MinePendingTransactions(miner.Address, nil)
	if err != nil {
		t.Fatalf("mining coinbase block: %v", err)
	}
	coinbaseTx := coinbaseBlock.Transactions[0]

	tx := ctu.CreateTestTransaction(miner, bob, coinbaseTx.Hash, 0, DefaultMiningReward, 30, 5)
	if err := bc.AddTransaction(tx); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}

	if _, err := bc.MinePendingTransactions(miner.Address, nil); err != nil {
		t.Fatalf("mining spend block: %v", err)
	}

	if got := bc.UTXOSet().Balance(bob.Address); got != 30 {
		t.Fatalf("expected bob balance 30, got %d", got)
	}
	// miner started with DefaultMiningReward, spent it all (minus change)
	// on the second tx's input, then earned another DefaultMiningReward
	// from the second block's coinbase; remaining change is 65.
	wantMiner := uint64(DefaultMiningReward) + 65
	if got := bc.UTXOSet().Balance(miner.Address); got != wantMiner {
		t.Fatalf("expected miner balance %d, got %d", wantMiner, got)
	}
}

func TestAddTransactionRejectsUnknownUTXO(t *testing.T) {
	bc := newTestChain(t)
	ctu := crypto_utils.NewCryptoTestUtils(t)

	ghost := ctu.GenerateTestKeyPair()
	bob := ctu.GenerateTestKeyPair()

	tx := ctu.CreateTestTransaction(ghost, bob, []byte("nonexistent"), 0, 100, 10, 1)
	if err := bc.AddTransaction(tx); err == nil {
		t.Fatal("expected AddTransaction to reject a transaction spending a nonexistent UTXO")
	}
}

func TestMineRejectsDoubleSpendWithinBlock(t *testing.T) {
	bc := newTestChain(t)
	ctu := crypto_utils.NewCryptoTestUtils(t)

	miner := ctu.GenerateTestKeyPair()
	bob := ctu.GenerateTestKeyPair()
	carol := ctu.GenerateTestKeyPair()

	coinbaseBlock, err := bc.MinePendingTransactions(miner.Address, nil)
	if err != nil {
		t.Fatalf("mining coinbase block: %v", err)
	}
	coinbaseTx := coinbaseBlock.Transactions[0]

	txToBob := ctu.CreateTestTransaction(miner, bob, coinbaseTx.Hash, 0, DefaultMiningReward, 20, 1)
	txToCarol := ctu.CreateTestTransaction(miner, carol, coinbaseTx.Hash, 0, DefaultMiningReward, 20, 1)

	if err := bc.AddTransaction(txToBob); err != nil {
		t.Fatalf("add first spend: %v", err)
	}
	// The second spend of the same UTXO still validates against the UTXO
	// set, since AddTransaction never marks anything spent — only mining
	// does. The conflict is only caught when both land in the same block.
	if err := bc.AddTransaction(txToCarol); err != nil {
		t.Fatalf("add second spend: %v", err)
	}

	before := bc.Mempool().Count()
	if _, err := bc.MinePendingTransactions(miner.Address, nil); err == nil {
		t.Fatal("expected mining to reject a block with a double spend")
	}
	if bc.Mempool().Count() != before {
		t.Fatalf("expected mempool untouched after a failed mining attempt, had %d now has %d", before, bc.Mempool().Count())
	}
}

func TestIsChainValidDetectsTampering(t *testing.T) {
	bc := newTestChain(t)

	if _, err := bc.MinePendingTransactions("miner", nil); err != nil {
		t.Fatalf("mining: %v", err)
	}
	if err := bc.IsChainValid(); err != nil {
		t.Fatalf("expected valid chain, got %v", err)
	}

	bc.blocks[1].Transactions[0].Outputs[0].Value = 999999
	if err := bc.IsChainValid(); err == nil {
		t.Fatal("expected tampering with a block's transaction to be detected")
	}
}

func TestReplaceChainAcceptsLongerValidChain(t *testing.T) {
	bc := newTestChain(t)
	fork := newTestChain(t)

	if _, err := bc.MinePendingTransactions("miner", nil); err != nil {
		t.Fatalf("mining bc block 1: %v", err)
	}

	if _, err := fork.MinePendingTransactions("forker", nil); err != nil {
		t.Fatalf("mining fork block 1: %v", err)
	}
	if _, err := fork.MinePendingTransactions("forker", nil); err != nil {
		t.Fatalf("mining fork block 2: %v", err)
	}

	if err := bc.ReplaceChain(fork.Blocks()); err != nil {
		t.Fatalf("ReplaceChain: %v", err)
	}
	if bc.Height() != 2 {
		t.Fatalf("expected height 2 after replacement, got %d", bc.Height())
	}
	if got := bc.UTXOSet().Balance("forker"); got != 2*DefaultMiningReward {
		t.Fatalf("expected forker balance %d after replacement, got %d", 2*DefaultMiningReward, got)
	}
}

func TestReplaceChainRejectsShorterChain(t *testing.T) {
	bc := newTestChain(t)
	shorter := newTestChain(t)

	if _, err := bc.MinePendingTransactions("miner", nil); err != nil {
		t.Fatalf("mining: %v", err)
	}

	if err := bc.ReplaceChain(shorter.Blocks()); err == nil {
		t.Fatal("expected ReplaceChain to reject a chain no longer than the current one")
	}
}

func TestReplaceChainRejectsInvalidChain(t *testing.T) {
	bc := newTestChain(t)
	candidate := newTestChain(t)

	if _, err := candidate.MinePendingTransactions("miner", nil); err != nil {
		t.Fatalf("mining: %v", err)
	}
	if _, err := candidate.MinePendingTransactions("miner", nil); err != nil {
		t.Fatalf("mining: %v", err)
	}

	tampered := candidate.Blocks()
	tampered[1].Transactions[0].Outputs[0].Value = 42

	if err := bc.ReplaceChain(tampered); err == nil {
		t.Fatal("expected ReplaceChain to reject a chain with a tampered block")
	}
}

func TestAddTransactionRejectsNilTransaction(t *testing.T) {
	bc := newTestChain(t)
	if err := bc.AddTransaction(nil); err == nil {
		t.Fatal("expected AddTransaction(nil) to fail")
	}
}

func TestCoinbaseIsRecognized(t *testing.T) {
	bc := newTestChain(t)
	b, err := bc.MinePendingTransactions("miner", nil)
	if err != nil {
		t.Fatalf("mining: %v", err)
	}
	if b.Transactions[0].Type != block.TxCoinbase {
		t.Fatalf("expected first transaction in a mined block to be a coinbase")
	}
}

// TestContractDeployThenExecuteRoundTrips exercises a full deploy, fund the
// deployment's contract_id from the previous block's contract_results, then
// execute against it — the path spec.md §4.4 describes for contract
// transactions.
func TestContractDeployThenExecuteRoundTrips(t *testing.T) {
	bc := newTestChainWithContracts(t)
	ctu := crypto_utils.NewCryptoTestUtils(t)
	owner := ctu.GenerateTestKeyPair()

	coinbaseBlock, err := bc.MinePendingTransactions(owner.Address, nil)
	if err != nil {
		t.Fatalf("mining coinbase block: %v", err)
	}
	coinbaseTx := coinbaseBlock.Transactions[0]

	deployCall := contractCall{
		Op:     "deploy",
		Code:   []byte("counter@v1"),
		Params: map[string]interface{}{"start": float64(5)},
		Sender: owner.Address,
	}
	deployData, err := json.Marshal(deployCall)
	if err != nil {
		t.Fatalf("marshal deploy call: %v", err)
	}

	deployTx := &block.Transaction{
		Type:         block.TxContract,
		Version:      1,
		Inputs:       []*block.TxInput{{PrevTxHash: coinbaseTx.Hash, PrevTxIndex: 0}},
		Outputs:      []*block.TxOutput{{Value: DefaultMiningReward, Owner: owner.Address}},
		Fee:          0,
		ContractData: deployData,
	}
	signContractInput(t, deployTx, owner.Address, owner)

	if err := bc.AddTransaction(deployTx); err != nil {
		t.Fatalf("AddTransaction(deploy): %v", err)
	}
	deployBlock, err := bc.MinePendingTransactions(owner.Address, nil)
	if err != nil {
		t.Fatalf("mining deploy block: %v", err)
	}

	result, ok := deployBlock.ContractResults[deployTx.HexHash()]
	if !ok {
		t.Fatalf("expected a contract_results entry for %s, got %v", deployTx.HexHash(), deployBlock.ContractResults)
	}
	contractID, ok := result["contract_id"].(string)
	if !ok || contractID == "" {
		t.Fatalf("expected deploy result to carry a contract_id, got %v", result)
	}

	executeCall := contractCall{
		Op:         "execute",
		ContractID: contractID,
		Method:     "increment",
		Params:     map[string]interface{}{"by": float64(3)},
		Sender:     owner.Address,
	}
	executeData, err := json.Marshal(executeCall)
	if err != nil {
		t.Fatalf("marshal execute call: %v", err)
	}

	executeTx := &block.Transaction{
		Type:         block.TxContract,
		Version:      1,
		Inputs:       []*block.TxInput{{PrevTxHash: deployTx.Hash, PrevTxIndex: 0}},
		Outputs:      []*block.TxOutput{{Value: DefaultMiningReward, Owner: owner.Address}},
		Fee:          0,
		ContractData: executeData,
	}
	signContractInput(t, executeTx, owner.Address, owner)

	if err := bc.AddTransaction(executeTx); err != nil {
		t.Fatalf("AddTransaction(execute): %v", err)
	}
	executeBlock, err := bc.MinePendingTransactions(owner.Address, nil)
	if err != nil {
		t.Fatalf("mining execute block: %v", err)
	}

	executeResult, ok := executeBlock.ContractResults[executeTx.HexHash()]
	if !ok {
		t.Fatalf("expected a contract_results entry for %s, got %v", executeTx.HexHash(), executeBlock.ContractResults)
	}
	if executeResult["value"] != int64(8) {
		t.Fatalf("expected counter value 8 after incrementing by 3 from start 5, got %v", executeResult["value"])
	}
}
