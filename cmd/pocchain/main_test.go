package main

import (
	"bytes"
	"io"
	"os"
	"testing"
)

// withCapturedStdout runs fn with os.Stdout redirected, returning whatever
// it wrote.
func withCapturedStdout(t *testing.T, fn func()) string {
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

func resetFlags(t *testing.T) {
	dataDir = t.TempDir()
	walletFile = "wallet.dat"
	passphrase = ""
	difficulty = 1
	configFile = ""
	consensusKind = "pow"
	poaAuthorities = nil
	logLevel = "info"
}

func TestCreateWalletThenReloadReturnsSameAddress(t *testing.T) {
	resetFlags(t)
	cmd := createWalletCmd()

	first := withCapturedStdout(t, func() {
		if err := cmd.RunE(cmd, nil); err != nil {
			t.Fatalf("first create-wallet: %v", err)
		}
	})

	second := withCapturedStdout(t, func() {
		if err := cmd.RunE(cmd, nil); err != nil {
			t.Fatalf("second create-wallet: %v", err)
		}
	})

	if first != second {
		t.Fatalf("expected reloading the wallet to print the same account, got:\n%s\nvs\n%s", first, second)
	}
}

func TestBalanceOfUnknownAddressIsZero(t *testing.T) {
	resetFlags(t)
	cmd := balanceCmd()

	out := withCapturedStdout(t, func() {
		if err := cmd.RunE(cmd, []string{"nobody"}); err != nil {
			t.Fatalf("balance: %v", err)
		}
	})

	if !bytes.Contains([]byte(out), []byte("Balance for nobody: 0")) {
		t.Fatalf("expected zero balance for an unknown address, got: %s", out)
	}
}

func TestMineCreditsRewardAddressAndPersistsAcrossInvocations(t *testing.T) {
	resetFlags(t)

	mine := mineCmd()
	mine.Flags().Set("reward-address", "miner1")
	if err := mine.RunE(mine, nil); err != nil {
		t.Fatalf("mine: %v", err)
	}

	balance := balanceCmd()
	out := withCapturedStdout(t, func() {
		if err := balance.RunE(balance, []string{"miner1"}); err != nil {
			t.Fatalf("balance: %v", err)
		}
	})
	if !bytes.Contains([]byte(out), []byte("Balance for miner1: 100")) {
		t.Fatalf("expected miner1 to hold the mining reward, got: %s", out)
	}
}

func TestSendRequiresSufficientFunds(t *testing.T) {
	resetFlags(t)

	send := sendCmd()
	send.Flags().Set("from", "nobody")
	send.Flags().Set("to", "someone")
	send.Flags().Set("amount", "10")

	if err := send.RunE(send, nil); err == nil {
		t.Fatalf("expected sending from an address with no UTXOs to fail")
	}
}

func TestMineUnderProofOfAuthorityRequiresARegisteredAuthority(t *testing.T) {
	resetFlags(t)
	consensusKind = "poa"
	poaAuthorities = []string{"authority1"}

	mine := mineCmd()
	mine.Flags().Set("reward-address", "someone-else")
	if err := mine.RunE(mine, nil); err == nil {
		t.Fatalf("expected mining under PoA with a non-authority producer to fail")
	}

	mine = mineCmd()
	mine.Flags().Set("reward-address", "authority1")
	if err := mine.RunE(mine, nil); err != nil {
		t.Fatalf("mine as registered authority: %v", err)
	}

	balance := balanceCmd()
	out := withCapturedStdout(t, func() {
		if err := balance.RunE(balance, []string{"authority1"}); err != nil {
			t.Fatalf("balance: %v", err)
		}
	})
	if !bytes.Contains([]byte(out), []byte("Balance for authority1: 100")) {
		t.Fatalf("expected authority1 to hold the mining reward, got: %s", out)
	}
}

func TestConsensusFlagRejectsUnknownEngine(t *testing.T) {
	resetFlags(t)
	consensusKind = "nonsense"

	mine := mineCmd()
	mine.Flags().Set("reward-address", "miner1")
	if err := mine.RunE(mine, nil); err == nil {
		t.Fatalf("expected an unknown --consensus value to fail")
	}
}

func TestShowReportsHeightAfterMining(t *testing.T) {
	resetFlags(t)

	mine := mineCmd()
	mine.Flags().Set("reward-address", "miner1")
	if err := mine.RunE(mine, nil); err != nil {
		t.Fatalf("mine: %v", err)
	}

	show := showCmd()
	show.Flags().Set("json", "true")
	out := withCapturedStdout(t, func() {
		if err := show.RunE(show, nil); err != nil {
			t.Fatalf("show: %v", err)
		}
	})
	if !bytes.Contains([]byte(out), []byte(`"height": 1`)) {
		t.Fatalf("expected height 1 after mining one block, got: %s", out)
	}
}
