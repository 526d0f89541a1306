// Command pocchain runs and drives a teaching proof-of-work UTXO
// blockchain node: wallet management, sending value, mining pending
// transactions into blocks, and peer-to-peer sync over a plain TCP gossip
// protocol.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gochain/gochain/pkg/chain"
	"github.com/gochain/gochain/pkg/consensus"
	"github.com/gochain/gochain/pkg/contracts"
	"github.com/gochain/gochain/pkg/contracts/native"
	"github.com/gochain/gochain/pkg/logger"
	"github.com/gochain/gochain/pkg/p2p"
	"github.com/gochain/gochain/pkg/storage"
	"github.com/gochain/gochain/pkg/utxo"
	"github.com/gochain/gochain/pkg/wallet"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	configFile     string
	dataDir        string
	walletFile     string
	passphrase     string
	difficulty     uint64
	consensusKind  string
	poaAuthorities []string
	logLevel       string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pocchain",
		Short: "pocchain is a teaching proof-of-work UTXO blockchain node",
		Long: `pocchain runs a small UTXO blockchain node: proof-of-work block
assembly, a TCP peer gossip protocol, and wallet commands for sending value
and checking balances.`,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "./data", "node data directory")
	rootCmd.PersistentFlags().StringVar(&walletFile, "wallet-file", "wallet.dat", "path to the wallet file, relative to data-dir")
	rootCmd.PersistentFlags().StringVar(&passphrase, "passphrase", "", "passphrase for wallet encryption")
	rootCmd.PersistentFlags().Uint64Var(&difficulty, "difficulty", consensus.DefaultPoWConfig().Difficulty, "proof-of-work difficulty")
	rootCmd.PersistentFlags().StringVar(&consensusKind, "consensus", "pow", "consensus engine to run the chain under: pow or poa")
	rootCmd.PersistentFlags().StringSliceVar(&poaAuthorities, "authority", nil, "authority address (repeatable), required when --consensus=poa")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level for the chain and p2p loggers: debug, info, warn, error, fatal")

	rootCmd.AddCommand(createWalletCmd())
	rootCmd.AddCommand(balanceCmd())
	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(mineCmd())
	rootCmd.AddCommand(startNodeCmd())
	rootCmd.AddCommand(showCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() error {
	logger.SetDefaultLevel(logger.ParseLevel(logLevel))

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}
	return nil
}

// openStorage opens the node's single on-disk key-value store, shared by
// the chain snapshot and the wallet file.
func openStorage() (storage.StorageInterface, error) {
	cfg := storage.DefaultStorageConfig().WithDataDir(dataDir)
	s, err := storage.NewStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening storage at %s: %w", dataDir, err)
	}
	return s, nil
}

// newConsensusEngine builds the chain's single consensus engine from
// --consensus. pow is the default; poa rotates block production across a
// fixed authority set supplied via --authority and requires at least one.
func newConsensusEngine() (consensus.Engine, error) {
	switch consensusKind {
	case "", "pow":
		return consensus.NewProofOfWork(&consensus.PoWConfig{Difficulty: difficulty}), nil
	case "poa":
		if len(poaAuthorities) == 0 {
			return nil, fmt.Errorf("--consensus=poa requires at least one --authority")
		}
		return consensus.NewProofOfAuthority(nil, poaAuthorities), nil
	default:
		return nil, fmt.Errorf("unknown consensus engine %q (want pow or poa)", consensusKind)
	}
}

// newContractEngine returns a registry with every contract kind this node
// knows how to run natively compiled in.
func newContractEngine() contracts.Engine {
	r := contracts.NewRegistry()
	r.Register("counter@v1", func() contracts.NativeContract { return native.NewCounter() })
	r.Register("token@v1", func() contracts.NativeContract { return native.NewToken() })
	return r
}

func openChain(s storage.StorageInterface) (*chain.Blockchain, error) {
	engine, err := newConsensusEngine()
	if err != nil {
		return nil, err
	}
	bc, err := chain.Load(engine, newContractEngine(), s, nil)
	if err != nil {
		return nil, fmt.Errorf("loading chain: %w", err)
	}
	return bc, nil
}

// openWallet loads the wallet file if one exists, or creates and persists
// a brand new one with a single default account otherwise.
func openWallet(s storage.StorageInterface, store *utxo.Store) (*wallet.Wallet, error) {
	cfg := wallet.DefaultWalletConfig()
	cfg.WalletFile = walletFile
	cfg.Passphrase = passphrase

	w, err := wallet.NewWallet(cfg, store, s)
	if err != nil {
		return nil, fmt.Errorf("creating wallet: %w", err)
	}

	if err := w.Load(); err != nil {
		if err := w.Save(); err != nil {
			return nil, fmt.Errorf("saving new wallet: %w", err)
		}
	}

	for _, account := range w.GetAllAccounts() {
		w.UpdateBalance(account.Address, store.Balance(account.Address))
	}
	return w, nil
}

func createWalletCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create-wallet",
		Short: "create a wallet, or print the existing one's default account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(); err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			s, err := openStorage()
			if err != nil {
				return err
			}
			defer s.Close()

			w, err := openWallet(s, utxo.NewStore())
			if err != nil {
				return err
			}

			account := w.GetDefaultAccount()
			fmt.Printf("Address: %s\n", account.Address)
			fmt.Printf("Legacy address: %s\n", account.LegacyAddress)
			fmt.Printf("Public key: %x\n", account.PublicKey)
			return nil
		},
	}
}

func balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance <address>",
		Short: "print an address's confirmed UTXO balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(); err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			s, err := openStorage()
			if err != nil {
				return err
			}
			defer s.Close()

			bc, err := openChain(s)
			if err != nil {
				return err
			}

			fmt.Printf("Balance for %s: %d\n", args[0], bc.UTXOSet().Balance(args[0]))
			return nil
		},
	}
}

func sendCmd() *cobra.Command {
	var from, to string
	var amount, fee uint64
	var broadcast bool
	var peers []string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "build, sign, and submit a transaction to the mempool",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(); err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			s, err := openStorage()
			if err != nil {
				return err
			}
			defer s.Close()

			bc, err := openChain(s)
			if err != nil {
				return err
			}

			w, err := openWallet(s, bc.UTXOSet())
			if err != nil {
				return err
			}

			if from == "" {
				from = w.GetDefaultAccount().Address
			}

			tx, err := w.CreateTransaction(from, to, amount, fee)
			if err != nil {
				return fmt.Errorf("creating transaction: %w", err)
			}
			if err := bc.AddTransaction(tx); err != nil {
				return fmt.Errorf("submitting transaction: %w", err)
			}
			if err := w.Save(); err != nil {
				return fmt.Errorf("saving wallet: %w", err)
			}
			if err := bc.Save(s); err != nil {
				return fmt.Errorf("saving chain: %w", err)
			}

			fmt.Printf("Transaction %s: %s -> %s, amount=%d fee=%d\n", tx.HexHash(), from, to, amount, fee)

			if broadcast {
				p2p.BroadcastTransaction(peers, tx)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "sending address (default: wallet's default account)")
	cmd.Flags().StringVar(&to, "to", "", "recipient address")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "amount to send")
	cmd.Flags().Uint64Var(&fee, "fee", 0, "transaction fee")
	cmd.Flags().BoolVar(&broadcast, "broadcast", false, "gossip the transaction to peers after submitting it")
	cmd.Flags().StringSliceVar(&peers, "peers", nil, "peer addresses to broadcast to (host:port)")
	cmd.MarkFlagRequired("to")
	cmd.MarkFlagRequired("amount")

	return cmd
}

func mineCmd() *cobra.Command {
	var rewardAddress string
	var broadcast bool
	var peers []string

	cmd := &cobra.Command{
		Use:   "mine",
		Short: "mine one block from the pending transaction pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(); err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			s, err := openStorage()
			if err != nil {
				return err
			}
			defer s.Close()

			bc, err := openChain(s)
			if err != nil {
				return err
			}

			mined, err := bc.MinePendingTransactions(rewardAddress, nil)
			if err != nil {
				return fmt.Errorf("mining: %w", err)
			}
			if err := bc.Save(s); err != nil {
				return fmt.Errorf("saving chain: %w", err)
			}

			fmt.Printf("Mined block height=%d hash=%s transactions=%d\n", mined.Header.Height, mined.HexHash(), len(mined.Transactions))

			if broadcast {
				p2p.BroadcastNewBlock(peers)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&rewardAddress, "reward-address", "", "address to credit the mining reward to")
	cmd.Flags().BoolVar(&broadcast, "broadcast", false, "announce the new block to peers after mining")
	cmd.Flags().StringSliceVar(&peers, "peers", nil, "peer addresses to announce to (host:port)")
	cmd.MarkFlagRequired("reward-address")

	return cmd
}

func startNodeCmd() *cobra.Command {
	var port int
	var connect []string

	cmd := &cobra.Command{
		Use:   "start-node",
		Short: "run a peer gossip server against the node's chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(); err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			s, err := openStorage()
			if err != nil {
				return err
			}
			defer s.Close()

			bc, err := openChain(s)
			if err != nil {
				return err
			}

			for _, peer := range connect {
				if err := p2p.SyncWithPeer(bc, peer); err != nil {
					fmt.Fprintf(os.Stderr, "sync with %s failed: %v\n", peer, err)
				}
			}

			srv := p2p.NewServer(fmt.Sprintf(":%d", port), bc, 0)
			if err := srv.Listen(); err != nil {
				return fmt.Errorf("starting server: %w", err)
			}
			fmt.Printf("Listening on %s (height=%d)\n", srv.Addr(), bc.Height())

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go func() {
				<-ctx.Done()
				srv.Close()
			}()

			err = srv.Serve()
			if saveErr := bc.Save(s); saveErr != nil {
				fmt.Fprintf(os.Stderr, "saving chain on shutdown: %v\n", saveErr)
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}

	cmd.Flags().IntVar(&port, "port", 9000, "TCP port to listen on")
	cmd.Flags().StringSliceVar(&connect, "connect", nil, "peer addresses to sync with on startup (host:port)")

	return cmd
}

func showCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "print a summary of the node's chain state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(); err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			s, err := openStorage()
			if err != nil {
				return err
			}
			defer s.Close()

			bc, err := openChain(s)
			if err != nil {
				return err
			}

			summary := map[string]interface{}{
				"height":          bc.Height(),
				"mempool_size":    bc.Mempool().Count(),
				"utxo_set_stats":  bc.UTXOSet().Stats(),
				"chain_valid_err": errString(bc.IsChainValid()),
			}

			if asJSON {
				data, err := json.MarshalIndent(summary, "", "  ")
				if err != nil {
					return fmt.Errorf("encoding summary: %w", err)
				}
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("Height: %v\n", summary["height"])
			fmt.Printf("Mempool size: %v\n", summary["mempool_size"])
			fmt.Printf("UTXO set: %v\n", summary["utxo_set_stats"])
			if summary["chain_valid_err"] != "" {
				fmt.Printf("Chain validation error: %v\n", summary["chain_valid_err"])
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
