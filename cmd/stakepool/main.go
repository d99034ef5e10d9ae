package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "stakepool",
		Short:        "Delegated staking pool service",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the staking pool service",
		RunE:  runService,
	}

	runCmd.Flags().String("listen", ":8645", "JSON-RPC listen address")
	runCmd.Flags().String("rpc", "", "host node RPC URL")
	runCmd.Flags().String("pool-account", "", "pool account ID on the host")
	runCmd.Flags().String("owner", "", "pool owner account ID")
	runCmd.Flags().String("staking-key", "", "validator public key (base58 ed25519)")
	runCmd.Flags().Uint64("fee-numerator", 0, "reward fee numerator")
	runCmd.Flags().Uint64("fee-denominator", 100, "reward fee denominator")
	runCmd.Flags().Uint64("unlock-epochs", 4, "epochs before unstaked balance unlocks")
	runCmd.Flags().String("initial-balance", "0", "pool balance at initialization")
	runCmd.Flags().String("reserve", "0", "slice of the initial balance kept unstaked")
	runCmd.Flags().String("store", "file", "state store backend (file, postgres, memory)")
	runCmd.Flags().String("state", "./data/pool.json", "state file path (file store)")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN (postgres store)")
	runCmd.Flags().Duration("ping-interval", 0, "background reward distribution interval, 0 disables")
	runCmd.Flags().Int("max-retries", 5, "maximum retry attempts for host fact reads")
	runCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	accountsCmd := &cobra.Command{
		Use:   "accounts",
		Short: "List stored account records",
		RunE:  runAccounts,
	}

	accountsCmd.Flags().String("store", "file", "state store backend (file, postgres, memory)")
	accountsCmd.Flags().String("state", "./data/pool.json", "state file path (file store)")
	accountsCmd.Flags().String("pg-dsn", "", "Postgres DSN (postgres store)")
	accountsCmd.Flags().Uint64("from-index", 0, "first account index")
	accountsCmd.Flags().Uint64("limit", 50, "maximum number of accounts")
	accountsCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(accountsCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Print the stored pool record",
		RunE:  runStatus,
	}

	statusCmd.Flags().String("store", "file", "state store backend (file, postgres, memory)")
	statusCmd.Flags().String("state", "./data/pool.json", "state file path (file store)")
	statusCmd.Flags().String("pg-dsn", "", "Postgres DSN (postgres store)")
	statusCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(statusCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
