package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"stakepool/internal/config"
)

func runAccounts(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	fromIndex, _ := cmd.Flags().GetUint64("from-index")
	limit, _ := cmd.Flags().GetUint64("limit")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	accounts, err := store.ListAccounts(ctx, fromIndex, limit)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	for _, rec := range accounts {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	fmt.Fprintf(os.Stderr, "%d accounts\n", len(accounts))
	return nil
}
