package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stakepool/internal/chain"
	"stakepool/internal/config"
	"stakepool/internal/model"
	"stakepool/internal/pool"
	"stakepool/internal/runner"
	"stakepool/internal/server"
	"stakepool/internal/storage"
	"stakepool/internal/storage/postgres"
)

func runService(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.HostRPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	p, err := loadOrInitPool(ctx, cfg, chainClient, store, logger)
	if err != nil {
		return err
	}

	r := runner.NewRunner(runner.RunConfig{
		PoolAccountID: cfg.PoolAccountID,
		MaxRetries:    cfg.MaxRetries,
		RetryBackoff:  cfg.RetryBackoff,
		PingInterval:  cfg.PingInterval,
	}, chainClient, p, store, logger)

	srv, err := server.New(cfg.ListenAddr, r, logger)
	if err != nil {
		return err
	}

	logger.Info("stakepool start",
		zap.String("listen", cfg.ListenAddr),
		zap.String("rpc", cfg.HostRPCURL),
		zap.String("pool_account", cfg.PoolAccountID),
		zap.String("owner", cfg.OwnerID),
		zap.String("store", cfg.StoreBackend),
		zap.Duration("ping_interval", cfg.PingInterval),
	)

	go func() {
		if err := r.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("runner stopped", zap.Error(err))
		}
	}()

	return srv.Run(ctx)
}

func openStore(ctx context.Context, cfg config.Config) (storage.Store, error) {
	switch cfg.StoreBackend {
	case "file":
		return storage.NewFileStore(cfg.StatePath), nil
	case "postgres":
		return postgres.NewStore(ctx, cfg.PostgresDSN)
	case "memory":
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// loadOrInitPool restores the persisted pool, or initializes a fresh one at
// the host's current epoch and persists it before serving.
func loadOrInitPool(ctx context.Context, cfg config.Config, chainClient *chain.Client, store storage.Store, logger *zap.Logger) (*pool.Pool, error) {
	rec, accounts, found, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if found {
		logger.Info("state restored",
			zap.Uint64("last_epoch_height", rec.LastEpochHeight),
			zap.Int("accounts", len(accounts)),
		)
		return pool.Restore(rec, accounts, logger)
	}

	initial, err := model.ParseAmount(cfg.InitialBalance)
	if err != nil {
		return nil, fmt.Errorf("initial balance: %w", err)
	}
	reserve, err := model.ParseAmount(cfg.Reserve)
	if err != nil {
		return nil, fmt.Errorf("reserve: %w", err)
	}
	epoch, err := chainClient.EpochHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("epoch height: %w", err)
	}

	p, err := pool.New(pool.Params{
		OwnerID:        cfg.OwnerID,
		StakePublicKey: cfg.StakePublicKey,
		RewardFee:      model.RewardFeeFraction{Numerator: cfg.RewardFeeNum, Denominator: cfg.RewardFeeDen},
		UnlockEpochs:   cfg.UnlockEpochs,
		InitialBalance: initial,
		Reserve:        reserve,
	}, epoch, logger)
	if err != nil {
		return nil, err
	}
	if err := store.SavePool(ctx, p.Record()); err != nil {
		return nil, fmt.Errorf("save initial state: %w", err)
	}
	return p, nil
}
