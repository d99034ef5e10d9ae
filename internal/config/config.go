package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	ListenAddr     string
	HostRPCURL     string
	PoolAccountID  string
	OwnerID        string
	StakePublicKey string
	RewardFeeNum   uint64
	RewardFeeDen   uint64
	UnlockEpochs   uint64
	InitialBalance string
	Reserve        string
	StoreBackend   string
	StatePath      string
	PostgresDSN    string
	PingInterval   time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
	LogLevel       string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STAKEPOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen", ":8645")
	v.SetDefault("fee-denominator", uint64(100))
	v.SetDefault("unlock-epochs", uint64(4))
	v.SetDefault("initial-balance", "0")
	v.SetDefault("reserve", "0")
	v.SetDefault("store", "file")
	v.SetDefault("state", "./data/pool.json")
	v.SetDefault("ping-interval", time.Duration(0))
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		ListenAddr:     v.GetString("listen"),
		HostRPCURL:     v.GetString("rpc"),
		PoolAccountID:  v.GetString("pool-account"),
		OwnerID:        v.GetString("owner"),
		StakePublicKey: v.GetString("staking-key"),
		RewardFeeNum:   v.GetUint64("fee-numerator"),
		RewardFeeDen:   v.GetUint64("fee-denominator"),
		UnlockEpochs:   v.GetUint64("unlock-epochs"),
		InitialBalance: v.GetString("initial-balance"),
		Reserve:        v.GetString("reserve"),
		StoreBackend:   v.GetString("store"),
		StatePath:      v.GetString("state"),
		PostgresDSN:    v.GetString("pg-dsn"),
		PingInterval:   v.GetDuration("ping-interval"),
		MaxRetries:     v.GetInt("max-retries"),
		RetryBackoff:   v.GetDuration("retry-backoff"),
		LogLevel:       v.GetString("log-level"),
	}

	return cfg, nil
}

// Validate checks the settings needed to run the pool service.
func (c Config) Validate() error {
	if c.HostRPCURL == "" {
		return fmt.Errorf("host rpc url is required")
	}
	if c.PoolAccountID == "" {
		return fmt.Errorf("pool account id is required")
	}
	if c.OwnerID == "" {
		return fmt.Errorf("owner id is required")
	}
	if c.StakePublicKey == "" {
		return fmt.Errorf("staking key is required")
	}
	switch c.StoreBackend {
	case "file", "postgres", "memory":
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	if c.StoreBackend == "file" && c.StatePath == "" {
		return fmt.Errorf("state path is required for the file store")
	}
	if c.StoreBackend == "postgres" && c.PostgresDSN == "" {
		return fmt.Errorf("pg dsn is required for the postgres store")
	}
	return nil
}
