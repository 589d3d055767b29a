package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Store backends accepted by the store key.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL       string
	Contract     string
	PGDSN        string
	Store        string
	FromBlock    uint64
	ToBlock      uint64
	BatchSize    uint64
	BatchDelay   time.Duration
	MaxRetries   int
	RetryBackoff time.Duration

	RPCRateLimit float64
	RPCBurst     int

	CatchUp       bool
	RetryInterval time.Duration
	Listen        string
	DecodeErrors  string

	LogLevel    string
	LogEncoding string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INDEXER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("store", StorePostgres)
	v.SetDefault("batch-size", uint64(2000))
	v.SetDefault("batch-delay", 100*time.Millisecond)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("rpc-rate-limit", 0.0)
	v.SetDefault("rpc-burst", 10)
	v.SetDefault("catch-up", true)
	v.SetDefault("retry-interval", time.Minute)
	v.SetDefault("listen", ":8080")
	v.SetDefault("log-level", "info")
	v.SetDefault("log-encoding", "json")

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
		RPCURL:        strings.TrimSpace(v.GetString("rpc")),
		Contract:      strings.TrimSpace(v.GetString("contract")),
		PGDSN:         v.GetString("pg-dsn"),
		Store:         strings.ToLower(strings.TrimSpace(v.GetString("store"))),
		FromBlock:     v.GetUint64("from"),
		ToBlock:       v.GetUint64("to"),
		BatchSize:     v.GetUint64("batch-size"),
		BatchDelay:    v.GetDuration("batch-delay"),
		MaxRetries:    v.GetInt("max-retries"),
		RetryBackoff:  v.GetDuration("retry-backoff"),
		RPCRateLimit:  v.GetFloat64("rpc-rate-limit"),
		RPCBurst:      v.GetInt("rpc-burst"),
		CatchUp:       v.GetBool("catch-up"),
		RetryInterval: v.GetDuration("retry-interval"),
		Listen:        v.GetString("listen"),
		DecodeErrors:  v.GetString("decode-errors"),
		LogLevel:      v.GetString("log-level"),
		LogEncoding:   v.GetString("log-encoding"),
	}

	return cfg, nil
}

// ValidateStore checks the store selection and its DSN.
func (c Config) ValidateStore() error {
	switch c.Store {
	case StorePostgres:
		if c.PGDSN == "" {
			return fmt.Errorf("pg-dsn is required for the postgres store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store %q (want %s or %s)", c.Store, StorePostgres, StoreMemory)
	}
	return nil
}

// ValidateChain checks the settings needed to talk to the ledger.
func (c Config) ValidateChain() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if c.Contract == "" {
		return fmt.Errorf("contract address is required")
	}
	if c.BatchSize == 0 {
		return fmt.Errorf("batch size must be greater than zero")
	}
	return nil
}
