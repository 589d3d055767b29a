package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nodeIndexer/internal/chain"
	"nodeIndexer/internal/config"
	"nodeIndexer/internal/indexer"
	"nodeIndexer/internal/logger"
	"nodeIndexer/internal/model"
	"nodeIndexer/internal/storage"
	"nodeIndexer/internal/storage/memory"
	"nodeIndexer/internal/storage/postgres"
)

func loadRuntime(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}

func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (storage.Store, error) {
	if err := cfg.ValidateStore(); err != nil {
		return nil, err
	}
	if cfg.Store == config.StoreMemory {
		log.Warn("using in-memory store, indexed data is lost on exit")
		return memory.NewStore(), nil
	}

	store, err := postgres.NewStore(ctx, cfg.PGDSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	log.Info("postgres store ready", zap.String("pg_dsn", redactDSN(cfg.PGDSN)))
	return store, nil
}

func dialChain(ctx context.Context, cfg config.Config) (*chain.Client, uint64, error) {
	if err := cfg.ValidateChain(); err != nil {
		return nil, 0, err
	}
	client, err := chain.NewClient(ctx, cfg.RPCURL, chain.Options{
		RateLimit: cfg.RPCRateLimit,
		Burst:     cfg.RPCBurst,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("connect rpc: %w", err)
	}
	chainID, err := client.GetChainID(ctx)
	if err != nil {
		client.Close()
		return nil, 0, fmt.Errorf("get chain id: %w", err)
	}
	if !chainID.IsUint64() {
		client.Close()
		return nil, 0, fmt.Errorf("chain id does not fit in uint64: %s", chainID)
	}
	return client, chainID.Uint64(), nil
}

func newService(
	cfg config.Config,
	chainID uint64,
	source indexer.LogSource,
	store storage.Store,
	reg prometheus.Registerer,
	log *zap.Logger,
) (*indexer.Service, error) {
	contract, err := indexer.ParseContract(cfg.Contract)
	if err != nil {
		return nil, err
	}

	var decodeErrors *storage.JsonlSink
	if cfg.DecodeErrors != "" {
		decodeErrors = storage.NewJsonlSink(cfg.DecodeErrors)
	}

	return indexer.NewService(indexer.Config{
		Contract:      contract,
		ChainID:       chainID,
		StartBlock:    cfg.FromBlock,
		BatchSize:     cfg.BatchSize,
		BatchDelay:    cfg.BatchDelay,
		MaxRetries:    cfg.MaxRetries,
		RetryBackoff:  cfg.RetryBackoff,
		CatchUp:       cfg.CatchUp,
		RetryInterval: cfg.RetryInterval,
		Registerer:    reg,
		DecodeErrors:  decodeErrors,
	}, source, store, logger.WithComponent(log, "indexer"))
}

// storeOnlySource backs commands that only read the store; calling any
// LogSource method on it panics.
type storeOnlySource struct{ indexer.LogSource }

type readOnly interface {
	Status(ctx context.Context) (indexer.Status, error)
	Stats(ctx context.Context) (model.Stats, error)
}

func withReadOnlyService(cmd *cobra.Command, fn func(ctx context.Context, svc readOnly) (interface{}, error)) error {
	cfg, log, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx := cmd.Context()
	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	svc, err := newService(cfg, 0, storeOnlySource{}, store, nil, log)
	if err != nil {
		return err
	}
	value, err := fn(ctx, svc)
	if err != nil {
		return err
	}
	return printJSON(cmd, value)
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}
