package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nodeIndexer/internal/api"
	"nodeIndexer/internal/logger"
	"nodeIndexer/internal/storage/postgres"
)

const stopTimeout = 15 * time.Second

func runIndexer(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	client, chainID, err := dialChain(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc, err := newService(cfg, chainID, client, store, reg, log)
	if err != nil {
		return err
	}

	log.Info("indexer start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("contract", svc.Contract()),
		zap.Uint64("chain_id", chainID),
		zap.String("store", cfg.Store),
		zap.Uint64("from", cfg.FromBlock),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.Bool("catch_up", cfg.CatchUp),
		zap.String("listen", cfg.Listen),
	)

	if err := svc.Start(ctx); err != nil {
		return err
	}

	server := api.NewServer(cfg.Listen, svc, store, reg, logger.WithComponent(log, "api"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		return svc.Stop(stopCtx)
	})
	return g.Wait()
}

func runBackfill(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	client, chainID, err := dialChain(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	svc, err := newService(cfg, chainID, client, store, nil, log)
	if err != nil {
		return err
	}

	var to *uint64
	if cfg.ToBlock != 0 {
		to = &cfg.ToBlock
	}
	result, err := svc.Backfill(ctx, cfg.FromBlock, to)
	log.Info("backfill finished",
		zap.Uint64("from", result.From),
		zap.Uint64("to", result.To),
		zap.Uint64("last_block", result.LastBlock),
		zap.Int("processed", result.Processed),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", result.Errors),
	)
	if err != nil {
		return err
	}
	return printJSON(cmd, result)
}

func runRetry(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	limit, _ := cmd.Flags().GetInt("limit")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	client, chainID, err := dialChain(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	svc, err := newService(cfg, chainID, client, store, nil, log)
	if err != nil {
		return err
	}
	result, err := svc.RetryFailed(ctx, limit)
	if err != nil {
		return err
	}
	return printJSON(cmd, result)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	return withReadOnlyService(cmd, func(ctx context.Context, svc readOnly) (interface{}, error) {
		return svc.Status(ctx)
	})
}

func runStats(cmd *cobra.Command, _ []string) error {
	return withReadOnlyService(cmd, func(ctx context.Context, svc readOnly) (interface{}, error) {
		return svc.Stats(ctx)
	})
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx := cmd.Context()
	store, err := postgres.NewStore(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	log.Info("schema applied", zap.String("pg_dsn", redactDSN(cfg.PGDSN)))
	return nil
}

func printJSON(cmd *cobra.Command, value interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
