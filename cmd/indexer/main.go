package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:          "indexer",
		Short:        "Node registry event indexer",
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file path")
	flags.String("rpc", "", "RPC URL (ws:// or ipc for live subscriptions)")
	flags.String("contract", "", "node registry contract address")
	flags.String("store", "postgres", "store backend (postgres, memory)")
	flags.String("pg-dsn", "", "Postgres DSN")
	flags.Uint64("batch-size", 2000, "blocks per range query")
	flags.Duration("batch-delay", 100*time.Millisecond, "pause between backfill batches")
	flags.Int("max-retries", 5, "maximum retry attempts for RPC calls")
	flags.Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	flags.Float64("rpc-rate-limit", 0, "RPC requests per second, 0 disables the limit")
	flags.Int("rpc-burst", 10, "RPC rate limiter burst")
	flags.String("decode-errors", "", "optional JSONL file for logs that fail to decode")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-encoding", "json", "log encoding (json, console)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Listen for new events and serve the admin API",
		RunE:  runIndexer,
	}
	runCmd.Flags().Uint64("from", 0, "first block to catch up from when no checkpoint exists")
	runCmd.Flags().Bool("catch-up", true, "backfill from the checkpoint to the head on start")
	runCmd.Flags().Duration("retry-interval", time.Minute, "interval between failed-log retry passes, 0 disables")
	runCmd.Flags().String("listen", ":8080", "admin API listen address")
	root.AddCommand(runCmd)

	backfillCmd := &cobra.Command{
		Use:   "backfill",
		Short: "Re-read a block range and apply its events",
		RunE:  runBackfill,
	}
	backfillCmd.Flags().Uint64("from", 0, "start block (inclusive)")
	backfillCmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest")
	root.AddCommand(backfillCmd)

	retryCmd := &cobra.Command{
		Use:   "retry",
		Short: "Replay queued failed logs",
		RunE:  runRetry,
	}
	retryCmd.Flags().Int("limit", 100, "maximum logs to replay")
	root.AddCommand(retryCmd)

	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the checkpoint and listener state",
		RunE:  runStatus,
	})
	root.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print indexed event and node counts",
		RunE:  runStats,
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create the Postgres schema",
		RunE:  runMigrate,
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
