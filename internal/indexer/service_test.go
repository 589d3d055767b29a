package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"nodeIndexer/internal/model"
	"nodeIndexer/internal/storage"
	"nodeIndexer/internal/storage/memory"
)

func u64(v uint64) *uint64 {
	return &v
}

func TestBackfillScenario(t *testing.T) {
	store := memory.NewStore()
	source := newFakeSource(20, scenarioLogs(t)...)
	svc := newTestService(t, source, store, func(cfg *Config) {
		cfg.Registerer = prometheus.NewRegistry()
	})

	result, err := svc.Backfill(context.Background(), 0, u64(20))
	require.NoError(t, err)
	require.Equal(t, 3, result.Processed)
	require.Equal(t, 0, result.Errors)
	require.Equal(t, 3, result.Batches)
	require.Equal(t, uint64(20), result.LastBlock)
	require.Equal(t, uint64(20), lastProcessed(t, store))

	node := mustNode(t, store, "7")
	require.Equal(t, model.StatusActive, node.Status)
	require.Equal(t, "500", *node.StakedAmount)
	require.Equal(t, "100", node.TotalRevenue)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.EventsByKind[model.KindNodeRegistered])
	require.Equal(t, int64(1), stats.RevenueDistributions)
	require.NotNil(t, stats.Sync)
	require.Equal(t, uint64(20), stats.Sync.LastProcessedBlock)
}

func TestBackfillDefaultsToHead(t *testing.T) {
	store := memory.NewStore()
	source := newFakeSource(14, scenarioLogs(t)...)
	svc := newTestService(t, source, store)

	result, err := svc.Backfill(context.Background(), 0, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(14), result.To)
	require.Equal(t, uint64(14), lastProcessed(t, store))
}

func TestBackfillReplayIsIdempotent(t *testing.T) {
	store := memory.NewStore()
	source := newFakeSource(20, scenarioLogs(t)...)
	svc := newTestService(t, source, store)

	_, err := svc.Backfill(context.Background(), 0, u64(20))
	require.NoError(t, err)
	result, err := svc.Backfill(context.Background(), 0, u64(20))
	require.NoError(t, err)
	require.Equal(t, 3, result.Processed)

	require.Equal(t, "100", mustNode(t, store, "7").TotalRevenue)
	require.Len(t, store.RawEvents(), 3)
}

func TestBackfillSortsLogsWithinBatch(t *testing.T) {
	store := memory.NewStore()
	source := newFakeSource(9,
		registeredLog(t, 2, 0, 4, 10),
		statusLog(t, 4, 0, 4, 0, 1),
		statusLog(t, 4, 1, 4, 1, 2),
	)
	source.reverse = true
	svc := newTestService(t, source, store)

	_, err := svc.Backfill(context.Background(), 0, u64(9))
	require.NoError(t, err)
	require.Equal(t, model.StatusSuspended, mustNode(t, store, "4").Status)
}

func TestBackfillAbortsOnRangeFailure(t *testing.T) {
	store := memory.NewStore()
	source := newFakeSource(29,
		registeredLog(t, 5, 0, 1, 10),
		registeredLog(t, 15, 0, 2, 10),
	)
	source.filterFailFrom = u64(10)
	svc := newTestService(t, source, store)

	result, err := svc.Backfill(context.Background(), 0, u64(29))
	require.Error(t, err)
	require.Equal(t, 1, result.Batches)
	require.Equal(t, 1, result.Processed)
	require.Equal(t, uint64(9), result.LastBlock)
	require.Equal(t, uint64(9), lastProcessed(t, store))

	_, err = store.GetNode(context.Background(), "2")
	require.True(t, errors.Is(err, storage.ErrNotFound))

	status, err := svc.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), status.ErrorCount)
	require.NotNil(t, status.LastError)
}

func TestCheckpointNeverMovesBackwards(t *testing.T) {
	store := &recordingStore{Store: memory.NewStore()}
	source := newFakeSource(29, scenarioLogs(t)...)
	svc := newTestService(t, source, store)

	_, err := svc.Backfill(context.Background(), 0, u64(29))
	require.NoError(t, err)
	_, err = svc.Backfill(context.Background(), 0, u64(9))
	require.NoError(t, err)

	require.Equal(t, uint64(29), lastProcessed(t, store))
	require.NotEmpty(t, store.observed)
	for i := 1; i < len(store.observed); i++ {
		require.GreaterOrEqual(t, store.observed[i], store.observed[i-1])
	}
}

func TestUnknownAndMalformedLogsAreSkipped(t *testing.T) {
	store := memory.NewStore()
	unknown := types.Log{
		Address:     testContract,
		Topics:      []common.Hash{common.HexToHash("0xdeadbeef")},
		BlockNumber: 2,
		TxHash:      common.HexToHash("0x01"),
	}
	malformed := registeredLog(t, 3, 0, 1, 10)
	malformed.Data = malformed.Data[:16]
	source := newFakeSource(9, unknown, malformed, registeredLog(t, 4, 0, 2, 10))

	sinkPath := filepath.Join(t.TempDir(), "decode_errors.jsonl")
	svc := newTestService(t, source, store, func(cfg *Config) {
		cfg.DecodeErrors = storage.NewJsonlSink(sinkPath)
	})

	result, err := svc.Backfill(context.Background(), 0, u64(9))
	require.NoError(t, err)
	require.Equal(t, 2, result.Skipped)
	require.Equal(t, 1, result.Processed)
	require.Len(t, store.RawEvents(), 1)

	data, err := os.ReadFile(sinkPath)
	require.NoError(t, err)
	require.Contains(t, string(data), malformed.TxHash.Hex())
}

func TestRemovedLogsAreSkipped(t *testing.T) {
	store := memory.NewStore()
	removed := registeredLog(t, 3, 0, 1, 10)
	removed.Removed = true
	svc := newTestService(t, newFakeSource(9, removed), store)

	result, err := svc.Backfill(context.Background(), 0, u64(9))
	require.NoError(t, err)
	require.Equal(t, 1, result.Skipped)
	require.Empty(t, store.RawEvents())
}

func TestFailedLogsAreQueuedAndRetried(t *testing.T) {
	store := &flakyStore{Store: memory.NewStore(), failures: 1}
	source := newFakeSource(9, registeredLog(t, 3, 0, 1, 10), registeredLog(t, 4, 0, 2, 20))
	svc := newTestService(t, source, store)

	result, err := svc.Backfill(context.Background(), 0, u64(9))
	require.NoError(t, err)
	require.Equal(t, 1, result.Errors)
	require.Equal(t, 1, result.Processed)
	require.Equal(t, uint64(9), lastProcessed(t, store))

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.FailedLogs)
	require.Equal(t, int64(1), stats.Sync.ErrorCount)

	queued, err := store.ListFailedLogs(context.Background(), testContract.Hex(), 10)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	require.Equal(t, 1, queued[0].Attempts)
	require.Equal(t, uint64(3), queued[0].Record.BlockNumber)

	retry, err := svc.RetryFailed(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, RetryResult{Attempted: 1, Succeeded: 1}, retry)

	require.Equal(t, "10", *mustNode(t, store, "1").StakedAmount)
	queued, err = store.ListFailedLogs(context.Background(), "", 10)
	require.NoError(t, err)
	require.Empty(t, queued)
}

func TestRetryFailedBumpsAttempts(t *testing.T) {
	store := &flakyStore{Store: memory.NewStore(), failures: 2}
	source := newFakeSource(9, registeredLog(t, 3, 0, 1, 10))
	svc := newTestService(t, source, store)

	_, err := svc.Backfill(context.Background(), 0, u64(9))
	require.NoError(t, err)

	retry, err := svc.RetryFailed(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, RetryResult{Attempted: 1, Failed: 1}, retry)

	queued, err := store.ListFailedLogs(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	require.Equal(t, 2, queued[0].Attempts)
}

func TestBackfillStopsWhenFailedLogCannotBeQueued(t *testing.T) {
	store := &flakyStore{Store: memory.NewStore(), failures: 1, saveErr: errors.New("queue unavailable")}
	source := newFakeSource(19, registeredLog(t, 3, 0, 1, 10), registeredLog(t, 14, 0, 2, 20))
	svc := newTestService(t, source, store)
	ctx := context.Background()

	result, err := svc.Backfill(ctx, 0, u64(19))
	require.Error(t, err)
	require.Equal(t, 1, result.Errors)
	require.Zero(t, result.Batches)
	require.Zero(t, lastProcessed(t, store))

	queued, err := store.ListFailedLogs(ctx, "", 10)
	require.NoError(t, err)
	require.Empty(t, queued)
	_, err = store.GetNode(ctx, "1")
	require.ErrorIs(t, err, storage.ErrNotFound)

	store.mu.Lock()
	store.saveErr = nil
	store.mu.Unlock()

	result, err = svc.Backfill(ctx, 0, u64(19))
	require.NoError(t, err)
	require.Equal(t, 2, result.Processed)
	require.Equal(t, uint64(19), lastProcessed(t, store))
	require.Equal(t, "10", *mustNode(t, store, "1").StakedAmount)
}

func TestLiveHoldsCheckpointWhenFailedLogCannotBeQueued(t *testing.T) {
	store := &flakyStore{Store: memory.NewStore(), failures: 1, saveErr: errors.New("queue unavailable")}
	source := newFakeSource(0)
	svc := newTestService(t, source, store)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx))
	source.emit(registeredLog(t, 3, 0, 1, 10))
	source.emit(registeredLog(t, 5, 0, 2, 20))
	require.Eventually(t, func() bool {
		return lastProcessed(t, store) == 2
	}, 2*time.Second, 5*time.Millisecond)
	mustNode(t, store, "2")

	// Replaying the held block lifts the hold.
	result, err := svc.Backfill(ctx, lastProcessed(t, store), nil)
	require.NoError(t, err)
	require.Equal(t, 2, result.Processed)
	require.Equal(t, uint64(5), lastProcessed(t, store))
	require.Equal(t, "10", *mustNode(t, store, "1").StakedAmount)
	require.NoError(t, svc.Stop(ctx))
}

func TestCheckpointGaugeNeverMovesBackwards(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(t, newFakeSource(0), store)
	ctx := context.Background()

	require.NoError(t, svc.advance(ctx, 9))
	require.NoError(t, svc.advance(ctx, 4))
	require.Equal(t, float64(9), testutil.ToFloat64(svc.metrics.checkpoint))
	require.Equal(t, uint64(9), lastProcessed(t, store))
}

func TestStartTwiceIsNoop(t *testing.T) {
	store := memory.NewStore()
	source := newFakeSource(0)
	svc := newTestService(t, source, store)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx))
	require.NoError(t, svc.Start(ctx))
	require.Equal(t, 1, source.subscriptions())
	require.Equal(t, StateRunning, svc.State())

	status, err := svc.Status(ctx)
	require.NoError(t, err)
	require.True(t, status.Running)
	require.True(t, status.Listening)

	require.NoError(t, svc.Stop(ctx))
	require.NoError(t, svc.Stop(ctx))
	require.Equal(t, StateStopped, svc.State())
}

func TestStartPropagatesSubscribeFailure(t *testing.T) {
	source := newFakeSource(0)
	source.subscribeErr = errors.New("dial refused")
	svc := newTestService(t, source, memory.NewStore())

	err := svc.Start(context.Background())
	require.Error(t, err)
	require.Equal(t, StateStopped, svc.State())
}

func TestLiveMatchesBackfill(t *testing.T) {
	logs := scenarioLogs(t)

	backfilled := memory.NewStore()
	_, err := newTestService(t, newFakeSource(8, logs...), backfilled).Backfill(context.Background(), 0, u64(8))
	require.NoError(t, err)

	live := memory.NewStore()
	source := newFakeSource(0)
	svc := newTestService(t, source, live)
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))
	for _, log := range logs {
		source.emit(log)
	}
	require.Eventually(t, func() bool {
		return lastProcessed(t, live) == 8
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, svc.Stop(ctx))

	wantNodes, err := backfilled.ListNodes(ctx)
	require.NoError(t, err)
	gotNodes, err := live.ListNodes(ctx)
	require.NoError(t, err)
	require.Equal(t, wantNodes, gotNodes)

	wantDists, err := backfilled.ListRevenueDistributions(ctx)
	require.NoError(t, err)
	gotDists, err := live.ListRevenueDistributions(ctx)
	require.NoError(t, err)
	require.Equal(t, wantDists, gotDists)
	require.Equal(t, backfilled.RawEvents(), live.RawEvents())
}

func TestStopKeepsCheckpoint(t *testing.T) {
	store := memory.NewStore()
	source := newFakeSource(0)
	svc := newTestService(t, source, store)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx))
	source.emit(registeredLog(t, 12, 0, 1, 10))
	require.Eventually(t, func() bool {
		return lastProcessed(t, store) == 12
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, svc.Stop(ctx))

	state, found, err := store.LoadSyncState(ctx, testContract.Hex())
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(12), state.LastProcessedBlock)
	require.False(t, state.Listening)
}

func TestStopWithEndedContext(t *testing.T) {
	store := memory.NewStore()
	source := newFakeSource(0)
	svc := newTestService(t, source, store)

	require.NoError(t, svc.Start(context.Background()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := svc.Stop(ctx)
	if err != nil {
		require.ErrorIs(t, err, context.Canceled)
	}
	require.Equal(t, StateStopped, svc.State())
	require.False(t, listening(t, store))

	require.NoError(t, svc.Start(context.Background()))
	require.Equal(t, 2, source.subscriptions())
	require.Equal(t, StateRunning, svc.State())
	require.True(t, listening(t, store))
	require.NoError(t, svc.Stop(context.Background()))
	require.Equal(t, StateStopped, svc.State())
}

func TestCatchUpOnStart(t *testing.T) {
	store := memory.NewStore()
	source := newFakeSource(8, scenarioLogs(t)...)
	svc := newTestService(t, source, store, func(cfg *Config) {
		cfg.CatchUp = true
	})
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx))
	require.Eventually(t, func() bool {
		return lastProcessed(t, store) == 8
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, svc.Stop(ctx))
	require.Equal(t, "100", mustNode(t, store, "7").TotalRevenue)
}

func TestResubscribeBackfillsGap(t *testing.T) {
	store := memory.NewStore()
	source := newFakeSource(0)
	svc := newTestService(t, source, store)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx))
	source.emit(registeredLog(t, 3, 0, 7, 500))
	require.Eventually(t, func() bool {
		return lastProcessed(t, store) == 3
	}, 2*time.Second, 5*time.Millisecond)

	// Logs produced while disconnected only reach the range query.
	source.mu.Lock()
	source.logs = append(source.logs, statusLog(t, 5, 1, 7, 0, 1), revenueLog(t, 8, 0, 1, 7, 100, 70, 20))
	source.head = 8
	source.mu.Unlock()
	source.drop(errors.New("connection reset"))

	require.Eventually(t, func() bool {
		return lastProcessed(t, store) == 8
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, svc.Stop(ctx))

	require.Equal(t, 2, source.subscriptions())
	node := mustNode(t, store, "7")
	require.Equal(t, model.StatusActive, node.Status)
	require.Equal(t, "100", node.TotalRevenue)

	state, _, err := store.LoadSyncState(ctx, testContract.Hex())
	require.NoError(t, err)
	require.GreaterOrEqual(t, state.ErrorCount, int64(1))
}

func TestResubscribeRetriesAfterFailure(t *testing.T) {
	store := memory.NewStore()
	source := newFakeSource(0)
	svc := newTestService(t, source, store, func(cfg *Config) {
		cfg.RetryBackoff = 20 * time.Millisecond
	})
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx))
	require.True(t, listening(t, store))

	source.setSubscribeErr(errors.New("dial refused"))
	source.drop(errors.New("connection reset"))
	require.Eventually(t, func() bool {
		return source.subscribeAttempts() >= 2
	}, 2*time.Second, 5*time.Millisecond)
	require.False(t, listening(t, store))
	require.Equal(t, StateRunning, svc.State())

	source.setSubscribeErr(nil)
	require.Eventually(t, func() bool {
		return source.subscriptions() == 2 && listening(t, store)
	}, 2*time.Second, 5*time.Millisecond)

	source.emit(registeredLog(t, 4, 0, 3, 30))
	require.Eventually(t, func() bool {
		return lastProcessed(t, store) == 4
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, svc.Stop(ctx))
}

func TestNewServiceValidates(t *testing.T) {
	_, err := NewService(Config{}, newFakeSource(0), memory.NewStore(), nil)
	require.Error(t, err)

	_, err = NewService(Config{Contract: testContract}, nil, memory.NewStore(), nil)
	require.Error(t, err)
}

func TestParseContract(t *testing.T) {
	addr, err := ParseContract(" " + testContract.Hex() + " ")
	require.NoError(t, err)
	require.Equal(t, testContract, addr)

	_, err = ParseContract("0x1234")
	require.Error(t, err)
	_, err = ParseContract("")
	require.Error(t, err)
}
