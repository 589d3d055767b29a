package indexer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"nodeIndexer/internal/contract"
	"nodeIndexer/internal/model"
	"nodeIndexer/internal/storage"
)

// LogSource is the subset of the ledger client the indexer reads from.
type LogSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
	SubscribeLogs(ctx context.Context, addresses []common.Address, topic0 []common.Hash, ch chan<- types.Log) (ethereum.Subscription, error)
}

// State is the lifecycle state of the live listener.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
)

// Config holds runtime settings for one indexed contract.
type Config struct {
	Contract common.Address
	ChainID  uint64
	// StartBlock is the lowest block catch-up will read when no checkpoint exists.
	StartBlock    uint64
	BatchSize     uint64
	BatchDelay    time.Duration
	MaxRetries    int
	RetryBackoff  time.Duration
	CatchUp       bool
	RetryInterval time.Duration
	RetryBatch    int
	Registerer    prometheus.Registerer
	DecodeErrors  *storage.JsonlSink
}

const (
	defaultBatchSize  = 2000
	defaultRetryBatch = 100
	logBufferSize     = 256
)

// Service indexes one contract: a live subscription plus on-demand backfill,
// both feeding the same decode and handle path.
type Service struct {
	cfg      Config
	contract string
	source   LogSource
	store    storage.Store
	decoder  *contract.Decoder
	handler  *Handler
	metrics  *Metrics
	logger   *zap.Logger

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}

	listening atomic.Bool
	// checkpointHigh feeds the gauge; it only grows, like the stored value.
	checkpointHigh atomic.Uint64

	// heldBlock is the lowest live block with a failed log that could not be
	// queued. The checkpoint stays below it until a backfill replays it.
	heldMu    sync.Mutex
	heldBlock *uint64

	// procMu serializes per-log processing across the live and backfill paths.
	procMu sync.Mutex
}

// NewService wires a Service. The store and source are owned by the caller.
func NewService(cfg Config, source LogSource, store storage.Store, logger *zap.Logger) (*Service, error) {
	if source == nil {
		return nil, fmt.Errorf("log source is nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if cfg.Contract == (common.Address{}) {
		return nil, fmt.Errorf("contract address is required")
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.RetryBatch <= 0 {
		cfg.RetryBatch = defaultRetryBatch
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	decoder, err := contract.NewDecoder()
	if err != nil {
		return nil, fmt.Errorf("build decoder: %w", err)
	}

	logger = logger.With(zap.String("contract", cfg.Contract.Hex()))
	return &Service{
		cfg:      cfg,
		contract: cfg.Contract.Hex(),
		source:   source,
		store:    store,
		decoder:  decoder,
		handler:  NewHandler(store, logger),
		metrics:  NewMetrics(cfg.Registerer),
		logger:   logger,
		state:    StateStopped,
	}, nil
}

// Contract returns the checksummed address this service indexes.
func (s *Service) Contract() string {
	return s.contract
}

// Status is the operator view of the listener and its checkpoint.
type Status struct {
	Contract           string     `json:"contract"`
	Running            bool       `json:"is_running"`
	State              State      `json:"state"`
	Listening          bool       `json:"listening"`
	LastProcessedBlock uint64     `json:"last_processed_block"`
	LastProcessedAt    *time.Time `json:"last_processed_at,omitempty"`
	ErrorCount         int64      `json:"error_count"`
	LastError          *string    `json:"last_error,omitempty"`
}

func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Service) Status(ctx context.Context) (Status, error) {
	state := s.State()
	status := Status{
		Contract: s.contract,
		Running:  state == StateRunning,
		State:    state,
	}
	syncState, found, err := s.store.LoadSyncState(ctx, s.contract)
	if err != nil {
		return status, fmt.Errorf("load sync state: %w", err)
	}
	if found {
		status.Listening = syncState.Listening
		status.LastProcessedBlock = syncState.LastProcessedBlock
		status.LastProcessedAt = syncState.LastProcessedAt
		status.ErrorCount = syncState.ErrorCount
		status.LastError = syncState.LastError
	}
	return status, nil
}

// Stats aggregates the indexed tables and attaches this contract's checkpoint.
func (s *Service) Stats(ctx context.Context) (model.Stats, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return model.Stats{}, fmt.Errorf("load stats: %w", err)
	}
	syncState, found, err := s.store.LoadSyncState(ctx, s.contract)
	if err != nil {
		return model.Stats{}, fmt.Errorf("load sync state: %w", err)
	}
	if found {
		stats.Sync = &syncState
	}
	return stats, nil
}

type logOutcome int

const (
	outcomeApplied logOutcome = iota
	outcomeDuplicate
	outcomeSkipped
	outcomeFailed
)

// processLog runs one chain log through decode and handle. Handler failures
// are recorded and queued; the returned error is set when ctx ended or the
// failed log could not be queued. Callers must not checkpoint past log then.
func (s *Service) processLog(ctx context.Context, log types.Log) (logOutcome, error) {
	s.procMu.Lock()
	defer s.procMu.Unlock()

	if log.Removed {
		s.logger.Warn("skip removed log",
			zap.Uint64("block", log.BlockNumber),
			zap.String("tx", log.TxHash.Hex()),
			zap.Uint("log_index", log.Index),
		)
		s.metrics.logsSkipped.WithLabelValues("removed").Inc()
		return outcomeSkipped, nil
	}

	ts, err := s.blockTimestampWithRetry(ctx, log.BlockNumber)
	record := buildLogRecord(s.cfg.ChainID, log, ts)
	if err != nil {
		if ctx.Err() != nil {
			return outcomeFailed, ctx.Err()
		}
		return outcomeFailed, s.recordFailure(ctx, record, fmt.Errorf("block timestamp %d: %w", log.BlockNumber, err))
	}

	outcome, err := s.handleRecord(ctx, record)
	if err != nil {
		if ctx.Err() != nil {
			return outcomeFailed, ctx.Err()
		}
		return outcomeFailed, s.recordFailure(ctx, record, err)
	}
	return outcome, nil
}

// handleRecord decodes and applies record. Undecodable logs are skipped.
func (s *Service) handleRecord(ctx context.Context, record model.LogRecord) (logOutcome, error) {
	if !s.decoder.CanDecode(record.Topic0()) {
		s.logger.Debug("ignore unrecognized log",
			zap.String("topic0", record.Topic0()),
			zap.String("tx", record.TxHash),
			zap.Uint64("log_index", record.LogIndex),
		)
		s.metrics.logsSkipped.WithLabelValues("unrecognized").Inc()
		return outcomeSkipped, nil
	}

	event, err := s.decoder.Decode(record)
	if err != nil {
		s.logger.Warn("decode failed",
			zap.Error(err),
			zap.Uint64("block", record.BlockNumber),
			zap.String("tx", record.TxHash),
			zap.Uint64("log_index", record.LogIndex),
		)
		s.metrics.logsSkipped.WithLabelValues("decode_error").Inc()
		if appendErr := s.cfg.DecodeErrors.Append(model.DecodeErrorFromRecord(record, err)); appendErr != nil {
			s.logger.Warn("write decode error", zap.Error(appendErr))
		}
		return outcomeSkipped, nil
	}

	applied, err := s.handler.Handle(ctx, event)
	if err != nil {
		return outcomeFailed, fmt.Errorf("handle %s: %w", event.Kind(), err)
	}
	if !applied {
		s.metrics.eventsHandled.WithLabelValues(string(event.Kind()), "duplicate").Inc()
		return outcomeDuplicate, nil
	}
	s.metrics.eventsHandled.WithLabelValues(string(event.Kind()), "applied").Inc()
	s.logger.Debug("event applied",
		zap.String("event", string(event.Kind())),
		zap.Uint64("block", record.BlockNumber),
		zap.String("tx", record.TxHash),
		zap.Uint64("log_index", record.LogIndex),
	)
	return outcomeApplied, nil
}

// recordFailure queues record for RetryFailed. A non-nil return means the log
// is neither applied nor queued.
func (s *Service) recordFailure(ctx context.Context, record model.LogRecord, err error) error {
	s.metrics.handlerFailures.Inc()
	s.logger.Error("log handling failed",
		zap.Error(err),
		zap.Uint64("block", record.BlockNumber),
		zap.String("tx", record.TxHash),
		zap.Uint64("log_index", record.LogIndex),
	)
	s.recordSyncError(ctx, err)
	if saveErr := s.store.SaveFailedLog(ctx, record, err.Error()); saveErr != nil {
		s.logger.Error("queue failed log", zap.Error(saveErr), zap.String("tx", record.TxHash))
		return fmt.Errorf("queue failed log %s/%d: %w", record.TxHash, record.LogIndex, saveErr)
	}
	return nil
}

func (s *Service) recordSyncError(ctx context.Context, err error) {
	if recErr := s.store.RecordSyncError(ctx, s.contract, err.Error()); recErr != nil {
		s.logger.Warn("record sync error", zap.Error(recErr))
	}
}

// advance moves the checkpoint forward; the store keeps the maximum. It never
// reaches a held block.
func (s *Service) advance(ctx context.Context, block uint64) error {
	s.heldMu.Lock()
	if s.heldBlock != nil && block >= *s.heldBlock {
		if *s.heldBlock == 0 {
			s.heldMu.Unlock()
			return nil
		}
		block = *s.heldBlock - 1
	}
	s.heldMu.Unlock()

	if err := s.store.AdvanceSyncState(ctx, s.contract, block, s.listening.Load()); err != nil {
		return fmt.Errorf("advance checkpoint to %d: %w", block, err)
	}
	for {
		high := s.checkpointHigh.Load()
		if block <= high && high != 0 {
			return nil
		}
		if s.checkpointHigh.CompareAndSwap(high, block) {
			s.metrics.checkpoint.Set(float64(block))
			return nil
		}
	}
}

// hold pins the checkpoint below block.
func (s *Service) hold(block uint64) {
	s.heldMu.Lock()
	defer s.heldMu.Unlock()
	if s.heldBlock == nil || block < *s.heldBlock {
		s.heldBlock = &block
		s.logger.Warn("checkpoint held", zap.Uint64("block", block))
	}
}

// release drops the hold once [from, to] has been replayed without loss.
func (s *Service) release(from, to uint64) {
	s.heldMu.Lock()
	defer s.heldMu.Unlock()
	if s.heldBlock != nil && *s.heldBlock >= from && *s.heldBlock <= to {
		s.logger.Info("checkpoint hold released", zap.Uint64("block", *s.heldBlock))
		s.heldBlock = nil
	}
}

func (s *Service) holding() bool {
	s.heldMu.Lock()
	defer s.heldMu.Unlock()
	return s.heldBlock != nil
}

func (s *Service) filterLogsWithRetry(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	var logs []types.Log
	addresses := []common.Address{s.cfg.Contract}
	topics := s.decoder.Topics()
	err := withRetry(ctx, s.cfg.MaxRetries, s.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		logs, err = s.source.FilterLogs(ctx, fromBlock, toBlock, addresses, topics)
		if err != nil {
			s.logger.Warn("filter logs failed", zap.Error(err), zap.Uint64("from", fromBlock), zap.Uint64("to", toBlock))
		}
		return err
	})
	return logs, err
}

func (s *Service) blockTimestampWithRetry(ctx context.Context, blockNumber uint64) (uint64, error) {
	var ts uint64
	err := withRetry(ctx, s.cfg.MaxRetries, s.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		ts, err = s.source.BlockTimestamp(ctx, blockNumber)
		if err != nil {
			s.logger.Warn("block timestamp fetch failed", zap.Error(err), zap.Uint64("block", blockNumber))
		}
		return err
	})
	return ts, err
}

func (s *Service) latestBlockWithRetry(ctx context.Context) (uint64, error) {
	var head uint64
	err := withRetry(ctx, s.cfg.MaxRetries, s.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		head, err = s.source.LatestBlockNumber(ctx)
		return err
	})
	return head, err
}
