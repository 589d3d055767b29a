package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

var errSubscriptionClosed = errors.New("log subscription closed")

// Start opens the live subscription and begins processing in the background.
// Calling Start on a running service is a no-op. The subscription is opened
// before catch-up so no blocks fall between the two.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStarting
	s.mu.Unlock()

	if _, err := s.store.InitSyncState(ctx, s.contract); err != nil {
		s.setState(StateStopped)
		return fmt.Errorf("init sync state: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	logs := make(chan types.Log, logBufferSize)
	sub, err := s.subscribe(runCtx, logs)
	if err != nil {
		cancel()
		s.setState(StateStopped)
		return fmt.Errorf("subscribe logs: %w", err)
	}

	if err := s.setListening(ctx, true); err != nil {
		s.logger.Warn("set listening", zap.Error(err))
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.state = StateRunning
	s.mu.Unlock()

	s.logger.Info("listener started", zap.Bool("catch_up", s.cfg.CatchUp))
	go s.run(runCtx, sub, logs, done)
	return nil
}

// Stop cancels the subscription and waits for the loop to exit. The
// checkpoint is left where processing ended. If ctx ends first the service is
// still marked stopped and ctx's error is returned; the cancelled loop exits
// on its own.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	if cancel == nil {
		s.mu.Unlock()
		return nil
	}
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	cancel()
	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	err := s.setListening(context.WithoutCancel(ctx), false)
	s.setState(StateStopped)
	s.logger.Info("listener stopped", zap.Bool("loop_exited", waitErr == nil))
	if waitErr != nil {
		return waitErr
	}
	if err != nil {
		return fmt.Errorf("set listening: %w", err)
	}
	return nil
}

func (s *Service) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Service) setListening(ctx context.Context, listening bool) error {
	s.listening.Store(listening)
	return s.store.SetListening(ctx, s.contract, listening)
}

func (s *Service) subscribe(ctx context.Context, logs chan<- types.Log) (ethereum.Subscription, error) {
	return s.source.SubscribeLogs(ctx, []common.Address{s.cfg.Contract}, s.decoder.Topics(), logs)
}

func (s *Service) run(ctx context.Context, sub ethereum.Subscription, logs chan types.Log, done chan<- struct{}) {
	defer close(done)
	defer func() {
		if sub != nil {
			sub.Unsubscribe()
		}
	}()

	if s.cfg.CatchUp {
		s.catchUp(ctx)
	}

	var retryC <-chan time.Time
	if s.cfg.RetryInterval > 0 {
		ticker := time.NewTicker(s.cfg.RetryInterval)
		defer ticker.Stop()
		retryC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case log := <-logs:
			s.handleLive(ctx, log)
		case err := <-sub.Err():
			if err == nil {
				err = errSubscriptionClosed
			}
			sub.Unsubscribe()
			sub = nil
			s.logger.Warn("log subscription dropped", zap.Error(err))
			if err := s.setListening(ctx, false); err != nil && ctx.Err() == nil {
				s.logger.Warn("set listening", zap.Error(err))
			}
			s.recordSyncError(ctx, fmt.Errorf("subscription dropped: %w", err))

			sub = s.resubscribe(ctx, logs)
			if sub == nil {
				return
			}
			if err := s.setListening(ctx, true); err != nil && ctx.Err() == nil {
				s.logger.Warn("set listening", zap.Error(err))
			}
			s.catchUp(ctx)
		case <-retryC:
			if s.holding() {
				s.catchUp(ctx)
			}
			if _, err := s.RetryFailed(ctx, s.cfg.RetryBatch); err != nil && ctx.Err() == nil {
				s.logger.Warn("retry failed logs", zap.Error(err))
			}
		}
	}
}

func (s *Service) handleLive(ctx context.Context, log types.Log) {
	if _, err := s.processLog(ctx, log); err != nil {
		if ctx.Err() == nil {
			s.hold(log.BlockNumber)
		}
		return
	}
	if err := s.advance(ctx, log.BlockNumber); err != nil && ctx.Err() == nil {
		s.logger.Error("advance checkpoint", zap.Error(err), zap.Uint64("block", log.BlockNumber))
		s.recordSyncError(ctx, err)
	}
}

// resubscribe retries with exponential backoff until it succeeds or ctx ends.
func (s *Service) resubscribe(ctx context.Context, logs chan<- types.Log) ethereum.Subscription {
	delay := s.cfg.RetryBackoff
	if delay <= 0 {
		delay = time.Second
	}
	for attempt := 1; ; attempt++ {
		if err := sleepCtx(ctx, delay); err != nil {
			return nil
		}
		sub, err := s.subscribe(ctx, logs)
		if err == nil {
			s.metrics.resubscriptions.Inc()
			s.logger.Info("log subscription restored", zap.Int("attempt", attempt))
			return sub
		}
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Warn("resubscribe failed", zap.Error(err), zap.Int("attempt", attempt), zap.Duration("next_delay", nextDelay(delay)))
		delay = nextDelay(delay)
	}
}

// catchUp backfills from the checkpoint to the current head. The checkpoint
// block itself is replayed; handlers are idempotent.
func (s *Service) catchUp(ctx context.Context) {
	state, _, err := s.store.LoadSyncState(ctx, s.contract)
	if err != nil {
		s.logger.Warn("catch-up: load sync state", zap.Error(err))
		return
	}
	from := state.LastProcessedBlock
	if from < s.cfg.StartBlock {
		from = s.cfg.StartBlock
	}
	head, err := s.latestBlockWithRetry(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("catch-up: latest block", zap.Error(err))
			s.recordSyncError(ctx, fmt.Errorf("latest block: %w", err))
		}
		return
	}
	if from > head {
		return
	}

	s.logger.Info("catch-up", zap.Uint64("from", from), zap.Uint64("to", head))
	result, err := s.Backfill(ctx, from, &head)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("catch-up incomplete", zap.Error(err), zap.Uint64("reached", result.LastBlock))
		}
		return
	}
	s.logger.Info("catch-up complete",
		zap.Int("processed", result.Processed),
		zap.Int("errors", result.Errors),
		zap.Uint64("to", head),
	)
}
