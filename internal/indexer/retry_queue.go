package indexer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"nodeIndexer/internal/model"
)

// RetryResult summarizes one pass over the failed-log queue.
type RetryResult struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// RetryFailed replays up to limit queued logs, oldest block first. Logs that
// now succeed leave the queue; the rest have their attempt count bumped.
func (s *Service) RetryFailed(ctx context.Context, limit int) (RetryResult, error) {
	var result RetryResult
	if limit <= 0 {
		limit = s.cfg.RetryBatch
	}

	entries, err := s.store.ListFailedLogs(ctx, s.contract, limit)
	if err != nil {
		return result, fmt.Errorf("list failed logs: %w", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Attempted++
		record := entry.Record

		err := s.replay(ctx, &record)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.Failed++
			s.metrics.retryReplays.WithLabelValues("failed").Inc()
			s.logger.Warn("retry failed",
				zap.Error(err),
				zap.String("tx", record.TxHash),
				zap.Uint64("log_index", record.LogIndex),
				zap.Int("attempts", entry.Attempts+1),
			)
			if saveErr := s.store.SaveFailedLog(ctx, record, err.Error()); saveErr != nil {
				return result, fmt.Errorf("update failed log: %w", saveErr)
			}
			continue
		}

		if err := s.store.DeleteFailedLog(ctx, record.TxHash, record.LogIndex); err != nil {
			return result, fmt.Errorf("delete failed log: %w", err)
		}
		result.Succeeded++
		s.metrics.retryReplays.WithLabelValues("succeeded").Inc()
	}

	if result.Attempted > 0 {
		s.logger.Info("retry pass complete",
			zap.Int("attempted", result.Attempted),
			zap.Int("succeeded", result.Succeeded),
			zap.Int("failed", result.Failed),
		)
	}
	return result, nil
}

func (s *Service) replay(ctx context.Context, record *model.LogRecord) error {
	s.procMu.Lock()
	defer s.procMu.Unlock()

	if record.Timestamp == 0 {
		ts, err := s.blockTimestampWithRetry(ctx, record.BlockNumber)
		if err != nil {
			return fmt.Errorf("block timestamp %d: %w", record.BlockNumber, err)
		}
		record.Timestamp = ts
	}
	_, err := s.handleRecord(ctx, *record)
	return err
}
