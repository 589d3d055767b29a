package indexer

import (
	"context"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// BackfillResult summarizes a backfill run. LastBlock is the end of the last
// completed batch.
type BackfillResult struct {
	From      uint64 `json:"from"`
	To        uint64 `json:"to"`
	LastBlock uint64 `json:"last_block"`
	Batches   int    `json:"batches"`
	Processed int    `json:"processed"`
	Skipped   int    `json:"skipped"`
	Errors    int    `json:"errors"`
}

// Backfill re-reads [from, to] in fixed-size batches and applies every log
// through the live path's handlers. A nil to means the head at call time.
// A failed range query, or a failed log that cannot be queued, aborts the run
// without advancing past the last completed batch.
func (s *Service) Backfill(ctx context.Context, from uint64, to *uint64) (BackfillResult, error) {
	var end uint64
	if to != nil {
		end = *to
	} else {
		head, err := s.latestBlockWithRetry(ctx)
		if err != nil {
			return BackfillResult{From: from}, fmt.Errorf("get latest block: %w", err)
		}
		end = head
	}
	result := BackfillResult{From: from, To: end}

	ranges, err := SplitRange(from, end, s.cfg.BatchSize)
	if err != nil {
		return result, err
	}

	for i, blockRange := range ranges {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		s.logger.Info("fetch logs", zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
		logs, err := s.filterLogsWithRetry(ctx, blockRange.From, blockRange.To)
		if err != nil {
			if ctx.Err() == nil {
				s.recordSyncError(ctx, fmt.Errorf("filter logs %d-%d: %w", blockRange.From, blockRange.To, err))
			}
			return result, fmt.Errorf("filter logs %d-%d: %w", blockRange.From, blockRange.To, err)
		}
		sortLogs(logs)

		for _, log := range logs {
			outcome, err := s.processLog(ctx, log)
			if err != nil {
				if ctx.Err() == nil {
					result.Errors++
				}
				return result, err
			}
			switch outcome {
			case outcomeApplied, outcomeDuplicate:
				result.Processed++
			case outcomeSkipped:
				result.Skipped++
			case outcomeFailed:
				result.Errors++
			}
		}

		s.release(blockRange.From, blockRange.To)
		if err := s.advance(ctx, blockRange.To); err != nil {
			return result, err
		}
		result.LastBlock = blockRange.To
		result.Batches++
		s.metrics.backfillBatches.Inc()
		s.logger.Info("batch complete",
			zap.Int("logs", len(logs)),
			zap.Uint64("from", blockRange.From),
			zap.Uint64("to", blockRange.To),
		)

		if i < len(ranges)-1 {
			if err := sleepCtx(ctx, s.cfg.BatchDelay); err != nil {
				return result, err
			}
		}
	}
	return result, nil
}

func sortLogs(logs []types.Log) {
	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})
}
