package postgres

import (
	"context"
	"fmt"

	"nodeIndexer/internal/model"
)

// SaveFailedLog queues a log for retry, bumping attempts on repeat failures.
func (s *Store) SaveFailedLog(ctx context.Context, record model.LogRecord, message string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO failed_logs (tx_hash, log_index, contract_address, block_number, record, attempts, last_error, first_failed_at, last_failed_at)
		VALUES ($1, $2, $3, $4, $5, 1, $6, now(), now())
		ON CONFLICT (tx_hash, log_index) DO UPDATE SET
			attempts = failed_logs.attempts + 1,
			last_error = EXCLUDED.last_error,
			last_failed_at = now()
	`,
		record.TxHash,
		int64(record.LogIndex),
		record.Address,
		int64(record.BlockNumber),
		record,
		message,
	)
	if err != nil {
		return fmt.Errorf("save failed log: %w", err)
	}
	return nil
}

func (s *Store) ListFailedLogs(ctx context.Context, contract string, limit int) ([]model.FailedLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT record, attempts, last_error, first_failed_at, last_failed_at
		FROM failed_logs
		WHERE $1 = '' OR contract_address = $1
		ORDER BY block_number, log_index
		LIMIT $2
	`, contract, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed logs: %w", err)
	}
	defer rows.Close()

	var out []model.FailedLog
	for rows.Next() {
		var entry model.FailedLog
		if err := rows.Scan(&entry.Record, &entry.Attempts, &entry.LastError, &entry.FirstFailedAt, &entry.LastFailedAt); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *Store) DeleteFailedLog(ctx context.Context, txHash string, logIndex uint64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM failed_logs WHERE tx_hash = $1 AND log_index = $2`, txHash, int64(logIndex))
	if err != nil {
		return fmt.Errorf("delete failed log: %w", err)
	}
	return nil
}
