package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"nodeIndexer/internal/model"
	"nodeIndexer/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

// Store provides Postgres persistence for the indexed tables and checkpoints.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pg dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// LoadSyncState returns the checkpoint row for a contract.
func (s *Store) LoadSyncState(ctx context.Context, contract string) (model.SyncState, bool, error) {
	if contract == "" {
		return model.SyncState{}, false, fmt.Errorf("contract address required")
	}
	var (
		state model.SyncState
		block int64
	)
	row := s.pool.QueryRow(ctx, `
		SELECT contract_address, last_processed_block, last_processed_at, is_listening, error_count, last_error
		FROM sync_state WHERE contract_address = $1
	`, contract)
	if err := row.Scan(&state.Contract, &block, &state.LastProcessedAt, &state.Listening, &state.ErrorCount, &state.LastError); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.SyncState{}, false, nil
		}
		return model.SyncState{}, false, err
	}
	state.LastProcessedBlock = uint64(block)
	return state, true, nil
}

func (s *Store) InitSyncState(ctx context.Context, contract string) (model.SyncState, error) {
	if contract == "" {
		return model.SyncState{}, fmt.Errorf("contract address required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_state (contract_address, last_processed_block, is_listening, updated_at)
		VALUES ($1, 0, false, now())
		ON CONFLICT (contract_address) DO NOTHING
	`, contract)
	if err != nil {
		return model.SyncState{}, fmt.Errorf("init sync state: %w", err)
	}
	state, ok, err := s.LoadSyncState(ctx, contract)
	if err != nil {
		return model.SyncState{}, err
	}
	if !ok {
		return model.SyncState{}, fmt.Errorf("sync state for %s vanished after init", contract)
	}
	return state, nil
}

// AdvanceSyncState never moves the stored block backwards; concurrent callers
// race safely because the comparison happens inside the single UPSERT.
func (s *Store) AdvanceSyncState(ctx context.Context, contract string, block uint64, listening bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_state (contract_address, last_processed_block, last_processed_at, is_listening, updated_at)
		VALUES ($1, $2, now(), $3, now())
		ON CONFLICT (contract_address) DO UPDATE SET
			last_processed_block = GREATEST(sync_state.last_processed_block, EXCLUDED.last_processed_block),
			last_processed_at = CASE
				WHEN EXCLUDED.last_processed_block >= sync_state.last_processed_block THEN now()
				ELSE sync_state.last_processed_at
			END,
			is_listening = EXCLUDED.is_listening,
			updated_at = now()
	`, contract, int64(block), listening)
	if err != nil {
		return fmt.Errorf("advance sync state: %w", err)
	}
	return nil
}

func (s *Store) SetListening(ctx context.Context, contract string, listening bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_state (contract_address, is_listening, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (contract_address) DO UPDATE SET is_listening = EXCLUDED.is_listening, updated_at = now()
	`, contract, listening)
	if err != nil {
		return fmt.Errorf("set listening: %w", err)
	}
	return nil
}

func (s *Store) RecordSyncError(ctx context.Context, contract string, message string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_state (contract_address, error_count, last_error, updated_at)
		VALUES ($1, 1, $2, now())
		ON CONFLICT (contract_address) DO UPDATE SET
			error_count = sync_state.error_count + 1,
			last_error = EXCLUDED.last_error,
			updated_at = now()
	`, contract, message)
	if err != nil {
		return fmt.Errorf("record sync error: %w", err)
	}
	return nil
}
