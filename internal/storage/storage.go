package storage

import (
	"context"
	"errors"

	"nodeIndexer/internal/model"
)

// ErrNotFound is returned when a keyed row does not exist.
var ErrNotFound = errors.New("not found")

// Tx is the set of domain writes an event handler performs for one log.
// Everything written through a Tx commits or rolls back together.
type Tx interface {
	// InsertRawEvent appends the audit row and reports whether it was new.
	// A duplicate (tx hash, log index) is not an error.
	InsertRawEvent(ctx context.Context, event model.RawEvent) (bool, error)
	// InsertRevenueDistribution appends the row and reports whether it was new.
	InsertRevenueDistribution(ctx context.Context, dist model.RevenueDistribution) (bool, error)
	// UpsertNode loads or creates the node, merges patch field-wise, and saves it.
	UpsertNode(ctx context.Context, nodeID string, patch model.NodePatch) (model.Node, error)
}

// DomainStore owns the normalized tables.
type DomainStore interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	GetNode(ctx context.Context, nodeID string) (model.Node, error)
	ListNodes(ctx context.Context) ([]model.Node, error)
	ListRevenueDistributions(ctx context.Context) ([]model.RevenueDistribution, error)
	Stats(ctx context.Context) (model.Stats, error)
}

// CheckpointStore persists one SyncState row per contract.
type CheckpointStore interface {
	LoadSyncState(ctx context.Context, contract string) (model.SyncState, bool, error)
	// InitSyncState creates the row at block 0, not listening, if absent.
	InitSyncState(ctx context.Context, contract string) (model.SyncState, error)
	// AdvanceSyncState stores max(current, block) in a single write.
	AdvanceSyncState(ctx context.Context, contract string, block uint64, listening bool) error
	SetListening(ctx context.Context, contract string, listening bool) error
	RecordSyncError(ctx context.Context, contract string, message string) error
}

// FailedLogStore is the retry queue for logs whose handling failed.
type FailedLogStore interface {
	SaveFailedLog(ctx context.Context, record model.LogRecord, message string) error
	ListFailedLogs(ctx context.Context, contract string, limit int) ([]model.FailedLog, error)
	DeleteFailedLog(ctx context.Context, txHash string, logIndex uint64) error
}

// Store is the full persistence contract of the indexer.
type Store interface {
	DomainStore
	CheckpointStore
	FailedLogStore
	Close()
}
