package model

import "time"

// RawEvent is the append-only audit record of a handled log.
type RawEvent struct {
	Kind        EventKind         `json:"kind"`
	Contract    string            `json:"contract"`
	BlockNumber uint64            `json:"block_number"`
	BlockHash   string            `json:"block_hash"`
	TxHash      string            `json:"tx_hash"`
	LogIndex    uint64            `json:"log_index"`
	BlockTime   time.Time         `json:"block_time"`
	NodeID      *string           `json:"node_id,omitempty"`
	Operator    *string           `json:"operator,omitempty"`
	Buyer       *string           `json:"buyer,omitempty"`
	Amount      *string           `json:"amount,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// RevenueDistribution is one RevenueDistributed log. Immutable once written.
type RevenueDistribution struct {
	Contract      string    `json:"contract"`
	BlockNumber   uint64    `json:"block_number"`
	TxHash        string    `json:"tx_hash"`
	LogIndex      uint64    `json:"log_index"`
	LeaseID       string    `json:"lease_id"`
	NodeID        string    `json:"node_id"`
	TotalAmount   string    `json:"total_amount"`
	LesseeShare   string    `json:"lessee_share"`
	OperatorShare string    `json:"operator_share"`
	TreasuryShare string    `json:"treasury_share"`
	DistributedAt time.Time `json:"distributed_at"`
}

// SyncState is the per-contract checkpoint.
type SyncState struct {
	Contract           string     `json:"contract"`
	LastProcessedBlock uint64     `json:"last_processed_block"`
	LastProcessedAt    *time.Time `json:"last_processed_at,omitempty"`
	Listening          bool       `json:"listening"`
	ErrorCount         int64      `json:"error_count"`
	LastError          *string    `json:"last_error,omitempty"`
}

// FailedLog is a log whose handling failed and is queued for retry.
type FailedLog struct {
	Record        LogRecord `json:"record"`
	Attempts      int       `json:"attempts"`
	LastError     string    `json:"last_error"`
	FirstFailedAt time.Time `json:"first_failed_at"`
	LastFailedAt  time.Time `json:"last_failed_at"`
}

// Stats aggregates the indexed tables.
type Stats struct {
	EventsByKind         map[EventKind]int64 `json:"events_by_kind"`
	TotalEvents          int64               `json:"total_events"`
	RevenueDistributions int64               `json:"revenue_distributions"`
	Nodes                int64               `json:"nodes"`
	ActiveNodes          int64               `json:"active_nodes"`
	FailedLogs           int64               `json:"failed_logs"`
	Sync                 *SyncState          `json:"sync,omitempty"`
}

// NewStats returns zeroed stats with every kind present.
func NewStats() Stats {
	byKind := make(map[EventKind]int64, len(AllKinds))
	for _, kind := range AllKinds {
		byKind[kind] = 0
	}
	return Stats{EventsByKind: byKind}
}
