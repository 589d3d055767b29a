// Package memory is an in-process Store used for dry runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"nodeIndexer/internal/model"
	"nodeIndexer/internal/storage"
)

type logKey struct {
	txHash   string
	logIndex uint64
}

// Store keeps every table in maps guarded by one mutex. InTx holds the lock
// for the whole transaction and commits staged writes only on success.
type Store struct {
	mu sync.Mutex

	rawEvents map[logKey]model.RawEvent
	revenue   map[logKey]model.RevenueDistribution
	nodes     map[string]model.Node
	sync      map[string]model.SyncState
	failed    map[logKey]model.FailedLog

	now func() time.Time
}

var _ storage.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		rawEvents: make(map[logKey]model.RawEvent),
		revenue:   make(map[logKey]model.RevenueDistribution),
		nodes:     make(map[string]model.Node),
		sync:      make(map[string]model.SyncState),
		failed:    make(map[logKey]model.FailedLog),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Close() {}

type memTx struct {
	store     *Store
	rawEvents map[logKey]model.RawEvent
	revenue   map[logKey]model.RevenueDistribution
	nodes     map[string]model.Node
}

func (s *Store) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:     s,
		rawEvents: make(map[logKey]model.RawEvent),
		revenue:   make(map[logKey]model.RevenueDistribution),
		nodes:     make(map[string]model.Node),
	}
	if err := fn(tx); err != nil {
		return err
	}

	for k, v := range tx.rawEvents {
		s.rawEvents[k] = v
	}
	for k, v := range tx.revenue {
		s.revenue[k] = v
	}
	for k, v := range tx.nodes {
		s.nodes[k] = v
	}
	return nil
}

func (t *memTx) InsertRawEvent(_ context.Context, event model.RawEvent) (bool, error) {
	key := logKey{txHash: event.TxHash, logIndex: event.LogIndex}
	if _, ok := t.rawEvents[key]; ok {
		return false, nil
	}
	if _, ok := t.store.rawEvents[key]; ok {
		return false, nil
	}
	t.rawEvents[key] = event
	return true, nil
}

func (t *memTx) InsertRevenueDistribution(_ context.Context, dist model.RevenueDistribution) (bool, error) {
	key := logKey{txHash: dist.TxHash, logIndex: dist.LogIndex}
	if _, ok := t.revenue[key]; ok {
		return false, nil
	}
	if _, ok := t.store.revenue[key]; ok {
		return false, nil
	}
	t.revenue[key] = dist
	return true, nil
}

func (t *memTx) UpsertNode(_ context.Context, nodeID string, patch model.NodePatch) (model.Node, error) {
	if nodeID == "" {
		return model.Node{}, fmt.Errorf("node id required")
	}
	node, ok := t.nodes[nodeID]
	if !ok {
		node, ok = t.store.nodes[nodeID]
	}
	created := !ok
	if created {
		node = model.NewNode(nodeID)
	}

	merged, err := patch.Apply(node, created)
	if err != nil {
		return model.Node{}, err
	}
	t.nodes[nodeID] = merged
	return merged, nil
}

func (s *Store) GetNode(_ context.Context, nodeID string) (model.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[nodeID]
	if !ok {
		return model.Node{}, storage.ErrNotFound
	}
	return node, nil
}

func (s *Store) ListNodes(_ context.Context) ([]model.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Node, 0, len(s.nodes))
	for _, node := range s.nodes {
		out = append(out, node)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out, nil
}

func (s *Store) ListRevenueDistributions(_ context.Context) ([]model.RevenueDistribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.RevenueDistribution, 0, len(s.revenue))
	for _, dist := range s.revenue {
		out = append(out, dist)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].LogIndex < out[j].LogIndex
	})
	return out, nil
}

// RawEvents returns the audit rows ordered by ledger position.
func (s *Store) RawEvents() []model.RawEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.RawEvent, 0, len(s.rawEvents))
	for _, event := range s.rawEvents {
		out = append(out, event)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].LogIndex < out[j].LogIndex
	})
	return out
}

func (s *Store) Stats(_ context.Context) (model.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := model.NewStats()
	for _, event := range s.rawEvents {
		stats.EventsByKind[event.Kind]++
		stats.TotalEvents++
	}
	stats.RevenueDistributions = int64(len(s.revenue))
	stats.Nodes = int64(len(s.nodes))
	for _, node := range s.nodes {
		if node.Status == model.StatusActive {
			stats.ActiveNodes++
		}
	}
	stats.FailedLogs = int64(len(s.failed))
	return stats, nil
}

func (s *Store) LoadSyncState(_ context.Context, contract string) (model.SyncState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sync[contract]
	return state, ok, nil
}

func (s *Store) InitSyncState(_ context.Context, contract string) (model.SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sync[contract]
	if !ok {
		state = model.SyncState{Contract: contract}
		s.sync[contract] = state
	}
	return state, nil
}

func (s *Store) AdvanceSyncState(_ context.Context, contract string, block uint64, listening bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sync[contract]
	if !ok {
		state = model.SyncState{Contract: contract}
	}
	if block >= state.LastProcessedBlock {
		state.LastProcessedBlock = block
		now := s.now()
		state.LastProcessedAt = &now
	}
	state.Listening = listening
	s.sync[contract] = state
	return nil
}

func (s *Store) SetListening(_ context.Context, contract string, listening bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sync[contract]
	if !ok {
		state = model.SyncState{Contract: contract}
	}
	state.Listening = listening
	s.sync[contract] = state
	return nil
}

func (s *Store) RecordSyncError(_ context.Context, contract string, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sync[contract]
	if !ok {
		state = model.SyncState{Contract: contract}
	}
	state.ErrorCount++
	msg := message
	state.LastError = &msg
	s.sync[contract] = state
	return nil
}

func (s *Store) SaveFailedLog(_ context.Context, record model.LogRecord, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := logKey{txHash: record.TxHash, logIndex: record.LogIndex}
	now := s.now()
	entry, ok := s.failed[key]
	if !ok {
		entry = model.FailedLog{Record: record, FirstFailedAt: now}
	}
	entry.Attempts++
	entry.LastError = message
	entry.LastFailedAt = now
	s.failed[key] = entry
	return nil
}

func (s *Store) ListFailedLogs(_ context.Context, contract string, limit int) ([]model.FailedLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.FailedLog, 0, len(s.failed))
	for _, entry := range s.failed {
		if contract != "" && entry.Record.Address != contract {
			continue
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Record.BlockNumber != out[j].Record.BlockNumber {
			return out[i].Record.BlockNumber < out[j].Record.BlockNumber
		}
		return out[i].Record.LogIndex < out[j].Record.LogIndex
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) DeleteFailedLog(_ context.Context, txHash string, logIndex uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.failed, logKey{txHash: txHash, logIndex: logIndex})
	return nil
}
