package indexer

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"nodeIndexer/internal/contract"
	"nodeIndexer/internal/model"
	"nodeIndexer/internal/storage"
	"nodeIndexer/internal/storage/memory"
)

var (
	testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	testOperator = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	testLessee   = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
)

const baseTimestamp = 1_700_000_000

func idTopic(id int64) common.Hash {
	return common.BigToHash(big.NewInt(id))
}

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

// eventLog packs a registry event the way the contract would emit it.
func eventLog(t *testing.T, name string, block uint64, index uint, indexed []common.Hash, data ...interface{}) types.Log {
	t.Helper()
	registry, err := contract.NodeRegistryABI()
	require.NoError(t, err)
	event, ok := registry.Events[name]
	require.True(t, ok, "event %s", name)

	packed, err := event.Inputs.NonIndexed().Pack(data...)
	require.NoError(t, err)

	return types.Log{
		Address:     testContract,
		Topics:      append([]common.Hash{event.ID}, indexed...),
		Data:        packed,
		BlockNumber: block,
		BlockHash:   common.BigToHash(new(big.Int).SetUint64(block)),
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block*1000 + uint64(index))),
		Index:       index,
	}
}

func registeredLog(t *testing.T, block uint64, index uint, nodeID int64, staked int64) types.Log {
	return eventLog(t, "NodeRegistered", block, index,
		[]common.Hash{idTopic(nodeID), addressTopic(testOperator)},
		uint8(1), big.NewInt(staked))
}

func statusLog(t *testing.T, block uint64, index uint, nodeID int64, oldStatus, newStatus uint8) types.Log {
	return eventLog(t, "NodeStatusChanged", block, index,
		[]common.Hash{idTopic(nodeID)},
		oldStatus, newStatus)
}

func revenueLog(t *testing.T, block uint64, index uint, leaseID, nodeID, total, lessee, operator int64) types.Log {
	return eventLog(t, "RevenueDistributed", block, index,
		[]common.Hash{idTopic(leaseID), idTopic(nodeID)},
		big.NewInt(total), big.NewInt(lessee), big.NewInt(operator))
}

func scenarioLogs(t *testing.T) []types.Log {
	return []types.Log{
		registeredLog(t, 3, 0, 7, 500),
		statusLog(t, 5, 1, 7, 0, 1),
		revenueLog(t, 8, 0, 1, 7, 100, 70, 20),
	}
}

type fakeSubscription struct {
	errCh chan error
	once  sync.Once
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{errCh: make(chan error, 1)}
}

func (s *fakeSubscription) Unsubscribe() {
	s.once.Do(func() { close(s.errCh) })
}

func (s *fakeSubscription) Err() <-chan error {
	return s.errCh
}

// fakeSource serves range queries from an in-memory log list and hands out
// controllable subscriptions.
type fakeSource struct {
	mu   sync.Mutex
	logs []types.Log
	head uint64

	// filterFailFrom makes range queries starting at or above it fail.
	filterFailFrom *uint64
	reverse        bool
	subscribeErr   error

	subs           []*fakeSubscription
	sink           chan<- types.Log
	filterCalls    int
	subscribeCalls int
}

func newFakeSource(head uint64, logs ...types.Log) *fakeSource {
	return &fakeSource{head: head, logs: logs}
}

func (f *fakeSource) LatestBlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeSource) BlockTimestamp(_ context.Context, number uint64) (uint64, error) {
	return baseTimestamp + number, nil
}

func (f *fakeSource) FilterLogs(_ context.Context, fromBlock, toBlock uint64, _ []common.Address, _ []common.Hash) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filterCalls++
	if f.filterFailFrom != nil && fromBlock >= *f.filterFailFrom {
		return nil, errors.New("range query failed")
	}
	out := make([]types.Log, 0)
	for _, log := range f.logs {
		if log.BlockNumber >= fromBlock && log.BlockNumber <= toBlock {
			out = append(out, log)
		}
	}
	if f.reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func (f *fakeSource) SubscribeLogs(_ context.Context, _ []common.Address, _ []common.Hash, ch chan<- types.Log) (ethereum.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribeCalls++
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	sub := newFakeSubscription()
	f.subs = append(f.subs, sub)
	f.sink = ch
	return sub, nil
}

func (f *fakeSource) setSubscribeErr(err error) {
	f.mu.Lock()
	f.subscribeErr = err
	f.mu.Unlock()
}

func (f *fakeSource) subscribeAttempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribeCalls
}

func (f *fakeSource) subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// emit delivers a log on the current subscription and records it for later
// range queries.
func (f *fakeSource) emit(log types.Log) {
	f.mu.Lock()
	f.logs = append(f.logs, log)
	if log.BlockNumber > f.head {
		f.head = log.BlockNumber
	}
	sink := f.sink
	f.mu.Unlock()
	sink <- log
}

// drop fails the current subscription.
func (f *fakeSource) drop(err error) {
	f.mu.Lock()
	sub := f.subs[len(f.subs)-1]
	f.mu.Unlock()
	sub.errCh <- err
}

// flakyStore fails the first n domain transactions, and every failed-log
// write while saveErr is set.
type flakyStore struct {
	*memory.Store
	mu       sync.Mutex
	failures int
	saveErr  error
}

func (f *flakyStore) SaveFailedLog(ctx context.Context, record model.LogRecord, message string) error {
	f.mu.Lock()
	err := f.saveErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.SaveFailedLog(ctx, record, message)
}

func (f *flakyStore) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return errors.New("write failed")
	}
	f.mu.Unlock()
	return f.Store.InTx(ctx, fn)
}

// recordingStore remembers every checkpoint value after each advance.
type recordingStore struct {
	*memory.Store
	mu       sync.Mutex
	observed []uint64
}

func (r *recordingStore) AdvanceSyncState(ctx context.Context, contract string, block uint64, listening bool) error {
	if err := r.Store.AdvanceSyncState(ctx, contract, block, listening); err != nil {
		return err
	}
	state, _, err := r.Store.LoadSyncState(ctx, contract)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.observed = append(r.observed, state.LastProcessedBlock)
	r.mu.Unlock()
	return nil
}

func newTestService(t *testing.T, source LogSource, store storage.Store, mutate ...func(*Config)) *Service {
	t.Helper()
	cfg := Config{
		Contract:     testContract,
		ChainID:      31337,
		BatchSize:    10,
		MaxRetries:   0,
		RetryBackoff: 1,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	svc, err := NewService(cfg, source, store, nil)
	require.NoError(t, err)
	return svc
}

func lastProcessed(t *testing.T, store storage.CheckpointStore) uint64 {
	t.Helper()
	state, found, err := store.LoadSyncState(context.Background(), testContract.Hex())
	require.NoError(t, err)
	if !found {
		return 0
	}
	return state.LastProcessedBlock
}

func listening(t *testing.T, store storage.CheckpointStore) bool {
	t.Helper()
	state, _, err := store.LoadSyncState(context.Background(), testContract.Hex())
	require.NoError(t, err)
	return state.Listening
}

func mustNode(t *testing.T, store storage.DomainStore, id string) model.Node {
	t.Helper()
	node, err := store.GetNode(context.Background(), id)
	require.NoError(t, err)
	return node
}
