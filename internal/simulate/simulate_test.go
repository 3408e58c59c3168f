package simulate

import (
	"context"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/rylaix/backrun-auditor/internal/domain"
	"github.com/rylaix/backrun-auditor/internal/rpcclient"
)

type fakeTracer struct {
	balances map[common.Address]uint64
	traces   []domain.TraceResult
	traceErr error
}

func (f *fakeTracer) GetBalance(ctx context.Context, address common.Address, atBlock string) (domain.HexNum, error) {
	return domain.NewHexNum(f.balances[address]), nil
}

func (f *fakeTracer) GetTransaction(ctx context.Context, hash common.Hash) (domain.Transaction, uint64, error) {
	return domain.Transaction{Hash: hash}, 42, nil
}

func (f *fakeTracer) TraceCallMany(ctx context.Context, calls []rpcclient.TraceCall, atBlock string) ([]domain.TraceResult, error) {
	if f.traceErr != nil {
		return nil, f.traceErr
	}
	return f.traces, nil
}

type fakeStore struct {
	mu            sync.Mutex
	bundleStatus  map[string]domain.ProcessedBundleStatus
	txStatus      map[common.Hash]domain.ProcessedTransactionStatus
	tracesWritten [][]domain.TraceResult
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		bundleStatus: make(map[string]domain.ProcessedBundleStatus),
		txStatus:     make(map[common.Hash]domain.ProcessedTransactionStatus),
	}
}

func (s *fakeStore) UpsertProcessedBundle(ctx context.Context, pb domain.ProcessedBundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bundleStatus[pb.BundleID] = pb.Status
	return nil
}

func (s *fakeStore) UpsertProcessedTransaction(ctx context.Context, pt domain.ProcessedTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Terminal statuses are sticky, as in store.Store.
	if existing, ok := s.txStatus[pt.TxHash]; ok && existing.IsTerminal() {
		return nil
	}
	s.txStatus[pt.TxHash] = pt.Status
	return nil
}

func (s *fakeStore) BundleStatus(ctx context.Context, bundleID string, blockNumber uint64) (domain.ProcessedBundleStatus, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.bundleStatus[bundleID]
	return status, ok, nil
}

func (s *fakeStore) TransactionStatus(ctx context.Context, txHash common.Hash) (domain.ProcessedTransactionStatus, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.txStatus[txHash]
	return status, ok, nil
}

func (s *fakeStore) WriteTraceCache(blockNumber uint64, traces []domain.TraceResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracesWritten = append(s.tracesWritten, traces)
	return nil
}

func TestSimulateBundle_InsufficientBalanceMarksWholeBundle(t *testing.T) {
	addr := common.HexToAddress("0x1")
	hash := common.HexToHash("0xaa")
	tracer := &fakeTracer{balances: map[common.Address]uint64{addr: 10}}
	store := newFakeStore()
	sim := New(tracer, store, nil)

	bundle := domain.Bundle{
		ID: "bundle_0", BlockNumber: 5,
		Transactions: []domain.Transaction{
			{Hash: hash, From: addr, Value: domain.NewHexNum(100)},
		},
	}

	refund := sim.SimulateBundle(context.Background(), bundle)
	require.True(t, refund.IsZero())
	require.Equal(t, domain.BundleStatusInsufficientBalance, store.bundleStatus["bundle_0"])
	require.Equal(t, domain.TxStatusInsufficientBalance, store.txStatus[hash])
}

func TestSimulateBundle_SuccessfulPathComputesRefundAndPersists(t *testing.T) {
	addr := common.HexToAddress("0x1")
	hash := common.HexToHash("0xaa")
	gasUsed := uint64(21000)
	price := domain.NewHexNum(10)

	tracer := &fakeTracer{
		balances: map[common.Address]uint64{addr: 1_000_000},
		traces: []domain.TraceResult{
			{TransactionHash: hash, GasUsed: &gasUsed, EffectiveGasPrice: &price},
		},
	}
	store := newFakeStore()
	sim := New(tracer, store, nil)

	bundle := domain.Bundle{
		ID: "bundle_0", BlockNumber: 5,
		Transactions: []domain.Transaction{
			{Hash: hash, From: addr, GasLimit: 21000, GasPrice: &price, Value: domain.NewHexNum(0)},
		},
	}

	refund := sim.SimulateBundle(context.Background(), bundle)
	require.Equal(t, uint64(189000), refund.Uint64())
	require.Equal(t, domain.BundleStatusSimulated, store.bundleStatus["bundle_0"])
	require.Equal(t, domain.TxStatusSimulated, store.txStatus[hash])
	require.NotEmpty(t, store.tracesWritten)
}

func TestSimulateBundle_AlreadyTerminalBundleSkipped(t *testing.T) {
	tracer := &fakeTracer{}
	store := newFakeStore()
	store.bundleStatus["bundle_0"] = domain.BundleStatusSimulated
	sim := New(tracer, store, nil)

	bundle := domain.Bundle{ID: "bundle_0", BlockNumber: 5}
	refund := sim.SimulateBundle(context.Background(), bundle)
	require.True(t, refund.IsZero())
}

func TestSimulateBundle_TraceFailureMarksBundleFailedWithoutPanicking(t *testing.T) {
	addr := common.HexToAddress("0x1")
	hash := common.HexToHash("0xaa")
	tracer := &fakeTracer{
		balances: map[common.Address]uint64{addr: 1_000_000},
		traceErr: errSimulated{},
	}
	store := newFakeStore()
	sim := New(tracer, store, nil)

	bundle := domain.Bundle{
		ID: "bundle_0", BlockNumber: 5,
		Transactions: []domain.Transaction{
			{Hash: hash, From: addr, GasLimit: 21000, GasPrice: ptr(domain.NewHexNum(1))},
		},
	}
	refund := sim.SimulateBundle(context.Background(), bundle)
	require.True(t, refund.IsZero())
	require.Equal(t, domain.BundleStatusFailed, store.bundleStatus["bundle_0"])
}

type errSimulated struct{}

func (errSimulated) Error() string { return "simulated trace failure" }

func ptr(h domain.HexNum) *domain.HexNum { return &h }
