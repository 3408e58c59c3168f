package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/rylaix/backrun-auditor/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "auditor.db"), filepath.Join(dir, "cache"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestHighestIngestedBlock_EmptyStore(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.HighestIngestedBlock(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHighestIngestedBlock_ReturnsMax(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertBlockRecord(ctx, domain.BlockRecord{BlockNumber: 10, TransactionCount: 3}))
	require.NoError(t, s.UpsertBlockRecord(ctx, domain.BlockRecord{BlockNumber: 12, TransactionCount: 1}))
	require.NoError(t, s.UpsertBlockRecord(ctx, domain.BlockRecord{BlockNumber: 11, TransactionCount: 2}))

	highest, ok, err := s.HighestIngestedBlock(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(12), highest)
}

func TestUpsertProcessedBundle_TerminalStatusIsSticky(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertProcessedBundle(ctx, domain.ProcessedBundle{
		BundleID: "bundle_0", BlockNumber: 5, Status: domain.BundleStatusSimulated,
	}))
	require.NoError(t, s.UpsertProcessedBundle(ctx, domain.ProcessedBundle{
		BundleID: "bundle_0", BlockNumber: 5, Status: domain.BundleStatusFailed,
	}))

	status, ok, err := s.BundleStatus(ctx, "bundle_0", 5)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.BundleStatusSimulated, status, "terminal status must not be overwritten")
}

func TestUpsertProcessedBundle_NonTerminalMayOverwrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertProcessedBundle(ctx, domain.ProcessedBundle{
		BundleID: "bundle_0", BlockNumber: 5, Status: domain.BundleStatusPending,
	}))
	require.NoError(t, s.UpsertProcessedBundle(ctx, domain.ProcessedBundle{
		BundleID: "bundle_0", BlockNumber: 5, Status: domain.BundleStatusSimulated,
	}))

	status, ok, err := s.BundleStatus(ctx, "bundle_0", 5)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.BundleStatusSimulated, status)
}

func TestUpsertProcessedTransaction_TerminalStatusIsSticky(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	hash := common.HexToHash("0x1")

	require.NoError(t, s.UpsertProcessedTransaction(ctx, domain.ProcessedTransaction{
		TxHash: hash, BundleID: "bundle_0", BlockNumber: 5, Status: domain.TxStatusSimulated,
	}))
	require.NoError(t, s.UpsertProcessedTransaction(ctx, domain.ProcessedTransaction{
		TxHash: hash, BundleID: "bundle_0", BlockNumber: 5, Status: domain.TxStatusFailed,
	}))

	status, ok, err := s.TransactionStatus(ctx, hash)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.TxStatusSimulated, status)
}

func TestBlockAndBundleCache_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	block := domain.Block{Number: 100, Timestamp: 123}
	require.NoError(t, s.WriteBlockCache(block))

	got, ok, err := s.ReadBlockCache(100)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, block.Number, got.Number)
	require.Equal(t, block.Timestamp, got.Timestamp)

	_, ok, err = s.ReadBlockCache(999)
	require.NoError(t, err)
	require.False(t, ok)

	bundles := []domain.Bundle{{ID: "bundle_0", BlockNumber: 100}}
	require.NoError(t, s.WriteBundleCache(100, bundles))
	gotBundles, ok, err := s.ReadBundleCache(100)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, gotBundles, 1)
	require.Equal(t, "bundle_0", gotBundles[0].ID)
}

func TestWriteTraceCache_AccumulatesAcrossCalls(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.WriteTraceCache(7, []domain.TraceResult{
		{TransactionHash: common.HexToHash("0x1"), BundleID: "bundle_0"},
	}))
	require.NoError(t, s.WriteTraceCache(7, []domain.TraceResult{
		{TransactionHash: common.HexToHash("0x2"), BundleID: "bundle_1"},
	}))

	traces, ok, err := s.ReadTraceCache(7)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, traces, 2, "a second WriteTraceCache call must append, not overwrite")
	require.Equal(t, common.HexToHash("0x1"), traces[0].TransactionHash)
	require.Equal(t, common.HexToHash("0x2"), traces[1].TransactionHash)
}

func TestUnsimulatedBundleIDs_FiltersTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertProcessedBundle(ctx, domain.ProcessedBundle{
		BundleID: "bundle_0", BlockNumber: 1, Status: domain.BundleStatusSimulated,
	}))

	result, err := s.UnsimulatedBundleIDs(ctx, 1, []string{"bundle_0", "bundle_1"})
	require.NoError(t, err)
	require.False(t, result["bundle_0"])
	require.True(t, result["bundle_1"])
}
