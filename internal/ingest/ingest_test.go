package ingest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rylaix/backrun-auditor/internal/domain"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls []uint64
}

func (f *fakeFetcher) GetBlock(ctx context.Context, number uint64, includeTxs bool) (domain.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, number)
	return domain.Block{Number: number}, nil
}

type fakeBundleSource struct {
	bundles []domain.Bundle
}

func (f *fakeBundleSource) CandidateBundles(ctx context.Context) ([]domain.Bundle, error) {
	return f.bundles, nil
}

type fakeStore struct {
	mu         sync.Mutex
	highest    uint64
	hasHighest bool
	recorded   []domain.BlockRecord
}

func (s *fakeStore) HighestIngestedBlock(ctx context.Context) (uint64, bool, error) {
	return s.highest, s.hasHighest, nil
}

func (s *fakeStore) UpsertBlockRecord(ctx context.Context, rec domain.BlockRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded = append(s.recorded, rec)
	return nil
}

func (s *fakeStore) WriteBlockCache(block domain.Block) error          { return nil }
func (s *fakeStore) WriteBundleCache(n uint64, b []domain.Bundle) error { return nil }

func TestRun_IngestsFullRangeWhenStoreEmpty(t *testing.T) {
	fetcher := &fakeFetcher{}
	store := &fakeStore{}
	p := New(fetcher, &fakeBundleSource{}, store, 4)

	require.NoError(t, p.Run(context.Background(), 10, 13))

	require.ElementsMatch(t, []uint64{10, 11, 12, 13}, fetcher.calls)
}

func TestRun_ResumesFromHighestIngestedPlusOne(t *testing.T) {
	fetcher := &fakeFetcher{}
	store := &fakeStore{highest: 11, hasHighest: true}
	p := New(fetcher, &fakeBundleSource{}, store, 4)

	require.NoError(t, p.Run(context.Background(), 10, 13))

	require.ElementsMatch(t, []uint64{12, 13}, fetcher.calls)
}

func TestRun_NoopWhenAlreadyCaughtUp(t *testing.T) {
	fetcher := &fakeFetcher{}
	store := &fakeStore{highest: 13, hasHighest: true}
	p := New(fetcher, &fakeBundleSource{}, store, 4)

	require.NoError(t, p.Run(context.Background(), 10, 13))
	require.Empty(t, fetcher.calls)
}

func TestRun_FailsWhenHighestIngestedExceedsEndBlock(t *testing.T) {
	fetcher := &fakeFetcher{}
	store := &fakeStore{highest: 20, hasHighest: true}
	p := New(fetcher, &fakeBundleSource{}, store, 4)

	err := p.Run(context.Background(), 10, 13)
	require.Error(t, err)
	require.Empty(t, fetcher.calls)
	var target *ErrLatestProcessedExceedsEndBlock
	require.ErrorAs(t, err, &target)
}

func TestPartitionByBlock_GroupsByTargetBlock(t *testing.T) {
	bundles := []domain.Bundle{
		{ID: "a", BlockNumber: 1},
		{ID: "b", BlockNumber: 2},
		{ID: "c", BlockNumber: 1},
	}
	byBlock := partitionByBlock(bundles)
	require.Len(t, byBlock[1], 2)
	require.Len(t, byBlock[2], 1)
}
