package search

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/rylaix/backrun-auditor/internal/domain"
)

func allUnsimulated(bundles []domain.Bundle) map[string]bool {
	m := make(map[string]bool, len(bundles))
	for _, b := range bundles {
		m[b.ID] = true
	}
	return m
}

func TestSubsetsOfSize_CountsMatchBinomial(t *testing.T) {
	require.Len(t, subsetsOfSize(4, 1), 4)
	require.Len(t, subsetsOfSize(4, 2), 6)
	require.Len(t, subsetsOfSize(4, 3), 4)
	require.Len(t, subsetsOfSize(4, 4), 1)
}

func TestRun_FindsArgmaxRefund(t *testing.T) {
	bundles := []domain.Bundle{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	simulate := func(ctx context.Context, combo []domain.Bundle) (*uint256.Int, error) {
		// Refund equals combination size * 100, so the full set wins.
		return uint256.NewInt(uint64(len(combo) * 100)), nil
	}
	result, err := Run(context.Background(), bundles, allUnsimulated(bundles), 16, simulate)
	require.NoError(t, err)
	require.Equal(t, uint64(300), result.Refund.Uint64())
	require.ElementsMatch(t, []string{"a", "b", "c"}, result.BundleIDs)
}

func TestRun_FirstEncounteredWinsOnTie(t *testing.T) {
	bundles := []domain.Bundle{{ID: "a"}, {ID: "b"}}
	simulate := func(ctx context.Context, combo []domain.Bundle) (*uint256.Int, error) {
		return uint256.NewInt(50), nil
	}
	result, err := Run(context.Background(), bundles, allUnsimulated(bundles), 16, simulate)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, result.BundleIDs, "size-1 subset {a} is first-encountered among all-equal refunds")
}

func TestRun_SkipsFullyTerminalSubsets(t *testing.T) {
	bundles := []domain.Bundle{{ID: "a"}, {ID: "b"}}
	unsimulated := map[string]bool{"a": false, "b": true}
	var calls [][]string
	simulate := func(ctx context.Context, combo []domain.Bundle) (*uint256.Int, error) {
		ids := make([]string, len(combo))
		for i, b := range combo {
			ids[i] = b.ID
		}
		calls = append(calls, ids)
		return uint256.NewInt(1), nil
	}
	_, err := Run(context.Background(), bundles, unsimulated, 16, simulate)
	require.NoError(t, err)
	for _, call := range calls {
		require.NotEqual(t, []string{"a"}, call, "subset {a} is fully simulated and must be skipped")
	}
}

func TestRun_ExceedsCardinalityCapErrors(t *testing.T) {
	bundles := make([]domain.Bundle, 5)
	for i := range bundles {
		bundles[i] = domain.Bundle{ID: string(rune('a' + i))}
	}
	_, err := Run(context.Background(), bundles, allUnsimulated(bundles), 4, nil)
	require.Error(t, err)
	var capErr *ErrCardinalityExceeded
	require.ErrorAs(t, err, &capErr)
}

func TestRun_EmptyBundleSet(t *testing.T) {
	result, err := Run(context.Background(), nil, nil, 16, nil)
	require.NoError(t, err)
	require.True(t, result.Refund.IsZero())
}
