// Package search implements the optimal-combination search spec.md §4.6
// describes: enumerate every non-empty subset of a block's candidate
// bundles, simulate the concatenation each subset represents, and track the
// argmax refund. Subsets are enumerated in a fixed order — size ascending,
// lexicographic within size — so re-runs are deterministic and tie-breaking
// (first-encountered wins) is well defined.
package search

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/rylaix/backrun-auditor/internal/domain"
)

// ErrCardinalityExceeded is returned when the candidate set is larger than
// the configured cap; 2^N-1 subsets is the intentional cost this search
// pays, but it must be bounded (spec.md §4.6).
type ErrCardinalityExceeded struct {
	Count int
	Cap   int
}

func (e *ErrCardinalityExceeded) Error() string {
	return fmt.Sprintf("search: candidate set of %d bundles exceeds max_combination_cardinality %d", e.Count, e.Cap)
}

// SimulateFunc runs the concatenation of the given bundles (in subset
// enumeration order, each bundle's internal transaction order preserved)
// and returns the refund the combination would have produced.
type SimulateFunc func(ctx context.Context, combination []domain.Bundle) (*uint256.Int, error)

// Result is the best combination found, alongside its refund.
type Result struct {
	BundleIDs []string
	Refund    *uint256.Int
}

// Run enumerates every non-empty subset of bundles, in size-ascending,
// lexicographic-within-size order, skipping any subset whose every member
// is already marked simulated (unsimulated reports which bundle IDs are NOT
// yet simulated), and returns the argmax-refund combination.
func Run(ctx context.Context, bundles []domain.Bundle, unsimulated map[string]bool, maxCardinality int, simulate SimulateFunc) (*Result, error) {
	n := len(bundles)
	if n == 0 {
		return &Result{Refund: uint256.NewInt(0)}, nil
	}
	if n > maxCardinality {
		return nil, &ErrCardinalityExceeded{Count: n, Cap: maxCardinality}
	}

	var best *Result

	for size := 1; size <= n; size++ {
		for _, combo := range subsetsOfSize(n, size) {
			if allSimulated(bundles, combo, unsimulated) {
				continue
			}

			members := make([]domain.Bundle, len(combo))
			ids := make([]string, len(combo))
			for i, idx := range combo {
				members[i] = bundles[idx]
				ids[i] = bundles[idx].ID
			}

			refund, err := simulate(ctx, members)
			if err != nil {
				return nil, fmt.Errorf("search: simulating combination %v: %w", ids, err)
			}

			if best == nil || refund.Cmp(best.Refund) > 0 {
				best = &Result{BundleIDs: ids, Refund: refund}
			}
		}
	}

	if best == nil {
		best = &Result{Refund: uint256.NewInt(0)}
	}
	return best, nil
}

// allSimulated reports whether every bundle in combo is already simulated
// (i.e. absent from the unsimulated set), making the subset redundant work
// (spec.md §4.6).
func allSimulated(bundles []domain.Bundle, combo []int, unsimulated map[string]bool) bool {
	for _, idx := range combo {
		if unsimulated[bundles[idx].ID] {
			return false
		}
	}
	return true
}

// subsetsOfSize returns every size-k subset of {0, ..., n-1} as index lists,
// in lexicographic order.
func subsetsOfSize(n, k int) [][]int {
	var out [][]int
	combo := make([]int, k)
	var recurse func(start, depth int)
	recurse = func(start, depth int) {
		if depth == k {
			snapshot := make([]int, k)
			copy(snapshot, combo)
			out = append(out, snapshot)
			return
		}
		for i := start; i < n; i++ {
			combo[depth] = i
			recurse(i+1, depth+1)
		}
	}
	recurse(0, 0)
	return out
}
