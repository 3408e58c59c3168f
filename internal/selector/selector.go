// Package selector implements the pure top-K bundle selection stage spec.md
// §4 describes: choose the K candidate bundles with the highest declared
// refund, by greedy ordering.
package selector

import (
	"sort"

	"github.com/rylaix/backrun-auditor/internal/domain"
)

// Select returns the top k bundles by declared refund, descending. Ties
// preserve the input's relative order (stable sort), and k is clamped to
// len(bundles) when it exceeds it.
func Select(bundles []domain.Bundle, k int) []domain.Bundle {
	if k > len(bundles) {
		k = len(bundles)
	}
	if k <= 0 {
		return nil
	}

	ordered := make([]domain.Bundle, len(bundles))
	copy(ordered, bundles)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Refund.Uint256().Cmp(ordered[j].Refund.Uint256()) > 0
	})

	return ordered[:k]
}
