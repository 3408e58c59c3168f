// Package violation implements the detector spec.md §4.7 describes: compare
// the optimal combination's refund against the actual one, compute the
// delta, and list the bundles present in the optimal combination but
// missing from the actual one ("missed opportunities").
package violation

import (
	"github.com/holiman/uint256"
)

// Report is the detector's output for one block.
type Report struct {
	BlockNumber         uint64
	ViolationDetected   bool
	HighestRefund       *uint256.Int
	ActualRefund        *uint256.Int
	Delta               *uint256.Int
	MissedOpportunities []string
}

// Detect compares the optimal combination (highestRefund, optimalBundleIDs)
// against the actual one (actualRefund, actualBundleIDs) for blockNumber. A
// violation is emitted iff highestRefund > actualRefund.
func Detect(blockNumber uint64, highestRefund, actualRefund *uint256.Int, optimalBundleIDs, actualBundleIDs []string) Report {
	violated := highestRefund.Cmp(actualRefund) > 0

	delta := new(uint256.Int)
	if violated {
		delta.Sub(highestRefund, actualRefund)
	}

	return Report{
		BlockNumber:         blockNumber,
		ViolationDetected:   violated,
		HighestRefund:       highestRefund,
		ActualRefund:        actualRefund,
		Delta:               delta,
		MissedOpportunities: setDifference(optimalBundleIDs, actualBundleIDs),
	}
}

// setDifference returns the elements of optimal not present in actual,
// preserving optimal's order.
func setDifference(optimal, actual []string) []string {
	actualSet := make(map[string]struct{}, len(actual))
	for _, id := range actual {
		actualSet[id] = struct{}{}
	}
	var missed []string
	for _, id := range optimal {
		if _, ok := actualSet[id]; !ok {
			missed = append(missed, id)
		}
	}
	return missed
}
