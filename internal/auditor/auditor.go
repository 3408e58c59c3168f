// Package auditor is the top-level per-block orchestrator: over the
// candidate bundles the ingestion pipeline has already cached, it runs
// select -> simulate -> search -> detect -> alert, matching the
// data flow spec.md §2 describes ("ingestion writes to the persistence
// store; simulator reads candidates from the store ... the search and
// detector consume simulator outputs; the alerter is the only sink at the
// system boundary").
package auditor

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/rylaix/backrun-auditor/internal/alert"
	"github.com/rylaix/backrun-auditor/internal/config"
	"github.com/rylaix/backrun-auditor/internal/domain"
	"github.com/rylaix/backrun-auditor/internal/search"
	"github.com/rylaix/backrun-auditor/internal/selector"
	"github.com/rylaix/backrun-auditor/internal/simulate"
	"github.com/rylaix/backrun-auditor/internal/violation"
)

// BundleStore is the subset of internal/store.Store the orchestrator reads
// cached candidate bundles from.
type BundleStore interface {
	ReadBundleCache(blockNumber uint64) ([]domain.Bundle, bool, error)
	UnsimulatedBundleIDs(ctx context.Context, blockNumber uint64, allBundleIDs []string) (map[string]bool, error)
	MarkBlockSimulated(ctx context.Context, blockNumber uint64) error
}

// Runtime wires every component the per-block audit pass depends on.
type Runtime struct {
	store     BundleStore
	simulator *simulate.Simulator
	sinks     *alert.Sinks
	cfg       *config.Config
}

// New builds a Runtime.
func New(store BundleStore, simulator *simulate.Simulator, sinks *alert.Sinks, cfg *config.Config) *Runtime {
	return &Runtime{store: store, simulator: simulator, sinks: sinks, cfg: cfg}
}

// AuditBlock runs the full audit pass for one block: select the top-K
// candidate bundles, simulate the actual (selector-chosen) combination,
// search for the optimal combination, detect a violation, and alert on one.
func (r *Runtime) AuditBlock(ctx context.Context, blockNumber uint64) error {
	bundles, ok, err := r.store.ReadBundleCache(blockNumber)
	if err != nil {
		return fmt.Errorf("auditor: reading bundle cache for block %d: %w", blockNumber, err)
	}
	if !ok || len(bundles) == 0 {
		log.Trace("auditor: no candidate bundles for block, skipping", "block", blockNumber)
		return nil
	}
	if !r.cfg.BundleSimulation.SimulationEnabled {
		log.Trace("auditor: simulation disabled, skipping", "block", blockNumber)
		return nil
	}

	actual := selector.Select(bundles, r.cfg.BundleSimulation.MaxSelectedBundles)
	if len(actual) == 0 {
		// spec.md §8: max_selected_bundles = 0 must leave the simulator with
		// no work and the store untouched — stop here, before any
		// SimulateBundle call, rather than letting the search below treat
		// every candidate's refund as a missed opportunity.
		log.Trace("auditor: selector chose no bundles, skipping simulation", "block", blockNumber)
		return nil
	}

	// refundOf memoizes each bundle's simulated refund for the duration of
	// this block's audit pass. SimulateBundle returns zero for a bundle
	// already in a terminal store status (its RPC work is done), so without
	// this cache a bundle simulated once during the actual-selection pass
	// would contribute zero refund to every later combination the search
	// enumerates that reuses it, breaking the "optimal >= any individually
	// selected bundle's refund" invariant (spec.md §8).
	refunds := make(map[string]*uint256.Int, len(bundles))
	refundOf := func(bundle domain.Bundle) *uint256.Int {
		if cached, ok := refunds[bundle.ID]; ok {
			return cached
		}
		refund := r.simulator.SimulateBundle(ctx, bundle)
		refunds[bundle.ID] = refund
		return refund
	}

	actualRefund := uint256.NewInt(0)
	actualIDs := make([]string, 0, len(actual))
	for _, bundle := range actual {
		actualRefund.Add(actualRefund, refundOf(bundle))
		actualIDs = append(actualIDs, bundle.ID)
	}

	allIDs := make([]string, len(bundles))
	for i, b := range bundles {
		allIDs[i] = b.ID
	}
	unsimulated, err := r.store.UnsimulatedBundleIDs(ctx, blockNumber, allIDs)
	if err != nil {
		return fmt.Errorf("auditor: resolving unsimulated bundles for block %d: %w", blockNumber, err)
	}

	// Summing memoized per-bundle refunds makes the argmax the first
	// enumerated subset holding every non-zero-refund bundle, and runs N
	// simulations rather than re-simulating each of the 2^N-1
	// concatenations the way bundle_simulation.py does.
	result, err := search.Run(ctx, bundles, unsimulated, r.cfg.MaxCombinationCardinality, func(ctx context.Context, combo []domain.Bundle) (*uint256.Int, error) {
		total := uint256.NewInt(0)
		for _, bundle := range combo {
			total.Add(total, refundOf(bundle))
		}
		return total, nil
	})
	if err != nil {
		log.Error("auditor: optimal-combination search failed", "block", blockNumber, "error", err)
		return fmt.Errorf("auditor: search for block %d: %w", blockNumber, err)
	}

	report := violation.Detect(blockNumber, result.Refund, actualRefund, result.BundleIDs, actualIDs)
	if report.ViolationDetected {
		log.Warn("auditor: violation detected", "block", blockNumber, "delta", report.Delta, "missed", report.MissedOpportunities)
		r.sinks.Send(ctx, formatViolationMessage(report))
	}

	if err := r.store.MarkBlockSimulated(ctx, blockNumber); err != nil {
		log.Error("auditor: marking block simulated failed, continuing", "block", blockNumber, "error", err)
	}

	return nil
}

func formatViolationMessage(r violation.Report) string {
	return fmt.Sprintf(
		"MEV refund violation at block %d: optimal=%s actual=%s delta=%s missed=%v",
		r.BlockNumber, r.HighestRefund.Dec(), r.ActualRefund.Dec(), r.Delta.Dec(), r.MissedOpportunities,
	)
}
