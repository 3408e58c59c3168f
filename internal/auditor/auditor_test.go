package auditor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rylaix/backrun-auditor/internal/alert"
	"github.com/rylaix/backrun-auditor/internal/config"
	"github.com/rylaix/backrun-auditor/internal/domain"
	"github.com/rylaix/backrun-auditor/internal/simulate"
)

type fakeBundleStore struct {
	bundles []domain.Bundle
}

func (f *fakeBundleStore) ReadBundleCache(blockNumber uint64) ([]domain.Bundle, bool, error) {
	return f.bundles, len(f.bundles) > 0, nil
}

func (f *fakeBundleStore) UnsimulatedBundleIDs(ctx context.Context, blockNumber uint64, allBundleIDs []string) (map[string]bool, error) {
	m := make(map[string]bool, len(allBundleIDs))
	for _, id := range allBundleIDs {
		m[id] = true
	}
	return m, nil
}

func (f *fakeBundleStore) MarkBlockSimulated(ctx context.Context, blockNumber uint64) error { return nil }

func TestAuditBlock_NoBundlesIsNoop(t *testing.T) {
	slackServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("alert sink must not be called when there are no bundles")
	}))
	defer slackServer.Close()

	store := &fakeBundleStore{}
	sim := simulate.New(nil, nil, nil)
	sinks := alert.New("", "", slackServer.URL)
	cfg := &config.Config{BundleSimulation: config.BundleSimulation{MaxSelectedBundles: 5}, MaxCombinationCardinality: 16}

	rt := New(store, sim, sinks, cfg)
	require.NoError(t, rt.AuditBlock(context.Background(), 1))
}

func TestAuditBlock_SimulationDisabledIsNoop(t *testing.T) {
	slackServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("alert sink must not be called when simulation is disabled")
	}))
	defer slackServer.Close()

	store := &fakeBundleStore{bundles: []domain.Bundle{{ID: "bundle-1", BlockNumber: 1}}}
	// A nil Tracer/Store would panic if SimulateBundle were ever reached,
	// so this also proves the simulator is never invoked.
	sim := simulate.New(nil, nil, nil)
	sinks := alert.New("", "", slackServer.URL)
	cfg := &config.Config{
		BundleSimulation:          config.BundleSimulation{SimulationEnabled: false, MaxSelectedBundles: 5},
		MaxCombinationCardinality: 16,
	}

	rt := New(store, sim, sinks, cfg)
	require.NoError(t, rt.AuditBlock(context.Background(), 1))
}

func TestAuditBlock_MaxSelectedBundlesZeroIsNoop(t *testing.T) {
	slackServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("alert sink must not be called when no bundles are selected")
	}))
	defer slackServer.Close()

	store := &fakeBundleStore{bundles: []domain.Bundle{{ID: "bundle-1", BlockNumber: 1}}}
	// A nil Tracer/Store would panic if SimulateBundle were ever reached,
	// proving the search/simulate path never runs when nothing is selected.
	sim := simulate.New(nil, nil, nil)
	sinks := alert.New("", "", slackServer.URL)
	cfg := &config.Config{
		BundleSimulation:          config.BundleSimulation{SimulationEnabled: true, MaxSelectedBundles: 0},
		MaxCombinationCardinality: 16,
	}

	rt := New(store, sim, sinks, cfg)
	require.NoError(t, rt.AuditBlock(context.Background(), 1))
}
