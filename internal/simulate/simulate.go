// Package simulate implements the Simulator spec.md §4.5 describes: balance
// precheck, trace_callMany invocation, enrichment, refund computation,
// persistence, and a backrun sub-pass. Failure in one bundle never prevents
// simulation of the next — grounded on the teacher's loop pattern in
// miner/worker_rollup.go, where per-transaction errors are logged
// (log.Error, key-value style) and the loop continues.
package simulate

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/rylaix/backrun-auditor/internal/domain"
	"github.com/rylaix/backrun-auditor/internal/rpcclient"
	"github.com/rylaix/backrun-auditor/internal/telemetry"
)

// Tracer is the subset of internal/rpcclient.Client the simulator depends
// on for balances, traces, and canonical block lookups.
type Tracer interface {
	GetBalance(ctx context.Context, address common.Address, atBlock string) (domain.HexNum, error)
	GetTransaction(ctx context.Context, hash common.Hash) (domain.Transaction, uint64, error)
	TraceCallMany(ctx context.Context, calls []rpcclient.TraceCall, atBlock string) ([]domain.TraceResult, error)
}

// Store is the subset of internal/store.Store the simulator depends on.
type Store interface {
	UpsertProcessedBundle(ctx context.Context, pb domain.ProcessedBundle) error
	UpsertProcessedTransaction(ctx context.Context, pt domain.ProcessedTransaction) error
	BundleStatus(ctx context.Context, bundleID string, blockNumber uint64) (domain.ProcessedBundleStatus, bool, error)
	TransactionStatus(ctx context.Context, txHash common.Hash) (domain.ProcessedTransactionStatus, bool, error)
	WriteTraceCache(blockNumber uint64, traces []domain.TraceResult) error
}

// Simulator orchestrates the per-bundle simulation pipeline.
type Simulator struct {
	rpc       Tracer
	store     Store
	telemetry *telemetry.Recorder
}

// New builds a Simulator.
func New(rpc Tracer, store Store, rec *telemetry.Recorder) *Simulator {
	return &Simulator{rpc: rpc, store: store, telemetry: rec}
}

// SimulateBundle runs the precheck -> trace -> enrich -> refund -> persist
// pipeline for one bundle and returns its computed refund. A failed
// simulation is reflected in the store and a zero refund, never an error
// that would abort the caller's loop over subsequent bundles, per spec.md
// §4.5's failure semantics.
func (s *Simulator) SimulateBundle(ctx context.Context, bundle domain.Bundle) *uint256.Int {
	if status, ok, err := s.store.BundleStatus(ctx, bundle.ID, bundle.BlockNumber); err == nil && ok && status.IsTerminal() {
		log.Trace("simulate: bundle already terminal, skipping", "bundle_id", bundle.ID, "status", status)
		return uint256.NewInt(0)
	}

	if insufficient := s.bundleBalancePrecheck(ctx, bundle); insufficient {
		s.markBundle(ctx, bundle.ID, bundle.BlockNumber, domain.BundleStatusInsufficientBalance)
		for _, tx := range bundle.Transactions {
			s.markTransaction(ctx, tx.Hash, bundle.ID, bundle.BlockNumber, domain.TxStatusInsufficientBalance, false)
		}
		return uint256.NewInt(0)
	}

	var live []domain.Transaction
	for _, tx := range bundle.Transactions {
		if status, ok, err := s.store.TransactionStatus(ctx, tx.Hash); err == nil && ok && status.IsTerminal() {
			continue
		}
		if ok, balance := s.perTxBalanceCheck(ctx, tx, bundle.BlockNumber); !ok {
			log.Info("simulate: transaction fails stricter precheck", "tx_hash", tx.Hash, "balance", balance.Hex())
			s.markTransaction(ctx, tx.Hash, bundle.ID, bundle.BlockNumber, domain.TxStatusInsufficientBalance, false)
			continue
		}
		live = append(live, tx)
	}

	if len(live) == 0 {
		s.markBundle(ctx, bundle.ID, bundle.BlockNumber, domain.BundleStatusInsufficientBalance)
		return uint256.NewInt(0)
	}

	traces, err := s.traceBundle(ctx, live, bundle.BlockNumber)
	if err != nil {
		log.Error("simulate: trace_call_many failed", "bundle_id", bundle.ID, "error", err)
		s.markBundle(ctx, bundle.ID, bundle.BlockNumber, domain.BundleStatusFailed)
		return uint256.NewInt(0)
	}

	enriched := s.enrich(ctx, traces, bundle.BlockNumber)
	refund := domain.ComputeRefund(enriched)

	if err := s.store.WriteTraceCache(bundle.BlockNumber, enriched); err != nil {
		log.Error("simulate: writing trace cache failed, continuing", "block", bundle.BlockNumber, "error", err)
	}
	for _, tx := range live {
		s.markTransaction(ctx, tx.Hash, bundle.ID, bundle.BlockNumber, domain.TxStatusSimulated, false)
	}
	s.markBundle(ctx, bundle.ID, bundle.BlockNumber, domain.BundleStatusSimulated)

	s.backrunSubPass(ctx, live, bundle)

	return refund
}

// bundleBalancePrecheck fetches every sender's balance and compares it
// against the transaction's declared value; a single insufficient sender
// fails the whole bundle (spec.md §4.5 step 1).
func (s *Simulator) bundleBalancePrecheck(ctx context.Context, bundle domain.Bundle) bool {
	for _, tx := range bundle.Transactions {
		done := s.trackLocal(telemetry.StepLocalBalanceCheck, tx.Hash)
		balance, err := s.rpc.GetBalance(ctx, tx.From, hexBlock(bundle.BlockNumber))
		done()
		if err != nil {
			log.Error("simulate: balance precheck RPC failed", "tx_hash", tx.Hash, "error", err)
			return true
		}
		if balance.Uint256().Cmp(tx.Value.Uint256()) < 0 {
			return true
		}
	}
	return false
}

// perTxBalanceCheck applies the stricter required = gas_limit*max_fee_per_gas
// + value check (spec.md §4.5 step 2).
func (s *Simulator) perTxBalanceCheck(ctx context.Context, tx domain.Transaction, blockNumber uint64) (bool, domain.HexNum) {
	done := s.trackRemote(telemetry.StepRemoteBalanceCheck, tx.Hash)
	balance, err := s.rpc.GetBalance(ctx, tx.From, hexBlock(blockNumber))
	done()
	if err != nil {
		log.Error("simulate: per-tx balance check RPC failed", "tx_hash", tx.Hash, "error", err)
		return false, domain.HexNum{}
	}

	required := new(uint256.Int).Mul(uint256.NewInt(tx.GasLimit), tx.EffectiveGasPrice().Uint256())
	required.Add(required, tx.Value.Uint256())

	return balance.Uint256().Cmp(required) >= 0, balance
}

func (s *Simulator) traceBundle(ctx context.Context, txs []domain.Transaction, blockNumber uint64) ([]domain.TraceResult, error) {
	calls := make([]rpcclient.TraceCall, len(txs))
	for i, tx := range txs {
		calls[i] = rpcclient.TraceCall{Call: tx, TraceTypes: []string{"trace", "stateDiff"}}
	}

	done := s.trackLocal(telemetry.StepLocalSimulation, common.Hash{})
	defer done()
	return s.rpc.TraceCallMany(ctx, calls, hexBlock(blockNumber))
}

// enrich zips each trace with its originating transaction metadata and
// attempts to resolve the canonical mined block, falling back to the
// simulated block number on failure (spec.md §4.5 step 4).
func (s *Simulator) enrich(ctx context.Context, traces []domain.TraceResult, fallbackBlock uint64) []domain.TraceResult {
	out := make([]domain.TraceResult, len(traces))
	for i, tr := range traces {
		_, minedBlock, err := s.rpc.GetTransaction(ctx, tr.TransactionHash)
		if err != nil || minedBlock == 0 {
			tr.BlockNumber = fallbackBlock
		} else {
			tr.BlockNumber = minedBlock
		}
		out[i] = tr
	}
	return out
}

// backrunSubPass simulates a hypothetical trailing ("p+1") execution per
// transaction. Failures are logged and isolated — they never fail the outer
// bundle (spec.md §4.5 step 7).
func (s *Simulator) backrunSubPass(ctx context.Context, txs []domain.Transaction, bundle domain.Bundle) {
	for _, tx := range txs {
		calls := []rpcclient.TraceCall{{Call: tx, TraceTypes: []string{"trace", "stateDiff"}}}
		traces, err := s.rpc.TraceCallMany(ctx, calls, hexBlock(bundle.BlockNumber))
		if err != nil || len(traces) == 0 {
			log.Warn("simulate: backrun sub-pass failed, isolated from outer bundle", "tx_hash", tx.Hash, "error", err)
			continue
		}
		trace := traces[0]
		trace.TransactionHash = tx.Hash
		trace.BundleID = bundle.ID
		trace = s.enrich(ctx, []domain.TraceResult{trace}, bundle.BlockNumber)[0]
		trace.IsBackrun = true

		if err := s.store.WriteTraceCache(bundle.BlockNumber, []domain.TraceResult{trace}); err != nil {
			log.Error("simulate: writing backrun trace cache failed, continuing", "tx_hash", tx.Hash, "error", err)
		}
		s.markTransaction(ctx, tx.Hash, bundle.ID, bundle.BlockNumber, domain.TxStatusBackrunSimulated, true)
	}
}

func (s *Simulator) markBundle(ctx context.Context, bundleID string, blockNumber uint64, status domain.ProcessedBundleStatus) {
	if err := s.store.UpsertProcessedBundle(ctx, domain.ProcessedBundle{
		BundleID: bundleID, BlockNumber: blockNumber, Status: status,
	}); err != nil {
		log.Error("simulate: persisting bundle status failed, continuing", "bundle_id", bundleID, "error", err)
	}
}

func (s *Simulator) markTransaction(ctx context.Context, hash common.Hash, bundleID string, blockNumber uint64, status domain.ProcessedTransactionStatus, isBackrun bool) {
	if err := s.store.UpsertProcessedTransaction(ctx, domain.ProcessedTransaction{
		TxHash: hash, BundleID: bundleID, BlockNumber: blockNumber, Status: status, IsBackrun: isBackrun,
	}); err != nil {
		log.Error("simulate: persisting transaction status failed, continuing", "tx_hash", hash, "error", err)
	}
}

func (s *Simulator) trackLocal(kind telemetry.StepKind, hash common.Hash) func() {
	if s.telemetry == nil {
		return func() {}
	}
	return s.telemetry.Track(kind, hash)
}

func (s *Simulator) trackRemote(kind telemetry.StepKind, hash common.Hash) func() {
	return s.trackLocal(kind, hash)
}

func hexBlock(number uint64) string {
	h := domain.NewHexNum(number)
	return h.Hex()
}
