// Package telemetry records step durations to a dedicated log file for
// later post-processing, as spec.md §2/§4 requires. Grounded on
// original_source/tests/log_timings.py, which scrapes a plain-text
// "simulation_timings.log" for three step kinds: local balance-check time,
// server (RPC) balance-check time, and local simulation time. This
// implementation keeps that three-way local/remote split but records each
// entry as a JSON line via the teacher's slog-based logger rather than a
// free-text regex target, so post-processing never has to parse prose.
package telemetry

import (
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// StepKind distinguishes the timing categories the post-processing script
// (original_source/tests/log_timings.py) groups by.
type StepKind string

const (
	StepLocalBalanceCheck  StepKind = "local_balance_check"
	StepRemoteBalanceCheck StepKind = "remote_balance_check"
	StepLocalSimulation    StepKind = "local_simulation"
)

// Recorder writes one JSON line per recorded step to its own slog.Handler,
// kept separate from the main application log.
type Recorder struct {
	logger *slog.Logger
}

// NewRecorder builds a Recorder writing through handler.
func NewRecorder(handler slog.Handler) *Recorder {
	return &Recorder{logger: slog.New(handler)}
}

// Record logs one step's duration for txHash.
func (r *Recorder) Record(kind StepKind, txHash common.Hash, duration time.Duration) {
	r.logger.Info("step timing",
		"kind", string(kind),
		"tx_hash", txHash.Hex(),
		"seconds", duration.Seconds(),
	)
}

// Track is a convenience wrapper: call the returned function when the
// tracked operation completes.
func (r *Recorder) Track(kind StepKind, txHash common.Hash) func() {
	start := time.Now()
	return func() {
		r.Record(kind, txHash, time.Since(start))
	}
}
