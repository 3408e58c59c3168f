// Package store is the SQLite-backed persistence layer spec.md §2/§3
// describes: three tables (block_data, processed_bundles,
// processed_transactions) that make a run resumable and idempotent, plus a
// pair of on-disk JSON caches for raw block and bundle payloads. It is
// opened in WAL mode the way original_source/src/bundle_simulation.py opens
// its sqlite3 connection, reached through database/sql with the pure-Go
// modernc.org/sqlite driver so the binary never needs cgo.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	_ "modernc.org/sqlite"

	"github.com/rylaix/backrun-auditor/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS block_data (
	block_number      INTEGER PRIMARY KEY,
	transaction_count INTEGER NOT NULL,
	is_simulated      INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS processed_bundles (
	bundle_id          TEXT NOT NULL,
	block_number       INTEGER NOT NULL,
	status             TEXT NOT NULL,
	violation_detected INTEGER NOT NULL DEFAULT 0,
	updated_at         TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
	PRIMARY KEY (bundle_id, block_number)
);
CREATE TABLE IF NOT EXISTS processed_transactions (
	tx_hash      TEXT PRIMARY KEY,
	bundle_id    TEXT NOT NULL,
	block_number INTEGER NOT NULL,
	status       TEXT NOT NULL,
	is_backrun   INTEGER NOT NULL DEFAULT 0,
	updated_at   TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);
`

// Store wraps a *sql.DB opened against a single SQLite file in WAL mode, plus
// the directory the JSON block/bundle caches live under.
type Store struct {
	db *sql.DB

	cacheMu  sync.Mutex
	cacheDir string
}

// Open creates (if absent) and opens the SQLite database file at dbPath,
// applying the schema, and prepares cacheDir for the JSON payload caches.
func Open(dbPath, cacheDir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("store: creating database directory: %w", err)
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("store: creating cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; one conn avoids SQLITE_BUSY churn.

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enabling foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: applying schema: %w", err)
	}

	return &Store{db: db, cacheDir: cacheDir}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// HighestIngestedBlock returns the largest block_number present in
// block_data, and false if the table is empty — the ingestion pipeline's
// resume point (spec.md §4.3).
func (s *Store) HighestIngestedBlock(ctx context.Context) (uint64, bool, error) {
	var n sql.NullInt64
	row := s.db.QueryRowContext(ctx, "SELECT MAX(block_number) FROM block_data")
	if err := row.Scan(&n); err != nil {
		return 0, false, fmt.Errorf("store: querying highest ingested block: %w", err)
	}
	if !n.Valid {
		return 0, false, nil
	}
	return uint64(n.Int64), true, nil
}

// UpsertBlockRecord writes or replaces a block_data row.
func (s *Store) UpsertBlockRecord(ctx context.Context, rec domain.BlockRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO block_data (block_number, transaction_count, is_simulated)
		VALUES (?, ?, ?)
		ON CONFLICT(block_number) DO UPDATE SET
			transaction_count = excluded.transaction_count,
			is_simulated = excluded.is_simulated
	`, rec.BlockNumber, rec.TransactionCount, boolToInt(rec.IsSimulated))
	if err != nil {
		return fmt.Errorf("store: upserting block %d: %w", rec.BlockNumber, err)
	}
	return nil
}

// MarkBlockSimulated flips block_data.is_simulated to true for blockNumber.
func (s *Store) MarkBlockSimulated(ctx context.Context, blockNumber uint64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE block_data SET is_simulated = 1 WHERE block_number = ?`, blockNumber)
	if err != nil {
		return fmt.Errorf("store: marking block %d simulated: %w", blockNumber, err)
	}
	return nil
}

// BundleStatus returns the currently recorded status for (bundleID,
// blockNumber), and false if no row exists yet.
func (s *Store) BundleStatus(ctx context.Context, bundleID string, blockNumber uint64) (domain.ProcessedBundleStatus, bool, error) {
	var status string
	row := s.db.QueryRowContext(ctx, `SELECT status FROM processed_bundles WHERE bundle_id = ? AND block_number = ?`, bundleID, blockNumber)
	if err := row.Scan(&status); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("store: reading bundle status %s/%d: %w", bundleID, blockNumber, err)
	}
	return domain.ProcessedBundleStatus(status), true, nil
}

// UpsertProcessedBundle writes a processed_bundles row, unless the existing
// row is already in a terminal status — terminal statuses are sticky and
// re-runs must not overwrite them (spec.md §3).
func (s *Store) UpsertProcessedBundle(ctx context.Context, pb domain.ProcessedBundle) error {
	existing, ok, err := s.BundleStatus(ctx, pb.BundleID, pb.BlockNumber)
	if err != nil {
		return err
	}
	if ok && existing.IsTerminal() {
		log.Trace("store: skipping sticky terminal bundle status", "bundle_id", pb.BundleID, "block", pb.BlockNumber, "status", existing)
		return nil
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO processed_bundles (bundle_id, block_number, status, violation_detected)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(bundle_id, block_number) DO UPDATE SET
			status = excluded.status,
			violation_detected = excluded.violation_detected,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
	`, pb.BundleID, pb.BlockNumber, string(pb.Status), boolToInt(pb.ViolationDetected))
	if err != nil {
		return fmt.Errorf("store: upserting processed bundle %s/%d: %w", pb.BundleID, pb.BlockNumber, err)
	}
	return nil
}

// TransactionStatus returns the currently recorded status for txHash, and
// false if no row exists yet.
func (s *Store) TransactionStatus(ctx context.Context, txHash common.Hash) (domain.ProcessedTransactionStatus, bool, error) {
	var status string
	row := s.db.QueryRowContext(ctx, `SELECT status FROM processed_transactions WHERE tx_hash = ?`, txHash.Hex())
	if err := row.Scan(&status); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("store: reading tx status %s: %w", txHash, err)
	}
	return domain.ProcessedTransactionStatus(status), true, nil
}

// UpsertProcessedTransaction writes a processed_transactions row, skipping
// the write if the existing status is already terminal.
func (s *Store) UpsertProcessedTransaction(ctx context.Context, pt domain.ProcessedTransaction) error {
	existing, ok, err := s.TransactionStatus(ctx, pt.TxHash)
	if err != nil {
		return err
	}
	if ok && existing.IsTerminal() {
		log.Trace("store: skipping sticky terminal tx status", "tx_hash", pt.TxHash, "status", existing)
		return nil
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO processed_transactions (tx_hash, bundle_id, block_number, status, is_backrun)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tx_hash) DO UPDATE SET
			bundle_id = excluded.bundle_id,
			block_number = excluded.block_number,
			status = excluded.status,
			is_backrun = excluded.is_backrun,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
	`, pt.TxHash.Hex(), pt.BundleID, pt.BlockNumber, string(pt.Status), boolToInt(pt.IsBackrun))
	if err != nil {
		return fmt.Errorf("store: upserting processed transaction %s: %w", pt.TxHash, err)
	}
	return nil
}

// UnsimulatedBundleIDs returns the bundle IDs at blockNumber whose recorded
// status is absent or non-terminal — the search stage's "skip subsets whose
// every bundle is already simulated" filter operates on this set.
func (s *Store) UnsimulatedBundleIDs(ctx context.Context, blockNumber uint64, allBundleIDs []string) (map[string]bool, error) {
	result := make(map[string]bool, len(allBundleIDs))
	for _, id := range allBundleIDs {
		status, ok, err := s.BundleStatus(ctx, id, blockNumber)
		if err != nil {
			return nil, err
		}
		result[id] = !ok || !status.IsTerminal()
	}
	return result, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- JSON payload caches -----------------------------------------------

// WriteBlockCache serializes a Block to <cacheDir>/block_<number>.json.
func (s *Store) WriteBlockCache(block domain.Block) error {
	return s.writeJSON(fmt.Sprintf("block_%d.json", block.Number), block)
}

// ReadBlockCache loads a previously cached Block, if present.
func (s *Store) ReadBlockCache(blockNumber uint64) (domain.Block, bool, error) {
	var block domain.Block
	ok, err := s.readJSON(fmt.Sprintf("block_%d.json", blockNumber), &block)
	return block, ok, err
}

// WriteBundleCache serializes the candidate bundle list for a block to
// <cacheDir>/bundles_<number>.json.
func (s *Store) WriteBundleCache(blockNumber uint64, bundles []domain.Bundle) error {
	return s.writeJSON(fmt.Sprintf("bundles_%d.json", blockNumber), bundles)
}

// ReadBundleCache loads the previously cached bundle list for a block.
func (s *Store) ReadBundleCache(blockNumber uint64) ([]domain.Bundle, bool, error) {
	var bundles []domain.Bundle
	ok, err := s.readJSON(fmt.Sprintf("bundles_%d.json", blockNumber), &bundles)
	return bundles, ok, err
}

// WriteTraceCache appends traces to the per-block simulation results file
// <cacheDir>/simulation_results_<number>.json. The simulator calls this once
// per bundle and once per backrun transaction, so the file must accumulate
// across calls rather than overwrite — it is the durable record of every
// trace result produced for the block (spec.md §4.5 step 6, §6).
func (s *Store) WriteTraceCache(blockNumber uint64, traces []domain.TraceResult) error {
	filename := fmt.Sprintf("simulation_results_%d.json", blockNumber)

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	var existing []domain.TraceResult
	data, err := os.ReadFile(filepath.Join(s.cacheDir, filename))
	if err == nil {
		if uerr := json.Unmarshal(data, &existing); uerr != nil {
			return fmt.Errorf("store: unmarshaling %s: %w", filename, uerr)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("store: reading %s: %w", filename, err)
	}

	existing = append(existing, traces...)

	out, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshaling %s: %w", filename, err)
	}
	path := filepath.Join(s.cacheDir, filename)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return fmt.Errorf("store: writing %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

// ReadTraceCache loads the accumulated simulation results for a block, if
// any have been written yet.
func (s *Store) ReadTraceCache(blockNumber uint64) ([]domain.TraceResult, bool, error) {
	var traces []domain.TraceResult
	ok, err := s.readJSON(fmt.Sprintf("simulation_results_%d.json", blockNumber), &traces)
	return traces, ok, err
}

func (s *Store) writeJSON(filename string, v interface{}) error {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshaling %s: %w", filename, err)
	}
	path := filepath.Join(s.cacheDir, filename)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("store: writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("store: renaming %s: %w", tmp, err)
	}
	return nil
}

func (s *Store) readJSON(filename string, v interface{}) (bool, error) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.cacheDir, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("store: reading %s: %w", filename, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("store: unmarshaling %s: %w", filename, err)
	}
	return true, nil
}
