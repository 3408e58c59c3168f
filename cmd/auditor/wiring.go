package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/rylaix/backrun-auditor/internal/analytics"
	"github.com/rylaix/backrun-auditor/internal/config"
	"github.com/rylaix/backrun-auditor/internal/domain"
	"github.com/rylaix/backrun-auditor/internal/rpcclient"
)

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

func pollInterval(cfg *config.Config) time.Duration {
	return secondsToDuration(cfg.PollingRateSeconds)
}

// vendoredQueries loads the SQL guard's locally vendored copy of every query
// the analytics client submits (spec.md §4.2) from dir, one "<query_id>.sql"
// file per query, keyed by filename without extension. A missing directory
// is not fatal here: guardSQL itself errors per-query-id if validate_sql is
// true and no matching file was found, which is the behavior spec.md's
// scenario 5 exercises.
func vendoredQueries(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("wiring: reading vendored queries directory %s: %w", dir, err)
	}

	queries := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("wiring: reading vendored query %s: %w", path, err)
		}
		queryID := strings.TrimSuffix(entry.Name(), ".sql")
		queries[queryID] = string(data)
	}
	return queries, nil
}

// ErrEmptyFirstQuery is the fatal configuration error spec.md §6 names:
// the analytics source returned no rows on its first execution while
// abort_on_empty_first_query is configured true.
type ErrEmptyFirstQuery struct {
	QueryID string
}

func (e *ErrEmptyFirstQuery) Error() string {
	return fmt.Sprintf("wiring: analytics query %s returned no rows on its first execution", e.QueryID)
}

// blockRangeBundleSource adapts internal/analytics.Client to
// internal/ingest.BundleSource, running the configured bundle query over
// the full configured block range once per pipeline run.
type blockRangeBundleSource struct {
	client                 *analytics.Client
	queryID                string
	startBlock             uint64
	endBlock               uint64
	abortOnEmptyFirstQuery bool
	queried                bool
}

func (b *blockRangeBundleSource) CandidateBundles(ctx context.Context) ([]domain.Bundle, error) {
	rows, err := b.client.RunQuery(ctx, b.queryID, b.startBlock, b.endBlock)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 && !b.queried && b.abortOnEmptyFirstQuery {
		return nil, &ErrEmptyFirstQuery{QueryID: b.queryID}
	}
	b.queried = true

	bundles := make([]domain.Bundle, 0, len(rows))
	for i, row := range rows {
		bundle, err := rowToBundle(row, i)
		if err != nil {
			log.Warn("wiring: skipping malformed candidate bundle row", "index", i, "error", err)
			continue
		}
		bundles = append(bundles, bundle)
	}
	return bundles, nil
}

func rowToBundle(row analytics.Row, index int) (domain.Bundle, error) {
	id, _ := row["id"].(string)
	id = domain.BundleIDOrSynthesized(id, index)

	var blockNumber uint64
	if bn, ok := row["block_number"].(float64); ok {
		blockNumber = uint64(bn)
	}

	var refund domain.HexNum
	if r, ok := row["refund"]; ok {
		if h, err := decodeRowHexNum(r); err == nil {
			refund = h
		}
	}

	txs, err := decodeBundleTransactions(row["transactions"], id)
	if err != nil {
		// spec.md §7: an un-parseable bundle transactions JSON string is a
		// malformed-data case, not a fatal one — skip the bundle, never
		// propagate.
		return domain.Bundle{}, err
	}

	return domain.Bundle{ID: id, BlockNumber: blockNumber, Refund: refund, Transactions: txs}, nil
}

// decodeBundleTransactions decodes a bundle row's "transactions" field. The
// analytics source serialises the bundle's ordered transaction list as a
// JSON-encoded string column rather than a nested array, matching
// original_source/src/data_gathering.py's json.loads(row["transactions"])
// step; bundle transaction order is preserved (spec.md §3).
func decodeBundleTransactions(raw interface{}, bundleID string) ([]domain.Transaction, error) {
	if raw == nil {
		return nil, nil
	}
	encoded, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("wiring: bundle %s: transactions field is not a JSON string", bundleID)
	}
	if encoded == "" {
		return nil, nil
	}

	var rawTxs []map[string]interface{}
	if err := json.Unmarshal([]byte(encoded), &rawTxs); err != nil {
		return nil, fmt.Errorf("wiring: bundle %s: un-parseable transactions JSON: %w", bundleID, err)
	}

	txs := make([]domain.Transaction, 0, len(rawTxs))
	for _, rawTx := range rawTxs {
		tx, err := rpcclient.DecodeTransaction(rawTx)
		if err != nil {
			return nil, fmt.Errorf("wiring: bundle %s: decoding transaction: %w", bundleID, err)
		}
		tx.BundleID = bundleID
		txs = append(txs, tx)
	}
	return txs, nil
}

func decodeRowHexNum(v interface{}) (domain.HexNum, error) {
	var h domain.HexNum
	switch val := v.(type) {
	case float64:
		h = domain.NewHexNum(uint64(val))
		return h, nil
	case string:
		if err := h.UnmarshalJSON([]byte(`"` + val + `"`)); err != nil {
			return domain.HexNum{}, err
		}
		return h, nil
	default:
		return domain.HexNum{}, nil
	}
}
