// Package rpcclient is the rate-limited, retrying JSON-RPC client spec.md
// §4.1 specifies: getBlock, getBalance, getTransaction, traceCallMany,
// synchronous from the caller's view, all arguments hex-normalised before
// they leave the process. Grounded on node/node_rollup.go's ethclient.Dial
// pattern and ethclient/ethclient_rollup.go's rpc.BatchElem batching idiom.
package rpcclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/rylaix/backrun-auditor/internal/domain"
	"github.com/rylaix/backrun-auditor/internal/ratelimit"
)

// RetryPolicy mirrors spec.md §4.1's retry configuration.
type RetryPolicy struct {
	MaxRetries         int
	InitialDelay       time.Duration
	ExponentialBackoff bool
	EnableRetry        bool
}

// Client is the auditor's sole path to the blockchain node.
type Client struct {
	rpc    *rpc.Client
	gate   *ratelimit.Gate
	policy RetryPolicy
}

// Dial connects to the node's JSON-RPC endpoint.
func Dial(ctx context.Context, endpoint string, gate *ratelimit.Gate, policy RetryPolicy) (*Client, error) {
	c, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		log.Error("rpcclient: unable to connect to RPC endpoint", "endpoint", endpoint, "error", err)
		return nil, err
	}
	log.Info("rpcclient: connected to RPC endpoint", "endpoint", endpoint)
	return &Client{rpc: c, gate: gate, policy: policy}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.rpc.Close()
}

// call runs fn under the rate gate, retrying per policy on 429-equivalent
// and non-HTTP transport failures (spec.md §4.1).
func (c *Client) call(ctx context.Context, method string, fn func() error) error {
	if err := c.gate.Wait(ctx); err != nil {
		return fmt.Errorf("rpcclient: %s: rate gate: %w", method, err)
	}

	if !c.policy.EnableRetry {
		return fn()
	}

	var bo backoff.BackOff
	if c.policy.ExponentialBackoff {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = c.policy.InitialDelay
		bo = eb
	} else {
		bo = backoff.NewConstantBackOff(c.policy.InitialDelay)
	}
	bo = backoff.WithMaxRetries(bo, uint64(c.policy.MaxRetries))

	attempt := 0
	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return backoff.Permanent(err)
		}
		attempt++
		log.Warn("rpcclient: retrying after transient error", "method", method, "attempt", attempt, "error", err)
		return err
	}, bo)
}

// isRetryable reports whether err is a 429-equivalent response or a
// non-HTTP transport failure; any other HTTP error surfaces immediately
// (spec.md §4.1).
func isRetryable(err error) bool {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "429") || strings.Contains(msg, "too many requests") || strings.Contains(msg, "rate limit") {
		return true
	}
	if httpErr, ok := err.(rpc.HTTPError); ok {
		return httpErr.StatusCode == 429
	}
	// No structured HTTP error: treat as a non-HTTP transport failure and
	// retry identically, per spec.md §4.1.
	return true
}

// GetBlock fetches a block by number. includeTxs mirrors the node's
// eth_getBlockByNumber "full transaction objects" flag.
func (c *Client) GetBlock(ctx context.Context, number uint64, includeTxs bool) (domain.Block, error) {
	var raw map[string]interface{}
	err := c.call(ctx, "eth_getBlockByNumber", func() error {
		return c.rpc.CallContext(ctx, &raw, "eth_getBlockByNumber", domain.NormalizeHex(fmt.Sprintf("%x", number)), includeTxs)
	})
	if err != nil {
		return domain.Block{}, fmt.Errorf("rpcclient: get_block(%d): %w", number, err)
	}
	return decodeBlock(number, raw)
}

// LatestBlockNumber fetches the chain head's block number via
// eth_blockNumber — the RPC call the ingestion pipeline's start_block_offset
// resolution (spec.md §6) anchors against.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	var raw string
	err := c.call(ctx, "eth_blockNumber", func() error {
		return c.rpc.CallContext(ctx, &raw, "eth_blockNumber")
	})
	if err != nil {
		return 0, fmt.Errorf("rpcclient: latest_block_number: %w", err)
	}
	var h domain.HexNum
	if err := h.UnmarshalJSON([]byte(`"` + raw + `"`)); err != nil {
		return 0, fmt.Errorf("rpcclient: latest_block_number: decoding %q: %w", raw, err)
	}
	return h.Uint256().Uint64(), nil
}

// GetBalance fetches an account's balance at a given block (or "latest" if
// atBlock is empty).
func (c *Client) GetBalance(ctx context.Context, address common.Address, atBlock string) (domain.HexNum, error) {
	if atBlock == "" {
		atBlock = "latest"
	}
	var raw string
	err := c.call(ctx, "eth_getBalance", func() error {
		return c.rpc.CallContext(ctx, &raw, "eth_getBalance", address, atBlock)
	})
	if err != nil {
		return domain.HexNum{}, fmt.Errorf("rpcclient: get_balance(%s): %w", address, err)
	}
	var h domain.HexNum
	if err := h.UnmarshalJSON([]byte(`"` + raw + `"`)); err != nil {
		return domain.HexNum{}, fmt.Errorf("rpcclient: get_balance(%s): decoding %q: %w", address, raw, err)
	}
	return h, nil
}

// GetTransaction fetches a transaction by hash, returning the block number
// it was mined in (zero if still pending/unknown).
func (c *Client) GetTransaction(ctx context.Context, hash common.Hash) (domain.Transaction, uint64, error) {
	var raw map[string]interface{}
	err := c.call(ctx, "eth_getTransactionByHash", func() error {
		return c.rpc.CallContext(ctx, &raw, "eth_getTransactionByHash", hash)
	})
	if err != nil {
		return domain.Transaction{}, 0, fmt.Errorf("rpcclient: get_transaction(%s): %w", hash, err)
	}
	if raw == nil {
		return domain.Transaction{}, 0, fmt.Errorf("rpcclient: get_transaction(%s): not found", hash)
	}
	return decodeTransactionWithBlock(raw)
}

// TraceCall is one element of a trace_call_many batch request: the call
// object and the trace types to apply to it.
type TraceCall struct {
	Call       domain.Transaction
	TraceTypes []string
}

// TraceCallMany sends one trace_call request per call in a single JSON-RPC
// batch, preserving index order so callers can zip results with their own
// metadata (spec.md §4.1). Each call is traced independently against
// atBlock; the node's trace_callMany method is not used, so later calls do
// not see the state changes of earlier ones.
func (c *Client) TraceCallMany(ctx context.Context, calls []TraceCall, atBlock string) ([]domain.TraceResult, error) {
	if atBlock == "" {
		atBlock = "latest"
	}
	reqs := make([]rpc.BatchElem, len(calls))
	results := make([]map[string]interface{}, len(calls))
	for i, tc := range calls {
		reqs[i] = rpc.BatchElem{
			Method: "trace_call",
			Args:   []interface{}{callObject(tc.Call), tc.TraceTypes, atBlock},
			Result: &results[i],
		}
	}

	err := c.call(ctx, "trace_callMany", func() error {
		return c.rpc.BatchCallContext(ctx, reqs)
	})
	if err != nil {
		return nil, fmt.Errorf("rpcclient: trace_call_many: %w", err)
	}

	out := make([]domain.TraceResult, len(reqs))
	for i, req := range reqs {
		if req.Error != nil {
			return nil, fmt.Errorf("rpcclient: trace_call_many[%d]: %w", i, req.Error)
		}
		trace, err := decodeTraceResult(results[i])
		if err != nil {
			return nil, fmt.Errorf("rpcclient: trace_call_many[%d]: %w", i, err)
		}
		trace.TransactionHash = calls[i].Call.Hash
		trace.BundleID = calls[i].Call.BundleID
		out[i] = trace
	}
	return out, nil
}

// callObject builds the trace_call request object, carrying every field the
// node accepts and omitting absent ones rather than defaulting them
// (spec.md §4.1).
func callObject(tx domain.Transaction) map[string]interface{} {
	obj := map[string]interface{}{
		"from": tx.From,
		"gas":  fmt.Sprintf("0x%x", tx.GasLimit),
	}
	if tx.To != nil {
		obj["to"] = *tx.To
	}
	if tx.GasPrice != nil {
		obj["gasPrice"] = tx.GasPrice.Hex()
	}
	if tx.MaxFeePerGas != nil {
		obj["maxFeePerGas"] = tx.MaxFeePerGas.Hex()
	}
	if tx.MaxPriorityFeePerGas != nil {
		obj["maxPriorityFeePerGas"] = tx.MaxPriorityFeePerGas.Hex()
	}
	if !tx.Value.Uint256().IsZero() {
		obj["value"] = tx.Value.Hex()
	}
	if len(tx.Data) > 0 {
		obj["data"] = fmt.Sprintf("0x%x", tx.Data)
	}
	if tx.Nonce != 0 {
		obj["nonce"] = fmt.Sprintf("0x%x", tx.Nonce)
	}
	if tx.ChainID != 0 {
		obj["chainId"] = fmt.Sprintf("0x%x", tx.ChainID)
	}
	if len(tx.AccessList) > 0 {
		obj["accessList"] = tx.AccessList
	}
	return obj
}
