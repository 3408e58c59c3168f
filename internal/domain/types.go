package domain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Block is a confirmed block as fetched from the node. It is immutable once
// fetched and cached verbatim as a serialized snapshot keyed by block number.
type Block struct {
	Number       uint64        `json:"number"`
	Timestamp    uint64        `json:"timestamp"`
	StateRoot    common.Hash   `json:"state_root"`
	Transactions []Transaction `json:"transactions"`

	// Unknown fields retained from the raw RPC payload so re-serialisation of
	// the cache is a fixed point; the engine never reads them.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// AccessListEntry mirrors the EIP-2930 access list tuple.
type AccessListEntry struct {
	Address     common.Address `json:"address"`
	StorageKeys []common.Hash  `json:"storageKeys"`
}

// Transaction is identified by its 32-byte hash. Fee fields follow the
// either/or shape spec.md §3 describes: legacy gasPrice, or the EIP-1559 pair.
type Transaction struct {
	Hash     common.Hash     `json:"hash"`
	From     common.Address  `json:"from"`
	To       *common.Address `json:"to,omitempty"`
	Value    HexNum          `json:"value"`
	GasLimit uint64          `json:"gas_limit"`

	// Exactly one of GasPrice or {MaxFeePerGas, MaxPriorityFeePerGas} is set.
	GasPrice             *HexNum `json:"gas_price,omitempty"`
	MaxFeePerGas         *HexNum `json:"max_fee_per_gas,omitempty"`
	MaxPriorityFeePerGas *HexNum `json:"max_priority_fee_per_gas,omitempty"`

	Nonce      uint64            `json:"nonce"`
	ChainID    uint64            `json:"chain_id"`
	Data       []byte            `json:"data,omitempty"`
	AccessList []AccessListEntry `json:"access_list,omitempty"`

	// BundleID is populated once the transaction is associated with a
	// candidate bundle; a transaction may belong to zero or more bundles.
	BundleID string `json:"bundle_id,omitempty"`
}

// EffectiveGasPrice returns the fee-per-gas figure the simulator's per-
// transaction balance precheck uses: the legacy gas price when set, else the
// max fee per gas (the cap the sender is willing to pay, matching the Python
// source's use of maxFeePerGas as the precheck price). Refund computation
// does not use it; it reads the trace result's effective gas price.
func (t Transaction) EffectiveGasPrice() HexNum {
	if t.GasPrice != nil {
		return *t.GasPrice
	}
	if t.MaxFeePerGas != nil {
		return *t.MaxFeePerGas
	}
	return HexNum{}
}

// Bundle is an ordered sequence of transactions submitted together. Within a
// block, bundles are independent candidates; the ordering *within* a bundle
// is preserved and meaningful (spec.md §3).
type Bundle struct {
	ID           string        `json:"id"`
	BlockNumber  uint64        `json:"block_number"`
	Refund       HexNum        `json:"refund"`
	Transactions []Transaction `json:"transactions"`
}

// BundleIDOrSynthesized returns the bundle's declared ID, or the synthesized
// "bundle_<index>" form spec.md §3 specifies when the source omits one.
func BundleIDOrSynthesized(id string, index int) string {
	if id != "" {
		return id
	}
	return fmt.Sprintf("bundle_%d", index)
}

// StateDiffEntry is one account's balance/nonce/storage delta from a trace.
type StateDiffEntry struct {
	Address common.Address     `json:"address"`
	Balance *BalanceDiff       `json:"balance,omitempty"`
	Nonce   *NonceDiff         `json:"nonce,omitempty"`
	Storage map[string]HexNum  `json:"storage,omitempty"`
	Extra   map[string]any     `json:"extra,omitempty"`
}

// BalanceDiff captures a before/after balance pair.
type BalanceDiff struct {
	From HexNum `json:"from"`
	To   HexNum `json:"to"`
}

// NonceDiff captures a before/after nonce pair.
type NonceDiff struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

// TraceResult is the per-transaction outcome of a simulated trace_callMany
// call, enriched post-hoc with the originating transaction hash and the block
// number in which it was actually mined (when known).
type TraceResult struct {
	TransactionHash common.Hash      `json:"transaction_hash"`
	BundleID        string           `json:"bundle_id,omitempty"`
	BlockNumber     uint64           `json:"block_number"`
	GasUsed         *uint64          `json:"gas_used,omitempty"`
	EffectiveGasPrice *HexNum        `json:"effective_gas_price,omitempty"`
	BuilderReward   *HexNum          `json:"builder_reward,omitempty"`
	PriorityFee     *HexNum          `json:"priority_fee,omitempty"`
	SlippageProtection *HexNum       `json:"slippage_protection,omitempty"`
	StateDiff       []StateDiffEntry `json:"state_diff,omitempty"`
	IsBackrun       bool             `json:"is_backrun"`
}

// ProcessedBundleStatus is the status column of the processed_bundles table.
type ProcessedBundleStatus string

const (
	BundleStatusPending             ProcessedBundleStatus = "pending"
	BundleStatusSimulated           ProcessedBundleStatus = "simulated"
	BundleStatusInsufficientBalance ProcessedBundleStatus = "insufficient_balance"
	BundleStatusFailed              ProcessedBundleStatus = "failed"
)

// IsTerminal reports whether the status is sticky: a re-run must skip keys
// already in a terminal state (spec.md §3).
func (s ProcessedBundleStatus) IsTerminal() bool {
	switch s {
	case BundleStatusSimulated, BundleStatusInsufficientBalance, BundleStatusFailed:
		return true
	default:
		return false
	}
}

// ProcessedTransactionStatus is the status column of the
// processed_transactions table.
type ProcessedTransactionStatus string

const (
	TxStatusPending             ProcessedTransactionStatus = "pending"
	TxStatusSimulated           ProcessedTransactionStatus = "simulated"
	TxStatusBackrunSimulated    ProcessedTransactionStatus = "backrun_simulated"
	TxStatusInsufficientBalance ProcessedTransactionStatus = "insufficient_balance"
	TxStatusFailed              ProcessedTransactionStatus = "failed"
)

// IsTerminal reports whether re-runs must skip this transaction.
func (s ProcessedTransactionStatus) IsTerminal() bool {
	switch s {
	case TxStatusSimulated, TxStatusBackrunSimulated, TxStatusInsufficientBalance, TxStatusFailed:
		return true
	default:
		return false
	}
}

// ProcessedBundle is the in-memory mirror of a processed_bundles row.
type ProcessedBundle struct {
	BundleID          string
	BlockNumber       uint64
	Status            ProcessedBundleStatus
	ViolationDetected bool
}

// ProcessedTransaction is the in-memory mirror of a processed_transactions row.
type ProcessedTransaction struct {
	TxHash      common.Hash
	BundleID    string
	BlockNumber uint64
	Status      ProcessedTransactionStatus
	IsBackrun   bool
}

// BlockRecord is the in-memory mirror of a block_data row.
type BlockRecord struct {
	BlockNumber      uint64
	TransactionCount int
	IsSimulated      bool
}
