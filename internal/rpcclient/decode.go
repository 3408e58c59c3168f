package rpcclient

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rylaix/backrun-auditor/internal/domain"
)

// decodeBlock converts the raw eth_getBlockByNumber result into a domain
// Block, preserving any field the engine doesn't model in Extra so a
// round-trip through the cache is a fixed point (spec.md §3).
func decodeBlock(number uint64, raw map[string]interface{}) (domain.Block, error) {
	block := domain.Block{Number: number, Extra: map[string]interface{}{}}

	if ts, ok := raw["timestamp"]; ok {
		if n, err := hexFieldToUint64(ts); err == nil {
			block.Timestamp = n
		}
	}
	if sr, ok := raw["stateRoot"].(string); ok {
		block.StateRoot = common.HexToHash(sr)
	}

	if txsRaw, ok := raw["transactions"].([]interface{}); ok {
		for _, txRaw := range txsRaw {
			txMap, ok := txRaw.(map[string]interface{})
			if !ok {
				continue // not a full transaction object; caller requested includeTxs=false
			}
			tx, err := decodeTransaction(txMap)
			if err != nil {
				return domain.Block{}, err
			}
			block.Transactions = append(block.Transactions, tx)
		}
	}

	for k, v := range raw {
		switch k {
		case "timestamp", "stateRoot", "transactions", "number":
			continue
		}
		block.Extra[k] = v
	}

	return block, nil
}

// DecodeTransaction exposes the node transaction-object decoder for callers
// outside this package that need to parse transaction JSON from a source
// other than the RPC client itself — e.g. the analytics bundle feed's
// per-bundle "transactions" payload (spec.md §7: "un-parseable bundle
// transactions JSON string" is a malformed-data case, not a fatal one).
func DecodeTransaction(raw map[string]interface{}) (domain.Transaction, error) {
	return decodeTransaction(raw)
}

func decodeTransaction(raw map[string]interface{}) (domain.Transaction, error) {
	var tx domain.Transaction

	if h, ok := raw["hash"].(string); ok {
		tx.Hash = common.HexToHash(h)
	}
	if f, ok := raw["from"].(string); ok {
		tx.From = common.HexToAddress(f)
	}
	if t, ok := raw["to"].(string); ok && t != "" {
		addr := common.HexToAddress(t)
		tx.To = &addr
	}
	if v, ok := raw["value"]; ok {
		if h, err := decodeHexNum(v); err == nil {
			tx.Value = h
		}
	}
	if g, ok := raw["gas"]; ok {
		if n, err := hexFieldToUint64(g); err == nil {
			tx.GasLimit = n
		}
	}
	if gp, ok := raw["gasPrice"]; ok {
		if h, err := decodeHexNum(gp); err == nil {
			tx.GasPrice = &h
		}
	}
	if mf, ok := raw["maxFeePerGas"]; ok {
		if h, err := decodeHexNum(mf); err == nil {
			tx.MaxFeePerGas = &h
		}
	}
	if mp, ok := raw["maxPriorityFeePerGas"]; ok {
		if h, err := decodeHexNum(mp); err == nil {
			tx.MaxPriorityFeePerGas = &h
		}
	}
	if n, ok := raw["nonce"]; ok {
		if v, err := hexFieldToUint64(n); err == nil {
			tx.Nonce = v
		}
	}
	if c, ok := raw["chainId"]; ok {
		if v, err := hexFieldToUint64(c); err == nil {
			tx.ChainID = v
		}
	}
	if d, ok := raw["input"].(string); ok && d != "" && d != "0x" {
		tx.Data = common.FromHex(d)
	}

	return tx, nil
}

func decodeTransactionWithBlock(raw map[string]interface{}) (domain.Transaction, uint64, error) {
	tx, err := decodeTransaction(raw)
	if err != nil {
		return domain.Transaction{}, 0, err
	}
	var blockNumber uint64
	if bn, ok := raw["blockNumber"]; ok && bn != nil {
		if n, err := hexFieldToUint64(bn); err == nil {
			blockNumber = n
		}
	}
	return tx, blockNumber, nil
}

// decodeTraceResult maps the trace_call response's documented fields into a
// TraceResult; unrecognised nested shapes are skipped rather than failing
// the whole trace (spec.md §3: fields are optional).
func decodeTraceResult(raw map[string]interface{}) (domain.TraceResult, error) {
	var tr domain.TraceResult

	if gu, ok := raw["gasUsed"]; ok {
		if n, err := hexFieldToUint64(gu); err == nil {
			tr.GasUsed = &n
		}
	}
	if ep, ok := raw["effectiveGasPrice"]; ok {
		if h, err := decodeHexNum(ep); err == nil {
			tr.EffectiveGasPrice = &h
		}
	}
	if br, ok := raw["builderReward"]; ok {
		if h, err := decodeHexNum(br); err == nil {
			tr.BuilderReward = &h
		}
	}
	if pf, ok := raw["priorityFee"]; ok {
		if h, err := decodeHexNum(pf); err == nil {
			tr.PriorityFee = &h
		}
	}
	if sp, ok := raw["slippageProtection"]; ok {
		if h, err := decodeHexNum(sp); err == nil {
			tr.SlippageProtection = &h
		}
	}
	if sd, ok := raw["stateDiff"].(map[string]interface{}); ok {
		tr.StateDiff = decodeStateDiff(sd)
	}

	return tr, nil
}

func decodeStateDiff(raw map[string]interface{}) []domain.StateDiffEntry {
	entries := make([]domain.StateDiffEntry, 0, len(raw))
	for addr, v := range raw {
		entry := domain.StateDiffEntry{Address: common.HexToAddress(addr)}
		m, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		if bal, ok := m["balance"].(map[string]interface{}); ok {
			from, _ := decodeHexNum(bal["from"])
			to, _ := decodeHexNum(bal["to"])
			entry.Balance = &domain.BalanceDiff{From: from, To: to}
		}
		if nonce, ok := m["nonce"].(map[string]interface{}); ok {
			from, _ := hexFieldToUint64(nonce["from"])
			to, _ := hexFieldToUint64(nonce["to"])
			entry.Nonce = &domain.NonceDiff{From: from, To: to}
		}
		entries = append(entries, entry)
	}
	return entries
}

func decodeHexNum(v interface{}) (domain.HexNum, error) {
	var h domain.HexNum
	data, err := json.Marshal(v)
	if err != nil {
		return h, err
	}
	if err := h.UnmarshalJSON(data); err != nil {
		return h, err
	}
	return h, nil
}

func hexFieldToUint64(v interface{}) (uint64, error) {
	h, err := decodeHexNum(v)
	if err != nil {
		return 0, err
	}
	return h.Uint256().Uint64(), nil
}
