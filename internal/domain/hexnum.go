// Package domain models the blocks, transactions, bundles and trace results
// the auditor reasons about, plus the numeric plumbing (hex normalisation,
// refund arithmetic) shared by every other component.
package domain

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// HexNum is the sum type Design Notes §9 asks for at the RPC boundary: a
// numeric field as received over JSON-RPC is either a decimal integer or a
// hex string, and it must never be consulted as a raw string or mixed with
// bare integers downstream. UnmarshalJSON normalises both forms; Hex renders
// the canonical "0x"-prefixed form, which NormalizeHex leaves unchanged.
type HexNum struct {
	val *uint256.Int
}

// NewHexNum wraps a plain integer value.
func NewHexNum(v uint64) HexNum {
	return HexNum{val: new(uint256.Int).SetUint64(v)}
}

// HexNumFromBig wraps an arbitrary-precision integer value.
func HexNumFromBig(v *big.Int) (HexNum, error) {
	u, overflow := uint256.FromBig(v)
	if overflow {
		return HexNum{}, fmt.Errorf("domain: value %s overflows 256 bits", v)
	}
	return HexNum{val: u}, nil
}

// Uint256 returns the underlying 256-bit unsigned value.
func (h HexNum) Uint256() *uint256.Int {
	if h.val == nil {
		return new(uint256.Int)
	}
	return h.val
}

// Hex renders the canonical "0x"-prefixed, minimal hex representation.
func (h HexNum) Hex() string {
	return h.Uint256().Hex()
}

// NormalizeHex accepts either a bare hex string ("a1") or a "0x"-prefixed one
// ("0xa1") and returns the "0x"-prefixed form. It is idempotent:
// NormalizeHex(NormalizeHex(x)) == NormalizeHex(x).
func NormalizeHex(s string) string {
	if s == "" {
		return s
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return "0x" + strings.ToLower(s[2:])
	}
	return "0x" + strings.ToLower(s)
}

// UnmarshalJSON accepts a JSON number, a bare numeric string, or a
// "0x"-prefixed hex string and normalises all three to the same internal
// representation before any arithmetic touches the value.
func (h *HexNum) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		h.val = new(uint256.Int)
		return nil
	case float64:
		big := new(big.Int)
		big.SetString(fmt.Sprintf("%.0f", v), 10)
		u, overflow := uint256.FromBig(big)
		if overflow {
			return fmt.Errorf("domain: numeric literal %v overflows 256 bits", v)
		}
		h.val = u
		return nil
	case string:
		return h.fromString(v)
	default:
		return fmt.Errorf("domain: unsupported hex-number encoding %T", raw)
	}
}

// fromString decodes either a "0x"-prefixed hex string or a bare decimal
// string — the two forms the analytics and RPC sources emit for numeric
// fields (spec.md §3's HexNum sum type). Only the hex form goes through
// NormalizeHex; a bare decimal string is decimal, not unprefixed hex.
func (h *HexNum) fromString(s string) error {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		u, err := uint256.FromHex(NormalizeHex(s))
		if err != nil {
			return fmt.Errorf("domain: invalid hex number %q: %w", s, err)
		}
		h.val = u
		return nil
	}
	u, err := uint256.FromDecimal(s)
	if err != nil {
		return fmt.Errorf("domain: invalid decimal number %q: %w", s, err)
	}
	h.val = u
	return nil
}

// MarshalJSON re-serialises using the canonical hex form so caches round-trip.
func (h HexNum) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Hex())
}
