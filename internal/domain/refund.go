package domain

import "github.com/holiman/uint256"

// RefundComponents is the fixed-width vector of backrun-value contributions
// per trace result, modelled after the teacher's VectorFeeBigint: a small
// slice of nilable 256-bit values that either contribute to a sum or are
// treated as absent. Unlike the teacher's vector (which errors on a nil
// element), an absent component here contributes zero — spec.md §4.5 is
// explicit that "fields absent in a trace contribute zero."
//
// Open question (spec.md §9, not resolved here by design): whether
// GasComponent and PriorityFee double-count economically identical value is
// undocumented upstream. This implementation sums both unconditionally,
// exactly as the distilled spec requires.
type RefundComponents struct {
	GasComponent       *uint256.Int // gas_used * effective_gas_price
	BuilderReward      *uint256.Int
	PriorityFee        *uint256.Int
	SlippageProtection *uint256.Int
}

// ComponentsFromTrace extracts the four refund components from a single
// trace result, computing the gas component when both gas_used and
// effective_gas_price are present.
func ComponentsFromTrace(t TraceResult) RefundComponents {
	var c RefundComponents
	if t.GasUsed != nil && t.EffectiveGasPrice != nil {
		c.GasComponent = new(uint256.Int).Mul(
			new(uint256.Int).SetUint64(*t.GasUsed),
			t.EffectiveGasPrice.Uint256(),
		)
	}
	if t.BuilderReward != nil {
		c.BuilderReward = t.BuilderReward.Uint256()
	}
	if t.PriorityFee != nil {
		c.PriorityFee = t.PriorityFee.Uint256()
	}
	if t.SlippageProtection != nil {
		c.SlippageProtection = t.SlippageProtection.Uint256()
	}
	return c
}

// sum adds the non-nil elements of the vector to acc in place.
func (c RefundComponents) sum(acc *uint256.Int) {
	for _, v := range []*uint256.Int{c.GasComponent, c.BuilderReward, c.PriorityFee, c.SlippageProtection} {
		if v != nil {
			acc.Add(acc, v)
		}
	}
}

// nine and ten back the ×9÷10 scaling spec.md §4.5/§9 requires in place of
// floating-point multiplication by 0.9, to avoid float drift.
var (
	nine = uint256.NewInt(9)
	ten  = uint256.NewInt(10)
)

// ComputeRefund sums the backrun-value components across every trace result
// in the set and returns 0.9 of the total, computed as ×9÷10 with truncating
// (round-toward-zero) integer division — deterministic and bit-identical for
// the same input trace list, as spec.md §8 requires.
func ComputeRefund(traces []TraceResult) *uint256.Int {
	total := new(uint256.Int)
	for _, t := range traces {
		ComponentsFromTrace(t).sum(total)
	}
	return new(uint256.Int).Div(new(uint256.Int).Mul(total, nine), ten)
}
