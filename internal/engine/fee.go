package engine

import (
	"clobcore/internal/model"
	"clobcore/internal/types"
)

// FeePolicy computes the fee charged on a trade. Spec.md §9 leaves the
// exact fee model an open question ("source hints at maker/taker fees and
// 0.3% swap fees inconsistently"); rather than guess, the engine takes the
// policy as a pluggable collaborator so a maker/taker schedule, a flat
// swap fee, or no fee at all can all be wired in without touching the
// matching algorithm.
type FeePolicy interface {
	// Fee returns the fee to record on a trade between taker and maker for
	// the given matched amount at the given trade price.
	Fee(taker, maker model.Order, price, amount types.Decimal) types.Decimal
}

// NoFeePolicy charges nothing. It is the engine's default so that matching
// semantics (spec.md §8 properties) can be tested independent of any
// fee schedule.
type NoFeePolicy struct{}

func (NoFeePolicy) Fee(_, _ model.Order, _, amount types.Decimal) types.Decimal {
	return types.ZeroAt(amount.Scale())
}

// MakerTakerFeePolicy charges the taker TakerRate of the notional
// (price*amount). It has no maker rate: the maker leg is not charged or
// rebated, and only this taker-side fee is recorded on Trade.Fee (§3
// carries a single `fee` field per trade).
type MakerTakerFeePolicy struct {
	TakerRate types.Decimal // e.g. 0.001 for 10bps
}

func (p MakerTakerFeePolicy) Fee(_, _ model.Order, price, amount types.Decimal) types.Decimal {
	notional := price.Mul(amount)
	return notional.Mul(p.TakerRate)
}
