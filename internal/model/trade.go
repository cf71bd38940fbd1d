package model

import "clobcore/internal/types"

// Trade records a single match between a taker and a maker order. Once
// emitted, trades are immutable — nothing in this codebase mutates a Trade
// after construction.
type Trade struct {
	ID           string
	TakerOrderID string
	MakerOrderID string
	Pair         types.Pair
	Side         types.Side // taker's side
	Price        types.Decimal
	Amount       types.Decimal
	Fee          types.Decimal
	Timestamp    int64
	BatchID      string // empty until attached to a batch
	ChainID      uint64
}
