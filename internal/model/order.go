// Package model holds the persistent record types shared by the book,
// engine, store, broadcaster, and batch builder: User, Order, Trade, and
// Batch. These are the arenas of records described in spec.md §9 — indexed
// by id, never cyclically linked.
package model

import "clobcore/internal/types"

// Order is a single trading intent, admitted, matched, and tracked by the
// matching engine (C3). The book (C2) holds positional references to
// resting orders by id; it never owns the record itself.
type Order struct {
	ID         string
	UserID     string
	Pair       types.Pair
	Side       types.Side
	Type       types.OrderType
	Price      types.Decimal // zero for market orders, which skip the crossing check when matched
	Amount     types.Decimal // original size, > 0
	Filled     types.Decimal // non-decreasing
	Status     types.OrderStatus
	Timestamp  int64 // ingress monotonic, milliseconds
	Nonce      uint64
	Signature  []byte // opaque provenance tag; never validated by the core
	ChainID    uint64
	ExpiresAt  *int64 // optional, milliseconds
	CancelNote types.CancelReason
}

// Remaining returns Amount - Filled.
func (o Order) Remaining() types.Decimal {
	return o.Amount.Sub(o.Filled)
}

// IsBuy reports whether the order is on the buy side.
func (o Order) IsBuy() bool { return o.Side == types.Buy }

// Resting reports whether the order currently belongs in a book level.
func (o Order) Resting() bool { return o.Status.Resting() }

// Clone returns a value copy of the order, safe for handing to consumers
// (event bus, store, broadcaster) that must not observe later in-place
// mutation by the engine.
func (o Order) Clone() Order {
	clone := o
	if o.ExpiresAt != nil {
		exp := *o.ExpiresAt
		clone.ExpiresAt = &exp
	}
	if o.Signature != nil {
		clone.Signature = append([]byte(nil), o.Signature...)
	}
	return clone
}
