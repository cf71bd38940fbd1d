// Package events implements the single-producer, multi-consumer event bus
// (spec.md C4) that carries every state change out of the matching engine
// to the store (C5) and the market broadcaster (C6).
package events

import (
	"clobcore/internal/book"
	"clobcore/internal/model"
	"clobcore/internal/types"
)

// Kind is the closed tag for the event union.
type Kind int

const (
	KindOrderAdded Kind = iota
	KindOrderUpdated
	KindOrderCancelled
	KindOrderExpired
	KindTradeExecuted
	KindBookUpdated
	KindLagged
	KindHeartbeat
)

func (k Kind) String() string {
	switch k {
	case KindOrderAdded:
		return "OrderAdded"
	case KindOrderUpdated:
		return "OrderUpdated"
	case KindOrderCancelled:
		return "OrderCancelled"
	case KindOrderExpired:
		return "OrderExpired"
	case KindTradeExecuted:
		return "TradeExecuted"
	case KindBookUpdated:
		return "BookUpdated"
	case KindLagged:
		return "Lagged"
	case KindHeartbeat:
		return "Heartbeat"
	default:
		return "Unknown"
	}
}

// Event is the tagged union described in spec.md §6. Every event carries a
// Seq monotonically increasing per bus; all markets publishing on one bus
// share that one counter.
type Event struct {
	Seq  uint64
	Kind Kind
	Pair types.Pair

	Order *model.Order // OrderAdded / OrderUpdated / OrderCancelled / OrderExpired
	Trade *model.Trade // TradeExecuted

	BookUpdate *BookUpdate // BookUpdated
	Dropped    int         // Lagged
	HeartbeatTS int64      // Heartbeat
}

// BookUpdate carries either a full resend of the top-N levels (when Delta is
// nil) or a single-level incremental delta. The engine publishes full
// resends only; it never sets Delta.
type BookUpdate struct {
	Bids       []book.LevelSnapshot
	Asks       []book.LevelSnapshot
	LastUpdate int64
	Delta      *LevelDelta
}

// LevelDelta describes one changed price level: its new aggregate amount
// and order count after a mutation. A zero NewAggregate with NewOrderCount 0 means
// the level was removed.
type LevelDelta struct {
	Side          types.Side
	Price         types.Decimal
	NewAggregate  types.Decimal
	NewOrderCount int
}
