// Package book implements the per-market price-time-priority order book
// (spec.md C2): a balanced ordered map of price levels per side, each level
// a FIFO queue, giving O(log P) insertion/removal by price and O(1)
// amortized best-price peek.
package book

import (
	"container/list"

	"clobcore/internal/model"
	"clobcore/internal/types"

	"github.com/tidwall/btree"
)

type levels = btree.BTreeG[*PriceLevel]

// position locates a resting order for O(1) removal given only its id.
type position struct {
	side  types.Side
	level *PriceLevel
	elem  *list.Element
}

// OrderBook is the in-memory book for a single market (pair). It is owned
// exclusively by the matching engine's executor for that market; nothing
// outside the engine's per-market goroutine touches it.
type OrderBook struct {
	Pair       types.Pair
	bids       *levels // descending by price
	asks       *levels // ascending by price
	LastUpdate int64

	positions map[string]position
}

// New constructs an empty book for pair.
func New(pair types.Pair) *OrderBook {
	bids := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.Price.GreaterThan(b.Price) // descending: highest bid first
	})
	asks := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.Price.LessThan(b.Price) // ascending: lowest ask first
	})
	return &OrderBook{
		Pair:      pair,
		bids:      bids,
		asks:      asks,
		positions: make(map[string]position),
	}
}

func (b *OrderBook) sideTree(side types.Side) *levels {
	if side == types.Buy {
		return b.bids
	}
	return b.asks
}

// ErrInvalidOrder is returned by Insert when the order's remaining quantity
// is not positive.
var ErrInvalidOrder = types.NewKindError(types.KindInvalidOrder, "remaining must be > 0")

// ErrNotFound is returned by Remove when the order id is unknown to this book.
var ErrNotFound = types.NewKindError(types.KindNotFound, "order not resting in book")

// Insert places order into the correct side's price level, creating the
// level if absent. order must already have Remaining() > 0 and a unique id
// not already resting in this book.
func (b *OrderBook) Insert(o *model.Order, now int64) error {
	if !o.Remaining().IsPositive() {
		return ErrInvalidOrder
	}
	if _, exists := b.positions[o.ID]; exists {
		return types.NewKindError(types.KindInvalidOrder, "duplicate order id")
	}

	tree := b.sideTree(o.Side)
	level, ok := tree.Get(&PriceLevel{Price: o.Price})
	if !ok {
		level = newPriceLevel(o.Price)
		tree.Set(level)
	}
	elem := level.pushBack(o)
	b.positions[o.ID] = position{side: o.Side, level: level, elem: elem}
	b.LastUpdate = now
	return nil
}

// Remove takes orderID out of its level, dropping the level if it becomes
// empty, and returns the order. It is the caller's responsibility to update
// the order's status; Remove only maintains book structure.
func (b *OrderBook) Remove(orderID string, now int64) (*model.Order, error) {
	pos, ok := b.positions[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	o := pos.elem.Value.(*model.Order)
	pos.level.remove(pos.elem, o)
	delete(b.positions, orderID)
	if pos.level.Empty() {
		b.sideTree(pos.side).Delete(pos.level)
	}
	b.LastUpdate = now
	return o, nil
}

// Contains reports whether orderID currently rests in the book.
func (b *OrderBook) Contains(orderID string) bool {
	_, ok := b.positions[orderID]
	return ok
}

// ApplyFill records that a resting order (identified by its still-valid
// position) had qty matched off, keeping the level's aggregate amount
// correct. It does not take the order out of the book: once the order's
// Remaining() reaches zero, callers follow it with Remove.
func (b *OrderBook) ApplyFill(orderID string, qty types.Decimal, now int64) {
	pos, ok := b.positions[orderID]
	if !ok {
		return
	}
	pos.level.applyFill(qty)
	b.LastUpdate = now
}

// Top returns the best price level on side, or false if that side is empty.
func (b *OrderBook) Top(side types.Side) (*PriceLevel, bool) {
	return b.sideTree(side).Min()
}

// LevelSnapshot is the externally visible shape of one price level.
type LevelSnapshot struct {
	Price      types.Decimal
	Amount     types.Decimal
	OrderCount int
}

// Snapshot returns up to depth top levels per side, best price first.
func (b *OrderBook) Snapshot(depth int) (bids, asks []LevelSnapshot) {
	bids = collect(b.bids, depth)
	asks = collect(b.asks, depth)
	return bids, asks
}

func collect(tree *levels, depth int) []LevelSnapshot {
	out := make([]LevelSnapshot, 0, depth)
	tree.Scan(func(l *PriceLevel) bool {
		if len(out) >= depth {
			return false
		}
		out = append(out, LevelSnapshot{Price: l.Price, Amount: l.Amount, OrderCount: l.OrderCount})
		return true
	})
	return out
}

// Walk yields resting orders on side from best price outward, FIFO within
// each level, until predicate returns false or the side is exhausted.
func (b *OrderBook) Walk(side types.Side, predicate func(*model.Order) bool) {
	b.sideTree(side).Scan(func(l *PriceLevel) bool {
		cont := true
		for _, o := range l.Orders() {
			if !predicate(o) {
				cont = false
				break
			}
		}
		return cont
	})
}

// BestCrosses reports whether a taker with the given side and limit price
// would cross the current best opposite-side level. It compares prices only;
// it has no notion of market orders (the engine's match loop skips the price
// check for those and does not call this).
func (b *OrderBook) BestCrosses(takerSide types.Side, takerPrice types.Decimal) (*PriceLevel, bool) {
	best, ok := b.Top(takerSide.Opposite())
	if !ok {
		return nil, false
	}
	if takerSide == types.Buy {
		return best, takerPrice.GreaterThanOrEqual(best.Price)
	}
	return best, takerPrice.LessThanOrEqual(best.Price)
}
