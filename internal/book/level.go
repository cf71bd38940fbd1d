package book

import (
	"container/list"

	"clobcore/internal/model"
	"clobcore/internal/types"
)

// PriceLevel is all resting orders at one price on one side of a book.
// Orders are kept in a doubly-linked FIFO queue so the head (earliest
// arrival) can be matched, filled, and removed in O(1), and so a specific
// order can be removed in O(1) given its list element.
//
// Amount and OrderCount are maintained incrementally by every mutating
// method on this type — they are never recomputed by summing the queue.
type PriceLevel struct {
	Price      types.Decimal
	orders     *list.List
	Amount     types.Decimal
	OrderCount int
}

func newPriceLevel(price types.Decimal) *PriceLevel {
	return &PriceLevel{
		Price:  price,
		orders: list.New(),
		Amount: types.Zero,
	}
}

// pushBack appends order to the tail of the FIFO queue and returns the
// list element backing it, which callers retain for O(1) future removal.
func (l *PriceLevel) pushBack(o *model.Order) *list.Element {
	elem := l.orders.PushBack(o)
	l.Amount = l.Amount.Add(o.Remaining())
	l.OrderCount++
	return elem
}

// front returns the earliest-arrived order in the level, or nil if empty.
func (l *PriceLevel) front() *model.Order {
	elem := l.orders.Front()
	if elem == nil {
		return nil
	}
	return elem.Value.(*model.Order)
}

// remove drops elem from the queue, updating aggregates by the delta
// implied by the order's state at the time of removal.
func (l *PriceLevel) remove(elem *list.Element, o *model.Order) {
	l.orders.Remove(elem)
	l.Amount = l.Amount.Sub(o.Remaining())
	l.OrderCount--
}

// applyFill reduces the level aggregate by the matched quantity without
// touching the queue — used on every fill of a resting order, before a
// fully filled order is removed.
func (l *PriceLevel) applyFill(qty types.Decimal) {
	l.Amount = l.Amount.Sub(qty)
}

// Front returns the earliest-arrived (next-to-match) order in the level, or
// nil if the level is empty.
func (l *PriceLevel) Front() *model.Order {
	return l.front()
}

// Empty reports whether the level has no resting orders.
func (l *PriceLevel) Empty() bool {
	return l.OrderCount == 0
}

// Orders returns the resting orders in FIFO order. Used by snapshotting and
// tests; callers must not mutate the returned orders.
func (l *PriceLevel) Orders() []*model.Order {
	out := make([]*model.Order, 0, l.OrderCount)
	for e := l.orders.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*model.Order))
	}
	return out
}
