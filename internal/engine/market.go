package engine

import (
	"context"

	"clobcore/internal/book"
	"clobcore/internal/events"
	"clobcore/internal/model"
	"clobcore/internal/types"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

// defaultIngressCapacity bounds the per-market FIFO queue transport hands
// intents through (spec.md §5's "ingress queue boundary").
const defaultIngressCapacity = 1024

// defaultSnapshotDepth is how many price levels a BookUpdated event carries
// when the engine itself decides (the broadcaster may request a different
// depth for its own snapshots).
const defaultSnapshotDepth = 25

type requestKind int

const (
	reqPlace requestKind = iota
	reqCancel
	reqExpire
	reqSnapshot
)

type request struct {
	kind   requestKind
	place  PlaceIntent
	cancel CancelIntent
	depth  int
	now    int64
	reply  chan response
}

type response struct {
	place    PlaceResult
	cancel   CancelResult
	expire   ExpireResult
	snapshot BookSnapshot
}

// BookSnapshot is the externally visible depth view of one market, returned
// by Engine.Snapshot for the broadcaster's subscribe-time resend (spec.md
// §4.6) and for any other caller that needs a point-in-time read of a book
// without racing the executor that owns it.
type BookSnapshot struct {
	Pair       types.Pair
	Bids       []book.LevelSnapshot
	Asks       []book.LevelSnapshot
	LastUpdate int64
}

// PlaceResult describes the effect of admitting one order, per spec.md
// §4.3: the admitted (and possibly already-matched) order, every trade it
// produced, and the failure kind if admission itself was rejected.
type PlaceResult struct {
	Order  model.Order
	Trades []model.Trade
	Err    error
}

// CancelResult describes the effect of one cancel request.
type CancelResult struct {
	Order model.Order
	Err   error
}

// ExpireResult lists every order that transitioned to Expired in one
// expire_due call.
type ExpireResult struct {
	Expired []model.Order
}

// market is the single logical executor for one pair: one goroutine owns
// the book exclusively and processes place/cancel/expire requests strictly
// in arrival order, matching spec.md §5's "matching is a critical section
// against the book for that market".
type market struct {
	pair      types.Pair
	book      *book.OrderBook
	orders    map[string]*model.Order // every order ever admitted to this market, resting or terminal
	bus       *events.Bus
	fees      FeePolicy
	engine    *Engine
	ingress   chan request
	t         *tomb.Tomb
}

func (m *market) start(t *tomb.Tomb) {
	m.t = t
	t.Go(m.run)
}

func (m *market) run() error {
	for {
		select {
		case <-m.t.Dying():
			return nil
		case req := <-m.ingress:
			m.handle(req)
		}
	}
}

// submit enqueues req and blocks for its response, or returns early if ctx
// is cancelled or the market has stopped. Per spec.md §5, a cancelled
// context on the transport side does not cancel an in-flight operation
// once it has been dequeued — it only stops the caller from waiting for it.
func (m *market) submit(ctx context.Context, req request) (response, bool) {
	select {
	case m.ingress <- req:
	case <-ctx.Done():
		return response{}, false
	case <-m.t.Dying():
		return response{}, false
	}
	select {
	case resp := <-req.reply:
		return resp, true
	case <-ctx.Done():
		return response{}, false
	}
}

func (m *market) handle(req request) {
	var resp response
	switch req.kind {
	case reqPlace:
		resp.place = m.place(req.place, req.now)
	case reqCancel:
		resp.cancel = m.cancel(req.cancel, req.now)
	case reqExpire:
		resp.expire = m.expireDue(req.now)
	case reqSnapshot:
		bids, asks := m.book.Snapshot(req.depth)
		resp.snapshot = BookSnapshot{Pair: m.pair, Bids: bids, Asks: asks, LastUpdate: m.book.LastUpdate}
	}
	req.reply <- resp
}

func (m *market) place(intent PlaceIntent, now int64) PlaceResult {
	if intent.ExpiresAt != nil && *intent.ExpiresAt <= now {
		return PlaceResult{Err: types.NewKindError(types.KindExpired, "expires_at has already passed")}
	}
	if intent.ID == "" {
		intent.ID = uuid.NewString()
	}

	order, kindErr := intent.toOrder(m.priceScale())
	if kindErr != nil {
		return PlaceResult{Err: kindErr}
	}
	if _, exists := m.orders[order.ID]; exists {
		return PlaceResult{Err: types.NewKindError(types.KindInvalidOrder, "duplicate order id")}
	}

	m.engine.touchUser(order.UserID, now)

	orderPtr := &order
	m.orders[order.ID] = orderPtr
	m.engine.indexOrder(order.ID, m.pair)

	m.publish(events.Event{Kind: events.KindOrderAdded, Pair: m.pair, Order: ptrClone(orderPtr)})

	trades := m.match(orderPtr, now)

	touched := map[string]bool{orderPtr.ID: false}
	for _, tr := range trades {
		touched[tr.MakerOrderID] = true
	}
	// Emit maker updates first (in first-touched order), taker last —
	// matching spec.md §8 S1's OrderUpdated(maker) then OrderUpdated(taker).
	seen := make(map[string]bool, len(touched))
	for _, tr := range trades {
		if seen[tr.MakerOrderID] {
			continue
		}
		seen[tr.MakerOrderID] = true
		maker := m.orders[tr.MakerOrderID]
		m.publish(events.Event{Kind: events.KindOrderUpdated, Pair: m.pair, Order: ptrClone(maker)})
	}

	finalizeTaker(orderPtr)
	if orderPtr.Status == types.StatusCancelled {
		m.publish(events.Event{Kind: events.KindOrderCancelled, Pair: m.pair, Order: ptrClone(orderPtr)})
	} else if len(trades) > 0 || orderPtr.Status != types.StatusPending {
		m.publish(events.Event{Kind: events.KindOrderUpdated, Pair: m.pair, Order: ptrClone(orderPtr)})
	}

	if orderPtr.Type == types.LimitOrder && orderPtr.Remaining().IsPositive() {
		_ = m.book.Insert(orderPtr, now) // remaining > 0 guaranteed by the check above
	}

	m.publishBookUpdate(now)

	return PlaceResult{Order: *orderPtr, Trades: trades}
}

// match runs the price-time priority walk from spec.md §4.3 against the
// opposite side of the book, mutating taker and every crossed maker in
// place and returning the trades produced. It never suspends and never
// fails once the taker has been validly admitted.
func (m *market) match(taker *model.Order, now int64) []model.Trade {
	var trades []model.Trade
	opposite := taker.Side.Opposite()

	for taker.Remaining().IsPositive() {
		level, ok := m.book.Top(opposite)
		if !ok {
			break
		}
		if taker.Type == types.LimitOrder && !crosses(taker.Side, taker.Price, level.Price) {
			break
		}

		maker := level.Front()
		if maker == nil {
			break // defensive; levels are removed empty by the book
		}

		qty := types.Min(taker.Remaining(), maker.Remaining())
		price := maker.Price

		taker.Filled = taker.Filled.Add(qty)
		maker.Filled = maker.Filled.Add(qty)

		fee := m.fees.Fee(*taker, *maker, price, qty)
		trade := model.Trade{
			ID:           uuid.NewString(),
			TakerOrderID: taker.ID,
			MakerOrderID: maker.ID,
			Pair:         m.pair,
			Side:         taker.Side,
			Price:        price,
			Amount:       qty,
			Fee:          fee,
			Timestamp:    now,
			ChainID:      taker.ChainID,
		}
		trades = append(trades, trade)
		m.publish(events.Event{Kind: events.KindTradeExecuted, Pair: m.pair, Trade: &trade})

		m.book.ApplyFill(maker.ID, qty, now)
		if maker.Remaining().IsZero() {
			maker.Status = types.StatusFilled
			_, _ = m.book.Remove(maker.ID, now)
		} else {
			maker.Status = types.StatusPartial
		}
	}
	return trades
}

// crosses reports whether a limit taker's price crosses the given opposite
// best level price.
func crosses(takerSide types.Side, takerPrice, levelPrice types.Decimal) bool {
	if takerSide == types.Buy {
		return takerPrice.GreaterThanOrEqual(levelPrice)
	}
	return takerPrice.LessThanOrEqual(levelPrice)
}

// finalizeTaker sets the taker's post-match status per spec.md §4.3 step 2:
// market orders never rest (any remainder is cancelled as unfilled_market);
// limit orders rest as pending or partial.
func finalizeTaker(taker *model.Order) {
	remaining := taker.Remaining()
	switch {
	case remaining.IsZero():
		taker.Status = types.StatusFilled
	case taker.Type == types.MarketOrder:
		taker.Status = types.StatusCancelled
		taker.CancelNote = types.ReasonUnfilledMarket
	case taker.Filled.IsPositive():
		taker.Status = types.StatusPartial
	default:
		taker.Status = types.StatusPending
	}
}

func (m *market) cancel(intent CancelIntent, now int64) CancelResult {
	order, ok := m.orders[intent.OrderID]
	if !ok {
		return CancelResult{Err: types.NewKindError(types.KindNotFound, "order not found")}
	}
	if order.UserID != intent.RequesterID {
		return CancelResult{Err: types.NewKindError(types.KindNotOwner, "requester does not own order")}
	}
	if order.Status.Terminal() {
		return CancelResult{Err: types.NewKindError(types.KindNotCancellable, "order already terminal")}
	}

	if m.book.Contains(order.ID) {
		_, _ = m.book.Remove(order.ID, now)
	}
	order.Status = types.StatusCancelled
	order.CancelNote = types.ReasonUserRequested

	m.publish(events.Event{Kind: events.KindOrderCancelled, Pair: m.pair, Order: ptrClone(order)})
	m.publishBookUpdate(now)

	return CancelResult{Order: *order}
}

func (m *market) expireDue(now int64) ExpireResult {
	var ids []string
	m.book.Walk(types.Buy, func(o *model.Order) bool {
		if o.ExpiresAt != nil && *o.ExpiresAt <= now {
			ids = append(ids, o.ID)
		}
		return true
	})
	m.book.Walk(types.Sell, func(o *model.Order) bool {
		if o.ExpiresAt != nil && *o.ExpiresAt <= now {
			ids = append(ids, o.ID)
		}
		return true
	})

	var expired []model.Order
	for _, id := range ids {
		order := m.orders[id]
		_, _ = m.book.Remove(id, now)
		order.Status = types.StatusExpired
		m.publish(events.Event{Kind: events.KindOrderExpired, Pair: m.pair, Order: ptrClone(order)})
		expired = append(expired, *order)
	}
	if len(expired) > 0 {
		m.publishBookUpdate(now)
	}
	return ExpireResult{Expired: expired}
}

func (m *market) publish(ev events.Event) {
	m.bus.Publish(ev)
}

func (m *market) publishBookUpdate(now int64) {
	bids, asks := m.book.Snapshot(defaultSnapshotDepth)
	m.publish(events.Event{
		Kind: events.KindBookUpdated,
		Pair: m.pair,
		BookUpdate: &events.BookUpdate{
			Bids:       bids,
			Asks:       asks,
			LastUpdate: now,
		},
	})
	if m.t != nil {
		log.Debug().Str("pair", m.pair.String()).Int("bids", len(bids)).Int("asks", len(asks)).Msg("book updated")
	}
}

func (m *market) priceScale() int32 {
	return m.engine.priceScale(m.pair)
}

func ptrClone(o *model.Order) *model.Order {
	clone := o.Clone()
	return &clone
}
