package engine

import (
	"context"
	"testing"
	"time"

	"clobcore/internal/events"
	"clobcore/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, pair types.Pair) (*Engine, func()) {
	t.Helper()
	bus := events.NewBus()
	eng := NewEngine(bus, nil, []MarketConfig{{Pair: pair}})
	eng.Start()
	return eng, func() { _ = eng.Stop() }
}

func limitIntent(id, user string, pair types.Pair, side types.Side, price, amount string) PlaceIntent {
	return PlaceIntent{ID: id, UserID: user, Pair: pair, Side: side, Type: types.LimitOrder, Price: price, Amount: amount}
}

func marketIntent(id, user string, pair types.Pair, side types.Side, amount string) PlaceIntent {
	return PlaceIntent{ID: id, UserID: user, Pair: pair, Side: side, Type: types.MarketOrder, Amount: amount}
}

// S1 — Exact cross.
func TestScenarioExactCross(t *testing.T) {
	pair := types.NewPair("ETH", "USDC")
	eng, stop := newTestEngine(t, pair)
	defer stop()
	ctx := context.Background()

	res1 := eng.Place(ctx, limitIntent("b1", "U1", pair, types.Buy, "2000", "1"), 1)
	require.NoError(t, res1.Err)
	assert.Equal(t, types.StatusPending, res1.Order.Status)

	res2 := eng.Place(ctx, limitIntent("s1", "U2", pair, types.Sell, "2000", "1"), 2)
	require.NoError(t, res2.Err)

	require.Len(t, res2.Trades, 1)
	trade := res2.Trades[0]
	assert.Equal(t, "b1", trade.MakerOrderID)
	assert.Equal(t, "s1", trade.TakerOrderID)
	assert.True(t, trade.Price.Equal(mustAmount("2000")))
	assert.True(t, trade.Amount.Equal(mustAmount("1")))
	assert.Equal(t, types.StatusFilled, res2.Order.Status)

	snap, err := eng.Snapshot(ctx, pair, 10)
	require.NoError(t, err)
	assert.Empty(t, snap.Bids)
	assert.Empty(t, snap.Asks)
}

// S2 — Partial fill then rest.
func TestScenarioPartialFillThenRest(t *testing.T) {
	pair := types.NewPair("ETH", "USDC")
	eng, stop := newTestEngine(t, pair)
	defer stop()
	ctx := context.Background()

	_ = eng.Place(ctx, limitIntent("b2", "U1", pair, types.Buy, "2000", "2"), 1)
	res := eng.Place(ctx, limitIntent("s2", "U2", pair, types.Sell, "2000", "0.5"), 2)
	require.NoError(t, res.Err)

	require.Len(t, res.Trades, 1)
	assert.True(t, res.Trades[0].Amount.Equal(mustAmount("0.5")))
	assert.Equal(t, types.StatusFilled, res.Order.Status)

	snap, err := eng.Snapshot(ctx, pair, 10)
	require.NoError(t, err)
	require.Len(t, snap.Bids, 1)
	assert.True(t, snap.Bids[0].Price.Equal(mustAmount("2000")))
	assert.True(t, snap.Bids[0].Amount.Equal(mustAmount("1.5")))
}

// S3 — Price-time priority.
func TestScenarioPriceTimePriority(t *testing.T) {
	pair := types.NewPair("ETH", "USDC")
	eng, stop := newTestEngine(t, pair)
	defer stop()
	ctx := context.Background()

	_ = eng.Place(ctx, limitIntent("b3a", "U1", pair, types.Buy, "2000", "1"), 1)
	_ = eng.Place(ctx, limitIntent("b3b", "U1", pair, types.Buy, "2000", "1"), 2)
	res := eng.Place(ctx, limitIntent("s3", "U2", pair, types.Sell, "1999", "1"), 3)
	require.NoError(t, res.Err)

	require.Len(t, res.Trades, 1)
	assert.Equal(t, "b3a", res.Trades[0].MakerOrderID, "earliest-arrived maker trades first")

	snap, err := eng.Snapshot(ctx, pair, 10)
	require.NoError(t, err)
	require.Len(t, snap.Bids, 1)
	assert.True(t, snap.Bids[0].Amount.Equal(mustAmount("1")), "b3b remains resting in full")
}

// S4 — Market buy walks levels.
func TestScenarioMarketBuyWalksLevels(t *testing.T) {
	pair := types.NewPair("ETH", "USDC")
	eng, stop := newTestEngine(t, pair)
	defer stop()
	ctx := context.Background()

	_ = eng.Place(ctx, limitIntent("a1", "U1", pair, types.Sell, "2000", "0.3"), 1)
	_ = eng.Place(ctx, limitIntent("a2", "U1", pair, types.Sell, "2001", "0.5"), 2)

	res := eng.Place(ctx, marketIntent("m1", "U2", pair, types.Buy, "0.6"), 3)
	require.NoError(t, res.Err)

	require.Len(t, res.Trades, 2)
	assert.True(t, res.Trades[0].Price.Equal(mustAmount("2000")))
	assert.True(t, res.Trades[0].Amount.Equal(mustAmount("0.3")))
	assert.True(t, res.Trades[1].Price.Equal(mustAmount("2001")))
	assert.True(t, res.Trades[1].Amount.Equal(mustAmount("0.3")))
	assert.Equal(t, types.StatusFilled, res.Order.Status)

	snap, err := eng.Snapshot(ctx, pair, 10)
	require.NoError(t, err)
	require.Len(t, snap.Asks, 1)
	assert.True(t, snap.Asks[0].Price.Equal(mustAmount("2001")))
	assert.True(t, snap.Asks[0].Amount.Equal(mustAmount("0.2")))
}

// S5 — Cancel race: a fully matched order can no longer be cancelled.
func TestScenarioCancelRaceAfterFullMatch(t *testing.T) {
	pair := types.NewPair("ETH", "USDC")
	eng, stop := newTestEngine(t, pair)
	defer stop()
	ctx := context.Background()

	_ = eng.Place(ctx, limitIntent("b5", "U1", pair, types.Buy, "2000", "1"), 1)
	res := eng.Place(ctx, limitIntent("s5", "U2", pair, types.Sell, "2000", "1"), 2)
	require.NoError(t, res.Err)
	require.Len(t, res.Trades, 1)

	cancelRes := eng.Cancel(ctx, CancelIntent{OrderID: "b5", RequesterID: "U1"}, 3)
	assert.Equal(t, types.KindNotCancellable, types.KindOf(cancelRes.Err))
}

// S6 — Self-cross permitted: taker and maker share a user id.
func TestScenarioSelfCrossPermitted(t *testing.T) {
	pair := types.NewPair("ETH", "USDC")
	eng, stop := newTestEngine(t, pair)
	defer stop()
	ctx := context.Background()

	_ = eng.Place(ctx, limitIntent("b6", "U1", pair, types.Buy, "2000", "1"), 1)
	res := eng.Place(ctx, limitIntent("s6", "U1", pair, types.Sell, "2000", "1"), 2)
	require.NoError(t, res.Err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, types.StatusFilled, res.Order.Status)
}

func TestPlaceThenImmediateCancelYieldsZeroTrades(t *testing.T) {
	pair := types.NewPair("ETH", "USDC")
	eng, stop := newTestEngine(t, pair)
	defer stop()
	ctx := context.Background()

	res := eng.Place(ctx, limitIntent("b1", "U1", pair, types.Buy, "2000", "1"), 1)
	require.NoError(t, res.Err)
	require.Empty(t, res.Trades)

	cancelRes := eng.Cancel(ctx, CancelIntent{OrderID: "b1", RequesterID: "U1"}, 2)
	require.NoError(t, cancelRes.Err)
	assert.Equal(t, types.StatusCancelled, cancelRes.Order.Status)
	assert.True(t, cancelRes.Order.Filled.IsZero())
}

func TestCancelRejectsNonOwner(t *testing.T) {
	pair := types.NewPair("ETH", "USDC")
	eng, stop := newTestEngine(t, pair)
	defer stop()
	ctx := context.Background()

	_ = eng.Place(ctx, limitIntent("b1", "U1", pair, types.Buy, "2000", "1"), 1)
	res := eng.Cancel(ctx, CancelIntent{OrderID: "b1", RequesterID: "U2"}, 2)
	assert.Equal(t, types.KindNotOwner, types.KindOf(res.Err))
}

func TestCancelUnknownOrderIsNotFound(t *testing.T) {
	pair := types.NewPair("ETH", "USDC")
	eng, stop := newTestEngine(t, pair)
	defer stop()
	ctx := context.Background()

	res := eng.Cancel(ctx, CancelIntent{OrderID: "missing", RequesterID: "U1"}, 1)
	assert.Equal(t, types.KindNotFound, types.KindOf(res.Err))
}

func TestZeroAmountOrderRejected(t *testing.T) {
	pair := types.NewPair("ETH", "USDC")
	eng, stop := newTestEngine(t, pair)
	defer stop()
	ctx := context.Background()

	res := eng.Place(ctx, limitIntent("b1", "U1", pair, types.Buy, "2000", "0"), 1)
	assert.Equal(t, types.KindInvalidOrder, types.KindOf(res.Err))
}

func TestMarketOrderAgainstEmptyBookCancelsUnfilled(t *testing.T) {
	pair := types.NewPair("ETH", "USDC")
	eng, stop := newTestEngine(t, pair)
	defer stop()
	ctx := context.Background()

	res := eng.Place(ctx, marketIntent("m1", "U1", pair, types.Buy, "1"), 1)
	require.NoError(t, res.Err)
	assert.Empty(t, res.Trades)
	assert.Equal(t, types.StatusCancelled, res.Order.Status)
	assert.Equal(t, types.ReasonUnfilledMarket, res.Order.CancelNote)
}

func TestExpiredIntentRejectedAtAdmission(t *testing.T) {
	pair := types.NewPair("ETH", "USDC")
	eng, stop := newTestEngine(t, pair)
	defer stop()
	ctx := context.Background()

	past := int64(5)
	intent := limitIntent("b1", "U1", pair, types.Buy, "2000", "1")
	intent.ExpiresAt = &past
	res := eng.Place(ctx, intent, 10)
	assert.Equal(t, types.KindExpired, types.KindOf(res.Err))
}

func TestExpireDueMovesRestingOrdersToExpired(t *testing.T) {
	pair := types.NewPair("ETH", "USDC")
	eng, stop := newTestEngine(t, pair)
	defer stop()
	ctx := context.Background()

	future := int64(100)
	intent := limitIntent("b1", "U1", pair, types.Buy, "2000", "1")
	intent.ExpiresAt = &future
	res := eng.Place(ctx, intent, 1)
	require.NoError(t, res.Err)

	expireRes, err := eng.ExpireDue(ctx, pair, 200)
	require.NoError(t, err)
	require.Len(t, expireRes.Expired, 1)
	assert.Equal(t, types.StatusExpired, expireRes.Expired[0].Status)

	snap, err := eng.Snapshot(ctx, pair, 10)
	require.NoError(t, err)
	assert.Empty(t, snap.Bids)
}

func TestDuplicateOrderIDRejected(t *testing.T) {
	pair := types.NewPair("ETH", "USDC")
	eng, stop := newTestEngine(t, pair)
	defer stop()
	ctx := context.Background()

	res1 := eng.Place(ctx, limitIntent("b1", "U1", pair, types.Buy, "2000", "1"), 1)
	require.NoError(t, res1.Err)

	res2 := eng.Place(ctx, limitIntent("b1", "U1", pair, types.Buy, "2001", "1"), 2)
	assert.Equal(t, types.KindInvalidOrder, types.KindOf(res2.Err))
}

// Event ordering: S1's event sequence — OrderAdded and BookUpdated for b1,
// then OrderAdded, TradeExecuted, OrderUpdated x2, BookUpdated for s1 —
// arrives on the bus in engine-emission order (spec.md §5(a) and §8
// property 6).
func TestEventStreamOrderingForExactCross(t *testing.T) {
	pair := types.NewPair("ETH", "USDC")
	bus := events.NewBus()
	sub := bus.Subscribe("test", 0)
	eng := NewEngine(bus, nil, []MarketConfig{{Pair: pair}})
	eng.Start()
	defer func() { _ = eng.Stop() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_ = eng.Place(ctx, limitIntent("b1", "U1", pair, types.Buy, "2000", "1"), 1)
	_ = eng.Place(ctx, limitIntent("s1", "U2", pair, types.Sell, "2000", "1"), 2)

	var kinds []events.Kind
	for i := 0; i < 7; i++ {
		ev, ok := sub.Next(ctx)
		require.True(t, ok)
		kinds = append(kinds, ev.Kind)
	}

	expected := []events.Kind{
		events.KindOrderAdded,   // b1
		events.KindBookUpdated,  // after placing b1 (no match)
		events.KindOrderAdded,   // s1
		events.KindTradeExecuted,
		events.KindOrderUpdated, // maker b1 -> filled
		events.KindOrderUpdated, // taker s1 -> filled
		events.KindBookUpdated,  // after matching
	}
	assert.Equal(t, expected, kinds)
}

func mustAmount(s string) types.Decimal {
	d, err := types.ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return d
}
