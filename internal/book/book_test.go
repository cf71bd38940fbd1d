package book

import (
	"testing"

	"clobcore/internal/model"
	"clobcore/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrder(id string, side types.Side, price, amount string) *model.Order {
	return &model.Order{
		ID:     id,
		Side:   side,
		Type:   types.LimitOrder,
		Price:  mustAmountStatic(price),
		Amount: mustAmountStatic(amount),
		Status: types.StatusPending,
	}
}

func mustAmountStatic(s string) types.Decimal {
	d, err := types.ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestInsertAndTop(t *testing.T) {
	b := New(types.NewPair("ETH", "USDC"))
	o1 := newOrder("b1", types.Buy, "2000", "1")
	o2 := newOrder("b2", types.Buy, "2001", "1")

	require.NoError(t, b.Insert(o1, 1))
	require.NoError(t, b.Insert(o2, 2))

	top, ok := b.Top(types.Buy)
	require.True(t, ok)
	assert.True(t, top.Price.Equal(mustAmountStatic("2001")))
}

func TestInsertRejectsNonPositiveRemaining(t *testing.T) {
	b := New(types.NewPair("ETH", "USDC"))
	zero := newOrder("b1", types.Buy, "2000", "0")
	err := b.Insert(zero, 1)
	assert.ErrorIs(t, err, types.ErrInvalidOrder)
}

func TestRemoveDropsEmptyLevel(t *testing.T) {
	b := New(types.NewPair("ETH", "USDC"))
	o := newOrder("b1", types.Buy, "2000", "1")
	require.NoError(t, b.Insert(o, 1))

	removed, err := b.Remove("b1", 2)
	require.NoError(t, err)
	assert.Equal(t, "b1", removed.ID)

	_, ok := b.Top(types.Buy)
	assert.False(t, ok)

	_, err = b.Remove("b1", 3)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestLevelAggregatesAndFIFO(t *testing.T) {
	b := New(types.NewPair("ETH", "USDC"))
	o1 := newOrder("b1", types.Buy, "2000", "1")
	o2 := newOrder("b2", types.Buy, "2000", "2")
	require.NoError(t, b.Insert(o1, 1))
	require.NoError(t, b.Insert(o2, 2))

	top, ok := b.Top(types.Buy)
	require.True(t, ok)
	assert.Equal(t, 2, top.OrderCount)
	assert.True(t, top.Amount.Equal(mustAmountStatic("3")))

	orders := top.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, "b1", orders[0].ID, "FIFO: earliest insertion first")
	assert.Equal(t, "b2", orders[1].ID)
}

func TestSnapshotDepthAndOrdering(t *testing.T) {
	b := New(types.NewPair("ETH", "USDC"))
	require.NoError(t, b.Insert(newOrder("a1", types.Sell, "101", "1"), 1))
	require.NoError(t, b.Insert(newOrder("a2", types.Sell, "100", "1"), 2))
	require.NoError(t, b.Insert(newOrder("a3", types.Sell, "102", "1"), 3))

	_, asks := b.Snapshot(2)
	require.Len(t, asks, 2)
	assert.True(t, asks[0].Price.Equal(mustAmountStatic("100")))
	assert.True(t, asks[1].Price.Equal(mustAmountStatic("101")))
}

func TestBestCrosses(t *testing.T) {
	b := New(types.NewPair("ETH", "USDC"))
	require.NoError(t, b.Insert(newOrder("a1", types.Sell, "100", "1"), 1))

	_, crosses := b.BestCrosses(types.Buy, mustAmountStatic("100"))
	assert.True(t, crosses)

	_, crosses = b.BestCrosses(types.Buy, mustAmountStatic("99"))
	assert.False(t, crosses)
}
