package store

import (
	"context"
	"testing"

	"clobcore/internal/model"
	"clobcore/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStoreOrderLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	amt, _ := types.ParseAmount("1")
	price, _ := types.ParseAmount("2000")
	pair := types.NewPair("ETH", "USDC")

	o := model.Order{ID: "o1", UserID: "u1", Pair: pair, Amount: amt, Price: price, Status: types.StatusPending}
	require.NoError(t, s.SaveOrder(ctx, o))

	got, err := s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "o1", got.ID)

	filled, _ := types.ParseAmount("1")
	remaining, _ := types.ParseAmount("0")
	require.NoError(t, s.UpdateOrder(ctx, "o1", types.StatusFilled, filled, remaining))

	got, err = s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusFilled, got.Status)

	_, err = s.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestInMemoryStoreBatchAttachment(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	pair := types.NewPair("ETH", "USDC")
	price, _ := types.ParseAmount("2000")
	amt, _ := types.ParseAmount("1")
	tr := model.Trade{ID: "t1", Pair: pair, Price: price, Amount: amt, Timestamp: 1}
	require.NoError(t, s.SaveTrade(ctx, tr))

	b := model.Batch{ID: "b1", Status: types.BatchPending, CreatedAt: 1}
	require.NoError(t, s.CreateBatch(ctx, b))
	require.NoError(t, s.AttachTradeToBatch(ctx, "b1", "t1"))
	// idempotent replay
	require.NoError(t, s.AttachTradeToBatch(ctx, "b1", "t1"))

	pending, err := s.PendingBatches(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, []string{"t1"}, pending[0].TradeIDs)
}

func TestInMemoryStoreHealth(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	require.NoError(t, s.SaveUser(ctx, model.User{ID: "u1"}))

	health, err := s.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, health.Users)
}
