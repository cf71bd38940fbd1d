// Package store implements the durable append-only persistence layer
// (spec.md C5): a capability interface with two backends, an in-memory map
// for tests/small deployments and a SQL backend for production.
package store

import (
	"context"

	"clobcore/internal/model"
	"clobcore/internal/types"
)

// HealthCounts reports record counts per entity, the contract's health
// check (§4.5).
type HealthCounts struct {
	Users   int
	Orders  int
	Trades  int
	Batches int
}

// Store is the capability set every backend implements identically. All
// write operations are idempotent on replay of the same seq: applying the
// same logical write twice (as happens when the event-stream writer is
// restarted mid-stream) must not corrupt state.
type Store interface {
	SaveUser(ctx context.Context, u model.User) error
	SaveOrder(ctx context.Context, o model.Order) error
	UpdateOrder(ctx context.Context, id string, status types.OrderStatus, filled, remaining types.Decimal) error
	SaveTrade(ctx context.Context, tr model.Trade) error

	CreateBatch(ctx context.Context, b model.Batch) error
	AttachTradeToBatch(ctx context.Context, batchID, tradeID string) error
	UpdateBatch(ctx context.Context, b model.Batch) error

	GetOrder(ctx context.Context, id string) (model.Order, error)
	OrdersByUser(ctx context.Context, userID string, limit, offset int) ([]model.Order, error)
	OrdersByPair(ctx context.Context, pair types.Pair) ([]model.Order, error)
	Trades(ctx context.Context, pair *types.Pair, limit int) ([]model.Trade, error)
	TradesByUser(ctx context.Context, userID string) ([]model.Trade, error)
	PendingBatches(ctx context.Context) ([]model.Batch, error)

	Health(ctx context.Context) (HealthCounts, error)
}
