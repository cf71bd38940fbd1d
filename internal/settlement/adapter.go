// Package settlement declares the boundary between the exchange core and
// the external on-chain settlement adapter (spec.md §1: the adapter itself,
// and everything downstream of it, is a sibling subsystem out of scope
// here). Only the wire-level request/callback shapes and the interfaces the
// batch builder (C7) depends on live in this package.
package settlement

import (
	"context"

	"clobcore/internal/model"
)

// SubmitBatchRequest is the outbound message handed to the adapter once a
// batch of trades is ready for settlement, per spec.md §6.
type SubmitBatchRequest struct {
	BatchID string
	Trades  []model.Trade
}

// Adapter is the external collaborator that actually settles a batch
// on-chain. Its implementation is explicitly out of scope; this interface is
// the only contact point the batch builder has with it.
type Adapter interface {
	SubmitBatch(ctx context.Context, req SubmitBatchRequest) error
}

// Submitted is the inbound callback fired once the adapter has broadcast the
// settlement transaction, before it has confirmed on-chain.
type Submitted struct {
	BatchID string
	TxHash  string
}

// Confirmed is the inbound callback fired once the settlement transaction
// has been included in a block.
type Confirmed struct {
	BatchID     string
	BlockNumber uint64
}

// Failed is the inbound callback fired when settlement could not complete.
type Failed struct {
	BatchID string
	Reason  string
}

// CallbackSink receives the adapter's inbound callbacks. The batch builder
// implements this so an adapter (or, in tests, a fake standing in for one)
// can report settlement outcomes back without importing the batch package.
type CallbackSink interface {
	OnSubmitted(ctx context.Context, c Submitted)
	OnConfirmed(ctx context.Context, c Confirmed)
	OnFailed(ctx context.Context, c Failed)
}
