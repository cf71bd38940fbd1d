package model

import "clobcore/internal/types"

// Batch groups committed trades for the external settlement adapter.
// Status transitions are monotonic forward except that Failed may lead to
// the same trades being re-batched under a new Batch id by policy — the
// Batch itself never transitions out of Failed.
type Batch struct {
	ID          string
	TradeIDs    []string
	Status      types.BatchStatus
	CreatedAt   int64
	SubmittedAt *int64
	ConfirmedAt *int64
	FailedAt    *int64
	TxHash      string
}

// Clone returns a value copy safe to hand to consumers.
func (b Batch) Clone() Batch {
	clone := b
	clone.TradeIDs = append([]string(nil), b.TradeIDs...)
	if b.SubmittedAt != nil {
		v := *b.SubmittedAt
		clone.SubmittedAt = &v
	}
	if b.ConfirmedAt != nil {
		v := *b.ConfirmedAt
		clone.ConfirmedAt = &v
	}
	if b.FailedAt != nil {
		v := *b.FailedAt
		clone.FailedAt = &v
	}
	return clone
}
