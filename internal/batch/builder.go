// Package batch implements the settlement batch builder (spec.md C7): it
// groups committed trades into batches by a size threshold or a time
// window — whichever comes first — hands each batch to the external
// settlement adapter (internal/settlement), and carries it through the
// pending -> submitted -> (confirmed | failed) status machine, persisting
// every transition through the store (C5). It never loses a trade: a
// batch that fails to submit or settle has its trades re-batched under a
// new id according to a pluggable RebatchPolicy.
package batch

import (
	"context"
	"sync"
	"time"

	"clobcore/internal/events"
	"clobcore/internal/model"
	"clobcore/internal/settlement"
	"clobcore/internal/store"
	"clobcore/internal/types"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const (
	defaultSizeThreshold = 50
	defaultTimeWindow    = 5 * time.Second
)

// RebatchPolicy decides whether a failed batch's trades should be
// re-batched under a new batch id, per spec.md §4.7's "may re-batch the
// same trades according to configuration". attempt counts how many times
// this chain of trades has already been (re)submitted, starting at 0 for
// the first submission.
type RebatchPolicy interface {
	ShouldRebatch(b model.Batch, attempt int) bool
}

// AlwaysRebatch retries a failed batch's trades under a new batch id
// unconditionally.
type AlwaysRebatch struct{}

func (AlwaysRebatch) ShouldRebatch(model.Batch, int) bool { return true }

// NeverRebatch leaves a failed batch's trades unbatched; only an external
// operator decision resubmits them.
type NeverRebatch struct{}

func (NeverRebatch) ShouldRebatch(model.Batch, int) bool { return false }

// MaxAttemptsRebatch re-batches up to Max times total before giving up.
type MaxAttemptsRebatch struct {
	Max int
}

func (p MaxAttemptsRebatch) ShouldRebatch(_ model.Batch, attempt int) bool {
	return attempt < p.Max
}

// Config configures the threshold/window policy and the rebatch policy.
// Zero values fall back to sane defaults in New.
type Config struct {
	SizeThreshold int
	TimeWindow    time.Duration
	Rebatch       RebatchPolicy
}

// Builder is the bus consumer that assembles settlement batches from
// TradeExecuted events, per spec.md C7. It implements
// settlement.CallbackSink so the external adapter can report submission,
// confirmation, and failure back to it asynchronously.
type Builder struct {
	bus     *events.Bus
	sub     *events.Subscriber
	st      store.Store
	adapter settlement.Adapter
	cfg     Config

	mu          sync.Mutex
	pending     []model.Trade
	batches     map[string]model.Batch
	batchTrades map[string][]model.Trade
	attempts    map[string]int
}

// New constructs a batch builder over bus, persisting through st and
// submitting batches to adapter.
func New(bus *events.Bus, st store.Store, adapter settlement.Adapter, cfg Config) *Builder {
	if cfg.SizeThreshold <= 0 {
		cfg.SizeThreshold = defaultSizeThreshold
	}
	if cfg.TimeWindow <= 0 {
		cfg.TimeWindow = defaultTimeWindow
	}
	if cfg.Rebatch == nil {
		cfg.Rebatch = NeverRebatch{}
	}
	return &Builder{
		bus:         bus,
		st:          st,
		adapter:     adapter,
		cfg:         cfg,
		batches:     make(map[string]model.Batch),
		batchTrades: make(map[string][]model.Trade),
		attempts:    make(map[string]int),
	}
}

// Start registers the builder as a bus subscriber and launches its
// collection and timer-flush loops under t, the same supervised-goroutine
// pattern the rest of this codebase uses for long-lived background work.
func (b *Builder) Start(t *tomb.Tomb) {
	b.sub = b.bus.Subscribe("batch-builder", 0)
	t.Go(func() error { return b.collectLoop(t) })
	t.Go(func() error { return b.timerLoop(t) })
}

func (b *Builder) collectLoop(t *tomb.Tomb) error {
	ctx, cancel := contextForTomb(t)
	defer cancel()
	for {
		ev, ok := b.sub.Next(ctx)
		if !ok {
			return nil
		}
		b.HandleEvent(ctx, ev)
	}
}

func (b *Builder) timerLoop(t *tomb.Tomb) error {
	ctx, cancel := contextForTomb(t)
	defer cancel()
	ticker := time.NewTicker(b.cfg.TimeWindow)
	defer ticker.Stop()
	for {
		select {
		case <-t.Dying():
			return nil
		case <-ticker.C:
			b.Flush(ctx)
		}
	}
}

// HandleEvent processes one bus event. Trades are buffered and, on
// crossing the size threshold, flushed immediately; this is exported so
// tests can drive the builder synchronously instead of racing its
// background goroutines.
func (b *Builder) HandleEvent(ctx context.Context, ev events.Event) {
	switch ev.Kind {
	case events.KindTradeExecuted:
		if ev.Trade != nil {
			b.addTrade(ctx, *ev.Trade)
		}
	case events.KindLagged:
		log.Warn().Int("dropped", ev.Dropped).Msg("batch builder dropped events; some trades may go unbatched until resynced")
	}
}

func (b *Builder) addTrade(ctx context.Context, tr model.Trade) {
	b.mu.Lock()
	b.pending = append(b.pending, tr)
	full := len(b.pending) >= b.cfg.SizeThreshold
	b.mu.Unlock()
	if full {
		b.Flush(ctx)
	}
}

// Flush builds a batch from whatever trades are currently pending, or does
// nothing if there are none. Called by the size-threshold and time-window
// triggers; also safe to call directly (e.g. on shutdown, to avoid
// stranding a partial batch).
func (b *Builder) Flush(ctx context.Context) {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	trades := b.pending
	b.pending = nil
	b.mu.Unlock()

	b.submitBatch(ctx, trades, 0)
}

// PendingCount reports how many collected trades have not yet been cut
// into a batch.
func (b *Builder) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Builder) submitBatch(ctx context.Context, trades []model.Trade, attempt int) {
	id := uuid.NewString()
	now := time.Now().UnixMilli()
	tradeIDs := make([]string, len(trades))
	for i, tr := range trades {
		tradeIDs[i] = tr.ID
	}
	newBatch := model.Batch{ID: id, TradeIDs: tradeIDs, Status: types.BatchPending, CreatedAt: now}

	if err := b.st.CreateBatch(ctx, newBatch); err != nil {
		log.Error().Err(err).Str("batch_id", id).Msg("failed to persist new batch; requeuing its trades")
		b.mu.Lock()
		b.pending = append(trades, b.pending...)
		b.mu.Unlock()
		return
	}
	for _, tr := range trades {
		if err := b.st.AttachTradeToBatch(ctx, id, tr.ID); err != nil {
			log.Error().Err(err).Str("batch_id", id).Str("trade_id", tr.ID).Msg("failed to attach trade to batch")
		}
	}

	b.mu.Lock()
	b.batches[id] = newBatch
	b.batchTrades[id] = trades
	b.attempts[id] = attempt
	b.mu.Unlock()

	log.Info().Str("batch_id", id).Int("trade_count", len(trades)).Int("attempt", attempt).Msg("submitting settlement batch")

	if err := b.adapter.SubmitBatch(ctx, settlement.SubmitBatchRequest{BatchID: id, Trades: trades}); err != nil {
		b.markFailed(ctx, id, err.Error())
	}
}

// OnSubmitted implements settlement.CallbackSink: the adapter has
// broadcast the settlement transaction, before on-chain confirmation.
func (b *Builder) OnSubmitted(ctx context.Context, c settlement.Submitted) {
	b.transition(ctx, c.BatchID, func(bt *model.Batch) {
		now := time.Now().UnixMilli()
		bt.Status = types.BatchSubmitted
		bt.SubmittedAt = &now
		bt.TxHash = c.TxHash
	})
}

// OnConfirmed implements settlement.CallbackSink: the settlement
// transaction has been included in a block. Confirmed is terminal.
func (b *Builder) OnConfirmed(ctx context.Context, c settlement.Confirmed) {
	b.transition(ctx, c.BatchID, func(bt *model.Batch) {
		now := time.Now().UnixMilli()
		bt.Status = types.BatchConfirmed
		bt.ConfirmedAt = &now
	})
}

// OnFailed implements settlement.CallbackSink: settlement could not
// complete. Failed is terminal for this batch id, but its trades may be
// re-batched under a new id per the configured RebatchPolicy.
func (b *Builder) OnFailed(ctx context.Context, c settlement.Failed) {
	b.markFailed(ctx, c.BatchID, c.Reason)
}

func (b *Builder) markFailed(ctx context.Context, batchID, reason string) {
	b.mu.Lock()
	batch, ok := b.batches[batchID]
	trades := b.batchTrades[batchID]
	attempt := b.attempts[batchID]
	if ok {
		now := time.Now().UnixMilli()
		batch.Status = types.BatchFailed
		batch.FailedAt = &now
		b.batches[batchID] = batch
	}
	b.mu.Unlock()
	if !ok {
		log.Warn().Str("batch_id", batchID).Msg("failure callback for unknown batch")
		return
	}

	if err := b.st.UpdateBatch(ctx, batch); err != nil {
		log.Error().Err(err).Str("batch_id", batchID).Msg("failed to persist batch failure")
	}
	log.Warn().Str("batch_id", batchID).Str("reason", reason).Int("attempt", attempt).Msg("settlement batch failed")

	if b.cfg.Rebatch.ShouldRebatch(batch, attempt) {
		b.submitBatch(ctx, trades, attempt+1)
	}
}

func (b *Builder) transition(ctx context.Context, batchID string, mutate func(*model.Batch)) {
	b.mu.Lock()
	batch, ok := b.batches[batchID]
	if !ok {
		b.mu.Unlock()
		log.Warn().Str("batch_id", batchID).Msg("transition callback for unknown batch")
		return
	}
	mutate(&batch)
	b.batches[batchID] = batch
	b.mu.Unlock()

	if err := b.st.UpdateBatch(ctx, batch); err != nil {
		log.Error().Err(err).Str("batch_id", batchID).Msg("failed to persist batch transition")
	}
}

// BatchStatus returns the builder's in-memory view of a batch's current
// status, for tests and operators; the store is the durable source of
// truth, this is just what the builder has applied so far.
func (b *Builder) BatchStatus(batchID string) (types.BatchStatus, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bt, ok := b.batches[batchID]
	return bt.Status, ok
}

func contextForTomb(t *tomb.Tomb) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-t.Dying()
		cancel()
	}()
	return ctx, cancel
}

var _ settlement.CallbackSink = (*Builder)(nil)
