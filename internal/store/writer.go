package store

import (
	"context"

	"clobcore/internal/events"
	"clobcore/internal/types"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

// HealthSink is how the store writer escalates a persistence failure to the
// engine, per spec.md §4.8: "store write failures → engine marks itself
// degraded ... fail-closed". The engine satisfies this interface.
type HealthSink interface {
	MarkDegraded(err error)
	ClearDegraded()
}

// Writer is the bus consumer that durably persists every order, trade, and
// batch lifecycle event, serialized per market by virtue of reading one bus
// subscription in a single goroutine (spec.md §5: "store writes serialized
// per market"). It never blocks the engine: a write failure degrades the
// engine via HealthSink instead of being retried inline.
type Writer struct {
	bus  *events.Bus
	st   Store
	sink HealthSink
	sub  *events.Subscriber
}

// NewWriter constructs a store writer over bus, persisting into st and
// escalating failures to sink.
func NewWriter(bus *events.Bus, st Store, sink HealthSink) *Writer {
	return &Writer{bus: bus, st: st, sink: sink}
}

// Start subscribes to the bus and launches the writer's delivery loop under
// t, the same supervised-goroutine pattern used by the rest of this
// codebase's long-lived background work.
func (w *Writer) Start(t *tomb.Tomb) {
	w.sub = w.bus.Subscribe("store-writer", 0)
	t.Go(func() error { return w.run(t) })
}

func (w *Writer) run(t *tomb.Tomb) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-t.Dying()
		cancel()
	}()

	lagged := false
	for {
		ev, ok := w.sub.Next(ctx)
		if !ok {
			return nil
		}
		if err := w.apply(ctx, ev); err != nil {
			if ev.Kind == events.KindLagged {
				lagged = true
			}
			w.sink.MarkDegraded(err)
			continue
		}
		if !lagged {
			w.sink.ClearDegraded()
		}
	}
}

func (w *Writer) apply(ctx context.Context, ev events.Event) error {
	switch ev.Kind {
	case events.KindOrderAdded:
		if ev.Order == nil {
			return nil
		}
		return w.st.SaveOrder(ctx, *ev.Order)
	case events.KindOrderUpdated, events.KindOrderCancelled, events.KindOrderExpired:
		if ev.Order == nil {
			return nil
		}
		return w.st.UpdateOrder(ctx, ev.Order.ID, ev.Order.Status, ev.Order.Filled, ev.Order.Remaining())
	case events.KindTradeExecuted:
		if ev.Trade == nil {
			return nil
		}
		return w.st.SaveTrade(ctx, *ev.Trade)
	case events.KindLagged:
		// The writer's own subscriber dropped events: the store is now
		// missing whatever those were. Spec.md §4.5 requires idempotent
		// replay, not gap-filling from the live stream, so a lagged writer
		// degrades the engine just like a failed write until an operator
		// replays from a durable log.
		return types.NewKindError(types.KindLagged, "store writer dropped events, degrading until resynced")
	default:
		return nil
	}
}
