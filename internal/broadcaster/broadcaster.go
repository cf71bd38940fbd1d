// Package broadcaster implements the market broadcaster (spec.md C6): it
// turns the engine's event stream into per-pair/per-user outbound feeds,
// sending a full snapshot immediately on subscribe and, after each book
// change, an update carrying the book's current top levels (not a delta),
// and re-sending a snapshot whenever a subscriber's queue lags and drops
// events. It never touches the book directly; all state comes from the
// event stream or Engine.Snapshot.
package broadcaster

import (
	"context"
	"sync"
	"time"

	"clobcore/internal/book"
	"clobcore/internal/engine"
	"clobcore/internal/events"
	"clobcore/internal/model"
	"clobcore/internal/types"

	tomb "gopkg.in/tomb.v2"
)

// OutboundKind tags the subscriber-facing message union from spec.md §6.
type OutboundKind int

const (
	KindOrderbookSnapshot OutboundKind = iota
	KindOrderbookUpdate
	KindTradeExecuted
	KindOrderFilled
	KindOrderCancelled
	KindHeartbeat
)

// Outbound is one message delivered to a connected subscriber.
type Outbound struct {
	Kind OutboundKind
	Pair types.Pair

	Bids       []book.LevelSnapshot // snapshot/update
	Asks       []book.LevelSnapshot
	LastUpdate int64

	Trade *model.Trade
	Order *model.Order

	HeartbeatSeq uint64
}

// Client is one connected subscriber's outbound queue. Overflow drops the
// oldest queued message, the same policy the event bus uses for its own
// subscribers (a plain channel cannot express "drop oldest").
type Client struct {
	id string

	mu       sync.Mutex
	queue    []Outbound
	capacity int
	doorbell chan struct{}

	orderbookPairs map[types.Pair]bool
	tradePairs     map[types.Pair]bool // allTradePairs=true means "all pairs"
	allTradePairs  bool
	userID         string // "" disables user-order delivery
}

func newClient(id string, capacity int) *Client {
	if capacity <= 0 {
		capacity = defaultClientCapacity
	}
	return &Client{
		id:             id,
		capacity:       capacity,
		doorbell:       make(chan struct{}, 1),
		orderbookPairs: make(map[types.Pair]bool),
		tradePairs:     make(map[types.Pair]bool),
	}
}

func (c *Client) push(msg Outbound) {
	c.mu.Lock()
	if len(c.queue) >= c.capacity {
		c.queue = c.queue[1:]
	}
	c.queue = append(c.queue, msg)
	c.mu.Unlock()
	select {
	case c.doorbell <- struct{}{}:
	default:
	}
}

// Next blocks until a message is available or ctx is cancelled. This is the
// method the (out-of-scope) transport layer calls to drain one subscriber's
// feed.
func (c *Client) Next(ctx context.Context) (Outbound, bool) {
	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			msg := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return msg, true
		}
		c.mu.Unlock()
		select {
		case <-c.doorbell:
		case <-ctx.Done():
			return Outbound{}, false
		}
	}
}

const defaultClientCapacity = 256

// engineView is the subset of *engine.Engine the broadcaster depends on:
// just the racy-free, point-in-time book read used to answer a fresh
// subscribe or a lagged resync.
type engineView interface {
	Snapshot(ctx context.Context, pair types.Pair, depth int) (engine.BookSnapshot, error)
}

// SnapshotDepth is how many levels a subscribe-time or lagged-resync
// snapshot carries.
const SnapshotDepth = 25

// Broadcaster fans the engine's event stream out to connected subscribers.
type Broadcaster struct {
	bus *events.Bus
	sub *events.Subscriber
	eng engineView

	mu      sync.RWMutex
	clients map[string]*Client

	heartbeatEvery time.Duration
}

// New constructs a broadcaster reading from bus and answering subscribe-time
// snapshot requests via eng.
func New(bus *events.Bus, eng engineView, heartbeatEvery time.Duration) *Broadcaster {
	if heartbeatEvery <= 0 {
		heartbeatEvery = 5 * time.Second
	}
	return &Broadcaster{
		bus:            bus,
		eng:            eng,
		clients:        make(map[string]*Client),
		heartbeatEvery: heartbeatEvery,
	}
}

// Start registers the broadcaster as a bus subscriber and launches its
// delivery and heartbeat loops under t, following the same
// supervised-goroutine pattern the rest of this codebase uses for long-lived
// background work.
func (b *Broadcaster) Start(t *tomb.Tomb) {
	b.sub = b.bus.Subscribe("broadcaster", 0)
	t.Go(func() error { return b.run(t) })
	t.Go(func() error { return b.heartbeatLoop(t) })
}

func (b *Broadcaster) run(t *tomb.Tomb) error {
	ctx, cancel := contextForTomb(t)
	defer cancel()
	for {
		ev, ok := b.sub.Next(ctx)
		if !ok {
			return nil
		}
		b.dispatch(ctx, ev)
	}
}

func (b *Broadcaster) heartbeatLoop(t *tomb.Tomb) error {
	ticker := time.NewTicker(b.heartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-t.Dying():
			return nil
		case <-ticker.C:
			seq := b.bus.Seq()
			b.mu.RLock()
			for _, c := range b.clients {
				c.push(Outbound{Kind: KindHeartbeat, HeartbeatSeq: seq})
			}
			b.mu.RUnlock()
		}
	}
}

func (b *Broadcaster) dispatch(ctx context.Context, ev events.Event) {
	switch ev.Kind {
	case events.KindBookUpdated:
		b.broadcastBookUpdate(ev)
	case events.KindTradeExecuted:
		b.broadcastTrade(ev)
	case events.KindOrderUpdated, events.KindOrderAdded:
		b.notifyOrderOwner(ev, KindOrderFilled)
	case events.KindOrderCancelled, events.KindOrderExpired:
		b.notifyOrderOwner(ev, KindOrderCancelled)
	case events.KindLagged:
		b.resyncAll(ctx)
	}
}

func (b *Broadcaster) broadcastBookUpdate(ev events.Event) {
	if ev.BookUpdate == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, c := range b.clients {
		if !c.orderbookPairs[ev.Pair] {
			continue
		}
		c.push(Outbound{
			Kind:       KindOrderbookUpdate,
			Pair:       ev.Pair,
			Bids:       ev.BookUpdate.Bids,
			Asks:       ev.BookUpdate.Asks,
			LastUpdate: ev.BookUpdate.LastUpdate,
		})
	}
}

func (b *Broadcaster) broadcastTrade(ev events.Event) {
	if ev.Trade == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, c := range b.clients {
		if c.allTradePairs || c.tradePairs[ev.Pair] {
			c.push(Outbound{Kind: KindTradeExecuted, Pair: ev.Pair, Trade: ev.Trade})
		}
	}
}

// notifyOrderOwner delivers per-user order state changes only to the
// subscriber watching that user's orders, per spec.md §6's
// subscribe_user_orders scope.
func (b *Broadcaster) notifyOrderOwner(ev events.Event, kind OutboundKind) {
	if ev.Order == nil {
		return
	}
	// Only OrderUpdated transitions landing on Filled are "order_filled";
	// a still-resting partial fill is carried by the orderbook feed instead.
	if kind == KindOrderFilled && ev.Order.Status != types.StatusFilled {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, c := range b.clients {
		if c.userID != "" && c.userID == ev.Order.UserID {
			c.push(Outbound{Kind: kind, Pair: ev.Pair, Order: ev.Order})
		}
	}
}

// resyncAll resends a fresh snapshot to every client for every orderbook pair
// it watches, per spec.md §4.6's "resend snapshot on Lagged". Lagged is
// delivered per-subscriber by the bus, but since the broadcaster itself is a
// single bus subscriber, a Lagged event here means the broadcaster's own
// queue dropped events — every downstream client is equally stale and all
// are resynced.
func (b *Broadcaster) resyncAll(ctx context.Context) {
	b.mu.RLock()
	snapshot := make(map[string]map[types.Pair]bool, len(b.clients))
	for id, c := range b.clients {
		pairs := make(map[types.Pair]bool, len(c.orderbookPairs))
		for p := range c.orderbookPairs {
			pairs[p] = true
		}
		snapshot[id] = pairs
	}
	b.mu.RUnlock()

	for id, pairs := range snapshot {
		for pair := range pairs {
			b.sendSnapshot(ctx, id, pair)
		}
	}
}

// Connect registers a new subscriber and returns its handle for reading
// outbound messages.
func (b *Broadcaster) Connect(clientID string) *Client {
	c := newClient(clientID, defaultClientCapacity)
	b.mu.Lock()
	b.clients[clientID] = c
	b.mu.Unlock()
	return c
}

// Disconnect removes a subscriber; it stops receiving further messages.
func (b *Broadcaster) Disconnect(clientID string) {
	b.mu.Lock()
	delete(b.clients, clientID)
	b.mu.Unlock()
}

// SubscribeOrderbook adds pair to clientID's orderbook feed and immediately
// sends a full snapshot.
func (b *Broadcaster) SubscribeOrderbook(ctx context.Context, clientID string, pair types.Pair) {
	b.mu.RLock()
	c, ok := b.clients[clientID]
	b.mu.RUnlock()
	if !ok {
		return
	}
	c.mu.Lock()
	c.orderbookPairs[pair] = true
	c.mu.Unlock()
	b.sendSnapshot(ctx, clientID, pair)
}

// UnsubscribeOrderbook removes pair from clientID's orderbook feed.
func (b *Broadcaster) UnsubscribeOrderbook(clientID string, pair types.Pair) {
	b.mu.RLock()
	c, ok := b.clients[clientID]
	b.mu.RUnlock()
	if !ok {
		return
	}
	c.mu.Lock()
	delete(c.orderbookPairs, pair)
	c.mu.Unlock()
}

// SubscribeTrades adds pair to clientID's trade feed, or every pair if pair
// is nil.
func (b *Broadcaster) SubscribeTrades(clientID string, pair *types.Pair) {
	b.mu.RLock()
	c, ok := b.clients[clientID]
	b.mu.RUnlock()
	if !ok {
		return
	}
	c.mu.Lock()
	if pair == nil {
		c.allTradePairs = true
	} else {
		c.tradePairs[*pair] = true
	}
	c.mu.Unlock()
}

// SubscribeUserOrders routes order_filled/order_cancelled messages for
// userID to clientID.
func (b *Broadcaster) SubscribeUserOrders(clientID, userID string) {
	b.mu.RLock()
	c, ok := b.clients[clientID]
	b.mu.RUnlock()
	if !ok {
		return
	}
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
}

func (b *Broadcaster) sendSnapshot(ctx context.Context, clientID string, pair types.Pair) {
	b.mu.RLock()
	c, ok := b.clients[clientID]
	b.mu.RUnlock()
	if !ok {
		return
	}
	snap, err := b.eng.Snapshot(ctx, pair, SnapshotDepth)
	if err != nil {
		return
	}
	c.push(Outbound{
		Kind:       KindOrderbookSnapshot,
		Pair:       pair,
		Bids:       snap.Bids,
		Asks:       snap.Asks,
		LastUpdate: snap.LastUpdate,
	})
}

func contextForTomb(t *tomb.Tomb) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-t.Dying()
		cancel()
	}()
	return ctx, cancel
}
