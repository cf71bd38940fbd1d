// Package engine implements the matching engine (spec.md C3): per-pair
// admission, price-time-priority matching, and the engine-wide health and
// order-routing state shared across markets.
package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"clobcore/internal/book"
	"clobcore/internal/events"
	"clobcore/internal/model"
	"clobcore/internal/store"
	"clobcore/internal/types"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

// MarketConfig configures one pair's market before the engine starts.
type MarketConfig struct {
	Pair       types.Pair
	PriceScale int32     // 0 defaults to types.DefaultPriceScale
	Fees       FeePolicy // nil defaults to NoFeePolicy
}

// Engine owns every market, the engine-wide order-to-pair index needed to
// route cancels (spec.md §6's cancel intent carries no pair), the user
// registry, and the fail-closed degraded flag from spec.md §4.8.
//
// Each market runs its own single-executor goroutine against its own book;
// the Engine itself holds no lock a matching step needs, so different
// pairs proceed in parallel exactly as spec.md §5 requires.
type Engine struct {
	bus        *events.Bus
	markets    map[types.Pair]*market
	priceScales map[types.Pair]int32

	userStore store.Store // used only for SaveUser; nil disables persistence

	indexMu    sync.RWMutex
	orderIndex map[string]types.Pair

	usersMu sync.Mutex
	users   map[string]*model.User

	degraded atomic.Bool

	t *tomb.Tomb
}

// NewEngine constructs an engine with one market per config entry. userStore
// may be nil, in which case user records are tracked in memory only.
func NewEngine(bus *events.Bus, userStore store.Store, configs []MarketConfig) *Engine {
	e := &Engine{
		bus:         bus,
		markets:     make(map[types.Pair]*market, len(configs)),
		priceScales: make(map[types.Pair]int32, len(configs)),
		userStore:   userStore,
		orderIndex:  make(map[string]types.Pair),
		users:       make(map[string]*model.User),
	}
	for _, cfg := range configs {
		scale := cfg.PriceScale
		if scale == 0 {
			scale = types.DefaultPriceScale
		}
		fees := cfg.Fees
		if fees == nil {
			fees = NoFeePolicy{}
		}
		e.markets[cfg.Pair] = &market{
			pair:    cfg.Pair,
			book:    book.New(cfg.Pair),
			orders:  make(map[string]*model.Order),
			bus:     bus,
			fees:    fees,
			engine:  e,
			ingress: make(chan request, defaultIngressCapacity),
		}
		e.priceScales[cfg.Pair] = scale
	}
	return e
}

// priceScale reports the configured price scale for pair.
func (e *Engine) priceScale(pair types.Pair) int32 {
	if scale, ok := e.priceScales[pair]; ok {
		return scale
	}
	return types.DefaultPriceScale
}

// Start launches every market's executor goroutine under a shared tomb,
// mirroring the pool-of-supervised-goroutines pattern used elsewhere in
// this codebase for long-lived workers.
func (e *Engine) Start() {
	e.t = new(tomb.Tomb)
	for _, m := range e.markets {
		m.start(e.t)
	}
}

// Stop signals every market's goroutine to exit and waits for them.
func (e *Engine) Stop() error {
	if e.t == nil {
		return nil
	}
	e.t.Kill(nil)
	return e.t.Wait()
}

// Pairs returns the configured market pairs.
func (e *Engine) Pairs() []types.Pair {
	pairs := make([]types.Pair, 0, len(e.markets))
	for p := range e.markets {
		pairs = append(pairs, p)
	}
	return pairs
}

// Place admits intent into its market, matching immediately and returning
// every trade it produced. It is rejected up front, with no side effects,
// if the engine is degraded (spec.md §4.8: store write failures stop new
// admissions until the store acknowledges again) or if the pair has no
// configured market.
func (e *Engine) Place(ctx context.Context, intent PlaceIntent, now int64) PlaceResult {
	if e.Degraded() {
		return PlaceResult{Err: types.NewKindError(types.KindStoreUnavailable, "engine degraded: not accepting new orders")}
	}
	m, ok := e.markets[intent.Pair]
	if !ok {
		return PlaceResult{Err: types.NewKindError(types.KindInvalidOrder, "unknown pair: "+intent.Pair.String())}
	}
	resp, delivered := m.submit(ctx, request{kind: reqPlace, place: intent, now: now, reply: make(chan response, 1)})
	if !delivered {
		return PlaceResult{Err: ctx.Err()}
	}
	return resp.place
}

// Cancel looks up which market holds orderID and submits the cancel there.
// Cancel is never blocked by the degraded flag: spec.md §4.8 fail-closes new
// order admission only.
func (e *Engine) Cancel(ctx context.Context, intent CancelIntent, now int64) CancelResult {
	pair, ok := e.lookupOrderPair(intent.OrderID)
	if !ok {
		return CancelResult{Err: types.NewKindError(types.KindNotFound, "order not found")}
	}
	m := e.markets[pair]
	resp, delivered := m.submit(ctx, request{kind: reqCancel, cancel: intent, now: now, reply: make(chan response, 1)})
	if !delivered {
		return CancelResult{Err: ctx.Err()}
	}
	return resp.cancel
}

// ExpireDue evaluates every resting order on pair against now and expires
// whatever is due, per spec.md §5's lazy per-timer evaluation (there is no
// background expiry thread).
func (e *Engine) ExpireDue(ctx context.Context, pair types.Pair, now int64) (ExpireResult, error) {
	m, ok := e.markets[pair]
	if !ok {
		return ExpireResult{}, types.NewKindError(types.KindInvalidOrder, "unknown pair: "+pair.String())
	}
	resp, delivered := m.submit(ctx, request{kind: reqExpire, now: now, reply: make(chan response, 1)})
	if !delivered {
		return ExpireResult{}, ctx.Err()
	}
	return resp.expire, nil
}

// Snapshot returns a point-in-time depth view of pair's book, routed through
// the market's own executor so it never races the goroutine that owns the
// book (spec.md §5: "the book is never touched by any component other than
// the engine").
func (e *Engine) Snapshot(ctx context.Context, pair types.Pair, depth int) (BookSnapshot, error) {
	m, ok := e.markets[pair]
	if !ok {
		return BookSnapshot{}, types.NewKindError(types.KindInvalidOrder, "unknown pair: "+pair.String())
	}
	resp, delivered := m.submit(ctx, request{kind: reqSnapshot, depth: depth, reply: make(chan response, 1)})
	if !delivered {
		return BookSnapshot{}, ctx.Err()
	}
	return resp.snapshot, nil
}

// ExpireAllDue runs ExpireDue across every configured market and
// concatenates the results, for callers driving one shared timer instead of
// one per pair.
func (e *Engine) ExpireAllDue(ctx context.Context, now int64) []model.Order {
	var all []model.Order
	for pair := range e.markets {
		res, err := e.ExpireDue(ctx, pair, now)
		if err != nil {
			continue
		}
		all = append(all, res.Expired...)
	}
	return all
}

// MarkDegraded puts the engine into the fail-closed state described in
// spec.md §4.8. It is the HealthSink the store writer calls when a
// persistence write fails.
func (e *Engine) MarkDegraded(err error) {
	if e.degraded.CompareAndSwap(false, true) {
		log.Error().Err(err).Msg("engine entering degraded state: store unavailable, rejecting new orders")
	}
}

// ClearDegraded exits the degraded state once the store acknowledges again.
func (e *Engine) ClearDegraded() {
	if e.degraded.CompareAndSwap(true, false) {
		log.Info().Msg("engine leaving degraded state")
	}
}

// Degraded reports whether the engine is currently fail-closed to new orders.
func (e *Engine) Degraded() bool {
	return e.degraded.Load()
}

func (e *Engine) indexOrder(orderID string, pair types.Pair) {
	e.indexMu.Lock()
	e.orderIndex[orderID] = pair
	e.indexMu.Unlock()
}

func (e *Engine) lookupOrderPair(orderID string) (types.Pair, bool) {
	e.indexMu.RLock()
	defer e.indexMu.RUnlock()
	pair, ok := e.orderIndex[orderID]
	return pair, ok
}

// touchUser creates userID's registry entry on first reference and bumps
// its last-activity timestamp, per spec.md §3's User invariants. Persisting
// the user record is best-effort: unlike order/trade/batch writes, a failed
// user save does not degrade the engine, since spec.md §4.8 only names
// order/trade/batch durability as admission-gating.
func (e *Engine) touchUser(userID string, now int64) {
	e.usersMu.Lock()
	u, ok := e.users[userID]
	if !ok {
		u = &model.User{ID: userID, Active: true, CreatedAt: now}
		e.users[userID] = u
	}
	u.Touch(now, u.Nonce+1)
	snapshot := *u
	e.usersMu.Unlock()

	if e.userStore != nil {
		if err := e.userStore.SaveUser(context.Background(), snapshot); err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("failed to persist user record")
		}
	}
}

// GetUser returns a copy of the tracked user record, if any.
func (e *Engine) GetUser(userID string) (model.User, bool) {
	e.usersMu.Lock()
	defer e.usersMu.Unlock()
	u, ok := e.users[userID]
	if !ok {
		return model.User{}, false
	}
	return *u, true
}
