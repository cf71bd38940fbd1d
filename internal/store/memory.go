package store

import (
	"context"
	"sort"
	"sync"

	"clobcore/internal/model"
	"clobcore/internal/types"
)

// InMemoryStore is the in-memory backend: a mapping from id to record,
// insertion order irrelevant for correctness (callers that need ordering —
// OrdersByUser, Trades — sort explicitly by timestamp). Suitable for tests
// and small deployments; it gives none of SQLStore's crash durability.
type InMemoryStore struct {
	mu sync.RWMutex

	users   map[string]model.User
	orders  map[string]model.Order
	trades  map[string]model.Trade
	batches map[string]model.Batch
}

// NewInMemoryStore constructs an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:   make(map[string]model.User),
		orders:  make(map[string]model.Order),
		trades:  make(map[string]model.Trade),
		batches: make(map[string]model.Batch),
	}
}

func (s *InMemoryStore) SaveUser(_ context.Context, u model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

func (s *InMemoryStore) SaveOrder(_ context.Context, o model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o.Clone()
	return nil
}

func (s *InMemoryStore) UpdateOrder(_ context.Context, id string, status types.OrderStatus, filled, remaining types.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return types.ErrNotFound
	}
	o.Status = status
	o.Filled = filled
	_ = remaining // remaining is derived (Amount - Filled); kept as a parameter for contract parity with spec §4.5.
	s.orders[id] = o
	return nil
}

func (s *InMemoryStore) SaveTrade(_ context.Context, tr model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades[tr.ID] = tr
	return nil
}

func (s *InMemoryStore) CreateBatch(_ context.Context, b model.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[b.ID] = b.Clone()
	return nil
}

func (s *InMemoryStore) AttachTradeToBatch(_ context.Context, batchID, tradeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return types.ErrNotFound
	}
	for _, existing := range b.TradeIDs {
		if existing == tradeID {
			return nil // idempotent replay
		}
	}
	b.TradeIDs = append(b.TradeIDs, tradeID)
	s.batches[batchID] = b

	tr, ok := s.trades[tradeID]
	if ok {
		tr.BatchID = batchID
		s.trades[tradeID] = tr
	}
	return nil
}

func (s *InMemoryStore) UpdateBatch(_ context.Context, b model.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[b.ID] = b.Clone()
	return nil
}

func (s *InMemoryStore) GetOrder(_ context.Context, id string) (model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return model.Order{}, types.ErrNotFound
	}
	return o, nil
}

func (s *InMemoryStore) OrdersByUser(_ context.Context, userID string, limit, offset int) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return paginate(out, limit, offset), nil
}

func (s *InMemoryStore) OrdersByPair(_ context.Context, pair types.Pair) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Order
	for _, o := range s.orders {
		if o.Pair == pair {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func (s *InMemoryStore) Trades(_ context.Context, pair *types.Pair, limit int) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Trade
	for _, tr := range s.trades {
		if pair == nil || tr.Pair == *pair {
			out = append(out, tr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return paginate(out, limit, 0), nil
}

func (s *InMemoryStore) TradesByUser(_ context.Context, userID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Trade
	for _, tr := range s.trades {
		taker, takerOK := s.orders[tr.TakerOrderID]
		maker, makerOK := s.orders[tr.MakerOrderID]
		if (takerOK && taker.UserID == userID) || (makerOK && maker.UserID == userID) {
			out = append(out, tr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func (s *InMemoryStore) PendingBatches(_ context.Context) ([]model.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Batch
	for _, b := range s.batches {
		if b.Status == types.BatchPending || b.Status == types.BatchSubmitted {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (s *InMemoryStore) Health(_ context.Context) (HealthCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return HealthCounts{
		Users:   len(s.users),
		Orders:  len(s.orders),
		Trades:  len(s.trades),
		Batches: len(s.batches),
	}, nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

var _ Store = (*InMemoryStore)(nil)
