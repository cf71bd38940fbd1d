package engine

import (
	"clobcore/internal/model"
	"clobcore/internal/types"
)

// PlaceIntent is the ingress record from spec.md §6: a signed trading
// intent, already authenticated and balance-checked upstream. Price and
// Amount are decimal strings carrying up to 18 fractional digits; the
// engine parses them with the fixed-precision Decimal type and never
// touches binary floating point.
type PlaceIntent struct {
	ID        string
	UserID    string
	Pair      types.Pair
	Side      types.Side
	Type      types.OrderType
	Price     string // ignored (not parsed) for market orders
	Amount    string
	Timestamp int64 // ingress monotonic, milliseconds
	Nonce     uint64
	Signature []byte
	ChainID   uint64
	ExpiresAt *int64
}

// CancelIntent is the ingress cancel record from spec.md §6.
type CancelIntent struct {
	OrderID     string
	RequesterID string
}

// toOrder parses and validates the intent into a fresh, pending Order. It
// performs only the STRUCTURAL admission checks from spec.md §4.3 (id
// presence, positive amount, positive price for limit orders, parseable
// decimals); uniqueness and pair-routing are checked by the caller, which
// has visibility across markets.
func (intent PlaceIntent) toOrder(priceScale int32) (model.Order, *types.KindError) {
	if intent.ID == "" {
		return model.Order{}, types.NewKindError(types.KindInvalidOrder, "missing id")
	}
	amount, err := types.ParseAmount(intent.Amount)
	if err != nil || !amount.IsPositive() {
		return model.Order{}, types.NewKindError(types.KindInvalidOrder, "amount must be a positive decimal")
	}

	var price types.Decimal
	if intent.Type == types.LimitOrder {
		price, err = types.ParsePrice(intent.Price, priceScale)
		if err != nil || !price.IsPositive() {
			return model.Order{}, types.NewKindError(types.KindInvalidOrder, "price must be a positive decimal for limit orders")
		}
	} else {
		// Market orders carry no meaningful limit price; record zero rather
		// than attempting to parse caller-supplied noise.
		price = types.ZeroAt(priceScale)
	}

	return model.Order{
		ID:        intent.ID,
		UserID:    intent.UserID,
		Pair:      intent.Pair,
		Side:      intent.Side,
		Type:      intent.Type,
		Price:     price,
		Amount:    amount,
		Filled:    types.Zero,
		Status:    types.StatusPending,
		Timestamp: intent.Timestamp,
		Nonce:     intent.Nonce,
		Signature: intent.Signature,
		ChainID:   intent.ChainID,
		ExpiresAt: intent.ExpiresAt,
	}, nil
}
