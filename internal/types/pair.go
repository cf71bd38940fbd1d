package types

import (
	"errors"
	"strings"
)

// ErrInvalidPair is returned when a pair string does not parse to the
// canonical "BASE/QUOTE" form.
var ErrInvalidPair = errors.New("types: invalid pair")

// Pair is the ordered tuple (base, quote) for a market, e.g. ETH/USDC.
type Pair struct {
	Base  string
	Quote string
}

// NewPair builds a Pair from its components.
func NewPair(base, quote string) Pair {
	return Pair{Base: strings.ToUpper(base), Quote: strings.ToUpper(quote)}
}

// String renders the canonical "BASE/QUOTE" form.
func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}

// ParsePair parses the canonical "BASE/QUOTE" form back into a Pair.
func ParsePair(s string) (Pair, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Pair{}, ErrInvalidPair
	}
	return NewPair(parts[0], parts[1]), nil
}
