// Package oracle defines the price feed boundary. The engine validates
// every quote for staleness and positivity before acting on it.
package oracle

import (
	"context"
	"sync"
	"time"

	"PerpEngine/internal/market"
)

// Price is a single oracle quote, 7-decimal fixed point.
type Price struct {
	Value     int64
	Timestamp time.Time
}

// PriceSource serves quotes per asset symbol.
type PriceSource interface {
	PriceFor(ctx context.Context, symbol string) (Price, error)
}

// Validate rejects quotes the engine must not trade on: non-positive
// values and quotes older than maxStaleness.
func Validate(p Price, now time.Time, maxStaleness time.Duration) error {
	if now.After(p.Timestamp) && now.Sub(p.Timestamp) > maxStaleness {
		return market.ErrPriceStale
	}
	if p.Value <= 0 {
		return market.ErrInvalidPrice
	}
	return nil
}

// Static is an in-memory PriceSource fed by explicit updates. Safe for
// concurrent use.
type Static struct {
	mu     sync.RWMutex
	prices map[string]Price
}

func NewStatic() *Static {
	return &Static{prices: make(map[string]Price)}
}

// Set stores a quote for a symbol.
func (s *Static) Set(symbol string, value int64, timestamp time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = Price{Value: value, Timestamp: timestamp}
}

func (s *Static) PriceFor(_ context.Context, symbol string) (Price, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.prices[symbol]
	if !ok {
		return Price{}, market.ErrAssetNotSupported
	}
	return p, nil
}
