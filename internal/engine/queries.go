package engine

import (
	"context"
	"time"

	"PerpEngine/internal/fixedpoint"
	"PerpEngine/internal/funding"
	"PerpEngine/internal/margin"
	"PerpEngine/internal/market"
)

// Position returns a copy of a position by ID. Copies keep callers
// from mutating engine state outside the mutex.
func (e *Engine) Position(id uint64) (market.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.ledger.Get(id)
	if !ok {
		return market.Position{}, market.ErrPositionNotFound
	}
	return *p, nil
}

// TraderPositions returns copies of a trader's open positions, ordered
// by ID.
func (e *Engine) TraderPositions(trader string) []market.Position {
	e.mu.Lock()
	defer e.mu.Unlock()

	live := e.ledger.TraderPositions(trader)
	out := make([]market.Position, 0, len(live))
	for _, p := range live {
		out = append(out, *p)
	}
	return out
}

// PositionPnL returns the position's unrealized PnL at the current
// mark price, together with the funding it would owe if settled now.
func (e *Engine) PositionPnL(ctx context.Context, id uint64) (pnl, pendingFunding int64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.ledger.Get(id)
	if !ok {
		return 0, 0, market.ErrPositionNotFound
	}

	price, err := e.markPrice(ctx)
	if err != nil {
		return 0, 0, err
	}
	pnl, err = margin.PnL(p.Direction, p.Size, p.EntryPrice, price)
	if err != nil {
		return 0, 0, err
	}

	hours := int64(e.now().Sub(p.LastFundingAt) / time.Hour)
	pending, err := funding.Payment(p.Size, e.funding.CurrentRate(), p.Direction, hours)
	if err != nil {
		return 0, 0, err
	}
	owed, err := fixedpoint.Add(p.AccumulatedFunding, pending)
	if err != nil {
		return 0, 0, err
	}
	return pnl, owed, nil
}

// IsLiquidatable reports whether the position can be liquidated at the
// current mark price.
func (e *Engine) IsLiquidatable(ctx context.Context, id uint64) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.ledger.Get(id)
	if !ok {
		return false, market.ErrPositionNotFound
	}
	price, err := e.markPrice(ctx)
	if err != nil {
		return false, err
	}
	return margin.ShouldLiquidate(p.Direction, p.LiquidationPrice, price), nil
}

// LiquidatablePositions returns the IDs of all positions past their
// liquidation price, ordered by ID. Keepers poll this.
func (e *Engine) LiquidatablePositions(ctx context.Context) ([]uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	price, err := e.markPrice(ctx)
	if err != nil {
		return nil, err
	}

	var out []uint64
	for _, id := range e.ledger.AllIDs() {
		p, ok := e.ledger.Get(id)
		if !ok {
			continue
		}
		if margin.ShouldLiquidate(p.Direction, p.LiquidationPrice, price) {
			out = append(out, id)
		}
	}
	return out, nil
}

// Stats returns an aggregate snapshot of the market.
func (e *Engine) Stats() market.MarketStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	return market.MarketStats{
		TotalLongSize:  e.agg.TotalLongSize(),
		TotalShortSize: e.agg.TotalShortSize(),
		OpenPositions:  e.ledger.Count(),
		FundingRateBps: e.funding.CurrentRate(),
		LastFundingAt:  e.funding.LastApplied(),
	}
}

// FundingRate returns the stored hourly funding rate in basis points.
func (e *Engine) FundingRate() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.funding.CurrentRate()
}

// Symbol returns the market's trading symbol.
func (e *Engine) Symbol() string {
	return e.symbol
}

// Paused reports whether trading is halted.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// Config returns the market configuration.
func (e *Engine) Config() market.MarketConfig {
	return e.cfg
}
