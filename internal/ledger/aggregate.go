package ledger

import "PerpEngine/internal/market"

// MarketAggregate tracks totals over all open positions. The engine
// mutates it in the same critical section as the position change that
// triggers it, so the totals never drift from the ledger contents.
type MarketAggregate struct {
	totalLongSize  int64
	totalShortSize int64
}

func NewMarketAggregate() *MarketAggregate {
	return &MarketAggregate{}
}

// AddOpen records a newly opened position's size.
func (a *MarketAggregate) AddOpen(direction market.Direction, size int64) {
	if direction == market.Long {
		a.totalLongSize += size
	} else {
		a.totalShortSize += size
	}
}

// AddClose records the removal of a position's size, on close or
// liquidation.
func (a *MarketAggregate) AddClose(direction market.Direction, size int64) {
	if direction == market.Long {
		a.totalLongSize -= size
	} else {
		a.totalShortSize -= size
	}
}

// TotalLongSize returns the summed notional of open longs.
func (a *MarketAggregate) TotalLongSize() int64 {
	return a.totalLongSize
}

// TotalShortSize returns the summed notional of open shorts.
func (a *MarketAggregate) TotalShortSize() int64 {
	return a.totalShortSize
}
