package market

import (
	"time"
)

// Direction of a leveraged position.
type Direction int32

const (
	// Long profits when the price goes up.
	Long Direction = iota
	// Short profits when the price goes down.
	Short
)

func (d Direction) String() string {
	switch d {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return "unknown"
	}
}

// Sign returns +1 for long, -1 for short.
func (d Direction) Sign() int64 {
	if d == Short {
		return -1
	}
	return 1
}

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == Long || d == Short
}

// PositionStatus tracks the position lifecycle.
// Open is the only live state; Closed and Liquidated are terminal.
type PositionStatus int32

const (
	StatusOpen PositionStatus = iota
	StatusClosed
	StatusLiquidated
)

func (s PositionStatus) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	case StatusLiquidated:
		return "liquidated"
	default:
		return "unknown"
	}
}

// CanTransitionTo validates lifecycle transitions. Terminal states have
// no successors; position IDs are never reused after retirement.
func (s PositionStatus) CanTransitionTo(next PositionStatus) bool {
	if s != StatusOpen {
		return false
	}
	return next == StatusClosed || next == StatusLiquidated
}

// Position is a trader's leveraged position. All amounts are 7-decimal
// fixed point.
type Position struct {
	// Unique, monotonically increasing identifier.
	ID uint64

	// Principal that owns the position.
	Trader string

	// Trading asset symbol, e.g. "XLM".
	Symbol string

	// Collateral held as margin, net of the open fee.
	Collateral int64

	// Notional size: collateral * leverage at open time.
	Size int64

	// Oracle price at open.
	EntryPrice int64

	Direction Direction

	// Integer multiplier, 1..MaxLeverage.
	Leverage int64

	// Price at which the position becomes liquidatable.
	LiquidationPrice int64

	Status PositionStatus

	OpenedAt time.Time

	// Last time funding was settled into AccumulatedFunding.
	LastFundingAt time.Time

	// Net funding owed by the position. Positive = position pays,
	// negative = position receives.
	AccumulatedFunding int64
}

// IsOpen reports whether the position is live.
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen
}

// MarketStats is an aggregate snapshot over all open positions.
type MarketStats struct {
	TotalLongSize  int64     `json:"total_long_size"`
	TotalShortSize int64     `json:"total_short_size"`
	OpenPositions  int       `json:"open_positions"`
	FundingRateBps int64     `json:"funding_rate_bps"`
	LastFundingAt  time.Time `json:"last_funding_at"`
}

// PoolInfo is a snapshot of the liquidity pool state.
type PoolInfo struct {
	TotalDeposits int64 `json:"total_deposits"`
	TotalShares   int64 `json:"total_shares"`
	AUM           int64 `json:"aum"`
	UnrealizedPnL int64 `json:"unrealized_pnl"`
	TotalFees     int64 `json:"total_fees"`
	SharePrice    int64 `json:"share_price"`
}
