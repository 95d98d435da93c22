package market

import (
	"time"

	"PerpEngine/internal/fixedpoint"
)

// MarketConfig holds the risk parameters of a market. Amounts are
// 7-decimal fixed point, fees and margins are basis points.
type MarketConfig struct {
	// Minimum collateral required to open a position.
	MinCollateral int64

	// Maximum leverage multiplier.
	MaxLeverage int64

	// Maintenance margin, e.g. 100 = 1%.
	MaintenanceMarginBps int64

	// Keeper reward share of remaining equity, e.g. 500 = 5%.
	LiquidationFeeBps int64

	// Fee charged on notional size at open, e.g. 10 = 0.1%.
	TradingFeeBps int64

	// Base funding rate per FundingInterval at full imbalance.
	BaseFundingRateBps int64

	// Maximum notional size per position.
	MaxPositionSize int64

	// Oracle prices older than this are rejected.
	MaxPriceStaleness time.Duration

	// Minimum time between global funding applications.
	FundingInterval time.Duration
}

// DefaultMarketConfig returns the production defaults.
func DefaultMarketConfig() MarketConfig {
	return MarketConfig{
		MinCollateral:        10 * fixedpoint.Precision,      // 10 USDC
		MaxLeverage:          10,                             // 10x
		MaintenanceMarginBps: 100,                            // 1%
		LiquidationFeeBps:    500,                            // 5%
		TradingFeeBps:        10,                             // 0.1%
		BaseFundingRateBps:   1,                              // 0.01% per hour
		MaxPositionSize:      100_000 * fixedpoint.Precision, // 100k USDC
		MaxPriceStaleness:    60 * time.Second,
		FundingInterval:      time.Hour,
	}
}

// Validate rejects configurations the engine cannot run with.
func (c MarketConfig) Validate() error {
	if c.MaxLeverage < 1 || c.MaxLeverage > 100 {
		return ErrInvalidParameter
	}
	if c.MinCollateral <= 0 || c.MaxPositionSize <= 0 {
		return ErrInvalidParameter
	}
	if c.MaintenanceMarginBps < 0 || c.MaintenanceMarginBps >= int64(fixedpoint.BasisPoints) {
		return ErrInvalidParameter
	}
	if c.LiquidationFeeBps < 0 || c.TradingFeeBps < 0 || c.BaseFundingRateBps < 0 {
		return ErrInvalidParameter
	}
	if c.FundingInterval <= 0 {
		return ErrInvalidParameter
	}
	return nil
}

// PoolConfig holds liquidity pool fee parameters.
type PoolConfig struct {
	DepositFeeBps  int64
	WithdrawFeeBps int64
}

// DefaultPoolConfig returns the production defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		DepositFeeBps:  30, // 0.3%
		WithdrawFeeBps: 30,
	}
}

// Validate caps fees at 10%.
func (c PoolConfig) Validate() error {
	if c.DepositFeeBps < 0 || c.DepositFeeBps > 1000 {
		return ErrInvalidParameter
	}
	if c.WithdrawFeeBps < 0 || c.WithdrawFeeBps > 1000 {
		return ErrInvalidParameter
	}
	return nil
}
