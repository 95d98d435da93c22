// Package margin holds the pure position math: sizing, liquidation
// thresholds, PnL and liquidation-proceeds distribution. Every function
// is deterministic over its inputs; all division truncates toward zero.
package margin

import (
	"PerpEngine/internal/fixedpoint"
	"PerpEngine/internal/market"
)

// PositionSize returns collateral * leverage, rejecting overflow.
func PositionSize(collateral, leverage int64) (int64, error) {
	return fixedpoint.Mul(collateral, leverage)
}

// LiquidationPrice computes the price at which a position becomes
// liquidatable.
//
// Long:  entry * (1 - 1/leverage + maintenance_margin)
// Short: entry * (1 + 1/leverage - maintenance_margin)
func LiquidationPrice(entryPrice, leverage int64, direction market.Direction, maintenanceMarginBps int64) (int64, error) {
	if leverage <= 0 {
		return 0, fixedpoint.ErrDivisionByZero
	}

	leverageFactor := fixedpoint.Precision / leverage
	marginFactor, err := fixedpoint.MulDiv(maintenanceMarginBps, fixedpoint.Precision, fixedpoint.BasisPoints)
	if err != nil {
		return 0, err
	}

	adjustment := leverageFactor - marginFactor
	delta, err := fixedpoint.MulDiv(entryPrice, adjustment, fixedpoint.Precision)
	if err != nil {
		return 0, err
	}

	if direction == market.Long {
		return fixedpoint.Sub(entryPrice, delta)
	}
	return fixedpoint.Add(entryPrice, delta)
}

// PnL computes profit or loss at the current price.
//
// Long:  size * (current - entry) / entry
// Short: size * (entry - current) / entry
func PnL(direction market.Direction, size, entryPrice, currentPrice int64) (int64, error) {
	if entryPrice == 0 {
		return 0, fixedpoint.ErrDivisionByZero
	}

	diff := currentPrice - entryPrice
	if direction == market.Short {
		diff = entryPrice - currentPrice
	}

	return fixedpoint.MulDiv(size, diff, entryPrice)
}

// PositionValue returns collateral + PnL - accumulated funding. Can go
// negative for deeply underwater positions.
func PositionValue(p *market.Position, currentPrice int64) (int64, error) {
	pnl, err := PnL(p.Direction, p.Size, p.EntryPrice, currentPrice)
	if err != nil {
		return 0, err
	}
	value, err := fixedpoint.Add(p.Collateral, pnl)
	if err != nil {
		return 0, err
	}
	return fixedpoint.Sub(value, p.AccumulatedFunding)
}

// ShouldLiquidate is a pure price-threshold check against the stored
// liquidation price. It does not recompute margin.
func ShouldLiquidate(direction market.Direction, liquidationPrice, currentPrice int64) bool {
	if direction == market.Long {
		return currentPrice <= liquidationPrice
	}
	return currentPrice >= liquidationPrice
}

// KeeperReward returns the keeper's share of remaining equity. Zero
// when nothing remains.
func KeeperReward(remaining, liquidationFeeBps int64) (int64, error) {
	if remaining <= 0 {
		return 0, nil
	}
	return fixedpoint.ApplyBps(remaining, liquidationFeeBps)
}

// LiquidationSplit distributes a liquidated position's equity.
// remaining = collateral + pnl - accumulated funding.
// When remaining is positive the keeper takes its fee and the rest goes
// to the pool. When remaining is zero or negative the pool absorbs the
// shortfall as bad debt and nobody is paid.
func LiquidationSplit(collateral, pnl, accumulatedFunding, liquidationFeeBps int64) (toPool, toKeeper, badDebt int64, err error) {
	remaining, err := fixedpoint.Add(collateral, pnl)
	if err != nil {
		return 0, 0, 0, err
	}
	remaining, err = fixedpoint.Sub(remaining, accumulatedFunding)
	if err != nil {
		return 0, 0, 0, err
	}

	if remaining <= 0 {
		return 0, 0, -remaining, nil
	}

	toKeeper, err = KeeperReward(remaining, liquidationFeeBps)
	if err != nil {
		return 0, 0, 0, err
	}

	toPool = remaining - toKeeper
	if toPool < 0 {
		toPool = 0
	}
	return toPool, toKeeper, 0, nil
}

// TradingFee returns the open fee charged on notional size.
func TradingFee(size, tradingFeeBps int64) (int64, error) {
	return fixedpoint.ApplyBps(size, tradingFeeBps)
}

// EffectiveLeverage returns size / collateral, floored at 1.
// Zero collateral yields zero.
func EffectiveLeverage(size, collateral int64) int64 {
	if collateral <= 0 {
		return 0
	}
	leverage := size / collateral
	if leverage < 1 {
		return 1
	}
	return leverage
}

// MarginRatio returns collateral / size scaled to fixed point. Lower
// means riskier. No exposure reports 100%.
func MarginRatio(collateral, size int64) (int64, error) {
	if size <= 0 {
		return fixedpoint.Precision, nil
	}
	return fixedpoint.MulDiv(collateral, fixedpoint.Precision, size)
}

// HasSufficientMargin checks collateral against the maintenance
// requirement on size.
func HasSufficientMargin(collateral, size, maintenanceMarginBps int64) (bool, error) {
	required, err := fixedpoint.ApplyBps(size, maintenanceMarginBps)
	if err != nil {
		return false, err
	}
	return collateral >= required, nil
}

// BreakEvenPrice is the price at which closing the position recovers
// the fees already paid.
func BreakEvenPrice(p *market.Position, totalFeesPaid int64) (int64, error) {
	if p.Size == 0 {
		return 0, fixedpoint.ErrDivisionByZero
	}
	feeImpact, err := fixedpoint.MulDiv(totalFeesPaid, p.EntryPrice, p.Size)
	if err != nil {
		return 0, err
	}
	if p.Direction == market.Long {
		return fixedpoint.Add(p.EntryPrice, feeImpact)
	}
	return fixedpoint.Sub(p.EntryPrice, feeImpact)
}

// MaxLoss returns the worst-case loss. Longs lose at most their
// collateral; shorts are capped at 10x notional as a practical bound.
func MaxLoss(p *market.Position) (int64, error) {
	if p.Direction == market.Long {
		return p.Collateral, nil
	}
	return fixedpoint.Mul(p.Size, 10)
}

// PartialClose splits a position proportionally.
// Returns (closeCollateral, closeSize, remainingCollateral, remainingSize).
func PartialClose(p *market.Position, closePercentageBps int64) (int64, int64, int64, int64, error) {
	closeSize, err := fixedpoint.ApplyBps(p.Size, closePercentageBps)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	closeCollateral, err := fixedpoint.ApplyBps(p.Collateral, closePercentageBps)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	return closeCollateral, closeSize, p.Collateral - closeCollateral, p.Size - closeSize, nil
}
