package market

import "errors"

// Engine errors, grouped by category. Callers match with errors.Is;
// call sites wrap with fmt.Errorf("...: %w", err) for context.
var (
	// General
	ErrNotInitialized   = errors.New("engine not initialized")
	ErrUnauthorized     = errors.New("caller not authorized")
	ErrPaused           = errors.New("operation paused")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrInvalidAmount    = errors.New("amount must be positive")

	// Position
	ErrPositionNotFound       = errors.New("position not found")
	ErrInvalidLeverage        = errors.New("leverage out of allowed range")
	ErrInsufficientCollateral = errors.New("collateral below minimum")
	ErrPositionTooLarge       = errors.New("position size exceeds maximum")
	ErrNotPositionOwner       = errors.New("caller does not own position")
	ErrPositionNotOpen        = errors.New("position is not open")
	ErrInvalidDirection       = errors.New("invalid direction")

	// Oracle
	ErrPriceStale        = errors.New("oracle price is stale")
	ErrInvalidPrice      = errors.New("oracle price is zero or negative")
	ErrAssetNotSupported = errors.New("asset not supported by oracle")

	// Pool
	ErrInsufficientLiquidity  = errors.New("insufficient pool liquidity")
	ErrInsufficientShares     = errors.New("insufficient share balance")
	ErrUnauthorizedSettlement = errors.New("settlement caller is not the engine")

	// Liquidation
	ErrNotLiquidatable = errors.New("position is not liquidatable")

	// Token
	ErrInsufficientBalance = errors.New("insufficient token balance")

	// Funding
	ErrFundingIntervalNotElapsed = errors.New("funding interval not elapsed")

	// Orders
	ErrOrderNotFound  = errors.New("order not found")
	ErrOrderNotOpen   = errors.New("order is not pending")
	ErrNotOrderOwner  = errors.New("caller does not own order")
)
