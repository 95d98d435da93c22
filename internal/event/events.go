package event

// PositionOpened is emitted when a trader opens a position.
type PositionOpened struct {
	PositionID       uint64 `json:"position_id"`
	Trader           string `json:"trader"`
	Symbol           string `json:"symbol"`
	Direction        string `json:"direction"`
	Collateral       int64  `json:"collateral"`
	Leverage         int64  `json:"leverage"`
	Size             int64  `json:"size"`
	EntryPrice       int64  `json:"entry_price"`
	LiquidationPrice int64  `json:"liquidation_price"`
	Fee              int64  `json:"fee"`
}

// PositionClosed is emitted when a trader closes a position voluntarily.
type PositionClosed struct {
	PositionID  uint64 `json:"position_id"`
	Trader      string `json:"trader"`
	ExitPrice   int64  `json:"exit_price"`
	PnL         int64  `json:"pnl"`
	FundingPaid int64  `json:"funding_paid"`
	Payout      int64  `json:"payout"`
}

// PositionLiquidated is emitted when a keeper liquidates a position.
type PositionLiquidated struct {
	PositionID   uint64 `json:"position_id"`
	Trader       string `json:"trader"`
	Keeper       string `json:"keeper"`
	MarkPrice    int64  `json:"mark_price"`
	ToPool       int64  `json:"to_pool"`
	KeeperReward int64  `json:"keeper_reward"`
	BadDebt      int64  `json:"bad_debt"`
}

// CollateralAdded is emitted when a trader tops up an open position.
type CollateralAdded struct {
	PositionID          uint64 `json:"position_id"`
	Trader              string `json:"trader"`
	Amount              int64  `json:"amount"`
	NewCollateral       int64  `json:"new_collateral"`
	NewLeverage         int64  `json:"new_leverage"`
	NewLiquidationPrice int64  `json:"new_liquidation_price"`
}

// FundingApplied is emitted when the funding rate is recomputed for a
// market. The symbol rides on the envelope.
type FundingApplied struct {
	RateBps   int64 `json:"rate_bps"`
	LongSize  int64 `json:"long_size"`
	ShortSize int64 `json:"short_size"`
}

// PoolDeposit is emitted when an LP deposits into the pool.
type PoolDeposit struct {
	LP           string `json:"lp"`
	Amount       int64  `json:"amount"`
	SharesMinted int64  `json:"shares_minted"`
}

// PoolWithdraw is emitted when an LP redeems shares.
type PoolWithdraw struct {
	LP           string `json:"lp"`
	SharesBurned int64  `json:"shares_burned"`
	Payout       int64  `json:"payout"`
}

// PnLSettled is emitted for every realized settlement between the
// engine and the pool. Amount is positive when the pool paid the
// trader, negative when the trader paid the pool.
type PnLSettled struct {
	PositionID uint64 `json:"position_id"`
	Amount     int64  `json:"amount"`
}
