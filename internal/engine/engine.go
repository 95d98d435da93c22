// Package engine implements the trading engine for a single perpetual
// futures market: position lifecycle, funding, liquidation, and
// settlement against the liquidity pool.
//
// The engine mutex is the atomic unit. Every operation runs start to
// finish under it, so a reader never observes a position whose
// collateral moved but whose liquidation price did not.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"PerpEngine/internal/event"
	"PerpEngine/internal/fixedpoint"
	"PerpEngine/internal/funding"
	"PerpEngine/internal/ledger"
	"PerpEngine/internal/margin"
	"PerpEngine/internal/market"
	"PerpEngine/internal/observability"
	"PerpEngine/internal/oracle"
	"PerpEngine/internal/pool"
	"PerpEngine/internal/token"
)

// Engine runs one market. It owns the position ledger and the market
// aggregate outright; the pool, token ledger, and oracle are shared
// and carry their own synchronization.
type Engine struct {
	mu sync.Mutex

	cfg    market.MarketConfig
	symbol string

	// Token account holding all trader collateral. Also the principal
	// the pool recognizes for settlement calls.
	account string

	// Principal allowed to pause and unpause.
	admin string

	ledger  *ledger.PositionLedger
	agg     *ledger.MarketAggregate
	funding *funding.Controller

	pool   *pool.LiquidityPool
	tokens token.Ledger
	prices oracle.PriceSource

	events  *event.Bus
	metrics *observability.Metrics
	log     zerolog.Logger

	paused bool

	// Injected clock.
	now func() time.Time
}

func New(cfg market.MarketConfig, symbol, account, admin string, tokens token.Ledger, prices oracle.PriceSource, lp *pool.LiquidityPool, bus *event.Bus, metrics *observability.Metrics, log zerolog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if symbol == "" || account == "" || admin == "" {
		return nil, market.ErrInvalidParameter
	}

	now := time.Now
	return &Engine{
		cfg:     cfg,
		symbol:  symbol,
		account: account,
		admin:   admin,
		ledger:  ledger.NewPositionLedger(),
		agg:     ledger.NewMarketAggregate(),
		funding: funding.NewController(cfg.BaseFundingRateBps, cfg.FundingInterval, now()),
		pool:    lp,
		tokens:  tokens,
		prices:  prices,
		events:  bus,
		metrics: metrics,
		log:     log,
		now:     now,
	}, nil
}

// OpenPosition opens a leveraged position. The trader pays collateral
// plus the open fee; the fee goes to the pool. Returns the new
// position.
func (e *Engine) OpenPosition(ctx context.Context, trader string, collateral, leverage int64, direction market.Direction) (*market.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	started := time.Now()
	p, err := e.openPosition(ctx, trader, collateral, leverage, direction)
	e.observe("open_position", started, err)
	return p, err
}

func (e *Engine) openPosition(ctx context.Context, trader string, collateral, leverage int64, direction market.Direction) (*market.Position, error) {
	if e.paused {
		return nil, market.ErrPaused
	}
	if !direction.Valid() {
		return nil, market.ErrInvalidDirection
	}
	if collateral < e.cfg.MinCollateral {
		return nil, market.ErrInsufficientCollateral
	}
	if leverage < 1 || leverage > e.cfg.MaxLeverage {
		return nil, market.ErrInvalidLeverage
	}

	size, err := margin.PositionSize(collateral, leverage)
	if err != nil {
		return nil, err
	}
	if size > e.cfg.MaxPositionSize {
		return nil, market.ErrPositionTooLarge
	}

	// The pool must be able to cover a worst-case payout before the
	// position exists.
	if err := e.pool.Reserve(e.account, size); err != nil {
		return nil, err
	}

	entry, err := e.markPrice(ctx)
	if err != nil {
		return nil, err
	}

	liqPrice, err := margin.LiquidationPrice(entry, leverage, direction, e.cfg.MaintenanceMarginBps)
	if err != nil {
		return nil, err
	}
	fee, err := margin.TradingFee(size, e.cfg.TradingFeeBps)
	if err != nil {
		return nil, err
	}

	total, err := fixedpoint.Add(collateral, fee)
	if err != nil {
		return nil, err
	}
	if err := e.tokens.Transfer(trader, e.account, total); err != nil {
		return nil, err
	}

	now := e.now()
	p := &market.Position{
		ID:               e.ledger.NextID(),
		Trader:           trader,
		Symbol:           e.symbol,
		Collateral:       collateral,
		Size:             size,
		EntryPrice:       entry,
		Direction:        direction,
		Leverage:         leverage,
		LiquidationPrice: liqPrice,
		Status:           market.StatusOpen,
		OpenedAt:         now,
		LastFundingAt:    now,
	}
	e.ledger.Insert(p)
	e.agg.AddOpen(direction, size)

	// Fee tokens and accounting move to the pool together.
	if fee > 0 {
		if err := e.tokens.Transfer(e.account, e.pool.Account(), fee); err != nil {
			return nil, err
		}
		if err := e.pool.CollectFee(e.account, fee); err != nil {
			return nil, err
		}
	}

	e.emit(event.EventTypePositionOpened, event.PositionOpened{
		PositionID:       p.ID,
		Trader:           trader,
		Symbol:           e.symbol,
		Direction:        direction.String(),
		Collateral:       collateral,
		Leverage:         leverage,
		Size:             size,
		EntryPrice:       entry,
		LiquidationPrice: liqPrice,
		Fee:              fee,
	})
	e.syncGauges()

	e.log.Info().
		Uint64("position_id", p.ID).
		Str("trader", trader).
		Str("direction", direction.String()).
		Int64("collateral", collateral).
		Int64("leverage", leverage).
		Int64("entry_price", entry).
		Msg("position opened")

	return p, nil
}

// ClosePosition closes an open position at the current mark price and
// settles the result against the pool. Returns the realized PnL before
// funding.
func (e *Engine) ClosePosition(ctx context.Context, trader string, id uint64) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	started := time.Now()
	pnl, err := e.closePosition(ctx, trader, id)
	e.observe("close_position", started, err)
	return pnl, err
}

func (e *Engine) closePosition(ctx context.Context, trader string, id uint64) (int64, error) {
	if e.paused {
		return 0, market.ErrPaused
	}

	p, ok := e.ledger.Get(id)
	if !ok {
		return 0, market.ErrPositionNotFound
	}
	if p.Trader != trader {
		return 0, market.ErrNotPositionOwner
	}
	if !p.IsOpen() {
		return 0, market.ErrPositionNotOpen
	}

	price, err := e.markPrice(ctx)
	if err != nil {
		return 0, err
	}

	// Accrue only after the price check passes: a rejected close must
	// leave the position's funding clock untouched.
	if _, err := e.funding.Accrue(p, e.now()); err != nil {
		return 0, err
	}

	pnl, err := margin.PnL(p.Direction, p.Size, p.EntryPrice, price)
	if err != nil {
		return 0, err
	}

	settle, err := fixedpoint.Sub(pnl, p.AccumulatedFunding)
	if err != nil {
		return 0, err
	}

	payout, err := e.settle(p, settle)
	if err != nil {
		return 0, err
	}
	if payout > 0 {
		if err := e.tokens.Transfer(e.account, trader, payout); err != nil {
			return 0, err
		}
	}

	p.Status = market.StatusClosed
	e.ledger.Remove(id)
	e.agg.AddClose(p.Direction, p.Size)

	e.emit(event.EventTypePositionClosed, event.PositionClosed{
		PositionID:  id,
		Trader:      trader,
		ExitPrice:   price,
		PnL:         pnl,
		FundingPaid: p.AccumulatedFunding,
		Payout:      payout,
	})
	e.emit(event.EventTypePnLSettled, event.PnLSettled{PositionID: id, Amount: settle})
	e.syncGauges()

	e.log.Info().
		Uint64("position_id", id).
		Str("trader", trader).
		Int64("exit_price", price).
		Int64("pnl", pnl).
		Int64("payout", payout).
		Msg("position closed")

	return pnl, nil
}

// settle realizes a net trader result against the pool and returns the
// trader's payout. Positive settle: the pool pushes the win to the
// engine account. Negative settle: the engine pushes the loss, capped
// at collateral, to the pool account.
func (e *Engine) settle(p *market.Position, settle int64) (int64, error) {
	if settle > 0 {
		if err := e.pool.SettlePnL(e.account, settle); err != nil {
			return 0, err
		}
		return fixedpoint.Add(p.Collateral, settle)
	}

	loss := -settle
	if loss > p.Collateral {
		loss = p.Collateral
	}
	if loss > 0 {
		if err := e.tokens.Transfer(e.account, e.pool.Account(), loss); err != nil {
			return 0, err
		}
		if err := e.pool.SettlePnL(e.account, -loss); err != nil {
			return 0, err
		}
	}
	return p.Collateral - loss, nil
}

// AddCollateral tops up an open position. Leverage and liquidation
// price are recomputed from the new collateral, which always moves
// them in the trader's favor.
func (e *Engine) AddCollateral(ctx context.Context, trader string, id uint64, amount int64) (*market.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	started := time.Now()
	p, err := e.addCollateral(ctx, trader, id, amount)
	e.observe("add_collateral", started, err)
	return p, err
}

func (e *Engine) addCollateral(_ context.Context, trader string, id uint64, amount int64) (*market.Position, error) {
	if e.paused {
		return nil, market.ErrPaused
	}
	if amount <= 0 {
		return nil, market.ErrInvalidAmount
	}

	p, ok := e.ledger.Get(id)
	if !ok {
		return nil, market.ErrPositionNotFound
	}
	if p.Trader != trader {
		return nil, market.ErrNotPositionOwner
	}
	if !p.IsOpen() {
		return nil, market.ErrPositionNotOpen
	}

	newCollateral, err := fixedpoint.Add(p.Collateral, amount)
	if err != nil {
		return nil, err
	}
	newLeverage := margin.EffectiveLeverage(p.Size, newCollateral)
	newLiq, err := margin.LiquidationPrice(p.EntryPrice, newLeverage, p.Direction, e.cfg.MaintenanceMarginBps)
	if err != nil {
		return nil, err
	}

	if err := e.tokens.Transfer(trader, e.account, amount); err != nil {
		return nil, err
	}

	p.Collateral = newCollateral
	p.Leverage = newLeverage
	p.LiquidationPrice = newLiq

	e.emit(event.EventTypeCollateralAdded, event.CollateralAdded{
		PositionID:          id,
		Trader:              trader,
		Amount:              amount,
		NewCollateral:       newCollateral,
		NewLeverage:         newLeverage,
		NewLiquidationPrice: newLiq,
	})

	return p, nil
}

// Liquidate closes an underwater position. Anyone may call it; the
// caller earns the keeper reward. Remaining trader equity goes to the
// pool; a shortfall is absorbed by the pool as bad debt. Liquidation
// works while the market is paused.
func (e *Engine) Liquidate(ctx context.Context, keeper string, id uint64) (toPool, toKeeper, badDebt int64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	started := time.Now()
	toPool, toKeeper, badDebt, err = e.liquidate(ctx, keeper, id)
	e.observe("liquidate", started, err)
	return toPool, toKeeper, badDebt, err
}

func (e *Engine) liquidate(ctx context.Context, keeper string, id uint64) (int64, int64, int64, error) {
	p, ok := e.ledger.Get(id)
	if !ok {
		return 0, 0, 0, market.ErrPositionNotFound
	}
	if !p.IsOpen() {
		return 0, 0, 0, market.ErrPositionNotOpen
	}

	price, err := e.markPrice(ctx)
	if err != nil {
		return 0, 0, 0, err
	}
	if !margin.ShouldLiquidate(p.Direction, p.LiquidationPrice, price) {
		return 0, 0, 0, market.ErrNotLiquidatable
	}

	pnl, err := margin.PnL(p.Direction, p.Size, p.EntryPrice, price)
	if err != nil {
		return 0, 0, 0, err
	}
	toPool, toKeeper, badDebt, err := margin.LiquidationSplit(p.Collateral, pnl, p.AccumulatedFunding, e.cfg.LiquidationFeeBps)
	if err != nil {
		return 0, 0, 0, err
	}

	if toKeeper > 0 {
		if err := e.tokens.Transfer(e.account, keeper, toKeeper); err != nil {
			return 0, 0, 0, err
		}
	}

	// Everything not paid to the keeper goes to the pool: the trader's
	// realized loss, the funding owed, and the seized remainder.
	poolShare := p.Collateral - toKeeper
	if poolShare > 0 {
		if err := e.tokens.Transfer(e.account, e.pool.Account(), poolShare); err != nil {
			return 0, 0, 0, err
		}
		if err := e.pool.Absorb(e.account, poolShare); err != nil {
			return 0, 0, 0, err
		}
	}

	p.Status = market.StatusLiquidated
	e.ledger.Remove(id)
	e.agg.AddClose(p.Direction, p.Size)

	e.emit(event.EventTypePositionLiquidated, event.PositionLiquidated{
		PositionID:   id,
		Trader:       p.Trader,
		Keeper:       keeper,
		MarkPrice:    price,
		ToPool:       toPool,
		KeeperReward: toKeeper,
		BadDebt:      badDebt,
	})
	e.syncGauges()

	if e.metrics != nil {
		e.metrics.LiquidationsTotal.Inc()
		e.metrics.KeeperRewardsPaid.Add(float64(toKeeper))
		e.metrics.BadDebtTotal.Add(float64(badDebt))
	}

	e.log.Info().
		Uint64("position_id", id).
		Str("trader", p.Trader).
		Str("keeper", keeper).
		Int64("mark_price", price).
		Int64("keeper_reward", toKeeper).
		Int64("bad_debt", badDebt).
		Msg("position liquidated")

	return toPool, toKeeper, badDebt, nil
}

// ApplyFunding recomputes the funding rate from current open interest.
// Rejected with ErrFundingIntervalNotElapsed when called inside the
// funding interval.
func (e *Engine) ApplyFunding(_ context.Context) (rateBps, hoursElapsed int64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	started := time.Now()
	long := e.agg.TotalLongSize()
	short := e.agg.TotalShortSize()

	rateBps, hoursElapsed, err = e.funding.Apply(e.now(), long, short)
	e.observe("apply_funding", started, err)
	if err != nil {
		return 0, 0, err
	}

	e.emit(event.EventTypeFundingApplied, event.FundingApplied{
		RateBps:   rateBps,
		LongSize:  long,
		ShortSize: short,
	})
	if e.metrics != nil {
		e.metrics.FundingApplied.Inc()
		e.metrics.FundingRateBps.Set(float64(rateBps))
	}

	e.log.Info().
		Int64("rate_bps", rateBps).
		Int64("hours_elapsed", hoursElapsed).
		Int64("long_size", long).
		Int64("short_size", short).
		Msg("funding applied")

	return rateBps, hoursElapsed, nil
}

// UpdatePoolUnrealizedPnL reports the aggregate open-position PnL to
// the pool so LP share pricing reflects the pool's live liability.
func (e *Engine) UpdatePoolUnrealizedPnL(ctx context.Context) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	price, err := e.markPrice(ctx)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, id := range e.ledger.AllIDs() {
		p, ok := e.ledger.Get(id)
		if !ok {
			continue
		}
		pnl, err := margin.PnL(p.Direction, p.Size, p.EntryPrice, price)
		if err != nil {
			return 0, err
		}
		total, err = fixedpoint.Add(total, pnl)
		if err != nil {
			return 0, err
		}
	}

	if err := e.pool.UpdateUnrealizedPnL(e.account, total); err != nil {
		return 0, err
	}
	if e.metrics != nil {
		e.metrics.PoolAUM.Set(float64(e.pool.AUM()))
		if sp, err := e.pool.SharePrice(); err == nil {
			e.metrics.PoolSharePrice.Set(float64(sp))
		}
	}
	return total, nil
}

// Pause halts new position opens, closes, and collateral changes.
// Liquidation stays live so risk never accumulates behind the switch.
func (e *Engine) Pause(caller string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.admin {
		return market.ErrUnauthorized
	}
	e.paused = true
	e.log.Warn().Str("caller", caller).Msg("market paused")
	return nil
}

// Unpause resumes trading.
func (e *Engine) Unpause(caller string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.admin {
		return market.ErrUnauthorized
	}
	e.paused = false
	e.log.Warn().Str("caller", caller).Msg("market unpaused")
	return nil
}

func (e *Engine) markPrice(ctx context.Context) (int64, error) {
	p, err := e.prices.PriceFor(ctx, e.symbol)
	if err != nil {
		return 0, err
	}
	if err := oracle.Validate(p, e.now(), e.cfg.MaxPriceStaleness); err != nil {
		return 0, err
	}
	return p.Value, nil
}

func (e *Engine) emit(t event.EventType, payload any) {
	if e.events == nil {
		return
	}
	e.events.Emit(event.New(t, e.symbol, e.now(), payload))
}

func (e *Engine) syncGauges() {
	if e.metrics == nil {
		return
	}
	e.metrics.OpenPositions.Set(float64(e.ledger.Count()))
	e.metrics.OpenInterestLong.Set(float64(e.agg.TotalLongSize()))
	e.metrics.OpenInterestShort.Set(float64(e.agg.TotalShortSize()))
}

func (e *Engine) observe(op string, started time.Time, err error) {
	if e.metrics == nil {
		return
	}
	e.metrics.EngineOpDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
	if err != nil {
		e.metrics.EngineOpErrors.WithLabelValues(op, err.Error()).Inc()
		return
	}
	e.metrics.EngineOps.WithLabelValues(op).Inc()
}
