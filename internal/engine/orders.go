package engine

import (
	"PerpEngine/internal/market"
)

// Conditional orders are recorded and managed here; triggering them is
// a keeper-side concern. A keeper watches the price feed, and when a
// trigger crosses it executes the order through the regular
// OpenPosition or ClosePosition path.

// PlaceLimitOrder records a resting order to open a position when the
// price reaches the trigger. Parameters are validated now so a keeper
// never executes an order the engine would reject.
func (e *Engine) PlaceLimitOrder(trader string, collateral, leverage int64, direction market.Direction, triggerPrice int64) (*market.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.paused {
		return nil, market.ErrPaused
	}
	if !direction.Valid() {
		return nil, market.ErrInvalidDirection
	}
	if triggerPrice <= 0 {
		return nil, market.ErrInvalidPrice
	}
	if collateral < e.cfg.MinCollateral {
		return nil, market.ErrInsufficientCollateral
	}
	if leverage < 1 || leverage > e.cfg.MaxLeverage {
		return nil, market.ErrInvalidLeverage
	}

	o := &market.Order{
		ID:           e.ledger.NextOrderID(),
		Trader:       trader,
		Symbol:       e.symbol,
		Kind:         market.LimitEntry,
		Status:       market.OrderPending,
		TriggerPrice: triggerPrice,
		Collateral:   collateral,
		Leverage:     leverage,
		Direction:    direction,
		CreatedAt:    e.now(),
	}
	e.ledger.InsertOrder(o)
	return o, nil
}

// AttachStopLoss records a stop-loss against an open position,
// replacing any existing one.
func (e *Engine) AttachStopLoss(trader string, positionID uint64, triggerPrice int64) (*market.Order, error) {
	return e.attachConditional(trader, positionID, triggerPrice, market.StopLoss)
}

// AttachTakeProfit records a take-profit against an open position,
// replacing any existing one.
func (e *Engine) AttachTakeProfit(trader string, positionID uint64, triggerPrice int64) (*market.Order, error) {
	return e.attachConditional(trader, positionID, triggerPrice, market.TakeProfit)
}

func (e *Engine) attachConditional(trader string, positionID uint64, triggerPrice int64, kind market.OrderKind) (*market.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.paused {
		return nil, market.ErrPaused
	}
	if triggerPrice <= 0 {
		return nil, market.ErrInvalidPrice
	}

	p, ok := e.ledger.Get(positionID)
	if !ok {
		return nil, market.ErrPositionNotFound
	}
	if p.Trader != trader {
		return nil, market.ErrNotPositionOwner
	}
	if !p.IsOpen() {
		return nil, market.ErrPositionNotOpen
	}

	o := &market.Order{
		ID:           e.ledger.NextOrderID(),
		Trader:       trader,
		Symbol:       e.symbol,
		Kind:         kind,
		Status:       market.OrderPending,
		TriggerPrice: triggerPrice,
		Direction:    p.Direction,
		PositionID:   positionID,
		CreatedAt:    e.now(),
	}
	e.ledger.InsertOrder(o)

	switch kind {
	case market.StopLoss:
		e.ledger.AttachStopLoss(positionID, o.ID)
	case market.TakeProfit:
		e.ledger.AttachTakeProfit(positionID, o.ID)
	}
	return o, nil
}

// CancelOrder cancels a pending order. The record is retained with
// Cancelled status.
func (e *Engine) CancelOrder(trader string, orderID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.ledger.Order(orderID)
	if !ok {
		return market.ErrOrderNotFound
	}
	if o.Trader != trader {
		return market.ErrNotOrderOwner
	}
	if !o.IsPending() {
		return market.ErrOrderNotOpen
	}

	e.ledger.SetOrderStatus(orderID, market.OrderCancelled)
	return nil
}

// Order returns a copy of an order by ID.
func (e *Engine) Order(id uint64) (market.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.ledger.Order(id)
	if !ok {
		return market.Order{}, market.ErrOrderNotFound
	}
	return *o, nil
}

// TraderOrders returns copies of a trader's pending orders, ordered by
// ID.
func (e *Engine) TraderOrders(trader string) []market.Order {
	e.mu.Lock()
	defer e.mu.Unlock()

	live := e.ledger.TraderOrders(trader)
	out := make([]market.Order, 0, len(live))
	for _, o := range live {
		out = append(out, *o)
	}
	return out
}
