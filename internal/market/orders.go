package market

import "time"

// OrderKind discriminates conditional order types. Orders are stored
// and managed but have no trigger engine; execution is a keeper-side
// concern layered on top of the price feed.
type OrderKind int32

const (
	// LimitEntry opens a position when the price crosses TriggerPrice.
	LimitEntry OrderKind = iota
	// StopLoss closes an attached position on adverse price movement.
	StopLoss
	// TakeProfit closes an attached position on favorable movement.
	TakeProfit
)

func (k OrderKind) String() string {
	switch k {
	case LimitEntry:
		return "limit_entry"
	case StopLoss:
		return "stop_loss"
	case TakeProfit:
		return "take_profit"
	default:
		return "unknown"
	}
}

// OrderStatus tracks the order lifecycle.
type OrderStatus int32

const (
	OrderPending OrderStatus = iota
	OrderExecuted
	OrderCancelled
)

func (s OrderStatus) String() string {
	switch s {
	case OrderPending:
		return "pending"
	case OrderExecuted:
		return "executed"
	case OrderCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Order is a conditional order. For LimitEntry orders the Collateral,
// Leverage and Direction fields describe the position to open; for
// StopLoss and TakeProfit they are zero and PositionID names the
// position to close.
type Order struct {
	ID           uint64
	Trader       string
	Symbol       string
	Kind         OrderKind
	Status       OrderStatus
	TriggerPrice int64
	Collateral   int64
	Leverage     int64
	Direction    Direction
	PositionID   uint64
	CreatedAt    time.Time
}

// IsPending reports whether the order is still live.
func (o *Order) IsPending() bool {
	return o.Status == OrderPending
}
