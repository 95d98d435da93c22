package ledger

import (
	"sort"

	"PerpEngine/internal/market"
)

// Order storage mirrors position storage: primary map, per-trader
// index of pending orders, and stop-loss/take-profit attachments keyed
// by position ID.

// NextOrderID allocates the next order ID.
func (l *PositionLedger) NextOrderID() uint64 {
	l.nextOrderID++
	return l.nextOrderID
}

// InsertOrder stores an order. Only pending orders enter the trader
// index. Idempotent on ID.
func (l *PositionLedger) InsertOrder(o *market.Order) {
	if _, exists := l.orders[o.ID]; exists {
		return
	}
	l.orders[o.ID] = o
	if o.Status == market.OrderPending {
		l.ordersByTrader[o.Trader] = append(l.ordersByTrader[o.Trader], o.ID)
	}
}

// Order returns an order by ID.
func (l *PositionLedger) Order(id uint64) (*market.Order, bool) {
	o, ok := l.orders[id]
	return o, ok
}

// SetOrderStatus moves an order out of the pending index when it
// leaves the pending state. The order record itself is retained.
func (l *PositionLedger) SetOrderStatus(id uint64, status market.OrderStatus) {
	o, ok := l.orders[id]
	if !ok {
		return
	}
	o.Status = status
	if status != market.OrderPending {
		l.ordersByTrader[o.Trader] = removeID(l.ordersByTrader[o.Trader], id)
		if len(l.ordersByTrader[o.Trader]) == 0 {
			delete(l.ordersByTrader, o.Trader)
		}
	}
}

// TraderOrders returns a trader's pending orders in ID order.
func (l *PositionLedger) TraderOrders(trader string) []*market.Order {
	ids := l.ordersByTrader[trader]
	result := make([]*market.Order, 0, len(ids))
	for _, id := range ids {
		if o, ok := l.orders[id]; ok && o.IsPending() {
			result = append(result, o)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// AttachStopLoss links a stop-loss order to a position, replacing any
// previous attachment.
func (l *PositionLedger) AttachStopLoss(positionID, orderID uint64) {
	l.stopLoss[positionID] = orderID
}

// StopLossFor returns the stop-loss order attached to a position.
func (l *PositionLedger) StopLossFor(positionID uint64) (uint64, bool) {
	id, ok := l.stopLoss[positionID]
	return id, ok
}

// AttachTakeProfit links a take-profit order to a position.
func (l *PositionLedger) AttachTakeProfit(positionID, orderID uint64) {
	l.takeProfit[positionID] = orderID
}

// TakeProfitFor returns the take-profit order attached to a position.
func (l *PositionLedger) TakeProfitFor(positionID uint64) (uint64, bool) {
	id, ok := l.takeProfit[positionID]
	return id, ok
}
