// Package ledger is the in-memory source of truth for positions and
// conditional orders. It keeps a primary map plus per-trader and global
// indexes so keeper scans do not touch the primary map's iteration
// order. Not safe for concurrent use; the engine serializes access.
package ledger

import (
	"sort"

	"PerpEngine/internal/market"
)

// PositionLedger stores open positions. IDs are allocated from a
// monotonic counter and never reused, so a retired ID can always be
// distinguished from a live one.
type PositionLedger struct {
	positions map[uint64]*market.Position
	byTrader  map[string][]uint64
	nextID    uint64

	orders         map[uint64]*market.Order
	ordersByTrader map[string][]uint64
	nextOrderID    uint64

	stopLoss   map[uint64]uint64 // position ID -> order ID
	takeProfit map[uint64]uint64
}

func NewPositionLedger() *PositionLedger {
	return &PositionLedger{
		positions:      make(map[uint64]*market.Position),
		byTrader:       make(map[string][]uint64),
		orders:         make(map[uint64]*market.Order),
		ordersByTrader: make(map[string][]uint64),
		stopLoss:       make(map[uint64]uint64),
		takeProfit:     make(map[uint64]uint64),
	}
}

// NextID allocates the next position ID.
func (l *PositionLedger) NextID() uint64 {
	l.nextID++
	return l.nextID
}

// Insert stores a position. Inserting an ID that is already present is
// a no-op, so replays cannot duplicate index entries.
func (l *PositionLedger) Insert(p *market.Position) {
	if _, exists := l.positions[p.ID]; exists {
		return
	}
	l.positions[p.ID] = p
	l.byTrader[p.Trader] = append(l.byTrader[p.Trader], p.ID)
}

// Get returns a position by ID.
func (l *PositionLedger) Get(id uint64) (*market.Position, bool) {
	p, ok := l.positions[id]
	return p, ok
}

// Remove deletes a position from the primary map and both indexes in
// one step. Removing an absent ID is a no-op.
func (l *PositionLedger) Remove(id uint64) {
	p, ok := l.positions[id]
	if !ok {
		return
	}
	delete(l.positions, id)
	l.byTrader[p.Trader] = removeID(l.byTrader[p.Trader], id)
	if len(l.byTrader[p.Trader]) == 0 {
		delete(l.byTrader, p.Trader)
	}

	delete(l.stopLoss, id)
	delete(l.takeProfit, id)
}

// TraderPositions returns the open positions owned by a trader, in ID
// order.
func (l *PositionLedger) TraderPositions(trader string) []*market.Position {
	ids := l.byTrader[trader]
	result := make([]*market.Position, 0, len(ids))
	for _, id := range ids {
		if p, ok := l.positions[id]; ok {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// AllIDs returns every open position ID in ascending order, for keeper
// iteration.
func (l *PositionLedger) AllIDs() []uint64 {
	ids := make([]uint64, 0, len(l.positions))
	for id := range l.positions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Count returns the number of open positions.
func (l *PositionLedger) Count() int {
	return len(l.positions)
}

func removeID(ids []uint64, id uint64) []uint64 {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
