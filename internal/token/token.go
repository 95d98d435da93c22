// Package token abstracts the settlement asset. The engine and pool
// only move balances through the Ledger interface; deployments plug in
// whatever backs the asset.
package token

import (
	"sync"

	"PerpEngine/internal/market"
)

// Ledger moves the settlement token between principals.
type Ledger interface {
	// Transfer moves amount from one holder to another. Fails with
	// ErrInvalidAmount on non-positive amounts and
	// ErrInsufficientBalance when the sender cannot cover it.
	Transfer(from, to string, amount int64) error

	// Balance returns a holder's current balance.
	Balance(holder string) int64
}

// Bank is an in-memory Ledger. Safe for concurrent use.
type Bank struct {
	mu       sync.Mutex
	balances map[string]int64
}

func NewBank() *Bank {
	return &Bank{balances: make(map[string]int64)}
}

// Mint credits a holder out of thin air. Used for wiring and tests.
func (b *Bank) Mint(holder string, amount int64) error {
	if amount <= 0 {
		return market.ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[holder] += amount
	return nil
}

func (b *Bank) Transfer(from, to string, amount int64) error {
	if amount <= 0 {
		return market.ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.balances[from] < amount {
		return market.ErrInsufficientBalance
	}
	b.balances[from] -= amount
	b.balances[to] += amount
	return nil
}

func (b *Bank) Balance(holder string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[holder]
}
