package token_test

import (
	"errors"
	"testing"

	"PerpEngine/internal/market"
	"PerpEngine/internal/token"
)

func TestBank_Transfer(t *testing.T) {
	b := token.NewBank()
	if err := b.Mint("alice", 100); err != nil {
		t.Fatalf("Mint: %v", err)
	}

	if err := b.Transfer("alice", "bob", 60); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if got := b.Balance("alice"); got != 40 {
		t.Errorf("alice = %d, want 40", got)
	}
	if got := b.Balance("bob"); got != 60 {
		t.Errorf("bob = %d, want 60", got)
	}
}

func TestBank_InsufficientBalance(t *testing.T) {
	b := token.NewBank()
	b.Mint("alice", 10)

	err := b.Transfer("alice", "bob", 11)
	if !errors.Is(err, market.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
	if b.Balance("alice") != 10 || b.Balance("bob") != 0 {
		t.Error("failed transfer must not move funds")
	}
}

func TestBank_InvalidAmount(t *testing.T) {
	b := token.NewBank()
	b.Mint("alice", 10)

	if err := b.Transfer("alice", "bob", 0); !errors.Is(err, market.ErrInvalidAmount) {
		t.Errorf("zero amount: got %v", err)
	}
	if err := b.Transfer("alice", "bob", -5); !errors.Is(err, market.ErrInvalidAmount) {
		t.Errorf("negative amount: got %v", err)
	}
}
