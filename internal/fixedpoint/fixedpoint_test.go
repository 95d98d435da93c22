package fixedpoint_test

import (
	"math"
	"testing"

	"PerpEngine/internal/fixedpoint"
)

func TestMulDiv_TruncatesTowardZero(t *testing.T) {
	cases := []struct {
		a, b, denom int64
		want        int64
	}{
		{7, 1, 2, 3},
		{-7, 1, 2, -3}, // toward zero, not floor
		{7, -1, 2, -3},
		{-7, -1, 2, 3},
		{999, 1, 1000, 0},
		{-999, 1, 1000, 0},
	}

	for _, c := range cases {
		got, err := fixedpoint.MulDiv(c.a, c.b, c.denom)
		if err != nil {
			t.Fatalf("MulDiv(%d, %d, %d): %v", c.a, c.b, c.denom, err)
		}
		if got != c.want {
			t.Errorf("MulDiv(%d, %d, %d) = %d, want %d", c.a, c.b, c.denom, got, c.want)
		}
	}
}

func TestMulDiv_LargeIntermediate(t *testing.T) {
	// size near max position (100k * 1e7) times a price does not fit in
	// int64 but must survive via the 128-bit intermediate.
	size := int64(100_000) * fixedpoint.Precision
	price := int64(50_000) * fixedpoint.Precision

	got, err := fixedpoint.MulDiv(size, price, price)
	if err != nil {
		t.Fatalf("MulDiv: %v", err)
	}
	if got != size {
		t.Errorf("got %d, want %d", got, size)
	}
}

func TestMul_Overflow(t *testing.T) {
	if _, err := fixedpoint.Mul(math.MaxInt64, 2); err != fixedpoint.ErrOverflow {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
	if _, err := fixedpoint.Mul(math.MinInt64, 2); err != fixedpoint.ErrOverflow {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestDivisionByZero(t *testing.T) {
	if _, err := fixedpoint.MulDiv(1, 1, 0); err != fixedpoint.ErrDivisionByZero {
		t.Errorf("expected ErrDivisionByZero, got %v", err)
	}
}

func TestAddSub_Overflow(t *testing.T) {
	if _, err := fixedpoint.Add(math.MaxInt64, 1); err != fixedpoint.ErrOverflow {
		t.Errorf("Add overflow: got %v", err)
	}
	if _, err := fixedpoint.Sub(math.MinInt64, 1); err != fixedpoint.ErrOverflow {
		t.Errorf("Sub overflow: got %v", err)
	}

	got, err := fixedpoint.Add(40, 2)
	if err != nil || got != 42 {
		t.Errorf("Add(40, 2) = %d, %v", got, err)
	}
}

func TestApplyBps(t *testing.T) {
	// 0.1% of 1000.0000000
	amount := int64(1000) * fixedpoint.Precision
	got, err := fixedpoint.ApplyBps(amount, 10)
	if err != nil {
		t.Fatalf("ApplyBps: %v", err)
	}
	want := fixedpoint.Precision // 1.0000000
	if got != want {
		t.Errorf("ApplyBps = %d, want %d", got, want)
	}
}

func TestFromUnits(t *testing.T) {
	got, err := fixedpoint.FromUnits(10)
	if err != nil {
		t.Fatalf("FromUnits: %v", err)
	}
	if got != 100_000_000 {
		t.Errorf("FromUnits(10) = %d, want 100000000", got)
	}
}
