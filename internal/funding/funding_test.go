package funding_test

import (
	"errors"
	"testing"
	"time"

	"PerpEngine/internal/fixedpoint"
	"PerpEngine/internal/funding"
	"PerpEngine/internal/market"
)

const precision = fixedpoint.Precision

func mustRate(t *testing.T, long, short, base int64) int64 {
	t.Helper()
	rate, err := funding.Rate(long, short, base)
	if err != nil {
		t.Fatalf("Rate(%d, %d, %d): %v", long, short, base, err)
	}
	return rate
}

func mustPayment(t *testing.T, size, rate int64, dir market.Direction, hours int64) int64 {
	t.Helper()
	p, err := funding.Payment(size, rate, dir, hours)
	if err != nil {
		t.Fatalf("Payment(%d, %d, %v, %d): %v", size, rate, dir, hours, err)
	}
	return p
}

func TestRate_Balanced(t *testing.T) {
	if rate := mustRate(t, 1000*precision, 1000*precision, 10); rate != 0 {
		t.Errorf("balanced market: got %d, want 0", rate)
	}
	if rate := mustRate(t, 0, 0, 10); rate != 0 {
		t.Errorf("empty market: got %d, want 0", rate)
	}
}

func TestRate_LongsDominate(t *testing.T) {
	// 2000 long vs 1000 short at 10 bps base: 50% imbalance -> +5 bps
	if rate := mustRate(t, 2000*precision, 1000*precision, 10); rate != 5 {
		t.Errorf("got %d, want 5", rate)
	}
}

func TestRate_ShortsDominate(t *testing.T) {
	if rate := mustRate(t, 1000*precision, 2000*precision, 10); rate != -5 {
		t.Errorf("got %d, want -5", rate)
	}
}

func TestRate_OneSided(t *testing.T) {
	// All longs: full imbalance -> full base rate.
	if rate := mustRate(t, 1000*precision, 0, 10); rate != 10 {
		t.Errorf("all longs: got %d, want 10", rate)
	}
	if rate := mustRate(t, 0, 1000*precision, 10); rate != -10 {
		t.Errorf("all shorts: got %d, want -10", rate)
	}
}

func TestRate_WideMarket(t *testing.T) {
	// A one-sided gap past ~92.2M units used to wrap the imbalance
	// product. The intermediate now runs through 128-bit division.
	size := int64(200_000_000) * precision
	if rate := mustRate(t, size, 0, 10); rate != 10 {
		t.Errorf("one-sided $200M market: got %d, want 10", rate)
	}
	if rate := mustRate(t, size, size/2, 10); rate != 5 {
		t.Errorf("half-balanced $200M market: got %d, want 5", rate)
	}
}

func TestPayment_Signs(t *testing.T) {
	size := int64(1000) * precision

	// Positive rate: longs pay, shorts receive.
	if p := mustPayment(t, size, 10, market.Long, 1); p != precision {
		t.Errorf("long, +rate: got %d, want %d", p, precision)
	}
	if p := mustPayment(t, size, 10, market.Short, 1); p != -precision {
		t.Errorf("short, +rate: got %d, want %d", p, -precision)
	}

	// Negative rate: shorts pay, longs receive.
	if p := mustPayment(t, size, -10, market.Long, 1); p != -precision {
		t.Errorf("long, -rate: got %d, want %d", p, -precision)
	}
	if p := mustPayment(t, size, -10, market.Short, 1); p != precision {
		t.Errorf("short, -rate: got %d, want %d", p, precision)
	}
}

func TestPayment_ZeroHoursOrRate(t *testing.T) {
	size := int64(1000) * precision

	if p := mustPayment(t, size, 10, market.Long, 0); p != 0 {
		t.Errorf("zero hours: got %d, want 0", p)
	}
	if p := mustPayment(t, size, 0, market.Long, 5); p != 0 {
		t.Errorf("zero rate: got %d, want 0", p)
	}
}

func TestPayment_ScalesWithHours(t *testing.T) {
	size := int64(1000) * precision
	if p := mustPayment(t, size, 10, market.Long, 3); p != 3*precision {
		t.Errorf("3 hours: got %d, want %d", p, 3*precision)
	}
}

func TestPayment_WidePosition(t *testing.T) {
	// size * rate * hours exceeds int64; must compute, not wrap.
	size := int64(500_000_000) * precision
	want := size / 1000 // 10 bps for one hour
	if p := mustPayment(t, size, 10, market.Long, 1); p != want {
		t.Errorf("got %d, want %d", p, want)
	}

	// rate * hours itself overflowing is rejected, not wrapped.
	if _, err := funding.Payment(size, 1<<40, market.Long, 1<<40); !errors.Is(err, fixedpoint.ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestController_IntervalGate(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := funding.NewController(10, time.Hour, start)

	_, _, err := c.Apply(start.Add(30*time.Minute), 2000*precision, 1000*precision)
	if !errors.Is(err, market.ErrFundingIntervalNotElapsed) {
		t.Fatalf("expected ErrFundingIntervalNotElapsed, got %v", err)
	}
	if c.CurrentRate() != 0 {
		t.Errorf("rejected apply must not mutate rate: got %d", c.CurrentRate())
	}

	rate, hours, err := c.Apply(start.Add(time.Hour), 2000*precision, 1000*precision)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if rate != 5 || hours != 1 {
		t.Errorf("got rate=%d hours=%d, want 5/1", rate, hours)
	}
	if c.CurrentRate() != 5 {
		t.Errorf("stored rate = %d, want 5", c.CurrentRate())
	}
}

func TestController_Accrue(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := funding.NewController(10, time.Hour, start)

	if _, _, err := c.Apply(start.Add(time.Hour), 2000*precision, 1000*precision); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	p := &market.Position{
		Size:          1000 * precision,
		Direction:     market.Long,
		LastFundingAt: start,
	}

	// Two hours at +5 bps: long pays 1000 * 5 * 2 / 10000 = 1.0
	paid, err := c.Accrue(p, start.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Accrue: %v", err)
	}
	if paid != precision {
		t.Errorf("accrued %d, want %d", paid, precision)
	}
	if p.AccumulatedFunding != precision {
		t.Errorf("AccumulatedFunding = %d, want %d", p.AccumulatedFunding, precision)
	}
	if !p.LastFundingAt.Equal(start.Add(2 * time.Hour)) {
		t.Errorf("funding clock not advanced: %v", p.LastFundingAt)
	}

	// Partial hour: nothing settles, clock stays put.
	paid, err = c.Accrue(p, start.Add(2*time.Hour+30*time.Minute))
	if err != nil {
		t.Fatalf("Accrue: %v", err)
	}
	if paid != 0 {
		t.Errorf("partial hour accrued %d, want 0", paid)
	}
	if !p.LastFundingAt.Equal(start.Add(2 * time.Hour)) {
		t.Errorf("partial hour must not advance clock: %v", p.LastFundingAt)
	}
}

func TestTimeUntilNext(t *testing.T) {
	last := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if d := funding.TimeUntilNext(last, last.Add(20*time.Minute), time.Hour); d != 40*time.Minute {
		t.Errorf("got %v, want 40m", d)
	}
	if d := funding.TimeUntilNext(last, last.Add(2*time.Hour), time.Hour); d != 0 {
		t.Errorf("got %v, want 0", d)
	}
}

func TestAnnualizedRate(t *testing.T) {
	got, err := funding.AnnualizedRate(10)
	if err != nil {
		t.Fatalf("AnnualizedRate: %v", err)
	}
	if got != 87600 {
		t.Errorf("got %d, want 87600", got)
	}
}

func TestEstimateDailyFunding(t *testing.T) {
	size := int64(1000) * precision
	got, err := funding.EstimateDailyFunding(size, -10)
	if err != nil {
		t.Fatalf("EstimateDailyFunding: %v", err)
	}
	if got != 24*precision {
		t.Errorf("got %d, want %d", got, 24*precision)
	}
}
