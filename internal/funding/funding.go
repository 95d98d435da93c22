// Package funding implements the open-interest funding mechanism.
// The rate leans against the dominant side: positive means longs pay
// shorts, negative means shorts pay longs.
package funding

import (
	"time"

	"PerpEngine/internal/fixedpoint"
	"PerpEngine/internal/market"
)

// Rate computes the funding rate in basis points per hour from the
// long/short imbalance.
//
//	imbalance = (dominant - minority) / dominant
//	rate      = base_rate * imbalance
//
// A balanced or empty market yields zero. The intermediate products run
// through 128-bit division so a lopsided market rejects instead of
// wrapping.
func Rate(totalLongSize, totalShortSize, baseRateBps int64) (int64, error) {
	if totalLongSize == totalShortSize {
		return 0, nil
	}

	if totalLongSize > totalShortSize {
		if totalLongSize == 0 {
			return 0, nil
		}
		imbalance, err := fixedpoint.MulDiv(totalLongSize-totalShortSize, fixedpoint.BasisPoints, totalLongSize)
		if err != nil {
			return 0, err
		}
		return fixedpoint.MulDiv(baseRateBps, imbalance, fixedpoint.BasisPoints)
	}

	if totalShortSize == 0 {
		return 0, nil
	}
	imbalance, err := fixedpoint.MulDiv(totalShortSize-totalLongSize, fixedpoint.BasisPoints, totalShortSize)
	if err != nil {
		return 0, err
	}
	rate, err := fixedpoint.MulDiv(baseRateBps, imbalance, fixedpoint.BasisPoints)
	if err != nil {
		return 0, err
	}
	return -rate, nil
}

// Payment computes the funding payment for a position over a number of
// elapsed hours. Positive = the position pays, negative = it receives.
// Exactly zero when no hours elapsed or the rate is zero.
func Payment(size, rateBps int64, direction market.Direction, hoursElapsed int64) (int64, error) {
	if hoursElapsed == 0 || rateBps == 0 {
		return 0, nil
	}

	abs := rateBps
	if abs < 0 {
		abs = -abs
	}
	rateHours, err := fixedpoint.Mul(abs, hoursElapsed)
	if err != nil {
		return 0, err
	}
	base, err := fixedpoint.MulDiv(size, rateHours, fixedpoint.BasisPoints)
	if err != nil {
		return 0, err
	}

	// Longs pay when the rate is positive; shorts mirror.
	pays := (direction == market.Long) == (rateBps > 0)
	if pays {
		return base, nil
	}
	return -base, nil
}

// AnnualizedRate scales an hourly rate to a yearly figure for display.
func AnnualizedRate(hourlyRateBps int64) (int64, error) {
	return fixedpoint.Mul(hourlyRateBps, 8760)
}

// EstimateDailyFunding returns the absolute funding cost for a position
// over 24 hours at the given hourly rate.
func EstimateDailyFunding(size, hourlyRateBps int64) (int64, error) {
	abs := hourlyRateBps
	if abs < 0 {
		abs = -abs
	}
	rateDay, err := fixedpoint.Mul(abs, 24)
	if err != nil {
		return 0, err
	}
	return fixedpoint.MulDiv(size, rateDay, fixedpoint.BasisPoints)
}

// TimeUntilNext returns how long until the next global funding
// application is allowed. Zero means it can be applied now.
func TimeUntilNext(lastApplied, now time.Time, interval time.Duration) time.Duration {
	elapsed := now.Sub(lastApplied)
	if elapsed >= interval {
		return 0
	}
	return interval - elapsed
}

// Controller owns the stored funding state of a market: the current
// rate and the time it was last recomputed. It is not safe for
// concurrent use; the engine serializes access.
type Controller struct {
	baseRateBps int64
	interval    time.Duration

	currentRateBps int64
	lastApplied    time.Time
}

func NewController(baseRateBps int64, interval time.Duration, start time.Time) *Controller {
	return &Controller{
		baseRateBps: baseRateBps,
		interval:    interval,
		lastApplied: start,
	}
}

// CurrentRate returns the stored rate in basis points per hour.
func (c *Controller) CurrentRate() int64 {
	return c.currentRateBps
}

// LastApplied returns the time of the last global application.
func (c *Controller) LastApplied() time.Time {
	return c.lastApplied
}

// Quote computes the rate the market would store if funding were
// applied now, without mutating state.
func (c *Controller) Quote(totalLongSize, totalShortSize int64) (int64, error) {
	return Rate(totalLongSize, totalShortSize, c.baseRateBps)
}

// Apply recomputes and stores the funding rate. Calls earlier than one
// interval since the previous application fail with
// ErrFundingIntervalNotElapsed; the stored state is untouched on any
// error.
func (c *Controller) Apply(now time.Time, totalLongSize, totalShortSize int64) (rateBps int64, hoursElapsed int64, err error) {
	if now.Before(c.lastApplied.Add(c.interval)) {
		return 0, 0, market.ErrFundingIntervalNotElapsed
	}

	hoursElapsed = int64(now.Sub(c.lastApplied) / time.Hour)
	rateBps, err = Rate(totalLongSize, totalShortSize, c.baseRateBps)
	if err != nil {
		return 0, 0, err
	}

	c.currentRateBps = rateBps
	c.lastApplied = now

	return rateBps, hoursElapsed, nil
}

// Accrue settles pending funding into a position using the stored
// current rate and the position's own funding clock. Whole hours only;
// a partial hour leaves the position untouched so the residue accrues
// on the next settlement. Returns the payment added; on error the
// position is untouched.
func (c *Controller) Accrue(p *market.Position, now time.Time) (int64, error) {
	hours := int64(now.Sub(p.LastFundingAt) / time.Hour)
	if hours <= 0 {
		return 0, nil
	}

	payment, err := Payment(p.Size, c.currentRateBps, p.Direction, hours)
	if err != nil {
		return 0, err
	}
	accumulated, err := fixedpoint.Add(p.AccumulatedFunding, payment)
	if err != nil {
		return 0, err
	}

	p.AccumulatedFunding = accumulated
	p.LastFundingAt = now
	return payment, nil
}
