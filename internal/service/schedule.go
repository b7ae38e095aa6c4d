package service

import (
	"fmt"
	"time"

	"copyfund/internal/models"
)

const (
	day = 24 * time.Hour
	// Monthly SIPs use a fixed 30-day period rather than calendar months.
	monthlyPeriod = 30 * day
)

// Period returns the fixed interval between executions of a SIP frequency.
func Period(frequency string) (time.Duration, error) {
	switch frequency {
	case models.FrequencyDaily:
		return day, nil
	case models.FrequencyWeekly:
		return 7 * day, nil
	case models.FrequencyMonthly:
		return monthlyPeriod, nil
	default:
		return 0, fmt.Errorf("%w: unknown frequency %q", ErrInvariant, frequency)
	}
}

// NextExecution is always computed from now; missed periods are not backfilled.
func NextExecution(now time.Time, frequency string) (time.Time, error) {
	p, err := Period(frequency)
	if err != nil {
		return time.Time{}, err
	}
	return now.UTC().Add(p), nil
}

// CheckScheduleInvariant validates that next_execution_at is set exactly when
// the investment is an active SIP.
func CheckScheduleInvariant(inv models.Investment) error {
	wantSchedule := inv.IsRecurring() && inv.Status == models.InvestmentStatusActive
	if inv.IsRecurring() {
		if _, err := Period(inv.FrequencyValue()); err != nil {
			return fmt.Errorf("investment %d: %w", inv.ID, err)
		}
	} else if inv.Frequency != nil && *inv.Frequency != "" {
		return fmt.Errorf("%w: investment %d is one-time with frequency %q", ErrInvariant, inv.ID, *inv.Frequency)
	}
	if wantSchedule && inv.NextExecutionAt == nil {
		return fmt.Errorf("%w: investment %d is an active SIP without a schedule", ErrInvariant, inv.ID)
	}
	if !wantSchedule && inv.NextExecutionAt != nil {
		return fmt.Errorf("%w: investment %d has a schedule while %s/%s", ErrInvariant, inv.ID, inv.Kind, inv.Status)
	}
	return nil
}
