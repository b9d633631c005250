package shared

import (
	"errors"
	"time"
)

// Period statuses reused outside accounting module.
const (
	PeriodStatusOpen            = "OPEN"
	PeriodStatusClosedPermanent = "CLOSED_PERMANENT"
)

// ErrInvalidPeriodTransition indicates status change not allowed.
var ErrInvalidPeriodTransition = errors.New("period transition invalid")

// ErrInvalidYearMonth indicates a malformed period key.
var ErrInvalidYearMonth = errors.New("period year/month invalid")

// ValidatePeriodTransition checks transitions according to policy. A permanent
// close is final.
func ValidatePeriodTransition(current, target string) error {
	if current == PeriodStatusOpen && target == PeriodStatusClosedPermanent {
		return nil
	}
	return ErrInvalidPeriodTransition
}

// PeriodBounds returns the first and last calendar day of year/month in UTC.
func PeriodBounds(year, month int) (time.Time, time.Time, error) {
	if year < 1900 || year > 9999 || month < 1 || month > 12 {
		return time.Time{}, time.Time{}, ErrInvalidYearMonth
	}
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, -1)
	return start, end, nil
}

// DateOnly truncates t to its calendar day in UTC.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
