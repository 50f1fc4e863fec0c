package model

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the wire format of stay dates.
const DateLayout = "2006-01-02"

// NormalizeDate truncates t to midnight UTC of its calendar day in UTC.
func NormalizeDate(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate accepts YYYY-MM-DD or RFC3339 and returns the normalized day.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("date is required")
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		return NormalizeDate(t), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return NormalizeDate(t), nil
}

// Nights returns the whole days between two normalized dates.
func Nights(checkIn, checkOut time.Time) int {
	return int(NormalizeDate(checkOut).Sub(NormalizeDate(checkIn)).Hours() / 24)
}

// RangesOverlap is the half-open interval test used by the Overlap Guard:
// existing.checkIn < new.checkOut AND existing.checkOut > new.checkIn.
func RangesOverlap(existingIn, existingOut, newIn, newOut time.Time) bool {
	return existingIn.Before(newOut) && existingOut.After(newIn)
}
