package domain

import (
	"errors"
	"time"
)

// Interval is a half-open time span [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether two half-open intervals intersect:
// [a,b) overlaps [c,d) iff a < d && c < b. An interval ending exactly where
// another begins does not overlap it.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// OverlapsAny reports whether the interval intersects any member of busy.
func (iv Interval) OverlapsAny(busy []Interval) bool {
	for _, b := range busy {
		if iv.Overlaps(b) {
			return true
		}
	}
	return false
}

var errInvalidClock = errors.New("invalid wall-clock time")

// ParseClockMinutes converts an "HH:MM" wall-clock string to the minute
// offset from midnight.
func ParseClockMinutes(clock string) (int, error) {
	if len(clock) != 5 || clock[2] != ':' {
		return 0, errInvalidClock
	}
	h, ok := parseTwoDigits(clock[0], clock[1])
	if !ok || h > 23 {
		return 0, errInvalidClock
	}
	m, ok := parseTwoDigits(clock[3], clock[4])
	if !ok || m > 59 {
		return 0, errInvalidClock
	}
	return h*60 + m, nil
}

func parseTwoDigits(hi, lo byte) (int, bool) {
	if hi < '0' || hi > '9' || lo < '0' || lo > '9' {
		return 0, false
	}
	return int(hi-'0')*10 + int(lo-'0'), true
}

// DayStart truncates t to midnight in its own location.
func DayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// MinuteOfDay places a minute offset from midnight onto a concrete date,
// keeping the date's location.
func MinuteOfDay(date time.Time, minutes int) time.Time {
	return DayStart(date).Add(time.Duration(minutes) * time.Minute)
}
