package domain

import (
	"fmt"
	"time"
)

type RecurrencePattern string

const (
	RecurrencePatternWeekly   RecurrencePattern = "weekly"
	RecurrencePatternBiweekly RecurrencePattern = "biweekly"
	RecurrencePatternMonthly  RecurrencePattern = "monthly"
)

func ParseRecurrencePattern(s string) (RecurrencePattern, error) {
	switch RecurrencePattern(s) {
	case RecurrencePatternWeekly, RecurrencePatternBiweekly, RecurrencePatternMonthly:
		return RecurrencePattern(s), nil
	}
	return "", fmt.Errorf("unknown recurrence pattern %q", s)
}

// StepDays is the fixed day increment between occurrences. Monthly means a
// flat 30 days, not calendar months.
func (p RecurrencePattern) StepDays() int {
	switch p {
	case RecurrencePatternWeekly:
		return 7
	case RecurrencePatternBiweekly:
		return 14
	case RecurrencePatternMonthly:
		return 30
	}
	return 0
}

// ExpandOccurrences walks forward from the seed interval in the pattern's
// fixed step and returns every candidate occurrence starting after the seed
// and strictly before until. The seed itself is not included. Each candidate
// is independently conflict-checked by the caller; this function only
// produces the series.
func ExpandOccurrences(seed Interval, pattern RecurrencePattern, until time.Time) ([]Interval, error) {
	stepDays := pattern.StepDays()
	if stepDays == 0 {
		return nil, fmt.Errorf("unknown recurrence pattern %q", pattern)
	}
	if !seed.End.After(seed.Start) {
		return nil, fmt.Errorf("seed end must be after start")
	}

	duration := seed.End.Sub(seed.Start)

	var out []Interval
	for start := seed.Start.AddDate(0, 0, stepDays); start.Before(until); start = start.AddDate(0, 0, stepDays) {
		out = append(out, Interval{Start: start, End: start.Add(duration)})
	}
	return out, nil
}
