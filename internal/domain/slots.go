package domain

import (
	"errors"
	"time"
)

// SlotStepMinutes is the candidate-start granularity. Slots only ever begin on
// this grid regardless of the requested duration; a 45-minute service still
// starts on a 30-minute boundary.
const SlotStepMinutes = 30

// Slot is a candidate bookable start time with its implied end for the
// requested duration. Advisory only: the booking transaction re-derives
// conflict state at commit time.
type Slot struct {
	Start time.Time
	End   time.Time
}

// GenerateSlots walks candidate starts across a working window on the
// 30-minute grid and keeps those where every grid cell covered by the
// requested duration is clear of the busy intervals.
//
// date anchors the window's wall-clock offsets; windowStartMin/windowEndMin
// are minute offsets from midnight; busy holds blocked and booked intervals
// for that day. Candidates whose duration would run past windowEndMin are
// dropped.
//
// Checking grid cells rather than the exact requested span is a deliberate
// simplification that assumes busy intervals tend to be quantized to the
// grid; bookings misaligned to 30 minutes can make a cell look busier than
// the requested span actually is. Kept as-is because callers depend on the
// current shape of the results.
func GenerateSlots(date time.Time, windowStartMin, windowEndMin, durationMinutes int, busy []Interval) ([]Slot, error) {
	if durationMinutes <= 0 {
		return nil, errors.New("duration must be positive")
	}
	if windowStartMin < 0 || windowEndMin <= windowStartMin {
		return nil, errors.New("invalid working window")
	}

	step := time.Duration(SlotStepMinutes) * time.Minute
	duration := time.Duration(durationMinutes) * time.Minute

	var slots []Slot
	for t := windowStartMin; t < windowEndMin; t += SlotStepMinutes {
		if t+durationMinutes > windowEndMin {
			break
		}

		start := MinuteOfDay(date, t)
		clear := true
		for s := start; s.Before(start.Add(duration)); s = s.Add(step) {
			cell := Interval{Start: s, End: s.Add(step)}
			if cell.OverlapsAny(busy) {
				clear = false
				break
			}
		}
		if clear {
			slots = append(slots, Slot{Start: start, End: start.Add(duration)})
		}
	}

	return slots, nil
}
