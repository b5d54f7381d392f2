// Package schedule holds the calendar arithmetic behind slot availability:
// wall-clock times of day, working-hours ranges and the fixed-granularity
// slot grid derived from them. Everything here is pure and safe for
// concurrent use.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultGranularity is the slot length used when nothing else is configured.
const DefaultGranularity = 30 * time.Minute

// TimeOfDay is a wall-clock time expressed as minutes since midnight.
type TimeOfDay int

// ParseTimeOfDay parses a "HH:MM" value.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}

	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}

	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}

	return TimeOfDay(h*60 + m), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// At anchors the time of day onto a calendar date.
func (t TimeOfDay) At(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), int(t)/60, int(t)%60, 0, 0, date.Location())
}

// Range is a half-open working-hours window [Start, End).
type Range struct {
	Start TimeOfDay
	End   TimeOfDay
}

// DefaultWorkingHours applies to doctors with no configured range.
var DefaultWorkingHours = Range{Start: 9 * 60, End: 17 * 60}

// ParseRange parses a "HH:MM-HH:MM" value.
func ParseRange(s string) (Range, error) {
	from, to, ok := strings.Cut(s, "-")
	if !ok {
		return Range{}, fmt.Errorf("invalid working hours %q", s)
	}

	start, err := ParseTimeOfDay(strings.TrimSpace(from))
	if err != nil {
		return Range{}, fmt.Errorf("invalid working hours %q: %w", s, err)
	}

	end, err := ParseTimeOfDay(strings.TrimSpace(to))
	if err != nil {
		return Range{}, fmt.Errorf("invalid working hours %q: %w", s, err)
	}

	return Range{Start: start, End: end}, nil
}

// Contains reports whether t falls inside the half-open range.
func (r Range) Contains(t TimeOfDay) bool {
	return t >= r.Start && t < r.End
}

// Grid returns every candidate slot start inside r at the given step,
// ascending. A trailing partial slot is included as long as it starts
// before the end of the range. Empty when the range or step is degenerate.
func Grid(r Range, step time.Duration) []TimeOfDay {
	inc := TimeOfDay(step / time.Minute)
	if inc <= 0 || r.Start >= r.End {
		return nil
	}

	var points []TimeOfDay
	for t := r.Start; t < r.End; t += inc {
		points = append(points, t)
	}
	return points
}

// OnGrid reports whether t is one of the candidate slot starts of r.
func OnGrid(r Range, step time.Duration, t TimeOfDay) bool {
	inc := TimeOfDay(step / time.Minute)
	if inc <= 0 || !r.Contains(t) {
		return false
	}
	return (t-r.Start)%inc == 0
}

// FreeSlots returns the grid of r minus the booked times, ascending.
func FreeSlots(r Range, step time.Duration, booked []TimeOfDay) []TimeOfDay {
	taken := make(map[TimeOfDay]struct{}, len(booked))
	for _, t := range booked {
		taken[t] = struct{}{}
	}

	var free []TimeOfDay
	for _, t := range Grid(r, step) {
		if _, ok := taken[t]; !ok {
			free = append(free, t)
		}
	}
	return free
}

// ParseDate parses a "YYYY-MM-DD" calendar date in UTC.
func ParseDate(s string) (time.Time, error) {
	d, err := time.ParseInLocation(time.DateOnly, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return d, nil
}
