package planner

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hochfrequenz/streak-keeper/internal/domain"
)

// MinutesPerDay is the length of a full active-hours window
const MinutesPerDay = 24 * 60

// Source is the random source used to pick offsets. *rand.Rand from math/rand/v2 satisfies it.
type Source interface {
	IntN(n int) int
}

// Window is a daily active-hours range in minutes since midnight.
// End <= Start means the window spans midnight; Start == End covers the full day.
type Window struct {
	Start int
	End   int
}

// ParseClock parses "HH:MM" into minutes since midnight
func ParseClock(s string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("%w: %q (expected HH:MM)", domain.ErrInvalidTimeFormat, s)
	}
	hours, err := strconv.Atoi(h)
	if err != nil || hours < 0 || hours > 23 {
		return 0, fmt.Errorf("%w: %q (hours must be 00-23)", domain.ErrInvalidTimeFormat, s)
	}
	minutes, err := strconv.Atoi(m)
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("%w: %q (minutes must be 00-59)", domain.ErrInvalidTimeFormat, s)
	}
	return hours*60 + minutes, nil
}

// ParseWindow parses both boundaries of an active-hours window
func ParseWindow(start, end string) (Window, error) {
	s, err := ParseClock(start)
	if err != nil {
		return Window{}, fmt.Errorf("window start: %w", err)
	}
	e, err := ParseClock(end)
	if err != nil {
		return Window{}, fmt.Errorf("window end: %w", err)
	}
	return Window{Start: s, End: e}, nil
}

// Length returns the number of minutes covered by the window
func (w Window) Length() int {
	if w.End > w.Start {
		return w.End - w.Start
	}
	// Wraps midnight; Start == End yields a full day.
	return (MinutesPerDay - w.Start) + w.End
}

// Overnight reports whether the window spans midnight
func (w Window) Overnight() bool {
	return w.End <= w.Start
}

// Contains reports whether minute-of-day m lies in [Start, End) modulo midnight
func (w Window) Contains(m int) bool {
	if m < 0 || m >= MinutesPerDay {
		return false
	}
	if !w.Overnight() {
		return m >= w.Start && m < w.End
	}
	if w.Start == w.End {
		return true
	}
	return m >= w.Start || m < w.End
}

// Pick draws a uniformly random minute-of-day inside the window
func (w Window) Pick(rng Source) int {
	offset := rng.IntN(w.Length())
	return (w.Start + offset) % MinutesPerDay
}

func (w Window) String() string {
	return fmt.Sprintf("%s-%s", FormatClock(w.Start), FormatClock(w.End))
}

// FormatClock renders minutes since midnight as HH:MM
func FormatClock(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// At combines the calendar date of day with a minute-of-day, seconds zeroed
func At(day time.Time, minuteOfDay int) time.Time {
	y, mo, d := day.Date()
	return time.Date(y, mo, d, minuteOfDay/60, minuteOfDay%60, 0, 0, day.Location())
}

// MinuteOfDay returns the minute-of-day of t in its own location
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}
