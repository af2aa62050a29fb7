package planner

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hochfrequenz/streak-keeper/internal/domain"
)

// Planner turns calendar days into concrete commit timestamps.
// It is safe for concurrent use.
type Planner struct {
	rng Source
}

// lockedSource serializes access to a Source; *rand.Rand is not goroutine safe
type lockedSource struct {
	mu  sync.Mutex
	src Source
}

func (l *lockedSource) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.src.IntN(n)
}

// New creates a Planner using the given random source
func New(rng Source) *Planner {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Planner{rng: &lockedSource{src: rng}}
}

// NewSeeded creates a Planner whose output is reproducible for a given seed
func NewSeeded(seed uint64) *Planner {
	return New(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
}

// Plan picks a random time for day inside the windowStart-windowEnd active hours
func (p *Planner) Plan(day time.Time, windowStart, windowEnd string) (time.Time, error) {
	w, err := ParseWindow(windowStart, windowEnd)
	if err != nil {
		return time.Time{}, err
	}
	return p.PlanWindow(day, w), nil
}

// PlanWindow is Plan for an already parsed window
func (p *Planner) PlanWindow(day time.Time, w Window) time.Time {
	return At(day, w.Pick(p.rng))
}

// PlanFixed picks one of the given "HH:MM" or "HH:MM:SS" times for day.
// Every entry is validated, not only the one picked. Seconds are kept.
func (p *Planner) PlanFixed(day time.Time, times []string) (time.Time, error) {
	if err := ValidateTimes(times); err != nil {
		return time.Time{}, err
	}
	h, m, s, _ := parseTimeOfDay(times[p.rng.IntN(len(times))])
	y, mo, d := day.Date()
	return time.Date(y, mo, d, h, m, s, 0, day.Location()), nil
}

// ValidateTimes checks that times is non-empty and every entry parses
func ValidateTimes(times []string) error {
	if len(times) == 0 {
		return errors.New("no fixed times given")
	}
	for _, raw := range times {
		if _, _, _, err := parseTimeOfDay(raw); err != nil {
			return err
		}
	}
	return nil
}

func parseTimeOfDay(raw string) (h, m, s int, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, 0, 0, fmt.Errorf("%w: %q (expected HH:MM or HH:MM:SS)", domain.ErrInvalidTimeFormat, raw)
	}
	limits := []int{23, 59, 59}
	vals := make([]int, 3)
	for i, part := range parts {
		v, convErr := strconv.Atoi(part)
		if convErr != nil || v < 0 || v > limits[i] {
			return 0, 0, 0, fmt.Errorf("%w: %q", domain.ErrInvalidTimeFormat, raw)
		}
		vals[i] = v
	}
	return vals[0], vals[1], vals[2], nil
}

// Pick returns a random element of items, or "" when empty
func (p *Planner) Pick(items []string) string {
	if len(items) == 0 {
		return ""
	}
	return items[p.rng.IntN(len(items))]
}

// RenderMessage expands {date} and {random} in a commit message template
func (p *Planner) RenderMessage(template string, day time.Time) string {
	msg := strings.ReplaceAll(template, "{date}", day.Format("Jan 2, 2006"))
	if strings.Contains(msg, "{random}") {
		msg = strings.ReplaceAll(msg, "{random}", p.randomToken(6))
	}
	return msg
}

const tokenAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

func (p *Planner) randomToken(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = tokenAlphabet[p.rng.IntN(len(tokenAlphabet))]
	}
	return string(b)
}

// SuggestedFiles lists paths that are rarely ignored and safe to touch
func SuggestedFiles() []string {
	return []string{
		"README.md",
		"CONTRIBUTING.md",
		"CHANGELOG.md",
		"docs/README.md",
		"docs/index.md",
		"docs/guide.md",
		"docs/usage.md",
		"docs/examples.md",
		"LICENSE",
		".github/PULL_REQUEST_TEMPLATE.md",
		".github/ISSUE_TEMPLATE.md",
	}
}
