package planner

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Frequency selects which days in a range receive a commit
type Frequency string

const (
	FrequencyDaily    Frequency = "daily"
	FrequencyWeekdays Frequency = "weekdays"
	FrequencyWeekends Frequency = "weekends"
	FrequencyCustom   Frequency = "custom"
)

// ParseFrequency validates a frequency name; empty means daily
func ParseFrequency(s string) (Frequency, error) {
	switch f := Frequency(s); f {
	case "":
		return FrequencyDaily, nil
	case FrequencyDaily, FrequencyWeekdays, FrequencyWeekends, FrequencyCustom:
		return f, nil
	}
	return "", fmt.Errorf("invalid frequency %q (expected daily, weekdays, weekends or custom)", s)
}

// ParseWeekday accepts "mon", "monday" or 0-6 (Sunday = 0)
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil && n >= 0 && n <= 6 {
		return time.Weekday(n), nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || (len(s) == 3 && s == name[:3]) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("invalid weekday %q", s)
}

// DatesBetween returns every calendar day from..to (inclusive) matching freq.
// customDays holds weekdays for FrequencyCustom.
func DatesBetween(from, to time.Time, freq Frequency, customDays []time.Weekday) []time.Time {
	start := At(from, 0)
	end := At(to, 0)

	var dates []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		wd := d.Weekday()
		include := false
		switch freq {
		case FrequencyWeekdays:
			include = wd >= time.Monday && wd <= time.Friday
		case FrequencyWeekends:
			include = wd == time.Saturday || wd == time.Sunday
		case FrequencyCustom:
			include = slices.Contains(customDays, wd)
		default:
			include = true
		}
		if include {
			dates = append(dates, d)
		}
	}
	return dates
}

// BatchRequest describes a set of backfill commits to plan
type BatchRequest struct {
	Repository    string
	RepositoryURL string

	// Days to backfill. When empty, From/To/Frequency generate them.
	Days       []time.Time
	From       time.Time
	To         time.Time
	Frequency  Frequency
	CustomDays []time.Weekday

	// Times, when set, takes precedence over the window.
	WindowStart string
	WindowEnd   string
	Times       []string

	MessageTemplates []string
	Files            []string
}

// Draft is a planned but not yet persisted commit
type Draft struct {
	Repository    string
	RepositoryURL string
	FilePath      string
	CommitMessage string
	Day           time.Time
	ScheduledAt   time.Time
}

// PlanBatch plans one draft per selected day
func (p *Planner) PlanBatch(req BatchRequest) ([]Draft, error) {
	if req.Repository == "" || req.RepositoryURL == "" {
		return nil, errors.New("repository and repository URL are required")
	}
	if len(req.MessageTemplates) == 0 {
		return nil, errors.New("at least one commit message template is required")
	}
	if len(req.Files) == 0 {
		return nil, errors.New("at least one file path is required")
	}

	days := req.Days
	if len(days) == 0 {
		if req.From.IsZero() || req.To.IsZero() {
			return nil, errors.New("either days or a from/to range is required")
		}
		if req.To.Before(req.From) {
			return nil, fmt.Errorf("range end %s is before start %s", req.To.Format(time.DateOnly), req.From.Format(time.DateOnly))
		}
		days = DatesBetween(req.From, req.To, req.Frequency, req.CustomDays)
	}
	if len(days) == 0 {
		return nil, errors.New("no valid dates found for the given criteria")
	}

	if len(req.Times) > 0 {
		if err := ValidateTimes(req.Times); err != nil {
			return nil, err
		}
	}

	var window *Window
	if len(req.Times) == 0 && (req.WindowStart != "" || req.WindowEnd != "") {
		w, err := ParseWindow(req.WindowStart, req.WindowEnd)
		if err != nil {
			return nil, err
		}
		window = &w
	}

	drafts := make([]Draft, 0, len(days))
	for _, day := range days {
		var scheduledAt time.Time
		switch {
		case len(req.Times) > 0:
			t, err := p.PlanFixed(day, req.Times)
			if err != nil {
				return nil, err
			}
			scheduledAt = t
		case window != nil:
			scheduledAt = p.PlanWindow(day, *window)
		default:
			scheduledAt = At(day, 12*60)
		}

		drafts = append(drafts, Draft{
			Repository:    req.Repository,
			RepositoryURL: req.RepositoryURL,
			FilePath:      p.Pick(req.Files),
			CommitMessage: p.RenderMessage(p.Pick(req.MessageTemplates), day),
			Day:           At(day, 0),
			ScheduledAt:   scheduledAt,
		})
	}
	return drafts, nil
}
