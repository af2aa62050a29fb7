package planner

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hochfrequenz/streak-keeper/internal/domain"
)

// fixedSource always returns the same offset, clamped to n-1
type fixedSource struct{ v int }

func (f fixedSource) IntN(n int) int {
	if f.v >= n {
		return n - 1
	}
	return f.v
}

var testDay = time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC)

func TestParseClock(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{"00:00", 0, false},
		{"09:00", 540, false},
		{"23:59", 1439, false},
		{"9:05", 545, false},
		{"24:00", 0, true},
		{"12:60", 0, true},
		{"noon", 0, true},
		{"12", 0, true},
		{"ab:cd", 0, true},
		{"09:00:00", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseClock(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseClock(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, domain.ErrInvalidTimeFormat) {
					t.Errorf("error %v should match ErrInvalidTimeFormat", err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("ParseClock(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestWindow_Length(t *testing.T) {
	tests := []struct {
		start, end string
		want       int
	}{
		{"09:00", "17:00", 480},
		{"22:00", "02:00", 240},
		{"00:00", "23:59", 1439},
		{"10:00", "10:00", MinutesPerDay},
	}
	for _, tt := range tests {
		w, err := ParseWindow(tt.start, tt.end)
		if err != nil {
			t.Fatal(err)
		}
		if got := w.Length(); got != tt.want {
			t.Errorf("Window(%s-%s).Length() = %d, want %d", tt.start, tt.end, got, tt.want)
		}
	}
}

func TestPlan_DaytimeWindow(t *testing.T) {
	p := NewSeeded(42)
	w, _ := ParseWindow("09:00", "17:00")

	for i := 0; i < 2000; i++ {
		got, err := p.Plan(testDay, "09:00", "17:00")
		if err != nil {
			t.Fatal(err)
		}
		m := MinuteOfDay(got)
		if m < 9*60 || m >= 17*60 {
			t.Fatalf("planned %s outside [09:00, 17:00)", got.Format("15:04"))
		}
		if !w.Contains(m) {
			t.Fatalf("window should contain %s", got.Format("15:04"))
		}
		if got.Second() != 0 || got.Nanosecond() != 0 {
			t.Fatalf("seconds not zeroed: %s", got)
		}
		if y, mo, d := got.Date(); y != 2026 || mo != time.February || d != 14 {
			t.Fatalf("planned time left the calendar day: %s", got)
		}
	}
}

func TestPlan_OvernightWindow(t *testing.T) {
	p := NewSeeded(7)
	for i := 0; i < 2000; i++ {
		got, err := p.Plan(testDay, "22:00", "02:00")
		if err != nil {
			t.Fatal(err)
		}
		m := MinuteOfDay(got)
		if !(m >= 22*60 || m < 2*60) {
			t.Fatalf("planned %s outside [22:00, 24:00) ∪ [00:00, 02:00)", got.Format("15:04"))
		}
		if got.Day() != 14 {
			t.Fatalf("planned time left the calendar day: %s", got)
		}
	}
}

func TestWindow_ContainsOvernight(t *testing.T) {
	w, _ := ParseWindow("22:00", "02:00")
	if !w.Contains(90) {
		t.Error("01:30 should be inside 22:00-02:00")
	}
	if w.Contains(600) {
		t.Error("10:00 should be outside 22:00-02:00")
	}
	if w.Contains(120) {
		t.Error("02:00 is the exclusive end")
	}
	if !w.Contains(22 * 60) {
		t.Error("22:00 is the inclusive start")
	}
}

func TestPlan_Deterministic(t *testing.T) {
	a := NewSeeded(99)
	b := NewSeeded(99)
	for i := 0; i < 50; i++ {
		ta, _ := a.Plan(testDay, "08:30", "20:15")
		tb, _ := b.Plan(testDay, "08:30", "20:15")
		if !ta.Equal(tb) {
			t.Fatalf("iteration %d: %s != %s", i, ta, tb)
		}
	}
}

func TestPlan_FixedSourceBoundaries(t *testing.T) {
	got, _ := New(fixedSource{v: 0}).Plan(testDay, "22:00", "02:00")
	if got.Format("15:04") != "22:00" {
		t.Errorf("offset 0 = %s, want 22:00", got.Format("15:04"))
	}

	got, _ = New(fixedSource{v: 1 << 30}).Plan(testDay, "22:00", "02:00")
	if got.Format("15:04") != "01:59" {
		t.Errorf("last offset = %s, want 01:59", got.Format("15:04"))
	}

	// Full-day policy for equal boundaries
	got, _ = New(fixedSource{v: 1 << 30}).Plan(testDay, "06:00", "06:00")
	if got.Format("15:04") != "05:59" {
		t.Errorf("equal boundaries last offset = %s, want 05:59", got.Format("15:04"))
	}
}

func TestPlan_InvalidFormat(t *testing.T) {
	_, err := NewSeeded(1).Plan(testDay, "9am", "17:00")
	if !errors.Is(err, domain.ErrInvalidTimeFormat) {
		t.Errorf("error = %v, want ErrInvalidTimeFormat", err)
	}
}

func TestPlan_KeepsLocation(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	day := time.Date(2026, 2, 14, 0, 0, 0, 0, loc)
	got, _ := NewSeeded(3).Plan(day, "09:00", "10:00")
	if got.Location() != loc {
		t.Errorf("location = %v, want IST", got.Location())
	}
}

func TestPlanFixed(t *testing.T) {
	got, err := New(fixedSource{v: 1}).PlanFixed(testDay, []string{"08:00", "13:45:30"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Format("15:04:05") != "13:45:30" {
		t.Errorf("PlanFixed = %s, want 13:45:30", got.Format("15:04:05"))
	}

	if _, err := New(fixedSource{}).PlanFixed(testDay, []string{"25:00"}); !errors.Is(err, domain.ErrInvalidTimeFormat) {
		t.Errorf("error = %v, want ErrInvalidTimeFormat", err)
	}
}

func TestPlanFixed_RejectsAnyBadEntry(t *testing.T) {
	// The valid entry is the one picked; the bad one must still fail
	_, err := New(fixedSource{v: 0}).PlanFixed(testDay, []string{"10:00", "bogus"})
	if !errors.Is(err, domain.ErrInvalidTimeFormat) {
		t.Errorf("error = %v, want ErrInvalidTimeFormat", err)
	}
	if err := ValidateTimes(nil); err == nil {
		t.Error("expected error for empty times")
	}
}

func TestPlanner_ConcurrentUse(t *testing.T) {
	p := NewSeeded(5)
	req := BatchRequest{
		Repository:       "o/r",
		RepositoryURL:    "https://github.com/o/r",
		From:             testDay,
		To:               testDay.AddDate(0, 0, 13),
		WindowStart:      "09:00",
		WindowEnd:        "17:00",
		MessageTemplates: []string{"Update {date} {random}"},
		Files:            []string{"README.md", "NOTES.md"},
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				drafts, err := p.PlanBatch(req)
				if err != nil {
					errs <- err
					return
				}
				for _, d := range drafts {
					if h := d.ScheduledAt.Hour(); h < 9 || h >= 17 {
						errs <- fmt.Errorf("scheduled at %s, outside 09:00-17:00", d.ScheduledAt)
						return
					}
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestRenderMessage(t *testing.T) {
	p := New(fixedSource{v: 10})
	got := p.RenderMessage("docs: notes for {date} ({random})", testDay)
	if got != "docs: notes for Feb 14, 2026 (aaaaaa)" {
		t.Errorf("RenderMessage = %q", got)
	}
	if got := p.RenderMessage("plain", testDay); got != "plain" {
		t.Errorf("RenderMessage(plain) = %q", got)
	}
}

func TestDatesBetween(t *testing.T) {
	// 2026-03-02 is a Monday
	from := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 8, 1, 0, 0, 0, time.UTC)

	tests := []struct {
		freq   Frequency
		custom []time.Weekday
		want   int
	}{
		{FrequencyDaily, nil, 7},
		{FrequencyWeekdays, nil, 5},
		{FrequencyWeekends, nil, 2},
		{FrequencyCustom, []time.Weekday{time.Wednesday, time.Sunday}, 2},
		{FrequencyCustom, nil, 0},
	}
	for _, tt := range tests {
		got := DatesBetween(from, to, tt.freq, tt.custom)
		if len(got) != tt.want {
			t.Errorf("DatesBetween(%s, %v) = %d days, want %d", tt.freq, tt.custom, len(got), tt.want)
		}
		for _, d := range got {
			if d.Hour() != 0 || d.Minute() != 0 {
				t.Errorf("day %s not normalized to midnight", d)
			}
		}
	}
}

func TestParseWeekday(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Weekday
		wantErr bool
	}{
		{"mon", time.Monday, false},
		{"Saturday", time.Saturday, false},
		{"0", time.Sunday, false},
		{"7", 0, true},
		{"mo", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseWeekday(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseWeekday(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("ParseWeekday(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}
}

func TestPlanBatch(t *testing.T) {
	p := NewSeeded(5)
	drafts, err := p.PlanBatch(BatchRequest{
		Repository:       "octocat/notes",
		RepositoryURL:    "https://github.com/octocat/notes.git",
		From:             time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		To:               time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC),
		Frequency:        FrequencyWeekdays,
		WindowStart:      "09:00",
		WindowEnd:        "17:00",
		MessageTemplates: []string{"Update {date}"},
		Files:            []string{"README.md", "docs/log.md"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(drafts) != 5 {
		t.Fatalf("drafts = %d, want 5", len(drafts))
	}
	for _, d := range drafts {
		if !strings.HasPrefix(d.CommitMessage, "Update Mar ") {
			t.Errorf("message = %q", d.CommitMessage)
		}
		if d.FilePath != "README.md" && d.FilePath != "docs/log.md" {
			t.Errorf("file = %q", d.FilePath)
		}
		if !d.ScheduledAt.Truncate(24 * time.Hour).Equal(d.Day) {
			t.Errorf("scheduled %s not on day %s", d.ScheduledAt, d.Day)
		}
	}
}

func TestPlanBatch_NoonFallback(t *testing.T) {
	drafts, err := NewSeeded(1).PlanBatch(BatchRequest{
		Repository:       "o/r",
		RepositoryURL:    "https://github.com/o/r",
		Days:             []time.Time{testDay},
		MessageTemplates: []string{"m"},
		Files:            []string{"f"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := drafts[0].ScheduledAt.Format("15:04"); got != "12:00" {
		t.Errorf("fallback time = %s, want 12:00", got)
	}
}

func TestPlanBatch_Validation(t *testing.T) {
	base := BatchRequest{
		Repository:       "o/r",
		RepositoryURL:    "https://github.com/o/r",
		Days:             []time.Time{testDay},
		MessageTemplates: []string{"m"},
		Files:            []string{"f"},
	}

	noFiles := base
	noFiles.Files = nil
	if _, err := NewSeeded(1).PlanBatch(noFiles); err == nil {
		t.Error("expected error without files")
	}

	badTimes := base
	badTimes.Times = []string{"10:00", "10:61"}
	if _, err := NewSeeded(1).PlanBatch(badTimes); !errors.Is(err, domain.ErrInvalidTimeFormat) {
		t.Errorf("error = %v, want ErrInvalidTimeFormat", err)
	}

	badWindow := base
	badWindow.WindowStart, badWindow.WindowEnd = "9", "17:00"
	if _, err := NewSeeded(1).PlanBatch(badWindow); !errors.Is(err, domain.ErrInvalidTimeFormat) {
		t.Errorf("error = %v, want ErrInvalidTimeFormat", err)
	}

	inverted := base
	inverted.Days = nil
	inverted.From, inverted.To = testDay, testDay.AddDate(0, 0, -1)
	if _, err := NewSeeded(1).PlanBatch(inverted); err == nil {
		t.Error("expected error for inverted range")
	}
}
