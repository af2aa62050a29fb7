package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/streak-keeper/internal/backfill"
	"github.com/hochfrequenz/streak-keeper/internal/domain"
	"github.com/hochfrequenz/streak-keeper/internal/planner"
)

// commitView is the machine-readable form of a record
type commitView struct {
	ID            string     `json:"id" yaml:"id"`
	BatchID       string     `json:"batch_id,omitempty" yaml:"batch_id,omitempty"`
	Repository    string     `json:"repository" yaml:"repository"`
	RepositoryURL string     `json:"repository_url" yaml:"repository_url"`
	FilePath      string     `json:"file_path" yaml:"file_path"`
	CommitMessage string     `json:"commit_message" yaml:"commit_message"`
	ScheduledAt   time.Time  `json:"scheduled_at" yaml:"scheduled_at"`
	Status        string     `json:"status" yaml:"status"`
	ErrorMessage  string     `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	FailureKind   string     `json:"failure_kind,omitempty" yaml:"failure_kind,omitempty"`
	HashID        string     `json:"hash_id,omitempty" yaml:"hash_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at" yaml:"created_at"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty" yaml:"processed_at,omitempty"`
}

func toView(c *domain.CommitRecord) commitView {
	return commitView{
		ID:            c.ID,
		BatchID:       c.BatchID,
		Repository:    c.Repository,
		RepositoryURL: c.RepositoryURL,
		FilePath:      c.FilePath,
		CommitMessage: c.CommitMessage,
		ScheduledAt:   c.ScheduledAt,
		Status:        string(c.Status),
		ErrorMessage:  c.ErrorMessage,
		FailureKind:   string(c.FailureKind),
		HashID:        c.HashID,
		CreatedAt:     c.CreatedAt,
		ProcessedAt:   c.ProcessedAt,
	}
}

func renderValue(w io.Writer, format string, v interface{}) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	}
	return fmt.Errorf("invalid output format %q (expected table, json or yaml)", format)
}

func renderCommits(w io.Writer, format string, recs []*domain.CommitRecord) error {
	if format != "table" {
		views := make([]commitView, 0, len(recs))
		for _, r := range recs {
			views = append(views, toView(r))
		}
		return renderValue(w, format, views)
	}

	if len(recs) == 0 {
		fmt.Fprintln(w, "No commits found")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tREPOSITORY\tSCHEDULED\tSTATUS\tMESSAGE\tDETAIL")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s (%s)\t%s\t%s\t%s\n",
			shortID(r.ID),
			r.Repository,
			r.ScheduledAt.Format("2006-01-02 15:04"),
			humanize.Time(r.ScheduledAt),
			statusLabel(r),
			truncate(r.CommitMessage, 40),
			detail(r),
		)
	}
	return tw.Flush()
}

func renderDrafts(w io.Writer, drafts []planner.Draft) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DAY\tSCHEDULED\tFILE\tMESSAGE")
	for _, d := range drafts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			d.Day.Format("Mon 2006-01-02"),
			d.ScheduledAt.Format("15:04:05"),
			d.FilePath,
			truncate(d.CommitMessage, 50),
		)
	}
	fmt.Fprintf(tw, "\n%s commits for %s\n", humanize.Comma(int64(len(drafts))), repoOf(drafts))
	return tw.Flush()
}

func renderSummary(w io.Writer, sum *backfill.Summary) error {
	pending := sum.Counts[domain.StatusPending]
	completed := sum.Counts[domain.StatusCompleted]
	failed := sum.Counts[domain.StatusFailed]
	total := pending + completed + failed

	fmt.Fprintf(w, "Commits: %s total\n", humanize.Comma(int64(total)))
	fmt.Fprintf(w, "  Pending:   %d\n", pending)
	fmt.Fprintf(w, "  Completed: %d\n", completed)
	fmt.Fprintf(w, "  Failed:    %d\n", failed)

	if st := sum.Dispatcher; st != nil {
		fmt.Fprintf(w, "\nDispatcher: %d queued, %d running, %d/%d slots free\n", st.Queued, st.InFlight, st.Available, st.Capacity)
		if !st.NextDue.IsZero() {
			fmt.Fprintf(w, "  Next due %s\n", humanize.Time(st.NextDue))
		}
	}

	if len(sum.RecentFailed) > 0 {
		fmt.Fprintln(w, "\nRecent failures:")
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, r := range sum.RecentFailed {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", shortID(r.ID), r.Repository, statusLabel(r), truncate(r.ErrorMessage, 60))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func statusLabel(r *domain.CommitRecord) string {
	switch r.Status {
	case domain.StatusCompleted:
		return "✓ completed"
	case domain.StatusFailed:
		if r.FailureKind == domain.FailureAuthExpired {
			return "✗ auth expired"
		}
		return "✗ failed"
	}
	return "○ pending"
}

func detail(r *domain.CommitRecord) string {
	switch r.Status {
	case domain.StatusCompleted:
		return shortHash(r.HashID)
	case domain.StatusFailed:
		return truncate(r.ErrorMessage, 50)
	}
	return r.FilePath
}

func repoOf(drafts []planner.Draft) string {
	if len(drafts) == 0 {
		return "nothing"
	}
	return drafts[0].Repository
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func shortHash(h string) string {
	if len(h) > 7 {
		return h[:7]
	}
	return h
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
