//go:build integration

package integration

import (
	"encoding/json"
	"strings"
	"testing"
)

type commit struct {
	ID          string `json:"id"`
	BatchID     string `json:"batch_id"`
	Status      string `json:"status"`
	FilePath    string `json:"file_path"`
	FailureKind string `json:"failure_kind"`
}

func listJSON(t *testing.T, e *env, args ...string) []commit {
	t.Helper()
	out := e.mustRun(append([]string{"list", "-o", "json"}, args...)...)
	var commits []commit
	if err := json.Unmarshal([]byte(out), &commits); err != nil {
		t.Fatalf("decoding list output: %v\n%s", err, out)
	}
	return commits
}

func TestCLI_Help(t *testing.T) {
	e := newEnv(t)
	out := e.mustRun("--help")
	for _, cmd := range []string{"schedule", "plan", "list", "cancel", "retry", "run", "status", "serve"} {
		if !strings.Contains(out, cmd) {
			t.Errorf("help output missing %q", cmd)
		}
	}
}

func TestCLI_PlanDoesNotPersist(t *testing.T) {
	e := newEnv(t)
	out := e.mustRun("plan", "octocat/notes", "--from", "2026-03-02", "--to", "2026-03-08", "--frequency", "weekdays")
	if !strings.Contains(out, "5 commits for octocat/notes") {
		t.Errorf("plan output:\n%s", out)
	}
	if commits := listJSON(t, e); len(commits) != 0 {
		t.Errorf("plan stored %d commits", len(commits))
	}
}

func TestCLI_ScheduleListCancel(t *testing.T) {
	e := newEnv(t)
	e.mustRun("schedule", "octocat/notes", "2030-01-07", "2030-01-08", "2030-01-09")

	commits := listJSON(t, e)
	if len(commits) != 3 {
		t.Fatalf("listed %d commits, want 3", len(commits))
	}
	for _, c := range commits {
		if c.Status != "pending" || c.FilePath != "NOTES.md" {
			t.Errorf("commit = %+v", c)
		}
	}

	e.mustRun("cancel", commits[0].ID)
	if got := listJSON(t, e); len(got) != 2 {
		t.Errorf("after cancel: %d commits, want 2", len(got))
	}

	out := e.mustRun("cancel", "--batch", commits[1].BatchID)
	if !strings.Contains(out, "Cancelled 2 commits") {
		t.Errorf("cancel batch output: %s", out)
	}
	if got := listJSON(t, e); len(got) != 0 {
		t.Errorf("after batch cancel: %d commits, want 0", len(got))
	}
}

func TestCLI_ScheduleRejectsBadWindow(t *testing.T) {
	e := newEnv(t)
	out, err := e.run("schedule", "octocat/notes", "2030-01-07", "--window-start", "9am", "--window-end", "10:00")
	if err == nil {
		t.Fatalf("expected failure, got:\n%s", out)
	}
	if commits := listJSON(t, e); len(commits) != 0 {
		t.Errorf("invalid request stored %d commits", len(commits))
	}
}

func TestCLI_RunWithoutTokenRecordsAuthFailure(t *testing.T) {
	e := newEnv(t)
	e.mustRun("schedule", "octocat/notes", "2030-01-07")
	commits := listJSON(t, e)
	if len(commits) != 1 {
		t.Fatalf("listed %d commits, want 1", len(commits))
	}

	// Run forces the future commit; without a token it fails before cloning
	out, err := e.run("run", commits[0].ID)
	if err == nil {
		t.Fatalf("run should fail without a token:\n%s", out)
	}

	failed := listJSON(t, e, "--status", "failed")
	if len(failed) != 1 || failed[0].FailureKind != "auth_expired" {
		t.Fatalf("failed = %+v", failed)
	}

	out = e.mustRun("status")
	if !strings.Contains(out, "Failed:    1") || !strings.Contains(out, "auth expired") {
		t.Errorf("status output:\n%s", out)
	}

	e.mustRun("retry", failed[0].ID)
	if pending := listJSON(t, e, "--status", "pending"); len(pending) != 1 {
		t.Errorf("after retry: %d pending, want 1", len(pending))
	}
}
