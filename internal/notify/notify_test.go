package notify

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/hochfrequenz/streak-keeper/internal/domain"
)

func TestSlackNotifier_Send(t *testing.T) {
	var got SlackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewSlackNotifier(server.URL)
	err := notifier.Send(Notification{
		Title:       "Commit failed",
		Message:     "push rejected",
		Type:        NotifyError,
		CommitID:    "3f2a9c1e-0000-4000-8000-000000000000",
		Repository:  "octocat/notes",
		ScheduledAt: time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC),
		FailureKind: domain.FailureConflict,
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if got.Text != "Commit failed" {
		t.Errorf("Text = %q", got.Text)
	}
	if len(got.Attachments) != 1 {
		t.Fatalf("Attachments = %d, want 1", len(got.Attachments))
	}
	att := got.Attachments[0]
	if att.Color != "danger" || att.Title != "octocat/notes (3f2a9c1e)" || att.Footer != "streak-keeper" {
		t.Errorf("attachment = %+v", att)
	}
	fields := map[string]string{}
	for _, f := range att.Fields {
		fields[f.Title] = f.Value
	}
	if fields["Repository"] != "octocat/notes" {
		t.Errorf("Repository field = %q", fields["Repository"])
	}
	if fields["Scheduled"] != "Mon Mar 2 2026 10:30 UTC" {
		t.Errorf("Scheduled field = %q", fields["Scheduled"])
	}
	if fields["Failure"] != string(domain.FailureConflict) {
		t.Errorf("Failure field = %q", fields["Failure"])
	}
	if _, ok := fields["Commit"]; ok {
		t.Error("failed commit should not carry a hash field")
	}
}

func TestBuildSlackMessage_Success(t *testing.T) {
	msg := BuildSlackMessage(Notification{
		Title:      "Backfill commit pushed",
		Type:       NotifySuccess,
		Repository: "octocat/notes",
		Hash:       "9fceb02d0ae598e95dc970b74767f19372d61af8",
	})
	att := msg.Attachments[0]
	var hash string
	for _, f := range att.Fields {
		if f.Title == "Commit" {
			hash = f.Value
		}
	}
	if hash != "`9fceb02`" {
		t.Errorf("Commit field = %q", hash)
	}
	if att.Ts != 0 {
		t.Errorf("Ts = %d without a scheduled time", att.Ts)
	}
}

func TestBuildSlackMessage_AuthExpiredHint(t *testing.T) {
	msg := BuildSlackMessage(Notification{
		Title:       "GitHub access expired",
		Message:     "Reconnect your GitHub token",
		Type:        NotifyWarning,
		FailureKind: domain.FailureAuthExpired,
	})
	text := msg.Attachments[0].Text
	if !strings.Contains(text, "git.token_env") || !strings.Contains(text, "streak-keeper retry") {
		t.Errorf("missing re-auth hint: %q", text)
	}

	msg = BuildSlackMessage(Notification{Message: "push rejected", FailureKind: domain.FailureConflict})
	if msg.Attachments[0].Text != "push rejected" {
		t.Errorf("hint added to non-auth failure: %q", msg.Attachments[0].Text)
	}
}

func TestUrgency(t *testing.T) {
	tests := []struct {
		name string
		n    Notification
		want string
	}{
		{"auth expired", Notification{Type: NotifyWarning, FailureKind: domain.FailureAuthExpired}, "critical"},
		{"push failure", Notification{Type: NotifyError, FailureKind: domain.FailureNetwork}, "normal"},
		{"error without kind", Notification{Type: NotifyError}, "normal"},
		{"success", Notification{Type: NotifySuccess}, "low"},
		{"info", Notification{Type: NotifyInfo}, "low"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Urgency(tt.n); got != tt.want {
				t.Errorf("Urgency() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDesktopNotifier_Send(t *testing.T) {
	var gotName string
	var gotArgs []string
	d := NewDesktopNotifier(true)
	d.run = func(name string, args ...string) error {
		gotName, gotArgs = name, args
		return nil
	}

	n := Notification{
		Title:       "GitHub access expired",
		Message:     "Reconnect your GitHub token",
		Type:        NotifyWarning,
		Repository:  "octocat/notes",
		ScheduledAt: time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC),
		FailureKind: domain.FailureAuthExpired,
	}
	name, args := desktopCommand("linux", n)
	if name != "notify-send" {
		t.Fatalf("command = %q", name)
	}
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-u critical") || !strings.Contains(joined, "-i dialog-warning") {
		t.Errorf("args = %v", args)
	}
	if body := args[len(args)-1]; body != "octocat/notes @ Mar 2 10:30\nReconnect your GitHub token" {
		t.Errorf("body = %q", body)
	}

	if name, _ := desktopCommand("windows", n); name != "" {
		t.Errorf("windows command = %q, want none", name)
	}

	if err := d.Send(n); err != nil {
		t.Fatalf("Send: %v", err)
	}
	wantName, wantArgs := desktopCommand(runtime.GOOS, n)
	if gotName != wantName || strings.Join(gotArgs, " ") != strings.Join(wantArgs, " ") {
		t.Errorf("ran %q %v, want %q %v", gotName, gotArgs, wantName, wantArgs)
	}

	d.enabled = false
	gotName = ""
	if err := d.Send(n); err != nil || gotName != "" {
		t.Errorf("disabled notifier ran %q (err %v)", gotName, err)
	}
}

func TestSlackNotifier_Non200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	if err := NewSlackNotifier(server.URL).Send(Notification{Title: "x"}); err == nil {
		t.Error("expected error for 403")
	}
}

func TestSlackNotifier_Disabled(t *testing.T) {
	if err := NewSlackNotifier("").Send(Notification{Title: "x"}); err != nil {
		t.Errorf("disabled notifier returned %v", err)
	}
}

func TestNotificationTypeColors(t *testing.T) {
	tests := []struct {
		typ  NotificationType
		want string
	}{
		{NotifySuccess, "good"},
		{NotifyWarning, "warning"},
		{NotifyError, "danger"},
		{NotifyInfo, "#439FE0"},
	}

	for _, tt := range tests {
		got := SlackColor(tt.typ)
		if got != tt.want {
			t.Errorf("SlackColor(%v) = %s, want %s", tt.typ, got, tt.want)
		}
	}
}

func TestNotification_Subject(t *testing.T) {
	tests := []struct {
		n    Notification
		want string
	}{
		{Notification{Repository: "o/r", CommitID: "abcdef0123"}, "o/r (abcdef01)"},
		{Notification{Repository: "o/r"}, "o/r"},
		{Notification{CommitID: "abc"}, "abc"},
		{Notification{}, ""},
	}
	for _, tt := range tests {
		if got := tt.n.Subject(); got != tt.want {
			t.Errorf("Subject() = %q, want %q", got, tt.want)
		}
	}
}

func TestMultiNotifier(t *testing.T) {
	var called []string

	mock1 := &mockNotifier{name: "mock1", calls: &called}
	mock2 := &mockNotifier{name: "mock2", calls: &called, err: errors.New("down")}

	multi := NewMultiNotifier(mock1, mock2)
	err := multi.Send(Notification{Title: "Test"})

	if len(called) != 2 {
		t.Errorf("Expected 2 calls, got %d", len(called))
	}
	if err == nil {
		t.Error("expected the failing notifier's error")
	}
}

type mockNotifier struct {
	name  string
	calls *[]string
	err   error
}

func (m *mockNotifier) Send(n Notification) error {
	*m.calls = append(*m.calls, m.name)
	return m.err
}
