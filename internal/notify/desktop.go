package notify

import (
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/hochfrequenz/streak-keeper/internal/domain"
)

// DesktopNotifier shows commit outcomes through the OS notification center
type DesktopNotifier struct {
	enabled bool
	run     func(name string, args ...string) error
}

// NewDesktopNotifier creates a desktop notifier
func NewDesktopNotifier(enabled bool) *DesktopNotifier {
	return &DesktopNotifier{
		enabled: enabled,
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
	}
}

// Send shows n. Platforms other than macOS and Linux are ignored.
func (d *DesktopNotifier) Send(n Notification) error {
	if !d.enabled {
		return nil
	}
	name, args := desktopCommand(runtime.GOOS, n)
	if name == "" {
		return nil
	}
	return d.run(name, args...)
}

func desktopCommand(goos string, n Notification) (string, []string) {
	body := desktopBody(n)
	switch goos {
	case "darwin":
		script := "display notification " + strconv.Quote(body) + " with title " + strconv.Quote(n.Title)
		if sub := n.Subject(); sub != "" {
			script += " subtitle " + strconv.Quote(sub)
		}
		return "osascript", []string{"-e", script}
	case "linux":
		return "notify-send",
			[]string{"-a", "streak-keeper", "-u", Urgency(n), "-i", IconForType(n.Type), n.Title, body}
	}
	return "", nil
}

func desktopBody(n Notification) string {
	var parts []string
	if n.Repository != "" {
		parts = append(parts, n.Repository)
	}
	if !n.ScheduledAt.IsZero() {
		parts = append(parts, n.ScheduledAt.Format("Jan 2 15:04"))
	}
	if len(parts) == 0 {
		return n.Message
	}
	return strings.Join(parts, " @ ") + "\n" + n.Message
}

// Urgency is the notify-send urgency for n. Expired credentials stay on
// screen until dismissed; successes fade quietly.
func Urgency(n Notification) string {
	switch n.FailureKind {
	case domain.FailureAuthExpired:
		return "critical"
	case "":
	default:
		return "normal"
	}
	if n.Type == NotifySuccess || n.Type == NotifyInfo {
		return "low"
	}
	return "normal"
}

// IconForType returns a freedesktop icon name for the notification type
func IconForType(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return "dialog-positive"
	case NotifyWarning:
		return "dialog-warning"
	case NotifyError:
		return "dialog-error"
	default:
		return "dialog-information"
	}
}
