package notify

import (
	"time"

	"github.com/hochfrequenz/streak-keeper/internal/domain"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification describes the outcome of one backfill commit. Everything
// after Type is optional.
type Notification struct {
	Title   string
	Message string
	Type    NotificationType

	CommitID    string
	Repository  string // owner/name
	ScheduledAt time.Time
	Hash        string
	FailureKind domain.FailureKind
}

// NeedsReauth reports whether the user has to reconnect GitHub before
// retrying
func (n Notification) NeedsReauth() bool {
	return n.FailureKind == domain.FailureAuthExpired
}

// Subject returns a short label for the referenced commit, if any
func (n Notification) Subject() string {
	switch {
	case n.Repository != "" && n.CommitID != "":
		return n.Repository + " (" + shortID(n.CommitID) + ")"
	case n.Repository != "":
		return n.Repository
	default:
		return shortID(n.CommitID)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers, returning the last error
func (m *MultiNotifier) Send(n Notification) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }
