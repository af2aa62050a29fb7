package domain

import "fmt"

// CommitStatus represents the lifecycle state of a backfill commit
type CommitStatus string

const (
	StatusPending   CommitStatus = "pending"
	StatusCompleted CommitStatus = "completed"
	StatusFailed    CommitStatus = "failed"
)

// ParseCommitStatus validates s against the closed status set
func ParseCommitStatus(s string) (CommitStatus, error) {
	switch st := CommitStatus(s); st {
	case StatusPending, StatusCompleted, StatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("invalid commit status: %q (expected pending, completed or failed)", s)
}

// FailureKind classifies why an execution attempt failed
type FailureKind string

const (
	FailureNetwork     FailureKind = "network"
	FailureAuthExpired FailureKind = "auth_expired"
	FailureConflict    FailureKind = "conflict"
	FailureRateLimited FailureKind = "rate_limited"
	FailureTimeout     FailureKind = "timeout"
	FailureRepository  FailureKind = "repository"
	FailureUnknown     FailureKind = "unknown"
)

// pending -> completed | failed, failed -> pending (retry).
// Cancellation deletes a pending record and has no status of its own.
var validTransitions = map[CommitStatus]map[CommitStatus]bool{
	StatusPending: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
	StatusFailed: {
		StatusPending: true,
	},
}

// ValidateTransition returns a *TransitionError if from -> to is not allowed
func ValidateTransition(from, to CommitStatus) error {
	if validTransitions[from][to] {
		return nil
	}
	return &TransitionError{From: from, To: to}
}

// CanCancel reports whether a record in the given status may be cancelled
func CanCancel(s CommitStatus) bool {
	return s == StatusPending
}
