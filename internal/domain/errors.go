package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors that can be used with errors.Is()
var (
	// ErrNotFound indicates the referenced commit record does not exist
	ErrNotFound = errors.New("commit record not found")

	// ErrInvalidTransition indicates a status change the lifecycle does not allow
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidTimeFormat indicates a malformed HH:MM window boundary
	ErrInvalidTimeFormat = errors.New("invalid time format")

	// ErrExecutionFailed indicates a write-commit-push attempt did not succeed
	ErrExecutionFailed = errors.New("commit execution failed")

	// ErrAuthExpired indicates the remote rejected or lacked the access credential
	ErrAuthExpired = errors.New("access token expired or missing")
)

// TransitionError describes a rejected status change.
type TransitionError struct {
	ID   string
	From CommitStatus
	To   CommitStatus
	// Op names the requested operation when it is not a plain status change (cancel)
	Op string
}

func (e *TransitionError) Error() string {
	subject := "commit"
	if e.ID != "" {
		subject = "commit " + e.ID
	}
	if e.Op != "" {
		return fmt.Sprintf("cannot %s %s: status is %s", e.Op, subject, e.From)
	}
	return fmt.Sprintf("cannot move %s from %s to %s", subject, e.From, e.To)
}

// Unwrap lets errors.Is match ErrInvalidTransition.
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// ExecutionError represents a failed write-commit-push attempt.
// Kind drives how the dashboard reacts; Err carries the underlying cause.
type ExecutionError struct {
	Kind FailureKind
	Op   string
	Err  error
}

func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("%s failed (%s)", e.Op, e.Kind)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Is matches ErrExecutionFailed for every kind and ErrAuthExpired for auth failures.
func (e *ExecutionError) Is(target error) bool {
	switch target {
	case ErrExecutionFailed:
		return true
	case ErrAuthExpired:
		return e.Kind == FailureAuthExpired
	}
	return false
}

// NewExecutionError creates a new ExecutionError
func NewExecutionError(kind FailureKind, op string, err error) *ExecutionError {
	return &ExecutionError{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the failure kind of err, defaulting to FailureUnknown
func KindOf(err error) FailureKind {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Kind
	}
	if errors.Is(err, ErrAuthExpired) {
		return FailureAuthExpired
	}
	return FailureUnknown
}
