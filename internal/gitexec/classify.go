package gitexec

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/hochfrequenz/streak-keeper/internal/domain"
)

// Classify maps a git/transport error onto a failure kind
func Classify(err error) domain.FailureKind {
	if err == nil {
		return ""
	}
	var execErr *domain.ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Kind
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.FailureTimeout
	case errors.Is(err, transport.ErrAuthenticationRequired),
		errors.Is(err, transport.ErrAuthorizationFailed),
		errors.Is(err, transport.ErrInvalidAuthMethod):
		return domain.FailureAuthExpired
	case errors.Is(err, git.ErrNonFastForwardUpdate):
		return domain.FailureConflict
	case errors.Is(err, transport.ErrRepositoryNotFound),
		errors.Is(err, transport.ErrEmptyRemoteRepository):
		return domain.FailureRepository
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"):
		return domain.FailureRateLimited
	case strings.Contains(msg, "rejected"), strings.Contains(msg, "non-fast-forward"):
		return domain.FailureConflict
	case strings.Contains(msg, "401"), strings.Contains(msg, "bad credentials"):
		return domain.FailureAuthExpired
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return domain.FailureTimeout
		}
		return domain.FailureNetwork
	}
	return domain.FailureUnknown
}

// wrap converts a raw error into a classified ExecutionError
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var execErr *domain.ExecutionError
	if errors.As(err, &execErr) {
		return err
	}
	return domain.NewExecutionError(Classify(err), op, err)
}
