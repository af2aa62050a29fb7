package gitexec

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/hochfrequenz/streak-keeper/internal/domain"
)

// CredentialProvider resolves an access token for a repository owner.
// An empty token means the remote is accessed anonymously.
type CredentialProvider interface {
	Token(ctx context.Context, owner string) (string, error)
}

// StaticCredentials returns the same token for every owner
type StaticCredentials string

func (s StaticCredentials) Token(context.Context, string) (string, error) {
	return string(s), nil
}

// EnvCredentials reads tokens from the environment. A per-owner variable
// (<Prefix>_<OWNER>) wins over the shared <Prefix> variable. No token at
// all is reported as ErrAuthExpired.
type EnvCredentials struct {
	Prefix string
	Lookup func(string) (string, bool)
}

// NewEnvCredentials creates a provider reading <prefix>_<OWNER> and <prefix>
func NewEnvCredentials(prefix string) *EnvCredentials {
	if prefix == "" {
		prefix = "GITHUB_TOKEN"
	}
	return &EnvCredentials{Prefix: prefix, Lookup: os.LookupEnv}
}

func (e *EnvCredentials) Token(_ context.Context, owner string) (string, error) {
	lookup := e.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if owner != "" {
		if v, ok := lookup(e.Prefix + "_" + envSuffix(owner)); ok && v != "" {
			return v, nil
		}
	}
	if v, ok := lookup(e.Prefix); ok && v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: set %s or %s_%s", domain.ErrAuthExpired, e.Prefix, e.Prefix, envSuffix(owner))
}

// envSuffix maps an owner like "my-org.io" to "MY_ORG_IO"
func envSuffix(owner string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToUpper(r)
		}
		return '_'
	}, owner)
}
