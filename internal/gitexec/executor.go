package gitexec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/sirupsen/logrus"

	"github.com/hochfrequenz/streak-keeper/internal/domain"
)

// duplicateScanDepth bounds how far back history is searched for an
// earlier push of the same record
const duplicateScanDepth = 200

// Config holds the settings for a GitExecutor
type Config struct {
	WorkDir     string
	Branch      string
	AuthorName  string
	AuthorEmail string
	Credentials CredentialProvider
	Logger      *logrus.Entry
}

// GitExecutor performs the write-commit-push side effect for one record
// in a throwaway clone
type GitExecutor struct {
	workDir     string
	branch      string
	authorName  string
	authorEmail string
	creds       CredentialProvider
	logger      *logrus.Entry
}

// New creates a GitExecutor
func New(cfg Config) *GitExecutor {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	creds := cfg.Credentials
	if creds == nil {
		creds = NewEnvCredentials("")
	}
	name, email := cfg.AuthorName, cfg.AuthorEmail
	if name == "" {
		name = "streak-keeper"
	}
	if email == "" {
		email = "streak-keeper@users.noreply.github.com"
	}
	return &GitExecutor{
		workDir:     cfg.WorkDir,
		branch:      cfg.Branch,
		authorName:  name,
		authorEmail: email,
		creds:       creds,
		logger:      logger.WithField("component", "git-executor"),
	}
}

// Execute clones the record's repository, appends a line to its file,
// commits it backdated to ScheduledAt and pushes. It returns the commit hash.
// When the same commit already exists upstream its hash is returned
// without pushing again.
func (e *GitExecutor) Execute(ctx context.Context, rec *domain.CommitRecord) (string, error) {
	if !filepath.IsLocal(filepath.FromSlash(rec.FilePath)) {
		return "", domain.NewExecutionError(domain.FailureRepository, "write",
			fmt.Errorf("file path %q escapes the repository", rec.FilePath))
	}

	token, err := e.creds.Token(ctx, rec.Owner())
	if err != nil {
		return "", domain.NewExecutionError(domain.FailureAuthExpired, "credentials", err)
	}
	auth := authFor(token)

	if e.workDir != "" {
		if err := os.MkdirAll(e.workDir, 0755); err != nil {
			return "", domain.NewExecutionError(domain.FailureUnknown, "workdir", err)
		}
	}
	dir, err := os.MkdirTemp(e.workDir, "clone-*")
	if err != nil {
		return "", domain.NewExecutionError(domain.FailureUnknown, "workdir", err)
	}
	defer os.RemoveAll(dir)

	log := e.logger.WithFields(logrus.Fields{
		"commit_id":  rec.ID,
		"repository": rec.Repository,
	})

	cloneOpts := &git.CloneOptions{
		URL:  rec.RepositoryURL,
		Auth: auth,
	}
	if e.branch != "" {
		cloneOpts.ReferenceName = plumbing.NewBranchReferenceName(e.branch)
		cloneOpts.SingleBranch = true
	}
	repo, err := git.PlainCloneContext(ctx, dir, false, cloneOpts)
	if err != nil {
		return "", wrap("clone", err)
	}

	if hash, ok := findExisting(repo, rec); ok {
		log.WithField("hash", hash).Info("Commit already present upstream, skipping push")
		return hash, nil
	}

	wt, err := repo.Worktree()
	if err != nil {
		return "", wrap("worktree", err)
	}

	if err := appendLine(filepath.Join(dir, filepath.FromSlash(rec.FilePath)), rec.ScheduledAt); err != nil {
		return "", domain.NewExecutionError(domain.FailureRepository, "write", err)
	}
	if _, err := wt.Add(filepath.ToSlash(rec.FilePath)); err != nil {
		return "", wrap("stage", err)
	}

	sig := &object.Signature{Name: e.authorName, Email: e.authorEmail, When: rec.ScheduledAt}
	hash, err := wt.Commit(rec.CommitMessage, &git.CommitOptions{Author: sig, Committer: sig})
	if err != nil {
		return "", wrap("commit", err)
	}

	err = repo.PushContext(ctx, &git.PushOptions{RemoteName: "origin", Auth: auth})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return "", wrap("push", err)
	}

	log.WithField("hash", hash.String()).Info("Pushed backfill commit")
	return hash.String(), nil
}

func authFor(token string) transport.AuthMethod {
	if token == "" {
		return nil
	}
	return &githttp.BasicAuth{Username: "x-access-token", Password: token}
}

// findExisting looks for a commit with the record's message and author time
func findExisting(repo *git.Repository, rec *domain.CommitRecord) (string, bool) {
	head, err := repo.Head()
	if err != nil {
		return "", false
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return "", false
	}
	defer iter.Close()

	want := strings.TrimSpace(rec.CommitMessage)
	var found string
	seen := 0
	_ = iter.ForEach(func(c *object.Commit) error {
		seen++
		if c.Author.When.Equal(rec.ScheduledAt) && strings.TrimSpace(c.Message) == want {
			found = c.Hash.String()
			return storer.ErrStop
		}
		if seen >= duplicateScanDepth {
			return storer.ErrStop
		}
		return nil
	})
	return found, found != ""
}

// appendLine adds an "Updated:" stamp to path, creating it when missing
func appendLine(path string, at time.Time) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	line := "Updated: " + at.Format(time.RFC3339) + "\n"
	if len(existing) > 0 && existing[len(existing)-1] != '\n' {
		line = "\n" + line
	}
	_, err = f.WriteString(line)
	return err
}
