package domain

import (
	"strings"
	"time"
)

// CommitRecord is a scheduled or attempted backfill commit
type CommitRecord struct {
	ID            string
	BatchID       string
	Repository    string
	RepositoryURL string
	FilePath      string
	CommitMessage string
	ScheduledAt   time.Time
	Status        CommitStatus
	ErrorMessage  string
	FailureKind   FailureKind
	HashID        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ProcessedAt   *time.Time
}

// Owner returns the owner part of an owner/name repository
func (c *CommitRecord) Owner() string {
	owner, _, _ := strings.Cut(c.Repository, "/")
	return owner
}

// QueueKey identifies the push target; records sharing it never run concurrently
func (c *CommitRecord) QueueKey() string {
	if c.RepositoryURL != "" {
		return strings.TrimSuffix(strings.ToLower(c.RepositoryURL), ".git")
	}
	return strings.ToLower(c.Repository)
}

// IsDue returns true if the record is pending and its scheduled time has passed
func (c *CommitRecord) IsDue(now time.Time) bool {
	return c.Status == StatusPending && !c.ScheduledAt.After(now)
}

// Clone returns a copy that can be handed to another goroutine
func (c *CommitRecord) Clone() *CommitRecord {
	cp := *c
	if c.ProcessedAt != nil {
		t := *c.ProcessedAt
		cp.ProcessedAt = &t
	}
	return &cp
}
