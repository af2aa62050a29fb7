package backfill

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hochfrequenz/streak-keeper/internal/commitstore"
	"github.com/hochfrequenz/streak-keeper/internal/config"
	"github.com/hochfrequenz/streak-keeper/internal/domain"
	"github.com/hochfrequenz/streak-keeper/internal/notify"
	"github.com/hochfrequenz/streak-keeper/internal/planner"
	"github.com/hochfrequenz/streak-keeper/internal/scheduler"
)

const (
	// DefaultRecentLimit is the dashboard's history size
	DefaultRecentLimit = 5
	maxRecentLimit     = 500
)

// ErrInvalidRequest marks caller errors in a schedule request
var ErrInvalidRequest = errors.New("invalid request")

// Store is the persistence the service needs
type Store interface {
	Create(ctx context.Context, in commitstore.NewRecord) (*domain.CommitRecord, error)
	Get(ctx context.Context, id string) (*domain.CommitRecord, error)
	List(ctx context.Context, opts commitstore.ListOptions) ([]*domain.CommitRecord, error)
	Retry(ctx context.Context, id string) (*domain.CommitRecord, error)
	Cancel(ctx context.Context, id string) error
	CountByStatus(ctx context.Context) (map[domain.CommitStatus]int, error)
}

// Queue is the dispatcher surface the service drives
type Queue interface {
	Submit(rec *domain.CommitRecord) bool
	Withdraw(id string) bool
	Expedite(id string) bool
	Stats() scheduler.Stats
}

// SettingsProvider supplies the current planning defaults
type SettingsProvider interface {
	ScheduleSettings() config.ScheduleConfig
}

// Config holds the dependencies of a Service. Queue may be nil when no
// dispatcher runs in this process; records are then picked up by the
// serving process on its next resync.
type Config struct {
	Store    Store
	Queue    Queue
	Planner  *planner.Planner
	Settings SettingsProvider
	Notifier notify.Notifier
	Logger   *logrus.Entry
}

// Service is the commit history API: scheduling, listing, cancel and retry
type Service struct {
	store    Store
	queue    Queue
	planner  *planner.Planner
	settings SettingsProvider
	notifier notify.Notifier
	logger   *logrus.Entry

	mu          sync.RWMutex
	subscribers map[int]func(Event)
	nextSub     int

	sending sync.WaitGroup
}

// NewService creates a Service
func NewService(cfg Config) *Service {
	p := cfg.Planner
	if p == nil {
		p = planner.New(nil)
	}
	settings := cfg.Settings
	if settings == nil {
		settings = config.Default()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{
		store:       cfg.Store,
		queue:       cfg.Queue,
		planner:     p,
		settings:    settings,
		notifier:    notifier,
		logger:      logger.WithField("component", "backfill"),
		subscribers: make(map[int]func(Event)),
	}
}

// ScheduleRequest asks for one backfill commit per selected day. Empty
// fields fall back to the configured defaults.
type ScheduleRequest struct {
	Repository    string
	RepositoryURL string

	Days       []time.Time
	From       time.Time
	To         time.Time
	Frequency  string
	CustomDays []time.Weekday

	WindowStart      string
	WindowEnd        string
	Times            []string
	MessageTemplates []string
	Files            []string
}

// ScheduleResult lists the records created by one request
type ScheduleResult struct {
	BatchID string
	Records []*domain.CommitRecord
}

// Schedule plans, persists and enqueues a batch of commits
func (s *Service) Schedule(ctx context.Context, req ScheduleRequest) (*ScheduleResult, error) {
	batch, err := s.buildBatch(req)
	if err != nil {
		return nil, err
	}
	drafts, err := s.planner.PlanBatch(batch)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	result := &ScheduleResult{BatchID: uuid.NewString()}
	for _, d := range drafts {
		rec, err := s.store.Create(ctx, commitstore.NewRecord{
			BatchID:       result.BatchID,
			Repository:    d.Repository,
			RepositoryURL: d.RepositoryURL,
			FilePath:      d.FilePath,
			CommitMessage: d.CommitMessage,
			ScheduledAt:   d.ScheduledAt,
		})
		if err != nil {
			return result, fmt.Errorf("storing commit for %s: %w", d.Day.Format(time.DateOnly), err)
		}
		result.Records = append(result.Records, rec)
		if s.queue != nil {
			s.queue.Submit(rec)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"batch_id":   result.BatchID,
		"repository": batch.Repository,
		"count":      len(result.Records),
	}).Info("Scheduled backfill commits")
	for _, rec := range result.Records {
		s.publish(EventScheduled, rec)
	}
	return result, nil
}

// Preview plans a request without persisting anything
func (s *Service) Preview(req ScheduleRequest) ([]planner.Draft, error) {
	batch, err := s.buildBatch(req)
	if err != nil {
		return nil, err
	}
	drafts, err := s.planner.PlanBatch(batch)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return drafts, nil
}

func (s *Service) buildBatch(req ScheduleRequest) (planner.BatchRequest, error) {
	defaults := s.settings.ScheduleSettings()

	repo := strings.Trim(strings.TrimSpace(req.Repository), "/")
	if repo == "" || !strings.Contains(repo, "/") {
		return planner.BatchRequest{}, fmt.Errorf("%w: repository must be owner/name, got %q", ErrInvalidRequest, req.Repository)
	}
	url := req.RepositoryURL
	if url == "" {
		url = "https://github.com/" + repo + ".git"
	}

	freqName := req.Frequency
	if freqName == "" {
		freqName = defaults.Frequency
	}
	freq, err := planner.ParseFrequency(freqName)
	if err != nil {
		return planner.BatchRequest{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	batch := planner.BatchRequest{
		Repository:       repo,
		RepositoryURL:    url,
		Days:             req.Days,
		From:             req.From,
		To:               req.To,
		Frequency:        freq,
		CustomDays:       req.CustomDays,
		WindowStart:      req.WindowStart,
		WindowEnd:        req.WindowEnd,
		Times:            req.Times,
		MessageTemplates: req.MessageTemplates,
		Files:            req.Files,
	}
	if len(batch.Times) == 0 && batch.WindowStart == "" && batch.WindowEnd == "" {
		batch.Times = defaults.Times
		if len(batch.Times) == 0 {
			batch.WindowStart, batch.WindowEnd = defaults.ActiveStart, defaults.ActiveEnd
		}
	}
	if len(batch.MessageTemplates) == 0 {
		batch.MessageTemplates = defaults.MessageTemplates
	}
	if len(batch.Files) == 0 {
		batch.Files = defaults.Files
	}
	return batch, nil
}

// ListRecentCommits returns the most recently created records; limit <= 0
// uses DefaultRecentLimit
func (s *Service) ListRecentCommits(ctx context.Context, limit int) ([]*domain.CommitRecord, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}
	return s.store.List(ctx, commitstore.ListOptions{Limit: limit})
}

// ListCommits returns records matching opts, most recent first
func (s *Service) ListCommits(ctx context.Context, opts commitstore.ListOptions) ([]*domain.CommitRecord, error) {
	return s.store.List(ctx, opts)
}

// Get returns one record
func (s *Service) Get(ctx context.Context, id string) (*domain.CommitRecord, error) {
	return s.store.Get(ctx, id)
}

// CancelCommit removes a pending record. An execution already running for
// it is not interrupted; its result is discarded.
func (s *Service) CancelCommit(ctx context.Context, id string) error {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Cancel(ctx, id); err != nil {
		return err
	}
	if s.queue != nil {
		s.queue.Withdraw(id)
	}
	s.logger.WithField("commit_id", id).Info("Cancelled commit")
	s.publish(EventCancelled, rec)
	return nil
}

// RetryCommit moves a failed record back to pending and re-enqueues it
func (s *Service) RetryCommit(ctx context.Context, id string) (*domain.CommitRecord, error) {
	rec, err := s.store.Retry(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.queue != nil {
		s.queue.Submit(rec)
	}
	s.logger.WithField("commit_id", id).Info("Retrying commit")
	s.publish(EventRetried, rec)
	return rec, nil
}

// CancelBatch cancels every pending record of a batch and returns how many
// were removed. Records that finished meanwhile are skipped.
func (s *Service) CancelBatch(ctx context.Context, batchID string) (int, error) {
	if batchID == "" {
		return 0, fmt.Errorf("%w: batch id is required", ErrInvalidRequest)
	}
	pending, err := s.store.List(ctx, commitstore.ListOptions{BatchID: batchID, Status: domain.StatusPending})
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, rec := range pending {
		err := s.store.Cancel(ctx, rec.ID)
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidTransition) {
			continue
		}
		if err != nil {
			return cancelled, err
		}
		if s.queue != nil {
			s.queue.Withdraw(rec.ID)
		}
		cancelled++
		s.publish(EventCancelled, rec)
	}
	s.logger.WithFields(logrus.Fields{"batch_id": batchID, "cancelled": cancelled}).Info("Cancelled batch")
	return cancelled, nil
}

// RunNow makes a pending record due immediately
func (s *Service) RunNow(ctx context.Context, id string) error {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status != domain.StatusPending {
		return &domain.TransitionError{ID: id, From: rec.Status, Op: "run"}
	}
	if s.queue == nil {
		return errors.New("dispatcher is not running in this process")
	}
	s.queue.Submit(rec)
	if !s.queue.Expedite(id) {
		// Already executing
		return nil
	}
	s.logger.WithField("commit_id", id).Info("Running commit now")
	return nil
}

// Summary is an overview of the store and the dispatcher
type Summary struct {
	Counts       map[domain.CommitStatus]int
	Dispatcher   *scheduler.Stats
	RecentFailed []*domain.CommitRecord
}

// Summary returns counts per status, dispatcher stats and recent failures
func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	failed, err := s.store.List(ctx, commitstore.ListOptions{Status: domain.StatusFailed, Limit: DefaultRecentLimit})
	if err != nil {
		return nil, err
	}
	sum := &Summary{Counts: counts, RecentFailed: failed}
	if s.queue != nil {
		stats := s.queue.Stats()
		sum.Dispatcher = &stats
	}
	return sum, nil
}
