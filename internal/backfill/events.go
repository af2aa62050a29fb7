package backfill

import (
	"context"
	"errors"
	"time"

	"github.com/hochfrequenz/streak-keeper/internal/domain"
	"github.com/hochfrequenz/streak-keeper/internal/notify"
	"github.com/hochfrequenz/streak-keeper/internal/scheduler"
)

// EventType names a change to a commit record
type EventType string

const (
	EventScheduled EventType = "scheduled"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventCancelled EventType = "cancelled"
	EventRetried   EventType = "retried"
	EventDiscarded EventType = "discarded"
)

// Event is pushed to subscribers whenever a record changes
type Event struct {
	Type   EventType
	Commit *domain.CommitRecord
	At     time.Time
}

// Subscribe registers fn for record events and returns a function that
// removes it. fn is called synchronously and must not block.
func (s *Service) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

func (s *Service) publish(t EventType, rec *domain.CommitRecord) {
	ev := Event{Type: t, Commit: rec, At: time.Now()}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, fn := range s.subscribers {
		fn(ev)
	}
}

// HandleOutcome is the dispatcher's outcome hook: it notifies and publishes
// the stored state of the record. Notifications are sent in the background
// so a slow webhook never holds a dispatcher slot.
func (s *Service) HandleOutcome(o scheduler.Outcome) {
	if o.Discarded {
		s.publish(EventDiscarded, o.Record)
		return
	}
	if o.StoreErr != nil {
		// The stored status is unknown; the record is reloaded on the next resync
		s.logger.WithError(o.StoreErr).WithField("commit", o.Record.ID).Warn("Outcome was not persisted")
		return
	}

	rec := o.Record
	if stored, err := s.store.Get(context.Background(), o.Record.ID); err == nil {
		rec = stored
	}

	n := notify.Notification{
		CommitID:    rec.ID,
		Repository:  rec.Repository,
		ScheduledAt: rec.ScheduledAt,
	}
	if o.Err == nil {
		s.publish(EventCompleted, rec)
		n.Title = "Backfill commit pushed"
		n.Message = rec.CommitMessage
		n.Type = notify.NotifySuccess
		n.Hash = rec.HashID
		s.send(n)
		return
	}

	s.publish(EventFailed, rec)
	n.Title = "Backfill commit failed"
	n.Message = o.Err.Error()
	n.Type = notify.NotifyError
	n.FailureKind = domain.KindOf(o.Err)
	if errors.Is(o.Err, domain.ErrAuthExpired) {
		n.Title = "GitHub access expired"
		n.Message = "Reconnect your GitHub token, then retry the failed commits."
		n.Type = notify.NotifyWarning
	}
	s.send(n)
}

func (s *Service) send(n notify.Notification) {
	s.sending.Add(1)
	go func() {
		defer s.sending.Done()
		if err := s.notifier.Send(n); err != nil {
			s.logger.WithError(err).WithField("commit", n.CommitID).Warn("Failed to send notification")
		}
	}()
}

// Flush waits for notifications that are still being sent
func (s *Service) Flush() {
	s.sending.Wait()
}
