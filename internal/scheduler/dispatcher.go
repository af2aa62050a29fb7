package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/hochfrequenz/streak-keeper/internal/domain"
)

const (
	DefaultTick             = "@every 15s"
	DefaultMaxParallel      = 2
	DefaultExecutionTimeout = 2 * time.Minute
)

// Executor performs the side effect of one commit record
type Executor interface {
	Execute(ctx context.Context, rec *domain.CommitRecord) (hash string, err error)
}

// Store is the subset of the commit store the dispatcher needs
type Store interface {
	Get(ctx context.Context, id string) (*domain.CommitRecord, error)
	ListPending(ctx context.Context) ([]*domain.CommitRecord, error)
	MarkProcessing(ctx context.Context, id string) error
	SetCompleted(ctx context.Context, id, hashID string) error
	SetFailed(ctx context.Context, id, message string, kind domain.FailureKind) error
}

// Outcome reports the end of one execution attempt
type Outcome struct {
	Record *domain.CommitRecord
	Hash   string
	Err    error
	// Discarded is set when the record vanished (cancelled) while executing
	Discarded bool
	// StoreErr is set when the result could not be written; the record is
	// still pending and runs again on the next resync
	StoreErr error
}

// Config holds the dependencies and tuning of a Dispatcher
type Config struct {
	Store            Store
	Executor         Executor
	Logger           *logrus.Entry
	Tick             string // cron spec for the durable resync
	MaxParallel      int
	ExecutionTimeout time.Duration
	Now              func() time.Time
	OnOutcome        func(Outcome)
}

// Stats is a point-in-time view of the dispatcher
type Stats struct {
	Queued    int
	InFlight  int
	Available int
	Capacity  int
	NextDue   time.Time
}

// Dispatcher runs pending commit records once their scheduled time has come.
// Records of the same repository never execute concurrently.
type Dispatcher struct {
	store     Store
	exec      Executor
	logger    *logrus.Entry
	schedule  cron.Schedule
	pool      *Pool
	timeout   time.Duration
	now       func() time.Time
	onOutcome func(Outcome)

	mu       sync.Mutex
	queue    itemQueue
	queued   map[string]*item
	inFlight map[string]bool
	busy     map[string]string // queue key -> record ID
	requeue  map[string]*domain.CommitRecord
	seq      uint64

	wake chan struct{}
	wg   sync.WaitGroup
}

// New creates a Dispatcher
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Store == nil || cfg.Executor == nil {
		return nil, errors.New("dispatcher needs a store and an executor")
	}
	tick := cfg.Tick
	if tick == "" {
		tick = DefaultTick
	}
	schedule, err := cron.ParseStandard(tick)
	if err != nil {
		return nil, fmt.Errorf("parsing tick %q: %w", tick, err)
	}
	maxParallel := cfg.MaxParallel
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}
	timeout := cfg.ExecutionTimeout
	if timeout <= 0 {
		timeout = DefaultExecutionTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	d := &Dispatcher{
		store:     cfg.Store,
		exec:      cfg.Executor,
		logger:    logger.WithField("component", "dispatcher"),
		schedule:  schedule,
		pool:      NewPool(maxParallel),
		timeout:   timeout,
		now:       now,
		onOutcome: cfg.OnOutcome,
		queued:    make(map[string]*item),
		inFlight:  make(map[string]bool),
		busy:      make(map[string]string),
		requeue:   make(map[string]*domain.CommitRecord),
		wake:      make(chan struct{}, 1),
	}
	d.pool.SetOnSlotsChanged(func(available int) {
		d.logger.WithField("available", available).Debug("Execution slots changed")
	})
	return d, nil
}

// Run loads pending records and dispatches them until ctx is cancelled.
// Executions already started finish before Run returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("Starting dispatcher...")
	if err := d.Reload(ctx); err != nil {
		d.logger.WithError(err).Error("Initial load of pending commits failed")
	}

	nextTick := d.schedule.Next(time.Now())
	timer := time.NewTimer(time.Until(nextTick))
	defer timer.Stop()

	for {
		d.dispatchDue(ctx)

		// Due records that are held back wait for a wake from finish
		wait := time.Until(nextTick)
		now := d.now()
		if due, ok := d.nextDueAfter(now); ok {
			if untilDue := due.Sub(now); untilDue < wait {
				wait = untilDue
			}
		}
		if wait < 0 {
			wait = 0
		}
		resetTimer(timer, wait)

		select {
		case <-ctx.Done():
			d.logger.Info("Stopping dispatcher, waiting for running commits...")
			d.wg.Wait()
			return nil
		case <-d.wake:
		case <-timer.C:
			if !time.Now().Before(nextTick) {
				if err := d.Reload(ctx); err != nil {
					d.logger.WithError(err).Warn("Resync with store failed")
				}
				nextTick = d.schedule.Next(time.Now())
			}
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// RunOnce loads pending records and executes every due one, returning when
// nothing due is left. It is meant for one-shot CLI use, not alongside Run.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	if err := d.Reload(ctx); err != nil {
		return 0, err
	}
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			d.wg.Wait()
			return total, err
		}
		n := d.dispatchDue(ctx)
		d.wg.Wait()
		if n == 0 {
			return total, nil
		}
		total += n
	}
}

// Submit queues a pending record. It returns false when the record is not
// pending or is already queued. A record submitted while its previous
// attempt is still finishing is queued again once that attempt ends.
func (d *Dispatcher) Submit(rec *domain.CommitRecord) bool {
	if rec == nil || rec.Status != domain.StatusPending {
		return false
	}
	d.mu.Lock()
	if d.inFlight[rec.ID] {
		_, dup := d.requeue[rec.ID]
		d.requeue[rec.ID] = rec.Clone()
		d.mu.Unlock()
		return !dup
	}
	d.mu.Unlock()

	if !d.push(rec) {
		return false
	}
	d.signal()
	return true
}

func (d *Dispatcher) push(rec *domain.CommitRecord) bool {
	if rec == nil || rec.Status != domain.StatusPending {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.queued[rec.ID]; ok || d.inFlight[rec.ID] {
		return false
	}
	d.seq++
	it := &item{rec: rec.Clone(), key: rec.QueueKey(), due: rec.ScheduledAt, seq: d.seq}
	heap.Push(&d.queue, it)
	d.queued[rec.ID] = it
	return true
}

// Withdraw removes a queued record. Executions already running are not
// interrupted; their result is discarded when the record no longer exists.
func (d *Dispatcher) Withdraw(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, requeued := d.requeue[id]
	delete(d.requeue, id)
	it, ok := d.queued[id]
	if !ok {
		return requeued
	}
	heap.Remove(&d.queue, it.index)
	delete(d.queued, id)
	return true
}

// Expedite makes a queued record due immediately
func (d *Dispatcher) Expedite(id string) bool {
	d.mu.Lock()
	it, ok := d.queued[id]
	if ok {
		it.due = time.Time{}
		heap.Fix(&d.queue, it.index)
	}
	d.mu.Unlock()
	if ok {
		d.signal()
	}
	return ok
}

// Reload resyncs the queue with the store: pending records are queued and
// queued records that are no longer pending are dropped.
func (d *Dispatcher) Reload(ctx context.Context) error {
	pending, err := d.store.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("listing pending commits: %w", err)
	}

	keep := make(map[string]bool, len(pending))
	added := 0
	for _, rec := range pending {
		keep[rec.ID] = true
		if d.push(rec) {
			added++
		}
	}

	d.mu.Lock()
	removed := 0
	for id, it := range d.queued {
		if !keep[id] {
			heap.Remove(&d.queue, it.index)
			delete(d.queued, id)
			removed++
		}
	}
	d.mu.Unlock()

	if added > 0 || removed > 0 {
		d.logger.WithFields(logrus.Fields{"added": added, "removed": removed}).Debug("Resynced queue with store")
	}
	d.signal()
	return nil
}

// Stats returns queue and slot counters
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := Stats{
		Queued:    len(d.queue),
		InFlight:  len(d.inFlight),
		Available: d.pool.Available(),
		Capacity:  d.pool.Capacity(),
	}
	if len(d.queue) > 0 {
		s.NextDue = d.queue[0].due
	}
	return s
}

// nextDueAfter returns the earliest due time strictly after now
func (d *Dispatcher) nextDueAfter(now time.Time) (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var next time.Time
	found := false
	for _, it := range d.queue {
		if it.due.After(now) && (!found || it.due.Before(next)) {
			next, found = it.due, true
		}
	}
	return next, found
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// dispatchDue starts every due record that has a free slot and whose
// repository is idle. It returns how many executions were started.
func (d *Dispatcher) dispatchDue(ctx context.Context) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	var held []*item
	started := 0
	for len(d.queue) > 0 {
		it := d.queue[0]
		if it.due.After(now) {
			break
		}
		if _, busy := d.busy[it.key]; busy {
			heap.Pop(&d.queue)
			held = append(held, it)
			continue
		}
		if !d.pool.Acquire() {
			break
		}
		heap.Pop(&d.queue)
		delete(d.queued, it.rec.ID)
		d.inFlight[it.rec.ID] = true
		d.busy[it.key] = it.rec.ID
		started++

		d.wg.Add(1)
		go d.execute(ctx, it.rec, it.key)
	}
	for _, it := range held {
		heap.Push(&d.queue, it)
	}
	return started
}

func (d *Dispatcher) execute(ctx context.Context, rec *domain.CommitRecord, key string) {
	defer d.wg.Done()
	defer d.finish(rec.ID, key)

	// Store writes must land even while shutting down
	storeCtx := context.WithoutCancel(ctx)
	log := d.logger.WithFields(logrus.Fields{
		"commit_id":  rec.ID,
		"repository": rec.Repository,
	})

	current, err := d.store.Get(storeCtx, rec.ID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Debug("Commit withdrawn before dispatch")
		return
	}
	if err != nil {
		log.WithError(err).Error("Failed to load commit, will retry on next resync")
		return
	}
	if current.Status != domain.StatusPending {
		log.WithField("status", current.Status).Debug("Commit no longer pending, skipping")
		return
	}
	if err := d.store.MarkProcessing(storeCtx, rec.ID); err != nil {
		log.WithError(err).Warn("Failed to stamp processing time")
	}

	log.WithField("scheduled_at", current.ScheduledAt.Format(time.RFC3339)).Info("Executing commit")
	execCtx, cancel := context.WithTimeout(storeCtx, d.timeout)
	hash, execErr := d.exec.Execute(execCtx, current)
	timedOut := errors.Is(execCtx.Err(), context.DeadlineExceeded)
	cancel()

	if execErr != nil && timedOut && domain.KindOf(execErr) != domain.FailureTimeout {
		execErr = domain.NewExecutionError(domain.FailureTimeout, "execute",
			fmt.Errorf("exceeded %s: %w", d.timeout, execErr))
	}

	var storeErr error
	if execErr == nil {
		storeErr = d.store.SetCompleted(storeCtx, rec.ID, hash)
	} else {
		storeErr = d.store.SetFailed(storeCtx, rec.ID, execErr.Error(), domain.KindOf(execErr))
	}

	outcome := Outcome{Record: current, Hash: hash, Err: execErr}
	switch {
	case errors.Is(storeErr, domain.ErrNotFound):
		outcome.Discarded = true
		log.Info("Commit cancelled during execution, discarding result")
	case storeErr != nil:
		outcome.StoreErr = storeErr
		log.WithError(storeErr).Error("Failed to record commit outcome")
	case execErr != nil:
		log.WithError(execErr).WithField("kind", domain.KindOf(execErr)).Warn("Commit failed")
	default:
		log.WithField("hash", hash).Info("Commit completed")
	}

	if d.onOutcome != nil {
		d.onOutcome(outcome)
	}
}

func (d *Dispatcher) finish(id, key string) {
	d.mu.Lock()
	delete(d.inFlight, id)
	if d.busy[key] == id {
		delete(d.busy, key)
	}
	rec, requeue := d.requeue[id]
	delete(d.requeue, id)
	d.mu.Unlock()
	d.pool.Release()

	if requeue && d.push(rec) {
		d.logger.WithField("commit_id", id).Debug("Re-queued commit submitted during its previous attempt")
	}
	d.signal()
}
