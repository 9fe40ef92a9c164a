// Package trigger fires scheduled event submissions from cron
// expressions. Firing goes through the same ingress path as an external
// submission, so matching, pause filtering and idempotency all apply.
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	automation "github.com/Nine-Minds/alga-psa-sub020"
	"github.com/Nine-Minds/alga-psa-sub020/event"
	"github.com/Nine-Minds/alga-psa-sub020/id"
)

// Submitter accepts a fired envelope for execution. Satisfied by the
// engine; declared here to break the import cycle between trigger and
// engine.
type Submitter interface {
	Submit(ctx context.Context, tenant string, env event.Envelope) error
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Scheduler fires due trigger entries on a tick loop.
type Scheduler struct {
	store     Store
	submitter Submitter
	logger    *slog.Logger

	tickInterval time.Duration

	// parsed caches parsed cron expressions.
	parsedMu sync.RWMutex
	parsed   map[string]cronlib.Schedule

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(store Store, submitter Submitter, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		store:        store,
		submitter:    submitter,
		logger:       logger,
		tickInterval: 1 * time.Second,
		parsed:       make(map[string]cronlib.Schedule),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register validates and persists a trigger entry, stamping its first
// NextRunAt from the schedule.
func (s *Scheduler) Register(ctx context.Context, entry *Entry) error {
	if entry.Tenant == "" {
		return fmt.Errorf("%w: trigger entry missing tenant", automation.ErrInvalidState)
	}
	sched, err := ParseSchedule(entry.Schedule)
	if err != nil {
		return fmt.Errorf("parse schedule %q: %w", entry.Schedule, err)
	}
	if entry.ID.IsNil() {
		entry.ID = id.NewTriggerID()
	}
	next := sched.Next(time.Now().UTC())
	entry.NextRunAt = &next
	return s.store.RegisterTrigger(ctx, entry)
}

// Start launches the tick goroutine.
func (s *Scheduler) Start(_ context.Context) error {
	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("trigger scheduler started",
		slog.Duration("tick_interval", s.tickInterval),
	)
	return nil
}

// Stop signals the scheduler to stop and waits for the tick loop to finish.
func (s *Scheduler) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("trigger scheduler stopped")
	return nil
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	ctx := context.Background()

	entries, err := s.store.ListTriggers(ctx, "")
	if err != nil {
		s.logger.Error("list triggers", "error", err)
		return
	}

	now := time.Now().UTC()
	for _, entry := range entries {
		if !entry.Enabled {
			continue
		}
		if entry.NextRunAt == nil || entry.NextRunAt.After(now) {
			continue
		}
		s.fire(ctx, entry, now)
	}
}

func (s *Scheduler) fire(ctx context.Context, entry *Entry, now time.Time) {
	sched, err := s.schedule(entry.Schedule)
	if err != nil {
		s.logger.Error("parse trigger schedule",
			"trigger", entry.Name, "schedule", entry.Schedule, "error", err)
		return
	}

	if err := s.submitter.Submit(ctx, entry.Tenant, entry.FireEnvelope(now)); err != nil {
		s.logger.Error("submit trigger event",
			"trigger", entry.Name, "tenant", entry.Tenant, "error", err)
		// Fall through: NextRunAt still advances so a persistently
		// failing submission does not fire on every tick.
	}

	at := now
	entry.LastRunAt = &at
	next := sched.Next(now)
	entry.NextRunAt = &next
	if err := s.store.UpdateTrigger(ctx, entry); err != nil {
		s.logger.Error("update trigger", "trigger", entry.Name, "error", err)
	}
}

// schedule returns the parsed schedule for expr, caching the result.
func (s *Scheduler) schedule(expr string) (cronlib.Schedule, error) {
	s.parsedMu.RLock()
	sched, ok := s.parsed[expr]
	s.parsedMu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}
	s.parsedMu.Lock()
	s.parsed[expr] = sched
	s.parsedMu.Unlock()
	return sched, nil
}
