package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"jobs-engine/internal/domain"
	"jobs-engine/internal/domain/model"
	"jobs-engine/internal/infra/metrics"
)

// Triggerer is the minimal interface the scheduler needs from the dispatcher.
type Triggerer interface {
	Start(ctx context.Context, jobType string, triggeredBy *string) (*model.JobRecord, error)
}


const fireTimeout = 30 * time.Second

// parser accepts standard 5-field specs and descriptors such as "@hourly".
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates a cron expression.
func ParseSchedule(spec string) (cron.Schedule, error) {
	return parser.Parse(spec)
}

// Scheduler fires dispatcher triggers on cron schedules. Several API
// instances may run the same schedule; the dispatcher's single-flight rule
// turns the duplicates into skipped triggers.
type Scheduler struct {
	trig Triggerer
	cron *cron.Cron
	log  *zerolog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	entries map[string]cron.EntryID
}

func NewScheduler(trig Triggerer, logger *zerolog.Logger) *Scheduler {
	l := logger.With().Str("component", "scheduler").Logger()
	return &Scheduler{
		trig:    trig,
		cron:    cron.New(cron.WithParser(parser)),
		log:     &l,
		entries: make(map[string]cron.EntryID),
	}
}

// Add schedules jobType. One schedule per job type.
func (s *Scheduler) Add(jobType, spec string) error {
	sched, err := ParseSchedule(spec)
	if err != nil {
		return fmt.Errorf("schedule %s %q: %w", jobType, spec, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.entries[jobType]; dup {
		return fmt.Errorf("schedule %s: %w", jobType, domain.ErrDuplicateJobKey)
	}
	s.entries[jobType] = s.cron.Schedule(sched, cron.FuncJob(func() { s.fire(jobType) }))
	s.log.Info().Str("job_type", jobType).Str("spec", spec).Msg("schedule registered")
	return nil
}

// Start begins firing; calling Start multiple times has no effect.
func (s *Scheduler) Start(parentCtx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(parentCtx)
	s.cron.Start()
	s.log.Info().Int("entries", len(s.entries)).Msg("scheduler started")
}

// Stop cancels in-flight triggers and waits for them. It is idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.ctx, s.cancel = nil, nil
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) fire(jobType string) {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, fireTimeout)
	defer cancel()

	// system-triggered runs have no initiator
	rec, err := s.trig.Start(ctx, jobType, nil)
	switch {
	case err == nil:
		metrics.IncScheduledTrigger(jobType, "dispatched")
		s.log.Info().Str("job_type", jobType).Str("job_id", rec.ID).Msg("scheduled run dispatched")
	case errors.Is(err, domain.ErrAlreadyRunning):
		metrics.IncScheduledTrigger(jobType, "skipped")
		s.log.Info().Str("job_type", jobType).Msg("scheduled run skipped, job already running")
	default:
		metrics.IncScheduledTrigger(jobType, "error")
		s.log.Error().Err(err).Str("job_type", jobType).Msg("scheduled run failed")
	}
}
