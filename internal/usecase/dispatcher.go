// File: internal/usecase/dispatcher.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"jobs-engine/internal/domain"
	"jobs-engine/internal/domain/model"
	"jobs-engine/internal/domain/ports/adapter"
	"jobs-engine/internal/domain/ports/repository"
	ucport "jobs-engine/internal/domain/ports/usecase"
	"jobs-engine/internal/infra/logging"
	"jobs-engine/internal/infra/metrics"
	"jobs-engine/internal/registry"
)

// Compile-time check
var _ ucport.JobDispatcher = (*Dispatcher)(nil)

const defaultDispatchLockTTL = 10 * time.Second

// unregisteredLabel replaces caller-supplied keys in metric labels.
const unregisteredLabel = "unregistered"

// Dispatcher validates a trigger, enforces single flight per job type,
// creates the Pending record and hands the work to the execution backend.
type Dispatcher struct {
	reg     *registry.Registry
	repo    repository.JobRepository
	backend adapter.ExecutionBackend
	locker  adapter.Locker // optional
	lockTTL time.Duration
	log     *zerolog.Logger
}

type DispatcherOption func(*Dispatcher)

// WithLockTTL overrides how long the per-type dispatch lock may be held.
func WithLockTTL(ttl time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if ttl > 0 {
			d.lockTTL = ttl
		}
	}
}

func NewDispatcher(reg *registry.Registry, repo repository.JobRepository, backend adapter.ExecutionBackend, locker adapter.Locker, logger *zerolog.Logger, opts ...DispatcherOption) *Dispatcher {
	l := logger.With().Str("component", "dispatcher").Logger()
	d := &Dispatcher{
		reg:     reg,
		repo:    repo,
		backend: backend,
		locker:  locker,
		lockTTL: defaultDispatchLockTTL,
		log:     &l,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Dispatcher) Start(ctx context.Context, jobType string, triggeredBy *string) (*model.JobRecord, error) {
	defer logging.TraceDuration(d.log, "Dispatcher.Start")()

	entry, err := d.reg.Lookup(jobType)
	if err != nil {
		metrics.IncJobRejected(unregisteredLabel, "unknown_type")
		return nil, err
	}

	if d.locker != nil {
		key := "jobs:lock:dispatch:" + jobType
		token, err := d.locker.TryLock(ctx, key, d.lockTTL)
		switch {
		case errors.Is(err, domain.ErrAlreadyRunning):
			metrics.IncJobRejected(jobType, "already_running")
			return nil, err
		case err != nil:
			// the store's uniqueness guarantee still holds without the lock
			d.log.Warn().Err(err).Str("job_type", jobType).Msg("dispatch lock unavailable, relying on store")
		default:
			defer func() {
				if err := d.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
					d.log.Warn().Err(err).Str("job_type", jobType).Msg("dispatch unlock failed")
				}
			}()
		}
	}

	if active, err := d.repo.FindActive(ctx, jobType); err == nil {
		metrics.IncJobRejected(jobType, "already_running")
		d.log.Info().Str("job_type", jobType).Str("active_job_id", active.ID).Msg("job already running")
		return nil, domain.ErrAlreadyRunning
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("check active %s: %w", jobType, err)
	}

	rec, err := d.repo.Create(ctx, jobType, triggeredBy)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyRunning) {
			metrics.IncJobRejected(jobType, "already_running")
		}
		return nil, err
	}

	ref, err := d.backend.Submit(ctx, adapter.Submission{JobType: jobType, JobID: rec.ID, Queue: entry.Queue})
	if err != nil {
		d.abandon(ctx, rec, err)
		metrics.IncJobRejected(jobType, "dispatch_failed")
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrDispatchFailed, jobType, err)
	}

	if err := d.repo.UpdateFields(ctx, rec.ID, model.JobUpdate{BackendTaskRef: &ref}); err != nil && !errors.Is(err, domain.ErrJobFinished) {
		// the task is already queued; the record is still usable without the ref
		d.log.Warn().Err(err).Str("job_id", rec.ID).Msg("record backend task ref failed")
	}
	rec.BackendTaskRef = ref

	metrics.IncJobDispatched(jobType)
	evt := d.log.Info().Str("job_type", jobType).Str("job_id", rec.ID).Str("task_ref", ref)
	if triggeredBy != nil {
		evt = evt.Str("triggered_by", *triggeredBy)
	}
	evt.Msg("job dispatched")
	return rec, nil
}

// abandon fails a record whose submission never reached the backend so it
// does not hold the single-flight slot.
func (d *Dispatcher) abandon(ctx context.Context, rec *model.JobRecord, cause error) {
	msg := model.TruncateMessage("dispatch failed: "+cause.Error(), model.MaxErrorMessageLen)
	now := time.Now().UTC()
	err := d.repo.UpdateFields(context.WithoutCancel(ctx), rec.ID, model.JobUpdate{
		Status:         model.Ref(model.JobStatusFailed),
		ErrorMessage:   &msg,
		ProgressDetail: model.Ref("Failed"),
		CompletedAt:    &now,
		AppendLog:      "Failed: " + msg,
	})
	if err != nil {
		d.log.Error().Err(err).Str("job_id", rec.ID).Msg("mark undispatched job failed")
	}
	d.log.Error().Err(cause).Str("job_type", rec.JobType).Str("job_id", rec.ID).Msg("submit to backend failed")
}
