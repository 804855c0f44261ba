package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"jobs-engine/internal/domain"
	"jobs-engine/internal/domain/model"
	"jobs-engine/internal/domain/ports/adapter"
	"jobs-engine/internal/domain/ports/repository"
	ucport "jobs-engine/internal/domain/ports/usecase"
	"jobs-engine/internal/infra/metrics"
)

var _ ucport.JobCanceller = (*Canceller)(nil)

// Canceller stops Pending or Running jobs. The record transition is
// authoritative; revoking the backend task is best effort.
type Canceller struct {
	repo    repository.JobRepository
	backend adapter.ExecutionBackend
	log     *zerolog.Logger
}

func NewCanceller(repo repository.JobRepository, backend adapter.ExecutionBackend, logger *zerolog.Logger) *Canceller {
	l := logger.With().Str("component", "canceller").Logger()
	return &Canceller{repo: repo, backend: backend, log: &l}
}

// Stop returns domain.ErrNotCancellable together with the current record
// when the job is already terminal.
func (c *Canceller) Stop(ctx context.Context, jobID, requestedBy string) (*model.JobRecord, error) {
	rec, err := c.repo.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if rec.Status.IsTerminal() {
		return rec, domain.ErrNotCancellable
	}
	if requestedBy == "" {
		requestedBy = "unknown"
	}

	// Latch first: a terminated body must find the record already final,
	// otherwise its own failure write would win.
	now := time.Now().UTC()
	detail := "Cancelled by " + requestedBy
	err = c.repo.UpdateFields(ctx, jobID, model.JobUpdate{
		Status:         model.Ref(model.JobStatusCancelled),
		CompletedAt:    &now,
		ProgressDetail: &detail,
		AppendLog:      detail,
	})
	if errors.Is(err, domain.ErrJobFinished) {
		if cur, gerr := c.repo.Get(ctx, jobID); gerr == nil {
			rec = cur
		}
		return rec, domain.ErrNotCancellable
	}
	if err != nil {
		return nil, err
	}

	if rec.BackendTaskRef != "" && c.backend != nil {
		if err := c.backend.Revoke(ctx, rec.BackendTaskRef, true); err != nil {
			c.log.Warn().Err(err).Str("job_id", jobID).Str("task_ref", rec.BackendTaskRef).Msg("revoke failed")
		}
	}

	metrics.IncJobCancelled(rec.JobType)
	c.log.Info().Str("job_id", jobID).Str("job_type", rec.JobType).Str("requested_by", requestedBy).Msg("job cancelled")

	if cur, err := c.repo.Get(ctx, jobID); err == nil {
		return cur, nil
	}
	rec.Status = model.JobStatusCancelled
	rec.CompletedAt = &now
	rec.ProgressDetail = detail
	return rec, nil
}
