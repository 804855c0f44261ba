// Package progress is the narrow write API a running job body uses to
// report its state. Every call is a single field-level write against the
// job record; nothing is read back before writing.
package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"jobs-engine/internal/domain"
	"jobs-engine/internal/domain/model"
	"jobs-engine/internal/domain/ports/repository"
)

// Reporter is bound to one job id.
//
// Writes refused because the record is already terminal come back as
// domain.ErrJobFinished; callers treat that as "stop, someone else owns the
// outcome" rather than as a failure.
type Reporter struct {
	repo  repository.JobRepository
	jobID string
	log   zerolog.Logger
	now   func() time.Time
}

func New(repo repository.JobRepository, jobID string, logger *zerolog.Logger) *Reporter {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("job_id", jobID).Logger()
	}
	return &Reporter{repo: repo, jobID: jobID, log: l, now: time.Now}
}

func (r *Reporter) JobID() string { return r.jobID }

// Start moves the job to Running and resets progress and log.
func (r *Reporter) Start(ctx context.Context, total int) error {
	if total < 0 {
		total = 0
	}
	now := r.now().UTC()
	return r.write(ctx, "start", model.JobUpdate{
		Status:          model.Ref(model.JobStatusRunning),
		StartedAt:       &now,
		ProgressTotal:   model.Ref(total),
		ProgressCurrent: model.Ref(0),
		ProgressDetail:  model.Ref(""),
		ClearLog:        true,
	})
}

// Advance sets the current position and detail line. A non-empty detail is
// appended to the log in the same write.
func (r *Reporter) Advance(ctx context.Context, current int, detail string) error {
	if current < 0 {
		current = 0
	}
	return r.write(ctx, "advance", model.JobUpdate{
		ProgressCurrent: model.Ref(current),
		ProgressDetail:  model.Ref(detail),
		AppendLog:       detail,
	})
}

// Log appends a line without touching progress.
func (r *Reporter) Log(ctx context.Context, line string) error {
	if line == "" {
		return nil
	}
	err := r.repo.AppendLog(ctx, r.jobID, line)
	return r.handle("log", err)
}

// Complete is the successful terminal transition.
func (r *Reporter) Complete(ctx context.Context, succeeded, failed int, result map[string]any) error {
	if result == nil {
		result = map[string]any{}
	}
	now := r.now().UTC()
	detail := fmt.Sprintf("Completed: %d succeeded, %d failed", succeeded, failed)
	return r.write(ctx, "complete", model.JobUpdate{
		Status:         model.Ref(model.JobStatusCompleted),
		CompletedAt:    &now,
		ItemsSucceeded: model.Ref(succeeded),
		ItemsFailed:    model.Ref(failed),
		Result:         result,
		ProgressDetail: model.Ref(detail),
		AppendLog:      detail,
	})
}

// Fail is the wrapper-level failure transition. The message is truncated to
// model.MaxErrorMessageLen runes.
func (r *Reporter) Fail(ctx context.Context, message string) error {
	msg := model.TruncateMessage(message, model.MaxErrorMessageLen)
	now := r.now().UTC()
	return r.write(ctx, "fail", model.JobUpdate{
		Status:         model.Ref(model.JobStatusFailed),
		CompletedAt:    &now,
		ErrorMessage:   model.Ref(msg),
		ProgressDetail: model.Ref("Failed"),
		AppendLog:      "Failed: " + msg,
	})
}

// Cancelled reports whether the body should stop at its next safe point:
// the context is done or the record was cancelled by an operator.
func (r *Reporter) Cancelled(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	rec, err := r.repo.Get(ctx, r.jobID)
	if err != nil {
		r.log.Warn().Err(err).Msg("cancellation check failed")
		return false
	}
	return rec.Status == model.JobStatusCancelled
}

func (r *Reporter) write(ctx context.Context, op string, upd model.JobUpdate) error {
	return r.handle(op, r.repo.UpdateFields(ctx, r.jobID, upd))
}

func (r *Reporter) handle(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrJobFinished):
		r.log.Debug().Str("op", op).Msg("write ignored, job already finished")
		return err
	default:
		r.log.Error().Err(err).Str("op", op).Msg("progress write failed")
		return fmt.Errorf("progress %s: %w", op, err)
	}
}
