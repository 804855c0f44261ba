// Package runner turns domain operations into registry.WorkFunc values.
// Each wrapper owns the terminal Completed/Failed transition of its record;
// item-level errors never escape a batch, wrapper-level errors end in Fail.
package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"jobs-engine/internal/domain"
	"jobs-engine/internal/domain/model"
	"jobs-engine/internal/domain/ports/repository"
	"jobs-engine/internal/infra/metrics"
	"jobs-engine/internal/progress"
)

// DefaultMaxErrors bounds the error list stored in a batch result.
const DefaultMaxErrors = 50

// errStopped means the body stopped early because the record is already
// terminal (normally: cancelled by an operator) or its context ended.
var errStopped = errors.New("job stopped before completion")

// Deps are shared by every wrapper.
type Deps struct {
	Repo   repository.JobRepository
	Logger *zerolog.Logger
}

func (d Deps) logger() zerolog.Logger {
	if d.Logger == nil {
		return zerolog.Nop()
	}
	return *d.Logger
}

// body runs with a reporter and a job-scoped logger.
type body func(ctx context.Context, rep *progress.Reporter, log zerolog.Logger, started time.Time) error

// guard is the outermost layer of every wrapper: it converts panics and
// returned errors into a single Fail write.
func guard(ctx context.Context, d Deps, jobType, jobID string, fn body) error {
	log := d.logger().With().Str("job_id", jobID).Str("job_type", jobType).Logger()
	rep := progress.New(d.Repo, jobID, &log)
	started := time.Now()

	err := protect(func() error { return fn(ctx, rep, log, started) })
	if err == nil || errors.Is(err, errStopped) || errors.Is(err, domain.ErrJobFinished) {
		if err != nil {
			log.Info().Msg("job body stopped; record already final")
		}
		return nil
	}

	log.Error().Err(err).Msg("job failed")
	// the record must still be failed if the work context was cancelled
	if ferr := rep.Fail(context.WithoutCancel(ctx), err.Error()); ferr != nil {
		if errors.Is(ferr, domain.ErrJobFinished) {
			return nil
		}
		return fmt.Errorf("record failure of job %s: %w", jobID, ferr)
	}
	metrics.ObserveJobFinished(jobType, string(model.JobStatusFailed), time.Since(started))
	return nil
}

// complete writes the successful terminal state and the matching metrics.
func complete(ctx context.Context, rep *progress.Reporter, jobType string, started time.Time, succeeded, failed int, result map[string]any) error {
	if err := rep.Complete(ctx, succeeded, failed, result); err != nil {
		return err
	}
	metrics.AddJobItems(jobType, succeeded, failed)
	metrics.ObserveJobFinished(jobType, string(model.JobStatusCompleted), time.Since(started))
	return nil
}

// protect converts a panic in fn into an error carrying the stack.
func protect(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v\n%s", p, debug.Stack())
		}
	}()
	return fn()
}

// stopIfFinished maps a latch rejection from the reporter to errStopped.
func stopIfFinished(err error) error {
	if errors.Is(err, domain.ErrJobFinished) {
		return errStopped
	}
	return err
}
