package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"jobs-engine/internal/domain"
	"jobs-engine/internal/progress"
	"jobs-engine/internal/registry"
)

// ItemError is one entry of a batch result's "errors" list.
type ItemError struct {
	Item  string `json:"item"`
	Error string `json:"error"`
}

// Batch iterates a work-item collection, one Process call per item.
type Batch[T any] struct {
	JobType string
	// Items resolves the collection. An error here fails the whole job.
	Items func(ctx context.Context) ([]T, error)
	// Process handles one item. Errors and panics count as item failures.
	Process func(ctx context.Context, item T) error
	// Name identifies an item in progress lines and errors. Defaults to %v.
	Name      func(item T) string
	MaxErrors int
}

func (b Batch[T]) Work(d Deps) registry.WorkFunc {
	return func(ctx context.Context, jobID string) error {
		return guard(ctx, d, b.JobType, jobID, b.run)
	}
}

func (b Batch[T]) run(ctx context.Context, rep *progress.Reporter, log zerolog.Logger, started time.Time) error {
	if b.Items == nil || b.Process == nil {
		return fmt.Errorf("batch %s: items and process are required: %w", b.JobType, domain.ErrInvalidArgument)
	}
	items, err := b.Items(ctx)
	if err != nil {
		return fmt.Errorf("resolve work items: %w", err)
	}
	if err := rep.Start(ctx, len(items)); err != nil {
		return stopIfFinished(err)
	}
	if len(items) == 0 {
		return stopIfFinished(complete(ctx, rep, b.JobType, started, 0, 0, map[string]any{"message": "nothing to do"}))
	}

	maxErrs := b.MaxErrors
	if maxErrs <= 0 {
		maxErrs = DefaultMaxErrors
	}
	var (
		succeeded, failed int
		errs              = make([]ItemError, 0)
	)
	for i, item := range items {
		if ctx.Err() != nil {
			return errStopped
		}
		name := b.name(item)
		if err := rep.Advance(ctx, i, "processing "+name); err != nil {
			if errors.Is(err, domain.ErrJobFinished) {
				return errStopped
			}
			log.Warn().Err(err).Str("item", name).Msg("progress write failed")
		}

		if perr := protect(func() error { return b.Process(ctx, item) }); perr != nil {
			failed++
			if len(errs) < maxErrs {
				errs = append(errs, ItemError{Item: name, Error: perr.Error()})
			}
			log.Warn().Err(perr).Str("item", name).Msg("item failed")
		} else {
			succeeded++
		}

		if err := rep.Advance(ctx, i+1, "done: "+name); err != nil {
			if errors.Is(err, domain.ErrJobFinished) {
				return errStopped
			}
			log.Warn().Err(err).Str("item", name).Msg("progress write failed")
		}
	}

	log.Info().Int("succeeded", succeeded).Int("failed", failed).Msg("batch finished")
	return stopIfFinished(complete(ctx, rep, b.JobType, started, succeeded, failed, map[string]any{"errors": errs}))
}

func (b Batch[T]) name(item T) string {
	if b.Name != nil {
		return b.Name(item)
	}
	return fmt.Sprintf("%v", item)
}
