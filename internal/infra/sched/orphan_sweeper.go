package sched

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"jobs-engine/internal/domain"
	"jobs-engine/internal/domain/model"
	"jobs-engine/internal/domain/ports/repository"
	"jobs-engine/internal/infra/metrics"
)

// OrphanSweeper periodically fails Running records that have not been
// written for staleAfter: their worker died without a terminal write and
// they would otherwise hold the single-flight slot forever.
type OrphanSweeper struct {
	repo       repository.JobRepository
	interval   time.Duration // how often to scan
	staleAfter time.Duration // how long without a write makes a record orphaned
	log        *zerolog.Logger
}

func NewOrphanSweeper(repo repository.JobRepository, interval, staleAfter time.Duration, logger *zerolog.Logger) *OrphanSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	l := logger.With().Str("component", "OrphanSweeper").Logger()
	return &OrphanSweeper{repo: repo, interval: interval, staleAfter: staleAfter, log: &l}
}

// Run sweeps once on startup, then on every tick. A zero staleAfter
// disables the sweeper and Run returns immediately.
func (w *OrphanSweeper) Run(ctx context.Context) error {
	if w.staleAfter <= 0 {
		w.log.Info().Msg("orphan sweeper disabled")
		return nil
	}
	w.log.Info().Dur("stale_after", w.staleAfter).Msg("Starting orphan sweeper")
	w.tick(ctx)

	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping orphan sweeper")
			return ctx.Err()
		case <-t.C:
			w.tick(ctx)
		}
	}
}

func (w *OrphanSweeper) tick(ctx context.Context) {
	n, err := w.Sweep(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("orphan sweep failed")
	}
	if n > 0 {
		w.log.Warn().Int("count", n).Msg("orphaned jobs failed")
	}
}

// Sweep fails every stale Running record and returns how many it failed.
func (w *OrphanSweeper) Sweep(ctx context.Context) (int, error) {
	stale, err := w.repo.ListStale(ctx, w.staleAfter)
	if err != nil {
		return 0, err
	}
	msg := fmt.Sprintf("orphaned: no progress for %s", w.staleAfter)
	n := 0
	for _, rec := range stale {
		now := time.Now().UTC()
		// the write only lands if nothing touched the record since the scan
		failed, err := w.repo.UpdateIfUnchanged(ctx, rec.ID, rec.UpdatedAt, model.JobUpdate{
			Status:         model.Ref(model.JobStatusFailed),
			ErrorMessage:   &msg,
			ProgressDetail: model.Ref("Failed"),
			CompletedAt:    &now,
			AppendLog:      "Failed: " + msg,
		})
		if errors.Is(err, domain.ErrJobFinished) {
			continue // finished between the scan and the write
		}
		if err != nil {
			w.log.Error().Err(err).Str("job_id", rec.ID).Msg("fail orphaned job")
			continue
		}
		if !failed {
			w.log.Debug().Str("job_id", rec.ID).Msg("job progressed since the scan, kept running")
			continue
		}
		metrics.IncJobOrphaned(rec.JobType)
		w.log.Warn().Str("job_id", rec.ID).Str("job_type", rec.JobType).Time("last_write", rec.UpdatedAt).Msg("job orphaned")
		n++
	}
	return n, nil
}
