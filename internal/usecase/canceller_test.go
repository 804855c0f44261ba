package usecase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobs-engine/internal/domain"
	"jobs-engine/internal/domain/model"
	"jobs-engine/internal/infra/db/memory"
	"jobs-engine/internal/progress"
	"jobs-engine/internal/usecase"
)

func dispatched(t *testing.T, repo *memory.JobRepo, backend *MockBackend, jobType string) *model.JobRecord {
	t.Helper()
	d := usecase.NewDispatcher(testRegistry(), repo, backend, nil, newTestLogger())
	rec, err := d.Start(context.Background(), jobType, nil)
	require.NoError(t, err)
	return rec
}

func TestCanceller_Stop(t *testing.T) {
	ctx := context.Background()

	t.Run("running job is cancelled and revoked", func(t *testing.T) {
		repo := memory.NewJobRepo()
		backend := &MockBackend{}
		rec := dispatched(t, repo, backend, "generate_bios")

		rep := progress.New(repo, rec.ID, nil)
		require.NoError(t, rep.Start(ctx, 100))
		require.NoError(t, rep.Advance(ctx, 40, "processing P40"))

		c := usecase.NewCanceller(repo, backend, newTestLogger())
		got, err := c.Stop(ctx, rec.ID, "admin")
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCancelled, got.Status)
		assert.Equal(t, "Cancelled by admin", got.ProgressDetail)
		assert.Equal(t, 40, got.ProgressCurrent)
		assert.NotNil(t, got.CompletedAt)
		assert.Equal(t, []string{rec.BackendTaskRef}, backend.Revoked())

		// the body keeps running until its next write and then stops
		assert.ErrorIs(t, rep.Advance(ctx, 41, "done: P40"), domain.ErrJobFinished)
		assert.ErrorIs(t, rep.Complete(ctx, 41, 0, nil), domain.ErrJobFinished)
		final, _ := repo.Get(ctx, rec.ID)
		assert.Equal(t, model.JobStatusCancelled, final.Status)
		assert.Equal(t, 40, final.ProgressCurrent)
	})

	t.Run("pending job never starts after cancel", func(t *testing.T) {
		repo := memory.NewJobRepo()
		backend := &MockBackend{}
		rec := dispatched(t, repo, backend, "sync_members")

		_, err := usecase.NewCanceller(repo, backend, newTestLogger()).Stop(ctx, rec.ID, "ops")
		require.NoError(t, err)

		assert.ErrorIs(t, progress.New(repo, rec.ID, nil).Start(ctx, 1), domain.ErrJobFinished)
	})

	t.Run("terminal job is not cancellable", func(t *testing.T) {
		repo := memory.NewJobRepo()
		backend := &MockBackend{}
		rec := dispatched(t, repo, backend, "sync_members")
		rep := progress.New(repo, rec.ID, nil)
		require.NoError(t, rep.Start(ctx, 1))
		require.NoError(t, rep.Complete(ctx, 1, 0, nil))

		got, err := usecase.NewCanceller(repo, backend, newTestLogger()).Stop(ctx, rec.ID, "admin")
		assert.ErrorIs(t, err, domain.ErrNotCancellable)
		require.NotNil(t, got)
		assert.Equal(t, model.JobStatusCompleted, got.Status)
		assert.Empty(t, backend.Revoked())
	})

	t.Run("missing job", func(t *testing.T) {
		c := usecase.NewCanceller(memory.NewJobRepo(), &MockBackend{}, newTestLogger())
		_, err := c.Stop(ctx, "01HNOPE", "admin")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("revoke failure still cancels", func(t *testing.T) {
		repo := memory.NewJobRepo()
		backend := &MockBackend{RevokeFunc: func(context.Context, string, bool) error {
			return errors.New("broker gone")
		}}
		rec := dispatched(t, repo, backend, "sync_members")

		got, err := usecase.NewCanceller(repo, backend, newTestLogger()).Stop(ctx, rec.ID, "")
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCancelled, got.Status)
		assert.Equal(t, "Cancelled by unknown", got.ProgressDetail)
	})
}
