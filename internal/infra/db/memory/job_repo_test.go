package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobs-engine/internal/domain"
	"jobs-engine/internal/domain/model"
)

func TestJobRepo_CreateIsSingleFlight(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepo()

	first, err := repo.Create(ctx, "sync_members", nil)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, first.Status)
	assert.Equal(t, 1, first.ProgressTotal)
	assert.NotEmpty(t, first.ID)

	_, err = repo.Create(ctx, "sync_members", nil)
	assert.ErrorIs(t, err, domain.ErrAlreadyRunning)

	// other types are independent
	_, err = repo.Create(ctx, "generate_bios", nil)
	require.NoError(t, err)

	require.NoError(t, repo.UpdateFields(ctx, first.ID, model.JobUpdate{Status: model.Ref(model.JobStatusCompleted)}))
	_, err = repo.Create(ctx, "sync_members", nil)
	assert.NoError(t, err)
}

func TestJobRepo_ConcurrentCreateYieldsOneActive(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepo()

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Create(ctx, "import", nil); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created)
}

func TestJobRepo_TerminalLatch(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepo()
	rec, err := repo.Create(ctx, "import", nil)
	require.NoError(t, err)

	require.NoError(t, repo.UpdateFields(ctx, rec.ID, model.JobUpdate{Status: model.Ref(model.JobStatusCancelled)}))

	err = repo.UpdateFields(ctx, rec.ID, model.JobUpdate{
		Status:          model.Ref(model.JobStatusRunning),
		ProgressCurrent: model.Ref(5),
	})
	assert.ErrorIs(t, err, domain.ErrJobFinished)
	assert.ErrorIs(t, repo.AppendLog(ctx, rec.ID, "late line"), domain.ErrJobFinished)

	got, err := repo.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, got.Status)
	assert.Equal(t, 0, got.ProgressCurrent)
	assert.Empty(t, got.Log)
}

func TestJobRepo_AppendLogAndClear(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepo()
	rec, _ := repo.Create(ctx, "import", nil)

	require.NoError(t, repo.AppendLog(ctx, rec.ID, "one"))
	require.NoError(t, repo.AppendLog(ctx, rec.ID, "two"))
	require.NoError(t, repo.AppendLog(ctx, rec.ID, ""))

	got, _ := repo.Get(ctx, rec.ID)
	assert.Equal(t, []string{"one", "two"}, got.LogLines())

	require.NoError(t, repo.UpdateFields(ctx, rec.ID, model.JobUpdate{ClearLog: true, AppendLog: "fresh"}))
	got, _ = repo.Get(ctx, rec.ID)
	assert.Equal(t, "fresh\n", got.Log)
}

func TestJobRepo_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepo()
	rec, _ := repo.Create(ctx, "import", nil)
	require.NoError(t, repo.UpdateFields(ctx, rec.ID, model.JobUpdate{Result: map[string]any{"n": 1}}))

	got, _ := repo.Get(ctx, rec.ID)
	got.Result["n"] = 2
	got.Status = model.JobStatusFailed

	again, _ := repo.Get(ctx, rec.ID)
	assert.Equal(t, 1, again.Result["n"])
	assert.Equal(t, model.JobStatusPending, again.Status)
}

func TestJobRepo_ListFiltersNewestFirst(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := NewJobRepo().WithClock(func() time.Time { return now })

	var ids []string
	for _, typ := range []string{"a", "b", "a"} {
		now = now.Add(time.Minute)
		rec, err := repo.Create(ctx, typ, nil)
		require.NoError(t, err)
		ids = append(ids, rec.ID)
		require.NoError(t, repo.UpdateFields(ctx, rec.ID, model.JobUpdate{Status: model.Ref(model.JobStatusCompleted)}))
	}

	all, err := repo.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID)
	assert.Equal(t, ids[0], all[2].ID)

	onlyA, err := repo.List(ctx, model.JobFilter{JobType: "a"})
	require.NoError(t, err)
	assert.Len(t, onlyA, 2)

	limited, _ := repo.Recent(ctx, 1)
	assert.Len(t, limited, 1)

	none, _ := repo.List(ctx, model.JobFilter{Status: model.JobStatusRunning})
	assert.Empty(t, none)
}

func TestJobRepo_ListStale(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := NewJobRepo().WithClock(func() time.Time { return now })

	stuck, _ := repo.Create(ctx, "stuck", nil)
	require.NoError(t, repo.UpdateFields(ctx, stuck.ID, model.JobUpdate{Status: model.Ref(model.JobStatusRunning)}))
	pending, _ := repo.Create(ctx, "pending", nil)
	_ = pending

	now = now.Add(2 * time.Hour)
	fresh, _ := repo.Create(ctx, "fresh", nil)
	require.NoError(t, repo.UpdateFields(ctx, fresh.ID, model.JobUpdate{Status: model.Ref(model.JobStatusRunning)}))

	stale, err := repo.ListStale(ctx, time.Hour)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, stuck.ID, stale[0].ID)
}

func TestJobRepo_UpdateIfUnchanged(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := NewJobRepo().WithClock(func() time.Time { return now })
	failed := model.JobUpdate{Status: model.Ref(model.JobStatusFailed)}

	rec, _ := repo.Create(ctx, "stuck", nil)
	ok, err := repo.UpdateIfUnchanged(ctx, rec.ID, rec.UpdatedAt, failed)
	require.NoError(t, err)
	assert.False(t, ok, "pending records are not touched")

	require.NoError(t, repo.UpdateFields(ctx, rec.ID, model.JobUpdate{Status: model.Ref(model.JobStatusRunning)}))
	seen, _ := repo.Get(ctx, rec.ID)

	now = now.Add(time.Minute)
	require.NoError(t, repo.UpdateFields(ctx, rec.ID, model.JobUpdate{ProgressCurrent: model.Ref(1)}))
	ok, err = repo.UpdateIfUnchanged(ctx, rec.ID, seen.UpdatedAt, failed)
	require.NoError(t, err)
	assert.False(t, ok, "record written after it was read")

	current, _ := repo.Get(ctx, rec.ID)
	ok, err = repo.UpdateIfUnchanged(ctx, rec.ID, current.UpdatedAt, failed)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = repo.UpdateIfUnchanged(ctx, rec.ID, current.UpdatedAt, failed)
	assert.ErrorIs(t, err, domain.ErrJobFinished)
	_, err = repo.UpdateIfUnchanged(ctx, "missing", now, failed)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJobRepo_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepo()
	_, err := repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, repo.UpdateFields(ctx, "missing", model.JobUpdate{}), domain.ErrNotFound)
	_, err = repo.FindActive(ctx, "x")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
