package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobs-engine/internal/domain"
	"jobs-engine/internal/domain/model"
	"jobs-engine/internal/domain/ports/adapter"
	"jobs-engine/internal/registry"
)

func waitFor(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
		return ""
	}
}

func TestLocalBackend_SubmitRunsWork(t *testing.T) {
	ran := make(chan string, 1)
	reg := registry.NewBuilder().
		MustRegister(model.JobTypeDescriptor{Key: "sync_members"}, func(_ context.Context, jobID string) error {
			ran <- jobID
			return nil
		}).
		Build()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := NewPool(1, 4, nil)
	pool.Start(ctx)
	defer pool.Stop()
	exec := NewExecutor(pool, reg, nil)
	b := NewLocalBackend(exec)

	ref, err := b.Submit(ctx, adapter.Submission{JobType: "sync_members", JobID: "job-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, ref)
	assert.Equal(t, "job-1", waitFor(t, ran))

	_, err = b.Submit(ctx, adapter.Submission{JobType: "nope", JobID: "job-2"})
	assert.ErrorIs(t, err, domain.ErrUnknownJobType)
}

func TestLocalBackend_RevokeQueuedTaskSkipsIt(t *testing.T) {
	ran := make(chan string, 1)
	reg := registry.NewBuilder().
		MustRegister(model.JobTypeDescriptor{Key: "generate_bios"}, func(_ context.Context, jobID string) error {
			ran <- jobID
			return nil
		}).
		Build()

	pool := NewPool(1, 4, nil)
	exec := NewExecutor(pool, reg, nil)
	b := NewLocalBackend(exec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ref, err := b.Submit(ctx, adapter.Submission{JobType: "generate_bios", JobID: "job-1"})
	require.NoError(t, err)
	require.NoError(t, b.Revoke(ctx, ref, false))

	pool.Start(ctx)
	defer pool.Stop()

	select {
	case <-ran:
		t.Fatal("revoked task ran")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Eventually(t, func() bool { return exec.InFlight() == 0 }, time.Second, 10*time.Millisecond)
}

func TestLocalBackend_TerminateCancelsRunningTask(t *testing.T) {
	started := make(chan string, 1)
	stopped := make(chan string, 1)
	reg := registry.NewBuilder().
		MustRegister(model.JobTypeDescriptor{Key: "generate_bios"}, func(ctx context.Context, jobID string) error {
			started <- jobID
			<-ctx.Done()
			stopped <- jobID
			return ctx.Err()
		}).
		Build()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := NewPool(1, 4, nil)
	pool.Start(ctx)
	defer pool.Stop()
	b := NewLocalBackend(NewExecutor(pool, reg, nil))

	ref, err := b.Submit(ctx, adapter.Submission{JobType: "generate_bios", JobID: "job-1"})
	require.NoError(t, err)
	waitFor(t, started)

	require.NoError(t, b.Revoke(ctx, ref, true))
	assert.Equal(t, "job-1", waitFor(t, stopped))

	// unknown refs are ignored
	assert.NoError(t, b.Revoke(ctx, "does-not-exist", true))
}
