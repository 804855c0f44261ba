//go:build integration

package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobs-engine/internal/config"
	"jobs-engine/internal/domain"
	"jobs-engine/internal/domain/model"
	"jobs-engine/internal/domain/ports/adapter"
	"jobs-engine/internal/infra/worker"
	"jobs-engine/internal/registry"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}
	ctx := context.Background()
	c, err := NewClient(ctx, &config.RedisConfig{URL: url})
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	require.NoError(t, c.cli.FlushDB(ctx).Err())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestLocker(t *testing.T) {
	ctx := context.Background()
	l := NewLocker(testClient(t))

	token, err := l.TryLock(ctx, "jobs:lock:test", time.Second)
	require.NoError(t, err)

	_, err = l.TryLock(ctx, "jobs:lock:test", time.Second)
	assert.ErrorIs(t, err, domain.ErrAlreadyRunning)

	require.NoError(t, l.Unlock(ctx, "jobs:lock:test", "someone-else"))
	_, err = l.TryLock(ctx, "jobs:lock:test", time.Second)
	assert.ErrorIs(t, err, domain.ErrAlreadyRunning)

	require.NoError(t, l.Unlock(ctx, "jobs:lock:test", token))
	_, err = l.TryLock(ctx, "jobs:lock:test", time.Second)
	assert.NoError(t, err)
}

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()
	rl := NewRateLimiter(testClient(t))
	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, TriggerKey("admin"), 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, TriggerKey("admin"), 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueueBackend_SubmitConsumeRevoke(t *testing.T) {
	c := testClient(t)
	ran := make(chan string, 4)
	reg := registry.NewBuilder().
		MustRegister(model.JobTypeDescriptor{Key: "sync_members"}, func(_ context.Context, jobID string) error {
			ran <- jobID
			return nil
		}).
		Build()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	log := zerolog.Nop()
	pool := worker.NewPool(1, 4, &log)
	pool.Start(ctx)
	defer pool.Stop()

	backend := NewQueueBackend(c, time.Minute)

	// revoked before it is consumed
	ref, err := backend.Submit(ctx, adapter.Submission{JobType: "sync_members", JobID: "job-revoked"})
	require.NoError(t, err)
	require.NoError(t, backend.Revoke(ctx, ref, true))
	revoked, err := backend.IsRevoked(ctx, ref)
	require.NoError(t, err)
	assert.True(t, revoked)

	_, err = backend.Submit(ctx, adapter.Submission{JobType: "sync_members", JobID: "job-1"})
	require.NoError(t, err)

	consumer := NewConsumer(backend, worker.NewExecutor(pool, reg, &log), nil, []string{"default"}, 100*time.Millisecond, &log)
	go func() { _ = consumer.Run(ctx) }()

	select {
	case id := <-ran:
		assert.Equal(t, "job-1", id)
	case <-time.After(3 * time.Second):
		t.Fatal("job was not consumed")
	}
	n, err := backend.Len(ctx, "default")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, ran)
}
