package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"jobs-engine/internal/domain/ports/adapter"
)

var _ adapter.ExecutionBackend = (*QueueBackend)(nil)

const (
	queuePrefix   = "jobs:queue:"
	revokedPrefix = "jobs:revoked:"
	revokeChannel = "jobs:revoke"

	defaultQueue     = "default"
	defaultRevokeTTL = 24 * time.Hour
)

func QueueKey(queue string) string {
	if queue == "" {
		queue = defaultQueue
	}
	return queuePrefix + queue
}

func revokedKey(ref string) string { return revokedPrefix + ref }

// revocation is the pub/sub payload on revokeChannel.
type revocation struct {
	TaskRef   string `json:"task_ref"`
	Terminate bool   `json:"terminate"`
}

// QueueBackend submits envelopes to per-queue Redis lists consumed by
// Consumer. Revocations are a TTL'd marker plus a pub/sub broadcast.
type QueueBackend struct {
	cli       *redis.Client
	revokeTTL time.Duration
	now       func() time.Time
}

func NewQueueBackend(c *Client, revokeTTL time.Duration) *QueueBackend {
	if revokeTTL <= 0 {
		revokeTTL = defaultRevokeTTL
	}
	return &QueueBackend{cli: c.cli, revokeTTL: revokeTTL, now: time.Now}
}

func (b *QueueBackend) Submit(ctx context.Context, sub adapter.Submission) (string, error) {
	if sub.Queue == "" {
		sub.Queue = defaultQueue
	}
	env := adapter.Envelope{Submission: sub, TaskRef: uuid.NewString(), EnqueuedAt: b.now().UTC()}
	payload, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	if err := b.cli.LPush(ctx, QueueKey(sub.Queue), payload).Err(); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", sub.JobType, err)
	}
	return env.TaskRef, nil
}

func (b *QueueBackend) Revoke(ctx context.Context, taskRef string, terminate bool) error {
	msg, err := json.Marshal(revocation{TaskRef: taskRef, Terminate: terminate})
	if err != nil {
		return err
	}
	pipe := b.cli.TxPipeline()
	pipe.Set(ctx, revokedKey(taskRef), terminate, b.revokeTTL)
	pipe.Publish(ctx, revokeChannel, msg)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("revoke %s: %w", taskRef, err)
	}
	return nil
}

// Requeue puts a popped payload back at the consuming end of its queue.
func (b *QueueBackend) Requeue(ctx context.Context, queue, payload string) error {
	return b.cli.RPush(ctx, QueueKey(queue), payload).Err()
}

func (b *QueueBackend) IsRevoked(ctx context.Context, taskRef string) (bool, error) {
	n, err := b.cli.Exists(ctx, revokedKey(taskRef)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (b *QueueBackend) Len(ctx context.Context, queue string) (int64, error) {
	return b.cli.LLen(ctx, QueueKey(queue)).Result()
}

func decodeEnvelope(payload string) (adapter.Envelope, error) {
	var env adapter.Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	if env.TaskRef == "" || env.JobID == "" || env.JobType == "" {
		return env, fmt.Errorf("incomplete envelope %q", payload)
	}
	return env, nil
}
