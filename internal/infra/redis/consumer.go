package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"jobs-engine/internal/domain"
	"jobs-engine/internal/domain/model"
	"jobs-engine/internal/domain/ports/adapter"
	"jobs-engine/internal/domain/ports/repository"
)

// TaskExecutor runs popped submissions; worker.Executor implements it.
type TaskExecutor interface {
	ExecuteWait(ctx context.Context, ref string, sub adapter.Submission) error
	Cancel(ref string, terminate bool) bool
}

// envelopeStore is the part of QueueBackend a popped envelope touches.
type envelopeStore interface {
	IsRevoked(ctx context.Context, taskRef string) (bool, error)
	Requeue(ctx context.Context, queue, payload string) error
}

// Consumer pops envelopes from the configured queues and runs them on the
// worker pool. Queues are polled in the given order, so earlier queues win
// when several have work.
type Consumer struct {
	backend     *QueueBackend
	store       envelopeStore
	exec        TaskExecutor
	repo        repository.JobRepository // optional: fails records the worker cannot run
	queues      []string
	pollTimeout time.Duration
	log         *zerolog.Logger
}

func NewConsumer(backend *QueueBackend, exec TaskExecutor, repo repository.JobRepository, queues []string, pollTimeout time.Duration, logger *zerolog.Logger) *Consumer {
	if len(queues) == 0 {
		queues = []string{defaultQueue}
	}
	if pollTimeout <= 0 {
		pollTimeout = 5 * time.Second
	}
	l := logger.With().Str("component", "consumer").Strs("queues", queues).Logger()
	return &Consumer{backend: backend, store: backend, exec: exec, repo: repo, queues: queues, pollTimeout: pollTimeout, log: &l}
}

// Run blocks until ctx ends.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info().Msg("Starting queue consumer")
	go c.listenRevocations(ctx)

	keys := make([]string, len(c.queues))
	for i, q := range c.queues {
		keys[i] = QueueKey(q)
	}

	for {
		if ctx.Err() != nil {
			c.log.Info().Msg("Stopping queue consumer")
			return ctx.Err()
		}
		res, err := c.backend.cli.BRPop(ctx, c.pollTimeout, keys...).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.log.Error().Err(err).Msg("dequeue failed")
			sleep(ctx, time.Second)
			continue
		}
		// res = [key, payload]
		c.handle(ctx, res[1])
	}
}

func (c *Consumer) handle(ctx context.Context, payload string) {
	env, err := decodeEnvelope(payload)
	if err != nil {
		c.log.Error().Err(err).Msg("dropping malformed envelope")
		return
	}
	log := c.log.With().Str("task_ref", env.TaskRef).Str("job_id", env.JobID).Str("job_type", env.JobType).Logger()

	revoked, err := c.store.IsRevoked(ctx, env.TaskRef)
	if err != nil {
		log.Warn().Err(err).Msg("revocation check failed")
	}
	if revoked {
		log.Info().Msg("skipping revoked task")
		return
	}

	err = c.exec.ExecuteWait(ctx, env.TaskRef, env.Submission)
	switch {
	case err == nil:
		log.Debug().Dur("queued_for", time.Since(env.EnqueuedAt)).Msg("task accepted")
	case errors.Is(err, domain.ErrUnknownJobType):
		log.Error().Msg("job type not registered on this worker")
		c.failRecord(ctx, env, "job type not registered on worker")
	case ctx.Err() != nil:
		// shutting down: put the envelope back for another worker
		if perr := c.store.Requeue(context.WithoutCancel(ctx), env.Queue, payload); perr != nil {
			log.Error().Err(perr).Msg("requeue on shutdown failed")
		}
	default:
		log.Error().Err(err).Msg("execute failed")
		c.failRecord(ctx, env, err.Error())
	}
}

func (c *Consumer) failRecord(ctx context.Context, env adapter.Envelope, msg string) {
	if c.repo == nil {
		return
	}
	now := time.Now().UTC()
	err := c.repo.UpdateFields(ctx, env.JobID, model.JobUpdate{
		Status:         model.Ref(model.JobStatusFailed),
		ErrorMessage:   &msg,
		ProgressDetail: model.Ref("Failed"),
		CompletedAt:    &now,
		AppendLog:      "Failed: " + msg,
	})
	if err != nil && !errors.Is(err, domain.ErrJobFinished) {
		c.log.Error().Err(err).Str("job_id", env.JobID).Msg("mark job failed")
	}
}

func (c *Consumer) listenRevocations(ctx context.Context) {
	sub := c.backend.cli.Subscribe(ctx, revokeChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var r revocation
			if err := json.Unmarshal([]byte(msg.Payload), &r); err != nil {
				c.log.Warn().Err(err).Msg("bad revocation message")
				continue
			}
			if c.exec.Cancel(r.TaskRef, r.Terminate) {
				c.log.Info().Str("task_ref", r.TaskRef).Bool("terminate", r.Terminate).Msg("task revoked")
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
