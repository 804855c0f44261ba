package worker

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"jobs-engine/internal/domain/ports/adapter"
	"jobs-engine/internal/infra/logging"
	"jobs-engine/internal/registry"
)

type inflight struct {
	cancel  context.CancelFunc // nil until the task starts
	revoked bool
}

// Executor resolves submissions against the registry and runs them on a
// Pool with a per-task cancelable context, so a task can be revoked while
// queued or terminated while running.
type Executor struct {
	pool *Pool
	reg  *registry.Registry
	log  *zerolog.Logger

	mu    sync.Mutex
	tasks map[string]*inflight
}

func NewExecutor(pool *Pool, reg *registry.Registry, logger *zerolog.Logger) *Executor {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "executor").Logger()
	return &Executor{pool: pool, reg: reg, log: &l, tasks: make(map[string]*inflight)}
}

// Execute queues the task without blocking.
func (e *Executor) Execute(ref string, sub adapter.Submission) error {
	task, err := e.prepare(ref, sub)
	if err != nil {
		return err
	}
	if err := e.pool.Submit(task); err != nil {
		e.forget(ref)
		return err
	}
	return nil
}

// ExecuteWait queues the task, waiting for pool capacity.
func (e *Executor) ExecuteWait(ctx context.Context, ref string, sub adapter.Submission) error {
	task, err := e.prepare(ref, sub)
	if err != nil {
		return err
	}
	if err := e.pool.SubmitWait(ctx, task); err != nil {
		e.forget(ref)
		return err
	}
	return nil
}

// Cancel marks ref revoked. With terminate, a running task's context is
// cancelled too. Reports whether the task was known to this executor.
func (e *Executor) Cancel(ref string, terminate bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[ref]
	if !ok {
		return false
	}
	t.revoked = true
	if terminate && t.cancel != nil {
		t.cancel()
	}
	return true
}

// InFlight counts queued and running tasks.
func (e *Executor) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tasks)
}

func (e *Executor) prepare(ref string, sub adapter.Submission) (Task, error) {
	entry, err := e.reg.Lookup(sub.JobType)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.tasks[ref] = &inflight{}
	e.mu.Unlock()

	return func(ctx context.Context) error {
		defer e.forget(ref)

		ctx, cancel := context.WithCancel(logging.WithJobType(logging.WithJobID(ctx, sub.JobID), sub.JobType))
		defer cancel()

		e.mu.Lock()
		t := e.tasks[ref]
		if t == nil || t.revoked {
			e.mu.Unlock()
			e.log.Info().Str("task_ref", ref).Str("job_id", sub.JobID).Msg("skipping revoked task")
			return nil
		}
		t.cancel = cancel
		e.mu.Unlock()

		e.log.Debug().Str("task_ref", ref).Str("job_id", sub.JobID).Str("job_type", sub.JobType).Msg("task started")
		return entry.Work(ctx, sub.JobID)
	}, nil
}

func (e *Executor) forget(ref string) {
	e.mu.Lock()
	delete(e.tasks, ref)
	e.mu.Unlock()
}
