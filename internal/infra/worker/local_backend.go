package worker

import (
	"context"

	"github.com/google/uuid"

	"jobs-engine/internal/domain/ports/adapter"
)

var _ adapter.ExecutionBackend = (*LocalBackend)(nil)

// LocalBackend runs submissions in-process. Used by the single-binary dev
// mode and by tests.
type LocalBackend struct {
	exec *Executor
}

func NewLocalBackend(exec *Executor) *LocalBackend {
	return &LocalBackend{exec: exec}
}

func (b *LocalBackend) Submit(_ context.Context, sub adapter.Submission) (string, error) {
	ref := uuid.NewString()
	if err := b.exec.Execute(ref, sub); err != nil {
		return "", err
	}
	return ref, nil
}

// Revoke of an unknown or finished task is a no-op.
func (b *LocalBackend) Revoke(_ context.Context, taskRef string, terminate bool) error {
	b.exec.Cancel(taskRef, terminate)
	return nil
}
