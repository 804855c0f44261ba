package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"jobs-engine/internal/config"
	"jobs-engine/internal/domain/model"
	"jobs-engine/internal/registry"
	"jobs-engine/internal/runner"
)

// buildRegistry registers the config-declared job types and, in dev mode,
// two demo types that need no external system.
func buildRegistry(cfg *config.Config, deps runner.Deps) (*registry.Registry, error) {
	b := registry.NewBuilder()

	for _, j := range cfg.Jobs {
		desc := model.JobTypeDescriptor{Key: j.Key, Label: j.Label, Queue: j.Queue, Description: j.Description}
		var work registry.WorkFunc
		switch j.Kind {
		case config.JobKindCommand:
			work = runner.Command{JobType: j.Key, Path: j.Command, Args: j.Args, Env: j.Env, Dir: j.Dir}.Work(deps)
		case config.JobKindHTTP:
			timeout := j.Timeout
			if timeout <= 0 {
				timeout = 5 * time.Minute
			}
			call := runner.HTTPCall(&http.Client{Timeout: timeout}, j.Method, j.URL, j.Headers)
			work = runner.Delegate{JobType: j.Key, Call: call}.Work(deps)
		default:
			return nil, fmt.Errorf("job %s: unsupported kind %q", j.Key, j.Kind)
		}
		if err := b.Register(desc, work); err != nil {
			return nil, err
		}
	}

	if cfg.Runtime.Dev {
		if err := registerDemoJobs(b, deps); err != nil {
			return nil, err
		}
	}
	return b.Build(), nil
}

func registerDemoJobs(b *registry.Builder, deps runner.Deps) error {
	batch := runner.Batch[int]{
		JobType: "demo_batch",
		Items: func(context.Context) ([]int, error) {
			items := make([]int, 20)
			for i := range items {
				items[i] = i + 1
			}
			return items, nil
		},
		Process: func(ctx context.Context, n int) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
			if n%7 == 0 {
				return fmt.Errorf("item %d rejected", n)
			}
			return nil
		},
		Name: func(n int) string { return fmt.Sprintf("item-%02d", n) },
	}
	if err := b.Register(model.JobTypeDescriptor{
		Key:         "demo_batch",
		Label:       "Demo batch",
		Description: "Processes 20 synthetic items; every seventh fails.",
	}, batch.Work(deps)); err != nil {
		return err
	}

	delegate := runner.Delegate{
		JobType: "demo_sync",
		Call: func(ctx context.Context) (runner.DelegateResult, error) {
			select {
			case <-ctx.Done():
				return runner.DelegateResult{}, ctx.Err()
			case <-time.After(2 * time.Second):
			}
			return runner.DelegateResult{OK: true, Message: "Sync complete", Result: map[string]any{"created": 0, "updated": 0}}, nil
		},
	}
	return b.Register(model.JobTypeDescriptor{
		Key:         "demo_sync",
		Label:       "Demo sync",
		Description: "Single delegated call that succeeds after two seconds.",
	}, delegate.Work(deps))
}
