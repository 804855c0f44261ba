package runner

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"jobs-engine/internal/progress"
	"jobs-engine/internal/registry"
)

// DelegateResult is what a delegated operation reports back.
type DelegateResult struct {
	OK      bool           `json:"ok"`
	Message string         `json:"message"`
	Result  map[string]any `json:"result"`
}

// Delegate runs a job that is a single call into another component.
// The job has exactly one unit of work.
type Delegate struct {
	JobType string
	Call    func(ctx context.Context) (DelegateResult, error)
}

func (d Delegate) Work(deps Deps) registry.WorkFunc {
	return func(ctx context.Context, jobID string) error {
		return guard(ctx, deps, d.JobType, jobID, d.run)
	}
}

func (d Delegate) run(ctx context.Context, rep *progress.Reporter, log zerolog.Logger, started time.Time) error {
	if err := rep.Start(ctx, 1); err != nil {
		return stopIfFinished(err)
	}
	res, err := d.Call(ctx)
	if err != nil {
		return err
	}
	if !res.OK {
		msg := res.Message
		if msg == "" {
			msg = "delegate reported failure"
		}
		log.Warn().Str("message", msg).Msg("delegate failed")
		return delegateError(msg)
	}

	detail := res.Message
	if detail == "" {
		detail = "done"
	}
	if err := rep.Advance(ctx, 1, detail); err != nil {
		if err := stopIfFinished(err); err == errStopped {
			return err
		}
		log.Warn().Err(err).Msg("progress write failed")
	}
	return stopIfFinished(complete(ctx, rep, d.JobType, started, 1, 0, res.Result))
}

// delegateError carries the delegate's own message verbatim into Fail.
type delegateError string

func (e delegateError) Error() string { return string(e) }
