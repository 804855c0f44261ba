package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"jobs-engine/internal/domain"
	"jobs-engine/internal/progress"
	"jobs-engine/internal/registry"
)

var processedRe = regexp.MustCompile(`(?i)\bprocessed\s+(\d+)`)

// commandWaitDelay bounds how long Wait keeps draining output after the
// process was killed, e.g. when a detached grandchild still holds stdout.
const commandWaitDelay = 2 * time.Second

// Command runs an external program and reports its output stream.
// Every output line goes to the job log; "Processed N" lines move the
// progress counter. Prefer Batch or Delegate for new job types.
type Command struct {
	JobType string
	Path    string
	Args    []string
	Env     []string
	Dir     string
}

func (c Command) Work(deps Deps) registry.WorkFunc {
	return func(ctx context.Context, jobID string) error {
		return guard(ctx, deps, c.JobType, jobID, c.run)
	}
}

func (c Command) run(ctx context.Context, rep *progress.Reporter, log zerolog.Logger, started time.Time) error {
	if c.Path == "" {
		return fmt.Errorf("command %s: empty path: %w", c.JobType, domain.ErrInvalidArgument)
	}
	if err := rep.Start(ctx, 0); err != nil {
		return stopIfFinished(err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.WaitDelay = commandWaitDelay
	killProcessGroup(cmd)
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", c.Path, err)
	}
	waitErr := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		_ = pw.Close()
		waitErr <- err
	}()

	var (
		processed = -1
		lastLine  string
		stopped   bool
	)
	sc := bufio.NewScanner(pr)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" || stopped {
			continue
		}
		lastLine = line

		var werr error
		if m := processedRe.FindStringSubmatch(line); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				processed = n
				werr = rep.Advance(ctx, n, line)
			}
		} else {
			werr = rep.Log(ctx, line)
		}
		if errors.Is(werr, domain.ErrJobFinished) {
			// record already final: kill the process and drain
			stopped = true
			cancel()
		} else if werr != nil {
			log.Warn().Err(werr).Msg("progress write failed")
		}
	}
	if err := sc.Err(); err != nil {
		log.Warn().Err(err).Msg("read command output")
		_, _ = io.Copy(io.Discard, pr)
	}

	err := <-waitErr
	if stopped {
		return errStopped
	}
	if err != nil {
		if lastLine != "" {
			return fmt.Errorf("%s: %w (last output: %s)", c.Path, err, lastLine)
		}
		return fmt.Errorf("%s: %w", c.Path, err)
	}

	if processed < 0 {
		processed = 1
	}
	if err := rep.Advance(ctx, processed, ""); err != nil {
		if stopIfFinished(err) == errStopped {
			return errStopped
		}
		log.Warn().Err(err).Msg("progress write failed")
	}
	return stopIfFinished(complete(ctx, rep, c.JobType, started, processed, 0, map[string]any{"processed": processed}))
}
