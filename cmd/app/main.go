// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"jobs-engine/internal/config"
	"jobs-engine/internal/domain/ports/adapter"
	"jobs-engine/internal/domain/ports/repository"
	"jobs-engine/internal/infra/db/memory"
	pg "jobs-engine/internal/infra/db/postgres"
	"jobs-engine/internal/infra/logging"
	"jobs-engine/internal/infra/metrics"
	red "jobs-engine/internal/infra/redis"
	"jobs-engine/internal/infra/sched"
	"jobs-engine/internal/infra/scheduler"
	"jobs-engine/internal/infra/web"
	"jobs-engine/internal/infra/worker"
	"jobs-engine/internal/runner"
	"jobs-engine/internal/usecase"
)

// Set by -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		// logger is not configured yet
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("config")
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister(nil)
	metrics.SetBuildInfo(version, commit, cfg.Runtime.Role)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("dev mode: in-memory store and in-process workers")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("exit")
	}
	logger.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	var (
		wg      sync.WaitGroup
		cleanup []func()
	)
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()
	goRun := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Str("component", name).Msg("stopped with error")
			}
		}()
	}

	// ---- Store ----
	var (
		repo   repository.JobRepository
		pool   *pgxpool.Pool
		health = map[string]web.HealthCheck{}
	)
	if cfg.Runtime.Dev {
		repo = memory.NewJobRepo()
	} else {
		p, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return err
		}
		pool = p
		cleanup = append(cleanup, pool.Close)
		if err := pg.Migrate(ctx, pool, logger); err != nil {
			return err
		}
		repo = pg.NewJobRepo(pool, pg.NewTxManager(pool))
		health["postgres"] = pool.Ping
		goRun("db-stats", func(ctx context.Context) error { return reportPoolStats(ctx, pool) })
	}

	// ---- Registry ----
	reg, err := buildRegistry(cfg, runner.Deps{Repo: repo, Logger: logger})
	if err != nil {
		return err
	}
	logger.Info().Int("job_types", reg.Len()).Strs("queues", reg.Queues()).Msg("registry built")

	// ---- Execution backend ----
	var (
		backend  adapter.ExecutionBackend
		locker   adapter.Locker
		limiter  *red.RateLimiter
		queueBkd *red.QueueBackend
	)
	runsWorker := cfg.Runtime.Role != config.RoleAPI || cfg.Runtime.Dev
	runsAPI := cfg.Runtime.Role != config.RoleWorker || cfg.Runtime.Dev

	var exec *worker.Executor
	if runsWorker {
		wp := worker.NewPool(cfg.Worker.Concurrency, cfg.Worker.QueueSize, logger)
		wp.Start(ctx)
		cleanup = append(cleanup, wp.Stop)
		exec = worker.NewExecutor(wp, reg, logger)
	}

	if cfg.Runtime.Dev {
		backend = worker.NewLocalBackend(exec)
	} else {
		rc, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return err
		}
		cleanup = append(cleanup, func() { _ = rc.Close() })
		health["redis"] = rc.Ping
		queueBkd = red.NewQueueBackend(rc, cfg.Redis.RevokeTTL)
		backend = queueBkd
		locker = red.NewLocker(rc)
		limiter = red.NewRateLimiter(rc)
	}

	dispatcher := usecase.NewDispatcher(reg, repo, backend, locker, logger, usecase.WithLockTTL(cfg.Redis.LockTTL))
	canceller := usecase.NewCanceller(repo, backend, logger)
	inspector := usecase.NewInspector(reg, repo)

	// ---- Worker side ----
	if runsWorker {
		if queueBkd != nil {
			queues := cfg.Worker.Queues
			if len(queues) == 0 {
				queues = reg.Queues()
			}
			consumer := red.NewConsumer(queueBkd, exec, repo, queues, cfg.Worker.PollTimeout, logger)
			goRun("consumer", consumer.Run)
		}
		sweeper := sched.NewOrphanSweeper(repo, cfg.Sweeper.Interval, cfg.Sweeper.StaleAfter, logger)
		goRun("orphan-sweeper", sweeper.Run)
	}

	// ---- API side ----
	if runsAPI {
		cron := scheduler.NewScheduler(dispatcher, logger)
		for _, j := range cfg.Jobs {
			if j.Schedule == "" {
				continue
			}
			if err := cron.Add(j.Key, j.Schedule); err != nil {
				return err
			}
		}
		cron.Start(ctx)
		cleanup = append(cleanup, cron.Stop)

		opts := []web.Option{}
		if limiter != nil && cfg.HTTP.TriggerLimit > 0 {
			opts = append(opts, web.WithLimiter(limiter, cfg.HTTP.TriggerLimit))
		}
		for name, hc := range health {
			opts = append(opts, web.WithHealthCheck(name, hc))
		}
		srv := web.NewServer(cfg.HTTP, dispatcher, canceller, inspector, logger, opts...)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("http server failed")
				stopSelf()
			}
		}()
		cleanup = append(cleanup, func() {
			sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				logger.Error().Err(err).Msg("http shutdown")
			}
		})
	}

	logger.Info().Str("role", cfg.Runtime.Role).Bool("dev", cfg.Runtime.Dev).Msg("started")
	<-ctx.Done()
	logger.Info().Msg("shutting down")
	wg.Wait()
	return nil
}

// stopSelf delivers SIGTERM to this process so the signal context unwinds
// everything the same way an operator stop would.
func stopSelf() {
	if p, err := os.FindProcess(os.Getpid()); err == nil {
		_ = p.Signal(syscall.SIGTERM)
	}
}

func reportPoolStats(ctx context.Context, pool *pgxpool.Pool) error {
	t := time.NewTicker(15 * time.Second)
	defer t.Stop()
	for {
		s := pool.Stat()
		metrics.SetDBPoolStats(s.TotalConns(), s.IdleConns(), s.AcquiredConns())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
