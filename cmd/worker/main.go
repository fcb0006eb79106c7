package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"reelforge/internal/adapter/repo"
	"reelforge/internal/domain"
	"reelforge/internal/infra"
	"reelforge/internal/pipeline"
	"reelforge/internal/queue"
)

const dequeueBlock = 5 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: redis connection failed")
	}
	defer rdb.Close()

	store, err := infra.NewAssetStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}
	generator, err := infra.NewGenerator(cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure generation client")
	}

	q := queue.New(rdb)
	orch := pipeline.New(pipeline.Deps{
		Jobs:      repo.NewJobRepository(pool),
		Ledger:    repo.NewLedgerRepository(pool),
		Generator: generator,
		Store:     store,
		Queue:     q,
		Notify: func(_ context.Context, job *domain.VideoJob) {
			logger.Info().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("worker: job resolved")
		},
		Logger: logger,
	}, pipeline.Options{
		PollInterval:  cfg.PollInterval,
		PollBudget:    cfg.PollBudget,
		SubmitRetries: cfg.SubmitRetries,
		SubmitBackoff: cfg.SubmitBackoff,
		DownloadTTL:   cfg.DownloadTTL,
		StaleAfter:    cfg.StaleAfter,
	})

	logger.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("worker: started")

	var wg sync.WaitGroup
	for i := 0; i < cfg.WorkerConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runDequeueLoop(ctx, q, orch, logger)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		runResumeLoop(ctx, orch, cfg.ResumeInterval, logger)
	}()

	<-ctx.Done()
	wg.Wait()
	logger.Info().Msg("worker: stopped")
}

func runDequeueLoop(ctx context.Context, q *queue.RedisQ, orch *pipeline.Orchestrator, logger infra.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		jobID, err := q.Dequeue(ctx, dequeueBlock)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Error().Err(err).Msg("worker: dequeue failed")
			time.Sleep(dequeueBlock)
			continue
		}
		if jobID == "" {
			continue
		}

		logger.Info().Str("job_id", jobID).Msg("worker: picked job")
		if err := orch.Process(ctx, jobID); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Str("job_id", jobID).Msg("worker: job processing aborted")
		}
	}
}

// runResumeLoop scans for jobs a previous process left in a non-terminal
// state, once at startup and then on a fixed interval.
func runResumeLoop(ctx context.Context, orch *pipeline.Orchestrator, interval time.Duration, logger infra.Logger) {
	if n, err := orch.Resume(ctx); err != nil {
		logger.Error().Err(err).Msg("worker: startup resume scan failed")
	} else if n > 0 {
		logger.Info().Int("count", n).Msg("worker: resumed stale jobs")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := orch.Resume(ctx); err != nil {
				logger.Error().Err(err).Msg("worker: resume scan failed")
			} else if n > 0 {
				logger.Info().Int("count", n).Msg("worker: resumed stale jobs")
			}
		}
	}
}
