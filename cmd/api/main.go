package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"reelforge/internal/adapter/repo"
	"reelforge/internal/domain"
	"reelforge/internal/http/handlers"
	"reelforge/internal/http/httpapi"
	"reelforge/internal/infra"
	"reelforge/internal/pipeline"
	"reelforge/internal/queue"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer rdb.Close()

	jobs := repo.NewJobRepository(dbpool)
	ledger := repo.NewLedgerRepository(dbpool)

	store, err := infra.NewAssetStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure asset store")
	}
	generator, err := infra.NewGenerator(cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure generation client")
	}

	orch := pipeline.New(pipeline.Deps{
		Jobs:      jobs,
		Ledger:    ledger,
		Generator: generator,
		Store:     store,
		Queue:     queue.New(rdb),
		Notify: func(_ context.Context, job *domain.VideoJob) {
			logger.Info().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("job resolved")
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

	app := handlers.NewApp(jobs, ledger, orch, logger)
	router := httpapi.NewRouter(app, logger, cfg.CORSAllowedOrigins)

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
