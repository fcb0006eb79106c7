package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"reelforge/internal/domain"
	"reelforge/internal/pipeline"
)

// App is the handler container. It is a thin serialization layer over the
// pipeline; authentication happens upstream and arrives as a user header.
type App struct {
	Jobs     domain.JobRepository
	Ledger   domain.LedgerRepository
	Pipeline *pipeline.Orchestrator
	Logger   zerolog.Logger
}

func NewApp(jobs domain.JobRepository, ledger domain.LedgerRepository, pl *pipeline.Orchestrator, logger zerolog.Logger) *App {
	return &App{Jobs: jobs, Ledger: ledger, Pipeline: pl, Logger: logger}
}

func (a *App) currentUserID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-User-ID"))
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]any{
		"error": map[string]string{"code": errCode, "message": message},
	})
}
