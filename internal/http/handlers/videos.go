package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"reelforge/internal/domain"
	"reelforge/internal/pipeline"
)

type videoCreateRequest struct {
	Style             string `json:"style"`
	Script            string `json:"script"`
	VisualSummary     string `json:"visual_summary"`
	ReferenceImageURL string `json:"reference_image_url"`
}

type videoAssetResponse struct {
	PublicID          string    `json:"public_id"`
	SecureURL         string    `json:"secure_url"`
	ThumbnailURL      string    `json:"thumbnail_url"`
	DownloadURL       string    `json:"download_url"`
	DownloadExpiresAt time.Time `json:"download_expires_at"`
}

type videoErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type videoResponse struct {
	ID            string              `json:"id"`
	UserID        string              `json:"user_id"`
	Status        string              `json:"status"`
	Style         string              `json:"style"`
	Prompt        string              `json:"prompt,omitempty"`
	CreditsUsed   int                 `json:"credits_used"`
	Asset         *videoAssetResponse `json:"asset,omitempty"`
	Error         *videoErrorResponse `json:"error,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	GenerationAt  *time.Time          `json:"generation_started_at,omitempty"`
	CompletedAt   *time.Time          `json:"completed_at,omitempty"`
}

func videoToResponse(job *domain.VideoJob) videoResponse {
	resp := videoResponse{
		ID:           job.ID,
		UserID:       job.UserID,
		Status:       string(job.EffectiveStatus(time.Now())),
		Style:        job.Style,
		Prompt:       job.Prompt,
		CreditsUsed:  job.CreditsUsed,
		CreatedAt:    job.CreatedAt,
		GenerationAt: job.GenerationStartedAt,
		CompletedAt:  job.CompletedAt,
	}
	if job.Asset != nil {
		resp.Asset = &videoAssetResponse{
			PublicID:          job.Asset.PublicID,
			SecureURL:         job.Asset.SecureURL,
			ThumbnailURL:      job.Asset.ThumbnailURL,
			DownloadURL:       job.Asset.DownloadURL,
			DownloadExpiresAt: job.Asset.DownloadExpiresAt,
		}
	}
	if job.Error != nil {
		resp.Error = &videoErrorResponse{Code: job.Error.Code, Message: job.Error.Message}
	}
	return resp
}

// VideosCreate accepts a confirmed script and queues a generation job. The
// call returns as soon as the job record exists; everything else runs in the
// background.
func (a *App) VideosCreate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req videoCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.Script == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "script is required")
		return
	}

	job, err := a.Pipeline.Submit(r.Context(), pipeline.SubmitRequest{
		UserID:            userID,
		Style:             req.Style,
		Script:            req.Script,
		VisualSummary:     req.VisualSummary,
		ReferenceImageURL: req.ReferenceImageURL,
	})
	switch {
	case errors.Is(err, domain.ErrInsufficientCredits):
		a.error(w, http.StatusPaymentRequired, "insufficient_credits", "not enough credits for a video generation")
		return
	case errors.Is(err, domain.ErrSubmissionRejected):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "credit account not found")
		return
	case err != nil:
		a.Logger.Error().Err(err).Msg("api: create video failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to queue video job")
		return
	}
	a.json(w, http.StatusAccepted, videoToResponse(job))
}

// VideoGet serializes one job record for its owner.
func (a *App) VideoGet(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	job, err := a.Jobs.GetForUser(r.Context(), jobID, userID)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	a.json(w, http.StatusOK, videoToResponse(job))
}

// VideosList returns the caller's recent jobs.
func (a *App) VideosList(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobs, err := a.Jobs.ListByUser(r.Context(), userID, 50)
	if err != nil {
		a.Logger.Error().Err(err).Msg("api: list videos failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to list videos")
		return
	}
	items := make([]videoResponse, 0, len(jobs))
	for i := range jobs {
		items = append(items, videoToResponse(&jobs[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

// VideoCancel aborts a job that has not been submitted yet.
func (a *App) VideoCancel(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	job, err := a.Pipeline.Cancel(r.Context(), jobID, userID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	case errors.Is(err, domain.ErrInvalidTransition):
		a.error(w, http.StatusConflict, "conflict", "job can no longer be cancelled")
		return
	case err != nil:
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("api: cancel failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to cancel job")
		return
	}
	a.json(w, http.StatusOK, videoToResponse(job))
}
