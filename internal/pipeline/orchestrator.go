package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"reelforge/internal/domain"
	"reelforge/internal/prompt"
	"reelforge/internal/providers/videogen"
	"reelforge/internal/storage"
)

const creditsPerVideo = 1

// heartbeatEvery is the poll-attempt stride between updated_at bumps while a
// job is being actively polled. One minute at the default 10s interval.
const heartbeatEvery = 6

// Queue hands newly queued job IDs to background workers. Dispatch is
// best-effort; the stale-job scanner is the backstop.
type Queue interface {
	Enqueue(ctx context.Context, jobID string) error
}

// NotifyFunc is invoked once when a job reaches COMPLETED or FAILED. It is
// consumed by the surrounding notification/UI layer.
type NotifyFunc func(ctx context.Context, job *domain.VideoJob)

// Options bounds the pipeline's retry and polling behavior.
type Options struct {
	PollInterval  time.Duration
	PollBudget    int
	SubmitRetries int
	SubmitBackoff time.Duration
	DownloadTTL   time.Duration
	StaleAfter    time.Duration
}

func (o *Options) applyDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 10 * time.Second
	}
	if o.PollBudget <= 0 {
		o.PollBudget = 120
	}
	if o.SubmitRetries <= 0 {
		o.SubmitRetries = 3
	}
	if o.SubmitBackoff <= 0 {
		o.SubmitBackoff = 2 * time.Second
	}
	if o.DownloadTTL <= 0 {
		o.DownloadTTL = 7 * 24 * time.Hour
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 2 * time.Minute
	}
}

// Deps are the collaborators injected into the orchestrator.
type Deps struct {
	Jobs      domain.JobRepository
	Ledger    domain.LedgerRepository
	Generator videogen.Generator
	Store     storage.Store
	Queue     Queue
	Notify    NotifyFunc
	Logger    zerolog.Logger
}

// Orchestrator drives each video job from QUEUED to exactly one terminal
// state. All job state lives in the repository, so any worker can pick up a
// job after a restart; the guarded status writes keep two workers from both
// applying a transition.
type Orchestrator struct {
	jobs      domain.JobRepository
	ledger    domain.LedgerRepository
	generator videogen.Generator
	store     storage.Store
	queue     Queue
	notify    NotifyFunc
	logger    zerolog.Logger
	opts      Options

	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs the orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	opts.applyDefaults()
	return &Orchestrator{
		jobs:      deps.Jobs,
		ledger:    deps.Ledger,
		generator: deps.Generator,
		store:     deps.Store,
		queue:     deps.Queue,
		notify:    deps.Notify,
		logger:    deps.Logger,
		opts:      opts,
		sleep:     sleepContext,
	}
}

// SubmitRequest is a confirmed script ready for generation.
type SubmitRequest struct {
	UserID            string
	Style             string
	Script            string
	VisualSummary     string
	ReferenceImageURL string
}

// errTimeout marks poll budget exhaustion; errGeneration marks an external
// ERROR report. Both stay inside the pipeline and surface only as the
// classified user-facing message on the job record.
var (
	errTimeout    = errors.New("poll budget exhausted")
	errGeneration = errors.New("generation reported failure")
)

// Submit debits one credit, creates the job in QUEUED, and hands it to the
// background workers. When no credit can be debited, nothing is created.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*domain.VideoJob, error) {
	style, err := prompt.ParseStyle(req.Style)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSubmissionRejected, err)
	}
	composed, err := prompt.Compose(style, req.Script, req.VisualSummary)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSubmissionRejected, err)
	}

	jobID := uuid.NewString()
	if _, err := o.ledger.Debit(ctx, req.UserID, creditsPerVideo, jobID); err != nil {
		return nil, err
	}

	now := time.Now()
	job := &domain.VideoJob{
		ID:                jobID,
		UserID:            req.UserID,
		Status:            domain.JobStatusQueued,
		Style:             string(style),
		Script:            req.Script,
		VisualSummary:     req.VisualSummary,
		Prompt:            composed,
		ReferenceImageURL: req.ReferenceImageURL,
		CreditsUsed:       creditsPerVideo,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := o.jobs.Create(ctx, job); err != nil {
		o.refund(ctx, job, "job creation failed")
		return nil, fmt.Errorf("create job: %w", err)
	}

	if o.queue != nil {
		if err := o.queue.Enqueue(ctx, job.ID); err != nil {
			o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("pipeline: dispatch failed, stale scan will pick up")
		}
	}
	return job, nil
}

// Cancel aborts a job that has not been submitted to the generation service
// yet. Anything past QUEUED surfaces ErrInvalidTransition.
func (o *Orchestrator) Cancel(ctx context.Context, jobID, userID string) (*domain.VideoJob, error) {
	job, err := o.jobs.GetForUser(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}
	if err := o.jobs.TransitionStatus(ctx, job.ID, domain.JobStatusQueued, domain.JobStatusCancelled); err != nil {
		return nil, err
	}
	job.Status = domain.JobStatusCancelled
	o.refund(ctx, job, "job cancelled before submission")
	return job, nil
}

// Process drives a job from its persisted status to a terminal state. The
// entry stage depends entirely on what survived in the repository, which is
// what makes the pipeline resumable.
func (o *Orchestrator) Process(ctx context.Context, jobID string) error {
	job, err := o.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}

	switch job.Status {
	case domain.JobStatusQueued:
		if err := o.submitExternal(ctx, job); err != nil {
			return err
		}
		if job.Status != domain.JobStatusGenerating {
			// Submission already resolved the job (rejected input or
			// exhausted retries).
			return nil
		}
		return o.generate(ctx, job)
	case domain.JobStatusGenerating:
		// A persisted external id means the submission already happened;
		// resume polling, never re-submit.
		if job.ExternalJobID == "" {
			o.logger.Error().Str("job_id", job.ID).Msg("pipeline: GENERATING without external id")
			o.fail(ctx, job, errGeneration)
			return nil
		}
		return o.generate(ctx, job)
	case domain.JobStatusProcessing:
		return o.resumeProcessing(ctx, job)
	default:
		o.logger.Debug().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("pipeline: job already terminal")
		return nil
	}
}

// submitExternal calls the generation service with bounded retries on
// transient outages and records the returned id. Rejected input fails the
// job immediately.
func (o *Orchestrator) submitExternal(ctx context.Context, job *domain.VideoJob) error {
	req := videogen.SubmitRequest{
		Prompt:            job.Prompt,
		ReferenceImageURL: job.ReferenceImageURL,
		RequestID:         job.ID,
	}

	var externalID string
	var lastErr error
	for attempt := 0; attempt < o.opts.SubmitRetries; attempt++ {
		if attempt > 0 {
			if err := o.sleep(ctx, o.opts.SubmitBackoff<<(attempt-1)); err != nil {
				return err
			}
		}
		externalID, lastErr = o.generator.Submit(ctx, req)
		if lastErr == nil {
			break
		}
		if !errors.Is(lastErr, domain.ErrServiceUnavailable) {
			break
		}
		o.logger.Warn().Err(lastErr).Str("job_id", job.ID).Int("attempt", attempt+1).Msg("pipeline: submit retry")
	}
	if lastErr != nil {
		o.fail(ctx, job, lastErr)
		return nil
	}

	if err := o.jobs.MarkGenerating(ctx, job.ID, externalID); err != nil {
		// Lost the race (cancelled or claimed elsewhere). The winner owns
		// the job now; abort without touching it.
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("pipeline: could not record submission")
		return err
	}
	job.Status = domain.JobStatusGenerating
	job.ExternalJobID = externalID
	o.logger.Info().Str("job_id", job.ID).Str("external_id", externalID).Msg("pipeline: submitted")
	return nil
}

// generate polls the external job to completion and materializes the result.
func (o *Orchestrator) generate(ctx context.Context, job *domain.VideoJob) error {
	assetURL, err := o.pollUntilDone(ctx, job)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Shutdown, not an outcome: the job stays GENERATING and a
			// resumed worker finishes it.
			return err
		}
		o.fail(ctx, job, err)
		return nil
	}

	if err := o.jobs.TransitionStatus(ctx, job.ID, domain.JobStatusGenerating, domain.JobStatusProcessing); err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("pipeline: lost processing claim")
		return err
	}
	job.Status = domain.JobStatusProcessing
	return o.materialize(ctx, job, assetURL)
}

// pollUntilDone polls on the fixed interval until the external service
// reports a terminal state or the attempt budget runs out. Each poll is
// independent; a crash between polls loses nothing. A periodic heartbeat
// bumps updated_at so the stale scanner does not re-dispatch a job that is
// being actively polled.
func (o *Orchestrator) pollUntilDone(ctx context.Context, job *domain.VideoJob) (string, error) {
	for attempt := 1; attempt <= o.opts.PollBudget; attempt++ {
		res, err := o.generator.Poll(ctx, job.ExternalJobID)
		switch {
		case err == nil && res.State == videogen.StateDone:
			return res.AssetURL, nil
		case err == nil && res.State == videogen.StateError:
			return "", fmt.Errorf("%w: %s", errGeneration, res.Message)
		case err != nil && errors.Is(err, domain.ErrNotFound):
			return "", fmt.Errorf("%w: external job vanished", errGeneration)
		case err != nil && !errors.Is(err, domain.ErrServiceUnavailable):
			return "", err
		case err != nil:
			// Transient outage: the attempt still consumes budget so a dead
			// upstream cannot pin the job forever.
			o.logger.Warn().Err(err).Str("job_id", job.ID).Int("attempt", attempt).Msg("pipeline: poll failed")
		}
		if attempt%heartbeatEvery == 0 {
			if err := o.jobs.Heartbeat(ctx, job.ID); err != nil {
				o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("pipeline: heartbeat failed")
			}
		}
		if attempt < o.opts.PollBudget {
			if err := o.sleep(ctx, o.opts.PollInterval); err != nil {
				return "", err
			}
		}
	}
	return "", errTimeout
}

// materialize transfers the finished video into durable storage and completes
// the job with a signed download URL.
func (o *Orchestrator) materialize(ctx context.Context, job *domain.VideoJob, assetURL string) error {
	data, err := o.generator.Fetch(ctx, assetURL)
	if err != nil {
		o.fail(ctx, job, err)
		return nil
	}

	uploaded, err := o.store.Upload(ctx, data, storage.UploadParams{Folder: "videos", PublicID: job.ID})
	if err != nil {
		o.fail(ctx, job, fmt.Errorf("%w: upload: %v", domain.ErrAssetUnavailable, err))
		return nil
	}
	downloadURL, err := o.store.SignedURL(uploaded.PublicID, o.opts.DownloadTTL)
	if err != nil {
		o.fail(ctx, job, fmt.Errorf("%w: sign url: %v", domain.ErrAssetUnavailable, err))
		return nil
	}

	asset := &domain.JobAsset{
		PublicID:          uploaded.PublicID,
		SecureURL:         uploaded.SecureURL,
		ThumbnailURL:      uploaded.ThumbnailURL,
		DownloadURL:       downloadURL,
		DownloadExpiresAt: time.Now().Add(o.opts.DownloadTTL),
	}
	if err := o.jobs.MarkCompleted(ctx, job.ID, asset); err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("pipeline: lost completion claim")
		return err
	}
	job.Status = domain.JobStatusCompleted
	job.Asset = asset
	o.logger.Info().Str("job_id", job.ID).Msg("pipeline: completed")
	o.fireNotify(ctx, job)
	return nil
}

// resumeProcessing re-enters the materialization stage after a restart. The
// asset URL is not persisted, so polling recovers it; transient upstream
// failures are absorbed the same way as during generation.
func (o *Orchestrator) resumeProcessing(ctx context.Context, job *domain.VideoJob) error {
	assetURL, err := o.pollUntilDone(ctx, job)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		o.fail(ctx, job, err)
		return nil
	}
	return o.materialize(ctx, job, assetURL)
}

// Resume finds non-terminal jobs that stopped moving and re-enters the
// pipeline for each. Called at worker startup and on a periodic tick.
func (o *Orchestrator) Resume(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-o.opts.StaleAfter)
	stale, err := o.jobs.FindStale(ctx, cutoff, 50)
	if err != nil {
		return 0, err
	}
	for i := range stale {
		job := &stale[i]
		o.logger.Info().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("pipeline: resuming stale job")
		if o.queue != nil {
			if err := o.queue.Enqueue(ctx, job.ID); err == nil {
				continue
			}
		}
		if err := o.Process(ctx, job.ID); err != nil {
			o.logger.Error().Err(err).Str("job_id", job.ID).Msg("pipeline: resume failed")
		}
	}
	return len(stale), nil
}

// fail is the single exit path for every failure mode: record the classified
// user-facing error, refund the debit once, and fire the notification hook.
// It never propagates its own errors; by this point there is no caller left
// to catch them.
func (o *Orchestrator) fail(ctx context.Context, job *domain.VideoJob, cause error) {
	code, message := classify(cause)
	jobErr := &domain.JobError{Code: code, Message: message}
	if err := o.jobs.MarkFailed(ctx, job.ID, job.Status, jobErr); err != nil {
		// Guarded write lost: another worker already resolved the job.
		// Nothing to compensate here; the winner owns the refund.
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("pipeline: failure transition rejected")
		return
	}
	job.Status = domain.JobStatusFailed
	job.Error = jobErr
	o.logger.Warn().Err(cause).Str("job_id", job.ID).Str("code", code).Msg("pipeline: job failed")
	o.refund(ctx, job, "generation failed: "+code)
	o.fireNotify(ctx, job)
}

// refund compensates the job's debit. A refund failure is an operational
// discrepancy to alert on, never a crash.
func (o *Orchestrator) refund(ctx context.Context, job *domain.VideoJob, reason string) {
	if job.CreditsUsed <= 0 {
		return
	}
	if _, err := o.ledger.Refund(ctx, job.UserID, job.CreditsUsed, job.ID, reason); err != nil {
		if errors.Is(err, domain.ErrDuplicateRefund) {
			o.logger.Debug().Str("job_id", job.ID).Msg("pipeline: refund already issued")
			return
		}
		o.logger.Error().Err(err).
			Str("job_id", job.ID).
			Str("user_id", job.UserID).
			Int("amount", job.CreditsUsed).
			Msg("pipeline: refund failed, ledger discrepancy")
	}
}

func (o *Orchestrator) fireNotify(ctx context.Context, job *domain.VideoJob) {
	if o.notify != nil {
		o.notify(ctx, job)
	}
}

// classify maps an internal failure to the user-facing error recorded on the
// job. Every message tells the user the credit came back.
func classify(cause error) (code, message string) {
	switch {
	case errors.Is(cause, errTimeout):
		return "timeout", "Video generation timed out. Your credit has been refunded."
	case errors.Is(cause, domain.ErrServiceUnavailable):
		return "service_unavailable", "The video service is temporarily unavailable. Please try again later. Your credit has been refunded."
	case errors.Is(cause, errGeneration), errors.Is(cause, domain.ErrAssetUnavailable):
		return "generation_incomplete", "Video generation did not complete. Your credit has been refunded."
	case errors.Is(cause, domain.ErrSubmissionRejected):
		return "rejected", "The video request was rejected. Your credit has been refunded."
	default:
		return "internal", "Something went wrong while generating your video. Your credit has been refunded."
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
