package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"reelforge/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new video job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

const jobColumns = `
id, user_id, status, style, script, visual_summary, prompt, reference_image_url,
external_job_id, credits_used,
asset_public_id, asset_secure_url, asset_thumbnail_url, asset_download_url, asset_download_expires_at,
error_code, error_message,
created_at, generation_started_at, completed_at, updated_at`

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.VideoJob) error {
	query := `
INSERT INTO video_jobs (id, user_id, status, style, script, visual_summary, prompt, reference_image_url, credits_used)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9);
`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.UserID,
		job.Status,
		job.Style,
		job.Script,
		job.VisualSummary,
		job.Prompt,
		job.ReferenceImageURL,
		job.CreditsUsed,
	)
	return err
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.VideoJob, error) {
	query := `SELECT ` + jobColumns + ` FROM video_jobs WHERE id = $1;`
	return scanJob(r.pool.QueryRow(ctx, query, jobID))
}

// GetForUser fetches a job scoped to its owning account.
func (r *JobRepositoryPG) GetForUser(ctx context.Context, jobID, userID string) (*domain.VideoJob, error) {
	query := `SELECT ` + jobColumns + ` FROM video_jobs WHERE id = $1 AND user_id = $2;`
	return scanJob(r.pool.QueryRow(ctx, query, jobID, userID))
}

// ListByUser returns the user's most recent jobs.
func (r *JobRepositoryPG) ListByUser(ctx context.Context, userID string, limit int) ([]domain.VideoJob, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + jobColumns + ` FROM video_jobs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2;`
	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.VideoJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// TransitionStatus applies a guarded status move. The WHERE clause on the
// prior status is the single-flight mechanism: when two workers race, the
// loser matches zero rows and gets ErrInvalidTransition instead of a write.
func (r *JobRepositoryPG) TransitionStatus(ctx context.Context, jobID string, from, to domain.JobStatus) error {
	if !domain.CanTransition(from, to) {
		return domain.ErrInvalidTransition
	}
	query := `
UPDATE video_jobs
SET status = $3, updated_at = NOW()
WHERE id = $1 AND status = $2;
`
	tag, err := r.pool.Exec(ctx, query, jobID, from, to)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// MarkGenerating records the external job id and moves QUEUED -> GENERATING.
// The `external_job_id IS NULL` guard makes the id set-once.
func (r *JobRepositoryPG) MarkGenerating(ctx context.Context, jobID, externalJobID string) error {
	query := `
UPDATE video_jobs
SET status = $3,
    external_job_id = $2,
    generation_started_at = COALESCE(generation_started_at, NOW()),
    updated_at = NOW()
WHERE id = $1 AND status = $4 AND external_job_id IS NULL;
`
	tag, err := r.pool.Exec(ctx, query, jobID, externalJobID, domain.JobStatusGenerating, domain.JobStatusQueued)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// MarkCompleted moves PROCESSING -> COMPLETED and records the asset block.
func (r *JobRepositoryPG) MarkCompleted(ctx context.Context, jobID string, asset *domain.JobAsset) error {
	query := `
UPDATE video_jobs
SET status = $2,
    asset_public_id = $3,
    asset_secure_url = $4,
    asset_thumbnail_url = $5,
    asset_download_url = $6,
    asset_download_expires_at = $7,
    completed_at = COALESCE(completed_at, NOW()),
    updated_at = NOW()
WHERE id = $1 AND status = $8;
`
	tag, err := r.pool.Exec(ctx, query,
		jobID,
		domain.JobStatusCompleted,
		asset.PublicID,
		asset.SecureURL,
		asset.ThumbnailURL,
		asset.DownloadURL,
		asset.DownloadExpiresAt,
		domain.JobStatusProcessing,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// MarkFailed moves a non-terminal job to FAILED and records the user-facing error.
func (r *JobRepositoryPG) MarkFailed(ctx context.Context, jobID string, from domain.JobStatus, jobErr *domain.JobError) error {
	if !domain.CanTransition(from, domain.JobStatusFailed) {
		return domain.ErrInvalidTransition
	}
	query := `
UPDATE video_jobs
SET status = $3,
    error_code = $4,
    error_message = $5,
    updated_at = NOW()
WHERE id = $1 AND status = $2;
`
	tag, err := r.pool.Exec(ctx, query, jobID, from, domain.JobStatusFailed, jobErr.Code, jobErr.Message)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// Heartbeat bumps updated_at for a job still in flight. The status guard
// keeps terminal rows untouched.
func (r *JobRepositoryPG) Heartbeat(ctx context.Context, jobID string) error {
	query := `
UPDATE video_jobs
SET updated_at = NOW()
WHERE id = $1 AND status IN ($2, $3);
`
	_, err := r.pool.Exec(ctx, query, jobID, domain.JobStatusGenerating, domain.JobStatusProcessing)
	return err
}

// FindStale returns non-terminal jobs last touched before the cutoff.
func (r *JobRepositoryPG) FindStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.VideoJob, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + jobColumns + `
FROM video_jobs
WHERE status IN ($1, $2, $3) AND updated_at < $4
ORDER BY updated_at ASC
LIMIT $5;
`
	rows, err := r.pool.Query(ctx, query,
		domain.JobStatusQueued, domain.JobStatusGenerating, domain.JobStatusProcessing, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.VideoJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (*domain.VideoJob, error) {
	var (
		job           domain.VideoJob
		referenceURL  *string
		externalJobID *string
		publicID      *string
		secureURL     *string
		thumbnailURL  *string
		downloadURL   *string
		downloadExp   *time.Time
		errCode       *string
		errMessage    *string
	)
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Status,
		&job.Style,
		&job.Script,
		&job.VisualSummary,
		&job.Prompt,
		&referenceURL,
		&externalJobID,
		&job.CreditsUsed,
		&publicID,
		&secureURL,
		&thumbnailURL,
		&downloadURL,
		&downloadExp,
		&errCode,
		&errMessage,
		&job.CreatedAt,
		&job.GenerationStartedAt,
		&job.CompletedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if referenceURL != nil {
		job.ReferenceImageURL = *referenceURL
	}
	if externalJobID != nil {
		job.ExternalJobID = *externalJobID
	}
	if publicID != nil {
		job.Asset = &domain.JobAsset{
			PublicID:     *publicID,
			SecureURL:    deref(secureURL),
			ThumbnailURL: deref(thumbnailURL),
			DownloadURL:  deref(downloadURL),
		}
		if downloadExp != nil {
			job.Asset.DownloadExpiresAt = *downloadExp
		}
	}
	if errCode != nil || errMessage != nil {
		job.Error = &domain.JobError{Code: deref(errCode), Message: deref(errMessage)}
	}
	return &job, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
