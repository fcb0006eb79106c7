package domain

import "time"

// JobStatus enumerates the lifecycle states of a video generation job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "QUEUED"
	JobStatusGenerating JobStatus = "GENERATING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusCancelled  JobStatus = "CANCELLED"
	JobStatusExpired    JobStatus = "EXPIRED"
)

// Terminal reports whether no further transition is permitted out of s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusExpired:
		return true
	default:
		return false
	}
}

// transitions is the authoritative table of legal status moves. EXPIRED is
// absent on purpose: it is a read-time reclassification of COMPLETED jobs
// whose download URL has lapsed, never a stored transition.
var transitions = map[JobStatus][]JobStatus{
	JobStatusQueued:     {JobStatusGenerating, JobStatusFailed, JobStatusCancelled},
	JobStatusGenerating: {JobStatusProcessing, JobStatusFailed},
	JobStatusProcessing: {JobStatusCompleted, JobStatusFailed},
}

// CanTransition reports whether moving a job between the two statuses is
// legal. Terminal states absorb every attempt.
func CanTransition(from, to JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// JobAsset holds the durable storage coordinates of a finished video.
type JobAsset struct {
	PublicID          string
	SecureURL         string
	ThumbnailURL      string
	DownloadURL       string
	DownloadExpiresAt time.Time
}

// JobError is the user-facing failure recorded on a terminal FAILED job.
type JobError struct {
	Code    string
	Message string
}

// VideoJob tracks one user-requested generation from confirmation through a
// terminal state. Status is owned by the pipeline; nothing else writes it.
type VideoJob struct {
	ID                  string
	UserID              string
	Status              JobStatus
	Style               string
	Script              string
	VisualSummary       string
	Prompt              string
	ReferenceImageURL   string
	ExternalJobID       string
	CreditsUsed         int
	Asset               *JobAsset
	Error               *JobError
	CreatedAt           time.Time
	GenerationStartedAt *time.Time
	CompletedAt         *time.Time
	UpdatedAt           time.Time
}

// EffectiveStatus reclassifies a COMPLETED job as EXPIRED once its signed
// download URL has lapsed. The stored status is left untouched.
func (j *VideoJob) EffectiveStatus(now time.Time) JobStatus {
	if j.Status == JobStatusCompleted && j.Asset != nil &&
		!j.Asset.DownloadExpiresAt.IsZero() && now.After(j.Asset.DownloadExpiresAt) {
		return JobStatusExpired
	}
	return j.Status
}
