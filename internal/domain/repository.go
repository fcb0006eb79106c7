package domain

import (
	"context"
	"time"
)

// JobRepository defines persistence for video jobs. Status writes are
// conditional on the expected prior status so that two workers racing on the
// same job can never both apply a transition.
type JobRepository interface {
	Create(ctx context.Context, job *VideoJob) error
	GetByID(ctx context.Context, jobID string) (*VideoJob, error)
	GetForUser(ctx context.Context, jobID, userID string) (*VideoJob, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]VideoJob, error)

	// TransitionStatus applies from->to atomically; it fails with
	// ErrInvalidTransition when the stored status no longer matches from.
	TransitionStatus(ctx context.Context, jobID string, from, to JobStatus) error

	// MarkGenerating records the external job id and moves QUEUED->GENERATING.
	// The external id is set once and never overwritten.
	MarkGenerating(ctx context.Context, jobID, externalJobID string) error

	// MarkCompleted moves PROCESSING->COMPLETED and records the asset block
	// plus the completion timestamp.
	MarkCompleted(ctx context.Context, jobID string, asset *JobAsset) error

	// MarkFailed moves the job from its current non-terminal status to FAILED
	// and records the user-facing error.
	MarkFailed(ctx context.Context, jobID string, from JobStatus, jobErr *JobError) error

	// Heartbeat bumps the job's updated_at without changing its status, so
	// long-running polls stay out of the stale scan. Terminal jobs are left
	// untouched.
	Heartbeat(ctx context.Context, jobID string) error

	// FindStale returns non-terminal jobs last touched before the cutoff, for
	// resumption after a restart.
	FindStale(ctx context.Context, cutoff time.Time, limit int) ([]VideoJob, error)
}

// LedgerRepository owns the account balance and the append-only transaction
// log. Every balance mutation and its ledger entry commit in one transaction.
type LedgerRepository interface {
	Debit(ctx context.Context, userID string, amount int, relatedJobID string) (string, error)
	Refund(ctx context.Context, userID string, amount int, relatedJobID, reason string) (string, error)
	Grant(ctx context.Context, userID string, amount int, txType TransactionType, description string) (string, error)
	Balance(ctx context.Context, userID string) (int, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]CreditTransaction, error)
}
