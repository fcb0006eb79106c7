package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"reelforge/internal/domain"
	"reelforge/internal/providers/videogen"
	"reelforge/internal/storage"
)

// memJobs mirrors the guarded-write semantics of the Postgres repository.
type memJobs struct {
	mu         sync.Mutex
	jobs       map[string]*domain.VideoJob
	heartbeats int
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: map[string]*domain.VideoJob{}}
}

func (m *memJobs) Create(_ context.Context, job *domain.VideoJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return fmt.Errorf("duplicate job %s", job.ID)
	}
	copied := *job
	m.jobs[job.ID] = &copied
	return nil
}

func (m *memJobs) get(jobID string) (*domain.VideoJob, error) {
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (m *memJobs) GetByID(_ context.Context, jobID string) (*domain.VideoJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(jobID)
}

func (m *memJobs) GetForUser(_ context.Context, jobID, userID string) (*domain.VideoJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, err := m.get(jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

func (m *memJobs) ListByUser(_ context.Context, userID string, _ int) ([]domain.VideoJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.VideoJob
	for _, job := range m.jobs {
		if job.UserID == userID {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (m *memJobs) TransitionStatus(_ context.Context, jobID string, from, to domain.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.Status != from || !domain.CanTransition(from, to) {
		return domain.ErrInvalidTransition
	}
	job.Status = to
	job.UpdatedAt = time.Now()
	return nil
}

func (m *memJobs) MarkGenerating(_ context.Context, jobID, externalJobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.Status != domain.JobStatusQueued || job.ExternalJobID != "" {
		return domain.ErrInvalidTransition
	}
	now := time.Now()
	job.Status = domain.JobStatusGenerating
	job.ExternalJobID = externalJobID
	job.GenerationStartedAt = &now
	job.UpdatedAt = now
	return nil
}

func (m *memJobs) MarkCompleted(_ context.Context, jobID string, asset *domain.JobAsset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.Status != domain.JobStatusProcessing {
		return domain.ErrInvalidTransition
	}
	now := time.Now()
	copied := *asset
	job.Status = domain.JobStatusCompleted
	job.Asset = &copied
	job.CompletedAt = &now
	job.UpdatedAt = now
	return nil
}

func (m *memJobs) MarkFailed(_ context.Context, jobID string, from domain.JobStatus, jobErr *domain.JobError) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.Status != from || !domain.CanTransition(from, domain.JobStatusFailed) {
		return domain.ErrInvalidTransition
	}
	copied := *jobErr
	job.Status = domain.JobStatusFailed
	job.Error = &copied
	job.UpdatedAt = time.Now()
	return nil
}

func (m *memJobs) Heartbeat(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeats++
	if job, ok := m.jobs[jobID]; ok && !job.Status.Terminal() {
		job.UpdatedAt = time.Now()
	}
	return nil
}

func (m *memJobs) FindStale(_ context.Context, cutoff time.Time, _ int) ([]domain.VideoJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.VideoJob
	for _, job := range m.jobs {
		if !job.Status.Terminal() && job.UpdatedAt.Before(cutoff) {
			out = append(out, *job)
		}
	}
	return out, nil
}

// seed installs a job directly, bypassing Submit, to model state left behind
// by a previous process.
func (m *memJobs) seed(job *domain.VideoJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *job
	m.jobs[job.ID] = &copied
}

// memLedger mirrors the atomic balance+entry semantics of the Postgres ledger.
type memLedger struct {
	mu        sync.Mutex
	balances  map[string]int
	entries   []domain.CreditTransaction
	refundErr error
}

func newMemLedger() *memLedger {
	return &memLedger{balances: map[string]int{}}
}

func (m *memLedger) append(userID string, txType domain.TransactionType, amount int, jobID, desc string) string {
	entry := domain.CreditTransaction{
		ID:           uuid.NewString(),
		UserID:       userID,
		Type:         txType,
		Amount:       amount,
		BalanceAfter: m.balances[userID],
		RelatedJobID: jobID,
		Description:  desc,
		CreatedAt:    time.Now(),
	}
	m.entries = append(m.entries, entry)
	return entry.ID
}

func (m *memLedger) Debit(_ context.Context, userID string, amount int, relatedJobID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance, ok := m.balances[userID]
	if !ok {
		return "", domain.ErrNotFound
	}
	if balance < amount {
		return "", domain.ErrInsufficientCredits
	}
	m.balances[userID] = balance - amount
	return m.append(userID, domain.TransactionDebit, amount, relatedJobID, "video generation"), nil
}

func (m *memLedger) Refund(_ context.Context, userID string, amount int, relatedJobID, reason string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refundErr != nil {
		return "", m.refundErr
	}
	if _, ok := m.balances[userID]; !ok {
		return "", domain.ErrNotFound
	}
	for _, entry := range m.entries {
		if entry.Type == domain.TransactionRefund && entry.RelatedJobID == relatedJobID {
			return "", domain.ErrDuplicateRefund
		}
	}
	m.balances[userID] += amount
	return m.append(userID, domain.TransactionRefund, amount, relatedJobID, reason), nil
}

func (m *memLedger) Grant(_ context.Context, userID string, amount int, txType domain.TransactionType, description string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] += amount
	return m.append(userID, txType, amount, "", description), nil
}

func (m *memLedger) Balance(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance, ok := m.balances[userID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return balance, nil
}

func (m *memLedger) ListTransactions(_ context.Context, userID string, _ int) ([]domain.CreditTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.CreditTransaction
	for _, entry := range m.entries {
		if entry.UserID == userID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (m *memLedger) count(txType domain.TransactionType, jobID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, entry := range m.entries {
		if entry.Type == txType && entry.RelatedJobID == jobID {
			n++
		}
	}
	return n
}

// fakeGenerator scripts the external service stage by stage.
type fakeGenerator struct {
	mu sync.Mutex

	submitErrs []error
	submitID   string
	submits    int

	pollResults []videogen.PollResult
	pollErrs    []error
	polls       int

	fetchData []byte
	fetchErr  error
	fetches   int
}

func (f *fakeGenerator) Submit(context.Context, videogen.SubmitRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.submits
	f.submits++
	if idx < len(f.submitErrs) && f.submitErrs[idx] != nil {
		return "", f.submitErrs[idx]
	}
	if f.submitID == "" {
		return "ext-job-1", nil
	}
	return f.submitID, nil
}

func (f *fakeGenerator) Poll(context.Context, string) (videogen.PollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.polls
	f.polls++
	if idx < len(f.pollErrs) && f.pollErrs[idx] != nil {
		return videogen.PollResult{}, f.pollErrs[idx]
	}
	if len(f.pollResults) == 0 {
		return videogen.PollResult{State: videogen.StateRunning}, nil
	}
	if idx >= len(f.pollResults) {
		return f.pollResults[len(f.pollResults)-1], nil
	}
	return f.pollResults[idx], nil
}

func (f *fakeGenerator) Fetch(context.Context, string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if f.fetchData == nil {
		return []byte("mp4-bytes"), nil
	}
	return f.fetchData, nil
}

// fakeStore is an in-memory asset store.
type fakeStore struct {
	mu        sync.Mutex
	uploads   int
	uploadErr error
	signErr   error
}

func (f *fakeStore) Upload(_ context.Context, data []byte, params storage.UploadParams) (*storage.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	f.uploads++
	publicID := params.Folder + "/" + params.PublicID
	return &storage.Asset{
		PublicID:     publicID,
		SecureURL:    "https://cdn.test/" + publicID + ".mp4",
		ThumbnailURL: "https://cdn.test/" + publicID + ".jpg",
	}, nil
}

func (f *fakeStore) SignedURL(publicID string, ttl time.Duration) (string, error) {
	if f.signErr != nil {
		return "", f.signErr
	}
	return fmt.Sprintf("https://cdn.test/%s.mp4?ttl=%d", publicID, int(ttl.Seconds())), nil
}
