package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"reelforge/internal/domain"
	"reelforge/internal/providers/videogen"
)

type harness struct {
	jobs      *memJobs
	ledger    *memLedger
	generator *fakeGenerator
	store     *fakeStore
	notified  []domain.JobStatus
	orch      *Orchestrator
}

func newHarness(t *testing.T, generator *fakeGenerator, opts Options) *harness {
	t.Helper()
	h := &harness{
		jobs:      newMemJobs(),
		ledger:    newMemLedger(),
		generator: generator,
		store:     &fakeStore{},
	}
	h.orch = New(Deps{
		Jobs:      h.jobs,
		Ledger:    h.ledger,
		Generator: h.generator,
		Store:     h.store,
		Notify: func(_ context.Context, job *domain.VideoJob) {
			h.notified = append(h.notified, job.Status)
		},
		Logger: zerolog.Nop(),
	}, opts)
	h.orch.sleep = func(context.Context, time.Duration) error { return nil }
	return h
}

func submitRequest() SubmitRequest {
	return SubmitRequest{
		UserID:        "user-1",
		Style:         "PRODUCT_SHOWCASE",
		Script:        "A kettle that pours itself.",
		VisualSummary: "matte black kettle",
	}
}

func TestSuccessfulRun(t *testing.T) {
	// 1 credit, DONE with a valid asset on the first poll.
	gen := &fakeGenerator{pollResults: []videogen.PollResult{
		{State: videogen.StateDone, AssetURL: "https://gen.test/out.mp4"},
	}}
	h := newHarness(t, gen, Options{})
	h.ledger.Grant(context.Background(), "user-1", 1, domain.TransactionBonus, "signup")

	job, err := h.orch.Submit(context.Background(), submitRequest())
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if err := h.orch.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	stored, _ := h.jobs.GetByID(context.Background(), job.ID)
	if stored.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", stored.Status)
	}
	if stored.Asset == nil || stored.Asset.DownloadURL == "" {
		t.Fatalf("completed job missing asset: %+v", stored.Asset)
	}
	if stored.CompletedAt == nil || stored.GenerationStartedAt == nil {
		t.Fatalf("completed job missing timestamps")
	}
	if stored.CreditsUsed != 1 {
		t.Fatalf("creditsUsed = %d, want 1", stored.CreditsUsed)
	}
	if balance, _ := h.ledger.Balance(context.Background(), "user-1"); balance != 0 {
		t.Fatalf("balance = %d, want 0", balance)
	}
	if n := h.ledger.count(domain.TransactionDebit, job.ID); n != 1 {
		t.Fatalf("debit count = %d, want 1", n)
	}
	if n := h.ledger.count(domain.TransactionRefund, job.ID); n != 0 {
		t.Fatalf("refund count = %d, want 0", n)
	}
	if len(h.notified) != 1 || h.notified[0] != domain.JobStatusCompleted {
		t.Fatalf("notifications = %v, want one COMPLETED", h.notified)
	}
}

func TestGenerationErrorRefunds(t *testing.T) {
	// The external service reports ERROR after a successful submit.
	gen := &fakeGenerator{pollResults: []videogen.PollResult{
		{State: videogen.StateError, Message: "model exploded"},
	}}
	h := newHarness(t, gen, Options{})
	h.ledger.Grant(context.Background(), "user-1", 1, domain.TransactionBonus, "signup")

	job, err := h.orch.Submit(context.Background(), submitRequest())
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if err := h.orch.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	stored, _ := h.jobs.GetByID(context.Background(), job.ID)
	if stored.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want FAILED", stored.Status)
	}
	if stored.Error == nil || stored.Error.Code != "generation_incomplete" {
		t.Fatalf("error = %+v, want code generation_incomplete", stored.Error)
	}
	if balance, _ := h.ledger.Balance(context.Background(), "user-1"); balance != 1 {
		t.Fatalf("balance = %d, want 1 after refund", balance)
	}
	if n := h.ledger.count(domain.TransactionRefund, job.ID); n != 1 {
		t.Fatalf("refund count = %d, want 1", n)
	}
	if len(h.notified) != 1 || h.notified[0] != domain.JobStatusFailed {
		t.Fatalf("notifications = %v, want one FAILED", h.notified)
	}
}

func TestPollBudgetExhaustion(t *testing.T) {
	// Every poll reports RUNNING until the attempt budget runs out.
	gen := &fakeGenerator{pollResults: []videogen.PollResult{{State: videogen.StateRunning}}}
	h := newHarness(t, gen, Options{PollBudget: 5})
	h.ledger.Grant(context.Background(), "user-1", 1, domain.TransactionBonus, "signup")

	job, _ := h.orch.Submit(context.Background(), submitRequest())
	if err := h.orch.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	stored, _ := h.jobs.GetByID(context.Background(), job.ID)
	if stored.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want FAILED", stored.Status)
	}
	if stored.Error.Code != "timeout" {
		t.Fatalf("error code = %s, want timeout", stored.Error.Code)
	}
	if gen.polls != 5 {
		t.Fatalf("polls = %d, want exactly the budget of 5", gen.polls)
	}
	if balance, _ := h.ledger.Balance(context.Background(), "user-1"); balance != 1 {
		t.Fatalf("balance = %d, want 1 after refund", balance)
	}
}

func TestInsufficientCreditsCreatesNothing(t *testing.T) {
	// Balance exhausted before submit.
	h := newHarness(t, &fakeGenerator{}, Options{})
	h.ledger.Grant(context.Background(), "user-1", 1, domain.TransactionBonus, "signup")
	h.ledger.Debit(context.Background(), "user-1", 1, "other-job")

	_, err := h.orch.Submit(context.Background(), submitRequest())
	if !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Fatalf("err = %v, want ErrInsufficientCredits", err)
	}
	if len(h.jobs.jobs) != 0 {
		t.Fatalf("no job record should exist, found %d", len(h.jobs.jobs))
	}
	if gen := h.generator; gen.submits != 0 {
		t.Fatalf("no external call should have happened")
	}
}

func TestSubmissionRejectedFailsWithoutRetry(t *testing.T) {
	gen := &fakeGenerator{submitErrs: []error{domain.ErrSubmissionRejected}}
	h := newHarness(t, gen, Options{SubmitRetries: 3})
	h.ledger.Grant(context.Background(), "user-1", 1, domain.TransactionBonus, "signup")

	job, _ := h.orch.Submit(context.Background(), submitRequest())
	if err := h.orch.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	stored, _ := h.jobs.GetByID(context.Background(), job.ID)
	if stored.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want FAILED", stored.Status)
	}
	if gen.submits != 1 {
		t.Fatalf("submits = %d, rejected input must not be retried", gen.submits)
	}
	if n := h.ledger.count(domain.TransactionRefund, job.ID); n != 1 {
		t.Fatalf("refund count = %d, want 1", n)
	}
}

func TestSubmitRetriesTransientOutage(t *testing.T) {
	gen := &fakeGenerator{
		submitErrs:  []error{domain.ErrServiceUnavailable, domain.ErrServiceUnavailable, nil},
		pollResults: []videogen.PollResult{{State: videogen.StateDone, AssetURL: "https://gen.test/out.mp4"}},
	}
	h := newHarness(t, gen, Options{SubmitRetries: 3})
	h.ledger.Grant(context.Background(), "user-1", 1, domain.TransactionBonus, "signup")

	job, _ := h.orch.Submit(context.Background(), submitRequest())
	if err := h.orch.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	stored, _ := h.jobs.GetByID(context.Background(), job.ID)
	if stored.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED after retried submit", stored.Status)
	}
	if gen.submits != 3 {
		t.Fatalf("submits = %d, want 3", gen.submits)
	}
}

func TestSubmitRetriesExhaustedFailWithServiceMessage(t *testing.T) {
	gen := &fakeGenerator{submitErrs: []error{
		domain.ErrServiceUnavailable, domain.ErrServiceUnavailable, domain.ErrServiceUnavailable,
	}}
	h := newHarness(t, gen, Options{SubmitRetries: 3})
	h.ledger.Grant(context.Background(), "user-1", 1, domain.TransactionBonus, "signup")

	job, _ := h.orch.Submit(context.Background(), submitRequest())
	if err := h.orch.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	stored, _ := h.jobs.GetByID(context.Background(), job.ID)
	if stored.Error == nil || stored.Error.Code != "service_unavailable" {
		t.Fatalf("error = %+v, want code service_unavailable", stored.Error)
	}
	if balance, _ := h.ledger.Balance(context.Background(), "user-1"); balance != 1 {
		t.Fatalf("balance = %d, want 1 after refund", balance)
	}
}

func TestResumeGeneratingJobDoesNotResubmit(t *testing.T) {
	gen := &fakeGenerator{pollResults: []videogen.PollResult{
		{State: videogen.StateDone, AssetURL: "https://gen.test/out.mp4"},
	}}
	h := newHarness(t, gen, Options{})
	h.ledger.Grant(context.Background(), "user-1", 1, domain.TransactionBonus, "signup")
	h.ledger.Debit(context.Background(), "user-1", 1, "job-1")

	started := time.Now().Add(-time.Hour)
	h.jobs.seed(&domain.VideoJob{
		ID:                  "job-1",
		UserID:              "user-1",
		Status:              domain.JobStatusGenerating,
		Prompt:              "prompt",
		ExternalJobID:       "ext-persisted",
		CreditsUsed:         1,
		CreatedAt:           started,
		GenerationStartedAt: &started,
		UpdatedAt:           started,
	})

	if err := h.orch.Process(context.Background(), "job-1"); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	if gen.submits != 0 {
		t.Fatalf("submits = %d, resume must reuse the persisted external id", gen.submits)
	}
	stored, _ := h.jobs.GetByID(context.Background(), "job-1")
	if stored.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", stored.Status)
	}
	if n := h.ledger.count(domain.TransactionDebit, "job-1"); n != 1 {
		t.Fatalf("debit count = %d, resume must not debit again", n)
	}
}

func TestResumeProcessingJobMaterializes(t *testing.T) {
	gen := &fakeGenerator{pollResults: []videogen.PollResult{
		{State: videogen.StateDone, AssetURL: "https://gen.test/out.mp4"},
	}}
	h := newHarness(t, gen, Options{})
	h.ledger.Grant(context.Background(), "user-1", 1, domain.TransactionBonus, "signup")

	stale := time.Now().Add(-time.Hour)
	h.jobs.seed(&domain.VideoJob{
		ID:            "job-2",
		UserID:        "user-1",
		Status:        domain.JobStatusProcessing,
		ExternalJobID: "ext-persisted",
		CreditsUsed:   1,
		CreatedAt:     stale,
		UpdatedAt:     stale,
	})

	resumed, err := h.orch.Resume(context.Background())
	if err != nil {
		t.Fatalf("Resume returned error: %v", err)
	}
	if resumed != 1 {
		t.Fatalf("resumed = %d, want 1", resumed)
	}
	stored, _ := h.jobs.GetByID(context.Background(), "job-2")
	if stored.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", stored.Status)
	}
	if h.store.uploads != 1 {
		t.Fatalf("uploads = %d, want 1", h.store.uploads)
	}
}

func TestProcessTerminalJobIsNoOp(t *testing.T) {
	h := newHarness(t, &fakeGenerator{}, Options{})
	h.jobs.seed(&domain.VideoJob{
		ID:     "job-3",
		UserID: "user-1",
		Status: domain.JobStatusCompleted,
	})

	if err := h.orch.Process(context.Background(), "job-3"); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if h.generator.submits != 0 || h.generator.polls != 0 {
		t.Fatalf("terminal job must not touch the generation service")
	}
	if len(h.notified) != 0 {
		t.Fatalf("terminal job must not re-notify")
	}
}

func TestAssetUnavailableRefunds(t *testing.T) {
	gen := &fakeGenerator{
		pollResults: []videogen.PollResult{{State: videogen.StateDone, AssetURL: "https://gen.test/out.mp4"}},
		fetchErr:    domain.ErrAssetUnavailable,
	}
	h := newHarness(t, gen, Options{})
	h.ledger.Grant(context.Background(), "user-1", 1, domain.TransactionBonus, "signup")

	job, _ := h.orch.Submit(context.Background(), submitRequest())
	if err := h.orch.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	stored, _ := h.jobs.GetByID(context.Background(), job.ID)
	if stored.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want FAILED", stored.Status)
	}
	if stored.Error.Code != "generation_incomplete" {
		t.Fatalf("error code = %s, want generation_incomplete", stored.Error.Code)
	}
	if n := h.ledger.count(domain.TransactionRefund, job.ID); n != 1 {
		t.Fatalf("refund count = %d, want 1", n)
	}
}

func TestRefundFailureDoesNotMaskJobFailure(t *testing.T) {
	gen := &fakeGenerator{pollResults: []videogen.PollResult{{State: videogen.StateError}}}
	h := newHarness(t, gen, Options{})
	h.ledger.Grant(context.Background(), "user-1", 1, domain.TransactionBonus, "signup")

	job, _ := h.orch.Submit(context.Background(), submitRequest())
	h.ledger.refundErr = errors.New("ledger down")

	if err := h.orch.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	stored, _ := h.jobs.GetByID(context.Background(), job.ID)
	if stored.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want FAILED despite refund failure", stored.Status)
	}
}

func TestCancelQueuedJobRefunds(t *testing.T) {
	h := newHarness(t, &fakeGenerator{}, Options{})
	h.ledger.Grant(context.Background(), "user-1", 1, domain.TransactionBonus, "signup")

	job, _ := h.orch.Submit(context.Background(), submitRequest())
	cancelled, err := h.orch.Cancel(context.Background(), job.ID, "user-1")
	if err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if cancelled.Status != domain.JobStatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", cancelled.Status)
	}
	if balance, _ := h.ledger.Balance(context.Background(), "user-1"); balance != 1 {
		t.Fatalf("balance = %d, want 1 after cancel refund", balance)
	}
}

func TestCancelGeneratingJobRejected(t *testing.T) {
	h := newHarness(t, &fakeGenerator{}, Options{})
	h.ledger.Grant(context.Background(), "user-1", 1, domain.TransactionBonus, "signup")

	started := time.Now()
	h.jobs.seed(&domain.VideoJob{
		ID:                  "job-4",
		UserID:              "user-1",
		Status:              domain.JobStatusGenerating,
		ExternalJobID:       "ext-1",
		CreditsUsed:         1,
		CreatedAt:           started,
		GenerationStartedAt: &started,
		UpdatedAt:           started,
	})

	if _, err := h.orch.Cancel(context.Background(), "job-4", "user-1"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	stored, _ := h.jobs.GetByID(context.Background(), "job-4")
	if stored.Status != domain.JobStatusGenerating {
		t.Fatalf("status mutated to %s", stored.Status)
	}
}

func TestResumeProcessingAbsorbsTransientPoll(t *testing.T) {
	gen := &fakeGenerator{
		pollErrs:    []error{domain.ErrServiceUnavailable},
		pollResults: []videogen.PollResult{{State: videogen.StateDone, AssetURL: "https://gen.test/out.mp4"}},
	}
	h := newHarness(t, gen, Options{})
	h.ledger.Grant(context.Background(), "user-1", 1, domain.TransactionBonus, "signup")
	h.ledger.Debit(context.Background(), "user-1", 1, "job-5")

	stale := time.Now().Add(-time.Hour)
	h.jobs.seed(&domain.VideoJob{
		ID:            "job-5",
		UserID:        "user-1",
		Status:        domain.JobStatusProcessing,
		ExternalJobID: "ext-persisted",
		CreditsUsed:   1,
		CreatedAt:     stale,
		UpdatedAt:     stale,
	})

	if err := h.orch.Process(context.Background(), "job-5"); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	stored, _ := h.jobs.GetByID(context.Background(), "job-5")
	if stored.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED despite one transient poll", stored.Status)
	}
	if gen.polls != 2 {
		t.Fatalf("polls = %d, want 2", gen.polls)
	}
	if n := h.ledger.count(domain.TransactionRefund, "job-5"); n != 0 {
		t.Fatalf("refund count = %d, a finished video must not be refunded", n)
	}
}

func TestLongPollHeartbeatsJob(t *testing.T) {
	results := make([]videogen.PollResult, 0, 8)
	for i := 0; i < 7; i++ {
		results = append(results, videogen.PollResult{State: videogen.StateRunning})
	}
	results = append(results, videogen.PollResult{State: videogen.StateDone, AssetURL: "https://gen.test/out.mp4"})
	gen := &fakeGenerator{pollResults: results}
	h := newHarness(t, gen, Options{PollBudget: 10})
	h.ledger.Grant(context.Background(), "user-1", 1, domain.TransactionBonus, "signup")

	job, _ := h.orch.Submit(context.Background(), submitRequest())
	if err := h.orch.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	stored, _ := h.jobs.GetByID(context.Background(), job.ID)
	if stored.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", stored.Status)
	}
	if h.jobs.heartbeats != 1 {
		t.Fatalf("heartbeats = %d, want 1 during an 8-poll run", h.jobs.heartbeats)
	}
}

func TestTransientPollErrorsConsumeBudget(t *testing.T) {
	gen := &fakeGenerator{pollErrs: []error{
		domain.ErrServiceUnavailable, domain.ErrServiceUnavailable, domain.ErrServiceUnavailable,
	}}
	h := newHarness(t, gen, Options{PollBudget: 3})
	h.ledger.Grant(context.Background(), "user-1", 1, domain.TransactionBonus, "signup")

	job, _ := h.orch.Submit(context.Background(), submitRequest())
	if err := h.orch.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	stored, _ := h.jobs.GetByID(context.Background(), job.ID)
	if stored.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want FAILED", stored.Status)
	}
	if stored.Error.Code != "timeout" {
		t.Fatalf("error code = %s, want timeout after budget exhaustion", stored.Error.Code)
	}
	if gen.polls != 3 {
		t.Fatalf("polls = %d, want 3", gen.polls)
	}
}
