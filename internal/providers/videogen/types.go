package videogen

import "context"

// State mirrors the lifecycle reported by the external generation service.
type State string

const (
	StatePending State = "PENDING"
	StateRunning State = "RUNNING"
	StateDone    State = "DONE"
	StateError   State = "ERROR"
)

// Terminal reports whether the external job has finished.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError
}

// SubmitRequest carries the composed prompt and optional product reference
// image to the generation service.
type SubmitRequest struct {
	Prompt            string
	ReferenceImageURL string
	RequestID         string
}

// PollResult is a snapshot of the external job. AssetURL is populated only
// when State is DONE; Message only when State is ERROR.
type PollResult struct {
	State    State
	AssetURL string
	Message  string
}

// Generator abstracts the external asynchronous video generation service.
// Poll must be safe to call repeatedly.
type Generator interface {
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	Poll(ctx context.Context, externalJobID string) (PollResult, error)
	Fetch(ctx context.Context, assetURL string) ([]byte, error)
}
