package videogen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"reelforge/internal/domain"
)

// Options controls how the Veo client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// VeoClient talks to a Google-style long-running video generation API:
// submission returns an operation name, the operation is polled until done,
// and the finished video is downloaded from the URI it reports.
type VeoClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *zerolog.Logger
}

// NewVeoClient configures a Veo generation client.
func NewVeoClient(opts Options) (*VeoClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "veo-2.0-generate-001"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &VeoClient{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		logger:     opts.Logger,
	}, nil
}

type veoInstance struct {
	Prompt string    `json:"prompt"`
	Image  *veoImage `json:"image,omitempty"`
}

type veoImage struct {
	ImageURI string `json:"imageUri,omitempty"`
}

type veoSubmitRequest struct {
	Instances []veoInstance `json:"instances"`
}

type veoOperation struct {
	Name  string `json:"name"`
	Done  bool   `json:"done"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Metadata *struct {
		State string `json:"state,omitempty"`
	} `json:"metadata,omitempty"`
	Response *struct {
		GenerateVideoResponse struct {
			GeneratedSamples []struct {
				Video struct {
					URI string `json:"uri"`
				} `json:"video"`
			} `json:"generatedSamples"`
		} `json:"generateVideoResponse"`
	} `json:"response,omitempty"`
}

// Submit starts a long-running generation and returns the operation name.
func (c *VeoClient) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", fmt.Errorf("%w: empty prompt", domain.ErrSubmissionRejected)
	}

	instance := veoInstance{Prompt: req.Prompt}
	if ref := strings.TrimSpace(req.ReferenceImageURL); ref != "" {
		instance.Image = &veoImage{ImageURI: ref}
	}
	body, err := json.Marshal(veoSubmitRequest{Instances: []veoInstance{instance}})
	if err != nil {
		return "", fmt.Errorf("encode submit request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:predictLongRunning", c.baseURL, c.model)
	resp, err := c.do(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusBadRequest:
		return "", fmt.Errorf("%w: %s", domain.ErrSubmissionRejected, readErrorBody(resp))
	default:
		return "", fmt.Errorf("%w: submit status %d", domain.ErrServiceUnavailable, resp.StatusCode)
	}

	var op veoOperation
	if err := json.NewDecoder(resp.Body).Decode(&op); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if op.Name == "" {
		return "", fmt.Errorf("%w: submit response missing operation name", domain.ErrServiceUnavailable)
	}
	if c.logger != nil {
		c.logger.Debug().Str("operation", op.Name).Str("request_id", req.RequestID).Msg("veo: submitted")
	}
	return op.Name, nil
}

// Poll reads the operation once. It never mutates caller-visible state and is
// safe to call on any schedule.
func (c *VeoClient) Poll(ctx context.Context, externalJobID string) (PollResult, error) {
	endpoint := fmt.Sprintf("%s/%s", c.baseURL, strings.TrimPrefix(externalJobID, "/"))
	resp, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return PollResult{}, fmt.Errorf("%w: %v", domain.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return PollResult{}, fmt.Errorf("%w: operation %s", domain.ErrNotFound, externalJobID)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return PollResult{}, fmt.Errorf("%w: poll status %d", domain.ErrServiceUnavailable, resp.StatusCode)
	}

	var op veoOperation
	if err := json.NewDecoder(resp.Body).Decode(&op); err != nil {
		return PollResult{}, fmt.Errorf("decode poll response: %w", err)
	}

	if !op.Done {
		state := StateRunning
		if op.Metadata != nil && strings.EqualFold(op.Metadata.State, "pending") {
			state = StatePending
		}
		return PollResult{State: state}, nil
	}
	if op.Error != nil {
		return PollResult{State: StateError, Message: op.Error.Message}, nil
	}
	assetURL := ""
	if op.Response != nil && len(op.Response.GenerateVideoResponse.GeneratedSamples) > 0 {
		assetURL = op.Response.GenerateVideoResponse.GeneratedSamples[0].Video.URI
	}
	if assetURL == "" {
		return PollResult{State: StateError, Message: "operation finished without a video"}, nil
	}
	return PollResult{State: StateDone, AssetURL: assetURL}, nil
}

// Fetch downloads the finished video bytes.
func (c *VeoClient) Fetch(ctx context.Context, assetURL string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAssetUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: download status %d", domain.ErrAssetUnavailable, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAssetUnavailable, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty download", domain.ErrAssetUnavailable)
	}
	return data, nil
}

func (c *VeoClient) do(ctx context.Context, method, endpoint string, body []byte) (*http.Response, error) {
	target, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		q := target.Query()
		q.Set("key", c.apiKey)
		target.RawQuery = q.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

func readErrorBody(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	return strings.TrimSpace(string(data))
}

var _ Generator = (*VeoClient)(nil)
