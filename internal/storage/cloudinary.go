package storage

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

// CloudinaryStore uploads finished videos to Cloudinary and mints expiring
// private download URLs. Requests are signed with the SHA-1 parameter
// signature scheme of the upload API.
type CloudinaryStore struct {
	cloudName  string
	apiKey     string
	apiSecret  string
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// CloudinaryOptions configures a CloudinaryStore.
type CloudinaryOptions struct {
	CloudName  string
	APIKey     string
	APISecret  string
	BaseURL    string
	HTTPClient *http.Client
}

// NewCloudinaryStore validates the credentials and returns a store.
func NewCloudinaryStore(opts CloudinaryOptions) (*CloudinaryStore, error) {
	if opts.CloudName == "" || opts.APIKey == "" || opts.APISecret == "" {
		return nil, errors.New("storage: cloudinary credentials are required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.cloudinary.com/v1_1"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	return &CloudinaryStore{
		cloudName:  opts.CloudName,
		apiKey:     opts.APIKey,
		apiSecret:  opts.APISecret,
		baseURL:    baseURL,
		httpClient: httpClient,
		now:        time.Now,
	}, nil
}

type cloudinaryUploadResponse struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Upload sends the video bytes to the signed upload endpoint.
func (s *CloudinaryStore) Upload(ctx context.Context, data []byte, params UploadParams) (*Asset, error) {
	if len(data) == 0 {
		return nil, errors.New("storage: empty payload")
	}

	timestamp := strconv.FormatInt(s.now().Unix(), 10)
	fields := map[string]string{
		"public_id": params.PublicID,
		"timestamp": timestamp,
	}
	if params.Folder != "" {
		fields["folder"] = params.Folder
	}
	fields["signature"] = signParams(fields, s.apiSecret)
	fields["api_key"] = s.apiKey

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, fmt.Errorf("storage: encode upload form: %w", err)
		}
	}
	part, err := writer.CreateFormFile("file", params.PublicID+".mp4")
	if err != nil {
		return nil, fmt.Errorf("storage: encode upload form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("storage: encode upload form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("storage: encode upload form: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/video/upload", s.baseURL, s.cloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage: upload: %w", err)
	}
	defer resp.Body.Close()

	var payload cloudinaryUploadResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("storage: decode upload response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("status %d", resp.StatusCode)
		if payload.Error != nil {
			msg = payload.Error.Message
		}
		return nil, fmt.Errorf("storage: upload rejected: %s", msg)
	}
	if payload.PublicID == "" || payload.SecureURL == "" {
		return nil, errors.New("storage: upload response missing asset coordinates")
	}

	return &Asset{
		PublicID:     payload.PublicID,
		SecureURL:    payload.SecureURL,
		ThumbnailURL: s.thumbnailURL(payload.PublicID),
	}, nil
}

// SignedURL mints a private download URL that expires after ttl.
func (s *CloudinaryStore) SignedURL(publicID string, ttl time.Duration) (string, error) {
	if publicID == "" {
		return "", errors.New("storage: public id is required")
	}
	if ttl <= 0 {
		return "", errors.New("storage: ttl must be positive")
	}
	expiresAt := strconv.FormatInt(s.now().Add(ttl).Unix(), 10)
	fields := map[string]string{
		"public_id":  publicID,
		"format":     "mp4",
		"expires_at": expiresAt,
	}
	signature := signParams(fields, s.apiSecret)

	values := url.Values{}
	for key, value := range fields {
		values.Set(key, value)
	}
	values.Set("api_key", s.apiKey)
	values.Set("signature", signature)
	return fmt.Sprintf("%s/%s/video/download?%s", s.baseURL, s.cloudName, values.Encode()), nil
}

func (s *CloudinaryStore) thumbnailURL(publicID string) string {
	return fmt.Sprintf("https://res.cloudinary.com/%s/video/upload/so_0/%s.jpg", s.cloudName, path.Clean(publicID))
}

// signParams builds the SHA-1 signature over the sorted key=value pairs
// concatenated with the API secret, per the Cloudinary signing scheme.
func signParams(fields map[string]string, secret string) string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+fields[key])
	}
	sum := sha1.Sum([]byte(strings.Join(pairs, "&") + secret))
	return hex.EncodeToString(sum[:])
}

var _ Store = (*CloudinaryStore)(nil)
