package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FileStore persists assets onto the local filesystem and serves them from a
// public base URL. It is intended for development and test environments where
// an object storage service is not available.
type FileStore struct {
	basePath   string
	baseURL    string
	signSecret []byte
	now        func() time.Time
}

// NewFileStore initializes a FileStore rooted at basePath. Signed URLs are
// minted under baseURL with an HMAC over the key and expiry.
func NewFileStore(basePath, baseURL, signSecret string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if strings.TrimSpace(signSecret) == "" {
		return nil, errors.New("storage: sign secret is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{
		basePath:   basePath,
		baseURL:    strings.TrimRight(baseURL, "/"),
		signSecret: []byte(signSecret),
		now:        time.Now,
	}, nil
}

// Upload persists the bytes under folder/publicID and returns the asset
// coordinates. Keys are cleaned to prevent directory traversal.
func (s *FileStore) Upload(ctx context.Context, data []byte, params UploadParams) (*Asset, error) {
	if s == nil {
		return nil, errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("storage: empty payload")
	}
	publicID, err := sanitizeKey(path.Join(params.Folder, params.PublicID))
	if err != nil {
		return nil, err
	}
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(publicID)+".mp4")
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("storage: write file: %w", err)
	}
	return &Asset{
		PublicID:     publicID,
		SecureURL:    s.baseURL + "/" + publicID + ".mp4",
		ThumbnailURL: s.baseURL + "/" + publicID + ".jpg",
	}, nil
}

// SignedURL mints an expiring download URL for a stored asset. The signature
// covers the public id and the expiry timestamp.
func (s *FileStore) SignedURL(publicID string, ttl time.Duration) (string, error) {
	if s == nil {
		return "", errors.New("storage: no store configured")
	}
	publicID, err := sanitizeKey(publicID)
	if err != nil {
		return "", err
	}
	if ttl <= 0 {
		return "", errors.New("storage: ttl must be positive")
	}
	expires := s.now().Add(ttl).Unix()
	values := url.Values{}
	values.Set("expires", strconv.FormatInt(expires, 10))
	values.Set("sig", s.sign(publicID, expires))
	return s.baseURL + "/" + publicID + ".mp4?" + values.Encode(), nil
}

// VerifySignedURL checks a download request produced by SignedURL.
func (s *FileStore) VerifySignedURL(publicID string, expires int64, sig string) bool {
	if s.now().Unix() > expires {
		return false
	}
	expected := s.sign(publicID, expires)
	return hmac.Equal([]byte(expected), []byte(sig))
}

func (s *FileStore) sign(publicID string, expires int64) string {
	mac := hmac.New(sha256.New, s.signSecret)
	fmt.Fprintf(mac, "%s:%d", publicID, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.Clean(key)
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")
	if cleaned == "." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}

var _ Store = (*FileStore)(nil)
