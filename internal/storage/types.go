package storage

import (
	"context"
	"time"
)

// Asset describes an object placed in durable storage.
type Asset struct {
	PublicID     string
	SecureURL    string
	ThumbnailURL string
}

// UploadParams addresses an upload inside the store.
type UploadParams struct {
	Folder   string
	PublicID string
}

// Store abstracts durable object storage for finished videos.
type Store interface {
	Upload(ctx context.Context, data []byte, params UploadParams) (*Asset, error)
	SignedURL(publicID string, ttl time.Duration) (string, error)
}
