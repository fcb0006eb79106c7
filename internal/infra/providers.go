package infra

import (
	"fmt"

	"reelforge/internal/providers/videogen"
	"reelforge/internal/storage"
)

// NewAssetStore picks the configured asset store: Cloudinary when credentials
// are present, otherwise the local filesystem store.
func NewAssetStore(cfg *Config) (storage.Store, error) {
	if cfg.CloudinaryCloudName != "" {
		return storage.NewCloudinaryStore(storage.CloudinaryOptions{
			CloudName: cfg.CloudinaryCloudName,
			APIKey:    cfg.CloudinaryAPIKey,
			APISecret: cfg.CloudinaryAPISecret,
		})
	}
	signSecret := cfg.StorageSignSecret
	if signSecret == "" {
		if cfg.AppEnv != "development" {
			return nil, fmt.Errorf("STORAGE_SIGN_SECRET is required outside development")
		}
		signSecret = "dev-sign-secret"
	}
	return storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL, signSecret)
}

// NewGenerator configures the external video generation client.
func NewGenerator(cfg *Config, logger *Logger) (videogen.Generator, error) {
	return videogen.NewVeoClient(videogen.Options{
		APIKey:  cfg.VeoAPIKey,
		BaseURL: cfg.VeoBaseURL,
		Model:   cfg.VeoModel,
		Logger:  logger,
	})
}
