package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	CORSAllowedOrigins []string

	RedisAddr     string
	RedisPassword string

	// Local asset store (used when Cloudinary is not configured).
	StoragePath       string
	StorageBaseURL    string
	StorageSignSecret string

	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string

	VeoAPIKey  string
	VeoBaseURL string
	VeoModel   string

	PollInterval  time.Duration
	PollBudget    int
	SubmitRetries int
	SubmitBackoff time.Duration
	DownloadTTL   time.Duration
	StaleAfter    time.Duration

	WorkerConcurrency int
	ResumeInterval    time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		CORSAllowedOrigins: splitEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		StoragePath:       getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:    getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),
		StorageSignSecret: os.Getenv("STORAGE_SIGN_SECRET"),

		CloudinaryCloudName: os.Getenv("CLOUDINARY_CLOUD_NAME"),
		CloudinaryAPIKey:    os.Getenv("CLOUDINARY_API_KEY"),
		CloudinaryAPISecret: os.Getenv("CLOUDINARY_API_SECRET"),

		VeoAPIKey:  os.Getenv("VEO_API_KEY"),
		VeoBaseURL: getEnv("VEO_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		VeoModel:   getEnv("VEO_MODEL", "veo-2.0-generate-001"),

		PollInterval:  time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 10)),
		PollBudget:    getEnvInt("POLL_BUDGET", 120),
		SubmitRetries: getEnvInt("SUBMIT_RETRIES", 3),
		SubmitBackoff: time.Second * time.Duration(getEnvInt("SUBMIT_BACKOFF_SECONDS", 2)),
		DownloadTTL:   time.Hour * time.Duration(getEnvInt("DOWNLOAD_TTL_HOURS", 168)),
		StaleAfter:    time.Minute * time.Duration(getEnvInt("STALE_AFTER_MINUTES", 2)),

		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 4),
		ResumeInterval:    time.Minute * time.Duration(getEnvInt("RESUME_INTERVAL_MINUTES", 1)),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func splitEnv(key, fallback string) []string {
	raw := getEnv(key, fallback)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
