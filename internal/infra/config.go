package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment
// variables. It is built once in main and injected into services and
// backend clients; nothing below the composition root reads the
// environment directly.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	DBMaxConns  int
	JWTSecret   string

	StoragePath    string
	StorageBaseURL string
	GeoIPDBPath    string
	MigrationsDir  string

	ComfyBaseURL       string
	ComfySubmitTimeout time.Duration
	ComfyPollTimeout   time.Duration

	ServerlessBaseURL       string
	ServerlessEndpointID    string
	ServerlessAPIKey        string
	ServerlessSubmitTimeout time.Duration
	WebhookBaseURL          string

	PollInterval      time.Duration
	ImageMaxAttempts  int
	VideoMaxAttempts  int
	WorkerConcurrency int

	AMQPURL           string
	JobEventsExchange string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	CORSOrigins      []string
	DefaultLocale    string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBMaxConns:  getEnvInt("DB_MAX_CONNS", 10),
		JWTSecret:   os.Getenv("JWT_SECRET"),

		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL: getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),
		GeoIPDBPath:    os.Getenv("GEOIP_DB_PATH"),
		MigrationsDir:  getEnv("MIGRATIONS_DIR", "./migrations"),

		ComfyBaseURL:       getEnv("COMFY_BASE_URL", "http://localhost:8188"),
		ComfySubmitTimeout: time.Second * time.Duration(getEnvInt("COMFY_SUBMIT_TIMEOUT_SECONDS", 15)),
		ComfyPollTimeout:   time.Second * time.Duration(getEnvInt("COMFY_POLL_TIMEOUT_SECONDS", 5)),

		ServerlessBaseURL:       getEnv("SERVERLESS_BASE_URL", "https://api.runpod.ai/v2"),
		ServerlessEndpointID:    os.Getenv("SERVERLESS_ENDPOINT_ID"),
		ServerlessAPIKey:        os.Getenv("SERVERLESS_API_KEY"),
		ServerlessSubmitTimeout: time.Second * time.Duration(getEnvInt("SERVERLESS_SUBMIT_TIMEOUT_SECONDS", 10)),
		WebhookBaseURL:          os.Getenv("WEBHOOK_BASE_URL"),

		PollInterval:      time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 2)),
		ImageMaxAttempts:  getEnvInt("IMAGE_MAX_ATTEMPTS", 300),
		VideoMaxAttempts:  getEnvInt("VIDEO_MAX_ATTEMPTS", 600),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 4),

		AMQPURL:           os.Getenv("AMQP_URL"),
		JobEventsExchange: getEnv("JOB_EVENTS_EXCHANGE", "job.events"),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		CORSOrigins:      splitList(getEnv("CORS_ORIGINS", "*")),
		DefaultLocale:    getEnv("DEFAULT_LOCALE", "en"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

// MaxAttemptsFor returns the poll attempt budget for a job type.
func (c *Config) MaxAttemptsFor(videoJob bool) int {
	if videoJob {
		return c.VideoMaxAttempts
	}
	return c.ImageMaxAttempts
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
