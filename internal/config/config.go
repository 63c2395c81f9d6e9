// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Image store backends.
const (
	ImagesInline = "inline"
	ImagesLocal  = "local"
	ImagesS3     = "s3"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	CORSOrigins []string

	Store      StoreConfig
	SessionTTL time.Duration

	// InstanceID identifies this replica on the generation attempts it runs.
	InstanceID        string
	AttemptStaleAfter time.Duration

	Agents AgentConfig
	Worker WorkerConfig
	Images ImageConfig

	TracesStdout bool
}

// StoreConfig selects and configures the session store.
type StoreConfig struct {
	Driver         string
	DBPath         string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	MemoryCapacity int
}

// AgentConfig configures the image and survey agents. With no Gemini key
// and no render agent address, placeholder drawings are produced and
// survey uploads fall back to manual entry.
type AgentConfig struct {
	GeminiAPIKey      string
	GeminiImageModel  string
	GeminiVisionModel string
	RenderAgentAddr   string
	Timeout           time.Duration
	Concurrency       int
	ExtractTimeout    time.Duration
}

// WorkerConfig sizes the generation worker pool.
type WorkerConfig struct {
	Count     int
	QueueSize int
}

// ImageConfig selects where generated images are kept.
type ImageConfig struct {
	Backend     string
	Dir         string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3Region    string
	S3UseSSL    bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		CORSOrigins: getEnvList("CORS_ORIGINS", []string{"*"}),
		Store: StoreConfig{
			Driver:         strings.ToLower(getEnv("STORE_DRIVER", StoreSQLite)),
			DBPath:         getEnv("DB_PATH", "./data/ecoplan.db"),
			RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword:  getEnv("REDIS_PASSWORD", ""),
			RedisDB:        getEnvInt("REDIS_DB", 0),
			MemoryCapacity: getEnvInt("MEMORY_STORE_CAPACITY", 1000),
		},
		SessionTTL:        getEnvDuration("SESSION_TTL", 7*24*time.Hour),
		InstanceID:        getEnv("INSTANCE_ID", hostname()),
		AttemptStaleAfter: getEnvDuration("ATTEMPT_STALE_AFTER", 15*time.Minute),
		Agents: AgentConfig{
			GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
			GeminiImageModel:  getEnv("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image"),
			GeminiVisionModel: getEnv("GEMINI_VISION_MODEL", "gemini-2.5-flash"),
			RenderAgentAddr:   getEnv("RENDER_AGENT_ADDR", ""),
			Timeout:           getEnvDuration("AGENT_TIMEOUT", 2*time.Minute),
			Concurrency:       getEnvInt("AGENT_CONCURRENCY", 4),
			ExtractTimeout:    getEnvDuration("SURVEY_EXTRACT_TIMEOUT", 60*time.Second),
		},
		Worker: WorkerConfig{
			Count:     getEnvInt("WORKER_COUNT", 4),
			QueueSize: getEnvInt("WORKER_QUEUE_SIZE", 64),
		},
		Images: ImageConfig{
			Backend:     strings.ToLower(getEnv("IMAGE_STORE", ImagesLocal)),
			Dir:         getEnv("IMAGE_DIR", "./data/images"),
			S3Endpoint:  getEnv("S3_ENDPOINT", ""),
			S3AccessKey: getEnv("S3_ACCESS_KEY", ""),
			S3SecretKey: getEnv("S3_SECRET_KEY", ""),
			S3Bucket:    getEnv("S3_BUCKET", "ecoplan-images"),
			S3Region:    getEnv("S3_REGION", ""),
			S3UseSSL:    getEnvBool("S3_USE_SSL", true),
		},
		TracesStdout: getEnvBool("OTEL_TRACES_STDOUT", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set. Every
// problem is reported, not just the first.
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT cannot be empty"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be > 0"))
	}
	if c.InstanceID == "" {
		errs = append(errs, errors.New("INSTANCE_ID cannot be empty"))
	}
	if c.AttemptStaleAfter <= c.Agents.Timeout {
		errs = append(errs, errors.New("ATTEMPT_STALE_AFTER must be longer than AGENT_TIMEOUT"))
	}

	switch c.Store.Driver {
	case StoreMemory:
		if c.Store.MemoryCapacity <= 0 {
			errs = append(errs, errors.New("MEMORY_STORE_CAPACITY must be > 0"))
		}
	case StoreSQLite:
		if c.Store.DBPath == "" {
			errs = append(errs, errors.New("DB_PATH cannot be empty"))
		}
	case StoreRedis:
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR cannot be empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be %s, %s or %s, got %q", StoreMemory, StoreSQLite, StoreRedis, c.Store.Driver))
	}

	if c.Agents.Timeout <= 0 {
		errs = append(errs, errors.New("AGENT_TIMEOUT must be > 0"))
	}
	if c.Agents.Concurrency <= 0 {
		errs = append(errs, errors.New("AGENT_CONCURRENCY must be > 0"))
	}
	if c.Worker.Count <= 0 {
		errs = append(errs, errors.New("WORKER_COUNT must be > 0"))
	}
	if c.Worker.QueueSize <= 0 {
		errs = append(errs, errors.New("WORKER_QUEUE_SIZE must be > 0"))
	}

	switch c.Images.Backend {
	case ImagesInline:
	case ImagesLocal:
		if c.Images.Dir == "" {
			errs = append(errs, errors.New("IMAGE_DIR cannot be empty"))
		}
	case ImagesS3:
		if c.Images.S3Endpoint == "" || c.Images.S3Bucket == "" {
			errs = append(errs, errors.New("S3_ENDPOINT and S3_BUCKET are required for IMAGE_STORE=s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("IMAGE_STORE must be %s, %s or %s, got %q", ImagesInline, ImagesLocal, ImagesS3, c.Images.Backend))
	}
	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "local"
	}
	return name
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
