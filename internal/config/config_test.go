package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("FRONTEND_URL", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, StoreSQLite, cfg.Store.Driver)
	assert.Equal(t, 7*24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, ImagesLocal, cfg.Images.Backend)
	assert.Equal(t, 4, cfg.Worker.Count)
	assert.NotEmpty(t, cfg.InstanceID)
	assert.Equal(t, 15*time.Minute, cfg.AttemptStaleAfter)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("FRONTEND_URL", "https://eco.example")
	t.Setenv("CORS_ORIGINS", "https://eco.example, https://admin.eco.example,")
	t.Setenv("STORE_DRIVER", "Redis")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("SESSION_TTL", "36h")
	t.Setenv("AGENT_TIMEOUT", "not-a-duration")
	t.Setenv("IMAGE_STORE", "inline")
	t.Setenv("OTEL_TRACES_STDOUT", "yes")
	t.Setenv("INSTANCE_ID", "ecoplan-1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, []string{"https://eco.example", "https://admin.eco.example"}, cfg.CORSOrigins)
	assert.Equal(t, StoreRedis, cfg.Store.Driver)
	assert.Equal(t, 3, cfg.Store.RedisDB)
	assert.Equal(t, 36*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 2*time.Minute, cfg.Agents.Timeout, "unparseable values keep the default")
	assert.Equal(t, ImagesInline, cfg.Images.Backend)
	assert.True(t, cfg.TracesStdout)
	assert.Equal(t, "ecoplan-1", cfg.InstanceID)
	assert.False(t, cfg.IsDevelopment())
}

func TestValidateReportsEveryProblem(t *testing.T) {
	t.Setenv("STORE_DRIVER", "mongo")
	t.Setenv("WORKER_COUNT", "0")
	t.Setenv("IMAGE_STORE", "s3")
	t.Setenv("S3_ENDPOINT", "")
	t.Setenv("ATTEMPT_STALE_AFTER", "1m")

	_, err := Load()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "STORE_DRIVER")
	assert.Contains(t, msg, "WORKER_COUNT")
	assert.Contains(t, msg, "S3_ENDPOINT")
	assert.Contains(t, msg, "ATTEMPT_STALE_AFTER")
}
