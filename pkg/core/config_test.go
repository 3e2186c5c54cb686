package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	cfg := LoadConfigFromEnv()

	assert.Equal(t, "sqlite", cfg.Storage.Provider)
	assert.Equal(t, "./memoria.db", cfg.Storage.SQLitePath)
	assert.Equal(t, 5432, cfg.Storage.PGPort)
	assert.Equal(t, "disable", cfg.Storage.PGSSLMode)
	assert.Equal(t, "deterministic", cfg.Embedder.Provider)
	assert.Equal(t, int64(1), cfg.NodeID)
	assert.False(t, cfg.Debug)
	assert.Zero(t, cfg.Engine.SessionRetention)
}

func TestLoadConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("MEMORIA_STORAGE_PROVIDER", "postgres")
	t.Setenv("MEMORIA_PG_HOST", "db.internal")
	t.Setenv("MEMORIA_PG_PORT", "5433")
	t.Setenv("MEMORIA_EMBEDDER_PROVIDER", "qwen")
	t.Setenv("MEMORIA_EMBEDDER_API_KEY", "sk-test")
	t.Setenv("MEMORIA_EMBEDDER_DIMENSIONS", "512")
	t.Setenv("MEMORIA_SIMILARITY_THRESHOLD", "0.85")
	t.Setenv("MEMORIA_SESSION_RETENTION_DAYS", "14")
	t.Setenv("MEMORIA_NODE_ID", "7")
	t.Setenv("MEMORIA_DEBUG", "true")

	cfg := LoadConfigFromEnv()

	assert.Equal(t, "postgres", cfg.Storage.Provider)
	assert.Equal(t, "db.internal", cfg.Storage.PGHost)
	assert.Equal(t, 5433, cfg.Storage.PGPort)
	assert.Equal(t, "qwen", cfg.Embedder.Provider)
	assert.Equal(t, "sk-test", cfg.Embedder.APIKey)
	assert.Equal(t, 512, cfg.Embedder.Dimensions)
	assert.Equal(t, 0.85, cfg.Engine.SimilarityThreshold)
	assert.Equal(t, 14*24*time.Hour, cfg.Engine.SessionRetention)
	assert.Equal(t, int64(7), cfg.NodeID)
	assert.True(t, cfg.Debug)
}

func TestEnvFallbackAPIKey(t *testing.T) {
	t.Setenv("MEMORIA_EMBEDDER_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "sk-openai")

	cfg := LoadConfigFromEnv()
	assert.Equal(t, "sk-openai", cfg.Embedder.APIKey)
}
