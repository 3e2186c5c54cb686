// Package core wires the engine's components behind one client: short-term
// writes, consolidation, semantic search, association lookups, maintenance,
// and cross-agent sharing.
package core

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config contains the complete configuration for an engine client.
//
// Example:
//
//	config := &core.Config{
//	    Storage: core.StorageConfig{
//	        Provider:   "sqlite",
//	        SQLitePath: "./memoria.db",
//	    },
//	    Embedder: core.EmbedderConfig{
//	        Provider: "openai",
//	        APIKey:   "sk-...",
//	    },
//	}
type Config struct {
	// Storage contains the record store configuration.
	Storage StorageConfig `json:"storage"`

	// Embedder contains the embedding provider configuration.
	Embedder EmbedderConfig `json:"embedder"`

	// Engine contains thresholds and decay rates.
	Engine EngineConfig `json:"engine"`

	// ProfilesPath points to a YAML agent capability profile file.
	// Empty uses the built-in default profiles.
	ProfilesPath string `json:"profiles_path,omitempty"`

	// NodeID distinguishes id-generating nodes in multi-process
	// deployments. Defaults to 1.
	NodeID int64 `json:"node_id,omitempty"`

	// Debug switches the logger to development output.
	Debug bool `json:"debug,omitempty"`
}

// StorageConfig selects and configures the record store backend.
//
// Supported providers: sqlite, postgres.
type StorageConfig struct {
	// Provider is the backend name (sqlite, postgres).
	Provider string `json:"provider"`

	// SQLitePath is the database file path for the sqlite provider.
	// Use ":memory:" for an ephemeral store.
	SQLitePath string `json:"sqlite_path,omitempty"`

	// Postgres connection settings, used by the postgres provider.
	PGHost     string `json:"pg_host,omitempty"`
	PGPort     int    `json:"pg_port,omitempty"`
	PGUser     string `json:"pg_user,omitempty"`
	PGPassword string `json:"pg_password,omitempty"`
	PGDBName   string `json:"pg_dbname,omitempty"`
	PGSSLMode  string `json:"pg_sslmode,omitempty"`
}

// EmbedderConfig selects and configures the embedding provider.
//
// Supported providers: openai, qwen, deterministic. The deterministic provider
// needs no credentials and produces hash-seeded pseudo-embeddings, which
// keeps the engine fully functional offline.
type EmbedderConfig struct {
	// Provider is the embedding provider name (openai, qwen, deterministic).
	Provider string `json:"provider"`

	// APIKey is the API key for the openai and qwen providers.
	APIKey string `json:"api_key,omitempty"`

	// Model is the embedding model name.
	Model string `json:"model,omitempty"`

	// BaseURL overrides the API base URL (optional).
	BaseURL string `json:"base_url,omitempty"`

	// Dimensions is the vector dimensionality.
	Dimensions int `json:"dimensions,omitempty"`
}

// EngineConfig carries similarity thresholds and decay rates. Zero values
// fall back to the component defaults.
type EngineConfig struct {
	// SimilarityThreshold is the embedding cosine above which two entries
	// consolidate into one.
	SimilarityThreshold float64 `json:"similarity_threshold,omitempty"`

	// OverlapThreshold is the token overlap above which two entries are
	// treated as near duplicates.
	OverlapThreshold float64 `json:"overlap_threshold,omitempty"`

	// AssociationDecayRate is the daily strength loss of association edges.
	AssociationDecayRate float64 `json:"association_decay_rate,omitempty"`

	// LongTermDecayRate is the daily strength loss of long-term memories.
	LongTermDecayRate float64 `json:"long_term_decay_rate,omitempty"`

	// StrengthFloor is the long-term strength below which entries are
	// flagged weak.
	StrengthFloor float64 `json:"strength_floor,omitempty"`

	// SessionRetention is how long a session may idle before archival.
	SessionRetention time.Duration `json:"session_retention,omitempty"`

	// SweepInterval is the period of the background maintenance loop.
	SweepInterval time.Duration `json:"sweep_interval,omitempty"`
}

// LoadConfigFromEnv loads configuration from environment variables,
// reading a .env file first if one is present.
//
// Recognized variables:
//
//	MEMORIA_STORAGE_PROVIDER    sqlite | postgres (default sqlite)
//	MEMORIA_SQLITE_PATH         sqlite file path (default ./memoria.db)
//	MEMORIA_PG_HOST             postgres host
//	MEMORIA_PG_PORT             postgres port (default 5432)
//	MEMORIA_PG_USER             postgres user
//	MEMORIA_PG_PASSWORD         postgres password
//	MEMORIA_PG_DBNAME           postgres database name
//	MEMORIA_PG_SSLMODE          postgres sslmode (default disable)
//	MEMORIA_EMBEDDER_PROVIDER   openai | qwen | deterministic (default deterministic)
//	MEMORIA_EMBEDDER_API_KEY    API key for the openai and qwen providers
//	OPENAI_API_KEY              fallback API key for the openai provider
//	MEMORIA_EMBEDDER_MODEL      embedding model name
//	MEMORIA_EMBEDDER_BASE_URL   API base URL override
//	MEMORIA_EMBEDDER_DIMENSIONS vector dimensionality
//	MEMORIA_SIMILARITY_THRESHOLD
//	MEMORIA_OVERLAP_THRESHOLD
//	MEMORIA_ASSOCIATION_DECAY_RATE
//	MEMORIA_LONG_TERM_DECAY_RATE
//	MEMORIA_STRENGTH_FLOOR
//	MEMORIA_SESSION_RETENTION_DAYS
//	MEMORIA_PROFILES_PATH       YAML agent profile file
//	MEMORIA_NODE_ID             id-generator node id
//	MEMORIA_DEBUG               true enables development logging
func LoadConfigFromEnv() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Storage: StorageConfig{
			Provider:   getEnv("MEMORIA_STORAGE_PROVIDER", "sqlite"),
			SQLitePath: getEnv("MEMORIA_SQLITE_PATH", "./memoria.db"),
			PGHost:     getEnv("MEMORIA_PG_HOST", "localhost"),
			PGPort:     getEnvInt("MEMORIA_PG_PORT", 5432),
			PGUser:     os.Getenv("MEMORIA_PG_USER"),
			PGPassword: os.Getenv("MEMORIA_PG_PASSWORD"),
			PGDBName:   os.Getenv("MEMORIA_PG_DBNAME"),
			PGSSLMode:  getEnv("MEMORIA_PG_SSLMODE", "disable"),
		},
		Embedder: EmbedderConfig{
			Provider:   getEnv("MEMORIA_EMBEDDER_PROVIDER", "deterministic"),
			APIKey:     getEnv("MEMORIA_EMBEDDER_API_KEY", os.Getenv("OPENAI_API_KEY")),
			Model:      os.Getenv("MEMORIA_EMBEDDER_MODEL"),
			BaseURL:    os.Getenv("MEMORIA_EMBEDDER_BASE_URL"),
			Dimensions: getEnvInt("MEMORIA_EMBEDDER_DIMENSIONS", 0),
		},
		Engine: EngineConfig{
			SimilarityThreshold:  getEnvFloat("MEMORIA_SIMILARITY_THRESHOLD", 0),
			OverlapThreshold:     getEnvFloat("MEMORIA_OVERLAP_THRESHOLD", 0),
			AssociationDecayRate: getEnvFloat("MEMORIA_ASSOCIATION_DECAY_RATE", 0),
			LongTermDecayRate:    getEnvFloat("MEMORIA_LONG_TERM_DECAY_RATE", 0),
			StrengthFloor:        getEnvFloat("MEMORIA_STRENGTH_FLOOR", 0),
		},
		ProfilesPath: os.Getenv("MEMORIA_PROFILES_PATH"),
		NodeID:       int64(getEnvInt("MEMORIA_NODE_ID", 1)),
		Debug:        getEnv("MEMORIA_DEBUG", "false") == "true",
	}

	if days := getEnvInt("MEMORIA_SESSION_RETENTION_DAYS", 0); days > 0 {
		cfg.Engine.SessionRetention = time.Duration(days) * 24 * time.Hour
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
