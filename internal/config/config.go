package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all runtime configuration, loaded from environment
// variables. Callers construct it once per process and pass it explicitly.
type Config struct {
	Database  DatabaseConfig
	Index     IndexConfig
	Embedding EmbeddingConfig
	Matching  MatchingConfig
	Cluster   ClusterConfig
	Legacy    LegacyConfig
	Server    ServerConfig
}

// DatabaseConfig configures the PostgreSQL identity store.
type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MinIdleConns int    // Minimum idle connections (default 5)
}

// IndexConfig configures the vector index.
type IndexConfig struct {
	Path string // Path to persist the HNSW index (optional, empty rebuilds on startup)
}

// EmbeddingConfig describes the external embedding model. The engine
// never calls the model; the dimension and version feed validation and
// the centroid staleness fingerprint.
type EmbeddingConfig struct {
	Dim          int    // defaults to 512
	ModelVersion string // defaults to buffalo_l
}

// MatchingConfig holds the classification thresholds and suggestion
// limits.
type MatchingConfig struct {
	// AutoThreshold is the minimum similarity for automatic assignment.
	AutoThreshold float64
	// SuggestThreshold is the minimum similarity for a review suggestion.
	// Must be strictly below AutoThreshold.
	SuggestThreshold float64
	// PropagationLimit caps how many suggestions one confirmed assignment
	// can fan out to.
	PropagationLimit int
	// MinCentroidFaces is the minimum labeled face count for building a
	// centroid.
	MinCentroidFaces int
	// BatchSize is the sub-batch size for bulk sweeps; cancellation is
	// checked between sub-batches.
	BatchSize int
}

// ClusterConfig bounds the unsupervised clustering pass.
type ClusterConfig struct {
	// MaxSetSize is the memory-safety ceiling on how many observations one
	// clustering run may materialize pairwise structures for.
	MaxSetSize int
	// MinClusterSize is the default minimum cluster membership.
	MinClusterSize int
	// MinSamples is the default core-distance neighborhood size.
	MinSamples int
}

// LegacyConfig configures the read-only PhotoPrism MariaDB importer.
type LegacyConfig struct {
	DatabaseDSN string // e.g. photoprism:photoprism@tcp(mariadb:3306)/photoprism
}

// ServerConfig configures the HTTP adapter.
type ServerConfig struct {
	Host string
	Port int
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a float in (0, 1].
// Returns the default value if the env var is unset, empty, or invalid.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 && f <= 1 {
		return f
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// Load reads configuration from the environment.
func Load() *Config {
	return &Config{
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MinIdleConns: envInt("DATABASE_MIN_IDLE_CONNS", 5),
		},
		Index: IndexConfig{
			Path: os.Getenv("INDEX_PATH"),
		},
		Embedding: EmbeddingConfig{
			Dim:          envInt("EMBEDDING_DIM", 512),
			ModelVersion: envString("EMBEDDING_MODEL_VERSION", "buffalo_l"),
		},
		Matching: MatchingConfig{
			AutoThreshold:    envFloat("AUTO_THRESHOLD", 0.85),
			SuggestThreshold: envFloat("SUGGEST_THRESHOLD", 0.70),
			PropagationLimit: envInt("PROPAGATION_LIMIT", 50),
			MinCentroidFaces: envInt("MIN_CENTROID_FACES", 2),
			BatchSize:        envInt("BATCH_SIZE", 200),
		},
		Cluster: ClusterConfig{
			MaxSetSize:     envInt("CLUSTER_MAX_SET_SIZE", 20000),
			MinClusterSize: envInt("CLUSTER_MIN_SIZE", 3),
			MinSamples:     envInt("CLUSTER_MIN_SAMPLES", 5),
		},
		Legacy: LegacyConfig{
			DatabaseDSN: os.Getenv("LEGACY_DATABASE_DSN"),
		},
		Server: ServerConfig{
			Host: envString("HTTP_HOST", "0.0.0.0"),
			Port: envInt("HTTP_PORT", 8080),
		},
	}
}

// Validate rejects configurations that must never reach runtime
// classification. A suggest threshold at or above the auto threshold
// would collapse the two decision tiers, so it fails here, at setup.
func (c *Config) Validate() error {
	if c.Matching.SuggestThreshold >= c.Matching.AutoThreshold {
		return fmt.Errorf("invalid configuration: suggest threshold %.3f must be below auto threshold %.3f",
			c.Matching.SuggestThreshold, c.Matching.AutoThreshold)
	}
	if c.Matching.AutoThreshold > 1 {
		return fmt.Errorf("invalid configuration: auto threshold %.3f above 1", c.Matching.AutoThreshold)
	}
	if c.Embedding.Dim <= 0 {
		return fmt.Errorf("invalid configuration: embedding dimension %d", c.Embedding.Dim)
	}
	if c.Matching.MinCentroidFaces < 2 {
		return fmt.Errorf("invalid configuration: min centroid faces %d below 2", c.Matching.MinCentroidFaces)
	}
	if c.Cluster.MaxSetSize <= 0 {
		return fmt.Errorf("invalid configuration: cluster max set size %d", c.Cluster.MaxSetSize)
	}
	return nil
}
