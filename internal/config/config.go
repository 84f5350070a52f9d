// Package config loads and serves the core's runtime configuration. Most
// values come from environment variables at process start. ConfigHandle
// can re-read a handful of tunables (margin thresholds, learning rates,
// reading-depth constants) from Postgres on a background interval.
// cmd/misircore does not create a ConfigHandle: its services keep the
// values loaded at start-up.
package config

import "time"

// EmbeddingConfig describes how to reach the embedding HTTP endpoint.
type EmbeddingConfig struct {
	Model     string
	BaseURL   string
	Path      string
	APIHeader string
	APIKey    string
	Timeout   int // seconds
	Dimension int // native model dimension, before any Matryoshka truncation
}

// ObsConfig configures the OTel resource and exporters.
type ObsConfig struct {
	OTLP           string
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// VectorIndexParams controls the Postgres/pgvector and optional Qdrant
// prefilter and rerank stages of Matryoshka search.
type VectorIndexParams struct {
	Backend        string // "postgres" or "qdrant"
	PrefilterDim   int    // 384 by default
	RerankDim      int    // 768 by default
	IVFFlatLists   int
	QdrantDSN      string
	QdrantFullColl string
	QdrantPrefColl string
}

// ReadingDepthConstants parameterize the suspicious-reading-depth monitor.
// None of these ever reject a capture; they only widen or narrow the band
// logged as a warning.
type ReadingDepthConstants struct {
	AvgWPM       float64
	TimeWeight   float64
	ScrollWeight float64
	MaxRatio     float64
	Tolerance    float64
}

// LearningRates holds the per-subspace OSCL defaults used when a subspace
// row doesn't carry its own override.
type LearningRates struct {
	DefaultAlpha              float64
	ConfidenceBeta            float64
	MarkerDecayGamma          float64
	MarkerWeightMin           float64
	CentroidHistoryThreshold  float64 // min drift magnitude to log a history row
	MinSignalsBetweenLogs     int     // signals that must elapse between drift logs
	AssignmentMarginThreshold float64
}

// WebhookConfig controls outbound event delivery.
type WebhookConfig struct {
	Endpoint       string
	Secret         string
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	RequestTimeout time.Duration
}

// PostgresConfig is the primary state store connection.
type PostgresConfig struct {
	DSN      string
	MaxConns int32
	MinConns int32
}

// RedisConfig configures the optional cache/pubsub layer.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Enabled  bool
}

// Config is the fully resolved process configuration.
type Config struct {
	Embedding     EmbeddingConfig
	Obs           ObsConfig
	VectorIndex   VectorIndexParams
	ReadingDepth  ReadingDepthConstants
	Learning      LearningRates
	Webhook       WebhookConfig
	Postgres      PostgresConfig
	Redis         RedisConfig

	HTTPAddr      string
	LogPath       string
	LogLevel      string

	// ConfigRefreshInterval governs how often ConfigHandle re-reads the
	// dynamic subset (Learning, ReadingDepth) from Postgres.
	ConfigRefreshInterval time.Duration
}
