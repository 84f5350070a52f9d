package config

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

// Load reads configuration from environment variables (optionally .env).
// Values not set fall back to sensible defaults so a bare `go run` against a
// local Postgres still works.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{}

	cfg.Embedding.Model = firstNonEmpty(os.Getenv("EMBEDDING_MODEL"), "nomic-embed-text")
	cfg.Embedding.BaseURL = firstNonEmpty(os.Getenv("EMBEDDING_BASE_URL"), "http://localhost:8080")
	cfg.Embedding.Path = firstNonEmpty(os.Getenv("EMBEDDING_PATH"), "/v1/embeddings")
	cfg.Embedding.APIHeader = os.Getenv("EMBEDDING_API_HEADER")
	cfg.Embedding.APIKey = os.Getenv("EMBEDDING_API_KEY")
	cfg.Embedding.Timeout = envInt("EMBEDDING_TIMEOUT_SECONDS", 30)
	cfg.Embedding.Dimension = envInt("EMBEDDING_DIMENSION", 768)

	cfg.Obs.OTLP = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	cfg.Obs.ServiceName = firstNonEmpty(os.Getenv("OTEL_SERVICE_NAME"), "misir-core")
	cfg.Obs.ServiceVersion = firstNonEmpty(os.Getenv("SERVICE_VERSION"), "dev")
	cfg.Obs.Environment = firstNonEmpty(os.Getenv("ENVIRONMENT"), "development")

	cfg.VectorIndex.Backend = firstNonEmpty(os.Getenv("VECTOR_BACKEND"), "postgres")
	cfg.VectorIndex.PrefilterDim = envInt("VECTOR_PREFILTER_DIM", 384)
	cfg.VectorIndex.RerankDim = envInt("VECTOR_RERANK_DIM", 768)
	cfg.VectorIndex.IVFFlatLists = envInt("VECTOR_IVFFLAT_LISTS", 100)
	cfg.VectorIndex.QdrantDSN = os.Getenv("QDRANT_DSN")
	cfg.VectorIndex.QdrantFullColl = firstNonEmpty(os.Getenv("QDRANT_COLLECTION_FULL"), "signals_768")
	cfg.VectorIndex.QdrantPrefColl = firstNonEmpty(os.Getenv("QDRANT_COLLECTION_PREFILTER"), "signals_384")

	cfg.ReadingDepth.AvgWPM = envFloat("READING_DEPTH_AVG_WPM", 200)
	cfg.ReadingDepth.TimeWeight = envFloat("READING_DEPTH_TIME_WEIGHT", 0.6)
	cfg.ReadingDepth.ScrollWeight = envFloat("READING_DEPTH_SCROLL_WEIGHT", 0.4)
	cfg.ReadingDepth.MaxRatio = envFloat("READING_DEPTH_MAX_RATIO", 1.5)
	cfg.ReadingDepth.Tolerance = envFloat("READING_DEPTH_TOLERANCE", 0.20)

	cfg.Learning.DefaultAlpha = envFloat("OSCL_DEFAULT_ALPHA", 0.1)
	cfg.Learning.ConfidenceBeta = envFloat("OSCL_CONFIDENCE_BETA", 0.05)
	cfg.Learning.MarkerDecayGamma = envFloat("MARKER_DECAY_GAMMA", 0.02)
	cfg.Learning.MarkerWeightMin = envFloat("MARKER_WEIGHT_MIN", 0.05)
	cfg.Learning.CentroidHistoryThreshold = envFloat("CENTROID_HISTORY_THRESHOLD", 0.05)
	cfg.Learning.MinSignalsBetweenLogs = envInt("CENTROID_MIN_SIGNALS_BETWEEN_LOGS", 5)
	cfg.Learning.AssignmentMarginThreshold = envFloat("ASSIGNMENT_MARGIN_THRESHOLD", 0.05)

	cfg.Webhook.Endpoint = os.Getenv("WEBHOOK_ENDPOINT")
	cfg.Webhook.Secret = os.Getenv("WEBHOOK_SECRET")
	cfg.Webhook.MaxAttempts = envInt("WEBHOOK_MAX_ATTEMPTS", 6) // initial attempt + 5 retries
	cfg.Webhook.InitialBackoff = envDuration("WEBHOOK_INITIAL_BACKOFF", 500*time.Millisecond)
	cfg.Webhook.MaxBackoff = envDuration("WEBHOOK_MAX_BACKOFF", 300*time.Second)
	cfg.Webhook.RequestTimeout = envDuration("WEBHOOK_REQUEST_TIMEOUT", 10*time.Second)

	cfg.Postgres.DSN = firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("POSTGRES_DSN"))
	cfg.Postgres.MaxConns = int32(envInt("POSTGRES_MAX_CONNS", 10))
	cfg.Postgres.MinConns = int32(envInt("POSTGRES_MIN_CONNS", 2))

	cfg.Redis.Addr = os.Getenv("REDIS_ADDR")
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	cfg.Redis.DB = envInt("REDIS_DB", 0)
	cfg.Redis.Enabled = cfg.Redis.Addr != ""

	cfg.HTTPAddr = firstNonEmpty(os.Getenv("HTTP_ADDR"), ":8090")
	cfg.LogPath = os.Getenv("LOG_PATH")
	cfg.LogLevel = firstNonEmpty(os.Getenv("LOG_LEVEL"), "info")
	cfg.ConfigRefreshInterval = envDuration("CONFIG_REFRESH_INTERVAL", 60*time.Second)

	return cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// ConfigHandle wraps a Config snapshot that is periodically refreshed from
// the dynamic_config table so operators can tune margin thresholds and
// learning rates without a redeploy. The static sections (connection
// strings, OTel, HTTP address) never change after Load.
type ConfigHandle struct {
	mu  sync.RWMutex
	cur Config
	db  *pgxpool.Pool
}

// NewConfigHandle seeds the handle with an initial snapshot. db may be nil,
// in which case Refresh and StartRefreshLoop are no-ops and the handle just
// serves the static snapshot forever.
func NewConfigHandle(initial Config, db *pgxpool.Pool) *ConfigHandle {
	return &ConfigHandle{cur: initial, db: db}
}

// Snapshot returns the current configuration. Safe for concurrent use.
func (h *ConfigHandle) Snapshot() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cur
}

// Refresh re-reads the dynamic_config table and swaps in updated Learning
// and ReadingDepth values. Rows are stored as key/value pairs; unknown keys
// are ignored and missing keys leave the current value untouched.
func (h *ConfigHandle) Refresh(ctx context.Context) error {
	if h.db == nil {
		return nil
	}
	rows, err := h.db.Query(ctx, `SELECT key, value FROM dynamic_config`)
	if err != nil {
		return err
	}
	defer rows.Close()

	vals := make(map[string]float64)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return err
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			continue // non-numeric rows belong to other consumers
		}
		vals[key] = value
	}
	if err := rows.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	applyIfPresent(vals, "assignment_margin_threshold", &h.cur.Learning.AssignmentMarginThreshold)
	applyIfPresent(vals, "oscl_default_alpha", &h.cur.Learning.DefaultAlpha)
	applyIfPresent(vals, "oscl_confidence_beta", &h.cur.Learning.ConfidenceBeta)
	applyIfPresent(vals, "marker_decay_gamma", &h.cur.Learning.MarkerDecayGamma)
	applyIfPresent(vals, "marker_weight_min", &h.cur.Learning.MarkerWeightMin)
	applyIfPresent(vals, "centroid_history_threshold", &h.cur.Learning.CentroidHistoryThreshold)
	if v, ok := vals["centroid_min_signals_between_logs"]; ok {
		h.cur.Learning.MinSignalsBetweenLogs = int(v)
	}
	applyIfPresent(vals, "reading_depth_avg_wpm", &h.cur.ReadingDepth.AvgWPM)
	applyIfPresent(vals, "reading_depth_time_weight", &h.cur.ReadingDepth.TimeWeight)
	applyIfPresent(vals, "reading_depth_scroll_weight", &h.cur.ReadingDepth.ScrollWeight)
	applyIfPresent(vals, "reading_depth_max_ratio", &h.cur.ReadingDepth.MaxRatio)
	applyIfPresent(vals, "reading_depth_tolerance", &h.cur.ReadingDepth.Tolerance)
	return nil
}

func applyIfPresent(vals map[string]float64, key string, dst *float64) {
	if v, ok := vals[key]; ok {
		*dst = v
	}
}

// StartRefreshLoop runs Refresh on the configured interval until ctx is
// canceled. Refresh errors are swallowed by errFn so a transient DB hiccup
// never crashes the process; pass a logging callback to observe them.
func (h *ConfigHandle) StartRefreshLoop(ctx context.Context, interval time.Duration, errFn func(error)) {
	if h.db == nil || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := h.Refresh(ctx); err != nil && errFn != nil {
					errFn(err)
				}
			}
		}
	}()
}
