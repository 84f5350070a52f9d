// Package search implements Matryoshka two-stage semantic search over
// previously captured signals, scoped by user, space, and subspace, with
// a three-step degraded-mode cascade when the vector index is partially
// unavailable.
package search

import (
	"context"

	"misir/internal/embedding"
	"misir/internal/store"
	"misir/internal/vectorindex"
)

// Embedder is the subset of the embedding provider the search service
// needs: query-role embedding only (documents are the capture pipeline's
// concern).
type Embedder interface {
	EmbedQuery(ctx context.Context, text string, dim int) (embedding.Result, error)
}

// Index is the subset of vectorindex.Index the search service needs.
type Index interface {
	KNN768(ctx context.Context, f vectorindex.Filters, q768 []float32, k int) ([]vectorindex.Hit, error)
	SearchMatryoshka(ctx context.Context, f vectorindex.Filters, q384, q768 []float32, k, prefilterK int, threshold float64) ([]vectorindex.MatryoshkaHit, error)
}

// Store is the subset of store.Store the search service needs to hydrate
// hit display fields and to serve the most-degraded fallback.
type Store interface {
	SignalsByID(ctx context.Context, userID string, signalIDs []int64) ([]store.SearchRow, error)
	RecentSignals(ctx context.Context, userID string, spaceID *int64, subspaceID *int64, limit int) ([]store.SearchRow, error)
}

// Logger is the structured-fields logging contract shared across services.
type Logger interface {
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
}

type noopLogger struct{}

func (noopLogger) Info(string, map[string]any) {}
func (noopLogger) Warn(string, map[string]any) {}

// Cache is an optional result cache; a nil Cache disables caching. A
// narrow get/set contract over an injected client, never constructed
// directly by the service.
type Cache interface {
	Get(ctx context.Context, key string) ([]Hit, bool)
	Set(ctx context.Context, key string, hits []Hit)
}
