package assignment

import (
	"context"
	"time"

	"misir/internal/domain"
	"misir/internal/embedding"
	"misir/internal/margin"
	"misir/internal/store"
)

// Embedder is the narrow slice of the embedding provider the pipeline
// needs: document-role embedding only (queries are the search service's
// concern).
type Embedder interface {
	EmbedDocument(ctx context.Context, text string, dim int) (embedding.Result, error)
}

// MarginResolver is the narrow slice of the margin service the pipeline
// needs.
type MarginResolver interface {
	ResolveWithThreshold(ctx context.Context, userID string, spaceID int64, q384, q768 []float32, threshold float64) (margin.Result, error)
}

// Store is the slice of the state store the pipeline needs, defined
// locally (rather than depending on store.Store wholesale) so this
// package only commits to the methods it calls.
type Store interface {
	IngestArtifactWithSignal(ctx context.Context, p store.IngestParams) (store.IngestResult, error)
	BackfillAssignment(ctx context.Context, userID string, artifactID int64, subspaceID int64, matchedMarkerIDs []int64) error
	ListMarkersForSpace(ctx context.Context, userID string, spaceID int64) ([]domain.Marker, []domain.MarkerLink, error)
	ListSubspaces(ctx context.Context, userID string, spaceID int64) ([]domain.Subspace, error)
	SetSubspaceCentroidFromMarkers(ctx context.Context, userID string, subspaceID int64, centroidVec []float32) error
	RegenerateMarkerEmbedding(ctx context.Context, markerID int64, vector []float32) error
}

// EventDispatcher is the fire-and-forget webhook contract: Dispatch must
// never block the caller long enough to fail a capture, and must never
// panic back into it.
type EventDispatcher interface {
	Dispatch(eventType string, payload any)
}

// Logger is the structured-fields logging contract shared across services.
type Logger interface {
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
}

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type noopLogger struct{}

func (noopLogger) Info(string, map[string]any) {}
func (noopLogger) Warn(string, map[string]any) {}

type noopDispatcher struct{}

func (noopDispatcher) Dispatch(string, any) {}
