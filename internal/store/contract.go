// Package store defines the single persistence contract every other core
// service consumes: atomic ingestion, indexing, and URL-idempotent
// upserts. The core owns semantics (what a capture means); the store owns
// atomicity, normalization, and physical indexing.
package store

import (
	"context"
	"time"

	"misir/internal/domain"
	"misir/internal/vectorindex"
)

// IngestParams carries every field the assignment pipeline has resolved
// by the time it calls the atomic ingest operation.
type IngestParams struct {
	UserID          string
	URL             string
	Title           string
	Text            string
	WordCount       int
	EngagementLevel domain.EngagementLevel
	ContentSource   domain.ContentSource
	DwellTimeMS     int64
	ScrollDepth     float64
	ReadingDepth    float64

	SpaceID          int64
	SubspaceID       *int64
	MatchedMarkerIDs []int64

	Vector             []float32 // unit-L2, EmbeddingDimension long
	EmbeddingModel     string
	EmbeddingDimension int
	SignalType         domain.SignalType
	Magnitude          float64
	Margin             *float64
	UpdatesCentroid    bool

	// DefaultAlpha is the EMA rate used for the centroid update when the
	// subspace's stored learning_rate is 0; it is not written back to the
	// subspace row.
	DefaultAlpha               float64
	ConfidenceBeta             float64
	DriftThreshold             float64
	MinSignalsBetweenDriftLogs int
}

// IngestResult is what the store hands back after the atomic operation.
type IngestResult struct {
	ArtifactID         int64
	SignalID           int64
	IsNew              bool
	Message            string
	ResolvedSubspaceID *int64
	CentroidUpdated    bool
	Drift              float64
}

// SpacePatch carries the optional fields a PATCH /spaces/{id} call may
// update; a nil field leaves the stored value untouched.
type SpacePatch struct {
	Name      *string
	Intention *string
	Embedding []float32
}

// SubspacePatch carries the optional fields a PATCH .../subspaces/{sid}
// call may update. LearningRate is the one dedicated path for mutating an
// otherwise-immutable learning_rate.
type SubspacePatch struct {
	Name         *string
	Description  *string
	LearningRate *float64
}

// ArtifactPatch carries the optional fields a PATCH /artifacts/{id} call
// may update. EngagementLevel still goes through the upgrade-only lattice
// enforcement; a downgrade request is silently ignored, not rejected.
type ArtifactPatch struct {
	Title           *string
	Text            *string
	EngagementLevel *domain.EngagementLevel
	SubspaceID      *int64
}

// AnalyticsArtifactRow is the lightweight projection the global analytics
// roll-up (GET /analytics/global) reads: just enough fields to compute
// overview, time allocation, the activity heatmap, weak items, and 7-day
// pace without hydrating full Artifact/Signal rows.
type AnalyticsArtifactRow struct {
	ID        int64
	Title     string
	SpaceID   int64
	CreatedAt time.Time
	WordCount int
	Margin    *float64
}

// SearchRow hydrates one signal hit for the search service: the vector
// index returns bare (id, distance) pairs, so the store joins signal→
// artifact to fill in the fields a search result actually displays.
type SearchRow struct {
	SignalID        int64
	ArtifactID      int64
	Title           string
	URL             string
	ContentPreview  string
	SpaceID         int64
	SubspaceID      *int64
	EngagementLevel domain.EngagementLevel
	DwellTimeMS     int64
}

// Store is the full persistence contract. vectorindex.Index is embedded because the
// same physical rows (signals, subspace centroids) back both ingestion and
// search/margin queries; a store implementation satisfies both at once.
type Store interface {
	vectorindex.Index

	// IngestArtifactWithSignal is the one atomic write path for captures:
	// URL normalization, (user_id, normalized_url) upsert, engagement
	// upgrade-only enforcement, signal insert, and -- when
	// UpdatesCentroid -- the OSCL centroid update, all under one
	// transaction / row lock.
	IngestArtifactWithSignal(ctx context.Context, p IngestParams) (IngestResult, error)

	// BackfillAssignment patches subspace_id/matched_marker_ids onto an
	// artifact that IngestArtifactWithSignal returned pre-existing (a URL
	// collision) without those fields set. Best-effort; callers must not
	// fail a capture because this fails.
	BackfillAssignment(ctx context.Context, userID string, artifactID int64, subspaceID int64, matchedMarkerIDs []int64) error

	GetArtifact(ctx context.Context, userID string, artifactID int64) (domain.Artifact, error)
	// UpdateArtifact applies a PATCH; returns apperrors-wrapped not-found
	// when the row doesn't exist for this user.
	UpdateArtifact(ctx context.Context, userID string, artifactID int64, patch ArtifactPatch) (domain.Artifact, error)
	// DeleteArtifact soft-deletes the artifact and cascades to its signals.
	DeleteArtifact(ctx context.Context, userID string, artifactID int64) error
	// ListArtifactsForAnalytics is the lightweight feed behind the global
	// analytics roll-up; most recent first, capped at limit.
	ListArtifactsForAnalytics(ctx context.Context, userID string, limit int) ([]AnalyticsArtifactRow, error)

	CreateSpace(ctx context.Context, userID, name, intention string, embedding []float32) (domain.Space, error)
	UpdateSpace(ctx context.Context, userID string, spaceID int64, patch SpacePatch) (domain.Space, error)
	DeleteSpace(ctx context.Context, userID string, spaceID int64) error
	GetSpace(ctx context.Context, userID string, spaceID int64) (domain.Space, error)
	ListSpaces(ctx context.Context, userID string) ([]domain.Space, error)

	CreateSubspace(ctx context.Context, userID string, spaceID int64, name, description string, learningRate float64) (domain.Subspace, error)
	UpdateSubspace(ctx context.Context, userID string, subspaceID int64, patch SubspacePatch) (domain.Subspace, error)
	DeleteSubspace(ctx context.Context, userID string, subspaceID int64) error
	// MergeSubspaces folds sourceID into targetID: artifacts and signals are
	// repointed, the target's centroid becomes the artifact-count-weighted
	// mean of both (renormalized), and the source is soft-deleted. Returns
	// the updated target.
	MergeSubspaces(ctx context.Context, userID string, spaceID, sourceID, targetID int64) (domain.Subspace, error)
	GetSubspace(ctx context.Context, userID string, subspaceID int64) (domain.Subspace, error)
	ListSubspaces(ctx context.Context, userID string, spaceID int64) ([]domain.Subspace, error)
	// ListActiveCentroids restricts ListSubspaces to rows with a non-nil
	// centroid; used by the Margin Service's last-resort linear scan.
	ListActiveCentroids(ctx context.Context, userID string, spaceID int64) ([]domain.Subspace, error)

	CreateMarker(ctx context.Context, userID string, spaceID int64, label string, embedding []float32, weight float64) (domain.Marker, error)
	ListMarkersForSpace(ctx context.Context, userID string, spaceID int64) ([]domain.Marker, []domain.MarkerLink, error)
	// SetSubspaceCentroidFromMarkers persists the legacy-repair pass's
	// regenerated centroid (mean of marker embeddings, renormalized).
	SetSubspaceCentroidFromMarkers(ctx context.Context, userID string, subspaceID int64, centroid []float32) error
	RegenerateMarkerEmbedding(ctx context.Context, markerID int64, vector []float32) error
	// DecayAllMarkerWeights applies one round of OSCL marker-weight decay
	// to every (subspace, marker) link for the user; returns the count
	// touched.
	DecayAllMarkerWeights(ctx context.Context, userID string, gamma, minWeight float64) (int, error)

	// History reads for the analytics service.
	DriftEvents(ctx context.Context, userID string, spaceID int64, subspaceID *int64, limit int) ([]domain.DriftEvent, error)
	VelocityMeasurements(ctx context.Context, userID string, spaceID int64, subspaceID *int64, limit int) ([]domain.VelocityMeasurement, error)
	ConfidenceSamples(ctx context.Context, userID string, spaceID int64, subspaceID *int64, limit int) ([]domain.ConfidenceSample, error)
	RecentSignalMargins(ctx context.Context, userID string, spaceID int64, limit int) ([]float64, error)
	// SignalCountsPerDay buckets signal creation by day for the given
	// subspace over the trailing window; keys are "2006-01-02".
	SignalCountsPerDay(ctx context.Context, userID string, subspaceID int64, since time.Time) (map[string]int, error)

	// SignalsByID hydrates the display fields for a set of signal ids, in
	// the caller's order of interest; ids not found (deleted, wrong user)
	// are simply absent from the result, never an error.
	SignalsByID(ctx context.Context, userID string, signalIDs []int64) ([]SearchRow, error)
	// RecentSignals is the degraded-mode fallback for search: most recent
	// signals for the user (optionally scoped to space/subspace), newest
	// first, used when both vector-index stages are unavailable.
	RecentSignals(ctx context.Context, userID string, spaceID *int64, subspaceID *int64, limit int) ([]SearchRow, error)
}
