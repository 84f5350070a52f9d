// Package analytics provides read-only derived views over the history
// tables and current subspace state -- drift/velocity/confidence series,
// margin distribution, and a small rule engine producing typed alerts.
// Every view is user-scoped and space-scoped.
package analytics

import (
	"context"
	"time"

	"misir/internal/domain"
	"misir/internal/store"
)

// Store is the slice of the state store the analytics service needs. Like
// the locally-scoped interfaces of assignment and search, it uses package
// store's row types (here store.AnalyticsArtifactRow) rather than
// restating them.
type Store interface {
	ListSubspaces(ctx context.Context, userID string, spaceID int64) ([]domain.Subspace, error)
	DriftEvents(ctx context.Context, userID string, spaceID int64, subspaceID *int64, limit int) ([]domain.DriftEvent, error)
	VelocityMeasurements(ctx context.Context, userID string, spaceID int64, subspaceID *int64, limit int) ([]domain.VelocityMeasurement, error)
	ConfidenceSamples(ctx context.Context, userID string, spaceID int64, subspaceID *int64, limit int) ([]domain.ConfidenceSample, error)
	RecentSignalMargins(ctx context.Context, userID string, spaceID int64, limit int) ([]float64, error)
	SignalCountsPerDay(ctx context.Context, userID string, subspaceID int64, since time.Time) (map[string]int, error)

	// ListSpaces and ListArtifactsForAnalytics back the global per-user
	// roll-up (Global); the space-scoped views above never call them.
	ListSpaces(ctx context.Context, userID string) ([]domain.Space, error)
	ListArtifactsForAnalytics(ctx context.Context, userID string, limit int) ([]store.AnalyticsArtifactRow, error)
}
