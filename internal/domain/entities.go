// Package domain holds the entity and value types shared across the
// semantic assignment and learning pipeline. Nothing in this package talks
// to a database, an HTTP request, or an embedding endpoint — it is pure
// data plus the invariants the rest of the core relies on.
package domain

import "time"

// Artifact is a single captured piece of content, scoped to one user.
type Artifact struct {
	ID              int64
	UserID          string
	URL             string
	NormalizedURL   string
	Domain          string
	Title           string
	Text            string
	WordCount       int
	EngagementLevel EngagementLevel
	ContentSource   ContentSource
	DwellTimeMS     int64
	ScrollDepth     float64
	ReadingDepth    float64
	SpaceID         int64
	SubspaceID      *int64
	MatchedMarkers  []int64
	CreatedAt       time.Time
	DeletedAt       *time.Time
}

// Signal is the atomic embedded event attached to an Artifact.
type Signal struct {
	ID                 int64
	ArtifactID         int64
	UserID             string
	Vector             []float32
	Magnitude          float64
	SignalType         SignalType
	EmbeddingModel     string
	EmbeddingDimension int
	Margin             *float64
	UpdatesCentroid    bool
	SpaceID            int64
	SubspaceID         *int64
	CreatedAt          time.Time
	DeletedAt          *time.Time
}

// Space is a top-level, user-owned container for Subspaces.
type Space struct {
	ID            int64
	UserID        string
	Name          string
	Intention     string
	Embedding     []float32
	ArtifactCount int
	Evidence      float64
	CreatedAt     time.Time
	DeletedAt     *time.Time
}

// SubspaceState is the informational lifecycle stage of a Subspace's
// centroid. It never changes how OSCL computes an update — it is reported
// for dashboards and alerts only.
type SubspaceState string

const (
	SubspaceUninitialized SubspaceState = "uninitialized"
	SubspaceLearning      SubspaceState = "learning"
	SubspaceStable        SubspaceState = "stable"
)

// Subspace is a semantic cluster inside a Space.
type Subspace struct {
	ID                int64
	UserID            string
	SpaceID           int64
	Name              string
	Description       string
	CentroidEmbedding []float32 // nil before the first committing signal
	CentroidUpdatedAt *time.Time
	LearningRate      float64
	ArtifactCount     int
	Confidence        float64
	CreatedAt         time.Time
	DeletedAt         *time.Time
}

// State reports the informational lifecycle stage for this subspace.
func (s Subspace) State() SubspaceState {
	if s.DeletedAt != nil {
		return SubspaceStable // terminal; reported as stable, never relearns
	}
	if s.CentroidEmbedding == nil {
		return SubspaceUninitialized
	}
	if s.Confidence >= 0.8 && s.ArtifactCount >= 20 {
		return SubspaceStable
	}
	return SubspaceLearning
}

// Marker is a user-defined semantic anchor used to seed or rescue subspace
// assignment when centroids are missing or ambiguous.
type Marker struct {
	ID        int64
	UserID    string
	Label     string
	Embedding []float32
	CreatedAt time.Time
	DeletedAt *time.Time
}

// MarkerLink is the weighted, sourced association between a Subspace and a
// Marker.
type MarkerLink struct {
	SubspaceID int64
	MarkerID   int64
	Weight     float64
	Source     MarkerSource
}

// CentroidHistory is an append-only snapshot of a subspace centroid at a
// point in time.
type CentroidHistory struct {
	ID         int64
	SubspaceID int64
	Centroid   []float32
	OccurredAt time.Time
}

// DriftEvent is logged only when a centroid update's drift magnitude meets
// the configured threshold.
type DriftEvent struct {
	ID             int64
	SubspaceID     int64
	DriftMagnitude float64
	TriggerSignal  int64
	OccurredAt     time.Time
}

// VelocityMeasurement captures how fast a centroid is moving.
type VelocityMeasurement struct {
	ID         int64
	SubspaceID int64
	Velocity   float64
	MeasuredAt time.Time
}

// ConfidenceSample is an append-only point in a subspace's confidence time
// series.
type ConfidenceSample struct {
	ID         int64
	SubspaceID int64
	Confidence float64
	ComputedAt time.Time
}
