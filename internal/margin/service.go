// Package margin implements the assignment margin service: given a
// freshly embedded signal, find the nearest and second-nearest subspace
// centroids in the owning space and report whether the gap between them is
// wide enough to trust the nearest one for an OSCL centroid update.
//
// Resolution runs a three-step cascade, each step attempted only if the one
// before it returned nothing: the Matryoshka two-stage search against the
// index, a direct 768-dim KNN against the index, and finally an in-core
// linear scan over the active centroids read from the store. The last step
// does not touch the index, so a temporarily unreachable index does not
// block captures; an error from the store read is still returned.
package margin

import (
	"context"

	"misir/internal/domain"
	"misir/internal/vectorindex"
)

// Index is the subset of vectorindex.Index the margin service needs,
// defined locally so this package doesn't import the store.
type Index interface {
	KNN768(ctx context.Context, f vectorindex.Filters, q768 []float32, k int) ([]vectorindex.Hit, error)
	SearchMatryoshka(ctx context.Context, f vectorindex.Filters, q384, q768 []float32, k, prefilterK int, threshold float64) ([]vectorindex.MatryoshkaHit, error)
}

// CentroidProvider backstops the index with an in-core scan when both index
// strategies come back empty (index down, or the space has fewer centroids
// than the index's own minimum scan size).
type CentroidProvider interface {
	ListActiveCentroids(ctx context.Context, userID string, spaceID int64) ([]domain.Subspace, error)
}

// Service resolves assignment margins for one user's spaces.
type Service struct {
	index     Index
	centroids CentroidProvider
	threshold float64
}

// New wires a margin Service. threshold is the default assignment margin
// gate (d2-d1) below which a signal is logged but not applied to the
// centroid; callers may override it per call via ResolveWithThreshold.
func New(index Index, centroids CentroidProvider, threshold float64) *Service {
	return &Service{index: index, centroids: centroids, threshold: threshold}
}

// Result is the outcome of resolving one signal against a space's
// subspaces.
type Result struct {
	// NearestSubspaceID is nil when the space has no active (centroid-bearing)
	// subspace at all -- the caller must bootstrap a new one.
	NearestSubspaceID *int64
	D1                float64 // nearest centroid's cosine distance
	D2                float64 // second-nearest's cosine distance; 1.0 when there is no second
	Margin            float64 // D2 - D1
	UpdatesCentroid   bool
	Strategy          string // which cascade step resolved this, for observability
}

// Resolve runs the cascade with the service's configured threshold.
func (s *Service) Resolve(ctx context.Context, userID string, spaceID int64, q384, q768 []float32) (Result, error) {
	return s.ResolveWithThreshold(ctx, userID, spaceID, q384, q768, s.threshold)
}

// ResolveWithThreshold runs the cascade with an explicit margin threshold,
// letting callers honor a per-space override without mutating the service.
func (s *Service) ResolveWithThreshold(ctx context.Context, userID string, spaceID int64, q384, q768 []float32, threshold float64) (Result, error) {
	filt := vectorindex.Filters{UserID: userID, SpaceID: &spaceID, ExcludeNullCentroid: true}

	// threshold -1 disables the similarity cutoff: margin computation must
	// see the runner-up even when it sits in the opposite hemisphere.
	if hits, err := s.index.SearchMatryoshka(ctx, filt, q384, q768, 2, 0, -1); err == nil && len(hits) > 0 {
		return fromMatryoshka(hits, threshold, "matryoshka"), nil
	}

	if hits, err := s.index.KNN768(ctx, filt, q768, 2); err == nil && len(hits) > 0 {
		return fromHits(hits, threshold, "knn768"), nil
	}

	subspaces, err := s.centroids.ListActiveCentroids(ctx, userID, spaceID)
	if err != nil {
		return Result{}, err
	}
	return scanSubspaces(subspaces, q768, threshold), nil
}

func fromMatryoshka(hits []vectorindex.MatryoshkaHit, threshold float64, strategy string) Result {
	plain := make([]vectorindex.Hit, len(hits))
	for i, h := range hits {
		plain[i] = vectorindex.Hit{ID: h.ID, Distance: h.Distance}
	}
	return fromHits(plain, threshold, strategy)
}

func fromHits(hits []vectorindex.Hit, threshold float64, strategy string) Result {
	id := hits[0].ID
	d1 := hits[0].Distance
	// A lone candidate always commits: d2 is pinned to 1.0 and the margin
	// reported as 1.0 rather than 1.0-d1, so a single far-away centroid
	// still learns from its only signals.
	if len(hits) == 1 {
		return Result{
			NearestSubspaceID: &id,
			D1:                d1,
			D2:                1.0,
			Margin:            1.0,
			UpdatesCentroid:   true,
			Strategy:          strategy,
		}
	}
	d2 := hits[1].Distance
	margin := d2 - d1
	return Result{
		NearestSubspaceID: &id,
		D1:                d1,
		D2:                d2,
		Margin:            margin,
		UpdatesCentroid:   margin >= threshold,
		Strategy:          strategy,
	}
}

// scanSubspaces never returns an error: an empty or all-uninitialized list
// yields a nil NearestSubspaceID with margin 1.0 and UpdatesCentroid true,
// the "bootstrap" outcome the caller interprets as "no centroid to move".
func scanSubspaces(subspaces []domain.Subspace, q768 []float32, threshold float64) Result {
	type scored struct {
		id       int64
		distance float64
	}
	var scores []scored
	for _, sub := range subspaces {
		if sub.CentroidEmbedding == nil || sub.DeletedAt != nil {
			continue
		}
		scores = append(scores, scored{id: sub.ID, distance: domain.CosineDistance(sub.CentroidEmbedding, q768)})
	}
	if len(scores) == 0 {
		return Result{D1: 1.0, D2: 1.0, Margin: 1.0, UpdatesCentroid: true, Strategy: "scan"}
	}
	if len(scores) == 1 {
		id := scores[0].id
		return Result{
			NearestSubspaceID: &id,
			D1:                scores[0].distance,
			D2:                1.0,
			Margin:            1.0,
			UpdatesCentroid:   true,
			Strategy:          "scan",
		}
	}
	best, second := scores[0], scores[1]
	if second.distance < best.distance {
		best, second = second, best
	}
	for _, sc := range scores[2:] {
		switch {
		case sc.distance < best.distance:
			second = best
			best = sc
		case sc.distance < second.distance:
			second = sc
		}
	}
	margin := second.distance - best.distance
	id := best.id
	return Result{
		NearestSubspaceID: &id,
		D1:                best.distance,
		D2:                second.distance,
		Margin:            margin,
		UpdatesCentroid:   margin >= threshold,
		Strategy:          "scan",
	}
}
