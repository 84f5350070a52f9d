// Package vectorindex provides approximate nearest-neighbour search over
// 384-dim prefilter vectors and exact cosine search over 768-dim rerank
// vectors, plus the combined Matryoshka two-stage contract the margin
// service and search service consume.
package vectorindex

import "context"

// Filters scopes a KNN query. SpaceID and SubspaceID are optional (nil
// means "don't filter on this").
type Filters struct {
	UserID     string
	SpaceID    *int64
	SubspaceID *int64
	// ExcludeNullCentroid restricts the scan to subspace centroid rows that
	// are non-null; used by the Margin Service.
	ExcludeNullCentroid bool
}

// Hit is one ranked result. Distance is cosine distance in [0,2].
type Hit struct {
	ID       int64
	Distance float64
}

// MatryoshkaHit is a result of the combined two-stage search.
type MatryoshkaHit struct {
	ID         int64
	Distance   float64 // 768-dim rerank distance
	Similarity float64 // 1 - Distance
}

// Index is the contract the core consumes from the store.
// Ordering: ascending distance, then ascending id on exact ties. Soft-
// deleted rows are never returned.
type Index interface {
	// KNN384 returns up to k nearest neighbours by 384-dim cosine distance.
	KNN384(ctx context.Context, f Filters, q384 []float32, k int) ([]Hit, error)
	// KNN768 returns up to k nearest neighbours by 768-dim cosine distance.
	KNN768(ctx context.Context, f Filters, q768 []float32, k int) ([]Hit, error)
	// SearchMatryoshka prefilters by 384-dim to prefilterK candidates, then
	// reranks the candidates by 768-dim distance, returning up to k items
	// with distance <= 1-threshold.
	SearchMatryoshka(ctx context.Context, f Filters, q384, q768 []float32, k, prefilterK int, threshold float64) ([]MatryoshkaHit, error)
}
