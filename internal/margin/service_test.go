package margin_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"misir/internal/domain"
	"misir/internal/margin"
	"misir/internal/testhelpers"
)

type fakeCentroids struct {
	subspaces []domain.Subspace
}

func (f fakeCentroids) ListActiveCentroids(_ context.Context, _ string, _ int64) ([]domain.Subspace, error) {
	return f.subspaces, nil
}

func unit(vals ...float32) []float32 { return domain.Normalize(vals) }

func TestResolve_BootstrapInEmptySpace(t *testing.T) {
	idx := testhelpers.NewFakeIndex()
	svc := margin.New(idx, fakeCentroids{}, 0.05)

	q768 := unit(1, 0, 0, 0)
	q384 := domain.TruncateAndNormalize(q768, 384)

	res, err := svc.Resolve(context.Background(), "u1", 1, q384, q768)
	require.NoError(t, err)
	require.Nil(t, res.NearestSubspaceID)
	require.Equal(t, 1.0, res.Margin)
	require.True(t, res.UpdatesCentroid, "bootstrap commits; there is just no centroid to move yet")
}

func TestResolve_SingleCandidateAlwaysCommits(t *testing.T) {
	idx := testhelpers.NewFakeIndex()
	lone := int64(7)
	idx.Put(7, "u1", 1, &lone, unit(0, 0, 1, 0))

	// Far from the lone centroid: d1 is large, but with no runner-up the
	// margin is pinned to 1.0 and the signal still commits.
	q768 := unit(1, 0, 0, 0)
	q384 := domain.TruncateAndNormalize(q768, 384)

	svc := margin.New(idx, fakeCentroids{}, 0.05)
	res, err := svc.Resolve(context.Background(), "u1", 1, q384, q768)
	require.NoError(t, err)
	require.NotNil(t, res.NearestSubspaceID)
	require.Equal(t, int64(7), *res.NearestSubspaceID)
	require.Equal(t, 1.0, res.D2)
	require.Equal(t, 1.0, res.Margin)
	require.True(t, res.UpdatesCentroid)
}

func TestResolve_MarginGateFires(t *testing.T) {
	idx := testhelpers.NewFakeIndex()
	// Two well-separated centroids in an 8-dim space: the query sits almost
	// exactly on subspace 1's centroid, far from subspace 2's.
	c1 := unit(1, 0, 0, 0, 0, 0, 0, 0)
	c2 := unit(0, 1, 0, 0, 0, 0, 0, 0)
	one := int64(1)
	two := int64(2)
	idx.Put(1, "u1", 1, &one, c1)
	idx.Put(2, "u1", 1, &two, c2)

	q768 := unit(0.99, 0.01, 0, 0, 0, 0, 0, 0)
	q384 := domain.TruncateAndNormalize(q768, 384)

	svc := margin.New(idx, fakeCentroids{}, 0.05)
	res, err := svc.Resolve(context.Background(), "u1", 1, q384, q768)
	require.NoError(t, err)
	require.NotNil(t, res.NearestSubspaceID)
	require.Equal(t, int64(1), *res.NearestSubspaceID)
	require.True(t, res.UpdatesCentroid, "margin %f should clear threshold", res.Margin)
	require.Equal(t, "matryoshka", res.Strategy)
}

func TestResolve_MarginGateBlocksAmbiguousSignal(t *testing.T) {
	idx := testhelpers.NewFakeIndex()
	c1 := unit(1, 1, 0, 0, 0, 0, 0, 0)
	c2 := unit(1, -1, 0, 0, 0, 0, 0, 0)
	one := int64(1)
	two := int64(2)
	idx.Put(1, "u1", 1, &one, c1)
	idx.Put(2, "u1", 1, &two, c2)

	// Sits almost equidistant between the two centroids.
	q768 := unit(1, 0, 0.01, 0, 0, 0, 0, 0)
	q384 := domain.TruncateAndNormalize(q768, 384)

	svc := margin.New(idx, fakeCentroids{}, 0.05)
	res, err := svc.Resolve(context.Background(), "u1", 1, q384, q768)
	require.NoError(t, err)
	require.NotNil(t, res.NearestSubspaceID)
	require.False(t, res.UpdatesCentroid, "margin %f should not clear threshold", res.Margin)
}

func TestResolve_FallsBackToScanWhenIndexEmpty(t *testing.T) {
	idx := testhelpers.NewFakeIndex() // empty: no matryoshka/knn768 hits
	c1 := unit(1, 0, 0, 0)
	c2 := unit(0, 1, 0, 0)
	subspaces := []domain.Subspace{
		{ID: 10, CentroidEmbedding: c1},
		{ID: 11, CentroidEmbedding: c2},
	}
	svc := margin.New(idx, fakeCentroids{subspaces: subspaces}, 0.05)

	q768 := unit(0.99, 0.01, 0, 0)
	q384 := domain.TruncateAndNormalize(q768, 384)

	res, err := svc.Resolve(context.Background(), "u1", 1, q384, q768)
	require.NoError(t, err)
	require.NotNil(t, res.NearestSubspaceID)
	require.Equal(t, int64(10), *res.NearestSubspaceID)
	require.Equal(t, "scan", res.Strategy)
}

func TestResolve_ScanSkipsUninitializedAndDeletedSubspaces(t *testing.T) {
	idx := testhelpers.NewFakeIndex()
	deletedAt := domain.Subspace{}.CreatedAt // zero time, just need non-nil pointer
	subspaces := []domain.Subspace{
		{ID: 1, CentroidEmbedding: nil},
		{ID: 2, CentroidEmbedding: unit(0, 0, 1, 0), DeletedAt: &deletedAt},
		{ID: 3, CentroidEmbedding: unit(1, 0, 0, 0)},
	}
	svc := margin.New(idx, fakeCentroids{subspaces: subspaces}, 0.05)

	q768 := unit(1, 0, 0, 0)
	q384 := domain.TruncateAndNormalize(q768, 384)
	res, err := svc.Resolve(context.Background(), "u1", 1, q384, q768)
	require.NoError(t, err)
	require.NotNil(t, res.NearestSubspaceID)
	require.Equal(t, int64(3), *res.NearestSubspaceID)
}
