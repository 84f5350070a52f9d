// Package testhelpers holds deterministic fakes shared across the core's
// test suites: no network, no real model, fully reproducible for the same
// inputs.
package testhelpers

import (
	"context"
	"sort"

	"misir/internal/domain"
	"misir/internal/vectorindex"
)

type indexedVector struct {
	id         int64
	userID     string
	spaceID    int64
	subspaceID *int64
	vec384     []float32
	vec768     []float32
	deleted    bool
}

// FakeIndex is an in-memory vectorindex.Index used by margin/search tests.
// Exact linear scan, not ANN, so results are deterministic.
type FakeIndex struct {
	rows []indexedVector
}

// NewFakeIndex returns an empty index.
func NewFakeIndex() *FakeIndex { return &FakeIndex{} }

// Put inserts or replaces a row. For a subspace centroid row, pass
// subspaceID equal to id: Filters.ExcludeNullCentroid admits only such
// rows. Signal rows carry the signal's subspace id, or nil.
func (f *FakeIndex) Put(id int64, userID string, spaceID int64, subspaceID *int64, vec768 []float32) {
	v384 := domain.TruncateAndNormalize(vec768, 384)
	for i, r := range f.rows {
		if r.id == id {
			f.rows[i] = indexedVector{id: id, userID: userID, spaceID: spaceID, subspaceID: subspaceID, vec384: v384, vec768: vec768}
			return
		}
	}
	f.rows = append(f.rows, indexedVector{id: id, userID: userID, spaceID: spaceID, subspaceID: subspaceID, vec384: v384, vec768: vec768})
}

// Delete soft-deletes a row so it's excluded from all future queries.
func (f *FakeIndex) Delete(id int64) {
	for i, r := range f.rows {
		if r.id == id {
			f.rows[i].deleted = true
		}
	}
}

func (f *FakeIndex) matches(r indexedVector, filt vectorindex.Filters) bool {
	if r.deleted || r.userID != filt.UserID {
		return false
	}
	if filt.SpaceID != nil && r.spaceID != *filt.SpaceID {
		return false
	}
	if filt.SubspaceID != nil && (r.subspaceID == nil || *r.subspaceID != *filt.SubspaceID) {
		return false
	}
	if filt.ExcludeNullCentroid && (r.vec768 == nil || r.subspaceID == nil || *r.subspaceID != r.id) {
		return false
	}
	return true
}

func (f *FakeIndex) knn(filt vectorindex.Filters, q []float32, k int, dim int) []vectorindex.Hit {
	var out []vectorindex.Hit
	for _, r := range f.rows {
		if !f.matches(r, filt) {
			continue
		}
		var v []float32
		if dim <= 384 {
			v = r.vec384
		} else {
			v = r.vec768
		}
		out = append(out, vectorindex.Hit{ID: r.id, Distance: domain.CosineDistance(v, q)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ID < out[j].ID
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

// KNN384 implements vectorindex.Index.
func (f *FakeIndex) KNN384(_ context.Context, filt vectorindex.Filters, q384 []float32, k int) ([]vectorindex.Hit, error) {
	return f.knn(filt, q384, k, 384), nil
}

// KNN768 implements vectorindex.Index.
func (f *FakeIndex) KNN768(_ context.Context, filt vectorindex.Filters, q768 []float32, k int) ([]vectorindex.Hit, error) {
	return f.knn(filt, q768, k, 768), nil
}

// SearchMatryoshka implements vectorindex.Index: prefilter by 384, rerank
// the candidates by 768, then apply the similarity threshold.
func (f *FakeIndex) SearchMatryoshka(ctx context.Context, filt vectorindex.Filters, q384, q768 []float32, k, prefilterK int, threshold float64) ([]vectorindex.MatryoshkaHit, error) {
	if prefilterK <= 0 {
		prefilterK = 10 * k
	}
	candidates := f.knn(filt, q384, prefilterK, 384)
	ids := make(map[int64]bool, len(candidates))
	for _, c := range candidates {
		ids[c.ID] = true
	}
	var hits []vectorindex.MatryoshkaHit
	for _, r := range f.rows {
		if !ids[r.id] || !f.matches(r, filt) {
			continue
		}
		dist := domain.CosineDistance(r.vec768, q768)
		if dist <= 1-threshold {
			hits = append(hits, vectorindex.MatryoshkaHit{ID: r.id, Distance: dist, Similarity: 1 - dist})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}
