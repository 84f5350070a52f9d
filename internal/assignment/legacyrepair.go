package assignment

import (
	"context"

	"misir/internal/domain"
)

// legacyRepair regenerates centroids for up to the configured limit of
// centroid-less subspaces in the space, from the mean of their linked
// markers' embeddings, then re-runs marker hinting once. Every failure is
// swallowed and logged -- this pass must never fail a capture.
func (p *Pipeline) legacyRepair(ctx context.Context, userID string, spaceID int64, content string, vec []float32) (*int64, []int64) {
	subspaces, err := p.store.ListSubspaces(ctx, userID, spaceID)
	if err != nil {
		p.logger.Warn("legacy repair: failed to list subspaces", map[string]any{"error": err.Error(), "space_id": spaceID})
		return nil, nil
	}
	markers, links, err := p.store.ListMarkersForSpace(ctx, userID, spaceID)
	if err != nil {
		p.logger.Warn("legacy repair: failed to list markers", map[string]any{"error": err.Error(), "space_id": spaceID})
		return nil, nil
	}
	byID := make(map[int64]domain.Marker, len(markers))
	for _, m := range markers {
		byID[m.ID] = m
	}
	linksBySubspace := map[int64][]domain.MarkerLink{}
	for _, l := range links {
		linksBySubspace[l.SubspaceID] = append(linksBySubspace[l.SubspaceID], l)
	}

	repaired := 0
	for _, sub := range subspaces {
		if repaired >= p.legacyRepairLimit {
			break
		}
		if sub.CentroidEmbedding != nil || sub.DeletedAt != nil {
			continue
		}
		subLinks := linksBySubspace[sub.ID]
		if len(subLinks) == 0 {
			continue
		}

		var sum []float32
		var n int
		for _, l := range subLinks {
			m, ok := byID[l.MarkerID]
			if !ok {
				continue
			}
			if m.Embedding == nil {
				emb, err := p.embedder.EmbedDocument(ctx, m.Label, p.embeddingDim)
				if err != nil {
					p.logger.Warn("legacy repair: failed to embed marker", map[string]any{"error": err.Error(), "marker_id": m.ID})
					continue
				}
				m.Embedding = emb.Vector
				if err := p.store.RegenerateMarkerEmbedding(ctx, m.ID, m.Embedding); err != nil {
					p.logger.Warn("legacy repair: failed to persist marker embedding", map[string]any{"error": err.Error(), "marker_id": m.ID})
				}
			}
			if sum == nil {
				sum = make([]float32, len(m.Embedding))
			}
			for i, x := range m.Embedding {
				if i < len(sum) {
					sum[i] += x
				}
			}
			n++
		}
		if n == 0 {
			continue
		}
		centroidVec := domain.Normalize(sum)
		if err := p.store.SetSubspaceCentroidFromMarkers(ctx, userID, sub.ID, centroidVec); err != nil {
			p.logger.Warn("legacy repair: failed to persist regenerated centroid", map[string]any{"error": err.Error(), "subspace_id": sub.ID})
			continue
		}
		repaired++
	}

	if repaired == 0 {
		return nil, nil
	}
	return p.resolveByMarkers(ctx, userID, spaceID, content, vec)
}
