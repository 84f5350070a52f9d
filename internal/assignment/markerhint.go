package assignment

import (
	"context"
	"sort"
	"strings"

	"misir/internal/domain"
)

// Marker scoring weights: substring/token-subset match and cosine
// similarity contribute equally.
const (
	markerTokenWeight  = 0.5
	markerCosineWeight = 0.5
)

func tokenSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, f := range strings.Fields(strings.ToLower(s)) {
		out[f] = true
	}
	return out
}

// tokenMatchScore is the fraction of needle's tokens present in haystack,
// i.e. 1.0 when needle's tokens are a subset of haystack's.
func tokenMatchScore(haystack, needle string) float64 {
	needleTokens := tokenSet(needle)
	if len(needleTokens) == 0 {
		return 0
	}
	haystackTokens := tokenSet(haystack)
	matched := 0
	for t := range needleTokens {
		if haystackTokens[t] {
			matched++
		}
	}
	return float64(matched) / float64(len(needleTokens))
}

func markerScore(content string, vec []float32, m domain.Marker) float64 {
	score := markerTokenWeight * tokenMatchScore(content, m.Label)
	if m.Embedding != nil {
		score += markerCosineWeight * domain.CosineSimilarity(vec, m.Embedding)
	}
	return score
}

// resolveByMarkers scores every marker linked to a subspace in the space
// against the command's title+text and embedding, then picks the subspace
// whose aggregated weighted marker score is highest. Returns a nil
// subspace id when no marker scored above zero anywhere.
func (p *Pipeline) resolveByMarkers(ctx context.Context, userID string, spaceID int64, content string, vec []float32) (*int64, []int64) {
	markers, links, err := p.store.ListMarkersForSpace(ctx, userID, spaceID)
	if err != nil {
		p.logger.Warn("marker hinting: failed to list markers", map[string]any{"error": err.Error(), "space_id": spaceID})
		return nil, nil
	}
	if len(markers) == 0 {
		return nil, nil
	}
	byID := make(map[int64]domain.Marker, len(markers))
	for _, m := range markers {
		byID[m.ID] = m
	}

	type agg struct {
		score   float64
		markers []int64
	}
	bySubspace := map[int64]*agg{}
	for _, link := range links {
		m, ok := byID[link.MarkerID]
		if !ok {
			continue
		}
		s := markerScore(content, vec, m) * link.Weight
		if s <= 0 {
			continue
		}
		a, ok := bySubspace[link.SubspaceID]
		if !ok {
			a = &agg{}
			bySubspace[link.SubspaceID] = a
		}
		a.score += s
		a.markers = append(a.markers, m.ID)
	}

	ids := make([]int64, 0, len(bySubspace))
	for id := range bySubspace {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var bestID int64
	var best *agg
	for _, id := range ids {
		a := bySubspace[id]
		if best == nil || a.score > best.score {
			bestID, best = id, a
		}
	}
	if best == nil {
		return nil, nil
	}
	id := bestID
	return &id, best.markers
}
