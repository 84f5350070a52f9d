package search

import (
	"context"
	"fmt"

	"misir/internal/store"
	"misir/internal/vectorindex"
)

// Hit is one search result: a hydrated signal ranked by similarity to the
// query.
type Hit struct {
	ArtifactID      int64
	SignalID        int64
	Similarity      float64
	Title           string
	URL             string
	ContentPreview  string
	SpaceID         int64
	SubspaceID      *int64
	EngagementLevel string
	DwellTimeMS     int64
}

const (
	defaultPrefilterFloor = 100
	sentinelSimilarity    = 0.5
	minK                  = 1
	maxK                  = 100
)

// Service resolves search queries: embed, two-stage search, hydrate,
// degrade.
type Service struct {
	embedder Embedder
	index    Index
	store    Store
	cache    Cache
	logger   Logger
}

// Option configures a Service at construction.
type Option func(*Service)

func WithCache(c Cache) Option   { return func(s *Service) { s.cache = c } }
func WithLogger(l Logger) Option { return func(s *Service) { s.logger = l } }

// New wires a search Service.
func New(embedder Embedder, index Index, st Store, opts ...Option) *Service {
	s := &Service{embedder: embedder, index: index, store: st, logger: noopLogger{}}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Params carries one search call's arguments after validation.
type Params struct {
	UserID     string
	QueryText  string
	SpaceID    *int64
	SubspaceID *int64
	K          int
	Threshold  float64
}

// Search embeds the query at both Matryoshka dimensions, runs the
// two-stage index search, hydrates hits, and falls back through
// progressively weaker strategies if the index is unavailable.
func (s *Service) Search(ctx context.Context, p Params) ([]Hit, error) {
	k := clampK(p.K)
	threshold := p.Threshold
	if threshold < 0 {
		threshold = 0
	}

	cacheKey := ""
	if s.cache != nil {
		cacheKey = fmt.Sprintf("%s|%s|%v|%v|%d|%.4f", p.UserID, p.QueryText, spacePart(p.SpaceID), spacePart(p.SubspaceID), k, threshold)
		if hits, ok := s.cache.Get(ctx, cacheKey); ok {
			return hits, nil
		}
	}

	q384, err := s.embedder.EmbedQuery(ctx, p.QueryText, 384)
	if err != nil {
		return nil, err
	}
	q768, err := s.embedder.EmbedQuery(ctx, p.QueryText, 768)
	if err != nil {
		return nil, err
	}

	prefilterK := 10 * k
	if prefilterK < defaultPrefilterFloor {
		prefilterK = defaultPrefilterFloor
	}
	filt := vectorindex.Filters{UserID: p.UserID, SpaceID: p.SpaceID, SubspaceID: p.SubspaceID}

	hits, err := s.matryoshkaStage(ctx, filt, q384.Vector, q768.Vector, k, prefilterK, threshold, p.UserID)
	if err != nil {
		s.logger.Warn("matryoshka search unavailable, falling back to single-stage", map[string]any{"error": err.Error()})
		hits, err = s.singleStageStage(ctx, filt, q768.Vector, k, threshold, p.UserID)
	}
	if err != nil {
		s.logger.Warn("single-stage search unavailable, falling back to recent signals", map[string]any{"error": err.Error()})
		hits, err = s.recentFallback(ctx, p.UserID, p.SpaceID, p.SubspaceID, k)
	}
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Set(ctx, cacheKey, hits)
	}
	return hits, nil
}

func (s *Service) matryoshkaStage(ctx context.Context, filt vectorindex.Filters, q384, q768 []float32, k, prefilterK int, threshold float64, userID string) ([]Hit, error) {
	raw, err := s.index.SearchMatryoshka(ctx, filt, q384, q768, k, prefilterK, threshold)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(raw))
	sims := make(map[int64]float64, len(raw))
	for i, h := range raw {
		ids[i] = h.ID
		sims[h.ID] = h.Similarity
	}
	rows, err := s.store.SignalsByID(ctx, userID, ids)
	if err != nil {
		return nil, err
	}
	return hydrate(rows, sims), nil
}

func (s *Service) singleStageStage(ctx context.Context, filt vectorindex.Filters, q768 []float32, k int, threshold float64, userID string) ([]Hit, error) {
	raw, err := s.index.KNN768(ctx, filt, q768, k)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(raw))
	sims := map[int64]float64{}
	for _, h := range raw {
		sim := 1 - h.Distance
		if sim < threshold {
			continue
		}
		ids = append(ids, h.ID)
		sims[h.ID] = sim
	}
	rows, err := s.store.SignalsByID(ctx, userID, ids)
	if err != nil {
		return nil, err
	}
	return hydrate(rows, sims), nil
}

// recentFallback is the last resort when both vector-search stages fail:
// the most-recent-signals query is a plain store read, not an index call.
// A store error from that read is returned to the caller.
func (s *Service) recentFallback(ctx context.Context, userID string, spaceID, subspaceID *int64, k int) ([]Hit, error) {
	s.logger.Warn("search degraded to most-recent-signals fallback", map[string]any{"user_id": userID})
	rows, err := s.store.RecentSignals(ctx, userID, spaceID, subspaceID, k)
	if err != nil {
		return nil, err
	}
	sims := make(map[int64]float64, len(rows))
	for _, r := range rows {
		sims[r.SignalID] = sentinelSimilarity
	}
	return hydrate(rows, sims), nil
}

func hydrate(rows []store.SearchRow, sims map[int64]float64) []Hit {
	hits := make([]Hit, 0, len(rows))
	for _, r := range rows {
		hits = append(hits, Hit{
			ArtifactID:      r.ArtifactID,
			SignalID:        r.SignalID,
			Similarity:      sims[r.SignalID],
			Title:           r.Title,
			URL:             r.URL,
			ContentPreview:  r.ContentPreview,
			SpaceID:         r.SpaceID,
			SubspaceID:      r.SubspaceID,
			EngagementLevel: string(r.EngagementLevel),
			DwellTimeMS:     r.DwellTimeMS,
		})
	}
	return hits
}

func clampK(k int) int {
	if k < minK {
		return minK
	}
	if k > maxK {
		return maxK
	}
	return k
}

func spacePart(id *int64) string {
	if id == nil {
		return "*"
	}
	return fmt.Sprintf("%d", *id)
}
