package search_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"misir/internal/assignment"
	"misir/internal/domain"
	"misir/internal/margin"
	"misir/internal/search"
	"misir/internal/testhelpers"
	"misir/internal/vectorindex"
)

func seedArtifacts(t *testing.T, st *testhelpers.FakeStore, emb *testhelpers.DeterministicEmbedder) {
	t.Helper()
	st.SeedSpace(domain.Space{ID: 1, UserID: "u1", Name: "Learning"})
	marginSvc := margin.New(st, st, 0.05)
	p := assignment.New(emb, marginSvc, st, assignment.WithEmbeddingDimension(emb.Dim))

	texts := []string{
		"quantum field theory and particle physics",
		"sourdough bread baking technique",
		"quantum computing qubit error correction",
	}
	for i, text := range texts {
		cmd := assignment.Command{
			UserID: "u1", URL: "https://example.com/" + string(rune('a'+i)),
			Title: text, Text: text, WordCount: 200,
			EngagementLevel: domain.EngagementDiscovered, ContentSource: domain.SourceWeb,
			DwellTimeMS: 30000, ScrollDepth: 0.4, ReadingDepth: 0.4, SpaceID: 1,
		}
		_, err := p.Capture(context.Background(), cmd)
		require.NoError(t, err)
	}
}

func TestSearch_MatryoshkaStageReturnsOrderedHits(t *testing.T) {
	st := testhelpers.NewFakeStore()
	emb := testhelpers.NewDeterministicEmbedder(768)
	seedArtifacts(t, st, emb)

	svc := search.New(emb, st, st)
	hits, err := svc.Search(context.Background(), search.Params{
		UserID: "u1", QueryText: "quantum field theory", K: 10, Threshold: 0,
	})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	for i := 1; i < len(hits); i++ {
		require.GreaterOrEqual(t, hits[i-1].Similarity, hits[i].Similarity)
	}
	for _, h := range hits {
		require.NotEmpty(t, h.Title)
		require.NotEmpty(t, h.URL)
	}
}

func TestSearch_ExcludesOtherUsers(t *testing.T) {
	st := testhelpers.NewFakeStore()
	emb := testhelpers.NewDeterministicEmbedder(768)
	seedArtifacts(t, st, emb)

	svc := search.New(emb, st, st)
	hits, err := svc.Search(context.Background(), search.Params{
		UserID: "someone-else", QueryText: "quantum field theory", K: 10,
	})
	require.NoError(t, err)
	require.Empty(t, hits)
}

func TestSearch_ThresholdFiltersLowSimilarity(t *testing.T) {
	st := testhelpers.NewFakeStore()
	emb := testhelpers.NewDeterministicEmbedder(768)
	seedArtifacts(t, st, emb)

	svc := search.New(emb, st, st)
	hits, err := svc.Search(context.Background(), search.Params{
		UserID: "u1", QueryText: "quantum field theory", K: 10, Threshold: 0.999,
	})
	require.NoError(t, err)
	for _, h := range hits {
		require.GreaterOrEqual(t, h.Similarity, 0.999)
	}
}

// failingIndex always errors, forcing the degraded-mode cascade all the
// way to the recent-signals fallback.
type failingIndex struct{}

func (failingIndex) KNN768(context.Context, vectorindex.Filters, []float32, int) ([]vectorindex.Hit, error) {
	return nil, errors.New("index unavailable")
}

func (failingIndex) SearchMatryoshka(context.Context, vectorindex.Filters, []float32, []float32, int, int, float64) ([]vectorindex.MatryoshkaHit, error) {
	return nil, errors.New("index unavailable")
}

func TestSearch_DegradesToRecentSignalsWhenIndexUnavailable(t *testing.T) {
	st := testhelpers.NewFakeStore()
	emb := testhelpers.NewDeterministicEmbedder(768)
	seedArtifacts(t, st, emb)

	svc := search.New(emb, failingIndex{}, st)
	hits, err := svc.Search(context.Background(), search.Params{
		UserID: "u1", QueryText: "anything", K: 10,
	})
	require.NoError(t, err)
	require.Len(t, hits, 3)
	for _, h := range hits {
		require.Equal(t, 0.5, h.Similarity)
	}
}

func TestSearch_CacheShortCircuitsSecondCall(t *testing.T) {
	st := testhelpers.NewFakeStore()
	emb := testhelpers.NewDeterministicEmbedder(768)
	seedArtifacts(t, st, emb)

	cache := &fakeCache{}
	svc := search.New(emb, st, st, search.WithCache(cache))
	params := search.Params{UserID: "u1", QueryText: "quantum field theory", K: 10}

	first, err := svc.Search(context.Background(), params)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := svc.Search(context.Background(), params)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, cache.sets)
}

type fakeCache struct {
	data map[string][]search.Hit
	sets int
}

func (c *fakeCache) Get(_ context.Context, key string) ([]search.Hit, bool) {
	if c.data == nil {
		return nil, false
	}
	hits, ok := c.data[key]
	return hits, ok
}

func (c *fakeCache) Set(_ context.Context, key string, hits []search.Hit) {
	if c.data == nil {
		c.data = map[string][]search.Hit{}
	}
	c.data[key] = hits
	c.sets++
}
