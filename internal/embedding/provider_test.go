package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"misir/internal/config"

	"github.com/stretchr/testify/require"
)

func fakeEmbeddingServer(t *testing.T, dim int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		data := make([]map[string]any, len(req.Input))
		for i, in := range req.Input {
			v := make([]float32, dim)
			for j := range v {
				v[j] = float32((len(in)+j)%7) + 0.5
			}
			data[i] = map[string]any{"embedding": v}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
}

func testConfig(ts *httptest.Server) config.EmbeddingConfig {
	return config.EmbeddingConfig{Model: "test-model", BaseURL: ts.URL, Path: "/embed", Timeout: 5, Dimension: 768}
}

func TestProvider_EmbedDocument_UnitNorm(t *testing.T) {
	ts := fakeEmbeddingServer(t, 768)
	defer ts.Close()

	p := NewProvider(testConfig(ts))
	res, err := p.EmbedDocument(context.Background(), "quantum field theory", 768)
	require.NoError(t, err)
	require.Equal(t, 768, res.Dim)
	norm := l2norm(res.Vector)
	require.InDelta(t, 1.0, norm, 1e-6)
}

func TestProvider_MatryoshkaConsistency(t *testing.T) {
	ts := fakeEmbeddingServer(t, 768)
	defer ts.Close()

	p := NewProvider(testConfig(ts))
	ctx := context.Background()
	full, err := p.EmbedDocument(ctx, "semantic drift detection", 768)
	require.NoError(t, err)
	truncated, err := p.EmbedDocument(ctx, "semantic drift detection", 384)
	require.NoError(t, err)

	sim := cosineSim(full.Vector[:384], truncated.Vector)
	normalizedFull := normalize(full.Vector[:384])
	simAgainstNormalized := cosineSim(normalizedFull, truncated.Vector)
	require.GreaterOrEqual(t, math.Max(sim, simAgainstNormalized), 0.99)
}

func TestProvider_InvalidDimension(t *testing.T) {
	ts := fakeEmbeddingServer(t, 768)
	defer ts.Close()

	p := NewProvider(testConfig(ts))
	_, err := p.EmbedDocument(context.Background(), "hello", 500)
	require.Error(t, err)
}

func TestProvider_CachesByPrefixedText(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		v := make([]float32, 768)
		v[0] = 1
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{{"embedding": v}}})
	}))
	defer ts.Close()

	p := NewProvider(testConfig(ts))
	ctx := context.Background()
	_, err := p.EmbedDocument(ctx, "same text", 768)
	require.NoError(t, err)
	_, err = p.EmbedDocument(ctx, "same text", 384)
	require.NoError(t, err)
	require.Equal(t, 2, calls, "one reachability probe plus one embed; the second call hits the cache, not the network")
}

func TestProvider_QueryVsDocumentRoleTokensDiffer(t *testing.T) {
	ts := fakeEmbeddingServer(t, 768)
	defer ts.Close()

	p := NewProvider(testConfig(ts))
	ctx := context.Background()
	docRes, err := p.EmbedDocument(ctx, "same text", 768)
	require.NoError(t, err)
	queryRes, err := p.EmbedQuery(ctx, "same text", 768)
	require.NoError(t, err)
	require.NotEqual(t, docRes.Vector, queryRes.Vector)
	require.Equal(t, docRes.Hash, queryRes.Hash, "content hash ignores role token")
}

func l2norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func normalize(v []float32) []float32 {
	n := l2norm(v)
	out := make([]float32, len(v))
	if n == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

func cosineSim(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
