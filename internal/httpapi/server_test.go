package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"misir/internal/analytics"
	"misir/internal/assignment"
	"misir/internal/authboundary"
	"misir/internal/domain"
	"misir/internal/httpapi"
	"misir/internal/margin"
	"misir/internal/search"
	"misir/internal/testhelpers"
)

// bearerIsUserID treats the bearer token itself as the user id, the same
// seam cmd/misircore's devBearerResolver implements, so tests can address
// users by a plain string without a real identity provider.
func bearerIsUserID(_ context.Context, token string) (string, bool) {
	return token, token != ""
}

func newTestServer(st *testhelpers.FakeStore) *httpapi.Server {
	emb := testhelpers.NewDeterministicEmbedder(768)
	marginSvc := margin.New(st, st, 0.05)
	pipeline := assignment.New(emb, marginSvc, st, assignment.WithEmbeddingDimension(768))
	searchSvc := search.New(emb, st, st)
	analyticsSvc := analytics.New(st)
	return httpapi.NewServer(pipeline, searchSvc, analyticsSvc, st, authboundary.Resolver(bearerIsUserID))
}

func doRequest(t *testing.T, srv *httpapi.Server, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestCapture_RequiresBearerToken(t *testing.T) {
	st := testhelpers.NewFakeStore()
	srv := newTestServer(st)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/artifacts/capture", "", map[string]any{"url": "https://example.com"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCapture_CreatesArtifactAndReturns201(t *testing.T) {
	st := testhelpers.NewFakeStore()
	st.SeedSpace(domain.Space{ID: 1, UserID: "u1", Name: "Learning"})
	srv := newTestServer(st)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/artifacts/capture", "u1", map[string]any{
		"url": "https://example.com/a", "title": "A", "text": "go generics", "word_count": 200,
		"engagement_level": "discovered", "content_source": "web", "space_id": 1,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		ArtifactID int64 `json:"artifact_id"`
		IsNew      bool  `json:"is_new"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.IsNew)
	require.NotZero(t, resp.ArtifactID)
}

func TestCapture_InvalidBodyReturns400Problem(t *testing.T) {
	st := testhelpers.NewFakeStore()
	srv := newTestServer(st)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/artifacts/capture", bytes.NewBufferString("{not json"))
	req.Header.Set("Authorization", "Bearer u1")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestSearch_ReturnsHydratedHits(t *testing.T) {
	st := testhelpers.NewFakeStore()
	st.SeedSpace(domain.Space{ID: 1, UserID: "u1"})
	srv := newTestServer(st)

	capRec := doRequest(t, srv, http.MethodPost, "/api/v1/artifacts/capture", "u1", map[string]any{
		"url": "https://example.com/generics", "title": "Go generics", "text": "generics type parameters",
		"word_count": 300, "engagement_level": "discovered", "content_source": "web", "space_id": 1,
	})
	require.Equal(t, http.StatusCreated, capRec.Code)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/search?q=generics&limit=5", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Results []struct {
			Title string `json:"Title"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Results)
}

func TestAnalyticsAlerts_EmptyIsOKNotError(t *testing.T) {
	st := testhelpers.NewFakeStore()
	st.SeedSpace(domain.Space{ID: 1, UserID: "u1"})
	srv := newTestServer(st)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/spaces/1/analytics/alerts", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Alerts []any `json:"alerts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Empty(t, resp.Alerts)
}

func TestAnalyticsGlobal_ReturnsOverview(t *testing.T) {
	st := testhelpers.NewFakeStore()
	st.SeedSpace(domain.Space{ID: 1, UserID: "u1", Name: "Learning"})
	srv := newTestServer(st)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/analytics/global", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSpaceNotFound_Returns404Problem(t *testing.T) {
	st := testhelpers.NewFakeStore()
	srv := newTestServer(st)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/spaces/999", "u1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestDecayMarkerWeights_ReturnsTouchedCount(t *testing.T) {
	st := testhelpers.NewFakeStore()
	st.SeedSpace(domain.Space{ID: 1, UserID: "u1"})
	st.SeedSubspace(domain.Subspace{ID: 10, UserID: "u1", SpaceID: 1, Name: "Go"})
	st.SeedMarker(
		domain.Marker{ID: 100, UserID: "u1", Label: "generics"},
		domain.MarkerLink{SubspaceID: 10, MarkerID: 100, Weight: 1.0, Source: domain.MarkerUserDefined},
	)
	srv := newTestServer(st)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/markers/decay", "u1", map[string]any{"gamma": 0.5})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		LinksDecayed int `json:"links_decayed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.LinksDecayed)
}

func TestCreateSpace_ReturnsCreated(t *testing.T) {
	st := testhelpers.NewFakeStore()
	srv := newTestServer(st)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/spaces", "u1", map[string]any{"name": "Cooking", "intention": "learn recipes"})
	require.Equal(t, http.StatusCreated, rec.Code)
}
