// Package httpapi is the external HTTP surface: a thin transport layer
// over the assignment pipeline, search service, analytics service, and
// state store. ServeMux-based routing with method+path patterns, RFC 9457
// Problem Details error bodies, everything wrapped with the
// authentication boundary middleware.
package httpapi

import (
	"net/http"
	"time"

	"misir/internal/analytics"
	"misir/internal/assignment"
	"misir/internal/authboundary"
	"misir/internal/observability"
	"misir/internal/search"
	"misir/internal/store"
)

// Server exposes the core's HTTP API.
type Server struct {
	pipeline  *assignment.Pipeline
	search    *search.Service
	analytics *analytics.Service
	store     store.Store

	handler http.Handler
}

// NewServer wires a Server from its four collaborators and an
// authentication resolver. Every route runs behind authboundary.Middleware;
// handlers can assume authboundary.UserID(ctx) always succeeds.
func NewServer(pipeline *assignment.Pipeline, searchSvc *search.Service, analyticsSvc *analytics.Service, st store.Store, resolve authboundary.Resolver) *Server {
	s := &Server{pipeline: pipeline, search: searchSvc, analytics: analyticsSvc, store: st}
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	s.handler = requestLog(authboundary.Middleware(resolve)(mux))
	return s
}

// statusRecorder captures the status code a handler wrote so the request
// log can report it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestLog emits one line per request, correlated with the active trace
// via the context-enriched logger.
func requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		observability.LoggerWithTrace(r.Context()).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/artifacts/capture", s.handleCapture)
	mux.HandleFunc("POST /api/v1/artifacts/batch", s.handleBatchCapture)
	mux.HandleFunc("PATCH /api/v1/artifacts/{id}", s.handleUpdateArtifact)
	mux.HandleFunc("DELETE /api/v1/artifacts/{id}", s.handleDeleteArtifact)

	mux.HandleFunc("GET /api/v1/search", s.handleSearch)

	mux.HandleFunc("GET /api/v1/spaces", s.handleListSpaces)
	mux.HandleFunc("POST /api/v1/spaces", s.handleCreateSpace)
	mux.HandleFunc("GET /api/v1/spaces/{id}", s.handleGetSpace)
	mux.HandleFunc("PATCH /api/v1/spaces/{id}", s.handleUpdateSpace)
	mux.HandleFunc("DELETE /api/v1/spaces/{id}", s.handleDeleteSpace)

	mux.HandleFunc("GET /api/v1/spaces/{id}/subspaces", s.handleListSubspaces)
	mux.HandleFunc("POST /api/v1/spaces/{id}/subspaces", s.handleCreateSubspace)
	mux.HandleFunc("PATCH /api/v1/spaces/{id}/subspaces/{sid}", s.handleUpdateSubspace)
	mux.HandleFunc("DELETE /api/v1/spaces/{id}/subspaces/{sid}", s.handleDeleteSubspace)
	mux.HandleFunc("POST /api/v1/spaces/{id}/subspaces/{sid}/merge", s.handleMergeSubspace)

	mux.HandleFunc("GET /api/v1/spaces/{id}/markers", s.handleListMarkers)
	mux.HandleFunc("POST /api/v1/spaces/{id}/markers", s.handleCreateMarker)
	mux.HandleFunc("POST /api/v1/markers/decay", s.handleDecayMarkerWeights)

	mux.HandleFunc("GET /api/v1/spaces/{id}/analytics/drift", s.handleDrift)
	mux.HandleFunc("GET /api/v1/spaces/{id}/analytics/velocity", s.handleVelocity)
	mux.HandleFunc("GET /api/v1/spaces/{id}/analytics/confidence", s.handleConfidence)
	mux.HandleFunc("GET /api/v1/spaces/{id}/analytics/margin_distribution", s.handleMarginDistribution)
	mux.HandleFunc("GET /api/v1/spaces/{id}/analytics/alerts", s.handleAlerts)
	mux.HandleFunc("GET /api/v1/analytics/global", s.handleGlobalAnalytics)
}
