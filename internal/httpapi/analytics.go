package httpapi

import (
	"net/http"

	"misir/internal/authboundary"
)

const defaultAnalyticsLimit = 50

func (s *Server) handleDrift(w http.ResponseWriter, r *http.Request) {
	userID, _ := authboundary.UserID(r.Context())
	spaceID, ok := pathInt64(r, "id")
	if !ok {
		badRequest(w, "invalid space id")
		return
	}
	events, err := s.analytics.DriftSeries(r.Context(), userID, spaceID, queryInt64Ptr(r, "subspace_id"), queryInt(r, "limit", defaultAnalyticsLimit))
	if err != nil {
		respondProblem(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"drift_events": events})
}

func (s *Server) handleVelocity(w http.ResponseWriter, r *http.Request) {
	userID, _ := authboundary.UserID(r.Context())
	spaceID, ok := pathInt64(r, "id")
	if !ok {
		badRequest(w, "invalid space id")
		return
	}
	points, err := s.analytics.VelocitySeries(r.Context(), userID, spaceID, queryInt64Ptr(r, "subspace_id"), queryInt(r, "limit", defaultAnalyticsLimit))
	if err != nil {
		respondProblem(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"velocity": points})
}

func (s *Server) handleConfidence(w http.ResponseWriter, r *http.Request) {
	userID, _ := authboundary.UserID(r.Context())
	spaceID, ok := pathInt64(r, "id")
	if !ok {
		badRequest(w, "invalid space id")
		return
	}
	points, err := s.analytics.ConfidenceSeries(r.Context(), userID, spaceID, queryInt64Ptr(r, "subspace_id"), queryInt(r, "limit", defaultAnalyticsLimit))
	if err != nil {
		respondProblem(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"confidence": points})
}

func (s *Server) handleMarginDistribution(w http.ResponseWriter, r *http.Request) {
	userID, _ := authboundary.UserID(r.Context())
	spaceID, ok := pathInt64(r, "id")
	if !ok {
		badRequest(w, "invalid space id")
		return
	}
	dist, err := s.analytics.MarginDistribution(r.Context(), userID, spaceID, queryInt(r, "limit", defaultAnalyticsLimit))
	if err != nil {
		respondProblem(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dist)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	userID, _ := authboundary.UserID(r.Context())
	spaceID, ok := pathInt64(r, "id")
	if !ok {
		badRequest(w, "invalid space id")
		return
	}
	alerts, err := s.analytics.Alerts(r.Context(), userID, spaceID)
	if err != nil {
		respondProblem(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (s *Server) handleGlobalAnalytics(w http.ResponseWriter, r *http.Request) {
	userID, _ := authboundary.UserID(r.Context())
	overview, err := s.analytics.Global(r.Context(), userID)
	if err != nil {
		respondProblem(w, err)
		return
	}
	respondJSON(w, http.StatusOK, overview)
}
