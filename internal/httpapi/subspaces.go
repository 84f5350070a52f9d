package httpapi

import (
	"encoding/json"
	"net/http"

	"misir/internal/authboundary"
	"misir/internal/store"
)

type subspaceRequest struct {
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	LearningRate float64 `json:"learning_rate"`
}

type subspacePatchRequest struct {
	Name         *string  `json:"name,omitempty"`
	Description  *string  `json:"description,omitempty"`
	LearningRate *float64 `json:"learning_rate,omitempty"`
}

func (s *Server) handleListSubspaces(w http.ResponseWriter, r *http.Request) {
	userID, _ := authboundary.UserID(r.Context())
	spaceID, ok := pathInt64(r, "id")
	if !ok {
		badRequest(w, "invalid space id")
		return
	}
	subspaces, err := s.store.ListSubspaces(r.Context(), userID, spaceID)
	if err != nil {
		respondProblem(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"subspaces": subspaces})
}

func (s *Server) handleCreateSubspace(w http.ResponseWriter, r *http.Request) {
	userID, _ := authboundary.UserID(r.Context())
	spaceID, ok := pathInt64(r, "id")
	if !ok {
		badRequest(w, "invalid space id")
		return
	}
	var req subspaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	created, err := s.store.CreateSubspace(r.Context(), userID, spaceID, req.Name, req.Description, req.LearningRate)
	if err != nil {
		respondProblem(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateSubspace(w http.ResponseWriter, r *http.Request) {
	userID, _ := authboundary.UserID(r.Context())
	subspaceID, ok := pathInt64(r, "sid")
	if !ok {
		badRequest(w, "invalid subspace id")
		return
	}
	var req subspacePatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	updated, err := s.store.UpdateSubspace(r.Context(), userID, subspaceID, store.SubspacePatch{
		Name: req.Name, Description: req.Description, LearningRate: req.LearningRate,
	})
	if err != nil {
		respondProblem(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteSubspace(w http.ResponseWriter, r *http.Request) {
	userID, _ := authboundary.UserID(r.Context())
	subspaceID, ok := pathInt64(r, "sid")
	if !ok {
		badRequest(w, "invalid subspace id")
		return
	}
	if err := s.store.DeleteSubspace(r.Context(), userID, subspaceID); err != nil {
		respondProblem(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type mergeSubspaceRequest struct {
	SourceID int64 `json:"source_id"`
	TargetID int64 `json:"target_id"`
}

// handleMergeSubspace implements POST .../subspaces/{sid}/merge: {sid}
// names the target, source_id in the body names the donor being folded in.
func (s *Server) handleMergeSubspace(w http.ResponseWriter, r *http.Request) {
	userID, _ := authboundary.UserID(r.Context())
	spaceID, ok := pathInt64(r, "id")
	if !ok {
		badRequest(w, "invalid space id")
		return
	}
	targetID, ok := pathInt64(r, "sid")
	if !ok {
		badRequest(w, "invalid subspace id")
		return
	}
	var req mergeSubspaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.SourceID == targetID {
		badRequest(w, "source_id and target subspace must differ")
		return
	}
	merged, err := s.store.MergeSubspaces(r.Context(), userID, spaceID, req.SourceID, targetID)
	if err != nil {
		respondProblem(w, err)
		return
	}
	respondJSON(w, http.StatusOK, merged)
}

type markerRequest struct {
	Label     string    `json:"label"`
	Embedding []float32 `json:"embedding"`
	Weight    float64   `json:"weight"`
}

func (s *Server) handleListMarkers(w http.ResponseWriter, r *http.Request) {
	userID, _ := authboundary.UserID(r.Context())
	spaceID, ok := pathInt64(r, "id")
	if !ok {
		badRequest(w, "invalid space id")
		return
	}
	markers, links, err := s.store.ListMarkersForSpace(r.Context(), userID, spaceID)
	if err != nil {
		respondProblem(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"markers": markers, "links": links})
}

type decayRequest struct {
	Gamma     *float64 `json:"gamma,omitempty"`
	MinWeight *float64 `json:"min_weight,omitempty"`
}

const (
	defaultMarkerDecayGamma = 0.02
	defaultMarkerWeightMin  = 0.05
)

// handleDecayMarkerWeights applies one round of marker-weight decay across
// every (subspace, marker) link the user owns. Runs on request, never as a
// side effect of ingestion.
func (s *Server) handleDecayMarkerWeights(w http.ResponseWriter, r *http.Request) {
	userID, _ := authboundary.UserID(r.Context())
	req := decayRequest{}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid request body: "+err.Error())
			return
		}
	}
	gamma := defaultMarkerDecayGamma
	if req.Gamma != nil {
		gamma = *req.Gamma
	}
	minWeight := defaultMarkerWeightMin
	if req.MinWeight != nil {
		minWeight = *req.MinWeight
	}
	if gamma < 0 || gamma > 1 {
		badRequest(w, "gamma must be in [0,1]")
		return
	}
	touched, err := s.store.DecayAllMarkerWeights(r.Context(), userID, gamma, minWeight)
	if err != nil {
		respondProblem(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"links_decayed": touched})
}

func (s *Server) handleCreateMarker(w http.ResponseWriter, r *http.Request) {
	userID, _ := authboundary.UserID(r.Context())
	spaceID, ok := pathInt64(r, "id")
	if !ok {
		badRequest(w, "invalid space id")
		return
	}
	var req markerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	created, err := s.store.CreateMarker(r.Context(), userID, spaceID, req.Label, req.Embedding, req.Weight)
	if err != nil {
		respondProblem(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}
