package httpapi

import (
	"encoding/json"
	"net/http"

	"misir/internal/authboundary"
	"misir/internal/store"
)

type spaceRequest struct {
	Name      string    `json:"name"`
	Intention string    `json:"intention"`
	Embedding []float32 `json:"embedding,omitempty"`
}

type spacePatchRequest struct {
	Name      *string   `json:"name,omitempty"`
	Intention *string   `json:"intention,omitempty"`
	Embedding []float32 `json:"embedding,omitempty"`
}

func (s *Server) handleListSpaces(w http.ResponseWriter, r *http.Request) {
	userID, _ := authboundary.UserID(r.Context())
	spaces, err := s.store.ListSpaces(r.Context(), userID)
	if err != nil {
		respondProblem(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"spaces": spaces})
}

func (s *Server) handleCreateSpace(w http.ResponseWriter, r *http.Request) {
	userID, _ := authboundary.UserID(r.Context())
	var req spaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	created, err := s.store.CreateSpace(r.Context(), userID, req.Name, req.Intention, req.Embedding)
	if err != nil {
		respondProblem(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetSpace(w http.ResponseWriter, r *http.Request) {
	userID, _ := authboundary.UserID(r.Context())
	id, ok := pathInt64(r, "id")
	if !ok {
		badRequest(w, "invalid space id")
		return
	}
	space, err := s.store.GetSpace(r.Context(), userID, id)
	if err != nil {
		respondProblem(w, err)
		return
	}
	respondJSON(w, http.StatusOK, space)
}

func (s *Server) handleUpdateSpace(w http.ResponseWriter, r *http.Request) {
	userID, _ := authboundary.UserID(r.Context())
	id, ok := pathInt64(r, "id")
	if !ok {
		badRequest(w, "invalid space id")
		return
	}
	var req spacePatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	updated, err := s.store.UpdateSpace(r.Context(), userID, id, store.SpacePatch{
		Name: req.Name, Intention: req.Intention, Embedding: req.Embedding,
	})
	if err != nil {
		respondProblem(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteSpace(w http.ResponseWriter, r *http.Request) {
	userID, _ := authboundary.UserID(r.Context())
	id, ok := pathInt64(r, "id")
	if !ok {
		badRequest(w, "invalid space id")
		return
	}
	if err := s.store.DeleteSpace(r.Context(), userID, id); err != nil {
		respondProblem(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
