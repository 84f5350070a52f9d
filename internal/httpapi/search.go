package httpapi

import (
	"net/http"

	"misir/internal/authboundary"
	"misir/internal/search"
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	userID, _ := authboundary.UserID(r.Context())
	q := r.URL.Query().Get("q")
	if q == "" {
		badRequest(w, "q is required")
		return
	}
	hits, err := s.search.Search(r.Context(), search.Params{
		UserID:     userID,
		QueryText:  q,
		SpaceID:    queryInt64Ptr(r, "space_id"),
		SubspaceID: queryInt64Ptr(r, "subspace_id"),
		K:          queryInt(r, "limit", 10),
		Threshold:  queryFloat(r, "threshold", 0),
	})
	if err != nil {
		respondProblem(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"results": hits})
}
