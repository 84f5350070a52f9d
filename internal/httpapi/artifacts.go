package httpapi

import (
	"encoding/json"
	"net/http"

	"misir/internal/assignment"
	"misir/internal/authboundary"
	"misir/internal/domain"
	"misir/internal/store"
)

const maxBatchCaptures = 100

// captureRequest is the wire shape of the capture command. UserID is
// never read from the body -- it comes from the authentication boundary.
type captureRequest struct {
	URL             string                 `json:"url"`
	Title           string                 `json:"title"`
	Text            string                 `json:"text"`
	WordCount       int                    `json:"word_count"`
	Embedding       []float32              `json:"embedding,omitempty"`
	EngagementLevel domain.EngagementLevel `json:"engagement_level"`
	ContentSource   domain.ContentSource   `json:"content_source"`
	DwellTimeMS     int64                  `json:"dwell_time_ms"`
	ScrollDepth     float64                `json:"scroll_depth"`
	ReadingDepth    float64                `json:"reading_depth"`
	SpaceID         int64                  `json:"space_id"`
	SubspaceID      *int64                 `json:"subspace_id,omitempty"`
	MarkerHintIDs   []int64                `json:"marker_hint_ids,omitempty"`
}

func (c captureRequest) toCommand(userID string) assignment.Command {
	return assignment.Command{
		UserID: userID, URL: c.URL, Title: c.Title, Text: c.Text, WordCount: c.WordCount,
		Embedding: c.Embedding, EngagementLevel: c.EngagementLevel, ContentSource: c.ContentSource,
		DwellTimeMS: c.DwellTimeMS, ScrollDepth: c.ScrollDepth, ReadingDepth: c.ReadingDepth,
		SpaceID: c.SpaceID, SubspaceID: c.SubspaceID, MarkerHintIDs: c.MarkerHintIDs,
	}
}

type captureResponse struct {
	ArtifactID int64  `json:"artifact_id"`
	SignalID   int64  `json:"signal_id"`
	IsNew      bool   `json:"is_new"`
	Message    string `json:"message"`
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	userID, _ := authboundary.UserID(r.Context())
	var req captureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	result, err := s.pipeline.Capture(r.Context(), req.toCommand(userID))
	if err != nil {
		respondProblem(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, captureResponse{
		ArtifactID: result.ArtifactID, SignalID: result.SignalID, IsNew: result.IsNew, Message: result.Message,
	})
}

type batchCaptureItemResult struct {
	Index      int     `json:"index"`
	Success    bool    `json:"success"`
	ArtifactID int64   `json:"artifact_id,omitempty"`
	SignalID   int64   `json:"signal_id,omitempty"`
	IsNew      bool    `json:"is_new,omitempty"`
	Message    string  `json:"message,omitempty"`
	Error      *string `json:"error,omitempty"`
}

// handleBatchCapture reports per-item success/failure: one bad item never
// fails the rest of the batch.
func (s *Server) handleBatchCapture(w http.ResponseWriter, r *http.Request) {
	userID, _ := authboundary.UserID(r.Context())
	var reqs []captureRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	if len(reqs) > maxBatchCaptures {
		badRequest(w, "batch exceeds maximum of 100 items")
		return
	}

	results := make([]batchCaptureItemResult, len(reqs))
	for i, req := range reqs {
		result, err := s.pipeline.Capture(r.Context(), req.toCommand(userID))
		if err != nil {
			msg := err.Error()
			results[i] = batchCaptureItemResult{Index: i, Success: false, Error: &msg}
			continue
		}
		results[i] = batchCaptureItemResult{
			Index: i, Success: true, ArtifactID: result.ArtifactID, SignalID: result.SignalID,
			IsNew: result.IsNew, Message: result.Message,
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"results": results})
}

type artifactPatchRequest struct {
	Title           *string                 `json:"title,omitempty"`
	Text            *string                 `json:"text,omitempty"`
	EngagementLevel *domain.EngagementLevel `json:"engagement_level,omitempty"`
	SubspaceID      *int64                  `json:"subspace_id,omitempty"`
}

func (s *Server) handleUpdateArtifact(w http.ResponseWriter, r *http.Request) {
	userID, _ := authboundary.UserID(r.Context())
	id, ok := pathInt64(r, "id")
	if !ok {
		badRequest(w, "invalid artifact id")
		return
	}
	var req artifactPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	updated, err := s.store.UpdateArtifact(r.Context(), userID, id, store.ArtifactPatch{
		Title: req.Title, Text: req.Text, EngagementLevel: req.EngagementLevel, SubspaceID: req.SubspaceID,
	})
	if err != nil {
		respondProblem(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteArtifact(w http.ResponseWriter, r *http.Request) {
	userID, _ := authboundary.UserID(r.Context())
	id, ok := pathInt64(r, "id")
	if !ok {
		badRequest(w, "invalid artifact id")
		return
	}
	if err := s.store.DeleteArtifact(r.Context(), userID, id); err != nil {
		respondProblem(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
