package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"misir/internal/apperrors"
)

// problem is an RFC 9457 Problem Details body. Context carries whatever
// structured detail the originating apperrors.Error attached.
type problem struct {
	Type    string         `json:"type"`
	Title   string         `json:"title"`
	Status  int            `json:"status"`
	Detail  string         `json:"detail"`
	Context map[string]any `json:"context,omitempty"`
}

var problemTitles = map[apperrors.Type]string{
	apperrors.Validation:     "Validation Failed",
	apperrors.NotFound:       "Not Found",
	apperrors.Conflict:       "Conflict",
	apperrors.Unauthorized:   "Unauthorized",
	apperrors.Forbidden:      "Forbidden",
	apperrors.Repository:     "Repository Error",
	apperrors.EmbeddingError: "Embedding Service Error",
	apperrors.ExternalError:  "External Service Error",
	apperrors.Configuration:  "Configuration Error",
}

// statusFromType maps the error taxonomy onto HTTP status codes.
func statusFromType(t apperrors.Type) int {
	switch t {
	case apperrors.Validation:
		return http.StatusBadRequest
	case apperrors.NotFound:
		return http.StatusNotFound
	case apperrors.Conflict:
		return http.StatusConflict
	case apperrors.Unauthorized:
		return http.StatusUnauthorized
	case apperrors.Forbidden:
		return http.StatusForbidden
	case apperrors.ExternalError:
		return http.StatusBadGateway
	case apperrors.EmbeddingError, apperrors.Configuration, apperrors.Repository:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// respondProblem maps err onto an RFC 9457 body. An *apperrors.Error
// drives both status and type/title; any other error is treated as an
// unclassified repository failure rather than leaking internals.
func respondProblem(w http.ResponseWriter, err error) {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		appErr = apperrors.NewRepository("unknown", err)
	}
	status := statusFromType(appErr.ErrType)
	title := problemTitles[appErr.ErrType]
	if title == "" {
		title = "Error"
	}
	writeProblem(w, status, string(appErr.ErrType), title, appErr.Message, appErr.Context)
}

func writeProblem(w http.ResponseWriter, status int, typ, title, detail string, ctx map[string]any) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem{Type: typ, Title: title, Status: status, Detail: detail, Context: ctx})
}

func badRequest(w http.ResponseWriter, detail string) {
	writeProblem(w, http.StatusBadRequest, string(apperrors.Validation), "Validation Failed", detail, nil)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
