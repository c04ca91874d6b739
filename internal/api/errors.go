package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kalambet/vecdocs/internal/apperr"
	"github.com/kalambet/vecdocs/internal/chunker"
	"github.com/kalambet/vecdocs/internal/ingest"
	"github.com/kalambet/vecdocs/internal/vectorstore"
)

// Error codes for failures detected by the HTTP layer itself.
const (
	codeInvalidRequest = "INVALID_REQUEST"
	codeUnauthorized   = "UNAUTHORIZED"
	codeInternal       = "INTERNAL_ERROR"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, code string, format string, args ...any) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": fmt.Sprintf(format, args...),
		},
	})
}

// writeAppError reports a service error with its stable code and details.
func writeAppError(w http.ResponseWriter, err error) {
	code := string(apperr.CodeOf(err))
	if code == "" {
		code = codeInternal
	}
	body := map[string]any{
		"code":    code,
		"message": err.Error(),
	}
	if d := apperr.DetailsOf(err); len(d) > 0 {
		body["details"] = d
	}
	writeJSON(w, statusOf(err), map[string]any{"error": body})
}

// statusOf maps a service error to an HTTP status.
func statusOf(err error) int {
	switch {
	case apperr.Is(err, apperr.DocumentNotFound),
		errors.Is(err, ingest.ErrDocumentNotFound),
		errors.Is(err, vectorstore.ErrIndexNotFound),
		errors.Is(err, vectorstore.ErrVectorNotFound):
		return http.StatusNotFound
	case errors.Is(err, vectorstore.ErrInvalidIndexName),
		errors.Is(err, vectorstore.ErrInvalidDimension),
		errors.Is(err, vectorstore.ErrInvalidMetric),
		errors.Is(err, vectorstore.ErrUnsupportedFilter),
		errors.Is(err, chunker.ErrInvalidOptions),
		errors.Is(err, ingest.ErrEmptyQuery),
		errors.Is(err, ingest.ErrNoIndex):
		return http.StatusBadRequest
	case errors.Is(err, vectorstore.ErrDimensionMismatch):
		return http.StatusConflict
	case apperr.Is(err, apperr.UnsupportedProvider):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
