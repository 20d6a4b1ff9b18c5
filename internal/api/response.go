package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hooklens/hooklens/internal/storage"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeStoreError maps registry errors on the management surface. Unlike the
// capture path, store failures here are surfaced to the owner, not swallowed.
func writeStoreError(w http.ResponseWriter, err error, resource string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, resource+" not found")
	case errors.Is(err, storage.ErrForbidden):
		writeError(w, http.StatusForbidden, "you do not own this "+resource)
	default:
		writeError(w, http.StatusInternalServerError, "storage error")
	}
}
