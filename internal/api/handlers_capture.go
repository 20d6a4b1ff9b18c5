package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/hooklens/hooklens/internal/capture"
	"github.com/hooklens/hooklens/internal/storage"
)

// CaptureHandler serves the public capture route. Any method, any headers,
// any body: everything past the auth gate is snapshotted and answered with
// the endpoint's configured template.
type CaptureHandler struct {
	pipeline *capture.Pipeline
	maxBody  int64
	log      zerolog.Logger
}

func NewCaptureHandler(pipeline *capture.Pipeline, maxBody int64, log zerolog.Logger) *CaptureHandler {
	return &CaptureHandler{pipeline: pipeline, maxBody: maxBody, log: log}
}

func (h *CaptureHandler) Handle(w http.ResponseWriter, r *http.Request) {
	endpointID := chi.URLParam(r, "endpointID")

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	ep, err := h.pipeline.Ingest(r.Context(), capture.Inbound{
		EndpointID: endpointID,
		Method:     r.Method,
		Headers:    r.Header,
		RawQuery:   r.URL.RawQuery,
		Body:       body,
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, "endpoint not found")
		case errors.Is(err, capture.ErrUnauthorized):
			writeError(w, http.StatusUnauthorized, "unauthorized")
		case errors.Is(err, capture.ErrInvalidJSON):
			writeError(w, http.StatusBadRequest, "invalid JSON body")
		default:
			h.log.Error().Err(err).Str("endpoint_id", endpointID).Msg("capture pipeline failed")
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	if err := capture.Synthesize(r.Context(), w, ep.Template); err != nil {
		// Caller hung up during the delay; the capture already happened.
		h.log.Debug().Err(err).Str("endpoint_id", ep.ID).Msg("response abandoned")
	}
}
