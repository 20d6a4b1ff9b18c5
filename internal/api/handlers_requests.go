package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hooklens/hooklens/internal/models"
	"github.com/hooklens/hooklens/internal/storage"
)

// RequestHandler serves the capture history for an endpoint's owner.
type RequestHandler struct {
	store storage.Storage
}

func NewRequestHandler(store storage.Storage) *RequestHandler {
	return &RequestHandler{store: store}
}

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type requestPage struct {
	Requests []models.RequestRecord `json:"requests"`
	Total    int64                  `json:"total"`
}

func (h *RequestHandler) List(w http.ResponseWriter, r *http.Request) {
	ep, ok := h.ownedEndpoint(w, r)
	if !ok {
		return
	}

	limit := defaultPageSize
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = min(v, maxPageSize)
	}
	offset := 0
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}

	recs, err := h.store.ListRequests(r.Context(), ep.ID, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list requests")
		return
	}
	if recs == nil {
		recs = []models.RequestRecord{}
	}
	total, err := h.store.CountRequests(r.Context(), ep.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count requests")
		return
	}

	writeJSON(w, http.StatusOK, requestPage{Requests: recs, Total: total})
}

func (h *RequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	ep, ok := h.ownedEndpoint(w, r)
	if !ok {
		return
	}

	rec, err := h.store.GetRequest(r.Context(), ep.ID, chi.URLParam(r, "requestID"))
	if err != nil {
		writeStoreError(w, err, "request")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *RequestHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ep, ok := h.ownedEndpoint(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteRequest(r.Context(), ep.ID, chi.URLParam(r, "requestID")); err != nil {
		writeStoreError(w, err, "request")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ownedEndpoint resolves the routed endpoint and rejects callers who do not
// own it. Captured history is visible to the owner only.
func (h *RequestHandler) ownedEndpoint(w http.ResponseWriter, r *http.Request) (*models.Endpoint, bool) {
	ident, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}

	ep, err := h.store.ResolveEndpoint(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err, "endpoint")
		return nil, false
	}
	if ep.Owner != ident.Owner() {
		writeError(w, http.StatusForbidden, "you do not own this endpoint")
		return nil, false
	}
	return ep, true
}
