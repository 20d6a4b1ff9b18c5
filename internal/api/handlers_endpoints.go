package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/hooklens/hooklens/internal/bus"
	"github.com/hooklens/hooklens/internal/models"
	"github.com/hooklens/hooklens/internal/storage"
)

var validate = validator.New()

type EndpointHandler struct {
	store    storage.Storage
	bus      *bus.Bus
	maxDelay time.Duration
}

func NewEndpointHandler(store storage.Storage, b *bus.Bus, maxDelay time.Duration) *EndpointHandler {
	return &EndpointHandler{store: store, bus: b, maxDelay: maxDelay}
}

type createEndpointRequest struct {
	Name     string                   `json:"name" validate:"required"`
	Private  bool                     `json:"private"`
	Template *models.ResponseTemplate `json:"response_template"`
}

func (h *EndpointHandler) Create(w http.ResponseWriter, r *http.Request) {
	ident, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createEndpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	tmpl := models.DefaultTemplate()
	if req.Template != nil {
		tmpl = *req.Template
		if msg := h.checkTemplate(&tmpl); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}
	}

	ep := &models.Endpoint{
		ID:         models.NewEndpointID(),
		Name:       req.Name,
		Visibility: models.VisibilityPublic,
		Template:   tmpl,
		Owner:      ident.Owner(),
		CreatedAt:  time.Now().UTC(),
	}
	if req.Private {
		ep.Visibility = models.VisibilityPrivate
		ep.AuthToken = models.NewAuthToken()
	}

	if err := h.store.CreateEndpoint(r.Context(), ep); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create endpoint")
		return
	}

	writeJSON(w, http.StatusCreated, ep)
}

func (h *EndpointHandler) List(w http.ResponseWriter, r *http.Request) {
	ident, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	eps, err := h.store.ListEndpoints(r.Context(), ident.Owner())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list endpoints")
		return
	}
	if eps == nil {
		eps = []models.Endpoint{}
	}
	writeJSON(w, http.StatusOK, eps)
}

func (h *EndpointHandler) Get(w http.ResponseWriter, r *http.Request) {
	ident, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	ep, err := h.store.ResolveEndpoint(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err, "endpoint")
		return
	}
	if ep.Owner != ident.Owner() {
		writeError(w, http.StatusForbidden, "you do not own this endpoint")
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

type updateEndpointRequest struct {
	Name       *string                  `json:"name" validate:"omitempty,min=1"`
	Visibility *models.Visibility       `json:"visibility" validate:"omitempty,oneof=public private"`
	Template   *models.ResponseTemplate `json:"response_template"`
}

func (h *EndpointHandler) Update(w http.ResponseWriter, r *http.Request) {
	ident, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req updateEndpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	if req.Template != nil {
		if msg := h.checkTemplate(req.Template); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}
	}

	ep, err := h.store.UpdateEndpoint(r.Context(), chi.URLParam(r, "id"), ident.Owner(), storage.EndpointPatch{
		Name:       req.Name,
		Visibility: req.Visibility,
		Template:   req.Template,
	})
	if err != nil {
		writeStoreError(w, err, "endpoint")
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

func (h *EndpointHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ident, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.store.DeleteEndpoint(r.Context(), id, ident.Owner()); err != nil {
		writeStoreError(w, err, "endpoint")
		return
	}
	h.bus.CloseEndpoint(id)
	w.WriteHeader(http.StatusNoContent)
}

// checkTemplate covers the bounds validator tags cannot express alone and
// normalizes the headers map.
func (h *EndpointHandler) checkTemplate(tmpl *models.ResponseTemplate) string {
	if err := validate.Struct(tmpl); err != nil {
		return validationMessage(err)
	}
	if !tmpl.ContentType.Valid() {
		return "content_type must be one of: json, text, xml"
	}
	if h.maxDelay > 0 && tmpl.Delay() > h.maxDelay {
		return "delay_ms exceeds the configured maximum"
	}
	if tmpl.Headers == nil {
		tmpl.Headers = map[string]string{}
	}
	return ""
}

func validationMessage(err error) string {
	errs, ok := err.(validator.ValidationErrors)
	if !ok || len(errs) == 0 {
		return "invalid request"
	}
	e := errs[0]
	switch e.Tag() {
	case "required":
		return "field '" + e.Field() + "' is required"
	case "oneof":
		return "field '" + e.Field() + "' must be one of: " + e.Param()
	case "gte":
		return "field '" + e.Field() + "' must be >= " + e.Param()
	case "lte":
		return "field '" + e.Field() + "' must be <= " + e.Param()
	case "min":
		return "field '" + e.Field() + "' must not be empty"
	default:
		return "field '" + e.Field() + "' is invalid"
	}
}
