package api

import (
	"encoding/json"
	"net/http"

	"github.com/hooklens/hooklens/internal/identity"
)

// IdentityHandler exposes the one-time ownership migration a client runs
// right after signing in, re-parenting its anonymously created endpoints to
// the authenticated subject.
type IdentityHandler struct {
	resolver *identity.Resolver
}

func NewIdentityHandler(resolver *identity.Resolver) *IdentityHandler {
	return &IdentityHandler{resolver: resolver}
}

type migrateRequest struct {
	AnonymousID string `json:"anonymous_id" validate:"required"`
}

type migrateResponse struct {
	Migrated int64 `json:"migrated"`
}

func (h *IdentityHandler) Migrate(w http.ResponseWriter, r *http.Request) {
	ident, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !ident.IsAuthenticated() {
		writeError(w, http.StatusForbidden, "sign in before migrating endpoints")
		return
	}

	var req migrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	n, err := h.resolver.MigrateOwnership(r.Context(), ident.ID, req.AnonymousID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "migration failed")
		return
	}
	writeJSON(w, http.StatusOK, migrateResponse{Migrated: n})
}
