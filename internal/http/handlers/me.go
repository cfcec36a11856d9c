package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pribylovaa/edu-auth/internal/http/middleware"
	"github.com/pribylovaa/edu-auth/internal/http/response"
	"github.com/pribylovaa/edu-auth/internal/service"
)

// Me возвращает субъекта запроса; используется на /me, /admin/me, /student/me.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		response.WriteError(w, r, service.ErrAuthentication)
		return
	}

	response.JSON(w, http.StatusOK, "ok", identityToResponse(*id))
}

// RevokeSessions - DELETE /admin/users/{id}/sessions.
func (h *Handlers) RevokeSessions(w http.ResponseWriter, r *http.Request) {
	subjectID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, r, service.ErrInvalidArgument)
		return
	}

	n, err := h.auth.RevokeAllForSubject(r.Context(), subjectID)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, "sessions revoked", RevokedResponse{Revoked: n})
}
