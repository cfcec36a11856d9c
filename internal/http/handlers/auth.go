package handlers

import (
	"net/http"

	"github.com/pribylovaa/edu-auth/internal/audience"
	"github.com/pribylovaa/edu-auth/internal/http/middleware"
	"github.com/pribylovaa/edu-auth/internal/http/response"
	"github.com/pribylovaa/edu-auth/internal/service"
)

// Login - POST /login {email, password, audience}.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var in LoginRequest
	if err := decodeStrict(r, &in); err != nil {
		response.WriteError(w, r, service.ErrInvalidArgument)
		return
	}

	aud, err := audience.Parse(in.Audience)
	if err != nil {
		response.WriteError(w, r, service.ErrInvalidArgument)
		return
	}

	sess, err := h.auth.Login(r.Context(), in.Email, in.Password, aud)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	h.setCookies(w, sess)
	response.JSON(w, http.StatusOK, "logged in", sessionToResponse(sess))
}

// Logout - POST /logout. Отзывает запись за refresh-cookie и удаляет cookie
// этого пространства; повторный вызов безопасен.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	sel, err := h.selectTokens(r)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	if err := h.auth.Logout(r.Context(), sel.RefreshToken); err != nil {
		response.WriteError(w, r, err)
		return
	}

	h.clearCookies(w, sel.Audience)
	response.JSON(w, http.StatusOK, "logged out", nil)
}

// LogoutAll - POST /logout-all, требует аутентификации.
func (h *Handlers) LogoutAll(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		response.WriteError(w, r, service.ErrAuthentication)
		return
	}

	n, err := h.auth.LogoutAll(r.Context(), id.SubjectID)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	h.clearCookies(w, id.Audience)
	response.JSON(w, http.StatusOK, "all sessions revoked", RevokedResponse{Revoked: n})
}

// RefreshToken - POST /refresh-token. Ротирует refresh из cookie и
// выставляет новую пару в то же пространство.
func (h *Handlers) RefreshToken(w http.ResponseWriter, r *http.Request) {
	sel, err := h.selectTokens(r)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	sess, err := h.auth.Refresh(r.Context(), sel.RefreshToken, sel.Audience, r.URL.Path)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	h.setCookies(w, sess)
	response.JSON(w, http.StatusOK, "token refreshed", sessionToResponse(sess))
}

// ValidateToken - GET /validate-token. Bearer имеет приоритет над cookie.
func (h *Handlers) ValidateToken(w http.ResponseWriter, r *http.Request) {
	token, ns := middleware.BearerToken(r), audience.None
	if token == "" {
		sel, err := h.selectTokens(r)
		if err != nil {
			response.WriteError(w, r, err)
			return
		}
		token, ns = sel.AccessToken, sel.Audience
	}

	id, err := h.auth.ValidateAccess(r.Context(), token, ns)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, "token is valid", identityToResponse(*id))
}

// ValidateRefreshToken - GET /validate-refresh-token. Журнал не меняется.
func (h *Handlers) ValidateRefreshToken(w http.ResponseWriter, r *http.Request) {
	sel, err := h.selectTokens(r)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	info, err := h.auth.ValidateRefresh(r.Context(), sel.RefreshToken)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, "refresh token is valid", refreshInfoToResponse(info))
}
