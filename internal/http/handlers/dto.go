// Входные/выходные модели REST.
package handlers

import (
	"github.com/pribylovaa/edu-auth/internal/models"
	"github.com/pribylovaa/edu-auth/internal/service"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Audience string `json:"audience"`
}

type IdentityResponse struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Audience string `json:"audience"`
}

// SessionResponse - результат логина и ротации. Access-токен дублируется в
// теле для клиентов, которые шлют его в Authorization.
type SessionResponse struct {
	IdentityResponse
	AccessToken     string `json:"access_token"`
	AccessExpiresAt int64  `json:"access_expires_at"` // Unix UTC
}

type RefreshInfoResponse struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	ExpiresAt int64  `json:"expires_at"` // Unix UTC
}

type RevokedResponse struct {
	Revoked int64 `json:"revoked"`
}

type PresignRequest struct {
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

func identityToResponse(id models.Identity) IdentityResponse {
	return IdentityResponse{
		UserID:   id.SubjectID.String(),
		Email:    id.Email,
		Role:     id.Role,
		Audience: id.Audience.String(),
	}
}

func sessionToResponse(s *service.Session) SessionResponse {
	return SessionResponse{
		IdentityResponse: identityToResponse(s.Identity),
		AccessToken:      s.Tokens.AccessToken,
		AccessExpiresAt:  s.Tokens.AccessExpiresAt.UTC().Unix(),
	}
}

func refreshInfoToResponse(i *service.RefreshInfo) RefreshInfoResponse {
	return RefreshInfoResponse{
		UserID:    i.SubjectID.String(),
		Email:     i.Email,
		Role:      i.Role,
		ExpiresAt: i.ExpiresAt.UTC().Unix(),
	}
}
