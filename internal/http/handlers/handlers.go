package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/pribylovaa/edu-auth/internal/audience"
	"github.com/pribylovaa/edu-auth/internal/models"
	"github.com/pribylovaa/edu-auth/internal/service"
	"github.com/pribylovaa/edu-auth/internal/uploads"
)

// AuthService - операции service.Service, которые используют хендлеры.
type AuthService interface {
	Login(ctx context.Context, email, password string, aud audience.Audience) (*service.Session, error)
	Logout(ctx context.Context, refreshToken string) error
	LogoutAll(ctx context.Context, subjectID uuid.UUID) (int64, error)
	Refresh(ctx context.Context, refreshToken string, cookieNS audience.Audience, path string) (*service.Session, error)
	ValidateAccess(ctx context.Context, token string, cookieNS audience.Audience) (*models.Identity, error)
	ValidateRefresh(ctx context.Context, token string) (*service.RefreshInfo, error)
	RevokeAllForSubject(ctx context.Context, subjectID uuid.UUID) (int64, error)
}

// Presigner выдаёт ссылки на загрузку видео курса.
type Presigner interface {
	VideoUploadURL(ctx context.Context, ownerID uuid.UUID, contentType string, size int64) (*uploads.UploadInfo, error)
}

// Handlers агрегирует зависимости хендлеров. uploads может быть nil.
type Handlers struct {
	auth     AuthService
	resolver *audience.Resolver
	uploads  Presigner
}

func New(auth AuthService, resolver *audience.Resolver, uploads Presigner) *Handlers {
	return &Handlers{
		auth:     auth,
		resolver: resolver,
		uploads:  uploads,
	}
}

// decodeStrict - строгий JSON-декодер: запрещаем неизвестные поля.
func decodeStrict(r *http.Request, value any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(value)
}

// setCookies выставляет cookie пары токенов audience.
func (h *Handlers) setCookies(w http.ResponseWriter, sess *service.Session) {
	tp := sess.Tokens
	for _, c := range h.resolver.Cookies(sess.Identity.Audience,
		tp.AccessToken, tp.RefreshToken, tp.AccessExpiresAt, tp.RefreshExpiresAt) {
		http.SetCookie(w, c)
	}
}

// clearCookies удаляет пару cookie audience у клиента.
func (h *Handlers) clearCookies(w http.ResponseWriter, a audience.Audience) {
	if a == audience.None {
		return
	}

	for _, c := range h.resolver.ExpiredCookies(a) {
		http.SetCookie(w, c)
	}
}

// selectTokens берёт токены из пространства, явно указанного в ?audience=,
// или из того, что выберет резолвер.
func (h *Handlers) selectTokens(r *http.Request) (audience.Selection, error) {
	if raw := r.URL.Query().Get("audience"); raw != "" {
		a, err := audience.Parse(raw)
		if err != nil {
			return audience.Selection{}, service.ErrInvalidArgument
		}
		return audience.ReadTokens(r, a), nil
	}

	return h.resolver.SelectTokens(r), nil
}
