package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pribylovaa/edu-auth/internal/audience"
	"github.com/pribylovaa/edu-auth/internal/http/response"
	"github.com/pribylovaa/edu-auth/internal/models"
	"github.com/pribylovaa/edu-auth/internal/pkg/log"
	"github.com/pribylovaa/edu-auth/internal/service"
)

type identityKey struct{}

// Authenticator - часть service.Service, нужная мидлвару.
type Authenticator interface {
	Authenticate(ctx context.Context, cr service.Credentials) service.Outcome
}

// Authenticate - серверная часть ротации: проверяет access-токен, при
// необходимости ротирует refresh из cookie, выставляет новые cookie и кладёт
// Identity в контекст. Сам запрос не отклоняет: это делают RequireAuth и
// RequireAudience.
func Authenticate(auth Authenticator, resolver *audience.Resolver) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			out := auth.Authenticate(r.Context(), service.Credentials{
				Bearer:    BearerToken(r),
				Selection: resolver.SelectTokens(r),
				Path:      r.URL.Path,
			})

			if out.Rotated != nil {
				tp := out.Rotated.Tokens
				for _, c := range resolver.Cookies(out.Rotated.Identity.Audience,
					tp.AccessToken, tp.RefreshToken, tp.AccessExpiresAt, tp.RefreshExpiresAt) {
					http.SetCookie(w, c)
				}
			}

			if out.Identity == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), identityKey{}, out.Identity)
			ctx = log.With(ctx,
				slog.String("user_id", out.Identity.SubjectID.String()),
				slog.String("audience", out.Identity.Audience.String()),
			)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFrom возвращает аутентифицированного субъекта запроса.
func IdentityFrom(ctx context.Context) (*models.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*models.Identity)
	return id, ok && id != nil
}

// WithIdentity кладёт субъекта в контекст (для тестов хендлеров).
func WithIdentity(ctx context.Context, id *models.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// RequireAuth отвечает 401, если запрос не аутентифицирован.
func RequireAuth() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := IdentityFrom(r.Context()); !ok {
				response.WriteError(w, r, service.ErrAuthentication)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAudience отвечает 401 без субъекта и 403, если токен выпущен для
// другого audience.
func RequireAudience(a audience.Audience) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFrom(r.Context())
			if !ok {
				response.WriteError(w, r, service.ErrAuthentication)
				return
			}

			if id.Audience != a {
				log.From(r.Context()).Warn("audience_guard_denied",
					slog.String("want", a.String()),
					slog.String("got", id.Audience.String()),
				)
				response.WriteError(w, r, service.ErrAuthorization)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken извлекает токен из "Authorization: Bearer <token>" или "".
func BearerToken(r *http.Request) string {
	const prefix = "Bearer "

	auth := r.Header.Get("Authorization")
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return ""
	}

	return strings.TrimSpace(auth[len(prefix):])
}
