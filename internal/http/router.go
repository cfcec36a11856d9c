package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pribylovaa/edu-auth/internal/audience"
	"github.com/pribylovaa/edu-auth/internal/http/handlers"
	"github.com/pribylovaa/edu-auth/internal/http/middleware"
)

// Service - всё, что роутер требует от сервисного слоя.
type Service interface {
	handlers.AuthService
	middleware.Authenticator
}

// Options - параметры сборки HTTP-роутера.
type Options struct {
	Logger         *slog.Logger
	Timeout        time.Duration
	AdminPrefix    string // по умолчанию "/admin"
	FrontendPrefix string // по умолчанию "/student"
}

// NewRouter собирает http.Handler с chi и подключёнными middleware/роутами.
// uploads может быть nil: тогда presign отвечает 503.
func NewRouter(svc Service, resolver *audience.Resolver, uploads handlers.Presigner, opts Options) http.Handler {
	if opts.AdminPrefix == "" {
		opts.AdminPrefix = "/admin"
	}
	if opts.FrontendPrefix == "" {
		opts.FrontendPrefix = "/student"
	}

	root := chi.NewRouter()

	// Middleware (внешний -> внутренний).
	root.Use(
		middleware.Recover(),            // безопасно ловим паники
		middleware.RequestID(),          // формируем/прокидываем X-Request-Id (до логирования!)
		middleware.Logging(opts.Logger), // кладём request-scoped логгер в контекст и логируем
	)
	if opts.Timeout > 0 {
		root.Use(middleware.Timeout(opts.Timeout))
	}

	h := handlers.New(svc, resolver, uploads)

	// Явные операции с токенами. Без Authenticate: иначе мидлвар сам
	// ротировал бы refresh, который пришёл на /refresh-token.
	root.Post("/login", h.Login)
	root.Post("/logout", h.Logout)
	root.Post("/refresh-token", h.RefreshToken)
	root.Get("/validate-token", h.ValidateToken)
	root.Get("/validate-refresh-token", h.ValidateRefreshToken)

	root.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(svc, resolver))

		r.With(middleware.RequireAuth()).Get("/me", h.Me)
		r.With(middleware.RequireAuth()).Post("/logout-all", h.LogoutAll)

		r.Route(opts.AdminPrefix, func(r chi.Router) {
			r.Use(middleware.RequireAudience(audience.Admin))

			r.Get("/me", h.Me)
			r.Delete("/users/{id}/sessions", h.RevokeSessions)
			r.Post("/uploads/presign", h.PresignUpload)
		})

		r.Route(opts.FrontendPrefix, func(r chi.Router) {
			r.Use(middleware.RequireAudience(audience.Frontend))

			r.Get("/me", h.Me)
		})
	})

	return root
}
