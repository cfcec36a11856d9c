package audience

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/edu-auth/internal/config"
)

func newResolver(t *testing.T, fallback string) *Resolver {
	t.Helper()

	r, err := New(config.RoutesConfig{
		AdminPrefix:      "/admin",
		FrontendPrefix:   "/student",
		FallbackAudience: fallback,
		FrontendRoles:    []string{"student", "admin"},
	}, config.CookiesConfig{Path: "/", SameSite: "lax"})
	require.NoError(t, err)

	return r
}

func requestWith(path string, cookies map[string]string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range cookies {
		req.AddCookie(&http.Cookie{Name: k, Value: v})
	}

	return req
}

func TestParseAndString(t *testing.T) {
	t.Parallel()

	a, err := Parse("admin")
	require.NoError(t, err)
	require.Equal(t, Admin, a)
	require.Equal(t, "admin", a.String())

	f, err := Parse("frontend")
	require.NoError(t, err)
	require.Equal(t, "frontend", f.String())

	_, err = Parse("none")
	require.ErrorIs(t, err, ErrUnknownAudience)
	require.Equal(t, "none", None.String())
}

func TestNew_RejectsUnknownFallback(t *testing.T) {
	t.Parallel()

	_, err := New(config.RoutesConfig{FallbackAudience: "root"}, config.CookiesConfig{})
	require.ErrorIs(t, err, ErrUnknownAudience)
}

func TestCookiePairFor(t *testing.T) {
	t.Parallel()

	admin := CookiePairFor(Admin)
	require.Equal(t, "accessToken", admin.AccessName)
	require.Equal(t, "refreshToken", admin.RefreshName)
	require.True(t, admin.AccessHTTPOnly)
	require.True(t, admin.RefreshHTTPOnly)

	front := CookiePairFor(Frontend)
	require.Equal(t, "client-access-token-win", front.AccessName)
	require.Equal(t, "client-refresh-token-win", front.RefreshName)
	require.False(t, front.AccessHTTPOnly)
	require.False(t, front.RefreshHTTPOnly)

	require.Equal(t, CookiePair{}, CookiePairFor(None))
	require.Equal(t, admin, CookiePairFor(Admin))
}

func TestRouteAudience(t *testing.T) {
	t.Parallel()

	r := newResolver(t, "frontend")

	require.Equal(t, Admin, r.RouteAudience("/admin"))
	require.Equal(t, Admin, r.RouteAudience("/admin/me"))
	require.Equal(t, Frontend, r.RouteAudience("/student/courses/1"))
	require.Equal(t, None, r.RouteAudience("/administrator"))
	require.Equal(t, None, r.RouteAudience("/me"))
}

func TestSelectTokens(t *testing.T) {
	t.Parallel()

	r := newResolver(t, "frontend")

	both := map[string]string{
		"accessToken":              "a-acc",
		"refreshToken":             "a-ref",
		"client-access-token-win":  "f-acc",
		"client-refresh-token-win": "f-ref",
	}

	tests := []struct {
		name    string
		path    string
		cookies map[string]string
		want    Selection
	}{
		{
			name: "none",
			path: "/me",
			want: Selection{Audience: None},
		},
		{
			name:    "admin_only",
			path:    "/student/me",
			cookies: map[string]string{"refreshToken": "a-ref"},
			want:    Selection{RefreshToken: "a-ref", Audience: Admin},
		},
		{
			name:    "frontend_only",
			path:    "/admin/me",
			cookies: map[string]string{"client-access-token-win": "f-acc"},
			want:    Selection{AccessToken: "f-acc", Audience: Frontend},
		},
		{
			name:    "both_admin_route",
			path:    "/admin/me",
			cookies: both,
			want:    Selection{AccessToken: "a-acc", RefreshToken: "a-ref", Audience: Admin},
		},
		{
			name:    "both_frontend_route",
			path:    "/student/me",
			cookies: both,
			want:    Selection{AccessToken: "f-acc", RefreshToken: "f-ref", Audience: Frontend},
		},
		{
			name:    "both_ambiguous_route_uses_fallback",
			path:    "/me",
			cookies: both,
			want:    Selection{AccessToken: "f-acc", RefreshToken: "f-ref", Audience: Frontend},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, r.SelectTokens(requestWith(tt.path, tt.cookies)))
		})
	}
}

func TestResolveAudienceForSubject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		fallback string
		role     string
		path     string
		want     Audience
		wantErr  error
	}{
		{name: "admin_on_admin_route", fallback: "frontend", role: "admin", path: "/admin/x", want: Admin},
		{name: "student_on_admin_route", fallback: "frontend", role: "student", path: "/admin/x", wantErr: ErrForbidden},
		{name: "student_on_student_route", fallback: "frontend", role: "student", path: "/student/x", want: Frontend},
		{name: "admin_previews_student_route", fallback: "frontend", role: "admin", path: "/student/x", want: Frontend},
		{name: "guest_on_student_route", fallback: "frontend", role: "guest", path: "/student/x", wantErr: ErrForbidden},
		{name: "ambiguous_admin_role", fallback: "frontend", role: "admin", path: "/me", want: Admin},
		{name: "ambiguous_student_role", fallback: "admin", role: "student", path: "/me", want: Frontend},
		{name: "ambiguous_unknown_role_fallback_frontend", fallback: "frontend", role: "guest", path: "/me", want: Frontend},
		{name: "ambiguous_unknown_role_fallback_admin", fallback: "admin", role: "guest", path: "/me", want: Admin},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := newResolver(t, tt.fallback)
			got, err := r.ResolveAudienceForSubject(tt.role, tt.path)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestBind(t *testing.T) {
	t.Parallel()

	r := newResolver(t, "frontend")

	// Admin-cookie на маршруте студента - отказ, пространства не смешиваются.
	_, err := r.Bind("admin", "/student/me", Admin)
	require.ErrorIs(t, err, ErrForbidden)

	// Frontend-cookie админа на админском маршруте - отказ.
	_, err = r.Bind("admin", "/admin/me", Frontend)
	require.ErrorIs(t, err, ErrForbidden)

	a, err := r.Bind("admin", "/admin/me", Admin)
	require.NoError(t, err)
	require.Equal(t, Admin, a)

	// Неоднозначный маршрут сохраняет пространство cookie.
	a, err = r.Bind("admin", "/me", Frontend)
	require.NoError(t, err)
	require.Equal(t, Frontend, a)

	_, err = r.Bind("student", "/me", Admin)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = r.Bind("admin", "/me", None)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestCookies(t *testing.T) {
	t.Parallel()

	r, err := New(config.RoutesConfig{FallbackAudience: "frontend"},
		config.CookiesConfig{Domain: "example.org", Secure: true, SameSite: "strict"})
	require.NoError(t, err)

	exp := time.Now().Add(time.Hour)
	cs := r.Cookies(Admin, "acc", "ref", exp, exp)
	require.Len(t, cs, 2)
	require.Equal(t, "accessToken", cs[0].Name)
	require.Equal(t, "acc", cs[0].Value)
	require.True(t, cs[0].HttpOnly)
	require.True(t, cs[0].Secure)
	require.Equal(t, "/", cs[0].Path)
	require.Equal(t, "example.org", cs[0].Domain)
	require.Equal(t, http.SameSiteStrictMode, cs[0].SameSite)
	require.Equal(t, "refreshToken", cs[1].Name)

	fs := r.Cookies(Frontend, "acc", "ref", exp, exp)
	require.False(t, fs[0].HttpOnly)
	require.False(t, fs[1].HttpOnly)

	gone := r.ExpiredCookies(Frontend)
	require.Len(t, gone, 2)
	for _, c := range gone {
		require.Empty(t, c.Value)
		require.Equal(t, -1, c.MaxAge)
	}
}

func TestReadTokens_IgnoresOtherNamespace(t *testing.T) {
	t.Parallel()

	req := requestWith("/refresh-token", map[string]string{
		"accessToken":              "a-access",
		"refreshToken":             "a-refresh",
		"client-refresh-token-win": "f-refresh",
	})

	f := ReadTokens(req, Frontend)
	require.Equal(t, Selection{RefreshToken: "f-refresh", Audience: Frontend}, f)

	a := ReadTokens(req, Admin)
	require.Equal(t, Selection{AccessToken: "a-access", RefreshToken: "a-refresh", Audience: Admin}, a)
}
