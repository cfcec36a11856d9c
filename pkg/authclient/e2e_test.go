package authclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/edu-auth/internal/audience"
	"github.com/pribylovaa/edu-auth/internal/config"
	httpapi "github.com/pribylovaa/edu-auth/internal/http"
	"github.com/pribylovaa/edu-auth/internal/ledger"
	"github.com/pribylovaa/edu-auth/internal/models"
	"github.com/pribylovaa/edu-auth/internal/service"
	"github.com/pribylovaa/edu-auth/internal/storage/memory"
	"github.com/pribylovaa/edu-auth/internal/tokens"
)

type serverClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *serverClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *serverClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type stack struct {
	srv   *httptest.Server
	svc   *service.Service
	store *memory.Storage
	clk   *serverClock
}

func newStack(t *testing.T) *stack {
	t.Helper()

	clk := &serverClock{now: time.Now().UTC()}
	store := memory.New()

	authCfg := config.AuthConfig{
		AccessSecret:    "e2e-access",
		RefreshSecret:   "e2e-refresh",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 168 * time.Hour,
		Issuer:          "edu-auth",
	}

	resolver, err := audience.New(config.RoutesConfig{
		AdminPrefix:      "/admin",
		FrontendPrefix:   "/student",
		FallbackAudience: "frontend",
		FrontendRoles:    []string{"student", "admin"},
	}, config.CookiesConfig{Path: "/", SameSite: "lax"})
	require.NoError(t, err)

	svc := service.New(store,
		ledger.New(store, authCfg.RefreshTokenTTL).WithClock(clk.Now),
		tokens.New(authCfg).WithClock(clk.Now),
		resolver, nil)

	srv := httptest.NewServer(httpapi.NewRouter(svc, resolver, nil, httpapi.Options{}))
	t.Cleanup(srv.Close)

	return &stack{srv: srv, svc: svc, store: store, clk: clk}
}

func TestE2E_LoginExpireRefresh(t *testing.T) {
	t.Parallel()

	st := newStack(t)
	u, err := st.svc.CreateUser(context.Background(), "student@example.com", "Abcdef1!", models.RoleStudent)
	require.NoError(t, err)

	resets := 0
	c, err := New(Options{
		BaseURL:        st.srv.URL,
		Audience:       "frontend",
		HTTPClient:     st.srv.Client(),
		OnSessionReset: func() { resets++ },
	})
	require.NoError(t, err)

	ctx := context.Background()

	_, err = c.Login(ctx, "student@example.com", "wrong-Pass1!")
	require.ErrorIs(t, err, ErrUnauthorized)

	sess, err := c.Login(ctx, "student@example.com", "Abcdef1!")
	require.NoError(t, err)
	require.Equal(t, "frontend", sess.Audience)
	first := c.AccessToken()

	me, err := c.Me(ctx)
	require.NoError(t, err)
	require.Equal(t, u.ID.String(), me.UserID)

	// Access истёк: /validate-token не ротирует сам, отвечает 401, и
	// координатор делает ровно одну ротацию и повтор.
	st.clk.Advance(16 * time.Minute)

	var id Identity
	require.NoError(t, c.DoJSON(ctx, http.MethodGet, "/validate-token", nil, &id))
	require.Equal(t, "frontend", id.Audience)
	require.NotEqual(t, first, c.AccessToken())

	n, err := st.store.RevokeAllForOwner(ctx, u.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	require.Zero(t, resets)
}

func TestE2E_ServerSideRotationAdoptedByClient(t *testing.T) {
	t.Parallel()

	st := newStack(t)
	_, err := st.svc.CreateUser(context.Background(), "admin@example.com", "Abcdef1!", models.RoleAdmin)
	require.NoError(t, err)

	c, err := New(Options{BaseURL: st.srv.URL, Audience: "admin", HTTPClient: st.srv.Client()})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = c.Login(ctx, "admin@example.com", "Abcdef1!")
	require.NoError(t, err)
	first := c.AccessToken()

	st.clk.Advance(16 * time.Minute)

	// Мидлвар ротирует пару по refresh-cookie; клиент подхватывает новый
	// access из cookie без собственной ротации.
	var id Identity
	require.NoError(t, c.DoJSON(ctx, http.MethodGet, "/admin/me", nil, &id))
	require.Equal(t, "admin", id.Audience)
	require.NotEqual(t, first, c.AccessToken())

	_, err = c.PresignVideo(ctx, "video/mp4", 10)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
}

func TestE2E_RevokedSessionResetsOnce(t *testing.T) {
	t.Parallel()

	st := newStack(t)
	u, err := st.svc.CreateUser(context.Background(), "student@example.com", "Abcdef1!", models.RoleStudent)
	require.NoError(t, err)

	resets := 0
	c, err := New(Options{
		BaseURL:        st.srv.URL,
		Audience:       "frontend",
		HTTPClient:     st.srv.Client(),
		OnSessionReset: func() { resets++ },
	})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = c.Login(ctx, "student@example.com", "Abcdef1!")
	require.NoError(t, err)

	_, err = st.svc.RevokeAllForSubject(ctx, u.ID)
	require.NoError(t, err)

	st.clk.Advance(16 * time.Minute)

	_, err = c.Me(ctx)
	require.ErrorIs(t, err, ErrSessionExpired)
	require.Equal(t, 1, resets)
	require.Empty(t, c.AccessToken())

	require.NoError(t, c.Logout(ctx))
}
