package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/edu-auth/internal/audience"
	"github.com/pribylovaa/edu-auth/internal/config"
	"github.com/pribylovaa/edu-auth/internal/ledger"
	"github.com/pribylovaa/edu-auth/internal/models"
	"github.com/pribylovaa/edu-auth/internal/storage/memory"
	"github.com/pribylovaa/edu-auth/internal/tokens"
	"github.com/pribylovaa/edu-auth/mocks"
)

const testPassword = "Abcdef1!"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testAuthCfg() config.AuthConfig {
	return config.AuthConfig{
		AccessSecret:    "unit-access-secret",
		RefreshSecret:   "unit-refresh-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 168 * time.Hour,
		Issuer:          "edu-auth",
	}
}

func testResolver(t *testing.T) *audience.Resolver {
	t.Helper()

	r, err := audience.New(config.RoutesConfig{
		AdminPrefix:      "/admin",
		FrontendPrefix:   "/student",
		FallbackAudience: "frontend",
		FrontendRoles:    []string{"student", "admin"},
	}, config.CookiesConfig{Path: "/", SameSite: "lax"})
	require.NoError(t, err)

	return r
}

// newMemSvc - сервис поверх in-memory хранилища и управляемых часов.
func newMemSvc(t *testing.T) (*Service, *memory.Storage, *fakeClock) {
	t.Helper()

	clk := newClock()
	st := memory.New()
	codec := tokens.New(testAuthCfg()).WithClock(clk.Now)
	l := ledger.New(st, testAuthCfg().RefreshTokenTTL).WithClock(clk.Now)

	return New(st, l, codec, testResolver(t), nil), st, clk
}

// newMockSvc - сервис поверх gomock-хранилища.
func newMockSvc(t *testing.T) (*Service, *mocks.MockStorage, *tokens.Codec, *fakeClock) {
	t.Helper()

	ctrl := gomock.NewController(t)
	st := mocks.NewMockStorage(ctrl)
	clk := newClock()
	codec := tokens.New(testAuthCfg()).WithClock(clk.Now)
	l := ledger.New(st, testAuthCfg().RefreshTokenTTL).WithClock(clk.Now)

	return New(st, l, codec, testResolver(t), nil), st, codec, clk
}

func seedUser(t *testing.T, svc *Service, email, role string) *models.User {
	t.Helper()

	u, err := svc.CreateUser(context.Background(), email, testPassword, role)
	require.NoError(t, err)

	return u
}

func cookieCreds(sess *Session, path string) Credentials {
	return Credentials{
		Selection: audience.Selection{
			AccessToken:  sess.Tokens.AccessToken,
			RefreshToken: sess.Tokens.RefreshToken,
			Audience:     sess.Identity.Audience,
		},
		Path: path,
	}
}
