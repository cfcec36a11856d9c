package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/edu-auth/internal/audience"
	"github.com/pribylovaa/edu-auth/internal/models"
	"github.com/pribylovaa/edu-auth/internal/storage"
)

func TestCreateUser_Validation(t *testing.T) {
	t.Parallel()

	svc, _, _ := newMemSvc(t)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, "not-an-email", testPassword, models.RoleStudent)
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = svc.CreateUser(ctx, "u@example.com", "short", models.RoleStudent)
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = svc.CreateUser(ctx, "u@example.com", "abcdefgh", models.RoleStudent)
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = svc.CreateUser(ctx, "u@example.com", testPassword, "root")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCreateUser_NormalizesAndRejectsDuplicate(t *testing.T) {
	t.Parallel()

	svc, _, _ := newMemSvc(t)
	ctx := context.Background()

	u, err := svc.CreateUser(ctx, "  User@Example.com ", testPassword, models.RoleStudent)
	require.NoError(t, err)
	require.Equal(t, "user@example.com", u.Email)
	require.NotEqual(t, testPassword, u.PasswordHash)

	_, err = svc.CreateUser(ctx, "USER@example.com", testPassword, models.RoleStudent)
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestLogin_OK(t *testing.T) {
	t.Parallel()

	svc, st, clk := newMemSvc(t)
	u := seedUser(t, svc, "student@example.com", models.RoleStudent)

	sess, err := svc.Login(context.Background(), "Student@Example.com", testPassword, audience.Frontend)
	require.NoError(t, err)
	require.Equal(t, u.ID, sess.Identity.SubjectID)
	require.Equal(t, audience.Frontend, sess.Identity.Audience)
	require.NotEmpty(t, sess.Tokens.AccessToken)
	require.NotEmpty(t, sess.Tokens.RefreshToken)
	require.Equal(t, clk.Now().Add(15*time.Minute), sess.Tokens.AccessExpiresAt)
	require.Equal(t, clk.Now().Add(168*time.Hour), sess.Tokens.RefreshExpiresAt)

	claims, err := svc.codec.VerifyRefresh(sess.Tokens.RefreshToken)
	require.NoError(t, err)

	rec, err := st.RefreshTokenByID(context.Background(), claims.TokenID)
	require.NoError(t, err)
	require.Equal(t, u.ID, rec.OwnerID)
	require.False(t, rec.Revoked)
}

func TestLogin_AdminBothAudiences(t *testing.T) {
	t.Parallel()

	svc, _, _ := newMemSvc(t)
	seedUser(t, svc, "admin@example.com", models.RoleAdmin)

	a, err := svc.Login(context.Background(), "admin@example.com", testPassword, audience.Admin)
	require.NoError(t, err)
	require.Equal(t, audience.Admin, a.Identity.Audience)

	f, err := svc.Login(context.Background(), "admin@example.com", testPassword, audience.Frontend)
	require.NoError(t, err)
	require.Equal(t, audience.Frontend, f.Identity.Audience)
}

func TestLogin_StudentForbiddenForAdmin(t *testing.T) {
	t.Parallel()

	svc, _, _ := newMemSvc(t)
	seedUser(t, svc, "student@example.com", models.RoleStudent)

	_, err := svc.Login(context.Background(), "student@example.com", testPassword, audience.Admin)
	require.ErrorIs(t, err, ErrAuthorization)
}

func TestLogin_BadCredentials(t *testing.T) {
	t.Parallel()

	svc, _, _ := newMemSvc(t)
	seedUser(t, svc, "student@example.com", models.RoleStudent)
	ctx := context.Background()

	_, err := svc.Login(ctx, "student@example.com", "Wrong1!xx", audience.Frontend)
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody@example.com", testPassword, audience.Frontend)
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "student@example.com", "", audience.Frontend)
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "student@example.com", testPassword, audience.None)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestLogin_StorageErrorPropagated(t *testing.T) {
	t.Parallel()

	svc, st, _, _ := newMockSvc(t)
	dbErr := errors.New("db down")

	st.EXPECT().UserByEmail(gomock.Any(), "u@example.com").Return(nil, dbErr)

	_, err := svc.Login(context.Background(), "u@example.com", testPassword, audience.Frontend)
	require.ErrorIs(t, err, dbErr)
}

func TestLogout_Idempotent(t *testing.T) {
	t.Parallel()

	svc, _, _ := newMemSvc(t)
	seedUser(t, svc, "student@example.com", models.RoleStudent)
	ctx := context.Background()

	sess, err := svc.Login(ctx, "student@example.com", testPassword, audience.Frontend)
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, sess.Tokens.RefreshToken))
	require.NoError(t, svc.Logout(ctx, sess.Tokens.RefreshToken))
	require.NoError(t, svc.Logout(ctx, "garbage"))
	require.NoError(t, svc.Logout(ctx, ""))

	_, err = svc.ValidateRefresh(ctx, sess.Tokens.RefreshToken)
	require.ErrorIs(t, err, ErrAuthentication)
}

func TestLogoutAll_RevokesEverySession(t *testing.T) {
	t.Parallel()

	svc, _, _ := newMemSvc(t)
	u := seedUser(t, svc, "admin@example.com", models.RoleAdmin)
	ctx := context.Background()

	s1, err := svc.Login(ctx, "admin@example.com", testPassword, audience.Admin)
	require.NoError(t, err)
	s2, err := svc.Login(ctx, "admin@example.com", testPassword, audience.Frontend)
	require.NoError(t, err)

	n, err := svc.LogoutAll(ctx, u.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	for _, s := range []*Session{s1, s2} {
		_, err := svc.ValidateRefresh(ctx, s.Tokens.RefreshToken)
		require.ErrorIs(t, err, ErrAuthentication)
	}
}

func TestRevokeAllForSubject(t *testing.T) {
	t.Parallel()

	svc, _, _ := newMemSvc(t)
	u := seedUser(t, svc, "student@example.com", models.RoleStudent)
	ctx := context.Background()

	_, err := svc.Login(ctx, "student@example.com", testPassword, audience.Frontend)
	require.NoError(t, err)

	n, err := svc.RevokeAllForSubject(ctx, u.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = svc.RevokeAllForSubject(ctx, uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRevokeAllForSubject_StorageError(t *testing.T) {
	t.Parallel()

	svc, st, _, _ := newMockSvc(t)
	id := uuid.New()

	st.EXPECT().UserByID(gomock.Any(), id).Return(&models.User{ID: id, Role: models.RoleStudent}, nil)
	st.EXPECT().RevokeAllForOwner(gomock.Any(), id).Return(int64(0), errors.New("boom"))

	_, err := svc.RevokeAllForSubject(context.Background(), id)
	require.Error(t, err)
	require.NotErrorIs(t, err, storage.ErrNotFound)
}
