package service

import (
	"context"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/edu-auth/internal/audience"
	"github.com/pribylovaa/edu-auth/internal/models"
	"github.com/pribylovaa/edu-auth/internal/storage"
	"github.com/pribylovaa/edu-auth/internal/tokens"
)

func TestValidateAccess(t *testing.T) {
	t.Parallel()

	svc, _, clk := newMemSvc(t)
	sess := loginAs(t, svc, "admin@example.com", models.RoleAdmin, audience.Admin)
	ctx := context.Background()

	id, err := svc.ValidateAccess(ctx, sess.Tokens.AccessToken, audience.None)
	require.NoError(t, err)
	require.Equal(t, sess.Identity, *id)

	id, err = svc.ValidateAccess(ctx, sess.Tokens.AccessToken, audience.Admin)
	require.NoError(t, err)
	require.Equal(t, audience.Admin, id.Audience)

	_, err = svc.ValidateAccess(ctx, sess.Tokens.AccessToken, audience.Frontend)
	require.ErrorIs(t, err, ErrAuthorization)

	_, err = svc.ValidateAccess(ctx, "", audience.None)
	require.ErrorIs(t, err, ErrAuthentication)

	_, err = svc.ValidateAccess(ctx, sess.Tokens.RefreshToken, audience.None)
	require.ErrorIs(t, err, ErrAuthentication)

	clk.Advance(16 * time.Minute)
	_, err = svc.ValidateAccess(ctx, sess.Tokens.AccessToken, audience.None)
	require.ErrorIs(t, err, ErrAuthentication)
}

func TestValidateAccess_SubjectGone(t *testing.T) {
	t.Parallel()

	svc, st, codec, _ := newMockSvc(t)
	uid := uuid.New()

	access, _, err := codec.IssueAccess(tokens.AccessClaims{
		SubjectID: uid,
		Email:     "gone@example.com",
		Role:      models.RoleStudent,
		Audience:  audience.Frontend,
	})
	require.NoError(t, err)

	st.EXPECT().UserByID(gomock.Any(), uid).Return(nil, storage.ErrNotFound)

	_, err = svc.ValidateAccess(context.Background(), access, audience.None)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestValidateRefresh_DoesNotRotate(t *testing.T) {
	t.Parallel()

	svc, _, clk := newMemSvc(t)
	sess := loginAs(t, svc, "student@example.com", models.RoleStudent, audience.Frontend)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		info, err := svc.ValidateRefresh(ctx, sess.Tokens.RefreshToken)
		require.NoError(t, err)
		require.Equal(t, sess.Identity.SubjectID, info.SubjectID)
		require.Equal(t, models.RoleStudent, info.Role)
		require.Equal(t, sess.Tokens.RefreshExpiresAt, info.ExpiresAt)
	}

	_, err := svc.ValidateRefresh(ctx, sess.Tokens.AccessToken)
	require.ErrorIs(t, err, ErrAuthentication)

	clk.Advance(169 * time.Hour)
	_, err = svc.ValidateRefresh(ctx, sess.Tokens.RefreshToken)
	require.ErrorIs(t, err, ErrAuthentication)
}
