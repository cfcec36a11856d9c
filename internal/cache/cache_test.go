package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/edu-auth/internal/models"
	"github.com/pribylovaa/edu-auth/internal/storage"
	"github.com/pribylovaa/edu-auth/internal/storage/memory"
)

func newTestCache(t *testing.T) (RefreshCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	c, err := NewRedisCache(context.Background(), "redis://"+mr.Addr(), "test:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return c, mr
}

func record(owner uuid.UUID, ttl time.Duration) *models.RefreshToken {
	now := time.Now().UTC()
	return &models.RefreshToken{
		TokenID:   uuid.Must(uuid.NewV7()).String(),
		OwnerID:   owner,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestNewRedisCache_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewRedisCache(context.Background(), "://bad", "")
	require.Error(t, err)

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedisCache(context.Background(), "redis://"+addr, "")
	require.Error(t, err)
}

func TestRedisCache_SetGet(t *testing.T) {
	t.Parallel()

	c, mr := newTestCache(t)
	ctx := context.Background()
	rec := record(uuid.New(), time.Hour)

	_, ok, err := c.Get(ctx, rec.TokenID)
	require.NoError(t, err)
	require.False(t, ok)

	stored, err := c.Set(ctx, rec, time.Hour, 0)
	require.NoError(t, err)
	require.True(t, stored)
	require.Equal(t, time.Hour, mr.TTL("test:rt:"+rec.TokenID))

	got, ok, err := c.Get(ctx, rec.TokenID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rec.OwnerID, got.OwnerID)
	require.Equal(t, rec.ExpiresAt.Unix(), got.ExpiresAt.Unix())
	require.Equal(t, rec.CreatedAt.Unix(), got.CreatedAt.Unix())
	require.False(t, got.Revoked)

	ids, err := c.OwnerTokenIDs(ctx, rec.OwnerID)
	require.NoError(t, err)
	require.Equal(t, []string{rec.TokenID}, ids)
}

func TestRedisCache_MarkRevoked(t *testing.T) {
	t.Parallel()

	c, mr := newTestCache(t)
	ctx := context.Background()
	rec := record(uuid.New(), time.Hour)
	_, err := c.Set(ctx, rec, time.Hour, 0)
	require.NoError(t, err)

	require.NoError(t, c.MarkRevoked(ctx, rec.TokenID, "missing"))

	got, ok, err := c.Get(ctx, rec.TokenID)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Revoked)
	require.Equal(t, time.Hour, mr.TTL("test:rt:"+rec.TokenID))

	// Отсутствующий ключ не создаётся.
	require.False(t, mr.Exists("test:rt:missing"))

	require.NoError(t, c.MarkRevoked(ctx))

	epoch, err := c.Epoch(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), epoch)
}

func TestRedisCache_SetRespectsEpochAndRevoked(t *testing.T) {
	t.Parallel()

	c, mr := newTestCache(t)
	ctx := context.Background()
	rec := record(uuid.New(), time.Hour)

	epoch, err := c.Epoch(ctx)
	require.NoError(t, err)
	require.Zero(t, epoch)

	// Отзыв между чтением эпохи и записью: запись отбрасывается.
	require.NoError(t, c.MarkRevoked(ctx, rec.TokenID))
	stored, err := c.Set(ctx, rec, time.Hour, epoch)
	require.NoError(t, err)
	require.False(t, stored)
	require.False(t, mr.Exists("test:rt:"+rec.TokenID))

	epoch, err = c.Epoch(ctx)
	require.NoError(t, err)
	stored, err = c.Set(ctx, rec, time.Hour, epoch)
	require.NoError(t, err)
	require.True(t, stored)

	require.NoError(t, c.MarkRevoked(ctx, rec.TokenID))
	epoch, err = c.Epoch(ctx)
	require.NoError(t, err)

	// Повторное заполнение не снимает отметку отзыва.
	stored, err = c.Set(ctx, rec, time.Hour, epoch)
	require.NoError(t, err)
	require.True(t, stored)

	got, ok, err := c.Get(ctx, rec.TokenID)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Revoked)
}

func TestRefreshStore_ReadThrough(t *testing.T) {
	t.Parallel()

	c, mr := newTestCache(t)
	st := memory.New()
	rs := NewRefreshStore(st, c)
	ctx := context.Background()

	rec := record(uuid.New(), time.Hour)
	// Запись в обход декоратора - кэш пуст.
	require.NoError(t, st.SaveRefreshToken(ctx, rec))
	require.False(t, mr.Exists("test:rt:"+rec.TokenID))

	got, err := rs.RefreshTokenByID(ctx, rec.TokenID)
	require.NoError(t, err)
	require.Equal(t, rec.OwnerID, got.OwnerID)
	require.True(t, mr.Exists("test:rt:"+rec.TokenID))

	_, err = rs.RefreshTokenByID(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRefreshStore_RevokeAndRotateKeepCacheConsistent(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)
	rs := NewRefreshStore(memory.New(), c)
	ctx := context.Background()
	owner := uuid.New()

	old := record(owner, time.Hour)
	require.NoError(t, rs.SaveRefreshToken(ctx, old))

	next := record(owner, time.Hour)
	require.NoError(t, rs.RotateRefreshToken(ctx, old.TokenID, owner, time.Now().UTC(), next))

	got, err := rs.RefreshTokenByID(ctx, old.TokenID)
	require.NoError(t, err)
	require.True(t, got.Revoked)

	got, err = rs.RefreshTokenByID(ctx, next.TokenID)
	require.NoError(t, err)
	require.False(t, got.Revoked)

	ok, err := rs.RevokeRefreshToken(ctx, next.TokenID)
	require.NoError(t, err)
	require.True(t, ok)

	got, err = rs.RefreshTokenByID(ctx, next.TokenID)
	require.NoError(t, err)
	require.True(t, got.Revoked)
}

func TestRefreshStore_RevokeAllForOwner(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)
	rs := NewRefreshStore(memory.New(), c)
	ctx := context.Background()
	owner := uuid.New()

	a := record(owner, time.Hour)
	b := record(owner, time.Hour)
	require.NoError(t, rs.SaveRefreshToken(ctx, a))
	require.NoError(t, rs.SaveRefreshToken(ctx, b))

	n, err := rs.RevokeAllForOwner(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	for _, id := range []string{a.TokenID, b.TokenID} {
		got, err := rs.RefreshTokenByID(ctx, id)
		require.NoError(t, err)
		require.True(t, got.Revoked)
	}

	deleted, err := rs.DeleteStaleTokens(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, int64(2), deleted)
}

// interleavedStore выполняет afterRead один раз: после чтения записи из
// хранилища, но до того, как декоратор положит её в кэш.
type interleavedStore struct {
	storage.RefreshTokenStorage
	afterRead func()
}

func (s *interleavedStore) RefreshTokenByID(ctx context.Context, tokenID string) (*models.RefreshToken, error) {
	t, err := s.RefreshTokenStorage.RefreshTokenByID(ctx, tokenID)
	if f := s.afterRead; f != nil {
		s.afterRead = nil
		f()
	}

	return t, err
}

func TestRefreshStore_RevokeDuringFillIsNotOverwritten(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		revoke func(ctx context.Context, rs *RefreshStore, rec *models.RefreshToken) error
	}{
		{
			name: "single",
			revoke: func(ctx context.Context, rs *RefreshStore, rec *models.RefreshToken) error {
				_, err := rs.RevokeRefreshToken(ctx, rec.TokenID)
				return err
			},
		},
		{
			name: "all_for_owner",
			revoke: func(ctx context.Context, rs *RefreshStore, rec *models.RefreshToken) error {
				_, err := rs.RevokeAllForOwner(ctx, rec.OwnerID)
				return err
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, mr := newTestCache(t)
			st := memory.New()
			backing := &interleavedStore{RefreshTokenStorage: st}
			rs := NewRefreshStore(backing, c)
			ctx := context.Background()

			rec := record(uuid.New(), time.Hour)
			require.NoError(t, st.SaveRefreshToken(ctx, rec))

			backing.afterRead = func() {
				require.NoError(t, tt.revoke(ctx, rs, rec))
			}

			// Чтение началось до отзыва и видит действующую запись.
			got, err := rs.RefreshTokenByID(ctx, rec.TokenID)
			require.NoError(t, err)
			require.False(t, got.Revoked)
			require.False(t, mr.Exists("test:rt:"+rec.TokenID))

			got, err = rs.RefreshTokenByID(ctx, rec.TokenID)
			require.NoError(t, err)
			require.True(t, got.Revoked)

			// Теперь запись в кэше и тоже отозвана.
			cached, ok, err := c.Get(ctx, rec.TokenID)
			require.NoError(t, err)
			require.True(t, ok)
			require.True(t, cached.Revoked)
		})
	}
}

func TestRefreshStore_RedisDown_FallsBackToStorage(t *testing.T) {
	t.Parallel()

	c, mr := newTestCache(t)
	rs := NewRefreshStore(memory.New(), c)
	ctx := context.Background()

	rec := record(uuid.New(), time.Hour)
	require.NoError(t, rs.SaveRefreshToken(ctx, rec))

	mr.Close()

	got, err := rs.RefreshTokenByID(ctx, rec.TokenID)
	require.NoError(t, err)
	require.Equal(t, rec.TokenID, got.TokenID)

	ok, err := rs.RevokeRefreshToken(ctx, rec.TokenID)
	require.NoError(t, err)
	require.True(t, ok)
}
