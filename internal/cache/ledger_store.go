package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/edu-auth/internal/models"
	"github.com/pribylovaa/edu-auth/internal/pkg/log"
	"github.com/pribylovaa/edu-auth/internal/pkg/redact"
	"github.com/pribylovaa/edu-auth/internal/storage"
)

// RefreshStore - storage.RefreshTokenStorage с read-through кэшем записей.
// Источник истины - вложенное хранилище: ротация и отзыв всегда идут в него,
// кэш после этого помечает записи отозванными и сдвигает эпоху отзывов.
// Заполнение кэша, начатое до отзыва, после него не записывается. Ошибки
// Redis логируются и не влияют на результат операции.
type RefreshStore struct {
	next  storage.RefreshTokenStorage
	cache RefreshCache
	now   func() time.Time
}

var _ storage.RefreshTokenStorage = (*RefreshStore)(nil)

// NewRefreshStore оборачивает next кэшем c.
func NewRefreshStore(next storage.RefreshTokenStorage, c RefreshCache) *RefreshStore {
	return &RefreshStore{
		next:  next,
		cache: c,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// epoch читает эпоху отзывов до обращения к хранилищу; ok=false - кэш недоступен
// и заполнять его не нужно.
func (s *RefreshStore) epoch(ctx context.Context) (int64, bool) {
	const op = "cache.RefreshStore.epoch"

	e, err := s.cache.Epoch(ctx)
	if err != nil {
		log.From(ctx).Warn("refresh_cache_epoch_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return 0, false
	}

	return e, true
}

func (s *RefreshStore) put(ctx context.Context, t *models.RefreshToken, epoch int64) {
	const op = "cache.RefreshStore.put"

	ttl := t.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return
	}

	stored, err := s.cache.Set(ctx, t, ttl, epoch)
	switch {
	case err != nil:
		log.From(ctx).Warn("refresh_cache_set_failed",
			slog.String("op", op),
			slog.String("token_id", redact.TokenID(t.TokenID)),
			slog.String("err", err.Error()),
		)
	case !stored:
		log.From(ctx).Debug("refresh_cache_fill_skipped",
			slog.String("op", op),
			slog.String("token_id", redact.TokenID(t.TokenID)),
		)
	}
}

func (s *RefreshStore) markRevoked(ctx context.Context, ids ...string) {
	const op = "cache.RefreshStore.markRevoked"

	if err := s.cache.MarkRevoked(ctx, ids...); err != nil {
		log.From(ctx).Warn("refresh_cache_mark_revoked_failed",
			slog.String("op", op),
			slog.Int("count", len(ids)),
			slog.String("err", err.Error()),
		)
	}
}

// SaveRefreshToken сохраняет запись и кладёт её в кэш.
func (s *RefreshStore) SaveRefreshToken(ctx context.Context, t *models.RefreshToken) error {
	epoch, cacheable := s.epoch(ctx)

	if err := s.next.SaveRefreshToken(ctx, t); err != nil {
		return err
	}

	if cacheable {
		s.put(ctx, t, epoch)
	}
	return nil
}

// RefreshTokenByID читает из кэша, при промахе - из хранилища.
func (s *RefreshStore) RefreshTokenByID(ctx context.Context, tokenID string) (*models.RefreshToken, error) {
	const op = "cache.RefreshStore.RefreshTokenByID"

	t, ok, err := s.cache.Get(ctx, tokenID)
	switch {
	case err != nil:
		log.From(ctx).Warn("refresh_cache_get_failed",
			slog.String("op", op),
			slog.String("token_id", redact.TokenID(tokenID)),
			slog.String("err", err.Error()),
		)
	case ok:
		return t, nil
	}

	epoch, cacheable := s.epoch(ctx)

	t, err = s.next.RefreshTokenByID(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	if cacheable {
		s.put(ctx, t, epoch)
	}
	return t, nil
}

// RevokeRefreshToken отзывает запись в хранилище и в кэше.
func (s *RefreshStore) RevokeRefreshToken(ctx context.Context, tokenID string) (bool, error) {
	ok, err := s.next.RevokeRefreshToken(ctx, tokenID)
	if err != nil {
		return false, err
	}

	s.markRevoked(ctx, tokenID)
	return ok, nil
}

// RotateRefreshToken ротирует запись в хранилище и помечает старую отозванной.
func (s *RefreshStore) RotateRefreshToken(ctx context.Context, oldID string, ownerID uuid.UUID, now time.Time, next *models.RefreshToken) error {
	if err := s.next.RotateRefreshToken(ctx, oldID, ownerID, now, next); err != nil {
		return err
	}

	// next в кэш не кладётся: собственный отзыв сдвинул эпоху, и запись
	// попадёт туда при первом чтении.
	s.markRevoked(ctx, oldID)
	return nil
}

// RevokeAllForOwner отзывает записи владельца и помечает известные кэшу ID.
func (s *RefreshStore) RevokeAllForOwner(ctx context.Context, ownerID uuid.UUID) (int64, error) {
	const op = "cache.RefreshStore.RevokeAllForOwner"

	n, err := s.next.RevokeAllForOwner(ctx, ownerID)
	if err != nil {
		return 0, err
	}

	ids, err := s.cache.OwnerTokenIDs(ctx, ownerID)
	if err != nil {
		log.From(ctx).Warn("refresh_cache_owner_lookup_failed",
			slog.String("op", op),
			slog.String("owner_id", ownerID.String()),
			slog.String("err", err.Error()),
		)
		// Эпоха всё равно сдвигается, чтобы идущие заполнения не записали старое состояние.
		s.markRevoked(ctx)
		return n, nil
	}

	s.markRevoked(ctx, ids...)
	return n, nil
}

// DeleteStaleTokens чистит хранилище; ключи кэша истекают по TTL сами.
func (s *RefreshStore) DeleteStaleTokens(ctx context.Context, now time.Time) (int64, error) {
	return s.next.DeleteStaleTokens(ctx, now)
}
