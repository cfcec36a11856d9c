// ledger - журнал refresh-записей поверх storage.RefreshTokenStorage.
//
// Ledger добавляет к хранилищу политику: срок жизни записи, генерацию
// token_id и понятие «действующей» записи. Все операции идемпотентны на
// повторных одинаковых вызовах; ротация атомарна на стороне хранилища.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/edu-auth/internal/models"
	"github.com/pribylovaa/edu-auth/internal/storage"
	"github.com/pribylovaa/edu-auth/internal/tokens"
)

// ErrIDCollision - исчерпаны попытки сгенерировать уникальный token_id.
var ErrIDCollision = errors.New("refresh token id collision")

const maxCreateAttempts = 5

// Ledger - журнал refresh-записей. Безопасен для конкурентного использования,
// если безопасно вложенное хранилище.
type Ledger struct {
	store storage.RefreshTokenStorage
	ttl   time.Duration
	now   func() time.Time
	newID func() string
}

// New создаёт журнал с временем жизни записи ttl.
func New(store storage.RefreshTokenStorage, ttl time.Duration) *Ledger {
	return &Ledger{
		store: store,
		ttl:   ttl,
		now:   func() time.Time { return time.Now().UTC() },
		newID: tokens.NewTokenID,
	}
}

// WithClock подменяет источник времени.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	cp := *l
	cp.now = now
	return &cp
}

func (l *Ledger) record(ownerID uuid.UUID) *models.RefreshToken {
	now := l.now()
	return &models.RefreshToken{
		TokenID:   l.newID(),
		OwnerID:   ownerID,
		CreatedAt: now,
		ExpiresAt: now.Add(l.ttl),
	}
}

// Create заводит новую действующую запись для владельца.
func (l *Ledger) Create(ctx context.Context, ownerID uuid.UUID) (*models.RefreshToken, error) {
	const op = "ledger.Create"

	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		rec := l.record(ownerID)

		err := l.store.SaveRefreshToken(ctx, rec)
		if err == nil {
			return rec, nil
		}
		if errors.Is(err, storage.ErrAlreadyExists) {
			// Редкая коллизия - пробуем сгенерировать заново.
			continue
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return nil, fmt.Errorf("%s: %w", op, ErrIDCollision)
}

// FindValid возвращает запись, только если она не отозвана и не истекла.
// Иначе - storage.ErrNotFound.
func (l *Ledger) FindValid(ctx context.Context, tokenID string) (*models.RefreshToken, error) {
	const op = "ledger.FindValid"

	rec, err := l.store.RefreshTokenByID(ctx, tokenID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !rec.IsValid(l.now()) {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return rec, nil
}

// Revoke отзывает запись; неизвестная или уже отозванная запись - не ошибка.
func (l *Ledger) Revoke(ctx context.Context, tokenID string) error {
	const op = "ledger.Revoke"

	if _, err := l.store.RevokeRefreshToken(ctx, tokenID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// RevokeAllForOwner отзывает все записи владельца и возвращает их число.
func (l *Ledger) RevokeAllForOwner(ctx context.Context, ownerID uuid.UUID) (int64, error) {
	const op = "ledger.RevokeAllForOwner"

	n, err := l.store.RevokeAllForOwner(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

// GarbageCollect удаляет истёкшие и отозванные записи; действующие не трогает.
func (l *Ledger) GarbageCollect(ctx context.Context) (int64, error) {
	const op = "ledger.GarbageCollect"

	n, err := l.store.DeleteStaleTokens(ctx, l.now())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

// Rotate отзывает действующую запись oldID владельца и заводит новую одной
// атомарной операцией хранилища. Из двух гоняющихся ротаций одного токена
// успешна ровно одна, вторая получает storage.ErrNotFound.
func (l *Ledger) Rotate(ctx context.Context, oldID string, ownerID uuid.UUID) (*models.RefreshToken, error) {
	const op = "ledger.Rotate"

	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		next := l.record(ownerID)

		err := l.store.RotateRefreshToken(ctx, oldID, ownerID, next.CreatedAt, next)
		if err == nil {
			return next, nil
		}
		if errors.Is(err, storage.ErrAlreadyExists) {
			continue
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return nil, fmt.Errorf("%s: %w", op, ErrIDCollision)
}
