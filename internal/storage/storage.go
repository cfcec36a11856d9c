//go:generate mockgen -source=storage.go -destination=../../mocks/mock_storage.go -package=mocks

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/edu-auth/internal/models"
)

var (
	// ErrNotFound - запись не найдена (пользователь/токен) или не действует.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists - нарушение уникальности (email/token_id).
	ErrAlreadyExists = errors.New("already exists")
)

// UserStorage выполняет операции над пользователями.
type UserStorage interface {
	// SaveUser создаёт нового пользователя.
	SaveUser(ctx context.Context, user *models.User) error
	// UserByEmail находит пользователя по email.
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	// UserByID находит пользователя по ID.
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// RefreshTokenStorage - журнал refresh-записей.
// Каждая мутация атомарна относительно конкурентных запросов к тому же token_id.
type RefreshTokenStorage interface {
	// SaveRefreshToken сохраняет новую запись; дубликат token_id - ErrAlreadyExists.
	SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error
	// RefreshTokenByID возвращает запись в любом состоянии (в т.ч. отозванную).
	RefreshTokenByID(ctx context.Context, tokenID string) (*models.RefreshToken, error)
	// RevokeRefreshToken отзывает запись; false - записи нет или она уже отозвана.
	RevokeRefreshToken(ctx context.Context, tokenID string) (bool, error)
	// RotateRefreshToken отзывает oldID, только если он принадлежит ownerID и
	// действует в момент now, и сохраняет next одной атомарной операцией.
	// Проигравшая гонку ротация получает ErrNotFound.
	RotateRefreshToken(ctx context.Context, oldID string, ownerID uuid.UUID, now time.Time, next *models.RefreshToken) error
	// RevokeAllForOwner отзывает все действующие записи владельца.
	RevokeAllForOwner(ctx context.Context, ownerID uuid.UUID) (int64, error)
	// DeleteStaleTokens удаляет истёкшие к now или отозванные записи.
	DeleteStaleTokens(ctx context.Context, now time.Time) (int64, error)
}

// Storage задаёт контракт работы с хранилищем.
type Storage interface {
	UserStorage
	RefreshTokenStorage
	Close()
}
