// memory - потокобезопасное in-memory хранилище пользователей и refresh-записей.
// Используется в тестах и при storage.driver=memory; все мутации выполняются
// под одним мьютексом и поэтому атомарны.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/edu-auth/internal/models"
	"github.com/pribylovaa/edu-auth/internal/storage"
)

// Storage - реализация storage.Storage в памяти процесса.
type Storage struct {
	mu      sync.RWMutex
	users   map[uuid.UUID]models.User
	byEmail map[string]uuid.UUID
	tokens  map[string]models.RefreshToken
}

var _ storage.Storage = (*Storage)(nil)

// New создаёт пустое хранилище.
func New() *Storage {
	return &Storage{
		users:   make(map[uuid.UUID]models.User),
		byEmail: make(map[string]uuid.UUID),
		tokens:  make(map[string]models.RefreshToken),
	}
}

// Close ничего не освобождает и нужен для соответствия storage.Storage.
func (s *Storage) Close() {}

// SaveUser создаёт пользователя; email сравнивается без учёта регистра.
func (s *Storage) SaveUser(_ context.Context, user *models.User) error {
	const op = "storage.memory.SaveUser"

	key := strings.ToLower(user.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; ok {
		return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
	}
	if _, ok := s.byEmail[key]; ok {
		return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
	}

	s.users[user.ID] = *user
	s.byEmail[key] = user.ID

	return nil
}

// UserByEmail находит пользователя по email.
func (s *Storage) UserByEmail(_ context.Context, email string) (*models.User, error) {
	const op = "storage.memory.UserByEmail"

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	u := s.users[id]
	return &u, nil
}

// UserByID находит пользователя по ID.
func (s *Storage) UserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	const op = "storage.memory.UserByID"

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return &u, nil
}

// SaveRefreshToken сохраняет новую refresh-запись.
func (s *Storage) SaveRefreshToken(_ context.Context, token *models.RefreshToken) error {
	const op = "storage.memory.SaveRefreshToken"

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[token.TokenID]; ok {
		return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
	}

	s.tokens[token.TokenID] = *token

	return nil
}

// RefreshTokenByID возвращает копию записи.
func (s *Storage) RefreshTokenByID(_ context.Context, tokenID string) (*models.RefreshToken, error) {
	const op = "storage.memory.RefreshTokenByID"

	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens[tokenID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return &t, nil
}

// RevokeRefreshToken помечает запись отозванной, если она ещё не отозвана.
func (s *Storage) RevokeRefreshToken(_ context.Context, tokenID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[tokenID]
	if !ok || t.Revoked {
		return false, nil
	}

	t.Revoked = true
	s.tokens[tokenID] = t

	return true, nil
}

// RotateRefreshToken отзывает действующую запись oldID и сохраняет next под одной блокировкой.
func (s *Storage) RotateRefreshToken(_ context.Context, oldID string, ownerID uuid.UUID, now time.Time, next *models.RefreshToken) error {
	const op = "storage.memory.RotateRefreshToken"

	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.tokens[oldID]
	if !ok || old.OwnerID != ownerID || !old.IsValid(now) {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	if _, ok := s.tokens[next.TokenID]; ok {
		return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
	}

	old.Revoked = true
	s.tokens[oldID] = old
	s.tokens[next.TokenID] = *next

	return nil
}

// RevokeAllForOwner отзывает все неотозванные записи владельца.
func (s *Storage) RevokeAllForOwner(_ context.Context, ownerID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, t := range s.tokens {
		if t.OwnerID != ownerID || t.Revoked {
			continue
		}

		t.Revoked = true
		s.tokens[id] = t
		n++
	}

	return n, nil
}

// DeleteStaleTokens удаляет отозванные и истёкшие записи.
func (s *Storage) DeleteStaleTokens(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, t := range s.tokens {
		if t.IsValid(now) {
			continue
		}

		delete(s.tokens, id)
		n++
	}

	return n, nil
}
