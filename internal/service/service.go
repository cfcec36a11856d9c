// service содержит бизнес-логику аутентификации: логин/логаут, проверку
// токенов и оркестрацию ротации refresh-токенов для двух audience.
//
// Основные аспекты:
//   - Service не хранит состояние запроса; экземпляр безопасен для
//     конкурентного использования, если потокобезопасны хранилище и журнал.
//   - Authenticate никогда не возвращает ошибку: любой сбой означает
//     «продолжить без аутентификации» без изменения cookie и журнала.
//   - Явные операции (Login, Refresh, Validate*) возвращают ошибки ниже,
//     транспорт маппит их на HTTP-коды.
package service

import (
	"errors"

	"github.com/pribylovaa/edu-auth/internal/audience"
	"github.com/pribylovaa/edu-auth/internal/ledger"
	"github.com/pribylovaa/edu-auth/internal/metrics"
	"github.com/pribylovaa/edu-auth/internal/models"
	"github.com/pribylovaa/edu-auth/internal/storage"
	"github.com/pribylovaa/edu-auth/internal/tokens"
)

var (
	// ErrAuthentication - токен отсутствует, некорректен, истёк или отозван.
	// Транспорт: HTTP 401.
	ErrAuthentication = errors.New("authentication failed")

	// ErrAuthorization - роль или audience не допускаются для маршрута.
	// Транспорт: HTTP 403.
	ErrAuthorization = errors.New("forbidden")

	// ErrNotFound - субъект токена больше не существует. Транспорт: HTTP 404.
	ErrNotFound = errors.New("subject not found")

	// ErrInvalidCredentials - пара логин/пароль неверна или пользователь не найден.
	// Транспорт: HTTP 401.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidArgument - некорректный ввод (audience, email, пароль). Транспорт: HTTP 400.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrEmailTaken - e-mail уже занят. Транспорт: HTTP 409.
	ErrEmailTaken = errors.New("email already taken")
)

// Session - результат логина или ротации: кто аутентифицирован и какие
// cookie нужно выставить.
type Session struct {
	Identity models.Identity
	Tokens   models.TokenPair
}

// Service описывает бизнес-логику аутентификации.
type Service struct {
	users    storage.UserStorage
	ledger   *ledger.Ledger
	codec    *tokens.Codec
	resolver *audience.Resolver
	metrics  *metrics.Metrics
}

// New создаёт новый экземпляр Service; m может быть nil.
func New(users storage.UserStorage, l *ledger.Ledger, codec *tokens.Codec, r *audience.Resolver, m *metrics.Metrics) *Service {
	return &Service{
		users:    users,
		ledger:   l,
		codec:    codec,
		resolver: r,
		metrics:  m,
	}
}

// Resolver возвращает резолвер audience, с которым создан сервис.
func (s *Service) Resolver() *audience.Resolver {
	return s.resolver
}
