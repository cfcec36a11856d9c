package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/pribylovaa/edu-auth/internal/audience"
	"github.com/pribylovaa/edu-auth/internal/metrics"
	"github.com/pribylovaa/edu-auth/internal/models"
	"github.com/pribylovaa/edu-auth/internal/pkg/log"
	"github.com/pribylovaa/edu-auth/internal/pkg/redact"
	"github.com/pribylovaa/edu-auth/internal/storage"
)

// CreateUser заводит пользователя с ролью role. Используется для начального
// администратора и в тестах; публичной регистрации нет.
func (s *Service) CreateUser(ctx context.Context, email, password, role string) (*models.User, error) {
	const op = "service.auth.CreateUser"

	normEmail, err := validateEmail(email)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := validatePassword(password); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if role != models.RoleAdmin && role != models.RoleStudent {
		return nil, fmt.Errorf("%s: unknown role %q: %w", op, role, ErrInvalidArgument)
	}

	hash, err := hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:           uuid.New(),
		Email:        normEmail,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.SaveUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("%s: %w", op, ErrEmailTaken)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// Login выполняет вход по email+пароль в пространство aud и заводит
// новую refresh-запись (одна на устройство/сессию).
func (s *Service) Login(ctx context.Context, email, password string, aud audience.Audience) (*Session, error) {
	const op = "service.auth.Login"

	lg := log.From(ctx)

	if aud != audience.Admin && aud != audience.Frontend {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	normEmail, err := validateEmail(email)
	if err != nil || password == "" {
		s.metrics.Login(metrics.LoginBadCreds)
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	user, err := s.users.UserByEmail(ctx, normEmail)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.metrics.Login(metrics.LoginBadCreds)
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}

		s.metrics.Login(metrics.LoginError)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !checkPassword(user.PasswordHash, password) {
		lg.Info("login_bad_password",
			slog.String("op", op),
			slog.String("email", redact.Email(normEmail)),
		)
		s.metrics.Login(metrics.LoginBadCreds)
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if !s.resolver.Allowed(user.Role, aud) {
		lg.Warn("login_audience_forbidden",
			slog.String("op", op),
			slog.String("user_id", user.ID.String()),
			slog.String("audience", aud.String()),
		)
		s.metrics.Login(metrics.LoginForbidden)
		return nil, fmt.Errorf("%s: %w", op, ErrAuthorization)
	}

	rec, err := s.ledger.Create(ctx, user.ID)
	if err != nil {
		s.metrics.Login(metrics.LoginError)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	sess, err := s.issueSession(user, aud, rec)
	if err != nil {
		// Выпуск не удался - запись не должна остаться действующей.
		s.discardRecord(ctx, op, rec.TokenID)
		s.metrics.Login(metrics.LoginError)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	lg.Info("login_succeeded",
		slog.String("op", op),
		slog.String("user_id", user.ID.String()),
		slog.String("audience", aud.String()),
	)
	s.metrics.Login(metrics.LoginSuccess)

	return sess, nil
}

// Logout отзывает запись, на которую ссылается refresh-токен. Идемпотентна:
// некорректный, истёкший или уже отозванный токен - не ошибка.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	const op = "service.auth.Logout"

	if refreshToken == "" {
		return nil
	}

	claims, err := s.codec.VerifyRefresh(refreshToken)
	if err != nil {
		log.From(ctx).Debug("logout_refresh_invalid",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return nil
	}

	if err := s.ledger.Revoke(ctx, claims.TokenID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("logout_revoked",
		slog.String("op", op),
		slog.String("user_id", claims.SubjectID.String()),
		slog.String("token_id", redact.TokenID(claims.TokenID)),
	)

	return nil
}

// LogoutAll отзывает все сессии вызывающего субъекта.
func (s *Service) LogoutAll(ctx context.Context, subjectID uuid.UUID) (int64, error) {
	const op = "service.auth.LogoutAll"

	n, err := s.ledger.RevokeAllForOwner(ctx, subjectID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("logout_all",
		slog.String("op", op),
		slog.String("user_id", subjectID.String()),
		slog.Int64("revoked", n),
	)

	return n, nil
}

// RevokeAllForSubject - административный отзыв всех сессий субъекта.
// Неизвестный субъект - ErrNotFound.
func (s *Service) RevokeAllForSubject(ctx context.Context, subjectID uuid.UUID) (int64, error) {
	const op = "service.auth.RevokeAllForSubject"

	if _, err := s.users.UserByID(ctx, subjectID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, fmt.Errorf("%s: %w", op, ErrNotFound)
		}

		return 0, fmt.Errorf("%s: %w", op, err)
	}

	n, err := s.ledger.RevokeAllForOwner(ctx, subjectID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Warn("sessions_revoked_by_admin",
		slog.String("op", op),
		slog.String("user_id", subjectID.String()),
		slog.Int64("revoked", n),
	)

	return n, nil
}

// hashPassword хэширует пароль с помощью bcrypt.
func hashPassword(password string) (string, error) {
	const op = "service.auth.hashPassword"

	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return string(bytes), nil
}

// checkPassword сравнивает пароль с хэшем.
func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// validateEmail проверяет базовый формат email и обрезает пробелы снаружи.
func validateEmail(raw string) (string, error) {
	const op = "service.auth.validateEmail"

	email := strings.TrimSpace(raw)
	if email == "" {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	if _, err := mail.ParseAddress(email); err != nil {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	return strings.ToLower(email), nil
}

// validatePassword проверяет минимальные требования к паролю:
// длина >= 8, хотя бы одна строчная, заглавная, цифра и спецсимвол.
func validatePassword(pw string) error {
	const op = "service.auth.validatePassword"

	if len([]rune(pw)) < 8 {
		return fmt.Errorf("%s: weak password: %w", op, ErrInvalidArgument)
	}

	var hasLower, hasUpper, hasDigit, hasSpecial bool
	for _, r := range pw {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}

	if !(hasLower && hasUpper && hasDigit && hasSpecial) {
		return fmt.Errorf("%s: weak password: %w", op, ErrInvalidArgument)
	}

	return nil
}
