package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/edu-auth/internal/audience"
	"github.com/pribylovaa/edu-auth/internal/models"
	"github.com/pribylovaa/edu-auth/internal/storage"
)

// RefreshInfo - сведения о действующем refresh-токене без его ротации.
type RefreshInfo struct {
	SubjectID uuid.UUID
	Email     string
	Role      string
	ExpiresAt time.Time
}

// ValidateAccess проверяет access-токен и существование субъекта.
// cookieNS != None означает, что токен пришёл из cookie этого пространства:
// audience в claims обязан с ним совпасть.
func (s *Service) ValidateAccess(ctx context.Context, token string, cookieNS audience.Audience) (*models.Identity, error) {
	const op = "service.validate.ValidateAccess"

	if token == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrAuthentication)
	}

	claims, err := s.codec.VerifyAccess(token)
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", op, err, ErrAuthentication)
	}

	if cookieNS != audience.None && claims.Audience != cookieNS {
		return nil, fmt.Errorf("%s: %w", op, ErrAuthorization)
	}

	if _, err := s.users.UserByID(ctx, claims.SubjectID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return identityFromClaims(claims), nil
}

// ValidateRefresh проверяет подпись refresh-токена, наличие действующей
// записи в журнале и существование субъекта. Журнал не изменяется.
func (s *Service) ValidateRefresh(ctx context.Context, token string) (*RefreshInfo, error) {
	const op = "service.validate.ValidateRefresh"

	if token == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrAuthentication)
	}

	claims, err := s.codec.VerifyRefresh(token)
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", op, err, ErrAuthentication)
	}

	rec, err := s.ledger.FindValid(ctx, claims.TokenID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrAuthentication)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if rec.OwnerID != claims.SubjectID {
		return nil, fmt.Errorf("%s: %w", op, ErrAuthentication)
	}

	user, err := s.users.UserByID(ctx, claims.SubjectID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &RefreshInfo{
		SubjectID: user.ID,
		Email:     user.Email,
		Role:      user.Role,
		ExpiresAt: rec.ExpiresAt,
	}, nil
}
