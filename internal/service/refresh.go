package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pribylovaa/edu-auth/internal/audience"
	"github.com/pribylovaa/edu-auth/internal/metrics"
	"github.com/pribylovaa/edu-auth/internal/models"
	"github.com/pribylovaa/edu-auth/internal/pkg/log"
	"github.com/pribylovaa/edu-auth/internal/pkg/redact"
	"github.com/pribylovaa/edu-auth/internal/storage"
	"github.com/pribylovaa/edu-auth/internal/tokens"
)

// Credentials - всё, что middleware извлекло из запроса.
//
// Описание:
//   - Bearer - значение заголовка Authorization без префикса, имеет приоритет над cookie;
//   - Selection - токены выбранного пространства cookie (см. audience.Resolver.SelectTokens);
//   - Path - путь запроса, по нему определяется audience маршрута.
type Credentials struct {
	Bearer    string
	Selection audience.Selection
	Path      string
}

// Outcome - результат Authenticate. Identity == nil означает анонимный запрос.
// Rotated != nil, если по пути была выполнена ротация и нужно выставить cookie.
type Outcome struct {
	Identity *models.Identity
	Rotated  *Session
}

// Authenticate проверяет access-токен, а при его отсутствии или невалидности
// пытается ротировать refresh-токен из cookie. Ошибок не возвращает: любой
// сбой даёт анонимный Outcome без побочных эффектов.
func (s *Service) Authenticate(ctx context.Context, cr Credentials) Outcome {
	const op = "service.refresh.Authenticate"

	lg := log.From(ctx)

	access, fromCookie := cr.Bearer, false
	if access == "" {
		access, fromCookie = cr.Selection.AccessToken, true
	}

	if access != "" {
		claims, err := s.codec.VerifyAccess(access)
		switch {
		case err != nil:
			lg.Debug("access_token_rejected",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
		case fromCookie && claims.Audience != cr.Selection.Audience:
			lg.Warn("access_token_audience_mismatch",
				slog.String("op", op),
				slog.String("claim", claims.Audience.String()),
				slog.String("cookie", cr.Selection.Audience.String()),
			)
		default:
			return Outcome{Identity: identityFromClaims(claims)}
		}
	}

	refresh := cr.Selection.RefreshToken
	if refresh == "" {
		if access != "" {
			s.metrics.Refresh(metrics.RefreshNoToken)
		}
		return Outcome{}
	}

	sess, outcome, err := s.rotate(ctx, refresh, cr.Selection.Audience, cr.Path)
	s.metrics.Refresh(outcome)
	if err != nil {
		lg.Info("refresh_skipped",
			slog.String("op", op),
			slog.String("outcome", outcome),
			slog.String("err", err.Error()),
		)
		return Outcome{}
	}

	id := sess.Identity
	return Outcome{Identity: &id, Rotated: sess}
}

// Refresh - явная ротация по refresh-токену из пространства cookieNS.
// В отличие от Authenticate, возвращает типизированную ошибку.
func (s *Service) Refresh(ctx context.Context, refreshToken string, cookieNS audience.Audience, path string) (*Session, error) {
	const op = "service.refresh.Refresh"

	if refreshToken == "" {
		s.metrics.Refresh(metrics.RefreshNoToken)
		return nil, fmt.Errorf("%s: %w", op, ErrAuthentication)
	}

	sess, outcome, err := s.rotate(ctx, refreshToken, cookieNS, path)
	s.metrics.Refresh(outcome)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return sess, nil
}

// rotate выполняет шаги проверки refresh-токена и ротацию. Второе значение -
// исход для метрик.
func (s *Service) rotate(ctx context.Context, refreshToken string, cookieNS audience.Audience, path string) (*Session, string, error) {
	const op = "service.refresh.rotate"

	lg := log.From(ctx)

	claims, err := s.codec.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, metrics.RefreshInvalid, fmt.Errorf("%s: %v: %w", op, err, ErrAuthentication)
	}

	rec, err := s.ledger.FindValid(ctx, claims.TokenID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			lg.Warn("refresh_lookup_not_found",
				slog.String("op", op),
				slog.String("user_id", claims.SubjectID.String()),
				slog.String("token_id", redact.TokenID(claims.TokenID)),
			)
			return nil, metrics.RefreshReplayed, fmt.Errorf("%s: %w", op, ErrAuthentication)
		}

		return nil, metrics.RefreshError, fmt.Errorf("%s: %w", op, err)
	}

	if rec.OwnerID != claims.SubjectID {
		lg.Warn("refresh_owner_mismatch",
			slog.String("op", op),
			slog.String("token_id", redact.TokenID(claims.TokenID)),
		)
		return nil, metrics.RefreshInvalid, fmt.Errorf("%s: %w", op, ErrAuthentication)
	}

	user, err := s.users.UserByID(ctx, claims.SubjectID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, metrics.RefreshSubjectGone, fmt.Errorf("%s: %w", op, ErrNotFound)
		}

		return nil, metrics.RefreshError, fmt.Errorf("%s: %w", op, err)
	}

	aud, err := s.resolver.Bind(user.Role, path, cookieNS)
	if err != nil {
		lg.Warn("refresh_audience_denied",
			slog.String("op", op),
			slog.String("user_id", user.ID.String()),
			slog.String("cookie", cookieNS.String()),
			slog.String("path", path),
		)
		return nil, metrics.RefreshAudienceDenied, fmt.Errorf("%s: %v: %w", op, err, ErrAuthorization)
	}

	next, err := s.ledger.Rotate(ctx, rec.TokenID, user.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, metrics.RefreshRaceLost, fmt.Errorf("%s: %w", op, ErrAuthentication)
		}

		return nil, metrics.RefreshError, fmt.Errorf("%s: %w", op, err)
	}

	sess, err := s.issueSession(user, aud, next)
	if err != nil {
		s.discardRecord(ctx, op, next.TokenID)
		return nil, metrics.RefreshError, fmt.Errorf("%s: %w", op, err)
	}

	lg.Info("refresh_rotated",
		slog.String("op", op),
		slog.String("user_id", user.ID.String()),
		slog.String("audience", aud.String()),
		slog.String("old_token_id", redact.TokenID(rec.TokenID)),
		slog.String("new_token_id", redact.TokenID(next.TokenID)),
	)

	return sess, metrics.RefreshRotated, nil
}

// issueSession выпускает пару токенов для записи журнала rec.
func (s *Service) issueSession(user *models.User, aud audience.Audience, rec *models.RefreshToken) (*Session, error) {
	const op = "service.refresh.issueSession"

	access, accessExp, err := s.codec.IssueAccess(tokens.AccessClaims{
		SubjectID: user.ID,
		Email:     user.Email,
		Role:      user.Role,
		Audience:  aud,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	refresh, refreshExp, err := s.codec.IssueRefresh(user.ID, rec.TokenID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Session{
		Identity: models.Identity{
			SubjectID: user.ID,
			Email:     user.Email,
			Role:      user.Role,
			Audience:  aud,
		},
		Tokens: models.TokenPair{
			AccessToken:      access,
			RefreshToken:     refresh,
			AccessExpiresAt:  accessExp,
			RefreshExpiresAt: refreshExp,
		},
	}, nil
}

// discardRecord отзывает запись, для которой не удалось выпустить токены.
func (s *Service) discardRecord(ctx context.Context, op, tokenID string) {
	if err := s.ledger.Revoke(context.WithoutCancel(ctx), tokenID); err != nil {
		log.From(ctx).Error("refresh_record_discard_failed",
			slog.String("op", op),
			slog.String("token_id", redact.TokenID(tokenID)),
			slog.String("err", err.Error()),
		)
	}
}

func identityFromClaims(c tokens.AccessClaims) *models.Identity {
	return &models.Identity{
		SubjectID: c.SubjectID,
		Email:     c.Email,
		Role:      c.Role,
		Audience:  c.Audience,
	}
}
