package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pribylovaa/edu-auth/internal/models"
	"github.com/pribylovaa/edu-auth/internal/storage"
)

// dbtx - общее подмножество pgxpool.Pool и pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertRefreshToken(ctx context.Context, db dbtx, token *models.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens(token_id, user_id, created_at, expires_at, revoked)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := db.Exec(ctx, query,
		token.TokenID,
		token.OwnerID,
		token.CreatedAt,
		token.ExpiresAt,
		token.Revoked,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return storage.ErrAlreadyExists
		}

		return err
	}

	return nil
}

// SaveRefreshToken сохраняет новую refresh-запись.
func (s *Storage) SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	const op = "storage.postgres.SaveRefreshToken"

	if err := insertRefreshToken(ctx, s.db, token); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// RefreshTokenByID находит refresh-запись по token_id.
func (s *Storage) RefreshTokenByID(ctx context.Context, tokenID string) (*models.RefreshToken, error) {
	const op = "storage.postgres.RefreshTokenByID"

	query := `
		SELECT token_id, user_id, created_at, expires_at, revoked
		FROM refresh_tokens
		WHERE token_id = $1
	`

	var token models.RefreshToken
	err := s.db.QueryRow(ctx, query, tokenID).Scan(
		&token.TokenID,
		&token.OwnerID,
		&token.CreatedAt,
		&token.ExpiresAt,
		&token.Revoked,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	token.CreatedAt = token.CreatedAt.UTC()
	token.ExpiresAt = token.ExpiresAt.UTC()

	return &token, nil
}

// RevokeRefreshToken отзывает запись, если она ещё не отозвана.
// Возвращает:
//
//	(true, nil)  - запись была активна и отозвана сейчас;
//	(false, nil) - записи нет или она уже отозвана.
func (s *Storage) RevokeRefreshToken(ctx context.Context, tokenID string) (bool, error) {
	const op = "storage.postgres.RevokeRefreshToken"

	query := `
		UPDATE refresh_tokens
		SET revoked = TRUE
		WHERE token_id = $1 AND revoked = FALSE
	`

	tag, err := s.db.Exec(ctx, query, tokenID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected() == 1, nil
}

// RotateRefreshToken в одной транзакции отзывает действующую запись oldID и
// вставляет next. Условный UPDATE берёт блокировку строки, поэтому из двух
// конкурентных ротаций строку обновит только первая, вторая увидит revoked=TRUE.
func (s *Storage) RotateRefreshToken(ctx context.Context, oldID string, ownerID uuid.UUID, now time.Time, next *models.RefreshToken) (err error) {
	const op = "storage.postgres.RotateRefreshToken"

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	upd := `
		UPDATE refresh_tokens
		SET revoked = TRUE
		WHERE token_id = $1 AND user_id = $2 AND revoked = FALSE AND expires_at > $3
		RETURNING token_id
	`

	var revokedID string
	if err = tx.QueryRow(ctx, upd, oldID, ownerID, now).Scan(&revokedID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if err = insertRefreshToken(ctx, tx, next); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// RevokeAllForOwner отзывает все действующие записи владельца.
func (s *Storage) RevokeAllForOwner(ctx context.Context, ownerID uuid.UUID) (int64, error) {
	const op = "storage.postgres.RevokeAllForOwner"

	query := `
		UPDATE refresh_tokens
		SET revoked = TRUE
		WHERE user_id = $1 AND revoked = FALSE
	`

	tag, err := s.db.Exec(ctx, query, ownerID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}

// DeleteStaleTokens удаляет отозванные и истёкшие записи.
func (s *Storage) DeleteStaleTokens(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.postgres.DeleteStaleTokens"

	query := `
		DELETE FROM refresh_tokens
		WHERE revoked = TRUE OR expires_at <= $1
	`

	tag, err := s.db.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}
