package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"

	"github.com/pribylovaa/edu-auth/internal/models"
	"github.com/pribylovaa/edu-auth/internal/pkg/log"
	"github.com/pribylovaa/edu-auth/internal/pkg/redact"
	"github.com/pribylovaa/edu-auth/internal/storage"
)

// rotatedByField хранит token_id преемника, пока ротация записи не завершена.
const rotatedByField = "rotated_by"

type refreshDoc struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	CreatedAt time.Time `bson:"created_at"`
	ExpiresAt time.Time `bson:"expires_at"`
	Revoked   bool      `bson:"revoked"`
}

func toRefreshDoc(t *models.RefreshToken) refreshDoc {
	return refreshDoc{
		ID:        t.TokenID,
		UserID:    t.OwnerID.String(),
		CreatedAt: t.CreatedAt,
		ExpiresAt: t.ExpiresAt,
		Revoked:   t.Revoked,
	}
}

func (d refreshDoc) toModel() (*models.RefreshToken, error) {
	owner, err := uuid.Parse(d.UserID)
	if err != nil {
		return nil, err
	}

	return &models.RefreshToken{
		TokenID:   d.ID,
		OwnerID:   owner,
		CreatedAt: d.CreatedAt.UTC(),
		ExpiresAt: d.ExpiresAt.UTC(),
		Revoked:   d.Revoked,
	}, nil
}

func (m *Mongo) insertRefresh(ctx context.Context, t *models.RefreshToken) error {
	if _, err := m.refresh.InsertOne(ctx, toRefreshDoc(t)); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return storage.ErrAlreadyExists
		}

		return err
	}

	return nil
}

// SaveRefreshToken сохраняет новую refresh-запись.
func (m *Mongo) SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	const op = "storage.mongo.SaveRefreshToken"

	if err := m.insertRefresh(ctx, token); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// RefreshTokenByID находит refresh-запись по token_id.
func (m *Mongo) RefreshTokenByID(ctx context.Context, tokenID string) (*models.RefreshToken, error) {
	const op = "storage.mongo.RefreshTokenByID"

	var doc refreshDoc
	if err := m.refresh.FindOne(ctx, bson.M{"_id": tokenID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	t, err := doc.toModel()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return t, nil
}

// revocable - записи, которые отзыв ещё должен изменить: действующие и те,
// чья ротация не завершена (см. rotatedByField).
func revocable(filter bson.M) bson.M {
	filter["$or"] = bson.A{
		bson.M{"revoked": false},
		bson.M{rotatedByField: bson.M{"$exists": true}},
	}
	return filter
}

// revokeUpdate отзывает запись и снимает метку незавершённой ротации, после
// чего откат ротации её уже не найдёт.
var revokeUpdate = bson.M{
	"$set":   bson.M{"revoked": true},
	"$unset": bson.M{rotatedByField: ""},
}

// RevokeRefreshToken отзывает запись, если она ещё не отозвана.
func (m *Mongo) RevokeRefreshToken(ctx context.Context, tokenID string) (bool, error) {
	const op = "storage.mongo.RevokeRefreshToken"

	res, err := m.refresh.UpdateOne(ctx, revocable(bson.M{"_id": tokenID}), revokeUpdate)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return res.ModifiedCount == 1, nil
}

// RotateRefreshToken условным FindOneAndUpdate отзывает действующую запись oldID,
// после чего вставляет next. Гонку выигрывает только один вызов: остальные не
// находят документ с revoked=false. Пока вставка не завершена, oldID несёт
// метку rotated_by=next; если вставка не удалась, отзыв откатывается только при
// сохранившейся метке.
func (m *Mongo) RotateRefreshToken(ctx context.Context, oldID string, ownerID uuid.UUID, now time.Time, next *models.RefreshToken) error {
	const op = "storage.mongo.RotateRefreshToken"

	filter := bson.M{
		"_id":        oldID,
		"user_id":    ownerID.String(),
		"revoked":    false,
		"expires_at": bson.M{"$gt": now},
	}
	update := bson.M{"$set": bson.M{"revoked": true, rotatedByField: next.TokenID}}

	err := m.refresh.FindOneAndUpdate(ctx, filter, update).Err()
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if err := m.insertRefresh(ctx, next); err != nil {
		m.undoRotation(context.WithoutCancel(ctx), oldID, next.TokenID)
		return fmt.Errorf("%s: %w", op, err)
	}

	m.finishRotation(context.WithoutCancel(ctx), oldID, next.TokenID)
	return nil
}

// undoRotation возвращает oldID в действующие, если его не отозвали после ротации.
func (m *Mongo) undoRotation(ctx context.Context, oldID, nextID string) {
	const op = "storage.mongo.undoRotation"

	res, err := m.refresh.UpdateOne(ctx,
		bson.M{"_id": oldID, rotatedByField: nextID},
		bson.M{"$set": bson.M{"revoked": false}, "$unset": bson.M{rotatedByField: ""}},
	)
	switch {
	case err != nil:
		log.From(ctx).Error("refresh_rotation_undo_failed",
			slog.String("op", op),
			slog.String("token_id", redact.TokenID(oldID)),
			slog.String("err", err.Error()),
		)
	case res.ModifiedCount == 0:
		log.From(ctx).Info("refresh_rotation_undo_skipped",
			slog.String("op", op),
			slog.String("token_id", redact.TokenID(oldID)),
		)
	}
}

// finishRotation снимает метку с отозванной oldID. Неудача не опасна: запись
// уже отозвана, метка лишь разрешает повторный отзыв.
func (m *Mongo) finishRotation(ctx context.Context, oldID, nextID string) {
	const op = "storage.mongo.finishRotation"

	_, err := m.refresh.UpdateOne(ctx,
		bson.M{"_id": oldID, rotatedByField: nextID},
		bson.M{"$unset": bson.M{rotatedByField: ""}},
	)
	if err != nil {
		log.From(ctx).Warn("refresh_rotation_finish_failed",
			slog.String("op", op),
			slog.String("token_id", redact.TokenID(oldID)),
			slog.String("err", err.Error()),
		)
	}
}

// RevokeAllForOwner отзывает все действующие записи владельца.
func (m *Mongo) RevokeAllForOwner(ctx context.Context, ownerID uuid.UUID) (int64, error) {
	const op = "storage.mongo.RevokeAllForOwner"

	res, err := m.refresh.UpdateMany(ctx, revocable(bson.M{"user_id": ownerID.String()}), revokeUpdate)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return res.ModifiedCount, nil
}

// DeleteStaleTokens удаляет отозванные и истёкшие записи. TTL-индекс делает
// то же самое в фоне, но с задержкой до минуты.
func (m *Mongo) DeleteStaleTokens(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.mongo.DeleteStaleTokens"

	res, err := m.refresh.DeleteMany(ctx, bson.M{"$or": bson.A{
		bson.M{"revoked": true},
		bson.M{"expires_at": bson.M{"$lte": now}},
	}})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return res.DeletedCount, nil
}
