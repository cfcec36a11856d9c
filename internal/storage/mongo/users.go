package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"

	"github.com/pribylovaa/edu-auth/internal/models"
	"github.com/pribylovaa/edu-auth/internal/storage"
)

type userDoc struct {
	ID           string    `bson:"_id"`
	Email        string    `bson:"email"`
	EmailLower   string    `bson:"email_lower"`
	PasswordHash string    `bson:"password_hash"`
	Role         string    `bson:"role"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

func (d userDoc) toModel() (*models.User, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, err
	}

	return &models.User{
		ID:           id,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		Role:         d.Role,
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}, nil
}

// SaveUser создаёт пользователя.
func (m *Mongo) SaveUser(ctx context.Context, user *models.User) error {
	const op = "storage.mongo.SaveUser"

	_, err := m.users.InsertOne(ctx, userDoc{
		ID:           user.ID.String(),
		Email:        user.Email,
		EmailLower:   strings.ToLower(user.Email),
		PasswordHash: user.PasswordHash,
		Role:         user.Role,
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	})
	if err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// UserByEmail находит пользователя по email без учёта регистра.
func (m *Mongo) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.mongo.UserByEmail"

	u, err := m.findUser(ctx, bson.M{"email_lower": strings.ToLower(email)})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return u, nil
}

// UserByID находит пользователя по ID.
func (m *Mongo) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const op = "storage.mongo.UserByID"

	u, err := m.findUser(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return u, nil
}

func (m *Mongo) findUser(ctx context.Context, filter bson.M) (*models.User, error) {
	var doc userDoc
	if err := m.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, storage.ErrNotFound
		}

		return nil, err
	}

	return doc.toModel()
}
