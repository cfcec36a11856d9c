// mongo - альтернативное хранилище пользователей и журнала refresh-записей в MongoDB.
package mongo

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/pribylovaa/edu-auth/internal/storage"
)

const (
	usersCollection   = "users"
	refreshCollection = "refresh_tokens"
	defaultDBName     = "auth"
)

// Mongo - тонкий адаптер над клиентом и коллекциями MongoDB.
type Mongo struct {
	client  *mongodriver.Client
	db      *mongodriver.Database
	users   *mongodriver.Collection
	refresh *mongodriver.Collection
}

var _ storage.Storage = (*Mongo)(nil)

// New подключается к MongoDB, проверяет доступность и создаёт индексы.
func New(ctx context.Context, uri string) (*Mongo, error) {
	const op = "storage.mongo.New"

	if uri == "" {
		return nil, fmt.Errorf("%s: empty uri", op)
	}

	cli, err := mongodriver.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", op, err)
	}

	if err := cli.Ping(ctx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	db := cli.Database(databaseFromURI(uri))
	m := &Mongo{
		client:  cli,
		db:      db,
		users:   db.Collection(usersCollection),
		refresh: db.Collection(refreshCollection),
	}

	if err := m.ensureIndexes(ctx); err != nil {
		m.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return m, nil
}

// Close отключает клиента.
func (m *Mongo) Close() {
	_ = m.client.Disconnect(context.Background())
}

// ensureIndexes создаёт индексы:
// - users: уникальный email_lower;
// - refresh_tokens: TTL по expires_at (expireAfterSeconds=0) и user_id для отзыва всех сессий.
func (m *Mongo) ensureIndexes(ctx context.Context) error {
	_, err := m.users.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "email_lower", Value: 1}},
		Options: options.Index().SetName("email_lower_unique").SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("ensure users indexes: %w", err)
	}

	_, err = m.refresh.Indexes().CreateMany(ctx, []mongodriver.IndexModel{
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetName("ttl_expires_at").SetExpireAfterSeconds(0),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "revoked", Value: 1}},
			Options: options.Index().SetName("user_revoked"),
		},
	})
	if err != nil {
		return fmt.Errorf("ensure refresh indexes: %w", err)
	}

	return nil
}

// databaseFromURI извлекает имя базы из пути mongodb-URI или возвращает значение по умолчанию.
func databaseFromURI(uri string) string {
	u, err := url.Parse(uri)
	if err == nil {
		if name := strings.Trim(u.Path, "/"); name != "" {
			return name
		}
	}
	return defaultDBName
}
