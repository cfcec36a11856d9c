// cache - Redis-кэш refresh-записей и декоратор журнала поверх него.
package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pribylovaa/edu-auth/internal/models"
)

// RefreshCache - минимальный контракт кэша refresh-записей.
//
// Заполнение кэша упорядочено с отзывами через эпоху: каждый отзыв сдвигает её
// после записи в хранилище, а Set с эпохой, прочитанной до чтения хранилища,
// ничего не пишет, если эпоха успела смениться.
type RefreshCache interface {
	// Get возвращает запись и признак её наличия в кэше.
	Get(ctx context.Context, tokenID string) (*models.RefreshToken, bool, error)
	// Epoch возвращает текущую эпоху отзывов.
	Epoch(ctx context.Context) (int64, error)
	// Set сохраняет запись с TTL (обычно ExpiresAt-now), если эпоха всё ещё равна
	// epoch. Признак revoked в кэше не снимается. false - запись не сохранена.
	Set(ctx context.Context, t *models.RefreshToken, ttl time.Duration, epoch int64) (bool, error)
	// MarkRevoked сдвигает эпоху и помечает закэшированные записи revoked=true,
	// сохраняя остаточный TTL.
	MarkRevoked(ctx context.Context, tokenIDs ...string) error
	// OwnerTokenIDs возвращает ID закэшированных записей владельца.
	OwnerTokenIDs(ctx context.Context, ownerID uuid.UUID) ([]string, error)
	// Close закрывает клиент Redis.
	Close() error
}

type redisCache struct {
	rdb    *redis.Client
	prefix string
}

// markRevoked не создаёт ключ, если записи в кэше нет, иначе ключ остался бы без TTL.
var markRevoked = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return redis.call('HSET', KEYS[1], 'rev', '1')
end
return 0
`)

// setRecord: KEYS = запись, множество владельца, эпоха;
// ARGV = epoch, ttl (ms), uid, rev, exp, crt, token_id.
var setRecord = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[3]) or '0')
if cur ~= tonumber(ARGV[1]) then
	return 0
end
local rev = ARGV[4]
if redis.call('HGET', KEYS[1], 'rev') == '1' then
	rev = '1'
end
redis.call('HSET', KEYS[1], 'uid', ARGV[3], 'rev', rev, 'exp', ARGV[5], 'crt', ARGV[6])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
redis.call('SADD', KEYS[2], ARGV[7])
redis.call('PEXPIRE', KEYS[2], ARGV[2])
return 1
`)

// NewRedisCache создаёт клиент Redis из URL (например, redis://:pass@host:6379/0).
// Если prefix пустой - используется "auth:".
func NewRedisCache(ctx context.Context, redisURL, prefix string) (RefreshCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opt)

	// Fail-fast на старте.
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	if prefix == "" {
		prefix = "auth:"
	}

	return &redisCache{rdb: rdb, prefix: prefix}, nil
}

func (c *redisCache) key(tokenID string) string { return c.prefix + "rt:" + tokenID }

func (c *redisCache) ownerKey(ownerID uuid.UUID) string { return c.prefix + "owner:" + ownerID.String() }

func (c *redisCache) epochKey() string { return c.prefix + "revoke_epoch" }

// Храним как Redis Hash с полями: uid, rev (0/1), exp и crt (unix).
func (c *redisCache) Get(ctx context.Context, tokenID string) (*models.RefreshToken, bool, error) {
	m, err := c.rdb.HGetAll(ctx, c.key(tokenID)).Result()
	if err != nil {
		return nil, false, err
	}

	if len(m) == 0 {
		return nil, false, nil
	}

	uid, err := uuid.Parse(m["uid"])
	if err != nil {
		return nil, false, err
	}

	expUnix, err := strconv.ParseInt(m["exp"], 10, 64)
	if err != nil {
		return nil, false, err
	}

	crtUnix, err := strconv.ParseInt(m["crt"], 10, 64)
	if err != nil {
		return nil, false, err
	}

	return &models.RefreshToken{
		TokenID:   tokenID,
		OwnerID:   uid,
		Revoked:   m["rev"] == "1",
		ExpiresAt: time.Unix(expUnix, 0).UTC(),
		CreatedAt: time.Unix(crtUnix, 0).UTC(),
	}, true, nil
}

func (c *redisCache) Epoch(ctx context.Context) (int64, error) {
	n, err := c.rdb.Get(ctx, c.epochKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}

	return n, err
}

func (c *redisCache) Set(ctx context.Context, t *models.RefreshToken, ttl time.Duration, epoch int64) (bool, error) {
	keys := []string{c.key(t.TokenID), c.ownerKey(t.OwnerID), c.epochKey()}

	n, err := setRecord.Run(ctx, c.rdb, keys,
		epoch,
		ttl.Milliseconds(),
		t.OwnerID.String(),
		boolTo01(t.Revoked),
		t.ExpiresAt.Unix(),
		t.CreatedAt.Unix(),
		t.TokenID,
	).Int()
	if err != nil {
		return false, err
	}

	return n == 1, nil
}

func (c *redisCache) MarkRevoked(ctx context.Context, tokenIDs ...string) error {
	pipe := c.rdb.TxPipeline()
	pipe.Incr(ctx, c.epochKey())
	for _, id := range tokenIDs {
		markRevoked.Eval(ctx, pipe, []string{c.key(id)})
	}

	_, err := pipe.Exec(ctx)
	return err
}

func (c *redisCache) OwnerTokenIDs(ctx context.Context, ownerID uuid.UUID) ([]string, error) {
	return c.rdb.SMembers(ctx, c.ownerKey(ownerID)).Result()
}

func (c *redisCache) Close() error { return c.rdb.Close() }

func boolTo01(b bool) string {
	if b {
		return "1"
	}

	return "0"
}
