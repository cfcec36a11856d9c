// tokens - кодек access/refresh JWT (HS256).
//
// Access и refresh подписываются разными секретами, поэтому токен одного вида
// не проходит проверку подписи как токен другого. Проверка всегда возвращает
// (claims, error) и не паникует на недоверенном вводе.
package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pribylovaa/edu-auth/internal/audience"
	"github.com/pribylovaa/edu-auth/internal/config"
)

var (
	// ErrInvalidToken - подпись, формат, issuer или audience токена некорректны.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired - срок действия токена истёк.
	ErrTokenExpired = errors.New("token expired")
	// ErrWrongKind - токен подписан верно, но предназначен для другой цели.
	ErrWrongKind = errors.New("wrong token kind")
)

const (
	kindAccess  = "access"
	kindRefresh = "refresh"
)

// AccessClaims - содержимое access-токена.
type AccessClaims struct {
	SubjectID uuid.UUID
	Email     string
	Role      string
	Audience  audience.Audience
	ExpiresAt time.Time
}

// RefreshClaims - содержимое refresh-токена; TokenID ссылается на запись журнала.
type RefreshClaims struct {
	SubjectID uuid.UUID
	TokenID   string
	ExpiresAt time.Time
}

type accessJWT struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	Kind  string `json:"kind"`
	jwt.RegisteredClaims
}

type refreshJWT struct {
	Kind string `json:"kind"`
	jwt.RegisteredClaims
}

// Codec выпускает и проверяет токены. Безопасен для конкурентного использования.
type Codec struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
	leeway        time.Duration
	now           func() time.Time
}

// New создаёт Codec из секции auth конфигурации.
func New(cfg config.AuthConfig) *Codec {
	return &Codec{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     cfg.AccessTokenTTL,
		refreshTTL:    cfg.RefreshTokenTTL,
		issuer:        cfg.Issuer,
		leeway:        cfg.Leeway,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithClock подменяет источник времени (для тестов и детерминированной ротации).
func (c *Codec) WithClock(now func() time.Time) *Codec {
	cp := *c
	cp.now = now
	return &cp
}

// AccessTTL возвращает срок жизни access-токена.
func (c *Codec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL возвращает срок жизни refresh-токена.
func (c *Codec) RefreshTTL() time.Duration { return c.refreshTTL }

// NewTokenID возвращает UUIDv7: упорядоченный по времени префикс и криптослучайный хвост.
func NewTokenID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// IssueAccess подписывает access-токен; поле ExpiresAt входных claims игнорируется.
func (c *Codec) IssueAccess(claims AccessClaims) (string, time.Time, error) {
	const op = "tokens.IssueAccess"

	if claims.Audience != audience.Admin && claims.Audience != audience.Frontend {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, audience.ErrUnknownAudience)
	}

	now := c.now()
	exp := now.Add(c.accessTTL)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, accessJWT{
		Email: claims.Email,
		Role:  claims.Role,
		Kind:  kindAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.SubjectID.String(),
			Audience:  jwt.ClaimStrings{claims.Audience.String()},
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})

	signed, err := tok.SignedString(c.accessSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	return signed, exp, nil
}

// IssueRefresh подписывает refresh-токен для записи журнала tokenID.
func (c *Codec) IssueRefresh(subjectID uuid.UUID, tokenID string) (string, time.Time, error) {
	const op = "tokens.IssueRefresh"

	if tokenID == "" {
		return "", time.Time{}, fmt.Errorf("%s: empty token id", op)
	}

	now := c.now()
	exp := now.Add(c.refreshTTL)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshJWT{
		Kind: kindRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Subject:   subjectID.String(),
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})

	signed, err := tok.SignedString(c.refreshSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	return signed, exp, nil
}

// VerifyAccess проверяет подпись, срок, issuer, kind и audience access-токена.
func (c *Codec) VerifyAccess(s string) (AccessClaims, error) {
	const op = "tokens.VerifyAccess"

	var raw accessJWT
	if err := c.parse(s, &raw, c.accessSecret); err != nil {
		return AccessClaims{}, fmt.Errorf("%s: %w", op, err)
	}

	if raw.Kind != kindAccess {
		return AccessClaims{}, fmt.Errorf("%s: %w", op, ErrWrongKind)
	}

	sub, err := uuid.Parse(raw.Subject)
	if err != nil {
		return AccessClaims{}, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	if len(raw.Audience) != 1 {
		return AccessClaims{}, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	aud, err := audience.Parse(raw.Audience[0])
	if err != nil {
		return AccessClaims{}, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	return AccessClaims{
		SubjectID: sub,
		Email:     raw.Email,
		Role:      raw.Role,
		Audience:  aud,
		ExpiresAt: raw.ExpiresAt.Time.UTC(),
	}, nil
}

// VerifyRefresh проверяет подпись, срок, issuer и kind refresh-токена.
// Наличие записи в журнале здесь не проверяется.
func (c *Codec) VerifyRefresh(s string) (RefreshClaims, error) {
	const op = "tokens.VerifyRefresh"

	var raw refreshJWT
	if err := c.parse(s, &raw, c.refreshSecret); err != nil {
		return RefreshClaims{}, fmt.Errorf("%s: %w", op, err)
	}

	if raw.Kind != kindRefresh {
		return RefreshClaims{}, fmt.Errorf("%s: %w", op, ErrWrongKind)
	}

	sub, err := uuid.Parse(raw.Subject)
	if err != nil || raw.ID == "" {
		return RefreshClaims{}, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	return RefreshClaims{
		SubjectID: sub,
		TokenID:   raw.ID,
		ExpiresAt: raw.ExpiresAt.Time.UTC(),
	}, nil
}

func (c *Codec) parse(s string, claims jwt.Claims, secret []byte) error {
	if s == "" {
		return ErrInvalidToken
	}

	_, err := jwt.ParseWithClaims(s, claims,
		func(t *jwt.Token) (any, error) {
			return secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(c.leeway),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}

		return ErrInvalidToken
	}

	return nil
}
