package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken - серверная запись refresh-токена (одна на устройство/сессию).
type RefreshToken struct {
	TokenID   string
	OwnerID   uuid.UUID
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}

// IsValid сообщает, можно ли предъявить запись в момент now.
func (t *RefreshToken) IsValid(now time.Time) bool {
	return t != nil && !t.Revoked && now.Before(t.ExpiresAt)
}
