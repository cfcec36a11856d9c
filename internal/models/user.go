package models

import (
	"time"

	"github.com/google/uuid"
)

// Роли пользователей.
const (
	RoleAdmin   = "admin"
	RoleStudent = "student"
)

// User - модель пользователя в системе.
// PasswordHash хранит bcrypt-хэш, исходный пароль нигде не сохраняется.
type User struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
