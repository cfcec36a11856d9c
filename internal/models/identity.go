package models

import (
	"github.com/google/uuid"

	"github.com/pribylovaa/edu-auth/internal/audience"
)

// Identity - аутентифицированный субъект запроса.
type Identity struct {
	SubjectID uuid.UUID
	Email     string
	Role      string
	Audience  audience.Audience
}
