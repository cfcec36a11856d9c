package models

import "time"

// TokenPair - пара токенов, выдаваемая при логине и ротации.
//
// Описание:
//   - AccessToken - короткоживущий JWT для доступа к API;
//   - RefreshToken - JWT, чей TokenID обязан совпадать с действующей записью в журнале;
//   - AccessExpiresAt/RefreshExpiresAt - моменты истечения (UTC), из них
//     транспорт выставляет MaxAge у cookie.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}
