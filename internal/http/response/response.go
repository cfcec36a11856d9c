// response стандартизирует ответы HTTP-слоя: конверт {status, message, data}
// и маппинг доменных ошибок в HTTP-статусы без утечки деталей.
package response

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pribylovaa/edu-auth/internal/service"
	"github.com/pribylovaa/edu-auth/internal/uploads"
)

// Значения поля status.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Нестандартный код, часто используемый для "клиент закрыл соединение".
const StatusClientClosedRequest = 499

// ErrUnavailable - функциональность выключена конфигурацией.
var ErrUnavailable = errors.New("unavailable")

// Envelope - единый формат ответа для клиентов.
// RequestID прокидывается из X-Request-Id для трассировки.
type Envelope struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// JSON пишет успешный ответ.
func JSON(w http.ResponseWriter, status int, message string, data any) {
	write(w, status, Envelope{
		Status:  StatusSuccess,
		Message: message,
		Data:    data,
	})
}

// ToHTTP переводит ошибку в HTTP-статус и безопасное сообщение.
//
// Таблица:
//   - service.ErrInvalidArgument, uploads.ErrInvalidArgument -> 400
//   - service.ErrAuthentication, service.ErrInvalidCredentials -> 401
//   - service.ErrAuthorization -> 403
//   - service.ErrNotFound -> 404
//   - service.ErrEmailTaken -> 409
//   - context.Canceled -> 499, context.DeadlineExceeded -> 504
//   - ErrUnavailable -> 503
//   - прочее, включая nil, -> 500
func ToHTTP(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusInternalServerError, "internal error"
	case errors.Is(err, service.ErrInvalidArgument), errors.Is(err, uploads.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid argument"
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, service.ErrAuthentication):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, service.ErrAuthorization):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, service.ErrEmailTaken):
		return http.StatusConflict, "already exists"
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest, "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "deadline exceeded"
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable, "service unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// WriteError - хелпер для хендлеров и мидлваров.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := ToHTTP(err)

	env := Envelope{
		Status:  StatusError,
		Message: msg,
	}
	if rid := r.Header.Get("X-Request-Id"); rid != "" {
		env.RequestID = rid
	}

	write(w, status, env)
}

func write(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}
