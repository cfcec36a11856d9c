package authclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Identity - субъект, как его возвращает сервер.
type Identity struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Audience string `json:"audience"`
}

// Session - ответ /login и /refresh-token.
type Session struct {
	Identity
	AccessToken     string `json:"access_token"`
	AccessExpiresAt int64  `json:"access_expires_at"`
}

// UploadTarget - presigned-ссылка, выданная /admin/uploads/presign.
type UploadTarget struct {
	UploadID        string            `json:"upload_id"`
	UploadURL       string            `json:"upload_url"`
	ObjectKey       string            `json:"object_key"`
	ExpiresAt       time.Time         `json:"expires_at"`
	RequiredHeaders map[string]string `json:"required_headers"`
}

// Login выполняет вход в пространство координатора. Ответ 401 здесь
// означает неверные учётные данные и ротацию не запускает.
func (c *Coordinator) Login(ctx context.Context, email, password string) (*Session, error) {
	const op = "authclient.Login"

	req, err := c.newJSONRequest(ctx, http.MethodPost, "/login", map[string]string{
		"email":    email,
		"password": password,
		"audience": c.aud.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var sess Session
	if err := decodeEnvelope(resp, &sess); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	c.SetSession(sess.AccessToken)
	return &sess, nil
}

// Logout отзывает refresh-токен на сервере и очищает локальное состояние
// без вызова OnSessionReset.
func (c *Coordinator) Logout(ctx context.Context) error {
	const op = "authclient.Logout"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.URL("/logout")+"?audience="+c.aud.String(), nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := decodeEnvelope(resp, nil); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
	c.jar.Reset()

	return nil
}

// Me возвращает субъекта текущей сессии.
func (c *Coordinator) Me(ctx context.Context) (*Identity, error) {
	var id Identity
	if err := c.DoJSON(ctx, http.MethodGet, "/me", nil, &id); err != nil {
		return nil, err
	}

	return &id, nil
}

// PresignVideo запрашивает ссылку на загрузку видео (только admin).
func (c *Coordinator) PresignVideo(ctx context.Context, contentType string, size int64) (*UploadTarget, error) {
	var out UploadTarget
	err := c.DoJSON(ctx, http.MethodPost, "/admin/uploads/presign", map[string]any{
		"content_type": contentType,
		"size":         size,
	}, &out)
	if err != nil {
		return nil, err
	}

	return &out, nil
}

// Upload отправляет body по presigned-ссылке. На время загрузки она
// зарегистрирована, и автоматическая ротация для всех запросов отключена.
func (c *Coordinator) Upload(ctx context.Context, target *UploadTarget, body io.Reader, size int64) error {
	const op = "authclient.Upload"

	c.TrackUpload(target.UploadID)
	defer c.UntrackUpload(target.UploadID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target.UploadURL, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.ContentLength = size
	for k, v := range target.RequiredHeaders {
		if http.CanonicalHeaderKey(k) == "Content-Length" {
			continue
		}
		req.Header.Set(k, v)
	}

	// Presigned URL подписан сам по себе: ни Bearer, ни cookie не нужны.
	resp, err := c.upload.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s: %w", op, &APIError{StatusCode: resp.StatusCode, Message: resp.Status})
	}

	return nil
}
