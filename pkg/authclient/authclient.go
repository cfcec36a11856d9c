// authclient - клиентский координатор запросов к API аутентификации.
//
// Coordinator прикладывает кэшированный access-токен, на 401 запускает одну
// общую (single-flight) ротацию refresh-токена и повторяет исходный запрос
// ровно один раз. Неудачная ротация приводит к единственному сбросу сессии.
// Пока зарегистрирована хотя бы одна загрузка файла, автоматическая ротация
// отключена и 401 возвращаются вызывающему как есть.
//
// Несколько экземпляров Coordinator друг другу не мешают: всё состояние
// принадлежит экземпляру.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pribylovaa/edu-auth/internal/audience"
)

var (
	// ErrUnauthorized - сервер ответил 401, восстановить сессию не удалось
	// или ротация запрещена (идёт загрузка).
	ErrUnauthorized = errors.New("authclient: unauthorized")

	// ErrSessionExpired - ротация не удалась, сессия сброшена.
	ErrSessionExpired = errors.New("authclient: session expired")
)

const refreshKey = "refresh"

// APIError - ответ сервера со статусом не 2xx.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("authclient: http %d: %s", e.StatusCode, e.Message)
}

// Is позволяет проверять 401 через errors.Is(err, ErrUnauthorized).
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

// Options - параметры Coordinator.
type Options struct {
	BaseURL  string
	Audience string // "admin" или "frontend"

	// HTTPClient используется как шаблон: Jar всегда заменяется собственным.
	HTTPClient *http.Client

	// OnSessionReset вызывается один раз при сбросе сессии (показать форму входа).
	OnSessionReset func()

	// RefreshTimeout ограничивает общую ротацию; по умолчанию 10s.
	RefreshTimeout time.Duration

	Logger *slog.Logger
}

// Coordinator - см. описание пакета.
type Coordinator struct {
	base       *url.URL
	aud        audience.Audience
	accessName string
	hc         *http.Client
	upload     *http.Client
	jar        *resetJar
	onReset    func()
	timeout    time.Duration
	log        *slog.Logger

	group singleflight.Group

	mu        sync.Mutex
	token     string
	resetDone bool
	uploads   map[string]struct{}
}

// New создаёт Coordinator.
func New(opts Options) (*Coordinator, error) {
	const op = "authclient.New"

	base, err := url.Parse(strings.TrimSuffix(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%s: invalid base url %q", op, opts.BaseURL)
	}

	aud, err := audience.Parse(opts.Audience)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	jar := newResetJar()

	hc := &http.Client{Timeout: 30 * time.Second}
	if opts.HTTPClient != nil {
		cp := *opts.HTTPClient
		hc = &cp
	}
	hc.Jar = jar

	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Coordinator{
		base:       base,
		aud:        aud,
		accessName: audience.CookiePairFor(aud).AccessName,
		hc:         hc,
		upload:     &http.Client{Transport: hc.Transport},
		jar:        jar,
		onReset:    opts.OnSessionReset,
		timeout:    opts.RefreshTimeout,
		log:        opts.Logger,
		uploads:    make(map[string]struct{}),
	}, nil
}

// URL строит абсолютный адрес API по относительному пути.
func (c *Coordinator) URL(path string) string {
	return c.base.String() + "/" + strings.TrimPrefix(path, "/")
}

// AccessToken возвращает текущий кэшированный access-токен.
func (c *Coordinator) AccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// SetSession запоминает access-токен и снимает флаг сброса сессии.
func (c *Coordinator) SetSession(accessToken string) {
	c.mu.Lock()
	c.token = accessToken
	c.resetDone = false
	c.mu.Unlock()
}

// Reset сбрасывает сессию: очищает токен и cookie и вызывает OnSessionReset.
// Повторные вызовы до следующего SetSession/Login ничего не делают.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	if c.resetDone {
		c.mu.Unlock()
		return
	}
	c.resetDone = true
	c.token = ""
	c.mu.Unlock()

	c.jar.Reset()
	c.log.Info("authclient_session_reset", slog.String("audience", c.aud.String()))

	if c.onReset != nil {
		c.onReset()
	}
}

// TrackUpload регистрирует загрузку; пока есть хотя бы одна, автоматическая
// ротация отключена.
func (c *Coordinator) TrackUpload(id string) {
	c.mu.Lock()
	c.uploads[id] = struct{}{}
	c.mu.Unlock()
}

// UntrackUpload снимает регистрацию загрузки.
func (c *Coordinator) UntrackUpload(id string) {
	c.mu.Lock()
	delete(c.uploads, id)
	c.mu.Unlock()
}

func (c *Coordinator) uploading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.uploads) > 0
}

// Do выполняет запрос с кэшированным токеном. На 401 ждёт общую ротацию
// и повторяет запрос один раз; второй 401 возвращается как есть.
// Ответы, отличные от 401, не трогаются. Тело запроса должно быть
// воспроизводимым (req.GetBody), иначе повтора не будет.
func (c *Coordinator) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	const op = "authclient.Do"

	req = req.WithContext(ctx)

	sent := c.AccessToken()
	resp, err := c.send(req, sent)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	if c.uploading() {
		c.log.Debug("authclient_refresh_vetoed_upload", slog.String("path", req.URL.Path))
		return resp, nil
	}

	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}

	drain(resp)

	// Токен уже сменился (ротация другого запроса): повторяем без ротации.
	if cur := c.AccessToken(); cur == "" || cur == sent {
		if err := c.refreshShared(ctx); err != nil {
			// Отмена вызывающего не говорит об исходе общей ротации.
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("%s: %w", op, ctxErr)
			}
			return nil, fmt.Errorf("%s: %w", op, ErrSessionExpired)
		}
	}

	retry, err := rewind(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	resp, err = c.send(retry, c.AccessToken())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return resp, nil
}

// DoJSON отправляет in как JSON и декодирует поле data ответа в out.
// Статус не 2xx возвращается как *APIError.
func (c *Coordinator) DoJSON(ctx context.Context, method, path string, in, out any) error {
	const op = "authclient.DoJSON"

	req, err := c.newJSONRequest(ctx, method, path, in)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}

	return decodeEnvelope(resp, out)
}

// Refresh - ручная ротация вне single-flight; нужна, например, после
// длинной загрузки, когда автоматическая ротация была отключена.
func (c *Coordinator) Refresh(ctx context.Context) error {
	const op = "authclient.Refresh"

	if err := c.refresh(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// refreshShared присоединяет вызывающего к идущей ротации или запускает её.
// Слот освобождается, когда ротация завершилась. Сессию сбрасывает только
// неудача самой ротации; вызывающий, чей ctx отменён, уходит без сброса.
func (c *Coordinator) refreshShared(ctx context.Context) error {
	ch := c.group.DoChan(refreshKey, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		if err := c.refresh(rctx); err != nil {
			c.log.Info("authclient_refresh_failed", slog.String("err", err.Error()))
			c.Reset()
			return nil, err
		}

		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.URL("/refresh-token")+"?audience="+c.aud.String(), nil)
	if err != nil {
		return err
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := decodeEnvelope(resp, &out); err != nil {
		return err
	}

	if out.AccessToken == "" {
		c.adoptFromJar()
	} else {
		c.SetSession(out.AccessToken)
	}

	c.log.Debug("authclient_refreshed", slog.String("audience", c.aud.String()))
	return nil
}

// send прикладывает токен и подхватывает access-cookie, если сервер
// ротировал пару сам.
func (c *Coordinator) send(req *http.Request, token string) (*http.Response, error) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else {
		req.Header.Del("Authorization")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}

	c.adoptFromJar()
	return resp, nil
}

func (c *Coordinator) adoptFromJar() {
	for _, ck := range c.jar.Cookies(c.base) {
		if ck.Name != c.accessName || ck.Value == "" {
			continue
		}

		c.mu.Lock()
		if !c.resetDone {
			c.token = ck.Value
		}
		c.mu.Unlock()
		return
	}
}

func (c *Coordinator) newJSONRequest(ctx context.Context, method, path string, in any) (*http.Request, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), body)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

// rewind готовит копию запроса для повтора.
func rewind(req *http.Request) (*http.Request, error) {
	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}

	return retry, nil
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decodeEnvelope(resp *http.Response, out any) error {
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("authclient: decode response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: env.Message}
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}

	return json.Unmarshal(env.Data, out)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
