// uploads выдаёт presigned PUT URL для загрузки видео курсов в MinIO/S3.
// Клиент заливает файл напрямую в хранилище, минуя auth-сервер; на время
// такой загрузки клиентский координатор отключает автоматический refresh.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	mclient "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/pribylovaa/edu-auth/internal/config"
)

// ErrInvalidArgument - недопустимый тип или размер загружаемого файла.
var ErrInvalidArgument = errors.New("invalid upload argument")

// UploadInfo - параметры presigned-загрузки.
type UploadInfo struct {
	UploadID       string            `json:"upload_id"`
	UploadURL      string            `json:"upload_url"`
	ObjectKey      string            `json:"object_key"`
	ExpiresAt      time.Time         `json:"expires_at"`
	RequiredHeader map[string]string `json:"required_headers"`
}

// presignClient - подмножество *minio.Client, которое нужно Presigner.
type presignClient interface {
	PresignedPutObject(ctx context.Context, bucket, object string, expires time.Duration) (*url.URL, error)
}

// Presigner - адаптер MinIO для выдачи ссылок на загрузку видео.
type Presigner struct {
	cfg    config.S3Config
	client presignClient
	now    func() time.Time
}

// New создаёт клиент MinIO и проверяет наличие бакета.
// endpoint может быть указан со схемой: она определяет Secure.
func New(ctx context.Context, cfg config.S3Config) (*Presigner, error) {
	const op = "uploads.New"

	endpoint := cfg.Endpoint
	secure := cfg.UseSSL

	if u, err := url.Parse(endpoint); err == nil && u.Scheme != "" && u.Host != "" {
		endpoint = u.Host
		secure = u.Scheme == "https"
	}

	client, err := mclient.New(endpoint, &mclient.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !exists {
		return nil, fmt.Errorf("%s: bucket %q does not exist", op, cfg.Bucket)
	}

	return newPresigner(cfg, client), nil
}

func newPresigner(cfg config.S3Config, client presignClient) *Presigner {
	return &Presigner{
		cfg:    cfg,
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

var videoExt = map[string]string{
	"video/mp4":       ".mp4",
	"video/webm":      ".webm",
	"video/quicktime": ".mov",
}

// VideoUploadURL генерирует presigned PUT URL. Ключ объекта имеет вид
// "videos/<ownerID>/<uploadID><ext>"; uploadID клиент использует как
// идентификатор загрузки в координаторе.
func (p *Presigner) VideoUploadURL(ctx context.Context, ownerID uuid.UUID, contentType string, size int64) (*UploadInfo, error) {
	const op = "uploads.VideoUploadURL"

	contentType = strings.TrimSpace(strings.ToLower(contentType))

	if size <= 0 || (p.cfg.MaxSizeBytes > 0 && size > p.cfg.MaxSizeBytes) {
		return nil, fmt.Errorf("%s: size: %w", op, ErrInvalidArgument)
	}

	if !slices.Contains(p.cfg.AllowedContentTypes, contentType) {
		return nil, fmt.Errorf("%s: content type: %w", op, ErrInvalidArgument)
	}

	uploadID := uuid.NewString()
	key := path.Join("videos", ownerID.String(), uploadID+videoExt[contentType])

	u, err := p.client.PresignedPutObject(ctx, p.cfg.Bucket, key, p.cfg.PresignTTL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &UploadInfo{
		UploadID:  uploadID,
		UploadURL: u.String(),
		ObjectKey: key,
		ExpiresAt: p.now().Add(p.cfg.PresignTTL),
		RequiredHeader: map[string]string{
			"Content-Type":   contentType,
			"Content-Length": fmt.Sprintf("%d", size),
		},
	}, nil
}
