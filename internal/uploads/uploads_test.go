package uploads

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	mclient "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pribylovaa/edu-auth/internal/config"
)

type fakeClient struct {
	bucket, object string
	expires        time.Duration
	err            error
}

func (f *fakeClient) PresignedPutObject(_ context.Context, bucket, object string, expires time.Duration) (*url.URL, error) {
	f.bucket, f.object, f.expires = bucket, object, expires
	if f.err != nil {
		return nil, f.err
	}
	return url.Parse("http://minio.local/" + bucket + "/" + object + "?X-Amz-Signature=abc")
}

func testS3Cfg() config.S3Config {
	return config.S3Config{
		Bucket:              "course-videos",
		PresignTTL:          time.Hour,
		MaxSizeBytes:        1 << 30,
		AllowedContentTypes: []string{"video/mp4", "video/webm"},
	}
}

func TestVideoUploadURL_OK(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{}
	p := newPresigner(testS3Cfg(), fc)
	owner := uuid.New()

	info, err := p.VideoUploadURL(context.Background(), owner, "Video/MP4", 1024)
	require.NoError(t, err)

	require.Equal(t, "course-videos", fc.bucket)
	require.Equal(t, time.Hour, fc.expires)
	require.True(t, strings.HasPrefix(info.ObjectKey, "videos/"+owner.String()+"/"))
	require.True(t, strings.HasSuffix(info.ObjectKey, info.UploadID+".mp4"))
	require.Contains(t, info.UploadURL, info.ObjectKey)
	require.Equal(t, "video/mp4", info.RequiredHeader["Content-Type"])
	require.Equal(t, "1024", info.RequiredHeader["Content-Length"])
}

func TestVideoUploadURL_Validation(t *testing.T) {
	t.Parallel()

	p := newPresigner(testS3Cfg(), &fakeClient{})
	ctx := context.Background()

	_, err := p.VideoUploadURL(ctx, uuid.New(), "video/mp4", 0)
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = p.VideoUploadURL(ctx, uuid.New(), "video/mp4", 2<<30)
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = p.VideoUploadURL(ctx, uuid.New(), "image/png", 10)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestVideoUploadURL_ClientError(t *testing.T) {
	t.Parallel()

	boom := errors.New("presign failed")
	p := newPresigner(testS3Cfg(), &fakeClient{err: boom})

	_, err := p.VideoUploadURL(context.Background(), uuid.New(), "video/webm", 10)
	require.ErrorIs(t, err, boom)
}

// Интеграционный тест поднимает MinIO через testcontainers-go.
//
//	GO_TEST_INTEGRATION=1 go test ./internal/uploads -v -count=1
func TestIntegration_New_AndPresign(t *testing.T) {
	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		t.Skip("integration tests are disabled (set GO_TEST_INTEGRATION=1)")
	}

	ctx := context.Background()
	const (
		rootUser     = "root"
		rootPassword = "rootpass"
	)

	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "docker.io/minio/minio:latest",
			Env:          map[string]string{"MINIO_ROOT_USER": rootUser, "MINIO_ROOT_PASSWORD": rootPassword},
			Cmd:          []string{"server", "/data"},
			ExposedPorts: []string{"9000/tcp"},
			WaitingFor:   wait.ForListeningPort("9000/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "9000/tcp")
	require.NoError(t, err)

	cfg := testS3Cfg()
	cfg.Endpoint = fmt.Sprintf("http://%s:%s", host, port.Port())
	cfg.AccessKey = rootUser
	cfg.SecretKey = rootPassword

	// Бакета ещё нет.
	_, err = New(ctx, cfg)
	require.Error(t, err)

	admin, err := mclient.New(host+":"+port.Port(), &mclient.Options{
		Creds: credentials.NewStaticV4(rootUser, rootPassword, ""),
	})
	require.NoError(t, err)
	require.NoError(t, admin.MakeBucket(ctx, cfg.Bucket, mclient.MakeBucketOptions{Region: "us-east-1"}))

	p, err := New(ctx, cfg)
	require.NoError(t, err)

	info, err := p.VideoUploadURL(ctx, uuid.New(), "video/mp4", 42)
	require.NoError(t, err)
	require.Contains(t, info.UploadURL, "X-Amz-Signature")
}
