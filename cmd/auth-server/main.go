package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pribylovaa/edu-auth/internal/audience"
	"github.com/pribylovaa/edu-auth/internal/cache"
	"github.com/pribylovaa/edu-auth/internal/config"
	httpapi "github.com/pribylovaa/edu-auth/internal/http"
	"github.com/pribylovaa/edu-auth/internal/http/handlers"
	"github.com/pribylovaa/edu-auth/internal/ledger"
	"github.com/pribylovaa/edu-auth/internal/metrics"
	"github.com/pribylovaa/edu-auth/internal/service"
	"github.com/pribylovaa/edu-auth/internal/storage"
	"github.com/pribylovaa/edu-auth/internal/storage/memory"
	"github.com/pribylovaa/edu-auth/internal/storage/mongo"
	"github.com/pribylovaa/edu-auth/internal/storage/postgres"
	"github.com/pribylovaa/edu-auth/internal/tokens"
	"github.com/pribylovaa/edu-auth/internal/uploads"
)

// Константы для определения окружения.
const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(configPath)

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)
	log.Info("starting application", "env", cfg.Env, "storage", cfg.Storage.Driver)

	// Корневой контекст по сигналам.
	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	if err := run(rootCtx, cfg, log); err != nil {
		log.Error("service_failed", slog.String("err", err.Error()))
		rootCancel()
		os.Exit(1)
	}

	log.Info("service_stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	// Хранилище c таймаутом на подключение.
	dbCtx, dbCancel := context.WithTimeout(ctx, 10*time.Second)
	str, err := openStorage(dbCtx, cfg.Storage, log)
	dbCancel()
	if err != nil {
		return err
	}
	defer str.Close()

	var refreshStore storage.RefreshTokenStorage = str
	if cfg.Redis.RedisURL != "" {
		redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
		rc, err := cache.NewRedisCache(redisCtx, cfg.Redis.RedisURL, "auth:")
		redisCancel()
		if err != nil {
			return err
		}
		defer func() { _ = rc.Close() }()

		refreshStore = cache.NewRefreshStore(str, rc)
		log.Info("redis_cache_enabled")
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	codec := tokens.New(cfg.Auth)
	l := ledger.New(refreshStore, cfg.Auth.RefreshTokenTTL)

	resolver, err := audience.New(cfg.Routes, cfg.Cookies)
	if err != nil {
		return err
	}

	srvc := service.New(str, l, codec, resolver, m)
	log.Info("service_initialized")

	if err := bootstrapAdmin(ctx, srvc, cfg.Bootstrap, log); err != nil {
		return err
	}

	// Presign выключен, если S3 не настроен: интерфейс остаётся nil.
	var presigner handlers.Presigner
	if cfg.S3.Endpoint != "" {
		s3Ctx, s3Cancel := context.WithTimeout(ctx, 10*time.Second)
		p, err := uploads.New(s3Ctx, cfg.S3)
		s3Cancel()
		if err != nil {
			return err
		}
		presigner = p
		log.Info("s3_presign_enabled", slog.String("bucket", cfg.S3.Bucket))
	}

	// Фоновая очистка просроченных и отозванных refresh-записей.
	go ledger.NewJanitor(l, cfg.Janitor.Period, log, m).Run(ctx)

	var ready atomic.Bool

	mux := chi.NewRouter()
	mux.Get("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if ready.Load() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
			return
		}
		http.Error(w, "not ready", http.StatusServiceUnavailable)
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.Mount("/", httpapi.NewRouter(srvc, resolver, presigner, httpapi.Options{
		Logger:         log,
		Timeout:        cfg.Timeouts.Request,
		AdminPrefix:    cfg.Routes.AdminPrefix,
		FrontendPrefix: cfg.Routes.FrontendPrefix,
	}))

	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErrCh := make(chan error, 1)
	go func() {
		log.Info("http_listen_start", slog.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
		}
		close(serveErrCh)
	}()

	ready.Store(true)

	// Ожидание сигнала завершения или фатальной ошибки сервера.
	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown_requested")
	case serveErr = <-serveErrCh:
		if serveErr != nil {
			log.Error("http_serve_failed", slog.String("err", serveErr.Error()))
		}
	}

	ready.Store(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Timeouts.Shutdown)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http_force_stop", slog.String("err", err.Error()))
		_ = httpSrv.Close()
	}

	return serveErr
}

// openStorage открывает хранилище по драйверу из конфигурации.
func openStorage(ctx context.Context, cfg config.StorageConfig, log *slog.Logger) (storage.Storage, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pg, err := postgres.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				pg.Close()
				return nil, err
			}
			log.Info("postgres_migrated")
		}
		log.Info("postgres_connected")
		return pg, nil
	case config.DriverMongo:
		mg, err := mongo.New(ctx, cfg.MongoURL)
		if err != nil {
			return nil, err
		}
		log.Info("mongo_connected")
		return mg, nil
	default:
		log.Warn("memory_storage_in_use")
		return memory.New(), nil
	}
}

// bootstrapAdmin создаёт администратора из конфигурации, если его ещё нет.
func bootstrapAdmin(ctx context.Context, srvc *service.Service, cfg config.BootstrapConfig, log *slog.Logger) error {
	if cfg.AdminEmail == "" {
		return nil
	}

	u, err := srvc.CreateUser(ctx, cfg.AdminEmail, cfg.AdminPassword, "admin")
	switch {
	case errors.Is(err, service.ErrEmailTaken):
		log.Debug("bootstrap_admin_exists")
		return nil
	case err != nil:
		return err
	}

	log.Info("bootstrap_admin_created", slog.String("user_id", u.ID.String()))
	return nil
}

// setupLogger настраивает slog по окружению.
func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	}

	return log
}
