// config предоставляет структуру конфигурации сервиса и функции
// загрузки из файла/переменных окружения с предсказуемым приоритетом.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Драйверы хранилища refresh-записей.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// Config - корневая конфигурация сервиса.
// Источники значений (по убыванию приоритета):
//  1. явный путь через флаг --config;
//  2. путь в переменной окружения CONFIG_PATH;
//  3. файл local.yaml из рабочей директории;
//  4. переменные окружения (cleanenv).
type Config struct {
	Env       string          `yaml:"env" env:"ENV" env-default:"local"`
	HTTP      HTTPConfig      `yaml:"http"`
	Auth      AuthConfig      `yaml:"auth"`
	Cookies   CookiesConfig   `yaml:"cookies"`
	Routes    RoutesConfig    `yaml:"routes"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	S3        S3Config        `yaml:"s3"`
	Janitor   JanitorConfig   `yaml:"janitor"`
	Timeouts  TimeoutsConfig  `yaml:"timeouts"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
}

// HTTPConfig - сетевые настройки HTTP-сервера.
type HTTPConfig struct {
	Host string `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
}

// Addr возвращает адрес в формате host:port.
func (h HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, h.Port)
}

// AuthConfig содержит параметры выпуска и валидации токенов.
// Access и refresh подписываются разными секретами.
type AuthConfig struct {
	AccessSecret    string        `yaml:"access_secret" env:"ACCESS_TOKEN_SECRET" env-required:"true"`
	RefreshSecret   string        `yaml:"refresh_secret" env:"REFRESH_TOKEN_SECRET" env-required:"true"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl" env:"ACCESS_TOKEN_TTL" env-default:"15m"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl" env:"REFRESH_TOKEN_TTL" env-default:"168h"`
	Issuer          string        `yaml:"issuer" env:"TOKEN_ISSUER" env-default:"edu-auth"`
	Leeway          time.Duration `yaml:"leeway" env:"TOKEN_LEEWAY" env-default:"0s"`
}

// CookiesConfig - общие атрибуты cookie (имена задаёт audience).
type CookiesConfig struct {
	Domain   string `yaml:"domain" env:"COOKIE_DOMAIN"`
	Path     string `yaml:"path" env:"COOKIE_PATH" env-default:"/"`
	Secure   bool   `yaml:"secure" env:"COOKIE_SECURE" env-default:"false"`
	SameSite string `yaml:"same_site" env:"COOKIE_SAME_SITE" env-default:"lax"`
}

// SameSiteMode переводит строковое значение в http.SameSite.
func (c CookiesConfig) SameSiteMode() http.SameSite {
	switch strings.ToLower(c.SameSite) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// RoutesConfig - префиксы маршрутов и правила выбора audience.
type RoutesConfig struct {
	AdminPrefix      string   `yaml:"admin_prefix" env:"ROUTES_ADMIN_PREFIX" env-default:"/admin"`
	FrontendPrefix   string   `yaml:"frontend_prefix" env:"ROUTES_FRONTEND_PREFIX" env-default:"/student"`
	FallbackAudience string   `yaml:"fallback_audience" env:"ROUTES_FALLBACK_AUDIENCE" env-default:"frontend"`
	FrontendRoles    []string `yaml:"frontend_roles" env:"ROUTES_FRONTEND_ROLES" env-default:"student,admin"`
}

// StorageConfig - выбор и параметры хранилища.
type StorageConfig struct {
	Driver      string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"memory"`
	PostgresURL string `yaml:"postgres_url" env:"DATABASE_URL"`
	MongoURL    string `yaml:"mongo_url" env:"MONGO_URL"`
	AutoMigrate bool   `yaml:"auto_migrate" env:"STORAGE_AUTO_MIGRATE" env-default:"false"`
}

// RedisConfig - опциональный кэш refresh-записей; пустой URL выключает кэш.
type RedisConfig struct {
	RedisURL string `yaml:"redis_url" env:"REDIS_URL"`
}

// S3Config - хранилище загружаемых видео; пустой endpoint выключает presign.
type S3Config struct {
	Endpoint   string        `yaml:"endpoint" env:"S3_ENDPOINT"`
	AccessKey  string        `yaml:"access_key" env:"S3_ACCESS_KEY"`
	SecretKey  string        `yaml:"secret_key" env:"S3_SECRET_KEY"`
	UseSSL     bool          `yaml:"use_ssl" env:"S3_USE_SSL" env-default:"false"`
	Bucket     string        `yaml:"bucket" env:"S3_BUCKET" env-default:"course-videos"`
	PresignTTL time.Duration `yaml:"presign_ttl" env:"S3_PRESIGN_TTL" env-default:"1h"`

	// MaxSizeBytes - верхняя граница размера видео (по умолчанию 5 GiB).
	MaxSizeBytes        int64    `yaml:"max_size_bytes" env:"S3_MAX_SIZE_BYTES" env-default:"5368709120"`
	AllowedContentTypes []string `yaml:"allowed_content_types" env:"S3_ALLOWED_CONTENT_TYPES" env-default:"video/mp4,video/webm,video/quicktime"`
}

// JanitorConfig - периодическая очистка протухших refresh-записей.
type JanitorConfig struct {
	Period time.Duration `yaml:"period" env:"JANITOR_PERIOD" env-default:"1h"`
}

// BootstrapConfig - администратор, создаваемый при старте, если его ещё нет.
// Пустой email отключает создание.
type BootstrapConfig struct {
	AdminEmail    string `yaml:"admin_email" env:"BOOTSTRAP_ADMIN_EMAIL"`
	AdminPassword string `yaml:"admin_password" env:"BOOTSTRAP_ADMIN_PASSWORD"`
}

// TimeoutsConfig - таймауты сервиса.
type TimeoutsConfig struct {
	Request  time.Duration `yaml:"request" env:"REQUEST_TIMEOUT" env-default:"5s"`
	Shutdown time.Duration `yaml:"shutdown" env:"SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// MustLoad - обёртка над Load с panic при ошибке.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

// Load загружает конфигурацию по приоритету:
// 1) явный путь; 2) CONFIG_PATH; 3) ./local.yaml; 4) ENV.
// После чтения файла ENV-переменные накладываются поверх значений из YAML.
func Load(path string) (*Config, error) {
	var cfg Config

	tryRead := func(p string) (*Config, error) {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", p, err)
		}

		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to overlay env: %w", err)
		}

		if err := cfg.Validate(); err != nil {
			return nil, err
		}

		return &cfg, nil
	}

	// 1) Явный путь.
	if path != "" {
		return tryRead(path)
	}

	// 2) CONFIG_PATH.
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return tryRead(envPath)
	}

	// 3) ./local.yaml.
	if _, err := os.Stat("local.yaml"); err == nil {
		return tryRead("local.yaml")
	}

	// 4) Только ENV.
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate проверяет согласованность значений, которые cleanenv проверить не может.
func (c *Config) Validate() error {
	if c.Auth.AccessSecret == c.Auth.RefreshSecret {
		return errors.New("config: access_secret and refresh_secret must differ")
	}

	if c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= 0 {
		return errors.New("config: token ttl must be positive")
	}

	switch c.Routes.FallbackAudience {
	case "admin", "frontend":
	default:
		return fmt.Errorf("config: unknown fallback_audience %q", c.Routes.FallbackAudience)
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Storage.PostgresURL == "" {
			return errors.New("config: storage.postgres_url is required for postgres driver")
		}
	case DriverMongo:
		if c.Storage.MongoURL == "" {
			return errors.New("config: storage.mongo_url is required for mongo driver")
		}
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}

	return nil
}
