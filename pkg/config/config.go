// Package config loads runtime settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"publishwed/pkg/telemetry"
	"publishwed/pkg/tokenstore"
)

type Config struct {
	APIBase   string        `env:"PUBLISHWED_API_BASE,default=http://127.0.0.1:8000"`
	Timeout   time.Duration `env:"PUBLISHWED_TIMEOUT,default=5s"`
	LoginPath string        `env:"PUBLISHWED_LOGIN_PATH,default=/login"`

	TokenBackend string        `env:"PUBLISHWED_TOKEN_BACKEND,default=file"`
	TokenKey     string        `env:"PUBLISHWED_TOKEN_KEY,default=access_token"`
	TokenDir     string        `env:"PUBLISHWED_TOKEN_DIR"`
	TokenTTL     time.Duration `env:"PUBLISHWED_TOKEN_TTL"`

	Redis struct {
		Addr             string `env:"REDIS_ADDR,default=localhost:6379"`
		Password         string `env:"REDIS_PASSWORD"`
		DB               int    `env:"REDIS_DB,default=0"`
		TLS              bool   `env:"REDIS_TLS"`
		TLSServerName    string `env:"REDIS_TLS_SERVER_NAME"`
		TLSCACertFile    string `env:"REDIS_TLS_CA_CERT_FILE"`
		TLSCertFile      string `env:"REDIS_TLS_CERT_FILE"`
		TLSKeyFile       string `env:"REDIS_TLS_KEY_FILE"`
		TLSInsecure      bool   `env:"REDIS_TLS_INSECURE"`
		AllowInsecureTLS bool   `env:"REDIS_ALLOW_INSECURE_TLS"`
	}

	DatabaseURL        string `env:"DATABASE_URL"`
	DatabaseRequireTLS bool   `env:"DATABASE_REQUIRE_TLS"`

	KafkaBrokers string `env:"KAFKA_BROKERS"`
	KafkaTopic   string `env:"KAFKA_TOPIC,default=publishwed.session-events"`

	OTel struct {
		Endpoint   string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
		Headers    string        `env:"OTEL_EXPORTER_OTLP_HEADERS"`
		Timeout    time.Duration `env:"OTEL_EXPORTER_OTLP_TIMEOUT,default=5s"`
		Insecure   bool          `env:"OTEL_EXPORTER_OTLP_INSECURE"`
		Required   bool          `env:"OTEL_REQUIRED"`
		Sampler    string        `env:"OTEL_TRACES_SAMPLER"`
		SamplerArg string        `env:"OTEL_TRACES_SAMPLER_ARG"`
	}

	LogLevel   string `env:"LOG_LEVEL,default=info"`
	LogFormat  string `env:"LOG_FORMAT,default=text"`
	RedactSalt string `env:"REDACT_SALT"`
}

// Load reads envFile (".env" when empty, ignored if absent) and decodes the
// environment. Variables already set in the process win over the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	u, err := url.Parse(c.APIBase)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("PUBLISHWED_API_BASE must be an absolute http(s) URL, got %q", c.APIBase)
	}
	switch strings.ToLower(c.TokenBackend) {
	case tokenstore.BackendMemory, tokenstore.BackendFile, tokenstore.BackendRedis:
	case tokenstore.BackendPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("PUBLISHWED_TOKEN_BACKEND=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown PUBLISHWED_TOKEN_BACKEND %q", c.TokenBackend)
	}
	if !strings.HasPrefix(c.LoginPath, "/") {
		return fmt.Errorf("PUBLISHWED_LOGIN_PATH must start with /, got %q", c.LoginPath)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	return nil
}

func (c Config) TokenStore() tokenstore.Config {
	return tokenstore.Config{
		Backend: c.TokenBackend,
		Key:     c.TokenKey,
		Dir:     c.TokenDir,
		TTL:     c.TokenTTL,
		Redis: tokenstore.RedisConfig{
			Addr:             c.Redis.Addr,
			Password:         c.Redis.Password,
			DB:               c.Redis.DB,
			TLS:              c.Redis.TLS,
			TLSServerName:    c.Redis.TLSServerName,
			TLSCACertFile:    c.Redis.TLSCACertFile,
			TLSCertFile:      c.Redis.TLSCertFile,
			TLSKeyFile:       c.Redis.TLSKeyFile,
			TLSInsecure:      c.Redis.TLSInsecure,
			AllowInsecureTLS: c.Redis.AllowInsecureTLS,
		},
		DatabaseURL:        c.DatabaseURL,
		DatabaseRequireTLS: c.DatabaseRequireTLS,
	}
}

func (c Config) Telemetry(serviceName string) telemetry.Config {
	return telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    c.OTel.Endpoint,
		Headers:     c.OTel.Headers,
		Timeout:     c.OTel.Timeout,
		Insecure:    c.OTel.Insecure,
		Required:    c.OTel.Required,
		Sampler:     c.OTel.Sampler,
		SamplerArg:  c.OTel.SamplerArg,
	}
}

// Brokers splits KAFKA_BROKERS on commas.
func (c Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q", raw)
	}
	return level, nil
}
