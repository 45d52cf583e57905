package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"publishwed/pkg/feedapitest"
	"publishwed/pkg/httpx"
	"publishwed/pkg/models"
	"publishwed/pkg/telemetry"
)

const serviceName = "feed-mock"

type serverConfig struct {
	Addr        string `env:"ADDR,default=:8000"`
	Secret      string `env:"FEED_MOCK_SECRET"`
	CORSOrigins string `env:"CORS_ALLOWED_ORIGINS,default=*"`
	// SeedUsers entries are name:email:password, separated by semicolons.
	SeedUsers    []string `env:"FEED_MOCK_SEED_USERS"`
	SeedMessages []string `env:"FEED_MOCK_SEED_MESSAGES"`

	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT,default=5s"`
	ReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT,default=15s"`
	WriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT,default=30s"`
	IdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT,default=120s"`
}

// Testable variables for main()
var (
	logFatalf       = log.Fatalf
	initTelemetryFn = telemetry.Init
	listenFn        = func(server *http.Server) error { return server.ListenAndServe() }
)

func main() {
	_ = godotenv.Load()
	if err := runFeedMock(initTelemetryFn, listenFn); err != nil {
		logFatalf("server error: %v", err)
	}
}

func loadConfig() (serverConfig, error) {
	var cfg serverConfig
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return serverConfig{}, fmt.Errorf("decode environment: %w", err)
	}
	return cfg, nil
}

// seed registers users and posts. A message entry is email:text and is
// authored by the user with that email.
func seed(fake *feedapitest.Server, cfg serverConfig) error {
	byEmail := map[string]int64{}
	for _, entry := range cfg.SeedUsers {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 3)
		if len(parts) != 3 {
			return fmt.Errorf("seed user %q: want name:email:password", entry)
		}
		u, err := fake.AddUser(parts[0], parts[1], parts[2])
		if err != nil {
			return fmt.Errorf("seed user %q: %w", parts[1], err)
		}
		byEmail[strings.ToLower(u.Email)] = u.ID
	}
	for _, entry := range cfg.SeedMessages {
		email, text, ok := strings.Cut(strings.TrimSpace(entry), ":")
		if !ok {
			return fmt.Errorf("seed message %q: want email:text", entry)
		}
		id, known := byEmail[strings.ToLower(email)]
		if !known {
			return fmt.Errorf("seed message %q: unknown author", entry)
		}
		fake.SeedMessage(models.Message{UserID: id, UserMessage: text})
	}
	return nil
}

func newRouter(fake *feedapitest.Server, corsOrigins string) http.Handler {
	r := chi.NewRouter()
	r.Use(telemetry.HTTPMiddleware(serviceName))
	r.Use(httpx.CORSMiddleware(corsOrigins))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": serviceName})
	})
	r.Mount("/", fake)
	return r
}

func runFeedMock(
	initTelemetry func(context.Context, telemetry.Config) (func(context.Context) error, error),
	listen func(*http.Server) error,
) error {
	if initTelemetry == nil {
		initTelemetry = telemetry.Init
	}
	if listen == nil {
		listen = func(server *http.Server) error { return server.ListenAndServe() }
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	shutdown, err := initTelemetry(context.Background(), telemetry.Config{ServiceName: serviceName})
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	fake := feedapitest.New(cfg.Secret)
	if err := seed(fake, cfg); err != nil {
		return err
	}

	slog.Info("feed-mock listening", "addr", cfg.Addr, "seed_users", len(cfg.SeedUsers))
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newRouter(fake, cfg.CORSOrigins),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	return listen(server)
}
