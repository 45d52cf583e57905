package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type tokenDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS session_tokens (
	key TEXT PRIMARY KEY,
	token TEXT NOT NULL,
	expires_at TIMESTAMPTZ NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore keeps the token as one row of session_tokens. Rows past
// expires_at read as absent.
type PostgresStore struct {
	DB  tokenDB
	key string
	ttl time.Duration
	now func() time.Time
}

func NewPostgresStore(db tokenDB, key string, ttl time.Duration) *PostgresStore {
	if strings.TrimSpace(key) == "" {
		key = DefaultKey
	}
	return &PostgresStore{DB: db, key: key, ttl: ttl, now: time.Now}
}

func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.DB.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create session_tokens: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context) (string, bool, error) {
	var token string
	row := p.DB.QueryRow(ctx, `
		SELECT token FROM session_tokens
		WHERE key=$1 AND (expires_at IS NULL OR expires_at > $2)`, p.key, p.now().UTC())
	if err := row.Scan(&token); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("select token: %w", err)
	}
	return token, true, nil
}

func (p *PostgresStore) Set(ctx context.Context, token string) error {
	now := p.now().UTC()
	var expiresAt *time.Time
	if p.ttl > 0 {
		at := now.Add(p.ttl)
		expiresAt = &at
	}
	_, err := p.DB.Exec(ctx, `
		INSERT INTO session_tokens(key, token, expires_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE
		SET token=EXCLUDED.token, expires_at=EXCLUDED.expires_at, updated_at=EXCLUDED.updated_at`,
		p.key, token, expiresAt, now)
	if err != nil {
		return fmt.Errorf("upsert token: %w", err)
	}
	return nil
}

func (p *PostgresStore) Clear(ctx context.Context) error {
	if _, err := p.DB.Exec(ctx, `DELETE FROM session_tokens WHERE key=$1`, p.key); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

var (
	pgxPoolNewWithConfig   = pgxpool.NewWithConfig
	postgresConnectRetries = 5
	postgresRetryDelay     = time.Second
	postgresPingTimeout    = 2 * time.Second
	postgresSleep          = time.Sleep
)

// NewPostgresPool connects with a bounded number of retries.
func NewPostgresPool(ctx context.Context, dsn string, requireTLS bool) (*pgxpool.Pool, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for the postgres token backend")
	}
	if requireTLS {
		if err := validatePostgresTLS(dsn); err != nil {
			return nil, err
		}
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 4
	cfg.MinConns = 0
	cfg.MaxConnIdleTime = time.Minute * 5
	var lastErr error
	for i := 0; i < postgresConnectRetries; i++ {
		pool, err := pgxPoolNewWithConfig(ctx, cfg)
		if err != nil {
			lastErr = err
			postgresSleep(postgresRetryDelay)
			continue
		}
		ctxPing, cancel := context.WithTimeout(ctx, postgresPingTimeout)
		err = pool.Ping(ctxPing)
		cancel()
		if err == nil {
			return pool, nil
		}
		lastErr = err
		pool.Close()
		postgresSleep(postgresRetryDelay)
	}
	return nil, fmt.Errorf("db ping retries exhausted: %w", lastErr)
}

func validatePostgresTLS(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	sslmode := strings.ToLower(strings.TrimSpace(parsed.Query().Get("sslmode")))
	switch sslmode {
	case "verify-full", "verify-ca", "require":
		return nil
	case "allow", "disable", "prefer":
		return fmt.Errorf("DATABASE_REQUIRE_TLS=true but DATABASE_URL sslmode=%q is insecure", sslmode)
	default:
		return fmt.Errorf("DATABASE_REQUIRE_TLS=true requires explicit sslmode=require|verify-ca|verify-full")
	}
}
