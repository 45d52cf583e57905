package tokenstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStoreLifecycle(t *testing.T) {
	_, client := newMiniredis(t)
	exerciseStore(t, NewRedisStore(client, "test:", "", 0))
}

func TestRedisStoreKeyAndTTL(t *testing.T) {
	mr, client := newMiniredis(t)
	st := NewRedisStore(client, "pw:", "sess", time.Minute)
	if st.Key() != "pw:sess" {
		t.Fatalf("unexpected key %q", st.Key())
	}
	if err := st.Set(context.Background(), "tok"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got, _ := mr.Get("pw:sess"); got != "tok" {
		t.Fatalf("expected raw value tok, got %q", got)
	}
	if ttl := mr.TTL("pw:sess"); ttl != time.Minute {
		t.Fatalf("expected 1m ttl, got %v", ttl)
	}

	mr.FastForward(2 * time.Minute)
	if _, ok, err := st.Get(context.Background()); err != nil || ok {
		t.Fatalf("expected expired token to read as absent, ok=%v err=%v", ok, err)
	}
}

func TestRedisStoreSurfacesConnectionErrors(t *testing.T) {
	mr, client := newMiniredis(t)
	st := NewRedisStore(client, "", "", 0)
	mr.Close()
	if _, _, err := st.Get(context.Background()); err == nil {
		t.Fatal("expected get error with server down")
	}
	if err := st.Set(context.Background(), "x"); err == nil {
		t.Fatal("expected set error with server down")
	}
}

func TestNewRedisClientPings(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	defer mr.Close()

	client, err := NewRedisClient(context.Background(), RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("expected redis client success, got %v", err)
	}
	defer client.Close()

	addr := mr.Addr()
	mr.Close()
	if _, err := NewRedisClient(context.Background(), RedisConfig{Addr: addr}); err == nil {
		t.Fatal("expected ping failure against closed server")
	}
}

func TestRedisTLSConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		cfg        RedisConfig
		wantNil    bool
		wantErr    bool
		serverName string
	}{
		{name: "disabled", cfg: RedisConfig{}, wantNil: true},
		{name: "server_name", cfg: RedisConfig{TLS: true, TLSServerName: "redis.internal"}, serverName: "redis.internal"},
		{name: "insecure_needs_allow", cfg: RedisConfig{TLS: true, TLSInsecure: true}, wantErr: true},
		{name: "insecure_allowed", cfg: RedisConfig{TLS: true, TLSInsecure: true, AllowInsecureTLS: true}},
		{name: "half_keypair", cfg: RedisConfig{TLS: true, TLSCertFile: "cert.pem"}, wantErr: true},
		{name: "missing_ca", cfg: RedisConfig{TLS: true, TLSCACertFile: "/does/not/exist.pem"}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := redisTLSConfig(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantNil != (got == nil) {
				t.Fatalf("unexpected config presence: %+v", got)
			}
			if got != nil && got.ServerName != tt.serverName {
				t.Fatalf("expected server name %q, got %q", tt.serverName, got.ServerName)
			}
		})
	}
}
