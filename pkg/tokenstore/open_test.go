package tokenstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestOpenBackends(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	defer mr.Close()

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{name: "memory", cfg: Config{Backend: "memory"}, want: "*tokenstore.MemoryStore"},
		{name: "file_default", cfg: Config{Dir: t.TempDir()}, want: "*tokenstore.FileStore"},
		{name: "redis", cfg: Config{Backend: "REDIS", Redis: RedisConfig{Addr: mr.Addr()}}, want: "*tokenstore.RedisStore"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, closeFn, err := Open(context.Background(), tt.cfg)
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			defer closeFn()
			if got := fmt.Sprintf("%T", st); got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
			exerciseStore(t, st)
		})
	}
}

func TestOpenRedisUsesDefaultPrefix(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	defer mr.Close()

	st, closeFn, err := Open(context.Background(), Config{Backend: BackendRedis, Redis: RedisConfig{Addr: mr.Addr()}})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer closeFn()
	if err := st.Set(context.Background(), "tok"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !mr.Exists("publishwed:access_token") {
		t.Fatalf("expected prefixed key, have %v", mr.Keys())
	}
}

func TestOpenErrors(t *testing.T) {
	if _, closeFn, err := Open(context.Background(), Config{Backend: "etcd"}); err == nil {
		t.Fatal("expected unknown backend error")
	} else {
		closeFn()
	}
	if _, _, err := Open(context.Background(), Config{Backend: BackendPostgres}); err == nil {
		t.Fatal("expected missing DATABASE_URL error")
	}
}
