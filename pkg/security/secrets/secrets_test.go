package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mercator-hq/exporter/pkg/config"
)

func writeSecret(t *testing.T, dir, name, value string, perm os.FileMode) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(value+"\n"), perm); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
}

func TestEnvProvider(t *testing.T) {
	t.Setenv("TEST_SECRET_S3_SECRET_KEY", "env-value")
	p := NewEnvProvider("TEST_SECRET_")

	got, err := p.Get(context.Background(), "s3-secret-key")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got != "env-value" {
		t.Errorf("Get() = %q, want %q", got, "env-value")
	}

	if _, err := p.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestFileProvider(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "records-key", "file-value", 0o600)
	writeSecret(t, dir, "open", "leaked", 0o644)

	p, err := NewFileProvider(dir, false)
	if err != nil {
		t.Fatalf("NewFileProvider() failed: %v", err)
	}
	defer p.Close()

	tests := []struct {
		name     string
		secret   string
		want     string
		notFound bool
		wantErr  bool
	}{
		{name: "trims value", secret: "records-key", want: "file-value"},
		{name: "missing", secret: "nope", notFound: true, wantErr: true},
		{name: "world readable", secret: "open", wantErr: true},
		{name: "traversal", secret: "../records-key", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Get(context.Background(), tt.secret)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Get(%q) error = %v, wantErr %v", tt.secret, err, tt.wantErr)
			}
			if errors.Is(err, ErrNotFound) != tt.notFound {
				t.Errorf("Get(%q) error = %v, ErrNotFound = %v", tt.secret, err, tt.notFound)
			}
			if got != tt.want {
				t.Errorf("Get(%q) = %q, want %q", tt.secret, got, tt.want)
			}
		})
	}
}

func TestFileProvider_WatchRefreshes(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "api-key", "old", 0o600)

	p, err := NewFileProvider(dir, true)
	if err != nil {
		t.Fatalf("NewFileProvider() failed: %v", err)
	}
	defer p.Close()

	if got, _ := p.Get(context.Background(), "api-key"); got != "old" {
		t.Fatalf("Get() = %q, want old", got)
	}
	writeSecret(t, dir, "api-key", "new", 0o600)

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, _ := p.Get(context.Background(), "api-key")
		if got == "new" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("Get() = %q after rewrite, want new", got)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCache_Expiry(t *testing.T) {
	c := NewCache(time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set("k", "v")
	if v, ok := c.Get("k"); !ok || v != "v" {
		t.Errorf("Get() = %q, %v, want v, true", v, ok)
	}
	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Error("Get() served an expired entry")
	}

	disabled := NewCache(0)
	disabled.Set("k", "v")
	if disabled.Len() != 0 {
		t.Error("zero TTL cache stored an entry")
	}
}

func TestManager_Precedence(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "shared", "from-file", 0o400)
	t.Setenv("TEST_SECRET_SHARED", "from-env")
	t.Setenv("TEST_SECRET_ENV_ONLY", "env")

	m, err := NewFromConfig(config.SecretsConfig{Dir: dir, EnvPrefix: "TEST_SECRET_", CacheTTL: time.Minute})
	if err != nil {
		t.Fatalf("NewFromConfig() failed: %v", err)
	}
	defer m.Close()

	ctx := context.Background()
	if got, _ := m.Get(ctx, "shared"); got != "from-file" {
		t.Errorf("Get(shared) = %q, want from-file", got)
	}
	if got, _ := m.Get(ctx, "env-only"); got != "env" {
		t.Errorf("Get(env-only) = %q, want env", got)
	}
	if _, err := m.Get(ctx, "absent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(absent) error = %v, want ErrNotFound", err)
	}
}

func TestManager_Resolve(t *testing.T) {
	t.Setenv("TEST_SECRET_HOST", "db.internal")
	t.Setenv("TEST_SECRET_PASS", "hunter2")
	m := NewManager([]Provider{NewEnvProvider("TEST_SECRET_")}, time.Minute)

	got, err := m.Resolve(context.Background(), "user:${secret:pass}@${secret:host}")
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if got != "user:hunter2@db.internal" {
		t.Errorf("Resolve() = %q", got)
	}

	if got, err := m.Resolve(context.Background(), "plain"); err != nil || got != "plain" {
		t.Errorf("Resolve(plain) = %q, %v", got, err)
	}
	if _, err := m.Resolve(context.Background(), "${secret:unset}"); err == nil {
		t.Error("Resolve() succeeded with an unknown secret")
	}
}

func TestManager_ResolveConfig(t *testing.T) {
	t.Setenv("TEST_SECRET_S3_SECRET", "s3-value")
	t.Setenv("TEST_SECRET_ADMIN_KEY", "admin-value")
	m := NewManager([]Provider{NewEnvProvider("TEST_SECRET_")}, 0)

	cfg := config.Default()
	cfg.Artifacts.S3.SecretAccessKey = "${secret:s3-secret}"
	cfg.Records.HTTP.APIKey = "literal"
	cfg.Auth.Keys = []config.APIKeyConfig{{Key: "${secret:admin-key}"}, {Key: "${secret:missing}"}}

	err := m.ResolveConfig(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "auth.keys[1].key") {
		t.Errorf("ResolveConfig() error = %v, want failure on auth.keys[1].key", err)
	}
	if cfg.Artifacts.S3.SecretAccessKey != "s3-value" {
		t.Errorf("SecretAccessKey = %q, want s3-value", cfg.Artifacts.S3.SecretAccessKey)
	}
	if cfg.Records.HTTP.APIKey != "literal" {
		t.Errorf("APIKey = %q, want literal", cfg.Records.HTTP.APIKey)
	}
	if cfg.Auth.Keys[0].Key != "admin-value" {
		t.Errorf("Keys[0] = %q, want admin-value", cfg.Auth.Keys[0].Key)
	}
}
