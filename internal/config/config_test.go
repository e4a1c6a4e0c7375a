package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, key := range []string{"HTTP_ADDR", "MAX_REVOKED", "SYNC_STORE", "REGISTRY_URL", "SYNC_WINDOW_SIZE", "ROOT_ADMIN_ADDRESS"} {
		t.Setenv(key, "")
	}
	cfg := FromEnv()
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("unexpected http addr %q", cfg.HTTPAddr)
	}
	if cfg.MaxRevoked != 1000 || cfg.SyncWindowSize != 500 || cfg.SyncHealthThreshold != 100 {
		t.Fatalf("unexpected numeric defaults: %+v", cfg)
	}
	if cfg.SyncStore != "file" || cfg.RegistryURL != "http://localhost:8080" {
		t.Fatalf("unexpected sync defaults: %+v", cfg)
	}
	if cfg.RootAdmin() != [20]byte{} {
		t.Fatal("expected zero root admin when unset")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("MAX_REVOKED", "5")
	t.Setenv("ROOT_ADMIN_ADDRESS", "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23")
	t.Setenv("SYNC_RECONCILE_MINUTES", "2")
	t.Setenv("RATE_LIMIT_FAIL_CLOSED", "yes")
	t.Setenv("SYNC_DEVICE_ID", "not-a-number")

	cfg := FromEnv()
	if cfg.MaxRevoked != 5 {
		t.Fatalf("expected 5, got %d", cfg.MaxRevoked)
	}
	if cfg.RootAdmin().Hex() != "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23" {
		t.Fatalf("unexpected root admin %s", cfg.RootAdmin().Hex())
	}
	if cfg.ReconcileInterval().Minutes() != 2 {
		t.Fatalf("unexpected reconcile interval %v", cfg.ReconcileInterval())
	}
	if !cfg.RateLimitFailClosed {
		t.Fatal("expected fail closed")
	}
	if cfg.SyncDeviceID != 0 {
		t.Fatalf("invalid number should fall back to default, got %d", cfg.SyncDeviceID)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{name: "bad root admin", mutate: func(c *Config) { c.RootAdminAddress = "0x1234" }, want: "RootAdminAddress"},
		{name: "bad registry url", mutate: func(c *Config) { c.RegistryURL = "not a url" }, want: "RegistryURL"},
		{name: "unknown store", mutate: func(c *Config) { c.SyncStore = "s3" }, want: "SyncStore"},
		{name: "unknown log level", mutate: func(c *Config) { c.LogLevel = "loud" }, want: "LogLevel"},
		{name: "redis store without addr", mutate: func(c *Config) { c.SyncStore = "redis"; c.RedisAddr = "" }, want: "REDIS_ADDR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := FromEnv()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %s, got %v", tt.want, err)
			}
		})
	}
}

func TestLoad_ReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("SYNC_WINDOW_SIZE=42\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(wd)
	})
	t.Setenv("SYNC_WINDOW_SIZE", "")
	_ = os.Unsetenv("SYNC_WINDOW_SIZE")

	cfg := Load()
	if cfg.SyncWindowSize != 42 {
		t.Fatalf("expected .env value 42, got %d", cfg.SyncWindowSize)
	}
}
