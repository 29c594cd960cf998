package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/eduquiz/rewards/internal/ratelimit"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "127.0.0.1")
	}
	if cfg.API.Port != 8090 {
		t.Errorf("API.Port = %d, want %d", cfg.API.Port, 8090)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("Store.Driver = %q, want sqlite", cfg.Store.Driver)
	}
	if cfg.Grants.MaxGold != 10_000 {
		t.Errorf("Grants.MaxGold = %d, want 10000", cfg.Grants.MaxGold)
	}
	if cfg.Grants.MaxExp != 5_000 {
		t.Errorf("Grants.MaxExp = %d, want 5000", cfg.Grants.MaxExp)
	}

	post, ok := cfg.RateLimit.Rules[ratelimit.ActionPost]
	if !ok {
		t.Fatal("default config missing post rule")
	}
	if post.WindowSeconds != 60 || post.MaxCount != 3 {
		t.Errorf("post rule = %d per %ds, want 3 per 60s", post.MaxCount, post.WindowSeconds)
	}
	comment, ok := cfg.RateLimit.Rules[ratelimit.ActionComment]
	if !ok {
		t.Fatal("default config missing comment rule")
	}
	if comment.WindowSeconds != 30 || comment.MaxCount != 1 {
		t.Errorf("comment rule = %d per %ds, want 1 per 30s", comment.MaxCount, comment.WindowSeconds)
	}
}

func TestLoad_FileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[api]
host = "0.0.0.0"
port = 9000

[store]
driver = "postgres"
postgres_url = "postgres://localhost/rewards"

[ratelimit.rules.post]
window_seconds = 120
max_count = 5
message = "easy there"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.API.Addr() != "0.0.0.0:9000" {
		t.Errorf("Addr() = %q, want 0.0.0.0:9000", cfg.API.Addr())
	}
	if cfg.Store.Driver != "postgres" {
		t.Errorf("Store.Driver = %q, want postgres", cfg.Store.Driver)
	}
	post := cfg.RateLimit.Rules["post"]
	if post.WindowSeconds != 120 || post.MaxCount != 5 || post.Message != "easy there" {
		t.Errorf("post rule = %+v, file values must win over defaults", post)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("REWARDS_API_PORT", "7777")
	t.Setenv("REWARDS_STORE_DRIVER", "postgres")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.API.Port != 7777 {
		t.Errorf("API.Port = %d, env override must win", cfg.API.Port)
	}
	if cfg.Store.Driver != "postgres" {
		t.Errorf("Store.Driver = %q, env override must win", cfg.Store.Driver)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.API.Port != DefaultConfig().API.Port {
		t.Error("missing file should fall back to defaults")
	}
}

func TestLimiterConfig_Conversion(t *testing.T) {
	cfg := DefaultConfig().RateLimit
	lc := cfg.LimiterConfig()

	post, ok := lc.Rules[ratelimit.ActionPost]
	if !ok {
		t.Fatal("post rule missing after conversion")
	}
	if post.Window != 60*time.Second {
		t.Errorf("post window = %v, want 60s", post.Window)
	}
	if lc.Retention != time.Hour {
		t.Errorf("retention = %v, want 1h", lc.Retention)
	}
}
