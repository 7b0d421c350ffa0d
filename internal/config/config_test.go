package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	t.Setenv("PORT", "")
	cfg, err := Load(writeConfig(t, "server:\n  port: 9000\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Fatalf("port = %d", cfg.Server.Port)
	}
	if cfg.Downloader.MaxActive != 5 || cfg.Database.Driver != "sqlite" {
		t.Fatalf("defaults not applied: %+v", cfg.Downloader)
	}
	if cfg.Worker.MediaServerURL != "http://127.0.0.1:9000" {
		t.Fatalf("media server url = %q", cfg.Worker.MediaServerURL)
	}
	if cfg.RedisEnabled() {
		t.Fatal("redis should be disabled without a url")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MEDIA_CACHE_DIR", "/srv/cache")
	t.Setenv("REDIS_URL", "redis://localhost:6379/2")

	cfg, err := Load(writeConfig(t, "musicbrainz:\n  timeout: 20\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.CacheDir != "/srv/cache" {
		t.Fatalf("cache dir = %q", cfg.Storage.CacheDir)
	}
	if cfg.Redis.URL != "localhost:6379" || cfg.Redis.DB != 2 {
		t.Fatalf("redis = %+v", cfg.Redis)
	}
	if cfg.MusicBrainz.Timeout != 20*time.Second {
		t.Fatalf("timeout = %v", cfg.MusicBrainz.Timeout)
	}
}

func TestLoadRejectsBadRedisScheme(t *testing.T) {
	t.Setenv("REDIS_URL", "http://localhost:6379")
	if _, err := Load(writeConfig(t, "")); err == nil {
		t.Fatal("expected error for non-redis scheme")
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}
