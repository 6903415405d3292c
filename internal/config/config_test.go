package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath
}

func TestLoadFileWithEnvOverrides(t *testing.T) {
	t.Setenv("SHELFLIFE_LOG_LEVEL", "debug")
	t.Setenv("SHELFLIFE_LOGIN_RATE_LIMIT_PER_MINUTE", "7")
	t.Setenv("REDIS_ADDR", "localhost:6380")

	cfg, err := Load(writeConfig(t, `
baseURL: "http://localhost:8080/api"
requestTimeout: "5s"
cacheTTL: "30s"
tokenStore:
  backend: Redis
  ttl: "24h"
loginRateLimitPerMinute: 3
`))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("logLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.LoginRateLimitPerMinute != 7 {
		t.Fatalf("loginRateLimitPerMinute = %d, want 7", cfg.LoginRateLimitPerMinute)
	}
	if cfg.TokenStore.Backend != BackendRedis || cfg.RedisAddr != "localhost:6380" {
		t.Fatalf("unexpected token store config %+v redis=%q", cfg.TokenStore, cfg.RedisAddr)
	}
	if cfg.TokenStore.RedisKey != "shelflife:credential" || cfg.EventQueue != "shelflife.events" {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
	if d, _ := ParseDuration(cfg.TokenStore.TTL); d != 24*time.Hour {
		t.Fatalf("ttl = %v, want 24h", d)
	}
}

func TestLoadRequiresBaseURL(t *testing.T) {
	_, err := Load(writeConfig(t, `logLevel: info`))
	if err == nil || !strings.Contains(err.Error(), "baseURL") {
		t.Fatalf("expected baseURL error, got %v", err)
	}
}

func TestLoadMissingDefaultFileUsesEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SHELFLIFE_BASE_URL", "https://api.example.com")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.BaseURL != "https://api.example.com" || cfg.TokenStore.Backend != BackendFile {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.CacheTTL != "5m" {
		t.Fatalf("cacheTTL = %q, want default 5m", cfg.CacheTTL)
	}
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected read error for explicit path")
	}
}

func TestValidateConfig(t *testing.T) {
	base := FileConfig{BaseURL: "http://localhost:8080", TokenStore: TokenStoreConfig{Backend: BackendFile}}
	cases := map[string]func(*FileConfig){
		"relative url":        func(c *FileConfig) { c.BaseURL = "/api" },
		"bad timeout":         func(c *FileConfig) { c.RequestTimeout = "soon" },
		"negative ttl":        func(c *FileConfig) { c.CacheTTL = "-1s" },
		"unknown backend":     func(c *FileConfig) { c.TokenStore.Backend = "etcd" },
		"redis without addr":  func(c *FileConfig) { c.TokenStore.Backend = BackendRedis },
		"postgres without db": func(c *FileConfig) { c.TokenStore.Backend = BackendPostgres },
		"negative rate limit": func(c *FileConfig) { c.LoginRateLimitPerMinute = -1 },
	}
	if err := validateConfig(base); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}
	for name, mutate := range cases {
		cfg := base
		mutate(&cfg)
		if err := validateConfig(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
