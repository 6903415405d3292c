package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the file read when no path is given. A missing default file is
// not an error; settings then come from the environment only.
const ConfigPath = "config.yaml"

// Token store backends.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// TokenStoreConfig selects where the credential lives.
type TokenStoreConfig struct {
	Backend  string `yaml:"backend"`
	Path     string `yaml:"path"`
	RedisKey string `yaml:"redisKey"`
	TTL      string `yaml:"ttl"`
	Profile  string `yaml:"profile"`
}

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	BaseURL                 string           `yaml:"baseURL"`
	LogLevel                string           `yaml:"logLevel"`
	RequestTimeout          string           `yaml:"requestTimeout"`
	CacheTTL                string           `yaml:"cacheTTL"`
	RefreshSkew             string           `yaml:"refreshSkew"`
	TokenStore              TokenStoreConfig `yaml:"tokenStore"`
	RedisAddr               string           `yaml:"redisAddr"`
	RedisPassword           string           `yaml:"redisPassword"`
	DatabaseURL             string           `yaml:"databaseURL"`
	LoginRateLimitPerMinute int              `yaml:"loginRateLimitPerMinute"`
	AMQPURL                 string           `yaml:"amqpURL"`
	EventQueue              string           `yaml:"eventQueue"`
}

// Load reads config from path (defaults to config.yaml), applies environment
// overrides and validates the result.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	optional := path == ""
	if optional {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case optional && errors.Is(err, os.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("SHELFLIFE_BASE_URL"); v != "" {
		cfg.BaseURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("SHELFLIFE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.TrimSpace(v)
	}
	if v := os.Getenv("SHELFLIFE_REQUEST_TIMEOUT"); v != "" {
		cfg.RequestTimeout = strings.TrimSpace(v)
	}
	if v := os.Getenv("SHELFLIFE_CACHE_TTL"); v != "" {
		cfg.CacheTTL = strings.TrimSpace(v)
	}
	if v := os.Getenv("SHELFLIFE_REFRESH_SKEW"); v != "" {
		cfg.RefreshSkew = strings.TrimSpace(v)
	}
	if v := os.Getenv("SHELFLIFE_TOKEN_STORE"); v != "" {
		cfg.TokenStore.Backend = strings.TrimSpace(v)
	}
	if v := os.Getenv("SHELFLIFE_TOKEN_PATH"); v != "" {
		cfg.TokenStore.Path = strings.TrimSpace(v)
	}
	if v := os.Getenv("SHELFLIFE_LOGIN_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.LoginRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("SHELFLIFE_EVENT_QUEUE"); v != "" {
		cfg.EventQueue = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.CacheTTL == "" {
		cfg.CacheTTL = "5m"
	}
	if cfg.TokenStore.Backend == "" {
		cfg.TokenStore.Backend = BackendFile
	}
	cfg.TokenStore.Backend = strings.ToLower(strings.TrimSpace(cfg.TokenStore.Backend))
	if cfg.TokenStore.RedisKey == "" {
		cfg.TokenStore.RedisKey = "shelflife:credential"
	}
	if cfg.TokenStore.Profile == "" {
		cfg.TokenStore.Profile = "default"
	}
	if cfg.EventQueue == "" {
		cfg.EventQueue = "shelflife.events"
	}
}

func validateConfig(cfg FileConfig) error {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return errors.New("config: baseURL is required (set in config.yaml or SHELFLIFE_BASE_URL)")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: baseURL %q must be an absolute http(s) URL", cfg.BaseURL)
	}
	for name, value := range map[string]string{
		"requestTimeout": cfg.RequestTimeout,
		"cacheTTL":       cfg.CacheTTL,
		"refreshSkew":    cfg.RefreshSkew,
		"tokenStore.ttl": cfg.TokenStore.TTL,
	} {
		if _, err := ParseDuration(value); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	switch cfg.TokenStore.Backend {
	case BackendMemory, BackendFile:
	case BackendRedis:
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required for the redis token store")
		}
	case BackendPostgres:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return errors.New("config: databaseURL is required for the postgres token store")
		}
	default:
		return fmt.Errorf("config: unknown tokenStore.backend %q", cfg.TokenStore.Backend)
	}
	if cfg.LoginRateLimitPerMinute < 0 {
		return errors.New("config: loginRateLimitPerMinute must be >= 0")
	}
	return nil
}

// ParseDuration parses an optional duration string; empty means zero.
func ParseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %w", err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("duration %q must not be negative", value)
	}
	return dur, nil
}
