package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"stockdash/internal/quotefeed"
)

type Server struct {
	Port              string `json:"port"`
	RequestTimeoutSec int    `json:"request_timeout_sec"`
}

type Finnhub struct {
	BaseURL      string `json:"base_url"`
	APIKey       string `json:"api_key"`
	TimeoutSec   int    `json:"timeout_sec"`
	Attempts     int    `json:"attempts"`
	RetryDelayMs int    `json:"retry_delay_ms"`
}

type Feed struct {
	Symbols            []string `json:"symbols"`
	RefreshIntervalSec int      `json:"refresh_interval_sec"`
}

// Cache configures the per-symbol response cache. TTL 0 disables it.
type Cache struct {
	TTLSeconds int `json:"ttl_sec"`
	MaxItems   int `json:"max_items"`
}

// Redis configures snapshot publishing. An empty Addr disables it.
type Redis struct {
	Addr       string `json:"addr"`
	TTLSeconds int    `json:"ttl_sec"`
}

type Log struct {
	Level string `json:"level"`
}

type Config struct {
	Server  Server  `json:"server"`
	Finnhub Finnhub `json:"finnhub"`
	Feed    Feed    `json:"feed"`
	Cache   Cache   `json:"cache"`
	Redis   Redis   `json:"redis"`
	Log     Log     `json:"log"`
}

func Default() Config {
	return Config{
		Server: Server{Port: "8080", RequestTimeoutSec: 15},
		Finnhub: Finnhub{
			BaseURL:      "https://finnhub.io/api/v1",
			APIKey:       "sandbox",
			TimeoutSec:   10,
			Attempts:     3,
			RetryDelayMs: 1000,
		},
		Feed: Feed{
			Symbols:            quotefeed.DefaultSymbols(),
			RefreshIntervalSec: int(quotefeed.DefaultRefreshInterval / time.Second),
		},
		Cache: Cache{MaxItems: 1000},
		Redis: Redis{TTLSeconds: 120},
		Log:   Log{Level: "info"},
	}
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are skipped; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads JSON config from path. If path is empty, CONFIG_FILE and then
// ./config.json are tried; a missing file means defaults. Environment
// variables override the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := json.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

// Validate rejects settings the feed cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Finnhub.Attempts < 1 {
		errs = append(errs, fmt.Errorf("finnhub.attempts must be at least 1, got %d", c.Finnhub.Attempts))
	}
	if c.Finnhub.TimeoutSec < 1 {
		errs = append(errs, fmt.Errorf("finnhub.timeout_sec must be positive, got %d", c.Finnhub.TimeoutSec))
	}
	if c.Feed.RefreshIntervalSec < 1 {
		errs = append(errs, fmt.Errorf("feed.refresh_interval_sec must be positive, got %d", c.Feed.RefreshIntervalSec))
	}
	if len(c.Feed.Symbols) == 0 {
		errs = append(errs, errors.New("feed.symbols must not be empty"))
	}
	return errors.Join(errs...)
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSec) * time.Second
}

func (c Config) AttemptTimeout() time.Duration {
	return time.Duration(c.Finnhub.TimeoutSec) * time.Second
}

func (c Config) RetryPolicy() quotefeed.RetryPolicy {
	return quotefeed.RetryPolicy{
		Attempts: c.Finnhub.Attempts,
		Delay:    time.Duration(c.Finnhub.RetryDelayMs) * time.Millisecond,
	}
}

func (c Config) RefreshInterval() time.Duration {
	return time.Duration(c.Feed.RefreshIntervalSec) * time.Second
}

func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

func (c Config) RedisTTL() time.Duration {
	return time.Duration(c.Redis.TTLSeconds) * time.Second
}

// Symbols returns the watch list uppercased with duplicates dropped.
func (c Config) Symbols() []string {
	seen := make(map[string]bool, len(c.Feed.Symbols))
	out := make([]string, 0, len(c.Feed.Symbols))
	for _, s := range c.Feed.Symbols {
		s = quotefeed.Canonical(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// SlogLevel maps Log.Level to a slog level; unknown values mean info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	envInt("REQUEST_TIMEOUT_SEC", 1, &cfg.Server.RequestTimeoutSec)

	if v := os.Getenv("FINNHUB_BASE_URL"); v != "" {
		cfg.Finnhub.BaseURL = v
	}
	if v := os.Getenv("FINNHUB_API_KEY"); v != "" {
		cfg.Finnhub.APIKey = v
	}
	envInt("FINNHUB_TIMEOUT_SEC", 1, &cfg.Finnhub.TimeoutSec)
	envInt("FINNHUB_ATTEMPTS", 1, &cfg.Finnhub.Attempts)
	envInt("FINNHUB_RETRY_DELAY_MS", 0, &cfg.Finnhub.RetryDelayMs)

	if v := os.Getenv("SYMBOLS"); v != "" {
		cfg.Feed.Symbols = splitCSV(v)
	}
	envInt("REFRESH_INTERVAL_SEC", 1, &cfg.Feed.RefreshIntervalSec)

	envInt("CACHE_TTL_SEC", 0, &cfg.Cache.TTLSeconds)
	envInt("CACHE_MAX_ITEMS", 0, &cfg.Cache.MaxItems)

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	envInt("REDIS_TTL_SEC", 0, &cfg.Redis.TTLSeconds)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// envInt sets *dst from the named variable when it parses and is >= floor.
func envInt(name string, floor int, dst *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	x, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || x < floor {
		return
	}
	*dst = x
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
