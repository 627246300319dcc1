package config

import (
	"sync"
	"time"

	"github.com/nextlevelbuilder/botrelay/internal/store"
)

// Config is the root configuration for the botrelay gateway.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Redis     RedisConfig     `json:"redis,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Sessions  SessionsConfig  `json:"sessions"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Executor  ExecutorConfig  `json:"executor"`
	mu        sync.RWMutex
}

// GatewayConfig controls the HTTP/WebSocket listener.
type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Token          string   `json:"token,omitempty"`           // bearer token for the API; empty = open
	AllowedOrigins []string `json:"allowed_origins,omitempty"` // WebSocket origin whitelist; empty = allow all
	// EmitRatePerSecond limits emit calls per instance (0 = unlimited).
	EmitRatePerSecond float64 `json:"emit_rate_per_second,omitempty"`
	EmitBurst         int     `json:"emit_burst,omitempty"`
	LogLevel          string  `json:"log_level,omitempty"` // "debug", "info" (default), "warn", "error"
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`                     // from env BOTRELAY_POSTGRES_DSN only
	Mode        string `json:"mode,omitempty"`        // "standalone" (default, SQLite), "managed" (Postgres) or "memory"
	SQLitePath  string `json:"sqlite_path,omitempty"` // standalone database file
}

// RedisConfig enables cross-replica inbound dedupe when URL is set.
type RedisConfig struct {
	URL          string `json:"-"` // from env BOTRELAY_REDIS_URL only
	DedupePrefix string `json:"dedupe_prefix,omitempty"`
}

// TelemetryConfig configures OpenTelemetry OTLP export.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`      // enable OTLP export (default false)
	Endpoint    string            `json:"endpoint,omitempty"`     // OTLP endpoint (e.g. "localhost:4317")
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // plaintext connection (local dev)
	ServiceName string            `json:"service_name,omitempty"` // default "botrelay-gateway"
	Headers     map[string]string `json:"headers,omitempty"`      // extra headers (e.g. auth tokens for cloud backends)
}

// SessionsConfig configures the session expiry sweeper.
type SessionsConfig struct {
	SweepCron string `json:"sweep_cron,omitempty"` // cron expression, default every minute
}

// DispatchConfig tunes the inbound pipeline.
type DispatchConfig struct {
	InboundBuffer int    `json:"inbound_buffer,omitempty"`
	MaxConcurrent int    `json:"max_concurrent,omitempty"` // bot turns running at once; 0 = unlimited
	DedupeTTL     string `json:"dedupe_ttl,omitempty"`     // Go duration, default "20m"
	DedupeMax     int    `json:"dedupe_max,omitempty"`
}

// ExecutorConfig tunes calls to bot endpoints.
type ExecutorConfig struct {
	Timeout       string  `json:"timeout,omitempty"` // Go duration, default "60s"
	RatePerSecond float64 `json:"rate_per_second,omitempty"`
	Burst         int     `json:"burst,omitempty"`
	// DeliveryTimeout bounds one reply delivery to an instance webhook.
	DeliveryTimeout string `json:"delivery_timeout,omitempty"`
}

// StoreConfig returns the storage parameters.
func (c *Config) StoreConfig() store.StoreConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	mode := c.Database.Mode
	if mode == "" {
		mode = "standalone"
	}
	return store.StoreConfig{
		Mode:        mode,
		PostgresDSN: c.Database.PostgresDSN,
		SQLitePath:  ExpandHome(c.Database.SQLitePath),
	}
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Gateway = src.Gateway
	c.Database = src.Database
	c.Redis = src.Redis
	c.Telemetry = src.Telemetry
	c.Sessions = src.Sessions
	c.Dispatch = src.Dispatch
	c.Executor = src.Executor
}

// EmitLimit returns the per-instance emit rate and burst.
func (c *Config) EmitLimit() (float64, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Gateway.EmitRatePerSecond, c.Gateway.EmitBurst
}

// ExecutorLimit returns the per-bot call rate and burst.
func (c *Config) ExecutorLimit() (float64, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Executor.RatePerSecond, c.Executor.Burst
}

// ParseDuration parses s as a Go duration, returning def when s is empty or invalid.
func ParseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
