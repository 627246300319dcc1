package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:              "0.0.0.0",
			Port:              18800,
			EmitRatePerSecond: 20,
			EmitBurst:         40,
			LogLevel:          "info",
		},
		Database: DatabaseConfig{
			Mode:       "standalone",
			SQLitePath: "~/.botrelay/botrelay.db",
		},
		Redis: RedisConfig{
			DedupePrefix: "botrelay:dedupe:",
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "botrelay-gateway",
		},
		Sessions: SessionsConfig{
			SweepCron: "* * * * *",
		},
		Dispatch: DispatchConfig{
			InboundBuffer: 256,
			MaxConcurrent: 64,
			DedupeTTL:     "20m",
			DedupeMax:     5000,
		},
		Executor: ExecutorConfig{
			Timeout:         "60s",
			RatePerSecond:   5,
			Burst:           10,
			DeliveryTimeout: "15s",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields the defaults plus env overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	// Gateway
	envStr("BOTRELAY_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("BOTRELAY_HOST", &c.Gateway.Host)
	if v := os.Getenv("BOTRELAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}
	if v := os.Getenv("BOTRELAY_ALLOWED_ORIGINS"); v != "" {
		c.Gateway.AllowedOrigins = strings.Split(v, ",")
	}
	envStr("BOTRELAY_LOG_LEVEL", &c.Gateway.LogLevel)

	// Database
	envStr("BOTRELAY_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("BOTRELAY_MODE", &c.Database.Mode)
	envStr("BOTRELAY_SQLITE_PATH", &c.Database.SQLitePath)

	// Redis
	envStr("BOTRELAY_REDIS_URL", &c.Redis.URL)

	// Telemetry
	envStr("BOTRELAY_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("BOTRELAY_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("BOTRELAY_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	envBool("BOTRELAY_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envBool("BOTRELAY_TELEMETRY_INSECURE", &c.Telemetry.Insecure)

	// Sessions
	envStr("BOTRELAY_SWEEP_CRON", &c.Sessions.SweepCron)
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a SHA-256 hash of the config, used to skip no-op reloads.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

const secretMask = "***"

// MaskedCopy returns a deep copy of the config with secret fields masked.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Deep copy via JSON round-trip
	data, err := json.Marshal(c)
	if err != nil {
		return &Config{}
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}
	maskNonEmpty(&cp.Gateway.Token)
	for k := range cp.Telemetry.Headers {
		cp.Telemetry.Headers[k] = secretMask
	}
	return cp
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = secretMask
	}
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
