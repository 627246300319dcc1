package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	data := `{
		// comments are allowed
		gateway: { port: 9000, emit_rate_per_second: 2 },
		database: { mode: "memory" },
	}`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BOTRELAY_GATEWAY_TOKEN", "tok")
	t.Setenv("BOTRELAY_PORT", "9100")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gateway.Port != 9100 {
		t.Errorf("port = %d, want env override 9100", cfg.Gateway.Port)
	}
	if cfg.Gateway.Token != "tok" {
		t.Errorf("token = %q", cfg.Gateway.Token)
	}
	if rps, burst := cfg.EmitLimit(); rps != 2 || burst != 40 {
		t.Errorf("emit limit = %v/%d", rps, burst)
	}
	if got := cfg.StoreConfig().Mode; got != "memory" {
		t.Errorf("mode = %q", got)
	}
	if cfg.Sessions.SweepCron != "* * * * *" {
		t.Errorf("default sweep cron lost: %q", cfg.Sessions.SweepCron)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gateway.Port != Default().Gateway.Port {
		t.Errorf("port = %d", cfg.Gateway.Port)
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(path, []byte("{gateway: "), 0600)
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestMaskedCopy(t *testing.T) {
	cfg := Default()
	cfg.Gateway.Token = "secret"
	cp := cfg.MaskedCopy()
	if cp.Gateway.Token != secretMask {
		t.Errorf("token = %q", cp.Gateway.Token)
	}
	if cfg.Gateway.Token != "secret" {
		t.Error("original modified")
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", time.Second},
		{"5m", 5 * time.Minute},
		{"bogus", time.Second},
		{"-1s", time.Second},
	}
	for _, tt := range tests {
		if got := ParseDuration(tt.in, time.Second); got != tt.want {
			t.Errorf("ParseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	if err := os.WriteFile(path, []byte(`{gateway: {emit_burst: 1}}`), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changed := make(chan *Config, 1)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, cfg, func(c *Config) {
			select {
			case changed <- c:
			default:
			}
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte(`{gateway: {emit_burst: 7}}`), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-changed:
		if c.Gateway.EmitBurst != 7 {
			t.Errorf("burst = %d, want 7", c.Gateway.EmitBurst)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload observed")
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("watch: %v", err)
	}
}
