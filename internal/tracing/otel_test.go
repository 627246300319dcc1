package tracing

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/botrelay/internal/config"
)

func TestSetup_DisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{}, "test")
	if err != nil {
		t.Fatal(err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestProtocolOf(t *testing.T) {
	tests := map[string]string{"": "grpc", "grpc": "grpc", "HTTP": "http", "other": "grpc"}
	for in, want := range tests {
		if got := protocolOf(config.TelemetryConfig{Protocol: in}); got != want {
			t.Errorf("protocolOf(%q) = %q, want %q", in, got, want)
		}
	}
}
