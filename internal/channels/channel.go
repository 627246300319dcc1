// Package channels delivers bot replies produced by the executor to the
// messaging side of an instance.
//
// The dispatch loop consumes outbound messages from the bus and routes each
// one to a registered Channel by name.
package channels

import (
	"context"
	"sync/atomic"

	"github.com/nextlevelbuilder/botrelay/internal/bus"
)

// DefaultChannel receives outbound messages that name no channel.
const DefaultChannel = "webhook"

// Channel defines the interface that all delivery channels must satisfy.
type Channel interface {
	// Name returns the channel identifier (e.g., "webhook", "log").
	Name() string

	// Start prepares the channel. Should be non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// Send delivers an outbound message.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// IsRunning returns whether the channel is accepting messages.
	IsRunning() bool
}

// BaseChannel provides shared functionality for channel implementations.
type BaseChannel struct {
	name    string
	running atomic.Bool
}

func NewBaseChannel(name string) *BaseChannel {
	return &BaseChannel{name: name}
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// IsRunning returns whether the channel is running.
func (c *BaseChannel) IsRunning() bool { return c.running.Load() }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running.Store(running) }

// Truncate shortens a string to maxLen, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
