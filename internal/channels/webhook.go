package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/botrelay/internal/bus"
	"github.com/nextlevelbuilder/botrelay/internal/store"
)

// WebhookChannel posts bot replies to the webhook URL of their instance.
type WebhookChannel struct {
	*BaseChannel
	instances store.InstanceStore
	client    *http.Client
}

func NewWebhookChannel(instances store.InstanceStore, timeout time.Duration) *WebhookChannel {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &WebhookChannel{
		BaseChannel: NewBaseChannel(DefaultChannel),
		instances:   instances,
		client:      &http.Client{Timeout: timeout},
	}
}

func (c *WebhookChannel) Start(_ context.Context) error {
	c.SetRunning(true)
	return nil
}

func (c *WebhookChannel) Stop(_ context.Context) error {
	c.SetRunning(false)
	return nil
}

func (c *WebhookChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	inst, err := c.instances.GetByName(ctx, msg.Instance)
	if err != nil {
		return fmt.Errorf("webhook: instance %q: %w", msg.Instance, err)
	}
	if inst.WebhookURL == "" {
		slog.Debug("webhook: instance has no webhook url, reply dropped",
			"instance", msg.Instance, "remote_jid", msg.RemoteJID)
		return nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", inst.WebhookURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook: status %d: %s", resp.StatusCode, Truncate(string(body), 200))
	}
	return nil
}
