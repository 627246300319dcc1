// Package executor runs bot turns against the bot's HTTP endpoint and
// delivers its replies.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/botrelay/internal/bus"
	"github.com/nextlevelbuilder/botrelay/internal/channels"
	"github.com/nextlevelbuilder/botrelay/internal/dispatch"
	"github.com/nextlevelbuilder/botrelay/internal/sessions"
	"github.com/nextlevelbuilder/botrelay/internal/store"
)

// maxTypingDelay caps the simulated typing time of one message.
const maxTypingDelay = 20 * time.Second

// Outbox receives bot replies for delivery.
type Outbox interface {
	PublishOutbound(msg bus.OutboundMessage)
}

// Options tune the executor.
type Options struct {
	Timeout       time.Duration // per bot call; default 60s
	RatePerSecond float64       // calls per bot; 0 = unlimited
	Burst         int
}

// Webhook is the dispatch.Executor for bots reached over HTTP.
// The bot receives {query, remoteJid, pushName, sessionId, instance} and
// answers {message}.
type Webhook struct {
	client   *http.Client
	sessions *sessions.Manager
	outbox   Outbox
	limiter  *channels.KeyedRateLimiter

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewWebhook(mgr *sessions.Manager, outbox Outbox, opts Options) *Webhook {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &Webhook{
		client:   &http.Client{Timeout: opts.Timeout},
		sessions: mgr,
		outbox:   outbox,
		limiter:  channels.NewKeyedRateLimiter(opts.RatePerSecond, opts.Burst),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// SetRateLimit changes the per-bot call rate at runtime.
func (w *Webhook) SetRateLimit(perSecond float64, burst int) {
	w.limiter.SetLimit(perSecond, burst)
}

type botRequest struct {
	Query     string         `json:"query"`
	RemoteJID string         `json:"remoteJid"`
	PushName  string         `json:"pushName,omitempty"`
	SessionID string         `json:"sessionId"`
	Instance  string         `json:"instance"`
	MessageID string         `json:"messageId,omitempty"`
	Quoted    map[string]any `json:"quoted,omitempty"`
}

type botResponse struct {
	Message string `json:"message"`
}

// ProcessBot runs one bot turn.
func (w *Webhook) ProcessBot(ctx context.Context, req dispatch.Request) error {
	cfg := req.Config
	sess := req.Session

	if sess != nil && cfg.Expire > 0 && w.now().Sub(sess.UpdatedAt) > cfg.ExpireAfter() {
		slog.Info("executor: session expired, starting a new one",
			"instance", req.Instance.Name, "remote_jid", req.RemoteJID, "session", sess.ID)
		if err := w.sessions.Close(ctx, sess, cfg.KeepOpen); err != nil {
			return fmt.Errorf("close expired session: %w", err)
		}
		sess = nil
	}

	if cfg.Finishes(req.Content) {
		if sess != nil {
			if err := w.sessions.Close(ctx, sess, cfg.KeepOpen); err != nil {
				return fmt.Errorf("finish session: %w", err)
			}
			slog.Info("executor: session finished by keyword",
				"instance", req.Instance.Name, "remote_jid", req.RemoteJID, "session", sess.ID)
		}
		return nil
	}

	if sess == nil {
		var err error
		if sess, err = w.sessions.Open(ctx, req.Instance.ID, req.RemoteJID, req.Bot.ID); err != nil {
			return err
		}
	}

	if strings.TrimSpace(req.Content) == "" {
		if cfg.UnknownMessage != "" {
			w.send(ctx, req, sess, cfg.UnknownMessage)
		}
		return nil
	}

	// The bot has the floor until it answers.
	sess.Status = store.SessionOpened
	sess.AwaitUser = false
	if err := w.sessions.Save(ctx, sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	reply, err := w.call(ctx, req, sess)
	if err != nil {
		w.release(sess)
		return err
	}

	if reply == "" {
		reply = cfg.UnknownMessage
	}
	if reply != "" {
		w.deliver(ctx, req, sess, reply)
	}

	sess.AwaitUser = true
	if err := w.sessions.Save(ctx, sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// release hands the floor back to the user after a failed call so the
// conversation is not stuck.
func (w *Webhook) release(sess *store.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sess.AwaitUser = true
	if err := w.sessions.Save(ctx, sess); err != nil {
		slog.Warn("executor: release session failed", "session", sess.ID, "error", err)
	}
}

func (w *Webhook) call(ctx context.Context, req dispatch.Request, sess *store.Session) (string, error) {
	if err := w.limiter.Limiter(req.Bot.ID.String()).Wait(ctx); err != nil {
		return "", fmt.Errorf("bot %s: rate limit: %w", req.Bot.ID, err)
	}

	data, err := json.Marshal(botRequest{
		Query:     req.Content,
		RemoteJID: req.RemoteJID,
		PushName:  req.PushName,
		SessionID: sess.ID.String(),
		Instance:  req.Instance.Name,
		MessageID: req.MessageID,
		Quoted:    req.Quoted,
	})
	if err != nil {
		return "", fmt.Errorf("bot %s: marshal request: %w", req.Bot.ID, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", req.Bot.APIURL, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("bot %s: create request: %w", req.Bot.ID, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Bot.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Bot.APIKey)
	}

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("bot %s: request failed: %w", req.Bot.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", &HTTPError{Status: resp.StatusCode, Body: channels.Truncate(string(body), 200)}
	}

	var out botResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("bot %s: decode response: %w", req.Bot.ID, err)
	}
	return out.Message, nil
}

// deliver sends reply, split on blank lines when configured, pacing each
// part by the typing and inter-message delays.
func (w *Webhook) deliver(ctx context.Context, req dispatch.Request, sess *store.Session, reply string) {
	parts := []string{reply}
	if req.Config.SplitMessages {
		parts = SplitMessage(reply)
	}
	for i, part := range parts {
		if i > 0 && req.Config.DelayMessage > 0 {
			if w.sleep(ctx, time.Duration(req.Config.DelayMessage)*time.Millisecond) != nil {
				return
			}
		}
		if d := TypingDelay(part, req.Config.TimePerChar); d > 0 {
			if w.sleep(ctx, d) != nil {
				return
			}
		}
		w.send(ctx, req, sess, part)
	}
}

func (w *Webhook) send(_ context.Context, req dispatch.Request, sess *store.Session, content string) {
	w.outbox.PublishOutbound(bus.OutboundMessage{
		Instance:  req.Instance.Name,
		RemoteJID: req.RemoteJID,
		Content:   content,
		Metadata: map[string]string{
			"bot_id":     req.Bot.ID.String(),
			"session_id": sess.ID.String(),
		},
	})
}

// SplitMessage splits text into the non-empty paragraphs separated by blank lines.
func SplitMessage(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var parts []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return []string{text}
	}
	return parts
}

// TypingDelay is the simulated typing time of text at perChar milliseconds per character.
func TypingDelay(text string, perChar int) time.Duration {
	if perChar <= 0 {
		return 0
	}
	d := time.Duration(len([]rune(text))*perChar) * time.Millisecond
	return min(d, maxTypingDelay)
}

// HTTPError is a non-200 answer from a bot endpoint.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("bot endpoint returned %d: %s", e.Status, e.Body)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
