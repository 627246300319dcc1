package cmd

import (
	"context"
	"log/slog"

	"github.com/nextlevelbuilder/botrelay/internal/bus"
	"github.com/nextlevelbuilder/botrelay/internal/dispatch"
)

// emitter is the dispatch entry point fed by the inbound consumer.
type emitter interface {
	Emit(ctx context.Context, msg bus.InboundMessage) dispatch.Outcome
}

// submitter serializes work per conversation.
type submitter interface {
	Submit(key string, fn func()) bool
}

// consumeInboundMessages drains the inbound queue until ctx is done.
// Duplicates (same instance and message id) are skipped; everything else is
// emitted on the conversation's lane so arrivals for one chat stay ordered.
func consumeInboundMessages(ctx context.Context, msgBus *bus.MessageBus, dedupe bus.Deduper, lanes submitter, engine emitter) {
	slog.Info("inbound consumer started")
	for {
		msg, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			slog.Info("inbound consumer stopped")
			return
		}

		if msg.MessageID != "" && dedupe != nil {
			key := msg.Instance + "|" + msg.MessageID
			if dedupe.IsDuplicate(key) {
				slog.Debug("dedup: skipping duplicate message", "key", key)
				continue
			}
		}

		// The emit outlives the consumer loop during shutdown drain.
		emitCtx := context.WithoutCancel(ctx)
		accepted := lanes.Submit(bus.DebounceKey(msg.Instance, msg.RemoteJID), func() {
			out := engine.Emit(emitCtx, msg)
			slog.Debug("inbound dispatched",
				"instance", msg.Instance,
				"remote_jid", msg.RemoteJID,
				"action", out.Action,
				"reason", out.Reason,
			)
		})
		if !accepted {
			slog.Warn("inbound dropped during shutdown", "instance", msg.Instance, "remote_jid", msg.RemoteJID)
		}
	}
}
