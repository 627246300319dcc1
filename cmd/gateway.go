package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/botrelay/internal/bus"
	"github.com/nextlevelbuilder/botrelay/internal/channels"
	"github.com/nextlevelbuilder/botrelay/internal/chatbot"
	"github.com/nextlevelbuilder/botrelay/internal/config"
	"github.com/nextlevelbuilder/botrelay/internal/dispatch"
	"github.com/nextlevelbuilder/botrelay/internal/executor"
	"github.com/nextlevelbuilder/botrelay/internal/gateway"
	httpapi "github.com/nextlevelbuilder/botrelay/internal/http"
	"github.com/nextlevelbuilder/botrelay/internal/sessions"
	"github.com/nextlevelbuilder/botrelay/internal/store"
	"github.com/nextlevelbuilder/botrelay/internal/store/memstore"
	"github.com/nextlevelbuilder/botrelay/internal/store/sqlstore"
	"github.com/nextlevelbuilder/botrelay/internal/tracing"
	"github.com/nextlevelbuilder/botrelay/pkg/protocol"
)

func runGateway() {
	level := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}
	level.Set(logLevel(cfg.Gateway.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serveGateway(ctx, cfg, cfgPath, level); err != nil {
		slog.Error("gateway error", "error", err)
		os.Exit(1)
	}
}

// logLevel maps the configured level name; -v always wins.
func logLevel(name string) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// openStores opens the backend selected by database.mode.
func openStores(cfg *config.Config) (*store.Stores, error) {
	sc := cfg.StoreConfig()
	switch sc.Mode {
	case "managed":
		return sqlstore.OpenPostgres(sc.PostgresDSN)
	case "memory":
		return memstore.New(), nil
	case "standalone":
		return sqlstore.OpenSQLite(sc.SQLitePath)
	}
	return nil, fmt.Errorf("unknown database mode %q", sc.Mode)
}

// newDeduper returns the redis-backed deduper when redis is configured,
// falling back to the in-process cache.
func newDeduper(ctx context.Context, cfg *config.Config) (bus.Deduper, func()) {
	ttl := config.ParseDuration(cfg.Dispatch.DedupeTTL, 20*time.Minute)
	local := bus.NewDedupeCache(ttl, cfg.Dispatch.DedupeMax)
	if cfg.Redis.URL == "" {
		return local, func() {}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rd, err := bus.NewRedisDedupe(pingCtx, cfg.Redis.URL, cfg.Redis.DedupePrefix, ttl, local)
	if err != nil {
		slog.Warn("redis dedupe unavailable, using in-process cache", "error", err)
		return local, func() {}
	}
	slog.Info("redis dedupe enabled", "prefix", cfg.Redis.DedupePrefix)
	return rd, func() { rd.Close() }
}

func serveGateway(ctx context.Context, cfg *config.Config, cfgPath string, level *slog.LevelVar) error {
	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry, Version)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	stores, err := openStores(cfg)
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer stores.Close()

	msgBus := bus.NewWithBuffer(cfg.Dispatch.InboundBuffer)
	dedupe, closeDedupe := newDeduper(ctx, cfg)
	defer closeDedupe()

	sessMgr := sessions.NewManager(stores.Sessions)

	// Replies travel executor -> bus -> channel manager -> instance webhook.
	channelMgr := channels.NewManager(msgBus)
	channelMgr.RegisterChannel(channels.NewWebhookChannel(stores.Instances,
		config.ParseDuration(cfg.Executor.DeliveryTimeout, 15*time.Second)))

	execRate, execBurst := cfg.ExecutorLimit()
	exec := executor.NewWebhook(sessMgr, msgBus, executor.Options{
		Timeout:       config.ParseDuration(cfg.Executor.Timeout, 60*time.Second),
		RatePerSecond: execRate,
		Burst:         execBurst,
	})

	lanes := dispatch.NewLanes(cfg.Dispatch.MaxConcurrent)
	debouncer := bus.NewDebouncer()
	engine := dispatch.NewEngine(dispatch.Config{
		Stores:    stores,
		Sessions:  sessMgr,
		Debouncer: debouncer,
		Lanes:     lanes,
		Executor:  exec,
		Events:    msgBus,
	})

	sweeper, err := sessions.NewSweeper(cfg.Sessions.SweepCron, stores, dispatch.ExpiryPolicy, msgBus)
	if err != nil {
		return err
	}

	emitRate, emitBurst := cfg.EmitLimit()
	emitLimiter := channels.NewKeyedRateLimiter(emitRate, emitBurst)
	svc := chatbot.NewService(stores, sessMgr, msgBus)

	server := gateway.NewServer(cfg, msgBus)
	server.SetChatbotHandler(httpapi.NewChatbotHandler(svc, engine, msgBus, emitLimiter, cfg.Gateway.Token))

	if err := channelMgr.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}

	slog.Info("botrelay gateway starting",
		"version", Version,
		"protocol", protocol.ProtocolVersion,
		"mode", cfg.StoreConfig().Mode,
		"redis", cfg.Redis.URL != "",
		"telemetry", cfg.Telemetry.Enabled,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error {
		consumeInboundMessages(gctx, msgBus, dedupe, lanes, engine)
		return nil
	})
	g.Go(func() error {
		err := config.Watch(gctx, cfgPath, cfg, func(next *config.Config) {
			cfg.ReplaceFrom(next)
			level.Set(logLevel(next.Gateway.LogLevel))
			emitLimiter.SetLimit(cfg.EmitLimit())
			exec.SetRateLimit(cfg.ExecutorLimit())
		})
		if err != nil {
			slog.Warn("config hot reload disabled", "path", cfgPath, "error", err)
		}
		return nil
	})

	err = g.Wait()
	slog.Info("graceful shutdown initiated")

	// Pending debounced turns are discarded; queued turns finish. A flush
	// racing Stop is refused by the closed lanes.
	debouncer.Stop()
	lanes.Close()
	if stopErr := channelMgr.StopAll(context.Background()); stopErr != nil {
		slog.Warn("failed to stop channels", "error", stopErr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
