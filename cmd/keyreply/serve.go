package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/memohai/keyreply/internal/channel"
	"github.com/memohai/keyreply/internal/channel/adapters/bridge"
	"github.com/memohai/keyreply/internal/channel/adapters/browser"
	"github.com/memohai/keyreply/internal/channel/adapters/discord"
	"github.com/memohai/keyreply/internal/channel/adapters/slack"
	"github.com/memohai/keyreply/internal/channel/adapters/telegram"
	"github.com/memohai/keyreply/internal/channel/adapters/twilio"
	"github.com/memohai/keyreply/internal/config"
	"github.com/memohai/keyreply/internal/handlers"
	"github.com/memohai/keyreply/internal/logger"
	"github.com/memohai/keyreply/internal/reply"
	"github.com/memohai/keyreply/internal/server"
	"github.com/memohai/keyreply/internal/settings"
	"github.com/memohai/keyreply/internal/storage"
	"github.com/memohai/keyreply/internal/version"
	"github.com/memohai/keyreply/internal/watch"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook, the admin API and every configured chat transport",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app := fx.New(serveOptions(*configPath)...)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
}

func serveOptions(configPath string) []fx.Option {
	return []fx.Option{
		fx.Provide(
			func() (config.Config, error) { return loadConfig(configPath) },
			provideLogger,

			provideBackend,
			provideSettingsStore,
			provideReplyEngine,
			provideChannelRegistry,
			provideChannelManager,

			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(provideWebhookHandler),
			provideServerHandler(provideSettingsHandler),

			provideServer,
		),
		fx.Invoke(
			startSettings,
			startWatcher,
			startChannelManager,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			l := &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
			l.UseLogLevel(slog.LevelDebug)
			return l
		}),
	}
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideBackend(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (storage.Backend, error) {
	backend, err := storage.Open(context.Background(), log, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open settings store: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return backend.Close()
		},
	})
	return backend, nil
}

func provideSettingsStore(log *slog.Logger, backend storage.Backend) *settings.Store {
	return settings.NewStore(log, backend)
}

func provideReplyEngine(log *slog.Logger, store *settings.Store, cfg config.Config) *reply.Engine {
	return reply.NewEngine(log, store, reply.EngineOptions{FallbackText: cfg.Reply.FallbackText})
}

func provideChannelRegistry(log *slog.Logger) *channel.Registry {
	registry := channel.NewRegistry()
	registry.MustRegister(twilio.NewTwilioAdapter(log))
	registry.MustRegister(telegram.NewTelegramAdapter(log))
	registry.MustRegister(discord.NewDiscordAdapter(log))
	registry.MustRegister(slack.NewSlackAdapter(log))
	registry.MustRegister(bridge.NewBridgeAdapter(log))
	registry.MustRegister(browser.NewBrowserAdapter(log))
	return registry
}

func provideChannelManager(log *slog.Logger, registry *channel.Registry, engine *reply.Engine, cfg config.Config) *channel.Manager {
	return channel.NewManager(log, registry, engine, channel.ManagerOptions{
		Workers:   cfg.Reply.Workers,
		QueueSize: cfg.Reply.QueueSize,
	})
}

func provideWebhookHandler(log *slog.Logger, manager *channel.Manager) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, manager)
}

func provideSettingsHandler(log *slog.Logger, store *settings.Store, engine *reply.Engine) *handlers.SettingsHandler {
	return handlers.NewSettingsHandler(log, store, engine)
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.ServerHandlers...)
}

func startSettings(lc fx.Lifecycle, store *settings.Store) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return store.Bootstrap(ctx)
		},
	})
}

func startWatcher(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, backend storage.Backend, store *settings.Store) {
	source, ok := storage.Watchable(backend)
	if !cfg.Store.Watch || !ok {
		return
	}
	watcher := watch.New(log, source, store, watch.DefaultDebounce)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return watcher.Start(ctx)
		},
		OnStop: func(context.Context) error {
			return watcher.Stop()
		},
	})
}

func startChannelManager(lc fx.Lifecycle, manager *channel.Manager, cfg config.Config) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			manager.Start(ctx, channel.ConfigsFrom(cfg))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return manager.Shutdown(ctx)
		},
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	fmt.Printf("Starting keyreply %s\n", version.Get())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil { // block until server is stopped
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
