package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/zapdeskhq/zapdesk/internal/config"
	"github.com/zapdeskhq/zapdesk/internal/conversation"
	"github.com/zapdeskhq/zapdesk/internal/db"
	"github.com/zapdeskhq/zapdesk/internal/event"
	"github.com/zapdeskhq/zapdesk/internal/handlers"
	"github.com/zapdeskhq/zapdesk/internal/ingest"
	"github.com/zapdeskhq/zapdesk/internal/logger"
	"github.com/zapdeskhq/zapdesk/internal/media"
	"github.com/zapdeskhq/zapdesk/internal/message"
	"github.com/zapdeskhq/zapdesk/internal/outbound"
	"github.com/zapdeskhq/zapdesk/internal/realtime"
	"github.com/zapdeskhq/zapdesk/internal/routing"
	"github.com/zapdeskhq/zapdesk/internal/server"
	"github.com/zapdeskhq/zapdesk/internal/status"
	"github.com/zapdeskhq/zapdesk/internal/storage/providers/localfs"
	"github.com/zapdeskhq/zapdesk/internal/summarize"
	"github.com/zapdeskhq/zapdesk/internal/webhook"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			provideRoutingService,
			provideStorageProvider,
			provideOffloader,
			provideMessageStore,
			provideMessageReader,
			provideMessageWriter,
			event.NewHub,
			provideStatusEngine,
			provideSweeper,
			provideNormalizer,
			provideProcessor,
			provideAggregator,
			provideOutboundGateway,
			provideOutboundService,
			provideMigrator,
			provideSummarizer,
			provideRealtimeGateway,
			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(handlers.NewWebhookHandler),
			provideServerHandler(provideConversationsHandler),
			provideServerHandler(provideAdminHandler),
			provideServerHandler(func(gw *realtime.Gateway) *realtime.Gateway { return gw }),
			provideServer,
		),
		fx.Invoke(
			runMigrations,
			startSweeper,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideRoutingService(log *slog.Logger, conn *pgxpool.Pool, cfg config.Config) *routing.Service {
	return routing.NewService(log, routing.NewPGStore(conn), cfg.Routing.DefaultPartition)
}

func provideStorageProvider(cfg config.Config) (media.StorageProvider, error) {
	provider, err := localfs.New(cfg.Media.Root, cfg.Media.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("init media storage: %w", err)
	}
	return provider, nil
}

func provideOffloader(log *slog.Logger, provider media.StorageProvider, cfg config.Config) *media.Offloader {
	timeout := time.Duration(cfg.Media.UploadTimeoutSec) * time.Second
	return media.NewOffloader(log, provider, timeout)
}

func provideMessageStore(log *slog.Logger, conn *pgxpool.Pool) *message.Store {
	return message.NewStore(log, conn)
}

func provideMessageReader(store *message.Store) message.Reader { return store }
func provideMessageWriter(store *message.Store) message.Writer { return store }

func provideStatusEngine(log *slog.Logger, conn *pgxpool.Pool, store *message.Store, cfg config.Config) *status.Engine {
	return status.NewEngine(log, status.NewPGRepo(conn), store, cfg.Status.IdleThresholdDuration())
}

func provideSweeper(log *slog.Logger, engine *status.Engine, cfg config.Config) (*status.Sweeper, error) {
	return status.NewSweeper(log, engine, cfg.Status.SweepSchedule)
}

func provideNormalizer(log *slog.Logger, cfg config.Config) *webhook.Normalizer {
	return webhook.NewNormalizer(log, cfg.Webhook.BotPersona)
}

func provideProcessor(log *slog.Logger, normalizer *webhook.Normalizer, routingService *routing.Service, writer message.Writer, offloader *media.Offloader, hub *event.Hub, engine *status.Engine) *ingest.Processor {
	return ingest.NewProcessor(log, normalizer, routingService, writer, offloader, hub, engine)
}

func provideAggregator(log *slog.Logger, reader message.Reader, routingService *routing.Service, engine *status.Engine) *conversation.Aggregator {
	return conversation.NewAggregator(log, reader, routingService, engine)
}

// provideOutboundGateway returns a plain nil Gateway when no provider is
// configured, so the outbound service sees a true nil and reports
// ErrGatewayUnavailable instead of dialing an empty base URL.
func provideOutboundGateway(cfg config.Config) outbound.Gateway {
	if gw := outbound.NewHTTPGateway(cfg.Gateway.BaseURL, cfg.Gateway.APIKey); gw != nil {
		return gw
	}
	return nil
}

func provideOutboundService(log *slog.Logger, gateway outbound.Gateway, routingService *routing.Service, writer message.Writer, hub *event.Hub, engine *status.Engine, offloader *media.Offloader) *outbound.Service {
	return outbound.NewService(log, gateway, routingService, writer, hub, engine, offloader)
}

func provideMigrator(log *slog.Logger, offloader *media.Offloader, store *message.Store, cfg config.Config) *media.Migrator {
	return media.NewMigrator(log, offloader, store, media.MigratorConfig{
		Window:     cfg.Media.OffloadWindow,
		ItemDelay:  time.Duration(cfg.Media.ItemDelayMs) * time.Millisecond,
		BatchDelay: time.Duration(cfg.Media.BatchDelayMs) * time.Millisecond,
		BatchSize:  cfg.Media.BatchSize,
	})
}

// provideSummarizer is a placeholder until an AI summarization backend is
// wired in; the summary endpoint answers 503 while this is nil.
func provideSummarizer() summarize.Summarizer { return nil }

func provideRealtimeGateway(lc fx.Lifecycle, log *slog.Logger, hub *event.Hub, routingService *routing.Service) *realtime.Gateway {
	gw := realtime.NewGateway(log, hub, routingService)
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { gw.Close(); return nil }})
	return gw
}

func provideConversationsHandler(log *slog.Logger, aggregator *conversation.Aggregator, reader message.Reader, routingService *routing.Service, engine *status.Engine, sender *outbound.Service, summarizer summarize.Summarizer) *handlers.ConversationsHandler {
	return handlers.NewConversationsHandler(log, aggregator, reader, routingService, engine, sender, summarizer)
}

func provideAdminHandler(log *slog.Logger, routingService *routing.Service, migrator *media.Migrator) *handlers.AdminHandler {
	return handlers.NewAdminHandler(log, routingService, migrator)
}

type serverParams struct {
	fx.In
	Logger   *slog.Logger
	Config   config.Config
	Handlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.Config.Media.Root, params.Handlers)
}

func runMigrations(cfg config.Config, logger *slog.Logger) error {
	if err := db.Migrate(cfg.Postgres); err != nil {
		return fmt.Errorf("db migrate: %w", err)
	}
	logger.Info("database schema up to date")
	return nil
}

func startSweeper(lc fx.Lifecycle, sweeper *status.Sweeper) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { sweeper.Start(); return nil },
		OnStop:  func(ctx context.Context) error { return sweeper.Stop(ctx) },
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
