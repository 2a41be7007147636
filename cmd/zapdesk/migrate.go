package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/zapdeskhq/zapdesk/internal/config"
	"github.com/zapdeskhq/zapdesk/internal/db"
	"github.com/zapdeskhq/zapdesk/internal/logger"
	"github.com/zapdeskhq/zapdesk/internal/media"
	"github.com/zapdeskhq/zapdesk/internal/message"
	"github.com/zapdeskhq/zapdesk/internal/routing"
	"github.com/zapdeskhq/zapdesk/internal/storage/providers/localfs"
)

// runMigrateMedia sweeps every partition once, offloading inline base64
// payloads to blob storage, and prints the per-table summary.
func runMigrateMedia(ctx context.Context) error {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	log := logger.L

	conn, err := db.Open(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer conn.Close()

	provider, err := localfs.New(cfg.Media.Root, cfg.Media.BaseURL)
	if err != nil {
		return fmt.Errorf("init media storage: %w", err)
	}

	routingService := routing.NewService(log, routing.NewPGStore(conn), cfg.Routing.DefaultPartition)
	partitions, err := routingService.Partitions(ctx)
	if err != nil {
		return fmt.Errorf("list partitions: %w", err)
	}

	offloader := media.NewOffloader(log, provider, time.Duration(cfg.Media.UploadTimeoutSec)*time.Second)
	migrator := media.NewMigrator(log, offloader, message.NewStore(log, conn), media.MigratorConfig{
		Window:     cfg.Media.OffloadWindow,
		ItemDelay:  time.Duration(cfg.Media.ItemDelayMs) * time.Millisecond,
		BatchDelay: time.Duration(cfg.Media.BatchDelayMs) * time.Millisecond,
		BatchSize:  cfg.Media.BatchSize,
	})

	report := migrator.Run(ctx, partitions)
	for table, tr := range report.PerTable {
		log.Info("partition swept",
			slog.String("table", table),
			slog.Int("processed", tr.Processed),
			slog.Int("errors", tr.Errors),
		)
	}
	log.Info("media migration finished",
		slog.Int("total_processed", report.TotalProcessed),
		slog.Int("total_errors", report.TotalErrors),
	)
	return nil
}
