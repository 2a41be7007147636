package media

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// InlineRow is one legacy message row still carrying an inline payload.
type InlineRow struct {
	ID      int64
	Payload string
	Kind    Kind
}

// InlineStore is the slice of the message store the migrator needs: finding
// rows with inline payloads and rewriting them once offloaded.
type InlineStore interface {
	// ListInline returns up to limit inline-payload rows with id > afterID,
	// ascending. The cursor keeps one sweep from rescanning rows it failed
	// on; those wait for the next sweep.
	ListInline(ctx context.Context, partition string, afterID int64, limit int) ([]InlineRow, error)
	RewriteOffloaded(ctx context.Context, partition string, id int64, url, placeholder string, kind Kind) error
}

// TableReport summarizes one partition's migration pass.
type TableReport struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
}

// Report summarizes a whole migration sweep.
type Report struct {
	TotalProcessed int                    `json:"totalProcessed"`
	TotalErrors    int                    `json:"totalErrors"`
	PerTable       map[string]TableReport `json:"perTable"`
}

// MigratorConfig carries the pacing policy. The delays and the small
// concurrency window are backpressure against the storage backend's rate
// limits; raising the window without rate-limit protection is an anti-goal.
type MigratorConfig struct {
	Window     int
	ItemDelay  time.Duration
	BatchDelay time.Duration
	BatchSize  int
}

// Migrator sweeps partitions converting inline-payload rows into
// blob-referenced rows.
type Migrator struct {
	offloader *Offloader
	store     InlineStore
	cfg       MigratorConfig
	logger    *slog.Logger
}

// NewMigrator creates a batch migrator.
func NewMigrator(log *slog.Logger, offloader *Offloader, store InlineStore, cfg MigratorConfig) *Migrator {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Window <= 0 {
		cfg.Window = 3
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Migrator{
		offloader: offloader,
		store:     store,
		cfg:       cfg,
		logger:    log.With(slog.String("service", "media_migrator")),
	}
}

// Run sweeps the given partitions. Per-item failures are isolated: a
// corrupt payload or failed upload is counted and skipped, never aborting
// the batch, and the failed row is left untouched for a later pass.
func (m *Migrator) Run(ctx context.Context, partitions []string) Report {
	report := Report{PerTable: map[string]TableReport{}}
	for _, partition := range partitions {
		table := m.runPartition(ctx, partition)
		report.PerTable[partition] = table
		report.TotalProcessed += table.Processed
		report.TotalErrors += table.Errors
		if ctx.Err() != nil {
			break
		}
	}
	m.logger.Info("media migration sweep done",
		slog.Int("processed", report.TotalProcessed),
		slog.Int("errors", report.TotalErrors))
	return report
}

func (m *Migrator) runPartition(ctx context.Context, partition string) TableReport {
	var table TableReport
	var cursor int64
	for {
		rows, err := m.store.ListInline(ctx, partition, cursor, m.cfg.BatchSize)
		if err != nil {
			m.logger.Warn("list inline rows failed",
				slog.String("partition", partition), slog.Any("error", err))
			table.Errors++
			return table
		}
		if len(rows) == 0 {
			return table
		}
		cursor = rows[len(rows)-1].ID

		processed, errs := m.runBatch(ctx, partition, rows)
		table.Processed += processed
		table.Errors += errs
		if ctx.Err() != nil {
			return table
		}
		sleepCtx(ctx, m.cfg.BatchDelay)
	}
}

func (m *Migrator) runBatch(ctx context.Context, partition string, rows []InlineRow) (processed, errs int) {
	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		slot = make(chan struct{}, m.cfg.Window)
	)
	for i, row := range rows {
		if ctx.Err() != nil {
			break
		}
		if i > 0 {
			sleepCtx(ctx, m.cfg.ItemDelay)
		}
		slot <- struct{}{}
		wg.Add(1)
		go func(row InlineRow) {
			defer wg.Done()
			defer func() { <-slot }()
			err := m.migrateRow(ctx, partition, row)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs++
				return
			}
			processed++
		}(row)
	}
	wg.Wait()
	return processed, errs
}

func (m *Migrator) migrateRow(ctx context.Context, partition string, row InlineRow) error {
	offloaded, err := m.offloader.Offload(ctx, row.Payload)
	if err != nil {
		m.logger.Warn("offload failed",
			slog.String("partition", partition),
			slog.Int64("id", row.ID),
			slog.Any("error", err))
		return err
	}
	kind := row.Kind
	if kind == "" || kind == KindText {
		kind = offloaded.Kind
	}
	if err := m.store.RewriteOffloaded(ctx, partition, row.ID, offloaded.URL, kind.Placeholder(), kind); err != nil {
		m.logger.Warn("rewrite offloaded row failed",
			slog.String("partition", partition),
			slog.Int64("id", row.ID),
			slog.Any("error", err))
		return err
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
