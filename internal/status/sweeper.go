package status

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Sweeper runs the idle-timeout sweep on a fixed schedule.
type Sweeper struct {
	engine   *cron.Cron
	statuses *Engine
	logger   *slog.Logger
}

// NewSweeper creates a sweeper. schedule is a cron spec ("@hourly" by
// default upstream).
func NewSweeper(log *slog.Logger, statuses *Engine, schedule string) (*Sweeper, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Sweeper{
		engine:   cron.New(),
		statuses: statuses,
		logger:   log.With(slog.String("service", "status_sweeper")),
	}
	if _, err := s.engine.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins the schedule.
func (s *Sweeper) Start() {
	s.engine.Start()
}

// Stop halts the schedule, waiting for a running sweep to finish.
func (s *Sweeper) Stop(ctx context.Context) error {
	stopped := s.engine.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) run() {
	if _, err := s.statuses.Sweep(context.Background()); err != nil {
		s.logger.Warn("idle sweep failed", slog.Any("error", err))
	}
}
