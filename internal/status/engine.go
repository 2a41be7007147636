package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ReadMarker is the message-store hook used when a conversation is viewed.
type ReadMarker interface {
	MarkRead(ctx context.Context, partition, sessionID string) error
}

// Engine applies the conversation status state machine. Persistence
// failures on UI-facing paths are logged and swallowed: the caller's action
// stays best-effort successful, and a lost write reads back as the unread
// default.
type Engine struct {
	repo          Repo
	readMarker    ReadMarker
	idleThreshold time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

// NewEngine creates a status engine. idleThreshold is how long an
// in_progress conversation may sit without traffic before the sweep
// resolves it.
func NewEngine(log *slog.Logger, repo Repo, readMarker ReadMarker, idleThreshold time.Duration) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if idleThreshold <= 0 {
		idleThreshold = 24 * time.Hour
	}
	return &Engine{
		repo:          repo,
		readMarker:    readMarker,
		idleThreshold: idleThreshold,
		logger:        log.With(slog.String("service", "status_engine")),
		now:           time.Now,
	}
}

// Get reads a conversation's status, defaulting to unread when no record
// exists or the read fails.
func (e *Engine) Get(ctx context.Context, channelKey, sessionID string) Record {
	record, err := e.repo.Get(ctx, channelKey, sessionID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			e.logger.Warn("status read failed, defaulting to unread",
				slog.String("channel", channelKey), slog.Any("error", err))
		}
		return Record{
			ChannelKey:     channelKey,
			SessionID:      sessionID,
			Status:         StateUnread,
			LastActivityAt: e.now(),
		}
	}
	return record
}

// OnInboundMessage applies the new-message rule: any inbound message
// forces the conversation to unread from any state and clears
// autoResolvedAt. at is the message's logical timestamp.
func (e *Engine) OnInboundMessage(ctx context.Context, channelKey, sessionID string, at time.Time) {
	record := e.Get(ctx, channelKey, sessionID)
	record.Status = StateUnread
	if at.After(record.LastActivityAt) || record.LastActivityAt.IsZero() {
		record.LastActivityAt = at
	}
	record.AutoResolvedAt = nil
	e.persist(ctx, record, "inbound message")
}

// Touch records outbound/agent traffic: activity is bumped and
// autoResolvedAt cleared, but the state itself is not changed.
func (e *Engine) Touch(ctx context.Context, channelKey, sessionID string, at time.Time) {
	record := e.Get(ctx, channelKey, sessionID)
	if at.After(record.LastActivityAt) {
		record.LastActivityAt = at
	}
	record.AutoResolvedAt = nil
	e.persist(ctx, record, "activity touch")
}

// MarkViewed handles an agent opening the conversation: unread moves to
// in_progress, underlying messages are marked read where the partition
// supports it, and autoResolvedAt is cleared.
func (e *Engine) MarkViewed(ctx context.Context, channelKey, sessionID string) Record {
	record := e.Get(ctx, channelKey, sessionID)
	if record.Status == StateUnread {
		record.Status = StateInProgress
	}
	now := e.now()
	record.LastViewedAt = &now
	record.AutoResolvedAt = nil
	e.persist(ctx, record, "mark viewed")

	if e.readMarker != nil {
		if err := e.readMarker.MarkRead(ctx, channelKey, sessionID); err != nil {
			e.logger.Warn("mark read failed",
				slog.String("channel", channelKey),
				slog.String("session", sessionID),
				slog.Any("error", err))
		}
	}
	return record
}

// SetStatus applies a manual agent change. Reachable manual transitions:
// in_progress -> resolved, and any state -> in_progress. A manual move to
// unread is forbidden; only new traffic reopens to unread.
func (e *Engine) SetStatus(ctx context.Context, channelKey, sessionID string, target State) (Record, error) {
	if !target.Valid() {
		return Record{}, fmt.Errorf("state %q: %w", target, ErrInvalidTransition)
	}
	record := e.Get(ctx, channelKey, sessionID)
	switch target {
	case StateUnread:
		return Record{}, fmt.Errorf("manual reopen to unread: %w", ErrInvalidTransition)
	case StateInProgress:
		record.Status = StateInProgress
		record.AutoResolvedAt = nil
	case StateResolved:
		if record.Status == StateResolved {
			return record, nil
		}
		if record.Status != StateInProgress {
			return Record{}, fmt.Errorf("resolve from %q: %w", record.Status, ErrInvalidTransition)
		}
		record.Status = StateResolved
	}
	e.persist(ctx, record, "manual status change")
	return record, nil
}

// Sweep auto-resolves in_progress conversations idle past the threshold,
// stamping autoResolvedAt. It is idempotent: unread and already-resolved
// conversations are never touched.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	cutoff := e.now().Add(-e.idleThreshold)
	idle, err := e.repo.ListIdleInProgress(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list idle conversations: %w", err)
	}

	resolved := 0
	for _, record := range idle {
		if record.Status != StateInProgress {
			continue
		}
		now := e.now()
		record.Status = StateResolved
		record.AutoResolvedAt = &now
		if err := e.repo.Upsert(ctx, record); err != nil {
			e.logger.Warn("auto-resolve persist failed",
				slog.String("channel", record.ChannelKey),
				slog.String("session", record.SessionID),
				slog.Any("error", err))
			continue
		}
		resolved++
	}
	if resolved > 0 {
		e.logger.Info("idle sweep resolved conversations", slog.Int("count", resolved))
	}
	return resolved, nil
}

func (e *Engine) persist(ctx context.Context, record Record, action string) {
	if err := e.repo.Upsert(ctx, record); err != nil {
		e.logger.Warn("status persist failed, continuing best-effort",
			slog.String("action", action),
			slog.String("channel", record.ChannelKey),
			slog.String("session", record.SessionID),
			slog.Any("error", err))
	}
}
