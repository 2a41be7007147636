package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepo is the Postgres status store.
type PGRepo struct {
	pool *pgxpool.Pool
}

// NewPGRepo creates a status repo over the shared pool.
func NewPGRepo(pool *pgxpool.Pool) *PGRepo {
	return &PGRepo{pool: pool}
}

func (r *PGRepo) Get(ctx context.Context, channelKey, sessionID string) (Record, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT channel_key, session_id, status, last_activity_at, last_viewed_at, auto_resolved_at
		FROM conversation_status
		WHERE channel_key = $1 AND session_id = $2`, channelKey, sessionID)
	record, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return record, err
}

func (r *PGRepo) Upsert(ctx context.Context, record Record) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO conversation_status (channel_key, session_id, status, last_activity_at, last_viewed_at, auto_resolved_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (channel_key, session_id) DO UPDATE SET
			status = EXCLUDED.status,
			last_activity_at = EXCLUDED.last_activity_at,
			last_viewed_at = EXCLUDED.last_viewed_at,
			auto_resolved_at = EXCLUDED.auto_resolved_at,
			updated_at = now()`,
		record.ChannelKey, record.SessionID, string(record.Status),
		record.LastActivityAt, optionalTime(record.LastViewedAt), optionalTime(record.AutoResolvedAt))
	if err != nil {
		return fmt.Errorf("upsert status: %w", err)
	}
	return nil
}

func (r *PGRepo) ListIdleInProgress(ctx context.Context, cutoff time.Time) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT channel_key, session_id, status, last_activity_at, last_viewed_at, auto_resolved_at
		FROM conversation_status
		WHERE status = $1 AND last_activity_at < $2`,
		string(StateInProgress), cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		record         Record
		state          string
		lastViewedAt   pgtype.Timestamptz
		autoResolvedAt pgtype.Timestamptz
	)
	if err := row.Scan(&record.ChannelKey, &record.SessionID, &state,
		&record.LastActivityAt, &lastViewedAt, &autoResolvedAt); err != nil {
		return Record{}, err
	}
	record.Status = State(state)
	if lastViewedAt.Valid {
		t := lastViewedAt.Time
		record.LastViewedAt = &t
	}
	if autoResolvedAt.Valid {
		t := autoResolvedAt.Time
		record.AutoResolvedAt = &t
	}
	return record, nil
}

func optionalTime(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}
