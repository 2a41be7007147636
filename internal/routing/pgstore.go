package routing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// partitionSchema is the row shape every message partition is created with.
// Legacy partitions migrated from other systems may lack the is_read
// column; the message store probes for it instead of assuming it.
const partitionSchema = `
CREATE TABLE IF NOT EXISTS %s (
    id BIGSERIAL PRIMARY KEY,
    provider_message_id TEXT,
    session_id TEXT NOT NULL,
    contact_name TEXT,
    content TEXT NOT NULL DEFAULT '',
    sender_kind TEXT NOT NULL DEFAULT 'external_contact',
    media_type TEXT NOT NULL DEFAULT 'text',
    media_ref TEXT,
    is_read BOOLEAN DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PGStore is the Postgres-backed routing store.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a routing store over the shared pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) ListMappings(ctx context.Context) ([]Mapping, error) {
	rows, err := s.pool.Query(ctx, `SELECT channel_key, partition_name FROM channel_mappings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mappings []Mapping
	for rows.Next() {
		var m Mapping
		if err := rows.Scan(&m.ChannelKey, &m.PartitionName); err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

func (s *PGStore) InsertMappings(ctx context.Context, mappings []Mapping) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for _, m := range mappings {
		if _, err := tx.Exec(ctx,
			`INSERT INTO channel_mappings (channel_key, partition_name) VALUES ($1, $2)`,
			m.ChannelKey, m.PartitionName,
		); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return fmt.Errorf("alias %q: %w", m.ChannelKey, ErrChannelExists)
			}
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PGStore) CreatePartition(ctx context.Context, partition string) error {
	table := pgx.Identifier{partition}.Sanitize()
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(partitionSchema, table)); err != nil {
		return err
	}
	index := pgx.Identifier{"idx_" + partition + "_session"}.Sanitize()
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s ON %s (session_id, created_at DESC)`, index, table)); err != nil {
		return err
	}
	// The message store's insert dedupes through ON CONFLICT arbiter
	// inference, which needs this partial unique index on every partition.
	unique := pgx.Identifier{"ux_" + partition + "_provider_id"}.Sanitize()
	_, err := s.pool.Exec(ctx, fmt.Sprintf(
		`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (provider_message_id) WHERE provider_message_id IS NOT NULL`,
		unique, table))
	return err
}

func (s *PGStore) RenamePartition(ctx context.Context, oldPartition, newPartition string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	oldTable := pgx.Identifier{oldPartition}.Sanitize()
	newTable := pgx.Identifier{newPartition}.Sanitize()
	if _, err := tx.Exec(ctx, fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`, oldTable, newTable)); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx,
		`UPDATE channel_mappings SET partition_name = $1 WHERE partition_name = $2`,
		newPartition, oldPartition)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("partition %q: %w", oldPartition, ErrUnknownPartition)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE conversation_status SET channel_key = $1 WHERE channel_key = $2`,
		newPartition, oldPartition); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) DropPartition(ctx context.Context, partition string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx,
		`DELETE FROM channel_mappings WHERE partition_name = $1`, partition); err != nil {
		return err
	}
	table := pgx.Identifier{partition}.Sanitize()
	if _, err := tx.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, table)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
