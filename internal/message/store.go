package message

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zapdeskhq/zapdesk/internal/media"
)

// minInlineLength filters ListInline candidates: anything shorter cannot be
// a meaningful base64 media payload.
const minInlineLength = 1024

// Store is the Postgres message log, one dynamically-named table per
// partition. Read-state support varies: legacy partitions imported without
// an is_read column keep working, with read marking degrading to a no-op.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger

	mu            sync.RWMutex
	readCapable   map[string]bool
	dedupeCapable map[string]bool
}

// NewStore creates a message store over the shared pool.
func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		pool:          pool,
		logger:        log.With(slog.String("service", "message_store")),
		readCapable:   map[string]bool{},
		dedupeCapable: map[string]bool{},
	}
}

// Insert appends a message to the partition. Duplicate provider message ids
// (webhook redelivery) are an idempotent no-op returning the stored row.
func (s *Store) Insert(ctx context.Context, partition string, msg RawMessage) (RawMessage, bool, error) {
	capable, err := s.supportsRead(ctx, partition)
	if err != nil {
		return RawMessage{}, false, err
	}
	deduped, err := s.supportsDedupe(ctx, partition)
	if err != nil {
		return RawMessage{}, false, err
	}
	table := pgx.Identifier{partition}.Sanitize()

	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	isRead := false
	if msg.IsRead != nil {
		isRead = *msg.IsRead
	}

	// Tables without the partial unique index cannot use ON CONFLICT
	// arbiter inference (SQLSTATE 42P10); dedupe there is a pre-select.
	if !deduped && msg.ProviderMessageID != "" {
		existing, findErr := s.findByProviderID(ctx, partition, capable, msg.ProviderMessageID)
		switch {
		case findErr == nil:
			return existing, false, nil
		case !errors.Is(findErr, pgx.ErrNoRows):
			return RawMessage{}, false, fmt.Errorf("probe duplicate in %s: %w", partition, findErr)
		}
	}
	conflictClause := ""
	if deduped {
		conflictClause = "ON CONFLICT (provider_message_id) WHERE provider_message_id IS NOT NULL DO NOTHING"
	}

	var row pgx.Row
	if capable {
		row = s.pool.QueryRow(ctx, fmt.Sprintf(`
			INSERT INTO %s (provider_message_id, session_id, contact_name, content, sender_kind, media_type, media_ref, is_read, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			%s
			RETURNING id`, table, conflictClause),
			textOrNil(msg.ProviderMessageID), msg.SessionID, textOrNil(msg.ContactName),
			msg.Content, string(msg.SenderKind), string(msg.MediaType), msg.MediaRef, isRead, createdAt)
	} else {
		row = s.pool.QueryRow(ctx, fmt.Sprintf(`
			INSERT INTO %s (provider_message_id, session_id, contact_name, content, sender_kind, media_type, media_ref, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			%s
			RETURNING id`, table, conflictClause),
			textOrNil(msg.ProviderMessageID), msg.SessionID, textOrNil(msg.ContactName),
			msg.Content, string(msg.SenderKind), string(msg.MediaType), msg.MediaRef, createdAt)
	}

	var id int64
	switch err := row.Scan(&id); {
	case err == nil:
		msg.ID = id
		msg.CreatedAt = createdAt
		if capable {
			msg.IsRead = &isRead
		} else {
			msg.IsRead = nil
		}
		return msg, true, nil
	case errors.Is(err, pgx.ErrNoRows) && msg.ProviderMessageID != "":
		existing, findErr := s.findByProviderID(ctx, partition, capable, msg.ProviderMessageID)
		if findErr != nil {
			return RawMessage{}, false, fmt.Errorf("load duplicate row: %w", findErr)
		}
		return existing, false, nil
	default:
		return RawMessage{}, false, fmt.Errorf("insert into %s: %w", partition, err)
	}
}

// ListBySession returns a session's messages newest-first. before, when
// set, is the oldest timestamp the caller already holds: only strictly
// older rows are returned, so pages never overlap and never leave a gap.
func (s *Store) ListBySession(ctx context.Context, partition, sessionID string, before *time.Time, limit int) ([]RawMessage, error) {
	capable, err := s.supportsRead(ctx, partition)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE session_id = $1 AND ($2::timestamptz IS NULL OR created_at < $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3`, selectColumns(capable), pgx.Identifier{partition}.Sanitize())

	var cursor pgtype.Timestamptz
	if before != nil {
		cursor = pgtype.Timestamptz{Time: *before, Valid: true}
	}
	rows, err := s.pool.Query(ctx, query, sessionID, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("list session %s: %w", sessionID, err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ListRecent returns the partition's most recent rows, newest-first, for
// conversation aggregation.
func (s *Store) ListRecent(ctx context.Context, partition string, limit int) ([]RawMessage, error) {
	capable, err := s.supportsRead(ctx, partition)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 500
	}
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		ORDER BY created_at DESC, id DESC
		LIMIT $1`, selectColumns(capable), pgx.Identifier{partition}.Sanitize())

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// MarkRead flags every message of a session as read. Partitions without an
// is_read column do not track read state; marking is silently skipped.
func (s *Store) MarkRead(ctx context.Context, partition, sessionID string) error {
	capable, err := s.supportsRead(ctx, partition)
	if err != nil {
		return err
	}
	if !capable {
		s.logger.Debug("partition does not track read state, skipping mark-read",
			slog.String("partition", partition))
		return nil
	}
	_, err = s.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET is_read = TRUE WHERE session_id = $1 AND is_read IS NOT TRUE`,
		pgx.Identifier{partition}.Sanitize()), sessionID)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// CountSince counts rows newer than the cursor.
func (s *Store) CountSince(ctx context.Context, partition string, since time.Time) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT count(*) FROM %s WHERE created_at > $1`,
		pgx.Identifier{partition}.Sanitize()), since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count since: %w", err)
	}
	return count, nil
}

// ListInline implements media.InlineStore: legacy rows whose content still
// holds an inline base64 payload instead of a blob reference.
func (s *Store) ListInline(ctx context.Context, partition string, afterID int64, limit int) ([]media.InlineRow, error) {
	query := fmt.Sprintf(`
		SELECT id, content, media_type FROM %s
		WHERE id > $1
		  AND media_ref IS NULL
		  AND (content LIKE 'data:%%' OR (length(content) > $2 AND content ~ '^[A-Za-z0-9+/=\s]+$'))
		ORDER BY id ASC
		LIMIT $3`, pgx.Identifier{partition}.Sanitize())

	rows, err := s.pool.Query(ctx, query, afterID, minInlineLength, limit)
	if err != nil {
		return nil, fmt.Errorf("list inline: %w", err)
	}
	defer rows.Close()

	var out []media.InlineRow
	for rows.Next() {
		var (
			row  media.InlineRow
			kind string
		)
		if err := rows.Scan(&row.ID, &row.Payload, &kind); err != nil {
			return nil, err
		}
		row.Kind = media.Kind(kind)
		out = append(out, row)
	}
	return out, rows.Err()
}

// RewriteOffloaded implements media.InlineStore: replaces an inline payload
// with its blob URL and localized placeholder caption.
func (s *Store) RewriteOffloaded(ctx context.Context, partition string, id int64, url, placeholder string, kind media.Kind) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET content = $1, media_ref = $2, media_type = $3 WHERE id = $4`,
		pgx.Identifier{partition}.Sanitize()), placeholder, url, string(kind), id)
	if err != nil {
		return fmt.Errorf("rewrite row %d: %w", id, err)
	}
	return nil
}

func (s *Store) findByProviderID(ctx context.Context, partition string, capable bool, providerID string) (RawMessage, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE provider_message_id = $1`,
		selectColumns(capable), pgx.Identifier{partition}.Sanitize())
	rows, err := s.pool.Query(ctx, query, providerID)
	if err != nil {
		return RawMessage{}, err
	}
	defer rows.Close()
	msgs, err := scanMessages(rows)
	if err != nil {
		return RawMessage{}, err
	}
	if len(msgs) == 0 {
		return RawMessage{}, pgx.ErrNoRows
	}
	return msgs[0], nil
}

// supportsRead probes information_schema once per partition and caches the
// answer; routing invalidation is not needed because a partition never
// gains or loses the column while mapped.
func (s *Store) supportsRead(ctx context.Context, partition string) (bool, error) {
	s.mu.RLock()
	capable, ok := s.readCapable[partition]
	s.mu.RUnlock()
	if ok {
		return capable, nil
	}

	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_name = $1 AND column_name = 'is_read'
		)`, partition).Scan(&capable)
	if err != nil {
		return false, fmt.Errorf("probe partition %s: %w", partition, err)
	}

	s.mu.Lock()
	s.readCapable[partition] = capable
	s.mu.Unlock()
	return capable, nil
}

// supportsDedupe probes for a unique index covering provider_message_id,
// cached per partition like supportsRead. Partitions provisioned through
// the routing store always have it; legacy imports may not.
func (s *Store) supportsDedupe(ctx context.Context, partition string) (bool, error) {
	s.mu.RLock()
	capable, ok := s.dedupeCapable[partition]
	s.mu.RUnlock()
	if ok {
		return capable, nil
	}

	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM pg_index i
			JOIN pg_class c ON c.oid = i.indrelid
			JOIN pg_attribute a ON a.attrelid = c.oid AND a.attnum = ANY (i.indkey)
			WHERE c.relname = $1
			  AND i.indisunique
			  AND a.attname = 'provider_message_id'
		)`, partition).Scan(&capable)
	if err != nil {
		return false, fmt.Errorf("probe partition %s: %w", partition, err)
	}

	s.mu.Lock()
	s.dedupeCapable[partition] = capable
	s.mu.Unlock()
	return capable, nil
}

func selectColumns(readCapable bool) string {
	isRead := "NULL::boolean AS is_read"
	if readCapable {
		isRead = "is_read"
	}
	return "id, provider_message_id, contact_name, session_id, content, sender_kind, media_type, media_ref, " + isRead + ", created_at"
}

func scanMessages(rows pgx.Rows) ([]RawMessage, error) {
	var out []RawMessage
	for rows.Next() {
		var (
			m           RawMessage
			providerID  pgtype.Text
			contactName pgtype.Text
			senderKind  string
			mediaType   string
			isRead      pgtype.Bool
		)
		if err := rows.Scan(&m.ID, &providerID, &contactName, &m.SessionID, &m.Content,
			&senderKind, &mediaType, &m.MediaRef, &isRead, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.ProviderMessageID = providerID.String
		m.ContactName = contactName.String
		m.SenderKind = SenderKind(senderKind)
		m.MediaType = media.Kind(mediaType)
		if isRead.Valid {
			v := isRead.Bool
			m.IsRead = &v
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func textOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
