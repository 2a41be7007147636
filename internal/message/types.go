// Package message is the per-channel partitioned message log: insert with
// provider-id dedupe, session range queries with a load-older cursor, and
// capability-aware read marking.
package message

import (
	"context"
	"time"

	"github.com/zapdeskhq/zapdesk/internal/media"
)

// SenderKind classifies who produced a message.
type SenderKind string

const (
	SenderInternalAgent   SenderKind = "internal_agent"
	SenderExternalContact SenderKind = "external_contact"
	SenderAIAgent         SenderKind = "ai_agent"
)

// RawMessage is one inbound or outbound unit in a partition. Rows are
// append-only except for is_read and the one-time inline-payload rewrite.
type RawMessage struct {
	ID                int64      `json:"id"`
	ProviderMessageID string     `json:"provider_message_id,omitempty"`
	SessionID         string     `json:"session_id"`
	ContactName       string     `json:"contact_name,omitempty"`
	Content           string     `json:"content"`
	SenderKind        SenderKind `json:"sender_kind"`
	MediaType         media.Kind `json:"media_type"`
	MediaRef          *string    `json:"media_ref,omitempty"`
	// IsRead is nil on partitions that do not track read state.
	IsRead    *bool     `json:"is_read,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Unread reports whether the message counts toward a conversation's unread
// total: an unread message from the external contact.
func (m RawMessage) Unread() bool {
	return m.SenderKind == SenderExternalContact && m.IsRead != nil && !*m.IsRead
}

// Reader is the read surface consumed by the aggregator.
type Reader interface {
	ListRecent(ctx context.Context, partition string, limit int) ([]RawMessage, error)
	ListBySession(ctx context.Context, partition, sessionID string, before *time.Time, limit int) ([]RawMessage, error)
	CountSince(ctx context.Context, partition string, since time.Time) (int64, error)
}

// Writer is the write surface consumed by ingestion and outbound send.
type Writer interface {
	// Insert appends a message. A duplicate provider message id is an
	// idempotent no-op: the stored row is returned with inserted=false.
	Insert(ctx context.Context, partition string, msg RawMessage) (RawMessage, bool, error)
	// MarkRead flags a session's messages read where the partition tracks
	// read state; on partitions without that capability it is a no-op.
	MarkRead(ctx context.Context, partition, sessionID string) error
}
