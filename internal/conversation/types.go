// Package conversation derives conversation entities from the raw message
// log: one per counterparty, with preview, unread count and status.
package conversation

import (
	"time"

	"github.com/zapdeskhq/zapdesk/internal/status"
)

// Conversation is a derived view over one session's messages. It is never
// stored; re-running the aggregation over an unchanged log yields the same
// list in the same order.
type Conversation struct {
	ID                 string       `json:"id"`
	ContactName        string       `json:"contact_name,omitempty"`
	ContactPhone       string       `json:"contact_phone"`
	LastMessagePreview string       `json:"last_message_preview"`
	LastMessageAt      time.Time    `json:"last_message_at"`
	UnreadCount        int          `json:"unread_count"`
	Status             status.State `json:"status"`
}
