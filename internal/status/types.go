// Package status drives the per-conversation state machine:
// unread -> in_progress -> resolved, with any new inbound message forcing
// the conversation back to unread. State is persisted apart from the
// message log so it survives log pruning and can be repaired by an
// operator without replaying history.
package status

import (
	"context"
	"errors"
	"time"
)

// State is a conversation's handling state.
type State string

const (
	StateUnread     State = "unread"
	StateInProgress State = "in_progress"
	StateResolved   State = "resolved"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateUnread, StateInProgress, StateResolved:
		return true
	}
	return false
}

var (
	// ErrInvalidTransition indicates a manual change the machine forbids.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNotFound indicates no record exists for the conversation.
	ErrNotFound = errors.New("conversation status not found")
)

// Record is one conversation's persisted status.
type Record struct {
	ChannelKey     string     `json:"channel_key"`
	SessionID      string     `json:"session_id"`
	Status         State      `json:"status"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	LastViewedAt   *time.Time `json:"last_viewed_at,omitempty"`
	// AutoResolvedAt is set only by the idle sweep and cleared by views
	// and by new traffic.
	AutoResolvedAt *time.Time `json:"auto_resolved_at,omitempty"`
}

// Repo persists status records keyed by (channelKey, sessionID).
type Repo interface {
	Get(ctx context.Context, channelKey, sessionID string) (Record, error)
	Upsert(ctx context.Context, record Record) error
	// ListIdleInProgress returns in_progress conversations whose
	// last_activity_at is before the cutoff.
	ListIdleInProgress(ctx context.Context, cutoff time.Time) ([]Record, error)
}
