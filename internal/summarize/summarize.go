// Package summarize exposes the AI summarization collaborator as an
// opaque interface; the implementation lives outside this service.
package summarize

import (
	"context"

	"github.com/zapdeskhq/zapdesk/internal/message"
)

// Summarizer turns a conversation's messages into a short report.
type Summarizer interface {
	Summarize(ctx context.Context, messages []message.RawMessage) (string, error)
}
