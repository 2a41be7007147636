package conversation

import (
	"context"
	"log/slog"
	"sort"

	"github.com/zapdeskhq/zapdesk/internal/media"
	"github.com/zapdeskhq/zapdesk/internal/message"
	"github.com/zapdeskhq/zapdesk/internal/status"
)

// aggregationCap bounds how many recent rows one aggregation pass reads.
const aggregationCap = 1000

// PartitionResolver maps a channel key to its partition.
type PartitionResolver interface {
	ResolvePartition(ctx context.Context, channelKey string) string
}

// StatusReader provides each conversation's persisted status.
type StatusReader interface {
	Get(ctx context.Context, channelKey, sessionID string) status.Record
}

// Aggregator recomputes conversation lists from the message log.
type Aggregator struct {
	messages message.Reader
	routing  PartitionResolver
	statuses StatusReader
	logger   *slog.Logger
}

// NewAggregator creates a conversation aggregator.
func NewAggregator(log *slog.Logger, messages message.Reader, routing PartitionResolver, statuses StatusReader) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{
		messages: messages,
		routing:  routing,
		statuses: statuses,
		logger:   log.With(slog.String("service", "conversation_aggregator")),
	}
}

// List derives the channel's conversations from its most recent messages.
// A partition query failure degrades to an empty list with the error
// surfaced, so one broken partition never takes down the multi-channel
// view.
func (a *Aggregator) List(ctx context.Context, channelKey string) ([]Conversation, error) {
	partition := a.routing.ResolvePartition(ctx, channelKey)
	rows, err := a.messages.ListRecent(ctx, partition, aggregationCap)
	if err != nil {
		a.logger.Warn("partition query failed, degrading to empty list",
			slog.String("channel", channelKey),
			slog.String("partition", partition),
			slog.Any("error", err))
		return []Conversation{}, err
	}
	return a.aggregate(ctx, partition, rows), nil
}

// aggregate groups messages by session in a single pass. Rows arrive
// newest-first; the first row seen per session carries the preview, and
// ordering is by logical timestamp, so late-arriving webhooks never distort
// the preview.
func (a *Aggregator) aggregate(ctx context.Context, partition string, rows []message.RawMessage) []Conversation {
	bySession := map[string]*Conversation{}
	order := []string{}
	for _, row := range rows {
		conv, ok := bySession[row.SessionID]
		if !ok {
			conv = &Conversation{
				ID:           row.SessionID,
				ContactPhone: row.SessionID,
			}
			bySession[row.SessionID] = conv
			order = append(order, row.SessionID)
		}
		if row.CreatedAt.After(conv.LastMessageAt) {
			conv.LastMessageAt = row.CreatedAt
			conv.LastMessagePreview = previewFor(row)
		}
		if conv.ContactName == "" && row.ContactName != "" {
			conv.ContactName = row.ContactName
		}
		if row.Unread() {
			conv.UnreadCount++
		}
	}

	out := make([]Conversation, 0, len(order))
	for _, sessionID := range order {
		conv := *bySession[sessionID]
		if a.statuses != nil {
			conv.Status = a.statuses.Get(ctx, partition, sessionID).Status
		}
		out = append(out, conv)
	}

	// Unread conversations first, then most recent activity; the sessionID
	// tiebreak keeps re-aggregation stable on equal timestamps.
	sort.SliceStable(out, func(i, j int) bool {
		iUnread, jUnread := out[i].UnreadCount > 0, out[j].UnreadCount > 0
		if iUnread != jUnread {
			return iUnread
		}
		if !out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].LastMessageAt.After(out[j].LastMessageAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// previewFor renders a message for the conversation list: text verbatim,
// media as a short iconographic label, never raw payload bytes.
func previewFor(row message.RawMessage) string {
	switch row.MediaType {
	case media.KindImage:
		return "📷 Imagem"
	case media.KindAudio:
		return "🎵 Áudio"
	case media.KindVideo:
		return "🎬 Vídeo"
	case media.KindDocument:
		return "📄 Documento"
	case media.KindSticker:
		return "💟 Figurinha"
	default:
		return row.Content
	}
}
