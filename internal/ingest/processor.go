// Package ingest runs the inbound pipeline: normalize the webhook
// envelope, offload inline media, route to the channel partition, store
// with dedupe, then fan the change out and apply the status rule.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/zapdeskhq/zapdesk/internal/event"
	"github.com/zapdeskhq/zapdesk/internal/media"
	"github.com/zapdeskhq/zapdesk/internal/message"
	"github.com/zapdeskhq/zapdesk/internal/webhook"
)

// Ack is the outcome reported back to the webhook endpoint. Both processed
// and ignored events acknowledge with 2xx; the provider's retry behavior
// must only ever be triggered by genuine infrastructure failure.
type Ack struct {
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	MessageID int64  `json:"message_id,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// PartitionResolver maps the webhook instance field to a partition.
type PartitionResolver interface {
	ResolvePartition(ctx context.Context, channelKey string) string
}

// StatusApplier receives status-engine triggers from the pipeline.
type StatusApplier interface {
	OnInboundMessage(ctx context.Context, channelKey, sessionID string, at time.Time)
	Touch(ctx context.Context, channelKey, sessionID string, at time.Time)
}

// Offloader moves inline payloads to blob storage.
type Offloader interface {
	Offload(ctx context.Context, payload string) (media.Offloaded, error)
}

// Processor is the inbound pipeline.
type Processor struct {
	normalizer *webhook.Normalizer
	routing    PartitionResolver
	store      message.Writer
	offloader  Offloader
	publisher  event.Publisher
	statuses   StatusApplier
	logger     *slog.Logger
}

// NewProcessor wires the pipeline stages together.
func NewProcessor(log *slog.Logger, normalizer *webhook.Normalizer, routing PartitionResolver, store message.Writer, offloader Offloader, publisher event.Publisher, statuses StatusApplier) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		normalizer: normalizer,
		routing:    routing,
		store:      store,
		offloader:  offloader,
		publisher:  publisher,
		statuses:   statuses,
		logger:     log.With(slog.String("service", "ingest")),
	}
}

// Process handles one webhook envelope end to end. Errors on the media leg
// degrade the message rather than failing it: a corrupt payload keeps its
// caption without a media reference, and a failed upload keeps the inline
// payload in place for the batch migration pass to retry.
func (p *Processor) Process(ctx context.Context, envelope webhook.Envelope) Ack {
	result := p.normalizer.Normalize(envelope)
	if result.Ignored {
		return Ack{Status: "ignored", Reason: result.Reason}
	}

	partition := p.routing.ResolvePartition(ctx, envelope.Instance)
	msg := result.Message

	if result.InlinePayload != "" && p.offloader != nil {
		offloaded, err := p.offloader.Offload(ctx, result.InlinePayload)
		switch {
		case err == nil:
			msg.MediaRef = &offloaded.URL
			if msg.MediaType == media.KindText {
				msg.MediaType = offloaded.Kind
			}
			msg.Content = msg.MediaType.Placeholder()
		case errors.Is(err, media.ErrDecode):
			p.logger.Warn("inline payload corrupt, storing message without media reference",
				slog.String("partition", partition),
				slog.String("session", msg.SessionID),
				slog.Any("error", err))
		default:
			p.logger.Warn("media offload failed, leaving inline payload for batch pass",
				slog.String("partition", partition),
				slog.String("session", msg.SessionID),
				slog.Any("error", err))
			msg.Content = result.InlinePayload
		}
	}

	stored, inserted, err := p.store.Insert(ctx, partition, msg)
	if err != nil {
		// Swallowed into the acknowledged response: surfacing a 5xx would
		// make the provider redeliver, and the row is recoverable from the
		// provider's own history.
		p.logger.Error("message insert failed",
			slog.String("partition", partition),
			slog.String("session", msg.SessionID),
			slog.Any("error", err))
		return Ack{Status: "error", Reason: "store unavailable"}
	}
	if !inserted {
		return Ack{Status: "ok", MessageID: stored.ID, Duplicate: true}
	}

	if p.publisher != nil {
		p.publisher.Publish(event.MessageEvent{
			Partition:         partition,
			SessionID:         stored.SessionID,
			MessageID:         stored.ID,
			ProviderMessageID: stored.ProviderMessageID,
			At:                stored.CreatedAt,
		})
	}
	if p.statuses != nil {
		if stored.SenderKind == message.SenderExternalContact {
			p.statuses.OnInboundMessage(ctx, partition, stored.SessionID, stored.CreatedAt)
		} else {
			p.statuses.Touch(ctx, partition, stored.SessionID, stored.CreatedAt)
		}
	}
	return Ack{Status: "ok", MessageID: stored.ID}
}
