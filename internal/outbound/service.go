package outbound

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zapdeskhq/zapdesk/internal/event"
	"github.com/zapdeskhq/zapdesk/internal/media"
	"github.com/zapdeskhq/zapdesk/internal/message"
)

// PartitionResolver maps the channel key to its partition.
type PartitionResolver interface {
	ResolvePartition(ctx context.Context, channelKey string) string
}

// StatusToucher bumps conversation activity on outbound traffic.
type StatusToucher interface {
	Touch(ctx context.Context, channelKey, sessionID string, at time.Time)
}

// Offloader persists outbound inline media for our own record.
type Offloader interface {
	Offload(ctx context.Context, payload string) (media.Offloaded, error)
}

// Service sends messages and mirrors them into the message log.
type Service struct {
	gateway   Gateway
	routing   PartitionResolver
	store     message.Writer
	publisher event.Publisher
	statuses  StatusToucher
	offloader Offloader
	logger    *slog.Logger
}

// NewService creates an outbound service.
func NewService(log *slog.Logger, gateway Gateway, routing PartitionResolver, store message.Writer, publisher event.Publisher, statuses StatusToucher, offloader Offloader) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		gateway:   gateway,
		routing:   routing,
		store:     store,
		publisher: publisher,
		statuses:  statuses,
		offloader: offloader,
		logger:    log.With(slog.String("service", "outbound")),
	}
}

// SendText sends a text message and records it with
// senderKind internal_agent.
func (s *Service) SendText(ctx context.Context, channelKey, counterparty, text string) (message.RawMessage, error) {
	if s.gateway == nil {
		return message.RawMessage{}, ErrGatewayUnavailable
	}
	providerID, err := s.gateway.SendText(ctx, channelKey, counterparty, text)
	if err != nil {
		return message.RawMessage{}, fmt.Errorf("gateway send text: %w", err)
	}
	return s.record(ctx, channelKey, message.RawMessage{
		ProviderMessageID: providerID,
		SessionID:         counterparty,
		Content:           text,
		SenderKind:        message.SenderInternalAgent,
		MediaType:         media.KindText,
		CreatedAt:         time.Now(),
	})
}

// SendMedia sends a media message. Inline payloads are offloaded to blob
// storage for our own record so the partition never stores raw base64.
func (s *Service) SendMedia(ctx context.Context, channelKey, counterparty string, payload MediaPayload) (message.RawMessage, error) {
	if s.gateway == nil {
		return message.RawMessage{}, ErrGatewayUnavailable
	}
	providerID, err := s.gateway.SendMedia(ctx, channelKey, counterparty, payload)
	if err != nil {
		return message.RawMessage{}, fmt.Errorf("gateway send media: %w", err)
	}

	kind := payload.Kind
	var mediaRef *string
	switch {
	case isRemoteURL(payload.Data):
		ref := payload.Data
		mediaRef = &ref
	case s.offloader != nil:
		offloaded, offErr := s.offloader.Offload(ctx, payload.Data)
		if offErr != nil {
			s.logger.Warn("outbound media offload failed, recording without reference",
				slog.String("channel", channelKey), slog.Any("error", offErr))
		} else {
			mediaRef = &offloaded.URL
			if kind == "" || kind == media.KindText {
				kind = offloaded.Kind
			}
		}
	}
	if kind == "" {
		kind = media.KindDocument
	}

	content := strings.TrimSpace(payload.Caption)
	if content == "" {
		content = kind.Placeholder()
	}
	return s.record(ctx, channelKey, message.RawMessage{
		ProviderMessageID: providerID,
		SessionID:         counterparty,
		Content:           content,
		SenderKind:        message.SenderInternalAgent,
		MediaType:         kind,
		MediaRef:          mediaRef,
		CreatedAt:         time.Now(),
	})
}

func (s *Service) record(ctx context.Context, channelKey string, msg message.RawMessage) (message.RawMessage, error) {
	partition := s.routing.ResolvePartition(ctx, channelKey)
	stored, inserted, err := s.store.Insert(ctx, partition, msg)
	if err != nil {
		return message.RawMessage{}, fmt.Errorf("record outbound message: %w", err)
	}
	if inserted {
		if s.publisher != nil {
			s.publisher.Publish(event.MessageEvent{
				Partition:         partition,
				SessionID:         stored.SessionID,
				MessageID:         stored.ID,
				ProviderMessageID: stored.ProviderMessageID,
				At:                stored.CreatedAt,
			})
		}
		if s.statuses != nil {
			s.statuses.Touch(ctx, partition, stored.SessionID, stored.CreatedAt)
		}
	}
	return stored, nil
}

func isRemoteURL(data string) bool {
	return strings.HasPrefix(data, "http://") || strings.HasPrefix(data, "https://")
}
