package webhook

import (
	"log/slog"
	"strings"
	"time"

	"github.com/zapdeskhq/zapdesk/internal/message"
)

// Result is the outcome of normalizing one webhook envelope. Ignored
// results are still acknowledged to the provider: parse failures and
// non-message events must never trigger a provider retry.
type Result struct {
	Ignored bool
	Reason  string
	Message message.RawMessage
	// InlinePayload holds a base64 body awaiting offload, when present.
	InlinePayload string
}

func ignored(reason string) Result {
	return Result{Ignored: true, Reason: reason}
}

// Normalizer converts provider envelopes into canonical RawMessages.
type Normalizer struct {
	botPersona string
	logger     *slog.Logger
	now        func() time.Time
}

// NewNormalizer creates a normalizer. botPersona is the display name of the
// AI identity whose echoed sends are tagged SenderAIAgent.
func NewNormalizer(log *slog.Logger, botPersona string) *Normalizer {
	if log == nil {
		log = slog.Default()
	}
	return &Normalizer{
		botPersona: strings.TrimSpace(botPersona),
		logger:     log.With(slog.String("service", "webhook_normalizer")),
		now:        time.Now,
	}
}

// Normalize classifies an envelope. Only the message-upsert/update family
// produces a store write; anything else is an intentional idempotent no-op.
// Echoed self-sent messages are recorded, not dropped: the agent's own view
// must show what it sent.
func (n *Normalizer) Normalize(envelope Envelope) Result {
	if !isMessageEvent(envelope.Event) {
		return ignored("unrecognized event " + envelope.Event)
	}
	if strings.TrimSpace(envelope.Data.Key.RemoteJid) == "" {
		n.logger.Warn("webhook payload missing remote jid, acknowledging as ignored",
			slog.String("event", envelope.Event),
			slog.String("instance", envelope.Instance))
		return ignored("missing remote jid")
	}

	phone, displayName := SplitSessionKey(envelope.Data.Key.RemoteJid)
	if displayName == "" {
		displayName = strings.TrimSpace(envelope.Data.PushName)
	}

	kind, variant := envelope.Data.Message.variant()
	content := extractContent(envelope.Data.Message, variant)
	if content == "" && variant == nil {
		// No recognizable field at all: still normalized, with the generic
		// placeholder, so the event is visible to agents.
		content = "[Mídia]"
	}
	if content == "" {
		content = kind.Placeholder()
	}

	msg := message.RawMessage{
		ProviderMessageID: strings.TrimSpace(envelope.Data.Key.ID),
		SessionID:         phone,
		ContactName:       displayName,
		Content:           content,
		SenderKind:        n.senderKind(envelope.Data),
		MediaType:         kind,
		CreatedAt:         n.timestamp(envelope.Data.MessageTimestamp),
	}

	result := Result{Message: msg}
	if variant != nil {
		switch {
		case variant.Base64 != "":
			result.InlinePayload = variant.Base64
		case strings.HasPrefix(variant.URL, "data:"):
			result.InlinePayload = variant.URL
		case variant.URL != "":
			ref := variant.URL
			result.Message.MediaRef = &ref
		}
	}
	return result
}

func (n *Normalizer) senderKind(data EventData) message.SenderKind {
	if !data.Key.FromMe {
		return message.SenderExternalContact
	}
	if n.botPersona != "" && strings.EqualFold(strings.TrimSpace(data.PushName), n.botPersona) {
		return message.SenderAIAgent
	}
	return message.SenderInternalAgent
}

func (n *Normalizer) timestamp(ts int64) time.Time {
	if ts <= 0 {
		return n.now()
	}
	// Providers send either seconds or milliseconds.
	if ts > 1e12 {
		return time.UnixMilli(ts)
	}
	return time.Unix(ts, 0)
}

// extractContent follows the fixed precedence: plain conversation text,
// extended/quoted text, then the media caption.
func extractContent(p *MessagePayload, variant *MediaContent) string {
	if p == nil {
		return ""
	}
	if text := strings.TrimSpace(p.Conversation); text != "" {
		return text
	}
	if p.ExtendedTextMessage != nil {
		if text := strings.TrimSpace(p.ExtendedTextMessage.Text); text != "" {
			return text
		}
	}
	if variant != nil {
		return strings.TrimSpace(variant.Caption)
	}
	return ""
}

// SplitSessionKey extracts the numeric phone portion and the operator
// appended display name from a session key. The provider decorates JIDs
// with a domain suffix ("@s.whatsapp.net"), and operators may append
// "-<displayName>" to the stored key.
func SplitSessionKey(raw string) (phone, displayName string) {
	key := strings.TrimSpace(raw)
	if at := strings.Index(key, "@"); at >= 0 {
		key = key[:at]
	}
	if dash := strings.Index(key, "-"); dash >= 0 {
		return strings.TrimSpace(key[:dash]), strings.TrimSpace(key[dash+1:])
	}
	return key, ""
}

// isMessageEvent accepts the message-upsert/update event family in either
// dotted or underscored spelling.
func isMessageEvent(event string) bool {
	normalized := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(event), "_", "."))
	return normalized == "messages.upsert" || normalized == "messages.update"
}
