package webhook_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zapdeskhq/zapdesk/internal/media"
	"github.com/zapdeskhq/zapdesk/internal/message"
	"github.com/zapdeskhq/zapdesk/internal/webhook"
)

func textEnvelope(text string, fromMe bool) webhook.Envelope {
	return webhook.Envelope{
		Event:    "messages.upsert",
		Instance: "loja-centro",
		Data: webhook.EventData{
			Key: webhook.MessageKey{
				RemoteJid: "5599999999999@s.whatsapp.net",
				FromMe:    fromMe,
				ID:        "3EB0ABC123",
			},
			Message:          &webhook.MessagePayload{Conversation: text},
			MessageTimestamp: time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC).Unix(),
			PushName:         "Maria",
		},
	}
}

func TestNormalize_PlainText(t *testing.T) {
	t.Parallel()
	n := webhook.NewNormalizer(nil, "Assistente")

	result := n.Normalize(textEnvelope("Hello", false))
	require.False(t, result.Ignored)
	require.Equal(t, "Hello", result.Message.Content)
	require.Equal(t, message.SenderExternalContact, result.Message.SenderKind)
	require.Equal(t, media.KindText, result.Message.MediaType)
	require.Equal(t, "5599999999999", result.Message.SessionID)
	require.Equal(t, "Maria", result.Message.ContactName)
	require.Equal(t, "3EB0ABC123", result.Message.ProviderMessageID)
	require.Equal(t, time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC).Unix(), result.Message.CreatedAt.Unix())
}

func TestNormalize_EchoRecordedAsInternalAgent(t *testing.T) {
	t.Parallel()
	n := webhook.NewNormalizer(nil, "Assistente")

	result := n.Normalize(textEnvelope("ok, resolvido", true))
	require.False(t, result.Ignored, "self-sent echoes are recorded, not dropped")
	require.Equal(t, message.SenderInternalAgent, result.Message.SenderKind)
}

func TestNormalize_BotPersonaEcho(t *testing.T) {
	t.Parallel()
	n := webhook.NewNormalizer(nil, "Assistente")

	envelope := textEnvelope("resposta automática", true)
	envelope.Data.PushName = "assistente"
	result := n.Normalize(envelope)
	require.Equal(t, message.SenderAIAgent, result.Message.SenderKind)
}

func TestNormalize_ContentPrecedence(t *testing.T) {
	t.Parallel()
	n := webhook.NewNormalizer(nil, "")
	tests := []struct {
		name    string
		payload *webhook.MessagePayload
		want    string
		kind    media.Kind
	}{
		{
			"conversation wins",
			&webhook.MessagePayload{Conversation: "plain", ExtendedTextMessage: &webhook.ExtendedText{Text: "quoted"}},
			"plain", media.KindText,
		},
		{
			"extended text second",
			&webhook.MessagePayload{ExtendedTextMessage: &webhook.ExtendedText{Text: "quoted"}},
			"quoted", media.KindText,
		},
		{
			"caption third",
			&webhook.MessagePayload{ImageMessage: &webhook.MediaContent{Caption: "a caption", URL: "https://cdn/x.jpg"}},
			"a caption", media.KindImage,
		},
		{
			"media placeholder when no caption",
			&webhook.MessagePayload{AudioMessage: &webhook.MediaContent{URL: "https://cdn/x.ogg"}},
			"[Áudio]", media.KindAudio,
		},
		{
			"generic fallback when nothing recognizable",
			&webhook.MessagePayload{},
			"[Mídia]", media.KindText,
		},
		{
			"nil message still normalized",
			nil,
			"[Mídia]", media.KindText,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			envelope := textEnvelope("", false)
			envelope.Data.Message = tt.payload
			result := n.Normalize(envelope)
			require.False(t, result.Ignored)
			require.Equal(t, tt.want, result.Message.Content)
			require.Equal(t, tt.kind, result.Message.MediaType)
		})
	}
}

func TestNormalize_MediaVariants(t *testing.T) {
	t.Parallel()
	n := webhook.NewNormalizer(nil, "")
	content := &webhook.MediaContent{Base64: "aGVsbG8="}
	tests := []struct {
		name    string
		payload *webhook.MessagePayload
		kind    media.Kind
	}{
		{"image", &webhook.MessagePayload{ImageMessage: content}, media.KindImage},
		{"audio", &webhook.MessagePayload{AudioMessage: content}, media.KindAudio},
		{"video", &webhook.MessagePayload{VideoMessage: content}, media.KindVideo},
		{"document", &webhook.MessagePayload{DocumentMessage: content}, media.KindDocument},
		{"sticker", &webhook.MessagePayload{StickerMessage: content}, media.KindSticker},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			envelope := textEnvelope("", false)
			envelope.Data.Message = tt.payload
			result := n.Normalize(envelope)
			require.Equal(t, tt.kind, result.Message.MediaType)
			require.Equal(t, "aGVsbG8=", result.InlinePayload)
		})
	}
}

func TestNormalize_RemoteURLBecomesMediaRef(t *testing.T) {
	t.Parallel()
	n := webhook.NewNormalizer(nil, "")
	envelope := textEnvelope("", false)
	envelope.Data.Message = &webhook.MessagePayload{
		ImageMessage: &webhook.MediaContent{URL: "https://cdn.provider.net/abc.jpg"},
	}
	result := n.Normalize(envelope)
	require.Empty(t, result.InlinePayload)
	require.NotNil(t, result.Message.MediaRef)
	require.Equal(t, "https://cdn.provider.net/abc.jpg", *result.Message.MediaRef)
}

func TestNormalize_UnrecognizedEventIgnored(t *testing.T) {
	t.Parallel()
	n := webhook.NewNormalizer(nil, "")
	result := n.Normalize(webhook.Envelope{Event: "presence.update", Instance: "loja-centro"})
	require.True(t, result.Ignored)
}

func TestNormalize_EventSpellings(t *testing.T) {
	t.Parallel()
	n := webhook.NewNormalizer(nil, "")
	for _, ev := range []string{"messages.upsert", "MESSAGES_UPSERT", "messages.update", "messages_update"} {
		envelope := textEnvelope("oi", false)
		envelope.Event = ev
		require.False(t, n.Normalize(envelope).Ignored, "event %q", ev)
	}
}

func TestNormalize_MissingKeyIgnoredNotFailed(t *testing.T) {
	t.Parallel()
	n := webhook.NewNormalizer(nil, "")
	result := n.Normalize(webhook.Envelope{Event: "messages.upsert", Instance: "loja-centro"})
	require.True(t, result.Ignored, "a malformed payload acknowledges as ignored so the provider never retries")
}

func TestSplitSessionKey(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in    string
		phone string
		name  string
	}{
		{"5599999999999@s.whatsapp.net", "5599999999999", ""},
		{"5599999999999-Maria Silva@s.whatsapp.net", "5599999999999", "Maria Silva"},
		{"5599999999999-Maria", "5599999999999", "Maria"},
		{"5599999999999", "5599999999999", ""},
		{" 5599999999999@x ", "5599999999999", ""},
	}
	for _, tt := range tests {
		phone, name := webhook.SplitSessionKey(tt.in)
		require.Equal(t, tt.phone, phone, "input %q", tt.in)
		require.Equal(t, tt.name, name, "input %q", tt.in)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	t.Parallel()
	n := webhook.NewNormalizer(nil, "")
	envelope := textEnvelope("Hello", false)
	first := n.Normalize(envelope)
	second := n.Normalize(envelope)
	require.Equal(t, first, second, "normalizing a redelivered payload yields an identical record")
}
