// Package webhook parses provider webhook envelopes into canonical inbound
// messages and acknowledges everything else without triggering retries.
package webhook

import "github.com/zapdeskhq/zapdesk/internal/media"

// Envelope is the provider's webhook body.
type Envelope struct {
	Event    string    `json:"event"`
	Instance string    `json:"instance"`
	Data     EventData `json:"data"`
}

// EventData carries the message-level payload of an envelope.
type EventData struct {
	Key              MessageKey      `json:"key"`
	Message          *MessagePayload `json:"message"`
	MessageTimestamp int64           `json:"messageTimestamp"`
	PushName         string          `json:"pushName"`
}

// MessageKey identifies the message and its counterparty.
type MessageKey struct {
	RemoteJid string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
	ID        string `json:"id"`
}

// MessagePayload is the provider's duck-typed message body, modeled as a
// tagged union: exactly one variant field is expected to be populated.
type MessagePayload struct {
	Conversation        string        `json:"conversation,omitempty"`
	ExtendedTextMessage *ExtendedText `json:"extendedTextMessage,omitempty"`
	ImageMessage        *MediaContent `json:"imageMessage,omitempty"`
	AudioMessage        *MediaContent `json:"audioMessage,omitempty"`
	VideoMessage        *MediaContent `json:"videoMessage,omitempty"`
	DocumentMessage     *MediaContent `json:"documentMessage,omitempty"`
	StickerMessage      *MediaContent `json:"stickerMessage,omitempty"`
}

// ExtendedText is quoted/linked text.
type ExtendedText struct {
	Text string `json:"text,omitempty"`
}

// MediaContent is the shared shape of the media-bearing variants.
type MediaContent struct {
	Caption  string `json:"caption,omitempty"`
	URL      string `json:"url,omitempty"`
	Base64   string `json:"base64,omitempty"`
	Mimetype string `json:"mimetype,omitempty"`
	FileName string `json:"fileName,omitempty"`
}

// variant returns the populated media variant and its kind, or nil for a
// text-only payload.
func (p *MessagePayload) variant() (media.Kind, *MediaContent) {
	switch {
	case p == nil:
		return media.KindText, nil
	case p.ImageMessage != nil:
		return media.KindImage, p.ImageMessage
	case p.AudioMessage != nil:
		return media.KindAudio, p.AudioMessage
	case p.VideoMessage != nil:
		return media.KindVideo, p.VideoMessage
	case p.DocumentMessage != nil:
		return media.KindDocument, p.DocumentMessage
	case p.StickerMessage != nil:
		return media.KindSticker, p.StickerMessage
	default:
		return media.KindText, nil
	}
}
