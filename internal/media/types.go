// Package media detects, decodes and offloads inline binary payloads to
// durable blob storage, replacing them with public URLs and localized
// placeholder captions.
package media

import (
	"context"
	"io"
)

// Kind is the coarse media category of a message.
type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindAudio    Kind = "audio"
	KindVideo    Kind = "video"
	KindDocument Kind = "document"
	KindSticker  Kind = "sticker"
)

// Placeholder returns the localized caption stored in place of an inline
// payload once offload completes.
func (k Kind) Placeholder() string {
	switch k {
	case KindImage:
		return "[Imagem]"
	case KindAudio:
		return "[Áudio]"
	case KindVideo:
		return "[Vídeo]"
	case KindDocument:
		return "[Documento]"
	case KindSticker:
		return "[Figurinha]"
	default:
		return "[Mídia]"
	}
}

// KindForMime maps a sniffed MIME type to a media kind.
func KindForMime(mime string) Kind {
	switch {
	case len(mime) >= 6 && mime[:6] == "image/":
		return KindImage
	case len(mime) >= 6 && mime[:6] == "audio/":
		return KindAudio
	case len(mime) >= 6 && mime[:6] == "video/":
		return KindVideo
	case mime == "application/pdf":
		return KindDocument
	default:
		return KindDocument
	}
}

// Offloaded is the result of moving an inline payload to blob storage.
type Offloaded struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	Kind     Kind   `json:"kind"`
	Size     int64  `json:"size"`
}

// StorageProvider abstracts the blob storage backend.
type StorageProvider interface {
	// Put writes data to storage under the given key.
	Put(ctx context.Context, key string, reader io.Reader) error
	// Open returns a reader for the given storage key.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object at key.
	Delete(ctx context.Context, key string) error
	// PublicURL returns the durable consumer-facing URL for a storage key.
	PublicURL(key string) string
}
