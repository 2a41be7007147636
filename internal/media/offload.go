package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var dataURLPattern = regexp.MustCompile(`^data:([a-zA-Z0-9.+/-]+);base64,`)

// Offloader moves inline base64 payloads into blob storage.
type Offloader struct {
	provider StorageProvider
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewOffloader creates an offloader. timeout bounds each storage write so
// one slow upload cannot stall a whole batch.
func NewOffloader(log *slog.Logger, provider StorageProvider, timeout time.Duration) *Offloader {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Offloader{
		provider: provider,
		timeout:  timeout,
		logger:   log.With(slog.String("service", "media")),
		now:      time.Now,
	}
}

// Offload decodes an inline payload (bare base64 or data URL), infers its
// MIME type, writes the bytes to blob storage under a collision-resistant
// key and returns the durable public URL.
func (o *Offloader) Offload(ctx context.Context, payload string) (Offloaded, error) {
	if o.provider == nil {
		return Offloaded{}, ErrProviderUnavailable
	}

	declaredMime := ""
	raw := strings.TrimSpace(payload)
	if m := dataURLPattern.FindStringSubmatch(raw); m != nil {
		declaredMime = m[1]
		raw = raw[len(m[0]):]
	}

	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		// Providers occasionally ship URL-safe alphabets.
		data, err = base64.RawURLEncoding.DecodeString(raw)
	}
	if err != nil || len(data) == 0 {
		return Offloaded{}, fmt.Errorf("decode base64: %w", ErrDecode)
	}

	sniffedMime, ext := detect(data)
	finalMime := sniffedMime
	if finalMime == fallbackMime && declaredMime != "" {
		finalMime = declaredMime
		if exts, _ := mime.ExtensionsByType(declaredMime); len(exts) > 0 {
			ext = exts[0]
		}
	}

	key := o.storageKey(ext)
	putCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	if err := o.provider.Put(putCtx, key, bytes.NewReader(data)); err != nil {
		return Offloaded{}, fmt.Errorf("put %s: %w (%v)", key, ErrUpload, err)
	}

	return Offloaded{
		URL:      o.provider.PublicURL(key),
		MimeType: finalMime,
		Kind:     KindForMime(finalMime),
		Size:     int64(len(data)),
	}, nil
}

// storageKey builds a collision-resistant name: timestamp plus a random
// suffix plus the extension derived from the MIME type.
func (o *Offloader) storageKey(ext string) string {
	suffix := strings.Split(uuid.NewString(), "-")[0]
	return fmt.Sprintf("%d_%s%s", o.now().UnixMilli(), suffix, ext)
}
