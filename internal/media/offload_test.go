package media_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zapdeskhq/zapdesk/internal/media"
)

// memProvider is an in-memory StorageProvider.
type memProvider struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	putWait time.Duration
}

func newMemProvider() *memProvider {
	return &memProvider{objects: map[string][]byte{}}
}

func (p *memProvider) Put(ctx context.Context, key string, reader io.Reader) error {
	if p.putWait > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.putWait):
		}
	}
	if p.putErr != nil {
		return p.putErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.objects[key] = data
	return nil
}

func (p *memProvider) Open(_ context.Context, key string) (io.ReadCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, ok := p.objects[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (p *memProvider) Delete(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.objects, key)
	return nil
}

func (p *memProvider) PublicURL(key string) string {
	return "http://blob.test/" + key
}

func (p *memProvider) lookupByURL(url string) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, ok := p.objects[strings.TrimPrefix(url, "http://blob.test/")]
	return data, ok
}

var pngBytes = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x01, 0x02, 0x03}

func TestOffload_RoundTrip(t *testing.T) {
	t.Parallel()
	provider := newMemProvider()
	offloader := media.NewOffloader(nil, provider, time.Second)

	got, err := offloader.Offload(context.Background(), base64.StdEncoding.EncodeToString(pngBytes))
	require.NoError(t, err)
	require.Equal(t, "image/png", got.MimeType)
	require.Equal(t, media.KindImage, got.Kind)
	require.True(t, strings.HasSuffix(got.URL, ".png"), "url %q should carry the sniffed extension", got.URL)

	stored, ok := provider.lookupByURL(got.URL)
	require.True(t, ok, "returned URL must be retrievable")
	require.Equal(t, pngBytes, stored)
}

func TestOffload_DataURLPrefix(t *testing.T) {
	t.Parallel()
	provider := newMemProvider()
	offloader := media.NewOffloader(nil, provider, time.Second)

	payload := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)
	got, err := offloader.Offload(context.Background(), payload)
	require.NoError(t, err)
	require.Equal(t, "image/png", got.MimeType)
}

func TestOffload_DeclaredMimeWinsWhenUnsniffable(t *testing.T) {
	t.Parallel()
	provider := newMemProvider()
	offloader := media.NewOffloader(nil, provider, time.Second)

	payload := "data:text/plain;base64," + base64.StdEncoding.EncodeToString([]byte("ola"))
	got, err := offloader.Offload(context.Background(), payload)
	require.NoError(t, err)
	require.Equal(t, "text/plain", got.MimeType)
}

func TestOffload_CorruptPayload(t *testing.T) {
	t.Parallel()
	offloader := media.NewOffloader(nil, newMemProvider(), time.Second)

	_, err := offloader.Offload(context.Background(), "not//valid??base64!!")
	require.ErrorIs(t, err, media.ErrDecode)

	_, err = offloader.Offload(context.Background(), "")
	require.ErrorIs(t, err, media.ErrDecode)
}

func TestOffload_UploadFailure(t *testing.T) {
	t.Parallel()
	provider := newMemProvider()
	provider.putErr = errors.New("rate limited")
	offloader := media.NewOffloader(nil, provider, time.Second)

	_, err := offloader.Offload(context.Background(), base64.StdEncoding.EncodeToString(pngBytes))
	require.ErrorIs(t, err, media.ErrUpload)
}

func TestOffload_SlowUploadTimesOut(t *testing.T) {
	t.Parallel()
	provider := newMemProvider()
	provider.putWait = 200 * time.Millisecond
	offloader := media.NewOffloader(nil, provider, 20*time.Millisecond)

	_, err := offloader.Offload(context.Background(), base64.StdEncoding.EncodeToString(pngBytes))
	require.ErrorIs(t, err, media.ErrUpload)
}

func TestOffload_NoProvider(t *testing.T) {
	t.Parallel()
	offloader := media.NewOffloader(nil, nil, time.Second)
	_, err := offloader.Offload(context.Background(), base64.StdEncoding.EncodeToString(pngBytes))
	require.ErrorIs(t, err, media.ErrProviderUnavailable)
}

func TestOffload_KeyCollisionResistance(t *testing.T) {
	t.Parallel()
	provider := newMemProvider()
	offloader := media.NewOffloader(nil, provider, time.Second)

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		got, err := offloader.Offload(context.Background(), base64.StdEncoding.EncodeToString(pngBytes))
		require.NoError(t, err)
		require.False(t, seen[got.URL], "key %q generated twice", got.URL)
		seen[got.URL] = true
	}
}
