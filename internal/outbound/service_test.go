package outbound_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zapdeskhq/zapdesk/internal/event"
	"github.com/zapdeskhq/zapdesk/internal/media"
	"github.com/zapdeskhq/zapdesk/internal/message"
	"github.com/zapdeskhq/zapdesk/internal/outbound"
)

type memWriter struct {
	rows   map[string][]message.RawMessage
	nextID int64
}

func newMemWriter() *memWriter {
	return &memWriter{rows: map[string][]message.RawMessage{}}
}

func (w *memWriter) Insert(_ context.Context, partition string, msg message.RawMessage) (message.RawMessage, bool, error) {
	w.nextID++
	msg.ID = w.nextID
	w.rows[partition] = append(w.rows[partition], msg)
	return msg, true, nil
}

func (w *memWriter) MarkRead(context.Context, string, string) error { return nil }

type staticRouting string

func (s staticRouting) ResolvePartition(context.Context, string) string { return string(s) }

type stubGateway struct {
	textCalls  int
	mediaCalls int
	err        error
}

func (g *stubGateway) SendText(context.Context, string, string, string) (string, error) {
	g.textCalls++
	return "PROV1", g.err
}

func (g *stubGateway) SendMedia(context.Context, string, string, outbound.MediaPayload) (string, error) {
	g.mediaCalls++
	return "PROV2", g.err
}

type stubToucher struct{ touched []string }

func (t *stubToucher) Touch(_ context.Context, channelKey, sessionID string, _ time.Time) {
	t.touched = append(t.touched, channelKey+"|"+sessionID)
}

type stubOffloader struct{ result media.Offloaded }

func (s *stubOffloader) Offload(context.Context, string) (media.Offloaded, error) {
	return s.result, nil
}

func TestSendText_RecordsInternalAgentRow(t *testing.T) {
	t.Parallel()
	store := newMemWriter()
	toucher := &stubToucher{}
	svc := outbound.NewService(nil, &stubGateway{}, staticRouting("mensagens_loja_a"), store, event.NewHub(), toucher, nil)

	sent, err := svc.SendText(context.Background(), "loja-a", "5599999999999", "seu pedido saiu")
	require.NoError(t, err)
	require.Equal(t, message.SenderInternalAgent, sent.SenderKind)
	require.Equal(t, "PROV1", sent.ProviderMessageID)
	require.Equal(t, media.KindText, sent.MediaType)

	require.Len(t, store.rows["mensagens_loja_a"], 1)
	require.Equal(t, []string{"mensagens_loja_a|5599999999999"}, toucher.touched)
}

func TestSendMedia_OffloadsInlinePayload(t *testing.T) {
	t.Parallel()
	store := newMemWriter()
	offloader := &stubOffloader{result: media.Offloaded{URL: "http://blob.test/1.png", Kind: media.KindImage}}
	svc := outbound.NewService(nil, &stubGateway{}, staticRouting("p"), store, nil, nil, offloader)

	sent, err := svc.SendMedia(context.Background(), "p", "5599999999999", outbound.MediaPayload{
		Data: "aGVsbG8=", Kind: media.KindImage,
	})
	require.NoError(t, err)
	require.NotNil(t, sent.MediaRef)
	require.Equal(t, "http://blob.test/1.png", *sent.MediaRef)
	require.Equal(t, "[Imagem]", sent.Content, "no caption falls back to the placeholder")
}

func TestSendMedia_RemoteURLPassedThrough(t *testing.T) {
	t.Parallel()
	store := newMemWriter()
	svc := outbound.NewService(nil, &stubGateway{}, staticRouting("p"), store, nil, nil, nil)

	sent, err := svc.SendMedia(context.Background(), "p", "5599999999999", outbound.MediaPayload{
		Data: "https://cdn/x.pdf", Caption: "orçamento", Kind: media.KindDocument,
	})
	require.NoError(t, err)
	require.Equal(t, "https://cdn/x.pdf", *sent.MediaRef)
	require.Equal(t, "orçamento", sent.Content)
}

func TestSendText_GatewayFailureDoesNotRecord(t *testing.T) {
	t.Parallel()
	store := newMemWriter()
	gateway := &stubGateway{err: errors.New("timeout")}
	svc := outbound.NewService(nil, gateway, staticRouting("p"), store, nil, nil, nil)

	_, err := svc.SendText(context.Background(), "p", "5599999999999", "oi")
	require.Error(t, err)
	require.Empty(t, store.rows, "a failed send must not appear in the log")
}

func TestSendText_NoGateway(t *testing.T) {
	t.Parallel()
	svc := outbound.NewService(nil, nil, staticRouting("p"), newMemWriter(), nil, nil, nil)
	_, err := svc.SendText(context.Background(), "p", "x", "oi")
	require.ErrorIs(t, err, outbound.ErrGatewayUnavailable)
}
