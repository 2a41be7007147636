package conversation_test

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zapdeskhq/zapdesk/internal/conversation"
	"github.com/zapdeskhq/zapdesk/internal/media"
	"github.com/zapdeskhq/zapdesk/internal/message"
	"github.com/zapdeskhq/zapdesk/internal/status"
)

type fakeReader struct {
	rows map[string][]message.RawMessage
	err  error
}

func (f *fakeReader) ListRecent(_ context.Context, partition string, limit int) ([]message.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	rows := append([]message.RawMessage{}, f.rows[partition]...)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].CreatedAt.After(rows[j].CreatedAt) })
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (f *fakeReader) ListBySession(context.Context, string, string, *time.Time, int) ([]message.RawMessage, error) {
	return nil, nil
}

func (f *fakeReader) CountSince(context.Context, string, time.Time) (int64, error) {
	return 0, nil
}

type staticResolver string

func (s staticResolver) ResolvePartition(context.Context, string) string { return string(s) }

type fakeStatuses struct {
	states map[string]status.State
}

func (f *fakeStatuses) Get(_ context.Context, _, sessionID string) status.Record {
	state, ok := f.states[sessionID]
	if !ok {
		state = status.StateUnread
	}
	return status.Record{SessionID: sessionID, Status: state}
}

func boolPtr(v bool) *bool { return &v }

func msg(session, content string, at time.Time, sender message.SenderKind, read *bool) message.RawMessage {
	return message.RawMessage{
		SessionID:  session,
		Content:    content,
		SenderKind: sender,
		MediaType:  media.KindText,
		IsRead:     read,
		CreatedAt:  at,
	}
}

func TestAggregator_UnreadCountExternalOnly(t *testing.T) {
	t.Parallel()
	now := time.Now()
	reader := &fakeReader{rows: map[string][]message.RawMessage{
		"mensagens_loja_a": {
			msg("s1", "oi", now.Add(-3*time.Minute), message.SenderExternalContact, boolPtr(false)),
			msg("s1", "tudo bem?", now.Add(-2*time.Minute), message.SenderExternalContact, boolPtr(false)),
			msg("s1", "olá!", now.Add(-1*time.Minute), message.SenderInternalAgent, boolPtr(false)),
			msg("s1", "resposta", now, message.SenderAIAgent, boolPtr(false)),
		},
	}}
	agg := conversation.NewAggregator(nil, reader, staticResolver("mensagens_loja_a"), &fakeStatuses{})

	convs, err := agg.List(context.Background(), "loja-a")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Equal(t, 2, convs[0].UnreadCount, "only unread external-contact messages count")
}

func TestAggregator_PreviewUsesLogicalTimestamp(t *testing.T) {
	t.Parallel()
	now := time.Now()
	// T2 < T1 logical order, but the T2 row was inserted last (higher id,
	// later arrival). The preview must reflect T1, the later logical time.
	reader := &fakeReader{rows: map[string][]message.RawMessage{
		"p": {
			{ID: 1, SessionID: "s1", Content: "logically newer", MediaType: media.KindText, SenderKind: message.SenderExternalContact, CreatedAt: now},
			{ID: 2, SessionID: "s1", Content: "logically older", MediaType: media.KindText, SenderKind: message.SenderExternalContact, CreatedAt: now.Add(-time.Minute)},
		},
	}}
	agg := conversation.NewAggregator(nil, reader, staticResolver("p"), &fakeStatuses{})

	convs, err := agg.List(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, "logically newer", convs[0].LastMessagePreview)
	require.Equal(t, now.Unix(), convs[0].LastMessageAt.Unix())
}

func TestAggregator_MediaPreviewLabels(t *testing.T) {
	t.Parallel()
	tests := []struct {
		kind media.Kind
		want string
	}{
		{media.KindImage, "📷 Imagem"},
		{media.KindAudio, "🎵 Áudio"},
		{media.KindVideo, "🎬 Vídeo"},
		{media.KindDocument, "📄 Documento"},
		{media.KindSticker, "💟 Figurinha"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			t.Parallel()
			reader := &fakeReader{rows: map[string][]message.RawMessage{
				"p": {{SessionID: "s1", Content: "ref", MediaType: tt.kind, SenderKind: message.SenderExternalContact, CreatedAt: time.Now()}},
			}}
			agg := conversation.NewAggregator(nil, reader, staticResolver("p"), &fakeStatuses{})
			convs, err := agg.List(context.Background(), "p")
			require.NoError(t, err)
			require.Equal(t, tt.want, convs[0].LastMessagePreview)
		})
	}
}

func TestAggregator_SortUnreadFirstThenRecency(t *testing.T) {
	t.Parallel()
	now := time.Now()
	reader := &fakeReader{rows: map[string][]message.RawMessage{
		"p": {
			msg("read-new", "a", now, message.SenderExternalContact, boolPtr(true)),
			msg("unread-old", "b", now.Add(-time.Hour), message.SenderExternalContact, boolPtr(false)),
			msg("unread-new", "c", now.Add(-time.Minute), message.SenderExternalContact, boolPtr(false)),
			msg("read-old", "d", now.Add(-2*time.Hour), message.SenderExternalContact, boolPtr(true)),
		},
	}}
	agg := conversation.NewAggregator(nil, reader, staticResolver("p"), &fakeStatuses{})

	convs, err := agg.List(context.Background(), "p")
	require.NoError(t, err)
	ids := make([]string, len(convs))
	for i, c := range convs {
		ids[i] = c.ID
	}
	require.Equal(t, []string{"unread-new", "unread-old", "read-new", "read-old"}, ids)
}

func TestAggregator_StableUnderReaggregation(t *testing.T) {
	t.Parallel()
	// Two conversations with identical timestamps must keep the same
	// relative order across repeated runs.
	at := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	reader := &fakeReader{rows: map[string][]message.RawMessage{
		"p": {
			msg("s-beta", "b", at, message.SenderExternalContact, boolPtr(true)),
			msg("s-alpha", "a", at, message.SenderExternalContact, boolPtr(true)),
		},
	}}
	agg := conversation.NewAggregator(nil, reader, staticResolver("p"), &fakeStatuses{})

	first, err := agg.List(context.Background(), "p")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := agg.List(context.Background(), "p")
		require.NoError(t, err)
		require.Equal(t, first, again, "re-aggregation over an unchanged log must not reorder ties")
	}
}

func TestAggregator_PartitionFailureDegrades(t *testing.T) {
	t.Parallel()
	reader := &fakeReader{err: errors.New("relation does not exist")}
	agg := conversation.NewAggregator(nil, reader, staticResolver("p"), &fakeStatuses{})

	convs, err := agg.List(context.Background(), "p")
	require.Error(t, err, "the error is surfaced for the UI error state")
	require.NotNil(t, convs)
	require.Empty(t, convs, "a broken partition yields an empty list, not a crash")
}

func TestAggregator_StatusAttached(t *testing.T) {
	t.Parallel()
	reader := &fakeReader{rows: map[string][]message.RawMessage{
		"p": {msg("s1", "oi", time.Now(), message.SenderExternalContact, boolPtr(true))},
	}}
	statuses := &fakeStatuses{states: map[string]status.State{"s1": status.StateInProgress}}
	agg := conversation.NewAggregator(nil, reader, staticResolver("p"), statuses)

	convs, err := agg.List(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, status.StateInProgress, convs[0].Status)
}
