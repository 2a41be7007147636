package event_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zapdeskhq/zapdesk/internal/event"
)

func drain(ch <-chan event.MessageEvent) []event.MessageEvent {
	var out []event.MessageEvent
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-time.After(50 * time.Millisecond):
			return out
		}
	}
}

func TestHub_DuplicateMessageIDIsNoOp(t *testing.T) {
	t.Parallel()
	hub := event.NewHub()
	ch, cancel := hub.Subscribe("mensagens_loja_a")
	defer cancel()

	ev := event.MessageEvent{Partition: "mensagens_loja_a", SessionID: "5599999999999", MessageID: 42}
	hub.Publish(ev)
	hub.Publish(ev)
	hub.Publish(ev)

	got := drain(ch)
	require.Len(t, got, 1, "duplicate INSERT notifications must be dropped")
	require.Equal(t, int64(42), got[0].MessageID)
}

func TestHub_SameIDDifferentPartitions(t *testing.T) {
	t.Parallel()
	hub := event.NewHub()
	ch, cancel := hub.Subscribe("")
	defer cancel()

	hub.Publish(event.MessageEvent{Partition: "mensagens_loja_a", MessageID: 7})
	hub.Publish(event.MessageEvent{Partition: "mensagens_loja_b", MessageID: 7})

	require.Len(t, drain(ch), 2, "dedupe is per-partition, ids are partition-local")
}

func TestHub_PartitionFilter(t *testing.T) {
	t.Parallel()
	hub := event.NewHub()
	chA, cancelA := hub.Subscribe("mensagens_loja_a")
	defer cancelA()
	chAll, cancelAll := hub.Subscribe("")
	defer cancelAll()

	hub.Publish(event.MessageEvent{Partition: "mensagens_loja_b", MessageID: 1})
	hub.Publish(event.MessageEvent{Partition: "mensagens_loja_a", MessageID: 2})

	require.Len(t, drain(chA), 1)
	require.Len(t, drain(chAll), 2)
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	hub := event.NewHub()
	ch, cancel := hub.Subscribe("p")
	cancel()
	cancel() // double-cancel must be safe

	_, ok := <-ch
	require.False(t, ok)
}

func TestHub_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	t.Parallel()
	hub := event.NewHub()
	_, cancel := hub.Subscribe("p")
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			hub.Publish(event.MessageEvent{Partition: "p", MessageID: int64(i + 1)})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
