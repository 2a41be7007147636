// Package event fans message-change notifications out to in-process
// consumers. Deliveries are de-duplicated by message id, so a redelivered
// INSERT notification is a no-op for every subscriber.
package event

import (
	"sync"
	"time"
)

// MessageEvent announces one newly stored message.
type MessageEvent struct {
	Partition         string    `json:"partition"`
	SessionID         string    `json:"session_id"`
	MessageID         int64     `json:"message_id"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	At                time.Time `json:"at"`
}

// Publisher is the write side of the hub.
type Publisher interface {
	Publish(event MessageEvent)
}

// Subscriber is the read side of the hub.
type Subscriber interface {
	// Subscribe returns a channel of events for one partition, or for all
	// partitions when partition is empty, plus an unsubscribe func.
	Subscribe(partition string) (<-chan MessageEvent, func())
}

// seenWindow bounds the per-partition dedupe memory.
const seenWindow = 1024

type subscription struct {
	partition string
	ch        chan MessageEvent
}

// Hub is an in-process publish/subscribe hub with per-partition dedupe.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]*subscription
	nextID int
	seen   map[string]*ring
}

// NewHub creates an event hub.
func NewHub() *Hub {
	return &Hub{
		subs: map[int]*subscription{},
		seen: map[string]*ring{},
	}
}

// Publish delivers the event to matching subscribers. A message id already
// seen for the partition is dropped; slow subscribers lose events rather
// than blocking the ingestion path, which is safe because consumers treat
// events as refresh triggers, not authoritative state.
func (h *Hub) Publish(event MessageEvent) {
	h.mu.Lock()
	r, ok := h.seen[event.Partition]
	if !ok {
		r = newRing(seenWindow)
		h.seen[event.Partition] = r
	}
	if !r.add(event.MessageID) {
		h.mu.Unlock()
		return
	}
	targets := make([]*subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		if sub.partition == "" || sub.partition == event.Partition {
			targets = append(targets, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.ch <- event:
		default:
		}
	}
}

// Subscribe registers a consumer for one partition ("" for all).
func (h *Hub) Subscribe(partition string) (<-chan MessageEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	sub := &subscription{partition: partition, ch: make(chan MessageEvent, 64)}
	h.subs[id] = sub

	return sub.ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub.ch)
		}
	}
}

// ring is a fixed-capacity set of recently seen message ids.
type ring struct {
	order []int64
	set   map[int64]struct{}
	next  int
}

func newRing(capacity int) *ring {
	return &ring{
		order: make([]int64, capacity),
		set:   make(map[int64]struct{}, capacity),
	}
}

// add records the id, reporting false when it was already present.
func (r *ring) add(id int64) bool {
	if _, ok := r.set[id]; ok {
		return false
	}
	if evicted := r.order[r.next]; evicted != 0 {
		delete(r.set, evicted)
	}
	r.order[r.next] = id
	r.next = (r.next + 1) % len(r.order)
	r.set[id] = struct{}{}
	return true
}
