// Package realtime pushes change notifications to connected viewers over
// websockets. A notification is a refresh trigger carrying only the
// channel and session keys; clients re-fetch the authoritative state
// rather than applying incremental patches, so the push payload can never
// diverge from the store.
package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/zapdeskhq/zapdesk/internal/event"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// Notification is the refresh trigger sent to viewers.
type Notification struct {
	Type       string `json:"type"`
	ChannelKey string `json:"channel_key"`
	SessionID  string `json:"session_id"`
}

// PartitionResolver maps the subscribed channel key to its partition.
type PartitionResolver interface {
	ResolvePartition(ctx context.Context, channelKey string) string
}

// Gateway upgrades viewer connections and relays hub events to them.
type Gateway struct {
	hub      event.Subscriber
	routing  PartitionResolver
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewGateway creates a realtime gateway over the event hub.
func NewGateway(log *slog.Logger, hub event.Subscriber, routing PartitionResolver) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		hub:     hub,
		routing: routing,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: log.With(slog.String("handler", "realtime")),
		conns:  map[*websocket.Conn]struct{}{},
	}
}

// Register registers the viewer websocket route.
func (g *Gateway) Register(e *echo.Echo) {
	e.GET("/channels/:channel_key/ws", g.Handle)
}

// Handle serves one viewer connection subscribed to a channel. The
// subscription is to all partitions with a per-event resolve of the
// channel key, so a partition rename redirects live viewers instead of
// stranding them on the old name.
func (g *Gateway) Handle(c echo.Context) error {
	channelKey := c.Param("channel_key")

	conn, err := g.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	g.track(conn)
	defer g.untrack(conn)

	events, cancel := g.hub.Subscribe("")
	defer cancel()

	// Reader goroutine: viewers never send application data, but the read
	// loop is required to process close and pong frames.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if g.routing.ResolvePartition(c.Request().Context(), channelKey) != ev.Partition {
				continue
			}
			notification := Notification{
				Type:       "refresh",
				ChannelKey: channelKey,
				SessionID:  ev.SessionID,
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(notification); err != nil {
				g.logger.Debug("viewer write failed, dropping connection", slog.Any("error", err))
				return nil
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		}
	}
}

// Close terminates all tracked viewer connections.
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for conn := range g.conns {
		_ = conn.Close()
	}
	g.conns = map[*websocket.Conn]struct{}{}
}

func (g *Gateway) track(conn *websocket.Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.conns[conn] = struct{}{}
}

func (g *Gateway) untrack(conn *websocket.Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.conns, conn)
	_ = conn.Close()
}
