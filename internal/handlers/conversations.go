package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/zapdeskhq/zapdesk/internal/conversation"
	"github.com/zapdeskhq/zapdesk/internal/media"
	"github.com/zapdeskhq/zapdesk/internal/message"
	"github.com/zapdeskhq/zapdesk/internal/outbound"
	"github.com/zapdeskhq/zapdesk/internal/status"
	"github.com/zapdeskhq/zapdesk/internal/summarize"
)

const defaultPageSize = 50

// ConversationsHandler serves the agent-facing conversation API for one
// channel: list, message pages, view/read, status changes and sends.
type ConversationsHandler struct {
	aggregator *conversation.Aggregator
	messages   message.Reader
	routing    resolver
	statuses   *status.Engine
	sender     *outbound.Service
	summarizer summarize.Summarizer
	logger     *slog.Logger
}

type resolver interface {
	ResolvePartition(ctx context.Context, channelKey string) string
}

// NewConversationsHandler creates a ConversationsHandler. summarizer may
// be nil when no AI service is configured.
func NewConversationsHandler(log *slog.Logger, aggregator *conversation.Aggregator, messages message.Reader, routing resolver, statuses *status.Engine, sender *outbound.Service, summarizer summarize.Summarizer) *ConversationsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ConversationsHandler{
		aggregator: aggregator,
		messages:   messages,
		routing:    routing,
		statuses:   statuses,
		sender:     sender,
		summarizer: summarizer,
		logger:     log.With(slog.String("handler", "conversations")),
	}
}

// Register registers the channel-scoped conversation routes.
func (h *ConversationsHandler) Register(e *echo.Echo) {
	group := e.Group("/channels/:channel_key")
	group.GET("/conversations", h.List)
	group.GET("/conversations/:session_id/messages", h.ListMessages)
	group.POST("/conversations/:session_id/view", h.MarkViewed)
	group.POST("/conversations/:session_id/status", h.SetStatus)
	group.POST("/conversations/:session_id/messages", h.Send)
	group.GET("/conversations/:session_id/summary", h.Summary)
	group.GET("/stats", h.Stats)
}

// Stats reports the channel's inbound volume over the last 24 hours.
func (h *ConversationsHandler) Stats(c echo.Context) error {
	partition := h.partition(c)
	since := time.Now().Add(-24 * time.Hour)
	count, err := h.messages.CountSince(c.Request().Context(), partition, since)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "stats query failed")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"channel_key":       c.Param("channel_key"),
		"messages_last_24h": count,
	})
}

// List returns the channel's conversations, unread first. A partition
// failure degrades to an empty list with an error flag instead of a 5xx,
// so one broken channel never blanks the whole console.
func (h *ConversationsHandler) List(c echo.Context) error {
	channelKey := c.Param("channel_key")
	conversations, err := h.aggregator.List(c.Request().Context(), channelKey)
	if err != nil {
		return c.JSON(http.StatusOK, map[string]any{
			"conversations": conversations,
			"error":         "partition unavailable",
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"conversations": conversations})
}

// ListMessages returns one session's messages, newest first. The optional
// before parameter (RFC3339) is the oldest timestamp the caller already
// holds; only strictly older rows come back.
func (h *ConversationsHandler) ListMessages(c echo.Context) error {
	partition := h.partition(c)
	sessionID := c.Param("session_id")

	var before *time.Time
	if raw := c.QueryParam("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid before cursor")
		}
		before = &parsed
	}
	limit := defaultPageSize
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = parsed
	}

	messages, err := h.messages.ListBySession(c.Request().Context(), partition, sessionID, before, limit)
	if err != nil {
		h.logger.Warn("message page query failed",
			slog.String("partition", partition), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "message query failed")
	}
	return c.JSON(http.StatusOK, map[string]any{"messages": messages})
}

// MarkViewed records the agent opening the conversation: unread advances
// to in_progress and the partition's messages are marked read where
// supported.
func (h *ConversationsHandler) MarkViewed(c echo.Context) error {
	partition := h.partition(c)
	record := h.statuses.MarkViewed(c.Request().Context(), partition, c.Param("session_id"))
	return c.JSON(http.StatusOK, record)
}

type setStatusRequest struct {
	Status status.State `json:"status"`
}

// SetStatus applies a manual status change.
func (h *ConversationsHandler) SetStatus(c echo.Context) error {
	var req setStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	partition := h.partition(c)
	record, err := h.statuses.SetStatus(c.Request().Context(), partition, c.Param("session_id"), req.Status)
	if err != nil {
		if errors.Is(err, status.ErrInvalidTransition) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "status change failed")
	}
	return c.JSON(http.StatusOK, record)
}

type sendRequest struct {
	Text    string `json:"text,omitempty"`
	Media   string `json:"media,omitempty"`
	Caption string `json:"caption,omitempty"`
	Kind    string `json:"media_type,omitempty"`
}

// Send dispatches an agent message through the provider gateway.
func (h *ConversationsHandler) Send(c echo.Context) error {
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	channelKey := c.Param("channel_key")
	sessionID := c.Param("session_id")
	ctx := c.Request().Context()

	var (
		sent message.RawMessage
		err  error
	)
	switch {
	case req.Media != "":
		sent, err = h.sender.SendMedia(ctx, channelKey, sessionID, outbound.MediaPayload{
			Data:    req.Media,
			Caption: req.Caption,
			Kind:    mediaKind(req.Kind),
		})
	case req.Text != "":
		sent, err = h.sender.SendText(ctx, channelKey, sessionID, req.Text)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "text or media is required")
	}
	if err != nil {
		if errors.Is(err, outbound.ErrGatewayUnavailable) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "messaging gateway unavailable")
		}
		h.logger.Warn("send failed",
			slog.String("channel", channelKey),
			slog.String("session", sessionID),
			slog.Any("error", err))
		return echo.NewHTTPError(http.StatusBadGateway, "send failed")
	}
	return c.JSON(http.StatusCreated, sent)
}

// Summary produces an AI summary of the conversation, or 503 when no
// summarization service is configured.
func (h *ConversationsHandler) Summary(c echo.Context) error {
	if h.summarizer == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "summarization not configured")
	}
	partition := h.partition(c)
	messages, err := h.messages.ListBySession(c.Request().Context(), partition, c.Param("session_id"), nil, 200)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "message query failed")
	}
	text, err := h.summarizer.Summarize(c.Request().Context(), messages)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "summarization failed")
	}
	return c.JSON(http.StatusOK, map[string]string{"summary": text})
}

func (h *ConversationsHandler) partition(c echo.Context) string {
	return h.routing.ResolvePartition(c.Request().Context(), c.Param("channel_key"))
}

func mediaKind(raw string) media.Kind {
	switch media.Kind(raw) {
	case media.KindImage, media.KindAudio, media.KindVideo, media.KindDocument, media.KindSticker:
		return media.Kind(raw)
	default:
		return ""
	}
}
