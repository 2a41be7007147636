package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/zapdeskhq/zapdesk/internal/ingest"
	"github.com/zapdeskhq/zapdesk/internal/webhook"
)

const webhookMaxBodyBytes int64 = 16 << 20 // inline media payloads are large

// WebhookHandler receives provider event callbacks.
type WebhookHandler struct {
	processor *ingest.Processor
	logger    *slog.Logger
}

// NewWebhookHandler creates the public webhook handler.
func NewWebhookHandler(log *slog.Logger, processor *ingest.Processor) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{
		processor: processor,
		logger:    log.With(slog.String("handler", "webhook")),
	}
}

// Register registers webhook callback routes.
func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/webhook/:instance", h.Handle)
}

// Handle processes one provider callback. Every parse problem acknowledges
// with 2xx: the provider retries on non-2xx and a retry would only
// duplicate-deliver. Non-2xx is reserved for genuine infrastructure
// failure, which surfaces before this handler runs.
func (h *WebhookHandler) Handle(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, webhookMaxBodyBytes))
	if err != nil {
		h.logger.Warn("webhook body read failed", slog.Any("error", err))
		return c.JSON(http.StatusOK, ingest.Ack{Status: "ignored", Reason: "unreadable body"})
	}

	var envelope webhook.Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		h.logger.Warn("webhook body unparseable, acknowledging",
			slog.String("instance", c.Param("instance")),
			slog.Any("error", err))
		return c.JSON(http.StatusOK, ingest.Ack{Status: "ignored", Reason: "malformed payload"})
	}
	if envelope.Instance == "" {
		envelope.Instance = c.Param("instance")
	}

	ack := h.processor.Process(c.Request().Context(), envelope)
	return c.JSON(http.StatusOK, ack)
}
