package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/zapdeskhq/zapdesk/internal/media"
	"github.com/zapdeskhq/zapdesk/internal/routing"
)

// AdminHandler exposes channel lifecycle management and the inline-media
// migration trigger.
type AdminHandler struct {
	routing  *routing.Service
	migrator *media.Migrator
	logger   *slog.Logger
}

func NewAdminHandler(log *slog.Logger, routingService *routing.Service, migrator *media.Migrator) *AdminHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AdminHandler{
		routing:  routingService,
		migrator: migrator,
		logger:   log.With(slog.String("handler", "admin")),
	}
}

// Register registers the admin routes.
func (h *AdminHandler) Register(e *echo.Echo) {
	group := e.Group("/admin")
	group.GET("/channels", h.ListChannels)
	group.POST("/channels", h.CreateChannel)
	group.POST("/channels/:partition/aliases", h.AddAlias)
	group.PUT("/channels/:partition", h.RenameChannel)
	group.DELETE("/channels/:partition", h.DeleteChannel)
	group.POST("/media/migrate", h.MigrateMedia)
}

// ListChannels returns every known partition, default included.
func (h *AdminHandler) ListChannels(c echo.Context) error {
	partitions, err := h.routing.Partitions(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "channel listing failed")
	}
	return c.JSON(http.StatusOK, map[string]any{"channels": partitions})
}

type createChannelRequest struct {
	Partition string   `json:"partition"`
	Aliases   []string `json:"aliases,omitempty"`
}

// CreateChannel provisions a new channel partition and its aliases.
func (h *AdminHandler) CreateChannel(c echo.Context) error {
	var req createChannelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.Partition == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "partition is required")
	}
	err := h.routing.Create(c.Request().Context(), req.Partition, req.Aliases...)
	if err != nil {
		if errors.Is(err, routing.ErrChannelExists) {
			return echo.NewHTTPError(http.StatusConflict, "channel already exists")
		}
		h.logger.Warn("channel create failed",
			slog.String("partition", req.Partition), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "channel create failed")
	}
	return c.JSON(http.StatusCreated, map[string]string{"partition": req.Partition})
}

type addAliasRequest struct {
	Alias string `json:"alias"`
}

// AddAlias points an extra channel key at an existing partition.
func (h *AdminHandler) AddAlias(c echo.Context) error {
	var req addAliasRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.Alias == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "alias is required")
	}
	partition := c.Param("partition")
	err := h.routing.AddAlias(c.Request().Context(), partition, req.Alias)
	if err != nil {
		switch {
		case errors.Is(err, routing.ErrUnknownPartition):
			return echo.NewHTTPError(http.StatusNotFound, "unknown partition")
		case errors.Is(err, routing.ErrChannelExists):
			return echo.NewHTTPError(http.StatusConflict, "alias already mapped")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "alias create failed")
	}
	return c.JSON(http.StatusCreated, map[string]string{"partition": partition, "alias": req.Alias})
}

type renameChannelRequest struct {
	NewPartition string `json:"new_partition"`
}

// RenameChannel renames a partition table and repoints its mappings and
// statuses in one transaction.
func (h *AdminHandler) RenameChannel(c echo.Context) error {
	var req renameChannelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.NewPartition == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "new_partition is required")
	}
	old := c.Param("partition")
	if err := h.routing.Rename(c.Request().Context(), old, req.NewPartition); err != nil {
		if errors.Is(err, routing.ErrUnknownPartition) {
			return echo.NewHTTPError(http.StatusNotFound, "unknown partition")
		}
		h.logger.Warn("channel rename failed",
			slog.String("old", old), slog.String("new", req.NewPartition), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "channel rename failed")
	}
	return c.JSON(http.StatusOK, map[string]string{"partition": req.NewPartition})
}

// DeleteChannel drops a partition and its mappings. History in the table
// is gone after this; the route exists for decommissioned channels only.
func (h *AdminHandler) DeleteChannel(c echo.Context) error {
	partition := c.Param("partition")
	if err := h.routing.Delete(c.Request().Context(), partition); err != nil {
		if errors.Is(err, routing.ErrUnknownPartition) {
			return echo.NewHTTPError(http.StatusNotFound, "unknown partition")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "channel delete failed")
	}
	return c.NoContent(http.StatusNoContent)
}

// MigrateMedia runs the inline-media offload sweep across every partition
// and returns the per-table summary. The sweep is paced, so this request
// can take a while on a large backlog.
func (h *AdminHandler) MigrateMedia(c echo.Context) error {
	if h.migrator == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "media storage not configured")
	}
	partitions, err := h.routing.Partitions(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "channel listing failed")
	}
	report := h.migrator.Run(c.Request().Context(), partitions)
	return c.JSON(http.StatusOK, report)
}
