package metrics

import (
	"log/slog"
	"net/http"

	"github.com/taskora/taskora-backend/internal/auth"
	"github.com/taskora/taskora-backend/internal/shared"
	"github.com/labstack/echo/v4"
)

type Handler struct {
	engine *Engine
	logger *slog.Logger
}

func NewHandler(engine *Engine, logger *slog.Logger) *Handler {
	return &Handler{engine: engine, logger: logger}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/providers/:id", h.handleGetProviderMetrics)
}

func (h *Handler) handleGetProviderMetrics(c echo.Context) error {
	if _, err := auth.RequireAuth(c); err != nil {
		return err
	}

	view, err := h.engine.GetProviderMetrics(c.Request().Context(), c.Param("id"))
	switch err {
	case nil:
		return c.JSON(http.StatusOK, view)
	case shared.ErrNotFound:
		return shared.NotFound("provider_not_found", "no such provider")
	case shared.ErrValidation:
		return shared.BadRequest("not_a_provider", "metrics exist for providers only")
	default:
		h.logger.Error("metrics read failed", "provider_id", c.Param("id"), "error", err)
		return shared.InternalError("metrics_failed", "could not read provider metrics")
	}
}
