package chat

import (
	"log/slog"
	"net/http"

	"github.com/taskora/taskora-backend/internal/auth"
	"github.com/taskora/taskora-backend/internal/shared"
	"github.com/labstack/echo/v4"
)

// Handler exposes the read-side of conversations over HTTP and a REST
// fallback for sending. The realtime path through the gateway is primary.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/conversations", h.handleListConversations)
	g.GET("/conversations/:id/messages", h.handleGetMessages)
	g.POST("/messages", h.handleSendMessage)
}

func (h *Handler) handleListConversations(c echo.Context) error {
	userID, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}

	views, err := h.service.GetConversations(c.Request().Context(), userID)
	if err != nil {
		h.logger.Error("conversation list failed", "user_id", userID, "error", err)
		return shared.InternalError("list_failed", "could not list conversations")
	}
	return c.JSON(http.StatusOK, views)
}

func (h *Handler) handleGetMessages(c echo.Context) error {
	userID, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}

	withPresence := c.QueryParam("presence") == "true"
	views, err := h.service.GetMessages(c.Request().Context(), userID, c.Param("id"), withPresence)
	switch err {
	case nil:
		return c.JSON(http.StatusOK, views)
	case shared.ErrNotFound:
		return shared.NotFound("conversation_not_found", "no such conversation")
	case shared.ErrForbidden:
		return shared.Forbidden("not_participant", "not a participant of this conversation")
	default:
		h.logger.Error("message fetch failed", "conversation_id", c.Param("id"), "error", err)
		return shared.InternalError("fetch_failed", "could not fetch messages")
	}
}

type sendMessageRequest struct {
	RecipientID string `json:"recipient_id"`
	Content     string `json:"content"`
}

func (h *Handler) handleSendMessage(c echo.Context) error {
	userID, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}

	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_body", "invalid request body")
	}

	view, err := h.service.SendMessage(c.Request().Context(), userID, req.RecipientID, req.Content)
	switch err {
	case nil:
		return c.JSON(http.StatusCreated, view)
	case shared.ErrValidation:
		return shared.BadRequest("invalid_message", "recipient and non-empty content required")
	case shared.ErrNotFound:
		return shared.NotFound("recipient_not_found", "no such recipient")
	default:
		h.logger.Error("send failed", "sender_id", userID, "error", err)
		return shared.InternalError("send_failed", "could not send message")
	}
}
