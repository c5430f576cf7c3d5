package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/taskora/taskora-backend/internal/auth"
	"github.com/taskora/taskora-backend/internal/broadcast"
	"github.com/taskora/taskora-backend/internal/chat"
	"github.com/taskora/taskora-backend/internal/presence"
	"github.com/taskora/taskora-backend/internal/session"
	"github.com/taskora/taskora-backend/internal/shared"
	"github.com/taskora/taskora-backend/internal/user"
	"github.com/taskora/taskora-backend/internal/worker"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const maxBatchPresenceIDs = 100

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler owns the websocket surface: the authenticated handshake, one event
// loop per connection, and the connect/disconnect presence transitions.
type Handler struct {
	validator   *auth.JWTValidator
	users       *user.Store
	sessions    *session.Store
	registry    *session.Registry
	machine     *presence.Machine
	chats       *chat.Service
	broadcaster *broadcast.Broadcaster
	pool        *worker.Pool
	logger      *slog.Logger
}

func NewHandler(
	validator *auth.JWTValidator,
	users *user.Store,
	sessions *session.Store,
	registry *session.Registry,
	machine *presence.Machine,
	chats *chat.Service,
	broadcaster *broadcast.Broadcaster,
	pool *worker.Pool,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		validator:   validator,
		users:       users,
		sessions:    sessions,
		registry:    registry,
		machine:     machine,
		chats:       chats,
		broadcaster: broadcaster,
		pool:        pool,
		logger:      logger.With("handler", "gateway"),
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.Use(ConnectRateLimiter(DefaultRateLimiterConfig()))
	g.GET("", h.handleWebSocket)
}

func (h *Handler) handleWebSocket(c echo.Context) error {
	// Token verification happens before the upgrade: a bad token rejects the
	// connection and no session row is ever created.
	claims, err := h.validator.Validate(auth.TokenFromRequest(c.Request()))
	if err != nil {
		return shared.Unauthorized("invalid_token", "token verification failed")
	}

	u, err := h.users.GetByID(c.Request().Context(), claims.UserID)
	if err != nil {
		return shared.Unauthorized("unknown_user", "no account for token subject")
	}

	device := shared.DeviceType(c.QueryParam("device"))
	switch device {
	case shared.DeviceWeb, shared.DeviceMobile, shared.DeviceDesktop:
	default:
		device = shared.DeviceUnknown
	}

	ws, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return err
	}

	ctx := c.Request().Context()
	sess, err := h.sessions.Create(ctx, u.ID, device)
	if err != nil {
		h.logger.Error("session create failed", "user_id", u.ID, "error", err)
		_ = ws.Close()
		return nil
	}

	conn := NewConn(ws, sess.ID, u.ID, h.logger)
	conn.onPong = func() {
		h.pool.Submit("gateway.ping", func(taskCtx context.Context) {
			if err := h.sessions.TouchPing(taskCtx, sess.ID); err != nil {
				h.logger.Warn("ping touch failed", "session_id", sess.ID, "error", err)
			}
			h.machine.TouchActivity(taskCtx, u.ID)
		})
	}

	h.registry.Add(conn)
	h.logger.Info("user connected", "user_id", u.ID, "session_id", sess.ID, "device", device)

	if changed, err := h.machine.OnConnect(ctx, u.ID); err != nil {
		h.logger.Warn("connect transition failed", "user_id", u.ID, "error", err)
	} else if changed {
		h.broadcastPresence(u.ID)
	}

	go conn.writePump()
	go conn.readPump()

	for frame := range conn.Inbound() {
		h.dispatch(ctx, conn, frame)
	}

	h.teardown(conn, sess.ID)
	return nil
}

func (h *Handler) teardown(conn *Conn, sessionID string) {
	userID := conn.UserID()
	h.registry.Remove(userID, conn.ConnID())
	_ = conn.Close()

	// Teardown outlives the request context on purpose; the socket is gone
	// but the bookkeeping still has to happen.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := h.sessions.Deactivate(ctx, sessionID); err != nil && err != shared.ErrNotFound {
		h.logger.Warn("session deactivate failed", "session_id", sessionID, "error", err)
	}

	if changed, err := h.machine.OnDisconnect(ctx, userID); err != nil {
		h.logger.Warn("disconnect transition failed", "user_id", userID, "error", err)
	} else if changed {
		h.broadcastPresence(userID)
	}

	h.logger.Info("user disconnected", "user_id", userID, "session_id", sessionID)
}

// broadcastPresence hands the fan-out to the pool so a presence change never
// blocks the connect/disconnect path.
func (h *Handler) broadcastPresence(userID string) {
	h.pool.Submit("gateway.presence_broadcast", func(taskCtx context.Context) {
		snap, err := h.machine.GetSnapshot(taskCtx, userID)
		if err != nil {
			h.logger.Warn("presence snapshot failed", "user_id", userID, "error", err)
			return
		}
		h.broadcaster.BroadcastPresence(taskCtx, snap)
	})
}

// broadcastCustomStatus fans an explicit status change, its custom message
// included, to the user's audience as a custom-status event.
func (h *Handler) broadcastCustomStatus(userID string) {
	h.pool.Submit("gateway.status_broadcast", func(taskCtx context.Context) {
		snap, err := h.machine.GetSnapshot(taskCtx, userID)
		if err != nil {
			h.logger.Warn("presence snapshot failed", "user_id", userID, "error", err)
			return
		}
		h.broadcaster.BroadcastCustomStatus(taskCtx, snap)
	})
}

// dispatch handles one inbound frame. Frames are processed strictly in
// arrival order for a given connection.
func (h *Handler) dispatch(ctx context.Context, conn *Conn, frame *InboundFrame) {
	switch frame.Type {
	case EventSendMessage:
		h.handleSendMessage(ctx, conn, frame)
	case EventTouchActivity:
		h.machine.TouchActivity(ctx, conn.UserID())
	case EventSetStatus:
		h.handleSetStatus(ctx, conn, frame)
	case EventTyping:
		h.handleTyping(frame, conn)
	case EventGetPresence:
		h.handleGetPresence(ctx, conn, frame)
	case EventBatchGetPresence:
		h.handleBatchGetPresence(ctx, conn, frame)
	case EventJoinConversation:
		h.handleJoinConversation(ctx, conn, frame)
	case EventLeaveConversation:
		h.handleLeaveConversation(conn, frame)
	case EventDisconnect:
		_ = conn.Close()
	default:
		conn.Enqueue(errorAck(frame.ID, "unknown event type"))
	}
}

func (h *Handler) handleSendMessage(ctx context.Context, conn *Conn, frame *InboundFrame) {
	var payload SendMessagePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		conn.Enqueue(errorAck(frame.ID, "malformed payload"))
		return
	}

	view, err := h.chats.SendMessage(ctx, conn.UserID(), payload.RecipientID, payload.Content)
	if err != nil {
		conn.Enqueue(errorAck(frame.ID, ackMessage(err)))
		return
	}
	conn.Enqueue(okAck(frame.ID, view))
}

func (h *Handler) handleSetStatus(ctx context.Context, conn *Conn, frame *InboundFrame) {
	var payload SetStatusPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		conn.Enqueue(errorAck(frame.ID, "malformed payload"))
		return
	}

	status := shared.OnlineStatus(payload.Status)
	if err := h.machine.SetExplicitStatus(ctx, conn.UserID(), status, payload.Message); err != nil {
		conn.Enqueue(errorAck(frame.ID, ackMessage(err)))
		return
	}
	conn.Enqueue(okAck(frame.ID, nil))
	h.broadcastCustomStatus(conn.UserID())
}

func (h *Handler) handleTyping(frame *InboundFrame, conn *Conn) {
	var payload TypingPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil || payload.RecipientID == "" {
		// Fire-and-forget: malformed typing events vanish silently.
		return
	}
	h.broadcaster.BroadcastTyping(conn.UserID(), payload.RecipientID, payload.IsTyping)
}

func (h *Handler) handleGetPresence(ctx context.Context, conn *Conn, frame *InboundFrame) {
	var payload GetPresencePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil || payload.UserID == "" {
		conn.Enqueue(errorAck(frame.ID, "malformed payload"))
		return
	}

	snap, err := h.machine.GetSnapshot(ctx, payload.UserID)
	if err != nil {
		conn.Enqueue(errorAck(frame.ID, ackMessage(err)))
		return
	}
	conn.Enqueue(okAck(frame.ID, snap))
}

func (h *Handler) handleBatchGetPresence(ctx context.Context, conn *Conn, frame *InboundFrame) {
	var payload BatchGetPresencePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		conn.Enqueue(errorAck(frame.ID, "malformed payload"))
		return
	}
	if len(payload.UserIDs) > maxBatchPresenceIDs {
		conn.Enqueue(errorAck(frame.ID, "too many user ids"))
		return
	}

	snaps, err := h.machine.GetSnapshots(ctx, payload.UserIDs)
	if err != nil {
		conn.Enqueue(errorAck(frame.ID, ackMessage(err)))
		return
	}
	conn.Enqueue(okAck(frame.ID, snaps))
}

func (h *Handler) handleJoinConversation(ctx context.Context, conn *Conn, frame *InboundFrame) {
	var payload ConversationPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil || payload.ConversationID == "" {
		conn.Enqueue(errorAck(frame.ID, "malformed payload"))
		return
	}

	conv, err := h.chats.GetConversation(ctx, conn.UserID(), payload.ConversationID)
	if err != nil {
		conn.Enqueue(errorAck(frame.ID, ackMessage(err)))
		return
	}
	conn.JoinConversation(conv.ID)
	conn.Enqueue(okAck(frame.ID, conv))
}

func (h *Handler) handleLeaveConversation(conn *Conn, frame *InboundFrame) {
	var payload ConversationPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil || payload.ConversationID == "" {
		return
	}
	conn.LeaveConversation(payload.ConversationID)
}

func ackMessage(err error) string {
	switch err {
	case shared.ErrNotFound:
		return "not found"
	case shared.ErrValidation:
		return "invalid request"
	case shared.ErrForbidden:
		return "forbidden"
	default:
		return "internal error"
	}
}
