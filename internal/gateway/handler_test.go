package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"net/http/httptest"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/taskora/taskora-backend/internal/auth"
	"github.com/taskora/taskora-backend/internal/broadcast"
	"github.com/taskora/taskora-backend/internal/chat"
	"github.com/taskora/taskora-backend/internal/presence"
	"github.com/taskora/taskora-backend/internal/session"
	"github.com/taskora/taskora-backend/internal/shared"
	"github.com/taskora/taskora-backend/internal/user"
	"github.com/taskora/taskora-backend/internal/worker"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const gatewayTestKey = "gateway-test-key"

type noopTracker struct{}

func (noopTracker) TrackMessage(ctx context.Context, msg *chat.Message, recipientID string, senderRole, recipientRole shared.Role) {
}

type noopNotifier struct{}

func (noopNotifier) Dispatch(ctx context.Context, userID, kind, title, body string, data any) {}

type gatewayFixture struct {
	users    *user.Store
	sessions *session.Store
	server   *httptest.Server
}

func setupGateway(t *testing.T) *gatewayFixture {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	users := user.NewStore(db)
	sessions := session.NewStore(db)
	chats := chat.NewStore(db)
	for _, migrate := range []func() error{users.Migrate, sessions.Migrate, chats.Migrate} {
		if err := migrate(); err != nil {
			t.Fatalf("migration failed: %v", err)
		}
	}

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	pool := worker.NewPool(2, 64, log)
	t.Cleanup(pool.Stop)

	registry := session.NewRegistry()
	machine := presence.NewMachine(users, sessions, presence.NewActivityLimiter(presence.DefaultActivityInterval), log)
	audience := broadcast.NewAudience(chats, users, log)
	broadcaster := broadcast.NewBroadcaster(registry, audience, redisClient, log)
	chatService := chat.NewService(chats, users, noopTracker{}, broadcaster, noopNotifier{}, machine, registry, pool, log)

	handler := NewHandler(
		auth.NewJWTValidator([]byte(gatewayTestKey)),
		users, sessions, registry, machine, chatService, broadcaster, pool, log,
	)

	e := echo.New()
	e.GET("/ws", handler.handleWebSocket)
	server := httptest.NewServer(e)
	t.Cleanup(server.Close)

	return &gatewayFixture{users: users, sessions: sessions, server: server}
}

func (f *gatewayFixture) seedUser(t *testing.T, id string, role shared.Role) {
	t.Helper()
	if err := f.users.Create(context.Background(), &user.User{ID: id, Role: role}); err != nil {
		t.Fatalf("user create failed: %v", err)
	}
}

func signGatewayToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(gatewayTestKey))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func (f *gatewayFixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + f.server.URL[4:] + "/ws?token=" + token + "&device=web"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

// wireMessage is the union of the ack and event shapes on the wire.
type wireMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Payload json.RawMessage `json:"payload"`
	Data    json.RawMessage `json:"data"`
}

func readWire(t *testing.T, ws *websocket.Conn) *wireMessage {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("websocket read failed: %v", err)
	}
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal failed: %v (%s)", err, data)
	}
	return &msg
}

func awaitAck(t *testing.T, ws *websocket.Conn, id string) *wireMessage {
	t.Helper()
	for i := 0; i < 10; i++ {
		msg := readWire(t, ws)
		if msg.Status != "" && msg.ID == id {
			return msg
		}
	}
	t.Fatalf("no acknowledgement for %q", id)
	return nil
}

func awaitEvent(t *testing.T, ws *websocket.Conn, eventType string) *wireMessage {
	t.Helper()
	for i := 0; i < 10; i++ {
		msg := readWire(t, ws)
		if msg.Type == eventType {
			return msg
		}
	}
	t.Fatalf("no %q event received", eventType)
	return nil
}

func sendFrame(t *testing.T, ws *websocket.Conn, frameType, id string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	frame := InboundFrame{Type: frameType, ID: id, Payload: data}
	if err := ws.WriteJSON(frame); err != nil {
		t.Fatalf("websocket write failed: %v", err)
	}
}

func waitForStatus(t *testing.T, users *user.Store, userID string, want shared.OnlineStatus) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		u, err := users.GetByID(context.Background(), userID)
		if err == nil && u.OnlineStatus == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("user %s never reached status %s", userID, want)
}

func TestHandshake_RejectsBadToken(t *testing.T) {
	f := setupGateway(t)

	url := "ws" + f.server.URL[4:] + "/ws?token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected handshake rejection")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Errorf("expected 401 response, got %+v", resp)
	}

	// No session row for a rejected handshake.
	count, _ := f.sessions.CountActive(context.Background(), "user_a")
	if count != 0 {
		t.Errorf("expected no sessions, got %d", count)
	}
}

func TestHandshake_RejectsUnknownUser(t *testing.T) {
	f := setupGateway(t)

	url := "ws" + f.server.URL[4:] + "/ws?token=" + signGatewayToken(t, "user_ghost")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected handshake rejection")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Errorf("expected 401 response, got %+v", resp)
	}
}

func TestConnectLifecycle(t *testing.T) {
	f := setupGateway(t)
	f.seedUser(t, "user_a", shared.RoleClient)

	ws := f.dial(t, signGatewayToken(t, "user_a"))
	waitForStatus(t, f.users, "user_a", shared.StatusOnline)

	count, _ := f.sessions.CountActive(context.Background(), "user_a")
	if count != 1 {
		t.Errorf("expected 1 active session, got %d", count)
	}

	ws.Close()
	waitForStatus(t, f.users, "user_a", shared.StatusOffline)

	count, _ = f.sessions.CountActive(context.Background(), "user_a")
	if count != 0 {
		t.Errorf("expected no active sessions after disconnect, got %d", count)
	}
}

func TestSendMessageOverSocket(t *testing.T) {
	f := setupGateway(t)
	f.seedUser(t, "user_client", shared.RoleClient)
	f.seedUser(t, "user_provider", shared.RoleProvider)

	sender := f.dial(t, signGatewayToken(t, "user_client"))
	recipient := f.dial(t, signGatewayToken(t, "user_provider"))
	waitForStatus(t, f.users, "user_client", shared.StatusOnline)
	waitForStatus(t, f.users, "user_provider", shared.StatusOnline)

	sendFrame(t, sender, EventSendMessage, "req-1", SendMessagePayload{
		RecipientID: "user_provider",
		Content:     "hello",
	})

	ack := awaitAck(t, sender, "req-1")
	if ack.Status != "ok" {
		t.Fatalf("ack status = %s (%s)", ack.Status, ack.Message)
	}

	event := awaitEvent(t, recipient, broadcast.EventNewMessage)
	var msg chat.MessageView
	if err := json.Unmarshal(event.Payload, &msg); err != nil {
		t.Fatalf("payload unmarshal failed: %v", err)
	}
	if msg.Content != "hello" || msg.SenderID != "user_client" {
		t.Errorf("unexpected message payload %+v", msg)
	}

	// The sender's other devices get the echo too.
	awaitEvent(t, sender, broadcast.EventNewMessage)
}

func TestSendMessageOverSocket_Invalid(t *testing.T) {
	f := setupGateway(t)
	f.seedUser(t, "user_a", shared.RoleClient)

	ws := f.dial(t, signGatewayToken(t, "user_a"))

	sendFrame(t, ws, EventSendMessage, "req-1", SendMessagePayload{
		RecipientID: "user_a",
		Content:     "talking to myself",
	})
	ack := awaitAck(t, ws, "req-1")
	if ack.Status != "error" {
		t.Errorf("self-message should fail, got %+v", ack)
	}
}

func TestSetStatusOverSocket(t *testing.T) {
	f := setupGateway(t)
	f.seedUser(t, "user_a", shared.RoleClient)

	ws := f.dial(t, signGatewayToken(t, "user_a"))
	waitForStatus(t, f.users, "user_a", shared.StatusOnline)

	sendFrame(t, ws, EventSetStatus, "req-1", SetStatusPayload{Status: "dnd", Message: "busy"})
	ack := awaitAck(t, ws, "req-1")
	if ack.Status != "ok" {
		t.Fatalf("ack status = %s (%s)", ack.Status, ack.Message)
	}
	waitForStatus(t, f.users, "user_a", shared.StatusDND)

	sendFrame(t, ws, EventSetStatus, "req-2", SetStatusPayload{Status: "invisible"})
	ack = awaitAck(t, ws, "req-2")
	if ack.Status != "error" {
		t.Errorf("unknown status should fail, got %+v", ack)
	}
}

func TestGetPresenceOverSocket(t *testing.T) {
	f := setupGateway(t)
	f.seedUser(t, "user_a", shared.RoleClient)
	f.seedUser(t, "user_b", shared.RoleProvider)

	ws := f.dial(t, signGatewayToken(t, "user_a"))

	sendFrame(t, ws, EventGetPresence, "req-1", GetPresencePayload{UserID: "user_b"})
	ack := awaitAck(t, ws, "req-1")
	if ack.Status != "ok" {
		t.Fatalf("ack status = %s (%s)", ack.Status, ack.Message)
	}

	var snap presence.Snapshot
	if err := json.Unmarshal(ack.Data, &snap); err != nil {
		t.Fatalf("snapshot unmarshal failed: %v", err)
	}
	if snap.UserID != "user_b" {
		t.Errorf("unexpected snapshot subject %s", snap.UserID)
	}

	sendFrame(t, ws, EventGetPresence, "req-2", GetPresencePayload{UserID: "user_ghost"})
	if ack := awaitAck(t, ws, "req-2"); ack.Status != "error" {
		t.Errorf("unknown subject should fail, got %+v", ack)
	}
}

func TestTypingOverSocket(t *testing.T) {
	f := setupGateway(t)
	f.seedUser(t, "user_a", shared.RoleClient)
	f.seedUser(t, "user_b", shared.RoleProvider)

	sender := f.dial(t, signGatewayToken(t, "user_a"))
	recipient := f.dial(t, signGatewayToken(t, "user_b"))

	sendFrame(t, sender, EventTyping, "", TypingPayload{RecipientID: "user_b", IsTyping: true})

	event := awaitEvent(t, recipient, broadcast.EventUserTyping)
	var payload broadcast.TypingPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		t.Fatalf("payload unmarshal failed: %v", err)
	}
	if payload.UserID != "user_a" || !payload.IsTyping {
		t.Errorf("unexpected typing payload %+v", payload)
	}
}

func TestMalformedFrame(t *testing.T) {
	f := setupGateway(t)
	f.seedUser(t, "user_a", shared.RoleClient)

	ws := f.dial(t, signGatewayToken(t, "user_a"))

	if err := ws.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	msg := readWire(t, ws)
	if msg.Status != "error" || msg.Message != "malformed event" {
		t.Errorf("expected malformed-event ack, got %+v", msg)
	}

	sendFrame(t, ws, "warp-drive", "req-1", nil)
	if ack := awaitAck(t, ws, "req-1"); ack.Status != "error" {
		t.Errorf("unknown event type should be rejected, got %+v", ack)
	}
}
