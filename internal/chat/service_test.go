package chat

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/taskora/taskora-backend/internal/broadcast"
	"github.com/taskora/taskora-backend/internal/presence"
	"github.com/taskora/taskora-backend/internal/shared"
	"github.com/taskora/taskora-backend/internal/user"
	"github.com/taskora/taskora-backend/internal/worker"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type trackedMessage struct {
	msg           *Message
	recipientID   string
	senderRole    shared.Role
	recipientRole shared.Role
}

type fakeTracker struct {
	tracked chan trackedMessage
}

func (f *fakeTracker) TrackMessage(ctx context.Context, msg *Message, recipientID string, senderRole, recipientRole shared.Role) {
	f.tracked <- trackedMessage{msg: msg, recipientID: recipientID, senderRole: senderRole, recipientRole: recipientRole}
}

type fakeDeliverer struct {
	delivered chan string
}

func (f *fakeDeliverer) DeliverToUser(userID string, event *broadcast.Event) {
	f.delivered <- userID
}

type fakeNotifier struct {
	dispatched chan string
}

func (f *fakeNotifier) Dispatch(ctx context.Context, userID, kind, title, body string, data any) {
	f.dispatched <- userID
}

type fakePresence struct{}

func (fakePresence) GetSnapshot(ctx context.Context, userID string) (*presence.Snapshot, error) {
	return &presence.Snapshot{UserID: userID, Visible: true}, nil
}

type fakeViewers struct {
	userID         string
	conversationID string
}

func (f *fakeViewers) HasViewer(userID, conversationID string) bool {
	return f.userID == userID && f.conversationID == conversationID
}

type serviceFixture struct {
	service  *Service
	users    *user.Store
	tracker  *fakeTracker
	delivery *fakeDeliverer
	notifier *fakeNotifier
	viewers  *fakeViewers
	pool     *worker.Pool
}

func setupService(t *testing.T) *serviceFixture {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	store := NewStore(db)
	if err := store.Migrate(); err != nil {
		t.Fatalf("chat migration failed: %v", err)
	}
	users := user.NewStore(db)
	if err := users.Migrate(); err != nil {
		t.Fatalf("user migration failed: %v", err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	pool := worker.NewPool(2, 16, log)
	t.Cleanup(pool.Stop)

	tracker := &fakeTracker{tracked: make(chan trackedMessage, 8)}
	delivery := &fakeDeliverer{delivered: make(chan string, 8)}
	notifier := &fakeNotifier{dispatched: make(chan string, 8)}
	viewers := &fakeViewers{}

	service := NewService(store, users, tracker, delivery, notifier, fakePresence{}, viewers, pool, log)
	return &serviceFixture{
		service:  service,
		users:    users,
		tracker:  tracker,
		delivery: delivery,
		notifier: notifier,
		viewers:  viewers,
		pool:     pool,
	}
}

func seedUser(t *testing.T, users *user.Store, id string, role shared.Role) {
	t.Helper()
	if err := users.Create(context.Background(), &user.User{ID: id, Role: role}); err != nil {
		t.Fatalf("user create failed: %v", err)
	}
}

func waitFor[T any](t *testing.T, ch chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func TestSendMessage(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	seedUser(t, f.users, "user_client", shared.RoleClient)
	seedUser(t, f.users, "user_provider", shared.RoleProvider)

	view, err := f.service.SendMessage(ctx, "user_client", "user_provider", "  hello there  ")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if view.Content != "hello there" {
		t.Errorf("expected trimmed content, got %q", view.Content)
	}
	if view.SenderPresence == nil {
		t.Error("expected sender presence on the view")
	}

	tracked := waitFor(t, f.tracker.tracked, "metrics tracking")
	if tracked.msg.ID != view.ID || tracked.recipientID != "user_provider" {
		t.Errorf("unexpected tracking call %+v", tracked)
	}
	if tracked.senderRole != shared.RoleClient || tracked.recipientRole != shared.RoleProvider {
		t.Errorf("unexpected role pair %s/%s", tracked.senderRole, tracked.recipientRole)
	}

	// Both participants get the realtime event.
	recipients := map[string]bool{}
	recipients[waitFor(t, f.delivery.delivered, "first delivery")] = true
	recipients[waitFor(t, f.delivery.delivered, "second delivery")] = true
	if !recipients["user_client"] || !recipients["user_provider"] {
		t.Errorf("unexpected delivery set %v", recipients)
	}

	if notified := waitFor(t, f.notifier.dispatched, "notification"); notified != "user_provider" {
		t.Errorf("notification should target the recipient, got %s", notified)
	}
}

func TestSendMessage_SkipsNotificationWhileViewing(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	seedUser(t, f.users, "user_a", shared.RoleClient)
	seedUser(t, f.users, "user_b", shared.RoleProvider)

	view, err := f.service.SendMessage(ctx, "user_a", "user_b", "hello")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	waitFor(t, f.delivery.delivered, "first delivery")
	waitFor(t, f.delivery.delivered, "second delivery")
	waitFor(t, f.notifier.dispatched, "notification while not viewing")

	// The recipient opens the conversation; further messages still arrive
	// over the socket but stop producing notifications.
	f.viewers.userID = "user_b"
	f.viewers.conversationID = view.ConversationID

	if _, err := f.service.SendMessage(ctx, "user_a", "user_b", "still there?"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	waitFor(t, f.delivery.delivered, "first delivery")
	waitFor(t, f.delivery.delivered, "second delivery")

	select {
	case got := <-f.notifier.dispatched:
		t.Errorf("active viewer must not be notified, got notification for %s", got)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSendMessage_Validation(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	seedUser(t, f.users, "user_a", shared.RoleClient)
	seedUser(t, f.users, "user_b", shared.RoleProvider)

	tests := []struct {
		name      string
		sender    string
		recipient string
		content   string
		want      error
	}{
		{"empty content", "user_a", "user_b", "   ", shared.ErrValidation},
		{"oversized content", "user_a", "user_b", strings.Repeat("x", maxContentLength+1), shared.ErrValidation},
		{"self message", "user_a", "user_a", "hi", shared.ErrValidation},
		{"unknown recipient", "user_a", "user_ghost", "hi", shared.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.SendMessage(ctx, tt.sender, tt.recipient, tt.content)
			if err != tt.want {
				t.Errorf("SendMessage() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestGetMessages_ParticipantsOnly(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	seedUser(t, f.users, "user_a", shared.RoleClient)
	seedUser(t, f.users, "user_b", shared.RoleProvider)
	seedUser(t, f.users, "user_outsider", shared.RoleClient)

	view, err := f.service.SendMessage(ctx, "user_a", "user_b", "hello")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	messages, err := f.service.GetMessages(ctx, "user_a", view.ConversationID, true)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if messages[0].SenderPresence == nil {
		t.Error("expected presence enrichment when requested")
	}

	if _, err := f.service.GetMessages(ctx, "user_outsider", view.ConversationID, false); err != shared.ErrForbidden {
		t.Errorf("outsider should be forbidden, got %v", err)
	}
}

func TestGetConversations(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	seedUser(t, f.users, "user_a", shared.RoleClient)
	seedUser(t, f.users, "user_b", shared.RoleProvider)
	seedUser(t, f.users, "user_c", shared.RoleProvider)

	f.service.SendMessage(ctx, "user_a", "user_b", "first thread")
	f.service.SendMessage(ctx, "user_a", "user_c", "second thread")

	views, err := f.service.GetConversations(ctx, "user_a")
	if err != nil {
		t.Fatalf("GetConversations failed: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(views))
	}

	// Most recently active first, each with partner context.
	if views[0].PartnerID != "user_c" {
		t.Errorf("expected newest thread first, got partner %s", views[0].PartnerID)
	}
	for _, v := range views {
		if v.LastMessage == nil {
			t.Error("expected last message on each view")
		}
		if v.PartnerPresence == nil {
			t.Error("expected partner presence on each view")
		}
	}
}
