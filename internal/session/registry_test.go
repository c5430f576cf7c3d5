package session

import (
	"testing"
)

type fakeConn struct {
	connID  string
	userID  string
	events  []any
	full    bool
	closed  bool
	viewing string
}

func (c *fakeConn) ConnID() string { return c.connID }
func (c *fakeConn) UserID() string { return c.userID }
func (c *fakeConn) Close() error   { c.closed = true; return nil }

func (c *fakeConn) InConversation(id string) bool { return c.viewing == id }

func (c *fakeConn) Enqueue(event any) bool {
	if c.full {
		return false
	}
	c.events = append(c.events, event)
	return true
}

func TestRegistry_AddRemove(t *testing.T) {
	registry := NewRegistry()

	web := &fakeConn{connID: "conn_1", userID: "user_a"}
	mobile := &fakeConn{connID: "conn_2", userID: "user_a"}
	registry.Add(web)
	registry.Add(mobile)

	if !registry.IsConnected("user_a") {
		t.Error("expected user_a connected")
	}
	if registry.ConnectionCount() != 2 || registry.UserCount() != 1 {
		t.Errorf("unexpected counts: conns=%d users=%d",
			registry.ConnectionCount(), registry.UserCount())
	}

	if remaining := registry.Remove("user_a", "conn_1"); remaining != 1 {
		t.Errorf("expected 1 remaining, got %d", remaining)
	}
	if !registry.IsConnected("user_a") {
		t.Error("user with a remaining connection must stay connected")
	}

	if remaining := registry.Remove("user_a", "conn_2"); remaining != 0 {
		t.Errorf("expected 0 remaining, got %d", remaining)
	}
	if registry.IsConnected("user_a") {
		t.Error("expected user_a disconnected")
	}
	if registry.UserCount() != 0 {
		t.Errorf("expected empty registry, got %d users", registry.UserCount())
	}
}

func TestRegistry_RemoveUnknown(t *testing.T) {
	registry := NewRegistry()
	if remaining := registry.Remove("user_ghost", "conn_x"); remaining != 0 {
		t.Errorf("expected 0 for unknown user, got %d", remaining)
	}
}

func TestRegistry_Deliver(t *testing.T) {
	registry := NewRegistry()

	web := &fakeConn{connID: "conn_1", userID: "user_a"}
	mobile := &fakeConn{connID: "conn_2", userID: "user_a"}
	saturated := &fakeConn{connID: "conn_3", userID: "user_a", full: true}
	registry.Add(web)
	registry.Add(mobile)
	registry.Add(saturated)

	delivered := registry.Deliver("user_a", "hello")
	if delivered != 2 {
		t.Errorf("expected 2 accepted deliveries, got %d", delivered)
	}
	if len(web.events) != 1 || len(mobile.events) != 1 {
		t.Error("every healthy connection should receive the event")
	}
	if len(saturated.events) != 0 {
		t.Error("saturated connection must drop, not block")
	}

	if delivered := registry.Deliver("user_offline", "hello"); delivered != 0 {
		t.Errorf("expected 0 deliveries to unknown user, got %d", delivered)
	}
}

func TestRegistry_HasViewer(t *testing.T) {
	registry := NewRegistry()

	idle := &fakeConn{connID: "conn_1", userID: "user_a"}
	viewing := &fakeConn{connID: "conn_2", userID: "user_a", viewing: "conv_1"}
	registry.Add(idle)
	registry.Add(viewing)

	if !registry.HasViewer("user_a", "conv_1") {
		t.Error("expected a viewer when any connection joined the conversation")
	}
	if registry.HasViewer("user_a", "conv_2") {
		t.Error("unexpected viewer for a conversation nobody joined")
	}
	if registry.HasViewer("user_offline", "conv_1") {
		t.Error("unexpected viewer for a user with no connections")
	}

	registry.Remove("user_a", "conn_2")
	if registry.HasViewer("user_a", "conv_1") {
		t.Error("viewer must disappear with its connection")
	}
}
