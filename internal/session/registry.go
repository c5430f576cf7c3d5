package session

import (
	"sync"
)

// Conn is the registry's view of a live gateway connection. Enqueue must not
// block; it reports whether the event was accepted.
type Conn interface {
	ConnID() string
	UserID() string
	Enqueue(event any) bool
	InConversation(conversationID string) bool
	Close() error
}

// Registry tracks live connections per user. It is process-local and holds no
// authoritative state; the session table remains the source of truth.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]map[string]Conn // userID -> connID -> conn
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]map[string]Conn),
	}
}

func (r *Registry) Add(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userConns, ok := r.conns[conn.UserID()]
	if !ok {
		userConns = make(map[string]Conn)
		r.conns[conn.UserID()] = userConns
	}
	userConns[conn.ConnID()] = conn
}

// Remove drops the connection and reports how many remain for the user.
func (r *Registry) Remove(userID, connID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	userConns, ok := r.conns[userID]
	if !ok {
		return 0
	}
	delete(userConns, connID)
	if len(userConns) == 0 {
		delete(r.conns, userID)
		return 0
	}
	return len(userConns)
}

func (r *Registry) IsConnected(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID]) > 0
}

// Deliver enqueues the event on every live connection of the user, across all
// devices. Returns the number of connections that accepted it.
func (r *Registry) Deliver(userID string, event any) int {
	r.mu.RLock()
	conns := make([]Conn, 0, len(r.conns[userID]))
	for _, c := range r.conns[userID] {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, c := range conns {
		if c.Enqueue(event) {
			delivered++
		}
	}
	return delivered
}

// HasViewer reports whether any of the user's live connections is currently
// viewing the conversation.
func (r *Registry) HasViewer(userID, conversationID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.conns[userID] {
		if c.InConversation(conversationID) {
			return true
		}
	}
	return false
}

func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, userConns := range r.conns {
		count += len(userConns)
	}
	return count
}

func (r *Registry) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
