package gateway

import "encoding/json"

// Inbound event types. Request/response events are acknowledged; typing and
// activity touches are fire-and-forget.
const (
	EventSendMessage       = "send-message"
	EventTouchActivity     = "touch-activity"
	EventSetStatus         = "set-status"
	EventTyping            = "typing"
	EventGetPresence       = "get-presence"
	EventBatchGetPresence  = "batch-get-presence"
	EventJoinConversation  = "join-conversation"
	EventLeaveConversation = "leave-conversation"
	EventDisconnect        = "disconnect"

	EventAck = "ack"
)

// InboundFrame is one client event. ID correlates the acknowledgement.
type InboundFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Ack is the {status, message} acknowledgement for request/response events.
type Ack struct {
	ID      string `json:"id,omitempty"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func okAck(id string, data any) *Ack {
	return &Ack{ID: id, Status: "ok", Data: data}
}

func errorAck(id, message string) *Ack {
	return &Ack{ID: id, Status: "error", Message: message}
}

type SendMessagePayload struct {
	RecipientID string `json:"recipient_id"`
	Content     string `json:"content"`
}

type SetStatusPayload struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type TypingPayload struct {
	RecipientID string `json:"recipient_id"`
	IsTyping    bool   `json:"is_typing"`
}

type GetPresencePayload struct {
	UserID string `json:"user_id"`
}

type BatchGetPresencePayload struct {
	UserIDs []string `json:"user_ids"`
}

type ConversationPayload struct {
	ConversationID string `json:"conversation_id"`
}
