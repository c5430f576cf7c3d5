package broadcast

import "time"

const (
	EventNewMessage      = "new-message"
	EventNewNotification = "new-notification"
	EventPresenceUpdate  = "presence-update"
	EventCustomStatus    = "custom-status"
	EventUserTyping      = "user-typing"
)

// Event is the envelope every private-channel delivery uses.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type TypingPayload struct {
	UserID    string    `json:"user_id"`
	IsTyping  bool      `json:"is_typing"`
	Timestamp time.Time `json:"timestamp"`
}

// relayEnvelope carries an event between instances over redis pub/sub.
type relayEnvelope struct {
	Origin      string `json:"origin"`
	RecipientID string `json:"recipient_id"`
	Event       *Event `json:"event"`
}
