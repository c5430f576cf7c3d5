package chat

import "time"

// Conversation is the single thread between an unordered pair of users. The
// pair is stored normalized (user_one_id < user_two_id) under a unique index,
// so concurrent first contact converges on one row at the store level.
type Conversation struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	UserOneID string    `gorm:"not null;index:idx_conversation_pair,unique" json:"user_one_id"`
	UserTwoID string    `gorm:"not null;index:idx_conversation_pair,unique" json:"user_two_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`
}

// OtherParty returns the counterpart of the given user in this conversation.
func (c *Conversation) OtherParty(userID string) string {
	if c.UserOneID == userID {
		return c.UserTwoID
	}
	return c.UserOneID
}

func (c *Conversation) HasParticipant(userID string) bool {
	return c.UserOneID == userID || c.UserTwoID == userID
}

// Message is append-only; rows are never edited or deleted.
type Message struct {
	ID             string    `gorm:"primaryKey" json:"id"`
	ConversationID string    `gorm:"not null;index" json:"conversation_id"`
	SenderID       string    `gorm:"not null;index" json:"sender_id"`
	Content        string    `gorm:"not null" json:"content"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}

// NormalizePair orders a user pair so (a,b) and (b,a) address the same row.
func NormalizePair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}
