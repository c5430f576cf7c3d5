package notify

import "time"

type Notification struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"not null;index" json:"user_id"`
	Kind      string    `gorm:"not null" json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	Data      string    `json:"data,omitempty"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	KindNewMessage = "new_message"
)
