package session

import (
	"time"

	"github.com/taskora/taskora-backend/internal/shared"
)

// Session is one live connection for a user. A user connected from several
// devices holds several active rows at once.
type Session struct {
	ID          string            `gorm:"primaryKey" json:"id"`
	UserID      string            `gorm:"not null;index" json:"user_id"`
	DeviceType  shared.DeviceType `gorm:"default:unknown" json:"device_type"`
	ConnectedAt time.Time         `json:"connected_at"`
	LastPing    time.Time         `gorm:"index" json:"last_ping"`
	IsActive    bool              `gorm:"default:true;index" json:"is_active"`
}

// SweepResult reports exactly what a staleness sweep changed.
type SweepResult struct {
	CleanedSessions int      `json:"cleaned_sessions"`
	AffectedUsers   []string `json:"affected_users"`
}
