package presence

import (
	"fmt"
	"time"

	"github.com/taskora/taskora-backend/internal/shared"
	"github.com/taskora/taskora-backend/internal/user"
)

// Snapshot is the consumer-facing view of a user's presence. When the user
// hides their online status, only the bucketed LastSeen description is
// populated; raw status and timestamps never leave the server.
type Snapshot struct {
	UserID              string               `json:"user_id"`
	Visible             bool                 `json:"visible"`
	OnlineStatus        *shared.OnlineStatus `json:"online_status,omitempty"`
	LastActivity        *time.Time           `json:"last_activity,omitempty"`
	CustomStatusMessage string               `json:"custom_status_message,omitempty"`
	LastSeen            string               `json:"last_seen"`
	Timestamp           time.Time            `json:"timestamp"`
}

// NewSnapshot applies the privacy guarantee to a user row.
func NewSnapshot(u *user.User, now time.Time) *Snapshot {
	snap := &Snapshot{
		UserID:    u.ID,
		Visible:   u.ShowOnlineStatus,
		LastSeen:  DescribeLastSeen(now, u.LastActivity),
		Timestamp: now,
	}
	if !u.ShowOnlineStatus {
		return snap
	}

	status := u.OnlineStatus
	if status == "" {
		status = shared.StatusOffline
	}
	snap.OnlineStatus = &status
	snap.LastActivity = u.LastActivity
	snap.CustomStatusMessage = u.CustomStatusMessage
	return snap
}

// DescribeLastSeen buckets elapsed time into a coarse human description. This
// is the only presence detail shown for users who hide their status.
func DescribeLastSeen(now time.Time, last *time.Time) string {
	if last == nil {
		return "more than a week ago"
	}

	elapsed := now.Sub(*last)
	switch {
	case elapsed < time.Minute:
		return "just now"
	case elapsed < time.Hour:
		minutes := int(elapsed.Minutes())
		if minutes == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", minutes)
	case elapsed < 24*time.Hour:
		hours := int(elapsed.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case elapsed < 7*24*time.Hour:
		days := int(elapsed.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	default:
		return "more than a week ago"
	}
}
