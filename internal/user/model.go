package user

import (
	"time"

	"github.com/taskora/taskora-backend/internal/shared"
)

type User struct {
	ID    string      `gorm:"primaryKey" json:"id"`
	Email string      `gorm:"index" json:"email,omitempty"`
	Name  string      `json:"name,omitempty"`
	Role  shared.Role `gorm:"not null;index" json:"role"`
	City  string      `gorm:"index" json:"city,omitempty"`

	OnlineStatus        shared.OnlineStatus `gorm:"default:offline" json:"online_status"`
	LastActivity        *time.Time          `json:"last_activity,omitempty"`
	ShowOnlineStatus    bool                `gorm:"default:true" json:"show_online_status"`
	BroadcastToLocality bool                `gorm:"default:false" json:"broadcast_to_locality"`
	CustomStatusMessage string              `json:"custom_status_message,omitempty"`

	AverageResponseTimeMinutes *float64   `json:"average_response_time_minutes,omitempty"`
	ResponseRatePercentage     *float64   `json:"response_rate_percentage,omitempty"`
	MetricsLastUpdated         *time.Time `json:"metrics_last_updated,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProviderMetrics is the cached aggregate read back off the user row.
type ProviderMetrics struct {
	AverageResponseTime *float64   `json:"average_response_time"`
	ResponseRate        *float64   `json:"response_rate"`
	LastUpdated         *time.Time `json:"last_updated"`
}

func (u *User) CachedMetrics() *ProviderMetrics {
	return &ProviderMetrics{
		AverageResponseTime: u.AverageResponseTimeMinutes,
		ResponseRate:        u.ResponseRatePercentage,
		LastUpdated:         u.MetricsLastUpdated,
	}
}
