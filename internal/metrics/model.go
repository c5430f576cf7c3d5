package metrics

import "time"

const (
	// MaxResponseMinutes caps a trackable response at 7 days. Anything beyond
	// is a timing anomaly and never persisted as valid.
	MaxResponseMinutes = 10080

	// Within24hMinutes is the responsiveness threshold feeding the rate stat.
	Within24hMinutes = 1440

	// RetentionDays bounds both the aggregation window and hard deletion.
	RetentionDays = 30

	// MinSampleSize gates display only; storage is never gated on it.
	MinSampleSize = 3

	// CacheMaxAge is how old a provider's cached aggregate may be before a
	// read triggers a synchronous recompute.
	CacheMaxAge = time.Hour
)

// ResponseMetric measures one client-initial-message → provider-response
// pair. A row with a nil ResponseMessageID is pending; at most one pending
// row exists per (provider, conversation).
type ResponseMetric struct {
	ID                  string    `gorm:"primaryKey" json:"id"`
	ProviderID          string    `gorm:"not null;index" json:"provider_id"`
	ConversationID      string    `gorm:"not null;index" json:"conversation_id"`
	InitialMessageID    string    `gorm:"not null;index" json:"initial_message_id"`
	ResponseMessageID   *string   `json:"response_message_id,omitempty"`
	ResponseTimeMinutes *int      `json:"response_time_minutes,omitempty"`
	RespondedWithin24h  bool      `json:"responded_within_24h"`
	CreatedAt           time.Time `gorm:"index" json:"created_at"`
}

func (m *ResponseMetric) Pending() bool {
	return m.ResponseMessageID == nil
}

// Aggregate is the outcome of a provider metrics recomputation.
type Aggregate struct {
	AverageResponseTime *float64 `json:"average_response_time"`
	ResponseRate        *float64 `json:"response_rate"`
	SampleSize          int      `json:"sample_size"`
}

// ProviderMetricsView is the read-path shape, including the display-only
// sufficiency flag.
type ProviderMetricsView struct {
	ProviderID          string     `json:"provider_id"`
	AverageResponseTime *float64   `json:"average_response_time"`
	ResponseRate        *float64   `json:"response_rate"`
	SampleSize          int        `json:"sample_size"`
	Sufficient          bool       `json:"sufficient"`
	LastUpdated         *time.Time `json:"last_updated,omitempty"`
}

// IntegrityReport is returned by the data integrity validator.
type IntegrityReport struct {
	IsValid    bool     `json:"is_valid"`
	Issues     []string `json:"issues"`
	FixedCount int      `json:"fixed_count"`
}

// BatchResult reports a batch recomputation over stale providers.
type BatchResult struct {
	TotalProviders int `json:"total_providers"`
	UpdatedCount   int `json:"updated_count"`
	ErrorCount     int `json:"error_count"`
}
