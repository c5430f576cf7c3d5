package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/taskora/taskora-backend/internal/shared"
	"gorm.io/gorm"
)

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&ResponseMetric{})
}

func (s *Store) Create(ctx context.Context, m *ResponseMetric) error {
	if m.ID == "" {
		m.ID = shared.NewID("rm_")
	}
	return s.db.WithContext(ctx).Create(m).Error
}

func (s *Store) GetByID(ctx context.Context, id string) (*ResponseMetric, error) {
	var m ResponseMetric
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.ErrNotFound
	}
	return &m, err
}

// LatestPending returns the newest unanswered metric for the pair, or
// ErrNotFound when the provider owes no response in this conversation.
func (s *Store) LatestPending(ctx context.Context, providerID, conversationID string) (*ResponseMetric, error) {
	var m ResponseMetric
	err := s.db.WithContext(ctx).
		Where("provider_id = ? AND conversation_id = ? AND response_message_id IS NULL", providerID, conversationID).
		Order("created_at DESC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.ErrNotFound
	}
	return &m, err
}

func (s *Store) ExistsForInitialMessage(ctx context.Context, messageID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&ResponseMetric{}).
		Where("initial_message_id = ?", messageID).
		Count(&count).Error
	return count > 0, err
}

// Complete fills in the response half of a pending metric.
func (s *Store) Complete(ctx context.Context, id, responseMessageID string, minutes int, within24h bool) error {
	result := s.db.WithContext(ctx).Model(&ResponseMetric{}).
		Where("id = ? AND response_message_id IS NULL", id).
		Updates(map[string]any{
			"response_message_id":   responseMessageID,
			"response_time_minutes": minutes,
			"responded_within_24h":  within24h,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&ResponseMetric{}).Error
}

func (s *Store) ListForProviderSince(ctx context.Context, providerID string, since time.Time) ([]*ResponseMetric, error) {
	var rows []*ResponseMetric
	err := s.db.WithContext(ctx).
		Where("provider_id = ? AND created_at >= ?", providerID, since).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&ResponseMetric{})
	return result.RowsAffected, result.Error
}

// DeleteForNonProviders removes rows whose provider_id does not point at a
// provider account.
func (s *Store) DeleteForNonProviders(ctx context.Context) (int64, error) {
	sub := s.db.Table("users").Select("id").Where("role = ?", shared.RoleProvider)
	result := s.db.WithContext(ctx).
		Where("provider_id NOT IN (?)", sub).
		Delete(&ResponseMetric{})
	return result.RowsAffected, result.Error
}

// NullNegativeResponseTimes clears impossible negative timings rather than
// deleting the row; the pair itself still happened.
func (s *Store) NullNegativeResponseTimes(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).Model(&ResponseMetric{}).
		Where("response_time_minutes < 0").
		Updates(map[string]any{"response_time_minutes": nil, "responded_within_24h": false})
	return result.RowsAffected, result.Error
}

// DeleteDanglingConversationRefs removes rows whose conversation is gone.
func (s *Store) DeleteDanglingConversationRefs(ctx context.Context) (int64, error) {
	sub := s.db.Table("conversations").Select("id")
	result := s.db.WithContext(ctx).
		Where("conversation_id NOT IN (?)", sub).
		Delete(&ResponseMetric{})
	return result.RowsAffected, result.Error
}

// DeleteDanglingMessageRefs removes rows whose initial message is gone.
func (s *Store) DeleteDanglingMessageRefs(ctx context.Context) (int64, error) {
	sub := s.db.Table("messages").Select("id")
	result := s.db.WithContext(ctx).
		Where("initial_message_id NOT IN (?)", sub).
		Delete(&ResponseMetric{})
	return result.RowsAffected, result.Error
}
