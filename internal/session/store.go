package session

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
	return s.db.AutoMigrate(&Session{})
}

func (s *Store) Create(ctx context.Context, userID string, device shared.DeviceType) (*Session, error) {
	now := time.Now()
	sess := &Session{
		ID:          shared.NewID("sess_"),
		UserID:      userID,
		DeviceType:  device,
		ConnectedAt: now,
		LastPing:    now,
		IsActive:    true,
	}
	if err := s.db.WithContext(ctx).Create(sess).Error; err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*Session, error) {
	var sess Session
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.ErrNotFound
	}
	return &sess, err
}

func (s *Store) Deactivate(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Model(&Session{}).
		Where("id = ? AND is_active = ?", id, true).
		Update("is_active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (s *Store) TouchPing(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&Session{}).
		Where("id = ? AND is_active = ?", id, true).
		Update("last_ping", time.Now()).Error
}

func (s *Store) ListActive(ctx context.Context, userID string) ([]*Session, error) {
	var sessions []*Session
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("connected_at ASC").
		Find(&sessions).Error
	return sessions, err
}

func (s *Store) CountActive(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Session{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Count(&count).Error
	return count, err
}

func (s *Store) IsOnline(ctx context.Context, userID string) (bool, error) {
	count, err := s.CountActive(ctx, userID)
	return count > 0, err
}

// SweepStale deactivates every active session whose last ping is older than
// the threshold and reports the users left with no active session at all.
// A partial failure still returns the counts accumulated so far.
func (s *Store) SweepStale(ctx context.Context, threshold time.Duration) (*SweepResult, error) {
	cutoff := time.Now().Add(-threshold)
	result := &SweepResult{}

	var stale []*Session
	if err := s.db.WithContext(ctx).
		Where("is_active = ? AND last_ping < ?", true, cutoff).
		Find(&stale).Error; err != nil {
		return result, err
	}
	if len(stale) == 0 {
		return result, nil
	}

	ids := make([]string, 0, len(stale))
	users := make(map[string]struct{})
	for _, sess := range stale {
		ids = append(ids, sess.ID)
		users[sess.UserID] = struct{}{}
	}

	update := s.db.WithContext(ctx).Model(&Session{}).
		Where("id IN ?", ids).
		Update("is_active", false)
	if update.Error != nil {
		return result, update.Error
	}
	result.CleanedSessions = int(update.RowsAffected)

	for userID := range users {
		count, err := s.CountActive(ctx, userID)
		if err != nil {
			return result, err
		}
		if count == 0 {
			result.AffectedUsers = append(result.AffectedUsers, userID)
		}
	}
	return result, nil
}
