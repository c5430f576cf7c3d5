package user

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
	return s.db.AutoMigrate(&User{})
}

func (s *Store) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = shared.NewID("user_")
	}
	if u.OnlineStatus == "" {
		u.OnlineStatus = shared.StatusOffline
	}
	return s.db.WithContext(ctx).Create(u).Error
}

func (s *Store) GetByID(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.ErrNotFound
	}
	return &u, err
}

func (s *Store) GetRole(ctx context.Context, id string) (shared.Role, error) {
	var u User
	err := s.db.WithContext(ctx).Select("role").Where("id = ?", id).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", shared.ErrNotFound
	}
	return u.Role, err
}

// SetPresence writes the authoritative presence columns for a user. Callers go
// through the presence state machine, never directly.
func (s *Store) SetPresence(ctx context.Context, id string, status shared.OnlineStatus, customMessage *string, touchActivity bool) error {
	updates := map[string]any{"online_status": status}
	if customMessage != nil {
		updates["custom_status_message"] = *customMessage
	}
	if touchActivity {
		updates["last_activity"] = time.Now()
	}

	result := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// TouchActivityIfOlder refreshes last_activity only when the stored value is
// older than the cutoff, making the heartbeat write conditional at the store
// rather than racing concurrent writers. Returns whether a row was written.
func (s *Store) TouchActivityIfOlder(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	result := s.db.WithContext(ctx).Model(&User{}).
		Where("id = ? AND (last_activity IS NULL OR last_activity < ?)", id, cutoff).
		Update("last_activity", time.Now())
	return result.RowsAffected > 0, result.Error
}

func (s *Store) SaveProviderMetrics(ctx context.Context, id string, avgMinutes, ratePct *float64) error {
	return s.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).Updates(map[string]any{
		"average_response_time_minutes": avgMinutes,
		"response_rate_percentage":      ratePct,
		"metrics_last_updated":          time.Now(),
	}).Error
}

// ListProvidersWithStaleMetrics returns providers whose cached metrics are
// absent or older than the cutoff.
func (s *Store) ListProvidersWithStaleMetrics(ctx context.Context, cutoff time.Time) ([]*User, error) {
	var users []*User
	err := s.db.WithContext(ctx).
		Where("role = ? AND (metrics_last_updated IS NULL OR metrics_last_updated < ?)", shared.RoleProvider, cutoff).
		Find(&users).Error
	return users, err
}

// ListByCityAndRole backs the opt-in locality audience: everyone in the city
// holding the given role, excluding the subject.
func (s *Store) ListByCityAndRole(ctx context.Context, city string, role shared.Role, excludeID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&User{}).
		Where("city = ? AND role = ? AND id <> ?", city, role, excludeID).
		Pluck("id", &ids).Error
	return ids, err
}
