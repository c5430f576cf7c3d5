package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/taskora/taskora-backend/internal/broadcast"
	"github.com/taskora/taskora-backend/internal/shared"
	"gorm.io/gorm"
)

// Pusher delivers a payload to a user's private channel.
type Pusher interface {
	DeliverToUser(userID string, event *broadcast.Event)
}

// Dispatcher persists a notification and pushes it to any live connections.
// Both halves are best-effort: a store failure is logged and the push still
// attempted, so a flaky database never silences the realtime channel.
type Dispatcher struct {
	db     *gorm.DB
	pusher Pusher
	logger *slog.Logger
}

func NewDispatcher(db *gorm.DB, pusher Pusher, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		db:     db,
		pusher: pusher,
		logger: logger.With("component", "notify"),
	}
}

func (d *Dispatcher) Migrate() error {
	return d.db.AutoMigrate(&Notification{})
}

// Dispatch stores and pushes a notification. Errors never propagate to the
// action that produced the notification.
func (d *Dispatcher) Dispatch(ctx context.Context, userID, kind, title, body string, data any) {
	n := &Notification{
		ID:     shared.NewID("ntf_"),
		UserID: userID,
		Kind:   kind,
		Title:  title,
		Body:   body,
	}
	if data != nil {
		if encoded, err := json.Marshal(data); err == nil {
			n.Data = string(encoded)
		}
	}

	if err := d.db.WithContext(ctx).Create(n).Error; err != nil {
		d.logger.Warn("notification persist failed", "user_id", userID, "error", err)
	}

	d.pusher.DeliverToUser(userID, &broadcast.Event{
		Type:    broadcast.EventNewNotification,
		Payload: n,
	})
}

func (d *Dispatcher) List(ctx context.Context, userID string, limit int) ([]*Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	var notifications []*Notification
	err := d.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&notifications).Error
	return notifications, err
}

func (d *Dispatcher) MarkRead(ctx context.Context, userID, id string) error {
	result := d.db.WithContext(ctx).Model(&Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("read_at", gorm.Expr("CURRENT_TIMESTAMP"))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}
