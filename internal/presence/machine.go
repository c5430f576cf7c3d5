package presence

import (
	"context"
	"log/slog"
	"time"

	"github.com/taskora/taskora-backend/internal/session"
	"github.com/taskora/taskora-backend/internal/shared"
	"github.com/taskora/taskora-backend/internal/user"
)

const DefaultActivityInterval = 30 * time.Second

// Machine owns every presence transition. Session occupancy and explicit
// overrides both funnel through here so the status columns cannot drift under
// concurrent writers.
type Machine struct {
	users    *user.Store
	sessions *session.Store
	limiter  *ActivityLimiter
	logger   *slog.Logger
	now      func() time.Time
}

func NewMachine(users *user.Store, sessions *session.Store, limiter *ActivityLimiter, logger *slog.Logger) *Machine {
	return &Machine{
		users:    users,
		sessions: sessions,
		limiter:  limiter,
		logger:   logger.With("component", "presence"),
		now:      time.Now,
	}
}

// OnConnect flips an offline user online. An existing explicit override
// (away/dnd) set while another device was connected is left alone.
func (m *Machine) OnConnect(ctx context.Context, userID string) (changed bool, err error) {
	u, err := m.users.GetByID(ctx, userID)
	if err != nil {
		return false, err
	}
	if u.OnlineStatus != shared.StatusOffline && u.OnlineStatus != "" {
		m.TouchActivityForced(ctx, userID)
		return false, nil
	}

	if err := m.users.SetPresence(ctx, userID, shared.StatusOnline, nil, true); err != nil {
		return false, err
	}
	m.limiter.Record(userID, m.now())
	return true, nil
}

// OnDisconnect flips the user offline once the last active session is gone.
func (m *Machine) OnDisconnect(ctx context.Context, userID string) (changed bool, err error) {
	count, err := m.sessions.CountActive(ctx, userID)
	if err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}
	return m.setOffline(ctx, userID)
}

// OnSweep is the staleness-sweep variant of OnDisconnect. The sweep has
// already established that no active sessions remain.
func (m *Machine) OnSweep(ctx context.Context, userID string) (changed bool, err error) {
	return m.setOffline(ctx, userID)
}

func (m *Machine) setOffline(ctx context.Context, userID string) (bool, error) {
	u, err := m.users.GetByID(ctx, userID)
	if err != nil {
		return false, err
	}
	if u.OnlineStatus == shared.StatusOffline {
		return false, nil
	}
	if err := m.users.SetPresence(ctx, userID, shared.StatusOffline, nil, false); err != nil {
		return false, err
	}
	return true, nil
}

// SetExplicitStatus applies a user-chosen override regardless of session
// count. It persists until changed or until a full disconnect goes offline.
func (m *Machine) SetExplicitStatus(ctx context.Context, userID string, status shared.OnlineStatus, message string) error {
	if !status.Valid() {
		return shared.ErrValidation
	}
	if err := m.users.SetPresence(ctx, userID, status, &message, true); err != nil {
		return err
	}
	m.limiter.Record(userID, m.now())
	return nil
}

// TouchActivity refreshes last_activity through the per-user guard, so client
// heartbeats cannot amplify into a write per event.
func (m *Machine) TouchActivity(ctx context.Context, userID string) {
	now := m.now()
	if !m.limiter.Allow(userID, now) {
		return
	}
	cutoff := now.Add(-m.limiter.Interval())
	if _, err := m.users.TouchActivityIfOlder(ctx, userID, cutoff); err != nil {
		m.logger.Warn("activity update failed", "user_id", userID, "error", err)
	}
}

// TouchActivityForced bypasses the guard for explicit state changes.
func (m *Machine) TouchActivityForced(ctx context.Context, userID string) {
	now := m.now()
	m.limiter.Record(userID, now)
	if _, err := m.users.TouchActivityIfOlder(ctx, userID, now); err != nil {
		m.logger.Warn("forced activity update failed", "user_id", userID, "error", err)
	}
}

// GetSnapshot returns the privacy-scoped presence view for a user.
func (m *Machine) GetSnapshot(ctx context.Context, userID string) (*Snapshot, error) {
	u, err := m.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return NewSnapshot(u, m.now()), nil
}

// GetSnapshots resolves several users at once for the batch presence event.
// Unknown IDs are skipped rather than failing the batch.
func (m *Machine) GetSnapshots(ctx context.Context, userIDs []string) (map[string]*Snapshot, error) {
	out := make(map[string]*Snapshot, len(userIDs))
	for _, id := range userIDs {
		snap, err := m.GetSnapshot(ctx, id)
		if err != nil {
			if err == shared.ErrNotFound {
				continue
			}
			return nil, err
		}
		out[id] = snap
	}
	return out, nil
}

// SetClock overrides the machine's clock in tests.
func (m *Machine) SetClock(now func() time.Time) {
	m.now = now
}
