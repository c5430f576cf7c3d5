package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/taskora/taskora-backend/internal/broadcast"
	"github.com/taskora/taskora-backend/internal/metrics"
	"github.com/taskora/taskora-backend/internal/presence"
	"github.com/taskora/taskora-backend/internal/session"
)

type Config struct {
	SweepInterval   time.Duration
	StaleThreshold  time.Duration
	MetricsInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		SweepInterval:   time.Minute,
		StaleThreshold:  5 * time.Minute,
		MetricsInterval: 24 * time.Hour,
	}
}

// Sweeper reconciles what crashes leave behind: sessions that never said
// goodbye and metrics past retention. Orphaned sessions from a process
// restart are picked up by the first sweep after the threshold.
type Sweeper struct {
	cfg         Config
	sessions    *session.Store
	machine     *presence.Machine
	broadcaster *broadcast.Broadcaster
	engine      *metrics.Engine
	logger      *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config, sessions *session.Store, machine *presence.Machine, broadcaster *broadcast.Broadcaster, engine *metrics.Engine, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		cfg:         cfg,
		sessions:    sessions,
		machine:     machine,
		broadcaster: broadcaster,
		engine:      engine,
		logger:      logger.With("component", "sweeper"),
	}
}

func (s *Sweeper) Start() {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		defer close(done)

		sessionTicker := time.NewTicker(s.cfg.SweepInterval)
		metricsTicker := time.NewTicker(s.cfg.MetricsInterval)
		defer sessionTicker.Stop()
		defer metricsTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-sessionTicker.C:
				s.SweepSessions(ctx)
			case <-metricsTicker.C:
				s.MaintainMetrics(ctx)
			}
		}
	}()
}

func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// SweepSessions deactivates stale sessions and walks every user left with no
// active session through the offline transition plus a presence broadcast.
func (s *Sweeper) SweepSessions(ctx context.Context) *session.SweepResult {
	result, err := s.sessions.SweepStale(ctx, s.cfg.StaleThreshold)
	if err != nil {
		s.logger.Warn("session sweep incomplete", "cleaned", result.CleanedSessions, "error", err)
	}
	if result.CleanedSessions == 0 {
		return result
	}

	for _, userID := range result.AffectedUsers {
		changed, err := s.machine.OnSweep(ctx, userID)
		if err != nil {
			s.logger.Warn("sweep offline transition failed", "user_id", userID, "error", err)
			continue
		}
		if !changed {
			continue
		}
		if snap, err := s.machine.GetSnapshot(ctx, userID); err == nil {
			s.broadcaster.BroadcastPresence(ctx, snap)
		}
	}

	s.logger.Info("session sweep complete",
		"cleaned_sessions", result.CleanedSessions,
		"affected_users", len(result.AffectedUsers))
	return result
}

// MaintainMetrics runs retention deletion, integrity repair, and the stale
// provider batch. Each step is independent; a failure is logged and the next
// step still runs.
func (s *Sweeper) MaintainMetrics(ctx context.Context) {
	if deleted, err := s.engine.CleanupOldMetrics(ctx); err != nil {
		s.logger.Warn("metrics cleanup failed", "error", err)
	} else if deleted > 0 {
		s.logger.Info("old metrics removed", "count", deleted)
	}

	if report, err := s.engine.ValidateDataIntegrity(ctx); err != nil {
		s.logger.Warn("integrity validation failed", "error", err)
	} else if !report.IsValid {
		s.logger.Info("integrity issues repaired", "fixed", report.FixedCount, "issues", report.Issues)
	}

	if result, err := s.engine.UpdateStaleProviderMetrics(ctx); err != nil {
		s.logger.Warn("stale metrics batch failed", "error", err)
	} else {
		s.logger.Info("stale metrics batch complete",
			"total", result.TotalProviders,
			"updated", result.UpdatedCount,
			"errors", result.ErrorCount)
	}
}
