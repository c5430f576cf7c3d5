package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/taskora/taskora-backend/internal/chat"
	"github.com/taskora/taskora-backend/internal/shared"
	"github.com/taskora/taskora-backend/internal/user"
	"github.com/taskora/taskora-backend/internal/worker"
)

// MessageReader is the slice of the chat store the engine needs to resolve
// initial-message timestamps.
type MessageReader interface {
	GetMessage(ctx context.Context, id string) (*chat.Message, error)
}

// Engine classifies messages into response metrics and derives the
// per-provider aggregates cached on the user row.
type Engine struct {
	store    *Store
	users    *user.Store
	messages MessageReader
	pool     *worker.Pool
	logger   *slog.Logger
	now      func() time.Time
}

func NewEngine(store *Store, users *user.Store, messages MessageReader, pool *worker.Pool, logger *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		users:    users,
		messages: messages,
		pool:     pool,
		logger:   logger.With("component", "metrics"),
		now:      time.Now,
	}
}

// TrackMessage routes a freshly persisted message through classification.
// It never returns an error: tracking is a best-effort side effect of sending.
func (e *Engine) TrackMessage(ctx context.Context, msg *chat.Message, recipientID string, senderRole, recipientRole shared.Role) {
	switch Classify(senderRole, recipientRole) {
	case KindInitial:
		if _, err := e.TrackInitialMessage(ctx, recipientID, msg); err != nil {
			e.logger.Warn("initial message tracking failed", "message_id", msg.ID, "error", err)
		}
	case KindResponse:
		metric, err := e.TrackResponse(ctx, msg.SenderID, msg)
		if err != nil {
			e.logger.Warn("response tracking failed", "message_id", msg.ID, "error", err)
			return
		}
		if metric != nil {
			e.RecomputeAsync(msg.SenderID)
		}
	}
}

// TrackInitialMessage opens a pending metric for a client's first message to
// a provider. Idempotent per message, and a conversation with a pending
// metric never accumulates a second one.
func (e *Engine) TrackInitialMessage(ctx context.Context, providerID string, msg *chat.Message) (*ResponseMetric, error) {
	if pending, err := e.store.LatestPending(ctx, providerID, msg.ConversationID); err == nil {
		return pending, nil
	} else if err != shared.ErrNotFound {
		return nil, err
	}

	exists, err := e.store.ExistsForInitialMessage(ctx, msg.ID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, nil
	}

	metric := &ResponseMetric{
		ProviderID:       providerID,
		ConversationID:   msg.ConversationID,
		InitialMessageID: msg.ID,
		CreatedAt:        msg.CreatedAt,
	}
	if err := e.store.Create(ctx, metric); err != nil {
		return nil, err
	}
	return metric, nil
}

// TrackResponse completes the newest pending metric for the provider in this
// conversation. Timing anomalies are discarded without mutating anything:
// no pending row, a response predating its initial message, or more than
// 7 days elapsed all yield (nil, nil). A pending row whose initial message
// has vanished is deleted as an orphan.
func (e *Engine) TrackResponse(ctx context.Context, providerID string, msg *chat.Message) (*ResponseMetric, error) {
	pending, err := e.store.LatestPending(ctx, providerID, msg.ConversationID)
	if err == shared.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	initial, err := e.messages.GetMessage(ctx, pending.InitialMessageID)
	if err == shared.ErrNotFound {
		e.logger.Debug("deleting orphaned pending metric", "metric_id", pending.ID)
		if err := e.store.Delete(ctx, pending.ID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	elapsed := msg.CreatedAt.Sub(initial.CreatedAt)
	if elapsed < 0 {
		e.logger.Debug("discarding out-of-order response", "metric_id", pending.ID)
		return nil, nil
	}

	minutes := int(math.Round(elapsed.Minutes()))
	if minutes > MaxResponseMinutes {
		e.logger.Debug("discarding stale response", "metric_id", pending.ID, "minutes", minutes)
		return nil, nil
	}

	within24h := minutes <= Within24hMinutes
	if err := e.store.Complete(ctx, pending.ID, msg.ID, minutes, within24h); err != nil {
		if err == shared.ErrNotFound {
			// Another response completed it first.
			return nil, nil
		}
		return nil, err
	}

	pending.ResponseMessageID = &msg.ID
	pending.ResponseTimeMinutes = &minutes
	pending.RespondedWithin24h = within24h
	return pending, nil
}

// RecomputeAsync schedules a provider aggregate refresh off the send path.
func (e *Engine) RecomputeAsync(providerID string) {
	e.pool.Submit("metrics.recompute", func(ctx context.Context) {
		if _, err := e.UpdateProviderMetrics(ctx, providerID); err != nil {
			e.logger.Warn("async metrics recompute failed", "provider_id", providerID, "error", err)
		}
	})
}

// aggregate folds the trailing-window rows into the two statistics. Rows with
// a recorded response time outside [0, MaxResponseMinutes] are dropped from
// both, not clamped. Unanswered rows stay in the rate denominator.
func (e *Engine) aggregate(rows []*ResponseMetric) *Aggregate {
	agg := &Aggregate{}
	var responded, within24h, totalMinutes int

	for _, row := range rows {
		if row.ResponseTimeMinutes != nil {
			minutes := *row.ResponseTimeMinutes
			if minutes < 0 || minutes > MaxResponseMinutes {
				continue
			}
			if minutes > 0 {
				responded++
				totalMinutes += minutes
			}
			if row.RespondedWithin24h {
				within24h++
			}
		}
		agg.SampleSize++
	}

	if responded > 0 {
		avg := float64(totalMinutes) / float64(responded)
		agg.AverageResponseTime = &avg
	}
	if agg.SampleSize > 0 {
		rate := 100 * float64(within24h) / float64(agg.SampleSize)
		rate = math.Max(0, math.Min(100, rate))
		rate = math.Round(rate*100) / 100
		agg.ResponseRate = &rate
	}
	return agg
}

// UpdateProviderMetrics recomputes the trailing 30-day aggregates and caches
// them on the provider's user row.
func (e *Engine) UpdateProviderMetrics(ctx context.Context, providerID string) (*Aggregate, error) {
	since := e.now().AddDate(0, 0, -RetentionDays)
	rows, err := e.store.ListForProviderSince(ctx, providerID, since)
	if err != nil {
		return nil, err
	}

	agg := e.aggregate(rows)
	if err := e.users.SaveProviderMetrics(ctx, providerID, agg.AverageResponseTime, agg.ResponseRate); err != nil {
		return nil, err
	}
	return agg, nil
}

// GetProviderMetrics serves the cached aggregate, recomputing synchronously
// when the cache is absent or older than an hour. A failed recompute falls
// back to whatever the cache still holds.
func (e *Engine) GetProviderMetrics(ctx context.Context, providerID string) (*ProviderMetricsView, error) {
	u, err := e.users.GetByID(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if u.Role != shared.RoleProvider {
		return nil, shared.ErrValidation
	}

	stale := u.MetricsLastUpdated == nil || e.now().Sub(*u.MetricsLastUpdated) > CacheMaxAge
	if stale {
		if agg, err := e.UpdateProviderMetrics(ctx, providerID); err == nil {
			now := e.now()
			return &ProviderMetricsView{
				ProviderID:          providerID,
				AverageResponseTime: agg.AverageResponseTime,
				ResponseRate:        agg.ResponseRate,
				SampleSize:          agg.SampleSize,
				Sufficient:          agg.SampleSize >= MinSampleSize,
				LastUpdated:         &now,
			}, nil
		}
		e.logger.Warn("metrics recompute failed, serving stale cache", "provider_id", providerID)
	}

	since := e.now().AddDate(0, 0, -RetentionDays)
	rows, err := e.store.ListForProviderSince(ctx, providerID, since)
	sampleSize := 0
	if err == nil {
		sampleSize = e.aggregate(rows).SampleSize
	}

	cached := u.CachedMetrics()
	return &ProviderMetricsView{
		ProviderID:          providerID,
		AverageResponseTime: cached.AverageResponseTime,
		ResponseRate:        cached.ResponseRate,
		SampleSize:          sampleSize,
		Sufficient:          sampleSize >= MinSampleSize,
		LastUpdated:         cached.LastUpdated,
	}, nil
}

// CleanupOldMetrics hard-deletes rows past the retention window.
func (e *Engine) CleanupOldMetrics(ctx context.Context) (int64, error) {
	cutoff := e.now().AddDate(0, 0, -RetentionDays)
	return e.store.DeleteOlderThan(ctx, cutoff)
}

// ValidateDataIntegrity repairs the metrics table: rows pointing at
// non-provider accounts or vanished conversations/messages are removed, and
// negative response times are nulled.
func (e *Engine) ValidateDataIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{IsValid: true, Issues: []string{}}

	checks := []struct {
		issue string
		fn    func(context.Context) (int64, error)
	}{
		{"metrics referencing non-provider accounts", e.store.DeleteForNonProviders},
		{"negative response times", e.store.NullNegativeResponseTimes},
		{"metrics referencing missing conversations", e.store.DeleteDanglingConversationRefs},
		{"metrics referencing missing initial messages", e.store.DeleteDanglingMessageRefs},
	}

	for _, check := range checks {
		fixed, err := check.fn(ctx)
		if err != nil {
			return report, err
		}
		if fixed > 0 {
			report.IsValid = false
			report.Issues = append(report.Issues, fmt.Sprintf("%s: %d", check.issue, fixed))
			report.FixedCount += int(fixed)
		}
	}
	return report, nil
}

// UpdateStaleProviderMetrics batch-recomputes every provider whose cache is
// absent or older than an hour. Per-provider failures are isolated.
func (e *Engine) UpdateStaleProviderMetrics(ctx context.Context) (*BatchResult, error) {
	cutoff := e.now().Add(-CacheMaxAge)
	providers, err := e.users.ListProvidersWithStaleMetrics(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{TotalProviders: len(providers)}
	for _, p := range providers {
		if _, err := e.UpdateProviderMetrics(ctx, p.ID); err != nil {
			e.logger.Warn("stale metrics update failed", "provider_id", p.ID, "error", err)
			result.ErrorCount++
			continue
		}
		result.UpdatedCount++
	}
	return result, nil
}

// SetClock overrides the engine's clock in tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}
