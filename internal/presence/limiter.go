package presence

import (
	"sync"
	"time"
)

// ShouldUpdate is the pure rate-limit decision for activity writes: allow when
// there is no prior write or the last one is at least interval old.
func ShouldUpdate(now, last time.Time, interval time.Duration) bool {
	return last.IsZero() || now.Sub(last) >= interval
}

// ActivityLimiter bounds how often per-user activity heartbeats reach the
// store. It is an explicitly-owned TTL map, capped in size; losing it on
// restart only costs a few extra writes.
type ActivityLimiter struct {
	mu         sync.Mutex
	lastUpdate map[string]time.Time
	interval   time.Duration
	maxEntries int
}

const defaultMaxLimiterEntries = 10000

func NewActivityLimiter(interval time.Duration) *ActivityLimiter {
	return &ActivityLimiter{
		lastUpdate: make(map[string]time.Time),
		interval:   interval,
		maxEntries: defaultMaxLimiterEntries,
	}
}

// Allow reports whether a write for the user is due and, if so, records it.
func (l *ActivityLimiter) Allow(userID string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !ShouldUpdate(now, l.lastUpdate[userID], l.interval) {
		return false
	}

	if len(l.lastUpdate) >= l.maxEntries {
		l.evictExpired(now)
	}
	l.lastUpdate[userID] = now
	return true
}

// Record marks a write without consulting the guard, used by the forced path
// so an explicit status change resets the window.
func (l *ActivityLimiter) Record(userID string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.lastUpdate) >= l.maxEntries {
		l.evictExpired(now)
	}
	l.lastUpdate[userID] = now
}

func (l *ActivityLimiter) Interval() time.Duration {
	return l.interval
}

func (l *ActivityLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lastUpdate)
}

// evictExpired is called under the lock. Entries past their window carry no
// information, so dropping them never changes a decision.
func (l *ActivityLimiter) evictExpired(now time.Time) {
	for id, last := range l.lastUpdate {
		if now.Sub(last) >= l.interval {
			delete(l.lastUpdate, id)
		}
	}
}
