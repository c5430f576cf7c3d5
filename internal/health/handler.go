package health

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/taskora/taskora-backend/internal/session"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

type ComponentStatus struct {
	Status    Status `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type ConnectionStats struct {
	LiveConnections int `json:"live_connections"`
	ConnectedUsers  int `json:"connected_users"`
}

type RuntimeStats struct {
	Goroutines    int    `json:"goroutines"`
	MemoryAllocMB uint64 `json:"memory_alloc_mb"`
}

type Response struct {
	Status        Status                     `json:"status"`
	Timestamp     time.Time                  `json:"timestamp"`
	Version       string                     `json:"version"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Connections   ConnectionStats            `json:"connections"`
	Runtime       RuntimeStats               `json:"runtime"`
	Components    map[string]ComponentStatus `json:"components"`
}

type Handler struct {
	db        *gorm.DB
	redis     *redis.Client
	registry  *session.Registry
	version   string
	startTime time.Time
}

func NewHandler(db *gorm.DB, redisClient *redis.Client, registry *session.Registry, version string) *Handler {
	return &Handler{
		db:        db,
		redis:     redisClient,
		registry:  registry,
		version:   version,
		startTime: time.Now(),
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.handleHealth)
}

func (h *Handler) handleHealth(c echo.Context) error {
	ctx := c.Request().Context()
	components := map[string]ComponentStatus{
		"database": h.checkDatabase(),
		"redis":    h.checkRedis(ctx),
	}

	overall := StatusHealthy
	if components["database"].Status != StatusHealthy {
		overall = StatusUnhealthy
	} else if components["redis"].Status != StatusHealthy {
		// Redis only carries the relay; local delivery still works.
		overall = StatusDegraded
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := &Response{
		Status:        overall,
		Timestamp:     time.Now(),
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Connections: ConnectionStats{
			LiveConnections: h.registry.ConnectionCount(),
			ConnectedUsers:  h.registry.UserCount(),
		},
		Runtime: RuntimeStats{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: mem.Alloc / 1024 / 1024,
		},
		Components: components,
	}

	code := http.StatusOK
	if overall == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}

func (h *Handler) checkDatabase() ComponentStatus {
	start := time.Now()
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.Ping()
	}
	status := ComponentStatus{Status: StatusHealthy, LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		status.Status = StatusUnhealthy
		status.Error = err.Error()
	}
	return status
}

func (h *Handler) checkRedis(ctx context.Context) ComponentStatus {
	start := time.Now()
	err := h.redis.Ping(ctx).Err()
	status := ComponentStatus{Status: StatusHealthy, LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		status.Status = StatusUnhealthy
		status.Error = err.Error()
	}
	return status
}
