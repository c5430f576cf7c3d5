package bootstrap

import (
	"log/slog"

	"github.com/taskora/taskora-backend/internal/broadcast"
	"github.com/taskora/taskora-backend/internal/chat"
	"github.com/taskora/taskora-backend/internal/metrics"
	"github.com/taskora/taskora-backend/internal/notify"
	"github.com/taskora/taskora-backend/internal/presence"
	"github.com/taskora/taskora-backend/internal/session"
	"github.com/taskora/taskora-backend/internal/user"
	"github.com/taskora/taskora-backend/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func ProvideUserStore(db *gorm.DB) *user.Store {
	return user.NewStore(db)
}

func ProvideSessionStore(db *gorm.DB) *session.Store {
	return session.NewStore(db)
}

func ProvideChatStore(db *gorm.DB) *chat.Store {
	return chat.NewStore(db)
}

func ProvideMetricsStore(db *gorm.DB) *metrics.Store {
	return metrics.NewStore(db)
}

func ProvideRegistry() *session.Registry {
	return session.NewRegistry()
}

func ProvideWorkerPool(lc fx.Lifecycle, cfg *Config, logger *slog.Logger) *worker.Pool {
	pool := worker.NewPool(cfg.WorkerCount, cfg.WorkerQueueSize, logger)
	lc.Append(fx.StopHook(pool.Stop))
	return pool
}

func ProvideActivityLimiter(cfg *Config) *presence.ActivityLimiter {
	return presence.NewActivityLimiter(cfg.ActivityInterval)
}

func ProvidePresenceMachine(users *user.Store, sessions *session.Store, limiter *presence.ActivityLimiter, logger *slog.Logger) *presence.Machine {
	return presence.NewMachine(users, sessions, limiter, logger)
}

func ProvideAudience(chatStore *chat.Store, users *user.Store, logger *slog.Logger) *broadcast.Audience {
	return broadcast.NewAudience(chatStore, users, logger)
}

func ProvideBroadcaster(registry *session.Registry, audience *broadcast.Audience, redisClient *redis.Client, logger *slog.Logger) *broadcast.Broadcaster {
	return broadcast.NewBroadcaster(registry, audience, redisClient, logger)
}

func ProvideNotifyDispatcher(db *gorm.DB, broadcaster *broadcast.Broadcaster, logger *slog.Logger) *notify.Dispatcher {
	return notify.NewDispatcher(db, broadcaster, logger)
}

func ProvideMetricsEngine(store *metrics.Store, users *user.Store, chatStore *chat.Store, pool *worker.Pool, logger *slog.Logger) *metrics.Engine {
	return metrics.NewEngine(store, users, chatStore, pool, logger)
}

func ProvideChatService(store *chat.Store, users *user.Store, engine *metrics.Engine, broadcaster *broadcast.Broadcaster, dispatcher *notify.Dispatcher, machine *presence.Machine, registry *session.Registry, pool *worker.Pool, logger *slog.Logger) *chat.Service {
	return chat.NewService(store, users, engine, broadcaster, dispatcher, machine, registry, pool, logger)
}

func RunMigrations(users *user.Store, sessions *session.Store, chatStore *chat.Store, metricsStore *metrics.Store, dispatcher *notify.Dispatcher) error {
	if err := users.Migrate(); err != nil {
		return err
	}
	if err := sessions.Migrate(); err != nil {
		return err
	}
	if err := chatStore.Migrate(); err != nil {
		return err
	}
	if err := metricsStore.Migrate(); err != nil {
		return err
	}
	return dispatcher.Migrate()
}

var StoresModule = fx.Options(
	fx.Provide(
		ProvideUserStore,
		ProvideSessionStore,
		ProvideChatStore,
		ProvideMetricsStore,
		ProvideRegistry,
		ProvideWorkerPool,
		ProvideActivityLimiter,
		ProvidePresenceMachine,
		ProvideAudience,
		ProvideBroadcaster,
		ProvideNotifyDispatcher,
		ProvideMetricsEngine,
		ProvideChatService,
	),
	fx.Invoke(RunMigrations),
)
