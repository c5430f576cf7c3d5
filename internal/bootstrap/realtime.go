package bootstrap

import (
	"log/slog"

	"github.com/taskora/taskora-backend/internal/auth"
	"github.com/taskora/taskora-backend/internal/broadcast"
	"github.com/taskora/taskora-backend/internal/chat"
	"github.com/taskora/taskora-backend/internal/gateway"
	"github.com/taskora/taskora-backend/internal/metrics"
	"github.com/taskora/taskora-backend/internal/presence"
	"github.com/taskora/taskora-backend/internal/session"
	"github.com/taskora/taskora-backend/internal/sweeper"
	"github.com/taskora/taskora-backend/internal/user"
	"github.com/taskora/taskora-backend/internal/worker"
	"go.uber.org/fx"
)

func ProvideGatewayHandler(
	validator *auth.JWTValidator,
	users *user.Store,
	sessions *session.Store,
	registry *session.Registry,
	machine *presence.Machine,
	chats *chat.Service,
	broadcaster *broadcast.Broadcaster,
	pool *worker.Pool,
	logger *slog.Logger,
) *gateway.Handler {
	return gateway.NewHandler(validator, users, sessions, registry, machine, chats, broadcaster, pool, logger)
}

func ProvideSweeper(cfg *Config, sessions *session.Store, machine *presence.Machine, broadcaster *broadcast.Broadcaster, engine *metrics.Engine, logger *slog.Logger) *sweeper.Sweeper {
	return sweeper.New(sweeper.Config{
		SweepInterval:   cfg.SweepInterval,
		StaleThreshold:  cfg.StaleThreshold,
		MetricsInterval: cfg.MetricsInterval,
	}, sessions, machine, broadcaster, engine, logger)
}

func StartSweeper(lc fx.Lifecycle, s *sweeper.Sweeper) {
	lc.Append(fx.StartStopHook(s.Start, s.Stop))
}

func StartBroadcastRelay(lc fx.Lifecycle, b *broadcast.Broadcaster) {
	lc.Append(fx.StartStopHook(b.StartRelay, b.StopRelay))
}

var RealtimeModule = fx.Options(
	fx.Provide(
		ProvideGatewayHandler,
		ProvideSweeper,
	),
	fx.Invoke(
		StartBroadcastRelay,
		StartSweeper,
	),
)
