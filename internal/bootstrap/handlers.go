package bootstrap

import (
	"log/slog"

	"github.com/taskora/taskora-backend/internal/auth"
	"github.com/taskora/taskora-backend/internal/chat"
	"github.com/taskora/taskora-backend/internal/gateway"
	"github.com/taskora/taskora-backend/internal/health"
	"github.com/taskora/taskora-backend/internal/metrics"
	"github.com/taskora/taskora-backend/internal/session"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

const version = "1.0.0"

func ProvideJWTValidator(cfg *Config) *auth.JWTValidator {
	return auth.NewJWTValidator(cfg.HMACKey)
}

func ProvideJWTMiddleware(validator *auth.JWTValidator) *auth.Middleware {
	return auth.NewMiddleware(validator)
}

func ProvideChatHandler(service *chat.Service, logger *slog.Logger) *chat.Handler {
	return chat.NewHandler(service, logger.With("handler", "chat"))
}

func ProvideMetricsHandler(engine *metrics.Engine, logger *slog.Logger) *metrics.Handler {
	return metrics.NewHandler(engine, logger.With("handler", "metrics"))
}

func ProvideHealthHandler(db *gorm.DB, redisClient *redis.Client, registry *session.Registry) *health.Handler {
	return health.NewHandler(db, redisClient, registry, version)
}

type HandlerParams struct {
	fx.In

	ChatHandler    *chat.Handler
	MetricsHandler *metrics.Handler
	GatewayHandler *gateway.Handler
	HealthHandler  *health.Handler
	JWTMiddleware  *auth.Middleware
}

func RegisterRoutes(e *echo.Echo, params HandlerParams) {
	params.HealthHandler.RegisterRoutes(e)

	api := e.Group("/v1")

	chatGroup := api.Group("/chat")
	chatGroup.Use(params.JWTMiddleware.Authenticate)
	params.ChatHandler.RegisterRoutes(chatGroup)

	metricsGroup := api.Group("/metrics")
	metricsGroup.Use(params.JWTMiddleware.Authenticate)
	params.MetricsHandler.RegisterRoutes(metricsGroup)

	// The websocket handshake authenticates itself; token verification has
	// to happen before the upgrade, not in middleware.
	params.GatewayHandler.RegisterRoutes(api.Group("/ws"))
}

var HandlersModule = fx.Options(
	fx.Provide(
		ProvideJWTValidator,
		ProvideJWTMiddleware,
		ProvideChatHandler,
		ProvideMetricsHandler,
		ProvideHealthHandler,
	),
	fx.Invoke(RegisterRoutes),
)

func Run() {
	fx.New(
		fx.Provide(LoadConfig),
		InfrastructureModule,
		StoresModule,
		ServerModule,
		RealtimeModule,
		HandlersModule,
	).Run()
}
