package http

import (
	"vigil/internal/infrastructure/middleware"
	"vigil/pkg/config"
	"vigil/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Router wires the REST, websocket and health endpoints.
type Router struct {
	Config  *config.Config
	Monitor *MonitorHandler
	Status  *StatusStream
	Health  *HealthHandler
	// Preview is the /preview/ws handler. Nil disables the route.
	Preview gin.HandlerFunc
	Logger  *zap.Logger
}

func (r Router) Engine() *gin.Engine {
	sugar := r.Logger.Sugar()
	ctxLogger := logger.NewContextLogger(r.Logger)

	engine := gin.New()
	engine.Use(
		middleware.RecoveryMiddleware(sugar),
		middleware.RequestIDMiddleware(),
		middleware.TracingMiddleware(),
		middleware.RequestLoggerMiddleware(ctxLogger),
		middleware.ErrorHandlerMiddleware(ctxLogger),
	)

	r.Health.SetupRoutes(engine)

	api := engine.Group("/api/v1")
	api.Use(middleware.NewHTTPRateLimitMiddleware(r.Config))
	r.Monitor.SetupRoutes(api)

	ws := engine.Group("/api/v1", middleware.NewWebSocketLimitMiddleware(r.Config))
	ws.GET("/status/ws", r.Status.Handle)
	if r.Preview != nil {
		ws.GET("/preview/ws", r.Preview)
	}
	return engine
}
