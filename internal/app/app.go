package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/riptidehq/riptide/internal/config"
	"github.com/riptidehq/riptide/internal/database"
	"github.com/riptidehq/riptide/internal/handlers"
	"github.com/riptidehq/riptide/internal/middleware"
	"github.com/riptidehq/riptide/internal/services"
)

type App struct {
	config   *config.Config
	logger   *logrus.Logger
	db       *database.Database
	services *services.Services
	handlers *handlers.Handlers
	router   *gin.Engine
}

func New(cfg *config.Config) (*App, error) {
	app := &App{
		config: cfg,
		logger: setupLogger(cfg),
	}

	db, err := database.New(cfg, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	svcs, err := services.New(cfg, app.logger, db, prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	app.services = svcs

	app.handlers = handlers.New(cfg, app.logger, svcs)

	app.setupRouter()

	return app, nil
}

func (a *App) Router() *gin.Engine {
	return a.router
}

// Start launches the background workers. Call after New, before serving.
func (a *App) Start(ctx context.Context) {
	a.services.StartWorkers(ctx)
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down application...")

	a.services.Stop()

	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Error("Error closing database connections")
		return err
	}

	return nil
}

func setupLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}

func (a *App) setupRouter() {
	if a.config.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(middleware.Logger(a.logger))
	router.Use(middleware.Recovery(a.logger))
	router.Use(middleware.CORS(a.config))
	router.Use(middleware.SecurityHeaders())

	// Health check endpoints (no auth required)
	router.GET("/health", a.handlers.Health.Live)
	router.GET("/health/detailed", a.handlers.Health.Check)

	// Prometheus metrics endpoint (no auth required)
	if a.config.Monitoring.Enabled {
		router.GET(a.config.Monitoring.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	// Everything below carries the caller's identity and a working session.
	authed := router.Group("/")
	authed.Use(middleware.Auth(a.services.Auth, a.logger))
	authed.Use(middleware.RateLimit(a.services.RateLimit, a.logger))
	authed.Use(middleware.Session(a.services.Sessions, &a.config.Session, a.logger))
	{
		engagement := authed.Group("/engagement")
		{
			engagement.POST("/positive", a.handlers.Engagement.Positive)
			engagement.POST("/negative", a.handlers.Engagement.Negative)
		}

		authed.GET("/feed", a.handlers.Feed.Get)

		authed.POST("/user/:userId/follow", a.handlers.User.ToggleFollow)

		authed.POST("/auth/logout", a.handlers.Session.Logout)

		// Operational reset for support tooling.
		authed.POST("/admin/users/:userId/reset", a.handlers.Admin.ResetUser)
	}

	a.router = router
}
