package handlers

import (
	"github.com/sirupsen/logrus"

	"github.com/riptidehq/riptide/internal/config"
	"github.com/riptidehq/riptide/internal/services"
)

type Handlers struct {
	Health     *HealthHandler
	Engagement *EngagementHandler
	Feed       *FeedHandler
	User       *UserHandler
	Session    *SessionHandler
	Admin      *AdminHandler
}

func New(cfg *config.Config, logger *logrus.Logger, services *services.Services) *Handlers {
	return &Handlers{
		Health:     NewHealthHandler(logger, services.Health),
		Engagement: NewEngagementHandler(logger, services.Engagement),
		Feed:       NewFeedHandler(logger, services.Feed),
		User:       NewUserHandler(logger, services.Creators),
		Session:    NewSessionHandler(logger, services.Sessions, &cfg.Session),
		Admin:      NewAdminHandler(logger, services.Profiles),
	}
}
