package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/riptidehq/riptide/internal/database"
)

// HealthService probes the engine's backing stores. PostgreSQL and the hot
// store are critical: without them the engine cannot serve feeds or record
// engagements. The warm store only backs the score buffer mirror and rate
// limit windows, so its failure degrades rather than breaks the service.
type HealthService struct {
	db     *database.Database
	logger *logrus.Logger
}

type HealthStatus struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Services    map[string]string `json:"services"`
	Critical    []string          `json:"critical_failures,omitempty"`
	NonCritical []string          `json:"non_critical_failures,omitempty"`
}

func NewHealthService(db *database.Database, logger *logrus.Logger) *HealthService {
	return &HealthService{db: db, logger: logger}
}

func (s *HealthService) CheckHealth(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Timestamp: time.Now(),
		Services:  make(map[string]string),
	}

	critical := map[string]func(context.Context) error{
		"postgresql": s.checkPostgreSQL,
		"redis_hot":  s.checkRedisHot,
	}
	nonCritical := map[string]func(context.Context) error{
		"redis_warm": s.checkRedisWarm,
	}

	allCriticalHealthy := true
	for name, check := range critical {
		if err := s.run(ctx, check); err != nil {
			status.Services[name] = "unhealthy"
			status.Critical = append(status.Critical, name)
			allCriticalHealthy = false
			s.logger.WithError(err).Errorf("Critical dependency %s is unhealthy", name)
		} else {
			status.Services[name] = "healthy"
		}
	}

	for name, check := range nonCritical {
		if err := s.run(ctx, check); err != nil {
			status.Services[name] = "unhealthy"
			status.NonCritical = append(status.NonCritical, name)
			s.logger.WithError(err).Warnf("Non-critical dependency %s is unhealthy", name)
		} else {
			status.Services[name] = "healthy"
		}
	}

	switch {
	case !allCriticalHealthy:
		status.Status = "unhealthy"
	case len(status.NonCritical) > 0:
		status.Status = "degraded"
	default:
		status.Status = "healthy"
	}

	return status
}

func (s *HealthService) run(ctx context.Context, check func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return check(ctx)
}

func (s *HealthService) checkPostgreSQL(ctx context.Context) error {
	return s.db.PG.Ping(ctx)
}

func (s *HealthService) checkRedisHot(ctx context.Context) error {
	return s.db.Redis.Hot.Ping(ctx).Err()
}

func (s *HealthService) checkRedisWarm(ctx context.Context) error {
	return s.db.Redis.Warm.Ping(ctx).Err()
}
