package services

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/riptidehq/riptide/internal/config"
	"github.com/riptidehq/riptide/internal/database"
	"github.com/riptidehq/riptide/internal/messaging"
	"github.com/riptidehq/riptide/internal/validation"
)

// Services wires the stores, the ranking services and the background workers
// into one graph. Construction only builds the graph; StartWorkers spins up
// the loops.
type Services struct {
	Auth      *AuthService
	Health    *HealthService
	RateLimit *RateLimitService

	Profiles     *ProfileStore
	Posts        *PostStore
	Stats        *StatsStore
	SessionStore *SessionStore

	Sessions    *SessionService
	Interests   *InterestService
	Creators    *CreatorService
	PostMetrics *PostMetricsService
	Engagement  *EngagementService
	Feed        *FeedService
	Aggregator  *ScoreAggregator

	Metrics   *EngineMetrics
	Producers *messaging.Producers

	logger    *logrus.Logger
	expiry    *SessionExpiryWorker
	jobs      *MaintenanceJobs
	consumers []*messaging.Consumer
}

func New(cfg *config.Config, logger *logrus.Logger, db *database.Database, reg prometheus.Registerer) (*Services, error) {
	metrics := NewEngineMetrics(reg)

	validator, err := validation.NewSchemaValidator()
	if err != nil {
		return nil, err
	}

	producers := messaging.NewProducers(&cfg.Kafka, validator, logger)
	producers.OnPublish = func(topic string) {
		metrics.EventsPublished.WithLabelValues(topic).Inc()
	}

	profiles := NewProfileStore(db.PG, logger)
	posts := NewPostStore(db.PG, logger)
	stats := NewStatsStore(db.PG, logger)
	sessionStore := NewSessionStore(db.Redis.Hot, logger)

	interests := NewInterestService(sessionStore, profiles, stats, &cfg.Ranking, logger)
	creators := NewCreatorService(sessionStore, profiles, &cfg.Ranking, logger)
	postMetrics := NewPostMetricsService(posts, stats, &cfg.Ranking, logger)

	sessions := NewSessionService(sessionStore, profiles, &cfg.Ranking, &cfg.Session, logger)
	sessions.metrics = metrics

	engagement := NewEngagementService(posts, profiles, stats, interests, creators, postMetrics, producers, &cfg.Ranking, logger)
	engagement.metrics = metrics

	feed := NewFeedService(sessionStore, profiles, posts, stats, &cfg.Ranking, &cfg.Feed, logger)
	feed.metrics = metrics

	aggregator := NewScoreAggregator(db.Redis.Warm, postMetrics, posts, &cfg.Jobs, logger)
	aggregator.metrics = metrics

	expiry := NewSessionExpiryWorker(sessions, cfg.Session.SweepInterval, logger)
	expiry.metrics = metrics

	jobs := NewMaintenanceJobs(profiles, posts, &cfg.Ranking, &cfg.Jobs, logger)

	onConsume := func(group, result string) {
		metrics.EventsConsumed.WithLabelValues(group, result).Inc()
	}
	engagementConsumer := messaging.NewEngagementConsumer(&cfg.Kafka, logger, engagement.HandleEngagementEvent)
	engagementConsumer.OnConsume = onConsume
	scoreConsumer := messaging.NewPostScoreConsumer(&cfg.Kafka, logger, aggregator.HandlePostScoreEvent)
	scoreConsumer.OnConsume = onConsume

	return &Services{
		Auth:      NewAuthService(&cfg.Auth, logger),
		Health:    NewHealthService(db, logger),
		RateLimit: NewRateLimitService(&cfg.Auth.RateLimit, logger, db.Redis.Warm),

		Profiles:     profiles,
		Posts:        posts,
		Stats:        stats,
		SessionStore: sessionStore,

		Sessions:    sessions,
		Interests:   interests,
		Creators:    creators,
		PostMetrics: postMetrics,
		Engagement:  engagement,
		Feed:        feed,
		Aggregator:  aggregator,

		Metrics:   metrics,
		Producers: producers,

		logger:    logger,
		expiry:    expiry,
		jobs:      jobs,
		consumers: []*messaging.Consumer{engagementConsumer, scoreConsumer},
	}, nil
}

// StartWorkers launches the consumers, the session expiry sweep, the score
// aggregator and the maintenance jobs.
func (s *Services) StartWorkers(ctx context.Context) {
	if err := s.Aggregator.Hydrate(ctx); err != nil {
		// Start with an empty buffer; the mirror still holds the deltas.
		s.logger.WithError(err).Warn("Score buffer hydration failed")
	}

	for _, c := range s.consumers {
		c.Start(ctx)
	}
	s.Aggregator.Start()
	s.expiry.Start()
	s.jobs.Start()
}

// Stop shuts the workers down in reverse order, draining the aggregator last
// so late consumer deltas still land.
func (s *Services) Stop() {
	s.jobs.Stop()
	s.expiry.Stop()
	for _, c := range s.consumers {
		if err := c.Stop(); err != nil {
			s.logger.WithError(err).Warn("Consumer shutdown failed")
		}
	}
	s.Aggregator.Stop()
	if err := s.Producers.Close(); err != nil {
		s.logger.WithError(err).Warn("Producer shutdown failed")
	}
}
