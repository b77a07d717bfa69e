package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/riptidehq/riptide/internal/config"
	"github.com/riptidehq/riptide/pkg/models"
)

// EventProducer is the bus surface the engagement controller publishes to.
// Implemented by messaging.Producers.
type EventProducer interface {
	PublishEngagement(ctx context.Context, ev models.EngagementEvent) error
	PublishPostScore(ctx context.Context, ev models.PostScoreEvent) error
}

// EngagementService is the request-path orchestrator: one positive or
// negative engagement fans out into counter updates, post metrics, interest
// and creator pool placement, the seen set and the event bus.
type EngagementService struct {
	posts       *PostStore
	profiles    *ProfileStore
	stats       *StatsStore
	interests   *InterestService
	creators    *CreatorService
	postMetrics *PostMetricsService
	producer    EventProducer
	cfg         *config.RankingConfig
	logger      *logrus.Logger
	metrics     *EngineMetrics
	now         func() time.Time
}

func NewEngagementService(posts *PostStore, profiles *ProfileStore, stats *StatsStore, interests *InterestService, creators *CreatorService, postMetrics *PostMetricsService, producer EventProducer, cfg *config.RankingConfig, logger *logrus.Logger) *EngagementService {
	return &EngagementService{
		posts:       posts,
		profiles:    profiles,
		stats:       stats,
		interests:   interests,
		creators:    creators,
		postMetrics: postMetrics,
		producer:    producer,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// engagementWeight maps the 0/1 gesture flags onto the configured weights.
func (s *EngagementService) engagementWeight(flags models.EngagementFlags) float64 {
	w := s.cfg.Weights
	return float64(flags.Viewed)*w.View +
		float64(flags.Liked)*w.Like +
		float64(flags.Commented)*w.Comment +
		float64(flags.Shared)*w.Share +
		float64(flags.Completed)*w.Completion
}

// engagementType names the strongest gesture in the flag set for the score
// event payload.
func engagementType(flags models.EngagementFlags) string {
	switch {
	case flags.Shared == 1:
		return "share"
	case flags.Completed == 1:
		return "completion"
	case flags.Commented == 1:
		return "comment"
	case flags.Liked == 1:
		return "like"
	default:
		return "view"
	}
}

// Positive applies a positive engagement end to end. The post must exist;
// everything downstream of the profile writes is best-effort and logged
// rather than failed, matching the bus being the authoritative slow path.
func (s *EngagementService) Positive(ctx context.Context, userID uuid.UUID, sessionID string, flags models.EngagementFlags) error {
	weight := s.engagementWeight(flags)

	post, err := s.posts.Get(ctx, flags.PostID)
	if err != nil {
		return err
	}

	if err := s.interests.Score(ctx, userID, sessionID, post.Category, post.SubCategory, post.Specific, weight); err != nil {
		s.countEngagement("positive", "error")
		return err
	}
	if err := s.creators.Score(ctx, userID, sessionID, post.CreatorID, weight); err != nil {
		s.countEngagement("positive", "error")
		return err
	}
	if flags.Followed == 1 {
		if err := s.creators.EnsureFollow(ctx, userID, sessionID, post.CreatorID); err != nil {
			s.countEngagement("positive", "error")
			return err
		}
	}

	// Request-path metrics update is a best-effort estimate; the hourly
	// aggregator is the authoritative writer for large windows.
	if err := s.postMetrics.Apply(ctx, post.ID, weight); err != nil {
		s.logger.WithError(err).WithField("post_id", post.ID).Warn("Post metrics update failed")
	}

	if err := s.profiles.AppendSeenPosts(ctx, userID, []uuid.UUID{post.ID}); err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("Seen posts append failed")
	}

	s.publish(ctx, post, userID, engagementType(flags), weight)
	s.countEngagement("positive", "ok")

	s.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"post_id": post.ID,
		"weight":  weight,
	}).Debug("Positive engagement processed")
	return nil
}

// Negative applies a skip: the interest hierarchy and the creator both take
// the configured negative weight, and a negative score delta is published.
func (s *EngagementService) Negative(ctx context.Context, userID uuid.UUID, sessionID string, postID uuid.UUID) error {
	post, err := s.posts.Get(ctx, postID)
	if err != nil {
		return err
	}

	if err := s.interests.Skip(ctx, userID, sessionID, post.Category, post.SubCategory, post.Specific); err != nil {
		s.countEngagement("negative", "error")
		return err
	}
	if err := s.creators.Skip(ctx, userID, sessionID, post.CreatorID); err != nil {
		s.countEngagement("negative", "error")
		return err
	}

	s.publish(ctx, post, userID, "skip", s.cfg.SkipWeight)
	s.countEngagement("negative", "ok")

	s.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"post_id": post.ID,
	}).Debug("Skip processed")
	return nil
}

func (s *EngagementService) publish(ctx context.Context, post *models.Post, userID uuid.UUID, kind string, weight float64) {
	if s.producer == nil {
		return
	}

	if weight > 0 {
		err := s.producer.PublishEngagement(ctx, models.EngagementEvent{
			PostID:          post.ID,
			UserID:          userID,
			CreatorID:       post.CreatorID,
			Category:        post.Category,
			SubCategory:     post.SubCategory,
			EngagementScore: weight,
		})
		if err != nil {
			s.logger.WithError(err).WithField("post_id", post.ID).Warn("Engagement event publish failed")
		}
	}

	err := s.producer.PublishPostScore(ctx, models.PostScoreEvent{
		PostID:         post.ID,
		UserID:         userID,
		EngagementType: kind,
		ScoreDelta:     weight,
		Timestamp:      s.now(),
	})
	if err != nil {
		s.logger.WithError(err).WithField("post_id", post.ID).Warn("Score event publish failed")
	}
}

// HandleEngagementEvent is the engagement-stats consumer callback. It owns
// the counters the request path does not touch synchronously: the post's
// impression/engagement totals and the creator aggregate. The category and
// per-user counters are incremented in-path by the interest service, where
// the fresh values feed Bayesian smoothing on the same request.
func (s *EngagementService) HandleEngagementEvent(ctx context.Context, ev models.EngagementEvent) error {
	if err := s.posts.IncrementEngagement(ctx, ev.PostID, ev.EngagementScore); err != nil {
		return err
	}
	if _, err := s.stats.BumpCreator(ctx, ev.CreatorID, ev.EngagementScore); err != nil {
		return err
	}
	return nil
}

func (s *EngagementService) countEngagement(kind, result string) {
	if s.metrics != nil {
		s.metrics.EngagementsProcessed.WithLabelValues(kind, result).Inc()
	}
}
