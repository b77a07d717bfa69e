package services

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/riptidehq/riptide/internal/config"
	"github.com/riptidehq/riptide/pkg/models"
)

const metricsLockShards = 64

// PostMetricsService maintains the derived per-post metrics: velocity EMAs,
// trending score, rising flag and the Bayesian quality score. EMA folding is
// order-sensitive, so updates to one post are serialized through sharded
// locks; cross-post updates run freely in parallel.
type PostMetricsService struct {
	posts  *PostStore
	stats  *StatsStore
	cfg    *config.RankingConfig
	logger *logrus.Logger
	locks  [metricsLockShards]sync.Mutex
	now    func() time.Time
}

func NewPostMetricsService(posts *PostStore, stats *StatsStore, cfg *config.RankingConfig, logger *logrus.Logger) *PostMetricsService {
	return &PostMetricsService{
		posts:  posts,
		stats:  stats,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

func (s *PostMetricsService) lockFor(postID uuid.UUID) *sync.Mutex {
	h := fnv.New32a()
	h.Write(postID[:])
	return &s.locks[h.Sum32()%metricsLockShards]
}

// velocityAlpha converts elapsed time into the EMA mixing factor for the
// given half-life. Zero elapsed time yields zero, leaving the EMA unchanged.
func velocityAlpha(deltaMs int64, halfLife time.Duration) float64 {
	return 1 - math.Exp(-math.Ln2/float64(halfLife.Milliseconds())*float64(deltaMs))
}

// Apply folds one weighted engagement, or an aggregated score delta, into
// the post's metrics and persists the result.
func (s *PostMetricsService) Apply(ctx context.Context, postID uuid.UUID, weight float64) error {
	lock := s.lockFor(postID)
	lock.Lock()
	defer lock.Unlock()

	post, err := s.posts.Get(ctx, postID)
	if err != nil {
		return err
	}

	now := s.now()
	nowMs := now.UnixMilli()

	// The schema stamps both timestamps with the insert time, so equality
	// means no metrics batch has run yet.
	firstBatch := !post.LastTrendingUpdate.After(post.CreatedAt)
	last := post.LastTrendingUpdate
	if firstBatch || last.IsZero() {
		last = post.CreatedAt
	}
	deltaMs := nowMs - last.UnixMilli()
	if deltaMs < 0 {
		deltaMs = 0
	}

	s.rollWindow(post, nowMs, weight)

	alphaShort := velocityAlpha(deltaMs, s.cfg.ShortHalfLife)
	alphaLong := velocityAlpha(deltaMs, s.cfg.LongHalfLife)
	post.ShortTermVelocityEMA = post.ShortTermVelocityEMA*(1-alphaShort) + weight*alphaShort
	post.HistoricalVelocityEMA = post.HistoricalVelocityEMA*(1-alphaLong) + weight*alphaLong

	r := post.ShortTermVelocityEMA / (post.HistoricalVelocityEMA + velocityEpsilon)
	ratioScore := s.cfg.TrendingWeight * math.Pow(r, s.cfg.TrendingExponent)
	normAct := math.Min(1, post.ShortTermVelocityEMA/s.cfg.TrendingActivityNorm)
	post.TrendingScore = ratioScore + s.cfg.TrendingWeight*s.cfg.TrendingBurstFactor*normAct

	if firstBatch {
		post.IsRising = weight >= s.cfg.MinInitialRisingWeight
	} else {
		post.IsRising = r >= s.cfg.RisingRateMultiplier
	}

	if err := s.updateBayesian(ctx, post, nowMs); err != nil {
		return err
	}

	post.CumulativeScore += weight
	post.LastTrendingUpdate = now

	if err := s.posts.UpdateMetrics(ctx, post); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"post_id":  postID,
		"weight":   weight,
		"trending": post.TrendingScore,
		"rising":   post.IsRising,
	}).Debug("Post metrics updated")
	return nil
}

// rollWindow evicts events older than the rising window, appends the new
// one and enforces the hard cap.
func (s *PostMetricsService) rollWindow(post *models.Post, nowMs int64, weight float64) {
	cutoff := nowMs - s.cfg.RisingWindow.Milliseconds()

	kept := make([]models.WindowEvent, 0, len(post.WindowEvents)+1)
	for _, ev := range post.WindowEvents {
		if ev.TS >= cutoff {
			kept = append(kept, ev)
		}
	}
	kept = append(kept, models.WindowEvent{TS: nowMs, Weight: weight})
	if len(kept) > s.cfg.RisingWindowCap {
		kept = kept[len(kept)-s.cfg.RisingWindowCap:]
	}

	post.WindowEvents = kept
}

// updateBayesian recomputes the smoothed quality score. The prior mean mixes
// the creator's running average with the category average; prior strength
// decays with post age so real engagement takes over quickly.
func (s *PostMetricsService) updateBayesian(ctx context.Context, post *models.Post, nowMs int64) error {
	global, err := s.stats.GlobalStats(ctx, models.EntityCategory, post.Category)
	if err != nil {
		return err
	}
	creator, err := s.stats.CreatorStats(ctx, post.CreatorID)
	if err != nil {
		return err
	}

	catAvg := global.AvgEngagement()
	creatorAvg := catAvg
	if creator.ImpressionCount > 0 {
		creatorAvg = creator.AvgEngagement()
	}
	priorMean := s.cfg.PriorCreatorWeight*creatorAvg + (1-s.cfg.PriorCreatorWeight)*catAvg

	ageMs := nowMs - post.CreatedAt.UnixMilli()
	prior := decayedPriorCount(choosePriorCount(post.ImpressionCount), ageMs,
		s.cfg.PriorHalfLife, s.cfg.PriorMinCount)

	smoothedAvg := (priorMean*prior + post.EngagementSum) / (prior + float64(post.ImpressionCount))
	post.BayesianScore = smoothedAvg * timeDecay(ageMs, s.cfg.HalfLifeDays)
	return nil
}
