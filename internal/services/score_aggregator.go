package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/riptidehq/riptide/internal/config"
	"github.com/riptidehq/riptide/pkg/models"
)

const scoreBufferKey = "score_buffer"

// ScoreAggregator buffers score deltas from the post-score-events topic and
// flushes them through the post metrics engine at the top of every hour. The
// in-process buffer is mirrored to a fast-store hash so a restarted worker
// recovers pending deltas.
type ScoreAggregator struct {
	redis       *redis.Client
	postMetrics *PostMetricsService
	posts       *PostStore
	cfg         *config.JobsConfig
	logger      *logrus.Logger
	metrics     *EngineMetrics
	now         func() time.Time

	mu     sync.Mutex
	buffer map[uuid.UUID]float64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewScoreAggregator(redisClient *redis.Client, postMetrics *PostMetricsService, posts *PostStore, cfg *config.JobsConfig, logger *logrus.Logger) *ScoreAggregator {
	return &ScoreAggregator{
		redis:       redisClient,
		postMetrics: postMetrics,
		posts:       posts,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
		buffer:      make(map[uuid.UUID]float64),
		stopCh:      make(chan struct{}),
	}
}

// Hydrate restores the in-process buffer from the fast-store mirror.
// Unparseable entries are dropped from both sides.
func (a *ScoreAggregator) Hydrate(ctx context.Context) error {
	entries, err := a.redis.HGetAll(ctx, scoreBufferKey).Result()
	if err != nil {
		return fmt.Errorf("failed to read score buffer: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for field, raw := range entries {
		postID, idErr := uuid.Parse(field)
		delta, numErr := strconv.ParseFloat(raw, 64)
		if idErr != nil || numErr != nil {
			a.logger.WithField("field", field).Warn("Dropping corrupt score buffer entry")
			a.redis.HDel(ctx, scoreBufferKey, field)
			continue
		}
		if delta == 0 {
			// Fully settled in a previous run; only the mirror field is left.
			a.redis.HDel(ctx, scoreBufferKey, field)
			continue
		}
		a.buffer[postID] += delta
	}

	a.updateGauge()
	if len(a.buffer) > 0 {
		a.logger.WithField("posts", len(a.buffer)).Info("Score buffer hydrated")
	}
	return nil
}

// Add accumulates a delta for one post, mirroring it to the fast store.
func (a *ScoreAggregator) Add(ctx context.Context, postID uuid.UUID, delta float64) error {
	if err := a.redis.HIncrByFloat(ctx, scoreBufferKey, postID.String(), delta).Err(); err != nil {
		return fmt.Errorf("failed to mirror score delta: %w", err)
	}

	a.mu.Lock()
	a.buffer[postID] += delta
	a.updateGauge()
	a.mu.Unlock()
	return nil
}

// HandlePostScoreEvent is the hourly-aggregator consumer callback.
func (a *ScoreAggregator) HandlePostScoreEvent(ctx context.Context, ev models.PostScoreEvent) error {
	return a.Add(ctx, ev.PostID, ev.ScoreDelta)
}

// Start runs the flush loop, aligned to the top of the flush interval.
func (a *ScoreAggregator) Start() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		for {
			next := a.now().Truncate(a.cfg.AggregatorFlushEvery).Add(a.cfg.AggregatorFlushEvery)
			timer := time.NewTimer(time.Until(next))

			select {
			case <-a.stopCh:
				timer.Stop()
				return
			case <-timer.C:
				ctx, cancel := context.WithTimeout(context.Background(), a.cfg.AggregatorFlushEvery/2)
				a.Flush(ctx, false)
				cancel()
			}
		}
	}()

	a.logger.WithField("every", a.cfg.AggregatorFlushEvery).Info("Score aggregator started")
}

// Stop drains the whole buffer before returning.
func (a *ScoreAggregator) Stop() {
	close(a.stopCh)
	a.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a.Flush(ctx, true)
	a.logger.Info("Score aggregator stopped")
}

// Flush applies buffered deltas through the metrics engine. Unless forced,
// only posts whose last metrics batch is at least the staleness floor old
// are flushed, leaving fresh posts to the request path. A failed post keeps
// its delta for the next run.
func (a *ScoreAggregator) Flush(ctx context.Context, force bool) int {
	a.mu.Lock()
	snapshot := make(map[uuid.UUID]float64, len(a.buffer))
	for id, delta := range a.buffer {
		snapshot[id] = delta
	}
	a.mu.Unlock()

	if len(snapshot) == 0 {
		return 0
	}

	flushed := 0
	cutoff := a.now().Add(-a.cfg.AggregatorMinStaleness)

	for postID, delta := range snapshot {
		if delta == 0 {
			continue
		}
		if !force {
			post, err := a.posts.Get(ctx, postID)
			if errors.Is(err, ErrPostNotFound) {
				// The post is gone; the delta has nowhere to go.
				a.settle(ctx, postID, delta)
				continue
			}
			if err != nil {
				a.logger.WithError(err).WithField("post_id", postID).Warn("Score flush skipped post")
				continue
			}
			if post.LastTrendingUpdate.After(cutoff) {
				continue
			}
		}

		if err := a.postMetrics.Apply(ctx, postID, delta); err != nil {
			if errors.Is(err, ErrPostNotFound) {
				a.settle(ctx, postID, delta)
				continue
			}
			a.logger.WithError(err).WithField("post_id", postID).Warn("Score flush failed for post")
			continue
		}

		a.settle(ctx, postID, delta)
		flushed++
	}

	if a.metrics != nil {
		a.metrics.AggregatorFlushes.Inc()
	}
	if flushed > 0 {
		a.logger.WithField("posts", flushed).Info("Score buffer flushed")
	}
	return flushed
}

// settle retires the applied amount from the buffer and its mirror. Deltas
// that arrived after the flush snapshot stay pending for the next run, so
// the mirror is decremented rather than deleted.
func (a *ScoreAggregator) settle(ctx context.Context, postID uuid.UUID, applied float64) {
	a.mu.Lock()
	if rest := a.buffer[postID] - applied; rest == 0 {
		delete(a.buffer, postID)
	} else {
		a.buffer[postID] = rest
	}
	a.updateGauge()
	a.mu.Unlock()

	if err := a.redis.HIncrByFloat(ctx, scoreBufferKey, postID.String(), -applied).Err(); err != nil {
		a.logger.WithError(err).WithField("post_id", postID).Warn("Failed to settle score buffer mirror")
	}
}

// BufferedDelta reports the pending delta for a post; zero when absent.
func (a *ScoreAggregator) BufferedDelta(postID uuid.UUID) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buffer[postID]
}

func (a *ScoreAggregator) updateGauge() {
	if a.metrics != nil {
		a.metrics.AggregatorBufferSize.Set(float64(len(a.buffer)))
	}
}
