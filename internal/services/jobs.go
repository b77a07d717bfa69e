package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/riptidehq/riptide/internal/config"
	"github.com/riptidehq/riptide/pkg/models"
)

const decayBatchSize = 200

// MaintenanceJobs runs the scheduled background work: the nightly rising-pool
// decay sweep and the periodic evergreen promotion pass.
type MaintenanceJobs struct {
	profiles *ProfileStore
	posts    *PostStore
	rankCfg  *config.RankingConfig
	jobCfg   *config.JobsConfig
	logger   *logrus.Logger
	now      func() time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewMaintenanceJobs(profiles *ProfileStore, posts *PostStore, rankCfg *config.RankingConfig, jobCfg *config.JobsConfig, logger *logrus.Logger) *MaintenanceJobs {
	return &MaintenanceJobs{
		profiles: profiles,
		posts:    posts,
		rankCfg:  rankCfg,
		jobCfg:   jobCfg,
		logger:   logger,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

func (j *MaintenanceJobs) Start() {
	j.wg.Add(2)
	go j.risingDecayLoop()
	go j.evergreenLoop()

	j.logger.WithFields(logrus.Fields{
		"rising_decay_at":    j.jobCfg.RisingDecayAt,
		"evergreen_interval": j.jobCfg.EvergreenInterval,
	}).Info("Maintenance jobs started")
}

func (j *MaintenanceJobs) Stop() {
	close(j.stopCh)
	j.wg.Wait()
	j.logger.Info("Maintenance jobs stopped")
}

func (j *MaintenanceJobs) risingDecayLoop() {
	defer j.wg.Done()

	for {
		wait, err := j.untilNextDecay()
		if err != nil {
			j.logger.WithError(err).Error("Invalid rising decay schedule, sweep disabled")
			return
		}

		timer := time.NewTimer(wait)
		select {
		case <-j.stopCh:
			timer.Stop()
			return
		case <-timer.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
			j.RunRisingDecay(ctx)
			cancel()
		}
	}
}

// untilNextDecay computes the wait to the next HH:MM occurrence of the
// configured sweep time.
func (j *MaintenanceJobs) untilNextDecay() (time.Duration, error) {
	at, err := time.Parse("15:04", j.jobCfg.RisingDecayAt)
	if err != nil {
		return 0, fmt.Errorf("failed to parse rising_decay_at %q: %w", j.jobCfg.RisingDecayAt, err)
	}

	now := j.now()
	next := time.Date(now.Year(), now.Month(), now.Day(), at.Hour(), at.Minute(), 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now), nil
}

// RunRisingDecay pages through every profile and multiplies the rising pools
// by the decay factor, so interests that stop earning engagement drain out of
// the rising tier over a few days. A failed profile is logged and skipped.
func (j *MaintenanceJobs) RunRisingDecay(ctx context.Context) (int, error) {
	start := j.now()
	swept := 0
	afterID := uuid.Nil

	for {
		batch, err := j.profiles.ListProfiles(ctx, afterID, decayBatchSize)
		if err != nil {
			return swept, fmt.Errorf("failed to page profiles for decay: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		for i := range batch {
			profile := &batch[i]
			j.decayProfile(profile)
			if err := j.profiles.Save(ctx, profile); err != nil {
				j.logger.WithError(err).WithField("user_id", profile.UserID).Warn("Rising decay save failed")
				continue
			}
			swept++
		}

		afterID = batch[len(batch)-1].UserID
		if len(batch) < decayBatchSize {
			break
		}
	}

	j.logger.WithFields(logrus.Fields{
		"profiles": swept,
		"took":     j.now().Sub(start),
	}).Info("Rising decay sweep finished")
	return swept, nil
}

// decayProfile applies the factor to every rising score in the profile:
// rising categories, the rising sub lists on both category tiers, and the
// rising creator pool. LastUpdated is stamped so the natural half-life decay
// does not compound on top of the sweep.
func (j *MaintenanceJobs) decayProfile(profile *models.UserProfile) {
	factor := j.rankCfg.RisingDecayFactor
	nowMs := j.now().UnixMilli()

	for i := range profile.TopInterests {
		decaySubs(profile.TopInterests[i].RisingSubs, factor, nowMs)
	}
	for i := range profile.RisingInterests {
		cat := &profile.RisingInterests[i]
		cat.Score *= factor
		cat.LastUpdated = nowMs
		decaySubs(cat.RisingSubs, factor, nowMs)
	}
	for i := range profile.Creators.RisingCreators {
		cr := &profile.Creators.RisingCreators[i]
		cr.Score *= factor
		cr.LastUpdated = nowMs
	}
	profile.UpdatedAt = j.now()
}

func decaySubs(subs []models.SubNode, factor float64, nowMs int64) {
	for i := range subs {
		subs[i].Score *= factor
		subs[i].LastUpdated = nowMs
	}
}

func (j *MaintenanceJobs) evergreenLoop() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.jobCfg.EvergreenInterval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), j.jobCfg.EvergreenInterval)
			j.RunEvergreenPass(ctx)
			cancel()
		}
	}
}

// RunEvergreenPass promotes high-raw-score, low-velocity posts to the
// evergreen shelf.
func (j *MaintenanceJobs) RunEvergreenPass(ctx context.Context) (int64, error) {
	promoted, err := j.posts.MarkEvergreen(ctx, j.rankCfg.MinRawForEvergreen, j.rankCfg.EvergreenVelocityRatio)
	if err != nil {
		j.logger.WithError(err).Error("Evergreen pass failed")
		return 0, err
	}
	if promoted > 0 {
		j.logger.WithField("posts", promoted).Info("Posts promoted to evergreen")
	}
	return promoted, nil
}
