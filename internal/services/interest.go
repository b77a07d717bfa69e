package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/unicode/norm"

	"github.com/riptidehq/riptide/internal/config"
	"github.com/riptidehq/riptide/pkg/models"
)

// InterestService maintains the hierarchical interest pools (category,
// subcategory, specific). Writes go to the session blob when a session id
// is supplied, otherwise straight to the persistent profile.
type InterestService struct {
	sessions *SessionStore
	profiles *ProfileStore
	stats    *StatsStore
	cfg      *config.RankingConfig
	logger   *logrus.Logger
	now      func() time.Time
}

func NewInterestService(sessions *SessionStore, profiles *ProfileStore, stats *StatsStore, cfg *config.RankingConfig, logger *logrus.Logger) *InterestService {
	return &InterestService{
		sessions: sessions,
		profiles: profiles,
		stats:    stats,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// normalizeName canonicalizes user-facing taxonomy names so "Café" typed
// two different ways lands on the same pool node.
func normalizeName(raw string) string {
	return norm.NFC.String(strings.TrimSpace(raw))
}

// Score records positive engagement against a category/sub/specific tuple.
// Each level gets the dual update: counter increments plus a Bayesian
// smoothed pool placement. The specific level skips smoothing and takes
// the raw engagement weight.
func (s *InterestService) Score(ctx context.Context, userID uuid.UUID, sessionID, category, subCategory, specific string, engagement float64) error {
	category = normalizeName(category)
	subCategory = normalizeName(subCategory)
	specific = normalizeName(specific)
	if category == "" {
		return nil
	}

	if sessionID != "" {
		return s.sessions.Update(ctx, sessionID, func(sess *models.Session) error {
			return s.score(ctx, newSessionView(sess, s.cfg.EMAAlphaSession), userID, category, subCategory, specific, engagement)
		})
	}

	profile, err := s.profiles.Load(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.score(ctx, newProfileDocView(profile, s.cfg.EMAAlphaDB), userID, category, subCategory, specific, engagement); err != nil {
		return err
	}
	return s.profiles.Save(ctx, profile)
}

// Skip applies the negative weight at each provided level. Nodes whose
// score drops to zero or below are removed outright, children included.
func (s *InterestService) Skip(ctx context.Context, userID uuid.UUID, sessionID, category, subCategory, specific string) error {
	category = normalizeName(category)
	subCategory = normalizeName(subCategory)
	specific = normalizeName(specific)
	if category == "" {
		return nil
	}

	if sessionID != "" {
		return s.sessions.Update(ctx, sessionID, func(sess *models.Session) error {
			s.skip(newSessionView(sess, s.cfg.EMAAlphaSession), category, subCategory, specific)
			return nil
		})
	}

	profile, err := s.profiles.Load(ctx, userID)
	if err != nil {
		return err
	}
	s.skip(newProfileDocView(profile, s.cfg.EMAAlphaDB), category, subCategory, specific)
	return s.profiles.Save(ctx, profile)
}

func (s *InterestService) score(ctx context.Context, view profileView, userID uuid.UUID, category, subCategory, specific string, engagement float64) error {
	nowMs := s.now().UnixMilli()

	catSmoothed, err := s.bumpAndSmooth(ctx, userID, models.EntityCategory, category, engagement)
	if err != nil {
		return err
	}

	top, rising := view.Interests()
	node, ok := findInPools(*top, *rising, category)
	if !ok {
		node = models.CategoryNode{Name: category}
	}
	node.Score = emaUpdate(node.Score, node.LastUpdated, catSmoothed, view.Alpha(), nowMs, s.cfg.HalfLifeDays)
	node.LastUpdated = nowMs

	if subCategory != "" {
		subSmoothed, err := s.bumpAndSmooth(ctx, userID, models.EntitySubCategory, subCategory, engagement)
		if err != nil {
			return err
		}

		sub, ok := findInPools(node.TopSubs, node.RisingSubs, subCategory)
		if !ok {
			sub = models.SubNode{Name: subCategory}
		}
		sub.Score = emaUpdate(sub.Score, sub.LastUpdated, subSmoothed, view.Alpha(), nowMs, s.cfg.HalfLifeDays)
		sub.LastUpdated = nowMs

		if specific != "" {
			// Specific nodes track the raw engagement weight; the
			// population is too sparse for a useful prior.
			spec, ok := findInPools(sub.Specific, nil, specific)
			if !ok {
				spec = models.SpecificNode{Name: specific}
			}
			spec.Score = emaUpdate(spec.Score, spec.LastUpdated, engagement, view.Alpha(), nowMs, s.cfg.HalfLifeDays)
			spec.LastUpdated = nowMs
			sub.Specific, _ = insertIntoPools(sub.Specific, nil, s.cfg.Pools.Specific, 0, spec)
		}

		node.TopSubs, node.RisingSubs = insertIntoPools(node.TopSubs, node.RisingSubs,
			s.cfg.Pools.TopSubs, s.cfg.Pools.RisingSubs, sub)
	}

	*top, *rising = insertIntoPools(*top, *rising,
		s.cfg.Pools.TopCategories, s.cfg.Pools.RisingCategories, node)

	s.logger.WithFields(logrus.Fields{
		"user_id":  userID,
		"category": category,
		"score":    node.Score,
	}).Debug("Interest scored")
	return nil
}

func (s *InterestService) skip(view profileView, category, subCategory, specific string) {
	nowMs := s.now().UnixMilli()

	top, rising := view.Interests()
	node, ok := findInPools(*top, *rising, category)
	if !ok {
		// Nothing to punish.
		return
	}

	node.Score = emaUpdate(node.Score, node.LastUpdated, s.cfg.SkipWeight, view.Alpha(), nowMs, s.cfg.HalfLifeDays)
	node.LastUpdated = nowMs

	if node.Score <= 0 {
		*top, *rising = removeFromPools(*top, *rising, category)
		return
	}

	if subCategory != "" {
		if sub, ok := findInPools(node.TopSubs, node.RisingSubs, subCategory); ok {
			sub.Score = emaUpdate(sub.Score, sub.LastUpdated, s.cfg.SkipWeight, view.Alpha(), nowMs, s.cfg.HalfLifeDays)
			sub.LastUpdated = nowMs

			if sub.Score <= 0 {
				node.TopSubs, node.RisingSubs = removeFromPools(node.TopSubs, node.RisingSubs, subCategory)
			} else {
				if specific != "" {
					if spec, ok := findInPools(sub.Specific, nil, specific); ok {
						spec.Score = emaUpdate(spec.Score, spec.LastUpdated, s.cfg.SkipWeight, view.Alpha(), nowMs, s.cfg.HalfLifeDays)
						spec.LastUpdated = nowMs
						if spec.Score <= 0 {
							sub.Specific, _ = removeFromPools(sub.Specific, nil, specific)
						} else {
							sub.Specific, _ = insertIntoPools(sub.Specific, nil, s.cfg.Pools.Specific, 0, spec)
						}
					}
				}
				node.TopSubs, node.RisingSubs = insertIntoPools(node.TopSubs, node.RisingSubs,
					s.cfg.Pools.TopSubs, s.cfg.Pools.RisingSubs, sub)
			}
		}
	}

	*top, *rising = insertIntoPools(*top, *rising,
		s.cfg.Pools.TopCategories, s.cfg.Pools.RisingCategories, node)
}

// bumpAndSmooth increments global and per-user counters and returns the
// Bayesian smoothed per-user average.
func (s *InterestService) bumpAndSmooth(ctx context.Context, userID uuid.UUID, entityType, name string, engagement float64) (float64, error) {
	global, err := s.stats.BumpGlobal(ctx, entityType, name, engagement)
	if err != nil {
		return 0, err
	}
	user, err := s.stats.BumpUser(ctx, userID, entityType, name, engagement)
	if err != nil {
		return 0, err
	}
	return smoothedScore(global, user), nil
}
