package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/riptidehq/riptide/internal/config"
	"github.com/riptidehq/riptide/pkg/models"
)

// CreatorService runs the per-user creator state machine. A creator is in
// exactly one of followed, top/rising, watched or skipped (or absent);
// follows are orthogonal to the other pools and take precedence.
type CreatorService struct {
	sessions *SessionStore
	profiles *ProfileStore
	cfg      *config.RankingConfig
	logger   *logrus.Logger
	now      func() time.Time
}

func NewCreatorService(sessions *SessionStore, profiles *ProfileStore, cfg *config.RankingConfig, logger *logrus.Logger) *CreatorService {
	return &CreatorService{
		sessions: sessions,
		profiles: profiles,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Score records positive engagement with a creator.
func (s *CreatorService) Score(ctx context.Context, userID uuid.UUID, sessionID string, creatorID uuid.UUID, engagement float64) error {
	return s.apply(ctx, userID, sessionID, func(view profileView) {
		s.score(view, creatorID, engagement)
	})
}

// Skip records a skip against a creator.
func (s *CreatorService) Skip(ctx context.Context, userID uuid.UUID, sessionID string, creatorID uuid.UUID) error {
	return s.apply(ctx, userID, sessionID, func(view profileView) {
		s.skip(view, creatorID)
	})
}

// ToggleFollow flips the follow state and reports whether the user follows
// the creator afterwards.
func (s *CreatorService) ToggleFollow(ctx context.Context, userID uuid.UUID, sessionID string, creatorID uuid.UUID) (bool, error) {
	var following bool
	err := s.apply(ctx, userID, sessionID, func(view profileView) {
		following = s.toggleFollow(view, creatorID)
	})
	return following, err
}

// EnsureFollow upserts a follow entry. Used by the engagement path, where a
// repeated follow flag must not unfollow.
func (s *CreatorService) EnsureFollow(ctx context.Context, userID uuid.UUID, sessionID string, creatorID uuid.UUID) error {
	return s.apply(ctx, userID, sessionID, func(view profileView) {
		s.ensureFollow(view, creatorID)
	})
}

// apply routes a mutation to the session blob or the persistent profile.
func (s *CreatorService) apply(ctx context.Context, userID uuid.UUID, sessionID string, fn func(profileView)) error {
	if sessionID != "" {
		return s.sessions.Update(ctx, sessionID, func(sess *models.Session) error {
			fn(newSessionView(sess, s.cfg.EMAAlphaSession))
			return nil
		})
	}

	profile, err := s.profiles.Load(ctx, userID)
	if err != nil {
		return err
	}
	fn(newProfileDocView(profile, s.cfg.EMAAlphaDB))
	return s.profiles.Save(ctx, profile)
}

func (s *CreatorService) score(view profileView, creatorID uuid.UUID, engagement float64) {
	nowMs := s.now().UnixMilli()

	following := view.Following()
	if idx := followedIndex(*following, creatorID); idx >= 0 {
		f := &(*following)[idx]
		if f.Skips > 0 {
			f.Skips--
		}
		f.Score = emaUpdate(f.Score, f.LastUpdated, engagement, view.Alpha(), nowMs, s.cfg.HalfLifeDays)
		f.LastUpdated = nowMs
		if f.Skips >= s.cfg.HardSkipThreshold {
			f.Score = 0
			f.ReentryAt = nowMs + s.cfg.ReentryDelay.Milliseconds()
		}
		return
	}

	skipped := view.Skipped()
	if idx := skippedIndex(*skipped, creatorID); idx >= 0 {
		e := &(*skipped)[idx]
		if e.Skips > 0 {
			e.Skips--
		}
		e.LastSkipUpdate = nowMs
		if e.Skips < s.cfg.HardSkipThreshold && nowMs >= e.ReentryAt {
			// Served the cool-off; demote to watched with the remaining
			// skip count.
			watched := view.Watched()
			*watched = append(*watched, models.WatchedEntry{
				CreatorID:      creatorID,
				Skips:          e.Skips,
				LastSkipUpdate: nowMs,
				ReentryAt:      e.ReentryAt,
			})
			*skipped = append((*skipped)[:idx], (*skipped)[idx+1:]...)
		} else if e.Skips >= s.cfg.HardSkipThreshold {
			e.ReentryAt = nowMs + s.cfg.ReentryDelay.Milliseconds()
		}
		return
	}

	watched := view.Watched()
	if idx := watchedIndex(*watched, creatorID); idx >= 0 {
		e := &(*watched)[idx]
		if e.Skips > 0 {
			e.Skips--
		}
		e.LastSkipUpdate = nowMs
		if e.Skips > 0 {
			return
		}
		// Rehabilitated; fall through to the positive pools.
		*watched = append((*watched)[:idx], (*watched)[idx+1:]...)
	}

	top, rising := view.Creators()
	node, ok := findInPools(*top, *rising, creatorID.String())
	if !ok {
		node = models.CreatorNode{CreatorID: creatorID}
	}
	node.Score = emaUpdate(node.Score, node.LastUpdated, engagement, view.Alpha(), nowMs, s.cfg.HalfLifeDays)
	node.LastUpdated = nowMs
	*top, *rising = insertIntoPools(*top, *rising,
		s.cfg.Pools.TopCreators, s.cfg.Pools.RisingCreators, node)
}

func (s *CreatorService) skip(view profileView, creatorID uuid.UUID) {
	nowMs := s.now().UnixMilli()
	reentryAt := nowMs + s.cfg.ReentryDelay.Milliseconds()

	following := view.Following()
	if idx := followedIndex(*following, creatorID); idx >= 0 {
		f := &(*following)[idx]
		if f.Skips < s.cfg.HardSkipThreshold {
			f.Skips++
		}
		f.Score = emaUpdate(f.Score, f.LastUpdated, s.cfg.SkipWeight, view.Alpha(), nowMs, s.cfg.HalfLifeDays)
		f.LastUpdated = nowMs
		f.LastSkipAt = nowMs
		if f.Skips >= s.cfg.HardSkipThreshold {
			// Follows are never evicted; mute them until reentry.
			f.Score = 0
			f.ReentryAt = reentryAt
		}
		return
	}

	skipped := view.Skipped()
	if idx := skippedIndex(*skipped, creatorID); idx >= 0 {
		e := &(*skipped)[idx]
		if e.Skips < s.cfg.HardSkipThreshold {
			e.Skips++
		}
		e.LastSkipUpdate = nowMs
		e.ReentryAt = reentryAt
		return
	}

	watched := view.Watched()
	if idx := watchedIndex(*watched, creatorID); idx >= 0 {
		e := &(*watched)[idx]
		e.Skips++
		e.LastSkipUpdate = nowMs
		if e.Skips >= s.cfg.HardSkipThreshold {
			*skipped = append(*skipped, models.SkippedEntry{
				CreatorID:      creatorID,
				Skips:          e.Skips,
				LastSkipUpdate: nowMs,
				ReentryAt:      reentryAt,
			})
			*watched = append((*watched)[:idx], (*watched)[idx+1:]...)
		}
		return
	}

	top, rising := view.Creators()
	node, ok := findInPools(*top, *rising, creatorID.String())
	if !ok {
		// Absent creators carry no signal worth storing.
		return
	}

	node.Skips++
	node.Score = emaUpdate(node.Score, node.LastUpdated, s.cfg.SkipWeight, view.Alpha(), nowMs, s.cfg.HalfLifeDays)
	node.LastUpdated = nowMs
	node.LastSkipAt = nowMs

	switch {
	case node.Skips >= s.cfg.HardSkipThreshold:
		*top, *rising = removeFromPools(*top, *rising, node.PoolKey())
		*skipped = append(*skipped, models.SkippedEntry{
			CreatorID:      creatorID,
			Skips:          node.Skips,
			LastSkipUpdate: nowMs,
			ReentryAt:      reentryAt,
		})
	case node.Score <= 0 && node.Skips >= 1:
		*top, *rising = removeFromPools(*top, *rising, node.PoolKey())
		*watched = append(*watched, models.WatchedEntry{
			CreatorID:      creatorID,
			Skips:          node.Skips,
			LastSkipUpdate: nowMs,
			ReentryAt:      nowMs,
		})
	default:
		*top, *rising = insertIntoPools(*top, *rising,
			s.cfg.Pools.TopCreators, s.cfg.Pools.RisingCreators, node)
	}
}

func (s *CreatorService) toggleFollow(view profileView, creatorID uuid.UUID) bool {
	following := view.Following()
	if idx := followedIndex(*following, creatorID); idx >= 0 {
		*following = append((*following)[:idx], (*following)[idx+1:]...)
		return false
	}
	*following = append(*following, models.FollowedCreator{
		UserID:      creatorID,
		LastUpdated: s.now().UnixMilli(),
	})
	return true
}

func (s *CreatorService) ensureFollow(view profileView, creatorID uuid.UUID) {
	following := view.Following()
	if followedIndex(*following, creatorID) >= 0 {
		return
	}
	*following = append(*following, models.FollowedCreator{
		UserID:      creatorID,
		LastUpdated: s.now().UnixMilli(),
	})
}

func followedIndex(pool []models.FollowedCreator, creatorID uuid.UUID) int {
	for i := range pool {
		if pool[i].UserID == creatorID {
			return i
		}
	}
	return -1
}

func watchedIndex(pool []models.WatchedEntry, creatorID uuid.UUID) int {
	for i := range pool {
		if pool[i].CreatorID == creatorID {
			return i
		}
	}
	return -1
}

func skippedIndex(pool []models.SkippedEntry, creatorID uuid.UUID) int {
	for i := range pool {
		if pool[i].CreatorID == creatorID {
			return i
		}
	}
	return -1
}
