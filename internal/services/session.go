package services

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/riptidehq/riptide/internal/config"
	"github.com/riptidehq/riptide/pkg/models"
)

// SessionService owns the session lifecycle: projecting a profile into a
// working blob on start, touching last-access on activity, and blending the
// session state back into the persistent profile when the session dies.
type SessionService struct {
	sessions *SessionStore
	profiles *ProfileStore
	cfg      *config.RankingConfig
	ttl      time.Duration
	logger   *logrus.Logger
	metrics  *EngineMetrics
	now      func() time.Time
}

func NewSessionService(sessions *SessionStore, profiles *ProfileStore, cfg *config.RankingConfig, sessionCfg *config.SessionConfig, logger *logrus.Logger) *SessionService {
	return &SessionService{
		sessions: sessions,
		profiles: profiles,
		cfg:      cfg,
		ttl:      sessionCfg.TTL,
		logger:   logger,
		now:      time.Now,
	}
}

// Start creates a session for the user, auto-creating the profile on first
// contact. Returns the new session id.
func (s *SessionService) Start(ctx context.Context, userID uuid.UUID, userName, email string) (string, error) {
	profile, err := s.profiles.Load(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		profile = &models.UserProfile{UserID: userID, UserName: userName, Email: email}
		createErr := s.profiles.Create(ctx, profile)
		if errors.Is(createErr, ErrDuplicate) {
			// Lost the creation race; the winner's row is what we want.
			profile, err = s.profiles.Load(ctx, userID)
			if err != nil {
				return "", err
			}
		} else if createErr != nil {
			return "", createErr
		}
	} else if err != nil {
		return "", err
	}

	sessionID := uuid.NewString()
	if err := s.sessions.Start(ctx, sessionID, models.NewSessionFromProfile(profile)); err != nil {
		return "", err
	}

	if s.metrics != nil {
		s.metrics.SessionsStarted.Inc()
	}
	s.logger.WithFields(logrus.Fields{
		"user_id":    userID,
		"session_id": sessionID,
	}).Debug("Session started")
	return sessionID, nil
}

// Resume refreshes the session's last-access if it is still alive.
func (s *SessionService) Resume(ctx context.Context, sessionID string) (bool, error) {
	ok, err := s.sessions.Exists(ctx, sessionID)
	if err != nil || !ok {
		return false, err
	}
	if err := s.sessions.Touch(ctx, sessionID); err != nil {
		return false, err
	}
	return true, nil
}

// End merges and destroys the session on explicit logout. The caller's
// identity must match the blob; a mismatched session is left alone.
func (s *SessionService) End(ctx context.Context, sessionID string, userID uuid.UUID) error {
	sess, err := s.sessions.Get(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if errors.Is(err, ErrSessionCorrupt) {
		s.logger.WithField("session_id", sessionID).Warn("Corrupt session blob on logout; deleting without merge")
		return s.sessions.Delete(ctx, sessionID)
	}
	if err != nil {
		return err
	}

	if sess.UserID != userID {
		s.logger.WithFields(logrus.Fields{
			"session_id":   sessionID,
			"session_user": sess.UserID,
			"caller_user":  userID,
		}).Warn("Session user mismatch; refusing merge")
		return ErrSessionUserMismatch
	}

	if err := s.mergeBack(ctx, sess); err != nil {
		return err
	}
	return s.sessions.Delete(ctx, sessionID)
}

// ExpireStale merges and removes every session whose last access is older
// than the TTL. Failures are isolated per session; a failed session loses
// its tracking entry so the sweep does not retry it forever, but its blob
// is kept for inspection.
func (s *SessionService) ExpireStale(ctx context.Context) int {
	cutoff := s.now().Add(-s.ttl)
	ids, err := s.sessions.ExpiredSessionIDs(ctx, cutoff)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list expired sessions")
		return 0
	}

	expired := 0
	for _, sessionID := range ids {
		if err := s.expireOne(ctx, sessionID); err != nil {
			s.logger.WithError(err).WithField("session_id", sessionID).Warn("Failed to expire session")
			continue
		}
		expired++
	}

	if expired > 0 {
		s.logger.WithField("count", expired).Info("Expired sessions merged")
	}
	return expired
}

func (s *SessionService) expireOne(ctx context.Context, sessionID string) error {
	sess, err := s.sessions.Get(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		// Blob already gone; just stop tracking it.
		return s.sessions.RemoveTracking(ctx, sessionID)
	}
	if errors.Is(err, ErrSessionCorrupt) {
		s.logger.WithField("session_id", sessionID).Warn("Corrupt session blob; deleting without merge")
		return s.sessions.Delete(ctx, sessionID)
	}
	if err != nil {
		if rmErr := s.sessions.RemoveTracking(ctx, sessionID); rmErr != nil {
			return rmErr
		}
		return err
	}

	if err := s.mergeBack(ctx, sess); err != nil {
		// Keep the blob for inspection but drop it from the sweep.
		if rmErr := s.sessions.RemoveTracking(ctx, sessionID); rmErr != nil {
			return rmErr
		}
		return err
	}

	return s.sessions.Delete(ctx, sessionID)
}

// mergeBack folds the session's working state into the persistent profile.
// Blends are EMA mixes with the session as the new observation, so an
// untouched session merges to an unchanged profile.
func (s *SessionService) mergeBack(ctx context.Context, sess *models.Session) error {
	profile, err := s.profiles.Load(ctx, sess.UserID)
	if err != nil {
		return err
	}

	s.mergeInterests(profile, sess)
	s.mergeCreators(profile, sess)

	if err := s.profiles.Save(ctx, profile); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.SessionsMerged.Inc()
	}
	s.logger.WithField("user_id", sess.UserID).Debug("Session merged into profile")
	return nil
}

func (s *SessionService) mergeInterests(profile *models.UserProfile, sess *models.Session) {
	alpha := s.cfg.SessionBlendAlpha

	for _, pool := range [][]models.CategoryNode{sess.TopCategories, sess.RisingCategories} {
		for _, sc := range pool {
			node, ok := findInPools(profile.TopInterests, profile.RisingInterests, sc.Name)
			if !ok {
				node = models.CategoryNode{Name: sc.Name}
			}
			node.Score = emaBlend(alpha, node.Score, sc.Score)
			if sc.LastUpdated > node.LastUpdated {
				node.LastUpdated = sc.LastUpdated
			}
			node.TopSubs, node.RisingSubs = s.mergeSubs(node.TopSubs, node.RisingSubs, sc.TopSubs, sc.RisingSubs)

			profile.TopInterests, profile.RisingInterests = insertIntoPools(
				profile.TopInterests, profile.RisingInterests,
				s.cfg.Pools.TopCategories, s.cfg.Pools.RisingCategories, node)
		}
	}
}

func (s *SessionService) mergeSubs(top, rising, sessTop, sessRising []models.SubNode) ([]models.SubNode, []models.SubNode) {
	alpha := s.cfg.SessionBlendAlpha

	for _, pool := range [][]models.SubNode{sessTop, sessRising} {
		for _, ss := range pool {
			node, ok := findInPools(top, rising, ss.Name)
			if !ok {
				node = models.SubNode{Name: ss.Name}
			}
			node.Score = emaBlend(alpha, node.Score, ss.Score)
			if ss.LastUpdated > node.LastUpdated {
				node.LastUpdated = ss.LastUpdated
			}
			node.Specific = s.mergeSpecifics(node.Specific, ss.Specific)

			top, rising = insertIntoPools(top, rising,
				s.cfg.Pools.TopSubs, s.cfg.Pools.RisingSubs, node)
		}
	}
	return top, rising
}

func (s *SessionService) mergeSpecifics(pool, sessPool []models.SpecificNode) []models.SpecificNode {
	alpha := s.cfg.SessionBlendAlpha

	for _, sp := range sessPool {
		node, ok := findInPools(pool, nil, sp.Name)
		if !ok {
			node = models.SpecificNode{Name: sp.Name}
		}
		node.Score = emaBlend(alpha, node.Score, sp.Score)
		if sp.LastUpdated > node.LastUpdated {
			node.LastUpdated = sp.LastUpdated
		}
		pool, _ = insertIntoPools(pool, nil, s.cfg.Pools.Specific, 0, node)
	}
	return pool
}

// mergeCreators reconciles the five creator pools. Follow membership comes
// straight from the session (follows and unfollows both happened there);
// everything else lands where the blended skip count says it belongs.
func (s *SessionService) mergeCreators(profile *models.UserProfile, sess *models.Session) {
	alpha := s.cfg.SessionBlendAlpha
	nowMs := s.now().UnixMilli()
	delayMs := s.cfg.ReentryDelay.Milliseconds()

	merged := make([]models.FollowedCreator, 0, len(sess.FollowedCreators))
	for _, f := range sess.FollowedCreators {
		if idx := followedIndex(profile.Following, f.UserID); idx >= 0 {
			old := profile.Following[idx]
			f.Score = emaBlend(alpha, old.Score, f.Score)
			f.Skips = blendSkips(alpha, old.Skips, f.Skips)
			if old.LastUpdated > f.LastUpdated {
				f.LastUpdated = old.LastUpdated
			}
		}
		if f.Skips >= s.cfg.HardSkipThreshold {
			f.Score = 0
			if f.ReentryAt == 0 {
				f.ReentryAt = nowMs + delayMs
			}
		}
		merged = append(merged, f)
	}
	profile.Following = merged

	handled := make(map[uuid.UUID]bool, len(merged))
	for _, f := range sess.FollowedCreators {
		handled[f.UserID] = true
	}

	// Highest-priority signal wins for creators seen in several pools.
	creators := &profile.Creators
	for _, n := range sess.TopCreators {
		s.mergeOneCreator(creators, handled, n.CreatorID, n.Score, n.Skips, n.LastUpdated, 0, nowMs, delayMs)
	}
	for _, n := range sess.RisingCreators {
		s.mergeOneCreator(creators, handled, n.CreatorID, n.Score, n.Skips, n.LastUpdated, 0, nowMs, delayMs)
	}
	for _, w := range sess.WatchedCreators {
		s.mergeOneCreator(creators, handled, w.CreatorID, 0, w.Skips, w.LastSkipUpdate, w.ReentryAt, nowMs, delayMs)
	}
	for _, k := range sess.SkippedCreators {
		s.mergeOneCreator(creators, handled, k.CreatorID, 0, k.Skips, k.LastSkipUpdate, k.ReentryAt, nowMs, delayMs)
	}
}

func (s *SessionService) mergeOneCreator(creators *models.CreatorsInterests, handled map[uuid.UUID]bool, id uuid.UUID, sessScore float64, sessSkips int, sessUpdated, sessReentry, nowMs, delayMs int64) {
	if handled[id] {
		return
	}
	handled[id] = true

	alpha := s.cfg.SessionBlendAlpha
	oldScore, oldSkips, oldReentry := creatorState(creators, id)

	newScore := emaBlend(alpha, oldScore, sessScore)
	newSkips := blendSkips(alpha, oldSkips, sessSkips)

	// Clear any previous placement before re-homing the creator.
	creators.TopCreators, creators.RisingCreators =
		removeFromPools(creators.TopCreators, creators.RisingCreators, id.String())
	if idx := watchedIndex(creators.WatchedCreatorsPool, id); idx >= 0 {
		creators.WatchedCreatorsPool = append(creators.WatchedCreatorsPool[:idx], creators.WatchedCreatorsPool[idx+1:]...)
	}
	if idx := skippedIndex(creators.SkippedCreatorsPool, id); idx >= 0 {
		creators.SkippedCreatorsPool = append(creators.SkippedCreatorsPool[:idx], creators.SkippedCreatorsPool[idx+1:]...)
	}

	switch {
	case newSkips >= s.cfg.HardSkipThreshold:
		creators.SkippedCreatorsPool = append(creators.SkippedCreatorsPool, models.SkippedEntry{
			CreatorID:      id,
			Skips:          newSkips,
			LastSkipUpdate: nowMs,
			ReentryAt:      pickReentry(sessReentry, oldReentry, nowMs+delayMs),
		})
	case newScore <= 0 && newSkips >= s.cfg.WatchedThreshold:
		creators.WatchedCreatorsPool = append(creators.WatchedCreatorsPool, models.WatchedEntry{
			CreatorID:      id,
			Skips:          newSkips,
			LastSkipUpdate: nowMs,
			ReentryAt:      pickReentry(sessReentry, oldReentry, nowMs),
		})
	default:
		node := models.CreatorNode{
			CreatorID:   id,
			Score:       newScore,
			LastUpdated: sessUpdated,
			Skips:       newSkips,
		}
		creators.TopCreators, creators.RisingCreators = insertIntoPools(
			creators.TopCreators, creators.RisingCreators,
			s.cfg.Pools.TopCreators, s.cfg.Pools.RisingCreators, node)
	}
}

func creatorState(creators *models.CreatorsInterests, id uuid.UUID) (score float64, skips int, reentryAt int64) {
	if n, ok := findInPools(creators.TopCreators, creators.RisingCreators, id.String()); ok {
		return n.Score, n.Skips, 0
	}
	if idx := watchedIndex(creators.WatchedCreatorsPool, id); idx >= 0 {
		e := creators.WatchedCreatorsPool[idx]
		return 0, e.Skips, e.ReentryAt
	}
	if idx := skippedIndex(creators.SkippedCreatorsPool, id); idx >= 0 {
		e := creators.SkippedCreatorsPool[idx]
		return 0, e.Skips, e.ReentryAt
	}
	return 0, 0, 0
}

func blendSkips(alpha float64, old, session int) int {
	return int(math.Round(emaBlend(alpha, float64(old), float64(session))))
}

func pickReentry(sessReentry, oldReentry, fallback int64) int64 {
	if sessReentry > 0 {
		return sessReentry
	}
	if oldReentry > 0 {
		return oldReentry
	}
	return fallback
}
