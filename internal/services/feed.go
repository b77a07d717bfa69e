package services

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/riptidehq/riptide/internal/config"
	"github.com/riptidehq/riptide/pkg/models"
)

// FeedService assembles the personalized feed: build pools from the session
// (or the persistent profile), select candidate categories and creators,
// batch-fetch posts per bucket, score, interleave and pad with exploration.
type FeedService struct {
	sessions *SessionStore
	profiles *ProfileStore
	posts    *PostStore
	stats    *StatsStore
	rankCfg  *config.RankingConfig
	cfg      *config.FeedConfig
	logger   *logrus.Logger
	metrics  *EngineMetrics
	now      func() time.Time

	randMu sync.Mutex
	rand   *rand.Rand
}

func NewFeedService(sessions *SessionStore, profiles *ProfileStore, posts *PostStore, stats *StatsStore, rankCfg *config.RankingConfig, cfg *config.FeedConfig, logger *logrus.Logger) *FeedService {
	return &FeedService{
		sessions: sessions,
		profiles: profiles,
		posts:    posts,
		stats:    stats,
		rankCfg:  rankCfg,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// feedPools is the hot subset the assembler reads, whichever backing it came
// from.
type feedPools struct {
	topCategories    []models.CategoryNode
	risingCategories []models.CategoryNode
	topCreators      []models.CreatorNode
	risingCreators   []models.CreatorNode
	watched          []models.WatchedEntry
	skipped          []models.SkippedEntry
	followed         []models.FollowedCreator
}

// categoryPick is one selected category plus the bucket tag its posts carry.
type categoryPick struct {
	node   models.CategoryNode
	bucket string
}

// candidateSelection is the outcome of stage two: which categories and
// creators the feed draws from, and which bucket each belongs to.
type candidateSelection struct {
	categories     []categoryPick
	creatorIDs     []uuid.UUID
	creatorBuckets map[uuid.UUID]string
}

// Assemble builds one feed page for the user. Session pools are preferred
// when a live session exists; a missing or corrupt session falls back to the
// persistent profile.
func (s *FeedService) Assemble(ctx context.Context, userID uuid.UUID, sessionID string) (*models.FeedData, error) {
	start := s.now()

	profile, err := s.profiles.Load(ctx, userID)
	if err != nil {
		return nil, err
	}

	pools := poolsFromProfile(profile)
	if sessionID != "" {
		sess, err := s.sessions.Get(ctx, sessionID)
		switch {
		case err == nil:
			pools = poolsFromSession(sess)
		case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrSessionCorrupt):
			// Fall back to the profile.
		default:
			return nil, err
		}
	}

	sortPoolDesc(pools.topCategories)
	sortPoolDesc(pools.risingCategories)
	sortPoolDesc(pools.topCreators)
	sortPoolDesc(pools.risingCreators)
	sortPoolDesc(pools.followed)

	sel := s.selectCandidates(pools)

	candidates, err := s.fetchCandidates(ctx, profile, pools, sel)
	if err != nil {
		return nil, err
	}
	candidates = dedupeCandidates(candidates)

	if err := s.scoreCandidates(ctx, pools, candidates); err != nil {
		return nil, err
	}

	picked := interleaveCandidates(candidates, s.cfg.SlotCaps.Caps(), s.cfg.OrganicTarget)

	picked, err = s.padWithExploration(ctx, profile, picked)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.FeedsAssembled.Inc()
		s.metrics.FeedAssemblyDuration.Observe(s.now().Sub(start).Seconds())
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":    userID,
		"candidates": len(candidates),
		"posts":      len(picked),
	}).Debug("Feed assembled")

	return &models.FeedData{UserID: userID, Posts: picked}, nil
}

func poolsFromProfile(p *models.UserProfile) feedPools {
	return feedPools{
		topCategories:    append([]models.CategoryNode(nil), p.TopInterests...),
		risingCategories: append([]models.CategoryNode(nil), p.RisingInterests...),
		topCreators:      append([]models.CreatorNode(nil), p.Creators.TopCreators...),
		risingCreators:   append([]models.CreatorNode(nil), p.Creators.RisingCreators...),
		watched:          append([]models.WatchedEntry(nil), p.Creators.WatchedCreatorsPool...),
		skipped:          append([]models.SkippedEntry(nil), p.Creators.SkippedCreatorsPool...),
		followed:         append([]models.FollowedCreator(nil), p.Following...),
	}
}

func poolsFromSession(sess *models.Session) feedPools {
	return feedPools{
		topCategories:    append([]models.CategoryNode(nil), sess.TopCategories...),
		risingCategories: append([]models.CategoryNode(nil), sess.RisingCategories...),
		topCreators:      append([]models.CreatorNode(nil), sess.TopCreators...),
		risingCreators:   append([]models.CreatorNode(nil), sess.RisingCreators...),
		watched:          append([]models.WatchedEntry(nil), sess.WatchedCreators...),
		skipped:          append([]models.SkippedEntry(nil), sess.SkippedCreators...),
		followed:         append([]models.FollowedCreator(nil), sess.FollowedCreators...),
	}
}

// selectCandidates picks the head of each pool plus random exploration
// entries from the tails, and rolls the dice on the cool-off pools.
func (s *FeedService) selectCandidates(pools feedPools) candidateSelection {
	take := s.cfg.Take
	sel := candidateSelection{creatorBuckets: make(map[uuid.UUID]string)}

	for _, cat := range head(pools.topCategories, take.TopCategories) {
		sel.categories = append(sel.categories, categoryPick{node: cat, bucket: models.BucketCatTop})
	}
	for _, cat := range head(pools.risingCategories, take.RisingCategories) {
		sel.categories = append(sel.categories, categoryPick{node: cat, bucket: models.BucketCatRising})
	}
	if cat, ok := randomPick(s, tail(pools.topCategories, take.TopCategories)); ok {
		sel.categories = append(sel.categories, categoryPick{node: cat, bucket: models.BucketCatExtra})
	}
	if cat, ok := randomPick(s, tail(pools.risingCategories, take.RisingCategories)); ok {
		sel.categories = append(sel.categories, categoryPick{node: cat, bucket: models.BucketCatExtra})
	}

	addCreator := func(id uuid.UUID, bucket string) {
		if _, taken := sel.creatorBuckets[id]; taken {
			return
		}
		sel.creatorBuckets[id] = bucket
		sel.creatorIDs = append(sel.creatorIDs, id)
	}

	for _, c := range head(pools.topCreators, take.TopCreators) {
		addCreator(c.CreatorID, models.BucketCreatorTop)
	}
	for _, c := range head(pools.risingCreators, take.RisingCreators) {
		addCreator(c.CreatorID, models.BucketCreatorRising)
	}
	if c, ok := randomPick(s, tail(pools.topCreators, take.TopCreators)); ok {
		addCreator(c.CreatorID, models.BucketCreatorExtra)
	}
	if c, ok := randomPick(s, tail(pools.risingCreators, take.RisingCreators)); ok {
		addCreator(c.CreatorID, models.BucketCreatorExtra)
	}

	for _, f := range head(pools.followed, take.FollowedHead) {
		addCreator(f.UserID, models.BucketCreatorFollowed)
	}
	followedTail := tail(pools.followed, take.FollowedHead)
	for i := 0; i < take.FollowedRandom; i++ {
		if f, ok := randomPick(s, followedTail); ok {
			addCreator(f.UserID, models.BucketCreatorFollowed)
		}
	}

	nowMs := s.now().UnixMilli()
	var eligible []models.SkippedEntry
	for _, e := range pools.skipped {
		if e.ReentryAt <= nowMs {
			eligible = append(eligible, e)
		}
	}
	if s.roll() {
		if e, ok := randomPick(s, eligible); ok {
			addCreator(e.CreatorID, models.BucketSkipReentry)
		}
	}
	if s.roll() {
		if e, ok := randomPick(s, pools.watched); ok {
			addCreator(e.CreatorID, models.BucketWatched)
		}
	}

	return sel
}

// fetchCandidates runs the per-bucket batch queries and tags each post with
// the bucket that sourced it. Creators still serving their cool-off are
// excluded everywhere except through their own re-entry slot.
func (s *FeedService) fetchCandidates(ctx context.Context, profile *models.UserProfile, pools feedPools, sel candidateSelection) ([]models.FeedPost, error) {
	take := s.cfg.Take
	seen := profile.SeenPosts

	var excludedCreators []uuid.UUID
	for _, e := range pools.skipped {
		if _, selected := sel.creatorBuckets[e.CreatorID]; selected {
			continue
		}
		excludedCreators = append(excludedCreators, e.CreatorID)
	}

	var candidates []models.FeedPost

	for _, pick := range sel.categories {
		subs := s.subFilter(pick.node)
		posts, err := s.posts.CategoryPosts(ctx, pick.node.Name, subs, seen, excludedCreators,
			take.CategoryTopPosts, take.CategoryRandomPosts)
		if err != nil {
			return nil, err
		}
		candidates = appendTagged(candidates, posts, pick.bucket)
	}

	creatorPosts, err := s.posts.CreatorPosts(ctx, sel.creatorIDs, seen,
		take.CreatorTopPosts, take.CreatorRandomPosts)
	if err != nil {
		return nil, err
	}
	for _, p := range creatorPosts {
		bucket, ok := sel.creatorBuckets[p.CreatorID]
		if !ok {
			bucket = models.BucketUnknown
		}
		candidates = append(candidates, models.FeedPost{Post: p, Bucket: bucket})
	}

	rising, err := s.posts.RisingPosts(ctx, seen, take.RisingTop, take.RisingRandom)
	if err != nil {
		return nil, err
	}
	candidates = appendTagged(candidates, rising, models.BucketRising)

	trending, err := s.posts.TrendingPosts(ctx, seen, take.TrendingTop, take.TrendingRandom)
	if err != nil {
		return nil, err
	}
	candidates = appendTagged(candidates, trending, models.BucketTrending)

	recent, err := s.posts.RecentPosts(ctx, seen, s.now().Add(-s.cfg.RecentWindow),
		take.RecentTop, take.RecentRandom)
	if err != nil {
		return nil, err
	}
	candidates = appendTagged(candidates, recent, models.BucketRecent)

	evergreen, err := s.posts.EvergreenPosts(ctx, seen, take.EvergreenTop, take.EvergreenRandom)
	if err != nil {
		return nil, err
	}
	candidates = appendTagged(candidates, evergreen, models.BucketEvergreen)

	return candidates, nil
}

// subFilter narrows a category fetch to the user's strongest subcategories:
// the head of the top pool plus one random extra, and the best rising sub
// plus one random. An empty result means no subcategory filter.
func (s *FeedService) subFilter(cat models.CategoryNode) []string {
	take := s.cfg.Take
	names := make(map[string]bool)

	for _, sub := range head(cat.TopSubs, take.TopSubs) {
		names[sub.Name] = true
	}
	for i := 0; i < take.RandomSubs; i++ {
		if sub, ok := randomPick(s, tail(cat.TopSubs, take.TopSubs)); ok {
			names[sub.Name] = true
		}
	}
	for _, sub := range head(cat.RisingSubs, take.RisingSubs) {
		names[sub.Name] = true
	}
	for i := 0; i < take.RandomRisingSubs; i++ {
		if sub, ok := randomPick(s, tail(cat.RisingSubs, take.RisingSubs)); ok {
			names[sub.Name] = true
		}
	}

	out := make([]string, 0, len(names))
	for name := range names {
		out = append(out, name)
	}
	return out
}

// scoreCandidates computes the composite score in place: the personal term
// (interest and creator affinity under time decay) plus the raw, trending
// and Bayesian terms.
func (s *FeedService) scoreCandidates(ctx context.Context, pools feedPools, candidates []models.FeedPost) error {
	catNames := make([]string, 0)
	creatorIDs := make([]uuid.UUID, 0)
	seenCat := make(map[string]bool)
	seenCreator := make(map[uuid.UUID]bool)
	for _, c := range candidates {
		if !seenCat[c.Category] {
			seenCat[c.Category] = true
			catNames = append(catNames, c.Category)
		}
		if !seenCreator[c.CreatorID] {
			seenCreator[c.CreatorID] = true
			creatorIDs = append(creatorIDs, c.CreatorID)
		}
	}

	catStats, err := s.stats.GlobalStatsByNames(ctx, models.EntityCategory, catNames)
	if err != nil {
		return err
	}
	creatorStats, err := s.stats.CreatorStatsByIDs(ctx, creatorIDs)
	if err != nil {
		return err
	}

	interestScores := make(map[string]float64)
	for _, pool := range [][]models.CategoryNode{pools.topCategories, pools.risingCategories} {
		for _, n := range pool {
			interestScores[n.Name] = n.Score
		}
	}
	creatorScores := make(map[uuid.UUID]float64)
	for _, pool := range [][]models.CreatorNode{pools.topCreators, pools.risingCreators} {
		for _, n := range pool {
			creatorScores[n.CreatorID] = n.Score
		}
	}
	for _, f := range pools.followed {
		creatorScores[f.UserID] = f.Score
	}

	w := s.cfg.Weights
	nowMs := s.now().UnixMilli()

	for i := range candidates {
		c := &candidates[i]

		interest, ok := interestScores[c.Category]
		if !ok {
			interest = s.cfg.ColdInterestFactor * catStats[c.Category].AvgEngagement()
		}
		creator, ok := creatorScores[c.CreatorID]
		if !ok {
			creator = s.cfg.ColdInterestFactor * creatorStats[c.CreatorID].AvgEngagement()
		}

		decay := timeDecay(nowMs-c.CreatedAt.UnixMilli(), s.rankCfg.HalfLifeDays)
		c.OverallScore = w.Personal*decay*(w.Interest*interest+w.Creator*creator) +
			w.Raw*c.RawScore +
			w.Trend*c.TrendingScore +
			w.Bayesian*c.BayesianScore
	}

	return nil
}

// padWithExploration fills the remaining slots with random unseen posts.
func (s *FeedService) padWithExploration(ctx context.Context, profile *models.UserProfile, picked []models.FeedPost) ([]models.FeedPost, error) {
	missing := s.cfg.Size - len(picked)
	if missing <= 0 {
		return picked[:s.cfg.Size], nil
	}

	exclude := append([]uuid.UUID(nil), profile.SeenPosts...)
	for _, p := range picked {
		exclude = append(exclude, p.ID)
	}

	extras, err := s.posts.RandomUnseen(ctx, exclude, missing)
	if err != nil {
		return nil, err
	}
	for _, p := range extras {
		picked = append(picked, models.FeedPost{Post: p, Bucket: models.BucketExplore})
	}
	return picked, nil
}

func appendTagged(dst []models.FeedPost, posts []models.Post, bucket string) []models.FeedPost {
	for _, p := range posts {
		dst = append(dst, models.FeedPost{Post: p, Bucket: bucket})
	}
	return dst
}

func head[T any](pool []T, n int) []T {
	if n > len(pool) {
		n = len(pool)
	}
	return pool[:n]
}

func tail[T any](pool []T, n int) []T {
	if n > len(pool) {
		return nil
	}
	return pool[n:]
}

func (s *FeedService) randIntn(n int) int {
	s.randMu.Lock()
	defer s.randMu.Unlock()
	return s.rand.Intn(n)
}

func randomPick[T any](s *FeedService, pool []T) (T, bool) {
	var zero T
	if len(pool) == 0 {
		return zero, false
	}
	return pool[s.randIntn(len(pool))], true
}

// roll decides whether an optional cool-off slot is drawn this time.
func (s *FeedService) roll() bool {
	s.randMu.Lock()
	defer s.randMu.Unlock()
	return s.rand.Float64() < s.cfg.CoolOffPickProbability
}
