package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/riptidehq/riptide/pkg/models"
)

const postColumns = `id, creator_id, title, category, sub_category, specific,
	impression_count, engagement_sum, raw_score, cumulative_score,
	short_term_velocity_ema, historical_velocity_ema, trending_score, bayesian_score,
	is_rising, is_evergreen, window_events, last_trending_update, created_at, updated_at`

// PostStore reads and writes posts plus the derived metric columns the
// ranking pipeline maintains.
type PostStore struct {
	db     DatabaseQuerier
	logger *logrus.Logger
}

func NewPostStore(db DatabaseQuerier, logger *logrus.Logger) *PostStore {
	return &PostStore{db: db, logger: logger}
}

func (s *PostStore) Get(ctx context.Context, id uuid.UUID) (*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE id = $1`

	post, err := scanPost(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPostNotFound
		}
		return nil, fmt.Errorf("failed to query post: %w", err)
	}
	return post, nil
}

// UpdateMetrics persists the derived metric fields computed by the post
// metrics engine.
func (s *PostStore) UpdateMetrics(ctx context.Context, post *models.Post) error {
	windowJSON, err := json.Marshal(post.WindowEvents)
	if err != nil {
		return fmt.Errorf("failed to encode window events: %w", err)
	}

	query := `
		UPDATE posts
		SET short_term_velocity_ema = $2,
			historical_velocity_ema = $3,
			trending_score = $4,
			bayesian_score = $5,
			is_rising = $6,
			cumulative_score = $7,
			window_events = $8,
			last_trending_update = $9,
			updated_at = NOW()
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, post.ID,
		post.ShortTermVelocityEMA, post.HistoricalVelocityEMA,
		post.TrendingScore, post.BayesianScore, post.IsRising,
		post.CumulativeScore, windowJSON, post.LastTrendingUpdate)
	if err != nil {
		return fmt.Errorf("failed to update post metrics: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPostNotFound
	}
	return nil
}

// IncrementEngagement applies the commutative counter part of an
// engagement: one impression plus the weighted engagement value.
func (s *PostStore) IncrementEngagement(ctx context.Context, postID uuid.UUID, weight float64) error {
	query := `
		UPDATE posts
		SET impression_count = impression_count + 1,
			engagement_sum = engagement_sum + $2,
			raw_score = raw_score + $2,
			updated_at = NOW()
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, postID, weight)
	if err != nil {
		return fmt.Errorf("failed to increment post engagement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPostNotFound
	}
	return nil
}

// CategoryPosts samples a category bucket: the strongest posts by Bayesian
// score plus a random tail, optionally narrowed to a subcategory list.
func (s *PostStore) CategoryPosts(ctx context.Context, category string, subs []string, excludeSeen, excludeCreators []uuid.UUID, topN, randomN int) ([]models.Post, error) {
	base := ` FROM posts
		WHERE category = $1
		  AND (cardinality($2::text[]) = 0 OR sub_category = ANY($2))
		  AND NOT (id = ANY($3))
		  AND NOT (creator_id = ANY($4))`

	top, err := s.selectPosts(ctx,
		`SELECT `+postColumns+base+` ORDER BY bayesian_score DESC, created_at DESC LIMIT $5`,
		category, subs, uuidArray(excludeSeen), uuidArray(excludeCreators), topN)
	if err != nil {
		return nil, err
	}

	random, err := s.selectPosts(ctx,
		`SELECT `+postColumns+base+` ORDER BY random() LIMIT $5`,
		category, subs, uuidArray(excludeSeen), uuidArray(excludeCreators), randomN)
	if err != nil {
		return nil, err
	}

	return mergePosts(top, random), nil
}

// CreatorPosts samples posts across the selected creator set by trending
// score plus a random tail.
func (s *PostStore) CreatorPosts(ctx context.Context, creatorIDs, excludeSeen []uuid.UUID, topN, randomN int) ([]models.Post, error) {
	if len(creatorIDs) == 0 {
		return nil, nil
	}

	base := ` FROM posts
		WHERE creator_id = ANY($1)
		  AND NOT (id = ANY($2))`

	top, err := s.selectPosts(ctx,
		`SELECT `+postColumns+base+` ORDER BY trending_score DESC, created_at DESC LIMIT $3`,
		uuidArray(creatorIDs), uuidArray(excludeSeen), topN)
	if err != nil {
		return nil, err
	}

	random, err := s.selectPosts(ctx,
		`SELECT `+postColumns+base+` ORDER BY random() LIMIT $3`,
		uuidArray(creatorIDs), uuidArray(excludeSeen), randomN)
	if err != nil {
		return nil, err
	}

	return mergePosts(top, random), nil
}

func (s *PostStore) RisingPosts(ctx context.Context, excludeSeen []uuid.UUID, topN, randomN int) ([]models.Post, error) {
	base := ` FROM posts
		WHERE is_rising AND NOT is_evergreen
		  AND NOT (id = ANY($1))`
	return s.topAndRandom(ctx, base, "trending_score DESC, created_at DESC", topN, randomN, uuidArray(excludeSeen))
}

func (s *PostStore) TrendingPosts(ctx context.Context, excludeSeen []uuid.UUID, topN, randomN int) ([]models.Post, error) {
	base := ` FROM posts
		WHERE NOT is_evergreen
		  AND NOT (id = ANY($1))`
	return s.topAndRandom(ctx, base, "trending_score DESC, created_at DESC", topN, randomN, uuidArray(excludeSeen))
}

func (s *PostStore) RecentPosts(ctx context.Context, excludeSeen []uuid.UUID, since time.Time, topN, randomN int) ([]models.Post, error) {
	base := ` FROM posts
		WHERE created_at >= $2
		  AND NOT (id = ANY($1))`
	return s.topAndRandom(ctx, base, "bayesian_score DESC, created_at DESC", topN, randomN, uuidArray(excludeSeen), since)
}

func (s *PostStore) EvergreenPosts(ctx context.Context, excludeSeen []uuid.UUID, topN, randomN int) ([]models.Post, error) {
	base := ` FROM posts
		WHERE is_evergreen
		  AND NOT (id = ANY($1))`
	return s.topAndRandom(ctx, base, "trending_score DESC, created_at DESC", topN, randomN, uuidArray(excludeSeen))
}

// RandomUnseen backs the exploration slots at the end of the feed.
func (s *PostStore) RandomUnseen(ctx context.Context, excludeSeen []uuid.UUID, n int) ([]models.Post, error) {
	if n <= 0 {
		return nil, nil
	}
	query := `SELECT ` + postColumns + ` FROM posts
		WHERE NOT (id = ANY($1))
		ORDER BY random() LIMIT $2`
	return s.selectPosts(ctx, query, uuidArray(excludeSeen), n)
}

// MarkEvergreen runs the scheduled evergreen sweep over posts above the raw
// score floor: flag posts whose short-term velocity collapsed relative to
// their baseline, and unflag recovered ones. Newly evergreen posts lose
// their rising flag. Returns how many rows changed.
func (s *PostStore) MarkEvergreen(ctx context.Context, minRawScore, velocityRatio float64) (int64, error) {
	set, err := s.db.Exec(ctx, `
		UPDATE posts
		SET is_evergreen = TRUE, is_rising = FALSE, updated_at = NOW()
		WHERE raw_score >= $1
		  AND NOT is_evergreen
		  AND historical_velocity_ema > 0
		  AND short_term_velocity_ema / historical_velocity_ema < $2`,
		minRawScore, velocityRatio)
	if err != nil {
		return 0, fmt.Errorf("failed to flag evergreen posts: %w", err)
	}

	cleared, err := s.db.Exec(ctx, `
		UPDATE posts
		SET is_evergreen = FALSE, updated_at = NOW()
		WHERE raw_score >= $1
		  AND is_evergreen
		  AND (historical_velocity_ema <= 0
		       OR short_term_velocity_ema / historical_velocity_ema >= $2)`,
		minRawScore, velocityRatio)
	if err != nil {
		return 0, fmt.Errorf("failed to clear evergreen posts: %w", err)
	}

	return set.RowsAffected() + cleared.RowsAffected(), nil
}

func (s *PostStore) topAndRandom(ctx context.Context, base, orderBy string, topN, randomN int, args ...interface{}) ([]models.Post, error) {
	limitIdx := len(args) + 1

	top, err := s.selectPosts(ctx,
		fmt.Sprintf(`SELECT %s%s ORDER BY %s LIMIT $%d`, postColumns, base, orderBy, limitIdx),
		append(append([]interface{}{}, args...), topN)...)
	if err != nil {
		return nil, err
	}

	random, err := s.selectPosts(ctx,
		fmt.Sprintf(`SELECT %s%s ORDER BY random() LIMIT $%d`, postColumns, base, limitIdx),
		append(append([]interface{}{}, args...), randomN)...)
	if err != nil {
		return nil, err
	}

	return mergePosts(top, random), nil
}

func (s *PostStore) selectPosts(ctx context.Context, query string, args ...interface{}) ([]models.Post, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query posts: %w", err)
	}
	defer rows.Close()

	var posts []models.Post
	for rows.Next() {
		post, err := scanPostRow(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *post)
	}

	return posts, rows.Err()
}

func scanPost(row pgx.Row) (*models.Post, error) {
	var post models.Post
	var windowJSON []byte

	err := row.Scan(
		&post.ID, &post.CreatorID, &post.Title, &post.Category, &post.SubCategory, &post.Specific,
		&post.ImpressionCount, &post.EngagementSum, &post.RawScore, &post.CumulativeScore,
		&post.ShortTermVelocityEMA, &post.HistoricalVelocityEMA, &post.TrendingScore, &post.BayesianScore,
		&post.IsRising, &post.IsEvergreen, &windowJSON,
		&post.LastTrendingUpdate, &post.CreatedAt, &post.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(windowJSON) > 0 {
		if err := json.Unmarshal(windowJSON, &post.WindowEvents); err != nil {
			return nil, fmt.Errorf("failed to decode window events: %w", err)
		}
	}
	return &post, nil
}

func scanPostRow(rows pgx.Rows) (*models.Post, error) {
	post, err := scanPost(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan post: %w", err)
	}
	return post, nil
}

// mergePosts concatenates result sets, dropping ids already present.
func mergePosts(first, second []models.Post) []models.Post {
	seen := make(map[uuid.UUID]bool, len(first)+len(second))
	out := make([]models.Post, 0, len(first)+len(second))
	for _, batch := range [][]models.Post{first, second} {
		for _, p := range batch {
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			out = append(out, p)
		}
	}
	return out
}

// uuidArray normalizes nil exclusion lists so static SQL array guards work.
func uuidArray(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}
