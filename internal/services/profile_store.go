package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"github.com/riptidehq/riptide/pkg/models"
)

// DatabaseQuerier is the narrow pgx surface the stores depend on; both
// pgxpool.Pool and pgxmock satisfy it.
type DatabaseQuerier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// ErrDuplicate maps unique-constraint violations to a stable sentinel.
var ErrDuplicate = errors.New("duplicate key")

// ProfileStore persists long-term user profiles. Pools are stored as JSONB
// documents inside the relational row.
type ProfileStore struct {
	db     DatabaseQuerier
	logger *logrus.Logger
}

func NewProfileStore(db DatabaseQuerier, logger *logrus.Logger) *ProfileStore {
	return &ProfileStore{db: db, logger: logger}
}

func (s *ProfileStore) Load(ctx context.Context, userID uuid.UUID) (*models.UserProfile, error) {
	query := `
		SELECT user_id, user_name, COALESCE(email, ''), top_interests, rising_interests,
			   creators, following, seen_posts, created_at, updated_at
		FROM user_profiles
		WHERE user_id = $1`

	var profile models.UserProfile
	var topJSON, risingJSON, creatorsJSON, followingJSON, seenJSON []byte

	err := s.db.QueryRow(ctx, query, userID).Scan(
		&profile.UserID,
		&profile.UserName,
		&profile.Email,
		&topJSON,
		&risingJSON,
		&creatorsJSON,
		&followingJSON,
		&seenJSON,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to query user profile: %w", err)
	}

	for _, part := range []struct {
		raw []byte
		dst interface{}
	}{
		{topJSON, &profile.TopInterests},
		{risingJSON, &profile.RisingInterests},
		{creatorsJSON, &profile.Creators},
		{followingJSON, &profile.Following},
		{seenJSON, &profile.SeenPosts},
	} {
		if len(part.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(part.raw, part.dst); err != nil {
			return nil, fmt.Errorf("failed to decode profile document: %w", err)
		}
	}

	return &profile, nil
}

func (s *ProfileStore) Create(ctx context.Context, profile *models.UserProfile) error {
	topJSON, risingJSON, creatorsJSON, followingJSON, seenJSON, err := marshalProfilePools(profile)
	if err != nil {
		return err
	}

	// Auth claims may omit the email; NULLIF keeps the unique index happy
	// for the auto-created profiles.
	query := `
		INSERT INTO user_profiles (user_id, user_name, email, top_interests,
			rising_interests, creators, following, seen_posts, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, NOW(), NOW())`

	_, err = s.db.Exec(ctx, query, profile.UserID, profile.UserName, profile.Email,
		topJSON, risingJSON, creatorsJSON, followingJSON, seenJSON)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
		}
		return fmt.Errorf("failed to create user profile: %w", err)
	}

	s.logger.WithField("user_id", profile.UserID).Debug("Created user profile")
	return nil
}

// Save writes the mutable pool state back to the profile row.
func (s *ProfileStore) Save(ctx context.Context, profile *models.UserProfile) error {
	topJSON, risingJSON, creatorsJSON, followingJSON, seenJSON, err := marshalProfilePools(profile)
	if err != nil {
		return err
	}

	query := `
		UPDATE user_profiles
		SET top_interests = $2,
			rising_interests = $3,
			creators = $4,
			following = $5,
			seen_posts = $6,
			updated_at = NOW()
		WHERE user_id = $1`

	tag, err := s.db.Exec(ctx, query, profile.UserID,
		topJSON, risingJSON, creatorsJSON, followingJSON, seenJSON)
	if err != nil {
		return fmt.Errorf("failed to save user profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// AppendSeenPosts adds ids to the profile's seen set without rewriting the
// whole document; duplicates are collapsed server-side.
func (s *ProfileStore) AppendSeenPosts(ctx context.Context, userID uuid.UUID, postIDs []uuid.UUID) error {
	if len(postIDs) == 0 {
		return nil
	}

	idsJSON, err := json.Marshal(postIDs)
	if err != nil {
		return fmt.Errorf("failed to encode seen posts: %w", err)
	}

	query := `
		UPDATE user_profiles
		SET seen_posts = COALESCE(
				(SELECT jsonb_agg(DISTINCT elem)
				 FROM jsonb_array_elements(seen_posts || $2::jsonb) AS elem),
				'[]'::jsonb),
			updated_at = NOW()
		WHERE user_id = $1`

	if _, err := s.db.Exec(ctx, query, userID, idsJSON); err != nil {
		return fmt.Errorf("failed to append seen posts: %w", err)
	}
	return nil
}

// ResetPools clears every learned pool plus the per-user interest counters.
// Administrative operation; identity fields are preserved.
func (s *ProfileStore) ResetPools(ctx context.Context, userID uuid.UUID) error {
	query := `
		UPDATE user_profiles
		SET top_interests = '[]',
			rising_interests = '[]',
			creators = '{}',
			following = '[]',
			seen_posts = '[]',
			updated_at = NOW()
		WHERE user_id = $1`

	tag, err := s.db.Exec(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("failed to reset user profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	if _, err := s.db.Exec(ctx, `DELETE FROM user_interest_stats WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to reset user interest stats: %w", err)
	}

	s.logger.WithField("user_id", userID).Info("User profile pools reset")
	return nil
}

// ListProfiles pages through all profiles by user id; used by the rising
// decay sweep.
func (s *ProfileStore) ListProfiles(ctx context.Context, afterID uuid.UUID, limit int) ([]models.UserProfile, error) {
	query := `
		SELECT user_id, user_name, COALESCE(email, ''), top_interests, rising_interests,
			   creators, following, seen_posts, created_at, updated_at
		FROM user_profiles
		WHERE user_id > $1
		ORDER BY user_id
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list user profiles: %w", err)
	}
	defer rows.Close()

	var profiles []models.UserProfile
	for rows.Next() {
		var profile models.UserProfile
		var topJSON, risingJSON, creatorsJSON, followingJSON, seenJSON []byte

		if err := rows.Scan(
			&profile.UserID,
			&profile.UserName,
			&profile.Email,
			&topJSON,
			&risingJSON,
			&creatorsJSON,
			&followingJSON,
			&seenJSON,
			&profile.CreatedAt,
			&profile.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan user profile: %w", err)
		}

		for _, part := range []struct {
			raw []byte
			dst interface{}
		}{
			{topJSON, &profile.TopInterests},
			{risingJSON, &profile.RisingInterests},
			{creatorsJSON, &profile.Creators},
			{followingJSON, &profile.Following},
			{seenJSON, &profile.SeenPosts},
		} {
			if len(part.raw) == 0 {
				continue
			}
			if err := json.Unmarshal(part.raw, part.dst); err != nil {
				return nil, fmt.Errorf("failed to decode profile document: %w", err)
			}
		}

		profiles = append(profiles, profile)
	}

	return profiles, rows.Err()
}

func marshalProfilePools(profile *models.UserProfile) (top, rising, creators, following, seen []byte, err error) {
	if top, err = json.Marshal(orEmptyCategories(profile.TopInterests)); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("failed to encode top interests: %w", err)
	}
	if rising, err = json.Marshal(orEmptyCategories(profile.RisingInterests)); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("failed to encode rising interests: %w", err)
	}
	if creators, err = json.Marshal(profile.Creators); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("failed to encode creators: %w", err)
	}
	if profile.Following == nil {
		profile.Following = []models.FollowedCreator{}
	}
	if following, err = json.Marshal(profile.Following); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("failed to encode following: %w", err)
	}
	if profile.SeenPosts == nil {
		profile.SeenPosts = []uuid.UUID{}
	}
	if seen, err = json.Marshal(profile.SeenPosts); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("failed to encode seen posts: %w", err)
	}
	return top, rising, creators, following, seen, nil
}

func orEmptyCategories(pool []models.CategoryNode) []models.CategoryNode {
	if pool == nil {
		return []models.CategoryNode{}
	}
	return pool
}
