package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/riptidehq/riptide/pkg/models"
)

// StatsStore maintains the engagement counter aggregates. All writes are
// commutative upsert-increments, so concurrent engagements never conflict.
type StatsStore struct {
	db     DatabaseQuerier
	logger *logrus.Logger
}

func NewStatsStore(db DatabaseQuerier, logger *logrus.Logger) *StatsStore {
	return &StatsStore{db: db, logger: logger}
}

// BumpGlobal increments the global counters for one entity and returns the
// post-increment values, which feed Bayesian smoothing on the same request.
func (s *StatsStore) BumpGlobal(ctx context.Context, entityType, name string, engagement float64) (models.EntityStats, error) {
	query := `
		INSERT INTO global_stats (entity_type, name, impression_count, total_engagement)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (entity_type, name)
		DO UPDATE SET
			impression_count = global_stats.impression_count + 1,
			total_engagement = global_stats.total_engagement + EXCLUDED.total_engagement
		RETURNING impression_count, total_engagement`

	var stats models.EntityStats
	err := s.db.QueryRow(ctx, query, entityType, name, engagement).
		Scan(&stats.ImpressionCount, &stats.TotalEngagement)
	if err != nil {
		return stats, fmt.Errorf("failed to bump global stats: %w", err)
	}
	return stats, nil
}

func (s *StatsStore) BumpUser(ctx context.Context, userID uuid.UUID, entityType, name string, engagement float64) (models.EntityStats, error) {
	query := `
		INSERT INTO user_interest_stats (user_id, entity_type, name, impression_count, total_engagement)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (user_id, entity_type, name)
		DO UPDATE SET
			impression_count = user_interest_stats.impression_count + 1,
			total_engagement = user_interest_stats.total_engagement + EXCLUDED.total_engagement
		RETURNING impression_count, total_engagement`

	var stats models.EntityStats
	err := s.db.QueryRow(ctx, query, userID, entityType, name, engagement).
		Scan(&stats.ImpressionCount, &stats.TotalEngagement)
	if err != nil {
		return stats, fmt.Errorf("failed to bump user interest stats: %w", err)
	}
	return stats, nil
}

func (s *StatsStore) BumpCreator(ctx context.Context, creatorID uuid.UUID, engagement float64) (models.EntityStats, error) {
	query := `
		INSERT INTO creator_stats (creator_id, impression_count, total_engagement)
		VALUES ($1, 1, $2)
		ON CONFLICT (creator_id)
		DO UPDATE SET
			impression_count = creator_stats.impression_count + 1,
			total_engagement = creator_stats.total_engagement + EXCLUDED.total_engagement
		RETURNING impression_count, total_engagement`

	var stats models.EntityStats
	err := s.db.QueryRow(ctx, query, creatorID, engagement).
		Scan(&stats.ImpressionCount, &stats.TotalEngagement)
	if err != nil {
		return stats, fmt.Errorf("failed to bump creator stats: %w", err)
	}
	return stats, nil
}

// GlobalStats reads counters for one entity; a missing row reads as zeros.
func (s *StatsStore) GlobalStats(ctx context.Context, entityType, name string) (models.EntityStats, error) {
	query := `
		SELECT impression_count, total_engagement
		FROM global_stats
		WHERE entity_type = $1 AND name = $2`

	var stats models.EntityStats
	err := s.db.QueryRow(ctx, query, entityType, name).
		Scan(&stats.ImpressionCount, &stats.TotalEngagement)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.EntityStats{}, nil
		}
		return stats, fmt.Errorf("failed to query global stats: %w", err)
	}
	return stats, nil
}

func (s *StatsStore) CreatorStats(ctx context.Context, creatorID uuid.UUID) (models.EntityStats, error) {
	query := `
		SELECT impression_count, total_engagement
		FROM creator_stats
		WHERE creator_id = $1`

	var stats models.EntityStats
	err := s.db.QueryRow(ctx, query, creatorID).
		Scan(&stats.ImpressionCount, &stats.TotalEngagement)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.EntityStats{}, nil
		}
		return stats, fmt.Errorf("failed to query creator stats: %w", err)
	}
	return stats, nil
}

// GlobalStatsByNames batch-loads category counters for feed scoring.
func (s *StatsStore) GlobalStatsByNames(ctx context.Context, entityType string, names []string) (map[string]models.EntityStats, error) {
	out := make(map[string]models.EntityStats, len(names))
	if len(names) == 0 {
		return out, nil
	}

	query := `
		SELECT name, impression_count, total_engagement
		FROM global_stats
		WHERE entity_type = $1 AND name = ANY($2)`

	rows, err := s.db.Query(ctx, query, entityType, names)
	if err != nil {
		return nil, fmt.Errorf("failed to query global stats batch: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var stats models.EntityStats
		if err := rows.Scan(&name, &stats.ImpressionCount, &stats.TotalEngagement); err != nil {
			return nil, fmt.Errorf("failed to scan global stats: %w", err)
		}
		out[name] = stats
	}

	return out, rows.Err()
}

// CreatorStatsByIDs batch-loads creator counters for feed scoring.
func (s *StatsStore) CreatorStatsByIDs(ctx context.Context, creatorIDs []uuid.UUID) (map[uuid.UUID]models.EntityStats, error) {
	out := make(map[uuid.UUID]models.EntityStats, len(creatorIDs))
	if len(creatorIDs) == 0 {
		return out, nil
	}

	query := `
		SELECT creator_id, impression_count, total_engagement
		FROM creator_stats
		WHERE creator_id = ANY($1)`

	rows, err := s.db.Query(ctx, query, creatorIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query creator stats batch: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var stats models.EntityStats
		if err := rows.Scan(&id, &stats.ImpressionCount, &stats.TotalEngagement); err != nil {
			return nil, fmt.Errorf("failed to scan creator stats: %w", err)
		}
		out[id] = stats
	}

	return out, rows.Err()
}
