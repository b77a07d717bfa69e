package database

import (
	"context"
	"fmt"
)

// Schema statements are idempotent so Migrate can run on every boot.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS user_profiles (
		user_id UUID PRIMARY KEY,
		user_name TEXT NOT NULL,
		email TEXT,
		top_interests JSONB NOT NULL DEFAULT '[]',
		rising_interests JSONB NOT NULL DEFAULT '[]',
		creators JSONB NOT NULL DEFAULT '{}',
		following JSONB NOT NULL DEFAULT '[]',
		seen_posts JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT user_profiles_user_name_key UNIQUE (user_name),
		CONSTRAINT user_profiles_email_key UNIQUE (email)
	)`,

	`CREATE TABLE IF NOT EXISTS posts (
		id UUID PRIMARY KEY,
		creator_id UUID NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL,
		sub_category TEXT NOT NULL DEFAULT '',
		specific TEXT NOT NULL DEFAULT '',
		impression_count BIGINT NOT NULL DEFAULT 0,
		engagement_sum DOUBLE PRECISION NOT NULL DEFAULT 0,
		raw_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		cumulative_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		short_term_velocity_ema DOUBLE PRECISION NOT NULL DEFAULT 0,
		historical_velocity_ema DOUBLE PRECISION NOT NULL DEFAULT 0,
		trending_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		bayesian_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		is_rising BOOLEAN NOT NULL DEFAULT FALSE,
		is_evergreen BOOLEAN NOT NULL DEFAULT FALSE,
		window_events JSONB NOT NULL DEFAULT '[]',
		last_trending_update TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS global_stats (
		entity_type TEXT NOT NULL,
		name TEXT NOT NULL,
		impression_count BIGINT NOT NULL DEFAULT 0,
		total_engagement DOUBLE PRECISION NOT NULL DEFAULT 0,
		PRIMARY KEY (entity_type, name)
	)`,

	`CREATE TABLE IF NOT EXISTS user_interest_stats (
		user_id UUID NOT NULL,
		entity_type TEXT NOT NULL,
		name TEXT NOT NULL,
		impression_count BIGINT NOT NULL DEFAULT 0,
		total_engagement DOUBLE PRECISION NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, entity_type, name)
	)`,

	`CREATE TABLE IF NOT EXISTS creator_stats (
		creator_id UUID PRIMARY KEY,
		impression_count BIGINT NOT NULL DEFAULT 0,
		total_engagement DOUBLE PRECISION NOT NULL DEFAULT 0
	)`,

	// Feed query paths
	`CREATE INDEX IF NOT EXISTS idx_posts_category_bayesian
		ON posts (category, sub_category, bayesian_score DESC, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_category_rising
		ON posts (category, sub_category, is_rising, trending_score DESC, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_creator_trending
		ON posts (creator_id, trending_score DESC, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_rising_trending
		ON posts (is_rising, trending_score DESC, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_evergreen_trending
		ON posts (is_evergreen, trending_score DESC, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_created_at
		ON posts (created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_raw_score
		ON posts (raw_score DESC)`,
}

// Migrate applies the schema. Safe to call concurrently from multiple
// instances; statements are guarded by IF NOT EXISTS.
func (db *Database) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.PG.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}

	db.logger.Info("Database schema applied")
	return nil
}
