package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/riptidehq/riptide/internal/config"
	"github.com/riptidehq/riptide/pkg/models"
)

// RateLimitService enforces a per-user sliding window over the warm store.
type RateLimitService struct {
	cfg         *config.RateLimitConfig
	logger      *logrus.Logger
	redisClient *redis.Client
}

func NewRateLimitService(cfg *config.RateLimitConfig, logger *logrus.Logger, redisClient *redis.Client) *RateLimitService {
	return &RateLimitService{
		cfg:         cfg,
		logger:      logger,
		redisClient: redisClient,
	}
}

func (s *RateLimitService) CheckLimit(ctx context.Context, userID string) (*models.RateLimitInfo, error) {
	limit := s.cfg.Default
	window := s.cfg.Window
	key := fmt.Sprintf("rate_limit:user:%s", userID)

	now := time.Now()
	windowStart := now.Add(-window)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pipe := s.redisClient.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.Unix(), 10))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.Unix()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	pipe.Expire(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.WithError(err).Error("Failed to execute rate limit pipeline")
		// Fail open when the warm store is down.
		return &models.RateLimitInfo{
			Limit:     limit,
			Remaining: limit - 1,
			ResetTime: now.Add(window).Unix(),
		}, nil
	}

	remaining := limit - int(countCmd.Val())
	if remaining < 0 {
		remaining = 0
	}

	return &models.RateLimitInfo{
		Limit:     limit,
		Remaining: remaining,
		ResetTime: now.Add(window).Unix(),
	}, nil
}

func (s *RateLimitService) IsAllowed(ctx context.Context, userID string) (bool, *models.RateLimitInfo, error) {
	info, err := s.CheckLimit(ctx, userID)
	if err != nil {
		return false, nil, err
	}
	return info.Remaining > 0, info, nil
}
