package services

import (
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/riptidehq/riptide/internal/config"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// testRankingConfig mirrors the production defaults so test arithmetic
// matches the documented constants.
func testRankingConfig() *config.RankingConfig {
	return &config.RankingConfig{
		HalfLifeDays:      0.5,
		ShortHalfLife:     time.Hour,
		LongHalfLife:      24 * time.Hour,
		EMAAlphaSession:   0.7,
		EMAAlphaDB:        0.25,
		SessionBlendAlpha: 0.25,

		SkipWeight:        -1.5,
		HardSkipThreshold: 10,
		WatchedThreshold:  2,
		ReentryDelay:      168 * time.Hour,

		PriorMinCount:      1.0,
		PriorCreatorWeight: 0.4,
		PriorHalfLife:      2 * time.Hour,

		RisingWindow:           time.Hour,
		RisingWindowCap:        200,
		RisingRateMultiplier:   2.0,
		MinInitialRisingWeight: 10.0,

		TrendingWeight:         1.0,
		TrendingExponent:       1.5,
		TrendingActivityNorm:   50.0,
		TrendingBurstFactor:    0.5,
		RisingDecayFactor:      0.9,
		MinRawForEvergreen:     1000.0,
		EvergreenVelocityRatio: 0.01,

		Weights: config.EngagementWeights{
			View:       0.5,
			Like:       1.0,
			Comment:    2.5,
			Share:      5.0,
			Completion: 4.0,
		},
		Pools: config.PoolCapsConfig{
			TopCategories:    20,
			RisingCategories: 12,
			TopSubs:          6,
			RisingSubs:       4,
			Specific:         2,
			TopCreators:      50,
			RisingCreators:   25,
		},
	}
}

// newTestRedis spins up an in-process redis and a client wired to it.
func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return mr, client
}
