package services

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riptidehq/riptide/pkg/models"
)

var postColumnNames = []string{
	"id", "creator_id", "title", "category", "sub_category", "specific",
	"impression_count", "engagement_sum", "raw_score", "cumulative_score",
	"short_term_velocity_ema", "historical_velocity_ema", "trending_score", "bayesian_score",
	"is_rising", "is_evergreen", "window_events", "last_trending_update", "created_at", "updated_at",
}

func postRow(t *testing.T, post *models.Post) *pgxmock.Rows {
	t.Helper()

	windowJSON, err := json.Marshal(post.WindowEvents)
	require.NoError(t, err)

	return pgxmock.NewRows(postColumnNames).AddRow(
		post.ID, post.CreatorID, post.Title, post.Category, post.SubCategory, post.Specific,
		post.ImpressionCount, post.EngagementSum, post.RawScore, post.CumulativeScore,
		post.ShortTermVelocityEMA, post.HistoricalVelocityEMA, post.TrendingScore, post.BayesianScore,
		post.IsRising, post.IsEvergreen, windowJSON,
		post.LastTrendingUpdate, post.CreatedAt, post.UpdatedAt,
	)
}

func newMetricsFixture(t *testing.T) (*PostMetricsService, pgxmock.PgxPoolIface) {
	t.Helper()

	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockDB.Close)

	logger := testLogger()
	svc := NewPostMetricsService(NewPostStore(mockDB, logger), NewStatsStore(mockDB, logger),
		testRankingConfig(), logger)

	return svc, mockDB
}

func expectEmptyPriorStats(mock pgxmock.PgxPoolIface) {
	mock.ExpectQuery("FROM global_stats").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("FROM creator_stats").WillReturnError(pgx.ErrNoRows)
}

func TestPostMetricsService_Apply_FirstBatch(t *testing.T) {
	svc, mockDB := newMetricsFixture(t)
	ctx := context.Background()

	now := time.UnixMilli(1_700_000_000_000)
	svc.now = func() time.Time { return now }

	created := now.Add(-time.Hour)
	post := &models.Post{
		ID:                 uuid.New(),
		CreatorID:          uuid.New(),
		Category:           "Tech",
		CreatedAt:          created,
		LastTrendingUpdate: created, // untouched since insert
		UpdatedAt:          created,
	}

	// One hour at a one-hour half-life mixes in exactly half the weight.
	weight := 12.0
	alphaShort := velocityAlpha(time.Hour.Milliseconds(), time.Hour)
	alphaLong := velocityAlpha(time.Hour.Milliseconds(), 24*time.Hour)
	wantShort := weight * alphaShort
	wantLong := weight * alphaLong
	r := wantShort / (wantLong + velocityEpsilon)
	wantTrending := math.Pow(r, 1.5) + 0.5*math.Min(1, wantShort/50.0)

	wantWindow, err := json.Marshal([]models.WindowEvent{{TS: now.UnixMilli(), Weight: weight}})
	require.NoError(t, err)

	mockDB.ExpectQuery("FROM posts").WithArgs(post.ID).WillReturnRows(postRow(t, post))
	expectEmptyPriorStats(mockDB)
	mockDB.ExpectExec("UPDATE posts").
		WithArgs(post.ID, wantShort, wantLong, wantTrending, 0.0, true, weight, wantWindow, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, svc.Apply(ctx, post.ID, weight))
	require.NoError(t, mockDB.ExpectationsWereMet())

	assert.InDelta(t, 6.0, wantShort, 1e-9)
	assert.Greater(t, wantShort, wantLong)
}

func TestPostMetricsService_Apply_RisingFlag(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)

	t.Run("first batch needs the initial weight floor", func(t *testing.T) {
		svc, mockDB := newMetricsFixture(t)
		svc.now = func() time.Time { return now }

		created := now.Add(-10 * time.Minute)
		post := &models.Post{
			ID:                 uuid.New(),
			CreatorID:          uuid.New(),
			Category:           "Tech",
			CreatedAt:          created,
			LastTrendingUpdate: created,
		}

		mockDB.ExpectQuery("FROM posts").WithArgs(post.ID).WillReturnRows(postRow(t, post))
		expectEmptyPriorStats(mockDB)
		mockDB.ExpectExec("UPDATE posts").
			WithArgs(post.ID, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), false, pgxmock.AnyArg(), pgxmock.AnyArg(), now).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		// A single view is not a launch spike.
		require.NoError(t, svc.Apply(ctx, post.ID, 0.5))
		require.NoError(t, mockDB.ExpectationsWereMet())
	})

	t.Run("later batches compare velocity against baseline", func(t *testing.T) {
		svc, mockDB := newMetricsFixture(t)
		svc.now = func() time.Time { return now }

		created := now.Add(-48 * time.Hour)
		post := &models.Post{
			ID:                    uuid.New(),
			CreatorID:             uuid.New(),
			Category:              "Tech",
			ShortTermVelocityEMA:  7.0,
			HistoricalVelocityEMA: 1.0,
			CreatedAt:             created,
			LastTrendingUpdate:    now.Add(-time.Hour),
		}

		// shortEMA lands at 7*0.5 + 1*0.5 = 4; longEMA stays at 1.0, so
		// the velocity ratio clears the 2.0 multiplier.
		mockDB.ExpectQuery("FROM posts").WithArgs(post.ID).WillReturnRows(postRow(t, post))
		expectEmptyPriorStats(mockDB)
		mockDB.ExpectExec("UPDATE posts").
			WithArgs(post.ID, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), true, pgxmock.AnyArg(), pgxmock.AnyArg(), now).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, svc.Apply(ctx, post.ID, 1.0))
		require.NoError(t, mockDB.ExpectationsWereMet())
	})
}

func TestPostMetricsService_Apply_WindowMaintenance(t *testing.T) {
	svc, mockDB := newMetricsFixture(t)
	ctx := context.Background()

	now := time.UnixMilli(1_700_000_000_000)
	svc.now = func() time.Time { return now }
	nowMs := now.UnixMilli()

	stale := models.WindowEvent{TS: nowMs - (2 * time.Hour).Milliseconds(), Weight: 1}
	fresh := models.WindowEvent{TS: nowMs - (30 * time.Minute).Milliseconds(), Weight: 2}

	post := &models.Post{
		ID:                 uuid.New(),
		CreatorID:          uuid.New(),
		Category:           "Tech",
		WindowEvents:       []models.WindowEvent{stale, fresh},
		CreatedAt:          now.Add(-3 * time.Hour),
		LastTrendingUpdate: now.Add(-30 * time.Minute),
	}

	wantWindow, err := json.Marshal([]models.WindowEvent{
		fresh,
		{TS: nowMs, Weight: 1.0},
	})
	require.NoError(t, err)

	mockDB.ExpectQuery("FROM posts").WithArgs(post.ID).WillReturnRows(postRow(t, post))
	expectEmptyPriorStats(mockDB)
	mockDB.ExpectExec("UPDATE posts").
		WithArgs(post.ID, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), wantWindow, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, svc.Apply(ctx, post.ID, 1.0))
	require.NoError(t, mockDB.ExpectationsWereMet())
}

func TestPostMetricsService_Apply_WindowCap(t *testing.T) {
	svc, mockDB := newMetricsFixture(t)
	ctx := context.Background()

	now := time.UnixMilli(1_700_000_000_000)
	svc.now = func() time.Time { return now }
	nowMs := now.UnixMilli()

	events := make([]models.WindowEvent, 200)
	for i := range events {
		events[i] = models.WindowEvent{TS: nowMs - int64(200-i), Weight: 1}
	}

	post := &models.Post{
		ID:                 uuid.New(),
		CreatorID:          uuid.New(),
		Category:           "Tech",
		WindowEvents:       events,
		CreatedAt:          now.Add(-time.Hour),
		LastTrendingUpdate: now.Add(-time.Minute),
	}

	// Oldest event falls off; total stays at the cap.
	want := append(append([]models.WindowEvent{}, events[1:]...), models.WindowEvent{TS: nowMs, Weight: 3.0})
	wantWindow, err := json.Marshal(want)
	require.NoError(t, err)
	require.Len(t, want, 200)

	mockDB.ExpectQuery("FROM posts").WithArgs(post.ID).WillReturnRows(postRow(t, post))
	expectEmptyPriorStats(mockDB)
	mockDB.ExpectExec("UPDATE posts").
		WithArgs(post.ID, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), wantWindow, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, svc.Apply(ctx, post.ID, 3.0))
	require.NoError(t, mockDB.ExpectationsWereMet())
}

func TestPostMetricsService_Apply_BayesianScore(t *testing.T) {
	svc, mockDB := newMetricsFixture(t)
	ctx := context.Background()

	now := time.UnixMilli(1_700_000_000_000)
	svc.now = func() time.Time { return now }

	created := now.Add(-2 * time.Hour)
	post := &models.Post{
		ID:                 uuid.New(),
		CreatorID:          uuid.New(),
		Category:           "Tech",
		ImpressionCount:    10,
		EngagementSum:      50.0,
		CumulativeScore:    50.0,
		CreatedAt:          created,
		LastTrendingUpdate: now.Add(-time.Hour),
	}

	// catAvg 2.0, creatorAvg 4.0 -> priorMean 0.4*4 + 0.6*2 = 2.8. The
	// prior count halves over the post's two-hour age.
	ageMs := (2 * time.Hour).Milliseconds()
	prior := decayedPriorCount(choosePriorCount(10), ageMs, 2*time.Hour, 1.0)
	priorMean := 0.4*4.0 + (1-0.4)*2.0
	smoothed := (priorMean*prior + 50.0) / (prior + 10.0)
	wantBayesian := smoothed * timeDecay(ageMs, 0.5)

	mockDB.ExpectQuery("FROM posts").WithArgs(post.ID).WillReturnRows(postRow(t, post))
	mockDB.ExpectQuery("FROM global_stats").
		WithArgs(models.EntityCategory, "Tech").
		WillReturnRows(pgxmock.NewRows([]string{"impression_count", "total_engagement"}).
			AddRow(int64(100), 200.0))
	mockDB.ExpectQuery("FROM creator_stats").
		WithArgs(post.CreatorID).
		WillReturnRows(pgxmock.NewRows([]string{"impression_count", "total_engagement"}).
			AddRow(int64(10), 40.0))
	mockDB.ExpectExec("UPDATE posts").
		WithArgs(post.ID, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			wantBayesian, pgxmock.AnyArg(), 51.0, pgxmock.AnyArg(), now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, svc.Apply(ctx, post.ID, 1.0))
	require.NoError(t, mockDB.ExpectationsWereMet())

	// Sanity on the intermediate constants.
	assert.InDelta(t, 10.0, prior, 1e-6)
	assert.Greater(t, wantBayesian, 0.0)
}

func TestPostMetricsService_Apply_MissingPost(t *testing.T) {
	svc, mockDB := newMetricsFixture(t)

	postID := uuid.New()
	mockDB.ExpectQuery("FROM posts").WithArgs(postID).WillReturnError(pgx.ErrNoRows)

	err := svc.Apply(context.Background(), postID, 1.0)
	assert.ErrorIs(t, err, ErrPostNotFound)
	require.NoError(t, mockDB.ExpectationsWereMet())
}
