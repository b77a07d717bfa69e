package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riptidehq/riptide/internal/config"
	"github.com/riptidehq/riptide/pkg/models"
)

func testFeedConfig() *config.FeedConfig {
	return &config.FeedConfig{
		Size:          3,
		OrganicTarget: 3,
		RecentWindow:  24 * time.Hour,
		// Cool-off slots never roll in so the pick sequence is deterministic.
		CoolOffPickProbability: 0,
		ColdInterestFactor:     0.1,
		Take: config.FeedTakeConfig{
			TopCategories:    1,
			TopCreators:      1,
			CategoryTopPosts: 2,
			CreatorTopPosts:  1,
			TrendingTop:      1,
		},
		Weights: config.FeedWeights{Raw: 1.0},
		SlotCaps: config.FeedSlotCaps{
			CatTop:     1,
			CreatorTop: 1,
			Trending:   1,
		},
	}
}

func newFeedFixture(t *testing.T) (*FeedService, pgxmock.PgxPoolIface) {
	t.Helper()

	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockDB.Close)

	_, redisClient := newTestRedis(t)

	logger := testLogger()
	svc := NewFeedService(NewSessionStore(redisClient, logger), NewProfileStore(mockDB, logger),
		NewPostStore(mockDB, logger), NewStatsStore(mockDB, logger),
		testRankingConfig(), testFeedConfig(), logger)
	svc.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }

	return svc, mockDB
}

func feedTestPost(id, creator uuid.UUID, raw float64) *models.Post {
	return &models.Post{
		ID:        id,
		CreatorID: creator,
		Title:     "post " + id.String()[:8],
		Category:  "Tech",
		RawScore:  raw,
		CreatedAt: time.UnixMilli(1_700_000_000_000).Add(-6 * time.Hour),
	}
}

func feedPostRows(t *testing.T, posts ...*models.Post) *pgxmock.Rows {
	t.Helper()

	rows := pgxmock.NewRows(postColumnNames)
	for _, p := range posts {
		rows.AddRow(
			p.ID, p.CreatorID, p.Title, p.Category, p.SubCategory, p.Specific,
			p.ImpressionCount, p.EngagementSum, p.RawScore, p.CumulativeScore,
			p.ShortTermVelocityEMA, p.HistoricalVelocityEMA, p.TrendingScore, p.BayesianScore,
			p.IsRising, p.IsEvergreen, []byte(`[]`),
			p.LastTrendingUpdate, p.CreatedAt, p.UpdatedAt,
		)
	}
	return rows
}

// Walks the full assembly pipeline against a profile with one top category
// and one top creator: candidate selection, the per-bucket batch fetches,
// dedupe across buckets, scoring, the fair-share interleave with its slot
// caps, and exploration padding up to the page size. The session id points
// nowhere, so the pools must come from the persistent profile.
func TestFeedService_Assemble(t *testing.T) {
	ctx := context.Background()
	svc, mockDB := newFeedFixture(t)

	userID := uuid.New()
	seenID := uuid.New()
	creatorA := uuid.New()

	topCatPost := feedTestPost(uuid.New(), uuid.New(), 9.0)
	extraCatPost := feedTestPost(uuid.New(), uuid.New(), 5.0)
	creatorPost := feedTestPost(uuid.New(), creatorA, 7.0)
	explorePost := feedTestPost(uuid.New(), uuid.New(), 1.0)

	profile := &models.UserProfile{
		UserID:       userID,
		UserName:     "feedreader",
		TopInterests: []models.CategoryNode{{Name: "Tech", Score: 4.0}},
		Creators: models.CreatorsInterests{
			TopCreators: []models.CreatorNode{{CreatorID: creatorA, Score: 5.0}},
		},
		SeenPosts: []uuid.UUID{seenID},
	}

	mockDB.ExpectQuery("SELECT user_id, user_name").
		WithArgs(userID).
		WillReturnRows(profileRow(t, profile))

	// Category bucket, strongest first then the random tail.
	mockDB.ExpectQuery("WHERE category =").
		WithArgs("Tech", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), 2).
		WillReturnRows(feedPostRows(t, topCatPost, extraCatPost))
	mockDB.ExpectQuery("WHERE category =").
		WithArgs("Tech", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), 0).
		WillReturnRows(feedPostRows(t))

	// Creator bucket for the selected top creator.
	mockDB.ExpectQuery("WHERE creator_id = ANY").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), 1).
		WillReturnRows(feedPostRows(t, creatorPost))
	mockDB.ExpectQuery("WHERE creator_id = ANY").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), 0).
		WillReturnRows(feedPostRows(t))

	// Rising is not taken this page.
	mockDB.ExpectQuery("WHERE is_rising").
		WithArgs(pgxmock.AnyArg(), 0).
		WillReturnRows(feedPostRows(t))
	mockDB.ExpectQuery("WHERE is_rising").
		WithArgs(pgxmock.AnyArg(), 0).
		WillReturnRows(feedPostRows(t))

	// Trending resurfaces the category winner; dedupe must keep the first
	// sighting and its bucket.
	mockDB.ExpectQuery("WHERE NOT is_evergreen").
		WithArgs(pgxmock.AnyArg(), 1).
		WillReturnRows(feedPostRows(t, topCatPost))
	mockDB.ExpectQuery("WHERE NOT is_evergreen").
		WithArgs(pgxmock.AnyArg(), 0).
		WillReturnRows(feedPostRows(t))

	mockDB.ExpectQuery("WHERE created_at >=").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), 0).
		WillReturnRows(feedPostRows(t))
	mockDB.ExpectQuery("WHERE created_at >=").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), 0).
		WillReturnRows(feedPostRows(t))

	mockDB.ExpectQuery("WHERE is_evergreen").
		WithArgs(pgxmock.AnyArg(), 0).
		WillReturnRows(feedPostRows(t))
	mockDB.ExpectQuery("WHERE is_evergreen").
		WithArgs(pgxmock.AnyArg(), 0).
		WillReturnRows(feedPostRows(t))

	// Scoring pulls the batch counters for every candidate category and
	// creator.
	mockDB.ExpectQuery("SELECT name, impression_count").
		WithArgs(models.EntityCategory, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"name", "impression_count", "total_engagement"}).
			AddRow("Tech", int64(100), 50.0))
	mockDB.ExpectQuery("SELECT creator_id, impression_count").
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"creator_id", "impression_count", "total_engagement"}).
			AddRow(creatorA, int64(40), 20.0))

	// One organic slot stays open, so exploration pads the page.
	mockDB.ExpectQuery("SELECT id, creator_id").
		WithArgs(pgxmock.AnyArg(), 1).
		WillReturnRows(feedPostRows(t, explorePost))

	data, err := svc.Assemble(ctx, userID, uuid.NewString())
	require.NoError(t, err)
	require.NotNil(t, data)
	assert.Equal(t, userID, data.UserID)

	require.Len(t, data.Posts, svc.cfg.Size)

	ids := make(map[uuid.UUID]bool)
	for _, p := range data.Posts {
		assert.False(t, ids[p.ID], "post %s served twice", p.ID)
		ids[p.ID] = true
		assert.NotEqual(t, seenID, p.ID, "seen post must not be served")
	}

	// The category winner beats the creator pick, the second category post
	// is squeezed out by the one-per-bucket cap, and the open slot is filled
	// with exploration.
	assert.Equal(t, topCatPost.ID, data.Posts[0].ID)
	assert.Equal(t, models.BucketCatTop, data.Posts[0].Bucket)
	assert.InDelta(t, 9.0, data.Posts[0].OverallScore, 1e-9)

	assert.Equal(t, creatorPost.ID, data.Posts[1].ID)
	assert.Equal(t, models.BucketCreatorTop, data.Posts[1].Bucket)

	assert.Equal(t, explorePost.ID, data.Posts[2].ID)
	assert.Equal(t, models.BucketExplore, data.Posts[2].Bucket)

	bucketCounts := make(map[string]int)
	for _, p := range data.Posts {
		bucketCounts[p.Bucket]++
	}
	assert.Equal(t, 1, bucketCounts[models.BucketCatTop])

	require.NoError(t, mockDB.ExpectationsWereMet())
}

func TestFeedService_Assemble_UnknownUser(t *testing.T) {
	ctx := context.Background()
	svc, mockDB := newFeedFixture(t)

	userID := uuid.New()
	mockDB.ExpectQuery("SELECT user_id, user_name").
		WithArgs(userID).
		WillReturnError(pgx.ErrNoRows)

	_, err := svc.Assemble(ctx, userID, "")
	assert.ErrorIs(t, err, ErrUserNotFound)
	require.NoError(t, mockDB.ExpectationsWereMet())
}
