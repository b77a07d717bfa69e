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

	"github.com/riptidehq/riptide/pkg/models"
)

// fakeProducer records published events so the fan-out can be asserted
// without a broker.
type fakeProducer struct {
	engagements []models.EngagementEvent
	scores      []models.PostScoreEvent
}

func (f *fakeProducer) PublishEngagement(_ context.Context, ev models.EngagementEvent) error {
	f.engagements = append(f.engagements, ev)
	return nil
}

func (f *fakeProducer) PublishPostScore(_ context.Context, ev models.PostScoreEvent) error {
	f.scores = append(f.scores, ev)
	return nil
}

func TestEngagementWeight(t *testing.T) {
	svc := &EngagementService{cfg: testRankingConfig()}

	tests := []struct {
		name  string
		flags models.EngagementFlags
		want  float64
	}{
		{"view only", models.EngagementFlags{Viewed: 1}, 0.5},
		{"like", models.EngagementFlags{Viewed: 1, Liked: 1}, 1.5},
		{"comment and share", models.EngagementFlags{Commented: 1, Shared: 1}, 7.5},
		{"full house", models.EngagementFlags{Viewed: 1, Liked: 1, Commented: 1, Shared: 1, Completed: 1}, 13.0},
		{"nothing set", models.EngagementFlags{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, svc.engagementWeight(tt.flags), 1e-9)
		})
	}
}

func TestEngagementType(t *testing.T) {
	assert.Equal(t, "view", engagementType(models.EngagementFlags{Viewed: 1}))
	assert.Equal(t, "like", engagementType(models.EngagementFlags{Viewed: 1, Liked: 1}))
	assert.Equal(t, "comment", engagementType(models.EngagementFlags{Liked: 1, Commented: 1}))
	assert.Equal(t, "completion", engagementType(models.EngagementFlags{Commented: 1, Completed: 1}))
	// Share outranks everything else.
	assert.Equal(t, "share", engagementType(models.EngagementFlags{Completed: 1, Shared: 1}))
	assert.Equal(t, "view", engagementType(models.EngagementFlags{}))
}

func TestEngagementService_Positive_PostNotFound(t *testing.T) {
	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockDB.Close)

	logger := testLogger()
	svc := NewEngagementService(
		NewPostStore(mockDB, logger),
		nil, nil, nil, nil, nil, nil,
		testRankingConfig(), logger,
	)

	postID := uuid.New()
	mockDB.ExpectQuery("SELECT id, creator_id").
		WithArgs(postID).
		WillReturnError(pgx.ErrNoRows)

	err = svc.Positive(context.Background(), uuid.New(), "", models.EngagementFlags{PostID: postID, Viewed: 1})
	assert.ErrorIs(t, err, ErrPostNotFound)
	require.NoError(t, mockDB.ExpectationsWereMet())
}

func TestEngagementService_Publish(t *testing.T) {
	producer := &fakeProducer{}
	svc := &EngagementService{
		producer: producer,
		cfg:      testRankingConfig(),
		logger:   testLogger(),
		now:      func() time.Time { return time.UnixMilli(1_700_000_000_000) },
	}

	post := &models.Post{
		ID:        uuid.New(),
		CreatorID: uuid.New(),
		Category:  "Tech",
	}
	userID := uuid.New()

	t.Run("positive weight publishes both events", func(t *testing.T) {
		svc.publish(context.Background(), post, userID, "like", 1.5)

		require.Len(t, producer.engagements, 1)
		assert.Equal(t, post.ID, producer.engagements[0].PostID)
		assert.Equal(t, post.CreatorID, producer.engagements[0].CreatorID)
		assert.InDelta(t, 1.5, producer.engagements[0].EngagementScore, 1e-9)

		require.Len(t, producer.scores, 1)
		assert.Equal(t, "like", producer.scores[0].EngagementType)
		assert.InDelta(t, 1.5, producer.scores[0].ScoreDelta, 1e-9)
		assert.Equal(t, svc.now(), producer.scores[0].Timestamp)
	})

	t.Run("skip publishes a score event only", func(t *testing.T) {
		producer.engagements = nil
		producer.scores = nil

		svc.publish(context.Background(), post, userID, "skip", svc.cfg.SkipWeight)

		assert.Empty(t, producer.engagements)
		require.Len(t, producer.scores, 1)
		assert.Equal(t, "skip", producer.scores[0].EngagementType)
		assert.InDelta(t, -1.5, producer.scores[0].ScoreDelta, 1e-9)
	})
}

func TestEngagementService_HandleEngagementEvent(t *testing.T) {
	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockDB.Close)

	logger := testLogger()
	svc := NewEngagementService(
		NewPostStore(mockDB, logger),
		nil,
		NewStatsStore(mockDB, logger),
		nil, nil, nil, nil,
		testRankingConfig(), logger,
	)

	ev := models.EngagementEvent{
		PostID:          uuid.New(),
		UserID:          uuid.New(),
		CreatorID:       uuid.New(),
		Category:        "Tech",
		EngagementScore: 2.5,
	}

	mockDB.ExpectExec("UPDATE posts").
		WithArgs(ev.PostID, ev.EngagementScore).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mockDB.ExpectQuery("INSERT INTO creator_stats").
		WithArgs(ev.CreatorID, ev.EngagementScore).
		WillReturnRows(pgxmock.NewRows([]string{"impression_count", "total_engagement"}).AddRow(int64(5), 12.5))

	require.NoError(t, svc.HandleEngagementEvent(context.Background(), ev))
	require.NoError(t, mockDB.ExpectationsWereMet())
}
