package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riptidehq/riptide/pkg/models"
)

func newInterestFixture(t *testing.T) (*InterestService, pgxmock.PgxPoolIface, *SessionStore) {
	t.Helper()

	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockDB.Close)

	_, redisClient := newTestRedis(t)

	logger := testLogger()
	sessions := NewSessionStore(redisClient, logger)
	profiles := NewProfileStore(mockDB, logger)
	stats := NewStatsStore(mockDB, logger)

	svc := NewInterestService(sessions, profiles, stats, testRankingConfig(), logger)
	svc.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }

	return svc, mockDB, sessions
}

func expectStatsBump(mock pgxmock.PgxPoolIface, userID uuid.UUID, entityType, name string, engagement float64, impressions int64, total float64) {
	mock.ExpectQuery("INSERT INTO global_stats").
		WithArgs(entityType, name, engagement).
		WillReturnRows(pgxmock.NewRows([]string{"impression_count", "total_engagement"}).
			AddRow(impressions, total))
	mock.ExpectQuery("INSERT INTO user_interest_stats").
		WithArgs(userID, entityType, name, engagement).
		WillReturnRows(pgxmock.NewRows([]string{"impression_count", "total_engagement"}).
			AddRow(impressions, total))
}

func TestInterestService_Score_SessionPath(t *testing.T) {
	svc, mockDB, sessions := newInterestFixture(t)
	ctx := context.Background()

	userID := uuid.New()
	sessionID := uuid.NewString()
	require.NoError(t, sessions.Start(ctx, sessionID, &models.Session{UserID: userID}))

	t.Run("first engagement creates the full hierarchy", func(t *testing.T) {
		expectStatsBump(mockDB, userID, models.EntityCategory, "Tech", 4.0, 1, 4.0)
		expectStatsBump(mockDB, userID, models.EntitySubCategory, "Golang", 4.0, 1, 4.0)

		err := svc.Score(ctx, userID, sessionID, "Tech", "Golang", "Generics", 4.0)
		require.NoError(t, err)

		sess, err := sessions.Get(ctx, sessionID)
		require.NoError(t, err)
		require.Len(t, sess.TopCategories, 1)

		// A lone user's smoothed average equals the raw engagement, so the
		// fresh node lands at alpha * 4.0.
		cat := sess.TopCategories[0]
		assert.Equal(t, "Tech", cat.Name)
		assert.InDelta(t, 2.8, cat.Score, 1e-9)

		require.Len(t, cat.TopSubs, 1)
		assert.Equal(t, "Golang", cat.TopSubs[0].Name)
		assert.InDelta(t, 2.8, cat.TopSubs[0].Score, 1e-9)

		require.Len(t, cat.TopSubs[0].Specific, 1)
		assert.Equal(t, "Generics", cat.TopSubs[0].Specific[0].Name)
		assert.InDelta(t, 2.8, cat.TopSubs[0].Specific[0].Score, 1e-9)

		assert.Empty(t, sess.RisingCategories)
		require.NoError(t, mockDB.ExpectationsWereMet())
	})

	t.Run("repeat engagement blends into the existing node", func(t *testing.T) {
		expectStatsBump(mockDB, userID, models.EntityCategory, "Tech", 4.0, 2, 8.0)
		expectStatsBump(mockDB, userID, models.EntitySubCategory, "Golang", 4.0, 2, 8.0)

		err := svc.Score(ctx, userID, sessionID, "Tech", "Golang", "", 4.0)
		require.NoError(t, err)

		sess, err := sessions.Get(ctx, sessionID)
		require.NoError(t, err)
		require.Len(t, sess.TopCategories, 1)

		// 0.7*4.0 + 0.3*2.8 with no elapsed time between updates.
		assert.InDelta(t, 3.64, sess.TopCategories[0].Score, 1e-9)
		require.NoError(t, mockDB.ExpectationsWereMet())
	})

	t.Run("name normalization collapses equivalent spellings", func(t *testing.T) {
		expectStatsBump(mockDB, userID, models.EntityCategory, "Café", 1.0, 1, 1.0)

		// Combining accent plus stray whitespace must hit the same node
		// as the precomposed spelling.
		err := svc.Score(ctx, userID, sessionID, " Café ", "", "", 1.0)
		require.NoError(t, err)

		expectStatsBump(mockDB, userID, models.EntityCategory, "Café", 1.0, 2, 2.0)
		err = svc.Score(ctx, userID, sessionID, "Café", "", "", 1.0)
		require.NoError(t, err)

		sess, err := sessions.Get(ctx, sessionID)
		require.NoError(t, err)

		names := 0
		for _, cat := range append(sess.TopCategories, sess.RisingCategories...) {
			if cat.Name == "Café" {
				names++
			}
		}
		assert.Equal(t, 1, names)
		require.NoError(t, mockDB.ExpectationsWereMet())
	})

	t.Run("stats failure leaves the session untouched", func(t *testing.T) {
		before, err := sessions.Get(ctx, sessionID)
		require.NoError(t, err)

		mockDB.ExpectQuery("INSERT INTO global_stats").
			WithArgs(models.EntityCategory, "Music", 1.0).
			WillReturnError(errors.New("connection refused"))

		err = svc.Score(ctx, userID, sessionID, "Music", "", "", 1.0)
		require.Error(t, err)

		after, err := sessions.Get(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, len(before.TopCategories), len(after.TopCategories))
		require.NoError(t, mockDB.ExpectationsWereMet())
	})
}

func TestInterestService_Score_PersistentPath(t *testing.T) {
	svc, mockDB, _ := newInterestFixture(t)
	ctx := context.Background()

	userID := uuid.New()

	profileRow := func() *pgxmock.Rows {
		return pgxmock.NewRows([]string{
			"user_id", "user_name", "email", "top_interests", "rising_interests",
			"creators", "following", "seen_posts", "created_at", "updated_at",
		}).AddRow(
			userID, "ada", "ada@example.com",
			[]byte(`[]`), []byte(`[]`), []byte(`{}`), []byte(`[]`), []byte(`[]`),
			time.Now(), time.Now(),
		)
	}

	t.Run("empty session id routes through the profile", func(t *testing.T) {
		mockDB.ExpectQuery("SELECT user_id, user_name").
			WithArgs(userID).
			WillReturnRows(profileRow())
		expectStatsBump(mockDB, userID, models.EntityCategory, "Tech", 4.0, 1, 4.0)
		mockDB.ExpectExec("UPDATE user_profiles").
			WithArgs(userID, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		err := svc.Score(ctx, userID, "", "Tech", "", "", 4.0)
		require.NoError(t, err)
		require.NoError(t, mockDB.ExpectationsWereMet())
	})

	t.Run("unknown user surfaces ErrUserNotFound", func(t *testing.T) {
		mockDB.ExpectQuery("SELECT user_id, user_name").
			WithArgs(userID).
			WillReturnError(pgx.ErrNoRows)

		err := svc.Score(ctx, userID, "", "Tech", "", "", 4.0)
		assert.ErrorIs(t, err, ErrUserNotFound)
		require.NoError(t, mockDB.ExpectationsWereMet())
	})
}

func TestInterestService_Skip(t *testing.T) {
	svc, mockDB, sessions := newInterestFixture(t)
	ctx := context.Background()

	userID := uuid.New()
	nowMs := svc.now().UnixMilli()

	seed := func(t *testing.T, sess *models.Session) string {
		t.Helper()
		sessionID := uuid.NewString()
		require.NoError(t, sessions.Start(ctx, sessionID, sess))
		return sessionID
	}

	t.Run("weak category is removed outright", func(t *testing.T) {
		sessionID := seed(t, &models.Session{
			UserID: userID,
			TopCategories: []models.CategoryNode{
				{Name: "Cars", Score: 1.0, LastUpdated: nowMs},
			},
		})

		// 0.7*(-1.5) + 0.3*1.0 = -0.75, below zero, so the node and its
		// subtree disappear.
		require.NoError(t, svc.Skip(ctx, userID, sessionID, "Cars", "", ""))

		sess, err := sessions.Get(ctx, sessionID)
		require.NoError(t, err)
		assert.Empty(t, sess.TopCategories)
		assert.Empty(t, sess.RisingCategories)
	})

	t.Run("strong category survives with a reduced score", func(t *testing.T) {
		sessionID := seed(t, &models.Session{
			UserID: userID,
			TopCategories: []models.CategoryNode{
				{Name: "Cars", Score: 10.0, LastUpdated: nowMs},
			},
		})

		require.NoError(t, svc.Skip(ctx, userID, sessionID, "Cars", "", ""))

		sess, err := sessions.Get(ctx, sessionID)
		require.NoError(t, err)
		require.Len(t, sess.TopCategories, 1)
		assert.InDelta(t, 1.95, sess.TopCategories[0].Score, 1e-9)
	})

	t.Run("subcategory removal keeps the parent", func(t *testing.T) {
		sessionID := seed(t, &models.Session{
			UserID: userID,
			TopCategories: []models.CategoryNode{
				{
					Name: "Cars", Score: 10.0, LastUpdated: nowMs,
					TopSubs: []models.SubNode{
						{Name: "Vintage", Score: 0.5, LastUpdated: nowMs},
						{Name: "Electric", Score: 5.0, LastUpdated: nowMs},
					},
				},
			},
		})

		require.NoError(t, svc.Skip(ctx, userID, sessionID, "Cars", "Vintage", ""))

		sess, err := sessions.Get(ctx, sessionID)
		require.NoError(t, err)
		require.Len(t, sess.TopCategories, 1)

		cat := sess.TopCategories[0]
		require.Len(t, cat.TopSubs, 1)
		assert.Equal(t, "Electric", cat.TopSubs[0].Name)
	})

	t.Run("skip on an unknown category is a no-op", func(t *testing.T) {
		sessionID := seed(t, &models.Session{UserID: userID})

		require.NoError(t, svc.Skip(ctx, userID, sessionID, "Gardening", "", ""))

		sess, err := sessions.Get(ctx, sessionID)
		require.NoError(t, err)
		assert.Empty(t, sess.TopCategories)
	})

	require.NoError(t, mockDB.ExpectationsWereMet())
}
