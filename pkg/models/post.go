package models

import (
	"time"

	"github.com/google/uuid"
)

// WindowEvent is one weighted engagement inside the rising-detection window.
type WindowEvent struct {
	TS     int64   `json:"ts"`
	Weight float64 `json:"weight"`
}

type Post struct {
	ID          uuid.UUID `json:"id" db:"id"`
	CreatorID   uuid.UUID `json:"creatorId" db:"creator_id"`
	Title       string    `json:"title" db:"title"`
	Category    string    `json:"category" db:"category"`
	SubCategory string    `json:"subCategory,omitempty" db:"sub_category"`
	Specific    string    `json:"specific,omitempty" db:"specific"`

	ImpressionCount int64   `json:"impressionCount" db:"impression_count"`
	EngagementSum   float64 `json:"engagementSum" db:"engagement_sum"`
	RawScore        float64 `json:"rawScore" db:"raw_score"`
	CumulativeScore float64 `json:"cumulativeScore" db:"cumulative_score"`

	ShortTermVelocityEMA  float64 `json:"shortTermVelocityEMA" db:"short_term_velocity_ema"`
	HistoricalVelocityEMA float64 `json:"historicalVelocityEMA" db:"historical_velocity_ema"`
	TrendingScore         float64 `json:"trendingScore" db:"trending_score"`
	BayesianScore         float64 `json:"bayesianScore" db:"bayesian_score"`

	IsRising    bool `json:"isRising" db:"is_rising"`
	IsEvergreen bool `json:"isEvergreen" db:"is_evergreen"`

	WindowEvents []WindowEvent `json:"-" db:"window_events"`

	LastTrendingUpdate time.Time `json:"lastTrendingUpdate" db:"last_trending_update"`
	CreatedAt          time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt          time.Time `json:"updatedAt" db:"updated_at"`
}

// AvgEngagement is engagement per impression, zero-safe.
func (p *Post) AvgEngagement() float64 {
	if p.ImpressionCount <= 0 {
		return 0
	}
	return p.EngagementSum / float64(p.ImpressionCount)
}
