package models

import (
	"time"

	"github.com/google/uuid"
)

// Engagement flag payload for POST /engagement/positive. Flags are 0/1 so
// batched clients can OR multiple gestures into one request.
type EngagementFlags struct {
	PostID    uuid.UUID `json:"postId" validate:"required"`
	Viewed    int       `json:"viewed" validate:"min=0,max=1"`
	Completed int       `json:"completed" validate:"min=0,max=1"`
	Liked     int       `json:"liked" validate:"min=0,max=1"`
	Commented int       `json:"commented" validate:"min=0,max=1"`
	Shared    int       `json:"shared" validate:"min=0,max=1"`
	Followed  int       `json:"followed" validate:"min=0,max=1"`
}

type PositiveEngagementRequest struct {
	Engagement EngagementFlags `json:"engagement" validate:"required"`
}

type SkipPayload struct {
	PostID uuid.UUID `json:"postId" validate:"required"`
}

type NegativeEngagementRequest struct {
	Skip SkipPayload `json:"skip" validate:"required"`
}

// EngagementEvent is published to the engagement-events topic and drives the
// counter aggregates kept outside the request path.
type EngagementEvent struct {
	PostID          uuid.UUID `json:"postId"`
	UserID          uuid.UUID `json:"userId"`
	CreatorID       uuid.UUID `json:"creatorId"`
	Category        string    `json:"category"`
	SubCategory     string    `json:"subCategory,omitempty"`
	EngagementScore float64   `json:"engagementScore"`
}

// PostScoreEvent is published to the post-score-events topic and buffered by
// the hourly score aggregator.
type PostScoreEvent struct {
	PostID         uuid.UUID `json:"postId"`
	UserID         uuid.UUID `json:"userId"`
	EngagementType string    `json:"engagementType"`
	ScoreDelta     float64   `json:"scoreDelta"`
	Timestamp      time.Time `json:"timestamp"`
}
