package models

import "github.com/google/uuid"

// Entity types for interest counter rows.
const (
	EntityCategory    = "category"
	EntitySubCategory = "subcategory"
)

// EntityStats is the counter pair shared by the global, per-user and
// per-creator aggregate rows.
type EntityStats struct {
	ImpressionCount int64   `json:"impressionCount" db:"impression_count"`
	TotalEngagement float64 `json:"totalEngagement" db:"total_engagement"`
}

// AvgEngagement is engagement per impression, zero-safe.
func (s EntityStats) AvgEngagement() float64 {
	if s.ImpressionCount <= 0 {
		return 0
	}
	return s.TotalEngagement / float64(s.ImpressionCount)
}

type GlobalStats struct {
	EntityType string `json:"entityType" db:"entity_type"`
	Name       string `json:"name" db:"name"`
	EntityStats
}

type UserInterestStats struct {
	UserID     uuid.UUID `json:"userId" db:"user_id"`
	EntityType string    `json:"entityType" db:"entity_type"`
	Name       string    `json:"name" db:"name"`
	EntityStats
}

type CreatorStats struct {
	CreatorID uuid.UUID `json:"creatorId" db:"creator_id"`
	EntityStats
}
