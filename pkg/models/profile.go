package models

import (
	"time"

	"github.com/google/uuid"
)

// Pool node timestamps are Unix milliseconds so the same structures can be
// stored in the session blob and in the profile document without conversion.

type CategoryNode struct {
	Name        string    `json:"name"`
	Score       float64   `json:"score"`
	LastUpdated int64     `json:"lastUpdated"`
	TopSubs     []SubNode `json:"topSubs"`
	RisingSubs  []SubNode `json:"risingSubs"`
}

type SubNode struct {
	Name        string         `json:"name"`
	Score       float64        `json:"score"`
	LastUpdated int64          `json:"lastUpdated"`
	Specific    []SpecificNode `json:"specific"`
}

type SpecificNode struct {
	Name        string  `json:"name"`
	Score       float64 `json:"score"`
	LastUpdated int64   `json:"lastUpdated"`
}

type CreatorNode struct {
	CreatorID   uuid.UUID `json:"creatorId"`
	Score       float64   `json:"score"`
	LastUpdated int64     `json:"lastUpdated"`
	Skips       int       `json:"skips"`
	LastSkipAt  int64     `json:"lastSkipAt,omitempty"`
}

/// WatchedEntry is a creator in cool-off: still eligible for feed slots but
// tracked for repeated skips.
type WatchedEntry struct {
	CreatorID      uuid.UUID `json:"creatorId"`
	Skips          int       `json:"skips"`
	LastSkipUpdate int64     `json:"lastSkipUpdate"`
	ReentryAt      int64     `json:"reentryAt"`
}

// SkippedEntry is a hard-skipped creator excluded from recommendations until
// ReentryAt passes.
type SkippedEntry struct {
	CreatorID      uuid.UUID `json:"creatorId"`
	Skips          int       `json:"skips"`
	LastSkipUpdate int64     `json:"lastSkipUpdate"`
	ReentryAt      int64     `json:"reentryAt"`
}

// FollowedCreator is an explicit follow. Follows never leave the pool on
// skips; instead the score is zeroed and ReentryAt gates re-surfacing.
type FollowedCreator struct {
	UserID      uuid.UUID `json:"userId"`
	Score       float64   `json:"score"`
	LastUpdated int64     `json:"lastUpdated"`
	Skips       int       `json:"skips"`
	LastSkipAt  int64     `json:"lastSkipAt,omitempty"`
	ReentryAt   int64     `json:"reentryAt,omitempty"`
}

type CreatorsInterests struct {
	TopCreators         []CreatorNode  `json:"topCreators"`
	RisingCreators      []CreatorNode  `json:"risingCreators"`
	WatchedCreatorsPool []WatchedEntry `json:"watchedCreatorsPool"`
	SkippedCreatorsPool []SkippedEntry `json:"skippedCreatorsPool"`
}

type UserProfile struct {
	UserID          uuid.UUID         `json:"userId" db:"user_id"`
	UserName        string            `json:"userName" db:"user_name"`
	Email           string            `json:"email" db:"email"`
	TopInterests    []CategoryNode    `json:"topInterests" db:"top_interests"`
	RisingInterests []CategoryNode    `json:"risingInterests" db:"rising_interests"`
	Creators        CreatorsInterests `json:"creators" db:"creators"`
	Following       []FollowedCreator `json:"following" db:"following"`
	SeenPosts       []uuid.UUID       `json:"seenPosts" db:"seen_posts"`
	CreatedAt       time.Time         `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time         `json:"updatedAt" db:"updated_at"`
}

// HasSeen reports whether the post id is in the user's seen set.
func (p *UserProfile) HasSeen(id uuid.UUID) bool {
	for _, seen := range p.SeenPosts {
		if seen == id {
			return true
		}
	}
	return false
}

// Pool accessors used by the generic pool operations.

func (n CategoryNode) PoolKey() string       { return n.Name }
func (n CategoryNode) PoolScore() float64    { return n.Score }
func (n SubNode) PoolKey() string            { return n.Name }
func (n SubNode) PoolScore() float64         { return n.Score }
func (n SpecificNode) PoolKey() string       { return n.Name }
func (n SpecificNode) PoolScore() float64    { return n.Score }
func (n CreatorNode) PoolKey() string        { return n.CreatorID.String() }
func (n CreatorNode) PoolScore() float64     { return n.Score }
func (n FollowedCreator) PoolKey() string    { return n.UserID.String() }
func (n FollowedCreator) PoolScore() float64 { return n.Score }
