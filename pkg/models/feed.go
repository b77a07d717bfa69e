package models

import "github.com/google/uuid"

// Feed bucket tags. A candidate keeps the tag of the pool that sourced it;
// the interleaver caps how many slots each tag may own.
const (
	BucketSkipReentry     = "SKIP_REENTRY"
	BucketWatched         = "WATCHED"
	BucketCatTop          = "CAT:TOP"
	BucketCatRising       = "CAT:RISING"
	BucketCatExtra        = "CAT:EXTRA"
	BucketCreatorTop      = "CREATOR:TOP"
	BucketCreatorRising   = "CREATOR:RISING"
	BucketCreatorExtra    = "CREATOR:EXTRA"
	BucketCreatorFollowed = "CREATOR:FOLLOWED"
	BucketTrending        = "TRENDING"
	BucketRising          = "RISING"
	BucketRecent          = "RECENT"
	BucketEvergreen       = "EVERGREEN"
	BucketUnknown         = "UNKNOWN"
	BucketExplore         = "EXPLORE"
)

// FeedPost is a ranked post plus the provenance the ranker attached to it.
type FeedPost struct {
	Post
	Bucket       string  `json:"bucket"`
	OverallScore float64 `json:"overallScore"`
}

type FeedData struct {
	UserID uuid.UUID  `json:"userId"`
	Posts  []FeedPost `json:"posts"`
}

type FeedResponse struct {
	Status string   `json:"status"`
	Data   FeedData `json:"data"`
}
