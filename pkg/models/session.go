package models

import "github.com/google/uuid"

// Session is the hot-path mirror of a user profile, stored as a single JSON
// blob in Redis for the lifetime of a browsing session. On expiry it is
// blended back into the persistent profile.
type Session struct {
	UserID           uuid.UUID         `json:"userId"`
	TopCategories    []CategoryNode    `json:"topCategories"`
	RisingCategories []CategoryNode    `json:"risingCategories"`
	TopCreators      []CreatorNode     `json:"topCreators"`
	RisingCreators   []CreatorNode     `json:"risingCreators"`
	WatchedCreators  []WatchedEntry    `json:"watchedCreators"`
	SkippedCreators  []SkippedEntry    `json:"skippedCreators"`
	FollowedCreators []FollowedCreator `json:"followedCreators"`
}

// NewSessionFromProfile projects the hot subset of a profile into a session
// blob. Slices are copied so session writes never alias profile state.
func NewSessionFromProfile(p *UserProfile) *Session {
	return &Session{
		UserID:           p.UserID,
		TopCategories:    cloneCategories(p.TopInterests),
		RisingCategories: cloneCategories(p.RisingInterests),
		TopCreators:      append([]CreatorNode(nil), p.Creators.TopCreators...),
		RisingCreators:   append([]CreatorNode(nil), p.Creators.RisingCreators...),
		WatchedCreators:  append([]WatchedEntry(nil), p.Creators.WatchedCreatorsPool...),
		SkippedCreators:  append([]SkippedEntry(nil), p.Creators.SkippedCreatorsPool...),
		FollowedCreators: append([]FollowedCreator(nil), p.Following...),
	}
}

func cloneCategories(src []CategoryNode) []CategoryNode {
	if src == nil {
		return nil
	}
	out := make([]CategoryNode, len(src))
	for i, cat := range src {
		out[i] = cat
		out[i].TopSubs = cloneSubs(cat.TopSubs)
		out[i].RisingSubs = cloneSubs(cat.RisingSubs)
	}
	return out
}

func cloneSubs(src []SubNode) []SubNode {
	if src == nil {
		return nil
	}
	out := make([]SubNode, len(src))
	for i, sub := range src {
		out[i] = sub
		out[i].Specific = append([]SpecificNode(nil), sub.Specific...)
	}
	return out
}
