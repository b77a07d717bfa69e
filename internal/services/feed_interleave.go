package services

import (
	"github.com/google/uuid"

	"github.com/riptidehq/riptide/pkg/models"
)

// interleaveCandidates runs the fair-share pick loop: among the buckets that
// still have slot budget, only candidates from the least-served buckets are
// considered, and the highest-scored of those wins. Ties keep insertion
// order. The loop stops at target picks or when every bucket is at its cap.
func interleaveCandidates(cands []models.FeedPost, caps map[string]int, target int) []models.FeedPost {
	capFor := func(bucket string) int {
		if c, ok := caps[bucket]; ok {
			return c
		}
		return caps[models.BucketUnknown]
	}

	used := make(map[string]int)
	taken := make([]bool, len(cands))
	picked := make([]models.FeedPost, 0, target)

	for len(picked) < target {
		minUsage := -1
		for i, c := range cands {
			if taken[i] || used[c.Bucket] >= capFor(c.Bucket) {
				continue
			}
			if minUsage < 0 || used[c.Bucket] < minUsage {
				minUsage = used[c.Bucket]
			}
		}
		if minUsage < 0 {
			break
		}

		best := -1
		for i, c := range cands {
			if taken[i] || used[c.Bucket] >= capFor(c.Bucket) || used[c.Bucket] != minUsage {
				continue
			}
			if best < 0 || c.OverallScore > cands[best].OverallScore {
				best = i
			}
		}

		taken[best] = true
		used[cands[best].Bucket]++
		picked = append(picked, cands[best])
	}

	return picked
}

// dedupeCandidates drops repeated post ids, keeping the first occurrence so
// a post credits the bucket that sourced it first.
func dedupeCandidates(cands []models.FeedPost) []models.FeedPost {
	seen := make(map[uuid.UUID]bool, len(cands))
	out := make([]models.FeedPost, 0, len(cands))
	for _, c := range cands {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out
}
