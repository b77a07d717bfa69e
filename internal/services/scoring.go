package services

import (
	"math"
	"time"

	"github.com/riptidehq/riptide/pkg/models"
)

const (
	// msPerDay converts millisecond timestamps to day-denominated deltas.
	msPerDay = 86_400_000.0

	// velocityEpsilon keeps the short/long velocity ratio finite while a
	// post has no long-term baseline yet.
	velocityEpsilon = 1e-9

	priorFloor   = 20.0
	priorCeiling = 500.0
)

// decayedScore halves oldScore every halfLifeDays. A zero score stays zero
// regardless of how stale its timestamp is, and clocks that ran backwards
// are treated as no elapsed time.
func decayedScore(oldScore float64, lastUpdatedMs, nowMs int64, halfLifeDays float64) float64 {
	if oldScore == 0 {
		return 0
	}
	deltaDays := float64(nowMs-lastUpdatedMs) / msPerDay
	if deltaDays <= 0 {
		return oldScore
	}
	lambda := math.Ln2 / halfLifeDays
	return oldScore * math.Exp(-lambda*deltaDays)
}

// emaUpdate folds newScore into the decayed node score. Uninitialized nodes
// (score 0) bypass decay so their zero-value timestamps never contribute.
func emaUpdate(oldScore float64, lastUpdatedMs int64, newScore, alpha float64, nowMs int64, halfLifeDays float64) float64 {
	decayed := 0.0
	if oldScore != 0 {
		decayed = decayedScore(oldScore, lastUpdatedMs, nowMs, halfLifeDays)
	}
	return alpha*newScore + (1-alpha)*decayed
}

// choosePriorCount sizes the Bayesian prior from global impressions:
// clamp(floor(20*log10(n+1)), 20, 500).
func choosePriorCount(globalImpressions int64) float64 {
	if globalImpressions <= 0 {
		return priorFloor
	}
	n := math.Floor(priorFloor * math.Log10(float64(globalImpressions)+1))
	if n < priorFloor {
		return priorFloor
	}
	if n > priorCeiling {
		return priorCeiling
	}
	return n
}

// emaBlend mixes a persistent value with its session counterpart; alpha is
// the session weight. Used only by merge-back.
func emaBlend(alpha, old, session float64) float64 {
	return (1-alpha)*old + alpha*session
}

// smoothedScore is the Bayesian-smoothed per-user average engagement pulled
// toward the global prior. The denominator is always positive because the
// prior count is floored at 20.
func smoothedScore(global, user models.EntityStats) float64 {
	priorCount := choosePriorCount(global.ImpressionCount)
	return (global.AvgEngagement()*priorCount + user.TotalEngagement) /
		(priorCount + float64(user.ImpressionCount))
}

// decayedPriorCount shrinks a post's initial prior strength as the post
// ages, floored at minCount.
func decayedPriorCount(initPrior float64, ageMs int64, priorHalfLife time.Duration, minCount float64) float64 {
	if ageMs < 0 {
		ageMs = 0
	}
	lambda := math.Ln2 / float64(priorHalfLife.Milliseconds())
	decayed := initPrior * math.Exp(-lambda*float64(ageMs))
	if decayed < minCount {
		return minCount
	}
	return decayed
}

// timeDecay is the freshness multiplier applied to personal and Bayesian
// scores.
func timeDecay(ageMs int64, halfLifeDays float64) float64 {
	if ageMs <= 0 {
		return 1
	}
	return math.Exp(-math.Ln2 / halfLifeDays * (float64(ageMs) / msPerDay))
}
