package services

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/floats/scalar"

	"github.com/riptidehq/riptide/pkg/models"
)

const scoreEpsilon = 1e-9

func TestDecayedScore(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).UnixMilli()

	t.Run("halves after one half-life", func(t *testing.T) {
		halfLifeAgo := now - int64(0.5*msPerDay)
		got := decayedScore(8.0, halfLifeAgo, now, 0.5)
		assert.True(t, scalar.EqualWithinAbs(got, 4.0, scoreEpsilon))
	})

	t.Run("quarters after two half-lives", func(t *testing.T) {
		dayAgo := now - int64(msPerDay)
		got := decayedScore(8.0, dayAgo, now, 0.5)
		assert.True(t, scalar.EqualWithinAbs(got, 2.0, scoreEpsilon))
	})

	t.Run("zero score stays zero", func(t *testing.T) {
		assert.Zero(t, decayedScore(0, 0, now, 0.5))
	})

	t.Run("future timestamp does not inflate", func(t *testing.T) {
		assert.Equal(t, 3.0, decayedScore(3.0, now+60_000, now, 0.5))
	})
}

func TestEMAUpdate(t *testing.T) {
	now := time.Now().UnixMilli()

	t.Run("uninitialized node bypasses decay", func(t *testing.T) {
		// Stale zero-value timestamp must not drag the result down.
		got := emaUpdate(0, 0, 2.0, 0.7, now, 0.5)
		assert.True(t, scalar.EqualWithinAbs(got, 1.4, scoreEpsilon))
	})

	t.Run("fresh node blends without decay", func(t *testing.T) {
		got := emaUpdate(1.0, now, 2.0, 0.7, now, 0.5)
		assert.True(t, scalar.EqualWithinAbs(got, 0.7*2.0+0.3*1.0, scoreEpsilon))
	})

	t.Run("stale node decays before blending", func(t *testing.T) {
		halfLifeAgo := now - int64(0.5*msPerDay)
		got := emaUpdate(4.0, halfLifeAgo, 1.0, 0.25, now, 0.5)
		// decayed old score is 2.0
		assert.True(t, scalar.EqualWithinAbs(got, 0.25*1.0+0.75*2.0, scoreEpsilon))
	})
}

func TestChoosePriorCount(t *testing.T) {
	t.Run("floors at 20", func(t *testing.T) {
		assert.Equal(t, 20.0, choosePriorCount(0))
		assert.Equal(t, 20.0, choosePriorCount(-5))
		assert.Equal(t, 20.0, choosePriorCount(1))
	})

	t.Run("ceils at 500", func(t *testing.T) {
		assert.Equal(t, 500.0, choosePriorCount(math.MaxInt32))
	})

	t.Run("monotonic non-decreasing", func(t *testing.T) {
		prev := 0.0
		for _, n := range []int64{0, 1, 10, 100, 1_000, 10_000, 100_000, 1_000_000, 10_000_000} {
			got := choosePriorCount(n)
			assert.GreaterOrEqual(t, got, prev, "n=%d", n)
			assert.GreaterOrEqual(t, got, 20.0)
			assert.LessOrEqual(t, got, 500.0)
			prev = got
		}
	})

	t.Run("matches formula in interior", func(t *testing.T) {
		// floor(20*log10(1001)) = 60
		assert.Equal(t, 60.0, choosePriorCount(1000))
	})
}

func TestEMABlend(t *testing.T) {
	t.Run("equal inputs are a fixed point", func(t *testing.T) {
		for _, alpha := range []float64{0, 0.25, 0.5, 1} {
			assert.True(t, scalar.EqualWithinAbs(emaBlend(alpha, 0.5, 0.5), 0.5, scoreEpsilon))
		}
	})

	t.Run("alpha weights the session side", func(t *testing.T) {
		got := emaBlend(0.25, 1.0, 2.0)
		assert.True(t, scalar.EqualWithinAbs(got, 1.25, scoreEpsilon))
	})
}

func TestSmoothedScore(t *testing.T) {
	t.Run("cold start yields zero", func(t *testing.T) {
		assert.Zero(t, smoothedScore(models.EntityStats{}, models.EntityStats{}))
	})

	t.Run("first engagement pulls toward global average", func(t *testing.T) {
		global := models.EntityStats{ImpressionCount: 1, TotalEngagement: 1.5}
		user := models.EntityStats{ImpressionCount: 1, TotalEngagement: 1.5}
		// prior=20, globalAvg=1.5: (1.5*20 + 1.5) / (20 + 1) = 1.5
		got := smoothedScore(global, user)
		assert.True(t, scalar.EqualWithinAbs(got, 1.5, scoreEpsilon))
	})

	t.Run("heavy user history dominates the prior", func(t *testing.T) {
		global := models.EntityStats{ImpressionCount: 1000, TotalEngagement: 1000}
		user := models.EntityStats{ImpressionCount: 500, TotalEngagement: 2500}
		got := smoothedScore(global, user)
		assert.InDelta(t, 5.0, got, 0.5)
		assert.Greater(t, got, global.AvgEngagement())
	})
}

func TestDecayedPriorCount(t *testing.T) {
	t.Run("halves per prior half-life", func(t *testing.T) {
		got := decayedPriorCount(100, (2 * time.Hour).Milliseconds(), 2*time.Hour, 1)
		assert.True(t, scalar.EqualWithinAbs(got, 50, 1e-6))
	})

	t.Run("floored at min count", func(t *testing.T) {
		got := decayedPriorCount(100, (48 * time.Hour).Milliseconds(), 2*time.Hour, 1)
		assert.Equal(t, 1.0, got)
	})
}

func TestTimeDecay(t *testing.T) {
	t.Run("fresh is one", func(t *testing.T) {
		assert.Equal(t, 1.0, timeDecay(0, 0.5))
	})

	t.Run("half after half-life", func(t *testing.T) {
		got := timeDecay(int64(0.5*msPerDay), 0.5)
		assert.True(t, scalar.EqualWithinAbs(got, 0.5, scoreEpsilon))
	})
}
