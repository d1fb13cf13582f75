package autorps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masoncl/schbench/internal/histogram"
	"github.com/masoncl/schbench/internal/procfs"
)

func fixedStat(total, idle uint64) func() (procfs.CPUTimes, error) {
	return func() (procfs.CPUTimes, error) {
		return procfs.CPUTimes{Total: total, Idle: idle}, nil
	}
}

func TestFirstStepOnlyPrimesAndDoesNotChangeRate(t *testing.T) {
	c := New(80)
	c.readStat = fixedStat(1000, 900)
	var stats histogram.Stats
	rate, hit := c.Step(100, &stats, false)
	assert.Equal(t, int64(100), rate)
	assert.False(t, hit)
	assert.True(t, c.haveSamp)
}

func TestUnderTargetGrowsRate(t *testing.T) {
	c := New(80)
	c.readStat = fixedStat(1000, 900) // 10% busy, primes
	var stats histogram.Stats
	c.Step(100, &stats, false)

	// second sample: total advances by 1000, idle by 900 => 90% idle time
	// this round => 10% busy, far under the 80% target => grow zone,
	// delta = 80/10 = 8 > 3, clamps to 3.
	c.readStat = fixedStat(2000, 1800)
	rate, hit := c.Step(100, &stats, false)
	assert.Equal(t, int64(300), rate) // ceil(100 * 3)
	assert.False(t, hit)
}

func TestOverTargetShrinksRate(t *testing.T) {
	c := New(50)
	c.readStat = fixedStat(1000, 0) // primes at 100% busy
	var stats histogram.Stats
	c.Step(1000, &stats, false)

	// second sample: 100% busy again, far over the 50% target => shrink
	// zone, delta = 50/100 = 0.5, in the [0.3,0.8] zone: applied undamped.
	c.readStat = fixedStat(2000, 0)
	rate, hit := c.Step(1000, &stats, false)
	wantDelta := 0.5
	wantRate := int64(float64(1000) * wantDelta)
	assert.Equal(t, wantRate, rate)
	assert.False(t, hit)
}

func TestAtTargetSetsTargetHitAndResetsRPSStats(t *testing.T) {
	c := New(50)
	c.readStat = fixedStat(1000, 500) // primes at 50% busy
	var stats histogram.Stats
	stats.AddLat(123)
	c.Step(1000, &stats, false)

	c.readStat = fixedStat(2000, 1000) // exactly 50% busy again
	rate, hit := c.Step(1000, &stats, false)
	assert.Equal(t, int64(1000), rate)
	assert.True(t, hit)
	assert.Zero(t, stats.NrSamples) // reset once the target band is hit
}

func TestReadErrorLeavesRateUnchanged(t *testing.T) {
	c := New(80)
	c.readStat = func() (procfs.CPUTimes, error) {
		return procfs.CPUTimes{}, assert.AnError
	}
	var stats histogram.Stats
	rate, hit := c.Step(42, &stats, true)
	assert.Equal(t, int64(42), rate)
	assert.True(t, hit)
}

func TestNewControllerStartsUnprimed(t *testing.T) {
	c := New(50)
	require.NotNil(t, c)
	assert.False(t, c.haveSamp)
}
