package histogram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValToIdxRoundTripsDenseTail(t *testing.T) {
	// values up to PLAT_VAL*2-1 map directly to their own index.
	for v := uint64(0); v < 2*PlatVal; v++ {
		idx := valToIdx(v)
		require.Equal(t, int(v), idx, "value %d", v)
		require.Equal(t, v, idxToVal(idx), "value %d", v)
	}
}

func TestValToIdxMonotonic(t *testing.T) {
	prev := valToIdx(0)
	for v := uint64(1); v < 1<<20; v += 37 {
		idx := valToIdx(v)
		assert.GreaterOrEqual(t, idx, prev, "valToIdx must be non-decreasing, value %d", v)
		prev = idx
	}
}

func TestValToIdxClampsAtTop(t *testing.T) {
	idx := valToIdx(1 << 31)
	assert.Equal(t, PlatNr-1, idx)
}

func TestAddLatAndPercentiles(t *testing.T) {
	var s Stats
	const samples = 1_000_000
	values := []uint64{1, 10, 100, 1000, 10000}
	for i := 0; i < samples; i++ {
		s.AddLat(values[i%len(values)])
	}

	require.Equal(t, uint64(samples), s.NrSamples)
	assert.Equal(t, uint64(1), s.Min)
	assert.Equal(t, uint64(10000), s.Max)

	rows := s.Percentiles([]float64{50})
	require.Len(t, rows, 1)
	// five equally likely values 1,10,100,1000,10000: the 50th percentile
	// should land at or adjacent to the 100 bucket, within one bucket
	// width at that magnitude.
	assert.InDelta(t, 100, int(rows[0].Value), 16)
}

func TestPercentilesEmptyStats(t *testing.T) {
	var s Stats
	assert.Nil(t, s.Percentiles([]float64{50, 99}))
	assert.Nil(t, s.Percentiles(nil))
}

func TestPercentilesOrderMatchesTargets(t *testing.T) {
	var s Stats
	for v := uint64(1); v <= 1000; v++ {
		s.AddLat(v)
	}
	targets := []float64{99, 20, 50}
	rows := s.Percentiles(targets)
	require.Len(t, rows, 3)
	for i, target := range targets {
		assert.Equal(t, target, rows[i].Target)
	}
	// percentile value should be monotonically increasing with target.
	assert.Less(t, rows[1].Value, rows[2].Value) // 20th < 50th
	assert.Less(t, rows[2].Value, rows[0].Value) // 50th < 99th
}

func TestCombine(t *testing.T) {
	var a, b Stats
	for v := uint64(1); v <= 100; v++ {
		a.AddLat(v)
	}
	for v := uint64(50); v <= 150; v++ {
		b.AddLat(v)
	}

	var dest Stats
	Combine(&dest, &a)
	Combine(&dest, &b)

	assert.Equal(t, a.NrSamples+b.NrSamples, dest.NrSamples)
	assert.Equal(t, uint64(150), dest.Max)
	assert.Equal(t, uint64(1), dest.Min)
}

func TestResetZeroesEverything(t *testing.T) {
	var s Stats
	s.AddLat(5)
	s.AddLat(500)
	require.NotZero(t, s.NrSamples)

	s.Reset()
	assert.Zero(t, s.NrSamples)
	assert.Zero(t, s.Max)
	assert.Zero(t, s.Min)
	for _, bucket := range s.Plat {
		assert.Zero(t, bucket)
	}
}
