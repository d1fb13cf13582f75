package coordinator

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masoncl/schbench/internal/threadrec"
)

func newRec(t *testing.T) *threadrec.ThreadRec {
	t.Helper()
	r, err := threadrec.NewThreadRec(0, 0, -1)
	require.NoError(t, err)
	t.Cleanup(func() { r.Wake.Close() })
	return r
}

func TestCombineStatsSumsAcrossAllWorkers(t *testing.T) {
	var global threadrec.GlobalState
	w1, w2 := newRec(t), newRec(t)
	w1.WakeupStats.AddLat(10)
	w2.WakeupStats.AddLat(20)
	w1.LoopCount.Store(3)
	w2.LoopCount.Store(4)
	w1.Runtime.Store(100)
	w2.Runtime.Store(200)

	c := &Coordinator{Global: &global, Workers: [][]*threadrec.ThreadRec{{w1, w2}}}
	wakeup, _, loopCount, loopRuntime := c.CombineStats()

	assert.Equal(t, uint64(2), wakeup.NrSamples)
	assert.Equal(t, uint64(7), loopCount)
	assert.Equal(t, uint64(300), loopRuntime)
}

func TestCombineLoopCount(t *testing.T) {
	w1, w2 := newRec(t), newRec(t)
	w1.LoopCount.Store(5)
	w2.LoopCount.Store(9)
	c := &Coordinator{Workers: [][]*threadrec.ThreadRec{{w1}, {w2}}}
	assert.Equal(t, uint64(14), c.combineLoopCount())
}

func TestResetThreadStatsClearsHistogramsNotLoopCount(t *testing.T) {
	var global threadrec.GlobalState
	global.RPSStats.AddLat(1)
	w1 := newRec(t)
	w1.WakeupStats.AddLat(5)
	w1.LoopCount.Store(42)

	c := &Coordinator{Global: &global, Workers: [][]*threadrec.ThreadRec{{w1}}}
	c.resetThreadStats()

	assert.Zero(t, global.RPSStats.NrSamples)
	assert.Zero(t, w1.WakeupStats.NrSamples)
	assert.Equal(t, uint64(42), w1.LoopCount.Load())
}

func TestCollectSchedDelaySkipsUnstartedThreads(t *testing.T) {
	var global threadrec.GlobalState
	m := newRec(t) // TID defaults to -1, never started
	w := newRec(t)
	c := &Coordinator{Global: &global, Messengers: []*threadrec.ThreadRec{m}, Workers: [][]*threadrec.ThreadRec{{w}}}

	messageDelay, workerDelay := c.CollectSchedDelay()
	assert.Zero(t, messageDelay)
	assert.Zero(t, workerDelay)
}

func TestShutdownStopsAndWakesMessengersThenJoins(t *testing.T) {
	var global threadrec.GlobalState
	m := newRec(t)
	c := &Coordinator{Global: &global, Messengers: []*threadrec.ThreadRec{m}}

	joined := false
	c.Shutdown(func() { joined = true })

	assert.True(t, global.IsStopping())
	assert.True(t, joined)
}

func TestRunStopsAfterConfiguredRuntime(t *testing.T) {
	var global threadrec.GlobalState
	c := &Coordinator{
		Global: &global,
		Cfg:    Config{RuntimeSec: 1, PipeMode: true},
		Log:    zerolog.Nop(),
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run()
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return once RuntimeSec elapsed")
	}
}
