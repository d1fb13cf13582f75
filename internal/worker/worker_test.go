package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masoncl/schbench/internal/stack"
	"github.com/masoncl/schbench/internal/threadrec"
)

func newTestWorker(t *testing.T, rateMode bool) (*Worker, *threadrec.ThreadRec) {
	t.Helper()
	self, err := threadrec.NewThreadRec(0, 0, -1)
	require.NoError(t, err)
	t.Cleanup(func() { self.Wake.Close() })

	messenger, err := threadrec.NewThreadRec(0, -1, -1)
	require.NoError(t, err)
	t.Cleanup(func() { messenger.Wake.Close() })

	var global threadrec.GlobalState
	w := &Worker{
		Self:      self,
		Messenger: messenger,
		Global:    &global,
		Cfg:       Config{RequestsPerSec: rateMode},
	}
	return w, messenger
}

func TestMsgAndWaitRateModeReturnsQueuedRequestWithoutWaking(t *testing.T) {
	w, _ := newTestWorker(t, true)
	w.Self.Requests.Push(stack.NewNode(threadrec.Request{Start: time.Now()}))

	head, gotReq := w.msgAndWait()
	require.True(t, gotReq)
	require.NotNil(t, head)
	assert.Zero(t, w.Self.WakeupStats.NrSamples)
}

func TestMsgAndWaitPingPongPushesOntoMessengerReadyAndWaits(t *testing.T) {
	w, messenger := newTestWorker(t, false)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, gotReq := w.msgAndWait()
		assert.True(t, gotReq)
	}()

	require.Eventually(t, func() bool {
		return messenger.Ready.Splice() != nil
	}, time.Second, time.Millisecond)

	require.NoError(t, w.Self.Wake.Post())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("msgAndWait did not return after wake post")
	}

	assert.Equal(t, uint64(1), w.Self.WakeupStats.NrSamples)
}

func TestLockArgRespectsSkipLockingAndCalibrate(t *testing.T) {
	w, _ := newTestWorker(t, false)
	w.Locks = nil

	w.Cfg.SkipLocking = true
	assert.Nil(t, w.lockArg())

	w.Cfg.SkipLocking = false
	w.Cfg.CalibrateOnly = true
	assert.Nil(t, w.lockArg())
}
