// Package messenger implements the messenger loop: the middle tier of the
// thread tree that either drains its workers' ready-stack and replies
// (ping-pong mode) or produces requests onto workers' request-stacks at a
// fixed rate (rate mode).
package messenger

import (
	"time"

	"github.com/masoncl/schbench/internal/stack"
	"github.com/masoncl/schbench/internal/threadrec"
)

const (
	// batchThreshold is the per-worker pending-request cap before the
	// rate producer backs off instead of enqueueing.
	batchThreshold = 128
	usecPerSec     = 1_000_000
)

// Config is the subset of the benchmark's configuration a messenger needs.
type Config struct {
	RequestsPerSec int64 // per-messenger share of the global rate; 0 => ping-pong
	PipeBytes      int
}

// Messenger runs one messenger thread's loop.
type Messenger struct {
	Self    *threadrec.ThreadRec
	Workers []*threadrec.ThreadRec
	Global  *threadrec.GlobalState
	Cfg     Config
}

// Run dispatches to the ping-pong or rate loop depending on configuration.
func (m *Messenger) Run() {
	if m.Cfg.RequestsPerSec > 0 {
		m.runRate()
	} else {
		m.runPingPong()
	}
}

// runPingPong is xlist_wake_all's caller loop (run_msg_thread): set own
// flag Blocked, wake every currently-queued worker, and - only once
// stopping is observed - wake once more (to catch any late pushes) before
// exiting rather than parking.
func (m *Messenger) runPingPong() {
	for {
		m.Self.Wake.Reset()
		m.wakeAll()

		if m.Global.IsStopping() {
			m.wakeAll()
			break
		}
		m.Self.Wake.Wait(0)
	}
}

// wakeAll is xlist_wake_all: splice the ready-stack, stamp one "now" shared
// across the whole batch (deliberately: a slow waker shows up as inflated
// wake latency on the later workers in the batch), unless pipe mode, which
// memsets each worker's pipe_page and re-stamps per worker instead.
func (m *Messenger) wakeAll() {
	list := m.Self.Ready.Splice()
	now := time.Now()
	for node := list; node != nil; {
		next := node.Next()
		w := node.Value()
		if m.Cfg.PipeBytes > 0 {
			for i := range w.PipePage[:m.Cfg.PipeBytes] {
				w.PipePage[i] = 1
			}
			w.WakeTime = time.Now()
		} else {
			w.WakeTime = now
		}
		_ = w.Wake.Post()
		node = next
	}
}

// runRate is run_rps_thread: each iteration covers one nominal second,
// enqueueing up to the current target rate's worth of requests round-robin
// across workers with advisory backpressure, then sleeping out the
// remainder of the second. The target is re-read from Global every
// iteration (rather than fixed at Cfg.RequestsPerSec) so the auto-RPS
// controller's adjustments take effect without restarting the messenger.
func (m *Messenger) runRate() {
	cursor := 0
	for {
		start := time.Now()
		target := m.Global.RequestsPerSec.Load()

		for i := int64(1); i < target+1; i++ {
			if m.Global.IsStopping() {
				break
			}

			w := m.Workers[cursor%len(m.Workers)]
			cursor++

			if w.Pending.Load() > batchThreshold {
				// full fence via the atomic reload itself; recheck
				// before giving up on this slot.
				if w.Pending.Load() > batchThreshold {
					time.Sleep(100 * time.Microsecond)
					continue
				}
			}

			w.Pending.Add(1)
			now := time.Now()
			node := stack.NewNode(threadrec.Request{Start: now})
			w.Requests.Push(node)
			w.WakeTime = now
			_ = w.Wake.Post()
		}

		now := time.Now()
		delta := now.Sub(start).Microseconds()
		for !m.Global.IsStopping() && delta < usecPerSec {
			remaining := time.Duration(usecPerSec-delta) * time.Microsecond
			time.Sleep(remaining)
			now = time.Now()
			delta = now.Sub(start).Microseconds()
		}

		if m.Global.IsStopping() {
			for _, w := range m.Workers {
				_ = w.Wake.Post()
			}
			break
		}
	}
}
