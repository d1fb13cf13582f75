// Package worker implements the worker loop: the leaf of the thread tree
// that performs one unit of think-time (or pipe-copy) work per message and
// reports wakeup/request latency.
package worker

import (
	"time"

	"github.com/masoncl/schbench/internal/cpulock"
	"github.com/masoncl/schbench/internal/stack"
	"github.com/masoncl/schbench/internal/threadrec"
)

// Config is the subset of the benchmark's configuration a worker needs.
type Config struct {
	RequestsPerSec bool // true => rate mode, false => ping-pong
	PipeBytes      int  // 0 => not pipe mode
	CalibrateOnly  bool
	SleepUsec      int
	Operations     int
	SkipLocking    bool
}

// Worker runs one worker thread's loop.
type Worker struct {
	Self      *threadrec.ThreadRec
	Messenger *threadrec.ThreadRec
	Global    *threadrec.GlobalState
	Cfg       Config
	Locks     *cpulock.Locks
	Matrix    *cpulock.Matrix
}

// Run executes the worker loop until GlobalState.IsStopping(). start is the
// thread's spawn time, used for the accumulated Runtime field.
func (w *Worker) Run(start time.Time) {
	for {
		if w.Global.IsStopping() {
			break
		}

		req, gotReq := w.msgAndWait()
		if w.Cfg.RequestsPerSec && !gotReq {
			// woken with no request list (a producer post, or a
			// spurious wake during shutdown): splice again
			continue
		}

		for {
			var workStart time.Time

			switch {
			case w.Cfg.PipeBytes > 0:
				// the bulk copy already happened in the
				// messenger's wake path; here we only stamp.
				workStart = time.Now()

			case w.Cfg.CalibrateOnly:
				if w.Cfg.SleepUsec > 0 {
					time.Sleep(time.Duration(w.Cfg.SleepUsec) * time.Microsecond)
				}
				workStart = time.Now()
				cpulock.DoWork(w.lockArg(), w.Matrix, w.Cfg.Operations)

			default:
				workStart = time.Now()
				if w.Cfg.SleepUsec > 0 {
					time.Sleep(time.Duration(w.Cfg.SleepUsec) * time.Microsecond)
				}
				cpulock.DoWork(w.lockArg(), w.Matrix, w.Cfg.Operations)
			}

			now := time.Now()
			w.Self.Runtime.Store(uint64(now.Sub(start).Microseconds()))
			w.Self.LoopCount.Add(1)

			if delta := now.Sub(workStart).Microseconds(); delta > 0 {
				w.Self.RequestStats.AddLat(uint64(delta))
			}

			var next *stack.Node[threadrec.Request]
			if req != nil {
				next = req.Next()
			}
			if next == nil {
				break
			}
			req = next
		}
	}

	now := time.Now()
	w.Self.Runtime.Store(uint64(now.Sub(start).Microseconds()))
}

func (w *Worker) lockArg() *cpulock.Locks {
	if w.Cfg.SkipLocking || w.Cfg.CalibrateOnly {
		return nil
	}
	return w.Locks
}

// msgAndWait is the worker's half of the wake protocol: block the wake
// flag, record the wake-time, and either splice its own request-stack
// (rate mode) or push itself onto its messenger's ready-stack and wait
// (ping-pong mode). Returns the spliced request list head (rate mode) and
// whether a request was obtained; ping-pong mode always returns
// (nil, true) once woken.
func (w *Worker) msgAndWait() (*stack.Node[threadrec.Request], bool) {
	if w.Cfg.PipeBytes > 0 {
		for i := range w.Self.PipePage[:w.Cfg.PipeBytes] {
			w.Self.PipePage[i] = 2
		}
	}

	w.Self.Wake.Reset()
	w.Self.WakeTime = time.Now()

	if w.Cfg.RequestsPerSec {
		w.Self.Pending.Store(0)
		head := stack.SpliceFIFO(&w.Self.Requests)
		if head != nil {
			// request already queued: skip the round-trip through
			// the messenger entirely, and skip wakeup-latency
			// accounting - there was no wake to measure.
			return head, true
		}
	} else {
		node := stack.NewNode[*threadrec.ThreadRec](w.Self)
		w.Messenger.Ready.Push(node)
	}

	_ = w.Messenger.Wake.Post()

	if !w.Global.IsStopping() {
		w.Self.Wake.Wait(0)
	}

	now := time.Now()
	if delta := now.Sub(w.Self.WakeTime).Microseconds(); delta > 0 {
		w.Self.WakeupStats.AddLat(uint64(delta))
	}

	// rate mode: the wake carried no request list; Run loops back and
	// splices again.
	return nil, !w.Cfg.RequestsPerSec
}
