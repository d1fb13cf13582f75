// Package coordinator runs the benchmark's top-level tick loop: once per
// second it checks for runtime expiry, rolls over warmup, prints interval
// reports, applies periodic zeroing, and drives the auto-RPS controller. It
// also owns the shutdown fence and final cross-thread aggregation.
package coordinator

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/masoncl/schbench/internal/autorps"
	"github.com/masoncl/schbench/internal/histogram"
	"github.com/masoncl/schbench/internal/procfs"
	"github.com/masoncl/schbench/internal/report"
	"github.com/masoncl/schbench/internal/threadrec"
)

// Config is the subset of the run configuration the tick loop needs.
type Config struct {
	RuntimeSec   int
	WarmupSec    int
	IntervalSec  int
	ZeroSec      int
	PipeMode     bool
	AutoRPS      bool
	AutoRPSTarget int
}

// Coordinator owns the flat slab of messenger/worker records and drives
// their shared lifecycle.
type Coordinator struct {
	Global     *threadrec.GlobalState
	Messengers []*threadrec.ThreadRec
	Workers    [][]*threadrec.ThreadRec // Workers[i] belongs to Messengers[i]
	Cfg        Config
	Log        zerolog.Logger
}

// allWorkers ranges over every worker record across every messenger, in
// the same (messenger, worker) nesting order the original aggregation
// functions walk.
func (c *Coordinator) allWorkers(fn func(w *threadrec.ThreadRec)) {
	for _, ws := range c.Workers {
		for _, w := range ws {
			fn(w)
		}
	}
}

func (c *Coordinator) combineLoopCount() uint64 {
	var total uint64
	c.allWorkers(func(w *threadrec.ThreadRec) { total += w.LoopCount.Load() })
	return total
}

// CombineStats aggregates wakeup latency, request latency, total loop
// count and total accumulated runtime across every worker.
func (c *Coordinator) CombineStats() (wakeup, request histogram.Stats, loopCount, loopRuntime uint64) {
	c.allWorkers(func(w *threadrec.ThreadRec) {
		histogram.Combine(&wakeup, &w.WakeupStats)
		histogram.Combine(&request, &w.RequestStats)
		loopCount += w.LoopCount.Load()
		loopRuntime += w.Runtime.Load()
	})
	return
}

// CollectSchedDelay refreshes and averages message-thread and worker-thread
// scheduling delay from /proc/<tid>/schedstat.
func (c *Coordinator) CollectSchedDelay() (messageDelayNs, workerDelayNs uint64) {
	var workerTotal uint64
	var workerCount int
	for _, m := range c.Messengers {
		tid := int(m.TID.Load())
		if tid > 0 {
			d, err := procfs.ReadSchedstat(tid)
			if err == nil {
				messageDelayNs += d.AverageDelayNs()
				m.SchedDelayNs.Store(d.AverageDelayNs())
			}
		}
	}
	c.allWorkers(func(w *threadrec.ThreadRec) {
		workerCount++
		tid := int(w.TID.Load())
		if tid <= 0 {
			return
		}
		d, err := procfs.ReadSchedstat(tid)
		if err != nil {
			return
		}
		workerTotal += d.AverageDelayNs()
		w.SchedDelayNs.Store(d.AverageDelayNs())
	})
	if len(c.Messengers) > 0 {
		messageDelayNs /= uint64(len(c.Messengers))
	}
	if workerCount > 0 {
		workerDelayNs /= uint64(workerCount)
	}
	return messageDelayNs, workerTotal / uint64(max(1, workerCount))
}

// resetThreadStats zeroes every worker's wakeup/request histograms plus the
// shared RPS histogram, leaving loop counts and accumulated runtime
// untouched (see threadrec.ThreadRec.ResetStats).
func (c *Coordinator) resetThreadStats() {
	c.Global.RPSStats.Reset()
	c.allWorkers(func(w *threadrec.ThreadRec) { w.ResetStats() })
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Run is sleep_for_runtime: the one-second tick loop. It blocks until
// RuntimeSec has elapsed (RuntimeSec == 0 means run forever, until an
// external StopAll).
func (c *Coordinator) Run() {
	runtimeUsec := int64(c.Cfg.RuntimeSec) * 1_000_000
	warmupUsec := int64(c.Cfg.WarmupSec) * 1_000_000
	intervalUsec := int64(c.Cfg.IntervalSec) * 1_000_000
	zeroUsec := int64(c.Cfg.ZeroSec) * 1_000_000

	start := time.Now()
	lastCalc := start
	lastRPSCalc := start
	zeroTime := start
	var lastLoopCount uint64
	warmupDone := false

	var rps autorps.Controller
	if c.Cfg.AutoRPS {
		rps = *autorps.New(float64(c.Cfg.AutoRPSTarget))
	}

	for {
		now := time.Now()
		runtimeDelta := now.Sub(start).Microseconds()

		done := (runtimeUsec > 0 && runtimeDelta >= runtimeUsec) || c.Global.IsStopping()

		requestsPerSec := c.Global.RequestsPerSec.Load()
		pingPongMode := requestsPerSec == 0

		if pingPongMode && !c.Cfg.PipeMode && runtimeDelta > warmupUsec && !warmupDone && c.Cfg.WarmupSec > 0 {
			warmupDone = true
			c.Log.Info().Msg("warmup done, zeroing stats")
			zeroTime = now
			c.resetThreadStats()
		} else if !c.Cfg.PipeMode {
			delta := now.Sub(lastRPSCalc).Microseconds()
			loopCount := c.combineLoopCount()
			var rpsVal float64
			if delta > 0 {
				rpsVal = float64(int64(loopCount-lastLoopCount)*1_000_000) / float64(delta)
			}
			lastLoopCount = loopCount
			lastRPSCalc = now

			targetHit := c.Global.AutoRPSTargetHit.Load()
			if !c.Cfg.AutoRPS || targetHit {
				c.Global.RPSStats.AddLat(uint64(rpsVal))
			}

			if now.Sub(lastCalc).Microseconds() >= intervalUsec {
				wakeup, request, _, _ := c.CombineStats()
				messageDelay, workerDelay := c.CollectSchedDelay()
				lastCalc = now

				runtimeSec := uint64(runtimeDelta / 1_000_000)
				report.WriteLatencies(logWriter{c.Log}, "Wakeup Latencies", "usec", runtimeSec, &wakeup, report.ForLat, report.List99)
				report.WriteLatencies(logWriter{c.Log}, "Request Latencies", "usec", runtimeSec, &request, report.ForLat, report.List99)
				report.WriteLatencies(logWriter{c.Log}, "RPS", "requests", runtimeSec, &c.Global.RPSStats, report.ForRPS, report.List50)
				c.Log.Info().
					Uint64("message_delay_usec", messageDelay/1000).
					Uint64("worker_delay_usec", workerDelay/1000).
					Msg("sched delay")
				c.Log.Info().Float64("rps", rpsVal).Msg("current rps")
			}
		}

		if zeroUsec > 0 && now.Sub(zeroTime).Microseconds() > zeroUsec {
			zeroTime = now
			c.resetThreadStats()
		}

		if c.Cfg.AutoRPS {
			newRate, targetHit := rps.Step(requestsPerSec, &c.Global.RPSStats, c.Global.AutoRPSTargetHit.Load())
			c.Global.RequestsPerSec.Store(newRate)
			c.Global.AutoRPSTargetHit.Store(targetHit)
		}

		if done {
			break
		}
		time.Sleep(time.Second)
	}
}

// logWriter adapts zerolog to io.Writer so report.WriteLatencies can emit
// its multi-line tables as a sequence of log events instead of raw stderr
// writes.
type logWriter struct{ log zerolog.Logger }

func (w logWriter) Write(p []byte) (int, error) {
	w.log.Info().Msg(string(p))
	return len(p), nil
}

// Shutdown signals every thread to stop, wakes every messenger so it
// observes the flag promptly, and waits for the caller-supplied join
// function (which should join every messenger and worker goroutine) to
// return.
func (c *Coordinator) Shutdown(join func()) {
	c.Global.StopAll()
	for _, m := range c.Messengers {
		_ = m.Wake.Post()
	}
	join()
}
