// Package threadrec holds the per-thread record shared between a worker (or
// messenger) and the rest of the benchmark, plus the process-wide
// GlobalState every thread reads.
package threadrec

import (
	"sync/atomic"
	"time"

	"github.com/masoncl/schbench/internal/histogram"
	"github.com/masoncl/schbench/internal/stack"
	"github.com/masoncl/schbench/internal/wake"
)

// Request is one unit of rate-mode work: its creation timestamp. The link
// that puts it on a worker's request-stack is the stack.Node wrapping it.
type Request struct {
	Start time.Time
}

// ThreadRec is the per-worker (and, for its own bookkeeping fields, per
// -messenger) record. The coordinator owns the flat slab these live in;
// workers and messengers hold borrowed references to their own slot plus a
// back-reference to their owning messenger.
type ThreadRec struct {
	// Index is this thread's position in the coordinator's flat slab.
	Index int
	// MessengerIndex is the owning messenger's index, used by workers to
	// reach their messenger's ready-stack and wake flag. Unused (-1) on
	// messenger records themselves.
	MessengerIndex int

	// Wake is this thread's own two-state wake flag. In ping-pong mode a
	// worker parks on its own Wake after pushing itself onto the
	// messenger's ready-stack; a messenger parks on its own Wake between
	// batches.
	Wake *wake.Flag

	// WakeTime is stamped by whoever posts Wake, read back by the waiter
	// once it returns from Wait to compute wakeup latency. It is a plain
	// field, not atomic: by the time the waiter observes its own post,
	// Wake's CAS has already established the happens-before edge, so no
	// additional synchronisation is needed to read WakeTime after Wait
	// returns.
	WakeTime time.Time

	// Pending is the advisory request count the rate-mode producer uses
	// for backpressure: producer-incremented, consumer-read-and-reset.
	// Readers may observe stale values; that is by design (spec.md
	// "Observation vs guarantee on pending").
	Pending atomic.Int64

	// Ready is the messenger's incoming ready-stack (ping-pong mode).
	// Only meaningful on messenger records.
	Ready stack.Head[*ThreadRec]

	// Requests is this worker's incoming request-stack (rate mode). Only
	// meaningful on worker records.
	Requests stack.Head[Request]

	// WakeupStats records time-to-wake latency (messenger post -> worker
	// Wait return), in microseconds. Populated whenever the worker parks
	// and is woken: every round-trip in ping-pong mode, and in rate mode
	// each time the request-stack was empty.
	WakeupStats histogram.Stats
	// RequestStats records end-to-end per-request service latency, in
	// microseconds.
	RequestStats histogram.Stats

	// LoopCount is the monotonically increasing count of completed
	// round-trips (ping-pong) or serviced requests (rate mode). Read
	// racily by the coordinator for RPS computation.
	LoopCount atomic.Uint64
	// Runtime is the wall-clock time from the worker's start to its most
	// recently completed request (and, once it exits, to its exit), in
	// microseconds.
	Runtime atomic.Uint64

	// SchedDelayNs is the most recently sampled runqueue_ns/pcount value
	// from this thread's /proc/<tid>/schedstat, refreshed by the
	// coordinator at each interval boundary.
	SchedDelayNs atomic.Uint64

	// PipePage is the scratch buffer pipe mode memsets on wake, standing
	// in for a bulk data-transfer payload.
	PipePage []byte

	// TID is the OS thread id, used to read this thread's schedstat file.
	// Populated once the thread starts running.
	TID atomic.Int32

	// CPU is the CPU this thread is pinned to, or -1 if unpinned.
	CPU int
}

// NewThreadRec allocates a ThreadRec with its wake flag initialised. index
// and messengerIndex are the slab position and owning-messenger back
// -reference described above.
func NewThreadRec(index, messengerIndex, cpu int) (*ThreadRec, error) {
	f, err := wake.New()
	if err != nil {
		return nil, err
	}
	t := &ThreadRec{
		Index:          index,
		MessengerIndex: messengerIndex,
		Wake:           f,
		CPU:            cpu,
	}
	t.TID.Store(-1)
	return t, nil
}

// ResetStats zeroes the per-thread latency histograms, used by the
// coordinator's warmup and periodic zeroing. LoopCount and Runtime are
// deliberately left alone: both accumulate for the whole run (warmup
// included), since the final average-RPS figure divides total loop count
// by total elapsed runtime, not by time-since-last-reset. Callers must
// ensure the owning thread is not concurrently writing (the coordinator
// only calls this at second-boundary ticks, between the owning thread's
// own loop iterations in practice, matching the C source's racy-but
// -rare-enough convention).
func (t *ThreadRec) ResetStats() {
	t.WakeupStats.Reset()
	t.RequestStats.Reset()
}

// GlobalState is the process-wide state initialised before any thread is
// spawned and torn down after all threads join.
type GlobalState struct {
	// Stopping is the write-once, monotone shutdown flag. Written exactly
	// once via StopAll; read via IsStopping from every thread's loop
	// head and wake-return path.
	stopping atomic.Bool

	// RPSStats accumulates observed requests-per-second samples across
	// all messengers, shared and therefore bucket-additive only.
	RPSStats histogram.Stats

	// RequestsPerSec is the current per-messenger target rate (the
	// configured global rate divided by the messenger count); 0 means
	// ping-pong mode. May be adjusted at runtime by the auto-RPS
	// controller, hence atomic.
	RequestsPerSec atomic.Int64

	// AutoRPSTargetHit is the sticky flag the auto-RPS controller sets
	// once the damped ratio first falls inside the near-target band.
	AutoRPSTargetHit atomic.Bool
}

// StopAll sets the shutdown flag. Safe to call more than once; only the
// first call has effect, matching "stopping becomes 1 at most once".
func (g *GlobalState) StopAll() {
	g.stopping.Store(true)
}

// IsStopping reports whether shutdown has been signalled.
func (g *GlobalState) IsStopping() bool {
	return g.stopping.Load()
}
