// Package config holds the benchmark's run configuration: the cobra/pflag
// flag set, the derived defaults that depend on other flags or on runtime
// CPU count, and the validation/normalisation pass that mirrors
// parse_options's cross-flag interactions.
package config

import (
	"fmt"
	"runtime"

	"github.com/spf13/pflag"

	"github.com/masoncl/schbench/internal/cpulock"
	"github.com/masoncl/schbench/internal/topology"
)

// pipeTransferBufferMax mirrors PIPE_TRANSFER_BUFFER: the largest pipe
// payload size the worker's scratch buffer supports.
const pipeTransferBufferMax = 64 * 1024

// Config is every user-configurable knob, after flags have been parsed and
// Validate has applied the derived defaults and cross-flag interactions.
type Config struct {
	MessageThreads   int
	WorkerThreads    int // 0 until Validate fills in the num_cpus-derived default
	Runtime          int
	WarmupTime       int
	IntervalTime     int
	ZeroTime         int
	CacheFootprintKB int
	Operations       int
	SleepUsec        int
	AutoRPSTarget    int // 0 disables auto-rps
	PipeBytes        int
	RequestsPerSec   int64 // pre-division; Validate divides by MessageThreads
	CalibrateOnly    bool
	SkipLocking      bool
	JSONFile         string
	Jobname          string
	PinMode          string

	// warmupSetExplicitly tracks whether -w/--warmuptime was passed on the
	// command line, since pipe and auto-rps modes otherwise force it to
	// zero - but an explicit flag value should still win, matching
	// parse_options's found_warmuptime bookkeeping.
	warmupSetExplicitly bool
}

// BindFlags registers every flag onto fs and returns the Config flag
// destinations wire into. Call Validate after fs.Parse.
func BindFlags(fs *pflag.FlagSet) *Config {
	c := &Config{}

	fs.IntVarP(&c.MessageThreads, "message-threads", "m", 1, "number of message threads")
	fs.IntVarP(&c.WorkerThreads, "threads", "t", 0, "worker threads per message thread (def: num_cpus/message-threads)")
	fs.IntVarP(&c.Runtime, "runtime", "r", 30, "how long to run before exiting (seconds)")
	fs.IntVarP(&c.WarmupTime, "warmuptime", "w", 0, "how long to warm up before resetting stats (seconds)")
	fs.IntVarP(&c.IntervalTime, "intervaltime", "i", 10, "interval for printing latencies (seconds)")
	fs.IntVarP(&c.ZeroTime, "zerotime", "z", 0, "interval for zeroing latencies (seconds, def: never)")
	fs.IntVarP(&c.CacheFootprintKB, "cache-footprint", "F", 256, "cache footprint per request (KB)")
	fs.IntVarP(&c.Operations, "operations", "n", 5, "think-time operations to perform")
	fs.IntVarP(&c.SleepUsec, "sleep-usec", "s", 100, "think-time sleep (usec) per request")
	fs.IntVarP(&c.AutoRPSTarget, "auto-rps", "A", 0, "grow RPS until CPU utilisation hits this target percent (def: none)")
	fs.IntVarP(&c.PipeBytes, "pipe", "p", 0, "transfer size in bytes to simulate a pipe test (def: 0)")
	fs.Int64VarP(&c.RequestsPerSec, "rps", "R", 0, "requests per second, across all message threads (def: 0, ping-pong mode)")
	fs.BoolVarP(&c.CalibrateOnly, "calibrate", "C", false, "run the work loop and report on timing only")
	fs.BoolVarP(&c.SkipLocking, "no-locking", "L", false, "don't spinlock during CPU work (def: locking on)")
	fs.StringVarP(&c.JSONFile, "json", "j", "", "write a JSON report to this path (\"-\" for stdout)")
	fs.StringVarP(&c.Jobname, "jobname", "J", "", "optional jobname recorded in the JSON report")
	fs.StringVarP(&c.PinMode, "pin", "P", "", "thread pinning: none, auto, or ccx")

	return c
}

// NoteWarmupFlagSeen must be called after fs.Parse if the warmuptime flag
// was explicitly set, so Validate knows whether to let an explicit value
// survive the pipe/auto-rps override.
func (c *Config) NoteWarmupFlagSeen() {
	c.warmupSetExplicitly = true
}

// Validate applies parse_options's cross-flag derivations and defaults, and
// rejects invalid combinations. Must be called exactly once, after flags
// are parsed.
func (c *Config) Validate() error {
	if c.MessageThreads <= 0 {
		return fmt.Errorf("config: message-threads must be positive, got %d", c.MessageThreads)
	}

	if c.PipeBytes > pipeTransferBufferMax {
		c.PipeBytes = pipeTransferBufferMax
	}

	// pipe and auto-rps both default warmup to zero unless the user asked
	// for one explicitly, since neither mode's steady-state is well
	// defined until its own ramp finishes.
	if (c.PipeBytes > 0 || c.AutoRPSTarget > 0) && !c.warmupSetExplicitly {
		c.WarmupTime = 0
	}

	if c.AutoRPSTarget > 0 && c.RequestsPerSec == 0 {
		c.RequestsPerSec = 10
	}

	if c.WorkerThreads == 0 {
		numCPU := runtime.NumCPU()
		c.WorkerThreads = (numCPU + c.MessageThreads - 1) / c.MessageThreads
	}

	if c.CalibrateOnly {
		c.SkipLocking = true
	}

	if c.Runtime < 30 {
		c.WarmupTime = 0
	}

	c.RequestsPerSec /= int64(c.MessageThreads)

	if _, err := topology.ParsePinMode(c.PinMode); err != nil {
		return err
	}

	return nil
}

// MatrixSize derives the think-time matrix's per-side dimension from the
// configured cache footprint.
func (c *Config) MatrixSize() int {
	return cpulock.MatrixSize(c.CacheFootprintKB * 1024)
}

// PipeMode reports whether pipe-transfer simulation is active.
func (c *Config) PipeMode() bool {
	return c.PipeBytes > 0
}

// RateMode reports whether fixed-rate request generation is active
// (as opposed to ping-pong mode).
func (c *Config) RateMode() bool {
	return c.RequestsPerSec > 0
}
