// Command schbench runs the scheduler wakeup-latency benchmark: a tree of
// message threads and worker threads that ping-pong wakeups (or, in rate
// mode, a fixed request rate) while recording wakeup and request latency
// histograms.
package main

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sys/unix"

	"github.com/masoncl/schbench/internal/config"
	"github.com/masoncl/schbench/internal/coordinator"
	"github.com/masoncl/schbench/internal/cpulock"
	"github.com/masoncl/schbench/internal/messenger"
	"github.com/masoncl/schbench/internal/report"
	"github.com/masoncl/schbench/internal/rlog"
	"github.com/masoncl/schbench/internal/threadrec"
	"github.com/masoncl/schbench/internal/topology"
	"github.com/masoncl/schbench/internal/worker"
)

func main() {
	_, _ = maxprocs.Set() // best-effort: respect cgroup CPU quota in GOMAXPROCS

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "schbench",
		Short: "measure scheduler wakeup latency under a ping-pong or fixed-rate message/worker thread tree",
	}
	cfg := config.BindFlags(root.Flags())
	root.RunE = func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("warmuptime") {
			cfg.NoteWarmupFlagSeen()
		}
		return run(cfg, os.Args)
	}
	return root
}

func run(cfg *config.Config, argv []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := rlog.New(false)

	if s := topology.SchedExtState(); s != "" {
		log.Info().Str("sched_ext", s).Msg("sched_ext scheduler active")
	}

	pinMode, err := topology.ParsePinMode(cfg.PinMode)
	if err != nil {
		return err
	}

	var topo *topology.Topology
	if pinMode == topology.PinCCX {
		t, err := topology.Detect()
		if err != nil {
			return fmt.Errorf("detect topology: %w", err)
		}
		topo = t
		log.Info().Int("dies", len(t.Dies)).Int("cpus", t.NumCPU).Msg("detected CPU topology")
	}

	numCPU := runtime.NumCPU()
	global := &threadrec.GlobalState{}
	global.RequestsPerSec.Store(cfg.RequestsPerSec)

	locks := cpulock.NewLocks(numCPU)
	log.Debug().Int("matrix_size", cfg.MatrixSize()).Int("footprint_kb", cfg.CacheFootprintKB).Msg("think-time matrix sizing")

	messengers := make([]*threadrec.ThreadRec, cfg.MessageThreads)
	workers := make([][]*threadrec.ThreadRec, cfg.MessageThreads)

	assignCPU := func(messengerIdx, workerIdx int, isMessenger bool) int {
		switch pinMode {
		case topology.PinCCX:
			if topo == nil {
				return -1
			}
			if isMessenger {
				return topo.AssignCCX(messengerIdx, cfg.MessageThreads, 0, 1)
			}
			return topo.AssignCCX(messengerIdx, cfg.MessageThreads, workerIdx, cfg.WorkerThreads)
		case topology.PinAuto:
			if isMessenger {
				return messengerIdx
			}
			return (cfg.MessageThreads + messengerIdx*cfg.WorkerThreads + workerIdx) % numCPU
		default:
			return -1
		}
	}

	index := 0
	for i := 0; i < cfg.MessageThreads; i++ {
		mCPU := assignCPU(i, 0, true)
		m, err := threadrec.NewThreadRec(index, -1, mCPU)
		if err != nil {
			return fmt.Errorf("allocate messenger %d: %w", i, err)
		}
		messengers[i] = m
		index++

		workers[i] = make([]*threadrec.ThreadRec, cfg.WorkerThreads)
		for j := 0; j < cfg.WorkerThreads; j++ {
			wCPU := assignCPU(i, j, false)
			w, err := threadrec.NewThreadRec(index, i, wCPU)
			if err != nil {
				return fmt.Errorf("allocate worker %d/%d: %w", i, j, err)
			}
			if cfg.PipeMode() {
				w.PipePage = make([]byte, cfg.PipeBytes)
			}
			workers[i][j] = w
			index++
		}
	}

	start := time.Now()
	var wg sync.WaitGroup

	for i := 0; i < cfg.MessageThreads; i++ {
		m := messengers[i]
		ws := workers[i]
		perMsgRate := cfg.RequestsPerSec

		wg.Add(1)
		go func() {
			defer wg.Done()
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			if err := topology.PinThread(m.CPU); err != nil {
				log.Debug().Err(err).Int("cpu", m.CPU).Msg("pin messenger thread")
			}
			m.TID.Store(int32(unix.Gettid()))

			msg := &messenger.Messenger{
				Self:    m,
				Workers: ws,
				Global:  global,
				Cfg:     messenger.Config{RequestsPerSec: perMsgRate, PipeBytes: cfg.PipeBytes},
			}
			msg.Run()
		}()

		for j := 0; j < cfg.WorkerThreads; j++ {
			w := workers[i][j]
			msgr := m

			wg.Add(1)
			go func() {
				defer wg.Done()
				runtime.LockOSThread()
				defer runtime.UnlockOSThread()
				if err := topology.PinThread(w.CPU); err != nil {
					log.Debug().Err(err).Int("cpu", w.CPU).Msg("pin worker thread")
				}
				w.TID.Store(int32(unix.Gettid()))

				var matrix *cpulock.Matrix
				if !cfg.PipeMode() {
					matrix = cpulock.NewMatrix(cfg.CacheFootprintKB * 1024)
				}

				wk := &worker.Worker{
					Self:      w,
					Messenger: msgr,
					Global:    global,
					Cfg: worker.Config{
						RequestsPerSec: cfg.RateMode(),
						PipeBytes:      cfg.PipeBytes,
						CalibrateOnly:  cfg.CalibrateOnly,
						SleepUsec:      cfg.SleepUsec,
						Operations:     cfg.Operations,
						SkipLocking:    cfg.SkipLocking,
					},
					Locks:  locks,
					Matrix: matrix,
				}
				wk.Run(start)
			}()
		}
	}

	coord := &coordinator.Coordinator{
		Global:     global,
		Messengers: messengers,
		Workers:    workers,
		Cfg: coordinator.Config{
			RuntimeSec:    cfg.Runtime,
			WarmupSec:     cfg.WarmupTime,
			IntervalSec:   cfg.IntervalTime,
			ZeroSec:       cfg.ZeroTime,
			PipeMode:      cfg.PipeMode(),
			AutoRPS:       cfg.AutoRPSTarget > 0,
			AutoRPSTarget: cfg.AutoRPSTarget,
		},
		Log: log,
	}
	coord.Run()
	coord.Shutdown(wg.Wait)

	return emitReport(cfg, global, coord, argv)
}

// emitReport performs the final cross-thread aggregation and writes the
// text report to stderr and, if configured, the JSON report.
func emitReport(cfg *config.Config, global *threadrec.GlobalState, coord *coordinator.Coordinator, argv []string) error {
	wakeup, request, loopCount, loopRuntime := coord.CombineStats()
	runtimeSec := uint64(cfg.Runtime)

	if cfg.JSONFile != "" {
		header := report.BuildHeader(cfg.Jobname, argv)
		doc := report.BuildDocument(header, &wakeup, &request, &global.RPSStats, cfg.PipeMode(), runtimeSec)
		if err := writeJSON(cfg.JSONFile, doc); err != nil {
			return fmt.Errorf("write json report: %w", err)
		}
	}

	if cfg.PipeMode() {
		report.WriteLatencies(os.Stderr, "Wakeup Latencies", "usec", runtimeSec, &wakeup,
			report.List20|report.ForLat, report.List99)
		var loopsPerSec float64
		if loopRuntime > 0 {
			loopsPerSec = float64(loopCount) * 1_000_000 / float64(loopRuntime)
		}
		var mbPerSec float64
		if loopRuntime > 0 {
			mbPerSec = float64(loopCount) * float64(cfg.PipeBytes) * 1_000_000 / float64(loopRuntime)
		}
		scaled, unit := report.PrettySize(mbPerSec)
		fmt.Fprintf(os.Stderr, "avg worker transfer: %.2f ops/sec %.2f%s/s\n", loopsPerSec, scaled, unit)
		return nil
	}

	report.WriteLatencies(os.Stderr, "Wakeup Latencies", "usec", runtimeSec, &wakeup, report.ForLat, report.List99)
	report.WriteLatencies(os.Stderr, "Request Latencies", "usec", runtimeSec, &request, report.ForLat, report.List99)
	report.WriteLatencies(os.Stderr, "RPS", "requests", runtimeSec, &global.RPSStats, report.ForRPS, report.List50)

	if cfg.AutoRPSTarget == 0 {
		var avgRPS float64
		if cfg.Runtime > 0 {
			avgRPS = float64(loopCount) / float64(cfg.Runtime)
		}
		fmt.Fprintf(os.Stderr, "average rps: %.2f\n", avgRPS)
	} else {
		fmt.Fprintf(os.Stderr, "final rps goal was %d\n", global.RequestsPerSec.Load()*int64(cfg.MessageThreads))
	}

	messageDelay, workerDelay := coord.CollectSchedDelay()
	fmt.Fprintf(os.Stderr, "sched delay: message %d (usec) worker %d (usec)\n",
		messageDelay/1000, workerDelay/1000)

	return nil
}

func writeJSON(path string, doc report.Document) error {
	var out *os.File
	if path == "-" {
		out = os.Stdout
	} else {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	return report.WriteJSON(out, doc)
}
