// Package procfs reads the two /proc surfaces the benchmark consumes: the
// aggregate CPU-busy line from /proc/stat (for auto-RPS) and a single
// thread's scheduling delay from /proc/<tid>/schedstat.
package procfs

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// CPUTimes is one sample of the aggregate "cpu" line in /proc/stat: total
// jiffies and idle jiffies. Deltas between consecutive samples give busy
// percentage.
type CPUTimes struct {
	Total uint64
	Idle  uint64
}

// ReadStat parses the first ten integer fields of the aggregate "cpu" line
// in /proc/stat. The 4th field (idle) and the sum of all ten fields become
// Idle and Total respectively.
func ReadStat() (CPUTimes, error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return CPUTimes{}, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || fields[0] != "cpu" {
			continue
		}

		var total, idle uint64
		n := len(fields) - 1
		if n > 10 {
			n = 10
		}
		for i := 0; i < n; i++ {
			v, err := strconv.ParseUint(fields[i+1], 10, 64)
			if err != nil {
				continue
			}
			total += v
			if i == 3 {
				idle = v
			}
		}
		return CPUTimes{Total: total, Idle: idle}, nil
	}
	if err := sc.Err(); err != nil {
		return CPUTimes{}, err
	}
	return CPUTimes{}, fmt.Errorf("procfs: no cpu line in /proc/stat")
}

// SchedDelay is one /proc/<tid>/schedstat sample: running time, runqueue
// (wait) time, and the schedule count the delay is averaged over, all in
// nanoseconds/counts as the kernel reports them.
type SchedDelay struct {
	RunningNs  uint64
	RunqueueNs uint64
	PCount     uint64
}

// AverageDelayNs returns RunqueueNs / PCount, or 0 if PCount is 0.
func (d SchedDelay) AverageDelayNs() uint64 {
	if d.PCount == 0 {
		return 0
	}
	return d.RunqueueNs / d.PCount
}

// ReadSchedstat reads /proc/<tid>/schedstat: three whitespace-separated
// unsigned integers. A missing file (the thread may have already exited by
// the time a final report runs) is not an error: it reports a zero-value
// SchedDelay, matching spec.md's documented degrade-to-zero behaviour.
func ReadSchedstat(tid int) (SchedDelay, error) {
	path := fmt.Sprintf("/proc/%d/schedstat", tid)
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return SchedDelay{}, nil
		}
		return SchedDelay{}, err
	}

	fields := strings.Fields(string(b))
	if len(fields) < 3 {
		// format drift: degrade to zero rather than fail, per spec.md's
		// design note on schedstat format drift.
		return SchedDelay{}, nil
	}

	var vals [3]uint64
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseUint(fields[i], 10, 64)
		if err != nil {
			return SchedDelay{}, nil
		}
		vals[i] = v
	}
	return SchedDelay{RunningNs: vals[0], RunqueueNs: vals[1], PCount: vals[2]}, nil
}
