// Package topology detects CPU die/CCX grouping from sysfs and resolves
// pinning assignments for messengers and their workers.
package topology

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// PinMode selects how messengers and workers are bound to CPUs.
type PinMode int

const (
	PinNone PinMode = iota
	PinManual
	PinAuto
	PinCCX
)

func ParsePinMode(s string) (PinMode, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return PinNone, nil
	case "manual":
		return PinManual, nil
	case "auto":
		return PinAuto, nil
	case "ccx":
		return PinCCX, nil
	default:
		return PinNone, fmt.Errorf("topology: unknown pin mode %q", s)
	}
}

// Die groups the CPUs that share a package+die id, i.e. one CCX on
// chiplet-based AMD parts or one package on a monolithic die.
type Die struct {
	PackageID int
	DieID     int
	CPUs      []int
}

// Topology is the two-pass sysfs scan result: every online CPU grouped
// into its die.
type Topology struct {
	Dies     []Die
	NumCPU   int
	cpuToDie map[int]int // cpu -> index into Dies
}

const cpuSysfsRoot = "/sys/devices/system/cpu"

// Detect performs the two-pass scan: first enumerate online CPUs and their
// package/die ids, then group. A CPU whose "online" file is absent (cpu0 on
// most kernels) is treated as always online.
func Detect() (*Topology, error) {
	entries, err := os.ReadDir(cpuSysfsRoot)
	if err != nil {
		return nil, fmt.Errorf("topology: read %s: %w", cpuSysfsRoot, err)
	}

	type cpuInfo struct {
		cpu, pkg, die int
	}
	var infos []cpuInfo

	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "cpu") {
			continue
		}
		numPart := strings.TrimPrefix(name, "cpu")
		cpu, err := strconv.Atoi(numPart)
		if err != nil {
			continue
		}
		if !cpuOnline(cpu) {
			continue
		}
		pkg := readSysfsInt(filepath.Join(cpuSysfsRoot, name, "topology", "physical_package_id"), 0)
		die := readSysfsInt(filepath.Join(cpuSysfsRoot, name, "topology", "die_id"), 0)
		infos = append(infos, cpuInfo{cpu: cpu, pkg: pkg, die: die})
	}

	if len(infos) == 0 {
		return nil, fmt.Errorf("topology: no online CPUs found under %s", cpuSysfsRoot)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].cpu < infos[j].cpu })

	t := &Topology{cpuToDie: make(map[int]int)}
	key := func(pkg, die int) string { return fmt.Sprintf("%d:%d", pkg, die) }
	index := make(map[string]int)
	for _, in := range infos {
		k := key(in.pkg, in.die)
		idx, ok := index[k]
		if !ok {
			idx = len(t.Dies)
			index[k] = idx
			t.Dies = append(t.Dies, Die{PackageID: in.pkg, DieID: in.die})
		}
		t.Dies[idx].CPUs = append(t.Dies[idx].CPUs, in.cpu)
		t.cpuToDie[in.cpu] = idx
		t.NumCPU++
	}
	return t, nil
}

func cpuOnline(cpu int) bool {
	if cpu == 0 {
		// cpu0 frequently has no "online" file and cannot be offlined
		// on most kernels.
		if _, err := os.Stat(filepath.Join(cpuSysfsRoot, "cpu0", "online")); os.IsNotExist(err) {
			return true
		}
	}
	v := readSysfsInt(filepath.Join(cpuSysfsRoot, fmt.Sprintf("cpu%d", cpu), "online"), 1)
	return v != 0
}

func readSysfsInt(path string, fallback int) int {
	f, err := os.Open(path)
	if err != nil {
		return fallback
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return fallback
	}
	v, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
	if err != nil {
		return fallback
	}
	return v
}

// DieForCPU returns the die index owning cpu, or -1 if unknown.
func (t *Topology) DieForCPU(cpu int) int {
	if idx, ok := t.cpuToDie[cpu]; ok {
		return idx
	}
	return -1
}

// AssignCCX resolves, for messenger index m (of mCount total) and worker
// index w within that messenger (of wCount total), the CPU to pin it to
// under PinCCX: messengers are spread round-robin across dies, and each
// messenger's workers are confined to its die's CPU list.
func (t *Topology) AssignCCX(m, mCount, w, wCount int) int {
	if len(t.Dies) == 0 {
		return -1
	}
	die := t.Dies[m%len(t.Dies)]
	if len(die.CPUs) == 0 {
		return -1
	}
	return die.CPUs[w%len(die.CPUs)]
}

// PinThread binds the calling OS thread to cpu. Callers must have already
// called runtime.LockOSThread.
func PinThread(cpu int) error {
	if cpu < 0 {
		return nil
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	return unix.SchedSetaffinity(0, &set)
}

// SchedExtState is a best-effort, never-fatal read of the sched_ext debug
// state file, logged once at startup so operators know whether a sched_ext
// scheduler is steering the run.
func SchedExtState() string {
	b, err := os.ReadFile("/sys/kernel/debug/sched/ext/state")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
