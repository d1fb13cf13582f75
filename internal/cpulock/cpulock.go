// Package cpulock implements the think-time collaborator: a naive
// matrix-multiply CPU burner sized to a configurable cache footprint,
// optionally guarded by a per-CPU mutex that detects and retries on
// migration so that two workers scheduled onto the same CPU never run
// their matrix multiply concurrently against that CPU's cache.
package cpulock

import (
	"runtime"
	"sync"

	"golang.org/x/sys/unix"
)

// Locks is the process-wide per-CPU lock array, sized at num_online_cpus
// and held for the process lifetime.
type Locks struct {
	mu []sync.Mutex
}

// NewLocks allocates one mutex per online CPU.
func NewLocks(numCPU int) *Locks {
	if numCPU < 1 {
		numCPU = 1
	}
	return &Locks{mu: make([]sync.Mutex, numCPU)}
}

// Matrix is the think-time scratch state for one worker: two square
// matrices sized so their combined footprint approximates the configured
// cache target.
type Matrix struct {
	size int
	a, b []float64
}

// NewMatrix sizes a and b so that 2 * size^2 * 8 bytes is close to
// footprintBytes, mirroring the C source's do_some_math sizing.
func NewMatrix(footprintBytes int) *Matrix {
	size := MatrixSize(footprintBytes)
	m := &Matrix{size: size, a: make([]float64, size*size), b: make([]float64, size*size)}
	for i := range m.a {
		m.a[i] = float64(i%7) + 1
		m.b[i] = float64(i%5) + 1
	}
	return m
}

// MatrixSize computes the per-side dimension for a target footprint in
// bytes, covering two size*size float64 matrices.
func MatrixSize(footprintBytes int) int {
	size := 1
	for 2*size*size*8 < footprintBytes {
		size++
	}
	if size < 1 {
		size = 1
	}
	return size
}

// doSomeMath performs a naive triple-nested-loop matrix multiply for
// operations passes, discarding the result. The loop structure (not
// blocked/tiled) is deliberate: it is meant to thrash cache the same way
// the benchmarked workload's "real" computation would, not to run fast.
func doSomeMath(m *Matrix, operations int) {
	n := m.size
	c := make([]float64, n*n)
	for op := 0; op < operations; op++ {
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				var sum float64
				for k := 0; k < n; k++ {
					sum += m.a[i*n+k] * m.b[k*n+j]
				}
				c[i*n+j] = sum
			}
		}
	}
	runtime.KeepAlive(c)
}

// DoWork runs the think-time computation for one request. If locks is nil
// (skip_locking), it runs unguarded. Otherwise it takes the current CPU's
// mutex via TryLock, detects migration between sampling the CPU and
// acquiring the lock, and releases+retries on the post-migration CPU
// rather than deadlocking against whichever worker now owns the original
// CPU's mutex.
func DoWork(locks *Locks, m *Matrix, operations int) {
	if locks == nil {
		doSomeMath(m, operations)
		return
	}

	for {
		cpu, err := unix.SchedGetcpu()
		if err != nil || cpu < 0 || cpu >= len(locks.mu) {
			cpu = 0
		}
		mu := &locks.mu[cpu]

		locked := false
		for !locked {
			locked = mu.TryLock()
			if !locked {
				runtime.Gosched()
			}
		}

		after, err := unix.SchedGetcpu()
		if err != nil || after != cpu {
			// migrated between sampling and acquiring: release and
			// retry against whatever CPU we actually landed on.
			mu.Unlock()
			continue
		}

		doSomeMath(m, operations)
		mu.Unlock()
		return
	}
}
