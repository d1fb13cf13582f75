package cpulock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatrixSizeGrowsWithFootprint(t *testing.T) {
	small := MatrixSize(2 * 8) // 2 floats
	large := MatrixSize(2 * 1024 * 1024)
	assert.GreaterOrEqual(t, small, 1)
	assert.Greater(t, large, small)
}

func TestMatrixSizeNeverBelowOne(t *testing.T) {
	assert.Equal(t, 1, MatrixSize(0))
	assert.Equal(t, 1, MatrixSize(-10))
}

func TestNewMatrixPopulatesNonZeroValues(t *testing.T) {
	m := NewMatrix(4096)
	assert.NotEmpty(t, m.a)
	assert.NotEmpty(t, m.b)
	for _, v := range m.a {
		assert.NotZero(t, v)
	}
}

func TestDoWorkWithoutLocksRunsUnguarded(t *testing.T) {
	m := NewMatrix(1024)
	assert.NotPanics(t, func() { DoWork(nil, m, 1) })
}

func TestDoWorkWithLocksSerializesPerCPU(t *testing.T) {
	locks := NewLocks(1)
	m := NewMatrix(1024)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			DoWork(locks, m, 1)
		}()
	}
	wg.Wait()
}

func TestNewLocksClampsToOneCPU(t *testing.T) {
	l := NewLocks(0)
	assert.Len(t, l.mu, 1)
}
