package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePinMode(t *testing.T) {
	cases := map[string]PinMode{
		"":      PinNone,
		"none":  PinNone,
		"NONE":  PinNone,
		"manual": PinManual,
		"auto":  PinAuto,
		"ccx":   PinCCX,
		"CCX":   PinCCX,
	}
	for in, want := range cases {
		got, err := ParsePinMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestParsePinModeRejectsUnknown(t *testing.T) {
	_, err := ParsePinMode("bogus")
	assert.Error(t, err)
}

func newTestTopology() *Topology {
	t := &Topology{cpuToDie: make(map[int]int)}
	t.Dies = []Die{
		{PackageID: 0, DieID: 0, CPUs: []int{0, 1, 2, 3}},
		{PackageID: 0, DieID: 1, CPUs: []int{4, 5, 6, 7}},
	}
	for idx, d := range t.Dies {
		for _, cpu := range d.CPUs {
			t.cpuToDie[cpu] = idx
			t.NumCPU++
		}
	}
	return t
}

func TestDieForCPU(t *testing.T) {
	topo := newTestTopology()
	assert.Equal(t, 0, topo.DieForCPU(2))
	assert.Equal(t, 1, topo.DieForCPU(6))
	assert.Equal(t, -1, topo.DieForCPU(99))
}

func TestAssignCCXSpreadsMessengersAcrossDies(t *testing.T) {
	topo := newTestTopology()
	assert.Equal(t, 0, topo.AssignCCX(0, 2, 0, 2))
	assert.Equal(t, 4, topo.AssignCCX(1, 2, 0, 2))
	assert.Equal(t, 5, topo.AssignCCX(1, 2, 1, 2))
}

func TestAssignCCXWrapsWorkersWithinDie(t *testing.T) {
	topo := newTestTopology()
	// die 0 has 4 CPUs; worker index 5 wraps to CPUs[1].
	assert.Equal(t, topo.Dies[0].CPUs[1], topo.AssignCCX(0, 1, 5, 4))
}

func TestAssignCCXReturnsNegativeOneWithNoDies(t *testing.T) {
	topo := &Topology{cpuToDie: make(map[int]int)}
	assert.Equal(t, -1, topo.AssignCCX(0, 1, 0, 1))
}

func TestPinThreadSkipsNegativeCPU(t *testing.T) {
	assert.NoError(t, PinThread(-1))
}
