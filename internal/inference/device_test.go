package inference

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThreadCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		configured int
		cpu        cpuInfo
		numCPU     int
		want       int
	}{
		{"configured", 4, cpuInfo{PhysicalCores: 8}, 16, 4},
		{"configured above cpus", 32, cpuInfo{}, 8, 8},
		{"physical cores", 0, cpuInfo{PhysicalCores: 6, LogicalCores: 12}, 12, 6},
		{"logical fallback", 0, cpuInfo{LogicalCores: 4}, 4, 4},
		{"container limit", 0, cpuInfo{PhysicalCores: 32}, 2, 2},
		{"nothing known", 0, cpuInfo{}, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, threadCount(tt.configured, tt.cpu, tt.numCPU))
		})
	}
}

func TestSelectDevice(t *testing.T) {
	t.Parallel()

	simd := cpuInfo{PhysicalCores: 4, SIMD: true}
	plain := cpuInfo{PhysicalCores: 4}

	assert.Equal(t, Device{Kind: DeviceXNNPACK, Threads: 4}, selectDevice(true, 0, simd, 8))
	assert.Equal(t, Device{Kind: DeviceCPU, Threads: 4}, selectDevice(false, 0, simd, 8))
	assert.Equal(t, Device{Kind: DeviceCPU, Threads: 2}, selectDevice(true, 2, plain, 8))
}
