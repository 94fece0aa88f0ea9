package inference

import (
	"runtime"

	"github.com/klauspost/cpuid/v2"
)

// DeviceKind is the execution target chosen for an interpreter
type DeviceKind string

const (
	DeviceCPU     DeviceKind = "cpu"
	DeviceXNNPACK DeviceKind = "xnnpack"
)

// Device is the resolved execution target and thread budget
type Device struct {
	Kind    DeviceKind
	Threads int
}

// cpuInfo is the subset of CPU facts device selection depends on
type cpuInfo struct {
	Brand         string
	PhysicalCores int
	LogicalCores  int
	SIMD          bool // vector extensions XNNPACK kernels are built for
}

func detectCPU() cpuInfo {
	simd := false
	switch runtime.GOARCH {
	case "amd64", "386":
		simd = cpuid.CPU.Supports(cpuid.SSE4)
	case "arm64":
		simd = cpuid.CPU.Supports(cpuid.ASIMD) || runtime.GOOS == "darwin"
	}
	return cpuInfo{
		Brand:         cpuid.CPU.BrandName,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
		SIMD:          simd,
	}
}

// threadCount resolves a configured thread count. Zero picks the physical core count,
// falling back to logical cores, and never exceeds runtime.NumCPU().
func threadCount(configured int, cpu cpuInfo, numCPU int) int {
	if configured > 0 {
		return min(configured, numCPU)
	}
	switch {
	case cpu.PhysicalCores > 0:
		return min(cpu.PhysicalCores, numCPU)
	case cpu.LogicalCores > 0:
		return min(cpu.LogicalCores, numCPU)
	default:
		return max(1, numCPU)
	}
}

// selectDevice prefers the XNNPACK delegate when requested and the CPU can run it.
func selectDevice(useXNNPACK bool, configuredThreads int, cpu cpuInfo, numCPU int) Device {
	threads := threadCount(configuredThreads, cpu, numCPU)
	if useXNNPACK && cpu.SIMD {
		return Device{Kind: DeviceXNNPACK, Threads: threads}
	}
	return Device{Kind: DeviceCPU, Threads: threads}
}

// SelectDevice resolves the execution target for this host
func SelectDevice(useXNNPACK bool, configuredThreads int) Device {
	return selectDevice(useXNNPACK, configuredThreads, detectCPU(), runtime.NumCPU())
}
