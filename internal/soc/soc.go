// Package soc identifies the system-on-chip and its power envelope.
package soc

import (
	"bufio"
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
)

const defaultName = "Apple Silicon"

// Info describes the chip. Power caps are in watts.
type Info struct {
	Name        string
	ECores      int
	PCores      int
	GPUCores    int
	CPUMaxPower float64
	GPUMaxPower float64
}

// Cores is the total CPU core count.
func (i Info) Cores() int {
	return i.ECores + i.PCores
}

// Detect reads the chip description from sysctl, falling back to gopsutil
// where sysctl keys are unavailable. It never fails; unknown values are
// zero.
func Detect(ctx context.Context) Info {
	info := Info{Name: defaultName}

	if name, err := sysctlString("machdep.cpu.brand_string"); err == nil && strings.TrimSpace(name) != "" {
		info.Name = strings.TrimSpace(name)
	} else if stats, err := cpu.InfoWithContext(ctx); err == nil && len(stats) > 0 && stats[0].ModelName != "" {
		info.Name = strings.TrimSpace(stats[0].ModelName)
	}

	if n, err := sysctlUint32("hw.perflevel0.logicalcpu"); err == nil {
		info.PCores = int(n)
	}
	if n, err := sysctlUint32("hw.perflevel1.logicalcpu"); err == nil {
		info.ECores = int(n)
	}
	if info.Cores() == 0 {
		if n, err := cpu.CountsWithContext(ctx, true); err == nil {
			info.PCores = n
		}
	}

	if out, err := exec.CommandContext(ctx, "/usr/sbin/system_profiler", "-detailLevel", "basic", "SPDisplaysDataType").Output(); err == nil {
		info.GPUCores = ParseGPUCores(string(out))
	}

	info.CPUMaxPower, info.GPUMaxPower = Caps(info.Name)

	return info
}

// Caps returns the CPU and GPU power envelopes for a chip name, keyed on
// its tier suffix.
func Caps(name string) (cpuWatts, gpuWatts float64) {
	name = strings.TrimSpace(name)
	switch {
	case strings.HasSuffix(name, "Pro"):
		return 40, 40
	case strings.HasSuffix(name, "Max"):
		return 90, 90
	case strings.HasSuffix(name, "Ultra"):
		return 140, 140
	default:
		return 20, 20
	}
}

// ParseGPUCores extracts the GPU core count from system_profiler output.
func ParseGPUCores(out string) int {
	const prefix = "Total Number of Cores:"

	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		rest, ok := strings.CutPrefix(line, prefix)
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimSpace(rest)); err == nil {
			return n
		}
	}
	return 0
}
