// Package sample defines one parsed observation epoch of the SoC counters
// and the channel keys derived from it.
package sample

import (
	"strconv"
	"time"
)

// Channel keys
const (
	CPUPower     = "cpu_power"
	GPUPower     = "gpu_power"
	ANEPower     = "ane_power"
	PackagePower = "package_power"
	CPUUtil      = "cpu_util"
	EClusterUtil = "e_cluster_util"
	PClusterUtil = "p_cluster_util"
	GPUUtil      = "gpu_util"
	ANEUtil      = "ane_util"
	MemUsed      = "mem_used"
	SwapUsed     = "swap_used"
	NetIn        = "net_in"
	NetOut       = "net_out"
	DiskRead     = "disk_read"
	DiskWrite    = "disk_write"
)

// CoreUtil returns the channel key for a physical core's utilization.
func CoreUtil(id int) string {
	return "core_" + strconv.Itoa(id) + "_util"
}

// Cluster is one CPU cluster as reported by the counter process.
type Cluster struct {
	Name    string
	Active  float64 // percent
	FreqMHz float64
}

// Core is one physical core. Cluster names the owning cluster.
type Core struct {
	ID      int
	Cluster string
	Active  float64 // percent
	FreqMHz float64
}

// ClusterSummary is the aggregate of all clusters of one kind (E or P).
type ClusterSummary struct {
	Active  float64
	FreqMHz float64
}

// Sample is one observation epoch. It is not mutated after construction;
// the With* methods return modified copies.
type Sample struct {
	Timestamp time.Time
	Sequence  uint64

	Clusters []Cluster
	// Cores is ordered by physical core id.
	Cores    []Core
	ECluster ClusterSummary
	PCluster ClusterSummary

	GPUActive  float64
	GPUFreqMHz float64
	ANEActive  float64

	// Power in milliwatts.
	CPUPower     float64
	GPUPower     float64
	ANEPower     float64
	PackagePower float64

	// Memory in bytes.
	MemUsed   uint64
	MemTotal  uint64
	SwapUsed  uint64
	SwapTotal uint64

	// I/O in bytes per second. HasIO is set when the record carried
	// network and disk counters.
	NetIn     float64
	NetOut    float64
	DiskRead  float64
	DiskWrite float64
	HasIO     bool

	ThermalPressure string
}

// Memory is the host memory occupancy folded into a Sample.
type Memory struct {
	Used, Total         uint64
	SwapUsed, SwapTotal uint64
}

// IO is the host I/O rate folded into a Sample.
type IO struct {
	NetIn, NetOut       float64
	DiskRead, DiskWrite float64
}

// WithMemory returns a copy of s carrying m.
func (s Sample) WithMemory(m Memory) Sample {
	s.MemUsed = m.Used
	s.MemTotal = m.Total
	s.SwapUsed = m.SwapUsed
	s.SwapTotal = m.SwapTotal
	s.Cores = append([]Core(nil), s.Cores...)
	s.Clusters = append([]Cluster(nil), s.Clusters...)

	return s
}

// WithIO returns a copy of s carrying io.
func (s Sample) WithIO(io IO) Sample {
	s.NetIn = io.NetIn
	s.NetOut = io.NetOut
	s.DiskRead = io.DiskRead
	s.DiskWrite = io.DiskWrite
	s.HasIO = true
	s.Cores = append([]Core(nil), s.Cores...)
	s.Clusters = append([]Cluster(nil), s.Clusters...)

	return s
}

// CPUActive is the mean utilization over all cores.
func (s Sample) CPUActive() float64 {
	if len(s.Cores) == 0 {
		return (s.ECluster.Active + s.PCluster.Active) / 2
	}

	var sum float64
	for _, c := range s.Cores {
		sum += c.Active
	}

	return sum / float64(len(s.Cores))
}

// Reading is one channel value extracted from a Sample.
type Reading struct {
	Channel string
	Value   float64
	// Bounded marks power and utilization channels, which are clamped
	// to be non-negative.
	Bounded bool
}

// Readings returns one Reading per channel present in s.
func (s Sample) Readings() []Reading {
	readings := make([]Reading, 0, 15+len(s.Cores))
	bounded := func(key string, v float64) {
		readings = append(readings, Reading{Channel: key, Value: v, Bounded: true})
	}

	bounded(CPUPower, s.CPUPower)
	bounded(GPUPower, s.GPUPower)
	bounded(ANEPower, s.ANEPower)
	bounded(PackagePower, s.PackagePower)
	bounded(CPUUtil, s.CPUActive())
	bounded(EClusterUtil, s.ECluster.Active)
	bounded(PClusterUtil, s.PCluster.Active)
	bounded(GPUUtil, s.GPUActive)
	bounded(ANEUtil, s.ANEActive)
	for _, c := range s.Cores {
		bounded(CoreUtil(c.ID), c.Active)
	}

	readings = append(readings,
		Reading{Channel: MemUsed, Value: float64(s.MemUsed)},
		Reading{Channel: SwapUsed, Value: float64(s.SwapUsed)},
	)
	if s.HasIO {
		readings = append(readings,
			Reading{Channel: NetIn, Value: s.NetIn},
			Reading{Channel: NetOut, Value: s.NetOut},
			Reading{Channel: DiskRead, Value: s.DiskRead},
			Reading{Channel: DiskWrite, Value: s.DiskWrite},
		)
	}

	return readings
}
