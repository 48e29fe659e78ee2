package powermetrics

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"codeberg.org/mutker/socmon/internal/sample"
	"howett.net/plist"
)

const hzThreshold = 100_000

// dict is a decoded plist dictionary addressed by a dotted path prefix for
// error messages.
type dict struct {
	path   string
	values map[string]any
}

func (d dict) key(name string) string {
	if d.path == "" {
		return name
	}
	return d.path + "." + name
}

func (d dict) lookup(name string) (any, bool) {
	v, ok := d.values[name]
	return v, ok
}

func (d dict) number(name string) (float64, error) {
	v, ok := d.lookup(name)
	if !ok {
		return 0, malformed(ErrMissingKey, d.key(name))
	}
	return toNumber(d.key(name), v)
}

func (d dict) optNumber(name string) (float64, bool, error) {
	v, ok := d.lookup(name)
	if !ok {
		return 0, false, nil
	}
	n, err := toNumber(d.key(name), v)
	return n, err == nil, err
}

func (d dict) str(name string) (string, error) {
	v, ok := d.lookup(name)
	if !ok {
		return "", malformed(ErrMissingKey, d.key(name))
	}
	s, ok := v.(string)
	if !ok {
		return "", malformed(ErrInvalidValue, fmt.Sprintf("%s: want string, got %T", d.key(name), v))
	}
	return s, nil
}

func (d dict) child(name string) (dict, error) {
	v, ok := d.lookup(name)
	if !ok {
		return dict{}, malformed(ErrMissingKey, d.key(name))
	}
	m, ok := v.(map[string]any)
	if !ok {
		return dict{}, malformed(ErrInvalidValue, fmt.Sprintf("%s: want dict, got %T", d.key(name), v))
	}
	return dict{path: d.key(name), values: m}, nil
}

func (d dict) optChild(name string) (dict, bool, error) {
	if _, ok := d.lookup(name); !ok {
		return dict{}, false, nil
	}
	c, err := d.child(name)
	return c, err == nil, err
}

func (d dict) list(name string) ([]dict, error) {
	v, ok := d.lookup(name)
	if !ok {
		return nil, malformed(ErrMissingKey, d.key(name))
	}
	items, ok := v.([]any)
	if !ok {
		return nil, malformed(ErrInvalidValue, fmt.Sprintf("%s: want array, got %T", d.key(name), v))
	}

	out := make([]dict, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, malformed(ErrInvalidValue, fmt.Sprintf("%s[%d]: want dict, got %T", d.key(name), i, item))
		}
		out = append(out, dict{path: fmt.Sprintf("%s[%d]", d.key(name), i), values: m})
	}
	return out, nil
}

func toNumber(key string, v any) (float64, error) {
	var n float64
	switch x := v.(type) {
	case float64:
		n = x
	case float32:
		n = float64(x)
	case uint64:
		n = float64(x)
	case int64:
		n = float64(x)
	default:
		return 0, malformed(ErrInvalidValue, fmt.Sprintf("%s: want number, got %T", key, v))
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, malformed(ErrInvalidValue, fmt.Sprintf("%s: not finite", key))
	}
	return n, nil
}

// decodeRecord validates one framed plist document against the record
// schema and converts it into a Sample.
func decodeRecord(data []byte, opts Options) (sample.Sample, error) {
	var values map[string]any
	if _, err := plist.Unmarshal(data, &values); err != nil {
		return sample.Sample{}, malformed(ErrDecodeFailed, err.Error())
	}
	root := dict{values: values}

	ts, ok := root.values["timestamp"]
	if !ok {
		return sample.Sample{}, malformed(ErrMissingKey, "timestamp")
	}
	timestamp, ok := ts.(time.Time)
	if !ok {
		return sample.Sample{}, malformed(ErrInvalidValue, fmt.Sprintf("timestamp: want date, got %T", ts))
	}

	s := sample.Sample{Timestamp: timestamp}

	elapsed := opts.Interval.Seconds()
	if ns, ok, err := root.optNumber("elapsed_ns"); err != nil {
		return sample.Sample{}, err
	} else if ok && ns > 0 {
		elapsed = ns / float64(time.Second)
	}

	processor, err := root.child("processor")
	if err != nil {
		return sample.Sample{}, err
	}
	if err := decodeClusters(processor, &s); err != nil {
		return sample.Sample{}, err
	}

	if s.CPUPower, err = power(processor, "cpu", elapsed); err != nil {
		return sample.Sample{}, err
	}
	if s.GPUPower, err = power(processor, "gpu", elapsed); err != nil {
		return sample.Sample{}, err
	}
	if s.ANEPower, err = power(processor, "ane", elapsed); err != nil {
		return sample.Sample{}, err
	}
	if s.PackagePower, err = processor.number("combined_power"); err != nil {
		return sample.Sample{}, err
	}
	if s.PackagePower < 0 {
		return sample.Sample{}, malformed(ErrInvalidValue, "processor.combined_power: negative")
	}
	s.ANEActive = clampPercent(s.ANEPower / opts.ANEMaxPower * 100)

	gpu, err := root.child("gpu")
	if err != nil {
		return sample.Sample{}, err
	}
	idle, err := gpu.number("idle_ratio")
	if err != nil {
		return sample.Sample{}, err
	}
	s.GPUActive = activePercent(idle)
	if freq, ok, err := gpu.optNumber("freq_hz"); err != nil {
		return sample.Sample{}, err
	} else if ok {
		s.GPUFreqMHz = displayFreq(freq)
	}

	if thermal, ok := root.values["thermal_pressure"].(string); ok {
		s.ThermalPressure = thermal
	}

	if err := decodeIO(root, &s); err != nil {
		return sample.Sample{}, err
	}

	return s, nil
}

// power reads <name>_power in mW, or <name>_energy in mJ over elapsed
// seconds.
func power(processor dict, name string, elapsed float64) (float64, error) {
	mw, ok, err := processor.optNumber(name + "_power")
	if err != nil {
		return 0, err
	}
	if !ok {
		mj, found, err := processor.optNumber(name + "_energy")
		if err != nil {
			return 0, err
		}
		if !found {
			return 0, malformed(ErrMissingKey, processor.key(name+"_power"))
		}
		if elapsed <= 0 {
			elapsed = 1
		}
		mw = mj / elapsed
	}
	if mw < 0 {
		return 0, malformed(ErrInvalidValue, processor.key(name+"_power")+": negative")
	}
	return mw, nil
}

func decodeClusters(processor dict, s *sample.Sample) error {
	clusters, err := processor.list("clusters")
	if err != nil {
		return err
	}

	var eClusters, pClusters []sample.Cluster
	var eCores, pCores []sample.Core

	for _, c := range clusters {
		name, err := c.str("name")
		if err != nil {
			return err
		}
		freq, err := c.number("freq_hz")
		if err != nil {
			return err
		}
		idle, err := c.number("idle_ratio")
		if err != nil {
			return err
		}

		cluster := sample.Cluster{Name: name, Active: activePercent(idle), FreqMHz: displayFreq(freq)}
		s.Clusters = append(s.Clusters, cluster)

		isE := strings.HasPrefix(name, "E") || strings.HasPrefix(name, "e")
		isP := strings.HasPrefix(name, "P") || strings.HasPrefix(name, "p")
		switch {
		case isE:
			eClusters = append(eClusters, cluster)
		case isP:
			pClusters = append(pClusters, cluster)
		}

		var cpus []dict
		if _, ok := c.lookup("cpus"); ok {
			if cpus, err = c.list("cpus"); err != nil {
				return err
			}
		}
		for _, cpu := range cpus {
			id, err := cpu.number("cpu")
			if err != nil {
				return err
			}
			coreFreq, err := cpu.number("freq_hz")
			if err != nil {
				return err
			}
			coreIdle, err := cpu.number("idle_ratio")
			if err != nil {
				return err
			}
			if id < 0 {
				return malformed(ErrInvalidValue, cpu.key("cpu")+": negative")
			}

			core := sample.Core{ID: int(id), Cluster: name, Active: activePercent(coreIdle), FreqMHz: displayFreq(coreFreq)}
			s.Cores = append(s.Cores, core)
			if isE {
				eCores = append(eCores, core)
			} else {
				pCores = append(pCores, core)
			}
		}
	}

	sort.SliceStable(s.Cores, func(i, j int) bool { return s.Cores[i].ID < s.Cores[j].ID })
	s.ECluster = summarize(eClusters, eCores, "E")
	s.PCluster = summarize(pClusters, pCores, "P")

	return nil
}

func decodeIO(root dict, s *sample.Sample) error {
	network, hasNet, err := root.optChild("network")
	if err != nil {
		return err
	}
	disk, hasDisk, err := root.optChild("disk")
	if err != nil {
		return err
	}
	if !hasNet || !hasDisk {
		return nil
	}

	if s.NetIn, err = network.number("ibyte_rate"); err != nil {
		return err
	}
	if s.NetOut, err = network.number("obyte_rate"); err != nil {
		return err
	}
	if s.DiskRead, err = disk.number("rbytes_per_s"); err != nil {
		return err
	}
	if s.DiskWrite, err = disk.number("wbytes_per_s"); err != nil {
		return err
	}
	s.HasIO = true

	return nil
}

// summarize derives the E or P aggregate: mean core activity when any core
// is active, else the cluster's own figure; frequency from the primary
// cluster, else the fastest core.
func summarize(clusters []sample.Cluster, cores []sample.Core, prefix string) sample.ClusterSummary {
	var coreAvg, coreMaxFreq float64
	if len(cores) > 0 {
		for _, c := range cores {
			coreAvg += c.Active
			coreMaxFreq = math.Max(coreMaxFreq, c.FreqMHz)
		}
		coreAvg /= float64(len(cores))
	}

	clusterActive, clusterFreq := clusterStats(clusters, prefix)

	summary := sample.ClusterSummary{Active: coreAvg, FreqMHz: coreMaxFreq}
	if coreAvg == 0 {
		summary.Active = clusterActive
	}
	if clusterFreq > 0 {
		summary.FreqMHz = clusterFreq
	}

	return summary
}

func clusterStats(clusters []sample.Cluster, prefix string) (active, freq float64) {
	primary := prefix + "-Cluster"
	for _, c := range clusters {
		if c.Name == primary {
			return c.Active, c.FreqMHz
		}
	}
	if len(clusters) == 0 {
		return 0, 0
	}

	for _, c := range clusters {
		active += c.Active
		freq = math.Max(freq, c.FreqMHz)
	}

	return active / float64(len(clusters)), freq
}

func displayFreq(hz float64) float64 {
	switch {
	case hz <= 0:
		return 0
	case hz >= hzThreshold:
		return math.Round(hz / 1_000_000)
	default:
		return math.Round(hz)
	}
}

// activePercent converts an idle ratio (0..1, or a percent when above 1)
// into an active percentage.
func activePercent(idle float64) float64 {
	ratio := idle
	if ratio > 1 {
		ratio /= 100
	}
	ratio = math.Min(math.Max(ratio, 0), 1)

	return math.Round((1 - ratio) * 100)
}

func clampPercent(v float64) float64 {
	return math.Min(math.Max(v, 0), 100)
}
