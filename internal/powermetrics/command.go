package powermetrics

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultBinary is where macOS ships the counter utility.
	DefaultBinary = "/usr/bin/powermetrics"
	// OutputPrefix names the transient files powermetrics writes to.
	OutputPrefix = "socmon_powermetrics"

	niceLevel = 10
)

// DefaultSamplers lists the samplers whose keys the decoder understands.
var DefaultSamplers = []string{"cpu_power", "gpu_power", "thermal", "network", "disk"}

// CommandOptions describes one powermetrics invocation.
type CommandOptions struct {
	Binary   string
	Samplers []string
	Interval time.Duration
	Output   string
	// Elevate runs the utility through sudo, which it requires. sudo is
	// run with -n so it fails rather than prompting.
	Elevate bool
}

// Command returns the argv that starts powermetrics at a lowered
// scheduling priority, writing plist records to opts.Output.
func Command(opts CommandOptions) []string {
	binary := opts.Binary
	if binary == "" {
		binary = DefaultBinary
	}
	samplers := opts.Samplers
	if len(samplers) == 0 {
		samplers = DefaultSamplers
	}
	interval := opts.Interval.Milliseconds()
	if interval <= 0 {
		interval = 1000
	}

	var argv []string
	if opts.Elevate {
		argv = append(argv, "sudo", "-n")
	}
	argv = append(argv,
		"nice", "-n", strconv.Itoa(niceLevel),
		binary,
		"--samplers", strings.Join(samplers, ","),
		"-f", "plist",
		"-i", strconv.FormatInt(interval, 10),
		"-o", opts.Output,
	)

	return argv
}

// OutputPath returns a fresh transient output path under dir.
func OutputPath(dir string, now time.Time) string {
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, OutputPrefix+strconv.FormatInt(now.UnixNano(), 10))
}

// CleanupOutputs removes stale transient output files under dir and
// returns how many were removed.
func CleanupOutputs(dir string) (int, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	matches, err := filepath.Glob(filepath.Join(dir, OutputPrefix+"*"))
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, path := range matches {
		if err := os.Remove(path); err == nil {
			removed++
		}
	}
	return removed, nil
}
