package dashboard

import (
	"context"
	"time"

	"codeberg.org/mutker/socmon/internal/logger"
	"codeberg.org/mutker/socmon/internal/sample"
)

// Headless logs each new snapshot instead of drawing it.
type Headless struct {
	source  Source
	log     logger.Logger
	refresh time.Duration
	last    uint64
}

// NewHeadless returns a Headless renderer polling source every refresh.
func NewHeadless(source Source, log logger.Logger, refresh time.Duration) *Headless {
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	if log == nil {
		log = logger.Default()
	}
	return &Headless{source: source, log: log.With("dashboard"), refresh: refresh}
}

// Run logs snapshots until ctx is done.
func (h *Headless) Run(ctx context.Context) {
	ticker := time.NewTicker(h.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Emit()
		}
	}
}

// Emit logs the current snapshot if it is newer than the last one logged.
// It reports whether a line was written.
func (h *Headless) Emit() bool {
	snap := h.source.Load()
	if snap.Generation() <= h.last {
		return false
	}
	h.last = snap.Generation()

	latest := snap.Latest()
	pkg := snap.Channel(sample.PackagePower)

	event := h.log.Info().
		Uint64("generation", snap.Generation()).
		Uint64("sequence", latest.Sequence).
		Float64("e_cpu", snap.Channel(sample.EClusterUtil).Current).
		Float64("p_cpu", snap.Channel(sample.PClusterUtil).Current).
		Float64("gpu", snap.Channel(sample.GPUUtil).Current).
		Float64("cpu_w", snap.Channel(sample.CPUPower).Current/1000).
		Float64("gpu_w", snap.Channel(sample.GPUPower).Current/1000).
		Float64("package_w", pkg.Current/1000).
		Float64("package_avg_w", pkg.Average/1000).
		Float64("package_peak_w", pkg.Peak/1000).
		Uint64("mem_used", latest.MemUsed)
	if Throttled(latest.ThermalPressure) {
		event = event.Str("thermal", latest.ThermalPressure)
	}
	event.Msg("Sample")

	return true
}
