package dashboard

import (
	"fmt"
	"strings"

	"codeberg.org/mutker/socmon/internal/sample"
	"github.com/charmbracelet/lipgloss"
)

// Throttled reports whether a thermal pressure level means the chip is
// being held back.
func Throttled(pressure string) bool {
	return pressure != "" && !strings.EqualFold(pressure, "Nominal")
}

// View implements tea.Model.
func (model Model) View() string {
	if model.quitting {
		return ""
	}

	var sections []string
	sections = append(sections, model.renderHeader())

	if model.generation == 0 {
		sections = append(sections, model.theme.muted().Render("Waiting for powermetrics..."))
		return lipgloss.JoinVertical(lipgloss.Left, sections...) + "\n"
	}

	sections = append(sections,
		model.renderProcessors(),
		model.renderPower(),
		model.renderMemory(),
		model.theme.muted().Render("q / esc to quit"),
	)

	return lipgloss.JoinVertical(lipgloss.Left, sections...) + "\n"
}

func (model Model) renderHeader() string {
	info := model.opts.Info
	title := fmt.Sprintf("%s (%dE+%dP", info.Name, info.ECores, info.PCores)
	if info.GPUCores > 0 {
		title += fmt.Sprintf("+%dGPU", info.GPUCores)
	}
	title += ")"

	line := model.theme.title().Render(title)
	if model.generation > 0 {
		latest := model.current.Latest()
		if Throttled(latest.ThermalPressure) {
			line += "  " + model.theme.alert().Render("THROTTLED ("+latest.ThermalPressure+")")
		}
	}

	return line
}

func (model Model) gauge(label string, percent float64, detail string) string {
	return fmt.Sprintf("%-12s %s %3.0f%% %s",
		label,
		model.theme.accent().Render(bar(percent, barWidth)),
		percent,
		model.theme.muted().Render(detail))
}

func (model Model) renderProcessors() string {
	snap := model.current
	latest := snap.Latest()

	lines := []string{
		model.gauge("E-CPU", snap.Channel(sample.EClusterUtil).Current,
			fmt.Sprintf("%.0f MHz", latest.ECluster.FreqMHz)),
		model.gauge("P-CPU", snap.Channel(sample.PClusterUtil).Current,
			fmt.Sprintf("%.0f MHz", latest.PCluster.FreqMHz)),
	}

	if model.opts.ShowCores {
		for _, c := range latest.Cores {
			lines = append(lines, model.gauge(fmt.Sprintf("  core %d", c.ID),
				snap.Channel(sample.CoreUtil(c.ID)).Current,
				fmt.Sprintf("%.0f MHz", c.FreqMHz)))
		}
	}

	lines = append(lines,
		model.gauge("GPU", snap.Channel(sample.GPUUtil).Current,
			fmt.Sprintf("%.0f MHz", latest.GPUFreqMHz)),
		model.gauge("ANE", snap.Channel(sample.ANEUtil).Current,
			watts(latest.ANEPower)),
	)

	return strings.Join(lines, "\n")
}

func (model Model) powerLine(label, key string, capWatts float64) string {
	stats := model.current.Channel(key)
	line := fmt.Sprintf("%-12s %8s  avg %8s  peak %8s",
		label, watts(stats.Current), watts(stats.Average), watts(stats.Peak))
	if capWatts > 0 {
		line += model.theme.muted().Render(fmt.Sprintf("  %3.0f%% of %.0fW", percentOf(stats.Current, capWatts*1000), capWatts))
	}
	return line
}

func (model Model) renderPower() string {
	info := model.opts.Info
	lines := []string{
		model.theme.title().Render(fmt.Sprintf("Power (avg over %s)", model.opts.AvgWindow)),
		model.powerLine("CPU", sample.CPUPower, info.CPUMaxPower),
		model.powerLine("GPU", sample.GPUPower, info.GPUMaxPower),
		model.powerLine("ANE", sample.ANEPower, 0),
		model.powerLine("Package", sample.PackagePower, 0),
	}

	width := min(historyLimit, max(model.width-14, 10))
	lines = append(lines, fmt.Sprintf("%-12s %s", "", model.theme.accent().Render(Sparkline(model.power.values, width))))

	return strings.Join(lines, "\n")
}

func (model Model) renderMemory() string {
	snap := model.current
	latest := snap.Latest()

	used := snap.Channel(sample.MemUsed).Current
	lines := []string{
		model.gauge("RAM", percentOf(used, float64(latest.MemTotal)),
			fmt.Sprintf("%s / %s", bytesHuman(used), bytesHuman(float64(latest.MemTotal)))),
	}
	if latest.SwapTotal > 0 {
		swap := snap.Channel(sample.SwapUsed).Current
		lines = append(lines, model.gauge("Swap", percentOf(swap, float64(latest.SwapTotal)),
			fmt.Sprintf("%s / %s", bytesHuman(swap), bytesHuman(float64(latest.SwapTotal)))))
	}

	if snap.Has(sample.NetIn) {
		lines = append(lines,
			fmt.Sprintf("%-12s in %10s  out %10s", "Network",
				rateHuman(snap.Channel(sample.NetIn).Current), rateHuman(snap.Channel(sample.NetOut).Current)),
			fmt.Sprintf("%-12s read %8s  write %8s", "Disk",
				rateHuman(snap.Channel(sample.DiskRead).Current), rateHuman(snap.Channel(sample.DiskWrite).Current)),
		)
	}

	return strings.Join(lines, "\n")
}
