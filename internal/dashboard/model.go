// Package dashboard renders published snapshots, either as a terminal UI
// or as periodic log lines.
package dashboard

import (
	"time"

	"codeberg.org/mutker/socmon/internal/snapshot"
	"codeberg.org/mutker/socmon/internal/soc"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	// DefaultRefresh is the UI tick, independent of the sampling rate.
	DefaultRefresh = 250 * time.Millisecond

	historyLimit = 120
)

// Source is the read side of the snapshot store.
type Source interface {
	Load() snapshot.Snapshot
}

// Options configures the Model.
type Options struct {
	Source    Source
	Info      soc.Info
	Color     int
	ShowCores bool
	Interval  time.Duration
	AvgWindow time.Duration
	Refresh   time.Duration
	// Quit is called once when the user asks to leave.
	Quit func()
}

// TickMsg triggers a reload of the snapshot store.
type TickMsg time.Time

// DoneMsg tells the model the pipeline has stopped. Err is the reason,
// if any.
type DoneMsg struct {
	Err error
}

// Model is the bubbletea model for the dashboard.
type Model struct {
	opts  Options
	theme Theme

	current    snapshot.Snapshot
	generation uint64
	power      history

	width    int
	quitting bool
	err      error
}

// New returns a Model polling opts.Source.
func New(opts Options) Model {
	if opts.Refresh <= 0 {
		opts.Refresh = DefaultRefresh
	}
	if opts.Quit == nil {
		opts.Quit = func() {}
	}

	return Model{
		opts:  opts,
		theme: NewTheme(opts.Color),
		power: newHistory(historyLimit),
		width: 80,
	}
}

// Init implements tea.Model.
func (model Model) Init() tea.Cmd {
	return model.tick()
}

func (model Model) tick() tea.Cmd {
	return tea.Tick(model.opts.Refresh, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// Update implements tea.Model.
func (model Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.KeyMsg:
		switch message.String() {
		case "q", "esc", "ctrl+c":
			if !model.quitting {
				model.quitting = true
				model.opts.Quit()
			}
			return model, tea.Quit
		}

	case tea.WindowSizeMsg:
		model.width = message.Width

	case TickMsg:
		model = model.refresh()
		return model, model.tick()

	case DoneMsg:
		model.err = message.Err
		model.quitting = true
		return model, tea.Quit
	}

	return model, nil
}

// refresh loads the latest snapshot and records package power once per
// new generation.
func (model Model) refresh() Model {
	snap := model.opts.Source.Load()
	if snap.Generation() <= model.generation {
		return model
	}

	model.current = snap
	model.generation = snap.Generation()
	model.power = model.power.push(snap.Latest().PackagePower)

	return model
}

// Generation is the generation of the snapshot on screen.
func (model Model) Generation() uint64 {
	return model.generation
}

// PowerHistory returns the package power readings kept for the sparkline.
func (model Model) PowerHistory() []float64 {
	return append([]float64(nil), model.power.values...)
}

// Err is the error the pipeline stopped with, if any.
func (model Model) Err() error {
	return model.err
}
