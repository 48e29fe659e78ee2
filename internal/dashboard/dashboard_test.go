package dashboard_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"codeberg.org/mutker/socmon/internal/dashboard"
	"codeberg.org/mutker/socmon/internal/logger"
	"codeberg.org/mutker/socmon/internal/sample"
	"codeberg.org/mutker/socmon/internal/snapshot"
	"codeberg.org/mutker/socmon/internal/soc"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testInfo = soc.Info{Name: "Apple M2 Pro", ECores: 4, PCores: 8, GPUCores: 19, CPUMaxPower: 40, GPUMaxPower: 40}

func publish(t *testing.T, store *snapshot.Store, gen uint64, packageMW float64, thermal string) {
	t.Helper()
	latest := sample.Sample{
		Timestamp:       time.Unix(int64(gen), 0),
		Sequence:        gen,
		PackagePower:    packageMW,
		ThermalPressure: thermal,
		MemTotal:        16 << 30,
		Cores:           []sample.Core{{ID: 0, Cluster: "E-Cluster", Active: 10, FreqMHz: 972}},
	}
	channels := map[string]snapshot.Stats{
		sample.PackagePower: {Current: packageMW, Average: packageMW, Peak: packageMW, Entries: 1},
		sample.CPUPower:     {Current: 1500, Average: 1500, Peak: 1500, Entries: 1},
		sample.EClusterUtil: {Current: 10, Average: 10, Peak: 10, Entries: 1},
		sample.MemUsed:      {Current: 8 << 30, Average: 8 << 30, Peak: 8 << 30, Entries: 1},
		sample.CoreUtil(0):  {Current: 10, Average: 10, Peak: 10, Entries: 1},
	}
	require.True(t, store.Publish(snapshot.New(gen, time.Now(), latest, channels)))
}

func TestModelWaitsForFirstSnapshot(t *testing.T) {
	store := snapshot.NewStore()
	m := dashboard.New(dashboard.Options{Source: store, Info: testInfo, Refresh: time.Millisecond})

	view := m.View()
	assert.Contains(t, view, "Apple M2 Pro")
	assert.Contains(t, view, "Waiting for powermetrics")
}

func TestModelRefresh(t *testing.T) {
	store := snapshot.NewStore()
	m := dashboard.New(dashboard.Options{Source: store, Info: testInfo, ShowCores: true, Refresh: time.Millisecond})

	publish(t, store, 1, 2000, "Nominal")
	next, cmd := m.Update(dashboard.TickMsg(time.Now()))
	require.NotNil(t, cmd, "tick reschedules itself")
	m = next.(dashboard.Model)

	assert.Equal(t, uint64(1), m.Generation())
	assert.Equal(t, []float64{2000}, m.PowerHistory())

	view := m.View()
	assert.NotContains(t, view, "Waiting")
	assert.Contains(t, view, "E-CPU")
	assert.Contains(t, view, "core 0")
	assert.Contains(t, view, "2.00W")
	assert.NotContains(t, view, "THROTTLED")

	// Same generation again adds nothing to the history.
	next, _ = m.Update(dashboard.TickMsg(time.Now()))
	m = next.(dashboard.Model)
	assert.Len(t, m.PowerHistory(), 1)

	publish(t, store, 2, 3000, "Heavy")
	next, _ = m.Update(dashboard.TickMsg(time.Now()))
	m = next.(dashboard.Model)
	assert.Equal(t, []float64{2000, 3000}, m.PowerHistory())
	assert.Contains(t, m.View(), "THROTTLED (Heavy)")
}

func TestModelHistoryBounded(t *testing.T) {
	store := snapshot.NewStore()
	m := dashboard.New(dashboard.Options{Source: store, Info: testInfo})

	for gen := uint64(1); gen <= 150; gen++ {
		publish(t, store, gen, float64(gen), "")
		next, _ := m.Update(dashboard.TickMsg(time.Now()))
		m = next.(dashboard.Model)
	}

	history := m.PowerHistory()
	require.Len(t, history, 120)
	assert.Equal(t, 31.0, history[0])
	assert.Equal(t, 150.0, history[119])
}

func TestModelQuitKeys(t *testing.T) {
	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune("q")},
		{Type: tea.KeyEsc},
		{Type: tea.KeyCtrlC},
	} {
		t.Run(key.String(), func(t *testing.T) {
			quits := 0
			m := dashboard.New(dashboard.Options{Source: snapshot.NewStore(), Quit: func() { quits++ }})

			next, cmd := m.Update(key)
			require.NotNil(t, cmd)
			assert.IsType(t, tea.QuitMsg{}, cmd())
			assert.Equal(t, 1, quits)
			assert.Empty(t, next.View())

			_, _ = next.Update(key)
			assert.Equal(t, 1, quits, "quit callback runs once")
		})
	}
}

func TestModelDone(t *testing.T) {
	m := dashboard.New(dashboard.Options{Source: snapshot.NewStore()})
	cause := assert.AnError

	next, cmd := m.Update(dashboard.DoneMsg{Err: cause})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Equal(t, cause, next.(dashboard.Model).Err())
}

func TestSparkline(t *testing.T) {
	assert.Empty(t, dashboard.Sparkline(nil, 10))
	assert.Empty(t, dashboard.Sparkline([]float64{1}, 0))
	assert.Equal(t, "▁▁", dashboard.Sparkline([]float64{0, 0}, 10))
	assert.Equal(t, "▁▄█", dashboard.Sparkline([]float64{0, 50, 100}, 10))
	assert.Equal(t, "▄█", dashboard.Sparkline([]float64{0, 50, 100}, 2))
}

func TestThrottled(t *testing.T) {
	assert.False(t, dashboard.Throttled(""))
	assert.False(t, dashboard.Throttled("Nominal"))
	assert.True(t, dashboard.Throttled("Moderate"))
	assert.True(t, dashboard.Throttled("Heavy"))
}

func TestNewTheme(t *testing.T) {
	assert.Empty(t, string(dashboard.NewTheme(0).Accent))
	assert.Equal(t, "2", string(dashboard.NewTheme(2).Accent))
	assert.Equal(t, "8", string(dashboard.NewTheme(42).Accent))
}

func TestHeadlessEmit(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(zerolog.New(&buf))
	store := snapshot.NewStore()
	h := dashboard.NewHeadless(store, log, time.Millisecond)

	assert.False(t, h.Emit(), "nothing published yet")

	publish(t, store, 1, 2500, "Heavy")
	assert.True(t, h.Emit())
	assert.False(t, h.Emit(), "same generation is logged once")

	line := buf.String()
	assert.Contains(t, line, `"generation":1`)
	assert.Contains(t, line, `"package_w":2.5`)
	assert.Contains(t, line, `"thermal":"Heavy"`)
	assert.Equal(t, 1, strings.Count(line, "\n"))
}

func TestHeadlessRunStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := dashboard.NewHeadless(snapshot.NewStore(), logger.New(zerolog.Nop()), time.Millisecond)

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
