package pipeline_test

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"

	"codeberg.org/mutker/socmon/internal/aggregate"
	socerrors "codeberg.org/mutker/socmon/internal/errors"
	"codeberg.org/mutker/socmon/internal/pipeline"
	"codeberg.org/mutker/socmon/internal/powermetrics"
	"codeberg.org/mutker/socmon/internal/sample"
	"codeberg.org/mutker/socmon/internal/snapshot"
	"codeberg.org/mutker/socmon/internal/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventually = 5 * time.Second

type harness struct {
	sup    *fakeSupervisor
	store  *snapshot.Store
	driver *pipeline.Driver
	cancel context.CancelFunc
	done   chan error
}

func newHarness(t *testing.T, sup *fakeSupervisor, opts ...pipeline.Option) *harness {
	t.Helper()
	store := snapshot.NewStore()
	opts = append([]pipeline.Option{pipeline.WithPollTimeout(5*time.Millisecond)}, opts...)
	d := pipeline.New(sup, powermetrics.NewParser(powermetrics.Options{}), aggregate.New(30*time.Second), store, opts...)
	sup.driver = d
	return &harness{sup: sup, store: store, driver: d}
}

func (h *harness) run(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan error, 1)
	go func() { h.done <- h.driver.Run(ctx) }()
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(eventually):
		t.Fatal("driver did not return")
		return nil
	}
}

func TestDriverAggregatesRecords(t *testing.T) {
	h := newHarness(t, newFakeSupervisor())
	h.sup.push(record(at(0), 1000) + record(at(1), 2000))
	h.run(context.Background())

	require.Eventually(t, func() bool { return h.store.Load().Generation() == 2 }, eventually, time.Millisecond)
	assert.Equal(t, pipeline.StateRunning, h.driver.State())

	h.cancel()
	require.NoError(t, h.wait(t))

	cpu := h.store.Load().Channel(sample.CPUPower)
	assert.InDelta(t, 2000, cpu.Current, 1e-9)
	assert.InDelta(t, 1500, cpu.Average, 1e-9)
	assert.InDelta(t, 2000, cpu.Peak, 1e-9)

	stats := h.driver.Stats()
	assert.Equal(t, uint64(2), stats.Samples)
	assert.Equal(t, uint64(2), stats.Published)
	assert.Zero(t, stats.Malformed)
	assert.Equal(t, 2, h.sup.samples)
}

func TestDriverChunkedRecords(t *testing.T) {
	h := newHarness(t, newFakeSupervisor())
	h.run(context.Background())

	stream := record(at(0), 1000) + record(at(1), 3000)
	for i := 0; i < len(stream); i += 97 {
		h.sup.push(stream[i:min(i+97, len(stream))])
	}

	require.Eventually(t, func() bool { return h.store.Load().Generation() == 2 }, eventually, time.Millisecond)
	h.cancel()
	require.NoError(t, h.wait(t))

	assert.InDelta(t, 2000, h.store.Load().Channel(sample.CPUPower).Average, 1e-9)
}

func TestDriverMalformedRecordKeepsGeneration(t *testing.T) {
	h := newHarness(t, newFakeSupervisor())
	h.sup.push(record(at(0), 1000))
	h.run(context.Background())

	require.Eventually(t, func() bool { return h.store.Load().Generation() == 1 }, eventually, time.Millisecond)

	h.sup.push(withoutPower(at(1)))
	require.Eventually(t, func() bool { return h.driver.Stats().Malformed == 1 }, eventually, time.Millisecond)

	assert.Equal(t, uint64(1), h.store.Load().Generation())
	assert.Equal(t, pipeline.StateRunning, h.driver.State())

	h.cancel()
	require.NoError(t, h.wait(t))
	assert.Equal(t, uint64(1), h.store.Load().Generation())
}

func TestDriverDropsStaleSamples(t *testing.T) {
	h := newHarness(t, newFakeSupervisor())
	h.sup.push(record(at(5), 1000) + record(at(5), 9000) + record(at(4), 9000))
	h.run(context.Background())

	require.Eventually(t, func() bool { return h.driver.Stats().Stale == 2 }, eventually, time.Millisecond)
	h.cancel()
	require.NoError(t, h.wait(t))

	assert.Equal(t, uint64(1), h.store.Load().Generation())
	assert.InDelta(t, 1000, h.store.Load().Channel(sample.CPUPower).Peak, 1e-9)
	assert.Equal(t, 1, h.sup.samples)
}

func TestDriverCancellationShutsDownBeforeStopped(t *testing.T) {
	sup := newFakeSupervisor()
	h := newHarness(t, sup)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup.onPoll = cancel
	sup.push(record(at(0), 1000), record(at(1), 1000))
	h.run(ctx)

	require.NoError(t, h.wait(t))

	alive, shutdowns, _ := sup.snapshot()
	assert.False(t, alive)
	assert.Equal(t, 1, shutdowns)
	assert.Equal(t, pipeline.StateDraining, sup.stateAtShutdown)
	assert.Equal(t, pipeline.StateStopped, h.driver.State())
}

func TestDriverSpawnErrorFails(t *testing.T) {
	sup := newFakeSupervisor()
	sup.startErr = socerrors.New().Wrap(supervisor.ErrSpawnFailed, errors.New("sudo: a password is required"))
	h := newHarness(t, sup)
	h.run(context.Background())

	err := h.wait(t)
	require.Error(t, err)
	assert.True(t, supervisor.IsSpawnError(err))
	assert.Equal(t, pipeline.StateFailed, h.driver.State())

	_, shutdowns, _ := sup.snapshot()
	assert.Equal(t, 1, shutdowns)
}

func TestDriverRecoversFromChildExit(t *testing.T) {
	sup := newFakeSupervisor()
	fatal := socerrors.New().New(supervisor.ErrFatalFailure)
	sup.exitErrs = []error{nil, fatal}
	h := newHarness(t, sup)
	h.sup.push(record(at(0), 1000))
	h.run(context.Background())

	require.Eventually(t, func() bool { return h.store.Load().Generation() == 1 }, eventually, time.Millisecond)

	// Output written just before the crash is still ingested.
	sup.push(record(at(1), 2000))
	sup.crash(errors.New("exit status 1"))
	require.Eventually(t, func() bool { return h.driver.Stats().Restarts == 1 }, eventually, time.Millisecond)
	assert.Equal(t, uint64(2), h.store.Load().Generation())

	sup.crash(errors.New("exit status 1"))
	err := h.wait(t)
	require.ErrorIs(t, err, fatal)
	assert.True(t, supervisor.IsFatal(err))
	assert.Equal(t, pipeline.StateFailed, h.driver.State())

	alive, shutdowns, childExits := sup.snapshot()
	assert.False(t, alive)
	assert.Equal(t, 1, shutdowns)
	assert.Equal(t, 2, childExits)
}

type panickingParser struct{}

func (panickingParser) Feed([]byte) iter.Seq2[sample.Sample, error] { panic("decoder bug") }
func (panickingParser) Reset()                                        {}

func TestDriverShutsDownOnPanic(t *testing.T) {
	sup := newFakeSupervisor()
	sup.push("x")
	d := pipeline.New(sup, panickingParser{}, aggregate.New(time.Second), snapshot.NewStore())

	assert.PanicsWithValue(t, "decoder bug", func() { _ = d.Run(context.Background()) })

	alive, shutdowns, _ := sup.snapshot()
	assert.False(t, alive)
	assert.Equal(t, 1, shutdowns)
	assert.Equal(t, pipeline.StateFailed, d.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "draining", pipeline.StateDraining.String())
	assert.True(t, pipeline.StateFailed.Terminal())
	assert.False(t, pipeline.StateRunning.Terminal())
}
