// Package pipeline sequences the supervisor, parser and aggregator into
// one producer loop that publishes snapshots.
package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/socmon/internal/logger"
	"codeberg.org/mutker/socmon/internal/sample"
	"codeberg.org/mutker/socmon/internal/snapshot"
)

// DefaultPollTimeout bounds each wait for output so cancellation is
// noticed promptly.
const DefaultPollTimeout = 250 * time.Millisecond

// Stats are the driver's counters.
type Stats struct {
	Samples   uint64
	Malformed uint64
	// Stale counts samples dropped for not advancing the timestamp.
	Stale     uint64
	Restarts  uint64
	Published uint64
}

// Option configures a Driver.
type Option func(*Driver)

// WithPollTimeout sets the output readiness timeout.
func WithPollTimeout(d time.Duration) Option {
	return func(dr *Driver) {
		if d > 0 {
			dr.pollTimeout = d
		}
	}
}

// WithEnricher folds host readings into every sample before ingestion.
func WithEnricher(e Enricher) Option {
	return func(dr *Driver) { dr.enricher = e }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(dr *Driver) { dr.log = l }
}

// Driver runs the sampling pipeline. Run is called once; State and Stats
// may be read concurrently.
type Driver struct {
	sup      Supervisor
	parser   Parser
	agg      Aggregator
	store    *snapshot.Store
	enricher Enricher

	pollTimeout time.Duration
	log         logger.Logger

	state     atomic.Int32
	samples   atomic.Uint64
	malformed atomic.Uint64
	stale     atomic.Uint64
	restarts  atomic.Uint64
	published atomic.Uint64
}

// New returns a Driver in the Starting state.
func New(sup Supervisor, parser Parser, agg Aggregator, store *snapshot.Store, opts ...Option) *Driver {
	d := &Driver{
		sup:         sup,
		parser:      parser,
		agg:         agg,
		store:       store,
		pollTimeout: DefaultPollTimeout,
		log:         logger.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With("pipeline")
	return d
}

// State returns the current lifecycle phase.
func (d *Driver) State() State {
	return State(d.state.Load())
}

// Stats returns a copy of the counters.
func (d *Driver) Stats() Stats {
	return Stats{
		Samples:   d.samples.Load(),
		Malformed: d.malformed.Load(),
		Stale:     d.stale.Load(),
		Restarts:  d.restarts.Load(),
		Published: d.published.Load(),
	}
}

// Run drives the pipeline until ctx is cancelled or a fatal error occurs.
// The child has been shut down by the time Run returns, on every path
// including a panic. Cancellation yields nil; anything else is returned
// with the driver in the Failed state.
func (d *Driver) Run(ctx context.Context) error {
	defer func() {
		if r := recover(); r != nil {
			if err := d.sup.Shutdown(); err != nil {
				d.log.Error().Err(err).Msg("Shutdown after panic failed")
			}
			d.transition(StateFailed)
			panic(r)
		}
	}()

	d.transition(StateStarting)
	if err := d.sup.Start(ctx); err != nil {
		if ctx.Err() != nil {
			return d.drain()
		}
		return d.fail(err)
	}
	d.transition(StateRunning)

	for {
		if ctx.Err() != nil {
			return d.drain()
		}

		if _, err := d.pump(ctx); err != nil {
			if ctx.Err() != nil {
				return d.drain()
			}
			return d.fail(err)
		}

		select {
		case <-d.sup.Exited():
			if err := d.recoverChild(ctx); err != nil {
				if ctx.Err() != nil {
					return d.drain()
				}
				return d.fail(err)
			}
			continue
		default:
		}

		if err := d.sup.Wait(ctx, d.pollTimeout); err != nil {
			return d.drain()
		}
	}
}

// pump moves all available output through the parser and aggregator. It
// stops early, reporting restarted, once a scheduled restart replaced the
// child.
func (d *Driver) pump(ctx context.Context) (restarted bool, err error) {
	for chunk := range d.sup.PollOutput() {
		for s, err := range d.parser.Feed(chunk) {
			if err != nil {
				d.malformed.Add(1)
				d.log.Warn().Err(err).Uint64("malformed", d.malformed.Load()).Msg("Dropped malformed record")
				continue
			}

			restarted, err := d.handle(ctx, s)
			if err != nil || restarted {
				return restarted, err
			}
		}
	}
	return false, nil
}

func (d *Driver) handle(ctx context.Context, s sample.Sample) (bool, error) {
	if d.enricher != nil {
		s = d.enricher.Enrich(ctx, s)
	}

	if !d.agg.Ingest(s) {
		d.stale.Add(1)
		d.log.Debug().Time("timestamp", s.Timestamp).Msg("Dropped stale sample")
		return false, nil
	}
	d.samples.Add(1)

	if d.store.Publish(d.agg.Snapshot()) {
		d.published.Add(1)
	}

	restarted, err := d.sup.OnSampleEmitted(ctx)
	if restarted {
		d.transition(StateRestarting)
		d.parser.Reset()
		d.restarts.Add(1)
	}
	if err != nil {
		return restarted, err
	}
	if restarted {
		d.transition(StateRunning)
	}

	return restarted, nil
}

// recoverChild handles an unexpected child exit after draining what it
// wrote. A drain that reaches max_count has already started the
// replacement, so the exit is not treated as a failure.
func (d *Driver) recoverChild(ctx context.Context) error {
	restarted, err := d.pump(ctx)
	if err != nil || restarted {
		return err
	}

	d.transition(StateRestarting)
	if err := d.sup.OnChildExit(ctx, d.sup.ExitStatus()); err != nil {
		return err
	}
	d.parser.Reset()
	d.restarts.Add(1)
	d.transition(StateRunning)

	return nil
}

func (d *Driver) drain() error {
	d.transition(StateDraining)
	if err := d.sup.Shutdown(); err != nil {
		d.transition(StateFailed)
		return err
	}
	d.transition(StateStopped)
	return nil
}

func (d *Driver) fail(cause error) error {
	if err := d.sup.Shutdown(); err != nil {
		d.log.Error().Err(err).Msg("Shutdown failed")
	}
	d.transition(StateFailed)
	d.log.Error().Err(cause).Msg("Pipeline failed")
	return cause
}

func (d *Driver) transition(to State) {
	from := State(d.state.Swap(int32(to)))
	if from != to {
		d.log.Debug().Str("from", from.String()).Str("to", to.String()).Msg("State changed")
	}
}
