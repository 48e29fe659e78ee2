// Package supervisor owns the lifecycle of the powermetrics child: spawning
// it, tailing its output file, restarting it on schedule or after a crash,
// and reclaiming it on every exit path.
package supervisor

import (
	"context"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"codeberg.org/mutker/socmon/internal/errors"
	"codeberg.org/mutker/socmon/internal/logger"
	"codeberg.org/mutker/socmon/internal/powermetrics"
	"github.com/fsnotify/fsnotify"
)

const (
	DefaultMaxRetries  = 5
	DefaultBackoffBase = 500 * time.Millisecond
	DefaultBackoffMax  = 30 * time.Second
	DefaultTermTimeout = 5 * time.Second

	readChunkSize = 64 << 10
)

// Options configures a Supervisor.
type Options struct {
	Launcher Launcher
	// Dir holds the transient output files. Defaults to os.TempDir().
	Dir string
	// MaxCount restarts the child after this many samples; 0 never does.
	MaxCount int
	// MaxRetries is the number of consecutive unexpected exits that are
	// recovered from before giving up.
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	TermTimeout time.Duration
	Clock       Clock
	Logger      logger.Logger
}

func (o Options) withDefaults() Options {
	if o.Dir == "" {
		o.Dir = os.TempDir()
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = DefaultBackoffBase
	}
	if o.BackoffMax < o.BackoffBase {
		o.BackoffMax = max(DefaultBackoffMax, o.BackoffBase)
	}
	if o.TermTimeout <= 0 {
		o.TermTimeout = DefaultTermTimeout
	}
	if o.Clock == nil {
		o.Clock = realClock{}
	}
	if o.Logger == nil {
		o.Logger = logger.Default()
	}
	return o
}

// State describes the current child for logging and tests.
type State struct {
	PID                 int
	Output              string
	Running             bool
	SamplesSinceSpawn   int
	Spawns              int
	Restarts            int
	ConsecutiveFailures int
	LastExit            error
}

// Supervisor manages one child at a time. Its methods are meant to be
// driven from a single goroutine; State may be read from anywhere and
// Shutdown may be called more than once.
type Supervisor struct {
	opts       Options
	log        logger.Logger
	errFactory errors.Factory

	proc    Process
	output  string
	file    *os.File
	watcher *fsnotify.Watcher
	buf     []byte

	mu    sync.Mutex
	state State

	shutdownOnce sync.Once
	shutdownErr  error
	closed       bool
}

// New returns a Supervisor. No child is started until Start.
func New(opts Options) *Supervisor {
	opts = opts.withDefaults()
	return &Supervisor{
		opts:       opts,
		log:        opts.Logger.With("supervisor"),
		errFactory: errors.New(),
		buf:        make([]byte, readChunkSize),
	}
}

// Start launches a fresh child writing to a new transient output file.
// A launch failure is a spawn error and is not retried.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.closed {
		return s.errFactory.New(ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// At most one child exists at a time.
	if err := s.stop(); err != nil {
		return err
	}
	if removed, err := powermetrics.CleanupOutputs(s.opts.Dir); err != nil {
		s.log.Warn().Err(err).Msg("Failed to remove stale output files")
	} else if removed > 0 {
		s.log.Debug().Int("removed", removed).Msg("Removed stale output files")
	}

	output := powermetrics.OutputPath(s.opts.Dir, s.opts.Clock.Now())
	s.watch()

	proc, err := s.opts.Launcher.Launch(ctx, output)
	if err != nil {
		return s.errFactory.Wrap(ErrSpawnFailed, err)
	}

	s.proc = proc
	s.output = output
	s.update(func(st *State) {
		st.PID = proc.Pid()
		st.Output = output
		st.Running = true
		st.SamplesSinceSpawn = 0
		st.Spawns++
	})

	s.log.Info().Int("pid", proc.Pid()).Str("output", output).Msg("Started powermetrics")

	return nil
}

// watch registers the output directory with fsnotify. Without a watcher
// Wait degrades to sleeping for its timeout.
func (s *Supervisor) watch() {
	if s.watcher != nil {
		return
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.log.Warn().Err(err).Msg("File watcher unavailable, polling output")
		return
	}
	if err := w.Add(s.opts.Dir); err != nil {
		s.log.Warn().Err(err).Str("dir", s.opts.Dir).Msg("Failed to watch output directory, polling output")
		_ = w.Close()
		return
	}
	s.watcher = w
}

// PollOutput yields the bytes appended to the output file since the last
// call. The sequence is empty when nothing new has arrived; it never
// blocks beyond a read. A yielded chunk is only valid until the next
// iteration step.
func (s *Supervisor) PollOutput() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		if s.output == "" {
			return
		}
		if s.file == nil {
			f, err := os.Open(s.output)
			if err != nil {
				return
			}
			s.file = f
		}

		for {
			n, err := s.file.Read(s.buf)
			if n > 0 && !yield(s.buf[:n]) {
				return
			}
			if err == io.EOF || (err == nil && n == 0) {
				return
			}
			if err != nil {
				s.log.Warn().Err(err).Str("output", s.output).Msg("Failed to read output")
				return
			}
		}
	}
}

// Wait blocks until the output file changes, the child exits, timeout
// elapses or ctx is done. Only ctx cancellation is reported as an error.
func (s *Supervisor) Wait(ctx context.Context, timeout time.Duration) error {
	timer := s.opts.Clock.After(timeout)

	var events <-chan fsnotify.Event
	var errs <-chan error
	if s.watcher != nil {
		events = s.watcher.Events
		errs = s.watcher.Errors
	}
	name := filepath.Clean(s.output)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.Exited():
			return nil
		case <-timer:
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) == name && (ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				return nil
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.log.Debug().Err(err).Msg("File watcher error")
		}
	}
}

// Exited is closed when the current child exits. It is nil, and so never
// ready, when no child is running.
func (s *Supervisor) Exited() <-chan struct{} {
	if s.proc == nil {
		return nil
	}
	return s.proc.Done()
}

// ExitStatus is the exit error of the current child once Exited is closed.
func (s *Supervisor) ExitStatus() error {
	if s.proc == nil {
		return nil
	}
	return s.proc.Err()
}

// OnSampleEmitted counts a successfully parsed sample. When MaxCount is
// reached the child is restarted once; the caller must then discard any
// partially parsed output.
func (s *Supervisor) OnSampleEmitted(ctx context.Context) (bool, error) {
	var due bool
	s.update(func(st *State) {
		st.SamplesSinceSpawn++
		st.ConsecutiveFailures = 0
		due = s.opts.MaxCount > 0 && st.SamplesSinceSpawn >= s.opts.MaxCount
	})
	if !due {
		return false, nil
	}

	s.log.Info().Int("max_count", s.opts.MaxCount).Msg("Restarting powermetrics")

	if err := s.stop(); err != nil {
		return true, err
	}
	s.update(func(st *State) { st.Restarts++ })

	return true, s.Start(ctx)
}

// OnChildExit handles an unexpected exit of the current child: it backs
// off and starts a new one. Once more than MaxRetries consecutive exits
// occur without a sample in between it returns a fatal failure. An exit
// status carrying ErrSpawnFailed before the first sample is returned as
// is and never retried.
func (s *Supervisor) OnChildExit(ctx context.Context, status error) error {
	s.closeOutput()

	var failures, samples int
	s.update(func(st *State) {
		st.Running = false
		st.LastExit = status
		st.ConsecutiveFailures++
		failures = st.ConsecutiveFailures
		samples = st.SamplesSinceSpawn
	})

	// A child that could not get going (missing binary, refused
	// privileges) fails the same way on every retry.
	if samples == 0 && IsSpawnError(status) {
		s.log.Error().Err(status).Msg("powermetrics could not start")
		return status
	}

	s.log.ErrorWithCode(s.errFactory.Wrap(ErrRecoverableFailure, exitError(status))).
		Int("failures", failures).
		Int("max_retries", s.opts.MaxRetries).
		Msg("powermetrics exited unexpectedly")

	if failures > s.opts.MaxRetries {
		return s.errFactory.Wrap(ErrFatalFailure, s.errFactory.WithData(ErrRetriesExhausted, failures))
	}

	delay := s.backoff(failures)
	s.log.Debug().Dur("delay", delay).Msg("Backing off before restart")
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.opts.Clock.After(delay):
	}

	s.update(func(st *State) { st.Restarts++ })

	return s.Start(ctx)
}

func (s *Supervisor) backoff(failures int) time.Duration {
	delay := s.opts.BackoffBase
	for i := 1; i < failures && delay < s.opts.BackoffMax; i++ {
		delay *= 2
	}
	return min(delay, s.opts.BackoffMax)
}

// Shutdown terminates the child (SIGTERM, then SIGKILL after TermTimeout),
// releases the output file and watcher, and removes transient files. Only
// the first call does any work; later calls return the same result.
func (s *Supervisor) Shutdown() error {
	s.shutdownOnce.Do(func() {
		s.closed = true
		if err := s.stop(); err != nil {
			s.shutdownErr = s.errFactory.Wrap(ErrShutdownFailed, err)
		}

		if s.watcher != nil {
			_ = s.watcher.Close()
			s.watcher = nil
		}
		if _, err := powermetrics.CleanupOutputs(s.opts.Dir); err != nil {
			s.log.Warn().Err(err).Msg("Failed to remove output files")
		}

		if s.shutdownErr != nil {
			s.log.Error().Err(s.shutdownErr).Msg("Shutdown did not reclaim powermetrics")
			return
		}
		s.log.Info().Msg("Supervisor shut down")
	})

	return s.shutdownErr
}

// State returns a copy of the current child state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// stop terminates the current child and waits for it to be reaped.
func (s *Supervisor) stop() error {
	proc := s.proc
	s.closeOutput()
	if proc == nil {
		return nil
	}

	err := s.terminate(proc)
	if err == nil {
		s.proc = nil
		s.update(func(st *State) {
			st.Running = false
			st.PID = 0
			st.LastExit = proc.Err()
		})
	}

	return err
}

func (s *Supervisor) terminate(proc Process) error {
	select {
	case <-proc.Done():
		return nil
	default:
	}

	pid := proc.Pid()
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		s.log.Debug().Err(err).Int("pid", pid).Msg("SIGTERM failed")
	}

	select {
	case <-proc.Done():
		return nil
	case <-s.opts.Clock.After(s.opts.TermTimeout):
	}
	select {
	case <-proc.Done():
		return nil
	default:
	}

	s.log.Warn().Int("pid", pid).Dur("timeout", s.opts.TermTimeout).Msg("powermetrics ignored SIGTERM, killing")
	if err := proc.Kill(); err != nil {
		s.log.Debug().Err(err).Int("pid", pid).Msg("SIGKILL failed")
	}

	select {
	case <-proc.Done():
		return nil
	case <-s.opts.Clock.After(s.opts.TermTimeout):
	}
	select {
	case <-proc.Done():
		return nil
	default:
	}

	return s.errFactory.Wrap(ErrFatalFailure, s.errFactory.WithData(ErrNotReclaimed, pid))
}

func (s *Supervisor) closeOutput() {
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
}

func (s *Supervisor) update(fn func(*State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
}

func exitError(status error) error {
	if status == nil {
		return fmt.Errorf("exit status 0")
	}
	return status
}
