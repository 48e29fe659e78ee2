package supervisor_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"syscall"
	"time"

	"codeberg.org/mutker/socmon/internal/supervisor"
)

type fakeProcess struct {
	pid        int
	ignoreTerm bool
	ignoreKill bool

	mu      sync.Mutex
	signals []os.Signal
	kills   int
	done    chan struct{}
	once    sync.Once
	err     error
}

func newFakeProcess(pid int) *fakeProcess {
	return &fakeProcess{pid: pid, done: make(chan struct{})}
}

func (p *fakeProcess) Pid() int { return p.pid }

func (p *fakeProcess) Signal(sig os.Signal) error {
	p.mu.Lock()
	p.signals = append(p.signals, sig)
	p.mu.Unlock()
	if sig == syscall.SIGTERM && !p.ignoreTerm {
		p.exit(errors.New("signal: terminated"))
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.kills++
	p.mu.Unlock()
	if !p.ignoreKill {
		p.exit(errors.New("signal: killed"))
	}
	return nil
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *fakeProcess) exit(err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	})
}

func (p *fakeProcess) terms() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, sig := range p.signals {
		if sig == syscall.SIGTERM {
			n++
		}
	}
	return n
}

func (p *fakeProcess) killCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kills
}

// fakeLauncher hands out fakeProcesses and creates the output file the
// way powermetrics would.
type fakeLauncher struct {
	mu        sync.Mutex
	err       error
	outputs   []string
	processes []*fakeProcess
	configure func(*fakeProcess)
}

func (l *fakeLauncher) Launch(_ context.Context, output string) (supervisor.Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	if err := os.WriteFile(output, nil, 0o600); err != nil {
		return nil, err
	}

	p := newFakeProcess(1000 + len(l.processes))
	if l.configure != nil {
		l.configure(p)
	}
	l.outputs = append(l.outputs, output)
	l.processes = append(l.processes, p)
	return p, nil
}

func (l *fakeLauncher) launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.processes)
}

func (l *fakeLauncher) last() *fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.processes[len(l.processes)-1]
}

// fakeClock fires every timer immediately and records the requested
// durations.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	delays []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delays = append(c.delays, d)
	ch := make(chan time.Time, 1)
	ch <- c.now.Add(d)
	return ch
}

func (c *fakeClock) recorded() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

// stoppedClock never fires.
type stoppedClock struct{}

func (stoppedClock) Now() time.Time                       { return time.Unix(0, 1) }
func (stoppedClock) After(time.Duration) <-chan time.Time { return nil }
