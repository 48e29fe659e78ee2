package pipeline_test

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"codeberg.org/mutker/socmon/internal/pipeline"
)

// record renders a minimal well-formed powermetrics document.
func record(ts time.Time, cpuPower float64) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<plist version="1.0">
<dict>
<key>timestamp</key><date>%s</date>
<key>processor</key>
<dict>
<key>clusters</key><array/>
<key>cpu_power</key><real>%g</real>
<key>gpu_power</key><real>100</real>
<key>ane_power</key><real>0</real>
<key>combined_power</key><real>%g</real>
</dict>
<key>gpu</key><dict><key>idle_ratio</key><real>0.5</real></dict>
</dict>
</plist>
`, ts.UTC().Format(time.RFC3339), cpuPower, cpuPower+100) + "\x00"
}

// withoutPower renders a document missing processor.cpu_power.
func withoutPower(ts time.Time) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<plist version="1.0">
<dict>
<key>timestamp</key><date>%s</date>
<key>processor</key>
<dict>
<key>clusters</key><array/>
<key>gpu_power</key><real>100</real>
<key>ane_power</key><real>0</real>
<key>combined_power</key><real>100</real>
</dict>
<key>gpu</key><dict><key>idle_ratio</key><real>0.5</real></dict>
</dict>
</plist>
`, ts.UTC().Format(time.RFC3339)) + "\x00"
}

var epoch = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return epoch.Add(time.Duration(sec) * time.Second)
}

type fakeSupervisor struct {
	mu      sync.Mutex
	pending [][]byte
	notify  chan struct{}
	exited  chan struct{}
	status  error
	alive   bool

	startErr error
	exitErrs []error
	onPoll   func()

	driver          *pipeline.Driver
	stateAtShutdown pipeline.State

	starts     int
	childExits int
	samples    int
	shutdowns  int
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{notify: make(chan struct{}, 1)}
}

func (f *fakeSupervisor) push(chunks ...string) {
	f.mu.Lock()
	for _, c := range chunks {
		f.pending = append(f.pending, []byte(c))
	}
	f.mu.Unlock()
	select {
	case f.notify <- struct{}{}:
	default:
	}
}

func (f *fakeSupervisor) crash(status error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
	f.alive = false
	close(f.exited)
}

func (f *fakeSupervisor) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.exited = make(chan struct{})
	f.alive = true
	return nil
}

func (f *fakeSupervisor) PollOutput() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		f.mu.Lock()
		chunks := f.pending
		f.pending = nil
		onPoll := f.onPoll
		f.mu.Unlock()

		for _, c := range chunks {
			if !yield(c) {
				return
			}
			if onPoll != nil {
				onPoll()
			}
		}
	}
}

func (f *fakeSupervisor) Wait(ctx context.Context, timeout time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.notify:
	case <-f.Exited():
	case <-time.After(timeout):
	}
	return nil
}

func (f *fakeSupervisor) Exited() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exited
}

func (f *fakeSupervisor) ExitStatus() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeSupervisor) OnSampleEmitted(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples++
	return false, nil
}

func (f *fakeSupervisor) OnChildExit(_ context.Context, _ error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.childExits++

	var err error
	if len(f.exitErrs) > 0 {
		err, f.exitErrs = f.exitErrs[0], f.exitErrs[1:]
	}
	if err != nil {
		return err
	}
	f.starts++
	f.exited = make(chan struct{})
	f.alive = true
	return nil
}

func (f *fakeSupervisor) Shutdown() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns++
	if f.driver != nil {
		f.stateAtShutdown = f.driver.State()
	}
	f.alive = false
	return nil
}

func (f *fakeSupervisor) snapshot() (alive bool, shutdowns, childExits int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive, f.shutdowns, f.childExits
}
