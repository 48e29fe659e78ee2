package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"codeberg.org/mutker/socmon/internal/errors"
	"codeberg.org/mutker/socmon/internal/powermetrics"
	"golang.org/x/sys/unix"
)

const (
	stderrLimit = 4 << 10
	// stderrDrain bounds how long Wait keeps reading stderr after the
	// child exits while a descendant still holds the pipe.
	stderrDrain = time.Second
)

// Exit statuses from nice and the shell when the command cannot be run.
const (
	exitNotExecutable = 126
	exitNotFound      = 127
)

// stderr lines that mean the child was never going to run.
var spawnMarkers = []string{
	"sudo:",
	"password is required",
	"superuser",
	"root",
	"operation not permitted",
	"permission denied",
}

// ExecLauncher runs powermetrics as an operating system process.
type ExecLauncher struct {
	Binary   string
	Samplers []string
	Interval time.Duration
	Elevate  bool
}

// Launch resolves the binary and starts the child in its own process
// group so terminal signals reach only the monitor, which then terminates
// the child in order. sudo runs non-interactively; a refusal shows up as
// an exit whose Err carries ErrSpawnFailed.
func (l ExecLauncher) Launch(_ context.Context, output string) (Process, error) {
	binary := l.Binary
	if binary == "" {
		binary = powermetrics.DefaultBinary
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, err
	}

	argv := powermetrics.Command(powermetrics.CommandOptions{
		Binary:   path,
		Samplers: l.Samplers,
		Interval: l.Interval,
		Output:   output,
		Elevate:  l.Elevate,
	})

	p := &execProcess{done: make(chan struct{})}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stderr = &p.stderr
	cmd.WaitDelay = stderrDrain
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p.cmd = cmd

	go func() {
		p.err = p.classify(cmd.Wait())
		close(p.done)
	}()

	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stderr tail
	done   chan struct{}
	err    error
	once   sync.Once
}

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }

func (p *execProcess) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

// Kill sends SIGKILL to the child's whole process group, falling back to
// the child alone.
func (p *execProcess) Kill() error {
	var err error
	p.once.Do(func() {
		if err = unix.Kill(-p.cmd.Process.Pid, unix.SIGKILL); err != nil {
			err = p.cmd.Process.Kill()
		}
	})
	return err
}

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// classify attaches the captured stderr to a failed exit and marks exits
// that mean the utility could not be run at all.
func (p *execProcess) classify(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.TrimSpace(p.stderr.String())
	if msg != "" {
		err = fmt.Errorf("%w: %s", err, msg)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code == exitNotExecutable || code == exitNotFound || (code > 0 && refused(msg)) {
			return errors.New().Wrap(ErrSpawnFailed, err)
		}
	}

	return err
}

func refused(stderr string) bool {
	stderr = strings.ToLower(stderr)
	for _, marker := range spawnMarkers {
		if strings.Contains(stderr, marker) {
			return true
		}
	}
	return false
}

// tail keeps the last stderrLimit bytes written to it. exec copies into
// it from a single goroutine that finishes before Wait returns.
type tail struct {
	buf []byte
}

func (t *tail) Write(b []byte) (int, error) {
	t.buf = append(t.buf, b...)
	if over := len(t.buf) - stderrLimit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(b), nil
}

func (t *tail) String() string {
	return string(t.buf)
}
