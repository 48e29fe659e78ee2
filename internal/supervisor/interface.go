package supervisor

import (
	"context"
	"os"
	"time"
)

// Process is a launched child.
type Process interface {
	Pid() int
	Signal(sig os.Signal) error
	Kill() error
	// Done is closed once the child has exited and been reaped.
	Done() <-chan struct{}
	// Err is the exit status; valid after Done is closed.
	Err() error
}

// Launcher starts the counter process writing to output.
type Launcher interface {
	Launch(ctx context.Context, output string) (Process, error)
}

// Clock abstracts time for backoff and termination waits.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
