package pipeline

import (
	"context"
	"iter"
	"time"

	"codeberg.org/mutker/socmon/internal/sample"
	"codeberg.org/mutker/socmon/internal/snapshot"
)

// Supervisor owns the counter process.
type Supervisor interface {
	Start(ctx context.Context) error
	PollOutput() iter.Seq[[]byte]
	Wait(ctx context.Context, timeout time.Duration) error
	Exited() <-chan struct{}
	ExitStatus() error
	OnSampleEmitted(ctx context.Context) (restarted bool, err error)
	OnChildExit(ctx context.Context, status error) error
	Shutdown() error
}

// Parser turns output chunks into samples.
type Parser interface {
	Feed(chunk []byte) iter.Seq2[sample.Sample, error]
	Reset()
}

// Aggregator folds samples into snapshots.
type Aggregator interface {
	Ingest(s sample.Sample) bool
	Snapshot() snapshot.Snapshot
}

// Enricher adds host readings to a sample.
type Enricher interface {
	Enrich(ctx context.Context, s sample.Sample) sample.Sample
}
