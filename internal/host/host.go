// Package host reads memory occupancy and I/O counters from the operating
// system and folds them into samples.
package host

import (
	"context"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/socmon/internal/errors"
	"codeberg.org/mutker/socmon/internal/logger"
	"codeberg.org/mutker/socmon/internal/sample"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
)

const (
	ErrMemoryRead = errors.ErrorCode("host_memory_read_failed")
	ErrIORead     = errors.ErrorCode("host_io_read_failed")

	// minRateInterval keeps rates from being computed over tiny deltas.
	minRateInterval = 100 * time.Millisecond
)

// Source is the subset of gopsutil the Reader depends on.
type Source interface {
	VirtualMemory(ctx context.Context) (*mem.VirtualMemoryStat, error)
	SwapMemory(ctx context.Context) (*mem.SwapMemoryStat, error)
	NetIOCounters(ctx context.Context) ([]net.IOCountersStat, error)
	DiskIOCounters(ctx context.Context) (map[string]disk.IOCountersStat, error)
}

type gopsutilSource struct{}

func (gopsutilSource) VirtualMemory(ctx context.Context) (*mem.VirtualMemoryStat, error) {
	return mem.VirtualMemoryWithContext(ctx)
}

func (gopsutilSource) SwapMemory(ctx context.Context) (*mem.SwapMemoryStat, error) {
	return mem.SwapMemoryWithContext(ctx)
}

func (gopsutilSource) NetIOCounters(ctx context.Context) ([]net.IOCountersStat, error) {
	return net.IOCountersWithContext(ctx, true)
}

func (gopsutilSource) DiskIOCounters(ctx context.Context) (map[string]disk.IOCountersStat, error) {
	return disk.IOCountersWithContext(ctx)
}

type counters struct {
	netIn, netOut       uint64
	diskRead, diskWrite uint64
}

// Reader samples host counters. Rates are computed from the delta between
// successive calls; the first call has no baseline and reports zeros.
type Reader struct {
	src Source
	now func() time.Time
	log logger.Logger

	mu       sync.Mutex
	last     counters
	lastAt   time.Time
	hasLast  bool
	current  sample.IO
	warnedIO bool
}

// Option configures a Reader.
type Option func(*Reader)

// WithSource replaces the gopsutil-backed source.
func WithSource(src Source) Option {
	return func(r *Reader) { r.src = src }
}

// WithClock overrides the clock used for rate deltas.
func WithClock(now func() time.Time) Option {
	return func(r *Reader) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Reader) { r.log = l }
}

// NewReader returns a Reader.
func NewReader(opts ...Option) *Reader {
	r := &Reader{
		src: gopsutilSource{},
		now: time.Now,
		log: logger.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With("host")
	return r
}

// Memory returns physical memory and swap occupancy. Used memory is total
// minus available.
func (r *Reader) Memory(ctx context.Context) (sample.Memory, error) {
	errFactory := errors.New()

	vm, err := r.src.VirtualMemory(ctx)
	if err != nil {
		return sample.Memory{}, errFactory.Wrap(ErrMemoryRead, err)
	}
	swap, err := r.src.SwapMemory(ctx)
	if err != nil {
		return sample.Memory{}, errFactory.Wrap(ErrMemoryRead, err)
	}

	used := uint64(0)
	if vm.Total > vm.Available {
		used = vm.Total - vm.Available
	}

	return sample.Memory{
		Used:      used,
		Total:     vm.Total,
		SwapUsed:  swap.Used,
		SwapTotal: swap.Total,
	}, nil
}

// IO returns network and disk throughput in bytes per second since the
// previous call. Calls closer together than 100ms return the previous
// rates.
func (r *Reader) IO(ctx context.Context) (sample.IO, error) {
	errFactory := errors.New()

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if r.hasLast && now.Sub(r.lastAt) < minRateInterval {
		return r.current, nil
	}

	nics, err := r.src.NetIOCounters(ctx)
	if err != nil {
		return sample.IO{}, errFactory.Wrap(ErrIORead, err)
	}
	disks, err := r.src.DiskIOCounters(ctx)
	if err != nil {
		return sample.IO{}, errFactory.Wrap(ErrIORead, err)
	}

	var c counters
	for _, nic := range nics {
		if strings.HasPrefix(nic.Name, "lo") {
			continue
		}
		c.netIn += nic.BytesRecv
		c.netOut += nic.BytesSent
	}
	for _, d := range disks {
		c.diskRead += d.ReadBytes
		c.diskWrite += d.WriteBytes
	}

	if r.hasLast {
		secs := now.Sub(r.lastAt).Seconds()
		r.current = sample.IO{
			NetIn:     rate(c.netIn, r.last.netIn, secs),
			NetOut:    rate(c.netOut, r.last.netOut, secs),
			DiskRead:  rate(c.diskRead, r.last.diskRead, secs),
			DiskWrite: rate(c.diskWrite, r.last.diskWrite, secs),
		}
	}

	r.last = c
	r.lastAt = now
	r.hasLast = true

	return r.current, nil
}

// Enrich returns s with host memory and, when the record did not carry
// its own I/O counters, host I/O rates. Read failures leave the
// corresponding fields untouched.
func (r *Reader) Enrich(ctx context.Context, s sample.Sample) sample.Sample {
	if m, err := r.Memory(ctx); err == nil {
		s = s.WithMemory(m)
	} else {
		r.log.Debug().Err(err).Msg("Memory read failed")
	}

	if s.HasIO {
		return s
	}
	io, err := r.IO(ctx)
	if err != nil {
		if !r.warnedIO {
			r.log.Warn().Err(err).Msg("I/O counters unavailable")
			r.warnedIO = true
		}
		return s
	}

	return s.WithIO(io)
}

// rate treats a counter that went backwards as a reset.
func rate(current, previous uint64, secs float64) float64 {
	if current <= previous || secs <= 0 {
		return 0
	}
	return float64(current-previous) / secs
}
