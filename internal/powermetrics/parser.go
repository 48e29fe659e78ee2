// Package powermetrics frames and decodes the property-list stream written
// by the powermetrics utility, and builds its command line.
package powermetrics

import (
	"bytes"
	"iter"
	"time"

	"codeberg.org/mutker/socmon/internal/sample"
)

const (
	// DefaultMaxRecordSize bounds the bytes buffered for one record.
	DefaultMaxRecordSize = 1 << 20
	// DefaultANEMaxPower is the ANE draw treated as 100% utilization, in mW.
	DefaultANEMaxPower = 8000.0
)

var (
	startMarker = []byte("<?xml")
	endMarker   = []byte("</plist>")
)

// Options tunes the parser.
type Options struct {
	MaxRecordSize int
	// Interval converts *_energy readings to power when a record has no
	// elapsed_ns key.
	Interval    time.Duration
	ANEMaxPower float64
}

func (o Options) withDefaults() Options {
	if o.MaxRecordSize <= 0 {
		o.MaxRecordSize = DefaultMaxRecordSize
	}
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.ANEMaxPower <= 0 {
		o.ANEMaxPower = DefaultANEMaxPower
	}
	return o
}

// Parser turns an unbounded chunked byte stream into Samples. It holds at
// most the bytes of the record currently being received. Not safe for
// concurrent use.
type Parser struct {
	opts Options
	buf  []byte
	seq  uint64
	// skipping is set while discarding the tail of an oversized record.
	skipping bool
}

// NewParser returns a Parser.
func NewParser(opts Options) *Parser {
	return &Parser{opts: opts.withDefaults()}
}

// Feed appends chunk to the stream and returns the records it completes.
// Each element is either a Sample or a MalformedRecord error. Records are
// extracted as the sequence is consumed; records left unconsumed when the
// caller stops early are yielded by the next Feed.
func (p *Parser) Feed(chunk []byte) iter.Seq2[sample.Sample, error] {
	p.buf = append(p.buf, chunk...)

	return func(yield func(sample.Sample, error) bool) {
		for {
			record, err, ok := p.next()
			if !ok {
				return
			}
			if err != nil {
				if !yield(sample.Sample{}, err) {
					return
				}
				continue
			}

			s, err := decodeRecord(record, p.opts)
			if err == nil {
				p.seq++
				s.Sequence = p.seq
			}
			if !yield(s, err) {
				return
			}
		}
	}
}

// Reset discards any partially received record.
func (p *Parser) Reset() {
	p.buf = p.buf[:0]
	p.skipping = false
}

// Buffered returns the number of bytes held for the incomplete record.
func (p *Parser) Buffered() int {
	return len(p.buf)
}

// next extracts one framed record from the buffer. ok is false when more
// input is needed.
func (p *Parser) next() (record []byte, err error, ok bool) {
	if p.skipping {
		return p.skip()
	}

	start := bytes.Index(p.buf, startMarker)
	if start < 0 {
		p.keepTail(len(startMarker) - 1)
		return nil, nil, false
	}
	p.consume(start)

	body := p.buf[len(startMarker):]
	end := bytes.Index(body, endMarker)
	restart := bytes.Index(body, startMarker)

	if restart >= 0 && (end < 0 || restart < end) {
		// A new document began before this one closed.
		p.consume(len(startMarker) + restart)
		return nil, malformed(ErrTruncatedRecord, "document restarted before </plist>"), true
	}

	if end < 0 {
		if len(p.buf) > p.opts.MaxRecordSize {
			p.skipping = true
			p.consume(len(startMarker))
			return p.skip()
		}
		return nil, nil, false
	}

	size := len(startMarker) + end + len(endMarker)
	if size > p.opts.MaxRecordSize {
		p.consume(size)
		return nil, malformed(ErrRecordTooLarge, size), true
	}

	record = bytes.Clone(p.buf[:size])
	p.consume(size)

	return record, nil, true
}

// skip discards an oversized record until its end marker, or until a new
// document starts, whichever comes first.
func (p *Parser) skip() (record []byte, err error, ok bool) {
	end := bytes.Index(p.buf, endMarker)
	restart := bytes.Index(p.buf, startMarker)

	switch {
	case restart >= 0 && (end < 0 || restart < end):
		p.consume(restart)
		p.skipping = false
		return nil, malformed(ErrTruncatedRecord, "document restarted before </plist>"), true
	case end >= 0:
		p.consume(end + len(endMarker))
		p.skipping = false
		return nil, malformed(ErrRecordTooLarge, p.opts.MaxRecordSize), true
	default:
		p.keepTail(len(endMarker) - 1)
		return nil, nil, false
	}
}

// consume drops the first n buffered bytes, compacting in place so the
// backing array does not grow with stream length.
func (p *Parser) consume(n int) {
	if n <= 0 {
		return
	}
	k := copy(p.buf, p.buf[n:])
	p.buf = p.buf[:k]
}

func (p *Parser) keepTail(n int) {
	if len(p.buf) > n {
		p.consume(len(p.buf) - n)
	}
}
