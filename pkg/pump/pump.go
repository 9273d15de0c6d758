// Package pump implements the buffered record pump: the atom underlying the
// default (concurrent) splitter and combiner. A pump reads one whole record
// at a time from a shared input under an optional read lock, then emits it
// as a single write under an optional write lock.
package pump

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/docker/go-units"
	"github.com/parallelshell/multi/pkg/delim"
	"github.com/parallelshell/multi/pkg/recordbuf"
	"github.com/sirupsen/logrus"
)

// Recorder receives per-record counters. An engine-wide metrics.Recorder
// satisfies this narrow interface; it is optional (nil disables counting).
type Recorder interface {
	AddIn(label string, records, bytes int)
	AddOut(label string, records, bytes int)
}

// Pump moves records from one descriptor to another. Its zero value is not
// usable; construct one with New.
type Pump struct {
	in          io.Reader
	out         io.Writer
	inMu, outMu *sync.Mutex
	isDelim     delim.Predicate
	log         *logrus.Entry
	label       string
	metrics     Recorder
	buf         *recordbuf.Buffer
}

// Option configures an optional Pump field.
type Option func(*Pump)

// WithReadLock installs the shared read-side mutex. Omit it for an
// uncontended input (the sequential policy never uses pumps; the default
// combiner's per-mapper readers have no read lock since each owns its own
// FIFO).
func WithReadLock(mu *sync.Mutex) Option {
	return func(p *Pump) { p.inMu = mu }
}

// WithWriteLock installs the shared write-side mutex. Omit it for an
// uncontended output.
func WithWriteLock(mu *sync.Mutex) Option {
	return func(p *Pump) { p.outMu = mu }
}

// WithDelimiter overrides the default newline record terminator.
func WithDelimiter(isDelim delim.Predicate) Option {
	return func(p *Pump) { p.isDelim = isDelim }
}

// WithMetrics installs a Recorder for per-record counters.
func WithMetrics(m Recorder) Option {
	return func(p *Pump) { p.metrics = m }
}

// New creates a pump moving records from in to out. label identifies the
// pump in logs and metrics (typically "mapper.<i>").
func New(log *logrus.Entry, label string, in io.Reader, out io.Writer, opts ...Option) *Pump {
	p := &Pump{
		in:      in,
		out:     out,
		isDelim: delim.Newline,
		log:     log,
		label:   label,
		buf:     recordbuf.New(recordbuf.DefaultCapacity),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.buf.SetGrowthLogger(func(from, to int) {
		p.log.Debugf("pump %s: grew record buffer from %s to %s", p.label,
			units.HumanSize(float64(from)), units.HumanSize(float64(to)))
	})
	return p
}

// Run loops reading and writing records until input EOF, a write failure, or
// ctx cancellation. It never returns an error for a clean EOF; a write
// failure or read failure other than EOF is returned so the caller can log
// it, but per the pump's contract a failure here never propagates to sibling
// pumps.
//
// ctx is only observed between records. A pump blocked inside a Read or
// Write is unblocked by whoever owns the descriptor closing it on
// cancellation, which surfaces here as an ordinary read/write error.
func (p *Pump) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, eof, err := p.readRecord()
		if err != nil {
			return fmt.Errorf("pump %s: read failed: %w", p.label, err)
		}

		if n > 0 {
			if err := p.writeRecord(p.buf.Bytes()[:n]); err != nil {
				return fmt.Errorf("pump %s: write failed: %w", p.label, err)
			}
			if p.metrics != nil {
				p.metrics.AddIn(p.label, 1, n)
				p.metrics.AddOut(p.label, 1, n)
			}
		}

		if eof {
			return nil
		}
	}
}

// readRecord reads one record (including its terminating delimiter, if any)
// into p.buf under the read lock, releasing the lock as soon as the record
// is fully assembled. It reads one byte at a time so the lock is held for
// the minimum span needed to keep a single pump's record intact against
// concurrent readers.
func (p *Pump) readRecord() (n int, eof bool, err error) {
	if p.inMu != nil {
		p.inMu.Lock()
		defer p.inMu.Unlock()
	}

	p.buf.Reset()
	var c [1]byte
	for {
		rn, rerr := p.in.Read(c[:])
		if rn == 0 {
			if rerr == io.EOF || rerr == nil {
				return p.buf.Len(), true, nil
			}
			return p.buf.Len(), false, rerr
		}
		p.buf.AppendByte(c[0])
		if p.isDelim(c[0]) {
			return p.buf.Len(), false, nil
		}
	}
}

// writeRecord writes buf to the output under the write lock in a single
// logical write, retrying on short writes so that a record larger than the
// OS pipe atomicity threshold is still delivered whole from the reader's
// perspective.
func (p *Pump) writeRecord(buf []byte) error {
	if p.outMu != nil {
		p.outMu.Lock()
		defer p.outMu.Unlock()
	}

	for len(buf) > 0 {
		n, err := p.out.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}
