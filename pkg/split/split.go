// Package split implements the two record-fan-out policies: the default
// (concurrent, load-balanced) splitter and the sequential (strict
// round-robin) splitter.
package split

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/parallelshell/multi/pkg/delim"
	"github.com/parallelshell/multi/pkg/pump"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// errMissingSlot reports a FIFO slot whose creation failed, which the
// round-robin rotation cannot skip without silently changing which mapper
// receives which records.
var errMissingSlot = errors.New("sequential splitter requires every mapper slot to be usable")

// Default fans stdin out to every non-nil mapper input in ins. Each slot
// runs its own pump, all of them competing for records from stdin under one
// shared read lock; whichever mapper pump is free next claims the next
// record. A single slot's write failure is logged and stops only that
// slot's pump, it never cancels its siblings — a jammed mapper shouldn't
// starve the others of work.
func Default(ctx context.Context, log *logrus.Entry, stdin io.Reader, ins []*os.File, rec pump.Recorder) error {
	var readMu sync.Mutex

	g, _ := errgroup.WithContext(ctx)
	for i, in := range ins {
		if in == nil {
			continue
		}
		i, in := i, in
		g.Go(func() error {
			label := fmt.Sprintf("mapper.%d", i)
			p := pump.New(log.WithField("component", "splitter."+fmt.Sprint(i)), label, stdin, in,
				pump.WithReadLock(&readMu), pump.WithMetrics(rec))
			if err := p.Run(ctx); err != nil {
				log.WithError(err).Debugf("splitter pump %s stopped", label)
			}
			return nil
		})
	}
	return g.Wait()
}

// Sequential writes whole records to mapper inputs in strict round-robin
// order: record 0 to slot 0, record 1 to slot 1, and so on, wrapping around
// to slot 0. Slots are not skipped: if any entry of ins is nil (a slot whose
// FIFOs failed to create), it returns errMissingSlot before reading any
// record. It stops at the first write that fails, and the whole splitter
// halts rather than moving on to the next slot. ctx is observed between records;
// a blocked read or write returns when the descriptor's owner closes it on
// cancellation.
func Sequential(ctx context.Context, log *logrus.Entry, stdin io.Reader, ins []*os.File, isDelim delim.Predicate) error {
	active := make([]*os.File, 0, len(ins))
	for _, in := range ins {
		if in == nil {
			return errMissingSlot
		}
		active = append(active, in)
	}
	if len(active) == 0 {
		return nil
	}

	r := bufio.NewReader(stdin)
	idx := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		record, err := readRecord(r, isDelim)
		if len(record) == 0 && err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("sequential splitter: read failed: %w", err)
		}

		if _, werr := active[idx].Write(record); werr != nil {
			return fmt.Errorf("sequential splitter: write to slot %d failed: %w", idx, werr)
		}
		if err == io.EOF {
			return nil
		}

		idx = (idx + 1) % len(active)
	}
}

// readRecord reads bytes from r until isDelim matches or EOF, returning
// whatever was read (including the delimiter byte) alongside the
// terminating error, if any.
func readRecord(r *bufio.Reader, isDelim delim.Predicate) ([]byte, error) {
	var buf []byte
	for {
		c, err := r.ReadByte()
		if err != nil {
			return buf, err
		}
		buf = append(buf, c)
		if isDelim(c) {
			return buf, nil
		}
	}
}
