// Package combine implements the two record-merge policies that mirror
// split's fan-out policies: the default (concurrent) combiner and the
// sequential (strict round-robin) combiner.
package combine

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

// errMissingSlot mirrors the splitter's: the rotation cannot skip a dead
// slot without reordering everyone else's records.
var errMissingSlot = errors.New("sequential combiner requires every mapper slot to be usable")

// Default merges every non-nil mapper output in outs onto stdout. Each slot
// runs its own pump reading its own FIFO (no read lock needed since only one
// pump ever reads it), all of them sharing one write lock so two mappers'
// records are never interleaved mid-record on stdout. As in split.Default, a
// single slot's failure only stops that slot.
func Default(ctx context.Context, log *logrus.Entry, outs []*os.File, stdout io.Writer, rec pump.Recorder) error {
	var writeMu sync.Mutex

	g, _ := errgroup.WithContext(ctx)
	for i, out := range outs {
		if out == nil {
			continue
		}
		i, out := i, out
		g.Go(func() error {
			label := fmt.Sprintf("mapper.%d", i)
			p := pump.New(log.WithField("component", "combiner."+fmt.Sprint(i)), label, out, stdout,
				pump.WithWriteLock(&writeMu), pump.WithMetrics(rec))
			if err := p.Run(ctx); err != nil {
				log.WithError(err).Debugf("combiner pump %s stopped", label)
			}
			return nil
		})
	}
	return g.Wait()
}

// Sequential reads one whole record from each mapper output in turn,
// starting at slot 0, writing each to stdout as it arrives. The moment any
// slot in the rotation returns a short read (EOF with no bytes, or an
// error), the whole combiner stops, even though other slots may still have
// records buffered. That is a consequence of strict ordering: preserving
// record order across mappers requires taking each slot's turn in
// lockstep, so a short slot ends the rotation. ctx is observed between
// records; a blocked read returns when the descriptor's owner closes it on
// cancellation.
func Sequential(ctx context.Context, log *logrus.Entry, outs []*os.File, stdout io.Writer, isDelim delim.Predicate) error {
	active := make([]*os.File, 0, len(outs))
	for _, out := range outs {
		if out == nil {
			return errMissingSlot
		}
		active = append(active, out)
	}
	if len(active) == 0 {
		return nil
	}

	readers := make([]*bufio.Reader, len(active))
	for i, out := range active {
		readers[i] = bufio.NewReader(out)
	}

	idx := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		record, err := readRecord(readers[idx], isDelim)
		if len(record) == 0 && err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("sequential combiner: read from slot %d failed: %w", idx, err)
		}

		if _, werr := stdout.Write(record); werr != nil {
			return fmt.Errorf("sequential combiner: write failed: %w", werr)
		}
		if err == io.EOF {
			return nil
		}

		idx = (idx + 1) % len(active)
	}
}

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
