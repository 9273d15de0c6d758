package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/parallelshell/multi/internal/strutil"
	"github.com/parallelshell/multi/pkg/combine"
	"github.com/parallelshell/multi/pkg/delim"
	"github.com/parallelshell/multi/pkg/fifoset"
	"github.com/parallelshell/multi/pkg/launcher"
	"github.com/parallelshell/multi/pkg/metrics"
	"github.com/parallelshell/multi/pkg/split"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

const placeholder = "{}"

// drainGrace is how long a canceled Run waits for the built-in policy
// goroutines after dropping the FIFO ends out from under them. A pump
// blocked in a read of the caller's own stdin cannot be interrupted from
// here, and the process is exiting anyway.
const drainGrace = 200 * time.Millisecond

// Supervisor runs one dispatch: it starts every mapper, the splitter (built
// in or external), and the combiner (built in or external), then waits for
// the pipeline to drain. It owns no state across calls; everything it needs
// is passed to Run or carried on the Engine it's handed.
type Supervisor struct {
	log     *logrus.Entry
	opts    Options
	metrics *metrics.Recorder
}

// NewSupervisor creates a Supervisor for one run.
func NewSupervisor(log *logrus.Entry, opts Options) *Supervisor {
	return &Supervisor{log: log, opts: opts, metrics: metrics.New()}
}

// Run drives one full dispatch: it launches the mapper processes, the
// splitter (fanning stdin out to them), and the combiner (merging their
// output onto stdout), then blocks until every live role has finished. It
// guarantees every spawned process is torn down before returning, regardless
// of how it exits; the FIFO set belongs to eng and is removed by eng.Close,
// which the caller runs.
//
// Every mapper's own FIFO pair is wired directly to its stdin/stdout (fd 0
// and fd 1); unlike the splitter and combiner, a mapper command never sees a
// {} placeholder. Opening a FIFO end blocks until its peer end is opened,
// which makes start ordering delicate: the built-in splitter must begin as
// soon as every mapper *input* end is open, without waiting for the output
// ends. An external combiner may open the output FIFOs one at a time (cat
// does), so mapper i+1's output open can only complete once mapper i has
// drained — which requires the splitter to already be feeding it.
func (s *Supervisor) Run(ctx context.Context, eng *Engine, stdin io.Reader, stdout io.Writer) error {
	pairs := eng.FIFOs().Pairs()

	var procsMu sync.Mutex
	var procs []*launcher.Handle
	addProc := func(p *launcher.Handle) {
		procsMu.Lock()
		procs = append(procs, p)
		procsMu.Unlock()
	}
	defer func() {
		procsMu.Lock()
		for _, p := range procs {
			_ = p.Close()
		}
		procsMu.Unlock()
		if s.opts.MetricsFile != "" {
			if err := s.metrics.WriteTo(s.opts.MetricsFile); err != nil {
				s.log.WithError(err).Warn("unable to write metrics file")
			}
		}
	}()

	// An external splitter or combiner opens its own end of every mapper
	// FIFO itself (the paths are handed to it via {}); only the built-in
	// policy needs us to hold that end open. Start these now: Start()
	// returns immediately, so this can't deadlock against the mapper opens
	// below even though the external process's own FIFO opens happen on
	// its own time.
	var splitProc, combineProc *launcher.Handle
	if s.opts.SplitterCmd != "" {
		proc, err := s.launchExternalSplitter(ctx, stdin, pairs)
		if err != nil {
			return err
		}
		splitProc = proc
		addProc(proc)
	}
	if s.opts.CombinerCmd != "" {
		proc, err := s.launchExternalCombiner(ctx, stdout, pairs)
		if err != nil {
			return err
		}
		combineProc = proc
		addProc(proc)
	}

	needSplitterWriter := s.opts.SplitterCmd == ""
	needCombinerReader := s.opts.CombinerCmd == ""

	mapperIns := make([]*os.File, len(pairs))  // supervisor's writer end of in_i, for the built-in splitter
	mapperOuts := make([]*os.File, len(pairs)) // supervisor's reader end of out_i, for the built-in combiner
	mappers := make([]*launcher.Handle, len(pairs))

	// insReady/outsReady gate the built-in policies on the corresponding
	// FIFO ends being open, independent of the mapper launches completing.
	var insReady, outsReady sync.WaitGroup

	var og errgroup.Group
	for i, pair := range pairs {
		if pair.In == "" || pair.Out == "" {
			s.log.WithField("slot", i).Warn("skipping mapper slot whose FIFOs failed to create")
			continue
		}
		i, pair := i, pair
		insReady.Add(1)
		outsReady.Add(1)
		og.Go(func() error {
			insDone, outsDone := false, false
			defer func() {
				if !insDone {
					insReady.Done()
				}
				if !outsDone {
					outsReady.Done()
				}
			}()

			// pair.In's reader end is the mapper's own stdin; its writer
			// end (if the built-in splitter needs it) is ours to pump into.
			mapperStdin, splitterWriter, err := openReaderAndWriter(ctx, pair.In, true, needSplitterWriter)
			if err != nil {
				return fmt.Errorf("unable to open mapper %d input: %w", i, err)
			}
			mapperIns[i] = splitterWriter
			insDone = true
			insReady.Done()

			// pair.Out is the reverse: its writer end is the mapper's own
			// stdout; its reader end (if the built-in combiner needs it)
			// is ours to pump from.
			combinerReader, mapperStdout, err := openReaderAndWriter(ctx, pair.Out, needCombinerReader, true)
			if err != nil {
				closeAll(mapperStdin)
				return fmt.Errorf("unable to open mapper %d output: %w", i, err)
			}
			mapperOuts[i] = combinerReader
			outsDone = true
			outsReady.Done()

			s.log.WithField("slot", i).Debugf("launching mapper: %s", strutil.SanitizeForLog(s.opts.MapperCmd))
			proc, err := launcher.Launch(ctx, launcher.RoleMapper, i, s.opts.MapperCmd, mapperStdin, mapperStdout)
			closeAll(mapperStdin, mapperStdout)
			if err != nil {
				return fmt.Errorf("unable to launch mapper %d: %w", i, err)
			}

			addProc(proc)
			mappers[i] = proc
			return nil
		})
	}

	var policyWg sync.WaitGroup
	var splitErr, combineErr error

	if needSplitterWriter {
		policyWg.Add(1)
		go func() {
			defer policyWg.Done()
			insReady.Wait()
			log := s.log.WithField("component", "splitter")
			if s.opts.Sequential {
				splitErr = split.Sequential(ctx, log, stdin, mapperIns, delim.Newline)
			} else {
				splitErr = split.Default(ctx, log, stdin, mapperIns, s.metrics)
			}
			// Closing our end of each mapper's input FIFO signals EOF to
			// the mapper, letting it finish writing its output and exit.
			// This must happen as soon as the splitter itself is done, not
			// after the combiner too, since the combiner is waiting on
			// exactly that exit.
			closeAll(mapperIns...)
		}()
	}

	if needCombinerReader {
		policyWg.Add(1)
		go func() {
			defer policyWg.Done()
			outsReady.Wait()
			log := s.log.WithField("component", "combiner")
			if s.opts.Sequential {
				combineErr = combine.Sequential(ctx, log, mapperOuts, stdout, delim.Newline)
			} else {
				combineErr = combine.Default(ctx, log, mapperOuts, stdout, s.metrics)
			}
			// Same as the splitter's close, mirrored: dropping the read
			// ends delivers EPIPE to any mapper still writing after the
			// combiner has stopped (the sequential combiner stops at the
			// first short channel while peers may still have output).
			closeAll(mapperOuts...)
		}()
	}

	policyDone := make(chan struct{})
	go func() {
		policyWg.Wait()
		close(policyDone)
	}()

	// stopPolicies unblocks the built-in policy goroutines before an early
	// return: closing our FIFO ends makes a pump blocked in a FIFO read or
	// write return immediately. A pump stuck reading the caller's stdin is
	// beyond reach, so after a short grace it is abandoned rather than
	// blocking teardown of the FIFO directory.
	stopPolicies := func() {
		closeAll(mapperIns...)
		closeAll(mapperOuts...)
		select {
		case <-policyDone:
		case <-time.After(drainGrace):
			s.log.Debug("abandoning dispatch goroutines blocked on caller streams")
		}
	}

	if err := og.Wait(); err != nil {
		stopPolicies()
		return err
	}

	select {
	case <-policyDone:
	case <-ctx.Done():
		stopPolicies()
		return ctx.Err()
	}

	for i, proc := range mappers {
		if proc == nil {
			continue
		}
		if err := proc.Command().Wait(); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"slot":        i,
				"stderr_tail": strutil.SanitizeForLog(proc.StderrTail()),
			}).Warn("mapper exited with an error")
		}
	}

	if splitProc != nil {
		if err := splitProc.Command().Wait(); err != nil {
			splitErr = fmt.Errorf("external splitter: %w", err)
		}
	}
	if combineProc != nil {
		if err := combineProc.Command().Wait(); err != nil {
			combineErr = fmt.Errorf("external combiner: %w", err)
		}
	}

	if splitErr != nil {
		return fmt.Errorf("splitter: %w", splitErr)
	}
	if combineErr != nil {
		return fmt.Errorf("combiner: %w", combineErr)
	}
	return nil
}

// launchExternalSplitter starts the splitter command with the mapper input
// FIFO paths substituted for {} and stdin wired to its stdin. stdin is wired
// only when it is an *os.File; any other reader is not passed to the command,
// whose stdin is then the null device.
func (s *Supervisor) launchExternalSplitter(ctx context.Context, stdin io.Reader, pairs []fifoset.Pair) (*launcher.Handle, error) {
	cmd := strutil.ReplaceFirst(s.opts.SplitterCmd, placeholder, strutil.Join(inPaths(pairs), " "))
	proc, err := launcher.Launch(ctx, launcher.RoleSplitter, -1, cmd, toFile(stdin), nil)
	if err != nil {
		return nil, fmt.Errorf("unable to launch external splitter: %w", err)
	}
	return proc, nil
}

// launchExternalCombiner mirrors launchExternalSplitter: stdout is wired to
// the command's stdout, with the mapper output FIFO paths available via {}.
// As with the splitter, stdout is wired only when it is an *os.File; any
// other writer is not passed to the command, whose stdout is then the null
// device.
func (s *Supervisor) launchExternalCombiner(ctx context.Context, stdout io.Writer, pairs []fifoset.Pair) (*launcher.Handle, error) {
	cmd := strutil.ReplaceFirst(s.opts.CombinerCmd, placeholder, strutil.Join(outPaths(pairs), " "))
	proc, err := launcher.Launch(ctx, launcher.RoleCombiner, -1, cmd, nil, toFile(stdout))
	if err != nil {
		return nil, fmt.Errorf("unable to launch external combiner: %w", err)
	}
	return proc, nil
}

func inPaths(pairs []fifoset.Pair) []string {
	paths := make([]string, len(pairs))
	for i, p := range pairs {
		paths[i] = p.In
	}
	return paths
}

func outPaths(pairs []fifoset.Pair) []string {
	paths := make([]string, len(pairs))
	for i, p := range pairs {
		paths[i] = p.Out
	}
	return paths
}

func toFile(rw any) *os.File {
	if f, ok := rw.(*os.File); ok {
		return f
	}
	return nil
}

// openReaderAndWriter opens either or both ends of a FIFO, concurrently,
// giving up when ctx is canceled. Opening one end of a FIFO blocks until its
// peer end is opened, so when both ends are wanted from this same process
// they must be opened in parallel goroutines: opening one before the other
// would block forever waiting for a peer this very call is about to
// provide. An open can also block indefinitely on a peer that never arrives
// (an external splitter that exits without touching its FIFOs); on
// cancellation such opens are released via unblockFIFO so their descriptors
// can be closed instead of leaking past teardown.
func openReaderAndWriter(ctx context.Context, path string, wantReader, wantWriter bool) (*os.File, *os.File, error) {
	var reader, writer *os.File
	var readErr, writeErr error
	var wg sync.WaitGroup

	if wantReader {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reader, readErr = os.OpenFile(path, os.O_RDONLY, 0)
		}()
	}
	if wantWriter {
		wg.Add(1)
		go func() {
			defer wg.Done()
			writer, writeErr = os.OpenFile(path, os.O_WRONLY, 0)
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		unblockFIFO(path)
		<-done
		closeAll(reader, writer)
		return nil, nil, ctx.Err()
	}

	if readErr != nil {
		closeAll(writer)
		return nil, nil, readErr
	}
	if writeErr != nil {
		closeAll(reader)
		return nil, nil, writeErr
	}
	return reader, writer, nil
}

// unblockFIFO releases opens of path that are blocked waiting on a missing
// peer. A non-blocking read open of a FIFO always succeeds and satisfies a
// blocked writer; a non-blocking write open succeeds exactly when a reader
// is present (a blocked read-open counts), satisfying it. The momentary
// descriptors are closed immediately, leaving the released ends to observe
// EOF or EPIPE instead of blocking forever.
func unblockFIFO(path string) {
	if f, err := os.OpenFile(path, os.O_RDONLY|unix.O_NONBLOCK, 0); err == nil {
		_ = f.Close()
	}
	if f, err := os.OpenFile(path, os.O_WRONLY|unix.O_NONBLOCK, 0); err == nil {
		_ = f.Close()
	}
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}
