package engine

import "errors"

var (
	// ErrMapperRequired is returned by Validate when no mapper command was
	// supplied; nothing useful can be dispatched without one.
	ErrMapperRequired = errors.New("a mapper command is required")
	// ErrSequentialExternal is returned by Validate when sequential mode is
	// combined with an external splitter or combiner command.
	ErrSequentialExternal = errors.New("sequential mode does not support external splitter/combiner commands")
)

// Options configures a dispatch run. It is the Go-native shape of multi's
// command-line flags.
type Options struct {
	// MapperCmd is the shell command run for every mapper slot, with its
	// own FIFO pair wired directly to its stdin/stdout (unlike
	// SplitterCmd/CombinerCmd, it never sees a "{}" placeholder).
	// Required.
	MapperCmd string
	// NumMapper is the number of mapper slots to fan out to. Defaults to 1
	// if zero or negative.
	NumMapper int
	// SplitterCmd, if non-empty, replaces the built-in splitter with an
	// external shell command. A "{}" in it is replaced with the space-joined
	// mapper input FIFO paths. Incompatible with Sequential.
	SplitterCmd string
	// CombinerCmd, if non-empty, replaces the built-in combiner with an
	// external shell command. A "{}" in it is replaced with the space-joined
	// mapper output FIFO paths. Incompatible with Sequential.
	CombinerCmd string
	// Sequential selects the strict round-robin splitter/combiner instead
	// of the default concurrent, load-balanced ones. It is incompatible
	// with SplitterCmd/CombinerCmd: preserving record order requires the
	// built-in round-robin loop on both sides.
	Sequential bool
	// TempDirBase overrides the parent directory for the run's FIFO
	// directory. Empty selects the system default temporary directory.
	TempDirBase string
	// MetricsFile, if non-empty, writes a Prometheus text-exposition
	// snapshot of per-mapper record/byte counters here on clean shutdown.
	MetricsFile string
	// Verbose raises logging to debug level.
	Verbose bool
}

// Validate normalizes and checks Options, returning an error describing the
// first problem found.
func (o *Options) Validate() error {
	if o.MapperCmd == "" {
		return ErrMapperRequired
	}
	if o.NumMapper <= 0 {
		o.NumMapper = 1
	}
	if o.Sequential && (o.SplitterCmd != "" || o.CombinerCmd != "") {
		return ErrSequentialExternal
	}
	return nil
}
