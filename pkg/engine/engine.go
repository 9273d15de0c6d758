// Package engine owns the lifetime of one dispatch run: its FIFO set and
// the mapper/splitter/combiner processes it launches. Everything a run
// needs lives on a single value scoped to one Run call; there is no
// process-global state for a signal handler to reach.
package engine

import (
	"fmt"
	"runtime"

	"github.com/elastic/go-sysinfo"
	"github.com/parallelshell/multi/pkg/fifoset"
	"github.com/sirupsen/logrus"
)

// Engine holds the resources for one dispatch run: its FIFO set and
// whatever else needs tearing down when the run ends. Close is idempotent
// so a run can call it both on the success path and from a deferred
// cleanup without double-freeing anything.
type Engine struct {
	log   *logrus.Entry
	fifos *fifoset.Set
}

// New creates the FIFO set backing a run with numMapper slots, under
// tempDirBase (the system default if empty), and logs a one-line host
// fingerprint at startup.
func New(log *logrus.Entry, tempDirBase string, numMapper int) (*Engine, error) {
	logHostFingerprint(log)

	fifos, err := fifoset.Create(tempDirBase, numMapper)
	if err != nil {
		return nil, fmt.Errorf("unable to create FIFO set: %w", err)
	}
	log.WithField("dir", fifos.Dir()).Debugf("created %d mapper FIFO pairs", numMapper)

	return &Engine{log: log, fifos: fifos}, nil
}

// FIFOs returns the run's FIFO set.
func (e *Engine) FIFOs() *fifoset.Set {
	return e.fifos
}

// Close tears down the run's FIFO directory. It is safe to call more than
// once.
func (e *Engine) Close() error {
	if e.fifos == nil {
		return nil
	}
	return e.fifos.Close()
}

func logHostFingerprint(log *logrus.Entry) {
	host, err := sysinfo.Host()
	if err != nil {
		log.WithError(err).Debug("unable to read host info")
		return
	}
	info := host.Info()
	log.WithFields(logrus.Fields{
		"os":   info.OS.Name,
		"arch": info.Architecture,
		"cpus": runtime.NumCPU(),
	}).Debug("starting dispatch")
}
