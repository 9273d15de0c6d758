// Package fifoset manages the temporary directory and named pipes used to
// fan records out to mapper processes and merge their output back. It is
// POSIX-only: named pipes have no portable Windows equivalent, and this
// dispatcher never targets Windows.
package fifoset

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Pair is one mapper's pipe pair: in is the path a mapper command reads its
// records from, out is the path a mapper command writes results to.
type Pair struct {
	In, Out string
}

// Set is a tmpdir full of FIFO pairs, one per mapper slot. Per-slot creation
// failures are tolerated: a failed slot's Pair fields are left empty and the
// caller skips it rather than failing the whole run for one bad pipe.
type Set struct {
	dir   string
	pairs []Pair
}

// Create allocates a fresh temporary directory under base (os.TempDir() if
// base is empty) named "multi-<k>" for the smallest non-negative k that does
// not already exist, then creates n in/out FIFO pairs inside it.
func Create(base string, n int) (*Set, error) {
	if base == "" {
		base = os.TempDir()
	}

	dir, err := mkTempDir(base)
	if err != nil {
		return nil, err
	}

	s := &Set{dir: dir, pairs: make([]Pair, n)}
	for i := 0; i < n; i++ {
		in := filepath.Join(dir, fmt.Sprintf("in_%d", i))
		out := filepath.Join(dir, fmt.Sprintf("out_%d", i))
		if err := unix.Mkfifo(in, 0600); err != nil {
			continue
		}
		if err := unix.Mkfifo(out, 0600); err != nil {
			os.Remove(in)
			continue
		}
		s.pairs[i] = Pair{In: in, Out: out}
	}
	return s, nil
}

// mkTempDir loops creating "<base>/multi-<k>" with mode 0700 for increasing k
// until one succeeds, so concurrent runs get the smallest free suffix
// rather than a random one.
func mkTempDir(base string) (string, error) {
	for k := 0; k < 1<<20; k++ {
		dir := filepath.Join(base, fmt.Sprintf("multi-%d", k))
		if err := os.Mkdir(dir, 0700); err == nil {
			return dir, nil
		} else if !os.IsExist(err) {
			return "", fmt.Errorf("unable to create temporary directory %s: %w", dir, err)
		}
	}
	return "", fmt.Errorf("exhausted temporary directory namespace under %s", base)
}

// Pairs returns the slot pairs in order. A slot whose FIFOs failed to create
// has both fields empty.
func (s *Set) Pairs() []Pair {
	return s.pairs
}

// Dir returns the backing temporary directory.
func (s *Set) Dir() string {
	return s.dir
}

// Close removes the temporary directory and everything in it. It is safe to
// call more than once.
func (s *Set) Close() error {
	if s.dir == "" {
		return nil
	}
	err := os.RemoveAll(s.dir)
	s.dir = ""
	return err
}
