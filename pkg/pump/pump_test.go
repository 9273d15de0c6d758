package pump

import (
	"context"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l.WithField("test", true)
}

func TestPumpCopiesRecords(t *testing.T) {
	inR, inW, err := os.Pipe()
	require.NoError(t, err)
	outR, outW, err := os.Pipe()
	require.NoError(t, err)

	p := New(discardLogger(), "mapper.0", inR, outW)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	_, err = inW.WriteString("alpha\nbeta\n")
	require.NoError(t, err)
	require.NoError(t, inW.Close())

	got := make([]byte, 0, 16)
	buf := make([]byte, 16)
	for len(got) < len("alpha\nbeta\n") {
		n, rerr := outR.Read(buf)
		got = append(got, buf[:n]...)
		if rerr != nil {
			break
		}
	}
	require.Equal(t, "alpha\nbeta\n", string(got))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not exit after input EOF")
	}
}

func TestPumpHandlesUnterminatedFinalRecord(t *testing.T) {
	inR, inW, err := os.Pipe()
	require.NoError(t, err)
	outR, outW, err := os.Pipe()
	require.NoError(t, err)

	p := New(discardLogger(), "mapper.0", inR, outW)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	_, err = inW.WriteString("no newline at end")
	require.NoError(t, err)
	require.NoError(t, inW.Close())

	got := make([]byte, 0, 32)
	buf := make([]byte, 32)
	for {
		n, rerr := outR.Read(buf)
		got = append(got, buf[:n]...)
		if rerr != nil {
			break
		}
		if len(got) >= len("no newline at end") {
			break
		}
	}
	require.Equal(t, "no newline at end", string(got))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not exit after input EOF")
	}
}

func TestPumpSharesReadLockWithoutInterleavingRecords(t *testing.T) {
	var readMu sync.Mutex

	inR1, inW1, err := os.Pipe()
	require.NoError(t, err)
	inR2, inW2, err := os.Pipe()
	require.NoError(t, err)
	outR, outW, err := os.Pipe()
	require.NoError(t, err)

	var writeMu sync.Mutex
	p1 := New(discardLogger(), "mapper.0", inR1, outW, WithReadLock(&readMu), WithWriteLock(&writeMu))
	p2 := New(discardLogger(), "mapper.1", inR2, outW, WithReadLock(&readMu), WithWriteLock(&writeMu))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = p1.Run(context.Background()) }()
	go func() { defer wg.Done(); _ = p2.Run(context.Background()) }()

	_, err = inW1.WriteString("one\n")
	require.NoError(t, err)
	require.NoError(t, inW1.Close())
	_, err = inW2.WriteString("two\n")
	require.NoError(t, err)
	require.NoError(t, inW2.Close())

	got := make([]byte, 0, 8)
	buf := make([]byte, 8)
	for len(got) < len("one\ntwo\n") {
		n, rerr := outR.Read(buf)
		got = append(got, buf[:n]...)
		if rerr != nil {
			break
		}
	}

	require.ElementsMatch(t, []byte("one\ntwo\n"), got)
	wg.Wait()
}

type recordingMetrics struct {
	mu   sync.Mutex
	ins  map[string]int
	outs map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{ins: map[string]int{}, outs: map[string]int{}}
}

func (r *recordingMetrics) AddIn(label string, records, bytes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ins[label] += bytes
}

func (r *recordingMetrics) AddOut(label string, records, bytes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outs[label] += bytes
}

func TestPumpRecordsMetrics(t *testing.T) {
	inR, inW, err := os.Pipe()
	require.NoError(t, err)
	outR, outW, err := os.Pipe()
	require.NoError(t, err)

	rec := newRecordingMetrics()
	p := New(discardLogger(), "mapper.0", inR, outW, WithMetrics(rec))

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	_, err = inW.WriteString("hi\n")
	require.NoError(t, err)
	require.NoError(t, inW.Close())

	buf := make([]byte, 8)
	total := 0
	for total < len("hi\n") {
		n, rerr := outR.Read(buf)
		total += n
		if rerr != nil {
			break
		}
	}

	<-done
	require.Equal(t, 3, rec.ins["mapper.0"])
	require.Equal(t, 3, rec.outs["mapper.0"])
}
