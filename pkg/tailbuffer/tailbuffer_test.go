package tailbuffer

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteWithinCapacity(t *testing.T) {
	b := New(16)
	n, err := b.Write([]byte("boom"))
	require.NoError(t, err)
	require.Equal(t, 4, n)

	buf := make([]byte, 16)
	n, err = b.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "boom", string(buf[:n]))
}

func TestWriteEvictsOldest(t *testing.T) {
	b := New(4)
	_, err := b.Write([]byte("ab"))
	require.NoError(t, err)
	_, err = b.Write([]byte("cdef"))
	require.NoError(t, err)

	buf := make([]byte, 8)
	n, err := b.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "cdef", string(buf[:n]))
}

func TestOversizeWriteKeepsTail(t *testing.T) {
	b := New(4)
	n, err := b.Write([]byte("abcdefgh"))
	require.NoError(t, err)
	// The full write is reported even though only the tail is retained.
	require.Equal(t, 8, n)

	buf := make([]byte, 8)
	n, err = b.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "efgh", string(buf[:n]))
}

func TestReadEmptyReturnsEOF(t *testing.T) {
	b := New(4)
	buf := make([]byte, 4)
	n, err := b.Read(buf)
	require.Zero(t, n)
	require.ErrorIs(t, err, io.EOF)
}

func TestReadDrainsInPieces(t *testing.T) {
	b := New(8)
	_, err := b.Write([]byte("stderr"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	n, err := b.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "stde", string(buf[:n]))

	n, err = b.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "rr", string(buf[:n]))

	n, err = b.Read(buf)
	require.Zero(t, n)
	require.ErrorIs(t, err, io.EOF)
}

func TestDrainWithCopy(t *testing.T) {
	b := New(4)
	_, err := b.Write([]byte("asdfg"))
	require.NoError(t, err)

	var out strings.Builder
	n, err := io.Copy(&out, b)
	require.NoError(t, err)
	require.Equal(t, int64(4), n)
	require.Equal(t, "sdfg", out.String())
}
