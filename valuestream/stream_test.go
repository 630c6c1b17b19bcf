package valuestream_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerkv/ledgerkv/valuestream"
)

func TestMemValue_WriteExtendsAndReadRoundTrips(t *testing.T) {
	t.Parallel()

	v := valuestream.NewMemValue()
	require.NoError(t, v.WriteAt(2, []byte("hello")))

	n, err := v.Length()
	require.NoError(t, err)
	require.EqualValues(t, 7, n)

	buf := make([]byte, 7)
	got, err := v.ReadAt(0, buf)
	require.NoError(t, err)
	require.Equal(t, 7, got)
	require.Equal(t, "\x00\x00hello", string(buf))
}

func TestMemValue_NegativeLengthDeletes(t *testing.T) {
	t.Parallel()

	v := valuestream.NewMemValue()
	require.NoError(t, v.WriteAt(0, []byte("x")))
	require.NoError(t, v.SetLength(-1))

	_, err := v.Length()
	require.ErrorIs(t, err, valuestream.ErrNoSuchValue)

	_, err = v.ReadAt(0, make([]byte, 1))
	require.ErrorIs(t, err, valuestream.ErrNoSuchValue)
}

// TestBufferedReaderRefillPattern: a value of length 10 read through a
// buffer of 4 into a 10-byte destination comes back whole from one Read
// (a destination at least as large as the buffer bypasses it) and the
// next read hits io.EOF.
func TestBufferedReaderRefillPattern(t *testing.T) {
	t.Parallel()

	v := valuestream.NewMemValue()
	require.NoError(t, v.WriteAt(0, []byte("0123456789")))

	r := valuestream.NewInputStream(v, 0, 4)

	var (
		out    []byte
		chunks []int
	)

	buf := make([]byte, 10)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
			chunks = append(chunks, n)
		}

		if err != nil {
			require.ErrorIs(t, err, io.EOF)

			break
		}
	}

	require.Equal(t, "0123456789", string(out))
	require.Equal(t, []int{10}, chunks)

	n, err := r.Read(buf)
	require.Equal(t, 0, n)
	require.ErrorIs(t, err, io.EOF)

	require.NoError(t, r.Close())
}

func TestReaderOnNonexistentValueRaisesNoSuchValue(t *testing.T) {
	t.Parallel()

	v := valuestream.NewMemValue()
	require.NoError(t, v.SetLength(-1))

	r := valuestream.NewInputStream(v, 0, 4)

	_, err := r.Read(make([]byte, 4))
	require.ErrorIs(t, err, valuestream.ErrNoSuchValue)
}

func TestWriter_FlushesOnOverflowAndClose(t *testing.T) {
	t.Parallel()

	v := valuestream.NewMemValue()
	w := valuestream.NewOutputStream(v, 0, 4)

	n, err := w.Write([]byte("0123456789"))
	require.NoError(t, err)
	require.Equal(t, 10, n)

	length, err := v.Length()
	require.NoError(t, err)
	require.EqualValues(t, 8, length, "only full buffer-fills have flushed so far")

	require.NoError(t, w.Close())

	length, err = v.Length()
	require.NoError(t, err)
	require.EqualValues(t, 10, length)

	buf := make([]byte, 10)
	got, err := v.ReadAt(0, buf)
	require.NoError(t, err)
	require.Equal(t, 10, got)
	require.Equal(t, "0123456789", string(buf))
}

func TestStream_CloseIsIdempotentAndRejectsUseAfterClose(t *testing.T) {
	t.Parallel()

	v := valuestream.NewMemValue()
	require.NoError(t, v.WriteAt(0, []byte("abc")))

	r := valuestream.NewInputStream(v, 0, 4)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close(), "closing twice is a no-op")

	_, err := r.Read(make([]byte, 1))
	require.ErrorIs(t, err, valuestream.ErrStreamClosed)

	w := valuestream.NewOutputStream(v, 0, 4)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, err = w.Write([]byte("x"))
	require.ErrorIs(t, err, valuestream.ErrStreamClosed)
}
