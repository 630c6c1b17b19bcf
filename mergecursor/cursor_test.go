package mergecursor_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerkv/ledgerkv/mergecursor"
)

func orCombine(_, a, b []byte) ([]byte, bool) {
	return append(append(append([]byte{}, a...), '|'), b...), true
}

// TestIntersectCombinesTheSingleSharedKey: over
// A={1:"a",2:"b"} and B={2:"x",3:"y"} with combine(k,va,vb) = va|vb, a
// forward scan yields exactly (2,"b|x") and ends, and a reverse scan
// starting from the last entries yields the same single pair.
func TestIntersectCombinesTheSingleSharedKey(t *testing.T) {
	t.Parallel()

	t.Run("forward", func(t *testing.T) {
		t.Parallel()

		a := mergecursor.NewMapCursor(map[string]string{"1": "a", "2": "b"})
		b := mergecursor.NewMapCursor(map[string]string{"2": "x", "3": "y"})

		m := mergecursor.New(a, b, mergecursor.Intersect, orCombine)

		ok, err := m.Next()
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "2", string(m.Key()))
		require.Equal(t, "b|x", string(m.Value()))

		ok, err = m.Next()
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("reverse", func(t *testing.T) {
		t.Parallel()

		a := mergecursor.NewMapCursor(map[string]string{"1": "a", "2": "b"})
		b := mergecursor.NewMapCursor(map[string]string{"2": "x", "3": "y"})
		a.Last()
		b.Last()

		m := mergecursor.New(a, b, mergecursor.Intersect, orCombine)

		ok, err := m.Prev()
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "2", string(m.Key()))
		require.Equal(t, "b|x", string(m.Value()))

		ok, err = m.Prev()
		require.NoError(t, err)
		require.False(t, ok)
	})
}

func TestMergeCursor_Union(t *testing.T) {
	t.Parallel()

	a := mergecursor.NewMapCursor(map[string]string{"1": "a", "2": "b"})
	b := mergecursor.NewMapCursor(map[string]string{"2": "x", "3": "y"})

	m := mergecursor.New(a, b, mergecursor.Union, orCombine)

	var got []string

	for {
		ok, err := m.Next()
		require.NoError(t, err)

		if !ok {
			break
		}

		got = append(got, string(m.Key())+"="+string(m.Value()))
	}

	require.Equal(t, []string{"1=a", "2=b|x", "3=y"}, got)
}

func TestMergeCursor_Diff(t *testing.T) {
	t.Parallel()

	a := mergecursor.NewMapCursor(map[string]string{"1": "a", "2": "b", "4": "d"})
	b := mergecursor.NewMapCursor(map[string]string{"2": "x", "3": "y"})

	m := mergecursor.New(a, b, mergecursor.Diff, nil)

	var got []string

	for {
		ok, err := m.Next()
		require.NoError(t, err)

		if !ok {
			break
		}

		got = append(got, string(m.Key()))
	}

	require.Equal(t, []string{"1", "4"}, got)
}
