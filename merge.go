package ledgerkv

import "github.com/ledgerkv/ledgerkv/mergecursor"

// Merge composes a and b's current content into a single ordered cursor
// per mode (Union, Intersect, or Diff), optionally combining the value of
// a key present on both sides with combine (nil means "a's value wins").
// The returned cursor is a point-in-time snapshot: neither index's later
// mutations are visible through it.
func Merge(a, b *Index, mode mergecursor.Mode, combine mergecursor.Combiner) *mergecursor.MergeCursor {
	return mergecursor.New(a.Cursor(), b.Cursor(), mode, combine)
}
