package mergecursor

import (
	"bytes"
	"sort"
)

// MapCursor is an ordered, in-memory Cursor over a fixed set of key/value
// pairs, sorted ascending by key. It is the test double mergecursor's own
// tests exercise Union/Intersect/Diff against; a future paged index cursor
// would satisfy the same Cursor interface.
type MapCursor struct {
	keys   [][]byte
	values [][]byte
	idx    int // -1 = before first, len(keys) = past last
}

// NewMapCursor builds a MapCursor from pairs, sorting them by key and
// positioning at the first entry (or invalid, if empty).
func NewMapCursor(pairs map[string]string) *MapCursor {
	keys := make([][]byte, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, []byte(k))
	}

	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })

	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = []byte(pairs[string(k)])
	}

	idx := 0
	if len(keys) == 0 {
		idx = -1
	}

	return &MapCursor{keys: keys, values: values, idx: idx}
}

// Last repositions at the last entry (or invalid, if empty), used to seed
// a backward-starting scan.
func (c *MapCursor) Last() {
	c.idx = len(c.keys) - 1
}

func (c *MapCursor) Valid() bool {
	return c.idx >= 0 && c.idx < len(c.keys)
}

func (c *MapCursor) Key() []byte {
	if !c.Valid() {
		return nil
	}

	return c.keys[c.idx]
}

func (c *MapCursor) Value() []byte {
	if !c.Valid() {
		return nil
	}

	return c.values[c.idx]
}

func (c *MapCursor) Next() error {
	if c.idx < len(c.keys) {
		c.idx++
	}

	return nil
}

func (c *MapCursor) Prev() error {
	if c.idx >= 0 {
		c.idx--
	}

	return nil
}

func (c *MapCursor) SeekGE(target []byte) error {
	i := sort.Search(len(c.keys), func(i int) bool { return bytes.Compare(c.keys[i], target) >= 0 })
	c.idx = i

	return nil
}

func (c *MapCursor) SeekLE(target []byte) error {
	i := sort.Search(len(c.keys), func(i int) bool { return bytes.Compare(c.keys[i], target) > 0 })
	c.idx = i - 1

	return nil
}
