package ledgerkv

import (
	"fmt"
	"sync"

	"github.com/ledgerkv/ledgerkv/mergecursor"
	"github.com/ledgerkv/ledgerkv/valuestream"
)

// Index is one named, ordered collection of key/value pairs. Its live
// content lives in memory, reconstructed on Open by replaying the redo
// log (B-tree/paged-index mechanics are out of scope here);
// durability comes entirely from the redo stream every mutation is
// written to before it is applied.
type Index struct {
	mu sync.RWMutex

	id   uint64
	name string

	values map[string]*valuestream.MemValue
}

func newIndex(id uint64, name string) *Index {
	return &Index{id: id, name: name, values: make(map[string]*valuestream.MemValue)}
}

// ID returns the index's stable identifier, the same value redo records
// and lock ids reference it by.
func (ix *Index) ID() uint64 { return ix.id }

// Name returns the index's current display name.
func (ix *Index) Name() string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	return ix.name
}

func (ix *Index) setName(name string) {
	ix.mu.Lock()
	ix.name = name
	ix.mu.Unlock()
}

// Get returns the current value for key, or ErrNoSuchValue if it has none.
func (ix *Index) Get(key []byte) ([]byte, error) {
	ix.mu.RLock()
	v, ok := ix.values[string(key)]
	ix.mu.RUnlock()

	if !ok {
		return nil, wrap(ErrNoSuchValue, withOp("Index.Get"), withIndexID(ix.id), withKey(key))
	}

	n, err := v.Length()
	if err != nil {
		return nil, wrap(classify(err), withOp("Index.Get"), withIndexID(ix.id), withKey(key))
	}

	buf := make([]byte, n)
	if _, err := v.ReadAt(0, buf); err != nil {
		return nil, wrap(classify(err), withOp("Index.Get"), withIndexID(ix.id), withKey(key))
	}

	return buf, nil
}

// Store sets key's value, creating it if it does not already exist. It
// satisfies recovery.Index so replay can apply STORE records directly.
func (ix *Index) Store(key, value []byte) error {
	ix.mu.Lock()
	v, ok := ix.values[string(key)]
	if !ok {
		v = valuestream.NewMemValue()
		ix.values[string(key)] = v
	}
	ix.mu.Unlock()

	if err := v.SetLength(int64(len(value))); err != nil {
		return err
	}

	return v.WriteAt(0, value)
}

// Delete removes key's value, if any. It satisfies recovery.Index so
// replay can apply DELETE records directly. Deleting an already-absent
// key is not an error, matching MemValue's own idempotent SetLength(-1).
func (ix *Index) Delete(key []byte) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	delete(ix.values, string(key))

	return nil
}

// beforeImage returns key's current value (and whether it exists), for a
// Txn to remember as the undo record before overwriting or removing it.
func (ix *Index) beforeImage(key []byte) ([]byte, bool) {
	v, err := ix.Get(key)
	if err != nil {
		return nil, false
	}

	return v, true
}

// OpenReader opens a buffered positional reader over key's value starting
// at pos, for callers streaming a large value instead of materializing it
// with Get. Returns ErrNoSuchValue if key has no live value.
func (ix *Index) OpenReader(key []byte, pos int64, bufSize int) (*valuestream.Reader, error) {
	ix.mu.RLock()
	v, ok := ix.values[string(key)]
	ix.mu.RUnlock()

	if !ok {
		return nil, wrap(ErrNoSuchValue, withOp("Index.OpenReader"), withIndexID(ix.id), withKey(key))
	}

	return valuestream.NewInputStream(v, pos, bufSize), nil
}

// OpenWriter opens a buffered positional writer over key's value starting
// at pos, creating the value if it does not exist. The caller must Close
// (or Flush) the writer for buffered bytes to become visible to Get.
func (ix *Index) OpenWriter(key []byte, pos int64, bufSize int) *valuestream.Writer {
	ix.mu.Lock()
	v, ok := ix.values[string(key)]
	if !ok {
		v = valuestream.NewMemValue()
		ix.values[string(key)] = v
	}
	ix.mu.Unlock()

	return valuestream.NewOutputStream(v, pos, bufSize)
}

// Len reports the number of live keys.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	return len(ix.values)
}

// Cursor returns an ordered snapshot cursor over the index's current
// content, positioned at the first entry (or invalid if the index is
// empty), as mergecursor.MergeCursor expects of its children.
func (ix *Index) Cursor() *mergecursor.MapCursor {
	return mergecursor.NewMapCursor(ix.snapshot())
}

func (ix *Index) snapshot() map[string]string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make(map[string]string, len(ix.values))

	for k, v := range ix.values {
		n, err := v.Length()
		if err != nil {
			continue
		}

		buf := make([]byte, n)

		if _, err := v.ReadAt(0, buf); err != nil {
			continue
		}

		out[k] = string(buf)
	}

	return out
}

func (ix *Index) String() string {
	return fmt.Sprintf("Index{id=%d name=%q len=%d}", ix.id, ix.Name(), ix.Len())
}
