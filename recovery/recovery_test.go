package recovery_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ledgerkv/ledgerkv/lockmgr"
	"github.com/ledgerkv/ledgerkv/recovery"
	"github.com/ledgerkv/ledgerkv/redo"
)

// memIndex is an in-memory Index fixture: no B-tree, just a map, since
// recovery's only contract with an index is Store/Delete by key.
type memIndex struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemIndex() *memIndex { return &memIndex{data: make(map[string][]byte)} }

func (m *memIndex) Store(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[string(key)] = append([]byte(nil), value...)

	return nil
}

func (m *memIndex) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, string(key))

	return nil
}

func (m *memIndex) snapshot() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]string, len(m.data))
	for k, v := range m.data {
		out[k] = string(v)
	}

	return out
}

type memResolver struct {
	mu      sync.Mutex
	indexes map[uint64]*memIndex
}

func newMemResolver(indexes ...uint64) *memResolver {
	r := &memResolver{indexes: make(map[uint64]*memIndex)}
	for _, ix := range indexes {
		r.indexes[ix] = newMemIndex()
	}

	return r
}

func (r *memResolver) Resolve(ix uint64) (recovery.Index, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.indexes[ix]

	return idx, ok
}

const testTimeout = time.Second

func newTestRecovery(resolver recovery.IndexResolver, lenient bool) *recovery.Recovery {
	mgr := lockmgr.NewManager(lockmgr.Lenient)

	return recovery.New(mgr, resolver, 4, testTimeout, lenient)
}

// TestRecovery_SingleTxnRoundTrip drives one committed transaction
// end-to-end through Recovery instead of a bare Decoder: encode
// TXN_ENTER(5), TXN_STORE(5,1,[0x01],[0x02]), TXN_COMMIT_FINAL(5), replay,
// and confirm the store actually lands in the resolved index.
func TestRecovery_SingleTxnRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	enc := redo.NewEncoder(&buf, redo.TerminatorRandomToken, 42)
	require.NoError(t, enc.TxnEnter(5))
	require.NoError(t, enc.TxnStore(5, 1, []byte{0x01}, []byte{0x02}))
	require.NoError(t, enc.TxnCommitFinal(5))

	resolver := newMemResolver(1)
	rc := newTestRecovery(resolver, false)
	defer rc.Close()

	require.NoError(t, rc.Replay(context.Background(), bytes.NewReader(buf.Bytes()), redo.TerminatorRandomToken, 42))

	idx, ok := resolver.Resolve(1)
	require.True(t, ok)
	require.Equal(t, map[string]string{"\x01": "\x02"}, idx.(*memIndex).snapshot())
}

// TestRecovery_IdempotentReplay: replaying
// the same prefix of the redo stream twice (against two independent but
// identically-seeded fixtures) produces the same final (index,key,value)
// set.
func TestRecovery_IdempotentReplay(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	enc := redo.NewEncoder(&buf, redo.TerminatorRandomToken, 7)
	require.NoError(t, enc.TxnEnter(1))
	require.NoError(t, enc.TxnStore(1, 1, []byte("k1"), []byte("v1")))
	require.NoError(t, enc.TxnStore(1, 1, []byte("k2"), []byte("v2")))
	require.NoError(t, enc.TxnCommitFinal(1))

	replay := func() map[string]string {
		resolver := newMemResolver(1)
		rc := newTestRecovery(resolver, false)
		defer rc.Close()

		require.NoError(t, rc.Replay(context.Background(), bytes.NewReader(buf.Bytes()), redo.TerminatorRandomToken, 7))

		idx, _ := resolver.Resolve(1)

		return idx.(*memIndex).snapshot()
	}

	first := replay()
	second := replay()

	require.Equal(t, first, second)
	require.Equal(t, map[string]string{"k1": "v1", "k2": "v2"}, first)
}

// TestRecovery_InterleavedTransactionsReplayIndependently interleaves two
// transactions' TXN_STORE records in the stream and confirms both land
// correctly despite replaying on separate worker-pool lanes.
func TestRecovery_InterleavedTransactionsReplayIndependently(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	enc := redo.NewEncoder(&buf, redo.TerminatorRandomToken, 1)
	require.NoError(t, enc.TxnEnter(1))
	require.NoError(t, enc.TxnEnter(2))
	require.NoError(t, enc.TxnStore(1, 1, []byte("a"), []byte("1")))
	require.NoError(t, enc.TxnStore(2, 1, []byte("b"), []byte("2")))
	require.NoError(t, enc.TxnStore(1, 1, []byte("c"), []byte("3")))
	require.NoError(t, enc.TxnCommitFinal(2))
	require.NoError(t, enc.TxnCommitFinal(1))

	resolver := newMemResolver(1)
	rc := newTestRecovery(resolver, false)
	defer rc.Close()

	require.NoError(t, rc.Replay(context.Background(), bytes.NewReader(buf.Bytes()), redo.TerminatorRandomToken, 1))

	idx, _ := resolver.Resolve(1)
	require.Equal(t, map[string]string{"a": "1", "b": "2", "c": "3"}, idx.(*memIndex).snapshot())
}

// TestRecovery_MissingIndex confirms the lenient/strict split:
// strict mode surfaces ErrMissingIndex and stops short of the commit,
// lenient mode skips the unresolvable op and finishes cleanly.
func TestRecovery_MissingIndex(t *testing.T) {
	t.Parallel()

	build := func() []byte {
		var buf bytes.Buffer

		enc := redo.NewEncoder(&buf, redo.TerminatorRandomToken, 9)
		require.NoError(t, enc.TxnEnter(1))
		require.NoError(t, enc.TxnStore(1, 99, []byte("x"), []byte("y")))
		require.NoError(t, enc.TxnCommitFinal(1))

		return buf.Bytes()
	}

	stream := build()

	t.Run("strict", func(t *testing.T) {
		t.Parallel()

		resolver := newMemResolver()
		rc := newTestRecovery(resolver, false)
		defer rc.Close()

		err := rc.Replay(context.Background(), bytes.NewReader(stream), redo.TerminatorRandomToken, 9)
		require.Error(t, err)
		require.True(t, errors.Is(err, recovery.ErrMissingIndex))
	})

	t.Run("lenient", func(t *testing.T) {
		t.Parallel()

		resolver := newMemResolver()
		rc := newTestRecovery(resolver, true)
		defer rc.Close()

		require.NoError(t, rc.Replay(context.Background(), bytes.NewReader(stream), redo.TerminatorRandomToken, 9))
	})
}

// TestRecovery_AutoCommitStoreAppliesWithoutTransaction covers the
// non-transactional STORE/DELETE path, which uses an ephemeral locker per
// op rather than the live-transaction map.
func TestRecovery_AutoCommitStoreAppliesWithoutTransaction(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	enc := redo.NewEncoder(&buf, redo.TerminatorRandomToken, 3)
	require.NoError(t, enc.Store(1, []byte("solo"), []byte("value")))

	resolver := newMemResolver(1)
	rc := newTestRecovery(resolver, false)
	defer rc.Close()

	require.NoError(t, rc.Replay(context.Background(), bytes.NewReader(buf.Bytes()), redo.TerminatorRandomToken, 3))

	idx, _ := resolver.Resolve(1)
	require.Equal(t, map[string]string{"solo": "value"}, idx.(*memIndex).snapshot())
}
