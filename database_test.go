package ledgerkv_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/ledgerkv/ledgerkv"
)

// listEntries drains idx's cursor into a map, for cmp.Diff-based
// comparison against an expected snapshot.
func listEntries(idx *ledgerkv.Index) map[string]string {
	out := make(map[string]string)

	cur := idx.Cursor()
	for cur.Valid() {
		out[string(cur.Key())] = string(cur.Value())

		if err := cur.Next(); err != nil {
			break
		}
	}

	return out
}

func openTestDB(t *testing.T, dir string) *ledgerkv.Database {
	t.Helper()

	db, err := ledgerkv.Open(ledgerkv.Config{Dir: dir})
	require.NoError(t, err)

	return db
}

func TestOpenCreatesIndexAndRoundTripsValues(t *testing.T) {
	dir := t.TempDir()

	db := openTestDB(t, dir)
	defer db.Close()

	idx, err := db.CreateIndex("widgets")
	require.NoError(t, err)

	require.NoError(t, db.Put(idx.ID(), []byte("a"), []byte("1")))
	require.NoError(t, db.Put(idx.ID(), []byte("b"), []byte("2")))

	v, err := db.Get(idx.ID(), []byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)

	require.NoError(t, db.Delete(idx.ID(), []byte("a")))

	_, err = db.Get(idx.ID(), []byte("a"))
	require.ErrorIs(t, err, ledgerkv.ErrNoSuchValue)

	v, err = db.Get(idx.ID(), []byte("b"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), v)
}

func TestOpenRejectsEmptyDir(t *testing.T) {
	_, err := ledgerkv.Open(ledgerkv.Config{})
	require.ErrorIs(t, err, ledgerkv.ErrIllegalArgument)
}

func TestOpenRejectsConcurrentOpenOfSameDirectory(t *testing.T) {
	dir := t.TempDir()

	db := openTestDB(t, dir)
	defer db.Close()

	_, err := ledgerkv.Open(ledgerkv.Config{Dir: dir})
	require.ErrorIs(t, err, ledgerkv.ErrIllegalState)
}

func TestCheckpointFlushesWithoutError(t *testing.T) {
	dir := t.TempDir()

	db := openTestDB(t, dir)
	defer db.Close()

	idx, err := db.CreateIndex("ints")
	require.NoError(t, err)

	require.NoError(t, db.Put(idx.ID(), []byte("k"), []byte("v")))
	require.NoError(t, db.Checkpoint())
	require.NoError(t, db.Sync())
}

func TestReopenRecoversIndexesAndValuesFromRedoLog(t *testing.T) {
	dir := t.TempDir()

	db := openTestDB(t, dir)

	idx, err := db.CreateIndex("widgets")
	require.NoError(t, err)

	require.NoError(t, db.Put(idx.ID(), []byte("a"), []byte("1")))
	require.NoError(t, db.Put(idx.ID(), []byte("b"), []byte("2")))
	require.NoError(t, db.Delete(idx.ID(), []byte("a")))

	txn := db.Begin(context.Background())
	require.NoError(t, txn.Store(idx.ID(), []byte("c"), []byte("3")))
	require.NoError(t, txn.Commit())

	require.NoError(t, db.Close())

	reopened := openTestDB(t, dir)
	defer reopened.Close()

	recoveredIdx, ok := reopened.IndexByName([]byte("widgets"))
	require.True(t, ok)
	require.Equal(t, idx.ID(), recoveredIdx.ID())

	_, err = reopened.Get(recoveredIdx.ID(), []byte("a"))
	require.ErrorIs(t, err, ledgerkv.ErrNoSuchValue)

	v, err := reopened.Get(recoveredIdx.ID(), []byte("b"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), v)

	v, err = reopened.Get(recoveredIdx.ID(), []byte("c"))
	require.NoError(t, err)
	require.Equal(t, []byte("3"), v)

	want := map[string]string{"b": "2", "c": "3"}
	if diff := cmp.Diff(want, listEntries(recoveredIdx)); diff != "" {
		t.Errorf("recovered index content mismatch (-want +got):\n%s", diff)
	}
}

func TestTxnRollbackRestoresPriorValue(t *testing.T) {
	dir := t.TempDir()

	db := openTestDB(t, dir)
	defer db.Close()

	idx, err := db.CreateIndex("widgets")
	require.NoError(t, err)

	require.NoError(t, db.Put(idx.ID(), []byte("a"), []byte("1")))

	txn := db.Begin(context.Background())
	require.NoError(t, txn.Store(idx.ID(), []byte("a"), []byte("2")))
	require.NoError(t, txn.Rollback())

	v, err := db.Get(idx.ID(), []byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)
}

func TestOpenRejectsPageSizeMismatchAgainstManifest(t *testing.T) {
	dir := t.TempDir()

	db := openTestDB(t, dir)
	require.NoError(t, db.Close())

	_, err := ledgerkv.Open(ledgerkv.Config{Dir: dir, PageSize: 8192})
	require.ErrorIs(t, err, ledgerkv.ErrIllegalArgument)
}

func TestCachePrimingWritesPrimerOnCleanCloseAndReopens(t *testing.T) {
	dir := t.TempDir()

	db, err := ledgerkv.Open(ledgerkv.Config{Dir: dir, CachePriming: true})
	require.NoError(t, err)

	idx, err := db.CreateIndex("widgets")
	require.NoError(t, err)

	require.NoError(t, db.Put(idx.ID(), []byte("a"), []byte("1")))
	require.NoError(t, db.Checkpoint())
	require.NoError(t, db.Close())

	require.FileExists(t, filepath.Join(dir, "primer.json"))

	// Reopen walks the priming set before accepting transactions; the
	// database must come back with the same content regardless.
	reopened, err := ledgerkv.Open(ledgerkv.Config{Dir: dir, CachePriming: true})
	require.NoError(t, err)
	defer reopened.Close()

	recoveredIdx, ok := reopened.IndexByName([]byte("widgets"))
	require.True(t, ok)

	v, err := reopened.Get(recoveredIdx.ID(), []byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)
}

func TestBackgroundCheckpointerFlushesDirtyPages(t *testing.T) {
	dir := t.TempDir()

	db, err := ledgerkv.Open(ledgerkv.Config{Dir: dir, CheckpointRateMillis: 10})
	require.NoError(t, err)
	defer db.Close()

	// CreateIndex dirties the catalog page; the background checkpointer
	// must flush it without an explicit Checkpoint call.
	_, err = db.CreateIndex("widgets")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		info, statErr := os.Stat(filepath.Join(dir, "data.pages"))

		return statErr == nil && info.Size() > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOpenRejectsInvertedCacheSizes(t *testing.T) {
	_, err := ledgerkv.Open(ledgerkv.Config{
		Dir:          t.TempDir(),
		MinCacheSize: 2 << 20,
		MaxCacheSize: 1 << 20,
	})
	require.ErrorIs(t, err, ledgerkv.ErrIllegalArgument)
}

func TestRenameAndDropIndex(t *testing.T) {
	dir := t.TempDir()

	db := openTestDB(t, dir)
	defer db.Close()

	idx, err := db.CreateIndex("widgets")
	require.NoError(t, err)

	require.NoError(t, db.Rename(idx.ID(), "gadgets"))

	_, ok := db.IndexByName([]byte("widgets"))
	require.False(t, ok)

	renamed, ok := db.IndexByName([]byte("gadgets"))
	require.True(t, ok)
	require.Equal(t, idx.ID(), renamed.ID())

	require.NoError(t, db.Drop(idx.ID()))

	_, ok = db.IndexByID(idx.ID())
	require.False(t, ok)
}
