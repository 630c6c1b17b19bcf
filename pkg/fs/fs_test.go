package fs_test

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerkv/ledgerkv/pkg/fs"
)

// These tests exercise the fs package the way the rest of this module
// depends on it: pagestore.FileArray opens and grows a page file through
// FS/File, Database.Open guards its directory with Locker, and the crash
// tests in redo, pagestore/alloc, and recovery drive their subjects
// through Chaos and Crash. Each test here covers the slice of behavior
// those callers rely on.

func TestReal_PageFileReadWriteAt(t *testing.T) {
	t.Parallel()

	fsys := fs.NewReal()
	path := filepath.Join(t.TempDir(), "data.pages")

	f, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o640)
	require.NoError(t, err)

	// Two fixed-size "pages" written back to back, the way FileArray
	// lays out page ids: seek to id*pageSize, write, sync.
	pageA := bytes.Repeat([]byte{0xAA}, 64)
	pageB := bytes.Repeat([]byte{0xBB}, 64)

	_, err = f.Seek(0, io.SeekStart)
	require.NoError(t, err)
	_, err = f.Write(pageA)
	require.NoError(t, err)
	_, err = f.Write(pageB)
	require.NoError(t, err)
	require.NoError(t, f.Sync())

	_, err = f.Seek(64, io.SeekStart)
	require.NoError(t, err)

	got := make([]byte, 64)
	_, err = io.ReadFull(f, got)
	require.NoError(t, err)
	require.Equal(t, pageB, got)

	require.NoError(t, f.Close())

	info, err := fsys.Stat(path)
	require.NoError(t, err)
	require.EqualValues(t, 128, info.Size())
}

func TestReal_ExistsAndRename(t *testing.T) {
	t.Parallel()

	fsys := fs.NewReal()
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "redo.log")
	newPath := filepath.Join(dir, "redo.log.1")

	ok, err := fsys.Exists(oldPath)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, fsys.WriteFile(oldPath, []byte("records"), 0o640))

	ok, err = fsys.Exists(oldPath)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, fsys.Rename(oldPath, newPath))

	ok, err = fsys.Exists(oldPath)
	require.NoError(t, err)
	require.False(t, ok)

	data, err := fsys.ReadFile(newPath)
	require.NoError(t, err)
	require.Equal(t, []byte("records"), data)
}

func TestAtomicWriter_ReplaceNeverExposesPartialContent(t *testing.T) {
	t.Parallel()

	fsys := fs.NewReal()
	path := filepath.Join(t.TempDir(), "MANIFEST.json")
	w := fs.NewAtomicWriter(fsys)

	opts := fs.AtomicWriteOptions{SyncDir: true, Perm: 0o640}

	require.NoError(t, w.Write(path, bytes.NewReader([]byte(`{"page_size":4096}`)), opts))
	require.NoError(t, w.Write(path, bytes.NewReader([]byte(`{"page_size":8192}`)), opts))

	// The replacement lands in full; no temp file is left behind.
	data, err := fsys.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte(`{"page_size":8192}`), data)

	entries, err := fsys.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestAtomicWriter_RequiresExplicitPerm(t *testing.T) {
	t.Parallel()

	w := fs.NewAtomicWriter(fs.NewReal())
	path := filepath.Join(t.TempDir(), "MANIFEST.json")

	err := w.Write(path, bytes.NewReader([]byte("x")), fs.AtomicWriteOptions{})
	require.Error(t, err)
}

func TestLocker_ExclusiveLockRefusesSecondHolder(t *testing.T) {
	t.Parallel()

	fsys := fs.NewReal()
	path := filepath.Join(t.TempDir(), "LOCK")
	locker := fs.NewLocker(fsys)

	held, err := locker.TryLock(path)
	require.NoError(t, err)

	_, err = locker.TryLock(path)
	require.ErrorIs(t, err, fs.ErrWouldBlock)

	require.NoError(t, held.Close())

	// Released: a new holder acquires immediately.
	held2, err := locker.TryLock(path)
	require.NoError(t, err)
	require.NoError(t, held2.Close())
}

func TestLocker_SharedLocksCoexist(t *testing.T) {
	t.Parallel()

	fsys := fs.NewReal()
	path := filepath.Join(t.TempDir(), "LOCK")
	locker := fs.NewLocker(fsys)

	r1, err := locker.TryRLock(path)
	require.NoError(t, err)

	r2, err := locker.TryRLock(path)
	require.NoError(t, err)

	// An exclusive attempt is blocked by the shared holders.
	_, err = locker.TryLock(path)
	require.ErrorIs(t, err, fs.ErrWouldBlock)

	require.NoError(t, r1.Close())
	require.NoError(t, r2.Close())

	held, err := locker.TryLock(path)
	require.NoError(t, err)
	require.NoError(t, held.Close())
}

func TestLocker_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	locker := fs.NewLocker(fs.NewReal())

	held, err := locker.TryLock(filepath.Join(t.TempDir(), "LOCK"))
	require.NoError(t, err)

	require.NoError(t, held.Close())
	require.NoError(t, held.Close())
}

func TestChaos_InjectedWriteFaultsSurfaceAndAreCounted(t *testing.T) {
	t.Parallel()

	chaos := fs.NewChaos(fs.NewReal(), 1, &fs.ChaosConfig{WriteFailRate: 1.0})

	f, err := chaos.Create(filepath.Join(t.TempDir(), "data.pages"))
	require.NoError(t, err)

	defer f.Close()

	_, err = f.Write([]byte("page"))
	require.Error(t, err)
	require.True(t, fs.IsChaosErr(err))
	require.Positive(t, chaos.TotalFaults())
}

func TestChaos_NoOpModePassesThrough(t *testing.T) {
	t.Parallel()

	chaos := fs.NewChaos(fs.NewReal(), 1, &fs.ChaosConfig{WriteFailRate: 1.0})
	chaos.SetMode(fs.ChaosModeNoOp)

	path := filepath.Join(t.TempDir(), "data.pages")

	f, err := chaos.Create(path)
	require.NoError(t, err)

	_, err = f.Write([]byte("page"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	data, err := chaos.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte("page"), data)
	require.Zero(t, chaos.TotalFaults())
}

func TestCrash_OnlySyncedBytesSurviveSimulatedCrash(t *testing.T) {
	t.Parallel()

	crash, err := fs.NewCrash(t, fs.NewReal(), &fs.CrashConfig{})
	require.NoError(t, err)

	f, err := crash.Create("data.pages")
	require.NoError(t, err)

	_, err = f.Write([]byte("synced"))
	require.NoError(t, err)
	require.NoError(t, f.Sync())

	// The new directory entry is durable only once the directory is synced.
	dir, err := crash.Open(".")
	require.NoError(t, err)
	require.NoError(t, dir.Sync())
	require.NoError(t, dir.Close())

	// Written but never synced; Close alone confers no durability.
	_, err = f.Write([]byte("+torn-tail"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, crash.SimulateCrash())

	data, err := crash.ReadFile("data.pages")
	require.NoError(t, err)
	require.Equal(t, []byte("synced"), data)
}

func TestCrash_UnsyncedFileDoesNotSurviveSimulatedCrash(t *testing.T) {
	t.Parallel()

	crash, err := fs.NewCrash(t, fs.NewReal(), &fs.CrashConfig{})
	require.NoError(t, err)

	require.NoError(t, crash.WriteFile("durable.log", []byte("d"), 0o640))

	f, err := crash.Create("scratch.log")
	require.NoError(t, err)
	_, err = f.Write([]byte("lost"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, crash.SimulateCrash())

	ok, err := crash.Exists("scratch.log")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCrash_RecoverClearsLatchedState(t *testing.T) {
	t.Parallel()

	crash, err := fs.NewCrash(t, fs.NewReal(), &fs.CrashConfig{})
	require.NoError(t, err)

	require.NoError(t, crash.WriteFile("data.pages", []byte("p"), 0o640))
	require.NoError(t, crash.SimulateCrash())
	crash.Recover()

	// After Recover the filesystem is usable again for assertions and
	// further writes, the reopen-after-crash sequence recovery_test.go's
	// end-to-end replay test performs.
	require.NoError(t, crash.WriteFile("data.pages", []byte("q"), 0o640))

	data, err := crash.ReadFile("data.pages")
	require.NoError(t, err)
	require.Equal(t, []byte("q"), data)
}

func TestWriteFileIsNotDurableAcrossCrash(t *testing.T) {
	t.Parallel()

	crash, err := fs.NewCrash(t, fs.NewReal(), &fs.CrashConfig{})
	require.NoError(t, err)

	// FS.WriteFile documents it gives no durability guarantee; only an
	// explicit File.Sync makes bytes crash-safe. The manifest path in
	// Database.Open relies on this distinction by using AtomicWriter
	// (write-sync-rename) instead of WriteFile.
	require.NoError(t, crash.WriteFile("manifest.json", []byte("m"), 0o640))
	require.NoError(t, crash.SimulateCrash())

	ok, err := crash.Exists("manifest.json")
	require.NoError(t, err)

	if ok {
		data, readErr := crash.ReadFile("manifest.json")
		require.NoError(t, readErr)
		require.NotEqual(t, []byte("m"), data, "unsynced WriteFile content must not be durable")
	}
}

func TestChaosErrUnwrapsToInjectedErrno(t *testing.T) {
	t.Parallel()

	chaos := fs.NewChaos(fs.NewReal(), 7, &fs.ChaosConfig{OpenFailRate: 1.0})

	_, err := chaos.Open(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	require.True(t, fs.IsChaosErr(err))

	// The injected error chain stays errors.As-compatible so callers can
	// still distinguish fault classes.
	var pathErr *os.PathError

	require.True(t, errors.As(err, &pathErr))
}
