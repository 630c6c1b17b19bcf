package txn_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ledgerkv/ledgerkv/lockmgr"
	"github.com/ledgerkv/ledgerkv/txn"
)

func newMgr() *lockmgr.Manager {
	return lockmgr.NewManagerWithStripes(4, lockmgr.Lenient)
}

func TestLocker_UnlockReleasesTopOfStack(t *testing.T) {
	t.Parallel()

	mgr := newMgr()
	l := txn.NewLocker(mgr, 1, lockmgr.Shared, 0)
	id := lockmgr.NewLockID(1, []byte("a"))

	res, err := l.Lock(context.Background(), id, lockmgr.Exclusive)
	require.NoError(t, err)
	require.Equal(t, lockmgr.Acquired, res)
	require.Equal(t, 1, l.Depth())

	require.NoError(t, l.Unlock())
	require.Equal(t, 0, l.Depth())
	require.Equal(t, lockmgr.Unowned, mgr.Check(1, id))
}

func TestLocker_UnlockOnEmptyStackFails(t *testing.T) {
	t.Parallel()

	l := txn.NewLocker(newMgr(), 1, lockmgr.Shared, 0)
	require.ErrorIs(t, l.Unlock(), txn.ErrEmptyStack)
}

// TestLocker_ImmediateUpgradeForbidsDirectUnlock covers the invariant
// that an acquisition that promoted an already-held lock in place cannot
// be released with a plain Unlock.
func TestLocker_ImmediateUpgradeForbidsDirectUnlock(t *testing.T) {
	t.Parallel()

	mgr := newMgr()
	l := txn.NewLocker(mgr, 1, lockmgr.Shared, 0)
	id := lockmgr.NewLockID(1, []byte("a"))

	res, err := l.Lock(context.Background(), id, lockmgr.Shared)
	require.NoError(t, err)
	require.Equal(t, lockmgr.Acquired, res)

	res, err = l.Lock(context.Background(), id, lockmgr.Upgradable)
	require.NoError(t, err)
	require.Equal(t, lockmgr.Upgraded, res)

	// push() dedups the in-place upgrade against the prior Shared entry,
	// so the stack still has depth 1.
	require.Equal(t, 1, l.Depth())

	require.ErrorIs(t, l.Unlock(), txn.ErrIllegalUnlock)
}

// TestLocker_ScopeUnlockAllRestoresPreEnterSnapshot: after ScopeUnlockAll,
// the locker's stack equals the pre-enter snapshot bit-for-bit.
func TestLocker_ScopeUnlockAllRestoresPreEnterSnapshot(t *testing.T) {
	t.Parallel()

	mgr := newMgr()
	l := txn.NewLocker(mgr, 1, lockmgr.Shared, 0)

	outer := lockmgr.NewLockID(1, []byte("outer"))
	res, err := l.Lock(context.Background(), outer, lockmgr.Exclusive)
	require.NoError(t, err)
	require.Equal(t, lockmgr.Acquired, res)
	require.Equal(t, 1, l.Depth())

	l.ScopeEnter()

	for _, k := range []string{"a", "b", "c"} {
		id := lockmgr.NewLockID(2, []byte(k))
		res, err := l.Lock(context.Background(), id, lockmgr.Exclusive)
		require.NoError(t, err)
		require.Equal(t, lockmgr.Acquired, res)
	}

	require.Equal(t, 4, l.Depth())

	l.ScopeUnlockAll()

	require.Equal(t, 1, l.Depth(), "stack must equal pre-enter snapshot bit-for-bit")
	require.Equal(t, lockmgr.CheckOwnedExclusive, mgr.Check(1, outer))

	for _, k := range []string{"a", "b", "c"} {
		require.Equal(t, lockmgr.Unowned, mgr.Check(1, lockmgr.NewLockID(2, []byte(k))))
	}
}

func TestLocker_PromoteKeepsAcquisitionsOnParentScope(t *testing.T) {
	t.Parallel()

	mgr := newMgr()
	l := txn.NewLocker(mgr, 1, lockmgr.Shared, 0)

	l.ScopeEnter()

	id := lockmgr.NewLockID(1, []byte("a"))
	res, err := l.Lock(context.Background(), id, lockmgr.Exclusive)
	require.NoError(t, err)
	require.Equal(t, lockmgr.Acquired, res)

	l.Promote()

	// The scope is gone but the acquisition survives; a subsequent
	// ScopeExitAll at the root level releases it.
	require.Equal(t, 1, l.Depth())

	l.ScopeExitAll()
	require.Equal(t, 0, l.Depth())
	require.Equal(t, lockmgr.Unowned, mgr.Check(1, id))
}

func TestLocker_ScopeExitAllUnwindsNestedScopes(t *testing.T) {
	t.Parallel()

	mgr := newMgr()
	l := txn.NewLocker(mgr, 1, lockmgr.Shared, 0)

	l.ScopeEnter()
	id1 := lockmgr.NewLockID(1, []byte("a"))
	_, err := l.Lock(context.Background(), id1, lockmgr.Exclusive)
	require.NoError(t, err)

	l.ScopeEnter()
	id2 := lockmgr.NewLockID(1, []byte("b"))
	_, err = l.Lock(context.Background(), id2, lockmgr.Exclusive)
	require.NoError(t, err)

	require.Equal(t, 2, l.Depth())

	l.ScopeExitAll()

	require.Equal(t, 0, l.Depth())
	require.Equal(t, lockmgr.Unowned, mgr.Check(1, id1))
	require.Equal(t, lockmgr.Unowned, mgr.Check(1, id2))
}

func TestLocker_TransferExclusiveDetachesAndReleases(t *testing.T) {
	t.Parallel()

	mgr := newMgr()
	l := txn.NewLocker(mgr, 1, lockmgr.Shared, 0)

	excl := lockmgr.NewLockID(1, []byte("excl"))
	shared := lockmgr.NewLockID(1, []byte("shared"))

	_, err := l.Lock(context.Background(), excl, lockmgr.Exclusive)
	require.NoError(t, err)
	_, err = l.Lock(context.Background(), shared, lockmgr.Shared)
	require.NoError(t, err)

	pending := new(lockmgr.PendingTxn)
	l.TransferExclusive(pending)

	require.Equal(t, 0, l.Depth())
	require.Equal(t, lockmgr.Unowned, mgr.Check(1, shared), "non-exclusive locks are released, not transferred")
	require.ElementsMatch(t, []lockmgr.LockID{excl}, pending.Locks())

	mgr.ReleasePending(1, pending)
	require.Equal(t, lockmgr.Unowned, mgr.Check(1, excl))
}

func TestLocker_ScopeEnterRestoresModeAndTimeout(t *testing.T) {
	t.Parallel()

	mgr := newMgr()
	l := txn.NewLocker(mgr, 1, lockmgr.Shared, time.Second)

	l.ScopeEnter()
	l.SetMode(lockmgr.Exclusive)
	l.SetTimeout(0)
	require.Equal(t, lockmgr.Exclusive, l.Mode())

	l.ScopeUnlockAll()

	require.Equal(t, lockmgr.Shared, l.Mode())
}
