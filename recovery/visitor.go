package recovery

import (
	"context"

	"github.com/ledgerkv/ledgerkv/lockmgr"
	"github.com/ledgerkv/ledgerkv/redo"
	"github.com/ledgerkv/ledgerkv/txn"
)

// visitor drives one Replay call. Decode calls its methods synchronously
// and in stream order; bookkeeping that must happen before a later record
// can be dispatched (TxnEnter, Reset) runs inline on the decode goroutine,
// while the actual lock-reacquire-and-apply work for a mutation is handed
// to the pool pinned by txnId so it can run concurrently with other
// transactions without losing its place in this one.
type visitor struct {
	redo.BaseVisitor

	rc  *Recovery
	ctx context.Context
}

func (v *visitor) Reset() (redo.Signal, error) {
	if err := v.rc.resetLive(); err != nil {
		return redo.Stop, err
	}

	return redo.Continue, nil
}

func (v *visitor) TxnEnter(id int64) (redo.Signal, error) {
	if _, ok := v.rc.getLive(id); !ok {
		v.rc.enter(id)
	}

	return redo.Continue, nil
}

// TxnCommit is a non-final commit: the redo stream logs it without
// closing the transaction, so replay has nothing to release
// yet; the transaction's locker keeps the scope it opened at TxnEnter.
func (v *visitor) TxnCommit(int64) (redo.Signal, error) { return redo.Continue, nil }

// TxnRollback is likewise non-final. A redo log only ever records what
// happened, never how to undo it: a rollback the live engine performed was
// itself logged as ordinary compensating STORE/DELETE records earlier in
// the stream, so replaying this marker requires no undo here either.
func (v *visitor) TxnRollback(int64) (redo.Signal, error) { return redo.Continue, nil }

func (v *visitor) TxnCommitFinal(id int64) (redo.Signal, error) {
	return v.finalize(id)
}

func (v *visitor) TxnRollbackFinal(id int64) (redo.Signal, error) {
	return v.finalize(id)
}

func (v *visitor) finalize(id int64) (redo.Signal, error) {
	t, ok := v.rc.getLive(id)
	if !ok {
		return redo.Continue, nil
	}

	v.rc.pool.SubmitPinned(uint64(id), func() error {
		t.locker.ScopeExitAll()
		v.rc.remove(id)

		return nil
	})

	return redo.Continue, nil
}

func (v *visitor) Store(ix uint64, key, value []byte) (redo.Signal, error) {
	v.rc.pool.Submit(v.autoStoreTask(ix, key, value))

	return redo.Continue, nil
}

func (v *visitor) Delete(ix uint64, key []byte) (redo.Signal, error) {
	v.rc.pool.Submit(v.autoDeleteTask(ix, key))

	return redo.Continue, nil
}

func (v *visitor) StoreNoLock(ix uint64, key, value []byte) (redo.Signal, error) {
	v.rc.pool.Submit(func() error {
		idx, err := v.rc.resolve(ix)
		if err != nil || idx == nil {
			return err
		}

		return idx.Store(key, value)
	})

	return redo.Continue, nil
}

func (v *visitor) DeleteNoLock(ix uint64, key []byte) (redo.Signal, error) {
	v.rc.pool.Submit(func() error {
		idx, err := v.rc.resolve(ix)
		if err != nil || idx == nil {
			return err
		}

		return idx.Delete(key)
	})

	return redo.Continue, nil
}

// autoStoreTask builds the auto-commit task for a STORE record: each gets
// its own ephemeral locker id since, unlike a transaction's records, an
// auto-commit op never needs to be found again by id.
func (v *visitor) autoStoreTask(ix uint64, key, value []byte) func() error {
	lockerID := lockmgr.LockerID(v.rc.nextAutoID.Add(1))

	return func() error {
		idx, err := v.rc.resolve(ix)
		if err != nil || idx == nil {
			return err
		}

		locker := txn.NewLocker(v.rc.mgr, lockerID, lockmgr.Exclusive, v.rc.timeout)

		if err := v.rc.lockForWrite(v.ctx, locker, lockmgr.NewLockID(ix, key)); err != nil {
			return err
		}

		defer locker.ScopeExitAll()

		return idx.Store(key, value)
	}
}

func (v *visitor) autoDeleteTask(ix uint64, key []byte) func() error {
	lockerID := lockmgr.LockerID(v.rc.nextAutoID.Add(1))

	return func() error {
		idx, err := v.rc.resolve(ix)
		if err != nil || idx == nil {
			return err
		}

		locker := txn.NewLocker(v.rc.mgr, lockerID, lockmgr.Exclusive, v.rc.timeout)

		if err := v.rc.lockForWrite(v.ctx, locker, lockmgr.NewLockID(ix, key)); err != nil {
			return err
		}

		defer locker.ScopeExitAll()

		return idx.Delete(key)
	}
}

func (v *visitor) TxnStore(id int64, ix uint64, key, value []byte) (redo.Signal, error) {
	t, ok := v.rc.getLive(id)
	if !ok {
		t = v.rc.enter(id)
	}

	v.rc.pool.SubmitPinned(uint64(id), func() error {
		idx, err := v.rc.resolve(ix)
		if err != nil || idx == nil {
			return err
		}

		if err := v.rc.lockForWrite(v.ctx, t.locker, lockmgr.NewLockID(ix, key)); err != nil {
			return err
		}

		return idx.Store(key, value)
	})

	return redo.Continue, nil
}

func (v *visitor) TxnDelete(id int64, ix uint64, key []byte) (redo.Signal, error) {
	t, ok := v.rc.getLive(id)
	if !ok {
		t = v.rc.enter(id)
	}

	v.rc.pool.SubmitPinned(uint64(id), func() error {
		idx, err := v.rc.resolve(ix)
		if err != nil || idx == nil {
			return err
		}

		if err := v.rc.lockForWrite(v.ctx, t.locker, lockmgr.NewLockID(ix, key)); err != nil {
			return err
		}

		return idx.Delete(key)
	})

	return redo.Continue, nil
}

func (v *visitor) TxnCustom(id int64, msg []byte) (redo.Signal, error) {
	applier, ok := v.rc.resolver.(CustomApplier)
	if !ok {
		return redo.Continue, nil
	}

	v.rc.pool.SubmitPinned(uint64(id), func() error {
		return applier.ApplyCustom(msg)
	})

	return redo.Continue, nil
}

func (v *visitor) TxnCustomLock(id int64, ix uint64, key, msg []byte) (redo.Signal, error) {
	applier, ok := v.rc.resolver.(CustomApplier)
	if !ok {
		return redo.Continue, nil
	}

	t, ok := v.rc.getLive(id)
	if !ok {
		t = v.rc.enter(id)
	}

	v.rc.pool.SubmitPinned(uint64(id), func() error {
		if err := v.rc.lockForWrite(v.ctx, t.locker, lockmgr.NewLockID(ix, key)); err != nil {
			return err
		}

		return applier.ApplyCustomLock(ix, key, msg)
	})

	return redo.Continue, nil
}

func (v *visitor) RenameIndex(_ int64, ix uint64, newName []byte) (redo.Signal, error) {
	admin, ok := v.rc.resolver.(IndexAdmin)
	if !ok {
		return redo.Continue, nil
	}

	v.rc.pool.Submit(func() error { return admin.RenameIndex(ix, newName) })

	return redo.Continue, nil
}

func (v *visitor) DeleteIndex(_ int64, ix uint64) (redo.Signal, error) {
	admin, ok := v.rc.resolver.(IndexAdmin)
	if !ok {
		return redo.Continue, nil
	}

	v.rc.pool.Submit(func() error { return admin.DeleteIndex(ix) })

	return redo.Continue, nil
}

var _ redo.Visitor = (*visitor)(nil)
