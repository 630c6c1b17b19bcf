package ledgerkv

import (
	"context"
	"fmt"

	"github.com/ledgerkv/ledgerkv/lockmgr"
	"github.com/ledgerkv/ledgerkv/redo"
	"github.com/ledgerkv/ledgerkv/txn"
)

// undoEntry is the before-image Txn records for one Store/Delete call, so
// Rollback (or RollbackTo) can restore exactly the state that call
// overwrote, both in memory and, as a compensating record, in the redo
// log, which only ever records what happened and never how to undo it.
type undoEntry struct {
	ix     uint64
	key    []byte
	old    []byte
	hadOld bool
}

// Savepoint marks a position within an open Txn that RollbackTo can later
// unwind to without aborting the whole transaction.
type Savepoint struct {
	opsLen int
}

// Txn is one transaction's handle: a lock stack (txn.Locker), the subset
// of the shared redo log it has written, and the before-images needed to
// roll any of it back.
type Txn struct {
	db  *Database
	ctx context.Context //nolint:containedctx // lock waits need it on every Store/Delete, not just at Begin

	id     int64
	locker *txn.Locker

	ops     []undoEntry
	entered bool
	done    bool
}

// ID returns the transaction's id, the same value its redo records carry.
func (t *Txn) ID() int64 { return t.id }

func (t *Txn) checkOpen(op string) error {
	if t.done {
		return wrap(fmt.Errorf("%w: transaction already committed or rolled back", ErrIllegalState), withOp(op))
	}

	return nil
}

func (t *Txn) resolveIndex(op string, ix uint64) (*Index, error) {
	idx, ok := t.db.indexByID(ix)
	if !ok {
		return nil, wrap(fmt.Errorf("%w: no such index", ErrIllegalArgument), withOp(op), withIndexID(ix))
	}

	return idx, nil
}

func (t *Txn) lockForWrite(op string, ix uint64, key []byte) error {
	id := lockmgr.NewLockID(ix, key)

	if _, err := t.locker.Lock(t.ctx, id, lockmgr.Upgradable); err != nil {
		return lockErr(err, op, ix, key)
	}

	if _, err := t.locker.Lock(t.ctx, id, lockmgr.Exclusive); err != nil {
		return lockErr(err, op, ix, key)
	}

	return nil
}

// Store writes key's value within this transaction: the write is applied
// to the index immediately (so later reads within the same transaction
// see it) and is durable once the transaction commits.
func (t *Txn) Store(ix uint64, key, value []byte) error {
	const op = "Txn.Store"

	if err := t.checkOpen(op); err != nil {
		return err
	}

	idx, err := t.resolveIndex(op, ix)
	if err != nil {
		return err
	}

	if err := t.lockForWrite(op, ix, key); err != nil {
		return err
	}

	old, hadOld := idx.beforeImage(key)

	err = t.db.writeRedo(func(enc *redo.Encoder) error {
		if !t.entered {
			t.entered = true

			return enc.TxnEnterStore(t.id, ix, key, value)
		}

		return enc.TxnStore(t.id, ix, key, value)
	})
	if err != nil {
		return wrap(err, withOp(op), withIndexID(ix), withKey(key))
	}

	if err := idx.Store(key, value); err != nil {
		return wrap(classify(err), withOp(op), withIndexID(ix), withKey(key))
	}

	t.ops = append(t.ops, undoEntry{ix: ix, key: key, old: old, hadOld: hadOld})

	return nil
}

// Delete removes key's value within this transaction, per the same
// immediate-apply/deferred-durability contract as Store.
func (t *Txn) Delete(ix uint64, key []byte) error {
	const op = "Txn.Delete"

	if err := t.checkOpen(op); err != nil {
		return err
	}

	idx, err := t.resolveIndex(op, ix)
	if err != nil {
		return err
	}

	if err := t.lockForWrite(op, ix, key); err != nil {
		return err
	}

	old, hadOld := idx.beforeImage(key)

	err = t.db.writeRedo(func(enc *redo.Encoder) error {
		if !t.entered {
			t.entered = true

			return enc.TxnEnterDelete(t.id, ix, key)
		}

		return enc.TxnDelete(t.id, ix, key)
	})
	if err != nil {
		return wrap(err, withOp(op), withIndexID(ix), withKey(key))
	}

	if err := idx.Delete(key); err != nil {
		return wrap(classify(err), withOp(op), withIndexID(ix), withKey(key))
	}

	t.ops = append(t.ops, undoEntry{ix: ix, key: key, old: old, hadOld: hadOld})

	return nil
}

// Get reads key's current value as this transaction sees it (its own
// uncommitted writes included).
func (t *Txn) Get(ix uint64, key []byte) ([]byte, error) {
	idx, err := t.resolveIndex("Txn.Get", ix)
	if err != nil {
		return nil, err
	}

	return idx.Get(key)
}

// StoreCommit writes key's value and commits the transaction in one call,
// using the fused TXN_STORE_COMMIT_FINAL redo record instead of a separate
// store-then-commit-marker pair.
func (t *Txn) StoreCommit(ix uint64, key, value []byte) error {
	const op = "Txn.StoreCommit"

	if err := t.checkOpen(op); err != nil {
		return err
	}

	idx, err := t.resolveIndex(op, ix)
	if err != nil {
		return err
	}

	if err := t.lockForWrite(op, ix, key); err != nil {
		return err
	}

	if err := t.db.writeRedo(func(enc *redo.Encoder) error {
		if !t.entered {
			return enc.TxnStoreCommitFinal(t.id, ix, key, value)
		}

		return enc.TxnStoreCommit(t.id, ix, key, value)
	}); err != nil {
		return wrap(err, withOp(op), withIndexID(ix), withKey(key))
	}

	if err := idx.Store(key, value); err != nil {
		return wrap(classify(err), withOp(op), withIndexID(ix), withKey(key))
	}

	t.entered = true
	t.done = true
	t.locker.ScopeExitAll()

	return nil
}

// DeleteCommit removes key's value and commits the transaction in one
// call, the Delete sibling of StoreCommit.
func (t *Txn) DeleteCommit(ix uint64, key []byte) error {
	const op = "Txn.DeleteCommit"

	if err := t.checkOpen(op); err != nil {
		return err
	}

	idx, err := t.resolveIndex(op, ix)
	if err != nil {
		return err
	}

	if err := t.lockForWrite(op, ix, key); err != nil {
		return err
	}

	if err := t.db.writeRedo(func(enc *redo.Encoder) error {
		if !t.entered {
			return enc.TxnDeleteCommitFinal(t.id, ix, key)
		}

		return enc.TxnDeleteCommit(t.id, ix, key)
	}); err != nil {
		return wrap(err, withOp(op), withIndexID(ix), withKey(key))
	}

	if err := idx.Delete(key); err != nil {
		return wrap(classify(err), withOp(op), withIndexID(ix), withKey(key))
	}

	t.entered = true
	t.done = true
	t.locker.ScopeExitAll()

	return nil
}

// Custom appends an opaque, application-defined payload to the redo log
// under this transaction, for an embedder that wires its own
// recovery.CustomApplier. ledgerkv's own Database does not supply one, so
// replaying a custom record is a no-op unless the embedder configures
// recovery itself to resolve one.
func (t *Txn) Custom(msg []byte) error {
	const op = "Txn.Custom"

	if err := t.checkOpen(op); err != nil {
		return err
	}

	return wrap(t.db.writeRedo(func(enc *redo.Encoder) error { return enc.TxnCustom(t.id, msg) }), withOp(op))
}

// CustomLock is Custom's locked sibling: it acquires ix/key exclusively
// before appending the record, for an embedder whose custom payload
// mutates state that needs the same (indexId, key) lock ordinary
// Store/Delete calls take.
func (t *Txn) CustomLock(ix uint64, key, msg []byte) error {
	const op = "Txn.CustomLock"

	if err := t.checkOpen(op); err != nil {
		return err
	}

	if err := t.lockForWrite(op, ix, key); err != nil {
		return err
	}

	return wrap(t.db.writeRedo(func(enc *redo.Encoder) error { return enc.TxnCustomLock(t.id, ix, key, msg) }), withOp(op), withIndexID(ix), withKey(key))
}

// Commit ends the transaction, keeping every Store/Delete it made.
func (t *Txn) Commit() error {
	const op = "Txn.Commit"

	if err := t.checkOpen(op); err != nil {
		return err
	}

	if t.entered {
		if err := t.db.writeRedo(func(enc *redo.Encoder) error { return enc.TxnCommitFinal(t.id) }); err != nil {
			return wrap(err, withOp(op))
		}
	}

	t.done = true
	t.locker.ScopeExitAll()

	return nil
}

// Rollback ends the transaction, undoing every Store/Delete it made: each
// is reverted in memory and a compensating record is appended to the redo
// log (in reverse order) before the final TXN_ROLLBACK_FINAL marker, so a
// future replay of the log reconstructs the same pre-transaction state.
func (t *Txn) Rollback() error {
	const op = "Txn.Rollback"

	if err := t.checkOpen(op); err != nil {
		return err
	}

	for i := len(t.ops) - 1; i >= 0; i-- {
		if err := t.compensate(t.ops[i]); err != nil {
			return wrap(err, withOp(op))
		}
	}

	t.ops = nil

	if t.entered {
		if err := t.db.writeRedo(func(enc *redo.Encoder) error { return enc.TxnRollbackFinal(t.id) }); err != nil {
			return wrap(err, withOp(op))
		}
	}

	t.done = true
	t.locker.ScopeExitAll()

	return nil
}

// Savepoint opens a nested scope: a later RollbackTo(sp) undoes only work
// done since this call, leaving the transaction itself open.
func (t *Txn) Savepoint() *Savepoint {
	t.locker.ScopeEnter()

	return &Savepoint{opsLen: len(t.ops)}
}

// Release commits the work done since sp's Savepoint call, keeping the
// transaction open and folding those locks into the enclosing scope.
func (t *Txn) Release(sp *Savepoint) error {
	const op = "Txn.Release"

	if err := t.checkOpen(op); err != nil {
		return err
	}

	t.locker.Promote()

	return wrap(t.db.writeRedo(func(enc *redo.Encoder) error { return enc.TxnCommit(t.id) }), withOp(op))
}

// RollbackTo undoes every Store/Delete made since sp's Savepoint call,
// releasing (or downgrading) the locks they took, without ending the
// transaction.
func (t *Txn) RollbackTo(sp *Savepoint) error {
	const op = "Txn.RollbackTo"

	if err := t.checkOpen(op); err != nil {
		return err
	}

	for i := len(t.ops) - 1; i >= sp.opsLen; i-- {
		if err := t.compensate(t.ops[i]); err != nil {
			return wrap(err, withOp(op))
		}
	}

	t.ops = t.ops[:sp.opsLen]
	t.locker.ScopeUnlockAll()

	return wrap(t.db.writeRedo(func(enc *redo.Encoder) error { return enc.TxnRollback(t.id) }), withOp(op))
}

// compensate reverts one undoEntry both in memory and, as a fresh
// non-final redo record, in the log.
func (t *Txn) compensate(e undoEntry) error {
	idx, ok := t.db.indexByID(e.ix)
	if !ok {
		return nil
	}

	if e.hadOld {
		err := t.db.writeRedo(func(enc *redo.Encoder) error { return enc.TxnStore(t.id, e.ix, e.key, e.old) })
		if err != nil {
			return err
		}

		return idx.Store(e.key, e.old)
	}

	err := t.db.writeRedo(func(enc *redo.Encoder) error { return enc.TxnDelete(t.id, e.ix, e.key) })
	if err != nil {
		return err
	}

	return idx.Delete(e.key)
}
