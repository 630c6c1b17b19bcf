// Package txn implements the per-transaction lock stack: a Locker owns an
// append-only sequence of lock acquisitions grouped into nested scopes, and
// knows how to unwind a scope (releasing or promoting intervening
// acquisitions) without the caller tracking individual locks by hand.
package txn

import (
	"context"
	"errors"
	"time"

	"github.com/ledgerkv/ledgerkv/lockmgr"
)

// ErrIllegalUnlock is returned by Unlock when the top-of-stack entry was an
// immediate upgrade of an already-held lock; such entries may only be
// released as part of a scope unwind, never directly.
var ErrIllegalUnlock = errors.New("txn: top-of-stack entry is an immediate upgrade, cannot unlock directly")

// ErrEmptyStack is returned by Unlock when the locker holds no locks.
var ErrEmptyStack = errors.New("txn: locker stack is empty")

type stackEntry struct {
	lock lockmgr.LockID

	// immediateUpgrade marks an entry created by promoting an
	// already-held shared/upgradable lock in place (the manager returned
	// Upgraded). Such an entry may not be released with a plain unlock;
	// a scope unwind releases or downgrades it (see unwindTo).
	immediateUpgrade bool
}

// scopeSnapshot is everything needed to restore a Locker to its
// pre-enter state. A {tail, tailBlockSize} pair addressing a slot within
// a chain of fixed-capacity blocks would work too; this implementation
// keeps a single growable slice for the stack (append already amortizes
// growth the way a doubling block chain would), so the snapshot only
// needs the stack length.
type scopeSnapshot struct {
	tail          int
	mode          lockmgr.LockKind
	timeout       time.Duration
	flags         uint32
	redoSavepoint int64
}

// Locker is the per-transaction lock handle: it owns a
// stack of Lock acquisitions grouped into nested scopes and talks to a
// lockmgr.Manager on every push/pop.
type Locker struct {
	mgr *lockmgr.Manager
	id  lockmgr.LockerID

	stack  []stackEntry
	scopes []scopeSnapshot

	mode    lockmgr.LockKind
	timeout time.Duration
	flags   uint32

	redoSavepoint int64
}

// NewLocker creates a Locker bound to id, talking to mgr for every
// acquisition/release. mode and timeout are the defaults used by Lock until
// overridden by a scope.
func NewLocker(mgr *lockmgr.Manager, id lockmgr.LockerID, mode lockmgr.LockKind, timeout time.Duration) *Locker {
	return &Locker{mgr: mgr, id: id, mode: mode, timeout: timeout}
}

// ID returns the underlying lockmgr identity.
func (l *Locker) ID() lockmgr.LockerID { return l.id }

// Depth returns the number of acquisitions currently on the stack.
func (l *Locker) Depth() int { return len(l.stack) }

// SetRedoSavepoint records the current position in the caller's redo stream
// so a later scope_unlock_all/scope_exit_all can report it back via
// RedoSavepoint for truncation.
func (l *Locker) SetRedoSavepoint(pos int64) { l.redoSavepoint = pos }

// RedoSavepoint returns the most recently recorded redo stream position.
func (l *Locker) RedoSavepoint() int64 { return l.redoSavepoint }

// Lock acquires id in mode kind, using the Locker's current default timeout.
// On success (including Owned*/Upgraded results) the acquisition is pushed
// onto the stack; on TimedOut/Interrupted/Illegal nothing is pushed.
func (l *Locker) Lock(ctx context.Context, id lockmgr.LockID, kind lockmgr.LockKind) (lockmgr.AcquireResult, error) {
	res, err := l.mgr.TryLock(ctx, l.id, id, kind, l.timeout)
	if err != nil {
		return res, err
	}

	l.push(id, res == lockmgr.Upgraded)

	return res, nil
}

// curScopeTail is the stack length at the start of the current (innermost)
// scope, or 0 if no scope is open.
func (l *Locker) curScopeTail() int {
	if len(l.scopes) == 0 {
		return 0
	}

	return l.scopes[len(l.scopes)-1].tail
}

// push appends a stack entry, deduping an immediate upgrade of the entry
// just pushed within the same scope: if the tail entry already refers to
// id and this push is itself an upgrade, the existing entry's upgrade bit
// is set instead of growing the stack. Pushes that would dedup against an
// entry from an enclosing scope are never folded; crossing a scope
// boundary here is deliberately not treated as "the same acquisition".
func (l *Locker) push(id lockmgr.LockID, upgrade bool) {
	tail := l.curScopeTail()

	if upgrade && len(l.stack) > tail && l.stack[len(l.stack)-1].lock == id {
		l.stack[len(l.stack)-1].immediateUpgrade = true

		return
	}

	l.stack = append(l.stack, stackEntry{lock: id, immediateUpgrade: upgrade})
}

// Unlock releases the top-of-stack acquisition directly. It fails if the
// stack is empty or if the top entry is an immediate upgrade (those may
// only be unwound via a scope).
func (l *Locker) Unlock() error {
	if len(l.stack) == 0 {
		return ErrEmptyStack
	}

	top := l.stack[len(l.stack)-1]
	if top.immediateUpgrade {
		return ErrIllegalUnlock
	}

	l.mgr.Unlock(l.id, top.lock)
	l.stack = l.stack[:len(l.stack)-1]

	return nil
}

// ScopeEnter pushes a ParentScope snapshot of the locker's current state,
// opening a nested scope. Subsequent Lock calls default to mode/timeout
// until changed with SetMode/SetTimeout.
func (l *Locker) ScopeEnter() {
	l.scopes = append(l.scopes, scopeSnapshot{
		tail:          len(l.stack),
		mode:          l.mode,
		timeout:       l.timeout,
		flags:         l.flags,
		redoSavepoint: l.redoSavepoint,
	})
}

// SetMode changes the default lock kind used by Lock from this point on.
func (l *Locker) SetMode(mode lockmgr.LockKind) { l.mode = mode }

// Mode returns the Locker's current default lock kind.
func (l *Locker) Mode() lockmgr.LockKind { return l.mode }

// SetTimeout changes the default lock timeout used by Lock from this point
// on.
func (l *Locker) SetTimeout(timeout time.Duration) { l.timeout = timeout }

// Promote is called at commit of the innermost scope: the acquisitions made
// within it survive by transferring to the parent scope instead of being
// released. It simply discards the scope snapshot without unwinding the
// stack.
func (l *Locker) Promote() {
	if len(l.scopes) == 0 {
		return
	}

	l.scopes = l.scopes[:len(l.scopes)-1]
}

// ScopeUnlockAll pops the innermost scope, releasing every acquisition made
// since ScopeEnter in LIFO order. An immediate-upgrade entry whose lock is
// still held by an earlier entry on the stack is downgraded back to
// upgradable instead of fully released; one that push folded into the
// original acquisition's entry is released fully.
func (l *Locker) ScopeUnlockAll() {
	tail := 0
	if len(l.scopes) > 0 {
		snap := l.scopes[len(l.scopes)-1]
		tail = snap.tail

		l.mode = snap.mode
		l.timeout = snap.timeout
		l.flags = snap.flags
		l.redoSavepoint = snap.redoSavepoint

		l.scopes = l.scopes[:len(l.scopes)-1]
	}

	l.unwindTo(tail)
}

func (l *Locker) unwindTo(tail int) {
	for len(l.stack) > tail {
		top := l.stack[len(l.stack)-1]
		l.stack = l.stack[:len(l.stack)-1]

		// An upgrade that push folded into the entry of the original
		// acquisition stands for that acquisition too, so it is released
		// fully; only when an earlier entry still holds the lock is the
		// upgrade undone by a downgrade.
		heldBelow := false

		for _, e := range l.stack {
			if e.lock == top.lock {
				heldBelow = true

				break
			}
		}

		if top.immediateUpgrade && heldBelow {
			l.mgr.UnlockToUpgradable(l.id, top.lock)
		} else {
			l.mgr.Unlock(l.id, top.lock)
		}
	}
}

// ScopeExitAll drops every open scope then releases the entire stack, as if
// unwinding straight to the root. Used when a transaction ends without a
// matched ScopeEnter/ScopeUnlockAll pair for every level (e.g. abort).
func (l *Locker) ScopeExitAll() {
	l.scopes = nil
	l.unwindTo(0)
}

// TransferExclusive records every currently-exclusive-held lock on the
// stack in pending (see lockmgr.Manager.TransferExclusive: each stays held
// under this Locker's id in the lock table until ReleasePending) and
// releases everything else. The stack and scopes are cleared.
func (l *Locker) TransferExclusive(pending *lockmgr.PendingTxn) {
	for _, e := range l.stack {
		if l.mgr.Check(l.id, e.lock) == lockmgr.CheckOwnedExclusive {
			l.mgr.TransferExclusive(l.id, e.lock, pending)
		} else {
			l.mgr.Unlock(l.id, e.lock)
		}
	}

	l.stack = nil
	l.scopes = nil
}
