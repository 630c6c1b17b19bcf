package ledgerkv

import (
	"errors"
	"fmt"

	"github.com/ledgerkv/ledgerkv/lockmgr"
	"github.com/ledgerkv/ledgerkv/pagestore"
	"github.com/ledgerkv/ledgerkv/redo"
	"github.com/ledgerkv/ledgerkv/txn"
	"github.com/ledgerkv/ledgerkv/valuestream"
)

// Sentinel errors a caller checks for with errors.Is, one per taxonomy
// entry a Database operation can fail with.
var (
	// ErrIllegalArgument marks a caller-supplied argument that is invalid
	// on its face (empty name, negative size, nil key), independent of
	// database state.
	ErrIllegalArgument = errors.New("ledgerkv: illegal argument")
	// ErrIllegalState marks an operation attempted against a database or
	// transaction in the wrong lifecycle state (use after Close, commit
	// after rollback, open of an already-locked file, ...).
	ErrIllegalState = errors.New("ledgerkv: illegal state")
	// ErrLockFailure is the umbrella sentinel every lock-acquisition
	// failure wraps, in addition to its more specific sibling below.
	ErrLockFailure = errors.New("ledgerkv: lock acquisition failed")
	// ErrLockTimeout means a lock could not be acquired within its
	// configured timeout.
	ErrLockTimeout = errors.New("ledgerkv: lock timed out")
	// ErrLockInterrupted means a context was canceled while waiting for a
	// lock.
	ErrLockInterrupted = errors.New("ledgerkv: lock wait interrupted")
	// ErrIllegalUpgrade means a shared-only hold attempted to promote to
	// upgradable/exclusive in violation of the database's upgrade rule.
	ErrIllegalUpgrade = errors.New("ledgerkv: illegal lock upgrade")
	// ErrDeadlock means the wait-for graph detected a cycle and this
	// caller was chosen as the victim.
	ErrDeadlock = errors.New("ledgerkv: deadlock detected")
	// ErrViewConstraint means an operation would violate the snapshot/
	// view guarantees of the transaction it ran under.
	ErrViewConstraint = errors.New("ledgerkv: view constraint violated")
	// ErrNoSuchValue means the referenced key has no live value.
	ErrNoSuchValue = errors.New("ledgerkv: no such value")
	// ErrDatabaseFull means the backing store could not be extended to
	// satisfy an allocation.
	ErrDatabaseFull = errors.New("ledgerkv: database full")
	// ErrCorruptRedoLog means a redo stream record failed its terminator
	// check past what can be treated as an unflushed tail.
	ErrCorruptRedoLog = errors.New("ledgerkv: corrupt redo log")
	// ErrConversion means a value could not be converted to the type a
	// caller requested it as.
	ErrConversion = errors.New("ledgerkv: conversion failed")
)

// Error is the uniform error type returned by every public Database/Txn/
// Index API. It attaches structured context (Op, IndexID, Key) to the
// underlying cause the way a log line would, so a caller can still get at
// the plain message while a debugger gets the coordinates of the failure.
//
//	var lErr *ledgerkv.Error
//	if errors.As(err, &lErr) {
//	    log.Printf("failed for index %d key %q", lErr.IndexID, lErr.Key)
//	}
//
// Use errors.Is against the sentinels above to classify the failure.
type Error struct {
	// Op names the operation that failed ("Open", "Txn.Store", ...).
	Op string

	// IndexID is the index the operation targeted, if any.
	IndexID uint64
	hasIndexID bool

	// Key is the key the operation targeted, if any.
	Key []byte

	// Err is the underlying cause.
	Err error
}

// Error formats as "<op>: <cause> (index_id=N key=...)".
func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	cause := e.cause()
	suffix := e.suffix()

	msg := cause
	if e.Op != "" {
		if msg == "" {
			msg = e.Op
		} else {
			msg = e.Op + ": " + msg
		}
	}

	if suffix == "" {
		return msg
	}

	if msg == "" {
		return suffix
	}

	return msg + " " + suffix
}

// String implements fmt.Stringer.
func (e *Error) String() string { return e.Error() }

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

func (e *Error) suffix() string {
	var parts []byte

	if e.hasIndexID {
		parts = fmt.Appendf(parts, "index_id=%d", e.IndexID)
	}

	if e.Key != nil {
		if len(parts) > 0 {
			parts = append(parts, ' ')
		}

		parts = fmt.Appendf(parts, "key=%q", e.Key)
	}

	if len(parts) == 0 {
		return ""
	}

	return "(" + string(parts) + ")"
}

func (e *Error) cause() string {
	if e.Err == nil {
		return ""
	}

	return e.Err.Error()
}

// errOpt configures an Error during construction via wrap.
type errOpt func(*Error)

// withOp names the operation that produced the error.
func withOp(op string) errOpt {
	return func(e *Error) { e.Op = op }
}

// withIndexID attaches the index id an operation targeted.
func withIndexID(id uint64) errOpt {
	return func(e *Error) { e.IndexID, e.hasIndexID = id, true }
}

// withKey attaches the key an operation targeted.
func withKey(key []byte) errOpt {
	return func(e *Error) { e.Key = key }
}

// wrap creates an *Error with optional context, following the same
// double-wrap-avoidance and context-inheritance rules a caller wrapping a
// lower-level error repeatedly should get automatically.
func wrap(err error, opts ...errOpt) error {
	if err == nil {
		return nil
	}

	existing := &Error{}
	isDirectError := errors.As(err, &existing)

	if isDirectError && len(opts) == 0 {
		return existing
	}

	e := &Error{Err: err}

	if isDirectError {
		e.Op = existing.Op
		e.IndexID, e.hasIndexID = existing.IndexID, existing.hasIndexID
		e.Key = existing.Key
		e.Err = existing.Err
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// classify maps an error from a lower-level package onto the sentinel
// taxonomy above, so callers never need to know that a timed-out lock
// acquisition actually came back as a *lockmgr.LockTimeoutError.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var (
		lockTimeout  *lockmgr.LockTimeoutError
		interrupted  *lockmgr.LockInterruptedError
		deadlock     *lockmgr.DeadlockError
		illegalUpg   *lockmgr.IllegalUpgradeError
	)

	switch {
	case errors.As(err, &lockTimeout):
		return fmt.Errorf("%w: %w", ErrLockTimeout, err)
	case errors.As(err, &interrupted):
		return fmt.Errorf("%w: %w", ErrLockInterrupted, err)
	case errors.As(err, &deadlock):
		return fmt.Errorf("%w: %w", ErrDeadlock, err)
	case errors.As(err, &illegalUpg):
		return fmt.Errorf("%w: %w", ErrIllegalUpgrade, err)
	case errors.Is(err, txn.ErrIllegalUnlock), errors.Is(err, txn.ErrEmptyStack):
		return fmt.Errorf("%w: %w", ErrIllegalState, err)
	case errors.Is(err, valuestream.ErrNoSuchValue):
		return fmt.Errorf("%w: %w", ErrNoSuchValue, err)
	case errors.Is(err, pagestore.ErrDatabaseFull):
		return fmt.Errorf("%w: %w", ErrDatabaseFull, err)
	case errors.Is(err, redo.ErrCorrupt), errors.Is(err, redo.ErrUnknownOpcode):
		return fmt.Errorf("%w: %w", ErrCorruptRedoLog, err)
	default:
		return err
	}
}

// lockErr classifies a lock-manager error and wraps it with op/index/key
// context in one call, the shape every Store/Delete/Lock call site needs.
func lockErr(err error, op string, ix uint64, key []byte) error {
	if err == nil {
		return nil
	}

	return wrap(classify(err), withOp(op), withIndexID(ix), withKey(key))
}
