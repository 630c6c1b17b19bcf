// Package recovery replays a redo stream into live transaction and index
// state on open: decode sequentially, classify by the state the record
// implies, and feed the result into the store. Replay is a worker pool
// dispatch pinned by txnId so independent transactions replay in parallel
// while one transaction's own records stay in their original order.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ledgerkv/ledgerkv/internal/workerpool"
	"github.com/ledgerkv/ledgerkv/lockmgr"
	"github.com/ledgerkv/ledgerkv/redo"
	"github.com/ledgerkv/ledgerkv/txn"
)

// ErrMissingIndex is raised when a record references an index id that
// IndexResolver cannot resolve. In strict mode (lenient == false at
// construction) this ends replay; in lenient mode it is swallowed per
// record and replay continues: missing-object errors are swallowed only
// when lenient is set; otherwise they signal end of recoverable data.
var ErrMissingIndex = errors.New("recovery: referenced index not found")

// Index is the narrow seam recovery needs into the index/B-tree layer,
// which is out of scope here. It applies one already-decoded mutation; it
// does not need to know about locks, transactions, or pages.
type Index interface {
	Store(key, value []byte) error
	Delete(key []byte) error
}

// IndexResolver resolves an index id to the Index that owns it. A resolver
// may additionally implement IndexAdmin and/or CustomApplier to handle the
// administrative and custom-payload opcodes; a resolver implementing
// neither simply ignores those records.
type IndexResolver interface {
	Resolve(ix uint64) (Index, bool)
}

// IndexAdmin is an optional IndexResolver capability for RENAME_INDEX and
// DELETE_INDEX records.
type IndexAdmin interface {
	RenameIndex(ix uint64, newName []byte) error
	DeleteIndex(ix uint64) error
}

// CustomApplier is an optional IndexResolver capability for the opaque
// TXN_CUSTOM / TXN_CUSTOM_LOCK payloads an embedder may have written.
type CustomApplier interface {
	ApplyCustom(msg []byte) error
	ApplyCustomLock(ix uint64, key, msg []byte) error
}

// liveTxn is one in-flight transaction's replay state: the locker that
// reacquires its locks in original order, and the open scope every
// acquisition is nested under so a single ScopeExitAll releases exactly
// what this transaction picked up during replay.
type liveTxn struct {
	locker *txn.Locker
}

// Recovery replays a redo stream produced by RedoCodec. It is built once
// per restart/replication-catchup and discarded after Replay returns.
type Recovery struct {
	mgr      *lockmgr.Manager
	resolver IndexResolver
	pool     *workerpool.Pool
	timeout  time.Duration
	lenient  bool

	mu   sync.Mutex
	live map[int64]*liveTxn

	nextAutoID atomic.Uint64
}

// autoIDBase separates ephemeral auto-commit lockers (one per STORE/DELETE
// record outside any transaction) from real txnIds, which arrive as small
// deltas from zero under the codec's delta-encoding. Auto-commit ops never
// need to be looked up by id again, so collisions with a real txnId would
// only matter if one could reach 2^63, which delta-encoded ids never do.
const autoIDBase = uint64(1) << 62

// New builds a Recovery that reacquires locks through mgr, resolves
// indexes through resolver, and dispatches op replay across a worker pool
// sized N = next_pow2(maxThreads*2), so per-txnId pinning
// gives every transaction its own serialized lane while the lanes run
// concurrently. lockTimeout bounds each lock reacquisition; lenient
// controls whether a missing index aborts replay or is skipped.
func New(mgr *lockmgr.Manager, resolver IndexResolver, maxThreads int, lockTimeout time.Duration, lenient bool) *Recovery {
	if maxThreads < 1 {
		maxThreads = 1
	}

	rc := &Recovery{
		mgr:      mgr,
		resolver: resolver,
		pool:     workerpool.New(nextPow2(maxThreads * 2)),
		timeout:  lockTimeout,
		lenient:  lenient,
		live:     make(map[int64]*liveTxn),
	}
	rc.nextAutoID.Store(autoIDBase)

	return rc
}

// nextPow2 rounds n up to the next power of two (minimum 1); same shape as
// lockmgr's stripe-count helper, kept local since that one is unexported.
func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}

	p := 1
	for p < n {
		p <<= 1
	}

	return p
}

// Close releases the worker pool. Call once after Replay returns.
func (rc *Recovery) Close() { rc.pool.Close() }

// Replay decodes every record in r and applies it, blocking until every
// dispatched op has completed. It returns the first error encountered,
// whether from decoding the stream or from replaying an op.
func (rc *Recovery) Replay(ctx context.Context, r io.Reader, policy redo.TerminatorPolicy, token uint32) error {
	v := &visitor{rc: rc, ctx: ctx}

	dec := redo.NewDecoder(r, policy, token, rc.lenient)
	if err := dec.DecodeAll(v); err != nil {
		return fmt.Errorf("recovery: decode: %w", err)
	}

	return rc.pool.Wait()
}

func (rc *Recovery) getLive(id int64) (*liveTxn, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	t, ok := rc.live[id]

	return t, ok
}

func (rc *Recovery) enter(id int64) *liveTxn {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	t := &liveTxn{locker: txn.NewLocker(rc.mgr, lockmgr.LockerID(id), lockmgr.Shared, rc.timeout)}
	t.locker.ScopeEnter()
	rc.live[id] = t

	return t
}

func (rc *Recovery) remove(id int64) {
	rc.mu.Lock()
	delete(rc.live, id)
	rc.mu.Unlock()
}

// resetLive drains the pool so every pinned task already submitted for the
// stream segment being reset has finished, then releases and forgets every
// still-live transaction. RESET marks a fresh stream: a
// transaction that never reached its FINAL opcode before the cut is
// abandoned, exactly as a crash would have left it, so its locks are
// released rather than carried across the reset boundary.
func (rc *Recovery) resetLive() error {
	if err := rc.pool.Wait(); err != nil {
		return err
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()

	for id, t := range rc.live {
		t.locker.ScopeExitAll()
		delete(rc.live, id)
	}

	return nil
}

func (rc *Recovery) resolve(ix uint64) (Index, error) {
	idx, ok := rc.resolver.Resolve(ix)
	if !ok {
		if rc.lenient {
			return nil, nil
		}

		return nil, fmt.Errorf("%w: ix=%d", ErrMissingIndex, ix)
	}

	return idx, nil
}

// lockForWrite reacquires the same two-step escalation the live engine
// takes before a mutation: Upgradable first, then escalate to Exclusive,
// so replay induces the identical lock-manager state transitions, and
// hence the identical ordering/conflict behavior, a replication follower
// must reproduce.
func (rc *Recovery) lockForWrite(ctx context.Context, locker *txn.Locker, id lockmgr.LockID) error {
	if _, err := locker.Lock(ctx, id, lockmgr.Upgradable); err != nil {
		return err
	}

	if _, err := locker.Lock(ctx, id, lockmgr.Exclusive); err != nil {
		return err
	}

	return nil
}
