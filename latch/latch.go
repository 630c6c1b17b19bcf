// Package latch provides a fast, in-process reader/writer spinlock with
// fair handoff.
//
// A [Latch] is cheaper than a [github.com/ledgerkv/ledgerkv/lockmgr] lock:
// it only ever lives for the duration of a single page touch, never spans a
// transaction, and never participates in deadlock detection. It exists
// purely to serialize concurrent readers and writers of one in-memory page.
//
// Ownership is encoded in a single 32-bit atomic state word: no separate
// ownership struct, no heap allocation on the fast path. Waiters that lose
// the CAS race park on a lock-free MPSC queue and are either barged past
// (woken but not guaranteed ownership) or handed off fairly once they have
// been denied once.
//
// This is a different design from a packed-state condvar mutex, where every
// waiter blocks on a single sync.Cond and is woken by Broadcast to re-check
// the word from scratch on every release: with no queue, no waiter is ever
// distinguished from a brand-new arrival and nothing resembling fair
// handoff is possible. A Latch instead queues waiters explicitly and tracks,
// per waiter, whether it has already lost a barging race once (see waiter.
// denied below); TryExclusive refuses to barge past a waiter that has
// already been denied, so sustained new arrivals cannot starve it forever.
package latch

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"
)

const (
	stateUnheld    uint32 = 0
	stateExclusive uint32 = 0x8000_0000
	stateSharedMax uint32 = 0x7fff_ffff
)

// ErrTimeout is returned by the timed acquire variants when the deadline
// elapses before the latch could be acquired.
type ErrTimeout struct{ Exclusive bool }

func (e *ErrTimeout) Error() string {
	if e.Exclusive {
		return "latch: timed out acquiring exclusive"
	}

	return "latch: timed out acquiring shared"
}

// ErrInterrupted is returned when the context passed to a *Context acquire
// variant is canceled while the caller is parked waiting for the latch.
var ErrInterrupted = &errInterrupted{}

type errInterrupted struct{}

func (*errInterrupted) Error() string { return "latch: acquisition interrupted" }

// waiter is one node in the MPSC parking queue. denied is flipped the first
// time a barging caller wins the CAS race out from under this waiter while
// it sits at the queue head. Once denied, the waiter is owed fair handoff:
// TryExclusive refuses every further barge attempt while this waiter is
// still queued, so the *next* release is the one that transfers ownership
// to it directly, rather than letting an unbounded run of new arrivals
// barge past it indefinitely.
type waiter struct {
	exclusive bool
	denied    atomic.Bool
	granted   atomic.Bool
	done      chan struct{}
	next      atomic.Pointer[waiter]
}

func newWaiter(exclusive bool) *waiter {
	return &waiter{exclusive: exclusive, done: make(chan struct{})}
}

// Latch is a reader/writer spinlock with queued parking and fair handoff.
//
// The zero value is a valid, unheld latch.
type Latch struct {
	state atomic.Uint32

	mu    chanMutex // guards first/last during enqueue/dequeue only
	first atomic.Pointer[waiter]
	last  atomic.Pointer[waiter]
}

// chanMutex is a tiny non-reentrant mutex built on a buffered channel;
// the latch's hot path never touches it.
type chanMutex chan struct{}

func (m *chanMutex) lock() {
	if *m == nil {
		*m = make(chanMutex, 1)
	}

	*m <- struct{}{}
}

func (m *chanMutex) unlock() { <-*m }

// TryExclusive attempts to acquire the latch exclusively without blocking.
//
// It refuses to barge past a queue head that has already been denied once
// (see waiter.denied): that waiter is owed the next release's handoff, so a
// new caller observing the latch unheld must still queue behind it instead
// of racing the releaser's own CAS for ownership. A queue head that has not
// yet been denied may still be barged past once, at which point it is
// marked denied, so the barge it just lost to is the last one it loses.
func (l *Latch) TryExclusive() bool {
	if l.hasDeniedExclusiveWaiter() {
		return false
	}

	if !l.state.CompareAndSwap(stateUnheld, stateExclusive) {
		return false
	}

	l.markHeadBargedPast()

	return true
}

// hasDeniedExclusiveWaiter reports whether the queue head is an exclusive
// waiter that has already lost a barging race once and is now owed the next
// release's handoff.
func (l *Latch) hasDeniedExclusiveWaiter() bool {
	w := l.first.Load()

	return w != nil && w.exclusive && w.denied.Load()
}

// markHeadBargedPast flags a queued exclusive waiter as denied the first
// time a barging caller wins ownership out from under it, so that every
// subsequent TryExclusive call refuses to barge again while it is waiting.
func (l *Latch) markHeadBargedPast() {
	w := l.first.Load()
	if w != nil && w.exclusive {
		w.denied.Store(true)
	}
}

// TryShared attempts to acquire the latch in shared mode without blocking.
// It fails if an exclusive waiter is already queued, so that a long run of
// new shared readers cannot starve a pending writer indefinitely.
func (l *Latch) TryShared() bool {
	if l.hasQueuedExclusive() {
		return false
	}

	for {
		cur := l.state.Load()
		if cur >= stateExclusive {
			return false
		}

		if cur == stateSharedMax {
			return false
		}

		if l.state.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (l *Latch) hasQueuedExclusive() bool {
	w := l.first.Load()

	return w != nil && w.exclusive
}

// AcquireExclusive blocks until the latch is held exclusively.
func (l *Latch) AcquireExclusive() {
	_ = l.acquireExclusiveCtx(context.Background(), -1)
}

// AcquireExclusiveTimeout blocks until the latch is acquired or timeout
// elapses. A negative timeout blocks indefinitely.
func (l *Latch) AcquireExclusiveTimeout(timeout time.Duration) error {
	return l.acquireExclusiveCtx(context.Background(), timeout)
}

// AcquireExclusiveContext blocks until the latch is acquired or ctx is done.
func (l *Latch) AcquireExclusiveContext(ctx context.Context) error {
	return l.acquireExclusiveCtx(ctx, -1)
}

func (l *Latch) acquireExclusiveCtx(ctx context.Context, timeout time.Duration) error {
	if l.TryExclusive() {
		return nil
	}

	spins := runtime.GOMAXPROCS(0)
	for range spins {
		if l.TryExclusive() {
			return nil
		}

		runtime.Gosched()
	}

	w := newWaiter(true)
	l.enqueue(w)

	return l.park(w, ctx, timeout)
}

// AcquireShared blocks until the latch is held in shared mode.
func (l *Latch) AcquireShared() {
	_ = l.acquireSharedCtx(context.Background(), -1)
}

// AcquireSharedTimeout blocks until the latch is acquired or timeout elapses.
func (l *Latch) AcquireSharedTimeout(timeout time.Duration) error {
	return l.acquireSharedCtx(context.Background(), timeout)
}

// AcquireSharedContext blocks until the latch is acquired or ctx is done.
func (l *Latch) AcquireSharedContext(ctx context.Context) error {
	return l.acquireSharedCtx(ctx, -1)
}

func (l *Latch) acquireSharedCtx(ctx context.Context, timeout time.Duration) error {
	if l.TryShared() {
		return nil
	}

	w := newWaiter(false)
	l.enqueue(w)

	return l.park(w, ctx, timeout)
}

// TryUpgrade attempts to convert a held shared (count==1) lock directly to
// exclusive without releasing it in between.
func (l *Latch) TryUpgrade() bool {
	return l.state.CompareAndSwap(1, stateExclusive)
}

// Downgrade converts an exclusive hold into a single shared hold, then wakes
// a contiguous run of queued shared waiters.
func (l *Latch) Downgrade() {
	l.state.Store(1)
	l.wakeSharedRun()
}

// ReleaseExclusive releases an exclusive hold, handing off to the next
// waiter (shared run or single exclusive) if one is queued.
func (l *Latch) ReleaseExclusive() {
	l.mu.lock()
	head := l.first.Load()
	l.mu.unlock()

	if head == nil {
		l.state.Store(stateUnheld)
		// Re-check: a waiter may have enqueued between our load and the
		// store above observing an apparently-empty queue.
		l.mu.lock()
		head = l.first.Load()
		l.mu.unlock()

		if head == nil {
			return
		}

		// Fall through: someone queued concurrently, recover by treating
		// this release as a contested one.
		if !l.state.CompareAndSwap(stateUnheld, stateExclusive) {
			return
		}
	}

	if !head.exclusive {
		l.Downgrade()
		l.ReleaseShared()

		return
	}

	l.dequeue(head)
	head.granted.Store(true)
	close(head.done)
}

// ReleaseShared releases one shared hold, promoting to exclusive and handing
// off if the count reaches zero with a waiter present.
func (l *Latch) ReleaseShared() {
	for {
		cur := l.state.Load()
		if cur == 0 {
			return
		}

		if l.state.CompareAndSwap(cur, cur-1) {
			if cur-1 == 0 {
				l.mu.lock()
				head := l.first.Load()
				l.mu.unlock()

				if head != nil {
					if l.state.CompareAndSwap(0, stateExclusive) {
						l.ReleaseExclusive()
					}
				}
			}

			return
		}
	}
}

func (l *Latch) wakeSharedRun() {
	for {
		l.mu.lock()
		head := l.first.Load()
		if head == nil || head.exclusive {
			l.mu.unlock()

			return
		}
		l.dequeue(head)
		l.mu.unlock()

		for {
			cur := l.state.Load()
			if l.state.CompareAndSwap(cur, cur+1) {
				break
			}
		}

		head.granted.Store(true)
		close(head.done)
	}
}

func (l *Latch) enqueue(w *waiter) {
	l.mu.lock()
	defer l.mu.unlock()

	if last := l.last.Load(); last != nil {
		last.next.Store(w)
	} else {
		l.first.Store(w)
	}

	l.last.Store(w)
}

// dequeue must be called with mu held and w == l.first.
func (l *Latch) dequeue(w *waiter) {
	next := w.next.Load()
	l.first.Store(next)

	if next == nil {
		l.last.Store(nil)
	}
}

func (l *Latch) removeWaiting(w *waiter) {
	l.mu.lock()
	defer l.mu.unlock()

	if l.first.Load() == w {
		l.dequeue(w)

		return
	}

	prev := l.first.Load()
	for prev != nil {
		n := prev.next.Load()
		if n == w {
			prev.next.Store(w.next.Load())

			if l.last.Load() == w {
				l.last.Store(prev)
			}

			return
		}

		prev = n
	}
}

func (l *Latch) park(w *waiter, ctx context.Context, timeout time.Duration) error {
	var timer *time.Timer

	var timeoutCh <-chan time.Time

	if timeout >= 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()

		timeoutCh = timer.C
	}

	select {
	case <-w.done:
		return nil
	case <-timeoutCh:
		if w.granted.Load() {
			return nil
		}

		w.denied.Store(true)
		l.removeWaiting(w)

		return &ErrTimeout{Exclusive: w.exclusive}
	case <-ctx.Done():
		if w.granted.Load() {
			return nil
		}

		l.removeWaiting(w)

		return ErrInterrupted
	}
}

// IsExclusive reports whether the latch is currently held exclusively.
// Intended for diagnostics and tests only; the result is stale the instant
// it is read under contention.
func (l *Latch) IsExclusive() bool {
	return l.state.Load() >= stateExclusive
}

// SharedCount returns the current shared holder count, or 0 if unheld or
// held exclusively. Diagnostics only.
func (l *Latch) SharedCount() uint32 {
	cur := l.state.Load()
	if cur >= stateExclusive {
		return 0
	}

	return cur
}
