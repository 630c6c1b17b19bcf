package lockmgr

import "sync"

// deadlockState tracks, for every currently-blocked locker, which lock it
// is waiting on. check walks the resulting wait-for graph with a DFS:
// nodes are lockers, edges go from a waiter to the current holder(s) of
// the lock it is blocked on.
//
// Detection acquires at most one stripe latch at a time (holdersOf takes
// and releases it before moving to the next lock), so the detector cannot
// deadlock on the stripe latches it walks through: two are never held
// simultaneously.
type deadlockState struct {
	mu         sync.Mutex
	waitingFor map[LockerID]LockID
}

func (d *deadlockState) recordWaiting(locker LockerID, id LockID) {
	d.mu.Lock()
	d.waitingFor[locker] = id
	d.mu.Unlock()
}

func (d *deadlockState) clearWaiting(locker LockerID) {
	d.mu.Lock()
	delete(d.waitingFor, locker)
	d.mu.Unlock()
}

func (d *deadlockState) waitingOn(locker LockerID) (LockID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id, ok := d.waitingFor[locker]

	return id, ok
}

// holdersOf returns every locker currently holding id (the owner, plus any
// shared holders), without blocking.
func (m *Manager) holdersOf(id LockID) []LockerID {
	st := m.stripeFor(id.Hash)

	st.l.AcquireShared()
	defer st.l.ReleaseShared()

	key := lockKey{indexID: id.IndexID, key: id.Key}

	l, ok := st.locks[key]
	if !ok {
		return nil
	}

	return l.holders()
}

// check runs a DFS from start over the wait-for graph. It reports whether
// a cycle was found, the locks on that cycle, and the "guilty" locker.
//
// Every locker on a given cycle runs this same DFS independently (each
// from its own position in the cycle), so "guilty" must be a function of
// the cycle's node set alone, not of which locker started the walk or in
// which order the walk visited them; otherwise two lockers on the same
// cycle could each conclude the other is guilty (or that neither is), and
// nobody would self-abort. This implementation picks the locker with the
// numerically highest LockerID on the cycle, which every participant's
// walk agrees on regardless of traversal order.
//
// Each blocked locker is currently modeled as waiting on exactly one lock
// with one outgoing edge; when that lock has more than one holder (a
// shared hold blocking an upgrade/exclusive waiter), the DFS follows the
// first holder for continued traversal but still checks every holder
// directly against start, so soundness (cycle reported implies cycle
// exists) holds even though completeness across multi-holder branching is
// not exhaustively explored, which is sufficient for exclusive-lock cycles.
func (d *deadlockState) check(m *Manager, start LockerID) (DeadlockSet, LockerID, bool) {
	visited := make(map[LockerID]bool)

	var path []LockerID

	var pathLocks []LockID

	cur := start

	for {
		if visited[cur] {
			return nil, 0, false
		}

		visited[cur] = true

		id, blocked := d.waitingOn(cur)
		if !blocked {
			return nil, 0, false
		}

		path = append(path, cur)
		pathLocks = append(pathLocks, id)

		holders := m.holdersOf(id)
		if len(holders) == 0 {
			return nil, 0, false
		}

		for _, h := range holders {
			if h == start {
				return DeadlockSet(pathLocks), chooseGuilty(path), true
			}
		}

		cur = holders[0]
	}
}

func chooseGuilty(cycle []LockerID) LockerID {
	guilty := cycle[0]

	for _, c := range cycle[1:] {
		if c > guilty {
			guilty = c
		}
	}

	return guilty
}
