package lockmgr

import "fmt"

// LockTimeoutError is raised when a lock could not be acquired within its
// configured timeout. Lock identifies what was being waited on.
type LockTimeoutError struct {
	Lock LockID
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("lockmgr: timed out waiting for lock on index=%d key=%q", e.Lock.IndexID, e.Lock.Key)
}

// LockInterruptedError is raised when a context is canceled while parked
// waiting for a lock.
type LockInterruptedError struct{}

func (e *LockInterruptedError) Error() string { return "lockmgr: interrupted while waiting for lock" }

// DeadlockSet is the set of (indexId, key) pairs participating in a
// detected wait-for cycle.
type DeadlockSet []LockID

// DeadlockError is raised for the locker chosen as "guilty" (the cycle
// participant with the highest LockerID), carrying the full cycle for
// diagnostics.
type DeadlockError struct {
	Set    DeadlockSet
	Guilty LockerID
}

func (e *DeadlockError) Error() string {
	return fmt.Sprintf("lockmgr: deadlock detected (%d locks in cycle, guilty locker=%d)", len(e.Set), e.Guilty)
}

// IllegalUpgradeError is raised when a locker attempts to promote a shared
// hold to upgradable/exclusive in violation of the configured UpgradeRule.
type IllegalUpgradeError struct {
	Lock LockID
	Rule UpgradeRule
}

func (e *IllegalUpgradeError) Error() string {
	return fmt.Sprintf("lockmgr: illegal upgrade attempt on index=%d key=%q under rule %d", e.Lock.IndexID, e.Lock.Key, e.Rule)
}
