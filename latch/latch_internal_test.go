package latch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestTryExclusive_DeniesRepeatBargingPastQueuedWaiter is a white-box
// companion to TestLatch_SustainedArrivalsCannotStarveAQueuedWaiter: it
// drives the denied-marking mechanism directly instead of racing goroutines
// against each other, so the mechanism itself is pinned down deterministically.
func TestTryExclusive_DeniesRepeatBargingPastQueuedWaiter(t *testing.T) {
	t.Parallel()

	var l Latch

	w := newWaiter(true)
	l.enqueue(w)

	require.False(t, w.denied.Load())

	// The latch is unheld and w has not been denied yet: a barge succeeds,
	// and marks w denied in the same call since it is the queue head.
	require.True(t, l.TryExclusive())
	require.True(t, w.denied.Load())

	// Simulate the barger releasing without going through the queue (as
	// ReleaseExclusive would, since that path always hands off to an
	// exclusive head directly rather than calling TryExclusive).
	l.state.Store(stateUnheld)

	// w is still queued and now denied: every further barge must be
	// refused, however many times it is retried.
	for range 10 {
		require.False(t, l.TryExclusive())
	}

	require.Equal(t, stateUnheld, l.state.Load())

	// Once w is dequeued, the latch reverts to ordinary barging behavior.
	l.removeWaiting(w)
	require.True(t, l.TryExclusive())
}

// TestTryExclusive_BargesFreelyWithNoQueuedWaiter pins down that the gate
// only ever applies once a waiter exists and has been denied; an empty
// queue never blocks TryExclusive.
func TestTryExclusive_BargesFreelyWithNoQueuedWaiter(t *testing.T) {
	t.Parallel()

	var l Latch

	require.True(t, l.TryExclusive())
	l.state.Store(stateUnheld)
	require.True(t, l.TryExclusive())
}

// TestTryExclusive_DoesNotGateOnUndeniedQueuedWaiter confirms a queued but
// not-yet-denied exclusive waiter does not block a barge outright, only a
// denied one does: the first barge is always allowed through.
func TestTryExclusive_DoesNotGateOnUndeniedQueuedWaiter(t *testing.T) {
	t.Parallel()

	var l Latch

	w := newWaiter(true)
	l.enqueue(w)

	require.False(t, l.hasDeniedExclusiveWaiter())
	require.True(t, l.TryExclusive())
}
