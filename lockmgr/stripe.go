package lockmgr

import (
	"runtime"

	"github.com/ledgerkv/ledgerkv/latch"
)

// stripe is one independently-latched partition of the lock table. Global
// operations (Close, stats) iterate stripes in ascending index order and
// never hold two stripe latches at once; deadlock detection does not
// either (see deadlock.go).
type stripe struct {
	l     latch.Latch
	locks map[lockKey]*Lock
}

type lockKey struct {
	indexID uint64
	key     string
}

func newStripe() *stripe {
	return &stripe{locks: make(map[lockKey]*Lock)}
}

// nextPow2 rounds n up to the next power of two (minimum 1), used to
// size the stripe table: lock stripes
// instead of slot buckets.
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

// defaultStripeCount is numProcessors*16 rounded up to a power of two.
func defaultStripeCount() int {
	return nextPow2(runtime.GOMAXPROCS(0) * 16)
}

// stripeFor selects a stripe by the top bits of the lock's 32-bit hash, so
// that stripe selection and intra-stripe bucket placement (were this table
// to grow a real open-addressed bucket array per stripe rather than a Go
// map) draw from disjoint bit ranges of the same hash.
func (m *Manager) stripeFor(hash uint32) *stripe {
	idx := hash >> (32 - m.stripeBits)

	return m.stripes[idx]
}
