package workerpool_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerkv/ledgerkv/internal/workerpool"
)

func TestPool_SubmitRunsAllTasks(t *testing.T) {
	t.Parallel()

	p := workerpool.New(4)
	defer p.Close()

	var count atomic.Int64

	for range 100 {
		p.Submit(func() error {
			count.Add(1)

			return nil
		})
	}

	require.NoError(t, p.Wait())
	require.Equal(t, int64(100), count.Load())
}

func TestPool_WaitReturnsFirstError(t *testing.T) {
	t.Parallel()

	p := workerpool.New(2)
	defer p.Close()

	boom := errors.New("boom")

	p.Submit(func() error { return nil })
	p.Submit(func() error { return boom })

	require.ErrorIs(t, p.Wait(), boom)
}

func TestPool_SubmitPinnedPreservesPerKeyOrder(t *testing.T) {
	t.Parallel()

	p := workerpool.New(4)
	defer p.Close()

	var mu sync.Mutex

	var order []int

	for i := range 20 {
		i := i

		p.SubmitPinned(7, func() error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()

			return nil
		})
	}

	require.NoError(t, p.Wait())
	require.Len(t, order, 20)

	for i, v := range order {
		require.Equal(t, i, v, "tasks pinned to the same key must run in submission order")
	}
}
