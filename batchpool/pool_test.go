package batchpool

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDrainEmptyPool(t *testing.T) {
	p := New([]int{})
	require.Nil(t, p.Drain(4))
	require.Equal(t, 0, p.Idle())
}

func TestDrainRespectsMax(t *testing.T) {
	p := New([]string{"a", "b", "c", "d", "e"})
	require.Equal(t, 5, p.Idle())

	leases := p.Drain(4)
	require.Len(t, leases, 4)
	require.Equal(t, 1, p.Idle())

	rest := p.Drain(4)
	require.Len(t, rest, 1)
	require.Equal(t, 0, p.Idle())
	require.Nil(t, p.Drain(4))
}

func TestReleaseMakesBatchDrainableAgain(t *testing.T) {
	p := New([]int{10, 20})
	leases := p.Drain(2)
	require.Len(t, leases, 2)

	p.Release(leases[0])
	require.Equal(t, 1, p.Idle())

	again := p.Drain(2)
	require.Len(t, again, 1)
	require.Equal(t, leases[0].Index, again[0].Index)
	require.Equal(t, leases[0].Item, again[0].Item)
}

func TestDoubleReleasePanics(t *testing.T) {
	p := New([]int{1})
	l := p.Drain(1)[0]
	p.Release(l)
	require.Panics(t, func() { p.Release(l) })
}

// Round-trips batches through simulated pipeline passes with asynchronous
// release and checks none are lost or duplicated.
func TestConservationUnderConcurrency(t *testing.T) {
	const batches = 16
	const passes = 200

	items := make([]int, batches)
	for i := range items {
		items[i] = i
	}
	p := New(items)

	var wg sync.WaitGroup

	for pass := 0; pass < passes; pass++ {
		leases := p.Drain(4)
		for _, l := range leases {
			wg.Add(1)
			go func(l *Lease[int]) {
				defer wg.Done()
				time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
				p.Release(l)
			}(l)
		}
		if len(leases) == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	wg.Wait()

	// every batch is back in the queue exactly once
	require.Equal(t, batches, p.Idle())
	final := p.Drain(batches)
	require.Len(t, final, batches)

	ids := make(map[int]bool)
	for _, l := range final {
		require.False(t, ids[l.Index], "batch %d duplicated", l.Index)
		ids[l.Index] = true
	}
	require.Len(t, ids, batches)
}
