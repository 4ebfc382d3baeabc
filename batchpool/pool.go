// Package batchpool is a recyclable pool of work batches.
//
// The pool holds a fixed arena of batches created at construction time and a
// bounded queue of free batch indices. Consumers drain leases from the queue,
// run a pipeline pass over them and release each lease exactly once when the
// pass resolves. A batch is therefore always held by exactly one of: the free
// queue, an active pipeline, or a background watcher that will release it.
//
// Usage:
//  1. Create the pool with `New`, handing it the full batch set.
//  2. `Drain` up to n leases; an empty result means nothing is parked.
//  3. When a batch's pass reaches a terminal state, `Release` its lease.
//
// Releasing a lease twice is a programming error and panics, since it would
// duplicate the batch inside the queue and break the conservation invariant.
package batchpool

import (
	"sync/atomic"
)

// Lease is a batch checked out of the pool. The index is the batch's arena
// slot and doubles as its stable identity.
type Lease[T any] struct {
	Index int
	Item  T

	released atomic.Bool
}

// Pool is a bounded multi-producer multi-consumer pool of batches.
type Pool[T any] struct {
	arena []T
	free  chan int
	idle  atomic.Int64
}

// New builds a pool over the given batches. All batches start idle.
func New[T any](batches []T) *Pool[T] {
	p := &Pool[T]{
		arena: batches,
		free:  make(chan int, len(batches)),
	}
	for i := range batches {
		p.free <- i
	}
	p.idle.Store(int64(len(batches)))
	return p
}

// Drain checks out up to max idle batches without blocking. It returns nil
// when no batch is parked in the queue.
func (p *Pool[T]) Drain(max int) []*Lease[T] {
	var leases []*Lease[T]
	for len(leases) < max {
		select {
		case i := <-p.free:
			leases = append(leases, &Lease[T]{Index: i, Item: p.arena[i]})
		default:
			p.idle.Add(-int64(len(leases)))
			return leases
		}
	}
	p.idle.Add(-int64(len(leases)))
	return leases
}

// Release returns a lease to the free queue.
func (p *Pool[T]) Release(l *Lease[T]) {
	if l.released.Swap(true) {
		panic("batchpool: lease released twice")
	}
	p.idle.Add(1)
	p.free <- l.Index
}

// Idle reports how many batches are currently parked in the queue rather
// than in flight.
func (p *Pool[T]) Idle() int {
	return int(p.idle.Load())
}

// Size is the total number of batches in the arena.
func (p *Pool[T]) Size() int {
	return len(p.arena)
}
