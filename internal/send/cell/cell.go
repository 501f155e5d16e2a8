// Package cell provides a latest-value broadcast primitive and channel combinators
package cell

import (
	"context"
	"sync"
)

// Notifier exposes change notifications without the value type
type Notifier interface {
	Changes() (<-chan struct{}, func())
}

// Cell holds a value and broadcasts the latest one to subscribers.
// Slow subscribers never block Set; they only ever see the most recent value.
type Cell[T any] struct {
	mu      sync.RWMutex
	value   T
	version uint64
	nextID  uint64
	subs    map[uint64]chan T
	changes map[uint64]chan struct{}
}

// New creates a cell holding initial
func New[T any](initial T) *Cell[T] {
	return &Cell[T]{
		value:   initial,
		subs:    make(map[uint64]chan T),
		changes: make(map[uint64]chan struct{}),
	}
}

// Get returns the current value
func (c *Cell[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Version increments on every Set
func (c *Cell[T]) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Set replaces the value and notifies every subscriber
func (c *Cell[T]) Set(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(v)
}

// Update applies fn to the current value under the cell lock
func (c *Cell[T]) Update(fn func(T) T) T {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := fn(c.value)
	c.setLocked(next)
	return next
}

// UpdateIf applies fn and publishes its result only when fn reports ok
func (c *Cell[T]) UpdateIf(fn func(T) (T, bool)) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next, ok := fn(c.value)
	if !ok {
		return c.value, false
	}
	c.setLocked(next)
	return next, true
}

func (c *Cell[T]) setLocked(v T) {
	c.value = v
	c.version++
	for _, ch := range c.subs {
		replace(ch, v)
	}
	for _, ch := range c.changes {
		replace(ch, struct{}{})
	}
}

// replace drops a stale buffered value and stores v. Only called with the cell lock held.
func replace[V any](ch chan V, v V) {
	select {
	case <-ch:
	default:
	}
	ch <- v
}

// Subscribe returns a channel that immediately holds the current value and
// then always the latest one, plus a cancel func
func (c *Cell[T]) Subscribe() (<-chan T, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	ch := make(chan T, 1)
	ch <- c.value
	c.subs[id] = ch

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

// Changes returns a channel signalled after every Set
func (c *Cell[T]) Changes() (<-chan struct{}, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	ch := make(chan struct{}, 1)
	c.changes[id] = ch

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.changes, id)
	}
}

// Watch calls fn whenever any of the notifiers changes, until ctx is done.
// It is the combine-latest of the pipeline: fn reads the current value of
// every input, so bursts of writes collapse into the latest combination.
func Watch(ctx context.Context, fn func(), notifiers ...Notifier) {
	merged := make(chan struct{}, 1)
	var wg sync.WaitGroup

	for _, n := range notifiers {
		ch, cancel := n.Changes()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer cancel()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ch:
					select {
					case merged <- struct{}{}:
					default:
					}
				}
			}
		}()
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				wg.Wait()
				return
			case <-merged:
				fn()
			}
		}
	}()
}
