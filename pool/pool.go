// Package pool provides a keyed container with two lock levels: one lock guards
// the key set, and every stored value has its own reader/writer lock.
//
// Looking up a key only holds the map lock long enough to copy out the value's
// handle. Callers then read or write the value through the handle without
// contending on the map, so operations on distinct keys never block each other.
package pool

import (
	"cmp"
	"context"
	"slices"
)

// Handle guards a single pooled value. Handles stay valid after their key is
// removed from the pool; holders simply stop being reachable by lookup.
type Handle[V any] struct {
	lock  *RWLock
	value V
}

// NewHandle wraps v in a fresh handle.
func NewHandle[V any](v V) *Handle[V] {
	return &Handle[V]{lock: NewRWLock(), value: v}
}

// Read calls fn with shared access to the value. fn must not modify it.
// Cancellation can only interrupt waiting for the lock, never fn itself.
func (h *Handle[V]) Read(ctx context.Context, fn func(v *V)) error {
	if err := h.lock.RLock(ctx); err != nil {
		return err
	}
	defer h.lock.RUnlock()
	fn(&h.value)
	return nil
}

// Write calls fn with exclusive access to the value.
func (h *Handle[V]) Write(ctx context.Context, fn func(v *V)) error {
	if err := h.lock.Lock(ctx); err != nil {
		return err
	}
	defer h.lock.Unlock()
	fn(&h.value)
	return nil
}

// Acquire takes exclusive access and returns the value with the function that
// gives it back. Callers holding several handles must acquire them in
// ascending key order.
func (h *Handle[V]) Acquire(ctx context.Context) (v *V, release func(), err error) {
	if err := h.lock.Lock(ctx); err != nil {
		return nil, nil, err
	}
	return &h.value, h.lock.Unlock, nil
}

// Load returns a copy of the value.
func (h *Handle[V]) Load(ctx context.Context) (V, error) {
	var out V
	err := h.Read(ctx, func(v *V) { out = *v })
	return out, err
}

// Store replaces the value.
func (h *Handle[V]) Store(ctx context.Context, v V) error {
	return h.Write(ctx, func(dst *V) { *dst = v })
}

// Entry is a key with a copy of its value.
type Entry[K cmp.Ordered, V any] struct {
	Key   K
	Value V
}

// Pool maps ordered keys to independently lockable values.
type Pool[K cmp.Ordered, V any] struct {
	lock    *RWLock
	entries map[K]*Handle[V]
}

// New returns an empty pool.
func New[K cmp.Ordered, V any]() *Pool[K, V] {
	return &Pool[K, V]{
		lock:    NewRWLock(),
		entries: make(map[K]*Handle[V]),
	}
}

// FromEntries builds a pool from key/value pairs. Later duplicates win.
func FromEntries[K cmp.Ordered, V any](entries []Entry[K, V]) *Pool[K, V] {
	p := New[K, V]()
	for _, e := range entries {
		p.entries[e.Key] = NewHandle(e.Value)
	}
	return p
}

// Insert stores v under k in a fresh handle and returns the handle it
// replaced, if any.
func (p *Pool[K, V]) Insert(ctx context.Context, k K, v V) (prev *Handle[V], err error) {
	if err := p.lock.Lock(ctx); err != nil {
		return nil, err
	}
	defer p.lock.Unlock()
	prev = p.entries[k]
	p.entries[k] = NewHandle(v)
	return prev, nil
}

// Get returns the handle stored under k, or nil if there is none.
func (p *Pool[K, V]) Get(ctx context.Context, k K) (*Handle[V], error) {
	if err := p.lock.RLock(ctx); err != nil {
		return nil, err
	}
	defer p.lock.RUnlock()
	return p.entries[k], nil
}

// Remove deletes k and returns its handle, or nil if k was absent. Holders of
// the handle may keep using it.
func (p *Pool[K, V]) Remove(ctx context.Context, k K) (*Handle[V], error) {
	if err := p.lock.Lock(ctx); err != nil {
		return nil, err
	}
	defer p.lock.Unlock()
	h, ok := p.entries[k]
	if !ok {
		return nil, nil
	}
	delete(p.entries, k)
	return h, nil
}

// Len returns the number of keys.
func (p *Pool[K, V]) Len(ctx context.Context) (int, error) {
	if err := p.lock.RLock(ctx); err != nil {
		return 0, err
	}
	defer p.lock.RUnlock()
	return len(p.entries), nil
}

// Keys returns all keys in ascending order.
func (p *Pool[K, V]) Keys(ctx context.Context) ([]K, error) {
	if err := p.lock.RLock(ctx); err != nil {
		return nil, err
	}
	defer p.lock.RUnlock()
	return p.sortedKeys(), nil
}

// Range calls fn for each key in ascending order until fn returns false. The
// map lock is held throughout, so Insert and Remove wait for Range to finish;
// fn must not call them.
func (p *Pool[K, V]) Range(ctx context.Context, fn func(k K, h *Handle[V]) bool) error {
	if err := p.lock.RLock(ctx); err != nil {
		return err
	}
	defer p.lock.RUnlock()
	for _, k := range p.sortedKeys() {
		if !fn(k, p.entries[k]) {
			return nil
		}
	}
	return nil
}

// Entries copies every value out under its read lock, in key order.
func (p *Pool[K, V]) Entries(ctx context.Context) ([]Entry[K, V], error) {
	out := make([]Entry[K, V], 0)
	var readErr error
	err := p.Range(ctx, func(k K, h *Handle[V]) bool {
		v, err := h.Load(ctx)
		if err != nil {
			readErr = err
			return false
		}
		out = append(out, Entry[K, V]{Key: k, Value: v})
		return true
	})
	if err != nil {
		return nil, err
	}
	if readErr != nil {
		return nil, readErr
	}
	return out, nil
}

func (p *Pool[K, V]) sortedKeys() []K {
	keys := make([]K, 0, len(p.entries))
	for k := range p.entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
