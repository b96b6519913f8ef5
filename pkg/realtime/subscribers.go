// Copyright © 2024 Niko Carpenter <niko@nikocarpenter.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package realtime

import "sync"

// registry maps a key to callbacks in registration order.
type registry[T any] struct {
	mu      sync.Mutex // Protects nextID and entries
	nextID  uint64
	entries map[string][]registration[T]
}

type registration[T any] struct {
	id uint64
	fn T
}

func newRegistry[T any]() *registry[T] {
	return &registry[T]{entries: make(map[string][]registration[T])}
}

// add registers fn under key, and returns a function removing exactly that registration.
// Calling the returned function more than once has no further effect.
func (r *registry[T]) add(key string, fn T) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.entries[key] = append(r.entries[key], registration[T]{id: id, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(key, id) })
	}
}

func (r *registry[T]) remove(key string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	regs := r.entries[key]
	for i := range regs {
		if regs[i].id != id {
			continue
		}
		// Copy, so snapshots taken before the removal are not mutated.
		next := make([]registration[T], 0, len(regs)-1)
		next = append(next, regs[:i]...)
		next = append(next, regs[i+1:]...)
		if len(next) == 0 {
			delete(r.entries, key)
		} else {
			r.entries[key] = next
		}
		return
	}
}

// snapshot returns the callbacks registered under key, in registration order.
func (r *registry[T]) snapshot(key string) []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	regs := r.entries[key]
	fns := make([]T, 0, len(regs))
	for _, reg := range regs {
		fns = append(fns, reg.fn)
	}
	return fns
}
