// Package observer is a small listener registry with unsubscribe handles.
package observer

import "sync"

type subscription[T any] struct {
	id int
	fn func(T)
}

// Registry calls its listeners in registration order.
type Registry[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   []subscription[T]
}

// Subscribe registers fn and returns a func that removes it. Calling the
// returned func more than once is harmless.
func (r *Registry[T]) Subscribe(fn func(T)) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.subs = append(r.subs, subscription[T]{id: id, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(id) })
	}
}

func (r *Registry[T]) remove(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.subs {
		if s.id == id {
			r.subs = append(r.subs[:i:i], r.subs[i+1:]...)
			return
		}
	}
}

// Publish calls every listener registered at the time of the call with v.
// Listeners may subscribe or unsubscribe while being called.
func (r *Registry[T]) Publish(v T) {
	r.mu.Lock()
	subs := make([]subscription[T], len(r.subs))
	copy(subs, r.subs)
	r.mu.Unlock()

	for _, s := range subs {
		s.fn(v)
	}
}

// Len returns the number of registered listeners.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}
