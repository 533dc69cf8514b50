package auth

import (
	"sync"

	"github.com/phenrril/jeanstore/internal/domain"
)

// Hub holds the signed-in user of a provider and fans session changes out to
// listeners. The zero value is ready to use.
//
// Deliveries are serialized, so listeners see changes in the order the
// current user took them. A listener must not call Set.
type Hub struct {
	deliver sync.Mutex

	mu        sync.Mutex
	current   *domain.AuthUser
	listeners map[int]func(*domain.AuthUser)
	next      int
}

func (h *Hub) Current() *domain.AuthUser {
	h.mu.Lock()
	defer h.mu.Unlock()
	return clone(h.current)
}

// Set replaces the current user and notifies every listener. Listeners run
// outside the state lock and may read Current.
func (h *Hub) Set(u *domain.AuthUser) {
	h.deliver.Lock()
	defer h.deliver.Unlock()

	h.mu.Lock()
	h.current = clone(u)
	fns := make([]func(*domain.AuthUser), 0, len(h.listeners))
	for _, fn := range h.listeners {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(clone(u))
	}
}

// Subscribe registers fn and immediately calls it with the current user.
func (h *Hub) Subscribe(fn func(*domain.AuthUser)) func() {
	h.deliver.Lock()
	defer h.deliver.Unlock()

	h.mu.Lock()
	if h.listeners == nil {
		h.listeners = map[int]func(*domain.AuthUser){}
	}
	id := h.next
	h.next++
	h.listeners[id] = fn
	cur := clone(h.current)
	h.mu.Unlock()

	fn(cur)
	return func() {
		h.mu.Lock()
		delete(h.listeners, id)
		h.mu.Unlock()
	}
}

func clone(u *domain.AuthUser) *domain.AuthUser {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
