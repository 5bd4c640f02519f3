package router

import (
	"errors"
	"sync"
)

var ErrAlreadyRegistered = errors.New("router: handler already registered for id")

// Registry holds the handlers of outstanding requests by module id. Each
// handler is handed out at most once.
type Registry struct {
	mu       sync.Mutex
	handlers map[string]ResponseHandler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]ResponseHandler)}
}

// Register stores h for id. An id can only hold one handler.
func (r *Registry) Register(id string, h ResponseHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[id]; ok {
		return ErrAlreadyRegistered
	}
	r.handlers[id] = h
	return nil
}

// Take removes and returns the handler for id.
func (r *Registry) Take(id string) (ResponseHandler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handlers[id]
	if ok {
		delete(r.handlers, id)
	}
	return h, ok
}

// Remove drops the handler for id, if any.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, id)
}

// Len returns the number of outstanding handlers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers)
}
