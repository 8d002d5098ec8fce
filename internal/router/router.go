// Package router implements the output handler registry and the event
// router that picks which registered handlers should receive a given
// OutputEvent.
package router

import (
	"sync"

	"github.com/sessionkernel/robotd/internal/bus"
)

// OutputHandler is what a front-end registers to receive OutputEvents.
// Emit may be called concurrently from many sessions' foreground and
// background work.
type OutputHandler interface {
	ID() string
	Emit(event *bus.OutputEvent)
}

// Route matches an InputEvent's source against a set of handler ids.
type Route struct {
	Source   string
	Handlers []string
}

// Registry holds every registered OutputHandler plus the optional routes
// that narrow which handlers receive a given event's output.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]OutputHandler
	routes   map[string][]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]OutputHandler),
		routes:   make(map[string][]string),
	}
}

// Register adds or replaces a handler.
func (r *Registry) Register(h OutputHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.ID()] = h
}

// Unregister removes a handler.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, id)
}

// SetRoute pins source to an explicit handler id list; absent sources fall
// back to broadcasting to every registered handler.
func (r *Registry) SetRoute(source string, handlerIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[source] = handlerIDs
}

// TargetsFor returns the handler ids an InputEvent from source should
// dispatch output to: the route's handlers when one is configured and
// non-empty, otherwise every registered handler (spec.md §9 Open Question
// (a): broadcast to all is the default for unmapped sources).
func (r *Registry) TargetsFor(source string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ids, ok := r.routes[source]; ok && len(ids) > 0 {
		out := make([]string, len(ids))
		copy(out, ids)
		return out
	}
	out := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		out = append(out, id)
	}
	return out
}

// Dispatch emits event to every handler named in targetIDs. Unknown ids
// are skipped silently — a handler may have unregistered between
// TargetsFor and Dispatch.
func (r *Registry) Dispatch(targetIDs []string, event *bus.OutputEvent) {
	r.mu.RLock()
	handlers := make([]OutputHandler, 0, len(targetIDs))
	for _, id := range targetIDs {
		if h, ok := r.handlers[id]; ok {
			handlers = append(handlers, h)
		}
	}
	r.mu.RUnlock()

	for _, h := range handlers {
		h.Emit(event)
	}
}
