// Package service is the registry of callable services such as
// media_player.turn_on. Automations and the REST API call services by
// domain and name; integrations register the handlers.
package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/nerrad567/gray-logic-hub/internal/bus"
)

var (
	// ErrServiceNotFound is returned when calling an unregistered service.
	ErrServiceNotFound = errors.New("service: not found")

	// ErrInvalidService is returned for empty domain or service names.
	ErrInvalidService = errors.New("service: invalid name")
)

// Call is one service invocation.
type Call struct {
	Domain  string
	Service string
	Data    map[string]any
	Context bus.Context
}

// Handler executes a service call.
type Handler func(ctx context.Context, call Call) error

// EventFirer is the part of the bus calls are announced on.
type EventFirer interface {
	Fire(eventType string, data map[string]any, origin bus.Origin, ctx bus.Context) error
}

type key struct{ domain, service string }

// Registry holds the registered services.
//
// Thread Safety: all methods are safe for concurrent use.
type Registry struct {
	events EventFirer

	mu       sync.RWMutex
	handlers map[key]Handler
}

// NewRegistry creates an empty registry. events may be nil.
func NewRegistry(events EventFirer) *Registry {
	return &Registry{
		events:   events,
		handlers: make(map[key]Handler),
	}
}

// Register adds or replaces the handler for domain.service.
func (r *Registry) Register(domain, service string, h Handler) error {
	if domain == "" || service == "" || h == nil {
		return fmt.Errorf("%w: %q.%q", ErrInvalidService, domain, service)
	}
	r.mu.Lock()
	r.handlers[key{domain, service}] = h
	r.mu.Unlock()
	return nil
}

// Remove deletes domain.service.
func (r *Registry) Remove(domain, service string) {
	r.mu.Lock()
	delete(r.handlers, key{domain, service})
	r.mu.Unlock()
}

// Has reports whether domain.service is registered.
func (r *Registry) Has(domain, service string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[key{domain, service}]
	return ok
}

// Services returns the registered service names per domain, sorted.
func (r *Registry) Services() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]string)
	for k := range r.handlers {
		out[k.domain] = append(out[k.domain], k.service)
	}
	for _, names := range out {
		slices.Sort(names)
	}
	return out
}

// Call announces the call on the bus as call_service and runs the handler.
// A zero busCtx is replaced by a new root context.
func (r *Registry) Call(ctx context.Context, domain, service string, data map[string]any, busCtx bus.Context) error {
	r.mu.RLock()
	h, ok := r.handlers[key{domain, service}]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrServiceNotFound, domain, service)
	}

	if busCtx.IsZero() {
		busCtx = bus.NewContext()
	}
	if data == nil {
		data = map[string]any{}
	}

	if r.events != nil {
		// Listener failures on call_service are not the caller's problem.
		_ = r.events.Fire(bus.EventCallService, map[string]any{ //nolint:errcheck
			"domain":       domain,
			"service":      service,
			"service_data": maps.Clone(data),
		}, bus.OriginLocal, busCtx)
	}

	if err := h(ctx, Call{Domain: domain, Service: service, Data: data, Context: busCtx}); err != nil {
		return fmt.Errorf("calling %s.%s: %w", domain, service, err)
	}
	return nil
}
