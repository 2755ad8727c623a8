// Package adapters bridges the deliberation core and external
// platforms. Each adapter consumes generic outbound messages and
// produces generic inbound events; the core never sees a platform's
// wire format.
package adapters

import (
	"context"
	"sync"

	"github.com/parley/pkg/models"
)

// Adapter delivers outbound messages to one external platform.
type Adapter interface {
	Name() string
	Deliver(ctx context.Context, conversationID string, msg models.OutboundMessage) error
}

// DeliveryError records one adapter's failed delivery. Failures are
// reported, not propagated, so the remaining adapters still run.
type DeliveryError struct {
	Adapter string
	Err     error
}

// Registry holds the configured adapters by name.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// DeliverAll sends msg through every registered adapter, collecting
// per-adapter failures instead of stopping at the first one.
func (r *Registry) DeliverAll(ctx context.Context, conversationID string, msg models.OutboundMessage) []DeliveryError {
	r.mu.RLock()
	list := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		list = append(list, a)
	}
	r.mu.RUnlock()

	var failures []DeliveryError
	for _, a := range list {
		if err := a.Deliver(ctx, conversationID, msg); err != nil {
			failures = append(failures, DeliveryError{Adapter: a.Name(), Err: err})
		}
	}
	return failures
}
