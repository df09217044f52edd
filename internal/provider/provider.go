// Package provider defines the contract every external calendar adapter
// implements and the helpers they share.
package provider

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mycelian/calsync/internal/model"
)

// Pusher sends one committed local mutation to a provider. Errors are
// propagated to the caller; adapters never retry internally.
type Pusher interface {
	PushEvent(ctx context.Context, conn model.ProviderConnection, ev model.LocalEvent, action model.Action) error
}

// Puller lists a provider's events and normalizes them. A failed listing is
// reported as *PullError, never as an empty slice.
type Puller interface {
	PullEvents(ctx context.Context, conn model.ProviderConnection) ([]model.NormalizedEvent, error)
}

// Named reports which provider an adapter speaks for.
type Named interface {
	Provider() model.Provider
}

// Adapter is a full read/write provider integration.
type Adapter interface {
	Named
	Pusher
	Puller
}

// PullOnly is implemented by feed-style providers that cannot accept writes.
type PullOnly interface {
	Named
	Puller
}

// ConnectionValidator lets an adapter replace the default bearer-token check.
type ConnectionValidator interface {
	ValidateConnection(conn model.ProviderConnection, now time.Time) error
}

// ValidateConnection rejects connections that cannot authenticate: an empty
// access token or one past its expiry. Adapters implementing
// ConnectionValidator decide for themselves.
func ValidateConnection(p Named, conn model.ProviderConnection, now time.Time) error {
	if v, ok := p.(ConnectionValidator); ok {
		return v.ValidateConnection(conn, now)
	}
	if conn.AccessToken == "" {
		return &model.AuthenticationError{Provider: conn.Provider, UserID: conn.UserID, Reason: "missing access token"}
	}
	if conn.Expired(now) {
		return &model.AuthenticationError{Provider: conn.Provider, UserID: conn.UserID, Reason: "access token expired"}
	}
	return nil
}

// Registry maps provider names to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[model.Provider]PullOnly
}

// NewRegistry returns a registry holding the given adapters.
func NewRegistry(adapters ...PullOnly) *Registry {
	r := &Registry{adapters: make(map[model.Provider]PullOnly)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for a.Provider().
func (r *Registry) Register(a PullOnly) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Provider()] = a
}

// Puller returns the adapter for p.
func (r *Registry) Puller(p model.Provider) (PullOnly, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[p]
	return a, ok
}

// Pusher returns the adapter for p if it accepts writes.
func (r *Registry) Pusher(p model.Provider) (Pusher, bool) {
	a, ok := r.Puller(p)
	if !ok {
		return nil, false
	}
	pu, ok := a.(Pusher)
	return pu, ok
}

// Providers lists registered providers in name order.
func (r *Registry) Providers() []model.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Provider, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
