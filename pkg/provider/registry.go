package provider

import (
	"errors"
	"fmt"

	"github.com/picatz/geodoh/pkg/bucket"
)

// ErrNoProviders is returned when a registry would be empty.
var ErrNoProviders = errors.New("provider: no providers")

// Registry is the fixed set of providers shared by every resolution that
// uses it. Each provider keeps one limiter for the registry's lifetime.
type Registry struct {
	providers []*Provider
}

// NewRegistry builds a registry. Names must be unique.
func NewRegistry(providers ...*Provider) (*Registry, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}

	seen := make(map[string]bool, len(providers))
	for _, p := range providers {
		if p == nil || p.Limiter == nil {
			return nil, fmt.Errorf("provider: incomplete provider %v", p)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("provider: duplicate provider %q", p.Name)
		}
		seen[p.Name] = true
	}

	return &Registry{providers: append([]*Provider(nil), providers...)}, nil
}

// Default returns Google and Cloudflare, each limited to one request
// every two seconds.
func Default() (*Registry, error) {
	google, err := Google(bucket.DefaultOptions())
	if err != nil {
		return nil, err
	}

	cloudflare, err := Cloudflare(bucket.DefaultOptions())
	if err != nil {
		return nil, err
	}

	return NewRegistry(google, cloudflare)
}

// Start starts every limiter that is still stopped.
func (r *Registry) Start() {
	for _, p := range r.providers {
		if p.Limiter.IsStopped() {
			p.Limiter.Start()
		}
	}
}

// Providers returns the providers in registration order.
func (r *Registry) Providers() []*Provider {
	return append([]*Provider(nil), r.providers...)
}

// Lookup returns the provider with the given name.
func (r *Registry) Lookup(name string) (*Provider, bool) {
	for _, p := range r.providers {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}
