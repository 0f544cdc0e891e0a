package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"chain-screening/internal/risk"
)

var (
	// ErrDuplicateProvider is returned when a name is already registered.
	ErrDuplicateProvider = errors.New("provider already registered")
	// ErrNilProvider is returned when registering a nil provider.
	ErrNilProvider = errors.New("provider is nil")
	// ErrUnsupportedChain is returned by providers asked about a chain they cannot see.
	ErrUnsupportedChain = errors.New("chain not supported")
)

// Request is the input every provider screens.
type Request struct {
	Address string
	Chain   string
	Context *risk.Context
}

// Provider is one independent source of risk information about an address.
type Provider interface {
	Name() string
	SupportedCategories() []risk.Category
	// SupportedChains returns nil for chain-agnostic providers.
	SupportedChains() []string
	// ScreenAddress reports ordinary failures as an error; callers turn them into
	// a failed ProviderResult.
	ScreenAddress(ctx context.Context, req Request) (risk.ProviderResult, error)
	// IsHealthy is a cheap self-report and must not block.
	IsHealthy() bool
}

// SupportsChain reports whether p covers chain. Chain-agnostic providers cover every chain.
func SupportsChain(p Provider, chain string) bool {
	chains := p.SupportedChains()
	if len(chains) == 0 {
		return true
	}
	for _, c := range chains {
		if strings.EqualFold(c, chain) {
			return true
		}
	}
	return false
}

// Registry keeps providers in registration order and is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers []Provider
}

// NewRegistry creates a registry pre-populated with providers.
func NewRegistry(providers ...Provider) (*Registry, error) {
	r := &Registry{}
	for _, p := range providers {
		if err := r.Add(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add appends a provider; names must be unique.
func (r *Registry) Add(p Provider) error {
	if p == nil {
		return ErrNilProvider
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.providers {
		if existing.Name() == p.Name() {
			return fmt.Errorf("%w: %s", ErrDuplicateProvider, p.Name())
		}
	}
	r.providers = append(r.providers, p)
	return nil
}

// Remove drops the named provider and reports whether it existed.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, p := range r.providers {
		if p.Name() == name {
			next := make([]Provider, 0, len(r.providers)-1)
			next = append(next, r.providers[:i]...)
			r.providers = append(next, r.providers[i+1:]...)
			return true
		}
	}
	return false
}

// Names lists registered providers in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		names = append(names, p.Name())
	}
	return names
}

// Snapshot returns a copy of the provider list for one fan-out.
func (r *Registry) Snapshot() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Provider(nil), r.providers...)
}

// health tracks whether the last call succeeded.
type health struct {
	failed atomic.Bool
}

func (h *health) record(err error) {
	h.failed.Store(err != nil)
}

func (h *health) IsHealthy() bool {
	return !h.failed.Load()
}
