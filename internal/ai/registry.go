package ai

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

var ErrUnknownProvider = errors.New("unknown ai provider")

// ProviderFactory builds a provider for model. An empty model means the
// provider's configured default.
type ProviderFactory func(ctx context.Context, model string) (Provider, error)

// Registry maps AI_PROVIDER names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *Registry) Register(name string, f ProviderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[normalizeName(name)] = f
}

// Names lists registered providers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for n := range r.factories {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

func (r *Registry) Get(ctx context.Context, name string, model string) (Provider, error) {
	name = normalizeName(name)
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (have %s)", ErrUnknownProvider, name, strings.Join(r.Names(), ", "))
	}
	p, err := f(ctx, strings.TrimSpace(model))
	if err != nil {
		return nil, fmt.Errorf("build %s provider: %w", name, err)
	}
	return p, nil
}
