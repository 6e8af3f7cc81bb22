package providers

import (
	"fmt"
	"strings"

	"pasarela/internal/models/db_models"
	"pasarela/pkg/utils"
)

// Registry is the closed provider set. Selection is a map lookup; an unknown
// name is a client error, never a crash.
type Registry struct {
	adapters map[db_models.ProviderName]Provider
}

func NewRegistry(adapters ...Provider) *Registry {
	m := make(map[db_models.ProviderName]Provider, len(adapters))
	for _, adapter := range adapters {
		m[adapter.Name()] = adapter
	}
	return &Registry{adapters: m}
}

func (r *Registry) Get(name string) (Provider, error) {
	adapter, ok := r.adapters[db_models.ProviderName(strings.ToLower(strings.TrimSpace(name)))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", utils.ErrUnsupportedProvider, name)
	}
	return adapter, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, string(name))
	}
	return names
}
