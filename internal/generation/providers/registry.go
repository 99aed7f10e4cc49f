package providers

import (
	"strings"

	contentdomain "github.com/postloom/postloom/internal/content/domain"
	"github.com/postloom/postloom/internal/generation/domain"
)

// Registry resolves generation providers by name or by the content kind
// they serve.
type Registry struct {
	byName map[string]domain.Provider
	byKind map[contentdomain.Kind]domain.Provider
}

func NewRegistry(providers ...domain.Provider) *Registry {
	registry := &Registry{
		byName: map[string]domain.Provider{},
		byKind: map[contentdomain.Kind]domain.Provider{},
	}
	for _, provider := range providers {
		if provider == nil {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(provider.Name()))
		if name == "" {
			continue
		}
		registry.byName[name] = provider
		registry.byKind[provider.Kind()] = provider
	}
	return registry
}

func (r *Registry) ByName(name string) (domain.Provider, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	provider, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return provider, nil
}

func (r *Registry) ForKind(kind contentdomain.Kind) (domain.Provider, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	// Stories reuse the image pipeline.
	if kind == contentdomain.KindStory {
		kind = contentdomain.KindImage
	}
	provider, ok := r.byKind[kind]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return provider, nil
}
