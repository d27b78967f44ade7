package gateway

import (
	"errors"
	"sort"

	"github.com/vidorahq/vidora-billing/pkg/enums"
)

// Router is the provider registry. It holds no provider logic: it looks up
// the adapter for a provider tag and hands it to the caller. Providers whose
// startup config validation failed are simply absent, and calls to them
// return *ConfigError.
type Router struct {
	adapters map[enums.Provider]Gateway
}

type RouterParams struct {
	Adapters []Gateway
}

func NewRouter(params RouterParams) (*Router, error) {
	adapters := make(map[enums.Provider]Gateway, len(params.Adapters))
	for _, adapter := range params.Adapters {
		if adapter == nil {
			continue
		}
		provider := adapter.Provider()
		if !provider.IsValid() {
			return nil, errors.New("adapter has invalid provider tag")
		}
		if _, exists := adapters[provider]; exists {
			return nil, errors.New("duplicate adapter for provider " + provider.String())
		}
		adapters[provider] = adapter
	}

	return &Router{adapters: adapters}, nil
}

// Adapter returns the registered gateway for the provider.
func (r *Router) Adapter(provider enums.Provider) (Gateway, error) {
	if !provider.IsValid() {
		return nil, &ConfigError{Provider: provider, Reason: "unknown provider"}
	}
	adapter, ok := r.adapters[provider]
	if !ok {
		return nil, &ConfigError{Provider: provider, Reason: "provider out of rotation"}
	}
	return adapter, nil
}

// Providers lists providers currently in rotation, sorted for stable output.
func (r *Router) Providers() []enums.Provider {
	out := make([]enums.Provider, 0, len(r.adapters))
	for provider := range r.adapters {
		out = append(out, provider)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
