package engine

import (
	"fmt"
	"sync"

	"github.com/germanamz/relay/pkg/modeladapter"
	"github.com/germanamz/relay/pkg/providers/dummy"
)

// ProviderFactory creates a Provider from a ProviderConfig.
type ProviderFactory func(cfg ProviderConfig) (modeladapter.Provider, error)

var (
	factoryMu sync.RWMutex
	factories = map[string]ProviderFactory{}
)

// RegisterProvider registers a custom provider factory under the given kind.
// It can be called before New to extend the engine with additional providers.
// A registered factory takes precedence over the built-in dummy kind.
func RegisterProvider(kind string, factory ProviderFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	factories[kind] = factory
}

// getFactory returns the factory for the given kind. The built-in dummy kind
// is bound to counters so flaky models count per engine.
func getFactory(kind string, counters *dummy.Counters) (ProviderFactory, bool) {
	factoryMu.RLock()
	f, ok := factories[kind]
	factoryMu.RUnlock()

	if ok {
		return f, true
	}

	if kind == dummy.ProviderType {
		return dummyFactory(counters), true
	}

	return nil, false
}

func dummyFactory(counters *dummy.Counters) ProviderFactory {
	return func(cfg ProviderConfig) (modeladapter.Provider, error) {
		creds, err := modeladapter.ParseCredentialLocation(cfg.Credentials)
		if err != nil {
			return nil, err
		}

		p, err := dummy.New(cfg.Model, creds, counters)
		if err != nil {
			return nil, err
		}

		return p, nil
	}
}

// buildProvider creates a Provider using the factory for its Kind.
// If rate limiting is configured, the provider is wrapped with RateLimited.
func buildProvider(cfg ProviderConfig, counters *dummy.Counters) (modeladapter.Provider, error) {
	factory, ok := getFactory(cfg.Kind, counters)
	if !ok {
		return nil, fmt.Errorf("engine: unknown provider kind %q", cfg.Kind)
	}

	p, err := factory(cfg)
	if err != nil {
		return nil, err
	}

	if rl := cfg.RateLimit; rl.RPS > 0 {
		p = modeladapter.NewRateLimited(p, modeladapter.RateLimitOpts{RPS: rl.RPS, Burst: rl.Burst})
	}

	return p, nil
}
