package breaker

import (
	"sync"

	"tipcast/pkg/config"

	"go.uber.org/fx"
)

// Breaker names, one per external dependency.
const (
	Settlement = "settlement"
	Content    = "content"
	Moderation = "moderation"
	Notifier   = "notifier"
	Store      = "store"
)

// Registry hands out one breaker per dependency name. It is constructed once
// at process startup and injected into every component performing external
// calls; there is no package-level instance.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	defaults Settings
}

func NewRegistry(defaults Settings) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		defaults: defaults,
	}
}

// Get returns the breaker for name, creating it with the registry defaults on
// first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b = New(name, r.defaults)
	r.breakers[name] = b
	return b
}

var Module = fx.Module("breaker",
	fx.Provide(func(cfg *config.Config) *Registry {
		return NewRegistry(Settings{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			MonitoringPeriod: cfg.Breaker.MonitoringPeriod,
			ResetTimeout:     cfg.Breaker.ResetTimeout,
			HalfOpenMaxCalls: cfg.Breaker.HalfOpenMaxCalls,
		})
	}),
)
