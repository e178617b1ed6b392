package apps

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-apps/core"
)

// AppPack groups adapters a downstream module ships outside this repo.
type AppPack struct {
	Name      string
	Factories []core.AppFactory
}

type CommandQueryBundleFactory func(service CommandQueryService) (any, error)

type ExtensionHooks struct {
	mu sync.RWMutex

	appPacks map[string]AppPack
	bundles  map[string]CommandQueryBundleFactory
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		appPacks: map[string]AppPack{},
		bundles:  map[string]CommandQueryBundleFactory{},
	}
}

func (h *ExtensionHooks) RegisterAppPack(pack AppPack) error {
	if h == nil {
		return fmt.Errorf("apps: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("apps: app pack name is required")
	}
	if len(pack.Factories) == 0 {
		return fmt.Errorf("apps: app pack %q has no factories", name)
	}

	normalized := AppPack{
		Name:      name,
		Factories: append([]core.AppFactory(nil), pack.Factories...),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.appPacks[name]; exists {
		return fmt.Errorf("apps: app pack %q already registered", name)
	}
	h.appPacks[name] = normalized
	return nil
}

func (h *ExtensionHooks) RegisterCommandQueryBundle(
	name string,
	factory CommandQueryBundleFactory,
) error {
	if h == nil {
		return fmt.Errorf("apps: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("apps: command/query bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("apps: command/query bundle %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.bundles[name]; exists {
		return fmt.Errorf("apps: command/query bundle %q already registered", name)
	}
	h.bundles[name] = factory
	return nil
}

// ApplyAppPacks registers every pack's factories, packs in name order.
func (h *ExtensionHooks) ApplyAppPacks(registry core.Registry) error {
	if h == nil {
		return nil
	}
	if registry == nil {
		return fmt.Errorf("apps: registry is required")
	}

	for _, pack := range h.AppPacks() {
		for _, factory := range pack.Factories {
			if factory == nil {
				return fmt.Errorf("apps: app pack %q contains nil factory", pack.Name)
			}
			if err := registry.Register(factory); err != nil {
				return fmt.Errorf("apps: app pack %q: %w", pack.Name, err)
			}
		}
	}
	return nil
}

func (h *ExtensionHooks) BuildCommandQueryBundles(
	service CommandQueryService,
) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if service == nil {
		return nil, fmt.Errorf("apps: command/query service is required")
	}

	h.mu.RLock()
	factories := make(map[string]CommandQueryBundleFactory, len(h.bundles))
	for name, factory := range h.bundles {
		factories[name] = factory
	}
	h.mu.RUnlock()

	result := make(map[string]any, len(factories))
	for _, name := range sortedKeys(factories) {
		bundle, err := factories[name](service)
		if err != nil {
			return nil, err
		}
		result[name] = bundle
	}
	return result, nil
}

func (h *ExtensionHooks) AppPacks() []AppPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]AppPack, 0, len(h.appPacks))
	for _, name := range sortedKeys(h.appPacks) {
		pack := h.appPacks[name]
		out = append(out, AppPack{
			Name:      pack.Name,
			Factories: append([]core.AppFactory(nil), pack.Factories...),
		})
	}
	return out
}

func (h *ExtensionHooks) BundleNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return sortedKeys(h.bundles)
}

func sortedKeys[V any](in map[string]V) []string {
	names := make([]string, 0, len(in))
	for name := range in {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
