package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// AppFactory builds an adapter bound to one installation. Factories must not
// fail for zero Props since the registry instantiates them to detect capabilities.
type AppFactory func(props Props) App

type AppDescriptor struct {
	Name         string
	Capabilities Capability
	Factory      AppFactory
}

func (d AppDescriptor) New(props Props) (App, error) {
	if d.Factory == nil {
		return nil, fmt.Errorf("core: app %s has no factory", d.Name)
	}
	app := d.Factory(props)
	if app == nil {
		return nil, fmt.Errorf("core: app %s factory returned nil", d.Name)
	}
	return app, nil
}

type Registry interface {
	Register(factory AppFactory) error
	Get(name string) (AppDescriptor, bool)
	List() []AppDescriptor
}

type AppRegistry struct {
	mu   sync.RWMutex
	apps map[string]AppDescriptor
}

func NewAppRegistry() *AppRegistry {
	return &AppRegistry{apps: make(map[string]AppDescriptor)}
}

func (r *AppRegistry) Register(factory AppFactory) error {
	if factory == nil {
		return fmt.Errorf("core: app factory is nil")
	}
	sample := factory(Props{})
	if sample == nil {
		return fmt.Errorf("core: app factory returned nil")
	}
	name := strings.TrimSpace(sample.Name())
	if name == "" {
		return fmt.Errorf("core: app name is required")
	}
	descriptor := AppDescriptor{
		Name:         name,
		Capabilities: DetectCapabilities(sample),
		Factory:      factory,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.apps[name]; exists {
		return fmt.Errorf("core: app already registered: %s", name)
	}
	r.apps[name] = descriptor
	return nil
}

func (r *AppRegistry) Get(name string) (AppDescriptor, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return AppDescriptor{}, false
	}
	r.mu.RLock()
	descriptor, ok := r.apps[name]
	r.mu.RUnlock()
	return descriptor, ok
}

func (r *AppRegistry) List() []AppDescriptor {
	r.mu.RLock()
	out := make([]AppDescriptor, 0, len(r.apps))
	for _, descriptor := range r.apps {
		out = append(out, descriptor)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// WithCapability lists registered apps implementing every bit of capability.
func (r *AppRegistry) WithCapability(capability Capability) []AppDescriptor {
	all := r.List()
	out := make([]AppDescriptor, 0, len(all))
	for _, descriptor := range all {
		if descriptor.Capabilities.Has(capability) {
			out = append(out, descriptor)
		}
	}
	return out
}

var _ Registry = (*AppRegistry)(nil)
