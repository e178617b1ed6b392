package core

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

// ConfigProvider loads the configured layer that sits between the built in
// defaults and the Config passed to NewService.
type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

// ConfigSource returns raw settings keyed like the Config koanf tags.
type ConfigSource func(ctx context.Context) (map[string]any, error)

// StaticConfigLoader serves a fixed map, typically decoded from a file or
// the environment by the binary.
func StaticConfigLoader(values map[string]any) ConfigSource {
	return func(context.Context) (map[string]any, error) {
		if values == nil {
			return map[string]any{}, nil
		}
		return copyAnyMap(values), nil
	}
}

type CfgxConfigProvider struct {
	Source ConfigSource
}

func NewCfgxConfigProvider(source ConfigSource) *CfgxConfigProvider {
	return &CfgxConfigProvider{Source: source}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil || p.Source == nil {
		return defaults, nil
	}
	raw, err := p.Source(ctx)
	if err != nil {
		return Config{}, err
	}
	return buildConfig(raw, defaults)
}

func buildConfig(raw map[string]any, defaults Config) (Config, error) {
	return cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
}

// configKeys maps each layered setting to its koanf key.
var configKeys = []struct {
	key string
	get func(Config) any
}{
	{"service_name", func(c Config) any { return c.ServiceName }},
	{"app_base_url", func(c Config) any { return c.AppBaseURL }},
	{"admin_apps_path", func(c Config) any { return c.AdminAppsPath }},
	{"default_timezone", func(c Config) any { return c.DefaultTimeZone }},
	{"vendor_timeout", func(c Config) any { return c.VendorTimeout }},
	{"scheduled_concurrency", func(c Config) any { return c.ScheduledConcurrency }},
	{"refresh_lock_ttl", func(c Config) any { return c.RefreshLockTTL }},
	{"refresh_lead_window", func(c Config) any { return c.RefreshLeadWindow }},
}

// layerOf flattens cfg for the options stack. Zero values are left out so
// an upper layer only overrides what it sets.
func layerOf(cfg Config, keepZero bool) map[string]any {
	layer := make(map[string]any, len(configKeys))
	for _, field := range configKeys {
		value := field.get(cfg)
		if keepZero || !reflect.ValueOf(value).IsZero() {
			layer[field.key] = value
		}
	}
	return layer
}

// resolveConfig merges defaults, the loaded layer and the runtime Config in
// increasing priority.
func resolveConfig(defaults, loaded, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(opts.NewScope("defaults", 0), layerOf(defaults, true), opts.WithSnapshotID[map[string]any]("defaults")),
		opts.NewLayer(opts.NewScope("config", 10), layerOf(loaded, false), opts.WithSnapshotID[map[string]any]("config")),
		opts.NewLayer(opts.NewScope("runtime", 20), layerOf(runtime, false), opts.WithSnapshotID[map[string]any]("runtime")),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge: %w", err)
	}
	return buildConfig(merged.Value, defaults)
}

type serviceBuilder struct {
	runtimeConfig  Config
	logger         Logger
	loggerProvider LoggerProvider
	metrics        MetricsRecorder
	errorMapper    ErrorMapper
	configProvider ConfigProvider
	registry       Registry
	store          ConnectedAppStore
	storage        Storage
	services       Services
	locker         ConnectionLocker
	now            func() time.Time
	newID          func() string
}

// Option configures NewService. Options given a nil value keep the
// default.
type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) { b.logger = logger }
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) { b.loggerProvider = provider }
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		if recorder != nil {
			b.metrics = recorder
		}
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		if mapper != nil {
			b.errorMapper = mapper
		}
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		if provider != nil {
			b.configProvider = provider
		}
	}
}

func WithRegistry(registry Registry) Option {
	return func(b *serviceBuilder) {
		if registry != nil {
			b.registry = registry
		}
	}
}

func WithConnectedAppStore(store ConnectedAppStore) Option {
	return func(b *serviceBuilder) {
		if store != nil {
			b.store = store
		}
	}
}

func WithStorage(storage Storage) Option {
	return func(b *serviceBuilder) {
		if storage != nil {
			b.storage = storage
		}
	}
}

// WithServices sets the host collaborators handed to every adapter. A nil
// ConnectedApps entry is filled with the service itself.
func WithServices(services Services) Option {
	return func(b *serviceBuilder) { b.services = services }
}

func WithConnectionLocker(locker ConnectionLocker) Option {
	return func(b *serviceBuilder) {
		if locker != nil {
			b.locker = locker
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		if now != nil {
			b.now = now
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(b *serviceBuilder) {
		if newID != nil {
			b.newID = newID
		}
	}
}
