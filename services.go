package apps

import "github.com/goliatone/go-apps/core"

type Config = core.Config

type Option = core.Option

type Service = core.Service

type Registry = core.Registry
type AppFactory = core.AppFactory
type ConnectedAppData = core.ConnectedAppData
type ConnectedAppStore = core.ConnectedAppStore
type ConnectionLocker = core.ConnectionLocker
type Storage = core.Storage
type Services = core.Services
type ScheduledRunResult = core.ScheduledRunResult

var (
	WithLogger            = core.WithLogger
	WithLoggerProvider    = core.WithLoggerProvider
	WithMetricsRecorder   = core.WithMetricsRecorder
	WithErrorMapper       = core.WithErrorMapper
	WithConfigProvider    = core.WithConfigProvider
	WithRegistry          = core.WithRegistry
	WithServices          = core.WithServices
	WithStorage           = core.WithStorage
	WithConnectedAppStore = core.WithConnectedAppStore
	WithConnectionLocker  = core.WithConnectionLocker
	WithClock             = core.WithClock
	WithIDGenerator       = core.WithIDGenerator
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}
