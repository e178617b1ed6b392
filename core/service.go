package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	StatusKeyPending        = "apps.common.statusText.pending"
	StatusKeyRequestFailed  = "apps.common.statusText.error_processing_request"
	StatusKeyOperationError = "apps.common.statusText.operation_failed"
)

// Service is the host runtime: it owns installed app records, builds adapter
// instances bound to them and dispatches capability calls.
type Service struct {
	config         Config
	logger         Logger
	loggerProvider LoggerProvider
	metrics        MetricsRecorder
	errorMapper    ErrorMapper
	registry       Registry
	store          ConnectedAppStore
	storage        Storage
	services       Services
	locker         ConnectionLocker
	now            func() time.Time
	newID          func() string
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := serviceBuilder{
		runtimeConfig:  cfg,
		metrics:        NopMetricsRecorder{},
		errorMapper:    DefaultErrorMapper,
		configProvider: NewCfgxConfigProvider(nil),
		registry:       NewAppRegistry(),
		store:          NewMemoryConnectedAppStore(),
		storage:        NewMemoryStorage(),
		locker:         NewMemoryConnectionLocker(),
		now:            func() time.Time { return time.Now().UTC() },
		newID:          uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&builder)
		}
	}

	provider, logger := glog.Resolve("apps", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("apps"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, builder.errorMapper(err)
	}
	finalConfig, err := resolveConfig(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, builder.errorMapper(err)
	}

	svc := &Service{
		config:         finalConfig,
		logger:         logger,
		loggerProvider: provider,
		metrics:        builder.metrics,
		errorMapper:    builder.errorMapper,
		registry:       builder.registry,
		store:          builder.store,
		storage:        builder.storage,
		services:       builder.services,
		locker:         builder.locker,
		now:            builder.now,
		newID:          builder.newID,
	}
	if svc.services.ConnectedApps == nil {
		svc.services.ConnectedApps = svc
	}
	return svc, nil
}

func (s *Service) Config() Config {
	if s == nil {
		return DefaultConfig()
	}
	return s.config
}

func (s *Service) Registry() Registry {
	if s == nil {
		return nil
	}
	return s.registry
}

func (s *Service) Logger() Logger {
	if s == nil {
		return glog.Nop()
	}
	return s.logger
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsAppError(err); ok {
		return err
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	return s.errorMapper(err)
}

func (s *Service) appLogger(name string) Logger {
	if s.loggerProvider != nil {
		if named := s.loggerProvider.GetLogger("apps." + name); named != nil {
			return glog.Ensure(named)
		}
	}
	return s.logger
}

// Props builds the properties an adapter instance for app receives.
func (s *Service) Props(app ConnectedAppData) Props {
	props := Props{
		Services: s.services,
		Storage:  s.storage,
		Logger:   s.appLogger(app.Name),
		Locker:   s.locker,
		Config:   s.config,
		Now:      s.now,
	}
	if appID := strings.TrimSpace(app.ID); appID != "" {
		props.AppID = appID
		props.Update = func(ctx context.Context, update AppUpdate) error {
			return s.UpdateApp(ctx, appID, update)
		}
	}
	return props
}

func (s *Service) instance(app ConnectedAppData) (App, AppDescriptor, error) {
	descriptor, ok := s.registry.Get(app.Name)
	if !ok {
		return nil, AppDescriptor{}, fmt.Errorf("%w: %s", ErrAppNotRegistered, app.Name)
	}
	instance, err := descriptor.New(s.Props(app))
	if err != nil {
		return nil, AppDescriptor{}, err
	}
	return instance, descriptor, nil
}

func (s *Service) InstallApp(ctx context.Context, name string) (ConnectedAppData, error) {
	if s == nil {
		return ConnectedAppData{}, fmt.Errorf("core: service is nil")
	}
	startedAt := time.Now()
	name = strings.TrimSpace(name)
	fields := map[string]any{"app_name": name}
	if _, ok := s.registry.Get(name); !ok {
		err := fmt.Errorf("%w: %s", ErrAppNotRegistered, name)
		s.observeOperation(ctx, startedAt, "install_app", err, fields)
		return ConnectedAppData{}, s.mapError(err)
	}
	now := s.now()
	created, err := s.store.Create(ctx, ConnectedAppData{
		ID:         s.newID(),
		Name:       name,
		Status:     AppStatusPending,
		StatusText: Localized(StatusKeyPending, nil),
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err == nil {
		fields["app_id"] = created.ID
	}
	s.observeOperation(ctx, startedAt, "install_app", err, fields)
	if err != nil {
		return ConnectedAppData{}, s.mapError(err)
	}
	return created, nil
}

func (s *Service) GetApp(ctx context.Context, appID string) (ConnectedAppData, error) {
	if s == nil {
		return ConnectedAppData{}, fmt.Errorf("core: service is nil")
	}
	appID = strings.TrimSpace(appID)
	if appID == "" {
		return ConnectedAppData{}, fmt.Errorf("core: app id is required")
	}
	return s.store.Get(ctx, appID)
}

func (s *Service) ListApps(ctx context.Context, query ConnectedAppQuery) ([]ConnectedAppData, error) {
	if s == nil {
		return nil, fmt.Errorf("core: service is nil")
	}
	return s.store.List(ctx, query)
}

// UpdateApp applies a partial update atomically through the store.
func (s *Service) UpdateApp(ctx context.Context, appID string, update AppUpdate) error {
	if s == nil {
		return fmt.Errorf("core: service is nil")
	}
	appID = strings.TrimSpace(appID)
	if appID == "" {
		return fmt.Errorf("core: app id is required")
	}
	if update.Status != nil && !update.Status.Valid() {
		return fmt.Errorf("core: invalid app status %q", *update.Status)
	}
	if update.IsEmpty() {
		return nil
	}
	_, err := s.store.Update(ctx, appID, update)
	return err
}

// ProcessRequest dispatches an admin request to the app. Failures are
// normalized and persisted as a failed status before being returned.
func (s *Service) ProcessRequest(ctx context.Context, appID string, payload []byte) (any, error) {
	if s == nil {
		return nil, fmt.Errorf("core: service is nil")
	}
	startedAt := time.Now()
	app, err := s.GetApp(ctx, appID)
	if err != nil {
		return nil, s.mapError(err)
	}
	fields := map[string]any{"app_id": app.ID, "app_name": app.Name}
	instance, _, err := s.instance(app)
	if err != nil {
		s.observeOperation(ctx, startedAt, "process_request", err, fields)
		return nil, s.mapError(err)
	}
	processor, ok := instance.(RequestProcessor)
	if !ok {
		err := fmt.Errorf("%w: %s does not process requests", ErrCapabilityNotSupported, app.Name)
		s.observeOperation(ctx, startedAt, "process_request", err, fields)
		return nil, s.mapError(err)
	}
	result, err := processor.ProcessRequest(ctx, app, payload)
	if err != nil {
		normalized := NormalizeError(err, StatusKeyRequestFailed)
		if normalized.Kind == ErrorKindNotFound {
			s.observeOperation(ctx, startedAt, "process_request", normalized, fields)
			return nil, normalized
		}
		if updateErr := s.UpdateApp(ctx, app.ID, StatusUpdate(normalized.Status())); updateErr != nil {
			LogError(ctx, s.logger, "status update failed", map[string]any{"app_id": app.ID, "error": updateErr.Error()})
		}
		s.observeOperation(ctx, startedAt, "process_request", normalized, fields)
		return nil, normalized
	}
	s.observeOperation(ctx, startedAt, "process_request", nil, fields)
	return result, nil
}

// ProcessStaticRequest routes an unbound request, such as an OAuth redirect,
// to the named app.
func (s *Service) ProcessStaticRequest(ctx context.Context, appName string, req StaticRequest) (StaticResponse, error) {
	if s == nil {
		return StaticResponse{}, fmt.Errorf("core: service is nil")
	}
	startedAt := time.Now()
	fields := map[string]any{"app_name": appName, "path": req.Path()}
	instance, _, err := s.instance(ConnectedAppData{Name: strings.TrimSpace(appName)})
	if err != nil {
		s.observeOperation(ctx, startedAt, "process_static_request", err, fields)
		return StaticResponse{}, s.mapError(err)
	}
	processor, ok := instance.(StaticRequestProcessor)
	if !ok {
		err := fmt.Errorf("%w: %s does not process static requests", ErrCapabilityNotSupported, appName)
		s.observeOperation(ctx, startedAt, "process_static_request", err, fields)
		return StaticResponse{}, s.mapError(err)
	}
	res, err := processor.ProcessStaticRequest(ctx, req)
	s.observeOperation(ctx, startedAt, "process_static_request", err, fields)
	if err != nil {
		return StaticResponse{}, s.mapError(err)
	}
	return res, nil
}

// UninstallApp runs the adapter cleanup hook, then deletes the record.
func (s *Service) UninstallApp(ctx context.Context, appID string) error {
	if s == nil {
		return fmt.Errorf("core: service is nil")
	}
	startedAt := time.Now()
	app, err := s.GetApp(ctx, appID)
	if err != nil {
		return s.mapError(err)
	}
	fields := map[string]any{"app_id": app.ID, "app_name": app.Name}
	if instance, _, instErr := s.instance(app); instErr == nil {
		if uninstaller, ok := instance.(Uninstaller); ok {
			if err := uninstaller.UnInstall(ctx, app); err != nil {
				s.observeOperation(ctx, startedAt, "uninstall_app", err, fields)
				return s.mapError(err)
			}
		}
	}
	err = s.store.Delete(ctx, app.ID)
	s.observeOperation(ctx, startedAt, "uninstall_app", err, fields)
	return s.mapError(err)
}

var _ ConnectedAppsService = (*Service)(nil)
