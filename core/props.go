package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// UpdateFunc requests an atomic partial merge of the bound app record.
type UpdateFunc func(ctx context.Context, update AppUpdate) error

type Services struct {
	Configuration ConfigurationService
	ConnectedApps ConnectedAppsService
	Templates     TemplatesService
	Notifications NotificationService
	Events        EventsService
	Renderer      TemplateRenderer
}

// Props are the per installation properties an adapter is constructed with.
// Static instances receive an empty AppID and a nil Update.
type Props struct {
	AppID    string
	Update   UpdateFunc
	Services Services
	Storage  Storage
	Logger   Logger
	Locker   ConnectionLocker
	Config   Config
	Now      func() time.Time
}

func (p Props) Log() Logger {
	return glog.Ensure(p.Logger)
}

func (p Props) Clock() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p Props) VendorTimeout() time.Duration {
	if p.Config.VendorTimeout > 0 {
		return p.Config.VendorTimeout
	}
	return DefaultVendorTimeout
}

// Report persists a status through the update callback when one is bound.
func (p Props) Report(ctx context.Context, status StatusWithText) error {
	if p.Update == nil {
		return nil
	}
	return p.Update(ctx, StatusUpdate(status))
}

// Boundary describes one public adapter operation.
type Boundary struct {
	Props        Props
	App          ConnectedAppData
	Operation    string
	FallbackKey  string
	SuccessKey   string
	// SoftNotFound returns not_found errors without reporting a failed status.
	SoftNotFound bool
}

// Guard runs fn and normalizes its outcome. A failure is reported as a
// failed status and returned as an AppError. A success marks the app
// connected again when its stored status says otherwise.
func Guard[T any](ctx context.Context, b Boundary, fn func(ctx context.Context) (T, error)) (T, error) {
	result, err := fn(ctx)
	if err != nil {
		var zero T
		normalized := NormalizeError(err, b.FallbackKey)
		logFields(ctx, b.Props.Log(), "error", b.Operation+" failed", map[string]any{
			"app_id":    b.App.ID,
			"app_name":  b.App.Name,
			"operation": b.Operation,
			"kind":      string(normalized.Kind),
			"key":       normalized.Key,
			"error":     err.Error(),
		})
		if b.SoftNotFound && normalized.Kind == ErrorKindNotFound {
			return zero, normalized
		}
		if reportErr := b.Props.Report(ctx, normalized.Status()); reportErr != nil {
			logFields(ctx, b.Props.Log(), "error", "status update failed", map[string]any{
				"app_id": b.App.ID,
				"error":  reportErr.Error(),
			})
		}
		return zero, normalized
	}
	if b.App.Status != AppStatusConnected && b.SuccessKey != "" {
		if reportErr := b.Props.Report(ctx, ConnectedStatus(b.SuccessKey, nil)); reportErr != nil {
			logFields(ctx, b.Props.Log(), "error", "status update failed", map[string]any{
				"app_id": b.App.ID,
				"error":  reportErr.Error(),
			})
		}
	}
	return result, nil
}

// GuardErr is Guard for operations without a result value.
func GuardErr(ctx context.Context, b Boundary, fn func(ctx context.Context) error) error {
	_, err := Guard(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
