package core

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

func (s *Service) capable(ctx context.Context, appID string, capability Capability) (ConnectedAppData, App, error) {
	if s == nil {
		return ConnectedAppData{}, nil, fmt.Errorf("core: service is nil")
	}
	app, err := s.GetApp(ctx, appID)
	if err != nil {
		return ConnectedAppData{}, nil, s.mapError(err)
	}
	instance, descriptor, err := s.instance(app)
	if err != nil {
		return ConnectedAppData{}, nil, s.mapError(err)
	}
	if !descriptor.Capabilities.Has(capability) {
		return ConnectedAppData{}, nil, s.mapError(fmt.Errorf("%w: %s lacks %s", ErrCapabilityNotSupported, app.Name, capability))
	}
	return app, instance, nil
}

func (s *Service) GetBusyTimes(ctx context.Context, appID string, start, end time.Time) ([]CalendarBusyTime, error) {
	app, instance, err := s.capable(ctx, appID, CapabilityCalendarBusyTime)
	if err != nil {
		return nil, err
	}
	if !end.After(start) {
		return nil, s.mapError(fmt.Errorf("core: busy time window end must be after start"))
	}
	return instance.(CalendarBusyTimeProvider).GetBusyTimes(ctx, app, start.UTC(), end.UTC())
}

func (s *Service) CreateEvent(ctx context.Context, appID string, event CalendarEvent) (CalendarEventResult, error) {
	app, instance, err := s.capable(ctx, appID, CapabilityCalendarWriter)
	if err != nil {
		return CalendarEventResult{}, err
	}
	if err := event.Validate(); err != nil {
		return CalendarEventResult{}, s.mapError(err)
	}
	return instance.(CalendarWriter).CreateEvent(ctx, app, event)
}

func (s *Service) UpdateEvent(ctx context.Context, appID string, uid string, event CalendarEvent) (CalendarEventResult, error) {
	app, instance, err := s.capable(ctx, appID, CapabilityCalendarWriter)
	if err != nil {
		return CalendarEventResult{}, err
	}
	event.UID = uid
	if err := event.Validate(); err != nil {
		return CalendarEventResult{}, s.mapError(err)
	}
	return instance.(CalendarWriter).UpdateEvent(ctx, app, uid, event)
}

func (s *Service) DeleteEvent(ctx context.Context, appID string, uid string) error {
	app, instance, err := s.capable(ctx, appID, CapabilityCalendarWriter)
	if err != nil {
		return err
	}
	return instance.(CalendarWriter).DeleteEvent(ctx, app, uid)
}

func (s *Service) SendMail(ctx context.Context, appID string, email Email) (SendMailResult, error) {
	app, instance, err := s.capable(ctx, appID, CapabilityMailSender)
	if err != nil {
		return SendMailResult{}, err
	}
	if err := email.Validate(); err != nil {
		return SendMailResult{}, s.mapError(err)
	}
	return instance.(MailSender).SendMail(ctx, app, email)
}

func (s *Service) Respond(ctx context.Context, appID string, reply TextMessageReply) (*RespondResult, error) {
	app, instance, err := s.capable(ctx, appID, CapabilityTextMessageResponder)
	if err != nil {
		return nil, err
	}
	return instance.(TextMessageResponder).Respond(ctx, app, reply)
}

func (s *Service) GetFile(ctx context.Context, appID string, filename string) (io.ReadCloser, error) {
	app, instance, err := s.capable(ctx, appID, CapabilityAssetsStorage)
	if err != nil {
		return nil, err
	}
	return instance.(AssetsStorage).GetFile(ctx, app, filename)
}

func (s *Service) SaveFile(ctx context.Context, appID string, filename string, content io.Reader) error {
	app, instance, err := s.capable(ctx, appID, CapabilityAssetsStorage)
	if err != nil {
		return err
	}
	return instance.(AssetsStorage).SaveFile(ctx, app, filename, content)
}

func (s *Service) DeleteFile(ctx context.Context, appID string, filename string) error {
	app, instance, err := s.capable(ctx, appID, CapabilityAssetsStorage)
	if err != nil {
		return err
	}
	return instance.(AssetsStorage).DeleteFile(ctx, app, filename)
}

func (s *Service) DeleteFiles(ctx context.Context, appID string, filenames []string) error {
	app, instance, err := s.capable(ctx, appID, CapabilityAssetsStorage)
	if err != nil {
		return err
	}
	return instance.(AssetsStorage).DeleteFiles(ctx, app, filenames)
}

func (s *Service) CheckExists(ctx context.Context, appID string, filename string) (bool, error) {
	app, instance, err := s.capable(ctx, appID, CapabilityAssetsStorage)
	if err != nil {
		return false, err
	}
	return instance.(AssetsStorage).CheckExists(ctx, app, filename)
}

type ScheduledRunResult struct {
	Tick     time.Time
	Invoked  int
	Failed   int
	Failures map[string]error
}

// RunScheduled invokes OnTime for every installed scheduled app. Apps run
// concurrently and a failure in one never cancels its siblings.
func (s *Service) RunScheduled(ctx context.Context, tick time.Time) (ScheduledRunResult, error) {
	if s == nil {
		return ScheduledRunResult{}, fmt.Errorf("core: service is nil")
	}
	startedAt := time.Now()
	if tick.IsZero() {
		tick = s.now()
	}
	result := ScheduledRunResult{Tick: tick.UTC(), Failures: map[string]error{}}

	names := make([]string, 0)
	for _, descriptor := range s.registry.List() {
		if descriptor.Capabilities.Has(CapabilityScheduled) {
			names = append(names, descriptor.Name)
		}
	}
	if len(names) == 0 {
		return result, nil
	}
	apps, err := s.store.List(ctx, ConnectedAppQuery{Names: names})
	if err != nil {
		return result, s.mapError(err)
	}

	var (
		mu       sync.Mutex
		combined error
	)
	group := new(errgroup.Group)
	if limit := s.config.ScheduledConcurrency; limit > 0 {
		group.SetLimit(limit)
	}
	for _, app := range apps {
		if app.Status == AppStatusDisconnected {
			continue
		}
		result.Invoked++
		group.Go(func() error {
			runErr := s.runScheduledApp(ctx, app, result.Tick)
			if runErr != nil {
				mu.Lock()
				result.Failures[app.ID] = runErr
				combined = multierr.Append(combined, fmt.Errorf("%s (%s): %w", app.Name, app.ID, runErr))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()
	result.Failed = len(result.Failures)
	s.observeOperation(ctx, startedAt, "run_scheduled", combined, map[string]any{
		"tick":    result.Tick.Format(time.RFC3339),
		"invoked": result.Invoked,
		"failed":  result.Failed,
	})
	return result, combined
}

func (s *Service) runScheduledApp(ctx context.Context, app ConnectedAppData, tick time.Time) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("core: scheduled app panicked: %v", recovered)
		}
	}()
	instance, _, err := s.instance(app)
	if err != nil {
		return err
	}
	scheduled, ok := instance.(Scheduled)
	if !ok {
		return nil
	}
	return scheduled.OnTime(ctx, app, tick)
}
