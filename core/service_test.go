package core

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type stubScheduled struct {
	name  string
	calls *atomic.Int32
	fail  bool
	panic bool
}

func (s stubScheduled) Name() string { return s.name }

func (s stubScheduled) OnTime(_ context.Context, app ConnectedAppData, _ time.Time) error {
	s.calls.Add(1)
	if s.panic {
		panic("scheduled exploded")
	}
	if s.fail {
		return errors.New("vendor down")
	}
	return nil
}

func newScheduledService(t *testing.T, apps ...stubScheduled) *Service {
	t.Helper()
	registry := NewAppRegistry()
	for _, app := range apps {
		if err := registry.Register(func(Props) App { return app }); err != nil {
			t.Fatalf("register %s: %v", app.name, err)
		}
	}
	svc, err := NewService(Config{}, WithRegistry(registry))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestRunScheduled_IsolatesFailures(t *testing.T) {
	healthy, failing, panicking := &atomic.Int32{}, &atomic.Int32{}, &atomic.Int32{}
	svc := newScheduledService(t,
		stubScheduled{name: "healthy", calls: healthy},
		stubScheduled{name: "failing", calls: failing, fail: true},
		stubScheduled{name: "panicking", calls: panicking, panic: true},
	)
	ctx := context.Background()
	ids := map[string]string{}
	for _, name := range []string{"healthy", "failing", "panicking"} {
		app, err := svc.InstallApp(ctx, name)
		if err != nil {
			t.Fatalf("install %s: %v", name, err)
		}
		ids[name] = app.ID
	}

	tick := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	result, err := svc.RunScheduled(ctx, tick)
	if err == nil {
		t.Fatalf("expected combined error")
	}
	if result.Invoked != 3 || result.Failed != 2 {
		t.Fatalf("unexpected result %#v", result)
	}
	if healthy.Load() != 1 || failing.Load() != 1 || panicking.Load() != 1 {
		t.Fatalf("expected every app to run once")
	}
	if _, ok := result.Failures[ids["failing"]]; !ok {
		t.Fatalf("expected failing app in failures")
	}
	if _, ok := result.Failures[ids["healthy"]]; ok {
		t.Fatalf("did not expect healthy app in failures")
	}
	if !result.Tick.Equal(tick) {
		t.Fatalf("unexpected tick %v", result.Tick)
	}
}

func TestRunScheduled_SkipsDisconnectedApps(t *testing.T) {
	calls := &atomic.Int32{}
	svc := newScheduledService(t, stubScheduled{name: "reminders", calls: calls})
	ctx := context.Background()
	app, err := svc.InstallApp(ctx, "reminders")
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	status := AppStatusDisconnected
	if err := svc.UpdateApp(ctx, app.ID, AppUpdate{Status: &status}); err != nil {
		t.Fatalf("update: %v", err)
	}
	result, err := svc.RunScheduled(ctx, time.Now())
	if err != nil || result.Invoked != 0 || calls.Load() != 0 {
		t.Fatalf("expected disconnected app to be skipped, got %#v %v", result, err)
	}
}

func TestService_CapabilityNotSupported(t *testing.T) {
	calls := &atomic.Int32{}
	svc := newScheduledService(t, stubScheduled{name: "reminders", calls: calls})
	ctx := context.Background()
	app, err := svc.InstallApp(ctx, "reminders")
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if _, err := svc.GetBusyTimes(ctx, app.ID, time.Now(), time.Now().Add(time.Hour)); err == nil {
		t.Fatalf("expected capability error")
	}
	if _, err := svc.ProcessRequest(ctx, app.ID, []byte(`{}`)); err == nil {
		t.Fatalf("expected request processor error")
	}
}

func TestService_InstallAndUninstall(t *testing.T) {
	calls := &atomic.Int32{}
	svc := newScheduledService(t, stubScheduled{name: "reminders", calls: calls})
	ctx := context.Background()

	if _, err := svc.InstallApp(ctx, "unknown"); err == nil {
		t.Fatalf("expected unregistered app error")
	}
	app, err := svc.InstallApp(ctx, "reminders")
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if app.Status != AppStatusPending || app.StatusText.Key != StatusKeyPending {
		t.Fatalf("expected pending app, got %#v", app)
	}
	if err := svc.UninstallApp(ctx, app.ID); err != nil {
		t.Fatalf("uninstall: %v", err)
	}
	if _, err := svc.GetApp(ctx, app.ID); err == nil {
		t.Fatalf("expected app to be gone")
	}
}
