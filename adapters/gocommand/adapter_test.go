package gocommand

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-command"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"

	appscommand "github.com/goliatone/go-apps/command"
	"github.com/goliatone/go-apps/core"
	appsquery "github.com/goliatone/go-apps/query"
)

type okMessage struct{}

func (okMessage) Type() string { return "apps.command.ok" }

type invalidMessage struct{}

func (invalidMessage) Type() string { return "" }

type failingMessage struct{}

func (failingMessage) Type() string { return "apps.command.fail" }

func (failingMessage) Validate() error { return errors.New("invalid payload") }

func TestValidateMessageContract(t *testing.T) {
	if err := ValidateMessageContract(okMessage{}); err != nil {
		t.Fatalf("expected valid message, got %v", err)
	}
	if err := ValidateMessageContract(invalidMessage{}); err == nil {
		t.Fatalf("expected empty type to fail contract validation")
	}
	if err := ValidateMessageContract(failingMessage{}); err == nil {
		t.Fatalf("expected Validate() failure to bubble")
	}
	if err := ValidateMessageContract(appscommand.InstallAppMessage{}); err == nil {
		t.Fatalf("expected install message without name to fail")
	}
}

func TestBind_DispatchesCommandsAndQueries(t *testing.T) {
	svc := &fakeAppsService{apps: map[string]core.ConnectedAppData{}}
	adapter := NewRegistryAdapter(command.NewRegistry())
	subs, err := Bind(adapter, svc)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer subs.Unsubscribe()
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}

	ctx := context.Background()
	if err := Dispatch(ctx, appscommand.InstallAppMessage{Name: "ics-feed"}); err != nil {
		t.Fatalf("dispatch install: %v", err)
	}
	if svc.installs != 1 {
		t.Fatalf("expected one install, got %d", svc.installs)
	}

	app, err := Query[appsquery.GetAppMessage, core.ConnectedAppData](ctx, appsquery.GetAppMessage{AppID: "app-1"})
	if err != nil {
		t.Fatalf("query app: %v", err)
	}
	if app.Name != "ics-feed" || app.Token != nil {
		t.Fatalf("unexpected app %#v", app)
	}

	if err := Dispatch(ctx, appscommand.RunScheduledMessage{Tick: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}); err != nil {
		t.Fatalf("dispatch run scheduled: %v", err)
	}
	if svc.ticks != 1 {
		t.Fatalf("expected one scheduled run, got %d", svc.ticks)
	}
}

func TestQueueResolverHookWiring(t *testing.T) {
	adapter := NewRegistryAdapter(command.NewRegistry())
	queueRegistry := jobqueuecommand.NewRegistry()

	if err := adapter.AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}
	subs, err := Bind(adapter, &fakeAppsService{apps: map[string]core.ConnectedAppData{}})
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer subs.Unsubscribe()
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}

	if _, ok := queueRegistry.Get(appscommand.TypeRunScheduled); !ok {
		t.Fatalf("expected scheduled command to be mirrored into queue registry")
	}
}

type fakeAppsService struct {
	apps     map[string]core.ConnectedAppData
	installs int
	ticks    int
}

func (f *fakeAppsService) InstallApp(_ context.Context, name string) (core.ConnectedAppData, error) {
	f.installs++
	app := core.ConnectedAppData{
		ID:     "app-1",
		Name:   name,
		Status: core.AppStatusPending,
		Token:  &core.OAuthTokens{AccessToken: "cipher"},
	}
	f.apps[app.ID] = app
	return app, nil
}

func (f *fakeAppsService) UpdateApp(context.Context, string, core.AppUpdate) error { return nil }

func (f *fakeAppsService) UninstallApp(_ context.Context, appID string) error {
	delete(f.apps, appID)
	return nil
}

func (f *fakeAppsService) ProcessRequest(context.Context, string, []byte) (any, error) {
	return nil, nil
}

func (f *fakeAppsService) Respond(context.Context, string, core.TextMessageReply) (*core.RespondResult, error) {
	return nil, nil
}

func (f *fakeAppsService) RunScheduled(_ context.Context, tick time.Time) (core.ScheduledRunResult, error) {
	f.ticks++
	return core.ScheduledRunResult{Tick: tick}, nil
}

func (f *fakeAppsService) GetApp(_ context.Context, appID string) (core.ConnectedAppData, error) {
	app, ok := f.apps[appID]
	if !ok {
		return core.ConnectedAppData{}, core.ErrAppNotFound
	}
	return app, nil
}

func (f *fakeAppsService) ListApps(context.Context, core.ConnectedAppQuery) ([]core.ConnectedAppData, error) {
	out := make([]core.ConnectedAppData, 0, len(f.apps))
	for _, app := range f.apps {
		out = append(out, app)
	}
	return out, nil
}

func (f *fakeAppsService) GetBusyTimes(context.Context, string, time.Time, time.Time) ([]core.CalendarBusyTime, error) {
	return nil, nil
}

func (f *fakeAppsService) CheckExists(context.Context, string, string) (bool, error) {
	return false, nil
}
