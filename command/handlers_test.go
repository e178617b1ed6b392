package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-apps/core"
	gocmd "github.com/goliatone/go-command"
)

type stubService struct {
	installFn   func(ctx context.Context, name string) (core.ConnectedAppData, error)
	updateFn    func(ctx context.Context, appID string, update core.AppUpdate) error
	uninstallFn func(ctx context.Context, appID string) error
	processFn   func(ctx context.Context, appID string, payload []byte) (any, error)
	respondFn   func(ctx context.Context, appID string, reply core.TextMessageReply) (*core.RespondResult, error)
	scheduledFn func(ctx context.Context, tick time.Time) (core.ScheduledRunResult, error)
}

func (s stubService) InstallApp(ctx context.Context, name string) (core.ConnectedAppData, error) {
	return s.installFn(ctx, name)
}

func (s stubService) UpdateApp(ctx context.Context, appID string, update core.AppUpdate) error {
	return s.updateFn(ctx, appID, update)
}

func (s stubService) UninstallApp(ctx context.Context, appID string) error {
	return s.uninstallFn(ctx, appID)
}

func (s stubService) ProcessRequest(ctx context.Context, appID string, payload []byte) (any, error) {
	return s.processFn(ctx, appID, payload)
}

func (s stubService) Respond(ctx context.Context, appID string, reply core.TextMessageReply) (*core.RespondResult, error) {
	return s.respondFn(ctx, appID, reply)
}

func (s stubService) RunScheduled(ctx context.Context, tick time.Time) (core.ScheduledRunResult, error) {
	return s.scheduledFn(ctx, tick)
}

func TestInstallAppCommand_ExecuteDelegatesAndStoresResult(t *testing.T) {
	svc := stubService{
		installFn: func(_ context.Context, name string) (core.ConnectedAppData, error) {
			if name != "ics-feed" {
				t.Fatalf("expected ics-feed, got %q", name)
			}
			return core.ConnectedAppData{ID: "app-1", Name: name, Status: core.AppStatusPending}, nil
		},
	}

	collector := gocmd.NewResult[core.ConnectedAppData]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	if err := NewInstallAppCommand(svc).Execute(ctx, InstallAppMessage{Name: "ics-feed"}); err != nil {
		t.Fatalf("execute install: %v", err)
	}
	result, ok := collector.Load()
	if !ok {
		t.Fatalf("expected result to be stored")
	}
	if result.ID != "app-1" || result.Status != core.AppStatusPending {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestProcessRequestCommand_ForwardsPayload(t *testing.T) {
	svc := stubService{
		processFn: func(_ context.Context, appID string, payload []byte) (any, error) {
			if appID != "app-1" || string(payload) != `{"type":"save"}` {
				t.Fatalf("unexpected payload %q for %q", payload, appID)
			}
			return map[string]any{"ok": true}, nil
		},
	}
	collector := gocmd.NewResult[any]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	err := NewProcessRequestCommand(svc).Execute(ctx, ProcessRequestMessage{AppID: "app-1", Payload: []byte(`{"type":"save"}`)})
	if err != nil {
		t.Fatalf("execute process request: %v", err)
	}
	result, ok := collector.Load()
	if !ok {
		t.Fatalf("expected result to be stored")
	}
	if result.(map[string]any)["ok"] != true {
		t.Fatalf("unexpected result %#v", result)
	}
}

func TestMutationCommands_DelegateToService(t *testing.T) {
	t.Run("update", func(t *testing.T) {
		called := false
		status := core.AppStatusConnected
		svc := stubService{
			updateFn: func(_ context.Context, appID string, update core.AppUpdate) error {
				called = true
				if appID != "app-1" || update.Status == nil || *update.Status != status {
					t.Fatalf("unexpected update %q %#v", appID, update)
				}
				return nil
			},
		}
		if err := NewUpdateAppCommand(svc).Execute(context.Background(), UpdateAppMessage{AppID: "app-1", Update: core.AppUpdate{Status: &status}}); err != nil {
			t.Fatalf("execute update: %v", err)
		}
		if !called {
			t.Fatalf("expected update invocation")
		}
	})

	t.Run("uninstall", func(t *testing.T) {
		svc := stubService{
			uninstallFn: func(_ context.Context, appID string) error {
				if appID != "app-2" {
					t.Fatalf("unexpected app id %q", appID)
				}
				return core.ErrAppNotFound
			},
		}
		err := NewUninstallAppCommand(svc).Execute(context.Background(), UninstallAppMessage{AppID: "app-2"})
		if !errors.Is(err, core.ErrAppNotFound) {
			t.Fatalf("expected service error passthrough, got %v", err)
		}
	})

	t.Run("respond", func(t *testing.T) {
		svc := stubService{
			respondFn: func(_ context.Context, appID string, reply core.TextMessageReply) (*core.RespondResult, error) {
				return &core.RespondResult{HandledBy: core.Localized("auto", nil)}, nil
			},
		}
		collector := gocmd.NewResult[*core.RespondResult]()
		ctx := gocmd.ContextWithResult(context.Background(), collector)
		if err := NewRespondCommand(svc).Execute(ctx, RespondMessage{AppID: "app-3", Reply: core.TextMessageReply{From: "+100"}}); err != nil {
			t.Fatalf("execute respond: %v", err)
		}
		if out, ok := collector.Load(); !ok || out == nil {
			t.Fatalf("expected respond result")
		}
	})
}

func TestRunScheduledCommand_StoresResultOnPartialFailure(t *testing.T) {
	tick := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	failure := errors.New("vendor down")
	svc := stubService{
		scheduledFn: func(_ context.Context, got time.Time) (core.ScheduledRunResult, error) {
			if !got.Equal(tick) {
				t.Fatalf("unexpected tick %s", got)
			}
			return core.ScheduledRunResult{Tick: got, Invoked: 2, Failed: 1, Failures: map[string]error{"app-1": failure}}, failure
		},
	}
	collector := gocmd.NewResult[core.ScheduledRunResult]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	err := NewRunScheduledCommand(svc).Execute(ctx, RunScheduledMessage{Tick: tick})
	if !errors.Is(err, failure) {
		t.Fatalf("expected combined failure, got %v", err)
	}
	result, ok := collector.Load()
	if !ok || result.Invoked != 2 || result.Failed != 1 {
		t.Fatalf("unexpected stored result %#v", result)
	}
}
