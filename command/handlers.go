package command

import (
	"context"
	"time"

	"github.com/goliatone/go-apps/core"
	gocmd "github.com/goliatone/go-command"
)

type MutatingService interface {
	InstallApp(ctx context.Context, name string) (core.ConnectedAppData, error)
	UpdateApp(ctx context.Context, appID string, update core.AppUpdate) error
	UninstallApp(ctx context.Context, appID string) error
	ProcessRequest(ctx context.Context, appID string, payload []byte) (any, error)
}

type TextMessageService interface {
	Respond(ctx context.Context, appID string, reply core.TextMessageReply) (*core.RespondResult, error)
}

type SchedulerService interface {
	RunScheduled(ctx context.Context, tick time.Time) (core.ScheduledRunResult, error)
}

type InstallAppCommand struct {
	service MutatingService
}

func NewInstallAppCommand(service MutatingService) *InstallAppCommand {
	return &InstallAppCommand{service: service}
}

func (c *InstallAppCommand) Execute(ctx context.Context, msg InstallAppMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: install service is required")
	}
	out, err := c.service.InstallApp(ctx, msg.Name)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type UpdateAppCommand struct {
	service MutatingService
}

func NewUpdateAppCommand(service MutatingService) *UpdateAppCommand {
	return &UpdateAppCommand{service: service}
}

func (c *UpdateAppCommand) Execute(ctx context.Context, msg UpdateAppMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: update service is required")
	}
	return c.service.UpdateApp(ctx, msg.AppID, msg.Update)
}

type UninstallAppCommand struct {
	service MutatingService
}

func NewUninstallAppCommand(service MutatingService) *UninstallAppCommand {
	return &UninstallAppCommand{service: service}
}

func (c *UninstallAppCommand) Execute(ctx context.Context, msg UninstallAppMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: uninstall service is required")
	}
	return c.service.UninstallApp(ctx, msg.AppID)
}

type ProcessRequestCommand struct {
	service MutatingService
}

func NewProcessRequestCommand(service MutatingService) *ProcessRequestCommand {
	return &ProcessRequestCommand{service: service}
}

// Execute stores the adapter response, which is nil for plain saves.
func (c *ProcessRequestCommand) Execute(ctx context.Context, msg ProcessRequestMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: process request service is required")
	}
	out, err := c.service.ProcessRequest(ctx, msg.AppID, msg.Payload)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RespondCommand struct {
	service TextMessageService
}

func NewRespondCommand(service TextMessageService) *RespondCommand {
	return &RespondCommand{service: service}
}

func (c *RespondCommand) Execute(ctx context.Context, msg RespondMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: text message service is required")
	}
	out, err := c.service.Respond(ctx, msg.AppID, msg.Reply)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RunScheduledCommand struct {
	service SchedulerService
}

func NewRunScheduledCommand(service SchedulerService) *RunScheduledCommand {
	return &RunScheduledCommand{service: service}
}

// Execute stores the run result even when some apps failed so callers can
// inspect per app failures alongside the combined error.
func (c *RunScheduledCommand) Execute(ctx context.Context, msg RunScheduledMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: scheduler service is required")
	}
	out, err := c.service.RunScheduled(ctx, msg.Tick)
	storeResult(ctx, out)
	return err
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
