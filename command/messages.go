package command

import (
	"strings"
	"time"

	"github.com/goliatone/go-apps/core"
)

const (
	TypeInstallApp     = "apps.command.app.install"
	TypeUpdateApp      = "apps.command.app.update"
	TypeUninstallApp   = "apps.command.app.uninstall"
	TypeProcessRequest = "apps.command.app.process_request"
	TypeRespond        = "apps.command.text_message.respond"
	TypeRunScheduled   = "apps.command.scheduled.run"
)

type InstallAppMessage struct {
	Name string
}

func (InstallAppMessage) Type() string { return TypeInstallApp }

func (m InstallAppMessage) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return commandValidationError("name", "app name is required")
	}
	return nil
}

type UpdateAppMessage struct {
	AppID  string
	Update core.AppUpdate
}

func (UpdateAppMessage) Type() string { return TypeUpdateApp }

func (m UpdateAppMessage) Validate() error {
	if err := validateAppID(m.AppID); err != nil {
		return err
	}
	if m.Update.IsEmpty() {
		return commandInvalidInputError("command: app update is empty")
	}
	if m.Update.Status != nil && !m.Update.Status.Valid() {
		return commandValidationError("status", "unknown app status")
	}
	return nil
}

type UninstallAppMessage struct {
	AppID string
}

func (UninstallAppMessage) Type() string { return TypeUninstallApp }

func (m UninstallAppMessage) Validate() error {
	return validateAppID(m.AppID)
}

// ProcessRequestMessage carries the raw settings payload posted by the
// admin UI for one installed app.
type ProcessRequestMessage struct {
	AppID   string
	Payload []byte
}

func (ProcessRequestMessage) Type() string { return TypeProcessRequest }

func (m ProcessRequestMessage) Validate() error {
	if err := validateAppID(m.AppID); err != nil {
		return err
	}
	if len(m.Payload) == 0 {
		return commandValidationError("payload", "request payload is required")
	}
	return nil
}

type RespondMessage struct {
	AppID string
	Reply core.TextMessageReply
}

func (RespondMessage) Type() string { return TypeRespond }

func (m RespondMessage) Validate() error {
	if err := validateAppID(m.AppID); err != nil {
		return err
	}
	if strings.TrimSpace(m.Reply.From) == "" {
		return commandValidationError("from", "sender is required")
	}
	return nil
}

// RunScheduledMessage triggers one scheduler pass. A zero Tick uses the
// service clock.
type RunScheduledMessage struct {
	Tick time.Time
}

func (RunScheduledMessage) Type() string { return TypeRunScheduled }

func (RunScheduledMessage) Validate() error { return nil }

func validateAppID(appID string) error {
	if strings.TrimSpace(appID) == "" {
		return commandValidationError("app_id", "app id is required")
	}
	return nil
}
