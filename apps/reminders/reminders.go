// Package reminders sends appointment reminders by email or text message
// on every scheduler tick, and manages the reminder rules of an installed
// app through its admin requests.
package reminders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/goliatone/go-apps/core"
)

const (
	Name = "reminders"

	requestList        = "get-reminders"
	requestGet         = "get-reminder"
	requestCreate      = "create-reminder"
	requestUpdate      = "update-reminder"
	requestDelete      = "delete-reminders"
	requestCheckUnique = "check-name-unique"

	keyConnected       = "reminders.statusText.successfully_connected"
	keyInvalidReminder = "reminders.statusText.invalid_reminder"
	keyNameTaken       = "reminders.statusText.name_taken"
	keyNotFound        = "reminders.statusText.reminder_not_found"
	keyRequestFailed   = "reminders.statusText.error_processing_request"
	keyDispatchFailed  = "reminders.statusText.error_sending_reminders"
	keyHandledBy       = "reminders.handledBy"

	DefaultConcurrency = 8
	appointmentPage    = 100
)

type Settings struct {
	// Concurrency bounds parallel dispatches within one tick.
	Concurrency int
}

type App struct {
	props    core.Props
	settings Settings
}

var (
	_ core.RequestProcessor = (*App)(nil)
	_ core.Scheduled        = (*App)(nil)
	_ core.Uninstaller      = (*App)(nil)
)

func New(settings Settings) core.AppFactory {
	if settings.Concurrency <= 0 {
		settings.Concurrency = DefaultConcurrency
	}
	return func(props core.Props) core.App {
		return &App{props: props, settings: settings}
	}
}

func (a *App) Name() string {
	return Name
}

func (a *App) boundary(app core.ConnectedAppData, operation, fallbackKey string) core.Boundary {
	return core.Boundary{
		Props:       a.props,
		App:         app,
		Operation:   Name + "." + operation,
		FallbackKey: fallbackKey,
		SuccessKey:  keyConnected,
	}
}

func (a *App) store() (core.ReminderStore, error) {
	if a.props.Storage == nil || a.props.Storage.Reminders() == nil {
		return nil, core.NewAppError(core.ErrorKindConfig, keyRequestFailed, nil, fmt.Errorf("reminders: storage is not configured"))
	}
	return a.props.Storage.Reminders(), nil
}

type listRequest struct {
	Search   string                 `json:"search,omitempty"`
	Channels []core.ReminderChannel `json:"channel,omitempty"`
	Types    []core.ReminderType    `json:"type,omitempty"`
	Limit    int                    `json:"limit,omitempty"`
	Offset   int                    `json:"offset,omitempty"`
}

type idRequest struct {
	ID string `json:"id"`
}

type idsRequest struct {
	IDs []string `json:"ids"`
}

type uniqueRequest struct {
	Name string `json:"name"`
	ID   string `json:"id,omitempty"`
}

type deleteResult struct {
	Deleted int `json:"deleted"`
}

func (a *App) ProcessRequest(ctx context.Context, app core.ConnectedAppData, payload json.RawMessage) (any, error) {
	req, err := core.DecodeRequest(payload)
	if err != nil {
		return nil, err
	}
	b := a.boundary(app, strings.ReplaceAll(req.Type, "-", "_"), keyRequestFailed)
	switch req.Type {
	case requestList:
		var input listRequest
		if err := req.DecodeData(payload, &input); err != nil {
			return nil, err
		}
		return core.Guard(ctx, b, func(ctx context.Context) (core.ReminderList, error) {
			store, err := a.store()
			if err != nil {
				return core.ReminderList{}, err
			}
			return store.List(ctx, app.ID, core.ReminderQuery{
				Search:   input.Search,
				Channels: input.Channels,
				Types:    input.Types,
				Limit:    input.Limit,
				Offset:   input.Offset,
			})
		})
	case requestGet:
		var input idRequest
		if err := req.DecodeData(payload, &input); err != nil {
			return nil, err
		}
		b.SoftNotFound = true
		return core.Guard(ctx, b, func(ctx context.Context) (core.Reminder, error) {
			store, err := a.store()
			if err != nil {
				return core.Reminder{}, err
			}
			reminder, err := store.Get(ctx, app.ID, input.ID)
			return reminder, storeError(err)
		})
	case requestCreate:
		var input core.Reminder
		if err := req.DecodeData(payload, &input); err != nil {
			return nil, err
		}
		return core.Guard(ctx, b, func(ctx context.Context) (core.Reminder, error) {
			return a.create(ctx, app, input)
		})
	case requestUpdate:
		var input core.Reminder
		if err := req.DecodeData(payload, &input); err != nil {
			return nil, err
		}
		b.SoftNotFound = true
		return core.Guard(ctx, b, func(ctx context.Context) (core.Reminder, error) {
			return a.update(ctx, app, input)
		})
	case requestDelete:
		var input idsRequest
		if err := req.DecodeData(payload, &input); err != nil {
			return nil, err
		}
		return core.Guard(ctx, b, func(ctx context.Context) (deleteResult, error) {
			store, err := a.store()
			if err != nil {
				return deleteResult{}, err
			}
			deleted, err := store.Delete(ctx, app.ID, input.IDs)
			return deleteResult{Deleted: deleted}, err
		})
	case requestCheckUnique:
		var input uniqueRequest
		if err := req.DecodeData(payload, &input); err != nil {
			return nil, err
		}
		return core.Guard(ctx, b, func(ctx context.Context) (bool, error) {
			store, err := a.store()
			if err != nil {
				return false, err
			}
			exists, err := store.NameExists(ctx, app.ID, input.Name, input.ID)
			return !exists, err
		})
	default:
		return nil, core.UnknownRequestError(Name, req.Type)
	}
}

func (a *App) create(ctx context.Context, app core.ConnectedAppData, input core.Reminder) (core.Reminder, error) {
	store, err := a.store()
	if err != nil {
		return core.Reminder{}, err
	}
	input.ID = ""
	input.AppID = app.ID
	input.Name = strings.TrimSpace(input.Name)
	if err := input.Validate(); err != nil {
		return core.Reminder{}, core.NewAppError(core.ErrorKindConfig, keyInvalidReminder, nil, err)
	}
	if taken, err := store.NameExists(ctx, app.ID, input.Name, ""); err != nil {
		return core.Reminder{}, err
	} else if taken {
		return core.Reminder{}, core.ConfigError(keyNameTaken, map[string]any{"name": input.Name})
	}
	created, err := store.Create(ctx, input)
	return created, storeError(err)
}

func (a *App) update(ctx context.Context, app core.ConnectedAppData, input core.Reminder) (core.Reminder, error) {
	store, err := a.store()
	if err != nil {
		return core.Reminder{}, err
	}
	if strings.TrimSpace(input.ID) == "" {
		return core.Reminder{}, core.ConfigError(keyInvalidReminder, map[string]any{"field": "id"})
	}
	input.AppID = app.ID
	input.Name = strings.TrimSpace(input.Name)
	if err := input.Validate(); err != nil {
		return core.Reminder{}, core.NewAppError(core.ErrorKindConfig, keyInvalidReminder, nil, err)
	}
	if taken, err := store.NameExists(ctx, app.ID, input.Name, input.ID); err != nil {
		return core.Reminder{}, err
	} else if taken {
		return core.Reminder{}, core.ConfigError(keyNameTaken, map[string]any{"name": input.Name})
	}
	updated, err := store.Update(ctx, input)
	return updated, storeError(err)
}

// storeError maps store sentinels onto the reminder status keys.
func storeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, core.ErrReminderNotFound):
		return core.NewAppError(core.ErrorKindNotFound, keyNotFound, nil, err)
	case errors.Is(err, core.ErrReminderNameTaken):
		return core.NewAppError(core.ErrorKindConfig, keyNameTaken, nil, err)
	case errors.Is(err, core.ErrInvalidReminder):
		return core.NewAppError(core.ErrorKindConfig, keyInvalidReminder, nil, err)
	}
	return err
}

// UnInstall removes the reminder rules owned by app.
func (a *App) UnInstall(ctx context.Context, app core.ConnectedAppData) error {
	store, err := a.store()
	if err != nil {
		return err
	}
	return store.DeleteAll(ctx, app.ID)
}
