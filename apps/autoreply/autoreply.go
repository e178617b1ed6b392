// Package autoreply answers inbound text messages with a configured
// template.
package autoreply

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/goliatone/go-apps/core"
	"github.com/goliatone/go-apps/render"
)

const (
	Name = "text-message-auto-reply"

	requestSaveSetting = "save"

	keyConnected        = "textMessageAutoReply.statusText.successfully_connected"
	keyTemplateRequired = "textMessageAutoReply.statusText.template_required"
	keyTemplateNotFound = "textMessageAutoReply.statusText.template_not_found"
	keyRequestFailed    = "textMessageAutoReply.statusText.error_processing_request"
	keyReplyFailed      = "textMessageAutoReply.statusText.error_sending_reply"
	keyHandledBy        = "textMessageAutoReply.handledBy"
)

// AppData is the stored auto-reply configuration.
type AppData struct {
	TemplateID string `json:"autoReplyTemplateId"`
}

type App struct {
	props core.Props
}

var (
	_ core.RequestProcessor     = (*App)(nil)
	_ core.TextMessageResponder = (*App)(nil)
)

func New() core.AppFactory {
	return func(props core.Props) core.App {
		return &App{props: props}
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

func (a *App) ProcessRequest(ctx context.Context, app core.ConnectedAppData, payload json.RawMessage) (any, error) {
	req, err := core.DecodeRequest(payload)
	if err != nil {
		return nil, err
	}
	switch req.Type {
	case "", requestSaveSetting:
		var input AppData
		if err := req.DecodeData(payload, &input); err != nil {
			return nil, err
		}
		return core.Guard(ctx, a.boundary(app, "save", keyRequestFailed), func(ctx context.Context) (core.StatusWithText, error) {
			return a.save(ctx, input)
		})
	default:
		return nil, core.UnknownRequestError(Name, req.Type)
	}
}

func (a *App) save(ctx context.Context, input AppData) (core.StatusWithText, error) {
	input.TemplateID = strings.TrimSpace(input.TemplateID)
	if input.TemplateID == "" {
		return core.StatusWithText{}, core.ConfigError(keyTemplateRequired, nil)
	}
	if _, err := a.template(ctx, input.TemplateID); err != nil {
		return core.StatusWithText{}, err
	}
	status := core.ConnectedStatus(keyConnected, nil)
	update, err := core.StatusUpdate(status).WithData(input)
	if err != nil {
		return core.StatusWithText{}, err
	}
	if a.props.Update != nil {
		if err := a.props.Update(ctx, update); err != nil {
			return core.StatusWithText{}, err
		}
	}
	return status, nil
}

func (a *App) template(ctx context.Context, id string) (*core.Template, error) {
	if a.props.Services.Templates == nil {
		return nil, core.ConfigError(keyTemplateNotFound, map[string]any{"templateId": id})
	}
	template, err := a.props.Services.Templates.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if template == nil {
		return nil, core.ConfigError(keyTemplateNotFound, map[string]any{"templateId": id})
	}
	return template, nil
}

// Respond sends the rendered template back to the sender. It returns a nil
// result when the app has no template configured.
func (a *App) Respond(ctx context.Context, app core.ConnectedAppData, reply core.TextMessageReply) (*core.RespondResult, error) {
	return core.Guard(ctx, a.boundary(app, "respond", keyReplyFailed), func(ctx context.Context) (*core.RespondResult, error) {
		var data AppData
		if err := app.DecodeData(&data); err != nil || strings.TrimSpace(data.TemplateID) == "" {
			return nil, nil
		}
		if strings.TrimSpace(reply.From) == "" {
			return nil, nil
		}
		if a.props.Services.Notifications == nil {
			return nil, core.ConfigError(keyReplyFailed, map[string]any{"reason": "services"})
		}
		template, err := a.template(ctx, data.TemplateID)
		if err != nil {
			return nil, err
		}

		renderer := core.TemplateRenderer(render.Text())
		if a.props.Services.Renderer != nil {
			renderer = a.props.Services.Renderer
		}
		body, err := renderer.Render(template.Value, a.args(ctx, reply))
		if err != nil {
			return nil, err
		}

		handledBy := core.Localized(keyHandledBy, nil)
		if err := a.props.Services.Notifications.SendTextMessage(ctx, core.TextMessageNotification{
			Phone:           reply.From,
			Body:            body,
			ParticipantType: core.ParticipantTypeCustomer,
			HandledBy:       handledBy,
			AppointmentID:   reply.AppointmentID,
			CustomerID:      reply.CustomerID,
			Data:            reply.Data,
		}); err != nil {
			return nil, err
		}
		core.LogInfo(ctx, a.props.Log(), "auto reply sent", map[string]any{
			"app_id":         app.ID,
			"appointment_id": reply.AppointmentID,
		})
		return &core.RespondResult{ParticipantType: core.ParticipantTypeCustomer, HandledBy: handledBy}, nil
	})
}

func (a *App) args(ctx context.Context, reply core.TextMessageReply) map[string]any {
	args := map[string]any{
		"reply": map[string]any{
			"from":    reply.From,
			"to":      reply.To,
			"message": reply.Message,
		},
		"data": reply.Data,
	}
	if a.props.Services.Configuration != nil {
		if cfg, err := core.GetConfigurations(ctx, a.props.Services.Configuration, core.ConfigurationGeneral); err == nil && cfg.General != nil {
			args["config"] = map[string]any{
				"name":  cfg.General.Name,
				"url":   cfg.General.URL,
				"phone": cfg.General.Phone,
				"email": cfg.General.Email,
			}
		}
	}
	return args
}
