// Package smtp sends mail through an SMTP relay configured by the admin.
package smtp

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/goliatone/go-apps/core"
	"github.com/goliatone/go-apps/security"
)

const (
	Name = "smtp"

	requestSaveSetting = "save"

	keyConnected       = "smtp.statusText.successfully_connected"
	keyInvalidSettings = "smtp.statusText.invalid_settings"
	keyLoginFailed     = "smtp.statusText.login_failed"
	keyInvalidAddress  = "smtp.statusText.invalid_address"
	keyRequestFailed   = "smtp.statusText.error_processing_request"
	keySendFailed      = "smtp.statusText.error_sending_email"
)

type Security string

const (
	SecurityNone     Security = "none"
	SecurityStartTLS Security = "starttls"
	SecurityTLS      Security = "tls"
)

type Settings struct {
	Codec *security.TokenCodec
	// TLSConfig overrides the client TLS configuration, mostly for tests.
	TLSConfig *tls.Config
	// HelloName is sent with EHLO. Defaults to "localhost".
	HelloName string
}

// AppData is stored on the connected app. Password holds ciphertext.
type AppData struct {
	Host      string   `json:"host"`
	Port      int      `json:"port"`
	Security  Security `json:"secure"`
	Username  string   `json:"user,omitempty"`
	Password  string   `json:"pass,omitempty"`
	FromEmail string   `json:"email"`
	FromName  string   `json:"name,omitempty"`
}

func (d AppData) address() string {
	return fmt.Sprintf("%s:%d", strings.TrimSpace(d.Host), d.Port)
}

func (d AppData) validate() error {
	if strings.TrimSpace(d.Host) == "" {
		return core.ConfigError(keyInvalidSettings, map[string]any{"field": "host"})
	}
	if d.Port <= 0 || d.Port > 65535 {
		return core.ConfigError(keyInvalidSettings, map[string]any{"field": "port"})
	}
	switch d.Security {
	case SecurityNone, SecurityStartTLS, SecurityTLS:
	default:
		return core.ConfigError(keyInvalidSettings, map[string]any{"field": "secure"})
	}
	if _, err := parseAddress(d.FromEmail); err != nil {
		return core.ConfigError(keyInvalidSettings, map[string]any{"field": "email"})
	}
	return nil
}

type App struct {
	props    core.Props
	settings Settings
}

var (
	_ core.RequestProcessor = (*App)(nil)
	_ core.MailSender       = (*App)(nil)
)

func New(settings Settings) core.AppFactory {
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
			return a.save(ctx, app, input)
		})
	default:
		return nil, core.UnknownRequestError(Name, req.Type)
	}
}

// save verifies the relay accepts the credentials before persisting them.
func (a *App) save(ctx context.Context, app core.ConnectedAppData, input AppData) (core.StatusWithText, error) {
	if input.Security == "" {
		input.Security = SecurityStartTLS
	}
	if err := input.validate(); err != nil {
		return core.StatusWithText{}, err
	}
	if input.Password == "" {
		var stored AppData
		if err := app.DecodeData(&stored); err == nil && stored.Password != "" {
			plaintext, err := a.decrypt(ctx, stored.Password)
			if err != nil {
				return core.StatusWithText{}, err
			}
			input.Password = plaintext
		}
	}

	if err := a.verify(ctx, input); err != nil {
		return core.StatusWithText{}, err
	}

	if input.Password != "" {
		if a.settings.Codec == nil {
			return core.StatusWithText{}, core.NewAppError(core.ErrorKindConfig, keyRequestFailed, nil, fmt.Errorf("smtp: credential codec is not configured"))
		}
		sealed, err := a.settings.Codec.EncryptString(ctx, input.Password)
		if err != nil {
			return core.StatusWithText{}, err
		}
		input.Password = sealed
	}
	status := core.ConnectedStatus(keyConnected, map[string]any{"host": input.Host})
	update, err := core.StatusUpdate(status).WithData(input)
	if err != nil {
		return core.StatusWithText{}, err
	}
	update.Account = &core.Account{Username: input.FromEmail, ServerURL: input.address()}
	if a.props.Update != nil {
		if err := a.props.Update(ctx, update); err != nil {
			return core.StatusWithText{}, err
		}
	}
	return status, nil
}

func (a *App) decrypt(ctx context.Context, ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	if a.settings.Codec == nil {
		return "", core.NewAppError(core.ErrorKindConfig, keyRequestFailed, nil, fmt.Errorf("smtp: credential codec is not configured"))
	}
	plaintext, err := a.settings.Codec.DecryptString(ctx, ciphertext)
	if err != nil {
		return "", core.NewAppError(core.ErrorKindConfig, keyInvalidSettings, nil, err)
	}
	return plaintext, nil
}

func (a *App) SendMail(ctx context.Context, app core.ConnectedAppData, email core.Email) (core.SendMailResult, error) {
	return core.Guard(ctx, a.boundary(app, "send_mail", keySendFailed), func(ctx context.Context) (core.SendMailResult, error) {
		var data AppData
		if err := app.DecodeData(&data); err != nil {
			return core.SendMailResult{}, core.NewAppError(core.ErrorKindConfig, keyInvalidSettings, nil, err)
		}
		if err := data.validate(); err != nil {
			return core.SendMailResult{}, err
		}
		password, err := a.decrypt(ctx, data.Password)
		if err != nil {
			return core.SendMailResult{}, err
		}
		data.Password = password

		msg, err := buildMessage(email, data, a.props.Clock())
		if err != nil {
			return core.SendMailResult{}, err
		}
		if err := a.deliver(ctx, data, msg.msg); err != nil {
			return core.SendMailResult{}, err
		}
		core.LogInfo(ctx, a.props.Log(), "smtp message sent", map[string]any{
			"app_id":     app.ID,
			"message_id": msg.id,
			"recipients": msg.recipients,
		})
		return core.SendMailResult{MessageID: msg.id}, nil
	})
}
