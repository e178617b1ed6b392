// Package outlook connects a Microsoft 365 account through Microsoft Graph.
// It reads busy times, writes appointment events and sends mail on behalf of
// the signed in user.
package outlook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-apps/core"
	"github.com/goliatone/go-apps/oauth"
	"github.com/goliatone/go-apps/security"
	"github.com/goliatone/go-apps/transport"
	"golang.org/x/oauth2"
)

const (
	Name            = "outlook"
	DefaultTenant   = "common"
	DefaultGraphURL = "https://graph.microsoft.com/v1.0"
	authorityURL    = "https://login.microsoftonline.com/"

	requestLoginURL    = "get-login-url"
	requestCalendars   = "get-calendars"
	requestSaveSetting = "save"

	keyConnected        = "outlook.statusText.successfully_connected"
	keyPendingLogin     = "outlook.statusText.pending_login"
	keyAccessDenied     = "outlook.statusText.access_denied"
	keyCalendarNotFound = "outlook.statusText.calendar_not_found"
	keyRequestFailed    = "outlook.statusText.error_processing_request"
	keyBusyTimesFailed  = "outlook.statusText.error_getting_busy_times"
	keyCreateFailed     = "outlook.statusText.error_creating_event"
	keyUpdateFailed     = "outlook.statusText.error_updating_event"
	keyDeleteFailed     = "outlook.statusText.error_deleting_event"
	keySendFailed       = "outlook.statusText.error_sending_email"
)

var defaultScopes = []string{"offline_access", "User.Read", "Calendars.ReadWrite", "Mail.Send"}

// Settings are the deployment level credentials of the registered Azure app.
type Settings struct {
	ClientID     string
	ClientSecret string
	Tenant       string
	Scopes       []string
	AuthURL      string
	TokenURL     string
	GraphURL     string
	HTTPClient   *http.Client
	Codec        *security.TokenCodec
	Throttle     transport.Throttle
}

func (s Settings) withDefaults() Settings {
	if strings.TrimSpace(s.Tenant) == "" {
		s.Tenant = DefaultTenant
	}
	if len(s.Scopes) == 0 {
		s.Scopes = append([]string(nil), defaultScopes...)
	}
	if s.AuthURL == "" {
		s.AuthURL = authorityURL + s.Tenant + "/oauth2/v2.0/authorize"
	}
	if s.TokenURL == "" {
		s.TokenURL = authorityURL + s.Tenant + "/oauth2/v2.0/token"
	}
	if s.GraphURL == "" {
		s.GraphURL = DefaultGraphURL
	}
	s.GraphURL = strings.TrimRight(s.GraphURL, "/")
	return s
}

// AppData is the adapter configuration stored on the connected app.
type AppData struct {
	CalendarID string `json:"calendar,omitempty"`
}

type App struct {
	props    core.Props
	settings Settings
	manager  *oauth.Manager
	initErr  error
}

var (
	_ core.RequestProcessor         = (*App)(nil)
	_ core.StaticRequestProcessor   = (*App)(nil)
	_ core.CalendarBusyTimeProvider = (*App)(nil)
	_ core.CalendarWriter           = (*App)(nil)
	_ core.MailSender               = (*App)(nil)
)

// New returns the registry factory for the Outlook adapter.
func New(settings Settings) core.AppFactory {
	settings = settings.withDefaults()
	return func(props core.Props) core.App {
		return newApp(settings, props)
	}
}

func newApp(settings Settings, props core.Props) *App {
	app := &App{props: props, settings: settings}
	manager, err := oauth.NewManager(oauth.ClientConfig{
		ClientID:     settings.ClientID,
		ClientSecret: settings.ClientSecret,
		AuthURL:      settings.AuthURL,
		TokenURL:     settings.TokenURL,
		RedirectURL:  props.Config.OAuthRedirectURL(Name),
		Scopes:       settings.Scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
		AuthParams:   map[string]string{"prompt": "select_account"},
	}, settings.Codec,
		oauth.WithHTTPClient(settings.HTTPClient),
		oauth.WithLocker(props.Locker, props.Config.RefreshLockTTL),
		oauth.WithRefreshLeadWindow(props.Config.RefreshLeadWindow),
		oauth.WithAppReloader(props.Services.ConnectedApps),
		oauth.WithClock(props.Now),
		oauth.WithStatusKeys(oauth.KeysFor(Name)),
	)
	app.manager = manager
	app.initErr = err
	return app
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

// graph returns a Graph client carrying a fresh access token for app.
func (a *App) graph(ctx context.Context, app core.ConnectedAppData) (*graphClient, error) {
	if a.initErr != nil {
		return nil, core.NewAppError(core.ErrorKindConfig, keyRequestFailed, nil, a.initErr)
	}
	token, err := a.manager.AccessToken(ctx, app, a.props.Update)
	if err != nil {
		return nil, err
	}
	return a.graphWithToken(token), nil
}

func (a *App) graphWithToken(token string) *graphClient {
	var doer transport.HTTPDoer
	if a.settings.HTTPClient != nil {
		doer = a.settings.HTTPClient
	}
	client := transport.NewClient(doer)
	client.DefaultTimeout = a.props.VendorTimeout()
	client.Throttle = a.settings.Throttle
	client.DefaultHeaders["Authorization"] = "Bearer " + token
	return &graphClient{http: client, base: a.settings.GraphURL}
}

func (a *App) ProcessRequest(ctx context.Context, app core.ConnectedAppData, payload json.RawMessage) (any, error) {
	req, err := core.DecodeRequest(payload)
	if err != nil {
		return nil, err
	}
	switch req.Type {
	case requestLoginURL:
		if a.initErr != nil {
			return nil, core.NewAppError(core.ErrorKindConfig, keyRequestFailed, nil, a.initErr)
		}
		if err := a.props.Report(ctx, core.StatusWithText{
			Status:     core.AppStatusPending,
			StatusText: core.Localized(keyPendingLogin, nil),
		}); err != nil {
			return nil, err
		}
		return map[string]string{"url": a.manager.AuthCodeURL(app.ID)}, nil
	case requestCalendars:
		return core.Guard(ctx, a.boundary(app, "get_calendars", keyRequestFailed), func(ctx context.Context) ([]Calendar, error) {
			graph, err := a.graph(ctx, app)
			if err != nil {
				return nil, err
			}
			return graph.listCalendars(ctx)
		})
	case "", requestSaveSetting:
		var data AppData
		if err := req.DecodeData(payload, &data); err != nil {
			return nil, err
		}
		return a.saveSettings(ctx, app, data)
	default:
		return nil, core.UnknownRequestError(Name, req.Type)
	}
}

// saveSettings checks the selected calendar before persisting it.
func (a *App) saveSettings(ctx context.Context, app core.ConnectedAppData, data AppData) (core.StatusWithText, error) {
	data.CalendarID = strings.TrimSpace(data.CalendarID)
	return core.Guard(ctx, a.boundary(app, "save", keyRequestFailed), func(ctx context.Context) (core.StatusWithText, error) {
		graph, err := a.graph(ctx, app)
		if err != nil {
			return core.StatusWithText{}, err
		}
		if _, err := graph.calendar(ctx, data.CalendarID); err != nil {
			if transport.IsStatus(err, http.StatusNotFound) {
				return core.StatusWithText{}, core.NotFoundError(keyCalendarNotFound, map[string]any{"calendar": data.CalendarID})
			}
			return core.StatusWithText{}, err
		}
		status := core.ConnectedStatus(keyConnected, nil)
		update, err := core.StatusUpdate(status).WithData(data)
		if err != nil {
			return core.StatusWithText{}, err
		}
		if a.props.Update != nil {
			if err := a.props.Update(ctx, update); err != nil {
				return core.StatusWithText{}, err
			}
		}
		return status, nil
	})
}

// ProcessStaticRequest handles the OAuth redirect. The state parameter is
// the connected app id the login was started for.
func (a *App) ProcessStaticRequest(ctx context.Context, req core.StaticRequest) (core.StaticResponse, error) {
	if req.Path() != "redirect" {
		return core.StaticResponse{}, core.NotFoundError(keyRequestFailed, map[string]any{"path": req.Path()})
	}
	appID := strings.TrimSpace(req.Query.Get("state"))
	if appID == "" {
		return core.StaticResponse{}, core.ConfigError(keyRequestFailed, map[string]any{"reason": "missing state"})
	}
	apps := a.props.Services.ConnectedApps
	if apps == nil {
		return core.StaticResponse{}, fmt.Errorf("outlook: connected apps service is required")
	}
	redirect := core.StaticResponse{StatusCode: http.StatusFound, Redirect: a.props.Config.AdminAppURL(appID)}

	if vendorErr := strings.TrimSpace(req.Query.Get("error")); vendorErr != "" {
		status := core.FailedStatus(keyAccessDenied, map[string]any{"error": vendorErr})
		if err := apps.UpdateApp(ctx, appID, core.StatusUpdate(status)); err != nil {
			return core.StaticResponse{}, err
		}
		return redirect, nil
	}

	app, err := apps.GetApp(ctx, appID)
	if err != nil {
		return core.StaticResponse{}, err
	}
	if app.Name != Name {
		return core.StaticResponse{}, core.ConfigError(keyRequestFailed, map[string]any{"reason": "state does not reference an outlook app"})
	}

	update, err := a.completeLogin(ctx, req.Query.Get("code"))
	if err != nil {
		normalized := core.NormalizeError(err, oauth.KeysFor(Name).ExchangeFailed)
		core.LogError(ctx, a.props.Log(), "outlook login failed", map[string]any{
			"app_id": appID,
			"key":    normalized.Key,
			"error":  err.Error(),
		})
		if updateErr := apps.UpdateApp(ctx, appID, core.StatusUpdate(normalized.Status())); updateErr != nil {
			return core.StaticResponse{}, updateErr
		}
		return redirect, nil
	}
	if err := apps.UpdateApp(ctx, appID, update); err != nil {
		return core.StaticResponse{}, err
	}
	return redirect, nil
}

func (a *App) completeLogin(ctx context.Context, code string) (core.AppUpdate, error) {
	if a.initErr != nil {
		return core.AppUpdate{}, core.NewAppError(core.ErrorKindConfig, keyRequestFailed, nil, a.initErr)
	}
	tokens, access, err := a.manager.Exchange(ctx, code)
	if err != nil {
		return core.AppUpdate{}, err
	}
	me, err := a.graphWithToken(access).me(ctx)
	if err != nil {
		return core.AppUpdate{}, err
	}
	status := core.ConnectedStatus(keyConnected, nil)
	update := core.StatusUpdate(status)
	update.Token = tokens
	update.Account = &core.Account{Username: me.username()}
	return update, nil
}
