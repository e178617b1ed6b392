// Package googlecalendar connects a Google account through the Calendar v3 API.
package googlecalendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/goliatone/go-apps/core"
	"github.com/goliatone/go-apps/oauth"
	"github.com/goliatone/go-apps/security"
)

const (
	Name              = "google-calendar"
	PrimaryCalendarID = "primary"

	requestLoginURL    = "get-login-url"
	requestCalendars   = "get-calendars"
	requestSaveSetting = "save"

	keyConnected        = "googleCalendar.statusText.successfully_connected"
	keyPendingLogin     = "googleCalendar.statusText.pending_login"
	keyAccessDenied     = "googleCalendar.statusText.access_denied"
	keyCalendarNotFound = "googleCalendar.statusText.calendar_not_found"
	keyRequestFailed    = "googleCalendar.statusText.error_processing_request"
	keyBusyTimesFailed  = "googleCalendar.statusText.error_getting_busy_times"
	keyCreateFailed     = "googleCalendar.statusText.error_creating_event"
	keyUpdateFailed     = "googleCalendar.statusText.error_updating_event"
	keyDeleteFailed     = "googleCalendar.statusText.error_deleting_event"

	uidProperty = "appointmentUid"
)

type Settings struct {
	ClientID     string
	ClientSecret string
	Scopes       []string
	AuthURL      string
	TokenURL     string
	// Endpoint overrides the Calendar API base, mostly for tests.
	Endpoint   string
	HTTPClient *http.Client
	Codec      *security.TokenCodec
}

func (s Settings) withDefaults() Settings {
	if len(s.Scopes) == 0 {
		s.Scopes = []string{calendar.CalendarScope}
	}
	if s.AuthURL == "" {
		s.AuthURL = google.Endpoint.AuthURL
	}
	if s.TokenURL == "" {
		s.TokenURL = google.Endpoint.TokenURL
	}
	return s
}

type AppData struct {
	CalendarID string `json:"calendar,omitempty"`
}

func (d AppData) calendarID() string {
	if strings.TrimSpace(d.CalendarID) == "" {
		return PrimaryCalendarID
	}
	return d.CalendarID
}

type Calendar struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Primary bool   `json:"primary"`
	CanEdit bool   `json:"canEdit"`
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
)

func New(settings Settings) core.AppFactory {
	settings = settings.withDefaults()
	return func(props core.Props) core.App {
		app := &App{props: props, settings: settings}
		app.manager, app.initErr = oauth.NewManager(oauth.ClientConfig{
			ClientID:     settings.ClientID,
			ClientSecret: settings.ClientSecret,
			AuthURL:      settings.AuthURL,
			TokenURL:     settings.TokenURL,
			RedirectURL:  props.Config.OAuthRedirectURL(Name),
			Scopes:       settings.Scopes,
			AuthStyle:    oauth2.AuthStyleInParams,
			AuthParams:   map[string]string{"prompt": "consent"},
		}, settings.Codec,
			oauth.WithHTTPClient(settings.HTTPClient),
			oauth.WithLocker(props.Locker, props.Config.RefreshLockTTL),
			oauth.WithRefreshLeadWindow(props.Config.RefreshLeadWindow),
			oauth.WithAppReloader(props.Services.ConnectedApps),
			oauth.WithClock(props.Now),
			oauth.WithStatusKeys(oauth.KeysFor("googleCalendar")),
		)
		return app
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

func (a *App) configErr() error {
	if a.initErr == nil {
		return nil
	}
	return core.NewAppError(core.ErrorKindConfig, keyRequestFailed, nil, a.initErr)
}

func (a *App) calendarService(ctx context.Context, accessToken string) (*calendar.Service, error) {
	opts := []option.ClientOption{
		option.WithHTTPClient(a.manager.HTTPClient(ctx, accessToken)),
	}
	if a.settings.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(a.settings.Endpoint))
	}
	srv, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("googlecalendar: new calendar service: %w", err)
	}
	return srv, nil
}

// session returns a calendar client with a fresh access token for app.
func (a *App) session(ctx context.Context, app core.ConnectedAppData) (*calendar.Service, error) {
	if err := a.configErr(); err != nil {
		return nil, err
	}
	token, err := a.manager.AccessToken(ctx, app, a.props.Update)
	if err != nil {
		return nil, err
	}
	return a.calendarService(ctx, token)
}

func (a *App) vendorContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.props.VendorTimeout())
}

func (a *App) ProcessRequest(ctx context.Context, app core.ConnectedAppData, payload json.RawMessage) (any, error) {
	req, err := core.DecodeRequest(payload)
	if err != nil {
		return nil, err
	}
	switch req.Type {
	case requestLoginURL:
		if err := a.configErr(); err != nil {
			return nil, err
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
			ctx, cancel := a.vendorContext(ctx)
			defer cancel()
			srv, err := a.session(ctx, app)
			if err != nil {
				return nil, err
			}
			return listCalendars(ctx, srv)
		})
	case "", requestSaveSetting:
		var data AppData
		if err := req.DecodeData(payload, &data); err != nil {
			return nil, err
		}
		return core.Guard(ctx, a.boundary(app, "save", keyRequestFailed), func(ctx context.Context) (core.StatusWithText, error) {
			ctx, cancel := a.vendorContext(ctx)
			defer cancel()
			srv, err := a.session(ctx, app)
			if err != nil {
				return core.StatusWithText{}, err
			}
			if _, err := srv.CalendarList.Get(data.calendarID()).Context(ctx).Do(); err != nil {
				if isNotFound(err) {
					return core.StatusWithText{}, core.NotFoundError(keyCalendarNotFound, map[string]any{"calendar": data.calendarID()})
				}
				return core.StatusWithText{}, classify(err, keyRequestFailed)
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
	default:
		return nil, core.UnknownRequestError(Name, req.Type)
	}
}

// ProcessStaticRequest completes the OAuth login started by get-login-url.
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
		return core.StaticResponse{}, fmt.Errorf("googlecalendar: connected apps service is required")
	}
	redirect := core.StaticResponse{StatusCode: http.StatusFound, Redirect: a.props.Config.AdminAppURL(appID)}

	var update core.AppUpdate
	if vendorErr := strings.TrimSpace(req.Query.Get("error")); vendorErr != "" {
		update = core.StatusUpdate(core.FailedStatus(keyAccessDenied, map[string]any{"error": vendorErr}))
	} else if completed, err := a.completeLogin(ctx, req.Query.Get("code")); err != nil {
		normalized := core.NormalizeError(err, oauth.KeysFor("googleCalendar").ExchangeFailed)
		core.LogError(ctx, a.props.Log(), "google calendar login failed", map[string]any{
			"app_id": appID,
			"key":    normalized.Key,
			"error":  err.Error(),
		})
		update = core.StatusUpdate(normalized.Status())
	} else {
		update = completed
	}
	if err := apps.UpdateApp(ctx, appID, update); err != nil {
		return core.StaticResponse{}, err
	}
	return redirect, nil
}

func (a *App) completeLogin(ctx context.Context, code string) (core.AppUpdate, error) {
	if err := a.configErr(); err != nil {
		return core.AppUpdate{}, err
	}
	ctx, cancel := a.vendorContext(ctx)
	defer cancel()
	tokens, access, err := a.manager.Exchange(ctx, code)
	if err != nil {
		return core.AppUpdate{}, err
	}
	srv, err := a.calendarService(ctx, access)
	if err != nil {
		return core.AppUpdate{}, err
	}
	// The primary calendar id is the account address.
	primary, err := srv.CalendarList.Get(PrimaryCalendarID).Context(ctx).Do()
	if err != nil {
		return core.AppUpdate{}, classify(err, keyRequestFailed)
	}
	update := core.StatusUpdate(core.ConnectedStatus(keyConnected, nil))
	update.Token = tokens
	update.Account = &core.Account{Username: primary.Id}
	return update, nil
}

func listCalendars(ctx context.Context, srv *calendar.Service) ([]Calendar, error) {
	out := make([]Calendar, 0)
	err := srv.CalendarList.List().Context(ctx).Pages(ctx, func(page *calendar.CalendarList) error {
		for _, entry := range page.Items {
			out = append(out, Calendar{
				ID:      entry.Id,
				Name:    entry.Summary,
				Primary: entry.Primary,
				CanEdit: entry.AccessRole == "owner" || entry.AccessRole == "writer",
			})
		}
		return nil
	})
	if err != nil {
		return nil, classify(err, keyRequestFailed)
	}
	return out, nil
}

// classify maps Calendar API failures onto the error taxonomy.
func classify(err error, key string) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
		return core.AuthError(key, err)
	case apiErr.Code == http.StatusNotFound:
		return core.NewAppError(core.ErrorKindNotFound, key, nil, err)
	case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
		return core.TransientError(key, err)
	default:
		return core.NewAppError(core.ErrorKindConfig, key, nil, err)
	}
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone)
}
