// Package caldav connects any CalDAV server with basic authentication.
// Events are stored as one {uid}.ics resource per appointment.
package caldav

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-apps/core"
	"github.com/goliatone/go-apps/ical"
	"github.com/goliatone/go-apps/security"
	"github.com/goliatone/go-apps/transport"
)

const (
	Name = "caldav"

	requestCalendars   = "get-calendars"
	requestSaveSetting = "save"

	keyConnected        = "caldav.statusText.successfully_connected"
	keyInvalidSettings  = "caldav.statusText.invalid_settings"
	keyLoginFailed      = "caldav.statusText.login_failed"
	keyNoCalendars      = "caldav.statusText.no_calendars"
	keyCalendarNotFound = "caldav.statusText.calendar_not_found"
	keyRequestFailed    = "caldav.statusText.error_processing_request"
	keyBusyTimesFailed  = "caldav.statusText.error_getting_busy_times"
	keyCreateFailed     = "caldav.statusText.error_creating_event"
	keyUpdateFailed     = "caldav.statusText.error_updating_event"
	keyDeleteFailed     = "caldav.statusText.error_deleting_event"

	// minQueryWindow bounds how far a truncated REPORT window is split.
	minQueryWindow = time.Hour
)

type Settings struct {
	HTTPClient *http.Client
	Codec      *security.TokenCodec
}

// AppData is stored on the connected app. Password holds ciphertext.
type AppData struct {
	ServerURL   string `json:"serverUrl"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	CalendarURL string `json:"calendar,omitempty"`
	TimeZone    string `json:"timeZone,omitempty"`
}

// SettingsRequest is the admin form submitted with the save request.
// Password is plaintext here and is encrypted before persistence.
type SettingsRequest struct {
	ServerURL   string `json:"serverUrl"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	CalendarURL string `json:"calendar,omitempty"`
	TimeZone    string `json:"timeZone,omitempty"`
}

func (r SettingsRequest) validate() error {
	if strings.TrimSpace(r.ServerURL) == "" || strings.TrimSpace(r.Username) == "" {
		return core.ConfigError(keyInvalidSettings, map[string]any{"field": "serverUrl"})
	}
	parsed, err := url.Parse(strings.TrimSpace(r.ServerURL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return core.ConfigError(keyInvalidSettings, map[string]any{"field": "serverUrl"})
	}
	if r.TimeZone != "" {
		if _, err := ical.LoadLocation(r.TimeZone); err != nil {
			return core.ConfigError(keyInvalidSettings, map[string]any{"field": "timeZone"})
		}
	}
	return nil
}

type Calendar struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	TimeZone string `json:"timeZone,omitempty"`
}

type App struct {
	props    core.Props
	settings Settings
}

var (
	_ core.RequestProcessor         = (*App)(nil)
	_ core.CalendarBusyTimeProvider = (*App)(nil)
	_ core.CalendarWriter           = (*App)(nil)
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

func (a *App) client(username, password string) *davClient {
	var doer transport.HTTPDoer
	if a.settings.HTTPClient != nil {
		doer = a.settings.HTTPClient
	}
	return newDAVClient(doer, a.props.VendorTimeout(), username, password)
}

// session decrypts the stored password and returns a client plus settings.
func (a *App) session(ctx context.Context, app core.ConnectedAppData) (*davClient, AppData, error) {
	var data AppData
	if err := app.DecodeData(&data); err != nil {
		return nil, AppData{}, core.NewAppError(core.ErrorKindConfig, keyInvalidSettings, nil, err)
	}
	if data.ServerURL == "" {
		return nil, AppData{}, core.ConfigError(keyInvalidSettings, map[string]any{"field": "serverUrl"})
	}
	password, err := a.decrypt(ctx, data.Password)
	if err != nil {
		return nil, AppData{}, err
	}
	return a.client(data.Username, password), data, nil
}

func (a *App) decrypt(ctx context.Context, ciphertext string) (string, error) {
	if a.settings.Codec == nil {
		return "", core.NewAppError(core.ErrorKindConfig, keyRequestFailed, nil, fmt.Errorf("caldav: credential codec is not configured"))
	}
	plaintext, err := a.settings.Codec.DecryptString(ctx, ciphertext)
	if err != nil {
		return "", core.NewAppError(core.ErrorKindConfig, keyInvalidSettings, nil, err)
	}
	return plaintext, nil
}

func (a *App) ProcessRequest(ctx context.Context, app core.ConnectedAppData, payload json.RawMessage) (any, error) {
	req, err := core.DecodeRequest(payload)
	if err != nil {
		return nil, err
	}
	switch req.Type {
	case requestCalendars:
		return core.Guard(ctx, a.boundary(app, "get_calendars", keyRequestFailed), func(ctx context.Context) ([]Calendar, error) {
			client, data, err := a.requestSession(ctx, app, req, payload)
			if err != nil {
				return nil, err
			}
			return a.discover(ctx, client, data.ServerURL)
		})
	case "", requestSaveSetting:
		var input SettingsRequest
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

// requestSession prefers credentials sent with the request so the admin can
// list calendars before saving.
func (a *App) requestSession(ctx context.Context, app core.ConnectedAppData, req core.RequestEnvelope, payload json.RawMessage) (*davClient, AppData, error) {
	var input SettingsRequest
	if len(req.Data) > 0 {
		if err := json.Unmarshal(req.Data, &input); err != nil {
			return nil, AppData{}, fmt.Errorf("%w: %v", core.ErrInvalidRequest, err)
		}
	}
	if input.ServerURL == "" {
		return a.session(ctx, app)
	}
	if err := input.validate(); err != nil {
		return nil, AppData{}, err
	}
	password := input.Password
	if password == "" {
		var stored AppData
		if err := app.DecodeData(&stored); err == nil {
			if password, err = a.decrypt(ctx, stored.Password); err != nil {
				return nil, AppData{}, err
			}
		}
	}
	return a.client(input.Username, password), AppData{ServerURL: input.ServerURL, Username: input.Username}, nil
}

func (a *App) save(ctx context.Context, app core.ConnectedAppData, input SettingsRequest) (core.StatusWithText, error) {
	if err := input.validate(); err != nil {
		return core.StatusWithText{}, err
	}
	password := input.Password
	if password == "" {
		// Keep the stored password when the form leaves it blank.
		var stored AppData
		if err := app.DecodeData(&stored); err == nil && stored.Password != "" {
			decrypted, err := a.decrypt(ctx, stored.Password)
			if err != nil {
				return core.StatusWithText{}, err
			}
			password = decrypted
		}
	}
	client := a.client(input.Username, password)
	calendars, err := a.discover(ctx, client, input.ServerURL)
	if err != nil {
		return core.StatusWithText{}, err
	}
	if len(calendars) == 0 {
		return core.StatusWithText{}, core.ConfigError(keyNoCalendars, nil)
	}
	selected := calendars[0]
	if input.CalendarURL != "" {
		found := false
		for _, cal := range calendars {
			if cal.URL == input.CalendarURL {
				selected, found = cal, true
				break
			}
		}
		if !found {
			return core.StatusWithText{}, core.NotFoundError(keyCalendarNotFound, map[string]any{"calendar": input.CalendarURL})
		}
	}

	if a.settings.Codec == nil {
		return core.StatusWithText{}, core.NewAppError(core.ErrorKindConfig, keyRequestFailed, nil, fmt.Errorf("caldav: credential codec is not configured"))
	}
	sealed, err := a.settings.Codec.EncryptString(ctx, password)
	if err != nil {
		return core.StatusWithText{}, err
	}
	data := AppData{
		ServerURL:   strings.TrimSpace(input.ServerURL),
		Username:    strings.TrimSpace(input.Username),
		Password:    sealed,
		CalendarURL: selected.URL,
		TimeZone:    input.TimeZone,
	}
	status := core.ConnectedStatus(keyConnected, map[string]any{"calendar": selected.Name})
	update, err := core.StatusUpdate(status).WithData(data)
	if err != nil {
		return core.StatusWithText{}, err
	}
	update.Account = &core.Account{Username: data.Username, ServerURL: data.ServerURL}
	if a.props.Update != nil {
		if err := a.props.Update(ctx, update); err != nil {
			return core.StatusWithText{}, err
		}
	}
	return status, nil
}

// discover walks principal, calendar home set and the calendars under it.
// Servers without current-user-principal or calendar-home-set are tried at
// the server URL itself.
func (a *App) discover(ctx context.Context, client *davClient, serverURL string) ([]Calendar, error) {
	serverURL = strings.TrimSpace(serverURL)
	dav, err := client.open(serverURL)
	if err != nil {
		return nil, err
	}
	ctx, cancel := client.withTimeout(ctx)
	defer cancel()

	root, err := url.Parse(serverURL)
	if err != nil {
		return nil, core.ConfigError(keyInvalidSettings, map[string]any{"field": "serverUrl"})
	}
	principal, err := dav.FindCurrentUserPrincipal(ctx)
	if err != nil {
		if isHTTPFailure(err) {
			return nil, loginError(err)
		}
		principal = ensureTrailingSlash(root.Path)
	}
	home, err := dav.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		if isHTTPFailure(err) {
			return nil, loginError(err)
		}
		home = principal
	}
	calendars, err := dav.FindCalendars(ctx, ensureTrailingSlash(home))
	if err != nil {
		return nil, loginError(err)
	}

	out := make([]Calendar, 0, len(calendars))
	for _, cal := range calendars {
		if !supportsEvents(cal.SupportedComponentSet) {
			continue
		}
		calendarURL, err := resolvePath(serverURL, ensureTrailingSlash(cal.Path))
		if err != nil {
			continue
		}
		name := strings.TrimSpace(cal.Name)
		if name == "" {
			name = cal.Path
		}
		entry := Calendar{URL: calendarURL, Name: name}
		if zone, err := client.calendarTimezone(ctx, calendarURL); err == nil {
			entry.TimeZone = zone
		}
		out = append(out, entry)
	}
	return out, nil
}

func supportsEvents(components []string) bool {
	if len(components) == 0 {
		return true
	}
	for _, name := range components {
		if strings.EqualFold(name, "VEVENT") {
			return true
		}
	}
	return false
}

func loginError(err error) error {
	if transport.IsStatus(err, http.StatusUnauthorized) || transport.IsStatus(err, http.StatusForbidden) {
		return core.AuthError(keyLoginFailed, err)
	}
	return err
}
