package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-apps/core"
	"github.com/goliatone/go-apps/security"
	"golang.org/x/oauth2"
)

const defaultTokenRequestTimeout = 30 * time.Second

type ClientConfig struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RedirectURL  string
	Scopes       []string
	AuthStyle    oauth2.AuthStyle
	AuthParams   map[string]string
}

func (c ClientConfig) Validate() error {
	if strings.TrimSpace(c.ClientID) == "" {
		return fmt.Errorf("oauth: client id is required")
	}
	if strings.TrimSpace(c.AuthURL) == "" || strings.TrimSpace(c.TokenURL) == "" {
		return fmt.Errorf("oauth: auth and token urls are required")
	}
	if strings.TrimSpace(c.RedirectURL) == "" {
		return fmt.Errorf("oauth: redirect url is required")
	}
	return nil
}

// StatusKeys are the i18n keys an app reports OAuth failures with.
type StatusKeys struct {
	NotAuthorized  string
	ExchangeFailed string
	RefreshFailed  string
}

func KeysFor(app string) StatusKeys {
	return StatusKeys{
		NotAuthorized:  app + ".statusText.not_authorized",
		ExchangeFailed: app + ".statusText.code_exchange_failed",
		RefreshFailed:  app + ".statusText.token_refresh_failed",
	}
}

type Option func(*Manager)

func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) {
		if client != nil {
			m.httpClient = client
		}
	}
}

func WithLocker(locker core.ConnectionLocker, ttl time.Duration) Option {
	return func(m *Manager) {
		if locker != nil {
			m.locker = locker
		}
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

func WithRefreshLeadWindow(window time.Duration) Option {
	return func(m *Manager) {
		if window > 0 {
			m.leadWindow = window
		}
	}
}

// WithAppReloader lets the manager re-read tokens after acquiring the refresh
// lock so a refresh completed by a concurrent holder is reused.
func WithAppReloader(apps core.ConnectedAppsService) Option {
	return func(m *Manager) {
		m.apps = apps
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithStatusKeys(keys StatusKeys) Option {
	return func(m *Manager) {
		m.keys = keys
	}
}

type Manager struct {
	config     *oauth2.Config
	codec      *security.TokenCodec
	locker     core.ConnectionLocker
	lockTTL    time.Duration
	leadWindow time.Duration
	httpClient *http.Client
	apps       core.ConnectedAppsService
	keys       StatusKeys
	authParams map[string]string
	now        func() time.Time
}

func NewManager(cfg ClientConfig, codec *security.TokenCodec, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if codec == nil {
		return nil, fmt.Errorf("oauth: token codec is required")
	}
	m := &Manager{
		config: &oauth2.Config{
			ClientID:     strings.TrimSpace(cfg.ClientID),
			ClientSecret: strings.TrimSpace(cfg.ClientSecret),
			RedirectURL:  strings.TrimSpace(cfg.RedirectURL),
			Scopes:       append([]string(nil), cfg.Scopes...),
			Endpoint: oauth2.Endpoint{
				AuthURL:   strings.TrimSpace(cfg.AuthURL),
				TokenURL:  strings.TrimSpace(cfg.TokenURL),
				AuthStyle: cfg.AuthStyle,
			},
		},
		codec:      codec,
		locker:     core.NewMemoryConnectionLocker(),
		lockTTL:    core.DefaultRefreshLockTTL,
		leadWindow: core.DefaultRefreshLeadWindow,
		httpClient: &http.Client{Timeout: defaultTokenRequestTimeout},
		keys:       KeysFor("oauth"),
		authParams: copyStringMap(cfg.AuthParams),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(m)
	}
	return m, nil
}

func (m *Manager) Config() *oauth2.Config {
	return m.config
}

// AuthCodeURL builds the consent URL. The state carries the app id back to
// the redirect handler.
func (m *Manager) AuthCodeURL(appID string) string {
	opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOffline}
	for key, value := range m.authParams {
		opts = append(opts, oauth2.SetAuthURLParam(key, value))
	}
	return m.config.AuthCodeURL(strings.TrimSpace(appID), opts...)
}

func (m *Manager) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}

// HTTPClient returns a client carrying the given plaintext access token.
func (m *Manager) HTTPClient(ctx context.Context, accessToken string) *http.Client {
	return oauth2.NewClient(m.clientContext(ctx), oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
}

// Exchange trades the authorization code for tokens and returns them
// encrypted together with the plaintext access token for the follow up
// identity call.
func (m *Manager) Exchange(ctx context.Context, code string) (*core.OAuthTokens, string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, "", core.ConfigError(m.keys.ExchangeFailed, nil)
	}
	token, err := m.config.Exchange(m.clientContext(ctx), code)
	if err != nil {
		return nil, "", m.classify(m.keys.ExchangeFailed, err)
	}
	stored, err := m.seal(ctx, token, "")
	if err != nil {
		return nil, "", err
	}
	return stored, token.AccessToken, nil
}

// AccessToken returns a usable plaintext access token for app. When the
// stored token is due for refresh it refreshes once under the per app lock,
// persists the encrypted pair through update, and only then returns.
func (m *Manager) AccessToken(ctx context.Context, app core.ConnectedAppData, update core.UpdateFunc) (string, error) {
	if m == nil {
		return "", fmt.Errorf("oauth: manager is nil")
	}
	tokens := app.Token
	if tokens == nil || (strings.TrimSpace(tokens.AccessToken) == "" && strings.TrimSpace(tokens.RefreshToken) == "") {
		return "", core.AuthError(m.keys.NotAuthorized, nil)
	}
	if !m.needsRefresh(tokens) {
		return m.codec.DecryptString(ctx, tokens.AccessToken)
	}

	lock, err := m.locker.Acquire(ctx, "oauth-refresh:"+app.ID, m.lockTTL)
	if err != nil {
		return "", core.TransientError(m.keys.RefreshFailed, err)
	}
	defer lock.Unlock(context.WithoutCancel(ctx))

	tokens = m.reload(ctx, app.ID, tokens)
	if !m.needsRefresh(tokens) {
		return m.codec.DecryptString(ctx, tokens.AccessToken)
	}

	plain, err := m.codec.DecryptTokens(ctx, tokens)
	if err != nil {
		return "", core.AuthError(m.keys.RefreshFailed, err)
	}
	if plain.RefreshToken == "" {
		return "", core.AuthError(m.keys.NotAuthorized, nil)
	}
	refreshed, err := m.config.TokenSource(m.clientContext(ctx), &oauth2.Token{RefreshToken: plain.RefreshToken}).Token()
	if err != nil {
		return "", m.classify(m.keys.RefreshFailed, err)
	}
	sealed, err := m.seal(ctx, refreshed, plain.RefreshToken)
	if err != nil {
		return "", err
	}
	if update == nil {
		return "", fmt.Errorf("oauth: update callback is required to persist refreshed tokens")
	}
	if err := update(ctx, core.AppUpdate{Token: sealed}); err != nil {
		return "", fmt.Errorf("oauth: persist refreshed tokens: %w", err)
	}
	return refreshed.AccessToken, nil
}

// seal encrypts token. When the vendor does not rotate refresh tokens the
// previous one is kept.
func (m *Manager) seal(ctx context.Context, token *oauth2.Token, previousRefresh string) (*core.OAuthTokens, error) {
	refresh := token.RefreshToken
	if refresh == "" {
		refresh = previousRefresh
	}
	plain := security.PlainTokens{AccessToken: token.AccessToken, RefreshToken: refresh}
	if !token.Expiry.IsZero() {
		expires := token.Expiry.UTC()
		plain.ExpiresOn = &expires
	}
	sealed, err := m.codec.EncryptTokens(ctx, plain)
	if err != nil {
		return nil, fmt.Errorf("oauth: encrypt tokens: %w", err)
	}
	return sealed, nil
}

func (m *Manager) needsRefresh(tokens *core.OAuthTokens) bool {
	now := m.now()
	state := core.ResolveTokenState(now, tokens, m.leadWindow)
	return core.ShouldRefreshToken(now, state, m.leadWindow)
}

func (m *Manager) reload(ctx context.Context, appID string, fallback *core.OAuthTokens) *core.OAuthTokens {
	if m.apps == nil {
		return fallback
	}
	app, err := m.apps.GetApp(ctx, appID)
	if err != nil || app.Token == nil {
		return fallback
	}
	return app.Token
}

func copyStringMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for key, value := range in {
		if strings.TrimSpace(key) == "" {
			continue
		}
		out[strings.TrimSpace(key)] = value
	}
	return out
}

func (m *Manager) classify(key string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return core.AuthError(key, err)
	}
	return core.TransientError(key, err)
}
