package core

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultVendorTimeout        = 30 * time.Second
	DefaultRefreshLockTTL       = 30 * time.Second
	DefaultRefreshLeadWindow    = 5 * time.Minute
	DefaultScheduledConcurrency = 8
	DefaultAdminAppsPath        = "/admin/dashboard/communications/apps"
)

type Config struct {
	ServiceName          string        `koanf:"service_name" mapstructure:"service_name"`
	AppBaseURL           string        `koanf:"app_base_url" mapstructure:"app_base_url"`
	AdminAppsPath        string        `koanf:"admin_apps_path" mapstructure:"admin_apps_path"`
	DefaultTimeZone      string        `koanf:"default_timezone" mapstructure:"default_timezone"`
	VendorTimeout        time.Duration `koanf:"vendor_timeout" mapstructure:"vendor_timeout"`
	ScheduledConcurrency int           `koanf:"scheduled_concurrency" mapstructure:"scheduled_concurrency"`
	RefreshLockTTL       time.Duration `koanf:"refresh_lock_ttl" mapstructure:"refresh_lock_ttl"`
	RefreshLeadWindow    time.Duration `koanf:"refresh_lead_window" mapstructure:"refresh_lead_window"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:          "apps",
		AppBaseURL:           "http://localhost:3000",
		AdminAppsPath:        DefaultAdminAppsPath,
		DefaultTimeZone:      "UTC",
		VendorTimeout:        DefaultVendorTimeout,
		ScheduledConcurrency: DefaultScheduledConcurrency,
		RefreshLockTTL:       DefaultRefreshLockTTL,
		RefreshLeadWindow:    DefaultRefreshLeadWindow,
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if strings.TrimSpace(c.AppBaseURL) == "" {
		return fmt.Errorf("core: app_base_url is required")
	}
	parsed, err := url.Parse(strings.TrimSpace(c.AppBaseURL))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("core: app_base_url is invalid: %q", c.AppBaseURL)
	}
	if c.DefaultTimeZone != "" {
		if _, err := time.LoadLocation(c.DefaultTimeZone); err != nil {
			return fmt.Errorf("core: default_timezone is invalid: %w", err)
		}
	}
	if c.VendorTimeout < 0 || c.RefreshLockTTL < 0 || c.RefreshLeadWindow < 0 {
		return fmt.Errorf("core: durations must not be negative")
	}
	if c.ScheduledConcurrency < 0 {
		return fmt.Errorf("core: scheduled_concurrency must not be negative")
	}
	return nil
}

// OAuthRedirectURL is the callback registered with OAuth vendors for app.
func (c Config) OAuthRedirectURL(appName string) string {
	return strings.TrimRight(strings.TrimSpace(c.AppBaseURL), "/") + "/api/apps/oauth/" + strings.TrimSpace(appName) + "/redirect"
}

// AdminAppURL is where OAuth redirects land the admin after completion.
func (c Config) AdminAppURL(appID string) string {
	base := strings.TrimRight(strings.TrimSpace(c.AppBaseURL), "/")
	path := strings.TrimSpace(c.AdminAppsPath)
	if path == "" {
		path = DefaultAdminAppsPath
	}
	if appID = strings.TrimSpace(appID); appID != "" {
		return base + path + "/" + url.PathEscape(appID)
	}
	return base + path
}
