package core

import (
	"context"
	"fmt"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type ConfigurationKey string

const (
	ConfigurationGeneral     ConfigurationKey = "general"
	ConfigurationBooking     ConfigurationKey = "booking"
	ConfigurationSocial      ConfigurationKey = "social"
	ConfigurationDefaultApps ConfigurationKey = "defaultApps"
)

type GeneralConfiguration struct {
	Name     string `json:"name"`
	Title    string `json:"title,omitempty"`
	URL      string `json:"url"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
	Address  string `json:"address,omitempty"`
	Language string `json:"language,omitempty"`
}

type BookingConfiguration struct {
	TimeZone         string `json:"timeZone"`
	AutoConfirm      bool   `json:"autoConfirm,omitempty"`
	MaxWeeksInFuture int    `json:"maxWeeksInFuture,omitempty"`
}

// Location resolves the booking zone. An empty or unknown zone is UTC.
func (c BookingConfiguration) Location() *time.Location {
	if c.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type SocialLink struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type SocialConfiguration struct {
	Links []SocialLink `json:"links,omitempty"`
}

type DefaultAppsConfiguration struct {
	EmailAppID       string `json:"emailAppId,omitempty"`
	TextMessageAppID string `json:"textMessageAppId,omitempty"`
	AssetsAppID      string `json:"assetsAppId,omitempty"`
}

type ConfigurationService interface {
	GetGeneral(ctx context.Context) (GeneralConfiguration, error)
	GetBooking(ctx context.Context) (BookingConfiguration, error)
	GetSocial(ctx context.Context) (SocialConfiguration, error)
	GetDefaultApps(ctx context.Context) (DefaultAppsConfiguration, error)
}

// Configurations holds the sections requested through GetConfigurations.
// Sections that were not requested stay nil.
type Configurations struct {
	General     *GeneralConfiguration
	Booking     *BookingConfiguration
	Social      *SocialConfiguration
	DefaultApps *DefaultAppsConfiguration
}

func GetConfigurations(ctx context.Context, svc ConfigurationService, keys ...ConfigurationKey) (Configurations, error) {
	out := Configurations{}
	if svc == nil {
		return out, fmt.Errorf("core: configuration service is not configured")
	}
	for _, key := range keys {
		switch key {
		case ConfigurationGeneral:
			section, err := svc.GetGeneral(ctx)
			if err != nil {
				return out, err
			}
			out.General = &section
		case ConfigurationBooking:
			section, err := svc.GetBooking(ctx)
			if err != nil {
				return out, err
			}
			out.Booking = &section
		case ConfigurationSocial:
			section, err := svc.GetSocial(ctx)
			if err != nil {
				return out, err
			}
			out.Social = &section
		case ConfigurationDefaultApps:
			section, err := svc.GetDefaultApps(ctx)
			if err != nil {
				return out, err
			}
			out.DefaultApps = &section
		default:
			return out, fmt.Errorf("core: unknown configuration key %q", key)
		}
	}
	return out, nil
}

// ConnectedAppsService resolves installed apps. GetApp returns an error
// wrapping ErrAppNotFound when the id is unknown.
type ConnectedAppsService interface {
	GetApp(ctx context.Context, appID string) (ConnectedAppData, error)
	UpdateApp(ctx context.Context, appID string, update AppUpdate) error
}

// TemplatesService returns a nil template and nil error when id is unknown.
type TemplatesService interface {
	GetTemplate(ctx context.Context, templateID string) (*Template, error)
}

type EmailNotification struct {
	Email           Email
	ParticipantType ParticipantType
	HandledBy       LocalizedText
	AppointmentID   string
	CustomerID      string
}

type TextMessageNotification struct {
	Phone           string
	Body            string
	ParticipantType ParticipantType
	HandledBy       LocalizedText
	AppointmentID   string
	CustomerID      string
	Data            map[string]any
}

type NotificationService interface {
	SendEmail(ctx context.Context, notification EmailNotification) error
	SendTextMessage(ctx context.Context, notification TextMessageNotification) error
}

type EventsService interface {
	GetAppointments(ctx context.Context, filter AppointmentFilter) (AppointmentList, error)
}

type TemplateRenderer interface {
	Render(template string, args map[string]any) (string, error)
}

type ReminderQuery struct {
	Search   string
	Channels []ReminderChannel
	Types    []ReminderType
	Limit    int
	Offset   int
}

type ReminderList struct {
	Items []Reminder
	Total int
}

// ReminderStore persists reminder rules keyed by {appId, _id} with a unique
// name per app.
type ReminderStore interface {
	List(ctx context.Context, appID string, query ReminderQuery) (ReminderList, error)
	Get(ctx context.Context, appID string, id string) (Reminder, error)
	Create(ctx context.Context, reminder Reminder) (Reminder, error)
	Update(ctx context.Context, reminder Reminder) (Reminder, error)
	Delete(ctx context.Context, appID string, ids []string) (int, error)
	DeleteAll(ctx context.Context, appID string) error
	NameExists(ctx context.Context, appID string, name string, excludeID string) (bool, error)
}

// Storage is the named collection handle adapters receive.
type Storage interface {
	Reminders() ReminderStore
}

type ConnectedAppQuery struct {
	Names    []string
	Statuses []AppStatus
}

// ConnectedAppStore is the host persistence of installed apps. Update must
// perform an atomic partial merge.
type ConnectedAppStore interface {
	Create(ctx context.Context, app ConnectedAppData) (ConnectedAppData, error)
	Get(ctx context.Context, appID string) (ConnectedAppData, error)
	List(ctx context.Context, query ConnectedAppQuery) ([]ConnectedAppData, error)
	Update(ctx context.Context, appID string, update AppUpdate) (ConnectedAppData, error)
	Delete(ctx context.Context, appID string) error
}
