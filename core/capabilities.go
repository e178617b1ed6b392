package core

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// App is the minimal contract of an installed adapter instance.
type App interface {
	Name() string
}

// RequestProcessor handles setup and configuration calls from the admin UI.
// The result is either a StatusWithText or an adapter specific payload.
type RequestProcessor interface {
	ProcessRequest(ctx context.Context, app ConnectedAppData, payload json.RawMessage) (any, error)
}

type CalendarBusyTimeProvider interface {
	GetBusyTimes(ctx context.Context, app ConnectedAppData, start, end time.Time) ([]CalendarBusyTime, error)
}

type CalendarWriter interface {
	CreateEvent(ctx context.Context, app ConnectedAppData, event CalendarEvent) (CalendarEventResult, error)
	UpdateEvent(ctx context.Context, app ConnectedAppData, uid string, event CalendarEvent) (CalendarEventResult, error)
	DeleteEvent(ctx context.Context, app ConnectedAppData, uid string) error
}

type MailSender interface {
	SendMail(ctx context.Context, app ConnectedAppData, email Email) (SendMailResult, error)
}

// TextMessageResponder returns a nil result when no action was taken.
type TextMessageResponder interface {
	Respond(ctx context.Context, app ConnectedAppData, reply TextMessageReply) (*RespondResult, error)
}

// Scheduled is invoked once per tick. Implementations must be a no-op when
// nothing matches.
type Scheduled interface {
	OnTime(ctx context.Context, app ConnectedAppData, tick time.Time) error
}

// AssetsStorage is binary blob CRUD keyed by filename. Deleting an absent file
// is not an error.
type AssetsStorage interface {
	GetFile(ctx context.Context, app ConnectedAppData, filename string) (io.ReadCloser, error)
	SaveFile(ctx context.Context, app ConnectedAppData, filename string, content io.Reader) error
	DeleteFile(ctx context.Context, app ConnectedAppData, filename string) error
	DeleteFiles(ctx context.Context, app ConnectedAppData, filenames []string) error
	CheckExists(ctx context.Context, app ConnectedAppData, filename string) (bool, error)
}

type StaticRequest struct {
	Method  string
	Slug    []string
	Query   url.Values
	Headers http.Header
	Body    []byte
}

func (r StaticRequest) Path() string {
	return strings.Join(r.Slug, "/")
}

type StaticResponse struct {
	StatusCode int
	Redirect   string
	Body       any
}

// StaticRequestProcessor handles requests not bound to a single installed
// app, such as OAuth redirects.
type StaticRequestProcessor interface {
	ProcessStaticRequest(ctx context.Context, req StaticRequest) (StaticResponse, error)
}

// Uninstaller cleans up adapter owned side tables before the app record is
// deleted.
type Uninstaller interface {
	UnInstall(ctx context.Context, app ConnectedAppData) error
}

type Capability uint16

const (
	CapabilityRequestProcessor Capability = 1 << iota
	CapabilityCalendarBusyTime
	CapabilityCalendarWriter
	CapabilityMailSender
	CapabilityTextMessageResponder
	CapabilityScheduled
	CapabilityAssetsStorage
	CapabilityStaticRequest
	CapabilityUninstall
)

var capabilityNames = []struct {
	capability Capability
	name       string
}{
	{CapabilityRequestProcessor, "request-processor"},
	{CapabilityCalendarBusyTime, "calendar-read"},
	{CapabilityCalendarWriter, "calendar-write"},
	{CapabilityMailSender, "mail-send"},
	{CapabilityTextMessageResponder, "text-message-respond"},
	{CapabilityScheduled, "scheduled"},
	{CapabilityAssetsStorage, "assets-storage"},
	{CapabilityStaticRequest, "static-request"},
	{CapabilityUninstall, "uninstall"},
}

func (c Capability) Has(other Capability) bool {
	return other != 0 && c&other == other
}

func (c Capability) Names() []string {
	out := make([]string, 0, len(capabilityNames))
	for _, entry := range capabilityNames {
		if c.Has(entry.capability) {
			out = append(out, entry.name)
		}
	}
	return out
}

func (c Capability) String() string {
	names := c.Names()
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

// ParseCapability resolves a capability by its wire name.
func ParseCapability(name string) (Capability, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, entry := range capabilityNames {
		if entry.name == name {
			return entry.capability, true
		}
	}
	return 0, false
}

// DetectCapabilities inspects which capability interfaces app implements.
func DetectCapabilities(app App) Capability {
	if app == nil {
		return 0
	}
	var caps Capability
	if _, ok := app.(RequestProcessor); ok {
		caps |= CapabilityRequestProcessor
	}
	if _, ok := app.(CalendarBusyTimeProvider); ok {
		caps |= CapabilityCalendarBusyTime
	}
	if _, ok := app.(CalendarWriter); ok {
		caps |= CapabilityCalendarWriter
	}
	if _, ok := app.(MailSender); ok {
		caps |= CapabilityMailSender
	}
	if _, ok := app.(TextMessageResponder); ok {
		caps |= CapabilityTextMessageResponder
	}
	if _, ok := app.(Scheduled); ok {
		caps |= CapabilityScheduled
	}
	if _, ok := app.(AssetsStorage); ok {
		caps |= CapabilityAssetsStorage
	}
	if _, ok := app.(StaticRequestProcessor); ok {
		caps |= CapabilityStaticRequest
	}
	if _, ok := app.(Uninstaller); ok {
		caps |= CapabilityUninstall
	}
	return caps
}
