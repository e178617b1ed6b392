package apps

import (
	"fmt"

	"github.com/goliatone/go-apps/apps/autoreply"
	"github.com/goliatone/go-apps/apps/caldav"
	"github.com/goliatone/go-apps/apps/filesystem"
	"github.com/goliatone/go-apps/apps/googlecalendar"
	"github.com/goliatone/go-apps/apps/ics"
	"github.com/goliatone/go-apps/apps/outlook"
	"github.com/goliatone/go-apps/apps/reminders"
	"github.com/goliatone/go-apps/apps/s3"
	"github.com/goliatone/go-apps/apps/smtp"
	"github.com/goliatone/go-apps/core"
	"github.com/goliatone/go-apps/security"
	"github.com/goliatone/go-apps/transport"
)

func OutlookApp(settings outlook.Settings) core.AppFactory {
	return outlook.New(settings)
}

func GoogleCalendarApp(settings googlecalendar.Settings) core.AppFactory {
	return googlecalendar.New(settings)
}

func CalDAVApp(settings caldav.Settings) core.AppFactory {
	return caldav.New(settings)
}

func ICSApp(settings ics.Settings) core.AppFactory {
	return ics.New(settings)
}

func SMTPApp(settings smtp.Settings) core.AppFactory {
	return smtp.New(settings)
}

func FileSystemApp(settings filesystem.Settings) core.AppFactory {
	return filesystem.New(settings)
}

func S3App(settings s3.Settings) core.AppFactory {
	return s3.New(settings)
}

func RemindersApp(settings reminders.Settings) core.AppFactory {
	return reminders.New(settings)
}

func AutoReplyApp() core.AppFactory {
	return autoreply.New()
}

// BuiltinSettings configures the bundled adapters. A nil pointer leaves the
// adapter out of the registry. Codec and Throttle, when set, are shared by
// adapters that have none of their own.
type BuiltinSettings struct {
	Codec    *security.TokenCodec
	Throttle transport.Throttle

	Outlook        *outlook.Settings
	GoogleCalendar *googlecalendar.Settings
	CalDAV         *caldav.Settings
	ICS            *ics.Settings
	SMTP           *smtp.Settings
	FileSystem     *filesystem.Settings
	S3             *s3.Settings
	Reminders      *reminders.Settings
	AutoReply      bool
}

// AllBuiltins enables every bundled adapter with default settings. OAuth
// adapters still need client credentials before their login flow works.
func AllBuiltins(codec *security.TokenCodec) BuiltinSettings {
	return BuiltinSettings{
		Codec:          codec,
		Outlook:        &outlook.Settings{},
		GoogleCalendar: &googlecalendar.Settings{},
		CalDAV:         &caldav.Settings{},
		ICS:            &ics.Settings{},
		SMTP:           &smtp.Settings{},
		FileSystem:     &filesystem.Settings{},
		S3:             &s3.Settings{},
		Reminders:      &reminders.Settings{},
		AutoReply:      true,
	}
}

// Factories returns the enabled adapter factories in field order.
func (b BuiltinSettings) Factories() []core.AppFactory {
	out := make([]core.AppFactory, 0, 9)
	if b.Outlook != nil {
		s := *b.Outlook
		if s.Codec == nil {
			s.Codec = b.Codec
		}
		if s.Throttle == nil {
			s.Throttle = b.Throttle
		}
		out = append(out, OutlookApp(s))
	}
	if b.GoogleCalendar != nil {
		s := *b.GoogleCalendar
		if s.Codec == nil {
			s.Codec = b.Codec
		}
		out = append(out, GoogleCalendarApp(s))
	}
	if b.CalDAV != nil {
		s := *b.CalDAV
		if s.Codec == nil {
			s.Codec = b.Codec
		}
		out = append(out, CalDAVApp(s))
	}
	if b.ICS != nil {
		s := *b.ICS
		if s.Throttle == nil {
			s.Throttle = b.Throttle
		}
		out = append(out, ICSApp(s))
	}
	if b.SMTP != nil {
		s := *b.SMTP
		if s.Codec == nil {
			s.Codec = b.Codec
		}
		out = append(out, SMTPApp(s))
	}
	if b.FileSystem != nil {
		out = append(out, FileSystemApp(*b.FileSystem))
	}
	if b.S3 != nil {
		s := *b.S3
		if s.Codec == nil {
			s.Codec = b.Codec
		}
		out = append(out, S3App(s))
	}
	if b.Reminders != nil {
		out = append(out, RemindersApp(*b.Reminders))
	}
	if b.AutoReply {
		out = append(out, AutoReplyApp())
	}
	return out
}

// RegisterBuiltins registers the enabled adapters on registry.
func RegisterBuiltins(registry core.Registry, settings BuiltinSettings) error {
	if registry == nil {
		return fmt.Errorf("apps: registry is required")
	}
	for _, factory := range settings.Factories() {
		if err := registry.Register(factory); err != nil {
			return err
		}
	}
	return nil
}
