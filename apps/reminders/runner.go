package reminders

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-apps/core"
	"github.com/goliatone/go-apps/render"
)

// OnTime evaluates every reminder rule of app against tick and sends one
// notification per matched confirmed appointment. Failures of a single
// dispatch do not stop its siblings; they are combined in the returned
// error.
func (a *App) OnTime(ctx context.Context, app core.ConnectedAppData, tick time.Time) error {
	return core.GuardErr(ctx, a.boundary(app, "on_time", keyDispatchFailed), func(ctx context.Context) error {
		return a.run(ctx, app, tick)
	})
}

type dispatch struct {
	rule        core.Reminder
	template    core.Template
	appointment core.Appointment
}

func (a *App) run(ctx context.Context, app core.ConnectedAppData, tick time.Time) error {
	store, err := a.store()
	if err != nil {
		return err
	}
	if a.props.Services.Events == nil || a.props.Services.Notifications == nil || a.props.Services.Templates == nil {
		return core.ConfigError(keyDispatchFailed, map[string]any{"reason": "services"})
	}
	rules, err := listAll(ctx, store, app.ID)
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		return nil
	}

	loc := a.location(ctx)
	general := a.general(ctx)

	var errs error
	jobs := make([]dispatch, 0)
	for _, rule := range rules {
		window, ok := MatchWindow(rule, tick, loc)
		if !ok {
			continue
		}
		appointments, err := a.appointments(ctx, window)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("reminder %s: %w", rule.ID, err))
			continue
		}
		if len(appointments) == 0 {
			continue
		}
		template, err := a.props.Services.Templates.GetTemplate(ctx, rule.TemplateID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("reminder %s: template %s: %w", rule.ID, rule.TemplateID, err))
			continue
		}
		if template == nil {
			core.LogInfo(ctx, a.props.Log(), "reminder template missing, skipping", map[string]any{
				"reminder_id": rule.ID,
				"template_id": rule.TemplateID,
			})
			continue
		}
		for _, appointment := range appointments {
			jobs = append(jobs, dispatch{rule: rule, template: *template, appointment: appointment})
		}
	}
	if len(jobs) == 0 {
		return errs
	}

	var (
		mu   sync.Mutex
		sent int
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(a.settings.Concurrency)
	for _, job := range jobs {
		group.Go(func() error {
			err := a.send(groupCtx, job, loc, general)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				core.LogError(groupCtx, a.props.Log(), "reminder dispatch failed", map[string]any{
					"reminder_id":    job.rule.ID,
					"appointment_id": job.appointment.ID,
					"error":          err.Error(),
				})
				errs = multierr.Append(errs, fmt.Errorf("reminder %s appointment %s: %w", job.rule.ID, job.appointment.ID, err))
				return nil
			}
			sent++
			return nil
		})
	}
	_ = group.Wait()

	core.LogInfo(ctx, a.props.Log(), "reminders dispatched", map[string]any{
		"app_id": app.ID,
		"tick":   tick.UTC().Format(time.RFC3339),
		"sent":   sent,
		"failed": len(multierr.Errors(errs)),
	})
	return errs
}

func listAll(ctx context.Context, store core.ReminderStore, appID string) ([]core.Reminder, error) {
	out := make([]core.Reminder, 0)
	for offset := 0; ; {
		page, err := store.List(ctx, appID, core.ReminderQuery{Limit: appointmentPage, Offset: offset})
		if err != nil {
			return nil, err
		}
		out = append(out, page.Items...)
		offset += len(page.Items)
		if len(page.Items) == 0 || offset >= page.Total {
			return out, nil
		}
	}
}

func (a *App) appointments(ctx context.Context, window core.DateRange) ([]core.Appointment, error) {
	out := make([]core.Appointment, 0)
	for offset := 0; ; {
		page, err := a.props.Services.Events.GetAppointments(ctx, core.AppointmentFilter{
			Statuses: []core.AppointmentStatus{core.AppointmentStatusConfirmed},
			Range:    &window,
			Limit:    appointmentPage,
			Offset:   offset,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, page.Items...)
		offset += len(page.Items)
		if len(page.Items) == 0 || offset >= page.Total {
			return out, nil
		}
	}
}

// location is the booking zone, then the host default, then UTC.
func (a *App) location(ctx context.Context) *time.Location {
	if a.props.Services.Configuration != nil {
		cfg, err := core.GetConfigurations(ctx, a.props.Services.Configuration, core.ConfigurationBooking)
		if err == nil && cfg.Booking != nil && strings.TrimSpace(cfg.Booking.TimeZone) != "" {
			return cfg.Booking.Location()
		}
	}
	if zone := strings.TrimSpace(a.props.Config.DefaultTimeZone); zone != "" {
		if loc, err := time.LoadLocation(zone); err == nil {
			return loc
		}
	}
	return time.UTC
}

func (a *App) general(ctx context.Context) core.GeneralConfiguration {
	if a.props.Services.Configuration == nil {
		return core.GeneralConfiguration{}
	}
	cfg, err := core.GetConfigurations(ctx, a.props.Services.Configuration, core.ConfigurationGeneral)
	if err != nil || cfg.General == nil {
		return core.GeneralConfiguration{}
	}
	return *cfg.General
}

func (a *App) renderer(channel core.ReminderChannel) core.TemplateRenderer {
	if a.props.Services.Renderer != nil {
		return a.props.Services.Renderer
	}
	if channel == core.ReminderChannelTextMessage {
		return render.Text()
	}
	return render.New()
}

func (a *App) send(ctx context.Context, job dispatch, loc *time.Location, general core.GeneralConfiguration) error {
	args := templateArgs(job, loc, general)
	renderer := a.renderer(job.rule.Channel)
	body, err := renderer.Render(job.template.Value, args)
	if err != nil {
		return err
	}
	handledBy := core.Localized(keyHandledBy, map[string]any{"name": job.rule.Name})
	customer := job.appointment.Customer

	switch job.rule.Channel {
	case core.ReminderChannelEmail:
		if strings.TrimSpace(customer.Email) == "" {
			return core.ConfigError(keyDispatchFailed, map[string]any{"reason": "missing_email"})
		}
		subject, err := renderer.Render(job.rule.Subject, args)
		if err != nil {
			return err
		}
		return a.props.Services.Notifications.SendEmail(ctx, core.EmailNotification{
			Email: core.Email{
				To:      []string{customer.Email},
				Subject: subject,
				HTML:    body,
			},
			ParticipantType: core.ParticipantTypeCustomer,
			HandledBy:       handledBy,
			AppointmentID:   job.appointment.ID,
			CustomerID:      customer.ID,
		})
	case core.ReminderChannelTextMessage:
		if strings.TrimSpace(customer.Phone) == "" {
			return core.ConfigError(keyDispatchFailed, map[string]any{"reason": "missing_phone"})
		}
		return a.props.Services.Notifications.SendTextMessage(ctx, core.TextMessageNotification{
			Phone:           customer.Phone,
			Body:            body,
			ParticipantType: core.ParticipantTypeCustomer,
			HandledBy:       handledBy,
			AppointmentID:   job.appointment.ID,
			CustomerID:      customer.ID,
			Data: map[string]any{
				"reminderId": job.rule.ID,
			},
		})
	}
	return core.ConfigError(keyInvalidReminder, map[string]any{"field": "channel"})
}

func templateArgs(job dispatch, loc *time.Location, general core.GeneralConfiguration) map[string]any {
	appointment := job.appointment
	zone := loc
	if appointment.TimeZone != "" {
		if parsed, err := time.LoadLocation(appointment.TimeZone); err == nil {
			zone = parsed
		}
	}
	at := appointment.DateTime.In(zone)
	return map[string]any{
		"appointment": map[string]any{
			"id":       appointment.ID,
			"dateTime": at,
			"date":     at.Format("2006-01-02"),
			"time":     at.Format("15:04"),
			"duration": int(appointment.TotalDuration / time.Minute),
			"option":   appointment.OptionName,
			"fields":   appointment.Fields,
			"timeZone": zone.String(),
		},
		"customer": map[string]any{
			"id":    appointment.Customer.ID,
			"name":  appointment.Customer.Name,
			"email": appointment.Customer.Email,
			"phone": appointment.Customer.Phone,
		},
		"config": map[string]any{
			"name":    general.Name,
			"title":   general.Title,
			"url":     general.URL,
			"email":   general.Email,
			"phone":   general.Phone,
			"address": general.Address,
		},
		"reminder": map[string]any{
			"id":   job.rule.ID,
			"name": job.rule.Name,
		},
	}
}
