package googlecalendar

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/goliatone/go-apps/core"
)

const eventsPageSize = 250

func (a *App) appData(app core.ConnectedAppData) AppData {
	var data AppData
	_ = app.DecodeData(&data)
	return data
}

func (a *App) GetBusyTimes(ctx context.Context, app core.ConnectedAppData, start, end time.Time) ([]core.CalendarBusyTime, error) {
	return core.Guard(ctx, a.boundary(app, "get_busy_times", keyBusyTimesFailed), func(ctx context.Context) ([]core.CalendarBusyTime, error) {
		ctx, cancel := a.vendorContext(ctx)
		defer cancel()
		srv, err := a.session(ctx, app)
		if err != nil {
			return nil, err
		}
		out := make([]core.CalendarBusyTime, 0)
		call := srv.Events.List(a.appData(app).calendarID()).
			TimeMin(start.UTC().Format(time.RFC3339)).
			TimeMax(end.UTC().Format(time.RFC3339)).
			SingleEvents(true).
			ShowDeleted(false).
			MaxResults(eventsPageSize).
			Context(ctx)
		err = call.Pages(ctx, func(page *calendar.Events) error {
			for _, item := range page.Items {
				if item == nil || item.Status == "cancelled" || item.Transparency == "transparent" {
					continue
				}
				startAt, err := eventTime(item.Start, page.TimeZone)
				if err != nil {
					return fmt.Errorf("googlecalendar: event %s start: %w", item.Id, err)
				}
				endAt, err := eventTime(item.End, page.TimeZone)
				if err != nil {
					return fmt.Errorf("googlecalendar: event %s end: %w", item.Id, err)
				}
				out = append(out, core.CalendarBusyTime{
					StartAt: startAt,
					EndAt:   endAt,
					UID:     item.Id,
					Title:   item.Summary,
				})
			}
			return nil
		})
		if err != nil {
			return nil, classify(err, keyBusyTimesFailed)
		}
		return out, nil
	})
}

// eventTime resolves a timed or all-day boundary to UTC. All-day dates are
// read in the event zone, then the calendar zone.
func eventTime(value *calendar.EventDateTime, calendarZone string) (time.Time, error) {
	if value == nil {
		return time.Time{}, fmt.Errorf("missing time")
	}
	if value.DateTime != "" {
		t, err := time.Parse(time.RFC3339, value.DateTime)
		if err != nil {
			return time.Time{}, err
		}
		return t.UTC(), nil
	}
	zone := value.TimeZone
	if zone == "" {
		zone = calendarZone
	}
	loc := time.UTC
	if zone != "" {
		if resolved, err := time.LoadLocation(zone); err == nil {
			loc = resolved
		}
	}
	t, err := time.ParseInLocation("2006-01-02", value.Date, loc)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// CreateEvent writes the event under its uid. A retried create updates the
// event the first attempt left behind.
func (a *App) CreateEvent(ctx context.Context, app core.ConnectedAppData, event core.CalendarEvent) (core.CalendarEventResult, error) {
	return core.Guard(ctx, a.boundary(app, "create_event", keyCreateFailed), func(ctx context.Context) (core.CalendarEventResult, error) {
		return a.upsertEvent(ctx, app, event, keyCreateFailed)
	})
}

func (a *App) UpdateEvent(ctx context.Context, app core.ConnectedAppData, uid string, event core.CalendarEvent) (core.CalendarEventResult, error) {
	return core.Guard(ctx, a.boundary(app, "update_event", keyUpdateFailed), func(ctx context.Context) (core.CalendarEventResult, error) {
		event.UID = uid
		return a.upsertEvent(ctx, app, event, keyUpdateFailed)
	})
}

func (a *App) upsertEvent(ctx context.Context, app core.ConnectedAppData, event core.CalendarEvent, failureKey string) (core.CalendarEventResult, error) {
	payload, err := toGoogleEvent(event)
	if err != nil {
		return core.CalendarEventResult{}, err
	}
	ctx, cancel := a.vendorContext(ctx)
	defer cancel()
	srv, err := a.session(ctx, app)
	if err != nil {
		return core.CalendarEventResult{}, err
	}
	calendarID := a.appData(app).calendarID()
	ids, err := eventsByUID(ctx, srv, calendarID, event.UID)
	if err != nil {
		return core.CalendarEventResult{}, classify(err, failureKey)
	}
	if len(ids) == 0 {
		_, err = srv.Events.Insert(calendarID, payload).Context(ctx).Do()
	} else {
		_, err = srv.Events.Update(calendarID, ids[0], payload).Context(ctx).Do()
	}
	if err != nil {
		return core.CalendarEventResult{}, classify(err, failureKey)
	}
	return core.CalendarEventResult{UID: event.UID}, nil
}

// DeleteEvent removes every vendor event carrying uid.
func (a *App) DeleteEvent(ctx context.Context, app core.ConnectedAppData, uid string) error {
	return core.GuardErr(ctx, a.boundary(app, "delete_event", keyDeleteFailed), func(ctx context.Context) error {
		ctx, cancel := a.vendorContext(ctx)
		defer cancel()
		srv, err := a.session(ctx, app)
		if err != nil {
			return err
		}
		calendarID := a.appData(app).calendarID()
		ids, err := eventsByUID(ctx, srv, calendarID, uid)
		if err != nil {
			return classify(err, keyDeleteFailed)
		}
		for _, id := range ids {
			if err := srv.Events.Delete(calendarID, id).Context(ctx).Do(); err != nil && !isNotFound(err) {
				return classify(err, keyDeleteFailed)
			}
		}
		return nil
	})
}

// eventsByUID lists the live vendor events tagged with uid.
func eventsByUID(ctx context.Context, srv *calendar.Service, calendarID, uid string) ([]string, error) {
	ids := make([]string, 0, 1)
	err := srv.Events.List(calendarID).
		PrivateExtendedProperty(uidProperty+"="+uid).
		ShowDeleted(false).
		MaxResults(eventsPageSize).
		Context(ctx).
		Pages(ctx, func(page *calendar.Events) error {
			for _, item := range page.Items {
				if item != nil && item.Status != "cancelled" {
					ids = append(ids, item.Id)
				}
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func toGoogleEvent(event core.CalendarEvent) (*calendar.Event, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}
	loc, err := event.ZoneLocation()
	if err != nil {
		return nil, err
	}
	description := event.Description.HTML
	if description == "" {
		description = event.Description.PlainText
	}
	out := &calendar.Event{
		Summary:      event.Title,
		Description:  description,
		Location:     event.Location,
		Transparency: "opaque",
		Start: &calendar.EventDateTime{
			DateTime: event.StartTime.In(loc).Format(time.RFC3339),
			TimeZone: loc.String(),
		},
		End: &calendar.EventDateTime{
			DateTime: event.EndTime().In(loc).Format(time.RFC3339),
			TimeZone: loc.String(),
		},
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{uidProperty: event.UID},
		},
	}
	for _, attendee := range event.Attendees {
		if attendee.Email == "" {
			continue
		}
		out.Attendees = append(out.Attendees, &calendar.EventAttendee{
			Email:          attendee.Email,
			DisplayName:    attendee.Name,
			Optional:       attendee.Type == core.AttendeeTypeOptional,
			Resource:       attendee.Type == core.AttendeeTypeResource,
			ResponseStatus: responseStatus(attendee.Status),
		})
	}
	return out, nil
}

func responseStatus(status core.AttendeeStatus) string {
	switch status {
	case core.AttendeeStatusAccepted:
		return "accepted"
	case core.AttendeeStatusDeclined:
		return "declined"
	case core.AttendeeStatusTentative:
		return "tentative"
	default:
		return "needsAction"
	}
}
