package outlook

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-apps/core"
)

func (a *App) appData(app core.ConnectedAppData) AppData {
	var data AppData
	// Missing data selects the default calendar.
	_ = app.DecodeData(&data)
	return data
}

func (a *App) GetBusyTimes(ctx context.Context, app core.ConnectedAppData, start, end time.Time) ([]core.CalendarBusyTime, error) {
	return core.Guard(ctx, a.boundary(app, "get_busy_times", keyBusyTimesFailed), func(ctx context.Context) ([]core.CalendarBusyTime, error) {
		graph, err := a.graph(ctx, app)
		if err != nil {
			return nil, err
		}
		events, err := graph.calendarView(ctx, a.appData(app).CalendarID, start.UTC(), end.UTC())
		if err != nil {
			return nil, err
		}
		out := make([]core.CalendarBusyTime, 0, len(events))
		for _, event := range events {
			if event.IsCancelled || strings.EqualFold(event.ShowAs, "free") {
				continue
			}
			if event.Start == nil || event.End == nil {
				continue
			}
			startAt, err := event.Start.instant()
			if err != nil {
				return nil, fmt.Errorf("outlook: event %s start: %w", event.ID, err)
			}
			endAt, err := event.End.instant()
			if err != nil {
				return nil, fmt.Errorf("outlook: event %s end: %w", event.ID, err)
			}
			out = append(out, core.CalendarBusyTime{
				StartAt: startAt,
				EndAt:   endAt,
				UID:     event.ID,
				Title:   event.Subject,
			})
		}
		return out, nil
	})
}

// CreateEvent writes the event under its uid. A retried create patches the
// event the first attempt left behind.
func (a *App) CreateEvent(ctx context.Context, app core.ConnectedAppData, event core.CalendarEvent) (core.CalendarEventResult, error) {
	return core.Guard(ctx, a.boundary(app, "create_event", keyCreateFailed), func(ctx context.Context) (core.CalendarEventResult, error) {
		return a.upsertEvent(ctx, app, event)
	})
}

// UpdateEvent patches the event carrying uid, creating it when a previous
// create never reached the vendor.
func (a *App) UpdateEvent(ctx context.Context, app core.ConnectedAppData, uid string, event core.CalendarEvent) (core.CalendarEventResult, error) {
	return core.Guard(ctx, a.boundary(app, "update_event", keyUpdateFailed), func(ctx context.Context) (core.CalendarEventResult, error) {
		event.UID = uid
		return a.upsertEvent(ctx, app, event)
	})
}

func (a *App) upsertEvent(ctx context.Context, app core.ConnectedAppData, event core.CalendarEvent) (core.CalendarEventResult, error) {
	payload, err := toGraphEvent(event)
	if err != nil {
		return core.CalendarEventResult{}, err
	}
	graph, err := a.graph(ctx, app)
	if err != nil {
		return core.CalendarEventResult{}, err
	}
	ids, err := graph.eventsByUID(ctx, event.UID)
	if err != nil {
		return core.CalendarEventResult{}, err
	}
	if len(ids) == 0 {
		if _, err := graph.createEvent(ctx, a.appData(app).CalendarID, payload); err != nil {
			return core.CalendarEventResult{}, err
		}
		return core.CalendarEventResult{UID: event.UID}, nil
	}
	if err := graph.patchEvent(ctx, ids[0], payload); err != nil {
		return core.CalendarEventResult{}, err
	}
	return core.CalendarEventResult{UID: event.UID}, nil
}

// DeleteEvent removes every vendor event carrying uid.
func (a *App) DeleteEvent(ctx context.Context, app core.ConnectedAppData, uid string) error {
	return core.GuardErr(ctx, a.boundary(app, "delete_event", keyDeleteFailed), func(ctx context.Context) error {
		graph, err := a.graph(ctx, app)
		if err != nil {
			return err
		}
		ids, err := graph.eventsByUID(ctx, uid)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := graph.deleteEvent(ctx, id); err != nil {
				return err
			}
		}
		return nil
	})
}

func toGraphEvent(event core.CalendarEvent) (graphEvent, error) {
	if err := event.Validate(); err != nil {
		return graphEvent{}, err
	}
	loc, err := event.ZoneLocation()
	if err != nil {
		return graphEvent{}, err
	}
	body := &itemBody{ContentType: "text", Content: event.Description.PlainText}
	if event.Description.HTML != "" {
		body = &itemBody{ContentType: "html", Content: event.Description.HTML}
	}
	out := graphEvent{
		Subject: event.Title,
		Body:    body,
		ShowAs:  "busy",
		Start:   &dateTimeZone{DateTime: event.StartTime.In(loc).Format(graphDateTimeLayout), TimeZone: loc.String()},
		End:     &dateTimeZone{DateTime: event.EndTime().In(loc).Format(graphDateTimeLayout), TimeZone: loc.String()},
		ExtendedProperties: []extendedProperty{
			{ID: uidPropertyID, Value: event.UID},
		},
	}
	if event.Location != "" {
		out.Location = &location{DisplayName: event.Location}
	}
	for _, attendee := range event.Attendees {
		if attendee.Email == "" {
			continue
		}
		out.Attendees = append(out.Attendees, graphAttendee{
			EmailAddress: emailAddress{Address: attendee.Email, Name: attendee.Name},
			Type:         attendeeType(attendee.Type),
		})
	}
	return out, nil
}

func attendeeType(kind core.AttendeeType) string {
	switch kind {
	case core.AttendeeTypeOptional:
		return "optional"
	case core.AttendeeTypeResource:
		return "resource"
	default:
		return "required"
	}
}
