package caldav

import (
	"context"
	"net/http"
	"sort"
	"time"

	gocaldav "github.com/emersion/go-webdav/caldav"

	"github.com/goliatone/go-apps/core"
	"github.com/goliatone/go-apps/ical"
	"github.com/goliatone/go-apps/transport"
)

func (a *App) GetBusyTimes(ctx context.Context, app core.ConnectedAppData, start, end time.Time) ([]core.CalendarBusyTime, error) {
	return core.Guard(ctx, a.boundary(app, "get_busy_times", keyBusyTimesFailed), func(ctx context.Context) ([]core.CalendarBusyTime, error) {
		cs, err := a.collection(ctx, app)
		if err != nil {
			return nil, err
		}
		ctx, cancel := cs.client.withTimeout(ctx)
		defer cancel()

		start, end = start.UTC(), end.UTC()
		loc := a.location(ctx, cs.client, cs.data)
		events, err := a.query(ctx, cs.dav, cs.path, start, end, loc)
		if err != nil {
			return nil, loginError(err)
		}

		seen := map[string]struct{}{}
		out := make([]core.CalendarBusyTime, 0, len(events))
		for _, event := range events {
			if !event.Busy() || !event.Overlaps(start, end) {
				continue
			}
			uid := event.UID
			if event.RecurrenceID != "" {
				uid += "#" + event.RecurrenceID
			}
			key := uid + "|" + event.Start.Format(time.RFC3339)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, core.CalendarBusyTime{
				StartAt: event.Start,
				EndAt:   event.End,
				UID:     uid,
				Title:   event.Summary,
			})
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
		return out, nil
	})
}

// location resolves the zone applied to floating times. It is read once per
// request from the settings override, the calendar-timezone property or the
// host default.
func (a *App) location(ctx context.Context, client *davClient, data AppData) *time.Location {
	if data.TimeZone != "" {
		if loc, err := ical.LoadLocation(data.TimeZone); err == nil {
			return loc
		}
	}
	zone, err := client.calendarTimezone(ctx, data.CalendarURL)
	if err != nil {
		core.LogInfo(ctx, a.props.Log(), "caldav calendar-timezone lookup failed", map[string]any{
			"app_id": a.props.AppID,
			"error":  err.Error(),
		})
	}
	if zone != "" {
		if loc, err := ical.LoadLocation(zone); err == nil {
			return loc
		}
	}
	if a.props.Config.DefaultTimeZone != "" {
		if loc, err := ical.LoadLocation(a.props.Config.DefaultTimeZone); err == nil {
			return loc
		}
	}
	return time.UTC
}

// query runs a calendar-query REPORT. Servers that truncate large result
// sets answer 507, in which case the window is split in half until it
// reaches minQueryWindow.
func (a *App) query(ctx context.Context, dav *gocaldav.Client, collection string, start, end time.Time, loc *time.Location) ([]ical.Event, error) {
	objects, err := dav.QueryCalendar(ctx, collection, &gocaldav.CalendarQuery{
		CompRequest: gocaldav.CalendarCompRequest{Name: "VCALENDAR", AllProps: true, AllComps: true},
		CompFilter: gocaldav.CompFilter{
			Name:  "VCALENDAR",
			Comps: []gocaldav.CompFilter{{Name: "VEVENT", Start: start, End: end}},
		},
	})
	if err != nil {
		if transport.IsStatus(err, http.StatusInsufficientStorage) && end.Sub(start) > minQueryWindow {
			mid := start.Add(end.Sub(start) / 2).Truncate(time.Minute)
			left, err := a.query(ctx, dav, collection, start, mid, loc)
			if err != nil {
				return nil, err
			}
			right, err := a.query(ctx, dav, collection, mid, end, loc)
			if err != nil {
				return nil, err
			}
			return append(left, right...), nil
		}
		return nil, err
	}

	out := make([]ical.Event, 0, len(objects))
	for _, object := range objects {
		if object.Data == nil {
			continue
		}
		cal, err := ical.Decode(object.Data, ical.ParseOptions{Location: loc})
		if err != nil {
			core.LogError(ctx, a.props.Log(), "caldav skipped unreadable calendar object", map[string]any{
				"app_id": a.props.AppID,
				"href":   object.Path,
				"error":  err.Error(),
			})
			continue
		}
		// Recurring masters are expanded locally.
		instances, err := cal.Expand(start, end)
		if err != nil {
			core.LogError(ctx, a.props.Log(), "caldav skipped unexpandable calendar object", map[string]any{
				"app_id": a.props.AppID,
				"href":   object.Path,
				"error":  err.Error(),
			})
			continue
		}
		out = append(out, instances...)
	}
	return out, nil
}

func (a *App) CreateEvent(ctx context.Context, app core.ConnectedAppData, event core.CalendarEvent) (core.CalendarEventResult, error) {
	return core.Guard(ctx, a.boundary(app, "create_event", keyCreateFailed), func(ctx context.Context) (core.CalendarEventResult, error) {
		return a.putEvent(ctx, app, event)
	})
}

// UpdateEvent rewrites {uid}.ics. The PUT is idempotent so an update for a
// missing event recreates it.
func (a *App) UpdateEvent(ctx context.Context, app core.ConnectedAppData, uid string, event core.CalendarEvent) (core.CalendarEventResult, error) {
	return core.Guard(ctx, a.boundary(app, "update_event", keyUpdateFailed), func(ctx context.Context) (core.CalendarEventResult, error) {
		event.UID = uid
		return a.putEvent(ctx, app, event)
	})
}

type calendarSession struct {
	client *davClient
	dav    *gocaldav.Client
	data   AppData
	path   string
}

// collection opens the configured calendar collection.
func (a *App) collection(ctx context.Context, app core.ConnectedAppData) (calendarSession, error) {
	client, data, err := a.session(ctx, app)
	if err != nil {
		return calendarSession{}, err
	}
	if data.CalendarURL == "" {
		return calendarSession{}, core.ConfigError(keyCalendarNotFound, nil)
	}
	collection, err := calendarPath(data.CalendarURL)
	if err != nil {
		return calendarSession{}, err
	}
	dav, err := client.open(data.CalendarURL)
	if err != nil {
		return calendarSession{}, err
	}
	return calendarSession{client: client, dav: dav, data: data, path: collection}, nil
}

func (a *App) putEvent(ctx context.Context, app core.ConnectedAppData, event core.CalendarEvent) (core.CalendarEventResult, error) {
	cs, err := a.collection(ctx, app)
	if err != nil {
		return core.CalendarEventResult{}, err
	}
	cal, err := ical.BuildEvent("", event, ical.EncodeOptions{Now: a.props.Clock()})
	if err != nil {
		return core.CalendarEventResult{}, err
	}
	ctx, cancel := cs.client.withTimeout(ctx)
	defer cancel()
	if _, err := cs.dav.PutCalendarObject(ctx, eventPath(cs.path, event.UID), cal); err != nil {
		return core.CalendarEventResult{}, loginError(err)
	}
	return core.CalendarEventResult{UID: event.UID}, nil
}

// DeleteEvent treats a missing resource as already deleted.
func (a *App) DeleteEvent(ctx context.Context, app core.ConnectedAppData, uid string) error {
	return core.GuardErr(ctx, a.boundary(app, "delete_event", keyDeleteFailed), func(ctx context.Context) error {
		cs, err := a.collection(ctx, app)
		if err != nil {
			return err
		}
		ctx, cancel := cs.client.withTimeout(ctx)
		defer cancel()
		if err := cs.dav.RemoveAll(ctx, eventPath(cs.path, uid)); err != nil && !isMissing(err) {
			return loginError(err)
		}
		return nil
	})
}
