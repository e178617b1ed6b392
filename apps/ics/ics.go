// Package ics reads busy times from a published iCalendar feed.
package ics

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-apps/core"
	"github.com/goliatone/go-apps/ical"
	"github.com/goliatone/go-apps/transport"
)

const (
	Name = "ics"

	requestSaveSetting = "save"

	keyConnected       = "ics.statusText.successfully_connected"
	keyInvalidLink     = "ics.statusText.invalid_link"
	keyFeedUnreachable = "ics.statusText.feed_unreachable"
	keyInvalidFeed     = "ics.statusText.invalid_feed"
	keyRequestFailed   = "ics.statusText.error_processing_request"
	keyBusyTimesFailed = "ics.statusText.error_getting_busy_times"
)

type Settings struct {
	HTTPClient *http.Client
	Throttle   transport.Throttle
}

type AppData struct {
	Link string `json:"link"`
}

type App struct {
	props    core.Props
	settings Settings
}

var (
	_ core.RequestProcessor         = (*App)(nil)
	_ core.CalendarBusyTimeProvider = (*App)(nil)
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

func (a *App) ProcessRequest(ctx context.Context, app core.ConnectedAppData, payload json.RawMessage) (any, error) {
	req, err := core.DecodeRequest(payload)
	if err != nil {
		return nil, err
	}
	switch req.Type {
	case "", requestSaveSetting:
		var input AppData
		if err := req.DecodeData(payload, &input); err != nil {
			return nil, err
		}
		return core.Guard(ctx, a.boundary(app, "save", keyRequestFailed), func(ctx context.Context) (core.StatusWithText, error) {
			link, err := normalizeLink(input.Link)
			if err != nil {
				return core.StatusWithText{}, err
			}
			cal, err := a.fetch(ctx, link)
			if err != nil {
				return core.StatusWithText{}, err
			}
			status := core.ConnectedStatus(keyConnected, map[string]any{"events": len(cal.Events)})
			update, err := core.StatusUpdate(status).WithData(AppData{Link: link})
			if err != nil {
				return core.StatusWithText{}, err
			}
			if a.props.Update != nil {
				if err := a.props.Update(ctx, update); err != nil {
					return core.StatusWithText{}, err
				}
			}
			return status, nil
		})
	default:
		return nil, core.UnknownRequestError(Name, req.Type)
	}
}

func (a *App) GetBusyTimes(ctx context.Context, app core.ConnectedAppData, start, end time.Time) ([]core.CalendarBusyTime, error) {
	return core.Guard(ctx, a.boundary(app, "get_busy_times", keyBusyTimesFailed), func(ctx context.Context) ([]core.CalendarBusyTime, error) {
		var data AppData
		if err := app.DecodeData(&data); err != nil {
			return nil, core.NewAppError(core.ErrorKindConfig, keyInvalidLink, nil, err)
		}
		link, err := normalizeLink(data.Link)
		if err != nil {
			return nil, err
		}
		cal, err := a.fetch(ctx, link)
		if err != nil {
			return nil, err
		}
		start, end = start.UTC(), end.UTC()
		events, err := cal.Expand(start, end)
		if err != nil {
			return nil, core.NewAppError(core.ErrorKindConfig, keyInvalidFeed, nil, err)
		}
		out := make([]core.CalendarBusyTime, 0, len(events))
		for _, event := range events {
			if !event.Busy() {
				continue
			}
			uid := event.UID
			if !event.RecurrenceAt.IsZero() {
				uid += "#" + event.RecurrenceAt.Format("20060102T150405Z")
			}
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

// fetch downloads and parses the feed. Floating times use the host default zone.
func (a *App) fetch(ctx context.Context, link string) (*ical.Calendar, error) {
	var doer transport.HTTPDoer
	if a.settings.HTTPClient != nil {
		doer = a.settings.HTTPClient
	}
	client := transport.NewClient(doer)
	client.DefaultTimeout = a.props.VendorTimeout()
	client.Throttle = a.settings.Throttle
	res, err := client.Do(ctx, transport.Request{
		Method:  http.MethodGet,
		URL:     link,
		Headers: map[string]string{"Accept": "text/calendar, */*"},
	})
	if err != nil {
		if transport.IsStatus(err, http.StatusNotFound) || transport.IsStatus(err, http.StatusUnauthorized) || transport.IsStatus(err, http.StatusForbidden) {
			return nil, core.NewAppError(core.ErrorKindConfig, keyFeedUnreachable, map[string]any{"link": link}, err)
		}
		return nil, err
	}
	loc := time.UTC
	if zone := a.props.Config.DefaultTimeZone; zone != "" {
		if resolved, err := ical.LoadLocation(zone); err == nil {
			loc = resolved
		}
	}
	cal, err := ical.Parse(bytes.NewReader(res.Body), ical.ParseOptions{Location: loc})
	if err != nil {
		return nil, core.NewAppError(core.ErrorKindConfig, keyInvalidFeed, nil, err)
	}
	return cal, nil
}

// normalizeLink accepts http, https and webcal links. webcal is fetched
// over https.
func normalizeLink(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return "", core.ConfigError(keyInvalidLink, map[string]any{"link": raw})
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	case "webcal", "webcals":
		parsed.Scheme = "https"
	default:
		return "", core.ConfigError(keyInvalidLink, map[string]any{"link": raw})
	}
	return parsed.String(), nil
}
