package outlook

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-apps/transport"
)

// uidPropertyID is the single value extended property holding the host uid.
const uidPropertyID = "String {6d6b6b3c-2a59-4c4e-9f1e-3b7a2c5d9e40} Name appointmentUid"

const (
	graphDateTimeLayout = "2006-01-02T15:04:05.9999999"
	calendarViewPage    = 100
)

type graphClient struct {
	http *transport.Client
	base string
}

type graphUser struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

func (u graphUser) username() string {
	if strings.TrimSpace(u.Mail) != "" {
		return u.Mail
	}
	return u.UserPrincipalName
}

type Calendar struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CanEdit   bool   `json:"canEdit"`
	IsDefault bool   `json:"isDefaultCalendar"`
}

type dateTimeZone struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

func (d dateTimeZone) instant() (time.Time, error) {
	loc := time.UTC
	if zone := strings.TrimSpace(d.TimeZone); zone != "" && !strings.EqualFold(zone, "UTC") {
		resolved, err := time.LoadLocation(zone)
		if err != nil {
			return time.Time{}, err
		}
		loc = resolved
	}
	t, err := time.ParseInLocation(graphDateTimeLayout, d.DateTime, loc)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

type emailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

type graphAttendee struct {
	EmailAddress emailAddress `json:"emailAddress"`
	Type         string       `json:"type,omitempty"`
}

type itemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type location struct {
	DisplayName string `json:"displayName"`
}

type extendedProperty struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

type graphEvent struct {
	ID                 string             `json:"id,omitempty"`
	Subject            string             `json:"subject,omitempty"`
	ShowAs             string             `json:"showAs,omitempty"`
	IsCancelled        bool               `json:"isCancelled,omitempty"`
	Body               *itemBody          `json:"body,omitempty"`
	Start              *dateTimeZone      `json:"start,omitempty"`
	End                *dateTimeZone      `json:"end,omitempty"`
	Location           *location          `json:"location,omitempty"`
	Attendees          []graphAttendee    `json:"attendees,omitempty"`
	ExtendedProperties []extendedProperty `json:"singleValueExtendedProperties,omitempty"`
}

type eventPage struct {
	Value    []graphEvent `json:"value"`
	NextLink string       `json:"@odata.nextLink"`
}

type calendarPage struct {
	Value    []Calendar `json:"value"`
	NextLink string     `json:"@odata.nextLink"`
}

func (g *graphClient) url(path string) string {
	return g.base + path
}

func calendarPath(calendarID string) string {
	if calendarID == "" {
		return "/me/calendar"
	}
	return "/me/calendars/" + url.PathEscape(calendarID)
}

func (g *graphClient) me(ctx context.Context) (graphUser, error) {
	var user graphUser
	_, err := g.http.DoJSON(ctx, transport.Request{
		Method: http.MethodGet,
		URL:    g.url("/me"),
		Query:  url.Values{"$select": {"id,displayName,mail,userPrincipalName"}},
	}, nil, &user)
	return user, err
}

func (g *graphClient) calendar(ctx context.Context, calendarID string) (Calendar, error) {
	var cal Calendar
	_, err := g.http.DoJSON(ctx, transport.Request{Method: http.MethodGet, URL: g.url(calendarPath(calendarID))}, nil, &cal)
	return cal, err
}

func (g *graphClient) listCalendars(ctx context.Context) ([]Calendar, error) {
	out := make([]Calendar, 0)
	next := g.url("/me/calendars")
	for next != "" {
		var page calendarPage
		if _, err := g.http.DoJSON(ctx, transport.Request{Method: http.MethodGet, URL: next}, nil, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Value...)
		next = page.NextLink
	}
	return out, nil
}

// calendarView follows every @odata.nextLink before returning.
func (g *graphClient) calendarView(ctx context.Context, calendarID string, start, end time.Time) ([]graphEvent, error) {
	out := make([]graphEvent, 0)
	req := transport.Request{
		Method: http.MethodGet,
		URL:    g.url(calendarPath(calendarID) + "/calendarView"),
		Query: url.Values{
			"startDateTime": {start.UTC().Format(time.RFC3339)},
			"endDateTime":   {end.UTC().Format(time.RFC3339)},
			"$select":       {"id,subject,start,end,showAs,isCancelled"},
			"$top":          {strconv.Itoa(calendarViewPage)},
		},
		Headers: map[string]string{"Prefer": `outlook.timezone="UTC"`},
	}
	for {
		var page eventPage
		if _, err := g.http.DoJSON(ctx, req, nil, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Value...)
		if page.NextLink == "" {
			return out, nil
		}
		req.URL = page.NextLink
		req.Query = nil
	}
}

// eventsByUID resolves the vendor event ids stored under uid. Retries that
// outran the lookup can leave more than one.
func (g *graphClient) eventsByUID(ctx context.Context, uid string) ([]string, error) {
	filter := "singleValueExtendedProperties/Any(ep: ep/id eq '" + odataQuote(uidPropertyID) +
		"' and ep/value eq '" + odataQuote(uid) + "')"
	var page eventPage
	_, err := g.http.DoJSON(ctx, transport.Request{
		Method: http.MethodGet,
		URL:    g.url("/me/events"),
		Query:  url.Values{"$filter": {filter}, "$select": {"id"}},
	}, nil, &page)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(page.Value))
	for _, event := range page.Value {
		if event.ID != "" {
			ids = append(ids, event.ID)
		}
	}
	return ids, nil
}

func (g *graphClient) createEvent(ctx context.Context, calendarID string, event graphEvent) (graphEvent, error) {
	var created graphEvent
	_, err := g.http.DoJSON(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    g.url(calendarPath(calendarID) + "/events"),
	}, event, &created)
	return created, err
}

func (g *graphClient) patchEvent(ctx context.Context, eventID string, event graphEvent) error {
	_, err := g.http.DoJSON(ctx, transport.Request{
		Method: http.MethodPatch,
		URL:    g.url("/me/events/" + url.PathEscape(eventID)),
	}, event, nil)
	return err
}

func (g *graphClient) deleteEvent(ctx context.Context, eventID string) error {
	_, err := g.http.Do(ctx, transport.Request{
		Method: http.MethodDelete,
		URL:    g.url("/me/events/" + url.PathEscape(eventID)),
		Accept: []int{http.StatusNotFound},
	})
	return err
}

func (g *graphClient) sendMail(ctx context.Context, message graphMessage) error {
	_, err := g.http.DoJSON(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    g.url("/me/sendMail"),
	}, map[string]any{"message": message, "saveToSentItems": true}, nil)
	return err
}

func odataQuote(value string) string {
	return strings.ReplaceAll(value, "'", "''")
}
