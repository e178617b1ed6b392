package ical

import (
	"fmt"
	"io"
	"strings"
	"time"

	goical "github.com/emersion/go-ical"
)

type Event struct {
	UID          string
	Summary      string
	Description  string
	Location     string
	Status       string
	Start        time.Time
	End          time.Time
	AllDay       bool
	Transparent  bool
	RecurrenceID string
	// RecurrenceAt is RECURRENCE-ID resolved to an instant.
	RecurrenceAt time.Time
	RRule        string
	ExDates      []time.Time

	loc *time.Location
}

// Cancelled reports STATUS:CANCELLED.
func (e Event) Cancelled() bool {
	return strings.EqualFold(e.Status, "CANCELLED")
}

// Busy reports whether the event should block availability.
func (e Event) Busy() bool {
	return !e.Transparent && !e.Cancelled()
}

// Overlaps reports whether the event intersects the half-open range [start, end).
func (e Event) Overlaps(start, end time.Time) bool {
	return e.Start.Before(end) && e.End.After(start)
}

type Calendar struct {
	Method   string
	ProdID   string
	TimeZone string
	Events   []Event
}

type ParseOptions struct {
	// Location applies to floating times when the calendar does not name a zone.
	Location *time.Location
}

// Parse decodes the first VCALENDAR in r.
func Parse(r io.Reader, opts ...ParseOptions) (*Calendar, error) {
	cal, err := goical.NewDecoder(r).Decode()
	if err == io.EOF {
		return nil, fmt.Errorf("ical: VCALENDAR not found")
	}
	if err != nil {
		return nil, fmt.Errorf("ical: decode: %w", err)
	}
	return Decode(cal, opts...)
}

// ParseString is shorthand for Parse(strings.NewReader(raw)).
func ParseString(raw string, opts ...ParseOptions) (*Calendar, error) {
	return Parse(strings.NewReader(raw), opts...)
}

// Decode resolves an already parsed calendar, as returned by CalDAV queries.
func Decode(cal *goical.Calendar, opts ...ParseOptions) (*Calendar, error) {
	if cal == nil || cal.Component == nil || cal.Name != goical.CompCalendar {
		return nil, fmt.Errorf("ical: VCALENDAR not found")
	}
	var opt ParseOptions
	if len(opts) > 0 {
		opt = opts[0]
	}
	root := cal.Component
	zones := newZoneResolver(root, opt.Location)
	out := &Calendar{
		Method:   strings.ToUpper(propText(root, goical.PropMethod)),
		ProdID:   propText(root, goical.PropProductID),
		TimeZone: zones.calendarZoneName(),
	}
	for _, component := range childrenNamed(root, goical.CompEvent) {
		event, err := decodeEvent(component, zones)
		if err != nil {
			return nil, err
		}
		out.Events = append(out.Events, event)
	}
	return out, nil
}

func decodeEvent(component *goical.Component, zones *zoneResolver) (Event, error) {
	event := Event{
		UID:          propText(component, goical.PropUID),
		Summary:      propText(component, goical.PropSummary),
		Description:  propText(component, goical.PropDescription),
		Location:     propText(component, goical.PropLocation),
		Status:       strings.ToUpper(propText(component, goical.PropStatus)),
		Transparent:  strings.EqualFold(propText(component, goical.PropTransparency), "TRANSPARENT"),
		RecurrenceID: propValue(component, goical.PropRecurrenceID),
		RRule:        strings.ToUpper(propValue(component, goical.PropRecurrenceRule)),
	}

	startProp := component.Props.Get(goical.PropDateTimeStart)
	if startProp == nil {
		return Event{}, fmt.Errorf("ical: event %q has no DTSTART", event.UID)
	}
	start, allDay, err := zones.parseTime(startProp)
	if err != nil {
		return Event{}, fmt.Errorf("ical: event %q DTSTART: %w", event.UID, err)
	}
	event.loc = start.Location()
	event.Start = start.UTC()
	event.AllDay = allDay

	if prop := component.Props.Get(goical.PropRecurrenceID); prop != nil {
		at, _, err := zones.parseTime(prop)
		if err != nil {
			return Event{}, fmt.Errorf("ical: event %q RECURRENCE-ID: %w", event.UID, err)
		}
		event.RecurrenceAt = at.UTC()
	}
	for _, prop := range component.Props[goical.PropExceptionDates] {
		for _, value := range strings.Split(prop.Value, ",") {
			single := prop
			single.Value = value
			at, _, err := zones.parseTime(&single)
			if err != nil {
				return Event{}, fmt.Errorf("ical: event %q EXDATE: %w", event.UID, err)
			}
			event.ExDates = append(event.ExDates, at.UTC())
		}
	}

	if endProp := component.Props.Get(goical.PropDateTimeEnd); endProp != nil {
		end, _, err := zones.parseTime(endProp)
		if err != nil {
			return Event{}, fmt.Errorf("ical: event %q DTEND: %w", event.UID, err)
		}
		event.End = end.UTC()
	} else if durationProp := component.Props.Get(goical.PropDuration); durationProp != nil {
		duration, err := durationProp.Duration()
		if err != nil {
			return Event{}, fmt.Errorf("ical: event %q DURATION: %w", event.UID, err)
		}
		event.End = event.Start.Add(duration)
	} else {
		// Open ended events block for a year instead of being dropped.
		event.End = event.Start.AddDate(1, 0, 0)
	}
	if event.End.Before(event.Start) {
		event.End = event.Start
	}
	return event, nil
}

// propText returns the unescaped text of the first property named name.
func propText(c *goical.Component, name string) string {
	prop := c.Props.Get(name)
	if prop == nil {
		return ""
	}
	if text, err := prop.Text(); err == nil {
		return text
	}
	return prop.Value
}

func propValue(c *goical.Component, name string) string {
	if prop := c.Props.Get(name); prop != nil {
		return strings.TrimSpace(prop.Value)
	}
	return ""
}

func childrenNamed(c *goical.Component, name string) []*goical.Component {
	out := make([]*goical.Component, 0)
	for _, child := range c.Children {
		if strings.EqualFold(child.Name, name) {
			out = append(out, child)
		}
	}
	return out
}

var dateTimeLayouts = []string{
	"20060102T150405",
	"20060102T1504",
	"2006-01-02T15:04:05",
}

// parseValue reads an iCalendar DATE or DATE-TIME in loc. A trailing Z forces
// UTC. TZID is resolved by the caller, including Windows names.
func parseValue(value string, loc *time.Location) (time.Time, bool, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false, fmt.Errorf("empty time value")
	}
	if loc == nil {
		loc = time.UTC
	}
	if len(value) == 8 {
		t, err := time.ParseInLocation("20060102", value, loc)
		return t, true, err
	}
	if strings.HasSuffix(value, "Z") {
		loc = time.UTC
		value = strings.TrimSuffix(value, "Z")
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, false, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("unsupported time value %q", value)
}
