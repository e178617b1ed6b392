package ical

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	goical "github.com/emersion/go-ical"

	"github.com/goliatone/go-apps/core"
)

const (
	DefaultProdID = "-//goliatone//go-apps//EN"
	maxLineOctets = 75
	stampLayout   = "20060102T150405Z"
	localLayout   = "20060102T150405"
)

type EncodeOptions struct {
	ProdID   string
	Sequence int
	Now      time.Time
}

// EncodeEvent renders a single-event VCALENDAR folded at 75 octets.
func EncodeEvent(method core.ICalMethod, event core.CalendarEvent, opts ...EncodeOptions) ([]byte, error) {
	cal, err := BuildEvent(method, event, opts...)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := goical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("ical: encode: %w", err)
	}
	w := &lineWriter{}
	for _, line := range strings.Split(strings.TrimRight(buf.String(), "\r\n"), "\r\n") {
		w.line(line)
	}
	return w.buf.Bytes(), nil
}

// BuildEvent returns the VCALENDAR for event. The event keeps its IANA zone
// through TZID and a VTIMEZONE block covering the event year.
func BuildEvent(method core.ICalMethod, event core.CalendarEvent, opts ...EncodeOptions) (*goical.Calendar, error) {
	var opt EncodeOptions
	if len(opts) > 0 {
		opt = opts[0]
	}
	if opt.ProdID == "" {
		opt.ProdID = DefaultProdID
	}
	if opt.Now.IsZero() {
		opt.Now = time.Now()
	}
	if method != "" && !method.Valid() {
		return nil, fmt.Errorf("ical: unsupported method %q", method)
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	loc, err := event.ZoneLocation()
	if err != nil {
		return nil, err
	}

	root := newComponent(goical.CompCalendar)
	setValue(root, goical.PropVersion, "2.0")
	setText(root, goical.PropProductID, opt.ProdID)
	setValue(root, goical.PropCalendarScale, "GREGORIAN")
	if method != "" {
		setValue(root, goical.PropMethod, string(method))
	}
	utc := loc == time.UTC
	if !utc {
		root.Children = append(root.Children, timeZone(loc, event.StartTime))
	}

	vevent := newComponent(goical.CompEvent)
	setText(vevent, goical.PropUID, event.UID)
	setValue(vevent, goical.PropDateTimeStamp, opt.Now.UTC().Format(stampLayout))
	setTime(vevent, goical.PropDateTimeStart, event.StartTime, loc, utc)
	setTime(vevent, goical.PropDateTimeEnd, event.EndTime(), loc, utc)
	setValue(vevent, goical.PropSequence, strconv.Itoa(opt.Sequence))
	setText(vevent, goical.PropSummary, event.Title)
	if text := event.Description.PlainText; text != "" {
		setText(vevent, goical.PropDescription, text)
	}
	if html := event.Description.HTML; html != "" {
		prop := setText(vevent, "X-ALT-DESC", html)
		prop.Params.Set(goical.ParamFormatType, "text/html")
	}
	if event.Location != "" {
		setText(vevent, goical.PropLocation, event.Location)
	}
	if event.Organizer != nil && event.Organizer.Email != "" {
		prop := setValue(vevent, goical.PropOrganizer, "mailto:"+event.Organizer.Email)
		setCommonName(prop, event.Organizer.Name)
	}
	for _, attendee := range event.Attendees {
		if attendee.Email == "" {
			continue
		}
		prop := goical.NewProp(goical.PropAttendee)
		prop.Value = "mailto:" + attendee.Email
		setCommonName(prop, attendee.Name)
		prop.Params.Set(goical.ParamRole, attendeeRole(attendee.Type))
		prop.Params.Set(goical.ParamParticipationStatus, attendeePartStat(attendee.Status))
		prop.Params.Set(goical.ParamRSVP, "TRUE")
		vevent.Props[prop.Name] = append(vevent.Props[prop.Name], *prop)
	}
	if method == core.ICalMethodCancel {
		setValue(vevent, goical.PropStatus, "CANCELLED")
	} else {
		setValue(vevent, goical.PropStatus, "CONFIRMED")
	}
	setValue(vevent, goical.PropTransparency, "OPAQUE")
	root.Children = append(root.Children, vevent)
	return &goical.Calendar{Component: root}, nil
}

func newComponent(name string) *goical.Component {
	return &goical.Component{Name: name, Props: goical.Props{}}
}

func setValue(c *goical.Component, name, value string) *goical.Prop {
	prop := goical.NewProp(name)
	prop.Value = value
	c.Props[name] = []goical.Prop{*prop}
	return &c.Props[name][0]
}

func setText(c *goical.Component, name, text string) *goical.Prop {
	prop := goical.NewProp(name)
	prop.SetText(text)
	c.Props[name] = []goical.Prop{*prop}
	return &c.Props[name][0]
}

func setTime(c *goical.Component, name string, t time.Time, loc *time.Location, utc bool) {
	if utc {
		setValue(c, name, t.UTC().Format(stampLayout))
		return
	}
	prop := setValue(c, name, t.In(loc).Format(localLayout))
	prop.Params.Set(goical.ParamTimezoneID, loc.String())
}

func setCommonName(prop *goical.Prop, name string) {
	if name = strings.TrimSpace(name); name != "" {
		prop.Params.Set(goical.ParamCommonName, strings.ReplaceAll(name, `"`, "'"))
	}
}

func attendeeRole(kind core.AttendeeType) string {
	switch kind {
	case core.AttendeeTypeOptional:
		return "OPT-PARTICIPANT"
	case core.AttendeeTypeResource:
		return "NON-PARTICIPANT"
	default:
		return "REQ-PARTICIPANT"
	}
}

func attendeePartStat(status core.AttendeeStatus) string {
	switch status {
	case core.AttendeeStatusAccepted:
		return "ACCEPTED"
	case core.AttendeeStatusDeclined:
		return "DECLINED"
	case core.AttendeeStatusTentative:
		return "TENTATIVE"
	default:
		return "NEEDS-ACTION"
	}
}

// timeZone builds the VTIMEZONE with the offset transitions of loc during
// the year of at.
func timeZone(loc *time.Location, at time.Time) *goical.Component {
	block := newComponent(goical.CompTimezone)
	setValue(block, goical.PropTimezoneID, loc.String())

	transitions := zoneTransitions(loc, at.In(loc).Year())
	if len(transitions) == 0 {
		yearStart := time.Date(at.In(loc).Year(), time.January, 1, 0, 0, 0, 0, loc)
		_, offset := yearStart.Zone()
		standard := newComponent(goical.CompTimezoneStandard)
		setValue(standard, goical.PropDateTimeStart, yearStart.Format(localLayout))
		setValue(standard, goical.PropTimezoneOffsetFrom, formatOffset(offset))
		setValue(standard, goical.PropTimezoneOffsetTo, formatOffset(offset))
		block.Children = append(block.Children, standard)
	}
	for _, tr := range transitions {
		kind := goical.CompTimezoneStandard
		if tr.isDST {
			kind = goical.CompTimezoneDaylight
		}
		section := newComponent(kind)
		setValue(section, goical.PropDateTimeStart, tr.at.Add(time.Duration(tr.from)*time.Second).UTC().Format(localLayout))
		setValue(section, goical.PropTimezoneOffsetFrom, formatOffset(tr.from))
		setValue(section, goical.PropTimezoneOffsetTo, formatOffset(tr.to))
		if tr.name != "" {
			setValue(section, goical.PropTimezoneName, tr.name)
		}
		block.Children = append(block.Children, section)
	}
	return block
}

type transition struct {
	at    time.Time
	from  int
	to    int
	name  string
	isDST bool
}

// zoneTransitions scans the year day by day and narrows each offset change
// down to the minute.
func zoneTransitions(loc *time.Location, year int) []transition {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, loc).UTC()
	end := time.Date(year+1, time.January, 1, 0, 0, 0, 0, loc).UTC()
	_, prevOffset := start.In(loc).Zone()

	out := make([]transition, 0, 2)
	for cursor := start; cursor.Before(end); cursor = cursor.Add(24 * time.Hour) {
		next := cursor.Add(24 * time.Hour)
		_, offset := next.In(loc).Zone()
		if offset == prevOffset {
			continue
		}
		lo, hi := cursor, next
		for hi.Sub(lo) > time.Minute {
			mid := lo.Add(hi.Sub(lo) / 2)
			if _, o := mid.In(loc).Zone(); o == prevOffset {
				lo = mid
			} else {
				hi = mid
			}
		}
		name, _ := hi.In(loc).Zone()
		out = append(out, transition{
			at:    hi,
			from:  prevOffset,
			to:    offset,
			name:  name,
			isDST: offset > prevOffset,
		})
		prevOffset = offset
	}
	return out
}

type lineWriter struct {
	buf bytes.Buffer
}

// line writes one content line folded at 75 octets without splitting runes.
func (w *lineWriter) line(content string) {
	limit := maxLineOctets
	for len(content) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(content[cut]) {
			cut--
		}
		w.buf.WriteString(content[:cut])
		w.buf.WriteString("\r\n ")
		content = content[cut:]
		limit = maxLineOctets - 1
	}
	w.buf.WriteString(content)
	w.buf.WriteString("\r\n")
}
