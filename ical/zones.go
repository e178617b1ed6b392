package ical

import (
	"strconv"
	"strings"
	"time"

	goical "github.com/emersion/go-ical"
)

// windowsZones maps the Windows zone names Exchange writes into TZID to IANA.
var windowsZones = map[string]string{
	"utc":                            "UTC",
	"gmt standard time":              "Europe/London",
	"w. europe standard time":        "Europe/Berlin",
	"central europe standard time":   "Europe/Budapest",
	"romance standard time":          "Europe/Paris",
	"central european standard time": "Europe/Warsaw",
	"e. europe standard time":        "Europe/Chisinau",
	"fle standard time":              "Europe/Kiev",
	"russian standard time":          "Europe/Moscow",
	"eastern standard time":          "America/New_York",
	"central standard time":          "America/Chicago",
	"mountain standard time":         "America/Denver",
	"us mountain standard time":      "America/Phoenix",
	"pacific standard time":          "America/Los_Angeles",
	"alaskan standard time":          "America/Anchorage",
	"hawaiian standard time":         "Pacific/Honolulu",
	"tokyo standard time":            "Asia/Tokyo",
	"china standard time":            "Asia/Shanghai",
	"india standard time":            "Asia/Kolkata",
	"aus eastern standard time":      "Australia/Sydney",
	"new zealand standard time":      "Pacific/Auckland",
}

// LoadLocation resolves an IANA or Windows zone name.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.Trim(strings.TrimSpace(name), `"`)
	if name == "" || strings.EqualFold(name, "Z") {
		return time.UTC, nil
	}
	if loc, err := time.LoadLocation(name); err == nil {
		return loc, nil
	}
	if mapped, ok := windowsZones[strings.ToLower(name)]; ok {
		return time.LoadLocation(mapped)
	}
	// Some producers prefix TZID with a vendor path, e.g. /mozilla.org/20050126_1/Europe/Berlin.
	if parts := strings.Split(name, "/"); len(parts) > 2 {
		if loc, err := time.LoadLocation(strings.Join(parts[len(parts)-2:], "/")); err == nil {
			return loc, nil
		}
	}
	_, err := time.LoadLocation(name)
	return nil, err
}

// zoneResolver resolves TZID parameters once per calendar. VTIMEZONE blocks
// whose TZID is not a known zone fall back to their X-LIC-LOCATION or to a
// fixed offset taken from the STANDARD component.
type zoneResolver struct {
	defaultName string
	fallback    *time.Location
	cache       map[string]*time.Location
	blocks      map[string]*goical.Component
}

func newZoneResolver(root *goical.Component, fallback *time.Location) *zoneResolver {
	resolver := &zoneResolver{
		cache:  map[string]*time.Location{},
		blocks: map[string]*goical.Component{},
	}
	for _, block := range childrenNamed(root, goical.CompTimezone) {
		if id := propText(block, goical.PropTimezoneID); id != "" {
			resolver.blocks[id] = block
		}
	}
	resolver.defaultName = propText(root, "X-WR-TIMEZONE")
	switch {
	case resolver.defaultName != "":
		if loc := resolver.lookup(resolver.defaultName); loc != nil {
			resolver.fallback = loc
		}
	case fallback != nil:
		resolver.fallback = fallback
		resolver.defaultName = fallback.String()
	default:
		if len(resolver.blocks) == 1 {
			for id := range resolver.blocks {
				resolver.defaultName = id
				resolver.fallback = resolver.lookup(id)
			}
		}
	}
	if resolver.fallback == nil {
		if fallback != nil {
			resolver.fallback = fallback
		} else {
			resolver.fallback = time.UTC
		}
	}
	return resolver
}

func (z *zoneResolver) calendarZoneName() string {
	if z.defaultName != "" {
		return z.defaultName
	}
	return z.fallback.String()
}

func (z *zoneResolver) lookup(id string) *time.Location {
	if loc, ok := z.cache[id]; ok {
		return loc
	}
	loc, err := LoadLocation(id)
	if err != nil {
		loc = nil
		if block, ok := z.blocks[id]; ok {
			if lic := propText(block, "X-LIC-LOCATION"); lic != "" {
				loc, _ = LoadLocation(lic)
			}
			if loc == nil {
				loc = fixedZoneFromBlock(id, block)
			}
		}
	}
	z.cache[id] = loc
	return loc
}

func (z *zoneResolver) parseTime(prop *goical.Prop) (time.Time, bool, error) {
	loc := z.fallback
	if tzid := prop.Params.Get(goical.ParamTimezoneID); tzid != "" {
		if resolved := z.lookup(tzid); resolved != nil {
			loc = resolved
		}
	}
	t, allDay, err := parseValue(prop.Value, loc)
	if err != nil {
		return time.Time{}, false, err
	}
	if strings.EqualFold(prop.Params.Get(goical.ParamValue), "DATE") {
		allDay = true
	}
	return t, allDay, nil
}

func fixedZoneFromBlock(id string, block *goical.Component) *time.Location {
	sections := childrenNamed(block, goical.CompTimezoneStandard)
	if len(sections) == 0 {
		sections = childrenNamed(block, goical.CompTimezoneDaylight)
	}
	if len(sections) == 0 {
		return nil
	}
	offset, ok := parseOffset(propValue(sections[0], goical.PropTimezoneOffsetTo))
	if !ok {
		return nil
	}
	return time.FixedZone(id, offset)
}

// parseOffset reads +HHMM or -HHMMSS into seconds east of UTC.
func parseOffset(value string) (int, bool) {
	value = strings.TrimSpace(value)
	if len(value) < 5 {
		return 0, false
	}
	sign := 1
	switch value[0] {
	case '-':
		sign = -1
	case '+':
	default:
		return 0, false
	}
	hours, err := strconv.Atoi(value[1:3])
	if err != nil {
		return 0, false
	}
	minutes, err := strconv.Atoi(value[3:5])
	if err != nil {
		return 0, false
	}
	seconds := 0
	if len(value) >= 7 {
		seconds, _ = strconv.Atoi(value[5:7])
	}
	return sign * (hours*3600 + minutes*60 + seconds), true
}

func formatOffset(seconds int) string {
	sign := "+"
	if seconds < 0 {
		sign = "-"
		seconds = -seconds
	}
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	return sign + pad2(hours) + pad2(minutes)
}

func pad2(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

// ZoneName returns the first VTIMEZONE TZID of raw that resolves to a
// location. CalDAV servers publish calendar-timezone in this form.
func ZoneName(raw string) (string, bool) {
	if strings.TrimSpace(raw) == "" {
		return "", false
	}
	cal, err := goical.NewDecoder(strings.NewReader(raw)).Decode()
	if err != nil {
		return "", false
	}
	for _, block := range childrenNamed(cal.Component, goical.CompTimezone) {
		id := propText(block, goical.PropTimezoneID)
		if id == "" {
			continue
		}
		if _, err := LoadLocation(id); err == nil {
			return id, true
		}
	}
	return "", false
}
