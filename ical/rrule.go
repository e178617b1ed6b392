package ical

import (
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/teambition/rrule-go"
)

var dateOnlyUntil = regexp.MustCompile(`(?i)(UNTIL=\d{8})(;|$)`)

// ParseRule reads an RRULE value anchored at dtstart. Floating UNTIL values
// use the dtstart zone and a date-only UNTIL covers that whole day.
func ParseRule(value string, dtstart time.Time) (*rrule.RRule, error) {
	value = dateOnlyUntil.ReplaceAllString(value, "${1}T235959${2}")
	opt, err := rrule.StrToROptionInLocation(value, dtstart.Location())
	if err != nil {
		return nil, fmt.Errorf("ical: invalid rrule %q: %w", value, err)
	}
	opt.Dtstart = dtstart
	rule, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("ical: invalid rrule %q: %w", value, err)
	}
	return rule, nil
}

// Occurrences expands a recurring event into the instances overlapping
// [start, end). Non recurring events are returned as is when they overlap.
// Instances keep their wall clock time in the DTSTART zone across DST.
func (e Event) Occurrences(start, end time.Time) ([]Event, error) {
	if e.RRule == "" {
		if e.Overlaps(start, end) {
			return []Event{e}, nil
		}
		return nil, nil
	}
	loc := e.loc
	if loc == nil {
		loc = time.UTC
	}
	rule, err := ParseRule(e.RRule, e.Start.In(loc))
	if err != nil {
		return nil, err
	}
	set := &rrule.Set{}
	set.RRule(rule)
	for _, ex := range e.ExDates {
		set.ExDate(ex.In(loc))
	}

	span := e.End.Sub(e.Start)
	out := make([]Event, 0)
	for _, at := range set.Between(start.Add(-span), end, false) {
		instance := e
		instance.Start = at.UTC()
		instance.End = instance.Start.Add(span)
		instance.RRule = ""
		instance.ExDates = nil
		instance.RecurrenceAt = instance.Start
		if instance.Overlaps(start, end) {
			out = append(out, instance)
		}
	}
	return out, nil
}

// Expand resolves every event of the calendar into concrete instances
// overlapping [start, end). Instances overridden by a RECURRENCE-ID event
// are replaced by the override.
func (c *Calendar) Expand(start, end time.Time) ([]Event, error) {
	overrides := map[string]map[int64]struct{}{}
	for _, event := range c.Events {
		if event.RecurrenceAt.IsZero() {
			continue
		}
		if overrides[event.UID] == nil {
			overrides[event.UID] = map[int64]struct{}{}
		}
		overrides[event.UID][event.RecurrenceAt.Unix()] = struct{}{}
	}

	out := make([]Event, 0, len(c.Events))
	for _, event := range c.Events {
		if !event.RecurrenceAt.IsZero() {
			if event.Overlaps(start, end) {
				out = append(out, event)
			}
			continue
		}
		instances, err := event.Occurrences(start, end)
		if err != nil {
			return nil, err
		}
		for _, instance := range instances {
			if event.RRule != "" {
				if _, replaced := overrides[event.UID][instance.Start.Unix()]; replaced {
					continue
				}
			}
			out = append(out, instance)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}
