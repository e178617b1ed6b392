package ical

import (
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/goliatone/go-apps/core"
)

const feedFixture = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//Test//Feed//EN\r\n" +
	"X-WR-TIMEZONE:Europe/Berlin\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:evt-1\r\n" +
	"DTSTART;TZID=America/New_York:20240301T100000\r\n" +
	"DTEND;TZID=America/New_York:20240301T113000\r\n" +
	"SUMMARY:Team\\, weekly\r\n" +
	"DESCRIPTION:line one\\nline two with a folded\r\n" +
	"  continuation\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:evt-2\r\n" +
	"DTSTART:20240302T090000\r\n" +
	"DURATION:PT45M\r\n" +
	"TRANSP:TRANSPARENT\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:evt-3\r\n" +
	"DTSTART;VALUE=DATE:20240305\r\n" +
	"STATUS:CANCELLED\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestParseResolvesZonesAndDefaults(t *testing.T) {
	cal, err := ParseString(feedFixture)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cal.TimeZone != "Europe/Berlin" {
		t.Fatalf("expected calendar zone Europe/Berlin, got %q", cal.TimeZone)
	}
	if len(cal.Events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(cal.Events))
	}

	first := cal.Events[0]
	if want := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC); !first.Start.Equal(want) {
		t.Fatalf("expected start %s, got %s", want, first.Start)
	}
	if first.End.Sub(first.Start) != 90*time.Minute {
		t.Fatalf("unexpected span %s", first.End.Sub(first.Start))
	}
	if first.Summary != "Team, weekly" {
		t.Fatalf("unexpected summary %q", first.Summary)
	}
	if first.Description != "line one\nline two with a folded continuation" {
		t.Fatalf("unexpected description %q", first.Description)
	}

	second := cal.Events[1]
	if want := time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC); !second.Start.Equal(want) {
		t.Fatalf("floating time should use calendar zone, got %s", second.Start)
	}
	if second.End.Sub(second.Start) != 45*time.Minute {
		t.Fatalf("expected duration applied, got %s", second.End.Sub(second.Start))
	}
	if second.Busy() {
		t.Fatalf("transparent event should not be busy")
	}

	third := cal.Events[2]
	if !third.AllDay {
		t.Fatalf("expected all day event")
	}
	if !third.End.Equal(third.Start.AddDate(1, 0, 0)) {
		t.Fatalf("missing end should default to one year, got %s", third.End.Sub(third.Start))
	}
	if !third.Cancelled() || third.Busy() {
		t.Fatalf("cancelled event should not be busy")
	}
}

func TestParseUsesVTimezoneOffsetForUnknownZone(t *testing.T) {
	raw := "BEGIN:VCALENDAR\r\n" +
		"BEGIN:VTIMEZONE\r\n" +
		"TZID:Custom Office Zone\r\n" +
		"BEGIN:STANDARD\r\n" +
		"DTSTART:19700101T000000\r\n" +
		"TZOFFSETFROM:+0300\r\n" +
		"TZOFFSETTO:+0300\r\n" +
		"END:STANDARD\r\n" +
		"END:VTIMEZONE\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:x\r\n" +
		"DTSTART;TZID=Custom Office Zone:20240101T120000\r\n" +
		"DTEND;TZID=Custom Office Zone:20240101T130000\r\n" +
		"END:VEVENT\r\n" +
		"END:VCALENDAR\r\n"
	cal, err := ParseString(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if want := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC); !cal.Events[0].Start.Equal(want) {
		t.Fatalf("expected %s, got %s", want, cal.Events[0].Start)
	}
}

func TestParseWindowsZoneName(t *testing.T) {
	raw := "BEGIN:VCALENDAR\nBEGIN:VEVENT\nUID:w\n" +
		"DTSTART;TZID=\"Pacific Standard Time\":20240115T080000\n" +
		"DTEND;TZID=\"Pacific Standard Time\":20240115T090000\n" +
		"END:VEVENT\nEND:VCALENDAR\n"
	cal, err := ParseString(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if want := time.Date(2024, 1, 15, 16, 0, 0, 0, time.UTC); !cal.Events[0].Start.Equal(want) {
		t.Fatalf("expected %s, got %s", want, cal.Events[0].Start)
	}
}

func TestParseRejectsUnbalancedComponents(t *testing.T) {
	if _, err := ParseString("BEGIN:VCALENDAR\r\nBEGIN:VEVENT\r\nEND:VCALENDAR\r\n"); err == nil {
		t.Fatalf("expected error for mismatched END")
	}
	if _, err := ParseString("BEGIN:VEVENT\r\nEND:VEVENT\r\n"); err == nil {
		t.Fatalf("expected error when VCALENDAR is missing")
	}
}

func TestEncodeEventRoundTripKeepsZoneAndInstant(t *testing.T) {
	event := core.CalendarEvent{
		UID:         "appt-42",
		Title:       "Consultation; follow up",
		Description: core.EventDescription{PlainText: "Bring documents, please\nThanks", HTML: "<p>Bring documents</p>"},
		StartTime:   time.Date(2024, 7, 1, 7, 30, 0, 0, time.UTC),
		TimeZone:    "Europe/Berlin",
		Duration:    time.Hour,
		Location:    "Hauptstrasse 1, Berlin",
		Organizer:   &core.Organizer{Name: "Studio", Email: "studio@example.com"},
		Attendees: []core.Attendee{
			{Email: "customer@example.com", Name: "Jane Customer", Status: core.AttendeeStatusAccepted},
		},
	}
	raw, err := EncodeEvent(core.ICalMethodRequest, event, EncodeOptions{Now: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	text := string(raw)
	for _, want := range []string{"METHOD:REQUEST", "DTSTART;TZID=Europe/Berlin:20240701T093000", "BEGIN:VTIMEZONE", "PARTSTAT=ACCEPTED"} {
		if !strings.Contains(strings.ReplaceAll(text, "\r\n ", ""), want) {
			t.Fatalf("expected %q in output:\n%s", want, text)
		}
	}
	for _, line := range strings.Split(text, "\r\n") {
		if len(line) > maxLineOctets {
			t.Fatalf("line exceeds fold limit: %q", line)
		}
	}

	cal, err := Parse(strings.NewReader(text))
	if err != nil {
		t.Fatalf("parse encoded: %v", err)
	}
	if cal.Method != "REQUEST" || len(cal.Events) != 1 {
		t.Fatalf("unexpected calendar %#v", cal)
	}
	parsed := cal.Events[0]
	if !parsed.Start.Equal(event.StartTime) || !parsed.End.Equal(event.EndTime()) {
		t.Fatalf("instant changed: %s - %s", parsed.Start, parsed.End)
	}
	if parsed.Summary != event.Title || parsed.Description != event.Description.PlainText {
		t.Fatalf("text changed: %q / %q", parsed.Summary, parsed.Description)
	}
}

func TestEncodeCancelMarksStatus(t *testing.T) {
	event := core.CalendarEvent{UID: "u", Title: "t", StartTime: time.Now(), Duration: time.Minute}
	raw, err := EncodeEvent(core.ICalMethodCancel, event)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(raw), "STATUS:CANCELLED") {
		t.Fatalf("expected cancelled status")
	}
	if strings.Contains(string(raw), "VTIMEZONE") {
		t.Fatalf("utc events should not carry a VTIMEZONE block")
	}
}

func TestZoneNameReadsCalendarTimezone(t *testing.T) {
	raw := "BEGIN:VCALENDAR\r\nBEGIN:VTIMEZONE\r\nTZID:Unknown/Zone\r\nEND:VTIMEZONE\r\n" +
		"BEGIN:VTIMEZONE\r\nTZID:Europe/Berlin\r\nEND:VTIMEZONE\r\nEND:VCALENDAR\r\n"
	zone, ok := ZoneName(raw)
	if !ok || zone != "Europe/Berlin" {
		t.Fatalf("expected Europe/Berlin, got %q %v", zone, ok)
	}
	if _, ok := ZoneName("not a calendar"); ok {
		t.Fatalf("expected no zone for garbage input")
	}
}

const recurringFixture = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:standup\r\n" +
	"DTSTART;TZID=Europe/Berlin:20240325T090000\r\n" +
	"DTEND;TZID=Europe/Berlin:20240325T091500\r\n" +
	"RRULE:FREQ=WEEKLY;BYDAY=MO,WE;COUNT=4\r\n" +
	"EXDATE;TZID=Europe/Berlin:20240327T090000\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:standup\r\n" +
	"RECURRENCE-ID;TZID=Europe/Berlin:20240401T090000\r\n" +
	"DTSTART;TZID=Europe/Berlin:20240401T110000\r\n" +
	"DTEND;TZID=Europe/Berlin:20240401T111500\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestExpandRecurringEventAcrossDST(t *testing.T) {
	cal, err := ParseString(recurringFixture)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	events, err := cal.Expand(start, start.AddDate(0, 2, 0))
	if err != nil {
		t.Fatalf("expand: %v", err)
	}

	got := make([]string, 0, len(events))
	for _, event := range events {
		got = append(got, event.Start.Format(time.RFC3339))
	}
	want := []string{
		// Monday before the switch to summer time, Wednesday excluded.
		"2024-03-25T08:00:00Z",
		// Override moves the first April instance.
		"2024-04-01T09:00:00Z",
		"2024-04-03T07:00:00Z",
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected instances %v", got)
	}
}

func TestParseRuleRejectsUnknownFrequency(t *testing.T) {
	dtstart := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	if _, err := ParseRule("FREQ=FORTNIGHTLY", dtstart); err == nil {
		t.Fatalf("expected unsupported frequency error")
	}
}

func TestParseRuleDateOnlyUntilCoversWholeDay(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatalf("load zone: %v", err)
	}
	rule, err := ParseRule("FREQ=DAILY;INTERVAL=2;UNTIL=20240109", time.Date(2024, 1, 1, 9, 0, 0, 0, berlin))
	if err != nil {
		t.Fatalf("parse rule: %v", err)
	}
	all := rule.All()
	if len(all) != 5 {
		t.Fatalf("expected 5 occurrences, got %v", all)
	}
	if last := all[len(all)-1]; last.Day() != 9 || last.Hour() != 9 {
		t.Fatalf("expected last occurrence on the until day, got %s", last)
	}
}
