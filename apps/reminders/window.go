package reminders

import (
	"time"

	"github.com/goliatone/go-apps/core"
)

// MatchWindow returns the appointment window a rule selects at tick.
//
// A timeBefore rule selects the one minute window that starts at tick plus
// the rule offset. An atTime rule only fires when the local clock at tick,
// in loc, equals the configured time of day; it then selects the whole local
// day that is weeks and days after tick.
//
// The result depends only on rule, tick and loc, so replaying a tick
// selects the same appointments again.
func MatchWindow(rule core.Reminder, tick time.Time, loc *time.Location) (core.DateRange, bool) {
	if loc == nil {
		loc = time.UTC
	}
	local := tick.In(loc).Truncate(time.Minute)
	days := rule.Weeks*7 + rule.Days

	switch rule.Type {
	case core.ReminderTypeTimeBefore:
		start := local.AddDate(0, 0, days).
			Add(time.Duration(rule.Hours)*time.Hour + time.Duration(rule.Minutes)*time.Minute)
		return core.DateRange{Start: start.UTC(), End: start.Add(time.Minute).UTC()}, true
	case core.ReminderTypeAtTime:
		if rule.Time == nil || local.Hour() != rule.Time.Hour || local.Minute() != rule.Time.Minute {
			return core.DateRange{}, false
		}
		day := local.AddDate(0, 0, days)
		start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
		end := time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, loc)
		return core.DateRange{Start: start.UTC(), End: end.UTC()}, true
	}
	return core.DateRange{}, false
}
