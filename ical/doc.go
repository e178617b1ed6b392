// Package ical reads and writes the iCalendar subset connected apps exchange
// with CalDAV servers, ICS feeds and mail invitations.
package ical
