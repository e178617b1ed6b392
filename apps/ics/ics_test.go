package ics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/goliatone/go-apps/core"
)

const feed = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:open\r\n" +
	"SUMMARY:Holiday\r\n" +
	"DTSTART:20240101T080000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:daily\r\n" +
	"SUMMARY:Lunch\r\n" +
	"DTSTART;TZID=Europe/Berlin:20231230T120000\r\n" +
	"DTEND;TZID=Europe/Berlin:20231230T130000\r\n" +
	"RRULE:FREQ=DAILY\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:free\r\n" +
	"TRANSP:TRANSPARENT\r\n" +
	"DTSTART:20240101T150000Z\r\n" +
	"DTEND:20240101T160000Z\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func newHarness(t *testing.T) (*core.Service, string, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/feed.ics" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = io.WriteString(w, feed)
	}))
	t.Cleanup(server.Close)

	registry := core.NewAppRegistry()
	if err := registry.Register(New(Settings{})); err != nil {
		t.Fatalf("register: %v", err)
	}
	svc, err := core.NewService(core.Config{}, core.WithRegistry(registry))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	app, err := svc.InstallApp(context.Background(), Name)
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	return svc, app.ID, server
}

func TestICS_SaveProbesFeed(t *testing.T) {
	svc, appID, server := newHarness(t)
	ctx := context.Background()

	if _, err := svc.ProcessRequest(ctx, appID, []byte(`{"link":"`+server.URL+`/missing.ics"}`)); !core.IsKind(err, core.ErrorKindConfig) {
		t.Fatalf("expected config error for missing feed, got %v", err)
	}
	if _, err := svc.ProcessRequest(ctx, appID, []byte(`{"type":"save","data":{"link":"`+server.URL+`/feed.ics"}}`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	app, _ := svc.GetApp(ctx, appID)
	if app.Status != core.AppStatusConnected {
		t.Fatalf("expected connected after a valid feed, got %s", app.Status)
	}
}

func TestICS_BusyTimesExpandsAndDefaultsEnd(t *testing.T) {
	svc, appID, server := newHarness(t)
	ctx := context.Background()
	if _, err := svc.ProcessRequest(ctx, appID, []byte(`{"link":"`+server.URL+`/feed.ics"}`)); err != nil {
		t.Fatalf("save: %v", err)
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	busy, err := svc.GetBusyTimes(ctx, appID, start, start.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("busy times: %v", err)
	}
	if len(busy) != 2 {
		t.Fatalf("expected open ended and one lunch instance, got %#v", busy)
	}
	if busy[0].UID != "open" || !busy[0].EndAt.Equal(busy[0].StartAt.AddDate(1, 0, 0)) {
		t.Fatalf("expected a one year block, got %#v", busy[0])
	}
	if busy[1].UID != "daily#20240101T110000Z" || busy[1].EndAt.Sub(busy[1].StartAt) != time.Hour {
		t.Fatalf("unexpected recurring instance %#v", busy[1])
	}
}

func TestNormalizeLink(t *testing.T) {
	cases := map[string]string{
		"webcal://example.com/a.ics": "https://example.com/a.ics",
		" https://example.com/b ":    "https://example.com/b",
	}
	for in, want := range cases {
		got, err := normalizeLink(in)
		if err != nil || got != want {
			t.Fatalf("normalizeLink(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := normalizeLink("ftp://example.com/feed"); err == nil {
		t.Fatalf("expected unsupported scheme error")
	}
}
