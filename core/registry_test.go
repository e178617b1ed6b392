package core

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

type stubCalendar struct {
	name string
}

func (s stubCalendar) Name() string { return s.name }

func (s stubCalendar) GetBusyTimes(context.Context, ConnectedAppData, time.Time, time.Time) ([]CalendarBusyTime, error) {
	return nil, nil
}

func (s stubCalendar) ProcessRequest(context.Context, ConnectedAppData, json.RawMessage) (any, error) {
	return nil, nil
}

func TestAppRegistry_DetectsCapabilities(t *testing.T) {
	registry := NewAppRegistry()
	if err := registry.Register(func(Props) App { return stubCalendar{name: "stub-calendar"} }); err != nil {
		t.Fatalf("register: %v", err)
	}
	descriptor, ok := registry.Get("stub-calendar")
	if !ok {
		t.Fatalf("expected registered descriptor")
	}
	if !descriptor.Capabilities.Has(CapabilityCalendarBusyTime | CapabilityRequestProcessor) {
		t.Fatalf("unexpected capabilities %s", descriptor.Capabilities)
	}
	if descriptor.Capabilities.Has(CapabilityMailSender) {
		t.Fatalf("did not expect mail capability")
	}
	if got := descriptor.Capabilities.String(); got != "request-processor,calendar-read" {
		t.Fatalf("unexpected capability string %q", got)
	}
	if len(registry.WithCapability(CapabilityCalendarBusyTime)) != 1 || len(registry.WithCapability(CapabilityScheduled)) != 0 {
		t.Fatalf("unexpected capability filter")
	}
}

func TestAppRegistry_RejectsDuplicatesAndBlankNames(t *testing.T) {
	registry := NewAppRegistry()
	factory := func(Props) App { return stubCalendar{name: "dup"} }
	if err := registry.Register(factory); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register(factory); err == nil {
		t.Fatalf("expected duplicate error")
	}
	if err := registry.Register(func(Props) App { return stubCalendar{name: " "} }); err == nil {
		t.Fatalf("expected blank name error")
	}
	if err := registry.Register(nil); err == nil {
		t.Fatalf("expected nil factory error")
	}
}

func TestParseCapability(t *testing.T) {
	capability, ok := ParseCapability(" Mail-Send ")
	if !ok || capability != CapabilityMailSender {
		t.Fatalf("unexpected capability %v %v", capability, ok)
	}
	if _, ok := ParseCapability("teleport"); ok {
		t.Fatalf("expected unknown capability")
	}
}
