package reminders

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-apps/core"
)

type fakeConfiguration struct {
	zone string
}

func (f fakeConfiguration) GetGeneral(context.Context) (core.GeneralConfiguration, error) {
	return core.GeneralConfiguration{Name: "Studio Nine", URL: "https://studio.example"}, nil
}

func (f fakeConfiguration) GetBooking(context.Context) (core.BookingConfiguration, error) {
	return core.BookingConfiguration{TimeZone: f.zone}, nil
}

func (f fakeConfiguration) GetSocial(context.Context) (core.SocialConfiguration, error) {
	return core.SocialConfiguration{}, nil
}

func (f fakeConfiguration) GetDefaultApps(context.Context) (core.DefaultAppsConfiguration, error) {
	return core.DefaultAppsConfiguration{}, nil
}

type fakeTemplates map[string]core.Template

func (f fakeTemplates) GetTemplate(_ context.Context, id string) (*core.Template, error) {
	template, ok := f[id]
	if !ok {
		return nil, nil
	}
	return &template, nil
}

type fakeEvents struct {
	mu           sync.Mutex
	appointments []core.Appointment
	filters      []core.AppointmentFilter
}

func (f *fakeEvents) GetAppointments(_ context.Context, filter core.AppointmentFilter) (core.AppointmentList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters = append(f.filters, filter)
	items := make([]core.Appointment, 0)
	for _, appointment := range f.appointments {
		if filter.Range != nil && !filter.Range.Contains(appointment.DateTime) {
			continue
		}
		if len(filter.Statuses) > 0 && appointment.Status != filter.Statuses[0] {
			continue
		}
		items = append(items, appointment)
	}
	total := len(items)
	if filter.Offset >= len(items) {
		items = nil
	} else {
		items = items[filter.Offset:]
	}
	return core.AppointmentList{Items: items, Total: total}, nil
}

type fakeNotifications struct {
	mu     sync.Mutex
	emails []core.EmailNotification
	texts  []core.TextMessageNotification
	failTo string
}

func (f *fakeNotifications) SendEmail(_ context.Context, n core.EmailNotification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(n.Email.To) > 0 && n.Email.To[0] == f.failTo {
		return errors.New("relay rejected recipient")
	}
	f.emails = append(f.emails, n)
	return nil
}

func (f *fakeNotifications) SendTextMessage(_ context.Context, n core.TextMessageNotification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, n)
	return nil
}

type harness struct {
	svc           *core.Service
	appID         string
	events        *fakeEvents
	notifications *fakeNotifications
	storage       *core.MemoryStorage
}

func newHarness(t *testing.T, appointments ...core.Appointment) *harness {
	t.Helper()
	registry := core.NewAppRegistry()
	if err := registry.Register(New(Settings{Concurrency: 2})); err != nil {
		t.Fatalf("register: %v", err)
	}
	h := &harness{
		events:        &fakeEvents{appointments: appointments},
		notifications: &fakeNotifications{},
		storage:       core.NewMemoryStorage(),
	}
	svc, err := core.NewService(core.Config{}, core.WithRegistry(registry), core.WithStorage(h.storage), core.WithServices(core.Services{
		Configuration: fakeConfiguration{zone: "Europe/Berlin"},
		Templates: fakeTemplates{
			"tpl-email": {ID: "tpl-email", Kind: core.TemplateKindEmail, Value: "<p>Hi {{customer.name}}, see you at {{appointment.time}}</p>"},
			"tpl-sms":   {ID: "tpl-sms", Kind: core.TemplateKindTextMessage, Value: "{{config.name}}: {{appointment.date}} {{appointment.time}}"},
		},
		Events:        h.events,
		Notifications: h.notifications,
	}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	app, err := svc.InstallApp(context.Background(), Name)
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	h.svc = svc
	h.appID = app.ID
	return h
}

func (h *harness) create(t *testing.T, reminder core.Reminder) core.Reminder {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"type": "create-reminder", "data": reminder})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	result, err := h.svc.ProcessRequest(context.Background(), h.appID, payload)
	if err != nil {
		t.Fatalf("create reminder: %v", err)
	}
	created, ok := result.(core.Reminder)
	if !ok {
		t.Fatalf("expected reminder result, got %T", result)
	}
	return created
}

func appointment(id, name, email string, at time.Time) core.Appointment {
	return core.Appointment{
		ID:            id,
		DateTime:      at,
		TotalDuration: 45 * time.Minute,
		Status:        core.AppointmentStatusConfirmed,
		Customer:      core.Customer{ID: "cust-" + id, Name: name, Email: email, Phone: "+4915100" + id},
	}
}

func TestMatchWindow_TimeBeforeIsDeterministic(t *testing.T) {
	rule := core.Reminder{Type: core.ReminderTypeTimeBefore, Days: 1, Hours: 2}
	tick := time.Date(2024, 3, 1, 9, 0, 42, 0, time.UTC)

	first, ok := MatchWindow(rule, tick, time.UTC)
	if !ok {
		t.Fatalf("expected time before rule to match every tick")
	}
	again, _ := MatchWindow(rule, tick, time.UTC)
	if first != again {
		t.Fatalf("expected replayed tick to select the same window, got %v and %v", first, again)
	}
	want := time.Date(2024, 3, 2, 11, 0, 0, 0, time.UTC)
	if !first.Start.Equal(want) || !first.End.Equal(want.Add(time.Minute)) {
		t.Fatalf("unexpected window %v - %v", first.Start, first.End)
	}
}

func TestMatchWindow_AtTimeSelectsLocalDay(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	rule := core.Reminder{Type: core.ReminderTypeAtTime, Time: &core.TimeOfDay{Hour: 10, Minute: 30}}
	tick := time.Date(2024, 3, 1, 10, 30, 0, 0, berlin)

	window, ok := MatchWindow(rule, tick, berlin)
	if !ok {
		t.Fatalf("expected at time rule to match 10:30 local")
	}
	if !window.Start.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, berlin)) || !window.End.Equal(time.Date(2024, 3, 2, 0, 0, 0, 0, berlin)) {
		t.Fatalf("unexpected window %v - %v", window.Start, window.End)
	}
	if _, ok := MatchWindow(rule, tick.Add(time.Minute), berlin); ok {
		t.Fatalf("expected no match one minute later")
	}

	rule.Days = 1
	window, _ = MatchWindow(rule, tick, berlin)
	if !window.Start.Equal(time.Date(2024, 3, 2, 0, 0, 0, 0, berlin)) {
		t.Fatalf("expected day offset to shift the window, got %v", window.Start)
	}
}

func TestOnTime_SendsEmailForMatchedAppointments(t *testing.T) {
	tick := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	h := newHarness(t,
		appointment("1", "Ana", "ana@example.com", tick.AddDate(0, 0, 1)),
		appointment("2", "Ben", "ben@example.com", tick.AddDate(0, 0, 1).Add(time.Hour)),
	)
	h.create(t, core.Reminder{
		Name:       "Day before",
		Channel:    core.ReminderChannelEmail,
		TemplateID: "tpl-email",
		Type:       core.ReminderTypeTimeBefore,
		Days:       1,
		Subject:    "Reminder from {{config.name}}",
	})

	result, err := h.svc.RunScheduled(context.Background(), tick)
	if err != nil {
		t.Fatalf("run scheduled: %v", err)
	}
	if result.Invoked != 1 {
		t.Fatalf("expected one scheduled app, got %d", result.Invoked)
	}
	if len(h.notifications.emails) != 1 {
		t.Fatalf("expected one email, got %d", len(h.notifications.emails))
	}
	sent := h.notifications.emails[0]
	if sent.Email.To[0] != "ana@example.com" || sent.AppointmentID != "1" || sent.CustomerID != "cust-1" {
		t.Fatalf("unexpected notification %#v", sent)
	}
	if sent.Email.HTML != "<p>Hi Ana, see you at 10:00</p>" {
		t.Fatalf("unexpected body %q", sent.Email.HTML)
	}
	if sent.Email.Subject != "Reminder from Studio Nine" {
		t.Fatalf("unexpected subject %q", sent.Email.Subject)
	}
	if sent.ParticipantType != core.ParticipantTypeCustomer || sent.HandledBy.IsZero() {
		t.Fatalf("expected customer participant with handled by text, got %#v", sent)
	}
	filter := h.events.filters[0]
	if len(filter.Statuses) != 1 || filter.Statuses[0] != core.AppointmentStatusConfirmed {
		t.Fatalf("expected confirmed filter, got %#v", filter.Statuses)
	}
}

func TestOnTime_MissingTemplateSkips(t *testing.T) {
	tick := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	h := newHarness(t, appointment("1", "Ana", "ana@example.com", tick.Add(2*time.Hour)))
	h.create(t, core.Reminder{
		Name:       "Orphan",
		Channel:    core.ReminderChannelTextMessage,
		TemplateID: "tpl-deleted",
		Type:       core.ReminderTypeTimeBefore,
		Hours:      2,
	})

	if _, err := h.svc.RunScheduled(context.Background(), tick); err != nil {
		t.Fatalf("expected missing template to be skipped, got %v", err)
	}
	if len(h.notifications.texts) != 0 {
		t.Fatalf("expected nothing sent, got %d", len(h.notifications.texts))
	}
}

func TestOnTime_FailedDispatchDoesNotStopSiblings(t *testing.T) {
	tick := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	at := tick.Add(3 * time.Hour)
	h := newHarness(t,
		appointment("1", "Ana", "ana@example.com", at),
		appointment("2", "Ben", "ben@example.com", at),
		appointment("3", "Cleo", "cleo@example.com", at),
	)
	h.notifications.failTo = "ben@example.com"
	h.create(t, core.Reminder{
		Name:       "Soon",
		Channel:    core.ReminderChannelEmail,
		TemplateID: "tpl-email",
		Type:       core.ReminderTypeTimeBefore,
		Hours:      3,
		Subject:    "Soon",
	})

	result, err := h.svc.RunScheduled(context.Background(), tick)
	if err == nil {
		t.Fatalf("expected the failed dispatch to surface")
	}
	if result.Failed != 1 {
		t.Fatalf("expected one failed app, got %d", result.Failed)
	}
	if len(h.notifications.emails) != 2 {
		t.Fatalf("expected siblings to be sent, got %d", len(h.notifications.emails))
	}
}

func TestOnTime_TextMessageUsesBookingZone(t *testing.T) {
	tick := time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC)
	h := newHarness(t, appointment("7", "Dana", "dana@example.com", time.Date(2024, 6, 3, 14, 15, 0, 0, time.UTC)))
	h.create(t, core.Reminder{
		Name:       "Morning digest",
		Channel:    core.ReminderChannelTextMessage,
		TemplateID: "tpl-sms",
		Type:       core.ReminderTypeAtTime,
		Days:       2,
		Time:       &core.TimeOfDay{Hour: 8, Minute: 0},
	})

	if _, err := h.svc.RunScheduled(context.Background(), tick); err != nil {
		t.Fatalf("run scheduled: %v", err)
	}
	if len(h.notifications.texts) != 1 {
		t.Fatalf("expected one text message, got %d", len(h.notifications.texts))
	}
	if got := h.notifications.texts[0].Body; got != "Studio Nine: 2024-06-03 16:15" {
		t.Fatalf("unexpected body %q", got)
	}
	if h.notifications.texts[0].Phone != "+49151007" {
		t.Fatalf("unexpected phone %q", h.notifications.texts[0].Phone)
	}
}

func TestProcessRequest_ReminderCRUD(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := h.create(t, core.Reminder{
		Name:       "Day before",
		Channel:    core.ReminderChannelEmail,
		TemplateID: "tpl-email",
		Type:       core.ReminderTypeTimeBefore,
		Days:       1,
		Subject:    "Tomorrow",
	})
	if created.ID == "" || created.AppID != h.appID {
		t.Fatalf("expected id and app id to be assigned, got %#v", created)
	}

	duplicate, _ := json.Marshal(map[string]any{"type": "create-reminder", "data": core.Reminder{
		Name:       "day before",
		Channel:    core.ReminderChannelTextMessage,
		TemplateID: "tpl-sms",
		Type:       core.ReminderTypeTimeBefore,
		Hours:      1,
	}})
	if _, err := h.svc.ProcessRequest(ctx, h.appID, duplicate); !core.IsKind(err, core.ErrorKindConfig) {
		t.Fatalf("expected name taken config error, got %v", err)
	}

	unique, err := h.svc.ProcessRequest(ctx, h.appID, []byte(`{"type":"check-name-unique","data":{"name":"Day before","id":"`+created.ID+`"}}`))
	if err != nil || unique != true {
		t.Fatalf("expected own name to be unique when excluded, got %v %v", unique, err)
	}
	unique, _ = h.svc.ProcessRequest(ctx, h.appID, []byte(`{"type":"check-name-unique","data":{"name":"Day before"}}`))
	if unique != false {
		t.Fatalf("expected name to be taken")
	}

	created.Days = 2
	update, _ := json.Marshal(map[string]any{"type": "update-reminder", "data": created})
	result, err := h.svc.ProcessRequest(ctx, h.appID, update)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if result.(core.Reminder).Days != 2 {
		t.Fatalf("expected update to persist, got %#v", result)
	}

	list, err := h.svc.ProcessRequest(ctx, h.appID, []byte(`{"type":"get-reminders","data":{"search":"day"}}`))
	if err != nil || list.(core.ReminderList).Total != 1 {
		t.Fatalf("expected one listed reminder, got %#v %v", list, err)
	}

	deleted, err := h.svc.ProcessRequest(ctx, h.appID, []byte(`{"type":"delete-reminders","data":{"ids":["`+created.ID+`","missing"]}}`))
	if err != nil || deleted.(deleteResult).Deleted != 1 {
		t.Fatalf("expected one deletion, got %#v %v", deleted, err)
	}
	if _, err := h.svc.ProcessRequest(ctx, h.appID, []byte(`{"type":"get-reminder","data":{"id":"`+created.ID+`"}}`)); !core.IsKind(err, core.ErrorKindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestProcessRequest_RejectsInvalidReminder(t *testing.T) {
	h := newHarness(t)
	payload := []byte(`{"type":"create-reminder","data":{"name":"No subject","channel":"email","templateId":"tpl-email","type":"timeBefore","days":1}}`)
	if _, err := h.svc.ProcessRequest(context.Background(), h.appID, payload); !core.IsKind(err, core.ErrorKindConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestUninstall_RemovesReminders(t *testing.T) {
	h := newHarness(t)
	h.create(t, core.Reminder{
		Name:       "One hour",
		Channel:    core.ReminderChannelTextMessage,
		TemplateID: "tpl-sms",
		Type:       core.ReminderTypeTimeBefore,
		Hours:      1,
	})
	ctx := context.Background()
	if err := h.svc.UninstallApp(ctx, h.appID); err != nil {
		t.Fatalf("uninstall: %v", err)
	}
	list, err := h.storage.Reminders().List(ctx, h.appID, core.ReminderQuery{})
	if err != nil || list.Total != 0 {
		t.Fatalf("expected reminders removed, got %d %v", list.Total, err)
	}
}
