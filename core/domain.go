package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrAppNotFound            = errors.New("core: connected app not found")
	ErrAppNotRegistered       = errors.New("core: app is not registered")
	ErrCapabilityNotSupported = errors.New("core: capability not supported")
	ErrReminderNotFound       = errors.New("core: reminder not found")
	ErrReminderNameTaken      = errors.New("core: reminder name already exists for app")
	ErrInvalidReminder        = errors.New("core: invalid reminder")
	ErrInvalidEvent           = errors.New("core: invalid calendar event")
	ErrInvalidRequest         = errors.New("core: invalid request")
	ErrAppDataEmpty           = errors.New("core: app data is empty")
)

type AppStatus string

const (
	AppStatusConnected    AppStatus = "connected"
	AppStatusFailed       AppStatus = "failed"
	AppStatusPending      AppStatus = "pending"
	AppStatusDisconnected AppStatus = "disconnected"
)

func (s AppStatus) Valid() bool {
	switch s {
	case AppStatusConnected, AppStatusFailed, AppStatusPending, AppStatusDisconnected:
		return true
	default:
		return false
	}
}

type Account struct {
	Username  string         `json:"username,omitempty"`
	ServerURL string         `json:"serverUrl,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// OAuthTokens holds ciphertext for both tokens. Use security.TokenCodec to
// obtain plaintext immediately before a vendor call.
type OAuthTokens struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken,omitempty"`
	ExpiresOn    *time.Time `json:"expiresOn,omitempty"`
}

func (t *OAuthTokens) Clone() *OAuthTokens {
	if t == nil {
		return nil
	}
	out := *t
	out.ExpiresOn = cloneTimePointer(t.ExpiresOn)
	return &out
}

type ConnectedAppData struct {
	ID         string          `json:"_id"`
	Name       string          `json:"name"`
	Data       json.RawMessage `json:"data,omitempty"`
	Token      *OAuthTokens    `json:"token,omitempty"`
	Account    *Account        `json:"account,omitempty"`
	Status     AppStatus       `json:"status"`
	StatusText LocalizedText   `json:"statusText"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// DecodeData unmarshals the adapter specific payload into target.
func (a ConnectedAppData) DecodeData(target any) error {
	if len(bytes.TrimSpace(a.Data)) == 0 || bytes.Equal(bytes.TrimSpace(a.Data), []byte("null")) {
		return ErrAppDataEmpty
	}
	if err := json.Unmarshal(a.Data, target); err != nil {
		return fmt.Errorf("core: decode app data for %s: %w", a.Name, err)
	}
	return nil
}

// Apply merges a partial update into a copy of the record.
func (a ConnectedAppData) Apply(update AppUpdate, now time.Time) ConnectedAppData {
	out := a
	if update.Status != nil {
		out.Status = *update.Status
	}
	if update.StatusText != nil {
		out.StatusText = update.StatusText.Clone()
	}
	if update.Data != nil {
		out.Data = append(json.RawMessage(nil), update.Data...)
	}
	if update.ClearToken {
		out.Token = nil
	}
	if update.Token != nil {
		out.Token = update.Token.Clone()
	}
	if update.Account != nil {
		account := *update.Account
		account.Metadata = copyAnyMap(update.Account.Metadata)
		out.Account = &account
	}
	if !now.IsZero() {
		out.UpdatedAt = now.UTC()
	}
	return out
}

// AppUpdate is a partial mutation of a ConnectedAppData record. Nil fields
// are left untouched.
type AppUpdate struct {
	Status     *AppStatus
	StatusText *LocalizedText
	Data       json.RawMessage
	Token      *OAuthTokens
	ClearToken bool
	Account    *Account
}

func (u AppUpdate) IsEmpty() bool {
	return u.Status == nil && u.StatusText == nil && u.Data == nil &&
		u.Token == nil && !u.ClearToken && u.Account == nil
}

func StatusUpdate(status StatusWithText) AppUpdate {
	s := status.Status
	text := status.StatusText.Clone()
	return AppUpdate{Status: &s, StatusText: &text}
}

// WithData marshals value into the update's data field.
func (u AppUpdate) WithData(value any) (AppUpdate, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return u, fmt.Errorf("core: encode app data: %w", err)
	}
	u.Data = raw
	return u, nil
}

type CalendarBusyTime struct {
	StartAt time.Time `json:"startAt"`
	EndAt   time.Time `json:"endAt"`
	UID     string    `json:"uid"`
	Title   string    `json:"title,omitempty"`
}

type EventDescription struct {
	PlainText string `json:"plainText"`
	HTML      string `json:"html"`
}

type AttendeeStatus string

const (
	AttendeeStatusAccepted    AttendeeStatus = "accepted"
	AttendeeStatusDeclined    AttendeeStatus = "declined"
	AttendeeStatusTentative   AttendeeStatus = "tentative"
	AttendeeStatusNeedsAction AttendeeStatus = "needs-action"
)

type AttendeeType string

const (
	AttendeeTypeRequired AttendeeType = "required"
	AttendeeTypeOptional AttendeeType = "optional"
	AttendeeTypeResource AttendeeType = "resource"
)

type Attendee struct {
	Email  string         `json:"email"`
	Name   string         `json:"name,omitempty"`
	Status AttendeeStatus `json:"status,omitempty"`
	Type   AttendeeType   `json:"type,omitempty"`
}

type Organizer struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// CalendarEvent is the write side event model. StartTime is an instant and
// TimeZone is the IANA zone the event is presented in.
type CalendarEvent struct {
	UID         string           `json:"uid"`
	Title       string           `json:"title"`
	Description EventDescription `json:"description"`
	StartTime   time.Time        `json:"startTime"`
	TimeZone    string           `json:"timeZone"`
	Duration    time.Duration    `json:"duration"`
	Attendees   []Attendee       `json:"attendees,omitempty"`
	Location    string           `json:"location,omitempty"`
	Organizer   *Organizer       `json:"organizer,omitempty"`
}

func (e CalendarEvent) EndTime() time.Time {
	return e.StartTime.Add(e.Duration)
}

// ZoneLocation resolves the event zone, falling back to UTC.
func (e CalendarEvent) ZoneLocation() (*time.Location, error) {
	zone := strings.TrimSpace(e.TimeZone)
	if zone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown time zone %q", ErrInvalidEvent, zone)
	}
	return loc, nil
}

func (e CalendarEvent) Validate() error {
	if strings.TrimSpace(e.UID) == "" {
		return fmt.Errorf("%w: uid is required", ErrInvalidEvent)
	}
	if e.StartTime.IsZero() {
		return fmt.Errorf("%w: start time is required", ErrInvalidEvent)
	}
	if e.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrInvalidEvent)
	}
	if _, err := e.ZoneLocation(); err != nil {
		return err
	}
	return nil
}

type CalendarEventResult struct {
	UID string `json:"uid"`
}

type ICalMethod string

const (
	ICalMethodRequest ICalMethod = "REQUEST"
	ICalMethodCancel  ICalMethod = "CANCEL"
	ICalMethodReply   ICalMethod = "REPLY"
)

func (m ICalMethod) Valid() bool {
	switch m {
	case ICalMethodRequest, ICalMethodCancel, ICalMethodReply:
		return true
	default:
		return false
	}
}

type ICalEventAttachment struct {
	Method   ICalMethod    `json:"method"`
	Event    CalendarEvent `json:"event"`
	Filename string        `json:"filename,omitempty"`
}

type EmailAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType,omitempty"`
	ContentID   string `json:"cid,omitempty"`
	Content     []byte `json:"content"`
}

type Email struct {
	To          []string             `json:"to"`
	CC          []string             `json:"cc,omitempty"`
	From        string               `json:"from,omitempty"`
	ReplyTo     string               `json:"replyTo,omitempty"`
	Subject     string               `json:"subject"`
	HTML        string               `json:"body"`
	Text        string               `json:"text,omitempty"`
	ICalEvent   *ICalEventAttachment `json:"icalEvent,omitempty"`
	Attachments []EmailAttachment    `json:"attachments,omitempty"`
}

func (e Email) Validate() error {
	if len(e.To) == 0 {
		return fmt.Errorf("core: email recipient is required")
	}
	if strings.TrimSpace(e.Subject) == "" {
		return fmt.Errorf("core: email subject is required")
	}
	if e.ICalEvent != nil && !e.ICalEvent.Method.Valid() {
		return fmt.Errorf("core: invalid ical method %q", e.ICalEvent.Method)
	}
	return nil
}

type SendMailResult struct {
	MessageID string `json:"messageId"`
}

type ParticipantType string

const (
	ParticipantTypeCustomer ParticipantType = "customer"
	ParticipantTypeUser     ParticipantType = "user"
)

type TextMessageReply struct {
	From          string         `json:"from"`
	To            string         `json:"to"`
	Message       string         `json:"message"`
	AppointmentID string         `json:"appointmentId,omitempty"`
	CustomerID    string         `json:"customerId,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
}

type RespondResult struct {
	ParticipantType ParticipantType `json:"participantType"`
	HandledBy       LocalizedText   `json:"handledBy"`
}

type ReminderChannel string

const (
	ReminderChannelEmail       ReminderChannel = "email"
	ReminderChannelTextMessage ReminderChannel = "text-message"
)

type ReminderType string

const (
	ReminderTypeTimeBefore ReminderType = "timeBefore"
	ReminderTypeAtTime     ReminderType = "atTime"
)

type TimeOfDay struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

type Reminder struct {
	ID         string          `json:"_id"`
	AppID      string          `json:"appId"`
	Name       string          `json:"name"`
	Channel    ReminderChannel `json:"channel"`
	TemplateID string          `json:"templateId"`
	Type       ReminderType    `json:"type"`
	Weeks      int             `json:"weeks,omitempty"`
	Days       int             `json:"days,omitempty"`
	Hours      int             `json:"hours,omitempty"`
	Minutes    int             `json:"minutes,omitempty"`
	Time       *TimeOfDay      `json:"time,omitempty"`
	Subject    string          `json:"subject,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

func (r Reminder) Validate() error {
	if strings.TrimSpace(r.AppID) == "" {
		return fmt.Errorf("%w: app id is required", ErrInvalidReminder)
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidReminder)
	}
	if strings.TrimSpace(r.TemplateID) == "" {
		return fmt.Errorf("%w: template id is required", ErrInvalidReminder)
	}
	switch r.Channel {
	case ReminderChannelEmail:
		if strings.TrimSpace(r.Subject) == "" {
			return fmt.Errorf("%w: subject is required for email reminders", ErrInvalidReminder)
		}
	case ReminderChannelTextMessage:
	default:
		return fmt.Errorf("%w: unknown channel %q", ErrInvalidReminder, r.Channel)
	}
	if r.Weeks < 0 || r.Days < 0 || r.Hours < 0 || r.Minutes < 0 {
		return fmt.Errorf("%w: offsets must not be negative", ErrInvalidReminder)
	}
	switch r.Type {
	case ReminderTypeTimeBefore:
		if r.Weeks+r.Days+r.Hours+r.Minutes == 0 {
			return fmt.Errorf("%w: time before offset is required", ErrInvalidReminder)
		}
	case ReminderTypeAtTime:
		if r.Time == nil {
			return fmt.Errorf("%w: time of day is required", ErrInvalidReminder)
		}
		if r.Time.Hour < 0 || r.Time.Hour > 23 || r.Time.Minute < 0 || r.Time.Minute > 59 {
			return fmt.Errorf("%w: time of day out of range", ErrInvalidReminder)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidReminder, r.Type)
	}
	return nil
}

type AppointmentStatus string

const (
	AppointmentStatusPending   AppointmentStatus = "pending"
	AppointmentStatusConfirmed AppointmentStatus = "confirmed"
	AppointmentStatusDeclined  AppointmentStatus = "declined"
)

type Customer struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

type Appointment struct {
	ID            string            `json:"_id"`
	DateTime      time.Time         `json:"dateTime"`
	TotalDuration time.Duration     `json:"totalDuration"`
	TimeZone      string            `json:"timeZone,omitempty"`
	Status        AppointmentStatus `json:"status"`
	OptionName    string            `json:"optionName,omitempty"`
	Customer      Customer          `json:"customer"`
	Fields        map[string]any    `json:"fields,omitempty"`
}

type DateRange struct {
	Start time.Time
	End   time.Time
}

func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

type AppointmentFilter struct {
	Statuses []AppointmentStatus
	Range    *DateRange
	Limit    int
	Offset   int
}

type AppointmentList struct {
	Items []Appointment
	Total int
}

type TemplateKind string

const (
	TemplateKindEmail       TemplateKind = "email"
	TemplateKindTextMessage TemplateKind = "text-message"
)

type Template struct {
	ID    string       `json:"_id"`
	Name  string       `json:"name"`
	Kind  TemplateKind `json:"type"`
	Value string       `json:"value"`
}

func cloneTimePointer(in *time.Time) *time.Time {
	if in == nil {
		return nil
	}
	v := *in
	return &v
}

func copyAnyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
