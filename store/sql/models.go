package sqlstore

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-apps/core"
)

type connectedAppRecord struct {
	bun.BaseModel `bun:"table:connected_apps,alias:ca"`

	ID         string    `bun:"id,pk"`
	Name       string    `bun:"name,notnull"`
	Data       string    `bun:"data,nullzero"`
	Token      string    `bun:"token,nullzero"`
	Account    string    `bun:"account,nullzero"`
	Status     string    `bun:"status,notnull"`
	StatusText string    `bun:"status_text,nullzero"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt  time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type reminderRecord struct {
	bun.BaseModel `bun:"table:app_reminders,alias:ar"`

	ID         string    `bun:"id,pk"`
	AppID      string    `bun:"app_id,notnull"`
	Name       string    `bun:"name,notnull"`
	Channel    string    `bun:"channel,notnull"`
	TemplateID string    `bun:"template_id,notnull"`
	Type       string    `bun:"type,notnull"`
	Weeks      int       `bun:"weeks,notnull"`
	Days       int       `bun:"days,notnull"`
	Hours      int       `bun:"hours,notnull"`
	Minutes    int       `bun:"minutes,notnull"`
	TimeHour   *int      `bun:"time_hour"`
	TimeMinute *int      `bun:"time_minute"`
	Subject    string    `bun:"subject"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt  time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newConnectedAppRecord(app core.ConnectedAppData) (*connectedAppRecord, error) {
	record := &connectedAppRecord{
		ID:        strings.TrimSpace(app.ID),
		Name:      strings.TrimSpace(app.Name),
		Data:      strings.TrimSpace(string(app.Data)),
		Status:    string(app.Status),
		CreatedAt: storedTime(app.CreatedAt),
		UpdatedAt: storedTime(app.UpdatedAt),
	}
	var err error
	if record.Token, err = encodeJSON(app.Token); err != nil {
		return nil, err
	}
	if record.Account, err = encodeJSON(app.Account); err != nil {
		return nil, err
	}
	if record.StatusText, err = encodeJSON(app.StatusText); err != nil {
		return nil, err
	}
	return record, nil
}

func (r *connectedAppRecord) toDomain() (core.ConnectedAppData, error) {
	out := core.ConnectedAppData{
		ID:        r.ID,
		Name:      r.Name,
		Status:    core.AppStatus(r.Status),
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if r.Data != "" {
		out.Data = json.RawMessage(r.Data)
	}
	if r.Token != "" {
		out.Token = &core.OAuthTokens{}
		if err := json.Unmarshal([]byte(r.Token), out.Token); err != nil {
			return core.ConnectedAppData{}, err
		}
	}
	if r.Account != "" {
		out.Account = &core.Account{}
		if err := json.Unmarshal([]byte(r.Account), out.Account); err != nil {
			return core.ConnectedAppData{}, err
		}
	}
	if r.StatusText != "" {
		if err := json.Unmarshal([]byte(r.StatusText), &out.StatusText); err != nil {
			return core.ConnectedAppData{}, err
		}
	}
	return out, nil
}

func newReminderRecord(reminder core.Reminder) *reminderRecord {
	record := &reminderRecord{
		ID:         strings.TrimSpace(reminder.ID),
		AppID:      strings.TrimSpace(reminder.AppID),
		Name:       strings.TrimSpace(reminder.Name),
		Channel:    string(reminder.Channel),
		TemplateID: strings.TrimSpace(reminder.TemplateID),
		Type:       string(reminder.Type),
		Weeks:      reminder.Weeks,
		Days:       reminder.Days,
		Hours:      reminder.Hours,
		Minutes:    reminder.Minutes,
		Subject:    reminder.Subject,
		CreatedAt:  storedTime(reminder.CreatedAt),
		UpdatedAt:  storedTime(reminder.UpdatedAt),
	}
	if reminder.Time != nil {
		hour, minute := reminder.Time.Hour, reminder.Time.Minute
		record.TimeHour = &hour
		record.TimeMinute = &minute
	}
	return record
}

func (r *reminderRecord) toDomain() core.Reminder {
	out := core.Reminder{
		ID:         r.ID,
		AppID:      r.AppID,
		Name:       r.Name,
		Channel:    core.ReminderChannel(r.Channel),
		TemplateID: r.TemplateID,
		Type:       core.ReminderType(r.Type),
		Weeks:      r.Weeks,
		Days:       r.Days,
		Hours:      r.Hours,
		Minutes:    r.Minutes,
		Subject:    r.Subject,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
	if r.TimeHour != nil && r.TimeMinute != nil {
		out.Time = &core.TimeOfDay{Hour: *r.TimeHour, Minute: *r.TimeMinute}
	}
	return out
}

// encodeJSON returns "" for nil and zero values so the column stays NULL.
// Timestamp columns keep microseconds on both dialects.
func storedTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func storeNow() time.Time {
	return storedTime(time.Now())
}

func encodeJSON(value any) (string, error) {
	switch typed := value.(type) {
	case *core.OAuthTokens:
		if typed == nil {
			return "", nil
		}
	case *core.Account:
		if typed == nil {
			return "", nil
		}
	case core.LocalizedText:
		if typed.IsZero() {
			return "", nil
		}
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
