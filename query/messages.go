package query

import (
	"strings"
	"time"

	"github.com/goliatone/go-apps/core"
)

const (
	TypeGetApp       = "apps.query.app.get"
	TypeListApps     = "apps.query.app.list"
	TypeGetBusyTimes = "apps.query.calendar.busy_times"
	TypeCheckExists  = "apps.query.assets.check_exists"
)

type GetAppMessage struct {
	AppID string
}

func (GetAppMessage) Type() string { return TypeGetApp }

func (m GetAppMessage) Validate() error {
	return validateAppID(m.AppID)
}

type ListAppsMessage struct {
	Query core.ConnectedAppQuery
}

func (ListAppsMessage) Type() string { return TypeListApps }

func (m ListAppsMessage) Validate() error {
	for _, status := range m.Query.Statuses {
		if !status.Valid() {
			return queryValidationError("statuses", "unknown app status "+string(status))
		}
	}
	return nil
}

type GetBusyTimesMessage struct {
	AppID string
	Start time.Time
	End   time.Time
}

func (GetBusyTimesMessage) Type() string { return TypeGetBusyTimes }

func (m GetBusyTimesMessage) Validate() error {
	if err := validateAppID(m.AppID); err != nil {
		return err
	}
	if m.Start.IsZero() || m.End.IsZero() {
		return queryValidationError("range", "start and end are required")
	}
	if !m.End.After(m.Start) {
		return queryInvalidInputError("query: busy time range end must be after start")
	}
	return nil
}

type CheckExistsMessage struct {
	AppID    string
	Filename string
}

func (CheckExistsMessage) Type() string { return TypeCheckExists }

func (m CheckExistsMessage) Validate() error {
	if err := validateAppID(m.AppID); err != nil {
		return err
	}
	if strings.TrimSpace(m.Filename) == "" {
		return queryValidationError("filename", "filename is required")
	}
	return nil
}

func validateAppID(appID string) error {
	if strings.TrimSpace(appID) == "" {
		return queryValidationError("app_id", "app id is required")
	}
	return nil
}
