package query

import (
	"github.com/goliatone/go-apps/core"
	gocmd "github.com/goliatone/go-command"
)

var (
	_ gocmd.Querier[GetAppMessage, core.ConnectedAppData]         = (*GetAppQuery)(nil)
	_ gocmd.Querier[ListAppsMessage, []core.ConnectedAppData]     = (*ListAppsQuery)(nil)
	_ gocmd.Querier[GetBusyTimesMessage, []core.CalendarBusyTime] = (*GetBusyTimesQuery)(nil)
	_ gocmd.Querier[CheckExistsMessage, bool]                     = (*CheckExistsQuery)(nil)
)
