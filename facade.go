package apps

import (
	"fmt"

	appscommand "github.com/goliatone/go-apps/command"
	appsquery "github.com/goliatone/go-apps/query"
)

type CommandQueryService interface {
	appscommand.MutatingService
	appscommand.TextMessageService
	appscommand.SchedulerService
	appsquery.AppReader
	appsquery.CalendarReader
	appsquery.AssetsReader
}

type Commands struct {
	InstallApp     *appscommand.InstallAppCommand
	UpdateApp      *appscommand.UpdateAppCommand
	UninstallApp   *appscommand.UninstallAppCommand
	ProcessRequest *appscommand.ProcessRequestCommand
	Respond        *appscommand.RespondCommand
	RunScheduled   *appscommand.RunScheduledCommand
}

type Queries struct {
	GetApp       *appsquery.GetAppQuery
	ListApps     *appsquery.ListAppsQuery
	GetBusyTimes *appsquery.GetBusyTimesQuery
	CheckExists  *appsquery.CheckExistsQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

func NewFacade(service CommandQueryService) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("apps: command/query service is required")
	}
	facade := &Facade{service: service}
	facade.commands = Commands{
		InstallApp:     appscommand.NewInstallAppCommand(service),
		UpdateApp:      appscommand.NewUpdateAppCommand(service),
		UninstallApp:   appscommand.NewUninstallAppCommand(service),
		ProcessRequest: appscommand.NewProcessRequestCommand(service),
		Respond:        appscommand.NewRespondCommand(service),
		RunScheduled:   appscommand.NewRunScheduledCommand(service),
	}
	facade.queries = Queries{
		GetApp:       appsquery.NewGetAppQuery(service),
		ListApps:     appsquery.NewListAppsQuery(service),
		GetBusyTimes: appsquery.NewGetBusyTimesQuery(service),
		CheckExists:  appsquery.NewCheckExistsQuery(service),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}
