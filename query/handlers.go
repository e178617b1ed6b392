package query

import (
	"context"
	"time"

	"github.com/goliatone/go-apps/core"
)

type AppReader interface {
	GetApp(ctx context.Context, appID string) (core.ConnectedAppData, error)
	ListApps(ctx context.Context, query core.ConnectedAppQuery) ([]core.ConnectedAppData, error)
}

type CalendarReader interface {
	GetBusyTimes(ctx context.Context, appID string, start, end time.Time) ([]core.CalendarBusyTime, error)
}

type AssetsReader interface {
	CheckExists(ctx context.Context, appID string, filename string) (bool, error)
}

type GetAppQuery struct {
	reader AppReader
}

func NewGetAppQuery(reader AppReader) *GetAppQuery {
	return &GetAppQuery{reader: reader}
}

// Query returns the record with token ciphertext stripped.
func (q *GetAppQuery) Query(ctx context.Context, msg GetAppMessage) (core.ConnectedAppData, error) {
	if q == nil || q.reader == nil {
		return core.ConnectedAppData{}, queryDependencyError("query: app reader is required")
	}
	app, err := q.reader.GetApp(ctx, msg.AppID)
	if err != nil {
		return core.ConnectedAppData{}, err
	}
	app.Token = nil
	return app, nil
}

type ListAppsQuery struct {
	reader AppReader
}

func NewListAppsQuery(reader AppReader) *ListAppsQuery {
	return &ListAppsQuery{reader: reader}
}

func (q *ListAppsQuery) Query(ctx context.Context, msg ListAppsMessage) ([]core.ConnectedAppData, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: app reader is required")
	}
	apps, err := q.reader.ListApps(ctx, msg.Query)
	if err != nil {
		return nil, err
	}
	for i := range apps {
		apps[i].Token = nil
	}
	return apps, nil
}

type GetBusyTimesQuery struct {
	reader CalendarReader
}

func NewGetBusyTimesQuery(reader CalendarReader) *GetBusyTimesQuery {
	return &GetBusyTimesQuery{reader: reader}
}

func (q *GetBusyTimesQuery) Query(ctx context.Context, msg GetBusyTimesMessage) ([]core.CalendarBusyTime, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: calendar reader is required")
	}
	return q.reader.GetBusyTimes(ctx, msg.AppID, msg.Start, msg.End)
}

type CheckExistsQuery struct {
	reader AssetsReader
}

func NewCheckExistsQuery(reader AssetsReader) *CheckExistsQuery {
	return &CheckExistsQuery{reader: reader}
}

func (q *CheckExistsQuery) Query(ctx context.Context, msg CheckExistsMessage) (bool, error) {
	if q == nil || q.reader == nil {
		return false, queryDependencyError("query: assets reader is required")
	}
	return q.reader.CheckExists(ctx, msg.AppID, msg.Filename)
}
