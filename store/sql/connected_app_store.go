package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"github.com/goliatone/go-apps/core"
)

type ConnectedAppStore struct {
	db   *bun.DB
	repo repository.Repository[*connectedAppRecord]
	now  func() time.Time
}

func NewConnectedAppStore(db *bun.DB) (*ConnectedAppStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepositoryWithConfig[*connectedAppRecord](db, keyedHandlers[connectedAppRecord](), nil)
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid connected app repository wiring: %w", err)
		}
	}
	return &ConnectedAppStore{
		db:   db,
		repo: repo,
		now:  storeNow,
	}, nil
}

func (s *ConnectedAppStore) Create(ctx context.Context, app core.ConnectedAppData) (core.ConnectedAppData, error) {
	if s == nil || s.repo == nil {
		return core.ConnectedAppData{}, fmt.Errorf("sqlstore: connected app store is not configured")
	}
	if strings.TrimSpace(app.Name) == "" {
		return core.ConnectedAppData{}, fmt.Errorf("sqlstore: app name is required")
	}
	now := s.now()
	if app.CreatedAt.IsZero() {
		app.CreatedAt = now
	}
	if app.UpdatedAt.IsZero() {
		app.UpdatedAt = now
	}
	if app.Status == "" {
		app.Status = core.AppStatusPending
	}
	record, err := newConnectedAppRecord(app)
	if err != nil {
		return core.ConnectedAppData{}, err
	}
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.ConnectedAppData{}, err
	}
	return created.toDomain()
}

func (s *ConnectedAppStore) Get(ctx context.Context, appID string) (core.ConnectedAppData, error) {
	if s == nil || s.db == nil {
		return core.ConnectedAppData{}, fmt.Errorf("sqlstore: connected app store is not configured")
	}
	record, err := findConnectedApp(ctx, s.db, appID, false)
	if err != nil {
		return core.ConnectedAppData{}, err
	}
	return record.toDomain()
}

func (s *ConnectedAppStore) List(ctx context.Context, query core.ConnectedAppQuery) ([]core.ConnectedAppData, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: connected app store is not configured")
	}
	selectors := []repository.SelectCriteria{
		repository.OrderBy("created_at ASC"),
	}
	if len(query.Names) > 0 {
		names := query.Names
		selectors = append(selectors, repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.name IN (?)", bun.In(names))
		}))
	}
	if len(query.Statuses) > 0 {
		statuses := make([]string, 0, len(query.Statuses))
		for _, status := range query.Statuses {
			statuses = append(statuses, string(status))
		}
		selectors = append(selectors, repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.status IN (?)", bun.In(statuses))
		}))
	}
	records, _, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	out := make([]core.ConnectedAppData, 0, len(records))
	for _, record := range records {
		app, err := record.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, app)
	}
	return out, nil
}

// Update merges update into the stored record inside one transaction. On
// postgres the row is locked for the duration so concurrent merges never
// drop each other's fields.
func (s *ConnectedAppStore) Update(ctx context.Context, appID string, update core.AppUpdate) (core.ConnectedAppData, error) {
	if s == nil || s.db == nil {
		return core.ConnectedAppData{}, fmt.Errorf("sqlstore: connected app store is not configured")
	}
	var out core.ConnectedAppData
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findConnectedApp(ctx, tx, appID, tx.Dialect().Name() == dialect.PG)
		if err != nil {
			return err
		}
		current, err := record.toDomain()
		if err != nil {
			return err
		}
		merged := current.Apply(update, s.now())
		next, err := newConnectedAppRecord(merged)
		if err != nil {
			return err
		}
		if _, err := tx.NewUpdate().
			Model(next).
			Column("data", "token", "account", "status", "status_text", "updated_at").
			Where("id = ?", next.ID).
			Exec(ctx); err != nil {
			return err
		}
		out = merged
		return nil
	})
	if err != nil {
		return core.ConnectedAppData{}, err
	}
	return out, nil
}

func (s *ConnectedAppStore) Delete(ctx context.Context, appID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: connected app store is not configured")
	}
	res, err := s.db.NewDelete().
		Model((*connectedAppRecord)(nil)).
		Where("id = ?", strings.TrimSpace(appID)).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("%w: %s", core.ErrAppNotFound, appID)
	}
	return nil
}

func findConnectedApp(ctx context.Context, db bun.IDB, appID string, lock bool) (*connectedAppRecord, error) {
	record := &connectedAppRecord{}
	query := db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(appID)).
		Limit(1)
	if lock {
		query = query.For("UPDATE")
	}
	if err := query.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", core.ErrAppNotFound, appID)
		}
		return nil, err
	}
	return record, nil
}
