package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-apps/core"
)

const defaultReminderPageSize = 100

type ReminderStore struct {
	db   *bun.DB
	repo repository.Repository[*reminderRecord]
	now  func() time.Time
}

func NewReminderStore(db *bun.DB) (*ReminderStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepositoryWithConfig[*reminderRecord](db, keyedHandlers[reminderRecord](), nil)
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid reminder repository wiring: %w", err)
		}
	}
	return &ReminderStore{
		db:   db,
		repo: repo,
		now:  storeNow,
	}, nil
}

func (s *ReminderStore) List(ctx context.Context, appID string, query core.ReminderQuery) (core.ReminderList, error) {
	if s == nil || s.repo == nil {
		return core.ReminderList{}, fmt.Errorf("sqlstore: reminder store is not configured")
	}
	limit := query.Limit
	if limit <= 0 {
		limit = defaultReminderPageSize
	}
	selectors := []repository.SelectCriteria{
		repository.SelectBy("app_id", "=", strings.TrimSpace(appID)),
		repository.OrderBy("name ASC"),
		repository.OrderBy("id ASC"),
		repository.SelectPaginate(limit, query.Offset),
	}
	if search := strings.ToLower(strings.TrimSpace(query.Search)); search != "" {
		selectors = append(selectors, repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("LOWER(?TableAlias.name) LIKE ?", "%"+search+"%")
		}))
	}
	if len(query.Channels) > 0 {
		channels := make([]string, 0, len(query.Channels))
		for _, channel := range query.Channels {
			channels = append(channels, string(channel))
		}
		selectors = append(selectors, repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.channel IN (?)", bun.In(channels))
		}))
	}
	if len(query.Types) > 0 {
		types := make([]string, 0, len(query.Types))
		for _, kind := range query.Types {
			types = append(types, string(kind))
		}
		selectors = append(selectors, repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.type IN (?)", bun.In(types))
		}))
	}
	records, total, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return core.ReminderList{}, err
	}
	out := core.ReminderList{Items: make([]core.Reminder, 0, len(records)), Total: total}
	for _, record := range records {
		out.Items = append(out.Items, record.toDomain())
	}
	return out, nil
}

func (s *ReminderStore) Get(ctx context.Context, appID string, id string) (core.Reminder, error) {
	if s == nil || s.db == nil {
		return core.Reminder{}, fmt.Errorf("sqlstore: reminder store is not configured")
	}
	record, err := findReminder(ctx, s.db, appID, id)
	if err != nil {
		return core.Reminder{}, err
	}
	return record.toDomain(), nil
}

func (s *ReminderStore) Create(ctx context.Context, reminder core.Reminder) (core.Reminder, error) {
	if s == nil || s.db == nil {
		return core.Reminder{}, fmt.Errorf("sqlstore: reminder store is not configured")
	}
	if err := reminder.Validate(); err != nil {
		return core.Reminder{}, err
	}
	if strings.TrimSpace(reminder.ID) == "" {
		reminder.ID = uuid.NewString()
	}
	now := s.now()
	reminder.CreatedAt = now
	reminder.UpdatedAt = now
	record := newReminderRecord(reminder)

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		taken, err := nameTaken(ctx, tx, record.AppID, record.Name, "")
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("%w: %s", core.ErrReminderNameTaken, record.Name)
		}
		_, err = tx.NewInsert().Model(record).Exec(ctx)
		return err
	})
	if err != nil {
		return core.Reminder{}, err
	}
	return record.toDomain(), nil
}

func (s *ReminderStore) Update(ctx context.Context, reminder core.Reminder) (core.Reminder, error) {
	if s == nil || s.db == nil {
		return core.Reminder{}, fmt.Errorf("sqlstore: reminder store is not configured")
	}
	if err := reminder.Validate(); err != nil {
		return core.Reminder{}, err
	}
	var out core.Reminder
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current, err := findReminder(ctx, tx, reminder.AppID, reminder.ID)
		if err != nil {
			return err
		}
		taken, err := nameTaken(ctx, tx, reminder.AppID, reminder.Name, reminder.ID)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("%w: %s", core.ErrReminderNameTaken, reminder.Name)
		}
		reminder.CreatedAt = current.CreatedAt
		reminder.UpdatedAt = s.now()
		record := newReminderRecord(reminder)
		if _, err := tx.NewUpdate().
			Model(record).
			ExcludeColumn("created_at").
			Where("id = ?", record.ID).
			Exec(ctx); err != nil {
			return err
		}
		out = record.toDomain()
		return nil
	})
	if err != nil {
		return core.Reminder{}, err
	}
	return out, nil
}

func (s *ReminderStore) Delete(ctx context.Context, appID string, ids []string) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: reminder store is not configured")
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.db.NewDelete().
		Model((*reminderRecord)(nil)).
		Where("app_id = ?", strings.TrimSpace(appID)).
		Where("id IN (?)", bun.In(ids)).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *ReminderStore) DeleteAll(ctx context.Context, appID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: reminder store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*reminderRecord)(nil)).
		Where("app_id = ?", strings.TrimSpace(appID)).
		Exec(ctx)
	return err
}

func (s *ReminderStore) NameExists(ctx context.Context, appID string, name string, excludeID string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: reminder store is not configured")
	}
	return nameTaken(ctx, s.db, appID, name, excludeID)
}

func findReminder(ctx context.Context, db bun.IDB, appID string, id string) (*reminderRecord, error) {
	record := &reminderRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.app_id = ?", strings.TrimSpace(appID)).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", core.ErrReminderNotFound, id)
		}
		return nil, err
	}
	return record, nil
}

// nameTaken compares names case insensitively, matching the unique index.
func nameTaken(ctx context.Context, db bun.IDB, appID string, name string, excludeID string) (bool, error) {
	query := db.NewSelect().
		Model((*reminderRecord)(nil)).
		Where("?TableAlias.app_id = ?", strings.TrimSpace(appID)).
		Where("LOWER(?TableAlias.name) = ?", strings.ToLower(strings.TrimSpace(name)))
	if excludeID = strings.TrimSpace(excludeID); excludeID != "" {
		query = query.Where("?TableAlias.id <> ?", excludeID)
	}
	return query.Exists(ctx)
}
