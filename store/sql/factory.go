package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-apps/core"
)

// RepositoryFactory builds the bun backed stores from one database handle.
// It is also the core.Storage handed to adapters.
type RepositoryFactory struct {
	db *bun.DB

	connectedAppStore *ConnectedAppStore
	reminderStore     *ReminderStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

// BuildStores accepts a *bun.DB or anything exposing DB() *bun.DB, such as
// a go-persistence-bun client.
func (f *RepositoryFactory) BuildStores(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.connectedAppStore != nil && f.reminderStore != nil {
		return nil
	}
	connectedAppStore, err := NewConnectedAppStore(f.db)
	if err != nil {
		return err
	}
	reminderStore, err := NewReminderStore(f.db)
	if err != nil {
		return err
	}
	f.connectedAppStore = connectedAppStore
	f.reminderStore = reminderStore
	return nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) ConnectedApps() *ConnectedAppStore {
	if f == nil {
		return nil
	}
	return f.connectedAppStore
}

func (f *RepositoryFactory) Reminders() core.ReminderStore {
	if f == nil || f.reminderStore == nil {
		return nil
	}
	return f.reminderStore
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
