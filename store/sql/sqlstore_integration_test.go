package sqlstore_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/goliatone/go-apps/core"
	appmigrations "github.com/goliatone/go-apps/migrations"
	sqlstore "github.com/goliatone/go-apps/store/sql"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "go-apps-tests"
}

func TestConnectedAppStore_CreateGetList(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	store := factory.ConnectedApps()

	created, err := store.Create(ctx, core.ConnectedAppData{ID: "4f5a3c1e-8a9b-4c2d-9e1f-000000000001", Name: "caldav"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Status != core.AppStatusPending || created.CreatedAt.IsZero() {
		t.Fatalf("expected pending app with timestamps, got %#v", created)
	}
	if _, err := store.Create(ctx, core.ConnectedAppData{ID: "4f5a3c1e-8a9b-4c2d-9e1f-000000000002", Name: "smtp", Status: core.AppStatusConnected}); err != nil {
		t.Fatalf("create smtp: %v", err)
	}

	got, err := store.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "caldav" || got.Token != nil || got.Account != nil {
		t.Fatalf("unexpected app %#v", got)
	}
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, core.ErrAppNotFound) {
		t.Fatalf("expected app not found, got %v", err)
	}

	listed, err := store.List(ctx, core.ConnectedAppQuery{Names: []string{"smtp", "ics"}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 1 || listed[0].Name != "smtp" {
		t.Fatalf("unexpected list %#v", listed)
	}
	listed, err = store.List(ctx, core.ConnectedAppQuery{Statuses: []core.AppStatus{core.AppStatusPending}})
	if err != nil || len(listed) != 1 || listed[0].Name != "caldav" {
		t.Fatalf("unexpected status list %#v %v", listed, err)
	}
}

func TestConnectedAppStore_UpdateMergesPartially(t *testing.T) {
	ctx := context.Background()
	store := newFactory(t).ConnectedApps()
	app, err := store.Create(ctx, core.ConnectedAppData{ID: "4f5a3c1e-8a9b-4c2d-9e1f-000000000003", Name: "outlook"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	expires := time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)
	if _, err := store.Update(ctx, app.ID, core.AppUpdate{
		Token:   &core.OAuthTokens{AccessToken: "apps.secret.v1:a", RefreshToken: "apps.secret.v1:r", ExpiresOn: &expires},
		Account: &core.Account{Username: "ana@example.com"},
	}); err != nil {
		t.Fatalf("update token: %v", err)
	}
	update, err := core.StatusUpdate(core.ConnectedStatus("outlook.statusText.successfully_connected", nil)).WithData(map[string]string{"calendarId": "primary"})
	if err != nil {
		t.Fatalf("with data: %v", err)
	}
	merged, err := store.Update(ctx, app.ID, update)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if merged.Token == nil || merged.Token.RefreshToken != "apps.secret.v1:r" {
		t.Fatalf("expected token to survive status update, got %#v", merged.Token)
	}

	stored, err := store.Get(ctx, app.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != core.AppStatusConnected || stored.StatusText.Key != "outlook.statusText.successfully_connected" {
		t.Fatalf("unexpected status %#v", stored)
	}
	if stored.Account == nil || stored.Account.Username != "ana@example.com" {
		t.Fatalf("expected account to persist, got %#v", stored.Account)
	}
	if stored.Token == nil || !stored.Token.ExpiresOn.Equal(expires) {
		t.Fatalf("expected token expiry to persist, got %#v", stored.Token)
	}
	var data map[string]string
	if err := stored.DecodeData(&data); err != nil || data["calendarId"] != "primary" {
		t.Fatalf("unexpected data %#v %v", data, err)
	}

	if _, err := store.Update(ctx, app.ID, core.AppUpdate{ClearToken: true}); err != nil {
		t.Fatalf("clear token: %v", err)
	}
	stored, _ = store.Get(ctx, app.ID)
	if stored.Token != nil {
		t.Fatalf("expected token cleared")
	}
}

func TestConnectedAppStore_ConcurrentUpdatesKeepEveryField(t *testing.T) {
	ctx := context.Background()
	store := newFactory(t).ConnectedApps()
	app, err := store.Create(ctx, core.ConnectedAppData{ID: "4f5a3c1e-8a9b-4c2d-9e1f-000000000004", Name: "google-calendar"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = store.Update(ctx, app.ID, core.AppUpdate{Token: &core.OAuthTokens{AccessToken: "apps.secret.v1:a"}})
	}()
	go func() {
		defer wg.Done()
		_, _ = store.Update(ctx, app.ID, core.AppUpdate{Account: &core.Account{Username: "ben"}})
	}()
	wg.Wait()

	stored, err := store.Get(ctx, app.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Token == nil || stored.Account == nil {
		t.Fatalf("expected both partial updates to land, got %#v", stored)
	}
}

func TestReminderStore_UniqueNamePerApp(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	appA := createApp(t, factory, "4f5a3c1e-8a9b-4c2d-9e1f-00000000000a")
	appB := createApp(t, factory, "4f5a3c1e-8a9b-4c2d-9e1f-00000000000b")
	store := factory.Reminders()

	first, err := store.Create(ctx, reminder(appA, "Day before"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.ID == "" || first.CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamps, got %#v", first)
	}
	if _, err := store.Create(ctx, reminder(appA, "day BEFORE")); !errors.Is(err, core.ErrReminderNameTaken) {
		t.Fatalf("expected name taken, got %v", err)
	}
	if _, err := store.Create(ctx, reminder(appB, "Day before")); err != nil {
		t.Fatalf("expected same name on another app to succeed: %v", err)
	}

	exists, err := store.NameExists(ctx, appA, "DAY before", "")
	if err != nil || !exists {
		t.Fatalf("expected name to exist, got %v %v", exists, err)
	}
	exists, _ = store.NameExists(ctx, appA, "Day before", first.ID)
	if exists {
		t.Fatalf("expected own id to be excluded")
	}

	second, err := store.Create(ctx, reminder(appA, "Hour before"))
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	second.Name = "Day before"
	if _, err := store.Update(ctx, second); !errors.Is(err, core.ErrReminderNameTaken) {
		t.Fatalf("expected rename collision, got %v", err)
	}
}

func TestReminderStore_ListGetUpdateDelete(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	appID := createApp(t, factory, "4f5a3c1e-8a9b-4c2d-9e1f-00000000000c")
	store := factory.Reminders()

	morning := reminder(appID, "Morning digest")
	morning.Channel = core.ReminderChannelTextMessage
	morning.Subject = ""
	morning.Type = core.ReminderTypeAtTime
	morning.Days = 1
	morning.Time = &core.TimeOfDay{Hour: 8, Minute: 30}
	createdMorning, err := store.Create(ctx, morning)
	if err != nil {
		t.Fatalf("create morning: %v", err)
	}
	createdDay, err := store.Create(ctx, reminder(appID, "Day before"))
	if err != nil {
		t.Fatalf("create day: %v", err)
	}

	list, err := store.List(ctx, appID, core.ReminderQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if list.Total != 2 || list.Items[0].Name != "Day before" {
		t.Fatalf("expected name ordering, got %#v", list)
	}
	list, _ = store.List(ctx, appID, core.ReminderQuery{Channels: []core.ReminderChannel{core.ReminderChannelTextMessage}})
	if list.Total != 1 || list.Items[0].Time == nil || list.Items[0].Time.Minute != 30 {
		t.Fatalf("expected text reminder with time of day, got %#v", list)
	}
	list, _ = store.List(ctx, appID, core.ReminderQuery{Search: "DIGEST"})
	if list.Total != 1 {
		t.Fatalf("expected search match, got %d", list.Total)
	}
	list, _ = store.List(ctx, appID, core.ReminderQuery{Limit: 1, Offset: 1})
	if list.Total != 2 || len(list.Items) != 1 || list.Items[0].ID != createdMorning.ID {
		t.Fatalf("unexpected page %#v", list)
	}

	createdDay.Hours = 4
	updated, err := store.Update(ctx, createdDay)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.CreatedAt.Equal(createdDay.CreatedAt) || updated.Hours != 4 {
		t.Fatalf("unexpected update %#v", updated)
	}
	if _, err := store.Get(ctx, "4f5a3c1e-8a9b-4c2d-9e1f-0000000000ff", createdDay.ID); !errors.Is(err, core.ErrReminderNotFound) {
		t.Fatalf("expected reminders to be scoped by app, got %v", err)
	}

	deleted, err := store.Delete(ctx, appID, []string{createdDay.ID, "missing"})
	if err != nil || deleted != 1 {
		t.Fatalf("expected one deletion, got %d %v", deleted, err)
	}
	if err := store.DeleteAll(ctx, appID); err != nil {
		t.Fatalf("delete all: %v", err)
	}
	list, _ = store.List(ctx, appID, core.ReminderQuery{})
	if list.Total != 0 {
		t.Fatalf("expected no reminders, got %d", list.Total)
	}
}

func TestConnectedAppStore_ListReturnsEveryInstalledApp(t *testing.T) {
	ctx := context.Background()
	store := newFactory(t).ConnectedApps()
	const installed = 30
	for i := 0; i < installed; i++ {
		id := fmt.Sprintf("4f5a3c1e-8a9b-4c2d-9e1f-%012d", 100+i)
		if _, err := store.Create(ctx, core.ConnectedAppData{ID: id, Name: "reminders"}); err != nil {
			t.Fatalf("create app %d: %v", i, err)
		}
	}
	listed, err := store.List(ctx, core.ConnectedAppQuery{Names: []string{"reminders"}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != installed {
		t.Fatalf("expected %d apps, got %d", installed, len(listed))
	}
	all, err := store.List(ctx, core.ConnectedAppQuery{})
	if err != nil || len(all) != installed {
		t.Fatalf("expected unfiltered list of %d apps, got %d %v", installed, len(all), err)
	}
}

func TestStores_ReturnTimestampsAsStored(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	app, err := factory.ConnectedApps().Create(ctx, core.ConnectedAppData{
		ID:        "4f5a3c1e-8a9b-4c2d-9e1f-000000000020",
		Name:      "ics",
		CreatedAt: time.Date(2024, 3, 1, 10, 0, 0, 123456789, time.UTC),
	})
	if err != nil {
		t.Fatalf("create app: %v", err)
	}
	storedApp, err := factory.ConnectedApps().Get(ctx, app.ID)
	if err != nil {
		t.Fatalf("get app: %v", err)
	}
	if !storedApp.CreatedAt.Equal(app.CreatedAt) || !storedApp.UpdatedAt.Equal(app.UpdatedAt) {
		t.Fatalf("expected returned app timestamps to match stored ones, got %v/%v and %v/%v",
			app.CreatedAt, app.UpdatedAt, storedApp.CreatedAt, storedApp.UpdatedAt)
	}
	if app.CreatedAt.Nanosecond()%int(time.Microsecond) != 0 {
		t.Fatalf("expected microsecond precision, got %v", app.CreatedAt)
	}

	created, err := factory.Reminders().Create(ctx, reminder(app.ID, "Day before"))
	if err != nil {
		t.Fatalf("create reminder: %v", err)
	}
	got, err := factory.Reminders().Get(ctx, app.ID, created.ID)
	if err != nil {
		t.Fatalf("get reminder: %v", err)
	}
	if !got.CreatedAt.Equal(created.CreatedAt) || !got.UpdatedAt.Equal(created.UpdatedAt) {
		t.Fatalf("expected returned reminder timestamps to match stored ones, got %#v and %#v", created, got)
	}
	updated, err := factory.Reminders().Update(ctx, got)
	if err != nil {
		t.Fatalf("update reminder: %v", err)
	}
	reread, err := factory.Reminders().Get(ctx, app.ID, created.ID)
	if err != nil {
		t.Fatalf("reread reminder: %v", err)
	}
	if !reread.UpdatedAt.Equal(updated.UpdatedAt) {
		t.Fatalf("expected updated timestamp %v, stored %v", updated.UpdatedAt, reread.UpdatedAt)
	}
}

func TestCachedConnectedAppStore_InvalidatesOnUpdate(t *testing.T) {
	ctx := context.Background()
	base := newFactory(t).ConnectedApps()
	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	cacheService, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	store, err := sqlstore.NewCachedConnectedAppStore(base, cacheService)
	if err != nil {
		t.Fatalf("new cached store: %v", err)
	}

	app, err := store.Create(ctx, core.ConnectedAppData{ID: "4f5a3c1e-8a9b-4c2d-9e1f-000000000010", Name: "ics"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Get(ctx, app.ID); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	update := core.StatusUpdate(core.FailedStatus("ics.statusText.feed_unreachable", nil))
	if _, err := store.Update(ctx, app.ID, update); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := store.Get(ctx, app.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != core.AppStatusFailed {
		t.Fatalf("expected fresh status after invalidation, got %s", got.Status)
	}
}

func TestService_RunsOnSQLStores(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	registry := core.NewAppRegistry()
	if err := registry.Register(func(core.Props) core.App { return namedApp("reminders") }); err != nil {
		t.Fatalf("register: %v", err)
	}
	svc, err := core.NewService(core.Config{},
		core.WithRegistry(registry),
		core.WithConnectedAppStore(factory.ConnectedApps()),
		core.WithStorage(factory),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	app, err := svc.InstallApp(ctx, "reminders")
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if _, err := factory.Reminders().Create(ctx, reminder(app.ID, "Day before")); err != nil {
		t.Fatalf("create reminder: %v", err)
	}
	if err := svc.UninstallApp(ctx, app.ID); err != nil {
		t.Fatalf("uninstall: %v", err)
	}
	var count int
	if err := factory.DB().NewRaw("SELECT COUNT(*) FROM app_reminders").Scan(ctx, &count); err != nil {
		t.Fatalf("count reminders: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected reminders to cascade with the app, got %d", count)
	}
}

type namedApp string

func (n namedApp) Name() string { return string(n) }

func reminder(appID, name string) core.Reminder {
	return core.Reminder{
		AppID:      appID,
		Name:       name,
		Channel:    core.ReminderChannelEmail,
		TemplateID: "tpl-email",
		Type:       core.ReminderTypeTimeBefore,
		Days:       1,
		Subject:    "See you tomorrow",
	}
}

func createApp(t *testing.T, factory *sqlstore.RepositoryFactory, id string) string {
	t.Helper()
	app, err := factory.ConnectedApps().Create(context.Background(), core.ConnectedAppData{ID: id, Name: "reminders"})
	if err != nil {
		t.Fatalf("create app: %v", err)
	}
	return app.ID
}

func newFactory(t *testing.T) *sqlstore.RepositoryFactory {
	t.Helper()
	client := newSQLiteClient(t)
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	return factory
}

func newSQLiteClient(t *testing.T) *persistence.Client {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:apps-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	_, err = appmigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != appmigrations.DialectSQLite {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, appmigrations.WithValidationTargets(appmigrations.DialectSQLite))
	if err != nil {
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return client
}
