// Command appsd serves the connected apps layer over HTTP and runs the
// scheduled reminder tick.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goliatone/go-command"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	apps "github.com/goliatone/go-apps"
	"github.com/goliatone/go-apps/adapters/gocommand"
	"github.com/goliatone/go-apps/adapters/gologger"
	"github.com/goliatone/go-apps/apps/autoreply"
	"github.com/goliatone/go-apps/apps/caldav"
	"github.com/goliatone/go-apps/apps/filesystem"
	"github.com/goliatone/go-apps/apps/googlecalendar"
	"github.com/goliatone/go-apps/apps/ics"
	"github.com/goliatone/go-apps/apps/outlook"
	"github.com/goliatone/go-apps/apps/reminders"
	"github.com/goliatone/go-apps/apps/s3"
	"github.com/goliatone/go-apps/apps/smtp"
	"github.com/goliatone/go-apps/core"
	appmigrations "github.com/goliatone/go-apps/migrations"
	"github.com/goliatone/go-apps/ratelimit"
	"github.com/goliatone/go-apps/scheduler"
	"github.com/goliatone/go-apps/security"
	redislock "github.com/goliatone/go-apps/store/redis"
	sqlstore "github.com/goliatone/go-apps/store/sql"
	httptransport "github.com/goliatone/go-apps/transport/http"
)

func main() {
	provider, logger := gologger.Resolve(gologger.RootLoggerName, nil, nil)
	if err := run(context.Background(), provider, logger); err != nil {
		logger.Error("appsd stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, provider core.LoggerProvider, logger core.Logger) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	client, err := openPersistence(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		return err
	}
	var store core.ConnectedAppStore = factory.ConnectedApps()
	if cfg.CacheTTL > 0 {
		cacheConfig := repositorycache.DefaultConfig()
		cacheConfig.TTL = cfg.CacheTTL
		cacheService, err := repositorycache.NewCacheService(cacheConfig)
		if err != nil {
			return err
		}
		if store, err = sqlstore.NewCachedConnectedAppStore(store, cacheService); err != nil {
			return err
		}
	}

	codec, err := newCodec(cfg.AppKey)
	if err != nil {
		return err
	}
	registry := core.NewAppRegistry()
	if err := apps.RegisterBuiltins(registry, builtinSettings(cfg, codec)); err != nil {
		return err
	}

	opts := []core.Option{
		core.WithLoggerProvider(provider),
		core.WithLogger(logger),
		core.WithConfigProvider(core.NewCfgxConfigProvider(core.StaticConfigLoader(cfg.Runtime))),
		core.WithRegistry(registry),
		core.WithConnectedAppStore(store),
		core.WithStorage(factory),
	}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("appsd: redis ping: %w", err)
		}
		locker, err := redislock.New(rdb)
		if err != nil {
			return err
		}
		opts = append(opts, core.WithConnectionLocker(locker))
	}

	svc, err := apps.NewService(core.DefaultConfig(), opts...)
	if err != nil {
		return err
	}

	subs, err := gocommand.Bind(gocommand.NewRegistryAdapter(command.NewRegistry()), svc)
	if err != nil {
		return err
	}
	defer subs.Unsubscribe()

	ticker, err := scheduler.New(
		scheduler.RunService(svc, gologger.ForApp(provider, logger, "scheduler")),
		scheduler.WithSpec(cfg.ScheduleSpec),
		scheduler.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := ticker.Start(ctx); err != nil {
		return err
	}
	defer ticker.Stop()

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httptransport.NewRouter(svc, httptransport.WithLogger(logger)),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("appsd listening", "addr", cfg.Addr, "driver", cfg.DatabaseDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("appsd shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func openPersistence(ctx context.Context, cfg daemonConfig) (*persistence.Client, error) {
	migrationDialect, err := appmigrations.DialectFor(cfg.DatabaseDriver)
	if err != nil {
		return nil, err
	}
	sqlDB, err := sql.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("appsd: open database: %w", err)
	}

	var client *persistence.Client
	switch migrationDialect {
	case appmigrations.DialectPostgres:
		client, err = persistence.New(cfg, sqlDB, pgdialect.New())
	default:
		sqlDB.SetMaxOpenConns(1)
		client, err = persistence.New(cfg, sqlDB, sqlitedialect.New())
	}
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("appsd: persistence client: %w", err)
	}

	_, err = appmigrations.Register(ctx, func(_ context.Context, d string, _ string, fsys fs.FS) error {
		if d == migrationDialect {
			client.RegisterSQLMigrations(fsys)
		}
		return nil
	}, appmigrations.WithValidationTargets(migrationDialect))
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("appsd: migrate: %w", err)
	}
	return client, nil
}

func newCodec(appKey string) (*security.TokenCodec, error) {
	provider, err := security.NewAppKeySecretProviderFromString(appKey)
	if err != nil {
		return nil, err
	}
	return security.NewTokenCodec(provider)
}

func builtinSettings(cfg daemonConfig, codec *security.TokenCodec) apps.BuiltinSettings {
	settings := apps.AllBuiltins(codec)
	settings.Throttle = ratelimit.NewVendorThrottle(nil)
	settings.Outlook = &outlook.Settings{
		ClientID:     cfg.OutlookClientID,
		ClientSecret: cfg.OutlookClientSecret,
		Tenant:       cfg.OutlookTenant,
	}
	settings.GoogleCalendar = &googlecalendar.Settings{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
	}
	settings.FileSystem = &filesystem.Settings{BaseDir: cfg.AssetsDir}

	if !cfg.builtinEnabled(outlook.Name) {
		settings.Outlook = nil
	}
	if !cfg.builtinEnabled(googlecalendar.Name) {
		settings.GoogleCalendar = nil
	}
	if !cfg.builtinEnabled(caldav.Name) {
		settings.CalDAV = nil
	}
	if !cfg.builtinEnabled(ics.Name) {
		settings.ICS = nil
	}
	if !cfg.builtinEnabled(smtp.Name) {
		settings.SMTP = nil
	}
	if !cfg.builtinEnabled(filesystem.Name) {
		settings.FileSystem = nil
	}
	if !cfg.builtinEnabled(s3.Name) {
		settings.S3 = nil
	}
	if !cfg.builtinEnabled(reminders.Name) {
		settings.Reminders = nil
	}
	if !cfg.builtinEnabled(autoreply.Name) {
		settings.AutoReply = false
	}
	return settings
}
