// Package migrations exposes the embedded connected apps schema per SQL
// dialect for go-persistence-bun clients.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	apps "github.com/goliatone/go-apps"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	rootDir   = "data/sql/migrations"
	sqliteDir = "sqlite"
)

// Source is the migration tree of one dialect.
type Source struct {
	Dialect string
	Path    string
	FS      fs.FS
}

type Registration struct {
	SourceLabel string
	Dialects    []string
	Sources     []Source
}

type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

type Option func(*Registration)

// WithValidationTargets limits registration to the given dialects.
func WithValidationTargets(dialects ...string) Option {
	return func(r *Registration) {
		var next []string
		for _, dialect := range dialects {
			if normalized, err := DialectFor(dialect); err == nil && !contains(next, normalized) {
				next = append(next, normalized)
			}
		}
		if len(next) > 0 {
			r.Dialects = next
		}
	}
}

// WithSourceLabel names the migration set in the persistence client.
func WithSourceLabel(label string) Option {
	return func(r *Registration) {
		if label = strings.TrimSpace(label); label != "" {
			r.SourceLabel = label
		}
	}
}

// DialectFor maps a database/sql driver name to a migration dialect.
func DialectFor(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pg", "pgx":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("migrations: unsupported driver %q", driver)
	}
}

// Sources splits the embedded tree, or root when given, into the postgres
// files at the top level and the sqlite alternatives below it. Every source
// must carry at least one up migration.
func Sources(root fs.FS) ([]Source, error) {
	if root == nil {
		root = apps.GetMigrationsFS()
	}
	base, basePath, err := locate(root)
	if err != nil {
		return nil, err
	}
	sqliteFS, err := fs.Sub(base, sqliteDir)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite tree: %w", err)
	}

	sqlitePath := sqliteDir
	if basePath != "." {
		sqlitePath = basePath + "/" + sqliteDir
	}
	sources := []Source{
		{Dialect: DialectPostgres, Path: basePath, FS: base},
		{Dialect: DialectSQLite, Path: sqlitePath, FS: sqliteFS},
	}
	for _, source := range sources {
		ups, err := fs.Glob(source.FS, "*.up.sql")
		if err != nil {
			return nil, fmt.Errorf("migrations: glob %s: %w", source.Path, err)
		}
		if len(ups) == 0 {
			return nil, fmt.Errorf("migrations: %s tree %q has no up migrations", source.Dialect, source.Path)
		}
	}
	return sources, nil
}

// Register hands the tree of every selected dialect to registerFn.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) (Registration, error) {
	reg := Registration{
		SourceLabel: "go-apps",
		Dialects:    []string{DialectPostgres, DialectSQLite},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&reg)
		}
	}
	if registerFn == nil {
		return reg, fmt.Errorf("migrations: register function is required")
	}

	sources, err := Sources(nil)
	if err != nil {
		return reg, err
	}
	for _, source := range sources {
		if !contains(reg.Dialects, source.Dialect) {
			continue
		}
		if err := registerFn(ctx, source.Dialect, reg.SourceLabel, source.FS); err != nil {
			return reg, fmt.Errorf("migrations: register %s: %w", source.Dialect, err)
		}
		reg.Sources = append(reg.Sources, source)
	}
	return reg, nil
}

func locate(root fs.FS) (fs.FS, string, error) {
	if _, err := fs.Stat(root, rootDir); err == nil {
		sub, err := fs.Sub(root, rootDir)
		if err != nil {
			return nil, "", fmt.Errorf("migrations: resolve %s: %w", rootDir, err)
		}
		return sub, rootDir, nil
	}
	if ups, _ := fs.Glob(root, "*.up.sql"); len(ups) > 0 {
		return root, ".", nil
	}
	return nil, "", fmt.Errorf("migrations: %s not found", rootDir)
}

func contains(values []string, value string) bool {
	for _, candidate := range values {
		if candidate == value {
			return true
		}
	}
	return false
}
