package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "migrations"

// goose keeps its dialect, filesystem and logger in package globals.
var gooseMu sync.Mutex

// Open opens the SQLite database at path with WAL, a busy timeout and foreign keys.
// PRE: path is a file path (":memory:" gives each pooled connection its own database)
// POST: Returns a pinged connection pool
func Open(path string) (*sql.DB, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}
	return db, nil
}

// Migrate applies all pending embedded migrations.
// PRE: db is a valid database connection
// POST: Schema is at LatestSchemaVersion
func Migrate(ctx context.Context, db *sql.DB) error {
	return RunMigrations(ctx, db, "up")
}

// RunMigrations runs a goose command ("up", "down", "status", "version", ...) against
// the embedded migrations.
// PRE: db is a valid database connection
// POST: goose command executed
func RunMigrations(ctx context.Context, db *sql.DB, command string, args ...string) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	if err := configureGoose(); err != nil {
		return err
	}
	if err := goose.RunContext(ctx, command, db, migrationsDir, args...); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}

// SchemaVersion returns the applied migration version (0 for an empty database).
func SchemaVersion(ctx context.Context, db *sql.DB) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	if err := configureGoose(); err != nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, db)
}

// LatestSchemaVersion returns the highest embedded migration version.
func LatestSchemaVersion() int64 {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	if err := configureGoose(); err != nil {
		return 0
	}
	migrations, err := goose.CollectMigrations(migrationsDir, 0, goose.MaxVersion)
	if err != nil {
		return 0
	}
	last, err := migrations.Last()
	if err != nil {
		return 0
	}
	return last.Version
}

func configureGoose() error {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(gooseLogger{})
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return nil
}

// gooseLogger routes goose output through slog.
type gooseLogger struct{}

// Printf implements goose.Logger.
func (gooseLogger) Printf(format string, v ...any) {
	slog.Info("migration", "msg", strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Fatalf implements goose.Logger without exiting; goose returns the error to the caller as well.
func (gooseLogger) Fatalf(format string, v ...any) {
	slog.Error("migration_failed", "msg", strings.TrimSpace(fmt.Sprintf(format, v...)))
}
