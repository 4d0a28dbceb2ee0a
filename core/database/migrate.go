package database

import (
	"cmp"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/requestbot/core/logger"
	"github.com/m3rciful/requestbot/migrations"
)

var migrationTargets = map[string]func(*sql.DB) (migratedb.Driver, error){
	DriverPostgres: func(db *sql.DB) (migratedb.Driver, error) {
		return postgres.WithInstance(db, &postgres.Config{})
	},
	DriverSQLite: func(db *sql.DB) (migratedb.Driver, error) {
		return sqlite.WithInstance(db, &sqlite.Config{})
	},
}

// migrationFile is one "<version>_<name>.up.sql" file.
type migrationFile struct {
	name    string
	version uint64
}

// RunMigrations applies all embedded up migrations to db.
func RunMigrations(db *sqlx.DB, cfg Config) error {
	if db == nil {
		return errors.New("migrate: nil database")
	}
	driver := cfg.Driver
	if driver == "" {
		driver = DriverPostgres
	}
	return applyMigrations(db.DB, driver, migrations.FS)
}

func applyMigrations(db *sql.DB, driver string, files fs.FS) error {
	plan := upMigrations(files)
	logResolved(driver, plan)

	newTarget, ok := migrationTargets[driver]
	if !ok {
		return migrationFailed("init", fmt.Errorf("unsupported driver %q", driver))
	}
	target, err := newTarget(db)
	if err != nil {
		return migrationFailed("init", err)
	}
	source, err := iofs.New(files, ".")
	if err != nil {
		return migrationFailed("init", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, driver, target)
	if err != nil {
		return migrationFailed("init", err)
	}

	from, _, _ := m.Version()
	start := time.Now()
	err = m.Up()
	took := logger.RoundMS(time.Since(start))
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.MIG.Error("migration failed",
			slog.String("event", "apply"),
			slog.Duration("duration", took),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("migrate: apply: %w", err)
	}
	to, _, _ := m.Version()

	logger.MIG.Info("migrations summary",
		slog.String("event", "summary"),
		slog.Uint64("from_ver", uint64(from)),
		slog.Uint64("to_ver", uint64(to)),
		slog.Int("files", len(appliedBetween(plan, uint64(from), uint64(to)))),
		slog.Duration("duration", took),
	)
	return nil
}

func migrationFailed(stage string, err error) error {
	logger.MIG.Error("migrations unavailable",
		slog.String("event", "db.migrate"),
		slog.String("stage", stage),
		slog.String("err", err.Error()),
	)
	return fmt.Errorf("migrate: %s: %w", stage, err)
}

func logResolved(driver string, plan []migrationFile) {
	names := make([]string, len(plan))
	for i, f := range plan {
		names[i] = f.name
	}
	attrs := []any{
		slog.String("event", "resolve"),
		slog.String("driver", driver),
		slog.Int("files_total", len(names)),
	}
	if preview, truncated := logger.Preview(names, 6); preview != "" {
		attrs = append(attrs, slog.String("files_preview", preview))
		if truncated {
			attrs = append(attrs, slog.Bool("files_truncated", true))
		}
	}
	logger.MIG.Debug("migrations resolved", attrs...)
}

// upMigrations lists the up files in files ordered by version.
func upMigrations(files fs.FS) []migrationFile {
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		return nil
	}
	var out []migrationFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		prefix, _, _ := strings.Cut(name, "_")
		v, err := strconv.ParseUint(prefix, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, migrationFile{name: name, version: v})
	}
	slices.SortFunc(out, func(a, b migrationFile) int {
		return cmp.Or(cmp.Compare(a.version, b.version), strings.Compare(a.name, b.name))
	})
	return out
}

// appliedBetween returns files with from < version <= to.
func appliedBetween(plan []migrationFile, from, to uint64) []migrationFile {
	var out []migrationFile
	for _, f := range plan {
		if f.version > from && f.version <= to {
			out = append(out, f)
		}
	}
	return out
}
