package database

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/m3rciful/requestbot/core/logger"
)

const (
	connectTimeout     = 5 * time.Second
	defaultPoolSize    = 5
	connMaxLifetime    = 5 * time.Minute
	sqliteDriverName   = "sqlite"
	postgresDriverName = "postgres"
)

// dialect knows how to open and tune one driver.
type dialect struct {
	sqlName string
	dsn     func(Config) string
	prepare func(Config) error
	tune    func(*sqlx.DB, Config) int
	attrs   func(Config) []slog.Attr
}

var dialects = map[string]dialect{
	DriverPostgres: {
		sqlName: postgresDriverName,
		dsn:     Config.PostgresDSN,
		tune: func(db *sqlx.DB, cfg Config) int {
			n := cfg.MaxConnections
			if n <= 0 {
				n = defaultPoolSize
			}
			db.SetMaxOpenConns(n)
			db.SetMaxIdleConns(n)
			db.SetConnMaxLifetime(connMaxLifetime)
			return n
		},
		attrs: func(cfg Config) []slog.Attr {
			return []slog.Attr{
				slog.String("host", cfg.Host),
				slog.String("port", cfg.Port),
				slog.String("db", cfg.Name),
			}
		},
	},
	DriverSQLite: {
		sqlName: sqliteDriverName,
		dsn:     Config.SQLiteDSN,
		prepare: func(cfg Config) error {
			dir := filepath.Dir(cfg.Path)
			if cfg.Path == "" || dir == "." {
				return nil
			}
			return os.MkdirAll(dir, 0o755)
		},
		// SQLite serialises writers; a single connection avoids SQLITE_BUSY.
		tune: func(db *sqlx.DB, _ Config) int {
			db.SetMaxOpenConns(1)
			db.SetMaxIdleConns(1)
			return 1
		},
		attrs: func(cfg Config) []slog.Attr {
			return []slog.Attr{slog.String("db", cfg.Path)}
		},
	},
}

// Connect opens the configured database, tunes its pool and pings it.
// An empty driver means PostgreSQL.
func Connect(cfg Config) (*sqlx.DB, error) {
	return ConnectContext(context.Background(), cfg)
}

// ConnectContext is Connect bounded by ctx and a short connect timeout.
func ConnectContext(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverPostgres
	}
	d, ok := dialects[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("db connect: unsupported driver %q", cfg.Driver)
	}
	if d.prepare != nil {
		if err := d.prepare(cfg); err != nil {
			return nil, fmt.Errorf("db connect: prepare %s: %w", cfg.Driver, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	start := time.Now()
	db, err := sqlx.ConnectContext(ctx, d.sqlName, d.dsn(cfg))
	took := logger.RoundMS(time.Since(start))

	attrs := append([]slog.Attr{
		slog.String("event", "db.connect"),
		slog.String("driver", cfg.Driver),
		slog.Duration("duration", took),
	}, d.attrs(cfg)...)
	if err != nil {
		attrs = append(attrs, slog.String("err", err.Error()))
		logger.DB.LogAttrs(ctx, slog.LevelError, "db connect failed", attrs...)
		return nil, fmt.Errorf("db connect: %w", err)
	}

	attrs = append(attrs, slog.Int("pool_open", d.tune(db, cfg)))
	logger.DB.LogAttrs(ctx, slog.LevelInfo, "db connected", attrs...)
	return db, nil
}
