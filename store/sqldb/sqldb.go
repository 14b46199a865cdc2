/*
Package sqldb provides the SQL implementation of the points storage interfaces.

PURPOSE:
  Implements points.Store on SQLite (mattn/go-sqlite3) and PostgreSQL
  (lib/pq) behind one sqlx handle. Queries are written once with '?'
  placeholders and rebound per driver.

INTERFACES IMPLEMENTED:
  points.LedgerStore:  append-only ledger writes and sums
  points.CatalogStore: reward reads and creation
  points.ReportStore:  history and leaderboard projections
  points.TxStore:      redemption unit of work

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on point_ledger anywhere in this package
  - Triggers on point_ledger reject both at the database level

KEY TABLES:
  point_ledger:       Immutable signed deltas
  rewards:            Catalog with optional finite stock
  reward_redemptions: One row per committed redemption
  tasks:              Titles for ledger history

CONCURRENCY:
  PostgreSQL: rewards are locked with SELECT ... FOR UPDATE, users with a
  transaction-scoped advisory lock. Every transaction sets
  statement_timeout and lock_timeout.

  SQLite: every transaction starts with BEGIN IMMEDIATE (_txlock=immediate),
  which takes the database write lock up front. That serialises writers
  and subsumes both row and user locks. busy_timeout bounds the wait.

MIGRATIONS:
  Versioned goose migrations are embedded per dialect and applied by Open.

USAGE:
  store, err := sqldb.Open(ctx, sqldb.SQLite, "./data/points.db", sqldb.Options{})
  if err != nil {
      log.Fatal().Err(err).Msg("open store")
  }
  defer store.Close()

SEE ALSO:
  - points/store.go: interface definitions
  - errors.go:       driver error classification
*/
package sqldb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"embed"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

// Dialect is the database/sql driver name of a supported database.
type Dialect string

const (
	SQLite   Dialect = "sqlite3"
	Postgres Dialect = "postgres"
)

// ParseDialect accepts the driver names plus the "sqlite" and "postgresql" aliases.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sqlite3", "sqlite":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", s)
}

const (
	DefaultTxTimeout   = 5 * time.Second
	DefaultLockTimeout = 3 * time.Second

	sqliteParams = "_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"

	// advisory lock class for per-user redemption locks
	userLockClass = 7301
)

// Options tune the store. Zero values fall back to the defaults.
type Options struct {
	// TxTimeout bounds every redemption transaction.
	TxTimeout time.Duration
	// LockTimeout bounds each lock wait on PostgreSQL.
	LockTimeout time.Duration
	// MaxOpenConns caps the pool; 0 leaves the driver default.
	MaxOpenConns int
}

func (o Options) withDefaults() Options {
	if o.TxTimeout <= 0 {
		o.TxTimeout = DefaultTxTimeout
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = DefaultLockTimeout
	}
	if o.LockTimeout > o.TxTimeout {
		o.LockTimeout = o.TxTimeout
	}
	return o
}

// Store implements points.Store.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
	opts    Options
}

// Open connects, pings and migrates. For SQLite, dsn is a file path or
// ":memory:"; locking parameters missing from its query string are added.
func Open(ctx context.Context, dialect Dialect, dsn string, opts Options) (*Store, error) {
	memory := false
	if dialect == SQLite {
		memory = strings.HasPrefix(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
		dsn = withSQLiteParams(dsn)
	}

	db, err := sqlx.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if memory {
		// each connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	} else if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrate(ctx, db, dialect); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return New(db, dialect, opts), nil
}

// New wraps an already-migrated connection.
func New(db *sqlx.DB, dialect Dialect, opts Options) *Store {
	return &Store{db: db, dialect: dialect, opts: opts.withDefaults()}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

// Dialect reports the database flavour.
func (s *Store) Dialect() Dialect { return s.dialect }

// DB exposes the underlying handle for administrative queries.
func (s *Store) DB() *sqlx.DB { return s.db }

// =============================================================================
// MIGRATIONS
// =============================================================================

//go:embed migrations/sqlite3/*.sql migrations/postgres/*.sql
var migrations embed.FS

// goose keeps its configuration in package globals.
var migrateMu sync.Mutex

func migrate(ctx context.Context, db *sqlx.DB, dialect Dialect) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{zerolog.Ctx(ctx)})
	if err := goose.SetDialect(string(dialect)); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db.DB, "migrations/"+string(dialect)); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

type gooseLogger struct {
	log *zerolog.Logger
}

func (l gooseLogger) Printf(format string, v ...interface{}) {
	l.log.Debug().Str("component", "goose").Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l gooseLogger) Fatalf(format string, v ...interface{}) {
	l.log.Fatal().Str("component", "goose").Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// =============================================================================
// HELPERS
// =============================================================================

// timestampLayout is fixed-width so SQLite TEXT columns compare in time order.
const timestampLayout = "2006-01-02T15:04:05.000000Z"

// dbTime writes UTC timestamps in timestampLayout and reads either a native
// time (PostgreSQL) or the text form (SQLite).
type dbTime struct {
	time.Time
}

func (t dbTime) Value() (driver.Value, error) {
	return t.UTC().Format(timestampLayout), nil
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		t.Time = v.UTC()
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	case nil:
		t.Time = time.Time{}
		return nil
	}
	return fmt.Errorf("cannot scan %T into timestamp", src)
}

func (t *dbTime) parse(s string) error {
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	t.Time = parsed.UTC()
	return nil
}

// withSQLiteParams adds each of sqliteParams that dsn does not set itself.
func withSQLiteParams(dsn string) string {
	path, query, _ := strings.Cut(dsn, "?")
	set, err := url.ParseQuery(query)
	if err != nil {
		set = url.Values{}
	}
	var missing []string
	for _, param := range strings.Split(sqliteParams, "&") {
		key, _, _ := strings.Cut(param, "=")
		if !set.Has(key) {
			missing = append(missing, param)
		}
	}
	if len(missing) == 0 {
		return dsn
	}
	if query != "" {
		missing = append([]string{query}, missing...)
	}
	return path + "?" + strings.Join(missing, "&")
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
