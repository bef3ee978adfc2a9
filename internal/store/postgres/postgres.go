// Package postgres is the networked frontier store, for runs shared between
// hosts or too large for a local file.
//
// It goes through database/sql with the pgx driver so that it shares every
// query with the sqlite backend via sqlstore.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"github.com/roach88/compsearch/internal/store"
	"github.com/roach88/compsearch/internal/store/sqlstore"
)

//go:embed schema.sql
var schemaSQL string

const driverName = "pgx"

// schemaLock serialises concurrent Open calls racing on CREATE ... IF NOT EXISTS.
const schemaLockID = 0x636f6d70 // "comp"

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Options tune the connection pool.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultOptions returns pool settings suited to a single expand process.
func DefaultOptions() Options {
	return Options{
		MaxOpenConns:    8,
		MaxIdleConns:    4,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// Store is a PostgreSQL-backed store.Store.
type Store struct {
	*sqlstore.Store
}

var _ store.Store = (*Store)(nil)

// Dialect is the sqlstore dialect for PostgreSQL.
var Dialect = sqlstore.Dialect{
	Name:        "postgres",
	Numbered:    true,
	Collate:     `COLLATE "C"`,
	IsTransient: isTransient,
}

// Open connects to dsn, applies the schema and returns the store.
func Open(ctx context.Context, dsn string, opts Options) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("open postgres: empty dsn")
	}
	openMu.Lock()
	db, err := sqlOpen(driverName, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := applySchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{Store: sqlstore.New(db, Dialect)}, nil
}

func applySchema(ctx context.Context, db *sql.DB) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	defer conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, schemaLockID)

	if _, err := conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// isTransient classifies pgx errors: connection exceptions (class 08),
// serialization failures, deadlocks, admin shutdown and network timeouts.
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code := strings.TrimSpace(pgErr.Code)
		switch {
		case strings.HasPrefix(code, "08"):
			return true
		case code == "40001", code == "40P01", code == "55P03", code == "57P01":
			return true
		}
		return false
	}
	if pgconn.Timeout(err) {
		return true
	}
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}
