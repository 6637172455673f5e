// Package adapter wraps one physical database connection behind the narrow
// synchronous surface the execution pipeline needs: execute an update,
// execute a query, report whether the connection is still usable.
//
// Connections are pinned out of a shared *sqlx.DB that keeps no idle
// connections of its own, so the client pool is the only place idle
// connections live. Adapters are not safe for concurrent use; the pool
// guarantees a single holder.
package adapter

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/oriys/asyncsql/internal/logging"
)

// Connect opens the shared handle that adapters are pinned from. maxOpen
// caps the number of physical connections and should equal the pool size.
func Connect(driverName, dsn string, maxOpen int) (*sqlx.DB, error) {
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driverName, err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(0)
	return db, nil
}

// Adapter is a single pinned connection.
type Adapter struct {
	id      string
	driver  string
	conn    *sqlx.Conn
	created time.Time
	broken  atomic.Bool
}

// Open pins a fresh physical connection from db.
func Open(ctx context.Context, db *sqlx.DB) (*Adapter, error) {
	conn, err := db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	a := &Adapter{
		id:      uuid.New().String()[:8],
		driver:  db.DriverName(),
		conn:    conn,
		created: time.Now(),
	}
	logging.Op().Debug("connection opened", "conn_id", a.id, "driver", a.driver)
	return a, nil
}

// ID returns a short identifier used in logs and spans.
func (a *Adapter) ID() string { return a.id }

// Driver returns the database/sql driver name.
func (a *Adapter) Driver() string { return a.driver }

// System returns the database system name used in trace attributes.
func (a *Adapter) System() string { return System(a.driver) }

// CreatedAt returns when the physical connection was opened.
func (a *Adapter) CreatedAt() time.Time { return a.created }

// Broken reports whether the connection has seen an I/O-level failure.
func (a *Adapter) Broken() bool { return a.broken.Load() }

// MarkBroken flags the connection so that the pool discards it on release.
func (a *Adapter) MarkBroken() { a.broken.Store(true) }

// Exec runs a statement that does not return rows. When wantKeys is set and
// the statement is an insert that touched at least one row, the driver's
// last insert id is returned as the single generated key.
//
// SQLite keeps last_insert_rowid per connection and leaves it untouched for
// inserts into WITHOUT ROWID tables, so on SQLite the id only counts as a
// key when the statement changed it.
func (a *Adapter) Exec(ctx context.Context, query string, args []any, wantKeys bool) (int64, []any, error) {
	keyed := wantKeys && IsInsert(query)
	trackRowID := keyed && a.System() == "sqlite"

	var before int64
	if trackRowID {
		id, err := a.lastRowID(ctx)
		if err != nil {
			a.observe(err)
			return 0, nil, fmt.Errorf("read last rowid: %w", err)
		}
		before = id
	}

	res, err := a.conn.ExecContext(ctx, query, args...)
	if err != nil {
		a.observe(err)
		return 0, nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		a.observe(err)
		return 0, nil, fmt.Errorf("rows affected: %w", err)
	}
	if !keyed || n == 0 {
		return n, nil, nil
	}
	// Drivers without LastInsertId support simply produce no key.
	id, err := res.LastInsertId()
	if err != nil || id <= 0 || (trackRowID && id == before) {
		return n, nil, nil
	}
	return n, []any{id}, nil
}

func (a *Adapter) lastRowID(ctx context.Context) (int64, error) {
	var id int64
	err := a.conn.QueryRowxContext(ctx, "SELECT last_insert_rowid()").Scan(&id)
	return id, err
}

// Query runs a statement that returns rows. The caller must close the rows.
func (a *Adapter) Query(ctx context.Context, query string, args []any) (*sqlx.Rows, error) {
	rows, err := a.conn.QueryxContext(ctx, query, args...)
	if err != nil {
		a.observe(err)
		return nil, err
	}
	return rows, nil
}

// Observe marks the adapter broken when err indicates the connection can no
// longer be trusted. It returns true in that case.
func (a *Adapter) Observe(err error) bool {
	return a.observe(err)
}

func (a *Adapter) observe(err error) bool {
	if !IsBroken(err) {
		return false
	}
	if !a.broken.Swap(true) {
		logging.Op().Warn("connection marked broken", "conn_id", a.id, "driver", a.driver, "error", err)
	}
	return true
}

// Close returns the physical connection. A broken connection is discarded
// by the database/sql layer instead of being reused.
func (a *Adapter) Close() error {
	var err error
	if a.broken.Load() {
		err = a.conn.Raw(func(any) error { return driver.ErrBadConn })
		if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
			err = nil
		}
	} else {
		err = a.conn.Close()
	}
	logging.Op().Debug("connection closed", "conn_id", a.id, "broken", a.broken.Load())
	return err
}

// IsInsert reports whether the statement's leading keyword is INSERT or
// REPLACE, skipping whitespace, comments and opening parentheses.
func IsInsert(query string) bool {
	kw := strings.ToUpper(leadingKeyword(query))
	return kw == "INSERT" || kw == "REPLACE"
}

func leadingKeyword(s string) string {
	for {
		s = strings.TrimLeft(s, " \t\r\n(")
		switch {
		case strings.HasPrefix(s, "--"):
			i := strings.IndexByte(s, '\n')
			if i < 0 {
				return ""
			}
			s = s[i+1:]
		case strings.HasPrefix(s, "/*"):
			i := strings.Index(s, "*/")
			if i < 0 {
				return ""
			}
			s = s[i+2:]
		default:
			end := strings.IndexFunc(s, func(r rune) bool {
				return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
			})
			if end < 0 {
				return s
			}
			return s[:end]
		}
	}
}

// System maps a driver name to the OpenTelemetry db.system value.
func System(driverName string) string {
	switch driverName {
	case "pgx", "pgx/v5", "postgres":
		return "postgresql"
	case "mysql":
		return "mysql"
	case "sqlite", "sqlite3":
		return "sqlite"
	}
	return driverName
}
