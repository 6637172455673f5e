package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/oriys/asyncsql/internal/config"
)

var schema = []string{
	`CREATE TABLE insert_table (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		lname VARCHAR(255),
		fname VARCHAR(255),
		dob DATE
	)`,
	`CREATE TABLE insert_tableNoIdentity (
		id INT NOT NULL PRIMARY KEY,
		lname VARCHAR(255),
		fname VARCHAR(255),
		dob DATE
	) WITHOUT ROWID`,
}

// newTestClient creates the schema in a fresh database file and returns a
// client for it.
func newTestClient(t *testing.T, mutate func(*config.Config)) *Client {
	t.Helper()
	path := filepath.Join(t.TempDir(), "client.db")

	db, err := sqlx.Open("sqlite", path)
	require.NoError(t, err)
	for _, stmt := range schema {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	cfg := config.DefaultConfig()
	cfg.URL = "sqlite:" + path
	cfg.MaxPoolSize = 4
	if mutate != nil {
		mutate(cfg)
	}
	c, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func connect(t *testing.T, c *Client) *Conn {
	t.Helper()
	ctx := testCtx(t)
	conn, err := Await(ctx, func(cb func(*Conn, error)) { c.GetConnection(ctx, cb) })
	require.NoError(t, err)
	require.NotNil(t, conn)
	return conn
}

func update(t *testing.T, conn *Conn, sql string, params ...any) *UpdateResult {
	t.Helper()
	ctx := testCtx(t)
	res, err := Await(ctx, func(cb func(*UpdateResult, error)) { conn.UpdateWithParams(ctx, sql, params, cb) })
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func query(t *testing.T, conn *Conn, sql string, params ...any) *ResultSet {
	t.Helper()
	ctx := testCtx(t)
	rs, err := Await(ctx, func(cb func(*ResultSet, error)) { conn.QueryWithParams(ctx, sql, params, cb) })
	require.NoError(t, err)
	require.NotNil(t, rs)
	return rs
}

func closeConn(t *testing.T, conn *Conn) {
	t.Helper()
	require.NoError(t, AwaitErr(testCtx(t), conn.Close))
}

// dateOf normalizes a DATE column value, which the driver may return either
// as text or as a time.Time.
func dateOf(t *testing.T, v any) string {
	t.Helper()
	switch x := v.(type) {
	case time.Time:
		return x.Format("2006-01-02")
	case string:
		if len(x) >= 10 {
			return x[:10]
		}
		return x
	case []byte:
		return dateOf(t, string(x))
	}
	t.Fatalf("unexpected DATE value %#v", v)
	return ""
}

func TestInsertWithNullParameters(t *testing.T) {
	c := newTestClient(t, nil)
	conn := connect(t, c)
	defer closeConn(t, conn)

	res := update(t, conn, "INSERT INTO insert_table (lname, fname, dob) VALUES (?, ?, ?)", nil, nil, "2002-02-02")
	assert.Equal(t, int64(1), res.Updated)
	require.Len(t, res.Keys, 1)

	id := res.Keys[0]
	rs := query(t, conn, "SElECT DOB FROM insert_table WHERE id=?", id)
	require.Equal(t, 1, rs.NumRows())
	assert.Equal(t, "2002-02-02", dateOf(t, rs.Value(0, 0)))

	rs = query(t, conn, "SELECT lname, fname FROM insert_table WHERE id=?", id)
	require.Equal(t, 1, rs.NumRows())
	assert.Nil(t, rs.Value(0, 0), "NULL parameter must be stored as SQL NULL")
	assert.Nil(t, rs.Value(0, 1), "NULL parameter must be stored as SQL NULL")
}

func TestInsertWithNullAtEachPosition(t *testing.T) {
	c := newTestClient(t, nil)
	conn := connect(t, c)
	defer closeConn(t, conn)

	base := []any{"Last", "First", "2002-02-02"}
	for pos := range base {
		params := append([]any(nil), base...)
		params[pos] = nil

		res := update(t, conn, "INSERT INTO insert_table (lname, fname, dob) VALUES (?, ?, ?)", params...)
		require.Len(t, res.Keys, 1)

		rs := query(t, conn, "SELECT lname, fname, dob FROM insert_table WHERE id=?", res.Keys[0])
		require.Equal(t, 1, rs.NumRows())
		for col := range base {
			if col == pos {
				assert.Nil(t, rs.Value(0, col), "position %d should be NULL", pos)
			} else {
				assert.NotNil(t, rs.Value(0, col), "position %d should keep column %d", pos, col)
			}
		}
	}
}

func TestInsertUpdateNoIdentity(t *testing.T) {
	c := newTestClient(t, nil)
	conn := connect(t, c)
	defer closeConn(t, conn)

	res := update(t, conn, "INSERT INTO insert_tableNoIdentity (id, lname, fname, dob) VALUES (?, ?, ?, ?)",
		1, "LastName1", nil, "2002-02-02")
	assert.Equal(t, int64(1), res.Updated)
	assert.NotNil(t, res.Keys)
	assert.Empty(t, res.Keys, "a table without an identity column yields no keys")

	insertID := any(1)
	if len(res.Keys) > 0 {
		insertID = res.Keys[0]
	}
	rs := query(t, conn, "SElECT lname FROM insert_tableNoIdentity WHERE id=?", 1)
	require.Equal(t, 1, rs.NumRows())
	assert.Equal(t, "LastName1", rs.Value(0, 0))

	res = update(t, conn, "UPDATE insert_tableNoIdentity SET lname=? WHERE id=?", "LastName2", insertID)
	assert.Equal(t, int64(1), res.Updated)
	assert.Empty(t, res.Keys)

	rs = query(t, conn, "SElECT lname FROM insert_tableNoIdentity WHERE id=?", 1)
	require.Equal(t, 1, rs.NumRows())
	assert.Equal(t, "LastName2", rs.Value(0, 0))
}

func TestNoIdentityInsertAfterIdentityInsertOnSameConn(t *testing.T) {
	c := newTestClient(t, nil)
	conn := connect(t, c)
	defer closeConn(t, conn)

	res := update(t, conn, "INSERT INTO insert_table (lname) VALUES (?)", "x")
	require.Len(t, res.Keys, 1)

	res = update(t, conn, "INSERT INTO insert_tableNoIdentity (id, lname) VALUES (?, ?)", 7, "y")
	assert.Equal(t, int64(1), res.Updated)
	assert.Empty(t, res.Keys, "insert into a table without identity must not report the previous key")

	res = update(t, conn, "INSERT INTO insert_table (lname) VALUES (?)", "z")
	require.Len(t, res.Keys, 1)
	assert.Equal(t, int64(2), res.Keys[0])
}

func TestCallbackPanicDoesNotStallConn(t *testing.T) {
	for _, mode := range []string{config.CallbackWorker, config.CallbackSerial} {
		t.Run(mode, func(t *testing.T) {
			c := newTestClient(t, func(cfg *config.Config) { cfg.CallbackMode = mode })
			ctx := testCtx(t)
			conn := connect(t, c)

			conn.Query(ctx, "SELECT 1", func(*ResultSet, error) { panic("callback failure") })

			rs := query(t, conn, "SELECT 2")
			assert.Equal(t, int64(2), rs.Value(0, 0))

			closeConn(t, conn)
			stats := c.Stats()
			assert.Equal(t, 0, stats.InUse)
			assert.Equal(t, 1, stats.Idle)

			_, err := Await(ctx, func(cb func(*UpdateResult, error)) {
				c.UpdateWithParams(ctx, "INSERT INTO insert_table (lname) VALUES (?)", []any{"p"}, func(*UpdateResult, error) {
					cb(nil, nil)
					panic("one-shot callback failure")
				})
			})
			require.NoError(t, err)
			require.Eventually(t, func() bool { return c.Stats().Idle == 1 }, time.Second, time.Millisecond)
		})
	}
}

func TestClientsHaveSeparateStatementLogs(t *testing.T) {
	dir := t.TempDir()
	logPath := func(name string) string { return filepath.Join(dir, name) }

	a := newTestClient(t, func(cfg *config.Config) {
		cfg.StatementLog.Enabled = true
		cfg.StatementLog.Path = logPath("a.jsonl")
	})
	b := newTestClient(t, func(cfg *config.Config) {
		cfg.StatementLog.Enabled = true
		cfg.StatementLog.Path = logPath("b.jsonl")
	})
	ctx := testCtx(t)
	run := func(c *Client) {
		_, err := Await(ctx, func(cb func(*ResultSet, error)) { c.QueryWithParams(ctx, "SELECT 1", nil, cb) })
		require.NoError(t, err)
	}

	run(a)
	run(b)
	require.NoError(t, a.Close())
	run(b)
	require.NoError(t, b.Close())

	for name, want := range map[string]int{"a.jsonl": 1, "b.jsonl": 2} {
		data, err := os.ReadFile(logPath(name))
		require.NoError(t, err)
		assert.Equal(t, want, strings.Count(string(data), "\n"), name)
	}
}

func TestOneShotReleasesBeforeCallback(t *testing.T) {
	c := newTestClient(t, nil)
	ctx := testCtx(t)

	var inUse atomic.Int64
	inUse.Store(-1)
	res, err := Await(ctx, func(cb func(*UpdateResult, error)) {
		c.UpdateWithParams(ctx, "INSERT INTO insert_table (lname) VALUES (?)", []any{"x"}, func(r *UpdateResult, err error) {
			inUse.Store(int64(c.Stats().InUse))
			cb(r, err)
		})
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Updated)
	assert.Equal(t, int64(0), inUse.Load(), "connection must be released before the callback runs")

	rs, err := Await(ctx, func(cb func(*ResultSet, error)) {
		c.QueryWithParams(ctx, "SELECT COUNT(*) AS n FROM insert_table", nil, cb)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"n"}, rs.Columns)
	assert.Equal(t, int64(1), rs.Value(0, 0))

	stats := c.Stats()
	assert.Equal(t, 0, stats.InUse)
	assert.Equal(t, int64(1), stats.Created, "one-shot requests should reuse the idle connection")
}

func TestBindingErrorKeepsConnectionHealthy(t *testing.T) {
	c := newTestClient(t, nil)
	ctx := testCtx(t)

	_, err := Await(ctx, func(cb func(*UpdateResult, error)) {
		c.UpdateWithParams(ctx, "INSERT INTO insert_table (lname) VALUES (?)", []any{map[string]int{"a": 1}}, cb)
	})
	require.Error(t, err)
	assert.Equal(t, KindBinding, KindOf(err))

	_, err = Await(ctx, func(cb func(*UpdateResult, error)) {
		c.UpdateWithParams(ctx, "INSERT INTO insert_table (lname, fname) VALUES (?, ?)", []any{"only one"}, cb)
	})
	assert.Equal(t, KindBinding, KindOf(err))

	stats := c.Stats()
	assert.Equal(t, int64(0), stats.Broken)
	assert.Equal(t, 1, stats.Idle)
}

func TestDriverErrorKeepsConnectionHealthy(t *testing.T) {
	c := newTestClient(t, nil)
	ctx := testCtx(t)

	_, err := Await(ctx, func(cb func(*ResultSet, error)) {
		c.QueryWithParams(ctx, "SELECT * FROM no_such_table", nil, cb)
	})
	require.Error(t, err)
	assert.Equal(t, KindDriver, KindOf(err))

	stats := c.Stats()
	assert.Equal(t, int64(0), stats.Broken)
	assert.Equal(t, 1, stats.Idle)
}

func TestBrokenConnectionIsDiscarded(t *testing.T) {
	c := newTestClient(t, nil)
	ctx := testCtx(t)

	conn := connect(t, c)
	brokenID := conn.ID()
	conn.lease.Conn().MarkBroken()

	_, err := Await(ctx, func(cb func(*ResultSet, error)) { conn.Query(ctx, "SELECT 1", cb) })
	require.Error(t, err)
	assert.Equal(t, KindDriver, KindOf(err))
	closeConn(t, conn)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Broken)
	assert.Equal(t, 0, stats.Idle)

	next := connect(t, c)
	defer closeConn(t, next)
	assert.NotEqual(t, brokenID, next.ID(), "a broken connection must never be handed out again")
}

func TestExhaustedPoolQueuesRequests(t *testing.T) {
	c := newTestClient(t, func(cfg *config.Config) { cfg.MaxPoolSize = 1 })
	ctx := testCtx(t)

	first := connect(t, c)

	got := make(chan *Conn, 1)
	c.GetConnection(ctx, func(conn *Conn, err error) {
		assert.NoError(t, err)
		got <- conn
	})

	select {
	case <-got:
		t.Fatal("second connection granted while the pool was exhausted")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 1, c.Stats().Waiters)

	firstID := first.ID()
	closeConn(t, first)

	select {
	case second := <-got:
		require.NotNil(t, second)
		assert.Equal(t, firstID, second.ID(), "released connection should go to the waiter")
		closeConn(t, second)
	case <-time.After(5 * time.Second):
		t.Fatal("queued request was not served after release")
	}
}

func TestAcquireTimeout(t *testing.T) {
	c := newTestClient(t, func(cfg *config.Config) {
		cfg.MaxPoolSize = 1
		cfg.AcquireTimeout = 30 * time.Millisecond
	})
	ctx := testCtx(t)

	held := connect(t, c)
	defer closeConn(t, held)

	_, err := Await(ctx, func(cb func(*ResultSet, error)) { c.QueryWithParams(ctx, "SELECT 1", nil, cb) })
	require.Error(t, err)
	assert.Equal(t, KindPool, KindOf(err))
	assert.ErrorIs(t, err, ErrAcquireTimeout)
}

func TestCloseFailsQueuedRequests(t *testing.T) {
	c := newTestClient(t, func(cfg *config.Config) { cfg.MaxPoolSize = 1 })
	ctx := testCtx(t)

	held := connect(t, c)

	errs := make(chan error, 1)
	c.QueryWithParams(ctx, "SELECT 1", nil, func(_ *ResultSet, err error) { errs <- err })
	require.Eventually(t, func() bool { return c.Stats().Waiters == 1 }, time.Second, time.Millisecond)

	require.NoError(t, c.Close())

	select {
	case err := <-errs:
		assert.Equal(t, KindPool, KindOf(err))
		assert.ErrorIs(t, err, ErrPoolClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("queued request was not failed by Close")
	}

	_, err := Await(ctx, func(cb func(*Conn, error)) { c.GetConnection(ctx, cb) })
	assert.Equal(t, KindPool, KindOf(err))
	assert.ErrorIs(t, err, ErrPoolClosed)

	_, err = Await(ctx, func(cb func(*UpdateResult, error)) { c.UpdateWithParams(ctx, "DELETE FROM insert_table", nil, cb) })
	assert.Equal(t, KindPool, KindOf(err))
	assert.ErrorIs(t, err, ErrPoolClosed)

	closeConn(t, held)
}

func TestConnRejectsStatementsAfterClose(t *testing.T) {
	c := newTestClient(t, nil)
	ctx := testCtx(t)

	conn := connect(t, c)
	closeConn(t, conn)

	_, err := Await(ctx, func(cb func(*UpdateResult, error)) {
		conn.Update(ctx, "DELETE FROM insert_table", cb)
	})
	assert.Equal(t, KindClosed, KindOf(err))
	assert.ErrorIs(t, err, ErrConnClosed)

	// Closing twice still reports completion.
	require.NoError(t, AwaitErr(ctx, conn.Close))
}

func TestConnRunsStatementsInIssueOrder(t *testing.T) {
	c := newTestClient(t, nil)
	ctx := testCtx(t)
	conn := connect(t, c)
	defer closeConn(t, conn)

	const n = 20
	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	wg.Add(n)
	for i := 0; i < n; i++ {
		conn.UpdateWithParams(ctx, "INSERT INTO insert_table (lname) VALUES (?)", []any{fmt.Sprintf("n%d", i)},
			func(res *UpdateResult, err error) {
				defer wg.Done()
				assert.NoError(t, err)
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
			})
	}
	wg.Wait()

	for i, v := range order {
		require.Equal(t, i, v, "statements completed out of order: %v", order)
	}

	rs := query(t, conn, "SELECT lname FROM insert_table ORDER BY id")
	require.Equal(t, n, rs.NumRows())
	assert.Equal(t, "n0", rs.Value(0, 0))
	assert.Equal(t, fmt.Sprintf("n%d", n-1), rs.Value(n-1, 0))
}

func TestSerialCallbackMode(t *testing.T) {
	c := newTestClient(t, func(cfg *config.Config) { cfg.CallbackMode = config.CallbackSerial })
	ctx := testCtx(t)

	const n = 16
	var (
		active, overlap atomic.Int32
		wg              sync.WaitGroup
	)
	wg.Add(n)
	for i := 0; i < n; i++ {
		c.QueryWithParams(ctx, "SELECT ?", []any{i}, func(rs *ResultSet, err error) {
			defer wg.Done()
			if active.Add(1) > 1 {
				overlap.Add(1)
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
			assert.NoError(t, err)
		})
	}
	wg.Wait()
	assert.Zero(t, overlap.Load(), "serial mode must never run callbacks concurrently")
}

func TestNewFromMap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "map.db")
	c, err := NewFromMap(context.Background(), map[string]any{
		"url":           "sqlite:" + path,
		"driver_class":  "sqlite",
		"max_pool_size": 2,
	})
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, 2, c.Stats().MaxSize)

	_, err = NewFromMap(context.Background(), map[string]any{"max_pool_size": 2})
	assert.Error(t, err, "url is required")
}

func TestAwaitClosesLateConnection(t *testing.T) {
	c := newTestClient(t, func(cfg *config.Config) { cfg.MaxPoolSize = 1 })
	held := connect(t, c)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := Await(ctx, func(cb func(*Conn, error)) { c.GetConnection(context.Background(), cb) })
		done <- err
	}()
	require.Eventually(t, func() bool { return c.Stats().Waiters == 1 }, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	closeConn(t, held)
	require.Eventually(t, func() bool {
		s := c.Stats()
		return s.InUse == 0 && s.Idle == 1
	}, 5*time.Second, time.Millisecond, "late connection should be returned to the pool")
}

func TestErrorKindsMatchSentinels(t *testing.T) {
	err := newError(KindPool, "query", ErrQueueFull)
	assert.True(t, errors.Is(err, ErrQueueFull))
}
