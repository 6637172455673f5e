package client

import (
	"context"
	"time"

	"github.com/oriys/asyncsql/internal/adapter"
	"github.com/oriys/asyncsql/internal/binder"
	"github.com/oriys/asyncsql/internal/logging"
	"github.com/oriys/asyncsql/internal/materialize"
	"github.com/oriys/asyncsql/internal/metrics"
	"github.com/oriys/asyncsql/internal/observability"
)

func (c *Client) begin(ctx context.Context, op, sql string, params []any) *request {
	metrics.IncActiveRequests()
	return newRequest(ctx, op, sql, params)
}

// execute binds, runs and materializes r on a. The caller holds the lease
// and releases it afterwards; a connection-level failure has already marked
// a broken by the time execute returns.
func (c *Client) execute(r *request, a *adapter.Adapter) (*UpdateResult, *ResultSet, error) {
	r.advance(StateExecuting)
	r.connID = a.ID()
	r.span.SetAttributes(
		observability.AttrConnID.String(a.ID()),
		observability.AttrDBSystem.String(a.System()),
	)

	if a.Broken() {
		return nil, nil, newError(KindDriver, r.op, errBrokenConn)
	}

	args, err := binder.Bind(r.sql, r.params)
	if err != nil {
		return nil, nil, newError(KindBinding, r.op, err)
	}

	// Statements are not cancellable once started; only QueryTimeout bounds them.
	ctx := context.WithoutCancel(r.ctx)
	if c.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.QueryTimeout)
		defer cancel()
	}
	start := time.Now()
	defer func() { r.execTime = time.Since(start) }()

	if r.op == opUpdate {
		n, keys, err := a.Exec(ctx, r.sql, args, true)
		if err != nil {
			return nil, nil, newError(KindDriver, r.op, err)
		}
		r.advance(StateMaterializing)
		return &UpdateResult{Updated: n, Keys: materialize.Keys(keys)}, nil, nil
	}

	rows, err := a.Query(ctx, r.sql, args)
	if err != nil {
		return nil, nil, newError(KindDriver, r.op, err)
	}
	r.advance(StateMaterializing)
	cols, results, err := materialize.Rows(rows)
	if err != nil {
		if a.Observe(err) {
			return nil, nil, newError(KindDriver, r.op, err)
		}
		return nil, nil, newError(KindMaterialization, r.op, err)
	}
	return nil, &ResultSet{Columns: cols, Results: results}, nil
}

// complete finishes r exactly once: it records the outcome and hands the
// result to done through the callback mode.
func (c *Client) complete(r *request, u *UpdateResult, rs *ResultSet, err error, done func(*UpdateResult, *ResultSet, error)) {
	r.complete(func() {
		c.record(r, u, rs, err)
		c.deliver(func() { done(u, rs, err) })
	})
}

func (c *Client) record(r *request, u *UpdateResult, rs *ResultSet, err error) {
	metrics.DecActiveRequests()
	metrics.RecordStatement(r.op, r.execTime, err == nil)

	entry := &logging.StatementLog{
		RequestID:  r.id,
		Op:         r.op,
		SQL:        r.sql,
		ConnID:     r.connID,
		Params:     len(r.params),
		DurationMs: r.execTime.Milliseconds(),
		WaitMs:     r.wait.Milliseconds(),
		Success:    err == nil,
	}

	if err != nil {
		kind := string(KindOf(err))
		metrics.RecordError(kind)
		observability.SetSpanError(r.span, err)
		r.span.SetAttributes(observability.AttrErrorKind.String(kind))
		entry.Error = err.Error()
		entry.ErrorKind = kind
	} else {
		observability.SetSpanOK(r.span)
		if u != nil {
			entry.Updated = u.Updated
			entry.Keys = len(u.Keys)
			r.span.SetAttributes(observability.AttrUpdated.Int64(u.Updated))
		}
		if rs != nil {
			entry.Rows = rs.NumRows()
			r.span.SetAttributes(observability.AttrRows.Int(rs.NumRows()))
		}
	}
	r.span.End()

	traceID, spanID := observability.TraceIDs(r.ctx)
	entry.TraceID = traceID
	c.stmtLog.Log(entry)

	log := logging.OpWithTrace(traceID, spanID)
	if err != nil {
		log.Debug("statement failed", "request_id", r.id, "op", r.op, "conn_id", r.connID,
			"total_ms", time.Since(r.created).Milliseconds(), "error", err)
		return
	}
	log.Debug("statement completed", "request_id", r.id, "op", r.op, "conn_id", r.connID,
		"total_ms", time.Since(r.created).Milliseconds())
}
